// Package media extracts crate payloads from episode files with ffmpeg.
// Frames are single PNG snapshots at a random timestamp; voicelines are
// short WAV clips of weighted random length. Generation shells out and
// can take seconds, so callers run it off the command-handling path.
package media

import (
	"bytes"
	"context"
	"fmt"
	"math/rand"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/disgoorg/snowflake/v2"
	"github.com/rs/zerolog/log"

	"discord-episode-bot/internal/config"
)

// Clip lengths in seconds with their draw weights. Longer clips are rarer.
const (
	shortClip  = 3
	mediumClip = 5
	longClip   = 7

	longChance   = 0.10
	mediumChance = 0.33

	// Clips and frames avoid the title card and credits.
	introMargin = 5
	outroMargin = 10
)

// Studio produces crate payload files from episode media.
type Studio struct {
	ffmpeg        string
	ffprobe       string
	framesDir     string
	voicelinesDir string
}

// NewStudio creates a Studio using the configured tool paths and output
// directories.
func NewStudio(cfg config.ContentConfig) *Studio {
	return &Studio{
		ffmpeg:        cfg.FFmpegPath,
		ffprobe:       cfg.FFprobePath,
		framesDir:     cfg.FramesDir,
		voicelinesDir: cfg.VoicelinesDir,
	}
}

// FramePath returns where the frame asset for (user, seq) lives on disk.
func (s *Studio) FramePath(userID snowflake.ID, seq int64) string {
	return filepath.Join(s.framesDir, userID.String(), fmt.Sprintf("%d.png", seq))
}

// VoicelinePath returns where the voiceline asset for (user, seq) lives.
func (s *Studio) VoicelinePath(userID snowflake.ID, seq int64) string {
	return filepath.Join(s.voicelinesDir, userID.String(), fmt.Sprintf("%d.wav", seq))
}

// Frame snapshots one PNG from a random timestamp of the episode and
// writes it to the user's frame directory, returning the output path.
func (s *Studio) Frame(ctx context.Context, userID snowflake.ID, seq int64, episodePath string) (string, error) {
	dur, err := s.duration(ctx, episodePath)
	if err != nil {
		return "", err
	}

	out := s.FramePath(userID, seq)
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return "", fmt.Errorf("failed to create frame directory: %w", err)
	}

	t := randomOffset(dur, 0)
	err = s.run(ctx, s.ffmpeg,
		"-ss", formatSeconds(t),
		"-i", episodePath,
		"-vframes", "1",
		"-s", "320x240",
		"-an",
		"-y", out,
	)
	if err != nil {
		return "", err
	}

	log.Debug().Str("path", out).Float64("timestamp", t).Msg("Frame generated")
	return out, nil
}

// Voiceline cuts a short WAV clip of weighted random length from a
// random offset of the episode, returning the output path.
func (s *Studio) Voiceline(ctx context.Context, userID snowflake.ID, seq int64, episodePath string) (string, error) {
	dur, err := s.duration(ctx, episodePath)
	if err != nil {
		return "", err
	}

	out := s.VoicelinePath(userID, seq)
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return "", fmt.Errorf("failed to create voiceline directory: %w", err)
	}

	clip := drawClipLength()
	start := randomOffset(dur, float64(clip))
	err = s.run(ctx, s.ffmpeg,
		"-ss", formatSeconds(start),
		"-t", strconv.Itoa(clip),
		"-i", episodePath,
		"-vn",
		"-acodec", "pcm_s16le",
		"-ar", "44100",
		"-y", out,
	)
	if err != nil {
		return "", err
	}

	log.Debug().Str("path", out).Int("clip_seconds", clip).Float64("start", start).Msg("Voiceline generated")
	return out, nil
}

// duration probes the episode length in seconds.
func (s *Studio) duration(ctx context.Context, path string) (float64, error) {
	cmd := exec.CommandContext(ctx, s.ffprobe,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return 0, fmt.Errorf("ffprobe failed for %s: %w (%s)", path, err, strings.TrimSpace(stderr.String()))
	}
	dur, err := strconv.ParseFloat(strings.TrimSpace(stdout.String()), 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse ffprobe duration for %s: %w", path, err)
	}
	return dur, nil
}

func (s *Studio) run(ctx context.Context, bin string, args ...string) error {
	cmd := exec.CommandContext(ctx, bin, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s failed: %w (%s)", filepath.Base(bin), err, lastLine(stderr.String()))
	}
	return nil
}

// drawClipLength rolls the voiceline clip length: 10% long, 23% medium,
// 67% short.
func drawClipLength() int {
	roll := rand.Float64()
	switch {
	case roll < longChance:
		return longClip
	case roll < mediumChance:
		return mediumClip
	default:
		return shortClip
	}
}

// randomOffset picks a start offset that keeps tail seconds of payload
// plus the outro margin inside the episode. Very short files fall back
// to offset zero.
func randomOffset(duration, tail float64) float64 {
	max := duration - outroMargin - tail
	if max <= introMargin {
		return 0
	}
	return introMargin + rand.Float64()*(max-introMargin)
}

func formatSeconds(t float64) string {
	return strconv.FormatFloat(t, 'f', 3, 64)
}

// lastLine trims ffmpeg's chatter down to the line that usually carries
// the actual error.
func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) == 0 {
		return ""
	}
	return strings.TrimSpace(lines[len(lines)-1])
}
