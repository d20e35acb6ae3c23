package discord

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/disgoorg/disgo/voice"
	"github.com/rs/zerolog/log"
)

// frameInterval is the cadence Discord expects Opus frames at.
const frameInterval = 20 * time.Millisecond

// player streams one media file into a voice connection. ffmpeg
// transcodes to Ogg/Opus on stdout; the pump goroutine cuts packets out
// of the container and writes one to the voice UDP socket every 20ms.
type player struct {
	cmd    *exec.Cmd
	conn   voice.Conn
	onDone func()

	stop     chan struct{}
	stopOnce sync.Once
	done     atomic.Bool
	doneOnce sync.Once
}

// newPlayer spawns ffmpeg for path and starts the pump. onDone may be
// nil; it fires exactly once, whether playback finishes or is stopped.
func newPlayer(ctx context.Context, ffmpegPath, path string, conn voice.Conn, onDone func()) (*player, error) {
	cmd := exec.Command(ffmpegPath,
		"-i", path,
		"-vn",
		"-c:a", "libopus",
		"-ar", "48000",
		"-ac", "2",
		"-b:a", "96k",
		"-f", "ogg",
		"pipe:1",
	)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to pipe ffmpeg output: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	if err := conn.SetSpeaking(ctx, voice.SpeakingFlagMicrophone); err != nil {
		_ = cmd.Process.Kill()
		return nil, fmt.Errorf("failed to set speaking flag: %w", err)
	}

	p := &player{
		cmd:    cmd,
		conn:   conn,
		onDone: onDone,
		stop:   make(chan struct{}),
	}
	go p.pump(stdout)
	return p, nil
}

// Stop ends the playback. Safe to call more than once and from any
// goroutine.
func (p *player) Stop() {
	p.stopOnce.Do(func() {
		close(p.stop)
		_ = p.cmd.Process.Kill()
	})
}

// Done reports whether the playback has finished or been stopped.
func (p *player) Done() bool { return p.done.Load() }

// pump drives the 20ms send loop until the stream ends or Stop fires.
func (p *player) pump(stdout io.ReadCloser) {
	defer p.finish()

	ogg := newOggReader(stdout)
	ticker := time.NewTicker(frameInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
		}

		pkt, err := ogg.NextPacket()
		if err != nil {
			if err != io.EOF {
				log.Error().Err(err).Msg("Audio stream read failed")
			}
			return
		}
		if _, err := p.conn.UDP().Write(pkt); err != nil {
			log.Error().Err(err).Msg("Voice frame write failed")
			return
		}
	}
}

// finish tears the stream down and fires the completion callback once.
func (p *player) finish() {
	p.done.Store(true)
	p.Stop()
	_ = p.cmd.Wait()

	// Silence frames flush the jitter buffer so the stream cuts cleanly.
	for i := 0; i < 5; i++ {
		if _, err := p.conn.UDP().Write(voice.SilenceAudioFrame); err != nil {
			break
		}
		time.Sleep(frameInterval)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = p.conn.SetSpeaking(ctx, voice.SpeakingFlagNone)

	p.doneOnce.Do(func() {
		if p.onDone != nil {
			p.onDone()
		}
	})
}
