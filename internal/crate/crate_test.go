package crate_test

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"discord-episode-bot/internal/crate"
	"discord-episode-bot/internal/episode"
	"discord-episode-bot/internal/model"
	"discord-episode-bot/internal/pkg/lock"
	"discord-episode-bot/internal/store/storetest"
)

const (
	cratePrice = int64(30)
	buyerID    = snowflake.ID(2002)
	channelID  = snowflake.ID(55)
)

// stubGenerator writes a tiny payload file per crate, or fails on demand.
type stubGenerator struct {
	dir  string
	fail bool
}

func (g *stubGenerator) Frame(_ context.Context, _ snowflake.ID, seq int64, _ string) (string, error) {
	return g.payload(seq, ".png")
}

func (g *stubGenerator) Voiceline(_ context.Context, _ snowflake.ID, seq int64, _ string) (string, error) {
	return g.payload(seq, ".wav")
}

func (g *stubGenerator) payload(seq int64, ext string) (string, error) {
	if g.fail {
		return "", errors.New("render failed")
	}
	path := filepath.Join(g.dir, "payload"+ext)
	if err := os.WriteFile(path, []byte("payload"), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

type replyRecorder struct {
	mu      sync.Mutex
	replies []string
	files   []string
}

func (r *replyRecorder) Reply(_ context.Context, _ snowflake.ID, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.replies = append(r.replies, text)
	return nil
}

func (r *replyRecorder) SendFile(_ context.Context, _ snowflake.ID, name string, rd io.Reader) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, _ = io.Copy(io.Discard, rd)
	r.files = append(r.files, name)
	return nil
}

func (r *replyRecorder) contains(substr string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.replies {
		if strings.Contains(s, substr) {
			return true
		}
	}
	return false
}

func testLibrary(t *testing.T) *episode.Library {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "103 hall monitor.mp4"), []byte("x"), 0o644))
	lib, err := episode.Scan(dir, "mp4")
	require.NoError(t, err)
	require.Equal(t, 1, lib.Len())
	return lib
}

func newManager(t *testing.T, voicelineChance float64, gen crate.Generator) (*crate.Manager, *storetest.Store, *replyRecorder) {
	t.Helper()
	users := storetest.New()
	sink := &replyRecorder{}
	m := crate.NewManager(users, lock.NewUserLock(), gen, testLibrary(t), sink, nil, crate.Config{
		Price:           cratePrice,
		VoicelineChance: voicelineChance,
		QueueSize:       8,
		Prefix:          "!",
	})
	return m, users, sink
}

func seedBuyer(users *storetest.Store, points int64) {
	users.Seed(&model.UserRecord{ID: buyerID, Username: "buyer", CurrentPoints: points, TotalPoints: points})
}

func TestOpenDebitsAndAssignsSequence(t *testing.T) {
	m, users, sink := newManager(t, 0, &stubGenerator{dir: t.TempDir()})
	seedBuyer(users, 100)

	require.NoError(t, m.Open(context.Background(), buyerID, channelID))

	rec := users.Snapshot(buyerID)
	assert.Equal(t, int64(100-cratePrice), rec.CurrentPoints)
	assert.Equal(t, int64(1), rec.CratesOpened)
	assert.Equal(t, int64(1), rec.FrameSeq)
	assert.True(t, sink.contains("Opening a crate"))
}

func TestOpenInsufficientPointsMutatesNothing(t *testing.T) {
	m, users, sink := newManager(t, 0, &stubGenerator{dir: t.TempDir()})
	seedBuyer(users, cratePrice-1)
	before := users.Snapshot(buyerID)

	require.NoError(t, m.Open(context.Background(), buyerID, channelID))

	assert.Equal(t, before, users.Snapshot(buyerID))
	assert.True(t, sink.contains("You need at least 30 points"))
}

func TestPipelineDeliversFrame(t *testing.T) {
	m, users, sink := newManager(t, 0, &stubGenerator{dir: t.TempDir()})
	seedBuyer(users, 100)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Run(ctx) }()

	require.NoError(t, m.Open(ctx, buyerID, channelID))

	require.Eventually(t, func() bool {
		rec := users.Snapshot(buyerID)
		return len(rec.Inventory) == 1
	}, 5*time.Second, 10*time.Millisecond)

	rec := users.Snapshot(buyerID)
	item := rec.Inventory[0]
	assert.Equal(t, model.KindFrame, item.Kind)
	assert.Equal(t, "1", item.Name)
	assert.Equal(t, int64(1), item.Index)
	assert.Equal(t, "hall monitor", item.FromEpisode)

	require.Eventually(t, func() bool {
		sink.mu.Lock()
		defer sink.mu.Unlock()
		return len(sink.files) == 1
	}, 5*time.Second, 10*time.Millisecond)
	assert.True(t, sink.contains("Frame Crate"))
}

func TestPipelineDeliversVoiceline(t *testing.T) {
	m, users, sink := newManager(t, 1, &stubGenerator{dir: t.TempDir()})
	seedBuyer(users, 100)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Run(ctx) }()

	require.NoError(t, m.Open(ctx, buyerID, channelID))

	require.Eventually(t, func() bool {
		return sink.contains("Voiceline Crate")
	}, 5*time.Second, 10*time.Millisecond)

	rec := users.Snapshot(buyerID)
	require.Len(t, rec.Inventory, 1)
	assert.Equal(t, model.KindVoiceline, rec.Inventory[0].Kind)
	assert.Equal(t, int64(1), rec.VoicelineSeq)
	assert.True(t, sink.contains("!voiceline 1"))
}

func TestGenerationFailureDropsCrate(t *testing.T) {
	m, users, sink := newManager(t, 0, &stubGenerator{dir: t.TempDir(), fail: true})
	seedBuyer(users, 100)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Run(ctx) }()

	require.NoError(t, m.Open(ctx, buyerID, channelID))

	require.Eventually(t, func() bool {
		return sink.contains("Something went wrong generating")
	}, 5*time.Second, 10*time.Millisecond)

	// The debit stands; the payload was lost.
	rec := users.Snapshot(buyerID)
	assert.Equal(t, int64(100-cratePrice), rec.CurrentPoints)
	assert.Empty(t, rec.Inventory)
}
