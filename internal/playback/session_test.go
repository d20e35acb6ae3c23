package playback_test

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"discord-episode-bot/internal/episode"
	"discord-episode-bot/internal/gateway"
	"discord-episode-bot/internal/model"
	"discord-episode-bot/internal/playback"
	"discord-episode-bot/internal/scheduler"
	"discord-episode-bot/internal/store/storetest"
)

const (
	guildID   = snowflake.ID(10)
	voiceChan = snowflake.ID(20)
	textChan  = snowflake.ID(30)
	aliceID   = snowflake.ID(100)
	carolID   = snowflake.ID(300)
)

// fakePlayer is a controllable gateway.Player. Stop only marks it done;
// the completion callback fires when the test calls finish, mirroring
// the real player's asynchronous teardown.
type fakePlayer struct {
	mu       sync.Mutex
	done     bool
	finished bool
	onDone   func()
}

func (p *fakePlayer) Stop() {
	p.mu.Lock()
	p.done = true
	p.mu.Unlock()
}

func (p *fakePlayer) Done() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done
}

// finish simulates the stream ending: marks done and fires the
// completion callback exactly once.
func (p *fakePlayer) finish() {
	p.mu.Lock()
	if p.finished {
		p.mu.Unlock()
		return
	}
	p.finished = true
	p.done = true
	onDone := p.onDone
	p.mu.Unlock()

	if onDone != nil {
		onDone()
	}
}

// fakeVoice implements gateway.Voice, recording joins and leaves and
// handing out fakePlayers.
type fakeVoice struct {
	mu        sync.Mutex
	joined    bool
	left      bool
	listeners []gateway.Listener
	players   []*fakePlayer
}

func (v *fakeVoice) Join(_ context.Context, _, _ snowflake.ID) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.joined = true
	return nil
}

func (v *fakeVoice) Leave(_ context.Context, _ snowflake.ID) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.left = true
	return nil
}

func (v *fakeVoice) Listeners(context.Context, snowflake.ID) ([]gateway.Listener, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.listeners, nil
}

func (v *fakeVoice) MemberChannel(context.Context, snowflake.ID, snowflake.ID) (snowflake.ID, bool) {
	return voiceChan, true
}

func (v *fakeVoice) Play(_ context.Context, _ snowflake.ID, _ string, onDone func()) (gateway.Player, error) {
	p := &fakePlayer{onDone: onDone}
	v.mu.Lock()
	v.players = append(v.players, p)
	v.mu.Unlock()
	return p, nil
}

// lastPlayer returns the most recently started player.
func (v *fakeVoice) lastPlayer() *fakePlayer {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.players[len(v.players)-1]
}

type nullSink struct{}

func (nullSink) Reply(context.Context, snowflake.ID, string) error { return nil }

func (nullSink) SendFile(context.Context, snowflake.ID, string, io.Reader) error { return nil }

func testEpisode(number int, name string) episode.Episode {
	return episode.Episode{
		Filename: "10" + name,
		Season:   1,
		Number:   number,
		Name:     name,
		Path:     "/content/" + name + ".mp4",
	}
}

func newTestSession(t *testing.T, bonus int64) (*playback.Session, *fakeVoice, *storetest.Store) {
	t.Helper()
	users := storetest.New()
	users.Seed(&model.UserRecord{ID: aliceID, Username: "alice"})

	voice := &fakeVoice{listeners: []gateway.Listener{
		{ID: aliceID, Username: "alice"},
		{ID: carolID, Username: "carol", SelfDeaf: true},
	}}

	// A real scheduler with an hour interval: Start and Cancel behave
	// normally and no tick can fire during a test.
	rewards := scheduler.New(users, nil, time.Hour, 1)
	s := playback.NewSession(voice, nullSink{}, rewards, users, nil, bonus, "!")
	return s, voice, users
}

func TestPlayEpisodeRequiresConnection(t *testing.T) {
	s, _, _ := newTestSession(t, 0)

	err := s.PlayEpisode(context.Background(), testEpisode(1, "help wanted"), textChan)
	assert.ErrorIs(t, err, playback.ErrNotConnected)
}

func TestPlayEpisodeRefusedWhileActive(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newTestSession(t, 0)
	require.NoError(t, s.Join(ctx, guildID, voiceChan))

	require.NoError(t, s.PlayEpisode(ctx, testEpisode(1, "help wanted"), textChan))
	assert.True(t, s.Active())

	err := s.PlayEpisode(ctx, testEpisode(2, "reef blower"), textChan)
	assert.ErrorIs(t, err, playback.ErrEpisodePlaying)
}

func TestEpisodeEndRecordsWatches(t *testing.T) {
	ctx := context.Background()
	s, voice, users := newTestSession(t, 2)
	require.NoError(t, s.Join(ctx, guildID, voiceChan))
	require.NoError(t, s.PlayEpisode(ctx, testEpisode(1, "help wanted"), textChan))

	voice.lastPlayer().finish()

	assert.False(t, s.Active())
	_, ok := s.Current()
	assert.False(t, ok)

	alice := users.Snapshot(aliceID)
	assert.Equal(t, int64(1), alice.EpisodesWatched)
	assert.Equal(t, []string{"help wanted"}, alice.EpisodeList)
	assert.Equal(t, int64(2), alice.CurrentPoints)
	assert.Equal(t, int64(2), alice.TotalPoints)

	// The self-deafened member earns nothing and no record.
	assert.Nil(t, users.Snapshot(carolID))
}

func TestSkipStillCreditsListeners(t *testing.T) {
	ctx := context.Background()
	s, voice, users := newTestSession(t, 0)
	require.NoError(t, s.Join(ctx, guildID, voiceChan))
	require.NoError(t, s.PlayEpisode(ctx, testEpisode(1, "help wanted"), textChan))

	s.Skip()
	player := voice.lastPlayer()
	assert.True(t, player.Done())

	// The stopped player's teardown callback still runs the bookkeeping.
	player.finish()
	assert.Equal(t, int64(1), users.Snapshot(aliceID).EpisodesWatched)
	assert.False(t, s.Active())
}

func TestStaleCompletionLeavesNewEpisodeAlone(t *testing.T) {
	ctx := context.Background()
	s, voice, users := newTestSession(t, 0)
	require.NoError(t, s.Join(ctx, guildID, voiceChan))

	require.NoError(t, s.PlayEpisode(ctx, testEpisode(1, "help wanted"), textChan))
	first := voice.lastPlayer()

	// Skip stops the first player but its completion callback lags.
	s.Skip()
	require.NoError(t, s.PlayEpisode(ctx, testEpisode(2, "reef blower"), textChan))
	second := voice.lastPlayer()
	require.NotSame(t, first, second)

	// The lagging callback must not touch the episode that replaced it.
	first.finish()
	assert.True(t, s.Active())
	current, ok := s.Current()
	require.True(t, ok)
	assert.Equal(t, "reef blower", current.Name)
	assert.Zero(t, users.Snapshot(aliceID).EpisodesWatched)

	second.finish()
	alice := users.Snapshot(aliceID)
	assert.Equal(t, int64(1), alice.EpisodesWatched)
	assert.Equal(t, []string{"reef blower"}, alice.EpisodeList)
	assert.False(t, s.Active())
}

func TestLeaveTearsDown(t *testing.T) {
	ctx := context.Background()
	s, voice, users := newTestSession(t, 0)
	require.NoError(t, s.Join(ctx, guildID, voiceChan))
	require.NoError(t, s.PlayEpisode(ctx, testEpisode(1, "help wanted"), textChan))
	player := voice.lastPlayer()

	require.NoError(t, s.Leave(ctx))
	assert.True(t, voice.left)
	assert.False(t, s.Connected())
	assert.True(t, player.Done())

	// A torn-down session records nothing when the player unwinds.
	player.finish()
	assert.Zero(t, users.Snapshot(aliceID).EpisodesWatched)

	err := s.PlayEpisode(ctx, testEpisode(2, "reef blower"), textChan)
	assert.ErrorIs(t, err, playback.ErrNotConnected)
}

func TestVoicelineRefusedDuringEpisode(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newTestSession(t, 0)
	require.NoError(t, s.Join(ctx, guildID, voiceChan))
	require.NoError(t, s.PlayEpisode(ctx, testEpisode(1, "help wanted"), textChan))

	err := s.PlayVoiceline(ctx, "/voicelines/100/1.wav")
	assert.ErrorIs(t, err, playback.ErrEpisodePlaying)
}
