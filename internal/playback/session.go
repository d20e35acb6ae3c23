// Package playback owns the voice session state: which guild and channel
// the bot sits in, the current episode, and the active player handles.
// All transitions that stop or replace playback cancel the reward chain
// first so a dying session can never earn a trailing tick.
package playback

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/rs/zerolog/log"

	"discord-episode-bot/internal/episode"
	"discord-episode-bot/internal/gateway"
	"discord-episode-bot/internal/model"
	"discord-episode-bot/internal/scheduler"
	"discord-episode-bot/internal/store"
)

// Playback errors surfaced to command handlers as replies.
var (
	ErrNotConnected   = errors.New("not connected to a voice channel")
	ErrEpisodePlaying = errors.New("an episode is already playing")
	ErrEmptyCatalog   = errors.New("episode catalog is empty")
)

// Auditor receives ledger entries for episode completion bonuses.
type Auditor interface {
	Record(ctx context.Context, userID snowflake.ID, amount int64, entryType string, description string)
}

// Session is the bot's single voice session. One instance lives for the
// process lifetime; handlers and the reward scheduler share it.
type Session struct {
	voice        gateway.Voice
	replies      gateway.ReplySink
	rewards      *scheduler.RewardScheduler
	users        store.UserStore
	audit        Auditor
	episodeBonus int64
	prefix       string

	mu              sync.Mutex
	guildID         snowflake.ID
	channelID       snowflake.ID
	connected       bool
	current         *episode.Episode
	episodePlayer   gateway.Player
	voicelinePlayer gateway.Player
}

// NewSession creates a Session. audit may be nil.
func NewSession(voice gateway.Voice, replies gateway.ReplySink, rewards *scheduler.RewardScheduler, users store.UserStore, audit Auditor, episodeBonus int64, prefix string) *Session {
	return &Session{
		voice:        voice,
		replies:      replies,
		rewards:      rewards,
		users:        users,
		audit:        audit,
		episodeBonus: episodeBonus,
		prefix:       prefix,
	}
}

var _ scheduler.Session = (*Session)(nil)

// Join connects (or moves) the session to a voice channel.
func (s *Session) Join(ctx context.Context, guildID, channelID snowflake.ID) error {
	if err := s.voice.Join(ctx, guildID, channelID); err != nil {
		return err
	}
	s.mu.Lock()
	s.guildID = guildID
	s.channelID = channelID
	s.connected = true
	s.mu.Unlock()

	log.Info().
		Int64("guild_id", int64(guildID)).
		Int64("channel_id", int64(channelID)).
		Msg("Joined voice channel")
	return nil
}

// Connected reports whether the session holds a voice connection.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// GuildID returns the guild of the current voice connection.
func (s *Session) GuildID() snowflake.ID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.guildID
}

// ChannelID returns the voice channel of the current connection.
func (s *Session) ChannelID() snowflake.ID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channelID
}

// Active reports whether an episode is currently playing. This is the
// liveness signal the reward scheduler checks before every tick.
func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current != nil && s.episodePlayer != nil && !s.episodePlayer.Done()
}

// Current returns the episode now playing, if any.
func (s *Session) Current() (episode.Episode, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return episode.Episode{}, false
	}
	return *s.current, true
}

// Listeners enumerates the members of the session's voice channel.
func (s *Session) Listeners(ctx context.Context) ([]gateway.Listener, error) {
	s.mu.Lock()
	guildID := s.guildID
	connected := s.connected
	s.mu.Unlock()

	if !connected {
		return nil, ErrNotConnected
	}
	return s.voice.Listeners(ctx, guildID)
}

// PlayEpisode starts playing the given episode, announcing it in the
// text channel the triggering command came from. Fails with
// ErrEpisodePlaying while another episode runs and ErrNotConnected
// without a voice connection.
func (s *Session) PlayEpisode(ctx context.Context, ep episode.Episode, textChannelID snowflake.ID) error {
	s.mu.Lock()
	if !s.connected {
		s.mu.Unlock()
		return ErrNotConnected
	}
	if s.current != nil && s.episodePlayer != nil && !s.episodePlayer.Done() {
		s.mu.Unlock()
		return ErrEpisodePlaying
	}
	guildID := s.guildID
	if s.voicelinePlayer != nil && !s.voicelinePlayer.Done() {
		s.voicelinePlayer.Stop()
		s.voicelinePlayer = nil
	}
	s.mu.Unlock()

	// Any chain from a previous episode dies before the new one starts.
	s.rewards.Cancel()

	// The completion callback must know which player it belongs to, and
	// the player handle only exists once Play returns. The buffered
	// channel hands it across; a callback firing early blocks until the
	// handle is published.
	ready := make(chan gateway.Player, 1)
	player, err := s.voice.Play(ctx, guildID, ep.Path, func() {
		s.onEpisodeEnd(<-ready)
	})
	if err != nil {
		return err
	}
	ready <- player

	s.mu.Lock()
	// Play ran unlocked; another episode may have claimed the session
	// in the meantime.
	if s.current != nil && s.episodePlayer != nil && !s.episodePlayer.Done() {
		s.mu.Unlock()
		player.Stop()
		return ErrEpisodePlaying
	}
	s.current = &ep
	s.episodePlayer = player
	s.mu.Unlock()

	s.rewards.Start(s)

	log.Info().Str("episode", ep.Name).Int("season", ep.Season).Msg("Playing episode")

	msg := fmt.Sprintf("Playing episode %d from season %d.\n", ep.Number, ep.Season)
	msg += "Every minute you listen to the episode you will gain 1 point.\n"
	msg += fmt.Sprintf("Use %sinfo to see your stats.", s.prefix)
	return s.replies.Reply(ctx, textChannelID, msg)
}

// PlayVoiceline plays a short unlocked clip. Refused while an episode is
// running; an already-playing voiceline is replaced.
func (s *Session) PlayVoiceline(ctx context.Context, path string) error {
	s.mu.Lock()
	if !s.connected {
		s.mu.Unlock()
		return ErrNotConnected
	}
	if s.current != nil && s.episodePlayer != nil && !s.episodePlayer.Done() {
		s.mu.Unlock()
		return ErrEpisodePlaying
	}
	guildID := s.guildID
	if s.voicelinePlayer != nil && !s.voicelinePlayer.Done() {
		s.voicelinePlayer.Stop()
	}
	s.mu.Unlock()

	player, err := s.voice.Play(ctx, guildID, path, nil)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.voicelinePlayer = player
	s.mu.Unlock()
	return nil
}

// Skip stops the current episode. The player's completion callback still
// fires, so listeners get their episode-watched credit.
func (s *Session) Skip() {
	s.rewards.Cancel()

	s.mu.Lock()
	player := s.episodePlayer
	s.mu.Unlock()

	if player != nil {
		player.Stop()
	}
}

// Leave tears the whole session down: reward chain, players, connection.
func (s *Session) Leave(ctx context.Context) error {
	s.rewards.Cancel()

	s.mu.Lock()
	if s.episodePlayer != nil {
		s.episodePlayer.Stop()
		s.episodePlayer = nil
	}
	if s.voicelinePlayer != nil {
		s.voicelinePlayer.Stop()
		s.voicelinePlayer = nil
	}
	s.current = nil
	guildID := s.guildID
	connected := s.connected
	s.connected = false
	s.mu.Unlock()

	if !connected {
		return nil
	}
	return s.voice.Leave(ctx, guildID)
}

// onEpisodeEnd credits everyone still listening with a watched episode
// and clears the current-episode slot. Runs on the player's goroutine
// when playback finishes or is stopped. The identity check keeps a
// superseded player's late callback from tearing down an episode that
// started after it was stopped.
func (s *Session) onEpisodeEnd(p gateway.Player) {
	s.mu.Lock()
	if s.episodePlayer != p {
		s.mu.Unlock()
		return
	}
	current := s.current
	s.current = nil
	s.episodePlayer = nil
	s.mu.Unlock()

	if current == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	listeners, err := s.Listeners(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to enumerate listeners at episode end")
		return
	}

	for _, l := range listeners {
		if !l.Eligible() {
			continue
		}
		if err := s.users.RecordEpisodeWatched(ctx, l.ID, current.Name); err != nil {
			log.Error().Err(err).Int64("user_id", int64(l.ID)).Msg("Failed to record watched episode")
			continue
		}
		if s.episodeBonus > 0 {
			if err := s.users.AwardPoints(ctx, l.ID, s.episodeBonus); err != nil {
				log.Error().Err(err).Int64("user_id", int64(l.ID)).Msg("Failed to award episode bonus")
				continue
			}
			if s.audit != nil {
				s.audit.Record(ctx, l.ID, s.episodeBonus, model.LedgerEpisodeBonus,
					fmt.Sprintf("finished %q", current.Name))
			}
		}
	}

	log.Info().Str("episode", current.Name).Int("listeners", len(listeners)).Msg("Episode ended")
}
