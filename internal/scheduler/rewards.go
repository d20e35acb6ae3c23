// Package scheduler implements the listening reward accrual loop: a
// single-flight, self-rescheduling timer chain bound to one playback
// session. Each tick awards points to every eligible voice member and
// re-arms itself only while the session is still active, so a dead
// session starves the chain even without an explicit Cancel.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/rs/zerolog/log"

	"discord-episode-bot/internal/gateway"
	"discord-episode-bot/internal/metrics"
	"discord-episode-bot/internal/model"
	"discord-episode-bot/internal/store"
)

// Session is the playback session a reward chain is bound to.
type Session interface {
	// Active reports whether playback is still running.
	Active() bool
	// Listeners enumerates the members of the session's voice channel.
	Listeners(ctx context.Context) ([]gateway.Listener, error)
}

// Auditor receives ledger entries for awarded points.
type Auditor interface {
	Record(ctx context.Context, userID snowflake.ID, amount int64, entryType string, description string)
}

// RewardScheduler periodically credits listening points while a playback
// session is active. Start arms a new chain (replacing any prior one);
// Cancel stops the pending tick and is idempotent and safe to call when
// nothing is armed.
type RewardScheduler struct {
	users    store.UserStore
	audit    Auditor
	interval time.Duration
	points   int64

	// afterFunc is a seam so tests can drive ticks manually.
	afterFunc func(time.Duration, func()) *time.Timer

	mu    sync.Mutex
	gen   uint64
	timer *time.Timer
}

// New creates a RewardScheduler. audit may be nil.
func New(users store.UserStore, audit Auditor, interval time.Duration, points int64) *RewardScheduler {
	return &RewardScheduler{
		users:     users,
		audit:     audit,
		interval:  interval,
		points:    points,
		afterFunc: time.AfterFunc,
	}
}

// Start arms the first tick for the given session, replacing any chain
// that was still pending.
func (s *RewardScheduler) Start(session Session) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.gen++
	gen := s.gen
	s.stopLocked()
	s.timer = s.afterFunc(s.interval, func() { s.tick(gen, session) })

	log.Debug().Dur("interval", s.interval).Msg("Reward chain armed")
}

// Cancel synchronously stops the pending tick, if any. A tick that
// already fired will notice the generation change and not re-arm.
func (s *RewardScheduler) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	s.stopLocked()
}

func (s *RewardScheduler) stopLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// tick awards one round of points and conditionally re-arms. gen guards
// against the race where Cancel or Start ran while the tick was firing.
func (s *RewardScheduler) tick(gen uint64, session Session) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	s.mu.Unlock()

	// The session ended on its own; let the chain die without re-arming.
	if !session.Active() {
		log.Debug().Msg("Reward chain self-terminated, session inactive")
		return
	}

	s.award(session)

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen == s.gen {
		s.timer = s.afterFunc(s.interval, func() { s.tick(gen, session) })
	}
}

// award credits one round of points to every eligible listener, creating
// missing user records on the fly.
func (s *RewardScheduler) award(session Session) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	listeners, err := session.Listeners(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to enumerate listeners for reward tick")
		return
	}

	for _, l := range listeners {
		if !l.Eligible() {
			continue
		}
		if _, _, err := s.users.GetOrCreate(ctx, l.ID, l.Username); err != nil {
			log.Error().Err(err).Int64("user_id", int64(l.ID)).Msg("Failed to ensure user for reward")
			continue
		}
		if err := s.users.AwardPoints(ctx, l.ID, s.points); err != nil {
			log.Error().Err(err).Int64("user_id", int64(l.ID)).Msg("Failed to award points")
			continue
		}
		if s.audit != nil {
			s.audit.Record(ctx, l.ID, s.points, model.LedgerAccrual, "listening reward")
		}
		metrics.PointsAwarded.Add(float64(s.points))
	}

	log.Debug().Int("listeners", len(listeners)).Msg("Reward tick applied")
}
