package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"discord-episode-bot/internal/gateway"
	"discord-episode-bot/internal/model"
	"discord-episode-bot/internal/store/storetest"
)

// fakeClock captures timer callbacks so tests can drive ticks manually.
type fakeClock struct {
	mu    sync.Mutex
	armed []func()
}

func (c *fakeClock) afterFunc(_ time.Duration, f func()) *time.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.armed = append(c.armed, f)
	return time.NewTimer(time.Hour)
}

// fire runs the most recently armed callback.
func (c *fakeClock) fire(t *testing.T) {
	c.mu.Lock()
	require.NotEmpty(t, c.armed)
	f := c.armed[len(c.armed)-1]
	c.mu.Unlock()
	f()
}

func (c *fakeClock) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.armed)
}

type fakeSession struct {
	active    bool
	listeners []gateway.Listener
}

func (s *fakeSession) Active() bool { return s.active }

func (s *fakeSession) Listeners(context.Context) ([]gateway.Listener, error) {
	return s.listeners, nil
}

type recordingAuditor struct {
	mu      sync.Mutex
	entries []string
}

func (a *recordingAuditor) Record(_ context.Context, _ snowflake.ID, _ int64, entryType string, _ string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, entryType)
}

func newTestScheduler(users *storetest.Store, audit Auditor) (*RewardScheduler, *fakeClock) {
	clock := &fakeClock{}
	s := New(users, audit, time.Minute, 1)
	s.afterFunc = clock.afterFunc
	return s, clock
}

func TestTickAwardsEligibleListeners(t *testing.T) {
	users := storetest.New()
	audit := &recordingAuditor{}
	s, clock := newTestScheduler(users, audit)

	session := &fakeSession{
		active: true,
		listeners: []gateway.Listener{
			{ID: 1, Username: "alice"},
			{ID: 2, Username: "bob"},
			{ID: 3, Username: "carol", SelfDeaf: true},
			{ID: 4, Username: "dave", AFK: true},
		},
	}

	s.Start(session)
	require.Equal(t, 1, clock.count())

	for i := 0; i < 3; i++ {
		clock.fire(t)
	}

	alice := users.Snapshot(1)
	require.NotNil(t, alice)
	assert.Equal(t, int64(3), alice.CurrentPoints)
	assert.Equal(t, int64(3), alice.TotalPoints)
	assert.Equal(t, int64(3), users.Snapshot(2).CurrentPoints)

	// Deafened and AFK members earn nothing but still get no record.
	assert.Nil(t, users.Snapshot(3))
	assert.Nil(t, users.Snapshot(4))

	// One ledger entry per eligible listener per tick.
	assert.Len(t, audit.entries, 6)
	assert.Equal(t, model.LedgerAccrual, audit.entries[0])

	// Each tick re-armed the chain.
	assert.Equal(t, 4, clock.count())
}

func TestCancelStopsPendingTick(t *testing.T) {
	users := storetest.New()
	s, clock := newTestScheduler(users, nil)

	session := &fakeSession{active: true, listeners: []gateway.Listener{{ID: 1, Username: "alice"}}}
	s.Start(session)
	s.Cancel()

	// A callback that fires after Cancel must be a no-op.
	clock.fire(t)
	assert.Nil(t, users.Snapshot(1))
	assert.Equal(t, 1, clock.count())
}

func TestInactiveSessionStarvesChain(t *testing.T) {
	users := storetest.New()
	s, clock := newTestScheduler(users, nil)

	session := &fakeSession{active: true, listeners: []gateway.Listener{{ID: 1, Username: "alice"}}}
	s.Start(session)

	session.active = false
	clock.fire(t)

	assert.Nil(t, users.Snapshot(1))
	assert.Equal(t, 1, clock.count())
}

func TestStartReplacesChain(t *testing.T) {
	users := storetest.New()
	s, clock := newTestScheduler(users, nil)

	first := &fakeSession{active: true, listeners: []gateway.Listener{{ID: 1, Username: "alice"}}}
	second := &fakeSession{active: true, listeners: []gateway.Listener{{ID: 2, Username: "bob"}}}

	s.Start(first)
	clock.mu.Lock()
	stale := clock.armed[0]
	clock.mu.Unlock()

	s.Start(second)

	// The superseded chain's tick is dead.
	stale()
	assert.Nil(t, users.Snapshot(1))

	clock.fire(t)
	assert.Equal(t, int64(1), users.Snapshot(2).CurrentPoints)
}
