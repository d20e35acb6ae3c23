// Package lock provides per-user locking for multi-step store mutations.
// The store's delta operations are atomic on their own; anything that has
// to read a record, inspect the inventory and write it back (sell, undo,
// rename, crate delivery) takes the user's lock first so the in-process
// writers cannot interleave.
package lock

import (
	"sync"

	"github.com/disgoorg/snowflake/v2"
)

// userMutex wraps a mutex with reference counting for pooling.
type userMutex struct {
	mu       sync.Mutex
	refCount int
}

// UserLock provides per-user mutual exclusion keyed by user id.
type UserLock struct {
	locks sync.Map // map[snowflake.ID]*userMutex
	pool  sync.Pool
}

// NewUserLock creates a new UserLock instance.
func NewUserLock() *UserLock {
	return &UserLock{
		pool: sync.Pool{
			New: func() any {
				return &userMutex{}
			},
		},
	}
}

// getLock retrieves or creates the mutex for the given user id.
func (ul *UserLock) getLock(userID snowflake.ID) *userMutex {
	if v, ok := ul.locks.Load(userID); ok {
		return v.(*userMutex)
	}

	newLock := ul.pool.Get().(*userMutex)
	newLock.refCount = 0

	actual, loaded := ul.locks.LoadOrStore(userID, newLock)
	if loaded {
		// Another goroutine created the lock first, return ours to pool.
		ul.pool.Put(newLock)
	}
	return actual.(*userMutex)
}

// Lock acquires the lock for a user.
func (ul *UserLock) Lock(userID snowflake.ID) {
	lock := ul.getLock(userID)
	lock.mu.Lock()
	lock.refCount++
}

// Unlock releases the lock for a user.
func (ul *UserLock) Unlock(userID snowflake.ID) {
	if v, ok := ul.locks.Load(userID); ok {
		lock := v.(*userMutex)
		lock.refCount--
		lock.mu.Unlock()
	}
}

// TryLock attempts to acquire the lock without blocking.
func (ul *UserLock) TryLock(userID snowflake.ID) bool {
	lock := ul.getLock(userID)
	if lock.mu.TryLock() {
		lock.refCount++
		return true
	}
	return false
}

// WithLock executes fn while holding the user's lock.
func (ul *UserLock) WithLock(userID snowflake.ID, fn func() error) error {
	ul.Lock(userID)
	defer ul.Unlock(userID)
	return fn()
}
