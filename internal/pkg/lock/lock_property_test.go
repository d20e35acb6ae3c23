package lock

import (
	"sync"
	"testing"

	"github.com/disgoorg/snowflake/v2"
	"pgregory.net/rapid"
)

// TestSerializedMutationProperty checks that for any set of concurrent
// read-modify-write mutations of the same user, the final value is the one
// sequential execution would produce.
func TestSerializedMutationProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		initial := rapid.Int64Range(0, 100000).Draw(t, "initial")
		numOps := rapid.IntRange(2, 20).Draw(t, "numOps")
		userID := snowflake.ID(rapid.Uint64Range(1, 1000000).Draw(t, "userID"))

		deltas := make([]int64, numOps)
		expected := initial
		for i := range deltas {
			deltas[i] = rapid.Int64Range(-500, 500).Draw(t, "delta")
			expected += deltas[i]
		}

		ul := NewUserLock()
		points := initial

		var wg sync.WaitGroup
		wg.Add(numOps)
		for _, d := range deltas {
			go func(delta int64) {
				defer wg.Done()
				ul.Lock(userID)
				defer ul.Unlock(userID)
				points += delta
			}(d)
		}
		wg.Wait()

		if points != expected {
			t.Fatalf("points mismatch: expected %d, got %d (initial=%d, numOps=%d)",
				expected, points, initial, numOps)
		}
	})
}

// TestTryLockExcludesHolders checks that TryLock fails while another
// goroutine holds the same user's lock and succeeds for other users.
func TestTryLockExcludesHolders(t *testing.T) {
	ul := NewUserLock()
	a := snowflake.ID(1)
	b := snowflake.ID(2)

	ul.Lock(a)
	if ul.TryLock(a) {
		t.Fatal("TryLock succeeded while lock was held")
	}
	if !ul.TryLock(b) {
		t.Fatal("TryLock failed for an unrelated user")
	}
	ul.Unlock(b)
	ul.Unlock(a)

	if !ul.TryLock(a) {
		t.Fatal("TryLock failed after the lock was released")
	}
	ul.Unlock(a)
}
