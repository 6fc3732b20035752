package lock

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

// TestUserLockMutualExclusionProperty checks that for any interleaving of
// goroutines incrementing a shared counter under the same user's lock, no
// increment is lost.
func TestUserLockMutualExclusionProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		goroutines := rapid.IntRange(2, 16).Draw(t, "goroutines")
		increments := rapid.IntRange(1, 100).Draw(t, "increments")
		userID := rapid.Int64().Draw(t, "userID")

		ul := NewUserLock()
		counter := 0

		var wg sync.WaitGroup
		for g := 0; g < goroutines; g++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := 0; i < increments; i++ {
					_ = ul.WithLock(userID, func() error {
						counter++
						return nil
					})
				}
			}()
		}
		wg.Wait()

		if counter != goroutines*increments {
			t.Fatalf("lost increments: expected %d, got %d", goroutines*increments, counter)
		}
	})
}

// TestUserLockIndependentUsers verifies locks for different users do not
// block each other.
func TestUserLockIndependentUsers(t *testing.T) {
	ul := NewUserLock()
	ul.Lock(1)
	defer ul.Unlock(1)

	assert.True(t, ul.TryLock(2), "lock for a different user should be free")
	ul.Unlock(2)
}

// TestUserLockTryLock verifies TryLock fails while the lock is held and
// succeeds after release.
func TestUserLockTryLock(t *testing.T) {
	ul := NewUserLock()

	assert.True(t, ul.TryLock(7))
	assert.False(t, ul.TryLock(7))
	ul.Unlock(7)
	assert.True(t, ul.TryLock(7))
	ul.Unlock(7)
}
