// ABOUTME: Tests for the webhook job dedup tracker
// ABOUTME: Validates window expiry, size bounds, pruning, and race behavior

package dedupe

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTracker_Observe_NewKey(t *testing.T) {
	tr := NewTracker(5*time.Minute, 100)
	defer tr.Close()

	assert.False(t, tr.Observe("u1", "wamid.1"), "first observation is not a duplicate")
	assert.True(t, tr.Observe("u1", "wamid.1"), "second observation is a duplicate")
}

func TestTracker_Observe_DistinctKeys(t *testing.T) {
	tr := NewTracker(5*time.Minute, 100)
	defer tr.Close()

	assert.False(t, tr.Observe("u1", "wamid.1"))
	assert.False(t, tr.Observe("u1", "wamid.2"), "different message id is a different job")
	assert.False(t, tr.Observe("u2", "wamid.1"), "different user is a different job")
}

func TestTracker_Observe_WindowExpiry(t *testing.T) {
	tr := NewTracker(10*time.Millisecond, 100)
	defer tr.Close()

	assert.False(t, tr.Observe("u1", "wamid.1"))
	time.Sleep(20 * time.Millisecond)
	assert.False(t, tr.Observe("u1", "wamid.1"), "key outside the window is fresh again")
}

func TestTracker_SizeBound(t *testing.T) {
	tr := NewTracker(5*time.Minute, 3)
	defer tr.Close()

	tr.Observe("u1", "m1")
	time.Sleep(time.Millisecond)
	tr.Observe("u1", "m2")
	time.Sleep(time.Millisecond)
	tr.Observe("u1", "m3")
	time.Sleep(time.Millisecond)

	// Fourth key evicts the oldest
	tr.Observe("u1", "m4")

	assert.False(t, tr.Observe("u1", "m1"), "oldest key should have been evicted")
	assert.True(t, tr.Observe("u1", "m3"))
	assert.True(t, tr.Observe("u1", "m4"))
}

func TestTracker_Prune(t *testing.T) {
	tr := NewTracker(10*time.Millisecond, 100)
	defer tr.Close()

	tr.Observe("u1", "m1")
	tr.Observe("u1", "m2")
	time.Sleep(20 * time.Millisecond)

	tr.prune()

	tr.mu.Lock()
	n := len(tr.seen)
	tr.mu.Unlock()
	assert.Equal(t, 0, n, "prune should drop expired keys")
}

func TestTracker_Observe_Atomic(t *testing.T) {
	tr := NewTracker(5*time.Minute, 100)
	defer tr.Close()

	const numGoroutines = 100
	var fresh int32
	var mu sync.Mutex
	var wg sync.WaitGroup
	wg.Add(numGoroutines)

	for i := 0; i < numGoroutines; i++ {
		go func() {
			defer wg.Done()
			if !tr.Observe("u1", "contested") {
				mu.Lock()
				fresh++
				mu.Unlock()
			}
		}()
	}

	wg.Wait()
	assert.Equal(t, int32(1), fresh, "exactly one observer should see the key as fresh")
}

func TestTracker_Concurrent(t *testing.T) {
	tr := NewTracker(5*time.Minute, 1000)
	defer tr.Close()

	var wg sync.WaitGroup
	wg.Add(50)
	for i := 0; i < 50; i++ {
		go func(id int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				tr.Observe(fmt.Sprintf("u%d", id%5), fmt.Sprintf("m%d", j%20))
			}
		}(i)
	}
	wg.Wait()

	// Still functional after the storm
	assert.False(t, tr.Observe("fresh-user", "fresh-message"))
}

func TestTracker_Forget(t *testing.T) {
	tr := NewTracker(5*time.Minute, 100)
	defer tr.Close()

	assert.False(t, tr.Observe("u1", "m1"))
	tr.Forget("u1", "m1")
	assert.False(t, tr.Observe("u1", "m1"), "a forgotten key is new again")

	tr.Forget("u1", "never-seen") // absent keys are a no-op
	assert.True(t, tr.Observe("u1", "m1"))
}

func TestTracker_Close(t *testing.T) {
	tr := NewTracker(5*time.Minute, 100)
	tr.Observe("u1", "m1")
	tr.Close()
	tr.Close() // multiple closes must not panic
}
