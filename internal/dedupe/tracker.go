// ABOUTME: In-process TTL tracker for webhook job identity, the first line of idempotency defense
// ABOUTME: Size-bounded with O(1) oldest-entry eviction via a doubly-linked list

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

// trackerEntry stores when a job key was observed and its position in
// the insertion-order list.
type trackerEntry struct {
	observedAt time.Time
	element    *list.Element
}

// Tracker remembers (user_id, message_id) pairs for a bounded window.
// It deduplicates webhook redeliveries before a job is ever enqueued;
// the cross-process marker in the shared store catches what an
// in-process tracker cannot (a redelivery landing on another worker).
type Tracker struct {
	mu      sync.Mutex
	seen    map[string]*trackerEntry
	order   *list.List // keys in observation order, oldest at front
	window  time.Duration
	maxSize int
	done    chan struct{}
	closed  bool
}

// JobKey builds the canonical dedup key for one provider event.
func JobKey(userID, messageID string) string {
	return userID + ":" + messageID
}

// NewTracker creates a tracker that remembers keys for window, holding
// at most maxSize entries. A background goroutine prunes expired keys.
func NewTracker(window time.Duration, maxSize int) *Tracker {
	tr := &Tracker{
		seen:    make(map[string]*trackerEntry),
		order:   list.New(),
		window:  window,
		maxSize: maxSize,
		done:    make(chan struct{}),
	}
	go tr.pruneLoop()
	return tr
}

// Observe atomically checks and records a job key. Returns true if the
// key was already observed inside the window (a duplicate); false means
// the key is new and is now recorded.
func (tr *Tracker) Observe(userID, messageID string) bool {
	key := JobKey(userID, messageID)

	tr.mu.Lock()
	defer tr.mu.Unlock()

	if entry, ok := tr.seen[key]; ok && time.Since(entry.observedAt) < tr.window {
		return true
	}
	tr.record(key)
	return false
}

// Forget removes a recorded key so the provider's redelivery of the
// same event is not treated as a duplicate. Used when the work the key
// guards failed to start.
func (tr *Tracker) Forget(userID, messageID string) {
	key := JobKey(userID, messageID)

	tr.mu.Lock()
	defer tr.mu.Unlock()

	if entry, ok := tr.seen[key]; ok {
		tr.order.Remove(entry.element)
		delete(tr.seen, key)
	}
}

// record inserts or refreshes a key. Must be called with mu held.
func (tr *Tracker) record(key string) {
	now := time.Now()

	if entry, ok := tr.seen[key]; ok {
		entry.observedAt = now
		tr.order.MoveToBack(entry.element)
		return
	}

	if len(tr.seen) >= tr.maxSize {
		tr.dropOldest()
	}

	tr.seen[key] = &trackerEntry{
		observedAt: now,
		element:    tr.order.PushBack(key),
	}
}

// dropOldest removes the least recently observed key. Must be called
// with mu held.
func (tr *Tracker) dropOldest() {
	front := tr.order.Front()
	if front == nil {
		return
	}
	key, _ := front.Value.(string)
	tr.order.Remove(front)
	delete(tr.seen, key)
}

func (tr *Tracker) pruneLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			tr.prune()
		case <-tr.done:
			return
		}
	}
}

// prune removes every key older than the window.
func (tr *Tracker) prune() {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	now := time.Now()
	for elem := tr.order.Front(); elem != nil; {
		key, _ := elem.Value.(string)
		entry := tr.seen[key]
		if entry == nil || now.Sub(entry.observedAt) <= tr.window {
			break // list is ordered oldest-first
		}
		next := elem.Next()
		tr.order.Remove(elem)
		delete(tr.seen, key)
		elem = next
	}
}

// Close stops the prune goroutine. Safe to call multiple times.
func (tr *Tracker) Close() {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if !tr.closed {
		close(tr.done)
		tr.closed = true
	}
}
