// ABOUTME: In-memory implementation of the Store interface for tests and single-process runs
// ABOUTME: Mutex-guarded map with per-entry deadlines and a background janitor

package kvstore

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"time"
)

// memEntry holds a value and its expiry deadline. A zero deadline means
// the entry never expires.
type memEntry struct {
	value    []byte
	deadline time.Time
}

func (e memEntry) expired(now time.Time) bool {
	return !e.deadline.IsZero() && now.After(e.deadline)
}

// MemoryStore implements Store with an in-process map. Safe for
// concurrent use within one process; it cannot provide cross-process
// mutual exclusion, so production deployments use RedisStore.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memEntry
	done    chan struct{}
	closed  bool
}

// NewMemoryStore creates a MemoryStore. A janitor goroutine removes
// expired entries once a minute; reads also expire lazily so the
// janitor interval never affects visibility.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{
		entries: make(map[string]memEntry),
		done:    make(chan struct{}),
	}
	go s.janitor()
	return s
}

func (s *MemoryStore) Set(ctx context.Context, namespace, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[FullKey(namespace, key)] = memEntry{
		value:    append([]byte(nil), value...),
		deadline: deadlineFor(ttl),
	}
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, namespace, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	full := FullKey(namespace, key)
	entry, ok := s.entries[full]
	if !ok {
		return nil, false, nil
	}
	if entry.expired(time.Now()) {
		delete(s.entries, full)
		return nil, false, nil
	}
	return append([]byte(nil), entry.value...), true, nil
}

func (s *MemoryStore) Delete(ctx context.Context, namespace, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, FullKey(namespace, key))
	return nil
}

func (s *MemoryStore) DeletePrefix(ctx context.Context, prefix string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.entries {
		if strings.HasPrefix(k, prefix) {
			delete(s.entries, k)
		}
	}
	return nil
}

func (s *MemoryStore) SetNX(ctx context.Context, namespace, key string, value []byte, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	full := FullKey(namespace, key)
	if entry, ok := s.entries[full]; ok && !entry.expired(time.Now()) {
		return false, nil
	}
	s.entries[full] = memEntry{
		value:    append([]byte(nil), value...),
		deadline: deadlineFor(ttl),
	}
	return true, nil
}

func (s *MemoryStore) CompareAndDelete(ctx context.Context, namespace, key string, value []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	full := FullKey(namespace, key)
	entry, ok := s.entries[full]
	if !ok || entry.expired(time.Now()) {
		delete(s.entries, full)
		return false, nil
	}
	if !bytes.Equal(entry.value, value) {
		return false, nil
	}
	delete(s.entries, full)
	return true, nil
}

// Close stops the janitor goroutine. Safe to call multiple times.
func (s *MemoryStore) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		close(s.done)
		s.closed = true
	}
}

func (s *MemoryStore) janitor() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-s.done:
			return
		}
	}
}

// sweep removes all expired entries.
func (s *MemoryStore) sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for k, entry := range s.entries {
		if entry.expired(now) {
			delete(s.entries, k)
		}
	}
}

func deadlineFor(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return time.Now().Add(ttl)
}
