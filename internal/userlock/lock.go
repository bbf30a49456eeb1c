// ABOUTME: Per-user lock manager built on the store's SetNX/compare-and-delete primitives
// ABOUTME: Bounded wait with jittered polling, bounded lease lifetime, owner-safe release

package userlock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chatforge/wce-gateway/internal/kvstore"
)

// ErrLockTimeout is returned when the wait window closes before the
// current holder releases. The message belonging to this attempt is
// dropped, not queued.
var ErrLockTimeout = errors.New("user lock wait timed out")

const (
	// namespace roots all lock keys in the shared store.
	namespace = "wce:lock"

	// basePollInterval is the SetNX retry cadence while waiting. Each
	// attempt adds up to 50% jitter so near-simultaneous waiters don't
	// poll in lockstep.
	basePollInterval = 100 * time.Millisecond

	DefaultLease = 30 * time.Second
	DefaultWait  = 5 * time.Second
)

// Manager acquires and releases per-user leases.
type Manager struct {
	store  kvstore.Store
	logger *slog.Logger
}

// NewManager creates a lock manager over the shared store. The store's
// atomicity is what makes the lock safe across processes; an in-memory
// store confines that guarantee to one process.
func NewManager(store kvstore.Store, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:  store,
		logger: logger.With("component", "userlock"),
	}
}

// Acquire blocks up to wait attempting to take the user's lock. On
// success the returned Lock must be released when processing finishes;
// the lease expires on its own after lease if the holder crashes first.
// Returns ErrLockTimeout when the holder does not release in time.
func (m *Manager) Acquire(ctx context.Context, userID string, lease, wait time.Duration) (*Lock, error) {
	if lease <= 0 {
		lease = DefaultLease
	}
	if wait <= 0 {
		wait = DefaultWait
	}

	owner := []byte(uuid.New().String())
	deadline := time.Now().Add(wait)

	for {
		acquired, err := m.store.SetNX(ctx, namespace, userID, owner, lease)
		if err != nil {
			return nil, fmt.Errorf("acquiring lock for %s: %w", userID, err)
		}
		if acquired {
			m.logger.Debug("lock acquired", "user_id", userID, "lease", lease)
			return &Lock{manager: m, userID: userID, owner: owner}, nil
		}

		sleep := basePollInterval + time.Duration(rand.Int63n(int64(basePollInterval/2)))
		if remaining := time.Until(deadline); remaining <= 0 {
			return nil, ErrLockTimeout
		} else if sleep > remaining {
			sleep = remaining
		}

		select {
		case <-time.After(sleep):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Lock is a releasable handle on one user's lease.
type Lock struct {
	manager *Manager
	userID  string
	owner   []byte

	mu       sync.Mutex
	released bool
}

// UserID returns the user this lock serializes.
func (l *Lock) UserID() string {
	return l.userID
}

// Release gives the lock up. Only the owning handle can release: if the
// lease already expired and another worker took the lock, this is a
// no-op rather than a theft of the new holder's lease. Double release
// is a no-op.
func (l *Lock) Release(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.released {
		return nil
	}
	l.released = true

	deleted, err := l.manager.store.CompareAndDelete(ctx, namespace, l.userID, l.owner)
	if err != nil {
		return fmt.Errorf("releasing lock for %s: %w", l.userID, err)
	}
	if !deleted {
		l.manager.logger.Warn("lock lease expired before release", "user_id", l.userID)
	}
	return nil
}
