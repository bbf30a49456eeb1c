// ABOUTME: Store interface and error types for the TTL key-value layer
// ABOUTME: Defines the contract shared by the Redis and in-memory backends

package kvstore

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable is returned when the backing store cannot be reached.
// Callers must treat it as retryable and must never collapse it into
// "key absent" - live-mode and auth-adjacent state depend on the
// distinction.
var ErrUnavailable = errors.New("kv store unavailable")

// Store is a namespaced key-value store with per-key TTL.
//
// Get reports absence through its bool return, never through an error:
// a missing or expired key is (nil, false, nil). Errors are reserved for
// backend failures.
//
// SetNX and CompareAndDelete are the atomic primitives the per-user lock
// is built on; both must be atomic with respect to concurrent callers in
// other processes, not just other goroutines.
type Store interface {
	Set(ctx context.Context, namespace, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, namespace, key string) ([]byte, bool, error)
	Delete(ctx context.Context, namespace, key string) error

	// DeletePrefix removes every key whose full name starts with prefix.
	// Used for session-clear administrative resets.
	DeletePrefix(ctx context.Context, prefix string) error

	// SetNX sets the key only if it does not already exist. Returns true
	// if this call created the key.
	SetNX(ctx context.Context, namespace, key string, value []byte, ttl time.Duration) (bool, error)

	// CompareAndDelete deletes the key only if its current value equals
	// value. Returns true if the key was deleted.
	CompareAndDelete(ctx context.Context, namespace, key string, value []byte) (bool, error)
}

// FullKey joins a namespace and key into the stored key name.
// Namespaces use ":" separators so prefix deletes can target a whole
// namespace subtree.
func FullKey(namespace, key string) string {
	return namespace + ":" + key
}
