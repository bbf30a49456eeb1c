// ABOUTME: Session manager layering user, global, and props namespaces on the TTL store
// ABOUTME: Owns key prefixing, JSON encoding, and per-namespace expiry policy

package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/chatforge/wce-gateway/internal/kvstore"
)

const (
	// keyPrefix roots every session entry so administrative resets can
	// target the whole subtree with one prefix delete. Lock leases and
	// job claims live outside it and must survive a session wipe.
	keyPrefix = "wce:session"

	// userPrefix roots per-user namespaces, keeping user IDs from
	// colliding with the global namespace.
	userPrefix = keyPrefix + ":user"

	// globalNamespace holds the shared entries.
	globalNamespace = keyPrefix + ":global"

	// propsKey is the session key holding the user-properties map.
	propsKey = "props"

	// DefaultUserTTL and DefaultGlobalTTL mirror the expiry policy the
	// engine was tuned for: user state is short-lived, shared state a
	// little longer.
	DefaultUserTTL   = 10 * time.Minute
	DefaultGlobalTTL = 30 * time.Minute
)

// Manager hands out namespace-scoped session handles.
type Manager struct {
	store     kvstore.Store
	userTTL   time.Duration
	globalTTL time.Duration
}

// NewManager creates a Manager over the given store. Non-positive TTLs
// fall back to the defaults.
func NewManager(store kvstore.Store, userTTL, globalTTL time.Duration) *Manager {
	if userTTL <= 0 {
		userTTL = DefaultUserTTL
	}
	if globalTTL <= 0 {
		globalTTL = DefaultGlobalTTL
	}
	return &Manager{store: store, userTTL: userTTL, globalTTL: globalTTL}
}

// Session returns the handle for one user's namespace.
func (m *Manager) Session(userID string) *Session {
	return &Session{
		store:     m.store,
		namespace: kvstore.FullKey(userPrefix, userID),
		ttl:       m.userTTL,
	}
}

// Global returns the handle for the shared namespace.
func (m *Manager) Global() *Session {
	return &Session{
		store:     m.store,
		namespace: globalNamespace,
		ttl:       m.globalTTL,
	}
}

// ClearAll removes every session entry, user-scoped and global.
// Administrative reset; there is no undo.
func (m *Manager) ClearAll(ctx context.Context) error {
	return m.store.DeletePrefix(ctx, keyPrefix+":")
}

// Session is a handle to one namespace (a user's, or the global one).
// Entries expire independently; there is no cross-key atomicity.
type Session struct {
	store     kvstore.Store
	namespace string
	ttl       time.Duration
}

// Save stores value under key, JSON-encoded, with the namespace TTL.
func (s *Session) Save(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encoding session value %q: %w", key, err)
	}
	return s.store.Set(ctx, s.namespace, key, data, s.ttl)
}

// SaveAll stores every entry of values. Each key is an independent
// write; a failure leaves earlier keys saved.
func (s *Session) SaveAll(ctx context.Context, values map[string]any) error {
	for k, v := range values {
		if err := s.Save(ctx, k, v); err != nil {
			return err
		}
	}
	return nil
}

// Get decodes the entry under key into dest. Returns false if the key
// is absent or expired; store failures are returned as errors, never
// mapped to absence.
func (s *Session) Get(ctx context.Context, key string, dest any) (bool, error) {
	data, ok, err := s.store.Get(ctx, s.namespace, key)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return false, fmt.Errorf("decoding session value %q: %w", key, err)
	}
	return true, nil
}

// Evict removes one key from the namespace.
func (s *Session) Evict(ctx context.Context, key string) error {
	return s.store.Delete(ctx, s.namespace, key)
}

// EvictAll removes the given keys from the namespace.
func (s *Session) EvictAll(ctx context.Context, keys ...string) error {
	for _, k := range keys {
		if err := s.Evict(ctx, k); err != nil {
			return err
		}
	}
	return nil
}

// Clear removes every key in the namespace. With retain keys given, the
// retained entries are read first and written back after the sweep,
// refreshing their TTL as a side effect.
func (s *Session) Clear(ctx context.Context, retain ...string) error {
	kept := make(map[string]json.RawMessage, len(retain))
	for _, key := range retain {
		data, ok, err := s.store.Get(ctx, s.namespace, key)
		if err != nil {
			return err
		}
		if ok {
			kept[key] = json.RawMessage(data)
		}
	}

	if err := s.store.DeletePrefix(ctx, s.namespace+":"); err != nil {
		return err
	}

	for key, data := range kept {
		if err := s.store.Set(ctx, s.namespace, key, data, s.ttl); err != nil {
			return err
		}
	}
	return nil
}

// Props returns the user-properties map, empty if none saved yet.
func (s *Session) Props(ctx context.Context) (map[string]any, error) {
	props := map[string]any{}
	if _, err := s.Get(ctx, propsKey, &props); err != nil {
		return nil, err
	}
	return props, nil
}

// GetProp returns one property value. Returns false if the property
// (or the whole props map) is absent.
func (s *Session) GetProp(ctx context.Context, name string) (any, bool, error) {
	props, err := s.Props(ctx)
	if err != nil {
		return nil, false, err
	}
	val, ok := props[name]
	return val, ok, nil
}

// SaveProp sets one property. Read-modify-write on the whole map; see
// the package doc for the race caveat.
func (s *Session) SaveProp(ctx context.Context, name string, value any) error {
	props, err := s.Props(ctx)
	if err != nil {
		return err
	}
	props[name] = value
	return s.Save(ctx, propsKey, props)
}

// EvictProp removes one property. Returns false if the property did not
// exist; other properties are untouched.
func (s *Session) EvictProp(ctx context.Context, name string) (bool, error) {
	props, err := s.Props(ctx)
	if err != nil {
		return false, err
	}
	if _, ok := props[name]; !ok {
		return false, nil
	}
	delete(props, name)
	if err := s.Save(ctx, propsKey, props); err != nil {
		return false, err
	}
	return true, nil
}
