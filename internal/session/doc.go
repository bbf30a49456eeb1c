// Package session layers per-user, global, and user-properties namespaces
// on top of the TTL key-value store.
//
// Key scheme:
//
//	wce:session:user:<user_id>:<key>  per-user entries (short TTL, default 10m)
//	wce:session:global:<key>          shared entries (longer TTL, default 30m)
//
// The subtree is disjoint from the lock lease and job claim namespaces,
// so an administrative session wipe cannot touch either.
//
// User properties live under the single session key "props" as a nested
// map. Property read-modify-write is NOT atomic across writers; the
// per-user webhook lock serializes the webhook-driven writers, but
// administrative writers outside that stream can still race.
package session
