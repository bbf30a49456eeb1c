// Package kvstore provides the TTL key-value store shared by the session,
// lock, and dispatch layers, with Redis and in-memory implementations.
package kvstore
