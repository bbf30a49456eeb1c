// Package userlock serializes message processing per user with a leased
// mutual-exclusion record in the shared store.
//
// At most one holder exists per user at any instant, across all worker
// processes. A lease auto-expires so a crashed holder cannot wedge the
// user's stream, and an acquirer that cannot get the lock within its
// wait window gets ErrLockTimeout - the caller drops the message rather
// than queueing it.
package userlock
