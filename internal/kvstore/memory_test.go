// ABOUTME: Tests for the in-memory TTL store backing unit tests and single-process runs
// ABOUTME: Validates TTL expiry, prefix deletes, and the SetNX/compare-and-delete primitives

package kvstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_SetGet(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "sess", "user-1:lang", []byte(`"en"`), time.Minute))

	val, ok, err := store.Get(ctx, "sess", "user-1:lang")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte(`"en"`), val)
}

func TestMemoryStore_Get_Absent(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()

	val, ok, err := store.Get(context.Background(), "sess", "nope")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, val)
}

func TestMemoryStore_Get_Expired(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "sess", "ephemeral", []byte("x"), 10*time.Millisecond))
	time.Sleep(20 * time.Millisecond)

	_, ok, err := store.Get(ctx, "sess", "ephemeral")
	require.NoError(t, err)
	assert.False(t, ok, "expired key should read as absent")
}

func TestMemoryStore_Set_ZeroTTLNeverExpires(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "sess", "pinned", []byte("x"), 0))
	time.Sleep(15 * time.Millisecond)

	_, ok, err := store.Get(ctx, "sess", "pinned")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryStore_Delete(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "sess", "k", []byte("v"), time.Minute))
	require.NoError(t, store.Delete(ctx, "sess", "k"))

	_, ok, err := store.Get(ctx, "sess", "k")
	require.NoError(t, err)
	assert.False(t, ok)

	// Deleting an absent key is a no-op
	require.NoError(t, store.Delete(ctx, "sess", "k"))
}

func TestMemoryStore_DeletePrefix(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "wce:u1", "a", []byte("1"), time.Minute))
	require.NoError(t, store.Set(ctx, "wce:u1", "b", []byte("2"), time.Minute))
	require.NoError(t, store.Set(ctx, "wce:u2", "a", []byte("3"), time.Minute))

	require.NoError(t, store.DeletePrefix(ctx, "wce:u1:"))

	_, ok, _ := store.Get(ctx, "wce:u1", "a")
	assert.False(t, ok)
	_, ok, _ = store.Get(ctx, "wce:u1", "b")
	assert.False(t, ok)

	// Other namespaces survive
	_, ok, _ = store.Get(ctx, "wce:u2", "a")
	assert.True(t, ok)
}

func TestMemoryStore_SetNX(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()
	ctx := context.Background()

	created, err := store.SetNX(ctx, "lock", "user-1", []byte("owner-a"), time.Minute)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = store.SetNX(ctx, "lock", "user-1", []byte("owner-b"), time.Minute)
	require.NoError(t, err)
	assert.False(t, created, "second SetNX on a live key must fail")

	// Value must still be the first writer's
	val, ok, err := store.Get(ctx, "lock", "user-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("owner-a"), val)
}

func TestMemoryStore_SetNX_AfterExpiry(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()
	ctx := context.Background()

	created, err := store.SetNX(ctx, "lock", "user-1", []byte("owner-a"), 10*time.Millisecond)
	require.NoError(t, err)
	require.True(t, created)

	time.Sleep(20 * time.Millisecond)

	created, err = store.SetNX(ctx, "lock", "user-1", []byte("owner-b"), time.Minute)
	require.NoError(t, err)
	assert.True(t, created, "expired key should be reclaimable")
}

func TestMemoryStore_CompareAndDelete(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "lock", "user-1", []byte("owner-a"), time.Minute))

	deleted, err := store.CompareAndDelete(ctx, "lock", "user-1", []byte("owner-b"))
	require.NoError(t, err)
	assert.False(t, deleted, "wrong owner must not delete")

	deleted, err = store.CompareAndDelete(ctx, "lock", "user-1", []byte("owner-a"))
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = store.CompareAndDelete(ctx, "lock", "user-1", []byte("owner-a"))
	require.NoError(t, err)
	assert.False(t, deleted, "second delete is a no-op")
}

func TestMemoryStore_SetNX_Concurrent(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()
	ctx := context.Background()

	const numGoroutines = 100

	var winners int32
	var mu sync.Mutex
	var wg sync.WaitGroup
	wg.Add(numGoroutines)

	for i := 0; i < numGoroutines; i++ {
		go func() {
			defer wg.Done()
			created, err := store.SetNX(ctx, "lock", "contested", []byte("x"), time.Minute)
			assert.NoError(t, err)
			if created {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}

	wg.Wait()
	assert.Equal(t, int32(1), winners, "exactly one goroutine should win SetNX")
}

func TestMemoryStore_Sweep(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "sess", "a", []byte("1"), 5*time.Millisecond))
	require.NoError(t, store.Set(ctx, "sess", "b", []byte("2"), time.Minute))
	time.Sleep(10 * time.Millisecond)

	store.sweep()

	store.mu.Lock()
	n := len(store.entries)
	store.mu.Unlock()
	assert.Equal(t, 1, n, "sweep should drop only expired entries")
}

func TestMemoryStore_Close(t *testing.T) {
	store := NewMemoryStore()
	store.Close()
	store.Close() // multiple closes must not panic
}
