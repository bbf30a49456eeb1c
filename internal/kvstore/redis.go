// ABOUTME: Redis implementation of the Store interface using go-redis v9
// ABOUTME: Provides atomic SetNX/compare-and-delete primitives for the user lock

package kvstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// releaseScript deletes a key only when it still holds the caller's
// value. Single round trip, atomic on the server.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisStore implements Store on a shared Redis instance.
type RedisStore struct {
	client *redis.Client
	logger *slog.Logger
}

// NewRedisStore creates a RedisStore and verifies connectivity with a ping.
func NewRedisStore(ctx context.Context, client *redis.Client, logger *slog.Logger) (*RedisStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return &RedisStore{
		client: client,
		logger: logger.With("component", "kvstore"),
	}, nil
}

// Set stores the value under namespace:key with the given TTL.
func (s *RedisStore) Set(ctx context.Context, namespace, key string, value []byte, ttl time.Duration) error {
	if err := s.client.Set(ctx, FullKey(namespace, key), value, ttl).Err(); err != nil {
		return fmt.Errorf("%w: set %s: %v", ErrUnavailable, FullKey(namespace, key), err)
	}
	return nil
}

// Get retrieves the value under namespace:key. A missing or expired key
// is (nil, false, nil).
func (s *RedisStore) Get(ctx context.Context, namespace, key string) ([]byte, bool, error) {
	data, err := s.client.Get(ctx, FullKey(namespace, key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("%w: get %s: %v", ErrUnavailable, FullKey(namespace, key), err)
	}
	return data, true, nil
}

// Delete removes namespace:key. Deleting an absent key is not an error.
func (s *RedisStore) Delete(ctx context.Context, namespace, key string) error {
	if err := s.client.Del(ctx, FullKey(namespace, key)).Err(); err != nil {
		return fmt.Errorf("%w: del %s: %v", ErrUnavailable, FullKey(namespace, key), err)
	}
	return nil
}

// DeletePrefix removes every key starting with prefix using SCAN so the
// server is never blocked by a KEYS sweep.
func (s *RedisStore) DeletePrefix(ctx context.Context, prefix string) error {
	iter := s.client.Scan(ctx, 0, prefix+"*", 200).Iterator()

	batch := make([]string, 0, 200)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := s.client.Del(ctx, batch...).Err(); err != nil {
			return fmt.Errorf("%w: del batch: %v", ErrUnavailable, err)
		}
		batch = batch[:0]
		return nil
	}

	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == cap(batch) {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("%w: scan %s*: %v", ErrUnavailable, prefix, err)
	}
	return flush()
}

// SetNX sets namespace:key only if absent. Returns true when this call
// created the key.
func (s *RedisStore) SetNX(ctx context.Context, namespace, key string, value []byte, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, FullKey(namespace, key), value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("%w: setnx %s: %v", ErrUnavailable, FullKey(namespace, key), err)
	}
	return ok, nil
}

// CompareAndDelete deletes namespace:key only if it still holds value.
func (s *RedisStore) CompareAndDelete(ctx context.Context, namespace, key string, value []byte) (bool, error) {
	n, err := releaseScript.Run(ctx, s.client, []string{FullKey(namespace, key)}, value).Int()
	if err != nil {
		return false, fmt.Errorf("%w: compare-and-delete %s: %v", ErrUnavailable, FullKey(namespace, key), err)
	}
	return n == 1, nil
}
