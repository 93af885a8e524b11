package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultLockPrefix = "lock:mechanic:"

// RedisLocker implements Locker with SET NX EX semantics so the lock holds
// across service instances. Every acquisition carries a TTL to avoid stale
// locks left by a crashed holder.
type RedisLocker struct {
	client    redis.Cmdable
	keyPrefix string
}

// NewRedisLocker constructs the locker. An empty prefix falls back to the
// default mechanic prefix.
func NewRedisLocker(client redis.Cmdable, prefix string) *RedisLocker {
	if prefix == "" {
		prefix = defaultLockPrefix
	}
	return &RedisLocker{client: client, keyPrefix: prefix}
}

// Acquire attempts SET NX EX on the prefixed key.
func (r *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	ok, err := r.client.SetNX(ctx, r.keyPrefix+key, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx: %w", err)
	}
	return ok, nil
}

// Release deletes the prefixed key.
func (r *RedisLocker) Release(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}
