package middleware

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisCounterStore shares fixed windows across processes so every node
// behind the proxy enforces one budget.
type RedisCounterStore struct {
	client *redis.Client
}

// NewRedisCounterStore wraps an existing client.
func NewRedisCounterStore(client *redis.Client) *RedisCounterStore {
	return &RedisCounterStore{client: client}
}

// Incr implements CounterStore with an INCR+EXPIRE pipeline. EXPIRE NX
// only stamps a fresh key, so the window is anchored at its first hit.
func (s *RedisCounterStore) Incr(ctx context.Context, key string, window time.Duration) (int64, error) {
	pipe := s.client.Pipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("redis counter: %w", err)
	}
	return incr.Val(), nil
}

// Reset clears the counter for a key, for tests and admin use.
func (s *RedisCounterStore) Reset(ctx context.Context, key string) error {
	return s.client.Del(ctx, key).Err()
}

// Ping verifies connectivity for health checks.
func (s *RedisCounterStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
