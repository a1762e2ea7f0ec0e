package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/modelgate/modelgate/internal/circuitbreaker"
)

// RedisStore caches responses in Redis with native TTL expiry. A circuit
// breaker stops hammering an unreachable Redis: while the breaker is open
// every operation reports a miss immediately.
type RedisStore struct {
	client  *redis.Client
	breaker *circuitbreaker.Breaker
	timeout time.Duration
}

// NewRedis creates a Redis-backed cache store.
func NewRedis(client *redis.Client, breaker *circuitbreaker.Breaker) *RedisStore {
	if breaker == nil {
		breaker = circuitbreaker.New()
	}
	return &RedisStore{
		client:  client,
		breaker: breaker,
		timeout: 2 * time.Second,
	}
}

func (s *RedisStore) key(k string) string {
	return "cache:" + k
}

// Get returns the cached value, ErrMiss when absent or when the backend is
// unavailable (fail open).
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	if !s.breaker.Allow() {
		return nil, ErrMiss
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	val, err := s.client.Get(ctx, s.key(key)).Bytes()
	if err == redis.Nil {
		s.breaker.RecordSuccess()
		return nil, ErrMiss
	}
	if err != nil {
		s.breaker.RecordFailure()
		return nil, fmt.Errorf("%w: %v", ErrMiss, err)
	}
	s.breaker.RecordSuccess()
	return val, nil
}

// Put stores a value with the given TTL. Errors are reported to the breaker
// and returned; callers log and continue (a failed write is not fatal).
func (s *RedisStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if !s.breaker.Allow() {
		return nil
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.client.Set(ctx, s.key(key), value, ttl).Err(); err != nil {
		s.breaker.RecordFailure()
		return fmt.Errorf("cache put: %w", err)
	}
	s.breaker.RecordSuccess()
	return nil
}
