package ratelimit

import (
	"context"
	"crypto/rand"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisLimiter implements the sliding window with a Redis sorted set per
// caller: members are request IDs scored by timestamp, trimmed on every
// check. Trim, add, and count run in a single MULTI pipeline so concurrent
// requests serialize against each other and concurrent gateway instances
// share one quota.
type RedisLimiter struct {
	cfg     Config
	client  *redis.Client
	timeout time.Duration
}

// NewRedis creates a Redis-backed limiter. Operations use a short timeout;
// on any backend error CheckAndConsume returns the error and the caller must
// reject the request (fail closed).
func NewRedis(cfg Config, client *redis.Client) *RedisLimiter {
	return &RedisLimiter{
		cfg:     cfg,
		client:  client,
		timeout: 2 * time.Second,
	}
}

func (l *RedisLimiter) key(callerID string) string {
	return "ratelimit:" + callerID
}

// CheckAndConsume trims expired entries, records the request, and counts the
// window atomically. The entry is added unconditionally and removed again
// when the count lands over quota, so two racing requests can never both
// read a pre-consume count and both pass the limit.
func (l *RedisLimiter) CheckAndConsume(ctx context.Context, callerID string) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	now := time.Now()
	cutoff := now.Add(-l.cfg.Window)
	key := l.key(callerID)
	member := memberID(now)

	pipe := l.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", fmt.Sprintf("%d", cutoff.UnixNano()))
	pipe.ZAdd(ctx, key, &redis.Z{Score: float64(now.UnixNano()), Member: member})
	countCmd := pipe.ZCard(ctx, key)
	pipe.Expire(ctx, key, l.cfg.Window)
	if _, err := pipe.Exec(ctx); err != nil {
		return Result{}, fmt.Errorf("rate limit window update: %w", err)
	}

	count := int(countCmd.Val())
	if count <= l.cfg.MaxRequests {
		return Result{Allowed: true, Remaining: l.cfg.MaxRequests - count}, nil
	}

	// Over quota: withdraw this request's entry so rejected requests do not
	// consume window space, then derive the retry hint from the oldest
	// surviving entry.
	undo := l.client.TxPipeline()
	undo.ZRem(ctx, key, member)
	oldestCmd := undo.ZRangeWithScores(ctx, key, 0, 0)
	if _, err := undo.Exec(ctx); err != nil {
		return Result{}, fmt.Errorf("rate limit window trim: %w", err)
	}

	retry := l.cfg.Window
	if oldest := oldestCmd.Val(); len(oldest) > 0 {
		oldestAt := time.Unix(0, int64(oldest[0].Score))
		if r := oldestAt.Add(l.cfg.Window).Sub(now); r < retry {
			retry = r
		}
		if retry < 0 {
			retry = 0
		}
	}
	return Result{Allowed: false, Remaining: 0, RetryAfter: retry}, nil
}

// memberID builds a unique sorted-set member so requests landing in the same
// nanosecond still count individually.
func memberID(now time.Time) string {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return fmt.Sprintf("%d-%x", now.UnixNano(), b)
}
