package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
)

func testRedisLimiter(t *testing.T, cfg Config) *RedisLimiter {
	t.Helper()
	srv := miniredis.RunT(t)
	cli := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = cli.Close() })
	return NewRedis(cfg, cli)
}

func TestRedisCheckAndConsume_allowsUpToLimit(t *testing.T) {
	l := testRedisLimiter(t, Config{MaxRequests: 5, Window: time.Minute})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		res, err := l.CheckAndConsume(ctx, "caller")
		if err != nil {
			t.Fatalf("CheckAndConsume %d: %v", i, err)
		}
		if !res.Allowed {
			t.Fatalf("request %d rejected, want allowed", i+1)
		}
		if res.Remaining != 5-i-1 {
			t.Errorf("request %d remaining = %d, want %d", i+1, res.Remaining, 5-i-1)
		}
	}

	res, err := l.CheckAndConsume(ctx, "caller")
	if err != nil {
		t.Fatalf("CheckAndConsume: %v", err)
	}
	if res.Allowed {
		t.Fatal("6th request allowed, want rejected")
	}
	if res.RetryAfter <= 0 || res.RetryAfter > time.Minute {
		t.Errorf("RetryAfter = %s, want in (0, window]", res.RetryAfter)
	}
}

func TestRedisCheckAndConsume_rejectedRequestsDoNotConsume(t *testing.T) {
	l := testRedisLimiter(t, Config{MaxRequests: 1, Window: time.Minute})
	ctx := context.Background()

	if res, err := l.CheckAndConsume(ctx, "caller"); err != nil || !res.Allowed {
		t.Fatalf("first request: res=%+v err=%v", res, err)
	}
	for i := 0; i < 3; i++ {
		if res, err := l.CheckAndConsume(ctx, "caller"); err != nil || res.Allowed {
			t.Fatalf("over-quota request %d: res=%+v err=%v", i, res, err)
		}
	}

	// Only the single allowed request should hold a window slot.
	cli := l.client
	n, err := cli.ZCard(ctx, l.key("caller")).Result()
	if err != nil {
		t.Fatalf("ZCard: %v", err)
	}
	if n != 1 {
		t.Errorf("window entries = %d, want 1", n)
	}
}

func TestRedisCheckAndConsume_isolatesCallers(t *testing.T) {
	l := testRedisLimiter(t, Config{MaxRequests: 1, Window: time.Minute})
	ctx := context.Background()

	if res, _ := l.CheckAndConsume(ctx, "alice"); !res.Allowed {
		t.Fatal("alice's first request rejected")
	}
	if res, _ := l.CheckAndConsume(ctx, "alice"); res.Allowed {
		t.Fatal("alice's second request allowed past limit 1")
	}
	if res, _ := l.CheckAndConsume(ctx, "bob"); !res.Allowed {
		t.Error("bob's quota affected by alice's requests")
	}
}

func TestRedisCheckAndConsume_concurrentRequestsRespectLimit(t *testing.T) {
	l := testRedisLimiter(t, Config{MaxRequests: 1, Window: time.Minute})
	ctx := context.Background()

	var allowed int64
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := l.CheckAndConsume(ctx, "caller")
			if err != nil {
				t.Errorf("CheckAndConsume: %v", err)
				return
			}
			if res.Allowed {
				atomic.AddInt64(&allowed, 1)
			}
		}()
	}
	wg.Wait()

	if allowed != 1 {
		t.Errorf("allowed = %d concurrent requests with limit 1, want 1", allowed)
	}
}
