package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryLimiter keeps a sliding window of request timestamps per caller.
// Windows are created lazily on a caller's first request and evicted once
// idle for a full window.
type MemoryLimiter struct {
	cfg     Config
	maxKeys int
	nowFunc func() time.Time
	stop    chan struct{}

	mu      sync.Mutex
	windows map[string]*window
}

type window struct {
	stamps []time.Time
}

// MemoryOption configures a MemoryLimiter.
type MemoryOption func(*MemoryLimiter)

// WithNowFunc overrides the clock, for tests.
func WithNowFunc(fn func() time.Time) MemoryOption {
	return func(l *MemoryLimiter) {
		l.nowFunc = fn
	}
}

// WithMaxKeys caps the number of tracked callers before the oldest window is
// evicted. The default is 100k.
func WithMaxKeys(n int) MemoryOption {
	return func(l *MemoryLimiter) {
		if n > 0 {
			l.maxKeys = n
		}
	}
}

// NewMemory creates an in-process sliding-window limiter.
func NewMemory(cfg Config, opts ...MemoryOption) *MemoryLimiter {
	l := &MemoryLimiter{
		cfg:     cfg,
		maxKeys: 100000,
		nowFunc: time.Now,
		stop:    make(chan struct{}),
		windows: make(map[string]*window),
	}
	for _, o := range opts {
		o(l)
	}
	go l.cleanup()
	return l
}

// CheckAndConsume records the request if the caller is under quota. Rejection
// includes the time until the oldest in-window request ages out.
func (l *MemoryLimiter) CheckAndConsume(_ context.Context, callerID string) (Result, error) {
	now := l.nowFunc()
	cutoff := now.Add(-l.cfg.Window)

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[callerID]
	if !ok {
		if len(l.windows) >= l.maxKeys {
			l.evictOldest()
		}
		w = &window{}
		l.windows[callerID] = w
	}

	// Drop timestamps that slid out of the window.
	i := 0
	for i < len(w.stamps) && !w.stamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.stamps = w.stamps[i:]
	}

	if len(w.stamps) >= l.cfg.MaxRequests {
		retry := w.stamps[0].Add(l.cfg.Window).Sub(now)
		if retry < 0 {
			retry = 0
		}
		return Result{Allowed: false, Remaining: 0, RetryAfter: retry}, nil
	}

	w.stamps = append(w.stamps, now)
	return Result{Allowed: true, Remaining: l.cfg.MaxRequests - len(w.stamps)}, nil
}

// Stop terminates the background cleanup goroutine.
func (l *MemoryLimiter) Stop() {
	close(l.stop)
}

// evictOldest removes the window whose newest timestamp is oldest.
// Must be called with l.mu held.
func (l *MemoryLimiter) evictOldest() {
	var oldestKey string
	var oldestTime time.Time
	first := true
	for k, w := range l.windows {
		var newest time.Time
		if len(w.stamps) > 0 {
			newest = w.stamps[len(w.stamps)-1]
		}
		if first || newest.Before(oldestTime) {
			oldestKey = k
			oldestTime = newest
			first = false
		}
	}
	if !first {
		delete(l.windows, oldestKey)
	}
}

func (l *MemoryLimiter) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			cutoff := l.nowFunc().Add(-l.cfg.Window)
			l.mu.Lock()
			for k, w := range l.windows {
				if len(w.stamps) == 0 || !w.stamps[len(w.stamps)-1].After(cutoff) {
					delete(l.windows, k)
				}
			}
			l.mu.Unlock()
		case <-l.stop:
			return
		}
	}
}
