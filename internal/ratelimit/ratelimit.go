// Package ratelimit enforces a per-caller sliding-window request quota.
// Check-and-consume is a single atomic operation per caller so concurrent
// requests cannot race past the limit.
package ratelimit

import (
	"context"
	"time"
)

// Result is the outcome of a CheckAndConsume call.
type Result struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration // zero when Allowed
}

// Limiter is the rate-limiting contract. Implementations must be safe for
// concurrent use. A backend error fails closed: callers treat it as a
// rejection so an outage cannot become a quota bypass.
type Limiter interface {
	CheckAndConsume(ctx context.Context, callerID string) (Result, error)
}

// Config holds the window parameters shared by all backends.
type Config struct {
	MaxRequests int           // requests allowed per window
	Window      time.Duration // sliding window duration
}

// DefaultConfig returns the default quota: 100 requests per 15 minutes.
func DefaultConfig() Config {
	return Config{
		MaxRequests: 100,
		Window:      15 * time.Minute,
	}
}
