package providers

import (
	"fmt"
	"net/http"
	"strconv"
)

// StatusError captures a non-2xx HTTP response from a provider. Adapters
// surface it unchanged so callers can inspect the status code and any
// Retry-After hint.
type StatusError struct {
	StatusCode     int
	Body           string
	RetryAfterSecs int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("provider error (status %d): %s", e.StatusCode, e.Body)
}

// ParseRetryAfter records a Retry-After header value, when it is a plain
// seconds count. Invalid or empty values are ignored.
func (e *StatusError) ParseRetryAfter(header string) {
	if header == "" {
		return
	}
	if secs, err := strconv.Atoi(header); err == nil && secs > 0 {
		e.RetryAfterSecs = secs
	}
}

// Retryable reports whether the failure is worth sending to another model:
// rate limits and server-side errors are, client errors are not.
func (e *StatusError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}
