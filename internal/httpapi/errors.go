package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5/middleware"
)

// Error codes shared by every JSON error response.
const (
	CodeValidation     = "validation_error"
	CodeAuthentication = "authentication_error"
	CodeRateLimited    = "rate_limit_exceeded"
	CodeNoHealthyModel = "no_healthy_model"
	CodeDispatch       = "dispatch_error"
	CodeInternal       = "internal_error"
	CodeNotFound       = "not_found"
)

// errorEnvelope is the uniform error body. Every non-2xx JSON response uses
// this shape so clients can branch on code alone.
type errorEnvelope struct {
	Error        string `json:"error"`
	Code         string `json:"code"`
	RequestID    string `json:"request_id"`
	Timestamp    string `json:"timestamp"`
	RetryAfterMs int64  `json:"retry_after_ms,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, msg string) {
	writeJSON(w, status, errorEnvelope{
		Error:     msg,
		Code:      code,
		RequestID: middleware.GetReqID(r.Context()),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// writeRateLimited renders a 429 with both the Retry-After header and the
// retry_after_ms body hint.
func writeRateLimited(w http.ResponseWriter, r *http.Request, retryAfter time.Duration) {
	if retryAfter < 0 {
		retryAfter = 0
	}
	secs := int64(retryAfter.Round(time.Second).Seconds())
	if secs < 1 {
		secs = 1
	}
	w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
	writeJSON(w, http.StatusTooManyRequests, errorEnvelope{
		Error:        "rate limit exceeded",
		Code:         CodeRateLimited,
		RequestID:    middleware.GetReqID(r.Context()),
		Timestamp:    time.Now().UTC().Format(time.RFC3339),
		RetryAfterMs: retryAfter.Milliseconds(),
	})
}
