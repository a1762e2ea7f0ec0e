package apikey

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/modelgate/modelgate/internal/store"
)

type contextKey string

const apiKeyContextKey contextKey = "apikey"

// FromContext returns the API key record attached to the request context.
func FromContext(ctx context.Context) *store.APIKeyRecord {
	if v, ok := ctx.Value(apiKeyContextKey).(*store.APIKeyRecord); ok {
		return v
	}
	return nil
}

// ErrorWriter renders an authentication failure. The HTTP layer supplies one
// so rejections share its error envelope.
type ErrorWriter func(w http.ResponseWriter, r *http.Request, status int, msg string)

// AuthMiddleware validates Bearer tokens on incoming requests and attaches
// the matching key record to the request context.
func AuthMiddleware(mgr *Manager, writeErr ErrorWriter) func(http.Handler) http.Handler {
	if writeErr == nil {
		writeErr = func(w http.ResponseWriter, _ *http.Request, status int, msg string) {
			http.Error(w, msg, status)
		}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientIP := r.Header.Get("X-Real-IP")
			if clientIP == "" {
				clientIP = r.RemoteAddr
			}

			auth := r.Header.Get("Authorization")
			if auth == "" {
				slog.Warn("api key auth: missing token", slog.String("ip", clientIP), slog.String("path", r.URL.Path))
				writeErr(w, r, http.StatusUnauthorized, "authorization required")
				return
			}

			if !strings.HasPrefix(auth, "Bearer ") {
				slog.Warn("api key auth: invalid format", slog.String("ip", clientIP), slog.String("path", r.URL.Path))
				writeErr(w, r, http.StatusUnauthorized, "invalid authorization format")
				return
			}
			token := strings.TrimPrefix(auth, "Bearer ")

			if !strings.HasPrefix(token, KeyPrefix) {
				slog.Warn("api key auth: invalid prefix", slog.String("ip", clientIP), slog.String("path", r.URL.Path))
				writeErr(w, r, http.StatusUnauthorized, "invalid api key format")
				return
			}

			rec, err := mgr.Validate(r.Context(), token)
			if err != nil {
				slog.Warn("api key auth: validation failed", slog.String("ip", clientIP), slog.String("path", r.URL.Path), slog.String("error", err.Error()))
				writeErr(w, r, http.StatusUnauthorized, "invalid api key")
				return
			}

			ctx := context.WithValue(r.Context(), apiKeyContextKey, rec)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
