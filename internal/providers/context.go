package providers

import "context"

type contextKey string

// RequestIDKey carries the gateway request ID into adapter calls.
const RequestIDKey contextKey = "request_id"

// WithRequestID attaches the request ID to a context.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RequestIDKey, id)
}

// GetRequestID extracts the request ID from context.
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(RequestIDKey).(string); ok {
		return id
	}
	return ""
}
