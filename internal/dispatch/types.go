// Package dispatch executes completion requests against provider adapters,
// records the outcome with the health tracker, and emits one usage record per
// finished request. It never retries; failover is the fallback layer's job.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
)

// Message is a single chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is the provider-agnostic completion request. Sampling parameters
// are pointers so "absent" and "zero" stay distinguishable all the way to the
// wire.
type Request struct {
	Messages    []Message `json:"messages"`
	Temperature *float64  `json:"temperature,omitempty"`
	MaxTokens   *int      `json:"max_tokens,omitempty"`
	TopP        *float64  `json:"top_p,omitempty"`
	Stream      bool      `json:"stream,omitempty"`
}

// Validate checks structural requirements shared by all providers.
func (r Request) Validate() error {
	if len(r.Messages) == 0 {
		return fmt.Errorf("messages must not be empty")
	}
	for i, m := range r.Messages {
		if m.Role == "" {
			return fmt.Errorf("messages[%d]: role is required", i)
		}
		if m.Content == "" {
			return fmt.Errorf("messages[%d]: content is required", i)
		}
	}
	if r.Temperature != nil && (*r.Temperature < 0 || *r.Temperature > 2) {
		return fmt.Errorf("temperature must be between 0 and 2")
	}
	if r.MaxTokens != nil && *r.MaxTokens <= 0 {
		return fmt.Errorf("max_tokens must be positive")
	}
	if r.TopP != nil && (*r.TopP <= 0 || *r.TopP > 1) {
		return fmt.Errorf("top_p must be between 0 and 1")
	}
	return nil
}

// Usage is the token accounting reported by a provider.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Response is a buffered completion result. Payload is the provider's
// response body, passed through untouched so callers see the provider's
// native shape.
type Response struct {
	Payload json.RawMessage `json:"payload"`
	Usage   Usage           `json:"usage"`
}

// Chunk is one server-sent event from a streaming completion. Data is the
// raw event payload (the bytes after "data:").
type Chunk struct {
	Data []byte
}

// Adapter translates the gateway request into one provider's wire format and
// back. Implementations live under internal/providers.
type Adapter interface {
	// ID returns the provider name this adapter serves, matching
	// registry.Model.Provider.
	ID() string
	// Complete performs a buffered completion for the given provider model.
	Complete(ctx context.Context, model string, req Request) (Response, error)
}

// StreamAdapter is implemented by adapters that support server-sent event
// streaming. OpenStream returns the raw SSE body; the dispatcher owns
// parsing and accounting.
type StreamAdapter interface {
	Adapter
	OpenStream(ctx context.Context, model string, req Request) (io.ReadCloser, error)
}

// Error wraps a provider failure with the model it occurred on, so the
// fallback layer knows which model to exclude on the next attempt.
type Error struct {
	ModelID  string
	Provider string
	Cause    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("dispatch %s via %s: %v", e.ModelID, e.Provider, e.Cause)
}

func (e *Error) Unwrap() error {
	return e.Cause
}
