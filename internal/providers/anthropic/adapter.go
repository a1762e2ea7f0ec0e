// Package anthropic implements the provider adapter for the Anthropic
// messages API.
package anthropic

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/modelgate/modelgate/internal/dispatch"
	"github.com/modelgate/modelgate/internal/providers"
)

const (
	defaultBaseURL = "https://api.anthropic.com"
	apiVersion     = "2023-06-01"

	// The messages API requires max_tokens; applied when the caller did not
	// set one.
	defaultMaxTokens = 1024
)

// Adapter implements dispatch.StreamAdapter for Anthropic.
type Adapter struct {
	id      string
	apiKey  string
	baseURL string
	client  *http.Client
}

// New creates a new Anthropic adapter. An empty baseURL uses the public API.
func New(id, apiKey, baseURL string) *Adapter {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Adapter{
		id:      id,
		apiKey:  apiKey,
		baseURL: baseURL,
		client:  &http.Client{Timeout: 5 * time.Minute},
	}
}

func (a *Adapter) ID() string { return a.id }

func (a *Adapter) headers() map[string]string {
	return map[string]string{
		"x-api-key":         a.apiKey,
		"anthropic-version": apiVersion,
	}
}

func (a *Adapter) payload(model string, req dispatch.Request, stream bool) map[string]any {
	// System turns ride in a top-level field, not the messages array.
	var system string
	messages := make([]map[string]string, 0, len(req.Messages))
	for _, msg := range req.Messages {
		if msg.Role == "system" {
			system = msg.Content
			continue
		}
		messages = append(messages, map[string]string{
			"role":    msg.Role,
			"content": msg.Content,
		})
	}

	maxTokens := defaultMaxTokens
	if req.MaxTokens != nil {
		maxTokens = *req.MaxTokens
	}

	p := map[string]any{
		"model":      model,
		"messages":   messages,
		"max_tokens": maxTokens,
	}
	if system != "" {
		p["system"] = system
	}
	if req.Temperature != nil {
		p["temperature"] = *req.Temperature
	}
	if req.TopP != nil {
		p["top_p"] = *req.TopP
	}
	if stream {
		p["stream"] = true
	}
	return p
}

// Complete performs a buffered messages call.
func (a *Adapter) Complete(ctx context.Context, model string, req dispatch.Request) (dispatch.Response, error) {
	body, err := providers.DoRequest(ctx, a.client, a.baseURL+"/v1/messages", a.payload(model, req, false), a.headers())
	if err != nil {
		return dispatch.Response{}, err
	}

	var parsed struct {
		Usage struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
	}
	_ = json.Unmarshal(body, &parsed)

	return dispatch.Response{
		Payload: body,
		Usage: dispatch.Usage{
			InputTokens:  parsed.Usage.InputTokens,
			OutputTokens: parsed.Usage.OutputTokens,
		},
	}, nil
}

// OpenStream opens a streaming messages call and returns the raw SSE body.
func (a *Adapter) OpenStream(ctx context.Context, model string, req dispatch.Request) (io.ReadCloser, error) {
	return providers.DoStreamRequest(ctx, a.client, a.baseURL+"/v1/messages", a.payload(model, req, true), a.headers())
}
