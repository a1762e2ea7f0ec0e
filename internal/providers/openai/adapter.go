// Package openai implements the provider adapter for the OpenAI chat
// completions API.
package openai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/modelgate/modelgate/internal/dispatch"
	"github.com/modelgate/modelgate/internal/providers"
)

const defaultBaseURL = "https://api.openai.com"

// Adapter implements dispatch.StreamAdapter for OpenAI.
type Adapter struct {
	id      string
	apiKey  string
	baseURL string
	client  *http.Client
}

// New creates a new OpenAI adapter. An empty baseURL uses the public API.
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
	return map[string]string{"Authorization": "Bearer " + a.apiKey}
}

func (a *Adapter) payload(model string, req dispatch.Request, stream bool) map[string]any {
	messages := make([]map[string]string, len(req.Messages))
	for i, msg := range req.Messages {
		messages[i] = map[string]string{
			"role":    msg.Role,
			"content": msg.Content,
		}
	}

	p := map[string]any{
		"model":    model,
		"messages": messages,
	}
	if req.Temperature != nil {
		p["temperature"] = *req.Temperature
	}
	if req.MaxTokens != nil {
		p["max_tokens"] = *req.MaxTokens
	}
	if req.TopP != nil {
		p["top_p"] = *req.TopP
	}
	if stream {
		p["stream"] = true
		p["stream_options"] = map[string]any{"include_usage": true}
	}
	return p
}

// Complete performs a buffered chat completion.
func (a *Adapter) Complete(ctx context.Context, model string, req dispatch.Request) (dispatch.Response, error) {
	body, err := providers.DoRequest(ctx, a.client, a.baseURL+"/v1/chat/completions", a.payload(model, req, false), a.headers())
	if err != nil {
		return dispatch.Response{}, err
	}

	var parsed struct {
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
		} `json:"usage"`
	}
	// Usage is best-effort; the payload passes through regardless.
	_ = json.Unmarshal(body, &parsed)

	return dispatch.Response{
		Payload: body,
		Usage: dispatch.Usage{
			InputTokens:  parsed.Usage.PromptTokens,
			OutputTokens: parsed.Usage.CompletionTokens,
		},
	}, nil
}

// OpenStream opens a streaming chat completion and returns the raw SSE body.
func (a *Adapter) OpenStream(ctx context.Context, model string, req dispatch.Request) (io.ReadCloser, error) {
	return providers.DoStreamRequest(ctx, a.client, a.baseURL+"/v1/chat/completions", a.payload(model, req, true), a.headers())
}
