package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/modelgate/modelgate/internal/apikey"
	"github.com/modelgate/modelgate/internal/cache"
	"github.com/modelgate/modelgate/internal/dispatch"
	"github.com/modelgate/modelgate/internal/events"
	"github.com/modelgate/modelgate/internal/providers"
	"github.com/modelgate/modelgate/internal/registry"
	"github.com/modelgate/modelgate/internal/router"
)

// chatRequest is the caller-facing completion request.
type chatRequest struct {
	Model              string             `json:"model,omitempty"`
	TaskHint           string             `json:"task_hint,omitempty"`
	Messages           []dispatch.Message `json:"messages"`
	Temperature        *float64           `json:"temperature,omitempty"`
	MaxTokens          *int               `json:"max_tokens,omitempty"`
	TopP               *float64           `json:"top_p,omitempty"`
	Stream             bool               `json:"stream,omitempty"`
	Cache              bool               `json:"cache,omitempty"`
	MaxCostPer1K       float64            `json:"max_cost_per_1k,omitempty"`
	PreferredProviders []string           `json:"preferred_providers,omitempty"`
}

func (cr chatRequest) dispatchRequest() dispatch.Request {
	return dispatch.Request{
		Messages:    cr.Messages,
		Temperature: cr.Temperature,
		MaxTokens:   cr.MaxTokens,
		TopP:        cr.TopP,
		Stream:      cr.Stream,
	}
}

func (cr chatRequest) criteria() router.Criteria {
	return router.Criteria{
		PreferredModel:     cr.Model,
		TaskHint:           cr.TaskHint,
		MaxCostPer1K:       cr.MaxCostPer1K,
		PreferredProviders: cr.PreferredProviders,
	}
}

// chatResponse is the buffered completion response envelope.
type chatResponse struct {
	Model     string          `json:"model"`
	Provider  string          `json:"provider"`
	Payload   json.RawMessage `json:"payload"`
	Usage     dispatch.Usage  `json:"usage"`
	CostUSD   float64         `json:"cost_usd"`
	Cached    bool            `json:"cached"`
	RequestID string          `json:"request_id"`
}

// cachedEntry is the serialized form stored in the response cache.
type cachedEntry struct {
	Model    string          `json:"model"`
	Provider string          `json:"provider"`
	Payload  json.RawMessage `json:"payload"`
	Usage    dispatch.Usage  `json:"usage"`
	CostUSD  float64         `json:"cost_usd"`
}

func callerID(r *http.Request) string {
	if rec := apikey.FromContext(r.Context()); rec != nil {
		return rec.ID
	}
	return "anonymous"
}

// checkRateLimit applies the per-caller limit and writes the rejection when
// the caller is over quota. A limiter backend failure also rejects: quota
// enforcement fails closed.
func checkRateLimit(d Dependencies, w http.ResponseWriter, r *http.Request, caller string) bool {
	if d.Limiter == nil {
		return true
	}
	res, err := d.Limiter.CheckAndConsume(r.Context(), caller)
	if err != nil {
		d.Logger.Error("rate limiter backend failed", "caller", caller, "error", err)
		writeError(w, r, http.StatusServiceUnavailable, CodeInternal, "rate limiter unavailable")
		return false
	}
	if !res.Allowed {
		if d.Metrics != nil {
			d.Metrics.RateLimited.WithLabelValues(caller).Inc()
		}
		if d.EventBus != nil {
			d.EventBus.Publish(events.Event{
				Type:      events.EventRateLimited,
				CallerID:  caller,
				RequestID: middleware.GetReqID(r.Context()),
			})
		}
		writeRateLimited(w, r, res.RetryAfter)
		return false
	}
	return true
}

// ChatCompletionsHandler serves POST /v1/chat/completions, buffered or
// streaming.
func ChatCompletionsHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, r, http.StatusBadRequest, CodeValidation, "invalid JSON body: "+err.Error())
			return
		}
		dreq := req.dispatchRequest()
		if err := dreq.Validate(); err != nil {
			writeError(w, r, http.StatusBadRequest, CodeValidation, err.Error())
			return
		}

		caller := callerID(r)
		if !checkRateLimit(d, w, r, caller) {
			return
		}

		ctx := providers.WithRequestID(r.Context(), middleware.GetReqID(r.Context()))
		r = r.WithContext(ctx)

		if req.Stream {
			serveStream(d, w, r, caller, req, dreq)
			return
		}
		serveBuffered(d, w, r, caller, req, dreq)
	}
}

func serveBuffered(d Dependencies, w http.ResponseWriter, r *http.Request, caller string, req chatRequest, dreq dispatch.Request) {
	reqID := middleware.GetReqID(r.Context())
	cacheable := d.Cache != nil && cache.Eligible(dreq, req.Cache)

	// Cache lookup keys on the model the selection resolves to right now;
	// a hit skips routing and dispatch entirely. A miss that falls back
	// stores under the model that actually served, so identical requests
	// can key differently until the preferred model's health recovers.
	if cacheable {
		if m, err := d.Router.Select(req.criteria()); err == nil {
			key := cache.Key(m.ID, dreq, caller)
			if raw, err := d.Cache.Get(r.Context(), key); err == nil {
				var entry cachedEntry
				if json.Unmarshal(raw, &entry) == nil {
					w.Header().Set("X-Cache", "hit")
					writeJSON(w, http.StatusOK, chatResponse{
						Model:     entry.Model,
						Provider:  entry.Provider,
						Payload:   entry.Payload,
						Usage:     entry.Usage,
						CostUSD:   entry.CostUSD,
						Cached:    true,
						RequestID: reqID,
					})
					observe(d, outcome{
						ModelID:   entry.Model,
						Provider:  entry.Provider,
						CallerID:  caller,
						RequestID: reqID,
						Success:   true,
						CacheHit:  true,
					})
					return
				}
			} else if d.Metrics != nil && errors.Is(err, cache.ErrMiss) {
				d.Metrics.CacheOps.WithLabelValues("miss").Inc()
			}
		}
	}

	start := time.Now()
	resp, m, err := d.Orchestrator.Complete(r.Context(), caller, req.criteria(), dreq)
	latencyMs := float64(time.Since(start).Milliseconds())
	if err != nil {
		writeDispatchError(d, w, r, caller, m, latencyMs, err)
		return
	}

	cost := dispatch.CostUSD(m, resp.Usage)

	if cacheable {
		entry, _ := json.Marshal(cachedEntry{
			Model:    m.ID,
			Provider: m.Provider,
			Payload:  resp.Payload,
			Usage:    resp.Usage,
			CostUSD:  cost,
		})
		key := cache.Key(m.ID, dreq, caller)
		if err := d.Cache.Put(r.Context(), key, entry, d.CacheTTL); err != nil {
			d.Logger.Warn("cache write failed", "model", m.ID, "error", err)
		} else if d.Metrics != nil {
			d.Metrics.CacheOps.WithLabelValues("store").Inc()
		}
	}

	w.Header().Set("X-Cache", "miss")
	writeJSON(w, http.StatusOK, chatResponse{
		Model:     m.ID,
		Provider:  m.Provider,
		Payload:   resp.Payload,
		Usage:     resp.Usage,
		CostUSD:   cost,
		Cached:    false,
		RequestID: reqID,
	})
	observe(d, outcome{
		ModelID:   m.ID,
		Provider:  m.Provider,
		CallerID:  caller,
		RequestID: reqID,
		LatencyMs: latencyMs,
		Usage:     resp.Usage,
		CostUSD:   cost,
		Success:   true,
	})
}

func serveStream(d Dependencies, w http.ResponseWriter, r *http.Request, caller string, req chatRequest, dreq dispatch.Request) {
	reqID := middleware.GetReqID(r.Context())

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, http.StatusInternalServerError, CodeInternal, "streaming unsupported by connection")
		return
	}

	start := time.Now()
	stream, m, err := d.Orchestrator.Stream(r.Context(), caller, req.criteria(), dreq)
	if err != nil {
		writeDispatchError(d, w, r, caller, m, float64(time.Since(start).Milliseconds()), err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Model", m.ID)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for chunk := range stream.Chunks() {
		fmt.Fprintf(w, "data: %s\n\n", chunk.Data)
		flusher.Flush()
	}

	// Headers are gone by now, so mid-stream failures travel as an SSE
	// error event before the terminator.
	streamErr := stream.Err()
	if streamErr != nil && r.Context().Err() == nil {
		ev, _ := json.Marshal(map[string]any{
			"error": map[string]any{
				"message":    "upstream stream failed",
				"code":       CodeDispatch,
				"request_id": reqID,
			},
		})
		fmt.Fprintf(w, "data: %s\n\n", ev)
	}
	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()

	u := stream.Usage()
	observe(d, outcome{
		ModelID:   m.ID,
		Provider:  m.Provider,
		CallerID:  caller,
		RequestID: reqID,
		LatencyMs: float64(time.Since(start).Milliseconds()),
		Usage:     u,
		CostUSD:   dispatch.CostUSD(m, u),
		Success:   streamErr == nil,
		ErrorMsg:  errMsg(streamErr),
	})
}

// writeDispatchError maps routing and dispatch failures onto the error
// envelope and records the outcome.
func writeDispatchError(d Dependencies, w http.ResponseWriter, r *http.Request, caller string, m registry.Model, latencyMs float64, err error) {
	reqID := middleware.GetReqID(r.Context())

	var code string
	var status int
	switch {
	case errors.Is(err, router.ErrNoHealthyModel):
		code, status = CodeNoHealthyModel, http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		code, status = CodeDispatch, http.StatusGatewayTimeout
	default:
		code, status = CodeDispatch, http.StatusBadGateway
	}
	writeError(w, r, status, code, err.Error())

	observe(d, outcome{
		ModelID:   m.ID,
		Provider:  m.Provider,
		CallerID:  caller,
		RequestID: reqID,
		LatencyMs: latencyMs,
		Success:   false,
		ErrorCode: code,
		ErrorMsg:  err.Error(),
	})
}

func errMsg(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
