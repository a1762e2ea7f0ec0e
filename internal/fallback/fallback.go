// Package fallback wraps routing and dispatch into a single attempt loop:
// select the best healthy model, try it once, and on a retryable failure
// exclude it and re-select. Each model is tried at most once per request.
package fallback

import (
	"context"
	"errors"
	"log/slog"

	"github.com/modelgate/modelgate/internal/dispatch"
	"github.com/modelgate/modelgate/internal/providers"
	"github.com/modelgate/modelgate/internal/registry"
	"github.com/modelgate/modelgate/internal/router"
)

// DefaultMaxAttempts bounds how many distinct models one request may touch.
const DefaultMaxAttempts = 3

// Selector picks a model for a request. Satisfied by *router.Router.
type Selector interface {
	Select(c router.Criteria) (registry.Model, error)
}

// Orchestrator runs the select-dispatch-exclude loop.
type Orchestrator struct {
	selector    Selector
	dispatcher  *dispatch.Dispatcher
	maxAttempts int
	logger      *slog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithMaxAttempts caps the number of models tried per request.
func WithMaxAttempts(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxAttempts = n
		}
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// New creates an Orchestrator.
func New(selector Selector, dispatcher *dispatch.Dispatcher, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		selector:    selector,
		dispatcher:  dispatcher,
		maxAttempts: DefaultMaxAttempts,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// retryable reports whether a dispatch failure justifies trying another
// model. Rate limits and server-side provider errors do; client errors
// (bad request, auth) would fail identically everywhere.
func retryable(err error) bool {
	var se *providers.StatusError
	if errors.As(err, &se) {
		return se.Retryable()
	}
	// Network-level failures and missing adapters are model-specific.
	return true
}

// Complete routes and dispatches a buffered completion, falling back across
// models until one succeeds or the attempt budget runs out. The model that
// produced the response is returned alongside it.
func (o *Orchestrator) Complete(ctx context.Context, callerID string, c router.Criteria, req dispatch.Request) (dispatch.Response, registry.Model, error) {
	var lastErr error
	for attempt := 0; attempt < o.maxAttempts; attempt++ {
		m, err := o.selector.Select(c)
		if err != nil {
			if lastErr != nil {
				return dispatch.Response{}, registry.Model{}, lastErr
			}
			return dispatch.Response{}, registry.Model{}, err
		}

		resp, err := o.dispatcher.Do(ctx, callerID, m, req)
		if err == nil {
			return resp, m, nil
		}
		lastErr = err

		if ctx.Err() != nil || !retryable(err) {
			return dispatch.Response{}, m, err
		}

		o.logger.Warn("model attempt failed, trying next",
			"model", m.ID,
			"attempt", attempt+1,
			"error", err,
		)
		c.ExcludeModels = append(c.ExcludeModels, m.ID)
		// The preferred model already failed; do not re-pin it.
		c.PreferredModel = ""
	}
	return dispatch.Response{}, registry.Model{}, lastErr
}

// Stream routes and opens a streaming completion. Fallback applies only
// until a stream is open: once the first byte can flow the response is
// committed to that model.
func (o *Orchestrator) Stream(ctx context.Context, callerID string, c router.Criteria, req dispatch.Request) (*dispatch.Stream, registry.Model, error) {
	var lastErr error
	for attempt := 0; attempt < o.maxAttempts; attempt++ {
		m, err := o.selector.Select(c)
		if err != nil {
			if lastErr != nil {
				return nil, registry.Model{}, lastErr
			}
			return nil, registry.Model{}, err
		}

		s, err := o.dispatcher.DoStream(ctx, callerID, m, req)
		if err == nil {
			return s, m, nil
		}
		lastErr = err

		if ctx.Err() != nil || !retryable(err) {
			return nil, m, err
		}

		o.logger.Warn("stream open failed, trying next",
			"model", m.ID,
			"attempt", attempt+1,
			"error", err,
		)
		c.ExcludeModels = append(c.ExcludeModels, m.ID)
		c.PreferredModel = ""
	}
	return nil, registry.Model{}, lastErr
}
