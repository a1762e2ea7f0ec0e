package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/modelgate/modelgate/internal/registry"
	"github.com/modelgate/modelgate/internal/usage"
)

// HealthSink receives per-model outcomes. Satisfied by *health.Tracker.
type HealthSink interface {
	RecordOutcome(modelID string, success bool, latencyMs float64)
	RecordError(modelID string, latencyMs float64, errMsg string)
}

const (
	// DefaultTimeout bounds a buffered completion end to end.
	DefaultTimeout = 120 * time.Second
	// recordTimeout bounds the usage write, which happens after the request
	// context may already be dead.
	recordTimeout = 5 * time.Second
)

// Dispatcher routes a selected model's request to the adapter for its
// provider, exactly once. Health and usage are recorded for every attempt,
// including failures and cancelled streams.
type Dispatcher struct {
	adapters map[string]Adapter
	health   HealthSink
	recorder usage.Recorder
	timeout  time.Duration
	logger   *slog.Logger
	nowFunc  func() time.Time
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithTimeout sets the per-request deadline for buffered completions.
func WithTimeout(d time.Duration) Option {
	return func(dp *Dispatcher) {
		if d > 0 {
			dp.timeout = d
		}
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(dp *Dispatcher) {
		if l != nil {
			dp.logger = l
		}
	}
}

// WithNowFunc overrides the clock, for tests.
func WithNowFunc(fn func() time.Time) Option {
	return func(dp *Dispatcher) {
		dp.nowFunc = fn
	}
}

// New creates a Dispatcher. health and recorder may be nil in tests.
func New(health HealthSink, recorder usage.Recorder, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		adapters: make(map[string]Adapter),
		health:   health,
		recorder: recorder,
		timeout:  DefaultTimeout,
		logger:   slog.Default(),
		nowFunc:  time.Now,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Register adds an adapter, keyed by its provider ID. Later registrations
// replace earlier ones.
func (d *Dispatcher) Register(a Adapter) {
	d.adapters[a.ID()] = a
}

// Providers lists the registered provider IDs.
func (d *Dispatcher) Providers() []string {
	out := make([]string, 0, len(d.adapters))
	for id := range d.adapters {
		out = append(out, id)
	}
	return out
}

func (d *Dispatcher) adapterFor(m registry.Model) (Adapter, error) {
	a, ok := d.adapters[m.Provider]
	if !ok {
		return nil, &Error{
			ModelID:  m.ID,
			Provider: m.Provider,
			Cause:    fmt.Errorf("no adapter registered for provider"),
		}
	}
	return a, nil
}

// CostUSD prices a usage count against a model's per-1K token rates.
func CostUSD(m registry.Model, u Usage) float64 {
	return float64(u.InputTokens)/1000*m.InputPer1K +
		float64(u.OutputTokens)/1000*m.OutputPer1K
}

// Do performs one buffered completion against the given model. On failure
// the error wraps the model so the fallback layer can exclude it.
func (d *Dispatcher) Do(ctx context.Context, callerID string, m registry.Model, req Request) (Response, error) {
	adapter, err := d.adapterFor(m)
	if err != nil {
		return Response{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	start := d.nowFunc()
	resp, err := adapter.Complete(ctx, m.ID, req)
	latency := d.nowFunc().Sub(start)
	latencyMs := float64(latency.Milliseconds())

	if err != nil {
		if d.health != nil {
			d.health.RecordError(m.ID, latencyMs, err.Error())
		}
		d.record(ctx, callerID, m, Usage{}, latency, false, false)
		d.logger.Warn("completion failed",
			"model", m.ID,
			"provider", m.Provider,
			"latency_ms", latencyMs,
			"error", err,
		)
		return Response{}, &Error{ModelID: m.ID, Provider: m.Provider, Cause: err}
	}

	if d.health != nil {
		d.health.RecordOutcome(m.ID, true, latencyMs)
	}
	d.record(ctx, callerID, m, resp.Usage, latency, true, false)
	return resp, nil
}

// DoStream opens a streaming completion against the given model. Chunks are
// delivered in order on the returned Stream; health and a usage record (final
// or partial, if the context is cancelled mid-stream) are written when the
// stream ends.
func (d *Dispatcher) DoStream(ctx context.Context, callerID string, m registry.Model, req Request) (*Stream, error) {
	adapter, err := d.adapterFor(m)
	if err != nil {
		return nil, err
	}
	sa, ok := adapter.(StreamAdapter)
	if !ok {
		return nil, &Error{
			ModelID:  m.ID,
			Provider: m.Provider,
			Cause:    fmt.Errorf("provider does not support streaming"),
		}
	}

	start := d.nowFunc()
	body, err := sa.OpenStream(ctx, m.ID, req)
	if err != nil {
		latencyMs := float64(d.nowFunc().Sub(start).Milliseconds())
		if d.health != nil {
			d.health.RecordError(m.ID, latencyMs, err.Error())
		}
		d.record(ctx, callerID, m, Usage{}, d.nowFunc().Sub(start), false, false)
		return nil, &Error{ModelID: m.ID, Provider: m.Provider, Cause: err}
	}

	s := &Stream{ch: make(chan Chunk, 16)}

	// Closing the body unblocks the scanner when the caller goes away.
	streamCtx, stopWatch := context.WithCancel(ctx)
	go func() {
		<-streamCtx.Done()
		body.Close()
	}()

	go func() {
		s.pump(body)
		cancelled := ctx.Err() != nil
		stopWatch()

		latency := d.nowFunc().Sub(start)
		latencyMs := float64(latency.Milliseconds())
		streamErr := s.Err()

		if d.health != nil {
			switch {
			case streamErr != nil && !cancelled:
				d.health.RecordError(m.ID, latencyMs, streamErr.Error())
			default:
				d.health.RecordOutcome(m.ID, true, latencyMs)
			}
		}
		d.record(ctx, callerID, m, s.Usage(), latency, streamErr == nil, cancelled)
	}()

	return s, nil
}

// record writes one usage record. It deliberately detaches from the request
// context: accounting must land even when the caller has hung up.
func (d *Dispatcher) record(reqCtx context.Context, callerID string, m registry.Model, u Usage, latency time.Duration, success, cancelled bool) {
	if d.recorder == nil {
		return
	}
	rec := usage.Record{
		Timestamp:    d.nowFunc().UTC(),
		CallerID:     callerID,
		ModelID:      m.ID,
		Provider:     m.Provider,
		InputTokens:  u.InputTokens,
		OutputTokens: u.OutputTokens,
		CostUSD:      CostUSD(m, u),
		LatencyMs:    latency.Milliseconds(),
		Success:      success,
		Cancelled:    cancelled,
		RequestID:    middleware.GetReqID(reqCtx),
	}
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()
	if err := d.recorder.Record(ctx, rec); err != nil {
		d.logger.Error("usage record write failed",
			"model", m.ID,
			"caller", callerID,
			"error", err,
		)
	}
}
