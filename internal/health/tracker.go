package health

import (
	"sync"
	"time"

	"github.com/modelgate/modelgate/internal/events"
)

// Stats captures the rolling health view for a single model.
type Stats struct {
	ModelID       string    `json:"model_id"`
	Healthy       bool      `json:"healthy"`
	Successes     int       `json:"successes"`
	Failures      int       `json:"failures"`
	FailureRate   float64   `json:"failure_rate"`
	AvgLatencyMs  float64   `json:"avg_latency_ms"`
	LastOutcomeAt time.Time `json:"last_outcome_at,omitempty"`
	LastError     string    `json:"last_error,omitempty"`
}

// TrackerConfig configures the health thresholds.
type TrackerConfig struct {
	// WindowSize: how many recent outcomes to keep per model.
	WindowSize int
	// FailureThreshold: failure rate above which a model is unhealthy.
	FailureThreshold float64
	// RecencyWindow: outcomes older than this no longer count against a
	// model; stale stats revert to the optimistic default.
	RecencyWindow time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() TrackerConfig {
	return TrackerConfig{
		WindowSize:       50,
		FailureThreshold: 0.5,
		RecencyWindow:    5 * time.Minute,
	}
}

type outcome struct {
	success bool
	at      time.Time
}

type record struct {
	window    []outcome // ring buffer of the last WindowSize outcomes
	next      int
	avgMs     float64
	observed  bool
	lastAt    time.Time
	lastError string
}

// Tracker keeps rolling success/failure statistics per model. A model with no
// observations, or only stale ones, is considered healthy: the optimistic
// default keeps cold-start models routable and prevents a transient blip from
// blacklisting a model permanently.
type Tracker struct {
	cfg      TrackerConfig
	eventBus *events.Bus
	nowFunc  func() time.Time

	mu      sync.RWMutex
	records map[string]*record
}

// TrackerOption configures optional Tracker behaviour.
type TrackerOption func(*Tracker)

// WithEventBus attaches an event bus so that health transitions are published
// as EventHealthChange events.
func WithEventBus(bus *events.Bus) TrackerOption {
	return func(t *Tracker) {
		t.eventBus = bus
	}
}

// WithNowFunc overrides the clock, for tests.
func WithNowFunc(fn func() time.Time) TrackerOption {
	return func(t *Tracker) {
		t.nowFunc = fn
	}
}

// NewTracker creates a health tracker with the given config.
func NewTracker(cfg TrackerConfig, opts ...TrackerOption) *Tracker {
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = 50
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 0.5
	}
	if cfg.RecencyWindow <= 0 {
		cfg.RecencyWindow = 5 * time.Minute
	}
	t := &Tracker{
		cfg:     cfg,
		nowFunc: time.Now,
		records: make(map[string]*record),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// RecordOutcome records one dispatch outcome for a model.
func (t *Tracker) RecordOutcome(modelID string, success bool, latencyMs float64) {
	t.record(modelID, success, latencyMs, "")
}

// RecordError records a failed dispatch with an error message.
func (t *Tracker) RecordError(modelID string, latencyMs float64, errMsg string) {
	t.record(modelID, false, latencyMs, errMsg)
}

func (t *Tracker) record(modelID string, success bool, latencyMs float64, errMsg string) {
	now := t.nowFunc()

	t.mu.Lock()
	rec, ok := t.records[modelID]
	if !ok {
		rec = &record{window: make([]outcome, 0, t.cfg.WindowSize)}
		t.records[modelID] = rec
	}
	wasHealthy := t.healthyLocked(rec, now)

	if len(rec.window) < t.cfg.WindowSize {
		rec.window = append(rec.window, outcome{success: success, at: now})
	} else {
		rec.window[rec.next] = outcome{success: success, at: now}
	}
	rec.next = (rec.next + 1) % t.cfg.WindowSize

	// Exponentially weighted latency.
	if !rec.observed {
		rec.avgMs = latencyMs
		rec.observed = true
	} else {
		rec.avgMs = rec.avgMs*0.9 + latencyMs*0.1
	}
	rec.lastAt = now
	if !success && errMsg != "" {
		rec.lastError = errMsg
	}

	isHealthy := t.healthyLocked(rec, now)
	t.mu.Unlock()

	if wasHealthy != isHealthy && t.eventBus != nil {
		t.eventBus.Publish(events.Event{
			Type:     events.EventHealthChange,
			ModelID:  modelID,
			Healthy:  isHealthy,
			ErrorMsg: errMsg,
		})
	}
}

// IsHealthy reports whether a model should receive traffic. Healthy is a pure
// function of the recorded window: unhealthy only when the failure rate over
// outcomes inside the recency window exceeds the threshold.
func (t *Tracker) IsHealthy(modelID string) bool {
	now := t.nowFunc()
	t.mu.RLock()
	defer t.mu.RUnlock()
	rec, ok := t.records[modelID]
	if !ok {
		return true
	}
	return t.healthyLocked(rec, now)
}

// Stats returns a copy of the rolling stats for a model.
func (t *Tracker) Stats(modelID string) Stats {
	now := t.nowFunc()
	t.mu.RLock()
	defer t.mu.RUnlock()
	rec, ok := t.records[modelID]
	if !ok {
		return Stats{ModelID: modelID, Healthy: true}
	}
	return t.statsLocked(modelID, rec, now)
}

// AllStats returns rolling stats for every observed model.
func (t *Tracker) AllStats() []Stats {
	now := t.nowFunc()
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Stats, 0, len(t.records))
	for id, rec := range t.records {
		out = append(out, t.statsLocked(id, rec, now))
	}
	return out
}

// AvgLatencyMs returns the exponentially weighted latency for a model.
// Implements router.HealthView.
func (t *Tracker) AvgLatencyMs(modelID string) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if rec, ok := t.records[modelID]; ok {
		return rec.avgMs
	}
	return 0
}

// FailureRate returns the failure rate over outcomes inside the recency
// window, 0 for unknown models. Implements router.HealthView.
func (t *Tracker) FailureRate(modelID string) float64 {
	now := t.nowFunc()
	t.mu.RLock()
	defer t.mu.RUnlock()
	rec, ok := t.records[modelID]
	if !ok {
		return 0
	}
	succ, fail := t.countsLocked(rec, now)
	if succ+fail == 0 {
		return 0
	}
	return float64(fail) / float64(succ+fail)
}

func (t *Tracker) statsLocked(modelID string, rec *record, now time.Time) Stats {
	succ, fail := t.countsLocked(rec, now)
	s := Stats{
		ModelID:       modelID,
		Healthy:       t.healthyLocked(rec, now),
		Successes:     succ,
		Failures:      fail,
		AvgLatencyMs:  rec.avgMs,
		LastOutcomeAt: rec.lastAt,
		LastError:     rec.lastError,
	}
	if succ+fail > 0 {
		s.FailureRate = float64(fail) / float64(succ+fail)
	}
	return s
}

// countsLocked tallies outcomes still inside the recency window.
func (t *Tracker) countsLocked(rec *record, now time.Time) (successes, failures int) {
	cutoff := now.Add(-t.cfg.RecencyWindow)
	for _, o := range rec.window {
		if o.at.Before(cutoff) {
			continue
		}
		if o.success {
			successes++
		} else {
			failures++
		}
	}
	return successes, failures
}

func (t *Tracker) healthyLocked(rec *record, now time.Time) bool {
	succ, fail := t.countsLocked(rec, now)
	if succ+fail == 0 {
		return true // no recent observations: optimistic default
	}
	rate := float64(fail) / float64(succ+fail)
	return rate <= t.cfg.FailureThreshold
}
