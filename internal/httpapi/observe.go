package httpapi

import (
	"time"

	"github.com/modelgate/modelgate/internal/dispatch"
	"github.com/modelgate/modelgate/internal/events"
	"github.com/modelgate/modelgate/internal/stats"
)

// outcome bundles what the observability sinks need about one finished
// request.
type outcome struct {
	ModelID   string
	Provider  string
	CallerID  string
	RequestID string
	LatencyMs float64
	Usage     dispatch.Usage
	CostUSD   float64
	Success   bool
	CacheHit  bool
	ErrorCode string
	ErrorMsg  string
}

// observe fans one request outcome out to metrics, the stats collector, and
// the event bus. Persisted accounting is the dispatcher's job; this layer
// only covers the live views.
func observe(d Dependencies, o outcome) {
	if d.Metrics != nil {
		status := "ok"
		if !o.Success {
			status = "error"
		}
		d.Metrics.RequestsTotal.WithLabelValues(o.ModelID, o.Provider, status).Inc()
		d.Metrics.RequestLatency.WithLabelValues(o.ModelID, o.Provider).Observe(o.LatencyMs)
		if o.Usage.InputTokens > 0 {
			d.Metrics.TokensTotal.WithLabelValues(o.ModelID, "input").Add(float64(o.Usage.InputTokens))
		}
		if o.Usage.OutputTokens > 0 {
			d.Metrics.TokensTotal.WithLabelValues(o.ModelID, "output").Add(float64(o.Usage.OutputTokens))
		}
		if o.CostUSD > 0 {
			d.Metrics.CostUSD.WithLabelValues(o.ModelID, o.Provider).Add(o.CostUSD)
		}
		if o.CacheHit {
			d.Metrics.CacheOps.WithLabelValues("hit").Inc()
		}
	}

	if d.Stats != nil {
		d.Stats.Record(stats.Snapshot{
			Timestamp:    time.Now().UTC(),
			ModelID:      o.ModelID,
			Provider:     o.Provider,
			LatencyMs:    o.LatencyMs,
			CostUSD:      o.CostUSD,
			Success:      o.Success,
			CacheHit:     o.CacheHit,
			InputTokens:  o.Usage.InputTokens,
			OutputTokens: o.Usage.OutputTokens,
		})
	}

	if d.EventBus != nil {
		typ := events.EventRequestSuccess
		if !o.Success {
			typ = events.EventRequestError
		}
		if o.CacheHit {
			typ = events.EventCacheHit
		}
		d.EventBus.Publish(events.Event{
			Type:      typ,
			ModelID:   o.ModelID,
			Provider:  o.Provider,
			CallerID:  o.CallerID,
			RequestID: o.RequestID,
			LatencyMs: o.LatencyMs,
			CostUSD:   o.CostUSD,
			ErrorCode: o.ErrorCode,
			ErrorMsg:  o.ErrorMsg,
		})
	}
}
