// Package metrics exposes the gateway's Prometheus instrumentation.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry bundles the gateway's metric vectors behind one Prometheus
// registry, served on /metrics.
type Registry struct {
	reg *prometheus.Registry

	RequestsTotal   *prometheus.CounterVec
	RequestLatency  *prometheus.HistogramVec
	TokensTotal     *prometheus.CounterVec
	CostUSD         *prometheus.CounterVec
	CacheOps        *prometheus.CounterVec
	RateLimited     *prometheus.CounterVec
	FallbackHops    prometheus.Counter
	ModelsUnhealthy prometheus.Gauge
}

// New creates the registry and registers every collector.
func New() *Registry {
	reg := prometheus.NewRegistry()
	m := &Registry{
		reg: reg,
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "modelgate_requests_total",
			Help: "Total completion requests, by model, provider and outcome",
		}, []string{"model", "provider", "status"}),
		RequestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "modelgate_request_latency_ms",
			Help:    "Completion latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 12),
		}, []string{"model", "provider"}),
		TokensTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "modelgate_tokens_total",
			Help: "Tokens processed, by model and direction",
		}, []string{"model", "direction"}),
		CostUSD: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "modelgate_cost_usd_total",
			Help: "Estimated USD cost by model and provider",
		}, []string{"model", "provider"}),
		CacheOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "modelgate_cache_ops_total",
			Help: "Response cache operations by result (hit, miss, store)",
		}, []string{"result"}),
		RateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "modelgate_rate_limited_total",
			Help: "Requests rejected by the rate limiter, by caller",
		}, []string{"caller"}),
		FallbackHops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "modelgate_fallback_hops_total",
			Help: "Times a request fell back to another model after a failure",
		}),
		ModelsUnhealthy: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "modelgate_models_unhealthy",
			Help: "Number of models currently considered unhealthy",
		}),
	}
	reg.MustRegister(
		m.RequestsTotal, m.RequestLatency, m.TokensTotal, m.CostUSD,
		m.CacheOps, m.RateLimited, m.FallbackHops, m.ModelsUnhealthy,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}
