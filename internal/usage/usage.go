// Package usage defines the append-only accounting record written once per
// completed (or cancelled) request.
package usage

import (
	"context"
	"time"
)

// Record is one immutable accounting entry. Created once per request, never
// mutated; retention is the storage layer's concern.
type Record struct {
	ID           int64     `json:"id,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
	CallerID     string    `json:"caller_id"`
	ModelID      string    `json:"model_id"`
	Provider     string    `json:"provider"`
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	CostUSD      float64   `json:"cost_usd"`
	LatencyMs    int64     `json:"latency_ms"`
	Success      bool      `json:"success"`
	Cancelled    bool      `json:"cancelled,omitempty"`
	RequestID    string    `json:"request_id,omitempty"`
}

// Recorder persists usage records. Write-only from the dispatch path;
// reporting reads go through the storage layer directly.
type Recorder interface {
	Record(ctx context.Context, rec Record) error
}

// Aggregate is a rollup of usage over a reporting window.
type Aggregate struct {
	CallerID     string  `json:"caller_id,omitempty"`
	ModelID      string  `json:"model_id,omitempty"`
	RequestCount int     `json:"request_count"`
	ErrorCount   int     `json:"error_count"`
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	TotalCostUSD float64 `json:"total_cost_usd"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
}
