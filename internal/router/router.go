// Package router selects a target model for a request from the registry
// catalog, weighing declared capability match, cost, and observed latency,
// and skipping models the health tracker considers unhealthy.
package router

import (
	"errors"
	"fmt"
	"sort"

	"github.com/modelgate/modelgate/internal/registry"
)

// ErrNoHealthyModel is returned when no healthy candidate matches the
// criteria. The caller decides whether to queue, surface the error, or force
// an unhealthy model as a last resort.
var ErrNoHealthyModel = errors.New("no healthy model available")

// HealthView is the router's read-only view of the health tracker. Defined
// here so the router can be unit-tested with a stub.
type HealthView interface {
	IsHealthy(modelID string) bool
	AvgLatencyMs(modelID string) float64
	FailureRate(modelID string) float64
}

// Catalog is the router's view of the model registry.
type Catalog interface {
	List(f registry.Filter) []registry.Model
	Get(id string) (registry.Model, error)
}

// Criteria narrows and biases model selection.
type Criteria struct {
	// PreferredModel short-circuits ranking when it is healthy and not
	// excluded.
	PreferredModel string
	// TaskHint filters candidates to models declaring this capability tag.
	TaskHint string
	// ExcludeModels are never returned.
	ExcludeModels []string
	// MaxCostPer1K caps the combined per-1K token price; 0 means no cap.
	MaxCostPer1K float64
	// MinPerformance sets a floor on the observed success rate, 0..1; 0
	// means no floor.
	MinPerformance float64
	// PreferredProviders biases ranking toward these providers.
	PreferredProviders []string
}

// ScoredModel is a ranked candidate from Recommend.
type ScoredModel struct {
	Model          registry.Model `json:"model"`
	Score          float64        `json:"-"`
	Confidence     float64        `json:"confidence"`
	CostEfficiency float64        `json:"cost_efficiency"`
	Reason         string         `json:"reason"`
}

// Weights defines the scoring coefficients. Higher score = better candidate.
type Weights struct {
	Capability float64
	Cost       float64
	Latency    float64
	Provider   float64
}

// DefaultWeights favours capability match over price, per the ranking order
// callers expect from task-hinted requests.
func DefaultWeights() Weights {
	return Weights{Capability: 0.5, Cost: 0.3, Latency: 0.15, Provider: 0.05}
}

// Router ranks registry models against health state and selection criteria.
type Router struct {
	catalog Catalog
	health  HealthView
	weights Weights
}

// New creates a router over the given catalog and health view.
func New(catalog Catalog, health HealthView, weights Weights) *Router {
	if weights == (Weights{}) {
		weights = DefaultWeights()
	}
	return &Router{catalog: catalog, health: health, weights: weights}
}

// Select returns the best healthy model for the criteria.
//
// The preferred model wins outright when healthy and not excluded. Otherwise
// candidates are filtered by task hint, exclusions, cost cap, and health,
// then ranked by the weighted score; ties break on lowest cost, then
// lexicographic ID, so repeated calls with identical inputs return the same
// model.
func (r *Router) Select(c Criteria) (registry.Model, error) {
	if c.PreferredModel != "" && !contains(c.ExcludeModels, c.PreferredModel) {
		if m, err := r.catalog.Get(c.PreferredModel); err == nil && r.health.IsHealthy(m.ID) {
			return m, nil
		}
	}

	ranked := r.rank(c)
	if len(ranked) == 0 {
		return registry.Model{}, ErrNoHealthyModel
	}
	return ranked[0].Model, nil
}

// Recommend exposes the ranking non-destructively: every matching healthy
// candidate with a confidence score normalized against the top candidate.
// It never triggers a dispatch.
func (r *Router) Recommend(c Criteria) ([]ScoredModel, error) {
	ranked := r.rank(c)
	if len(ranked) == 0 {
		return nil, ErrNoHealthyModel
	}

	top := ranked[0].Score
	for i := range ranked {
		if top > 0 {
			ranked[i].Confidence = ranked[i].Score / top
		} else {
			ranked[i].Confidence = 1
		}
	}
	return ranked, nil
}

func (r *Router) rank(c Criteria) []ScoredModel {
	candidates := r.catalog.List(registry.Filter{})

	var eligible []registry.Model
	var maxCost, maxLatency float64
	for _, m := range candidates {
		if contains(c.ExcludeModels, m.ID) {
			continue
		}
		if c.TaskHint != "" && capabilityMatch(m, c.TaskHint) == 0 {
			continue
		}
		if c.MaxCostPer1K > 0 && combinedCost(m) > c.MaxCostPer1K {
			continue
		}
		if !r.health.IsHealthy(m.ID) {
			continue
		}
		if c.MinPerformance > 0 && 1-r.health.FailureRate(m.ID) < c.MinPerformance {
			continue
		}
		eligible = append(eligible, m)
		if cost := combinedCost(m); cost > maxCost {
			maxCost = cost
		}
		if lat := r.health.AvgLatencyMs(m.ID); lat > maxLatency {
			maxLatency = lat
		}
	}

	scored := make([]ScoredModel, 0, len(eligible))
	for _, m := range eligible {
		cost := combinedCost(m)
		score := r.weights.Capability * capabilityMatch(m, c.TaskHint)
		score += r.weights.Cost * (1 - safeNorm(cost, maxCost))
		score += r.weights.Latency * (1 - safeNorm(r.health.AvgLatencyMs(m.ID), maxLatency))
		if contains(c.PreferredProviders, m.Provider) {
			score += r.weights.Provider
		}

		costEff := 0.0
		if cost > 0 {
			costEff = capabilityMatch(m, c.TaskHint) / cost
		}
		scored = append(scored, ScoredModel{
			Model:          m,
			Score:          score,
			CostEfficiency: costEff,
			Reason:         reasonFor(m, c),
		})
	}

	sort.Slice(scored, func(i, j int) bool {
		si, sj := scored[i], scored[j]
		if si.Score != sj.Score {
			return si.Score > sj.Score
		}
		ci, cj := combinedCost(si.Model), combinedCost(sj.Model)
		if ci != cj {
			return ci < cj
		}
		return si.Model.ID < sj.Model.ID
	})
	return scored
}

// capabilityMatch scores how well a model's declared tags fit the hint. A
// direct tag match scores 1; a general-purpose chat model is a weaker but
// still eligible fallback for any task; anything else is ineligible. Without
// a hint every model scores equally.
func capabilityMatch(m registry.Model, hint string) float64 {
	if hint == "" {
		return 1
	}
	if m.HasCapability(hint) {
		return 1
	}
	if m.HasCapability("chat") {
		return 0.5
	}
	return 0
}

func combinedCost(m registry.Model) float64 {
	return m.InputPer1K + m.OutputPer1K
}

func reasonFor(m registry.Model, c Criteria) string {
	if c.TaskHint != "" && m.HasCapability(c.TaskHint) {
		return fmt.Sprintf("declares %q capability at $%.4f/1K combined", c.TaskHint, combinedCost(m))
	}
	return fmt.Sprintf("healthy at $%.4f/1K combined", combinedCost(m))
}

func safeNorm(v, max float64) float64 {
	if max <= 0 {
		return 0
	}
	if v < 0 {
		return 0
	}
	if v > max {
		return 1
	}
	return v / max
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
