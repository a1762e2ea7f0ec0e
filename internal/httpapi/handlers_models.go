package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/modelgate/modelgate/internal/registry"
	"github.com/modelgate/modelgate/internal/router"
)

// modelView is a catalog entry annotated with live health state.
type modelView struct {
	registry.Model
	Healthy      bool    `json:"healthy"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
}

// ModelsListHandler serves GET /v1/models: the current catalog with health
// annotations. Optional query params filter by provider and capability.
func ModelsListHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f := registry.Filter{
			Provider:   r.URL.Query().Get("provider"),
			Capability: r.URL.Query().Get("capability"),
		}
		models := d.Registry.List(f)

		views := make([]modelView, 0, len(models))
		for _, m := range models {
			views = append(views, modelView{
				Model:        m,
				Healthy:      d.Health.IsHealthy(m.ID),
				AvgLatencyMs: d.Health.AvgLatencyMs(m.ID),
			})
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"models":       views,
			"refreshed_at": d.Registry.RefreshedAt(),
		})
	}
}

// recommendRequest mirrors the routing criteria for a dry-run selection.
type recommendRequest struct {
	Model              string   `json:"model,omitempty"`
	Task               string   `json:"task,omitempty"`
	ExcludeModels      []string `json:"exclude_models,omitempty"`
	MaxCost            float64  `json:"max_cost,omitempty"`
	MinPerformance     float64  `json:"min_performance,omitempty"`
	PreferredProviders []string `json:"preferred_providers,omitempty"`
	Limit              int      `json:"limit,omitempty"`
}

// ModelsRecommendHandler serves POST /v1/models/recommend: ranked candidates
// for the given criteria, without dispatching anything.
func ModelsRecommendHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req recommendRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, r, http.StatusBadRequest, CodeValidation, "invalid JSON body: "+err.Error())
			return
		}

		ranked, err := d.Router.Recommend(router.Criteria{
			PreferredModel:     req.Model,
			TaskHint:           req.Task,
			ExcludeModels:      req.ExcludeModels,
			MaxCostPer1K:       req.MaxCost,
			MinPerformance:     req.MinPerformance,
			PreferredProviders: req.PreferredProviders,
		})
		if err != nil {
			writeError(w, r, http.StatusServiceUnavailable, CodeNoHealthyModel, err.Error())
			return
		}

		if req.Limit > 0 && len(ranked) > req.Limit {
			ranked = ranked[:req.Limit]
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"candidates": ranked,
		})
	}
}
