// Package httpapi mounts the gateway's HTTP surface: the versioned caller
// API under /v1, the operator API under /admin/v1, and the liveness and
// metrics endpoints.
package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/modelgate/modelgate/internal/apikey"
	"github.com/modelgate/modelgate/internal/cache"
	"github.com/modelgate/modelgate/internal/events"
	"github.com/modelgate/modelgate/internal/fallback"
	"github.com/modelgate/modelgate/internal/health"
	"github.com/modelgate/modelgate/internal/metrics"
	"github.com/modelgate/modelgate/internal/ratelimit"
	"github.com/modelgate/modelgate/internal/registry"
	"github.com/modelgate/modelgate/internal/router"
	"github.com/modelgate/modelgate/internal/stats"
	"github.com/modelgate/modelgate/internal/store"
)

// Dependencies carries everything the handlers need. Optional fields are
// documented; everything else must be set.
type Dependencies struct {
	Registry     *registry.Registry
	Health       *health.Tracker
	Router       *router.Router
	Orchestrator *fallback.Orchestrator
	Limiter      ratelimit.Limiter
	Cache        cache.Store
	CacheTTL     time.Duration
	Store        store.Store
	Metrics      *metrics.Registry
	Stats        *stats.Collector
	EventBus     *events.Bus
	Logger       *slog.Logger

	// APIKeyMgr guards /v1 when set; nil leaves the caller API open
	// (development mode).
	APIKeyMgr *apikey.Manager

	// AdminToken guards /admin/v1 when set. With APIKeyMgr set but no
	// token, the operator API rejects everything rather than falling open.
	AdminToken string
}

// MountRoutes attaches all gateway routes to the given chi router.
func MountRoutes(r chi.Router, d Dependencies) {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.CacheTTL <= 0 {
		d.CacheTTL = cache.DefaultTTL
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		// The gateway can serve traffic only with a non-empty catalog.
		modelCount := d.Registry.Len()
		status := http.StatusOK
		state := "ok"
		if modelCount == 0 {
			status = http.StatusServiceUnavailable
			state = "unhealthy"
		}
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status": state,
			"models": modelCount,
		})
	})

	r.Route("/v1", func(r chi.Router) {
		if d.APIKeyMgr != nil {
			r.Use(apikey.AuthMiddleware(d.APIKeyMgr, func(w http.ResponseWriter, r *http.Request, status int, msg string) {
				writeError(w, r, status, CodeAuthentication, msg)
			}))
		}
		r.Post("/chat/completions", ChatCompletionsHandler(d))
		r.Get("/models", ModelsListHandler(d))
		r.Post("/models/recommend", ModelsRecommendHandler(d))
		r.Get("/usage", UsageHandler(d))
	})

	r.Route("/admin/v1", func(r chi.Router) {
		if d.AdminToken != "" || d.APIKeyMgr != nil {
			r.Use(adminAuth(d.AdminToken))
		}
		r.Post("/apikeys", APIKeysCreateHandler(d))
		r.Get("/apikeys", APIKeysListHandler(d))
		r.Post("/apikeys/{id}/rotate", APIKeysRotateHandler(d))
		r.Delete("/apikeys/{id}", APIKeysDeleteHandler(d))

		r.Get("/health", HealthStatsHandler(d))
		r.Get("/stats", StatsHandler(d))
		r.Post("/registry/refresh", RegistryRefreshHandler(d))
		if d.EventBus != nil {
			r.Get("/events", SSEHandler(d.EventBus))
		}
	})

	if d.Metrics != nil {
		r.Handle("/metrics", d.Metrics.Handler())
	}
}
