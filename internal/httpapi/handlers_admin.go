package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/modelgate/modelgate/internal/registry"
)

// APIKeysCreateHandler serves POST /admin/v1/apikeys. The plaintext key
// appears in this response and nowhere else.
func APIKeysCreateHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if d.APIKeyMgr == nil {
			writeError(w, r, http.StatusNotFound, CodeNotFound, "api key management not configured")
			return
		}
		var req struct {
			Name      string     `json:"name"`
			ExpiresAt *time.Time `json:"expires_at,omitempty"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, r, http.StatusBadRequest, CodeValidation, "invalid JSON body: "+err.Error())
			return
		}
		if req.Name == "" {
			writeError(w, r, http.StatusBadRequest, CodeValidation, "name is required")
			return
		}

		plaintext, rec, err := d.APIKeyMgr.Generate(r.Context(), req.Name, req.ExpiresAt)
		if err != nil {
			d.Logger.Error("api key generation failed", "error", err)
			writeError(w, r, http.StatusInternalServerError, CodeInternal, "key generation failed")
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{
			"key":    plaintext,
			"record": rec,
		})
	}
}

// APIKeysListHandler serves GET /admin/v1/apikeys. Hashes never leave the
// store.
func APIKeysListHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		keys, err := d.Store.ListAPIKeys(r.Context())
		if err != nil {
			d.Logger.Error("api key list failed", "error", err)
			writeError(w, r, http.StatusInternalServerError, CodeInternal, "key list failed")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"keys": keys})
	}
}

// APIKeysRotateHandler serves POST /admin/v1/apikeys/{id}/rotate.
func APIKeysRotateHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if d.APIKeyMgr == nil {
			writeError(w, r, http.StatusNotFound, CodeNotFound, "api key management not configured")
			return
		}
		id := chi.URLParam(r, "id")
		plaintext, err := d.APIKeyMgr.Rotate(r.Context(), id)
		if err != nil {
			writeError(w, r, http.StatusNotFound, CodeNotFound, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"id":  id,
			"key": plaintext,
		})
	}
}

// APIKeysDeleteHandler serves DELETE /admin/v1/apikeys/{id}. The key is
// revoked (validation cache included) and then removed.
func APIKeysDeleteHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if d.APIKeyMgr != nil {
			if err := d.APIKeyMgr.Revoke(r.Context(), id); err != nil {
				writeError(w, r, http.StatusNotFound, CodeNotFound, err.Error())
				return
			}
		}
		if err := d.Store.DeleteAPIKey(r.Context(), id); err != nil {
			d.Logger.Error("api key delete failed", "id", id, "error", err)
			writeError(w, r, http.StatusInternalServerError, CodeInternal, "key delete failed")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// HealthStatsHandler serves GET /admin/v1/health: per-model health from the
// tracker.
func HealthStatsHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		all := d.Health.AllStats()
		unhealthy := 0
		for _, s := range all {
			if !s.Healthy {
				unhealthy++
			}
		}
		if d.Metrics != nil {
			d.Metrics.ModelsUnhealthy.Set(float64(unhealthy))
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"models":    all,
			"unhealthy": unhealthy,
		})
	}
}

// StatsHandler serves GET /admin/v1/stats: rolling-window aggregates from
// the in-memory collector. ?by=provider switches the grouping.
func StatsHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if d.Stats == nil {
			writeError(w, r, http.StatusNotFound, CodeNotFound, "stats collection not configured")
			return
		}
		var body any
		switch r.URL.Query().Get("by") {
		case "provider":
			body = d.Stats.SummaryByProvider()
		case "global":
			body = d.Stats.Global()
		default:
			body = d.Stats.Summary()
		}
		writeJSON(w, http.StatusOK, body)
	}
}

// RegistryRefreshHandler serves POST /admin/v1/registry/refresh: re-fetch
// the catalog from the configured sources. On failure the previous catalog
// stays in effect and the error is reported.
func RegistryRefreshHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := d.Registry.Refresh(r.Context()); err != nil {
			writeError(w, r, http.StatusBadGateway, CodeInternal, err.Error())
			return
		}
		if d.Store != nil {
			if err := d.Store.SaveCatalog(r.Context(), d.Registry.List(registry.Filter{})); err != nil {
				d.Logger.Warn("catalog snapshot save failed", "error", err)
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"models":       d.Registry.Len(),
			"refreshed_at": d.Registry.RefreshedAt(),
		})
	}
}
