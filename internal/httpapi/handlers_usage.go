package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/modelgate/modelgate/internal/store"
)

// UsageHandler serves GET /v1/usage: durable usage aggregates, optionally
// scoped by caller, model and time range. With group_by=model the rollup is
// per model instead of per caller; with records=true the raw records are
// returned as well.
func UsageHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		qs := r.URL.Query()

		q := store.UsageQuery{
			CallerID: qs.Get("caller_id"),
			ModelID:  qs.Get("model_id"),
		}
		if v := qs.Get("since"); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				writeError(w, r, http.StatusBadRequest, CodeValidation, "since must be RFC3339")
				return
			}
			q.Since = t
		}
		if v := qs.Get("until"); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				writeError(w, r, http.StatusBadRequest, CodeValidation, "until must be RFC3339")
				return
			}
			q.Until = t
		}
		if v := qs.Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				writeError(w, r, http.StatusBadRequest, CodeValidation, "limit must be a non-negative integer")
				return
			}
			q.Limit = n
		}

		groupByModel := qs.Get("group_by") == "model"
		aggs, err := d.Store.AggregateUsage(r.Context(), q, groupByModel)
		if err != nil {
			d.Logger.Error("usage aggregate query failed", "error", err)
			writeError(w, r, http.StatusInternalServerError, CodeInternal, "usage query failed")
			return
		}

		body := map[string]any{"aggregates": aggs}
		if qs.Get("records") == "true" {
			recs, err := d.Store.ListUsage(r.Context(), q)
			if err != nil {
				d.Logger.Error("usage record query failed", "error", err)
				writeError(w, r, http.StatusInternalServerError, CodeInternal, "usage query failed")
				return
			}
			body["records"] = recs
		}
		writeJSON(w, http.StatusOK, body)
	}
}
