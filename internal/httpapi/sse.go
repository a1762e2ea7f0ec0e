package httpapi

import (
	"fmt"
	"net/http"
	"time"

	"github.com/modelgate/modelgate/internal/events"
)

// SSEHandler serves GET /admin/v1/events: a live server-sent event feed of
// gateway events (requests, health transitions, refreshes). Slow consumers
// drop events rather than stalling the bus.
func SSEHandler(bus *events.Bus) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			writeError(w, r, http.StatusInternalServerError, CodeInternal, "streaming unsupported by connection")
			return
		}

		sub := bus.Subscribe(64)
		defer bus.Unsubscribe(sub)

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		// Heartbeat comments keep intermediaries from reaping idle
		// connections.
		heartbeat := time.NewTicker(15 * time.Second)
		defer heartbeat.Stop()

		for {
			select {
			case <-r.Context().Done():
				return
			case <-heartbeat.C:
				fmt.Fprint(w, ": keepalive\n\n")
				flusher.Flush()
			case ev, open := <-sub.C:
				if !open {
					return
				}
				fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, ev.JSON())
				flusher.Flush()
			}
		}
	}
}
