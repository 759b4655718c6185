package http

import (
	"net/http"
	"time"

	"github.com/castellanhq/castellan/pkg/httpx"
	"github.com/castellanhq/castellan/pkg/slogx"
)

func (r *Router) registerSystem() {
	r.handle("GET /healthz", http.HandlerFunc(r.healthz))
	r.handle("GET /readyz", http.HandlerFunc(r.readyz))
}

// healthz reports process liveness only.
func (r *Router) healthz(w http.ResponseWriter, req *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": r.buildVersion,
		"uptime":  time.Since(r.startTime).Round(time.Second).String(),
	})
}

// readyz additionally checks the token store, since issuing opaque tokens and
// recording revocations both need it.
func (r *Router) readyz(w http.ResponseWriter, req *http.Request) {
	if err := r.store.Ping(req.Context()); err != nil {
		slogx.FromContext(req.Context()).Error("readiness check failed", "error", err)
		httpx.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unavailable",
		})
		return
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]string{
		"status":  "ready",
		"version": r.buildVersion,
	})
}
