package handler

import (
	"context"
	"net/http"
	"time"
)

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	store Pinger

	// mirror is nil when the NATS mirror is disabled.
	mirror interface{ IsConnected() bool }
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(store Pinger, mirror interface{ IsConnected() bool }) *HealthHandler {
	return &HealthHandler{
		store:  store,
		mirror: mirror,
	}
}

// Health handles GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

// Ready handles GET /ready
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"reason": "database unavailable",
		})
		return
	}

	resp := map[string]string{"status": "ready"}
	if h.mirror != nil && !h.mirror.IsConnected() {
		resp["mirror"] = "disconnected"
	}
	writeJSON(w, http.StatusOK, resp)
}
