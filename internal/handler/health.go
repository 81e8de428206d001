package handler

import (
	"net/http"
)

// ReadyChecker reports whether the backing store connection is up.
type ReadyChecker interface {
	IsConnected() bool
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	store ReadyChecker
}

// NewHealthHandler creates a new health handler. A nil checker reports
// ready unconditionally, the in-memory store mode.
func NewHealthHandler(store ReadyChecker) *HealthHandler {
	return &HealthHandler{store: store}
}

// Health handles GET /healthz
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

// Ready handles GET /readyz
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.store != nil && !h.store.IsConnected() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"reason": "session store not connected",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ready",
	})
}
