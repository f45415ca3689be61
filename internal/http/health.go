package http

import (
	"net/http"
)

// HealthHandler serves liveness and readiness probes.
type HealthHandler struct {
	// readyProbe reports whether dependencies are reachable. A nil
	// probe means always ready.
	readyProbe func(r *http.Request) error
}

// NewHealthHandler creates a HealthHandler with the given readiness
// probe.
func NewHealthHandler(readyProbe func(r *http.Request) error) *HealthHandler {
	return &HealthHandler{readyProbe: readyProbe}
}

// ServiceInfo handles GET / with service identification.
func ServiceInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"service": "auth-service",
		"status":  "running",
	})
}

// Healthz handles GET /healthz. 200 means the process is alive.
func (h *HealthHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Readyz handles GET /readyz. 200 means the service can take traffic.
func (h *HealthHandler) Readyz(w http.ResponseWriter, r *http.Request) {
	if h.readyProbe != nil {
		if err := h.readyProbe(r); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not ready",
				"reason": err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
