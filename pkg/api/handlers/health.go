package handlers

import (
	"net/http"
	"sync"

	"github.com/sagabank/sagabank/pkg/api/response"
)

// HealthHandler handles health check endpoints. Readiness checks are
// registered by name and probed on each request.
type HealthHandler struct {
	mu     sync.RWMutex
	checks map[string]func() error
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler() *HealthHandler {
	return &HealthHandler{
		checks: make(map[string]func() error),
	}
}

// AddCheck registers a named readiness check.
func (h *HealthHandler) AddCheck(name string, check func() error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = check
}

// Health handles the /health endpoint (liveness probe).
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// Ready handles the /ready endpoint (readiness probe).
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	failures := make(map[string]string)
	for name, check := range h.checks {
		if err := check(); err != nil {
			failures[name] = err.Error()
		}
	}

	if len(failures) > 0 {
		response.JSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"ready":    false,
			"failures": failures,
		})
		return
	}

	response.JSON(w, http.StatusOK, map[string]bool{
		"ready": true,
	})
}
