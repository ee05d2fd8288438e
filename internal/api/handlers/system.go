package handlers

import (
	"net/http"

	"github.com/finmetrics/grounding/internal/api/response"
	"github.com/finmetrics/grounding/internal/service"
)

// SystemHandler handles system-related HTTP requests
type SystemHandler struct {
	systemService *service.SystemService
}

// NewSystemHandler creates a new SystemHandler
func NewSystemHandler(systemService *service.SystemService) *SystemHandler {
	return &SystemHandler{
		systemService: systemService,
	}
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
	Error    string `json:"error,omitempty"`
}

// Health checks database connectivity only. It backs liveness checks.
//
// Endpoint: GET /system/health
// Response: 200 OK, or 503 when the database is unreachable
func (h *SystemHandler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.systemService.CheckHealth(); err != nil {
		response.RespondJSON(w, http.StatusServiceUnavailable, HealthResponse{
			Status:   service.StatusUnhealthy,
			Database: "disconnected",
			Error:    err.Error(),
		})
		return
	}

	response.RespondJSON(w, http.StatusOK, HealthResponse{
		Status:   service.StatusHealthy,
		Database: "connected",
	})
}

// Status reports the engine's dependencies: breaker state of the filing
// and FX sources, cache counters and store sizes. A degraded engine still
// answers 200; only an unreachable database is 503.
//
// Endpoint: GET /status
// Response: 200 OK with model.StatusInfo
func (h *SystemHandler) Status(w http.ResponseWriter, r *http.Request) {
	info := h.systemService.Status(r.Context())

	status := http.StatusOK
	if info.Status == service.StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	response.RespondJSON(w, status, info)
}
