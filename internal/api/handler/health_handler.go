package handler

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
)

// HealthHandler serves the supervisor liveness probe
type HealthHandler struct {
	logger  *slog.Logger
	health  HealthChecker
	service string
}

// NewHealthHandler creates a new HealthHandler instance
func NewHealthHandler(deps *Dependencies) *HealthHandler {
	return &HealthHandler{
		logger:  deps.Logger,
		health:  deps.Health,
		service: deps.Service,
	}
}

// Health handles GET /health
// Responds 200 when the database answers and 503 otherwise
func (h *HealthHandler) Health(c *gin.Context) {
	status := h.health.Check(c.Request.Context())

	code := http.StatusOK
	if !status.Healthy() {
		code = http.StatusServiceUnavailable
		h.logger.Warn("Health check failed",
			slog.String("reason", status.Reason),
		)
	}

	c.JSON(code, gin.H{
		"status":     status.Status,
		"service":    h.service,
		"reason":     status.Reason,
		"checked_at": status.CheckedAt,
		"latency_ms": status.Latency.Milliseconds(),
	})
}
