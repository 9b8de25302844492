// Package health exposes the broker's Kubernetes liveness and readiness probes.
package health

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/git-yup-ai/sim/internal/v1/logging"
	"go.uber.org/zap"
)

// StorePinger verifies connectivity to the durable store.
type StorePinger interface {
	Ping(ctx context.Context) error
}

// Handler manages health check endpoints
type Handler struct {
	store StorePinger
}

// NewHandler creates a new health check handler. A nil store (dev mode with
// the in-memory store) is always considered healthy.
func NewHandler(store StorePinger) *Handler {
	return &Handler{store: store}
}

// LivenessResponse represents the liveness probe response
type LivenessResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// ReadinessResponse represents the readiness probe response
type ReadinessResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks"`
	Timestamp string            `json:"timestamp"`
}

// Liveness handles the liveness probe endpoint
// GET /health/live
// Returns 200 if the process is alive (no dependency checks)
func (h *Handler) Liveness(c *gin.Context) {
	response := LivenessResponse{
		Status:    "alive",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	c.JSON(http.StatusOK, response)
}

// Readiness handles the readiness probe endpoint
// GET /health/ready
// Returns 200 only if the durable store is reachable, 503 otherwise. A broker
// that cannot commit operations must not receive traffic.
func (h *Handler) Readiness(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	checks := make(map[string]string)
	allHealthy := true

	redisStatus := h.checkStore(ctx)
	checks["redis"] = redisStatus
	if redisStatus != "healthy" {
		allHealthy = false
	}

	status := "ready"
	statusCode := http.StatusOK
	if !allHealthy {
		status = "unavailable"
		statusCode = http.StatusServiceUnavailable
	}

	response := ReadinessResponse{
		Status:    status,
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	c.JSON(statusCode, response)
}

// checkStore verifies store connectivity using PING
func (h *Handler) checkStore(ctx context.Context) string {
	if h.store == nil {
		return "healthy"
	}

	if err := h.store.Ping(ctx); err != nil {
		logging.Error(ctx, "Store health check failed", zap.Error(err))
		return "unhealthy"
	}

	return "healthy"
}
