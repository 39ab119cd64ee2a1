package handler

import (
	"net/http"

	"github.com/ErlanBelekov/dist-job-scheduler/internal/health"
	"github.com/gin-gonic/gin"
)

// HealthHandler exposes the liveness/readiness endpoints every binary in
// the fleet carries (§12), backed by the teacher's internal/health.Checker.
type HealthHandler struct {
	checker *health.Checker
}

func NewHealthHandler(checker *health.Checker) *HealthHandler {
	return &HealthHandler{checker: checker}
}

func (h *HealthHandler) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, h.checker.Liveness(c.Request.Context()))
}

func (h *HealthHandler) Readiness(c *gin.Context) {
	result := h.checker.Readiness(c.Request.Context())
	status := http.StatusOK
	if result.Status != "up" {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, result)
}
