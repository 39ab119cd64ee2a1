package handler

import (
	"log/slog"
	"net/http"

	"github.com/ErlanBelekov/dist-job-scheduler/internal/wire"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/workflow"
	"github.com/gin-gonic/gin"
)

// UpstreamHandler serves the frames a Comet relays up from its Agents
// (§4.C round trip): heartbeat, output, completed.
type UpstreamHandler struct {
	processor *workflow.UpstreamProcessor
	logger    *slog.Logger
}

func NewUpstreamHandler(processor *workflow.UpstreamProcessor, logger *slog.Logger) *UpstreamHandler {
	return &UpstreamHandler{processor: processor, logger: logger.With("component", "upstream_handler")}
}

type upstreamRequest struct {
	CometID    string      `json:"cometId" binding:"required"`
	InstanceID string      `json:"instanceId" binding:"required"`
	Frame      *wire.Frame `json:"frame" binding:"required"`
}

func (h *UpstreamHandler) Push(c *gin.Context) {
	var req upstreamRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.processor.HandleFrame(c.Request.Context(), req.CometID, req.InstanceID, req.Frame)
	c.Status(http.StatusNoContent)
}
