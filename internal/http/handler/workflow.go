package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/ErlanBelekov/dist-job-scheduler/internal/domain"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/workflow"
	"github.com/gin-gonic/gin"
)

// WorkflowHandler exposes the operator entry point that starts a workflow
// process — the manual-trigger counterpart of ControlHandler.Trigger, but
// for DAG-shaped jobs instead of single execs (§4.E, §4.F).
type WorkflowHandler struct {
	evaluator *workflow.Evaluator
	logger    *slog.Logger
}

func NewWorkflowHandler(evaluator *workflow.Evaluator, logger *slog.Logger) *WorkflowHandler {
	return &WorkflowHandler{evaluator: evaluator, logger: logger.With("component", "workflow_handler")}
}

type startProcessRequest struct {
	Args map[string]string `json:"args"`
}

// Start begins a new process for :workflowId, activating the single root
// node of its DAG (the one node with no inbound edge); a DAG without exactly
// one root is rejected.
func (h *WorkflowHandler) Start(c *gin.Context) {
	workflowID := c.Param("workflowId")
	if workflowID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "workflowId is required"})
		return
	}

	var req startProcessRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	process, err := h.evaluator.StartProcess(c.Request.Context(), workflowID, req.Args)
	if err != nil {
		if errors.Is(err, domain.ErrWorkflowNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "workflow not found"})
			return
		}
		h.logger.ErrorContext(c.Request.Context(), "start process", "workflow_id", workflowID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}

	c.JSON(http.StatusOK, process)
}
