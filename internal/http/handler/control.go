package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/ErlanBelekov/dist-job-scheduler/internal/dispatcher"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/domain"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/repository"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/scheduler"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	errEidRequired    = "eid is required"
	errInternalServer = "Internal server error"
)

// ControlHandler exposes the manual dispatch entry points the Scheduler's
// once/kill actions hang off of (§12): operator-triggered runs outside the
// normal cron/timer path, and operator-triggered kills of whatever is live.
type ControlHandler struct {
	jobs      repository.JobRepository
	instances repository.InstanceRepository
	dispatch  *dispatcher.Dispatcher
	engine    *scheduler.Engine
	router    dispatcher.Router
	forwarder dispatcher.Forwarder
	logger    *slog.Logger
}

func NewControlHandler(
	jobs repository.JobRepository,
	instances repository.InstanceRepository,
	dispatch *dispatcher.Dispatcher,
	engine *scheduler.Engine,
	router dispatcher.Router,
	forwarder dispatcher.Forwarder,
	logger *slog.Logger,
) *ControlHandler {
	return &ControlHandler{
		jobs:      jobs,
		instances: instances,
		dispatch:  dispatch,
		engine:    engine,
		router:    router,
		forwarder: forwarder,
		logger:    logger.With("component", "control_handler"),
	}
}

type triggerRequest struct {
	InstanceIDs []string `json:"instanceIds"`
	GroupIDs    []string `json:"groupIds"`
}

type triggerResponse struct {
	ScheduleID string           `json:"scheduleId"`
	Results    []triggerOutcome `json:"results"`
}

type triggerOutcome struct {
	InstanceID string `json:"instanceId"`
	Outcome    string `json:"outcome"`
	Error      string `json:"error,omitempty"`
}

// Trigger fires a one-off dispatch of eid's job, bypassing cron/timer
// evaluation (§4.D once mode), used by operators to re-run a job on demand.
func (h *ControlHandler) Trigger(c *gin.Context) {
	eid := c.Param("eid")
	if eid == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": errEidRequired})
		return
	}

	var req triggerRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sel := domain.TargetSelector{InstanceIDs: req.InstanceIDs, GroupIDs: req.GroupIDs}
	job, err := h.jobs.GetJobByEid(c.Request.Context(), eid)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
			return
		}
		h.logger.ErrorContext(c.Request.Context(), "trigger: get job", "eid", eid, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}

	scheduleID := uuid.NewString()
	s := domain.Schedule{
		ScheduleID:   scheduleID,
		Eid:          eid,
		Action:       domain.ActionExec,
		ScheduleType: domain.ScheduleOnce,
		RunID:        uuid.NewString(),
	}

	results, err := h.dispatch.Dispatch(c.Request.Context(), s, sel, job.MaxParallel)
	if err != nil {
		h.logger.ErrorContext(c.Request.Context(), "trigger: dispatch", "eid", eid, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}

	resp := triggerResponse{ScheduleID: scheduleID}
	for _, r := range results {
		o := triggerOutcome{InstanceID: r.InstanceID, Outcome: string(r.Outcome)}
		if r.Err != nil {
			o.Error = r.Err.Error()
		}
		resp.Results = append(resp.Results, o)
	}
	c.JSON(http.StatusOK, resp)
}

// Kill terminates every live process for eid regardless of which run_id
// started it (§4.D Kill semantics, invariant: kill targets (eid, schedule_type)).
func (h *ControlHandler) Kill(c *gin.Context) {
	eid := c.Param("eid")
	if eid == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": errEidRequired})
		return
	}

	scheduleType := domain.ScheduleType(c.DefaultQuery("scheduleType", string(domain.ScheduleOnce)))

	if err := h.engine.Kill(c.Request.Context(), eid, scheduleType, h.router, h.forwarder); err != nil {
		h.logger.ErrorContext(c.Request.Context(), "kill", "eid", eid, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}

	c.Status(http.StatusNoContent)
}
