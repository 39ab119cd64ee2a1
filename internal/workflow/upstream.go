package workflow

import (
	"context"
	"log/slog"
	"time"

	"github.com/ErlanBelekov/dist-job-scheduler/internal/dispatcher"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/domain"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/repository"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/wire"
)

// UpstreamProcessor is Console's side of the round trip described in §8
// ("dispatch payload -> agent -> completed frame -> history row"): it
// turns the heartbeat/output/completed frames a Comet relays upstream into
// running_status/exec_history writes, and feeds workflow-linked
// completions back into the Evaluator (§4.E).
type UpstreamProcessor struct {
	instances repository.InstanceRepository
	running   repository.RunningStatusRepository
	history   repository.HistoryRepository
	dispatch  *dispatcher.Dispatcher
	evaluator *Evaluator
	logger    *slog.Logger
}

func NewUpstreamProcessor(
	instances repository.InstanceRepository,
	running repository.RunningStatusRepository,
	history repository.HistoryRepository,
	dispatch *dispatcher.Dispatcher,
	evaluator *Evaluator,
	logger *slog.Logger,
) *UpstreamProcessor {
	return &UpstreamProcessor{
		instances: instances,
		running:   running,
		history:   history,
		dispatch:  dispatch,
		evaluator: evaluator,
		logger:    logger.With("component", "upstream"),
	}
}

// HandleFrame dispatches one upstream frame by kind. cometID identifies
// which Comet relayed it, instanceID which Agent originated it.
func (p *UpstreamProcessor) HandleFrame(ctx context.Context, cometID, instanceID string, f *wire.Frame) {
	switch f.Kind {
	case wire.KindHeartbeat:
		p.handleHeartbeat(ctx, cometID, instanceID)
	case wire.KindOutput:
		p.handleOutput(ctx, instanceID, f)
	case wire.KindCompleted:
		p.handleCompleted(ctx, instanceID, f)
	default:
		p.logger.Warn("unhandled upstream frame kind", "kind", f.Kind, "instance_id", instanceID)
	}
}

func (p *UpstreamProcessor) handleHeartbeat(ctx context.Context, cometID, instanceID string) {
	if err := p.instances.SetOnline(ctx, instanceID, cometID); err != nil {
		p.logger.Error("set online failed", "instance_id", instanceID, "error", err)
	}
}

func (p *UpstreamProcessor) handleOutput(ctx context.Context, instanceID string, f *wire.Frame) {
	var payload wire.OutputPayload
	if err := f.Decode(&payload); err != nil {
		p.logger.Error("decode output payload failed", "error", err)
		return
	}
	if err := p.history.AppendOutput(ctx, payload.ScheduleID, instanceID, payload.RunID, payload.Chunk, payload.Truncated); err != nil {
		p.logger.Error("append output failed", "schedule_id", payload.ScheduleID, "error", err)
	}
}

// bundleResultFromFrames maps the wire-level bundle step outcomes onto the
// domain type exec_history persists; nil when payload carried none (a plain
// exec, not a bundle job).
func bundleResultFromFrames(frames []wire.BundleStepResultFrame) []domain.BundleStepResult {
	if len(frames) == 0 {
		return nil
	}
	out := make([]domain.BundleStepResult, 0, len(frames))
	for _, f := range frames {
		out = append(out, domain.BundleStepResult{
			EidRef:     f.Eid,
			ExitCode:   f.ExitCode,
			ExitStatus: domain.ExitStatus(f.ExitStatus),
			Output:     f.Output,
			Skipped:    f.Skipped,
		})
	}
	return out
}

func (p *UpstreamProcessor) handleCompleted(ctx context.Context, instanceID string, f *wire.Frame) {
	var payload wire.CompletedPayload
	if err := f.Decode(&payload); err != nil {
		p.logger.Error("decode completed payload failed", "error", err)
		return
	}

	exitStatus := domain.ExitStatus(payload.ExitStatus)
	if err := p.history.FinalizeExecHistory(ctx, payload.ScheduleID, instanceID, payload.RunID, payload.ExitCode, exitStatus, bundleResultFromFrames(payload.BundleResult)); err != nil {
		p.logger.Error("finalize exec history failed", "schedule_id", payload.ScheduleID, "error", err)
	}

	link, ok := p.dispatch.TakeDispatchLink(payload.ScheduleID)
	if !ok {
		p.logger.Warn("completed frame for unknown dispatch link", "schedule_id", payload.ScheduleID)
		return
	}

	// A daemon's process exiting isn't the schedule ending — it stays
	// schedule_status=scheduling so evaluateDaemons' poll picks it up and
	// retryOrStop decides whether to restart it or stop for good (§4.D).
	scheduleStatus := domain.ScheduleStatusStop
	if link.ScheduleType == domain.ScheduleDaemon {
		scheduleStatus = domain.ScheduleStatusScheduling
	}

	key := domain.RunningStatusKey{Eid: link.Eid, ScheduleType: link.ScheduleType, InstanceID: instanceID}
	retryCount := 0
	if existing, err := p.running.Get(ctx, key); err == nil {
		retryCount = existing.RetryCount
	}

	now := time.Now()
	if err := p.running.Upsert(ctx, &domain.RunningStatus{
		Eid:            link.Eid,
		ScheduleType:   link.ScheduleType,
		InstanceID:     instanceID,
		ScheduleID:     payload.ScheduleID,
		ScheduleStatus: scheduleStatus,
		RunStatus:      domain.RunStatusStop,
		ExitStatus:     exitStatus,
		ExitCode:       payload.ExitCode,
		EndTime:        &now,
		RetryCount:     retryCount,
	}); err != nil {
		p.logger.Error("upsert running status failed", "schedule_id", payload.ScheduleID, "error", err)
	}

	if link.WorkflowProcessID == "" {
		return
	}
	if err := p.evaluator.NodeCompleted(ctx, link.WorkflowProcessID, link.WorkflowNodeID, payload.ExitCode, exitStatus, "", nil); err != nil {
		p.logger.Error("workflow node completed failed", "process_id", link.WorkflowProcessID, "node_id", link.WorkflowNodeID, "error", err)
	}
}
