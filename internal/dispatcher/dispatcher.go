// Package dispatcher resolves a Schedule's target instances, fans the exec
// out to each through the Comet it is currently connected to, and
// materializes the schedule_history/running_status rows that make the
// attempt observable (§4.C).
package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ErlanBelekov/dist-job-scheduler/internal/domain"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/metrics"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/repository"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/wire"
)

// Forwarder implementations (e.g. CometForwarder in cometclient.go)
// report these sentinels so classifyForwardErr can map them onto the wire
// vocabulary's dispatch outcomes without dispatcher importing comet or any
// particular transport.
var (
	ErrForwardUnreachable  = errors.New("dispatcher: comet unreachable")
	ErrForwardNotConnected = errors.New("dispatcher: instance not connected to target comet")
	ErrForwardLinkClosed   = errors.New("dispatcher: link closed while forwarding")
)

// Router tells the dispatcher which Comet currently holds the link for a
// given instance_id — backed by the shared routing index
// (internal/infrastructure/redisindex, §2 "Console looks up instance_id ->
// comet_id before fanning out").
type Router interface {
	Lookup(ctx context.Context, instanceID string) (cometID string, ok bool, err error)
}

// Forwarder sends one frame to instanceID through whichever Comet it is
// reachable on. cmd/console wires one CometForwarder (cometclient.go)
// holding the comet_id -> address map of every known Comet; tests supply
// fakes.
type Forwarder interface {
	Forward(ctx context.Context, cometID, instanceID string, kind wire.Kind, id string, payload any) error
}

// DispatchLink correlates a dispatched schedule_id back to the key its
// running_status row lives under, and (when set) the workflow process/node
// that activated it — neither column set travels in wire.CompletedPayload,
// so Console's upstream completion handler looks them up here (§4.E, §4.F).
type DispatchLink struct {
	Eid               string
	ScheduleType      domain.ScheduleType
	WorkflowProcessID string
	WorkflowNodeID    string
}

// Dispatcher implements §4.C step-by-step: resolve targets, check
// max_parallel per target, forward, and record the outcome.
type Dispatcher struct {
	instances repository.InstanceRepository
	jobs      repository.JobRepository
	running   repository.RunningStatusRepository
	history   repository.HistoryRepository
	router    Router
	forwarder Forwarder
	logger    *slog.Logger

	linksMu sync.Mutex
	links   map[string]DispatchLink // schedule_id -> dispatch link
}

func New(
	instances repository.InstanceRepository,
	jobs repository.JobRepository,
	running repository.RunningStatusRepository,
	history repository.HistoryRepository,
	router Router,
	forwarder Forwarder,
	logger *slog.Logger,
) *Dispatcher {
	return &Dispatcher{
		instances: instances,
		jobs:      jobs,
		running:   running,
		history:   history,
		router:    router,
		forwarder: forwarder,
		logger:    logger.With("component", "dispatcher"),
		links:     make(map[string]DispatchLink),
	}
}

// TakeDispatchLink returns and forgets scheduleID's link, if any — consumed
// once its completion arrives so the map stays bounded by in-flight
// schedules rather than growing without bound.
func (d *Dispatcher) TakeDispatchLink(scheduleID string) (DispatchLink, bool) {
	d.linksMu.Lock()
	defer d.linksMu.Unlock()
	l, ok := d.links[scheduleID]
	if ok {
		delete(d.links, scheduleID)
	}
	return l, ok
}

// Result is the per-instance outcome of one Dispatch call, returned so the
// scheduler/workflow callers can react (e.g. a workflow node join policy
// needs every target's outcome before evaluating edges).
type Result struct {
	InstanceID string
	Outcome    domain.DispatchOutcome
	Err        error
}

// Dispatch resolves sel into concrete instances, enforces max_parallel
// per instance, forwards an exec frame to every instance that passes, and
// writes one schedule_history row plus one running_status row per target
// (§4.C steps 1-6; invariant 2 and 6).
func (d *Dispatcher) Dispatch(ctx context.Context, s domain.Schedule, sel domain.TargetSelector, maxParallel int) ([]Result, error) {
	start := time.Now()
	defer func() { metrics.DispatcherFanoutDuration.Observe(time.Since(start).Seconds()) }()

	d.linksMu.Lock()
	d.links[s.ScheduleID] = DispatchLink{
		Eid:               s.Eid,
		ScheduleType:      s.ScheduleType,
		WorkflowProcessID: s.WorkflowProcessID,
		WorkflowNodeID:    s.WorkflowNodeID,
	}
	d.linksMu.Unlock()

	snapshot, err := d.jobs.Snapshot(ctx, s.Eid)
	if err != nil {
		return nil, fmt.Errorf("dispatcher: snapshot %s: %w", s.Eid, err)
	}

	targets, err := d.instances.Resolve(ctx, sel)
	if err != nil {
		return nil, fmt.Errorf("dispatcher: resolve targets: %w", err)
	}

	dispatchResult := make(map[string]string, len(targets))
	results := make([]Result, 0, len(targets))

	for _, inst := range targets {
		outcome := d.dispatchOne(ctx, s, *snapshot, inst, maxParallel)
		dispatchResult[inst.InstanceID] = string(outcome)
		metrics.DispatchResultTotal.WithLabelValues(string(outcome)).Inc()
		results = append(results, Result{InstanceID: inst.InstanceID, Outcome: outcome})
	}

	snapshotData, err := json.Marshal(snapshot)
	if err != nil {
		return nil, fmt.Errorf("dispatcher: marshal snapshot: %w", err)
	}
	if err := d.history.CreateScheduleHistory(ctx, &domain.ScheduleHistory{
		ScheduleID:     s.ScheduleID,
		Eid:            s.Eid,
		Action:         s.Action,
		ScheduleType:   s.ScheduleType,
		DispatchResult: dispatchResult,
		SnapshotData:   snapshotData,
	}); err != nil {
		d.logger.Error("create schedule history failed", "schedule_id", s.ScheduleID, "error", err)
	}

	return results, nil
}

func (d *Dispatcher) dispatchOne(ctx context.Context, s domain.Schedule, snapshot domain.Snapshot, inst *domain.Instance, maxParallel int) domain.DispatchOutcome {
	key := domain.RunningStatusKey{Eid: s.Eid, ScheduleType: s.ScheduleType, InstanceID: inst.InstanceID}

	if maxParallel > 0 {
		live, err := d.running.LiveCount(ctx, s.Eid, inst.InstanceID)
		if err != nil {
			d.logger.Error("live count failed", "eid", s.Eid, "instance_id", inst.InstanceID, "error", err)
		} else if live >= maxParallel {
			d.recordRunningStatus(ctx, key, s, domain.DispatchRejectedParallel, nil)
			return domain.DispatchRejectedParallel
		}
	}

	cometID, ok, err := d.router.Lookup(ctx, inst.InstanceID)
	if err != nil || !ok {
		d.recordRunningStatus(ctx, key, s, domain.DispatchFailedNotConnected, nil)
		return domain.DispatchFailedNotConnected
	}

	payload := wire.ExecPayload{
		ScheduleID:     s.ScheduleID,
		RunID:          s.RunID,
		Eid:            s.Eid,
		Code:           snapshot.Job.Code,
		ExecutorCmd:    snapshot.Executor.Command,
		ReadCodeStdin:  snapshot.Executor.ReadCodeFromStdin,
		Args:           snapshot.Job.Args,
		WorkDir:        snapshot.Job.WorkDir,
		WorkUser:       snapshot.Job.WorkUser,
		TimeoutSeconds: snapshot.Job.TimeoutSeconds,
		MaxParallel:    snapshot.Job.MaxParallel,
		JobType:        string(snapshot.Job.JobType),
	}

	if snapshot.Job.JobType == domain.JobTypeBundle {
		payload.BundleScript = d.resolveBundleSteps(ctx, s, snapshot.Job.BundleScript)
	}

	forwardCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	err = d.forwarder.Forward(forwardCtx, cometID, inst.InstanceID, wire.KindExec, s.ScheduleID, payload)
	cancel()
	if err != nil {
		outcome := classifyForwardErr(err)
		d.recordRunningStatus(ctx, key, s, outcome, nil)
		return outcome
	}

	now := time.Now()
	d.recordRunningStatus(ctx, key, s, domain.DispatchAccepted, &now)

	if err := d.history.CreateExecHistory(ctx, &domain.ExecHistory{
		ScheduleID: s.ScheduleID,
		Eid:        s.Eid,
		InstanceID: inst.InstanceID,
		RunID:      s.RunID,
		StartTime:  now,
	}); err != nil {
		d.logger.Error("create exec history failed", "schedule_id", s.ScheduleID, "error", err)
	}

	return domain.DispatchAccepted
}

func (d *Dispatcher) recordRunningStatus(ctx context.Context, key domain.RunningStatusKey, s domain.Schedule, outcome domain.DispatchOutcome, startTime *time.Time) {
	runStatus := domain.RunStatusStop
	if outcome == domain.DispatchAccepted {
		runStatus = domain.RunStatusRunning
	}
	if err := d.running.Upsert(ctx, &domain.RunningStatus{
		Eid:            key.Eid,
		ScheduleType:   key.ScheduleType,
		InstanceID:     key.InstanceID,
		ScheduleID:     s.ScheduleID,
		RunID:          s.RunID,
		ScheduleStatus: domain.ScheduleStatusScheduling,
		RunStatus:      runStatus,
		DispatchResult: string(outcome),
		StartTime:      startTime,
	}); err != nil {
		d.logger.Error("upsert running status failed", "eid", key.Eid, "instance_id", key.InstanceID, "error", err)
	}
}

// resolveBundleSteps fetches each referenced job's snapshot so the Agent
// receives fully-resolved steps — it has no repository access of its own to
// turn an EidRef into code/executor (§3 Job, job_type == bundle).
func (d *Dispatcher) resolveBundleSteps(ctx context.Context, s domain.Schedule, steps []domain.BundleStep) []wire.BundleStepFrame {
	frames := make([]wire.BundleStepFrame, 0, len(steps))
	for _, step := range steps {
		stepSnapshot, err := d.jobs.Snapshot(ctx, step.EidRef)
		if err != nil {
			d.logger.Error("resolve bundle step failed", "schedule_id", s.ScheduleID, "step_eid", step.EidRef, "error", err)
			continue
		}
		args := stepSnapshot.Job.Args
		if len(step.ArgsOverride) > 0 {
			args = mergeArgs(stepSnapshot.Job.Args, step.ArgsOverride)
		}
		frames = append(frames, wire.BundleStepFrame{
			Eid:             step.EidRef,
			Code:            stepSnapshot.Job.Code,
			ExecutorCmd:     stepSnapshot.Executor.Command,
			ReadCodeStdin:   stepSnapshot.Executor.ReadCodeFromStdin,
			Args:            args,
			ContinueOnError: step.ContinueOnError,
		})
	}
	return frames
}

// mergeArgs overlays override onto base by "key=value" prefix match,
// appending any override entry whose key isn't already present in base.
func mergeArgs(base []string, override map[string]string) []string {
	merged := make([]string, 0, len(base)+len(override))
	seen := make(map[string]bool, len(override))
	for _, arg := range base {
		replaced := false
		for k, v := range override {
			if strings.HasPrefix(arg, k+"=") {
				merged = append(merged, k+"="+v)
				seen[k] = true
				replaced = true
				break
			}
		}
		if !replaced {
			merged = append(merged, arg)
		}
	}
	for k, v := range override {
		if !seen[k] {
			merged = append(merged, k+"="+v)
		}
	}
	return merged
}

func classifyForwardErr(err error) domain.DispatchOutcome {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return domain.DispatchFailedTimeout
	case errors.Is(err, ErrForwardNotConnected):
		return domain.DispatchFailedNotConnected
	default:
		// ErrForwardLinkClosed, ErrForwardUnreachable, and anything else a
		// Forwarder implementation returns all collapse to link_closed —
		// the wire vocabulary (§7) has no finer distinction than "the
		// attempt to reach the instance through its comet failed".
		return domain.DispatchFailedLinkClosed
	}
}
