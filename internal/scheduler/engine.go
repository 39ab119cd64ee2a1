package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ErlanBelekov/dist-job-scheduler/internal/dispatcher"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/domain"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/metrics"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/repository"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/wire"
	"github.com/google/uuid"
)

// FailureNotifier alerts operators when a schedule permanently stops. Set
// via Engine.SetNotifier; nil means no alerting (e.g. in tests).
type FailureNotifier interface {
	PermanentFailure(ctx context.Context, eid, instanceID string, retryCount int, lastExitStatus string) error
}

// Leaser gates whether this Console replica is allowed to evaluate timers
// and drive retries, so two replicas never fire the same timer twice
// (§9 "two Console replicas must not both evaluate the same timer").
// Implemented by internal/infrastructure/redisindex via SET NX PX.
type Leaser interface {
	Acquire(ctx context.Context) (bool, error)
	Renew(ctx context.Context) error
	Release(ctx context.Context)
}

// Engine is the Scheduler tier (§4.D): it owns the tick loop that decides
// when each timer/daemon fires and re-dispatches retries, delegating the
// actual fan-out to dispatcher.Dispatcher.
type Engine struct {
	timers  repository.TimerRepository
	jobs    repository.JobRepository
	running repository.RunningStatusRepository
	dispatch *dispatcher.Dispatcher
	leaser  Leaser
	logger  *slog.Logger

	tickInterval time.Duration

	mu       sync.Mutex
	nextFire map[string]time.Time

	notifier FailureNotifier
}

// SetNotifier wires an alert sink for permanent schedule failures.
// Optional — nil disables alerting.
func (e *Engine) SetNotifier(n FailureNotifier) { e.notifier = n }

func NewEngine(
	timers repository.TimerRepository,
	jobs repository.JobRepository,
	running repository.RunningStatusRepository,
	dispatch *dispatcher.Dispatcher,
	leaser Leaser,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		timers:       timers,
		jobs:         jobs,
		running:      running,
		dispatch:     dispatch,
		leaser:       leaser,
		logger:       logger.With("component", "scheduler"),
		tickInterval: time.Second,
		nextFire:     make(map[string]time.Time),
	}
}

// Start runs the evaluation loop until ctx is cancelled. Only ticks while
// this replica holds the leader lease.
func (e *Engine) Start(ctx context.Context) {
	ticker := time.NewTicker(e.tickInterval)
	defer ticker.Stop()

	e.logger.Info("scheduler engine started", "tick_interval", e.tickInterval)

	for {
		select {
		case <-ctx.Done():
			e.leaser.Release(context.Background())
			e.logger.Info("scheduler engine shut down")
			return
		case <-ticker.C:
			e.tick(ctx)
		}
	}
}

func (e *Engine) tick(ctx context.Context) {
	isLeader, err := e.leaser.Acquire(ctx)
	if err != nil {
		e.logger.Error("leader lease acquire failed", "error", err)
		return
	}
	if !isLeader {
		return
	}
	if err := e.leaser.Renew(ctx); err != nil {
		e.logger.Error("leader lease renew failed", "error", err)
		return
	}

	e.evaluateTimers(ctx)
	e.evaluateDaemons(ctx)
}

// evaluateTimers fires every ScheduleTimer whose next-fire time has
// arrived, re-issuing exec with a fresh schedule_id (§4.D timer mode).
func (e *Engine) evaluateTimers(ctx context.Context) {
	timers, err := e.timers.ListEnabled(ctx)
	if err != nil {
		e.logger.Error("list enabled timers failed", "error", err)
		return
	}

	now := time.Now()
	for _, t := range timers {
		if t.TimerExpr.Mode == domain.TimerEvalAgent {
			continue
		}
		due, next, err := e.dueTime(t, now)
		if err != nil {
			e.logger.Error("invalid cron expression", "timer_id", t.ID, "eid", t.Eid, "error", err)
			continue
		}
		if !due {
			continue
		}

		e.mu.Lock()
		e.nextFire[t.ID] = next
		e.mu.Unlock()

		e.fireTimer(ctx, t)
	}
}

// dueTime reports whether timer t should fire now, and caches its next
// fire time so repeated ticks don't re-parse the cron expression. On first
// sight of a timer (e.g. after a restart) this computes the next fire from
// now rather than replaying every missed tick, coalescing catch-up to at
// most one fire per §4.D "coalesced to at most one catch-up fire".
func (e *Engine) dueTime(t *domain.Timer, now time.Time) (due bool, next time.Time, err error) {
	e.mu.Lock()
	cached, ok := e.nextFire[t.ID]
	e.mu.Unlock()

	if !ok {
		cached, err = nextFire(t.TimerExpr, now.Add(-time.Second))
		if err != nil {
			return false, time.Time{}, err
		}
		e.mu.Lock()
		e.nextFire[t.ID] = cached
		e.mu.Unlock()
	}

	if now.Before(cached) {
		return false, cached, nil
	}

	next, err = nextFire(t.TimerExpr, now)
	if err != nil {
		return false, time.Time{}, err
	}
	return true, next, nil
}

func (e *Engine) fireTimer(ctx context.Context, t *domain.Timer) {
	job, err := e.jobs.GetJobByEid(ctx, t.Eid)
	if err != nil {
		e.logger.Error("fire timer: get job", "eid", t.Eid, "error", err)
		return
	}

	s := domain.Schedule{
		ScheduleID:   uuid.NewString(),
		Eid:          t.Eid,
		Action:       domain.ActionExec,
		ScheduleType: domain.ScheduleTimer,
		RunID:        uuid.NewString(),
	}

	metrics.SchedulerTimerFiresTotal.WithLabelValues(string(domain.ScheduleTimer)).Inc()
	e.logger.Info("timer fired", "timer_id", t.ID, "eid", t.Eid, "schedule_id", s.ScheduleID)

	if _, err := e.dispatch.Dispatch(ctx, s, t.Targets, job.MaxParallel); err != nil {
		e.logger.Error("fire timer: dispatch", "eid", t.Eid, "schedule_id", s.ScheduleID, "error", err)
	}
}

// evaluateDaemons re-issues exec for every daemon-mode running_status row
// whose run_status has gone to stop while schedule_status is still
// scheduling, applying the retry backoff if max_retry allows it
// (§4.D daemon mode).
func (e *Engine) evaluateDaemons(ctx context.Context) {
	due, err := e.running.ListDueDaemons(ctx)
	if err != nil {
		e.logger.Error("list due daemons failed", "error", err)
		return
	}

	for _, rs := range due {
		e.retryOrStop(ctx, rs)
	}
}

// retryOrStop re-dispatches rs's schedule if its retry budget allows,
// applying exponential backoff; otherwise it marks the schedule stopped
// (§4.D retry policy, invariant 5: retries never exceed max_retry).
func (e *Engine) retryOrStop(ctx context.Context, rs *domain.RunningStatus) {
	job, err := e.jobs.GetJobByEid(ctx, rs.Eid)
	if err != nil {
		e.logger.Error("retry: get job", "eid", rs.Eid, "error", err)
		return
	}

	if rs.RetryCount >= job.MaxRetry {
		e.logger.Info("retry budget exhausted, stopping schedule", "eid", rs.Eid, "instance_id", rs.InstanceID, "retry_count", rs.RetryCount)
		if err := e.running.Upsert(ctx, &domain.RunningStatus{
			Eid:            rs.Eid,
			ScheduleType:   rs.ScheduleType,
			InstanceID:     rs.InstanceID,
			ScheduleID:     rs.ScheduleID,
			RunID:          rs.RunID,
			ScheduleStatus: domain.ScheduleStatusStop,
			RunStatus:      domain.RunStatusStop,
			ExitStatus:     rs.ExitStatus,
			ExitCode:       rs.ExitCode,
			RetryCount:     rs.RetryCount,
		}); err != nil {
			e.logger.Error("stop schedule after exhausted retries", "eid", rs.Eid, "error", err)
		}
		if e.notifier != nil {
			if err := e.notifier.PermanentFailure(ctx, rs.Eid, rs.InstanceID, rs.RetryCount, string(rs.ExitStatus)); err != nil {
				e.logger.Error("permanent failure alert", "eid", rs.Eid, "error", err)
			}
		}
		return
	}

	delay := backoffDelay(rs.RetryCount)
	metrics.SchedulerRetryTotal.WithLabelValues(rs.Eid).Inc()
	e.logger.Info("scheduling retry", "eid", rs.Eid, "instance_id", rs.InstanceID, "attempt", rs.RetryCount+1, "delay", delay)

	go e.delayedRetry(ctx, rs, job, delay)
}

func (e *Engine) delayedRetry(ctx context.Context, rs *domain.RunningStatus, job *domain.Job, delay time.Duration) {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}

	s := domain.Schedule{
		ScheduleID:   rs.ScheduleID,
		Eid:          rs.Eid,
		Action:       domain.ActionExec,
		ScheduleType: rs.ScheduleType,
		RunID:        uuid.NewString(),
	}
	sel := domain.TargetSelector{InstanceIDs: []string{rs.InstanceID}}
	if _, err := e.dispatch.Dispatch(ctx, s, sel, job.MaxParallel); err != nil {
		e.logger.Error("retry dispatch failed", "eid", rs.Eid, "instance_id", rs.InstanceID, "error", err)
	}

	// Dispatch rewrites the running_status row with a zero retry count;
	// carry this attempt's number forward so retryOrStop's budget check sees it.
	key := domain.RunningStatusKey{Eid: rs.Eid, ScheduleType: rs.ScheduleType, InstanceID: rs.InstanceID}
	if row, err := e.running.Get(ctx, key); err == nil {
		row.RetryCount = rs.RetryCount + 1
		if err := e.running.Upsert(ctx, row); err != nil {
			e.logger.Error("record retry count failed", "eid", rs.Eid, "instance_id", rs.InstanceID, "error", err)
		}
	}
}

// Kill issues a kill action against every live process for (eid,
// schedule_type), regardless of run_id, per §4.C tie-break rule and §4.D
// "kill propagation" — and marks schedule_status=stop so daemon/timer
// re-evaluation does not resurrect it.
func (e *Engine) Kill(ctx context.Context, eid string, scheduleType domain.ScheduleType, router dispatcher.Router, forwarder dispatcher.Forwarder) error {
	rows, err := e.running.ListRunning(ctx)
	if err != nil {
		return err
	}

	for _, rs := range rows {
		if rs.Eid != eid || rs.ScheduleType != scheduleType {
			continue
		}
		cometID, ok, err := router.Lookup(ctx, rs.InstanceID)
		if err != nil || !ok {
			e.logger.Warn("kill: instance not connected", "eid", eid, "instance_id", rs.InstanceID)
			continue
		}
		killCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = forwarder.Forward(killCtx, cometID, rs.InstanceID, wire.KindKill, rs.ScheduleID, wire.KillPayload{
			ScheduleID: rs.ScheduleID,
			RunID:      rs.RunID,
		})
		cancel()
		if err != nil {
			e.logger.Error("kill forward failed", "eid", eid, "instance_id", rs.InstanceID, "error", err)
			continue
		}
		if err := e.running.Upsert(ctx, &domain.RunningStatus{
			Eid:            rs.Eid,
			ScheduleType:   rs.ScheduleType,
			InstanceID:     rs.InstanceID,
			ScheduleID:     rs.ScheduleID,
			RunID:          rs.RunID,
			ScheduleStatus: domain.ScheduleStatusStop,
			RunStatus:      rs.RunStatus,
			RetryCount:     rs.RetryCount,
		}); err != nil {
			e.logger.Error("mark schedule stop after kill", "eid", eid, "instance_id", rs.InstanceID, "error", err)
		}
	}
	return nil
}
