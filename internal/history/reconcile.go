// Package history owns the reconciliation sweep that reconciles
// running_status against live Comet links after a Console restart or
// outage (§4.F), adapted from the teacher's Reaper stale-heartbeat sweep.
// Append-only persistence of schedule_history/exec_history itself lives in
// internal/repository + internal/infrastructure/mysql; this package only
// adds the sweep behavior layered on top of RunningStatusRepository.
package history

import (
	"context"
	"log/slog"
	"time"

	"github.com/ErlanBelekov/dist-job-scheduler/internal/domain"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/metrics"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/repository"
)

// Router is the narrow routing lookup the sweep needs; dispatcher.Router
// and redisindex.RoutingIndex both satisfy it.
type Router interface {
	Lookup(ctx context.Context, instanceID string) (cometID string, ok bool, err error)
}

// Reconciler probes every running_status row claiming run_status=running
// against the shared routing index: a row whose instance has no current
// Comet link is stale — it was orphaned by a Console or Comet crash — and
// is marked exit_status=lost (§7 error taxonomy "lost (reconciliation)").
type Reconciler struct {
	running repository.RunningStatusRepository
	router  Router
	logger  *slog.Logger
}

func NewReconciler(running repository.RunningStatusRepository, router Router, logger *slog.Logger) *Reconciler {
	return &Reconciler{running: running, router: router, logger: logger.With("component", "reconciler")}
}

// Run performs a single sweep, intended to be called once at Console
// startup before the scheduler engine begins ticking (§4.F "startup
// reconciliation"), and is safe to call periodically as well for
// defense-in-depth against links that silently drop mid-session.
func (r *Reconciler) Run(ctx context.Context) error {
	rows, err := r.running.ListRunning(ctx)
	if err != nil {
		return err
	}

	lost := 0
	for _, rs := range rows {
		_, connected, err := r.router.Lookup(ctx, rs.InstanceID)
		if err != nil {
			r.logger.Error("reconcile: router lookup failed", "instance_id", rs.InstanceID, "error", err)
			continue
		}
		if connected {
			continue
		}

		now := time.Now()
		if err := r.running.Upsert(ctx, &domain.RunningStatus{
			Eid:            rs.Eid,
			ScheduleType:   rs.ScheduleType,
			InstanceID:     rs.InstanceID,
			ScheduleID:     rs.ScheduleID,
			ScheduleStatus: rs.ScheduleStatus,
			RunStatus:      domain.RunStatusStop,
			ExitStatus:     domain.ExitStatusLost,
			RetryCount:     rs.RetryCount,
			StartTime:      rs.StartTime,
			EndTime:        &now,
		}); err != nil {
			r.logger.Error("reconcile: mark lost failed", "eid", rs.Eid, "instance_id", rs.InstanceID, "error", err)
			continue
		}
		lost++
		r.logger.Warn("reconciled orphaned run as lost", "eid", rs.Eid, "instance_id", rs.InstanceID, "schedule_id", rs.ScheduleID)
	}

	if lost > 0 {
		r.logger.Info("reconciliation sweep complete", "lost", lost, "checked", len(rows))
	}
	metrics.RunningStatusRows.Set(float64(len(rows) - lost))
	return nil
}

// Start runs the sweep once immediately, then periodically at interval
// until ctx is cancelled, in case a link drops silently between Comet's own
// disconnect handling and the routing index's TTL expiry.
func (r *Reconciler) Start(ctx context.Context, interval time.Duration) {
	if err := r.Run(ctx); err != nil {
		r.logger.Error("startup reconciliation failed", "error", err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.Run(ctx); err != nil {
				r.logger.Error("periodic reconciliation failed", "error", err)
			}
		}
	}
}
