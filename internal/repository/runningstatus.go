package repository

import (
	"context"

	"github.com/ErlanBelekov/dist-job-scheduler/internal/domain"
)

// RunningStatusRepository serializes the one shared piece of mutable state
// through the relational store (§9 concurrency control), keyed by
// (eid, schedule_type, instance_id) (invariant 2).
type RunningStatusRepository interface {
	// Upsert creates or updates the row for key, idempotent across retries
	// of the same dispatch (§4.F).
	Upsert(ctx context.Context, rs *domain.RunningStatus) error
	Get(ctx context.Context, key domain.RunningStatusKey) (*domain.RunningStatus, error)

	// LiveCount returns how many rows for (eid, instance_id) currently have
	// RunStatus == running, for max_parallel enforcement (invariant 6).
	LiveCount(ctx context.Context, eid, instanceID string) (int, error)

	// ListRunning returns every row with RunStatus == running, used by the
	// Console startup reconciliation sweep (§4.F).
	ListRunning(ctx context.Context) ([]*domain.RunningStatus, error)

	// ListDueDaemons returns scheduling/stop daemon rows that need re-exec
	// (§4.D daemon mode).
	ListDueDaemons(ctx context.Context) ([]*domain.RunningStatus, error)
}
