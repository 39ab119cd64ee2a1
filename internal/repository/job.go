package repository

import (
	"context"

	"github.com/ErlanBelekov/dist-job-scheduler/internal/domain"
)

// JobRepository owns executor + job CRUD and the eid -> snapshot lookup the
// dispatcher needs at decision time (§3 Job, Executor; §4.C step 4).
type JobRepository interface {
	CreateExecutor(ctx context.Context, e *domain.Executor) (*domain.Executor, error)
	GetExecutor(ctx context.Context, id string) (*domain.Executor, error)

	CreateJob(ctx context.Context, j *domain.Job) (*domain.Job, error)
	GetJobByEid(ctx context.Context, eid string) (*domain.Job, error)
	ListJobs(ctx context.Context, teamID string) ([]*domain.Job, error)
	DeleteJob(ctx context.Context, eid string) error

	// Snapshot resolves the (job, executor) pair as of now for dispatch-time
	// freezing into schedule_history.snapshot_data.
	Snapshot(ctx context.Context, eid string) (*domain.Snapshot, error)
}
