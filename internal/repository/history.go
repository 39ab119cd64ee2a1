package repository

import (
	"context"

	"github.com/ErlanBelekov/dist-job-scheduler/internal/domain"
)

// HistoryRepository owns the two append-only history tables (§3, §4.F).
type HistoryRepository interface {
	// CreateScheduleHistory writes the single dispatch-decision row for a
	// schedule_id (§4.C step 4). Append-only.
	CreateScheduleHistory(ctx context.Context, h *domain.ScheduleHistory) error
	GetScheduleHistory(ctx context.Context, scheduleID string) (*domain.ScheduleHistory, error)

	// CreateExecHistory opens a row at accepted-dispatch time (§4.C step 6).
	CreateExecHistory(ctx context.Context, h *domain.ExecHistory) error
	// AppendOutput appends a bounded output chunk to an open exec_history row.
	AppendOutput(ctx context.Context, scheduleID, instanceID, runID, chunk string, truncated bool) error
	// FinalizeExecHistory closes the row with the completed outcome.
	FinalizeExecHistory(ctx context.Context, scheduleID, instanceID, runID string, exitCode *int, exitStatus domain.ExitStatus, bundleResult []domain.BundleStepResult) error

	ListExecHistory(ctx context.Context, scheduleID string) ([]*domain.ExecHistory, error)
}
