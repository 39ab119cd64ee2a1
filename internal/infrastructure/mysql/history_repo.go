package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ErlanBelekov/dist-job-scheduler/internal/domain"
)

type HistoryRepository struct {
	db *sql.DB
}

func NewHistoryRepository(db *sql.DB) *HistoryRepository {
	return &HistoryRepository{db: db}
}

func (r *HistoryRepository) CreateScheduleHistory(ctx context.Context, h *domain.ScheduleHistory) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO schedule_history (
			schedule_id, eid, action, schedule_type, dispatch_result, dispatch_data, snapshot_data
		) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		h.ScheduleID, h.Eid, h.Action, h.ScheduleType, jsonCol(h.DispatchResult), h.DispatchData, h.SnapshotData,
	)
	if err != nil {
		return fmt.Errorf("create schedule history: %w", err)
	}
	return nil
}

func (r *HistoryRepository) GetScheduleHistory(ctx context.Context, scheduleID string) (*domain.ScheduleHistory, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, schedule_id, eid, action, schedule_type, dispatch_result,
		       dispatch_data, snapshot_data, created_at
		FROM schedule_history WHERE schedule_id = ?`, scheduleID)

	var h domain.ScheduleHistory
	var dispatchResult []byte
	err := row.Scan(&h.ID, &h.ScheduleID, &h.Eid, &h.Action, &h.ScheduleType,
		&dispatchResult, &h.DispatchData, &h.SnapshotData, &h.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrScheduleNotFound
		}
		return nil, fmt.Errorf("scan schedule history: %w", err)
	}
	if err := unmarshalCol(dispatchResult, &h.DispatchResult); err != nil {
		return nil, fmt.Errorf("scan schedule history dispatch_result: %w", err)
	}
	return &h, nil
}

func (r *HistoryRepository) CreateExecHistory(ctx context.Context, h *domain.ExecHistory) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO exec_history (
			schedule_id, eid, instance_id, run_id, exit_code, exit_status,
			output, output_truncated, bundle_script_result, start_time, end_time
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		h.ScheduleID, h.Eid, h.InstanceID, h.RunID, h.ExitCode, h.ExitStatus,
		h.Output, h.OutputTruncated, jsonCol(h.BundleScriptResult), h.StartTime, h.EndTime,
	)
	if err != nil {
		return fmt.Errorf("create exec history: %w", err)
	}
	return nil
}

// AppendOutput appends a bounded output chunk to an open exec_history row.
// MySQL lacks Postgres' `||` text-append operator; CONCAT does the same job
// and the caller is responsible for the truncation bound (§4.A output cap).
func (r *HistoryRepository) AppendOutput(ctx context.Context, scheduleID, instanceID, runID, chunk string, truncated bool) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE exec_history
		SET output = CONCAT(output, ?), output_truncated = output_truncated OR ?
		WHERE schedule_id = ? AND instance_id = ? AND run_id = ?`,
		chunk, truncated, scheduleID, instanceID, runID,
	)
	if err != nil {
		return fmt.Errorf("append output: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("append output: %w", err)
	}
	if n == 0 {
		return domain.ErrScheduleNotFound
	}
	return nil
}

func (r *HistoryRepository) FinalizeExecHistory(ctx context.Context, scheduleID, instanceID, runID string, exitCode *int, exitStatus domain.ExitStatus, bundleResult []domain.BundleStepResult) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE exec_history
		SET exit_code = ?, exit_status = ?, bundle_script_result = ?, end_time = NOW()
		WHERE schedule_id = ? AND instance_id = ? AND run_id = ?`,
		exitCode, exitStatus, jsonCol(bundleResult), scheduleID, instanceID, runID,
	)
	if err != nil {
		return fmt.Errorf("finalize exec history: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finalize exec history: %w", err)
	}
	if n == 0 {
		return domain.ErrScheduleNotFound
	}
	return nil
}

func (r *HistoryRepository) ListExecHistory(ctx context.Context, scheduleID string) ([]*domain.ExecHistory, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, schedule_id, eid, instance_id, run_id, exit_code, exit_status,
		       output, output_truncated, bundle_script_result, start_time, end_time
		FROM exec_history WHERE schedule_id = ? ORDER BY start_time ASC`, scheduleID)
	if err != nil {
		return nil, fmt.Errorf("list exec history: %w", err)
	}
	defer rows.Close()

	var out []*domain.ExecHistory
	for rows.Next() {
		var h domain.ExecHistory
		var bundle []byte
		if err := rows.Scan(&h.ID, &h.ScheduleID, &h.Eid, &h.InstanceID, &h.RunID,
			&h.ExitCode, &h.ExitStatus, &h.Output, &h.OutputTruncated, &bundle,
			&h.StartTime, &h.EndTime); err != nil {
			return nil, fmt.Errorf("scan exec history: %w", err)
		}
		if err := json.Unmarshal(bundle, &h.BundleScriptResult); err != nil && len(bundle) > 0 {
			return nil, fmt.Errorf("scan exec history bundle_script_result: %w", err)
		}
		out = append(out, &h)
	}
	return out, rows.Err()
}
