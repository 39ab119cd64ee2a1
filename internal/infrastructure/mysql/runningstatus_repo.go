package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ErlanBelekov/dist-job-scheduler/internal/domain"
)

type RunningStatusRepository struct {
	db *sql.DB
}

func NewRunningStatusRepository(db *sql.DB) *RunningStatusRepository {
	return &RunningStatusRepository{db: db}
}

// Upsert writes the row for (eid, schedule_type, instance_id), idempotent
// across retries of the same dispatch (invariant 2: one row per key).
func (r *RunningStatusRepository) Upsert(ctx context.Context, rs *domain.RunningStatus) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO running_status (
			eid, schedule_type, instance_id, schedule_id, run_id, schedule_status, run_status,
			exit_status, exit_code, dispatch_result, start_time, end_time, next_time,
			prev_time, retry_count
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			schedule_id = VALUES(schedule_id),
			run_id = VALUES(run_id),
			schedule_status = VALUES(schedule_status),
			run_status = VALUES(run_status),
			exit_status = VALUES(exit_status),
			exit_code = VALUES(exit_code),
			dispatch_result = VALUES(dispatch_result),
			start_time = VALUES(start_time),
			end_time = VALUES(end_time),
			next_time = VALUES(next_time),
			prev_time = VALUES(prev_time),
			retry_count = VALUES(retry_count)`,
		rs.Eid, rs.ScheduleType, rs.InstanceID, rs.ScheduleID, rs.RunID, rs.ScheduleStatus, rs.RunStatus,
		rs.ExitStatus, rs.ExitCode, rs.DispatchResult, rs.StartTime, rs.EndTime, rs.NextTime,
		rs.PrevTime, rs.RetryCount,
	)
	if err != nil {
		return fmt.Errorf("upsert running status: %w", err)
	}
	return nil
}

func (r *RunningStatusRepository) Get(ctx context.Context, key domain.RunningStatusKey) (*domain.RunningStatus, error) {
	row := r.db.QueryRowContext(ctx, runningStatusSelect+`
		WHERE eid = ? AND schedule_type = ? AND instance_id = ?`,
		key.Eid, key.ScheduleType, key.InstanceID,
	)
	return scanRunningStatus(row)
}

// LiveCount counts rows currently RunStatus == running for (eid, instance_id),
// for max_parallel enforcement (invariant 6). The count is a plain read,
// taken outside any transaction or row lock, so two concurrent dispatches
// for the same key can both see the same count.
func (r *RunningStatusRepository) LiveCount(ctx context.Context, eid, instanceID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM running_status
		WHERE eid = ? AND instance_id = ? AND run_status = ?`,
		eid, instanceID, domain.RunStatusRunning,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("live count: %w", err)
	}
	return n, nil
}

// ListRunning returns every row with RunStatus == running, used by the
// Console startup reconciliation sweep.
func (r *RunningStatusRepository) ListRunning(ctx context.Context) ([]*domain.RunningStatus, error) {
	rows, err := r.db.QueryContext(ctx, runningStatusSelect+` WHERE run_status = ?`, domain.RunStatusRunning)
	if err != nil {
		return nil, fmt.Errorf("list running: %w", err)
	}
	defer rows.Close()
	return collectRunningStatus(rows)
}

// ListDueDaemons returns daemon rows still in scheduling state whose run has
// actually stopped — a daemon still run_status == running is healthy and
// must not be re-execed (§4.D "re-issue exec only when run_status becomes
// stop").
func (r *RunningStatusRepository) ListDueDaemons(ctx context.Context) ([]*domain.RunningStatus, error) {
	rows, err := r.db.QueryContext(ctx, runningStatusSelect+`
		WHERE schedule_type = ? AND schedule_status = ? AND run_status = ?`,
		domain.ScheduleDaemon, domain.ScheduleStatusScheduling, domain.RunStatusStop,
	)
	if err != nil {
		return nil, fmt.Errorf("list due daemons: %w", err)
	}
	defer rows.Close()
	return collectRunningStatus(rows)
}

const runningStatusSelect = `
	SELECT eid, schedule_type, instance_id, schedule_id, run_id, schedule_status, run_status,
	       exit_status, exit_code, dispatch_result, start_time, end_time, next_time,
	       prev_time, retry_count
	FROM running_status`

func scanRunningStatus(row rowScanner) (*domain.RunningStatus, error) {
	var rs domain.RunningStatus
	var runID sql.NullString
	err := row.Scan(
		&rs.Eid, &rs.ScheduleType, &rs.InstanceID, &rs.ScheduleID, &runID, &rs.ScheduleStatus, &rs.RunStatus,
		&rs.ExitStatus, &rs.ExitCode, &rs.DispatchResult, &rs.StartTime, &rs.EndTime, &rs.NextTime,
		&rs.PrevTime, &rs.RetryCount,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrScheduleNotFound
		}
		return nil, fmt.Errorf("scan running status: %w", err)
	}
	rs.RunID = runID.String
	return &rs, nil
}

func collectRunningStatus(rows *sql.Rows) ([]*domain.RunningStatus, error) {
	var out []*domain.RunningStatus
	for rows.Next() {
		rs, err := scanRunningStatus(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rs)
	}
	return out, rows.Err()
}
