package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ErlanBelekov/dist-job-scheduler/internal/domain"
)

type TimerRepository struct {
	db *sql.DB
}

func NewTimerRepository(db *sql.DB) *TimerRepository {
	return &TimerRepository{db: db}
}

func (r *TimerRepository) Create(ctx context.Context, t *domain.Timer) (*domain.Timer, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO timers (name, eid, timer_expr, job_type, targets, enabled)
		VALUES (?, ?, ?, ?, ?, ?)`,
		t.Name, t.Eid, jsonCol(t.TimerExpr), t.JobType, jsonCol(t.Targets), t.Enabled,
	)
	if err != nil {
		return nil, fmt.Errorf("create timer: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("create timer: %w", err)
	}
	return r.GetByID(ctx, fmt.Sprintf("%d", id))
}

func (r *TimerRepository) GetByID(ctx context.Context, id string) (*domain.Timer, error) {
	row := r.db.QueryRowContext(ctx, timerSelect+` WHERE id = ?`, id)
	return scanTimer(row)
}

func (r *TimerRepository) ListEnabled(ctx context.Context) ([]*domain.Timer, error) {
	rows, err := r.db.QueryContext(ctx, timerSelect+` WHERE enabled`)
	if err != nil {
		return nil, fmt.Errorf("list enabled timers: %w", err)
	}
	defer rows.Close()

	var timers []*domain.Timer
	for rows.Next() {
		t, err := scanTimer(rows)
		if err != nil {
			return nil, err
		}
		timers = append(timers, t)
	}
	return timers, rows.Err()
}

func (r *TimerRepository) SetEnabled(ctx context.Context, id string, enabled bool) error {
	res, err := r.db.ExecContext(ctx, `UPDATE timers SET enabled = ? WHERE id = ?`, enabled, id)
	if err != nil {
		return fmt.Errorf("set timer enabled: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set timer enabled: %w", err)
	}
	if n == 0 {
		return domain.ErrScheduleNotFound
	}
	return nil
}

const timerSelect = `SELECT id, name, eid, timer_expr, job_type, targets, enabled FROM timers`

func scanTimer(row rowScanner) (*domain.Timer, error) {
	var t domain.Timer
	var expr, targets []byte
	err := row.Scan(&t.ID, &t.Name, &t.Eid, &expr, &t.JobType, &targets, &t.Enabled)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrScheduleNotFound
		}
		return nil, fmt.Errorf("scan timer: %w", err)
	}
	if err := unmarshalCol(expr, &t.TimerExpr); err != nil {
		return nil, fmt.Errorf("scan timer expr: %w", err)
	}
	if err := unmarshalCol(targets, &t.Targets); err != nil {
		return nil, fmt.Errorf("scan timer targets: %w", err)
	}
	return &t, nil
}
