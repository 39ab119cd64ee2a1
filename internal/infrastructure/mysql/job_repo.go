package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ErlanBelekov/dist-job-scheduler/internal/domain"
	"github.com/go-sql-driver/mysql"
)

type JobRepository struct {
	db *sql.DB
}

func NewJobRepository(db *sql.DB) *JobRepository {
	return &JobRepository{db: db}
}

func (r *JobRepository) CreateExecutor(ctx context.Context, e *domain.Executor) (*domain.Executor, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO executors (name, command, platform, read_code_from_stdin)
		VALUES (?, ?, ?, ?)`,
		e.Name, e.Command, e.Platform, e.ReadCodeFromStdin,
	)
	if err != nil {
		return nil, fmt.Errorf("create executor: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("create executor: %w", err)
	}
	return r.GetExecutor(ctx, fmt.Sprintf("%d", id))
}

func (r *JobRepository) GetExecutor(ctx context.Context, id string) (*domain.Executor, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, name, command, platform, read_code_from_stdin, created_at, updated_at
		FROM executors WHERE id = ?`, id)
	return scanExecutor(row)
}

func (r *JobRepository) CreateJob(ctx context.Context, j *domain.Job) (*domain.Job, error) {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO jobs (
			eid, team_id, name, executor_id, job_type, code, args, work_dir,
			work_user, timeout_seconds, max_retry, max_parallel, bundle_script, is_public
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.Eid, j.TeamID, j.Name, j.ExecutorID, j.JobType, j.Code,
		jsonCol(j.Args), j.WorkDir, j.WorkUser, j.TimeoutSeconds,
		j.MaxRetry, j.MaxParallel, jsonCol(j.BundleScript), j.IsPublic,
	)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return nil, fmt.Errorf("create job: %w", domain.ErrDuplicateEid)
		}
		return nil, fmt.Errorf("create job: %w", err)
	}
	return r.GetJobByEid(ctx, j.Eid)
}

func (r *JobRepository) GetJobByEid(ctx context.Context, eid string) (*domain.Job, error) {
	row := r.db.QueryRowContext(ctx, jobSelect+` WHERE eid = ?`, eid)
	return scanJob(row)
}

func (r *JobRepository) ListJobs(ctx context.Context, teamID string) ([]*domain.Job, error) {
	rows, err := r.db.QueryContext(ctx, jobSelect+` WHERE team_id = ? OR is_public ORDER BY id DESC`, teamID)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*domain.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func (r *JobRepository) DeleteJob(ctx context.Context, eid string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM jobs WHERE eid = ?`, eid)
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	return nil
}

func (r *JobRepository) Snapshot(ctx context.Context, eid string) (*domain.Snapshot, error) {
	job, err := r.GetJobByEid(ctx, eid)
	if err != nil {
		return nil, err
	}
	executor, err := r.GetExecutor(ctx, job.ExecutorID)
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	return &domain.Snapshot{Job: *job, Executor: *executor}, nil
}

const jobSelect = `
	SELECT eid, team_id, name, executor_id, job_type, code, args, work_dir,
	       work_user, timeout_seconds, max_retry, max_parallel, bundle_script, is_public
	FROM jobs`

func scanJob(row rowScanner) (*domain.Job, error) {
	var j domain.Job
	var args, bundle []byte
	err := row.Scan(
		&j.Eid, &j.TeamID, &j.Name, &j.ExecutorID, &j.JobType, &j.Code, &args,
		&j.WorkDir, &j.WorkUser, &j.TimeoutSeconds, &j.MaxRetry, &j.MaxParallel,
		&bundle, &j.IsPublic,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("scan job: %w", err)
	}
	if err := unmarshalCol(args, &j.Args); err != nil {
		return nil, fmt.Errorf("scan job args: %w", err)
	}
	if err := unmarshalCol(bundle, &j.BundleScript); err != nil {
		return nil, fmt.Errorf("scan job bundle_script: %w", err)
	}
	return &j, nil
}

func scanExecutor(row rowScanner) (*domain.Executor, error) {
	var e domain.Executor
	err := row.Scan(&e.ID, &e.Name, &e.Command, &e.Platform, &e.ReadCodeFromStdin, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrExecutorNotFound
		}
		return nil, fmt.Errorf("scan executor: %w", err)
	}
	return &e, nil
}
