package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ErlanBelekov/dist-job-scheduler/internal/domain"
)

type WorkflowRepository struct {
	db *sql.DB
}

func NewWorkflowRepository(db *sql.DB) *WorkflowRepository {
	return &WorkflowRepository{db: db}
}

func (r *WorkflowRepository) CreateDraft(ctx context.Context, w *domain.Workflow) (*domain.Workflow, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO workflows (name, team_id, nodes, edges, version, version_status, parent_id, is_public)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		w.Name, w.TeamID, jsonCol(w.Nodes), jsonCol(w.Edges), w.Version,
		domain.VersionDraft, nullString(w.ParentID), w.IsPublic,
	)
	if err != nil {
		return nil, fmt.Errorf("create workflow draft: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("create workflow draft: %w", err)
	}
	return r.GetByID(ctx, fmt.Sprintf("%d", id))
}

// Release flips a draft workflow to released. Once released, a version is
// immutable (invariant 5) — every subsequent edit must fork a new draft
// row with parent_id pointing back at this one.
func (r *WorkflowRepository) Release(ctx context.Context, id string) (*domain.Workflow, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE workflows SET version_status = ? WHERE id = ? AND version_status = ?`,
		domain.VersionReleased, id, domain.VersionDraft,
	)
	if err != nil {
		return nil, fmt.Errorf("release workflow: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("release workflow: %w", err)
	}
	if n == 0 {
		if w, getErr := r.GetByID(ctx, id); getErr == nil && w.VersionStatus == domain.VersionReleased {
			return nil, domain.ErrWorkflowVersionImmutable
		}
		return nil, domain.ErrWorkflowNotFound
	}
	return r.GetByID(ctx, id)
}

func (r *WorkflowRepository) GetByID(ctx context.Context, id string) (*domain.Workflow, error) {
	row := r.db.QueryRowContext(ctx, workflowSelect+` WHERE id = ?`, id)
	return scanWorkflow(row)
}

func (r *WorkflowRepository) StartProcess(ctx context.Context, p *domain.WorkflowProcess) (*domain.WorkflowProcess, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO workflow_processes (
			workflow_id, version, snapshot, process_status, current_node, process_args, started_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.WorkflowID, p.Version, jsonCol(p.Snapshot), domain.ProcessStart,
		p.CurrentNode, jsonCol(p.ProcessArgs), p.StartedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("start workflow process: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("start workflow process: %w", err)
	}
	return r.GetProcess(ctx, fmt.Sprintf("%d", id))
}

func (r *WorkflowRepository) GetProcess(ctx context.Context, processID string) (*domain.WorkflowProcess, error) {
	row := r.db.QueryRowContext(ctx, processSelect+` WHERE process_id = ?`, processID)
	return scanProcess(row)
}

func (r *WorkflowRepository) UpdateProcessStatus(ctx context.Context, processID string, status domain.ProcessStatus, currentNode string) error {
	var endedAtClause string
	if status == domain.ProcessEnd || status == domain.ProcessFailed {
		endedAtClause = ", ended_at = NOW()"
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE workflow_processes SET process_status = ?, current_node = ?`+endedAtClause+` WHERE process_id = ?`,
		status, currentNode, processID,
	)
	if err != nil {
		return fmt.Errorf("update process status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update process status: %w", err)
	}
	if n == 0 {
		return domain.ErrProcessNotFound
	}
	return nil
}

func (r *WorkflowRepository) UpsertProcessNode(ctx context.Context, n *domain.WorkflowProcessNode) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO workflow_process_nodes (
			process_id, node_id, node_status, restart_num, exit_code, exit_status,
			output, dispatch_result, schedule_id, started_at, ended_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			node_status = VALUES(node_status),
			restart_num = VALUES(restart_num),
			exit_code = VALUES(exit_code),
			exit_status = VALUES(exit_status),
			output = VALUES(output),
			dispatch_result = VALUES(dispatch_result),
			schedule_id = VALUES(schedule_id),
			started_at = VALUES(started_at),
			ended_at = VALUES(ended_at)`,
		n.ProcessID, n.NodeID, n.NodeStatus, n.RestartNum, n.ExitCode, n.ExitStatus,
		n.Output, jsonCol(n.DispatchResult), n.ScheduleID, n.StartedAt, n.EndedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert process node: %w", err)
	}
	return nil
}

func (r *WorkflowRepository) GetProcessNode(ctx context.Context, processID, nodeID string) (*domain.WorkflowProcessNode, error) {
	row := r.db.QueryRowContext(ctx, processNodeSelect+` WHERE process_id = ? AND node_id = ?`, processID, nodeID)
	return scanProcessNode(row)
}

func (r *WorkflowRepository) ListProcessNodes(ctx context.Context, processID string) ([]*domain.WorkflowProcessNode, error) {
	rows, err := r.db.QueryContext(ctx, processNodeSelect+` WHERE process_id = ?`, processID)
	if err != nil {
		return nil, fmt.Errorf("list process nodes: %w", err)
	}
	defer rows.Close()

	var out []*domain.WorkflowProcessNode
	for rows.Next() {
		n, err := scanProcessNode(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (r *WorkflowRepository) UpsertProcessEdge(ctx context.Context, e *domain.WorkflowProcessEdge) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO workflow_process_edges (process_id, edge_id, activated, activated_at)
		VALUES (?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE activated = VALUES(activated), activated_at = VALUES(activated_at)`,
		e.ProcessID, e.EdgeID, e.Activated, e.ActivatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert process edge: %w", err)
	}
	return nil
}

func (r *WorkflowRepository) ListProcessEdges(ctx context.Context, processID string) ([]*domain.WorkflowProcessEdge, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT process_id, edge_id, activated, activated_at
		FROM workflow_process_edges WHERE process_id = ?`, processID)
	if err != nil {
		return nil, fmt.Errorf("list process edges: %w", err)
	}
	defer rows.Close()

	var out []*domain.WorkflowProcessEdge
	for rows.Next() {
		var e domain.WorkflowProcessEdge
		if err := rows.Scan(&e.ProcessID, &e.EdgeID, &e.Activated, &e.ActivatedAt); err != nil {
			return nil, fmt.Errorf("scan process edge: %w", err)
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

const workflowSelect = `
	SELECT id, name, team_id, nodes, edges, version, version_status,
	       COALESCE(parent_id, ''), is_public, created_at
	FROM workflows`

func scanWorkflow(row rowScanner) (*domain.Workflow, error) {
	var w domain.Workflow
	var nodes, edges []byte
	err := row.Scan(&w.ID, &w.Name, &w.TeamID, &nodes, &edges, &w.Version,
		&w.VersionStatus, &w.ParentID, &w.IsPublic, &w.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrWorkflowNotFound
		}
		return nil, fmt.Errorf("scan workflow: %w", err)
	}
	if err := unmarshalCol(nodes, &w.Nodes); err != nil {
		return nil, fmt.Errorf("scan workflow nodes: %w", err)
	}
	if err := unmarshalCol(edges, &w.Edges); err != nil {
		return nil, fmt.Errorf("scan workflow edges: %w", err)
	}
	return &w, nil
}

const processSelect = `
	SELECT process_id, workflow_id, version, snapshot, process_status,
	       current_node, process_args, started_at, ended_at
	FROM workflow_processes`

func scanProcess(row rowScanner) (*domain.WorkflowProcess, error) {
	var p domain.WorkflowProcess
	var snapshot, args []byte
	err := row.Scan(&p.ProcessID, &p.WorkflowID, &p.Version, &snapshot, &p.ProcessStatus,
		&p.CurrentNode, &args, &p.StartedAt, &p.EndedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrProcessNotFound
		}
		return nil, fmt.Errorf("scan workflow process: %w", err)
	}
	if err := unmarshalCol(snapshot, &p.Snapshot); err != nil {
		return nil, fmt.Errorf("scan workflow process snapshot: %w", err)
	}
	if err := unmarshalCol(args, &p.ProcessArgs); err != nil {
		return nil, fmt.Errorf("scan workflow process args: %w", err)
	}
	return &p, nil
}

const processNodeSelect = `
	SELECT process_id, node_id, node_status, restart_num, exit_code, exit_status,
	       output, dispatch_result, schedule_id, started_at, ended_at
	FROM workflow_process_nodes`

func scanProcessNode(row rowScanner) (*domain.WorkflowProcessNode, error) {
	var n domain.WorkflowProcessNode
	var dispatchResult []byte
	err := row.Scan(&n.ProcessID, &n.NodeID, &n.NodeStatus, &n.RestartNum, &n.ExitCode,
		&n.ExitStatus, &n.Output, &dispatchResult, &n.ScheduleID, &n.StartedAt, &n.EndedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrProcessNotFound
		}
		return nil, fmt.Errorf("scan workflow process node: %w", err)
	}
	if err := unmarshalCol(dispatchResult, &n.DispatchResult); err != nil {
		return nil, fmt.Errorf("scan workflow process node dispatch_result: %w", err)
	}
	return &n, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
