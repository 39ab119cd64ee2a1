package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ErlanBelekov/dist-job-scheduler/internal/dispatcher"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/domain"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/metrics"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/repository"
)

// Evaluator advances workflow_process instances through their DAG
// (§4.E). It owns neither cron timing (scheduler.Engine) nor instance
// resolution (dispatcher.Dispatcher) — it only decides which node runs
// next and asks the dispatcher to run it.
type Evaluator struct {
	workflows repository.WorkflowRepository
	jobs      repository.JobRepository
	dispatch  *dispatcher.Dispatcher
	logger    *slog.Logger
}

func NewEvaluator(workflows repository.WorkflowRepository, jobs repository.JobRepository, dispatch *dispatcher.Dispatcher, logger *slog.Logger) *Evaluator {
	return &Evaluator{
		workflows: workflows,
		jobs:      jobs,
		dispatch:  dispatch,
		logger:    logger.With("component", "workflow"),
	}
}

// StartProcess snapshots the released workflow's nodes/edges into a new
// process and activates the unique root node (invariant 4, §4.E).
func (e *Evaluator) StartProcess(ctx context.Context, workflowID string, processArgs map[string]string) (*domain.WorkflowProcess, error) {
	wf, err := e.workflows.GetByID(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("workflow: get %s: %w", workflowID, err)
	}
	if wf.VersionStatus != domain.VersionReleased {
		return nil, fmt.Errorf("workflow: start process: %w", domain.ErrWorkflowVersionImmutable)
	}

	snap := domain.WorkflowSnapshot{Nodes: wf.Nodes, Edges: wf.Edges}
	d, err := buildDAG(snap)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	process := &domain.WorkflowProcess{
		ProcessID:     uuid.NewString(),
		WorkflowID:    wf.ID,
		Version:       wf.Version,
		Snapshot:      snap,
		ProcessStatus: domain.ProcessStart,
		ProcessArgs:   processArgs,
		StartedAt:     now,
	}
	process, err = e.workflows.StartProcess(ctx, process)
	if err != nil {
		return nil, fmt.Errorf("workflow: start process: %w", err)
	}
	metrics.WorkflowProcessTransitionsTotal.WithLabelValues(string(domain.ProcessStart)).Inc()

	if err := e.activateNode(ctx, process, d.nodes[d.root]); err != nil {
		return nil, err
	}
	if err := e.workflows.UpdateProcessStatus(ctx, process.ProcessID, domain.ProcessRunning, d.root); err != nil {
		e.logger.Error("update process status to running failed", "process_id", process.ProcessID, "error", err)
	}
	metrics.WorkflowProcessTransitionsTotal.WithLabelValues(string(domain.ProcessRunning)).Inc()

	return process, nil
}

// activateNode merges process_args with the node's static args (node args
// win on key collision — more specific wins) and dispatches exec in flow
// mode (§4.E "calls the dispatcher in flow mode").
func (e *Evaluator) activateNode(ctx context.Context, process *domain.WorkflowProcess, node domain.WorkflowNode) error {
	job, err := e.jobs.GetJobByEid(ctx, node.Eid)
	if err != nil {
		return fmt.Errorf("workflow: activate node %s: get job %s: %w", node.ID, node.Eid, err)
	}

	s := domain.Schedule{
		ScheduleID:        uuid.NewString(),
		Eid:               node.Eid,
		Action:            domain.ActionExec,
		ScheduleType:      domain.ScheduleFlow,
		RunID:             uuid.NewString(),
		WorkflowProcessID: process.ProcessID,
		WorkflowNodeID:    node.ID,
	}

	now := time.Now()
	if err := e.workflows.UpsertProcessNode(ctx, &domain.WorkflowProcessNode{
		ProcessID:  process.ProcessID,
		NodeID:     node.ID,
		NodeStatus: domain.NodeRunning,
		ScheduleID: s.ScheduleID,
		StartedAt:  &now,
	}); err != nil {
		e.logger.Error("upsert process node failed", "process_id", process.ProcessID, "node_id", node.ID, "error", err)
	}

	if _, err := e.dispatch.Dispatch(ctx, s, node.Targets, job.MaxParallel); err != nil {
		return fmt.Errorf("workflow: activate node %s: dispatch: %w", node.ID, err)
	}
	e.logger.Info("workflow node activated", "process_id", process.ProcessID, "node_id", node.ID, "eid", node.Eid, "schedule_id", s.ScheduleID)
	return nil
}

// NodeCompleted records nodeID's outcome, evaluates its outgoing edges, and
// activates every node whose join policy is now satisfied (§4.E).
func (e *Evaluator) NodeCompleted(ctx context.Context, processID, nodeID string, exitCode *int, exitStatus domain.ExitStatus, output string, dispatchResult map[string]string) error {
	process, err := e.workflows.GetProcess(ctx, processID)
	if err != nil {
		return fmt.Errorf("workflow: node completed: get process %s: %w", processID, err)
	}

	now := time.Now()
	if err := e.workflows.UpsertProcessNode(ctx, &domain.WorkflowProcessNode{
		ProcessID:      processID,
		NodeID:         nodeID,
		NodeStatus:     domain.NodeEnd,
		ExitCode:       exitCode,
		ExitStatus:     exitStatus,
		Output:         output,
		DispatchResult: dispatchResult,
		EndedAt:        &now,
	}); err != nil {
		return fmt.Errorf("workflow: node completed: upsert node %s: %w", nodeID, err)
	}

	d, err := buildDAG(process.Snapshot)
	if err != nil {
		return err
	}

	activated := 0
	for _, edge := range d.outbound[nodeID] {
		satisfied := edgeSatisfied(edge, exitCode, exitStatus, output)
		var activatedAt *time.Time
		if satisfied {
			activatedAt = &now
		}
		if err := e.workflows.UpsertProcessEdge(ctx, &domain.WorkflowProcessEdge{
			ProcessID:   processID,
			EdgeID:      edge.ID,
			Activated:   satisfied,
			ActivatedAt: activatedAt,
		}); err != nil {
			e.logger.Error("upsert process edge failed", "process_id", processID, "edge_id", edge.ID, "error", err)
		}
		if !satisfied {
			continue
		}

		target := d.nodes[edge.ToNode]
		ready, err := e.joinSatisfied(ctx, processID, d, target)
		if err != nil {
			e.logger.Error("join policy evaluation failed", "process_id", processID, "node_id", target.ID, "error", err)
			continue
		}
		if !ready {
			continue
		}
		if err := e.activateNode(ctx, process, target); err != nil {
			e.logger.Error("activate node failed", "process_id", processID, "node_id", target.ID, "error", err)
			continue
		}
		activated++
		if err := e.workflows.UpdateProcessStatus(ctx, processID, domain.ProcessRunning, target.ID); err != nil {
			e.logger.Error("update current node failed", "process_id", processID, "node_id", target.ID, "error", err)
		}
	}

	if activated > 0 {
		return nil
	}
	return e.maybeFinish(ctx, processID, exitStatus)
}

// joinSatisfied reports whether target's inbound edges meet its join
// policy: JoinAll requires every inbound edge to have been recorded
// activated=true; JoinAny requires at least one (§4.E join policy).
func (e *Evaluator) joinSatisfied(ctx context.Context, processID string, d *dag, target domain.WorkflowNode) (bool, error) {
	inbound := d.inbound[target.ID]
	if len(inbound) <= 1 {
		return true, nil
	}

	edges, err := e.workflows.ListProcessEdges(ctx, processID)
	if err != nil {
		return false, err
	}
	recorded := make(map[string]bool, len(edges))
	for _, pe := range edges {
		recorded[pe.EdgeID] = pe.Activated
	}

	switch target.JoinPolicy {
	case domain.JoinAny:
		for _, edge := range inbound {
			if recorded[edge.ID] {
				return true, nil
			}
		}
		return false, nil
	default: // JoinAll
		for _, edge := range inbound {
			activated, seen := recorded[edge.ID]
			if !seen || !activated {
				return false, nil
			}
		}
		return true, nil
	}
}

// maybeFinish ends the process once every node reachable from the walk has
// terminated with no further activation. The process is marked failed only
// when the branch that dead-ended itself failed (§4.E, S6 scenario: a
// handled failure that reaches a successful leaf still ends_process).
func (e *Evaluator) maybeFinish(ctx context.Context, processID string, leafExitStatus domain.ExitStatus) error {
	nodes, err := e.workflows.ListProcessNodes(ctx, processID)
	if err != nil {
		return err
	}
	for _, n := range nodes {
		if n.NodeStatus == domain.NodeRunning {
			return nil // another branch is still in flight
		}
	}

	status := domain.ProcessEnd
	if leafExitStatus != domain.ExitStatusSuccess {
		status = domain.ProcessFailed
	}
	metrics.WorkflowProcessTransitionsTotal.WithLabelValues(string(status)).Inc()
	return e.workflows.UpdateProcessStatus(ctx, processID, status, "")
}

// edgeSatisfied evaluates edge's predicate against the source node's
// outcome. EdgeEval uses literal equality against the exit code or
// trimmed output (§4.E open question on grammar, resolved to literal
// match in DESIGN.md).
func edgeSatisfied(edge domain.WorkflowEdge, exitCode *int, exitStatus domain.ExitStatus, output string) bool {
	switch edge.EdgeType {
	case domain.EdgeAlways:
		return true
	case domain.EdgeOnSuccess:
		return exitStatus == domain.ExitStatusSuccess
	case domain.EdgeOnFailure:
		return exitStatus != domain.ExitStatusSuccess
	case domain.EdgeEval:
		if exitCode != nil && strconv.Itoa(*exitCode) == edge.EvalVal {
			return true
		}
		return strings.TrimSpace(output) == edge.EvalVal
	default:
		return false
	}
}
