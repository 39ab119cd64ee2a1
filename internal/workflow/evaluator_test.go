package workflow_test

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"

	"github.com/ErlanBelekov/dist-job-scheduler/internal/dispatcher"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/domain"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/wire"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/workflow"
)

type fakeWorkflows struct {
	mu        sync.Mutex
	workflows map[string]*domain.Workflow
	processes map[string]*domain.WorkflowProcess
	nodes     map[string]map[string]*domain.WorkflowProcessNode
	edges     map[string]map[string]*domain.WorkflowProcessEdge
}

func newFakeWorkflows() *fakeWorkflows {
	return &fakeWorkflows{
		workflows: make(map[string]*domain.Workflow),
		processes: make(map[string]*domain.WorkflowProcess),
		nodes:     make(map[string]map[string]*domain.WorkflowProcessNode),
		edges:     make(map[string]map[string]*domain.WorkflowProcessEdge),
	}
}

func (f *fakeWorkflows) CreateDraft(ctx context.Context, w *domain.Workflow) (*domain.Workflow, error) {
	f.workflows[w.ID] = w
	return w, nil
}
func (f *fakeWorkflows) Release(ctx context.Context, id string) (*domain.Workflow, error) {
	w := f.workflows[id]
	w.VersionStatus = domain.VersionReleased
	return w, nil
}
func (f *fakeWorkflows) GetByID(ctx context.Context, id string) (*domain.Workflow, error) {
	w, ok := f.workflows[id]
	if !ok {
		return nil, domain.ErrWorkflowNotFound
	}
	return w, nil
}
func (f *fakeWorkflows) StartProcess(ctx context.Context, p *domain.WorkflowProcess) (*domain.WorkflowProcess, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.processes[p.ProcessID] = p
	f.nodes[p.ProcessID] = make(map[string]*domain.WorkflowProcessNode)
	f.edges[p.ProcessID] = make(map[string]*domain.WorkflowProcessEdge)
	return p, nil
}
func (f *fakeWorkflows) GetProcess(ctx context.Context, processID string) (*domain.WorkflowProcess, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.processes[processID]
	if !ok {
		return nil, domain.ErrProcessNotFound
	}
	return p, nil
}
func (f *fakeWorkflows) UpdateProcessStatus(ctx context.Context, processID string, status domain.ProcessStatus, currentNode string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.processes[processID]
	if !ok {
		return domain.ErrProcessNotFound
	}
	p.ProcessStatus = status
	if currentNode != "" {
		p.CurrentNode = currentNode
	}
	return nil
}
func (f *fakeWorkflows) UpsertProcessNode(ctx context.Context, n *domain.WorkflowProcessNode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *n
	f.nodes[n.ProcessID][n.NodeID] = &cp
	return nil
}
func (f *fakeWorkflows) GetProcessNode(ctx context.Context, processID, nodeID string) (*domain.WorkflowProcessNode, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.nodes[processID][nodeID]
	if !ok {
		return nil, domain.ErrProcessNotFound
	}
	return n, nil
}
func (f *fakeWorkflows) ListProcessNodes(ctx context.Context, processID string) ([]*domain.WorkflowProcessNode, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.WorkflowProcessNode
	for _, n := range f.nodes[processID] {
		out = append(out, n)
	}
	return out, nil
}
func (f *fakeWorkflows) UpsertProcessEdge(ctx context.Context, e *domain.WorkflowProcessEdge) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *e
	f.edges[e.ProcessID][e.EdgeID] = &cp
	return nil
}
func (f *fakeWorkflows) ListProcessEdges(ctx context.Context, processID string) ([]*domain.WorkflowProcessEdge, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.WorkflowProcessEdge
	for _, e := range f.edges[processID] {
		out = append(out, e)
	}
	return out, nil
}

type fakeJobs struct{}

func (f *fakeJobs) CreateExecutor(ctx context.Context, e *domain.Executor) (*domain.Executor, error) {
	return e, nil
}
func (f *fakeJobs) GetExecutor(ctx context.Context, id string) (*domain.Executor, error) {
	return &domain.Executor{ID: id, Command: "/bin/sh"}, nil
}
func (f *fakeJobs) CreateJob(ctx context.Context, j *domain.Job) (*domain.Job, error) { return j, nil }
func (f *fakeJobs) GetJobByEid(ctx context.Context, eid string) (*domain.Job, error) {
	return &domain.Job{Eid: eid}, nil
}
func (f *fakeJobs) ListJobs(ctx context.Context, teamID string) ([]*domain.Job, error) { return nil, nil }
func (f *fakeJobs) DeleteJob(ctx context.Context, eid string) error                    { return nil }
func (f *fakeJobs) Snapshot(ctx context.Context, eid string) (*domain.Snapshot, error) {
	return &domain.Snapshot{Job: domain.Job{Eid: eid}, Executor: domain.Executor{Command: "/bin/sh"}}, nil
}

type fakeInstances struct{}

func (f *fakeInstances) Upsert(ctx context.Context, i *domain.Instance) (*domain.Instance, error) {
	return i, nil
}
func (f *fakeInstances) GetByID(ctx context.Context, instanceID string) (*domain.Instance, error) {
	return &domain.Instance{InstanceID: instanceID}, nil
}
func (f *fakeInstances) SetOnline(ctx context.Context, instanceID, cometID string) error { return nil }
func (f *fakeInstances) SetOffline(ctx context.Context, instanceID string) error         { return nil }
func (f *fakeInstances) CreateGroup(ctx context.Context, g *domain.InstanceGroup) (*domain.InstanceGroup, error) {
	return g, nil
}
func (f *fakeInstances) GetGroup(ctx context.Context, id string) (*domain.InstanceGroup, error) {
	return nil, domain.ErrGroupNotFound
}
func (f *fakeInstances) Resolve(ctx context.Context, sel domain.TargetSelector) ([]*domain.Instance, error) {
	out := make([]*domain.Instance, 0, len(sel.InstanceIDs))
	for _, id := range sel.InstanceIDs {
		out = append(out, &domain.Instance{InstanceID: id})
	}
	return out, nil
}

type fakeRunning struct{ mu sync.Mutex }

func (f *fakeRunning) Upsert(ctx context.Context, rs *domain.RunningStatus) error { return nil }
func (f *fakeRunning) Get(ctx context.Context, key domain.RunningStatusKey) (*domain.RunningStatus, error) {
	return nil, domain.ErrScheduleNotFound
}
func (f *fakeRunning) LiveCount(ctx context.Context, eid, instanceID string) (int, error) { return 0, nil }
func (f *fakeRunning) ListRunning(ctx context.Context) ([]*domain.RunningStatus, error)    { return nil, nil }
func (f *fakeRunning) ListDueDaemons(ctx context.Context) ([]*domain.RunningStatus, error) {
	return nil, nil
}

type fakeHistory struct{}

func (f *fakeHistory) CreateScheduleHistory(ctx context.Context, h *domain.ScheduleHistory) error {
	return nil
}
func (f *fakeHistory) GetScheduleHistory(ctx context.Context, scheduleID string) (*domain.ScheduleHistory, error) {
	return nil, domain.ErrScheduleNotFound
}
func (f *fakeHistory) CreateExecHistory(ctx context.Context, h *domain.ExecHistory) error { return nil }
func (f *fakeHistory) AppendOutput(ctx context.Context, scheduleID, instanceID, runID, chunk string, truncated bool) error {
	return nil
}
func (f *fakeHistory) FinalizeExecHistory(ctx context.Context, scheduleID, instanceID, runID string, exitCode *int, exitStatus domain.ExitStatus, bundleResult []domain.BundleStepResult) error {
	return nil
}
func (f *fakeHistory) ListExecHistory(ctx context.Context, scheduleID string) ([]*domain.ExecHistory, error) {
	return nil, nil
}

type fakeRouter struct{}

func (r *fakeRouter) Lookup(ctx context.Context, instanceID string) (string, bool, error) {
	return "comet-1", true, nil
}

type fakeForwarder struct {
	mu   sync.Mutex
	sent []string
}

func (f *fakeForwarder) Forward(ctx context.Context, cometID, instanceID string, kind wire.Kind, id string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, id)
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestEvaluator(workflows *fakeWorkflows) *workflow.Evaluator {
	jobs := &fakeJobs{}
	d := dispatcher.New(&fakeInstances{}, jobs, &fakeRunning{}, &fakeHistory{}, &fakeRouter{}, &fakeForwarder{}, testLogger())
	return workflow.NewEvaluator(workflows, jobs, d, testLogger())
}

func branchingWorkflow() *domain.Workflow {
	return &domain.Workflow{
		ID:            "wf-1",
		VersionStatus: domain.VersionReleased,
		Nodes: []domain.WorkflowNode{
			{ID: "A", Eid: "eid-a", Targets: domain.TargetSelector{InstanceIDs: []string{"inst-1"}}},
			{ID: "B", Eid: "eid-b", Targets: domain.TargetSelector{InstanceIDs: []string{"inst-1"}}},
			{ID: "C", Eid: "eid-c", Targets: domain.TargetSelector{InstanceIDs: []string{"inst-1"}}},
		},
		Edges: []domain.WorkflowEdge{
			{ID: "e-ab", FromNode: "A", ToNode: "B", EdgeType: domain.EdgeOnSuccess},
			{ID: "e-ac", FromNode: "A", ToNode: "C", EdgeType: domain.EdgeOnFailure},
		},
	}
}

func TestEvaluator_StartProcess_ActivatesRoot(t *testing.T) {
	workflows := newFakeWorkflows()
	workflows.workflows["wf-1"] = branchingWorkflow()
	e := newTestEvaluator(workflows)

	process, err := e.StartProcess(context.Background(), "wf-1", nil)
	if err != nil {
		t.Fatalf("start process: %v", err)
	}
	if process.ProcessStatus != domain.ProcessRunning {
		t.Fatalf("expected running after root activation, got %s", process.ProcessStatus)
	}
	if process.CurrentNode != "A" {
		t.Fatalf("expected current node A, got %s", process.CurrentNode)
	}
}

func TestEvaluator_NodeCompleted_OnFailureBranchEndsProcess(t *testing.T) {
	workflows := newFakeWorkflows()
	workflows.workflows["wf-1"] = branchingWorkflow()
	e := newTestEvaluator(workflows)

	process, err := e.StartProcess(context.Background(), "wf-1", nil)
	if err != nil {
		t.Fatalf("start process: %v", err)
	}

	// A fails -> on_failure edge to C activates, B's process-node row is
	// never created (S6 scenario).
	code1 := 1
	if err := e.NodeCompleted(context.Background(), process.ProcessID, "A", &code1, domain.ExitStatusFailed, "", nil); err != nil {
		t.Fatalf("node completed A: %v", err)
	}

	if _, err := workflows.GetProcessNode(context.Background(), process.ProcessID, "B"); err == nil {
		t.Fatal("expected B to have no process-node row after A's on_failure branch took C")
	}
	if _, err := workflows.GetProcessNode(context.Background(), process.ProcessID, "C"); err != nil {
		t.Fatalf("expected C activated, got error: %v", err)
	}

	// C succeeds -> no outgoing edges -> process ends.
	code0 := 0
	if err := e.NodeCompleted(context.Background(), process.ProcessID, "C", &code0, domain.ExitStatusSuccess, "", nil); err != nil {
		t.Fatalf("node completed C: %v", err)
	}

	got, err := workflows.GetProcess(context.Background(), process.ProcessID)
	if err != nil {
		t.Fatalf("get process: %v", err)
	}
	if got.ProcessStatus != domain.ProcessEnd {
		t.Fatalf("expected end_process, got %s", got.ProcessStatus)
	}
}
