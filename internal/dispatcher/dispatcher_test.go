package dispatcher_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"

	"github.com/ErlanBelekov/dist-job-scheduler/internal/dispatcher"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/domain"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/wire"
)

type fakeInstances struct {
	instances []*domain.Instance
}

func (f *fakeInstances) Upsert(ctx context.Context, i *domain.Instance) (*domain.Instance, error) {
	return i, nil
}
func (f *fakeInstances) GetByID(ctx context.Context, instanceID string) (*domain.Instance, error) {
	return nil, domain.ErrInstanceNotFound
}
func (f *fakeInstances) SetOnline(ctx context.Context, instanceID, cometID string) error  { return nil }
func (f *fakeInstances) SetOffline(ctx context.Context, instanceID string) error          { return nil }
func (f *fakeInstances) CreateGroup(ctx context.Context, g *domain.InstanceGroup) (*domain.InstanceGroup, error) {
	return g, nil
}
func (f *fakeInstances) GetGroup(ctx context.Context, id string) (*domain.InstanceGroup, error) {
	return nil, domain.ErrGroupNotFound
}
func (f *fakeInstances) Resolve(ctx context.Context, sel domain.TargetSelector) ([]*domain.Instance, error) {
	return f.instances, nil
}

type fakeJobs struct {
	snapshot  *domain.Snapshot
	snapshots map[string]*domain.Snapshot // eid -> snapshot, for bundle step resolution
}

func (f *fakeJobs) CreateExecutor(ctx context.Context, e *domain.Executor) (*domain.Executor, error) {
	return e, nil
}
func (f *fakeJobs) GetExecutor(ctx context.Context, id string) (*domain.Executor, error) {
	return &f.snapshot.Executor, nil
}
func (f *fakeJobs) CreateJob(ctx context.Context, j *domain.Job) (*domain.Job, error) { return j, nil }
func (f *fakeJobs) GetJobByEid(ctx context.Context, eid string) (*domain.Job, error) {
	return &f.snapshot.Job, nil
}
func (f *fakeJobs) ListJobs(ctx context.Context, teamID string) ([]*domain.Job, error) { return nil, nil }
func (f *fakeJobs) DeleteJob(ctx context.Context, eid string) error                    { return nil }
func (f *fakeJobs) Snapshot(ctx context.Context, eid string) (*domain.Snapshot, error) {
	if f.snapshots != nil {
		if s, ok := f.snapshots[eid]; ok {
			return s, nil
		}
		return nil, domain.ErrJobNotFound
	}
	return f.snapshot, nil
}

type fakeRunning struct {
	mu    sync.Mutex
	rows  map[string]*domain.RunningStatus
	live  int
}

func newFakeRunning() *fakeRunning {
	return &fakeRunning{rows: make(map[string]*domain.RunningStatus)}
}

func (f *fakeRunning) Upsert(ctx context.Context, rs *domain.RunningStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *rs
	f.rows[rs.Eid+"/"+string(rs.ScheduleType)+"/"+rs.InstanceID] = &cp
	return nil
}
func (f *fakeRunning) Get(ctx context.Context, key domain.RunningStatusKey) (*domain.RunningStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[key.Eid+"/"+string(key.ScheduleType)+"/"+key.InstanceID]
	if !ok {
		return nil, domain.ErrScheduleNotFound
	}
	return row, nil
}
func (f *fakeRunning) LiveCount(ctx context.Context, eid, instanceID string) (int, error) {
	return f.live, nil
}
func (f *fakeRunning) ListRunning(ctx context.Context) ([]*domain.RunningStatus, error) { return nil, nil }
func (f *fakeRunning) ListDueDaemons(ctx context.Context) ([]*domain.RunningStatus, error) {
	return nil, nil
}

type fakeHistory struct {
	mu         sync.Mutex
	scheduleHs []*domain.ScheduleHistory
	execHs     []*domain.ExecHistory
}

func (f *fakeHistory) CreateScheduleHistory(ctx context.Context, h *domain.ScheduleHistory) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scheduleHs = append(f.scheduleHs, h)
	return nil
}
func (f *fakeHistory) GetScheduleHistory(ctx context.Context, scheduleID string) (*domain.ScheduleHistory, error) {
	return nil, domain.ErrScheduleNotFound
}
func (f *fakeHistory) CreateExecHistory(ctx context.Context, h *domain.ExecHistory) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.execHs = append(f.execHs, h)
	return nil
}
func (f *fakeHistory) AppendOutput(ctx context.Context, scheduleID, instanceID, runID, chunk string, truncated bool) error {
	return nil
}
func (f *fakeHistory) FinalizeExecHistory(ctx context.Context, scheduleID, instanceID, runID string, exitCode *int, exitStatus domain.ExitStatus, bundleResult []domain.BundleStepResult) error {
	return nil
}
func (f *fakeHistory) ListExecHistory(ctx context.Context, scheduleID string) ([]*domain.ExecHistory, error) {
	return nil, nil
}

type fakeRouter struct {
	cometID string
	ok      bool
}

func (r *fakeRouter) Lookup(ctx context.Context, instanceID string) (string, bool, error) {
	return r.cometID, r.ok, nil
}

type fakeForwarder struct {
	mu       sync.Mutex
	sent     []string
	payloads []any
	err      error
}

func (f *fakeForwarder) Forward(ctx context.Context, cometID, instanceID string, kind wire.Kind, id string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, instanceID)
	f.payloads = append(f.payloads, payload)
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testSnapshot() *domain.Snapshot {
	return &domain.Snapshot{
		Job:      domain.Job{Eid: "eid-1", Code: "echo hi", MaxParallel: 0},
		Executor: domain.Executor{Command: "/bin/sh", ReadCodeFromStdin: false},
	}
}

func TestDispatcher_Dispatch_Accepted(t *testing.T) {
	instances := &fakeInstances{instances: []*domain.Instance{{InstanceID: "inst-1"}}}
	jobs := &fakeJobs{snapshot: testSnapshot()}
	running := newFakeRunning()
	history := &fakeHistory{}
	router := &fakeRouter{cometID: "comet-1", ok: true}
	forwarder := &fakeForwarder{}

	d := dispatcher.New(instances, jobs, running, history, router, forwarder, testLogger())

	results, err := d.Dispatch(context.Background(), domain.Schedule{
		ScheduleID:   "sched-1",
		Eid:          "eid-1",
		Action:       domain.ActionExec,
		ScheduleType: domain.ScheduleOnce,
		RunID:        "run-1",
	}, domain.TargetSelector{InstanceIDs: []string{"inst-1"}}, 0)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(results) != 1 || results[0].Outcome != domain.DispatchAccepted {
		t.Fatalf("expected single accepted result, got %+v", results)
	}
	if len(forwarder.sent) != 1 {
		t.Fatalf("expected one forwarded frame, got %d", len(forwarder.sent))
	}
	if len(history.scheduleHs) != 1 {
		t.Fatalf("expected one schedule_history row, got %d", len(history.scheduleHs))
	}
	if len(history.execHs) != 1 {
		t.Fatalf("expected one exec_history row, got %d", len(history.execHs))
	}
}

func TestDispatcher_Dispatch_NotConnected(t *testing.T) {
	instances := &fakeInstances{instances: []*domain.Instance{{InstanceID: "inst-1"}}}
	jobs := &fakeJobs{snapshot: testSnapshot()}
	running := newFakeRunning()
	history := &fakeHistory{}
	router := &fakeRouter{ok: false}
	forwarder := &fakeForwarder{}

	d := dispatcher.New(instances, jobs, running, history, router, forwarder, testLogger())

	results, err := d.Dispatch(context.Background(), domain.Schedule{
		ScheduleID:   "sched-2",
		Eid:          "eid-1",
		Action:       domain.ActionExec,
		ScheduleType: domain.ScheduleOnce,
		RunID:        "run-2",
	}, domain.TargetSelector{InstanceIDs: []string{"inst-1"}}, 0)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(results) != 1 || results[0].Outcome != domain.DispatchFailedNotConnected {
		t.Fatalf("expected not_connected outcome, got %+v", results)
	}
	if len(forwarder.sent) != 0 {
		t.Fatalf("expected no frame forwarded, got %d", len(forwarder.sent))
	}
}

func TestDispatcher_Dispatch_RejectsOverMaxParallel(t *testing.T) {
	instances := &fakeInstances{instances: []*domain.Instance{{InstanceID: "inst-1"}}}
	jobs := &fakeJobs{snapshot: testSnapshot()}
	running := newFakeRunning()
	running.live = 2
	history := &fakeHistory{}
	router := &fakeRouter{cometID: "comet-1", ok: true}
	forwarder := &fakeForwarder{}

	d := dispatcher.New(instances, jobs, running, history, router, forwarder, testLogger())

	results, err := d.Dispatch(context.Background(), domain.Schedule{
		ScheduleID:   "sched-3",
		Eid:          "eid-1",
		Action:       domain.ActionExec,
		ScheduleType: domain.ScheduleOnce,
		RunID:        "run-3",
	}, domain.TargetSelector{InstanceIDs: []string{"inst-1"}}, 2)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(results) != 1 || results[0].Outcome != domain.DispatchRejectedParallel {
		t.Fatalf("expected rejected(parallel_limit), got %+v", results)
	}
	if len(forwarder.sent) != 0 {
		t.Fatalf("expected no frame forwarded when over max_parallel, got %d", len(forwarder.sent))
	}
}

func TestDispatcher_Dispatch_ForwardTimeout(t *testing.T) {
	instances := &fakeInstances{instances: []*domain.Instance{{InstanceID: "inst-1"}}}
	jobs := &fakeJobs{snapshot: testSnapshot()}
	running := newFakeRunning()
	history := &fakeHistory{}
	router := &fakeRouter{cometID: "comet-1", ok: true}
	forwarder := &fakeForwarder{err: context.DeadlineExceeded}

	d := dispatcher.New(instances, jobs, running, history, router, forwarder, testLogger())

	results, err := d.Dispatch(context.Background(), domain.Schedule{
		ScheduleID:   "sched-4",
		Eid:          "eid-1",
		Action:       domain.ActionExec,
		ScheduleType: domain.ScheduleOnce,
		RunID:        "run-4",
	}, domain.TargetSelector{InstanceIDs: []string{"inst-1"}}, 0)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(results) != 1 || results[0].Outcome != domain.DispatchFailedTimeout {
		t.Fatalf("expected dispatch_failed(timeout), got %+v", results)
	}
	if !errors.Is(context.DeadlineExceeded, context.DeadlineExceeded) {
		t.Fatal("sanity check on sentinel comparison")
	}
}

func TestDispatcher_Dispatch_CarriesJobMaxParallel(t *testing.T) {
	instances := &fakeInstances{instances: []*domain.Instance{{InstanceID: "inst-1"}}}
	snapshot := testSnapshot()
	snapshot.Job.MaxParallel = 4
	jobs := &fakeJobs{snapshot: snapshot}
	running := newFakeRunning()
	history := &fakeHistory{}
	router := &fakeRouter{cometID: "comet-1", ok: true}
	forwarder := &fakeForwarder{}

	d := dispatcher.New(instances, jobs, running, history, router, forwarder, testLogger())

	if _, err := d.Dispatch(context.Background(), domain.Schedule{
		ScheduleID:   "sched-5",
		Eid:          "eid-1",
		Action:       domain.ActionExec,
		ScheduleType: domain.ScheduleOnce,
		RunID:        "run-5",
	}, domain.TargetSelector{InstanceIDs: []string{"inst-1"}}, 0); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	if len(forwarder.payloads) != 1 {
		t.Fatalf("expected one forwarded payload, got %d", len(forwarder.payloads))
	}
	payload, ok := forwarder.payloads[0].(wire.ExecPayload)
	if !ok {
		t.Fatalf("expected wire.ExecPayload, got %T", forwarder.payloads[0])
	}
	if payload.MaxParallel != 4 {
		t.Fatalf("expected the job's own max_parallel carried in the dispatch payload, got %d", payload.MaxParallel)
	}
}

func TestDispatcher_Dispatch_ResolvesBundleSteps(t *testing.T) {
	instances := &fakeInstances{instances: []*domain.Instance{{InstanceID: "inst-1"}}}
	jobs := &fakeJobs{
		snapshots: map[string]*domain.Snapshot{
			"eid-1": {
				Job: domain.Job{
					Eid:     "eid-1",
					JobType: domain.JobTypeBundle,
					BundleScript: []domain.BundleStep{
						{EidRef: "step-1"},
						{EidRef: "step-2", ContinueOnError: true},
					},
				},
				Executor: domain.Executor{Command: "/bin/sh"},
			},
			"step-1": {
				Job:      domain.Job{Eid: "step-1", Code: "echo one"},
				Executor: domain.Executor{Command: "/bin/sh", ReadCodeFromStdin: true},
			},
			"step-2": {
				Job:      domain.Job{Eid: "step-2", Code: "echo two"},
				Executor: domain.Executor{Command: "/bin/bash"},
			},
		},
	}
	running := newFakeRunning()
	history := &fakeHistory{}
	router := &fakeRouter{cometID: "comet-1", ok: true}
	forwarder := &fakeForwarder{}

	d := dispatcher.New(instances, jobs, running, history, router, forwarder, testLogger())

	if _, err := d.Dispatch(context.Background(), domain.Schedule{
		ScheduleID:   "sched-6",
		Eid:          "eid-1",
		Action:       domain.ActionExec,
		ScheduleType: domain.ScheduleOnce,
		RunID:        "run-6",
	}, domain.TargetSelector{InstanceIDs: []string{"inst-1"}}, 0); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	payload := forwarder.payloads[0].(wire.ExecPayload)
	if payload.JobType != string(domain.JobTypeBundle) {
		t.Fatalf("expected job_type bundle, got %q", payload.JobType)
	}
	if len(payload.BundleScript) != 2 {
		t.Fatalf("expected two resolved bundle steps, got %d", len(payload.BundleScript))
	}
	if payload.BundleScript[0].Code != "echo one" || payload.BundleScript[0].ExecutorCmd != "/bin/sh" || !payload.BundleScript[0].ReadCodeStdin {
		t.Fatalf("step-1 not resolved correctly: %+v", payload.BundleScript[0])
	}
	if payload.BundleScript[1].Code != "echo two" || !payload.BundleScript[1].ContinueOnError {
		t.Fatalf("step-2 not resolved correctly: %+v", payload.BundleScript[1])
	}
}
