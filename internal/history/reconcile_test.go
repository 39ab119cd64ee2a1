package history_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/ErlanBelekov/dist-job-scheduler/internal/domain"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/history"
)

type fakeRunning struct {
	rows     []*domain.RunningStatus
	upserted []*domain.RunningStatus
}

func (f *fakeRunning) Upsert(ctx context.Context, rs *domain.RunningStatus) error {
	f.upserted = append(f.upserted, rs)
	return nil
}

func (f *fakeRunning) Get(ctx context.Context, key domain.RunningStatusKey) (*domain.RunningStatus, error) {
	return nil, nil
}

func (f *fakeRunning) LiveCount(ctx context.Context, eid, instanceID string) (int, error) {
	return 0, nil
}

func (f *fakeRunning) ListRunning(ctx context.Context) ([]*domain.RunningStatus, error) {
	return f.rows, nil
}

func (f *fakeRunning) ListDueDaemons(ctx context.Context) ([]*domain.RunningStatus, error) {
	return nil, nil
}

type fakeRouter struct {
	connected map[string]bool
}

func (f *fakeRouter) Lookup(ctx context.Context, instanceID string) (string, bool, error) {
	return "comet-1", f.connected[instanceID], nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestReconciler_Run_MarksDisconnectedAsLost(t *testing.T) {
	start := time.Now().Add(-time.Hour)
	running := &fakeRunning{rows: []*domain.RunningStatus{
		{Eid: "e1", InstanceID: "inst-live", ScheduleID: "s1", RunStatus: domain.RunStatusRunning, StartTime: &start},
		{Eid: "e2", InstanceID: "inst-dead", ScheduleID: "s2", RunStatus: domain.RunStatusRunning, StartTime: &start},
	}}
	router := &fakeRouter{connected: map[string]bool{"inst-live": true}}

	r := history.NewReconciler(running, router, discardLogger())
	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(running.upserted) != 1 {
		t.Fatalf("expected exactly 1 upsert, got %d", len(running.upserted))
	}
	lost := running.upserted[0]
	if lost.InstanceID != "inst-dead" {
		t.Fatalf("expected inst-dead to be marked lost, got %s", lost.InstanceID)
	}
	if lost.RunStatus != domain.RunStatusStop {
		t.Fatalf("RunStatus = %v, want stop", lost.RunStatus)
	}
	if lost.ExitStatus != domain.ExitStatusLost {
		t.Fatalf("ExitStatus = %v, want lost", lost.ExitStatus)
	}
	if lost.EndTime == nil {
		t.Fatalf("expected EndTime to be set")
	}
}

func TestReconciler_Run_NoOpWhenAllConnected(t *testing.T) {
	start := time.Now()
	running := &fakeRunning{rows: []*domain.RunningStatus{
		{Eid: "e1", InstanceID: "inst-live", ScheduleID: "s1", RunStatus: domain.RunStatusRunning, StartTime: &start},
	}}
	router := &fakeRouter{connected: map[string]bool{"inst-live": true}}

	r := history.NewReconciler(running, router, discardLogger())
	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(running.upserted) != 0 {
		t.Fatalf("expected no upserts, got %d", len(running.upserted))
	}
}
