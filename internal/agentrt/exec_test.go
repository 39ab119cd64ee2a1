package agentrt_test

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/ErlanBelekov/dist-job-scheduler/internal/agentrt"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/wire"
)

type recordingUplink struct {
	mu    sync.Mutex
	sent  []wire.Kind
	completed wire.CompletedPayload
	got   chan struct{}
}

func newRecordingUplink() *recordingUplink {
	return &recordingUplink{got: make(chan struct{}, 1)}
}

func (u *recordingUplink) Send(kind wire.Kind, _ string, payload any) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.sent = append(u.sent, kind)
	if kind == wire.KindCompleted {
		u.completed = payload.(wire.CompletedPayload)
		select {
		case u.got <- struct{}{}:
		default:
		}
	}
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestRuntime_Exec_Success(t *testing.T) {
	uplink := newRecordingUplink()
	rt := agentrt.NewRuntime(uplink, testLogger())

	err := rt.Exec(context.Background(), wire.ExecPayload{
		ScheduleID:  "sched-1",
		RunID:       "run-1",
		Eid:         "eid-1",
		ExecutorCmd: "/bin/sh",
		Args:        []string{"-c", "echo hello"},
	}, 0)
	if err != nil {
		t.Fatalf("exec: %v", err)
	}

	select {
	case <-uplink.got:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for completed frame")
	}

	if uplink.completed.ExitStatus != "success" {
		t.Fatalf("expected success, got %s", uplink.completed.ExitStatus)
	}
	if uplink.completed.ExitCode == nil || *uplink.completed.ExitCode != 0 {
		t.Fatalf("expected exit code 0, got %v", uplink.completed.ExitCode)
	}
}

func TestRuntime_Exec_MaxParallelRejects(t *testing.T) {
	uplink := newRecordingUplink()
	rt := agentrt.NewRuntime(uplink, testLogger())

	err := rt.Exec(context.Background(), wire.ExecPayload{
		ScheduleID:  "sched-1",
		RunID:       "run-1",
		Eid:         "eid-1",
		ExecutorCmd: "/bin/sh",
		Args:        []string{"-c", "sleep 1"},
	}, 1)
	if err != nil {
		t.Fatalf("first exec: %v", err)
	}

	err = rt.Exec(context.Background(), wire.ExecPayload{
		ScheduleID:  "sched-2",
		RunID:       "run-2",
		Eid:         "eid-1",
		ExecutorCmd: "/bin/sh",
		Args:        []string{"-c", "sleep 1"},
	}, 1)
	if err == nil {
		t.Fatal("expected max_parallel rejection on second concurrent exec for same eid")
	}
}

func TestRuntime_Kill(t *testing.T) {
	uplink := newRecordingUplink()
	rt := agentrt.NewRuntime(uplink, testLogger())

	if err := rt.Exec(context.Background(), wire.ExecPayload{
		ScheduleID:  "sched-1",
		RunID:       "run-1",
		Eid:         "eid-1",
		ExecutorCmd: "/bin/sh",
		Args:        []string{"-c", "sleep 30"},
	}, 0); err != nil {
		t.Fatalf("exec: %v", err)
	}

	if err := rt.Kill("run-1"); err != nil {
		t.Fatalf("kill: %v", err)
	}

	select {
	case <-uplink.got:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for completed frame after kill")
	}
	if uplink.completed.ExitStatus != "killed" {
		t.Fatalf("expected killed, got %s", uplink.completed.ExitStatus)
	}
}

func TestRuntime_ExecBundle_HaltsOnFailure(t *testing.T) {
	uplink := newRecordingUplink()
	rt := agentrt.NewRuntime(uplink, testLogger())

	err := rt.ExecBundle(context.Background(), wire.ExecPayload{
		ScheduleID: "sched-1",
		RunID:      "run-1",
		Eid:        "eid-1",
		JobType:    "bundle",
		BundleScript: []wire.BundleStepFrame{
			{Eid: "step-1", ExecutorCmd: "/bin/sh", Args: []string{"-c", "exit 1"}},
			{Eid: "step-2", ExecutorCmd: "/bin/sh", Args: []string{"-c", "echo never"}},
		},
	}, 0)
	if err != nil {
		t.Fatalf("exec bundle: %v", err)
	}

	select {
	case <-uplink.got:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for completed frame")
	}

	if uplink.completed.ExitStatus != "failed" {
		t.Fatalf("expected aggregate failed, got %s", uplink.completed.ExitStatus)
	}
	if len(uplink.completed.BundleResult) != 2 {
		t.Fatalf("expected one result per configured step, got %d", len(uplink.completed.BundleResult))
	}
	if uplink.completed.BundleResult[0].ExitStatus != "failed" {
		t.Fatalf("expected step-1 failed, got %s", uplink.completed.BundleResult[0].ExitStatus)
	}
	if !uplink.completed.BundleResult[1].Skipped {
		t.Fatal("expected step-2 to be skipped after step-1 failed")
	}
}
