package wire_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ErlanBelekov/dist-job-scheduler/internal/wire"
	"github.com/gorilla/websocket"
)

func dialPair(t *testing.T) (server, client *wire.Conn) {
	t.Helper()
	upgrader := websocket.Upgrader{}

	srvConnCh := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		srvConnCh <- c
	}))
	t.Cleanup(srv.Close)

	url := "ws" + srv.URL[len("http"):]
	clientWS, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	serverWS := <-srvConnCh
	return wire.NewConn(serverWS, 8), wire.NewConn(clientWS, 8)
}

func TestConn_WriteAndReadFrame(t *testing.T) {
	server, client := dialPair(t)
	t.Cleanup(func() { server.Close(); client.Close() })

	f, err := wire.Encode(wire.KindExec, "sched-1", time.Unix(0, 0), wire.ExecPayload{
		ScheduleID: "sched-1",
		RunID:      "run-1",
		Eid:        "eid-123",
		Code:       "echo hi",
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	if err := server.WriteFrame(f); err != nil {
		t.Fatalf("write frame: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	got, err := client.ReadFrame(ctx)
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if got.Kind != wire.KindExec {
		t.Fatalf("expected kind %s, got %s", wire.KindExec, got.Kind)
	}

	var payload wire.ExecPayload
	if err := got.Decode(&payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.Eid != "eid-123" || payload.RunID != "run-1" {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestConn_WriteFrame_QueueFullDrops(t *testing.T) {
	server, client := dialPair(t)
	t.Cleanup(func() { server.Close(); client.Close() })

	// Never read from client, so server's outbound queue (depth 8) fills.
	f, _ := wire.Encode(wire.KindHeartbeat, "", time.Unix(0, 0), wire.HeartbeatPayload{RunningCount: 1})

	var lastErr error
	for i := 0; i < 32; i++ {
		lastErr = server.WriteFrame(f)
	}
	if lastErr == nil {
		t.Fatal("expected a dropped-frame error once the outbound queue saturates")
	}
	if server.Dropped() == 0 {
		t.Fatal("expected Dropped() to report at least one drop")
	}
}

func TestConn_ReadFrame_CtxCancel(t *testing.T) {
	server, client := dialPair(t)
	t.Cleanup(func() { server.Close(); client.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := client.ReadFrame(ctx); err == nil {
		t.Fatal("expected error reading with an already-cancelled context")
	}
}
