package comet_test

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ErlanBelekov/dist-job-scheduler/internal/comet"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/wire"
	"github.com/gorilla/websocket"
)

type stubResolver struct{ err error }

func (s *stubResolver) ResolveIdentity(_ context.Context, _ wire.HelloPayload) error { return s.err }

type stubRoutes struct {
	set   map[string]string
	clear map[string]bool
}

func newStubRoutes() *stubRoutes {
	return &stubRoutes{set: make(map[string]string), clear: make(map[string]bool)}
}

func (r *stubRoutes) SetRoute(_ context.Context, instanceID, cometID string) error {
	r.set[instanceID] = cometID
	return nil
}

func (r *stubRoutes) ClearRoute(_ context.Context, instanceID string) error {
	r.clear[instanceID] = true
	return nil
}

func newTestServer(t *testing.T, resolver comet.IdentityResolver, routes comet.RouteIndex) (*comet.Server, *httptest.Server) {
	t.Helper()
	srv := comet.NewServer("comet-1", resolver, routes, nil, slog.Default())
	httpSrv := httptest.NewServer(http.HandlerFunc(srv.ServeAgentLink))
	t.Cleanup(httpSrv.Close)
	return srv, httpSrv
}

func dialAgent(t *testing.T, httpSrv *httptest.Server) *wire.Conn {
	t.Helper()
	url := "ws" + httpSrv.URL[len("http"):]
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return wire.NewConn(ws, 8)
}

func TestServer_HandshakeAccepted(t *testing.T) {
	routes := newStubRoutes()
	srv, httpSrv := newTestServer(t, &stubResolver{}, routes)
	agent := dialAgent(t, httpSrv)
	defer agent.Close()

	hello, _ := wire.Encode(wire.KindHello, "h1", time.Unix(0, 0), wire.HelloPayload{InstanceID: "inst-1"})
	if err := agent.WriteFrame(hello); err != nil {
		t.Fatalf("write hello: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	welcome, err := agent.ReadFrame(ctx)
	if err != nil {
		t.Fatalf("read welcome: %v", err)
	}
	var payload wire.WelcomePayload
	if err := welcome.Decode(&payload); err != nil {
		t.Fatalf("decode welcome: %v", err)
	}
	if !payload.Accepted {
		t.Fatalf("expected handshake accepted, got reason %q", payload.Reason)
	}

	// give the server goroutine a moment to register the link.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if srv.IsConnected("inst-1") {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if !srv.IsConnected("inst-1") {
		t.Fatal("expected instance to be registered as connected")
	}
	if routes.set["inst-1"] != "comet-1" {
		t.Fatalf("expected route set to comet-1, got %q", routes.set["inst-1"])
	}
}

func TestServer_HandshakeRejected(t *testing.T) {
	_, httpSrv := newTestServer(t, &stubResolver{err: errors.New("unknown instance")}, newStubRoutes())
	agent := dialAgent(t, httpSrv)
	defer agent.Close()

	hello, _ := wire.Encode(wire.KindHello, "h1", time.Unix(0, 0), wire.HelloPayload{InstanceID: "ghost"})
	agent.WriteFrame(hello)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	welcome, err := agent.ReadFrame(ctx)
	if err != nil {
		t.Fatalf("read welcome: %v", err)
	}
	var payload wire.WelcomePayload
	welcome.Decode(&payload)
	if payload.Accepted {
		t.Fatal("expected handshake to be rejected")
	}
}

func TestServer_ForwardNotConnected(t *testing.T) {
	srv, _ := newTestServer(t, &stubResolver{}, newStubRoutes())
	err := srv.Forward(context.Background(), "nobody-home", wire.KindExec, "sched-1", wire.ExecPayload{})
	if !errors.Is(err, comet.ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}
