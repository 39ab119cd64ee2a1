package comet

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ErlanBelekov/dist-job-scheduler/internal/metrics"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/wire"
	"github.com/gorilla/websocket"
)

// IdentityResolver is Console's resolve_identity callback: given a Hello,
// decide whether the Agent is known and should be admitted (§4.B "Comet
// asks Console to resolve_identity on every new link").
type IdentityResolver interface {
	ResolveIdentity(ctx context.Context, hello wire.HelloPayload) error
}

// RouteIndex publishes this Comet's view of which instance_ids are reachable
// through it, into the shared routing table (internal/infrastructure/redisindex).
type RouteIndex interface {
	SetRoute(ctx context.Context, instanceID, cometID string) error
	ClearRoute(ctx context.Context, instanceID string) error
}

// AssignTokenIssuer proxies an Agent's one-time assign-credential bootstrap
// call to Console (§6 "assign_username, assign_password"), so an Agent only
// ever needs to know its Comet address, never Console's.
type AssignTokenIssuer interface {
	IssueAssignToken(ctx context.Context, username, password string, req AssignTokenRequest) (string, error)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server terminates Agent WebSocket links and relays frames between them
// and the dispatcher (§2 Comet).
type Server struct {
	CometID     string
	registry    *Registry
	resolver    IdentityResolver
	routes      RouteIndex
	assignToken AssignTokenIssuer
	logger      *slog.Logger

	queueDepth int
	onUpstream upstreamHandler
}

func NewServer(cometID string, resolver IdentityResolver, routes RouteIndex, assignToken AssignTokenIssuer, logger *slog.Logger) *Server {
	return &Server{
		CometID:     cometID,
		registry:    NewRegistry(),
		resolver:    resolver,
		routes:      routes,
		assignToken: assignToken,
		logger:      logger.With("component", "comet", "comet_id", cometID),
		queueDepth:  256,
	}
}

// Registry exposes the live link table for direct inspection. The forwarding
// path (Forward, IsConnected) reads the table through Server itself.
func (s *Server) Registry() *Registry { return s.registry }

// ServeAgentLink upgrades the incoming request to a WebSocket, performs the
// hello/welcome handshake, registers the resulting Link, and then pumps
// frames until the link drops (§4.B link lifecycle).
func (s *Server) ServeAgentLink(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("upgrade failed", "error", err)
		return
	}
	conn := wire.NewConn(ws, s.queueDepth)

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	hello, err := s.handshake(ctx, conn)
	cancel()
	if err != nil {
		s.logger.Warn("handshake failed", "error", err)
		conn.Close()
		return
	}

	link := &Link{InstanceID: hello.InstanceID, Conn: conn}
	s.registry.Put(link)
	metrics.CometLinksActive.Set(float64(s.registry.Len()))

	if err := s.routes.SetRoute(r.Context(), hello.InstanceID, s.CometID); err != nil {
		s.logger.Error("set route failed", "instance_id", hello.InstanceID, "error", err)
	}

	s.logger.Info("agent link established", "instance_id", hello.InstanceID)
	s.pump(r.Context(), link)
}

func (s *Server) handshake(ctx context.Context, conn *wire.Conn) (*wire.HelloPayload, error) {
	f, err := conn.ReadFrame(ctx)
	if err != nil {
		return nil, fmt.Errorf("read hello: %w", err)
	}
	if f.Kind != wire.KindHello {
		return nil, fmt.Errorf("expected hello frame, got %s", f.Kind)
	}
	var hello wire.HelloPayload
	if err := f.Decode(&hello); err != nil {
		return nil, fmt.Errorf("decode hello: %w", err)
	}

	if err := s.resolver.ResolveIdentity(ctx, hello); err != nil {
		welcome, _ := wire.Encode(wire.KindWelcome, f.ID, time.Now(), wire.WelcomePayload{
			Accepted: false, Reason: err.Error(),
		})
		conn.WriteFrame(welcome)
		return nil, fmt.Errorf("resolve identity: %w", err)
	}

	welcome, err := wire.Encode(wire.KindWelcome, f.ID, time.Now(), wire.WelcomePayload{Accepted: true})
	if err != nil {
		return nil, err
	}
	if err := conn.WriteFrame(welcome); err != nil {
		return nil, fmt.Errorf("write welcome: %w", err)
	}
	return &hello, nil
}

// pump reads frames off link until it closes, routing each to its handler.
// Only a small set of kinds ever originate from the Agent side: heartbeat,
// output, completed, ssh_data and ssh_close; dispatch_failed/lagging are
// synthesized by Comet itself, not read from the Agent.
func (s *Server) pump(ctx context.Context, link *Link) {
	defer func() {
		s.registry.Remove(link.InstanceID, link)
		metrics.CometLinksActive.Set(float64(s.registry.Len()))
		if err := s.routes.ClearRoute(context.Background(), link.InstanceID); err != nil {
			s.logger.Error("clear route failed", "instance_id", link.InstanceID, "error", err)
		}
		link.Conn.Close()
		s.logger.Info("agent link closed", "instance_id", link.InstanceID)
	}()

	for {
		f, err := link.Conn.ReadFrame(ctx)
		if err != nil {
			return
		}
		s.handleUpstream(link, f)
	}
}

func (s *Server) handleUpstream(link *Link, f *wire.Frame) {
	if f.Kind == wire.KindHeartbeat {
		// Re-set the route on every heartbeat so its TTL does not lapse
		// while the link is up.
		if err := s.routes.SetRoute(context.Background(), link.InstanceID, s.CometID); err != nil {
			s.logger.Error("refresh route failed", "instance_id", link.InstanceID, "error", err)
		}
	}
	switch f.Kind {
	case wire.KindHeartbeat, wire.KindOutput, wire.KindCompleted,
		wire.KindSSHData, wire.KindSSHClose:
		// Forwarded verbatim to the upstream handler set via OnUpstream
		// (cmd/comet relays them to Console's /internal/upstream).
		if s.onUpstream != nil {
			s.onUpstream(link.InstanceID, f)
		}
	default:
		s.logger.Warn("unexpected upstream frame kind", "kind", f.Kind, "instance_id", link.InstanceID)
	}
}

// upstreamHandler receives every frame an Agent sends that isn't part of the
// handshake (heartbeat/output/completed/ssh_data/ssh_close). cmd/comet wires
// in ConsoleClient.PushUpstream via OnUpstream so Comet stays ignorant of
// schedule_id bookkeeping (§2 "stateless").
type upstreamHandler func(instanceID string, f *wire.Frame)

func (s *Server) OnUpstream(h upstreamHandler) { s.onUpstream = h }
