// Command agent runs on a managed host: it dials its Comet over WebSocket,
// executes dispatched jobs, streams their output back, and multiplexes
// interactive SSH sessions over the same link (§2 Agent, §4.A, §4.G).
package main

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/ErlanBelekov/dist-job-scheduler/config"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/agentrt"
	ctxlog "github.com/ErlanBelekov/dist-job-scheduler/internal/log"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/metrics"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/shell"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/wire"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/lmittmann/tint"
	"golang.org/x/crypto/ssh"
)

func main() {
	bindAddr := flag.String("bind", "", "override agent_bind_addr (reserved for future local control surface)")
	cometAddr := flag.String("comet-addr", "", "ws:// address of the Comet this agent dials")
	outputDir := flag.String("output-dir", "", "override output_dir")
	cometSecret := flag.String("comet-secret", "", "override comet_secret (reserved; agent auth is assign-credential based, §6)")
	namespace := flag.String("n", "", "override namespace")
	sshUser := flag.String("ssh-user", "", "override ssh_user")
	sshPassword := flag.String("ssh-password", "", "override ssh_password")
	sshPort := flag.Int("ssh-port", 0, "override ssh_port")
	assignUsername := flag.String("assign-username", "", "override assign_username")
	assignPassword := flag.String("assign-password", "", "override assign_password")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	cfg, err := config.LoadAgent(*bindAddr, *cometAddr, *outputDir, *cometSecret, *namespace,
		*sshUser, *sshPassword, *sshPort, *assignUsername, *assignPassword)
	if err != nil {
		log.Printf("config error: %v", err)
		os.Exit(1)
	}
	if *debug {
		cfg.LogLevel = "debug"
	}

	logger := newLogger(cfg.Env, cfg.SlogLevel())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		logger.Error("create output dir", "error", err)
		os.Exit(1)
	}

	metrics.Register()

	instanceID, err := loadOrCreateInstanceID(cfg.OutputDir)
	if err != nil {
		logger.Error("instance id", "error", err)
		os.Exit(1)
	}
	ip, mac := detectNetIdentity()

	assignToken, err := loadOrIssueAssignToken(ctx, cfg, instanceID, ip, mac)
	if err != nil {
		logger.Error("issue assign token", "error", err)
		os.Exit(1)
	}

	ws, _, err := websocket.DefaultDialer.DialContext(ctx, cfg.CometAddr, nil)
	if err != nil {
		logger.Error("dial comet", "addr", cfg.CometAddr, "error", err)
		os.Exit(1)
	}
	conn := wire.NewConn(ws, 256)
	defer conn.Close()

	if err := sayHello(ctx, conn, cfg, instanceID, ip, mac, assignToken); err != nil {
		logger.Error("hello handshake", "error", err)
		os.Exit(1)
	}
	logger.Info("agent link established", "instance_id", instanceID, "comet_addr", cfg.CometAddr)

	uplink := &connUplink{conn: conn}

	hostKey, err := newHostKeySigner()
	if err != nil {
		logger.Error("generate host key", "error", err)
		os.Exit(1)
	}

	runtime := agentrt.NewRuntime(uplink, logger)
	heartbeat := agentrt.NewHeartbeat(runtime, uplink, logger, cfg.HeartbeatInterval)
	shellServer := shell.NewServer(hostKey, uplink, logger)

	go heartbeat.Start(ctx)
	go readLoop(ctx, conn, runtime, shellServer, cfg.MaxParallel, logger)

	<-ctx.Done()
	logger.Info("shutting down...")
}

// effectiveMaxParallel prefers the job's own limit from the dispatch
// payload (§4.A "from the dispatch payload"); fallback is the agent-wide
// MAX_PARALLEL ceiling for jobs that don't set one.
func effectiveMaxParallel(payloadLimit, fallback int) int {
	if payloadLimit > 0 {
		return payloadLimit
	}
	return fallback
}

func newLogger(env string, level slog.Level) *slog.Logger {
	var inner slog.Handler
	if env == "local" {
		inner = tint.NewHandler(os.Stdout, &tint.Options{Level: level, TimeFormat: time.Kitchen})
	} else {
		inner = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}
	return slog.New(ctxlog.NewContextHandler(inner))
}

// loadOrCreateInstanceID persists a generated instance_id under outputDir so
// it survives agent restarts — Console's resolve_identity keys its instance
// row on this value (§4.B).
func loadOrCreateInstanceID(outputDir string) (string, error) {
	path := filepath.Join(outputDir, "instance_id")
	if b, err := os.ReadFile(path); err == nil {
		if id := strings.TrimSpace(string(b)); id != "" {
			return id, nil
		}
	}
	id := uuid.NewString()
	if err := os.WriteFile(path, []byte(id), 0o600); err != nil {
		return "", fmt.Errorf("persist instance id: %w", err)
	}
	return id, nil
}

func detectNetIdentity() (ip, mac string) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return "", ""
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil || len(addrs) == 0 {
			continue
		}
		for _, addr := range addrs {
			if ipNet, ok := addr.(*net.IPNet); ok && ipNet.IP.To4() != nil {
				return ipNet.IP.String(), iface.HardwareAddr.String()
			}
		}
	}
	return "", ""
}

// cometHTTPBase turns the ws(s)://host:port/ws address this agent dials for
// its link into the http(s) base its one-time assign-token bootstrap call
// and /healthz share (§6 — an agent only ever configures a comet address).
func cometHTTPBase(cometAddr string) string {
	base := strings.TrimSuffix(cometAddr, "/ws")
	base = strings.Replace(base, "ws://", "http://", 1)
	base = strings.Replace(base, "wss://", "https://", 1)
	return base
}

func loadOrIssueAssignToken(ctx context.Context, cfg *config.Agent, instanceID, ip, mac string) (string, error) {
	path := filepath.Join(cfg.OutputDir, "assign_token")
	if b, err := os.ReadFile(path); err == nil {
		if token := strings.TrimSpace(string(b)); token != "" {
			return token, nil
		}
	}

	body, err := json.Marshal(struct {
		InstanceID     string `json:"instanceId"`
		IP             string `json:"ip"`
		MacAddr        string `json:"macAddr"`
		Namespace      string `json:"namespace"`
		SysUser        string `json:"sysUser"`
		SSHPort        int    `json:"sshPort"`
		AssignUsername string `json:"assignUsername"`
		AssignPassword string `json:"assignPassword"`
	}{
		InstanceID:     instanceID,
		IP:             ip,
		MacAddr:        mac,
		Namespace:      cfg.Namespace,
		SysUser:        cfg.SSHUser,
		SSHPort:        cfg.SSHPort,
		AssignUsername: cfg.AssignUsername,
		AssignPassword: cfg.AssignPassword,
	})
	if err != nil {
		return "", fmt.Errorf("marshal assign token request: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, cometHTTPBase(cfg.CometAddr)+"/assign-token", strings.NewReader(string(body)))
	if err != nil {
		return "", fmt.Errorf("build assign token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request assign token: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("assign token request rejected, status %d", resp.StatusCode)
	}

	var out struct {
		AssignToken string `json:"assignToken"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode assign token response: %w", err)
	}
	if err := os.WriteFile(path, []byte(out.AssignToken), 0o600); err != nil {
		return "", fmt.Errorf("persist assign token: %w", err)
	}
	return out.AssignToken, nil
}

func sayHello(ctx context.Context, conn *wire.Conn, cfg *config.Agent, instanceID, ip, mac, assignToken string) error {
	hello, err := wire.Encode(wire.KindHello, uuid.NewString(), time.Now(), wire.HelloPayload{
		InstanceID:  instanceID,
		IP:          ip,
		MacAddr:     mac,
		Namespace:   cfg.Namespace,
		SysUser:     cfg.SSHUser,
		SSHPort:     cfg.SSHPort,
		AssignToken: assignToken,
	})
	if err != nil {
		return err
	}
	if err := conn.WriteFrame(hello); err != nil {
		return err
	}

	handshakeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	f, err := conn.ReadFrame(handshakeCtx)
	if err != nil {
		return fmt.Errorf("read welcome: %w", err)
	}
	if f.Kind != wire.KindWelcome {
		return fmt.Errorf("expected welcome frame, got %s", f.Kind)
	}
	var welcome wire.WelcomePayload
	if err := f.Decode(&welcome); err != nil {
		return fmt.Errorf("decode welcome: %w", err)
	}
	if !welcome.Accepted {
		return fmt.Errorf("hello rejected: %s", welcome.Reason)
	}
	return nil
}

// connUplink adapts *wire.Conn to agentrt.Uplink/shell.Uplink.
type connUplink struct {
	conn *wire.Conn
}

func (u *connUplink) Send(kind wire.Kind, id string, payload any) error {
	f, err := wire.Encode(kind, id, time.Now(), payload)
	if err != nil {
		return err
	}
	return u.conn.WriteFrame(f)
}

func newHostKeySigner() (ssh.Signer, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return ssh.NewSignerFromSigner(priv)
}

// readLoop dispatches every frame the Agent receives after the handshake to
// the runtime or shell multiplexer, matching the kinds a Comet<->Agent link
// ever carries downstream (§5 frame kinds).
func readLoop(ctx context.Context, conn *wire.Conn, runtime *agentrt.Runtime, shellServer *shell.Server, maxParallel int, logger *slog.Logger) {
	for {
		f, err := conn.ReadFrame(ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				logger.Warn("link read failed", "error", err)
			}
			return
		}

		switch f.Kind {
		case wire.KindExec:
			var payload wire.ExecPayload
			if err := f.Decode(&payload); err != nil {
				logger.Error("decode exec payload", "error", err)
				continue
			}
			limit := effectiveMaxParallel(payload.MaxParallel, maxParallel)
			var execErr error
			if payload.JobType == "bundle" {
				execErr = runtime.ExecBundle(ctx, payload, limit)
			} else {
				execErr = runtime.Exec(ctx, payload, limit)
			}
			if execErr != nil {
				logger.Warn("exec failed to start", "schedule_id", payload.ScheduleID, "error", execErr)
			}

		case wire.KindKill:
			var payload wire.KillPayload
			if err := f.Decode(&payload); err != nil {
				logger.Error("decode kill payload", "error", err)
				continue
			}
			if err := runtime.Kill(payload.RunID); err != nil {
				logger.Warn("kill failed", "run_id", payload.RunID, "error", err)
			}

		case wire.KindSSHOpen:
			var payload wire.SSHOpenPayload
			if err := f.Decode(&payload); err != nil {
				logger.Error("decode ssh_open payload", "error", err)
				continue
			}
			if err := shellServer.Open(payload.SessionID, payload.Cols, payload.Rows); err != nil {
				logger.Warn("ssh open failed", "session_id", payload.SessionID, "error", err)
			}

		case wire.KindSSHData:
			var payload wire.SSHDataPayload
			if err := f.Decode(&payload); err != nil {
				logger.Error("decode ssh_data payload", "error", err)
				continue
			}
			if err := shellServer.Data(payload.SessionID, payload.Data); err != nil {
				logger.Warn("ssh data failed", "session_id", payload.SessionID, "error", err)
			}

		case wire.KindSSHClose:
			var payload wire.SSHClosePayload
			if err := f.Decode(&payload); err != nil {
				logger.Error("decode ssh_close payload", "error", err)
				continue
			}
			if err := shellServer.Close(payload.SessionID, payload.Reason); err != nil {
				logger.Warn("ssh close failed", "session_id", payload.SessionID, "error", err)
			}

		case wire.KindSSHResize:
			// No-op: the in-process pty spawned by shell.Server doesn't yet
			// expose a resize hook; the shell process inherits its initial
			// COLUMNS/LINES and runs to completion at that size.

		default:
			logger.Warn("unexpected downstream frame kind", "kind", f.Kind)
		}
	}
}
