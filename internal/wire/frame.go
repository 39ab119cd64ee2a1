// Package wire defines the framed message protocol carried over the
// WebSocket link between Comet and Agent, and between Console and Comet
// (§5 Wire protocol).
package wire

import (
	"encoding/json"
	"errors"
	"time"
)

// Kind identifies the payload shape of a Frame (§5 Frame kinds).
type Kind string

const (
	KindHello         Kind = "hello"
	KindWelcome       Kind = "welcome"
	KindHeartbeat     Kind = "heartbeat"
	KindExec          Kind = "exec"
	KindKill          Kind = "kill"
	KindStartTimer    Kind = "start_timer"
	KindStopTimer     Kind = "stop_timer"
	KindOutput        Kind = "output"
	KindCompleted     Kind = "completed"
	KindSSHOpen       Kind = "ssh_open"
	KindSSHData       Kind = "ssh_data"
	KindSSHResize     Kind = "ssh_resize"
	KindSSHClose      Kind = "ssh_close"
	KindDispatchFailed Kind = "dispatch_failed"
	KindLagging       Kind = "lagging"
)

var ErrUnknownKind = errors.New("wire: unknown frame kind")

// Frame is the single envelope every message on the link is wrapped in.
// Payload is kind-specific and decoded by the caller once Kind is known
// (§5 "one JSON object per WebSocket text message, never partial frames").
type Frame struct {
	Kind      Kind            `json:"kind"`
	ID        string          `json:"id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"ts"`
}

// Encode marshals v as the frame's Payload under kind, stamping Timestamp
// with now (callers pass time.Now() — wire stays free of wall-clock reads
// so it can be exercised deterministically in tests).
func Encode(kind Kind, id string, now time.Time, v any) (*Frame, error) {
	var raw json.RawMessage
	if v != nil {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		raw = b
	}
	return &Frame{Kind: kind, ID: id, Payload: raw, Timestamp: now}, nil
}

// Decode unmarshals f.Payload into v. Callers switch on f.Kind first to
// pick the right v.
func (f *Frame) Decode(v any) error {
	if len(f.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(f.Payload, v)
}

// HelloPayload is sent by the Agent (or Comet dialing Console) as the first
// frame on a new link, identifying itself for the resolve_identity callback
// (§4.B "Comet asks Console to resolve_identity on every new link").
type HelloPayload struct {
	InstanceID string `json:"instanceId"`
	IP         string `json:"ip"`
	MacAddr    string `json:"macAddr"`
	Namespace  string `json:"namespace"`
	SysUser    string `json:"sysUser"`
	SSHPort    int    `json:"sshPort"`
	// CometID is set only when a Comet is the one saying hello, to Console.
	CometID string `json:"cometId,omitempty"`
	// AssignToken is the signed agent-assignment credential minted by
	// Console when the instance was registered (internal/usecase.IdentityIssuer).
	// Comet passes the whole Hello to Console's resolve-identity endpoint,
	// where IdentityResolver checks the token's signature and claims.
	AssignToken string `json:"assignToken,omitempty"`
}

// WelcomePayload answers a Hello: whether it was accepted and, if not, the
// reason.
type WelcomePayload struct {
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
}

// HeartbeatPayload keeps the link's liveness accounting current on both
// ends; RunningCount lets Comet/Console track capacity without a separate
// channel.
type HeartbeatPayload struct {
	RunningCount int `json:"runningCount"`
}

// ExecPayload is forwarded from Console through Comet to the target Agent
// (§4.C step 5).
type ExecPayload struct {
	ScheduleID     string            `json:"scheduleId"`
	RunID          string            `json:"runId"`
	Eid            string            `json:"eid"`
	Code           string            `json:"code"`
	ExecutorCmd    string            `json:"executorCmd"`
	ReadCodeStdin  bool              `json:"readCodeStdin"`
	Args           []string          `json:"args"`
	WorkDir        string            `json:"workDir"`
	WorkUser       string            `json:"workUser"`
	TimeoutSeconds int               `json:"timeoutSeconds"`
	Env            map[string]string `json:"env,omitempty"`
	// MaxParallel is the job's own limit, carried in the dispatch payload so
	// the Agent's belt-and-suspenders check (§4.A) enforces the right number
	// per job rather than one value shared by every exec it runs.
	MaxParallel int `json:"maxParallel,omitempty"`
	// JobType/BundleScript let the Agent run an ordered sequence of steps
	// instead of a single script (§3 Job, job_type == bundle).
	JobType      string            `json:"jobType,omitempty"`
	BundleScript []BundleStepFrame `json:"bundleScript,omitempty"`
}

// BundleStepFrame is one resolved step of a bundle job, carried over the
// wire with its own executor command already joined in (the Agent has no
// access to the executor repository to resolve EidRef itself).
type BundleStepFrame struct {
	Eid             string            `json:"eid"`
	Code            string            `json:"code"`
	ExecutorCmd     string            `json:"executorCmd"`
	ReadCodeStdin   bool              `json:"readCodeStdin"`
	Args            []string          `json:"args"`
	ContinueOnError bool              `json:"continueOnError"`
}

// KillPayload asks the Agent to terminate a running exec by ScheduleID/RunID
// (§4.D "kill propagation").
type KillPayload struct {
	ScheduleID string `json:"scheduleId"`
	RunID      string `json:"runId"`
}

// StartTimerPayload/StopTimerPayload are the protocol's frames for agent-side
// cron evaluation (TimerEvalMode == agent, see DESIGN.md). No component in
// this module sends or handles them.
type StartTimerPayload struct {
	TimerID    string `json:"timerId"`
	Eid        string `json:"eid"`
	CronExpr   string `json:"cronExpr"`
}

type StopTimerPayload struct {
	TimerID string `json:"timerId"`
}

// OutputPayload streams a bounded chunk of stdout/stderr back up the link
// (§4.A output cap; truncation is decided by the Agent and flagged here).
type OutputPayload struct {
	ScheduleID string `json:"scheduleId"`
	RunID      string `json:"runId"`
	Chunk      string `json:"chunk"`
	Truncated  bool   `json:"truncated"`
}

// CompletedPayload reports the terminal outcome of one exec attempt.
type CompletedPayload struct {
	ScheduleID string `json:"scheduleId"`
	RunID      string `json:"runId"`
	ExitCode   *int   `json:"exitCode,omitempty"`
	ExitStatus string `json:"exitStatus"`
	// BundleResult carries one entry per configured step when ScheduleID's
	// job_type == bundle, empty for a plain exec (§3 Bundle script).
	BundleResult []BundleStepResultFrame `json:"bundleResult,omitempty"`
}

// BundleStepResultFrame is one bundle step's outcome, reported alongside the
// aggregate CompletedPayload.
type BundleStepResultFrame struct {
	Eid        string `json:"eid"`
	ExitCode   int    `json:"exitCode"`
	ExitStatus string `json:"exitStatus"`
	Output     string `json:"output"`
	Skipped    bool   `json:"skipped"`
}

// SSHOpenPayload/SSHDataPayload/SSHResizePayload/SSHClosePayload multiplex
// an interactive session over the same link (§4.G).
type SSHOpenPayload struct {
	SessionID string `json:"sessionId"`
	Cols      int    `json:"cols"`
	Rows      int    `json:"rows"`
}

type SSHDataPayload struct {
	SessionID string `json:"sessionId"`
	Data      []byte `json:"data"`
}

type SSHResizePayload struct {
	SessionID string `json:"sessionId"`
	Cols      int    `json:"cols"`
	Rows      int    `json:"rows"`
}

type SSHClosePayload struct {
	SessionID string `json:"sessionId"`
	Reason    string `json:"reason,omitempty"`
}

// DispatchFailedPayload is synthesized by Comet itself (never by the Agent)
// when it cannot forward an exec — the Agent link is gone or backpressured
// (§4.C step 5 "dispatch failures are recorded, not retried transparently").
type DispatchFailedPayload struct {
	ScheduleID string `json:"scheduleId"`
	InstanceID string `json:"instanceId"`
	Reason     string `json:"reason"`
}

// LaggingPayload is synthesized by Comet when an Agent's outbound queue hits
// its bound and frames are being dropped (§4.B backpressure).
type LaggingPayload struct {
	InstanceID string `json:"instanceId"`
	Dropped    int    `json:"dropped"`
}
