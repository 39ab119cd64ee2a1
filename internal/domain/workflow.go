package domain

import (
	"errors"
	"time"
)

var (
	ErrWorkflowNotFound        = errors.New("workflow not found")
	ErrWorkflowDAGInvalid      = errors.New("workflow dag invalid")
	ErrWorkflowVersionImmutable = errors.New("released workflow version is immutable")
	ErrProcessNotFound         = errors.New("workflow process not found")
)

type VersionStatus string

const (
	VersionDraft    VersionStatus = "draft"
	VersionReleased VersionStatus = "released"
)

// EdgeType governs when an edge is traversable (§4.E).
type EdgeType string

const (
	EdgeAlways    EdgeType = "always"
	EdgeOnSuccess EdgeType = "on_success"
	EdgeOnFailure EdgeType = "on_failure"
	EdgeEval      EdgeType = "eval"
)

// JoinPolicy governs how a node with multiple inbound edges activates
// (§4.E "documented join policy").
type JoinPolicy string

const (
	JoinAll JoinPolicy = "all"
	JoinAny JoinPolicy = "any"
)

// WorkflowNode references an eid to run when activated. Targets resolves
// the instances the node's eid dispatches to — the schema enumerated in
// §3 leaves per-node target association implicit, the same gap as
// domain.Timer.Targets; DESIGN.md records this as a resolved Open Question.
type WorkflowNode struct {
	ID         string            `json:"id"`
	Eid        string            `json:"eid"`
	Name       string            `json:"name"`
	Args       map[string]string `json:"args,omitempty"`
	Targets    TargetSelector    `json:"targets"`
	JoinPolicy JoinPolicy        `json:"joinPolicy"`
}

// WorkflowEdge connects two nodes, gated by EdgeType and, for EdgeEval, a
// small expression compared against EvalVal (§4.E, open question on grammar).
type WorkflowEdge struct {
	ID       string   `json:"id"`
	FromNode string   `json:"fromNode"`
	ToNode   string   `json:"toNode"`
	EdgeType EdgeType `json:"edgeType"`
	EvalVal  string   `json:"evalVal,omitempty"`
}

// Workflow is a DAG definition; a released version is immutable (invariant 5).
type Workflow struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	TeamID        string         `json:"teamId"`
	Nodes         []WorkflowNode `json:"nodes"`
	Edges         []WorkflowEdge `json:"edges"`
	Version       int            `json:"version"`
	VersionStatus VersionStatus  `json:"versionStatus"`
	ParentID      string         `json:"parentId,omitempty"`
	IsPublic      bool           `json:"isPublic"`
	CreatedAt     time.Time      `json:"createdAt"`
}

type ProcessStatus string

const (
	ProcessStart   ProcessStatus = "start_process"
	ProcessRunning ProcessStatus = "running"
	ProcessEnd     ProcessStatus = "end_process"
	ProcessFailed  ProcessStatus = "failed"
)

// WorkflowProcess is a running instance of a released workflow. Snapshot is
// the byte-identical copy of the released nodes/edges taken at process
// start (invariant 4, §8 property 6).
type WorkflowProcess struct {
	ProcessID     string        `json:"processId"`
	WorkflowID    string        `json:"workflowId"`
	Version       int           `json:"version"`
	Snapshot      WorkflowSnapshot `json:"snapshot"`
	ProcessStatus ProcessStatus `json:"processStatus"`
	CurrentNode   string        `json:"currentNode"`
	ProcessArgs   map[string]string `json:"processArgs"`
	StartedAt     time.Time     `json:"startedAt"`
	EndedAt       *time.Time    `json:"endedAt,omitempty"`
}

// WorkflowSnapshot is the frozen (nodes, edges) pair a process evaluates
// against, independent of later edits to the workflow definition.
type WorkflowSnapshot struct {
	Nodes []WorkflowNode `json:"nodes"`
	Edges []WorkflowEdge `json:"edges"`
}

type NodeStatus string

const (
	NodeStart   NodeStatus = "start"
	NodeRunning NodeStatus = "running"
	NodeEnd     NodeStatus = "end"
)

// WorkflowProcessNode is the per-instance execution record of one node.
type WorkflowProcessNode struct {
	ProcessID  string     `json:"processId"`
	NodeID     string     `json:"nodeId"`
	NodeStatus NodeStatus `json:"nodeStatus"`
	RestartNum int        `json:"restartNum"`
	ExitCode   *int       `json:"exitCode,omitempty"`
	ExitStatus ExitStatus `json:"exitStatus,omitempty"`
	Output     string     `json:"output,omitempty"`
	DispatchResult map[string]string `json:"dispatchResult,omitempty"`
	ScheduleID string     `json:"scheduleId,omitempty"`
	StartedAt  *time.Time `json:"startedAt,omitempty"`
	EndedAt    *time.Time `json:"endedAt,omitempty"`
}

// WorkflowProcessEdge is the per-instance record of an edge traversal.
type WorkflowProcessEdge struct {
	ProcessID string `json:"processId"`
	EdgeID    string `json:"edgeId"`
	Activated bool   `json:"activated"`
	ActivatedAt *time.Time `json:"activatedAt,omitempty"`
}
