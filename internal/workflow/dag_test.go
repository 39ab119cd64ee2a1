package workflow

import (
	"testing"

	"github.com/ErlanBelekov/dist-job-scheduler/internal/domain"
)

func TestBuildDAG_ValidSingleRoot(t *testing.T) {
	snap := domain.WorkflowSnapshot{
		Nodes: []domain.WorkflowNode{{ID: "a"}, {ID: "b"}, {ID: "c"}},
		Edges: []domain.WorkflowEdge{
			{ID: "e1", FromNode: "a", ToNode: "b", EdgeType: domain.EdgeOnSuccess},
			{ID: "e2", FromNode: "a", ToNode: "c", EdgeType: domain.EdgeOnFailure},
		},
	}
	d, err := buildDAG(snap)
	if err != nil {
		t.Fatalf("buildDAG: %v", err)
	}
	if d.root != "a" {
		t.Fatalf("expected root a, got %s", d.root)
	}
}

func TestBuildDAG_RejectsMultipleRoots(t *testing.T) {
	snap := domain.WorkflowSnapshot{
		Nodes: []domain.WorkflowNode{{ID: "a"}, {ID: "b"}},
	}
	if _, err := buildDAG(snap); err == nil {
		t.Fatal("expected error for two disconnected roots")
	}
}

func TestBuildDAG_RejectsCycle(t *testing.T) {
	snap := domain.WorkflowSnapshot{
		Nodes: []domain.WorkflowNode{{ID: "a"}, {ID: "b"}, {ID: "c"}},
		Edges: []domain.WorkflowEdge{
			{ID: "e1", FromNode: "a", ToNode: "b", EdgeType: domain.EdgeAlways},
			{ID: "e2", FromNode: "b", ToNode: "c", EdgeType: domain.EdgeAlways},
			{ID: "e3", FromNode: "c", ToNode: "b", EdgeType: domain.EdgeAlways},
		},
	}
	if _, err := buildDAG(snap); err == nil {
		t.Fatal("expected error for cycle")
	}
}

func TestBuildDAG_RejectsDanglingEdge(t *testing.T) {
	snap := domain.WorkflowSnapshot{
		Nodes: []domain.WorkflowNode{{ID: "a"}},
		Edges: []domain.WorkflowEdge{{ID: "e1", FromNode: "a", ToNode: "ghost", EdgeType: domain.EdgeAlways}},
	}
	if _, err := buildDAG(snap); err == nil {
		t.Fatal("expected error for edge referencing unknown node")
	}
}

func TestEdgeSatisfied(t *testing.T) {
	code0, code1 := 0, 1

	cases := []struct {
		name string
		edge domain.WorkflowEdge
		code *int
		status domain.ExitStatus
		output string
		want bool
	}{
		{"always", domain.WorkflowEdge{EdgeType: domain.EdgeAlways}, &code1, domain.ExitStatusFailed, "", true},
		{"on_success true", domain.WorkflowEdge{EdgeType: domain.EdgeOnSuccess}, &code0, domain.ExitStatusSuccess, "", true},
		{"on_success false", domain.WorkflowEdge{EdgeType: domain.EdgeOnSuccess}, &code1, domain.ExitStatusFailed, "", false},
		{"on_failure true", domain.WorkflowEdge{EdgeType: domain.EdgeOnFailure}, &code1, domain.ExitStatusFailed, "", true},
		{"eval matches code", domain.WorkflowEdge{EdgeType: domain.EdgeEval, EvalVal: "1"}, &code1, domain.ExitStatusFailed, "", true},
		{"eval matches output", domain.WorkflowEdge{EdgeType: domain.EdgeEval, EvalVal: "retry"}, &code0, domain.ExitStatusSuccess, "retry", true},
		{"eval no match", domain.WorkflowEdge{EdgeType: domain.EdgeEval, EvalVal: "99"}, &code1, domain.ExitStatusFailed, "", false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := edgeSatisfied(c.edge, c.code, c.status, c.output)
			if got != c.want {
				t.Fatalf("edgeSatisfied(%+v) = %v, want %v", c.edge, got, c.want)
			}
		})
	}
}
