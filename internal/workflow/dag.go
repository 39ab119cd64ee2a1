// Package workflow advances a workflow_process through its DAG: which node
// runs next, gated by edge type and join policy (§4.E). It decides WHICH
// node, not WHEN (scheduler) or WHERE (dispatcher) — flow-mode schedules it
// issues are dispatched the same way any other schedule is.
package workflow

import (
	"fmt"

	"github.com/ErlanBelekov/dist-job-scheduler/internal/domain"
)

// dag is the in-memory adjacency built from a workflow snapshot, used once
// per evaluation call rather than persisted.
type dag struct {
	nodes       map[string]domain.WorkflowNode
	outbound    map[string][]domain.WorkflowEdge
	inbound     map[string][]domain.WorkflowEdge
	root        string
}

// buildDAG validates the snapshot has exactly one node with in-degree zero
// (the process start node) and no cycles, per §4.E "walk starts at the
// unique node with in-degree zero".
func buildDAG(snap domain.WorkflowSnapshot) (*dag, error) {
	d := &dag{
		nodes:    make(map[string]domain.WorkflowNode, len(snap.Nodes)),
		outbound: make(map[string][]domain.WorkflowEdge),
		inbound:  make(map[string][]domain.WorkflowEdge),
	}
	for _, n := range snap.Nodes {
		d.nodes[n.ID] = n
	}
	for _, e := range snap.Edges {
		if _, ok := d.nodes[e.FromNode]; !ok {
			return nil, fmt.Errorf("%w: edge %s references unknown from_node %s", domain.ErrWorkflowDAGInvalid, e.ID, e.FromNode)
		}
		if _, ok := d.nodes[e.ToNode]; !ok {
			return nil, fmt.Errorf("%w: edge %s references unknown to_node %s", domain.ErrWorkflowDAGInvalid, e.ID, e.ToNode)
		}
		d.outbound[e.FromNode] = append(d.outbound[e.FromNode], e)
		d.inbound[e.ToNode] = append(d.inbound[e.ToNode], e)
	}

	var roots []string
	for id := range d.nodes {
		if len(d.inbound[id]) == 0 {
			roots = append(roots, id)
		}
	}
	if len(roots) != 1 {
		return nil, fmt.Errorf("%w: expected exactly one root node, found %d", domain.ErrWorkflowDAGInvalid, len(roots))
	}
	d.root = roots[0]

	if err := checkAcyclic(d); err != nil {
		return nil, err
	}
	return d, nil
}

// checkAcyclic runs Kahn's algorithm; any node left unvisited after
// exhausting the frontier sits on a cycle.
func checkAcyclic(d *dag) error {
	indegree := make(map[string]int, len(d.nodes))
	for id := range d.nodes {
		indegree[id] = len(d.inbound[id])
	}

	queue := make([]string, 0, len(d.nodes))
	for id, deg := range indegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}

	visited := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		visited++
		for _, e := range d.outbound[id] {
			indegree[e.ToNode]--
			if indegree[e.ToNode] == 0 {
				queue = append(queue, e.ToNode)
			}
		}
	}

	if visited != len(d.nodes) {
		return fmt.Errorf("%w: cycle detected", domain.ErrWorkflowDAGInvalid)
	}
	return nil
}
