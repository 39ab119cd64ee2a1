package repository

import (
	"context"

	"github.com/ErlanBelekov/dist-job-scheduler/internal/domain"
)

// WorkflowRepository owns workflow definitions and their running-process
// state (§3 Workflow, Workflow process/node/edge; §4.E).
type WorkflowRepository interface {
	CreateDraft(ctx context.Context, w *domain.Workflow) (*domain.Workflow, error)
	Release(ctx context.Context, id string) (*domain.Workflow, error)
	GetByID(ctx context.Context, id string) (*domain.Workflow, error)

	StartProcess(ctx context.Context, p *domain.WorkflowProcess) (*domain.WorkflowProcess, error)
	GetProcess(ctx context.Context, processID string) (*domain.WorkflowProcess, error)
	UpdateProcessStatus(ctx context.Context, processID string, status domain.ProcessStatus, currentNode string) error

	UpsertProcessNode(ctx context.Context, n *domain.WorkflowProcessNode) error
	GetProcessNode(ctx context.Context, processID, nodeID string) (*domain.WorkflowProcessNode, error)
	ListProcessNodes(ctx context.Context, processID string) ([]*domain.WorkflowProcessNode, error)

	UpsertProcessEdge(ctx context.Context, e *domain.WorkflowProcessEdge) error
	ListProcessEdges(ctx context.Context, processID string) ([]*domain.WorkflowProcessEdge, error)
}
