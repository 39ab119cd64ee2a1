package repository

import (
	"context"

	"github.com/ErlanBelekov/dist-job-scheduler/internal/domain"
)

// InstanceRepository owns instance/group CRUD and target-selector resolution
// (§4.C step 1).
type InstanceRepository interface {
	Upsert(ctx context.Context, i *domain.Instance) (*domain.Instance, error)
	GetByID(ctx context.Context, instanceID string) (*domain.Instance, error)
	SetOnline(ctx context.Context, instanceID, cometID string) error
	SetOffline(ctx context.Context, instanceID string) error

	CreateGroup(ctx context.Context, g *domain.InstanceGroup) (*domain.InstanceGroup, error)
	GetGroup(ctx context.Context, id string) (*domain.InstanceGroup, error)

	// Resolve expands a target selector into concrete instance ids
	// (explicit ids ∪ every member of every named group).
	Resolve(ctx context.Context, sel domain.TargetSelector) ([]*domain.Instance, error)
}
