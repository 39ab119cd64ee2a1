package repository

import (
	"context"

	"github.com/ErlanBelekov/dist-job-scheduler/internal/domain"
)

// TimerRepository owns persistent cron-timer definitions (§3 Timer).
type TimerRepository interface {
	Create(ctx context.Context, t *domain.Timer) (*domain.Timer, error)
	GetByID(ctx context.Context, id string) (*domain.Timer, error)
	ListEnabled(ctx context.Context) ([]*domain.Timer, error)
	SetEnabled(ctx context.Context, id string, enabled bool) error
}
