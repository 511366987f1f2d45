package repository

import (
	"context"

	"github.com/ErlanBelekov/dist-job-scheduler/internal/domain"
)

// ExecutionRepository persists JobExecution rows. GetByIdempotencyKey backs
// the worker's idempotency gate: a redelivered message resolves to the same
// row rather than creating a second execution.
type ExecutionRepository interface {
	Create(ctx context.Context, exec *domain.JobExecution) error
	GetByID(ctx context.Context, id string) (*domain.JobExecution, error)
	GetByIdempotencyKey(ctx context.Context, key string) (*domain.JobExecution, error)
	ListByJobID(ctx context.Context, jobID string, limit int) ([]*domain.JobExecution, error)

	// Update persists the full row, used for every status transition
	// (Pending -> Running -> terminal) and for CurrentStepID/ContextPath
	// updates made between steps.
	Update(ctx context.Context, exec *domain.JobExecution) error
}
