package repository

import (
	"context"

	"github.com/ErlanBelekov/dist-job-scheduler/internal/domain"
)

// VariableRepository persists Variable rows. Resolve returns the global
// variables and the job's own variables, global rows first, so folding the
// slice in order lets a job-scoped variable override a global one of the
// same name, per spec's shadowing rule.
type VariableRepository interface {
	Create(ctx context.Context, v *domain.Variable) error
	Update(ctx context.Context, v *domain.Variable) error
	Delete(ctx context.Context, id string) error
	GetByID(ctx context.Context, id string) (*domain.Variable, error)

	Resolve(ctx context.Context, jobID string) ([]*domain.Variable, error)
}
