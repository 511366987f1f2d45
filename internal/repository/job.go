package repository

import (
	"context"

	"github.com/ErlanBelekov/dist-job-scheduler/internal/domain"
)

// JobRepository persists Job catalog rows. The job definition body (the
// ordered step list) lives in the blob store, addressed by
// domain.Job.DefinitionPath — this repository only ever sees the path.
type JobRepository interface {
	Create(ctx context.Context, job *domain.Job) error
	GetByID(ctx context.Context, tenantID, id string) (*domain.Job, error)

	// GetByIDForExecution loads a job by id alone, with no tenant filter.
	// The worker resolves a dispatched job id this way: a queue message
	// carries no tenant context, unlike the admin-facing GetByID above.
	GetByIDForExecution(ctx context.Context, id string) (*domain.Job, error)

	List(ctx context.Context, tenantID string) ([]*domain.Job, error)
	Update(ctx context.Context, job *domain.Job) error

	// Delete removes the job row and cascades to its executions, stats, and
	// schedule. The caller is responsible for best-effort cleanup of the
	// definition blob afterward — a dangling blob is inert, unlike a
	// dangling catalog row.
	Delete(ctx context.Context, tenantID, id string) error

	GetStats(ctx context.Context, jobID string) (*domain.JobStats, error)
	SaveStats(ctx context.Context, stats *domain.JobStats) error
}
