package repository

import (
	"context"
	"time"

	"github.com/ErlanBelekov/dist-job-scheduler/internal/domain"
)

// ScheduleRepository persists the 1:1 Schedule attached to a schedulable
// Job. ClaimDue is the catalog half of the scheduler's exactly-once-per-
// fire-time guarantee: it locks due rows with FOR UPDATE SKIP LOCKED so two
// scheduler replicas racing the same tick never claim the same schedule,
// while the Redis lease (internal/lock) guards the window between the claim
// and the eventual queue publish.
type ScheduleRepository interface {
	Create(ctx context.Context, sched *domain.Schedule) error
	GetByJobID(ctx context.Context, jobID string) (*domain.Schedule, error)
	List(ctx context.Context) ([]*domain.Schedule, error)
	SetPaused(ctx context.Context, jobID string, paused bool) error
	Delete(ctx context.Context, jobID string) error

	// ClaimDue locks and returns up to limit schedules with NextRunAt <= at
	// that are neither paused nor past their EndDate. Callers must advance
	// NextRunAt (via Advance) within the same tick to avoid reclaiming them.
	ClaimDue(ctx context.Context, at time.Time, limit int) ([]*domain.Schedule, error)

	// Advance records a fire and moves NextRunAt to next.
	Advance(ctx context.Context, jobID string, firedAt time.Time, next time.Time) error
}
