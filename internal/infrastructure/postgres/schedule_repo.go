package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ErlanBelekov/dist-job-scheduler/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type ScheduleRepository struct {
	pool *pgxpool.Pool
}

func NewScheduleRepository(pool *pgxpool.Pool) *ScheduleRepository {
	return &ScheduleRepository{pool: pool}
}

func (r *ScheduleRepository) Create(ctx context.Context, s *domain.Schedule) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO schedules (
			job_id, kind, cron_expr, timezone, end_date, interval_seconds, at,
			paused, next_run_at, last_run_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		s.JobID, s.Kind, nullIfEmpty(s.CronExpr), nullIfEmpty(s.Timezone), s.EndDate,
		nullIfZero(s.IntervalSeconds), s.At, s.Paused, s.NextRunAt, s.LastRunAt,
		s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("job already has a schedule: %w", err)
		}
		return fmt.Errorf("create schedule: %w", err)
	}
	return nil
}

func (r *ScheduleRepository) GetByJobID(ctx context.Context, jobID string) (*domain.Schedule, error) {
	row := r.pool.QueryRow(ctx, selectScheduleCols+` FROM schedules WHERE job_id = $1`, jobID)
	return scanSchedule(row)
}

func (r *ScheduleRepository) List(ctx context.Context) ([]*domain.Schedule, error) {
	rows, err := r.pool.Query(ctx, selectScheduleCols+` FROM schedules ORDER BY next_run_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	defer rows.Close()

	var out []*domain.Schedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *ScheduleRepository) SetPaused(ctx context.Context, jobID string, paused bool) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE schedules SET paused = $2, updated_at = NOW() WHERE job_id = $1`, jobID, paused)
	if err != nil {
		return fmt.Errorf("set paused: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrScheduleNotFound
	}
	return nil
}

func (r *ScheduleRepository) Delete(ctx context.Context, jobID string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM schedules WHERE job_id = $1`, jobID)
	if err != nil {
		return fmt.Errorf("delete schedule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrScheduleNotFound
	}
	return nil
}

// ClaimDue locks due, unpaused schedules with FOR UPDATE SKIP LOCKED so
// concurrent scheduler replicas never return the same row from the same
// tick. The Redis lease the scheduler takes out per job closes the
// remaining race between this claim and the eventual queue publish.
func (r *ScheduleRepository) ClaimDue(ctx context.Context, at time.Time, limit int) ([]*domain.Schedule, error) {
	rows, err := r.pool.Query(ctx, selectScheduleCols+` FROM schedules
		WHERE next_run_at <= $1
		  AND NOT paused
		  AND (end_date IS NULL OR end_date > $1)
		ORDER BY next_run_at ASC
		LIMIT $2
		FOR UPDATE SKIP LOCKED`, at, limit)
	if err != nil {
		return nil, fmt.Errorf("claim due schedules: %w", err)
	}
	defer rows.Close()

	var out []*domain.Schedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *ScheduleRepository) Advance(ctx context.Context, jobID string, firedAt, next time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE schedules
		SET next_run_at = $2, last_run_at = $3, updated_at = NOW()
		WHERE job_id = $1`, jobID, next, firedAt)
	if err != nil {
		return fmt.Errorf("advance schedule: %w", err)
	}
	return nil
}

const selectScheduleCols = `
	SELECT job_id, kind, cron_expr, timezone, end_date, interval_seconds, at,
	       paused, next_run_at, last_run_at, created_at, updated_at`

func scanSchedule(row rowScanner) (*domain.Schedule, error) {
	var s domain.Schedule
	var cronExpr, timezone *string
	var intervalSeconds *int
	err := row.Scan(
		&s.JobID, &s.Kind, &cronExpr, &timezone, &s.EndDate, &intervalSeconds, &s.At,
		&s.Paused, &s.NextRunAt, &s.LastRunAt, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrScheduleNotFound
		}
		return nil, fmt.Errorf("scan schedule: %w", err)
	}
	if cronExpr != nil {
		s.CronExpr = *cronExpr
	}
	if timezone != nil {
		s.Timezone = *timezone
	}
	if intervalSeconds != nil {
		s.IntervalSeconds = *intervalSeconds
	}
	return &s, nil
}

func nullIfZero(i int) *int {
	if i == 0 {
		return nil
	}
	return &i
}
