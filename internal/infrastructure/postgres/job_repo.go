package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/ErlanBelekov/dist-job-scheduler/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type JobRepository struct {
	pool *pgxpool.Pool
}

func NewJobRepository(pool *pgxpool.Pool) *JobRepository {
	return &JobRepository{pool: pool}
}

func (r *JobRepository) Create(ctx context.Context, job *domain.Job) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO jobs (
			id, tenant_id, name, description, enabled, timeout_seconds,
			max_retries, allow_concurrent, triggers, definition_path,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		job.ID, job.TenantID, job.Name, job.Description, job.Enabled, job.TimeoutSeconds,
		job.MaxRetries, job.AllowConcurrent, triggerSetToSlice(job.Triggers), job.DefinitionPath,
		job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domain.ErrDuplicateJobName
		}
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

func (r *JobRepository) GetByID(ctx context.Context, tenantID, id string) (*domain.Job, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, tenant_id, name, description, enabled, timeout_seconds,
		       max_retries, allow_concurrent, triggers, definition_path,
		       created_at, updated_at
		FROM jobs
		WHERE id = $1 AND tenant_id = $2`, id, tenantID)
	return scanJob(row)
}

func (r *JobRepository) GetByIDForExecution(ctx context.Context, id string) (*domain.Job, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, tenant_id, name, description, enabled, timeout_seconds,
		       max_retries, allow_concurrent, triggers, definition_path,
		       created_at, updated_at
		FROM jobs
		WHERE id = $1`, id)
	return scanJob(row)
}

func (r *JobRepository) List(ctx context.Context, tenantID string) ([]*domain.Job, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, tenant_id, name, description, enabled, timeout_seconds,
		       max_retries, allow_concurrent, triggers, definition_path,
		       created_at, updated_at
		FROM jobs
		WHERE tenant_id = $1
		ORDER BY created_at DESC`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*domain.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func (r *JobRepository) Update(ctx context.Context, job *domain.Job) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE jobs
		SET name = $3, description = $4, enabled = $5, timeout_seconds = $6,
		    max_retries = $7, allow_concurrent = $8, triggers = $9,
		    definition_path = $10, updated_at = $11
		WHERE id = $1 AND tenant_id = $2`,
		job.ID, job.TenantID, job.Name, job.Description, job.Enabled, job.TimeoutSeconds,
		job.MaxRetries, job.AllowConcurrent, triggerSetToSlice(job.Triggers), job.DefinitionPath,
		job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrJobNotFound
	}
	return nil
}

// Delete cascades to job_executions, job_stats, and schedules via foreign
// key ON DELETE CASCADE. The definition blob is left behind — the caller
// removes it best-effort after this succeeds.
func (r *JobRepository) Delete(ctx context.Context, tenantID, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM jobs WHERE id = $1 AND tenant_id = $2`, id, tenantID)
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrJobNotFound
	}
	return nil
}

func (r *JobRepository) GetStats(ctx context.Context, jobID string) (*domain.JobStats, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT job_id, total, successful, failed, last_execution_at,
		       last_success_at, last_failure_at, consecutive_failures
		FROM job_stats WHERE job_id = $1`, jobID)

	var s domain.JobStats
	err := row.Scan(&s.JobID, &s.Total, &s.Successful, &s.Failed,
		&s.LastExecutionAt, &s.LastSuccessAt, &s.LastFailureAt, &s.ConsecutiveFailures)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return &domain.JobStats{JobID: jobID}, nil
		}
		return nil, fmt.Errorf("scan job stats: %w", err)
	}
	return &s, nil
}

func (r *JobRepository) SaveStats(ctx context.Context, s *domain.JobStats) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO job_stats (
			job_id, total, successful, failed, last_execution_at,
			last_success_at, last_failure_at, consecutive_failures
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (job_id) DO UPDATE SET
			total = EXCLUDED.total,
			successful = EXCLUDED.successful,
			failed = EXCLUDED.failed,
			last_execution_at = EXCLUDED.last_execution_at,
			last_success_at = EXCLUDED.last_success_at,
			last_failure_at = EXCLUDED.last_failure_at,
			consecutive_failures = EXCLUDED.consecutive_failures`,
		s.JobID, s.Total, s.Successful, s.Failed, s.LastExecutionAt,
		s.LastSuccessAt, s.LastFailureAt, s.ConsecutiveFailures,
	)
	if err != nil {
		return fmt.Errorf("save job stats: %w", err)
	}
	return nil
}

func triggerSetToSlice(t domain.TriggerSet) []string {
	out := make([]string, 0, len(t))
	for k, v := range t {
		if v {
			out = append(out, string(k))
		}
	}
	return out
}

func triggerSliceToSet(s []string) domain.TriggerSet {
	out := make(domain.TriggerSet, len(s))
	for _, k := range s {
		out[domain.TriggerKind(k)] = true
	}
	return out
}

func scanJob(row rowScanner) (*domain.Job, error) {
	var j domain.Job
	var triggers []string
	err := row.Scan(
		&j.ID, &j.TenantID, &j.Name, &j.Description, &j.Enabled, &j.TimeoutSeconds,
		&j.MaxRetries, &j.AllowConcurrent, &triggers, &j.DefinitionPath,
		&j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("scan job: %w", err)
	}
	j.Triggers = triggerSliceToSet(triggers)
	return &j, nil
}
