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

type ExecutionRepository struct {
	pool *pgxpool.Pool
}

func NewExecutionRepository(pool *pgxpool.Pool) *ExecutionRepository {
	return &ExecutionRepository{pool: pool}
}

func (r *ExecutionRepository) Create(ctx context.Context, e *domain.JobExecution) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO job_executions (
			id, job_id, idempotency_key, status, attempt,
			trigger_kind, trigger_user, trigger_webhook_id,
			current_step_id, context_path,
			created_at, started_at, completed_at, result, error
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		e.ID, e.JobID, e.IdempotencyKey, e.Status, e.Attempt,
		e.Trigger.Kind, nullIfEmpty(e.Trigger.User), nullIfEmpty(e.Trigger.WebhookID),
		e.CurrentStepID, e.ContextPath,
		e.CreatedAt, e.StartedAt, e.CompletedAt, nullIfEmpty(e.Result), nullIfEmpty(e.Error),
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domain.ErrDuplicateExecution
		}
		return fmt.Errorf("create execution: %w", err)
	}
	return nil
}

func (r *ExecutionRepository) GetByID(ctx context.Context, id string) (*domain.JobExecution, error) {
	row := r.pool.QueryRow(ctx, selectExecutionCols+` FROM job_executions WHERE id = $1`, id)
	return scanExecution(row)
}

func (r *ExecutionRepository) GetByIdempotencyKey(ctx context.Context, key string) (*domain.JobExecution, error) {
	row := r.pool.QueryRow(ctx, selectExecutionCols+` FROM job_executions WHERE idempotency_key = $1`, key)
	return scanExecution(row)
}

func (r *ExecutionRepository) ListByJobID(ctx context.Context, jobID string, limit int) ([]*domain.JobExecution, error) {
	rows, err := r.pool.Query(ctx,
		selectExecutionCols+` FROM job_executions WHERE job_id = $1 ORDER BY created_at DESC LIMIT $2`,
		jobID, limit)
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	defer rows.Close()

	var out []*domain.JobExecution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *ExecutionRepository) Update(ctx context.Context, e *domain.JobExecution) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE job_executions
		SET status = $2, attempt = $3, current_step_id = $4, context_path = $5,
		    started_at = $6, completed_at = $7, result = $8, error = $9
		WHERE id = $1`,
		e.ID, e.Status, e.Attempt, e.CurrentStepID, e.ContextPath,
		e.StartedAt, e.CompletedAt, nullIfEmpty(e.Result), nullIfEmpty(e.Error),
	)
	if err != nil {
		return fmt.Errorf("update execution: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrExecutionNotFound
	}
	return nil
}

const selectExecutionCols = `
	SELECT id, job_id, idempotency_key, status, attempt,
	       trigger_kind, trigger_user, trigger_webhook_id,
	       current_step_id, context_path,
	       created_at, started_at, completed_at, result, error`

func scanExecution(row rowScanner) (*domain.JobExecution, error) {
	var e domain.JobExecution
	var triggerUser, triggerWebhookID, result, errStr *string
	err := row.Scan(
		&e.ID, &e.JobID, &e.IdempotencyKey, &e.Status, &e.Attempt,
		&e.Trigger.Kind, &triggerUser, &triggerWebhookID,
		&e.CurrentStepID, &e.ContextPath,
		&e.CreatedAt, &e.StartedAt, &e.CompletedAt, &result, &errStr,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrExecutionNotFound
		}
		return nil, fmt.Errorf("scan execution: %w", err)
	}
	if triggerUser != nil {
		e.Trigger.User = *triggerUser
	}
	if triggerWebhookID != nil {
		e.Trigger.WebhookID = *triggerWebhookID
	}
	if result != nil {
		e.Result = *result
	}
	if errStr != nil {
		e.Error = *errStr
	}
	return &e, nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
