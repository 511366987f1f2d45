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

type WebhookRepository struct {
	pool *pgxpool.Pool
}

func NewWebhookRepository(pool *pgxpool.Pool) *WebhookRepository {
	return &WebhookRepository{pool: pool}
}

func (r *WebhookRepository) Create(ctx context.Context, w *domain.Webhook) error {
	var maxRequests, windowSeconds *int
	if w.RateLimit != nil {
		maxRequests = &w.RateLimit.MaxRequests
		windowSeconds = &w.RateLimit.WindowSeconds
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO webhooks (id, job_id, url_path, secret_key, enabled, rate_limit_max_requests, rate_limit_window_seconds)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		w.ID, w.JobID, w.URLPath, w.SecretKey, w.Enabled, maxRequests, windowSeconds,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domain.ErrWebhookPathTaken
		}
		return fmt.Errorf("create webhook: %w", err)
	}
	return nil
}

func (r *WebhookRepository) GetByURLPath(ctx context.Context, path string) (*domain.Webhook, error) {
	row := r.pool.QueryRow(ctx, selectWebhookCols+` FROM webhooks WHERE url_path = $1`, path)
	return scanWebhook(row)
}

func (r *WebhookRepository) GetByJobID(ctx context.Context, jobID string) (*domain.Webhook, error) {
	row := r.pool.QueryRow(ctx, selectWebhookCols+` FROM webhooks WHERE job_id = $1`, jobID)
	return scanWebhook(row)
}

func (r *WebhookRepository) SetEnabled(ctx context.Context, id string, enabled bool) error {
	tag, err := r.pool.Exec(ctx, `UPDATE webhooks SET enabled = $2 WHERE id = $1`, id, enabled)
	if err != nil {
		return fmt.Errorf("set webhook enabled: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrWebhookNotFound
	}
	return nil
}

func (r *WebhookRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM webhooks WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete webhook: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrWebhookNotFound
	}
	return nil
}

const selectWebhookCols = `
	SELECT id, job_id, url_path, secret_key, enabled, rate_limit_max_requests, rate_limit_window_seconds`

func scanWebhook(row rowScanner) (*domain.Webhook, error) {
	var w domain.Webhook
	var maxRequests, windowSeconds *int
	err := row.Scan(&w.ID, &w.JobID, &w.URLPath, &w.SecretKey, &w.Enabled, &maxRequests, &windowSeconds)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrWebhookNotFound
		}
		return nil, fmt.Errorf("scan webhook: %w", err)
	}
	if maxRequests != nil && windowSeconds != nil {
		w.RateLimit = &domain.RateLimit{MaxRequests: *maxRequests, WindowSeconds: *windowSeconds}
	}
	return &w, nil
}
