package repository

import (
	"context"

	"github.com/ErlanBelekov/dist-job-scheduler/internal/domain"
)

// WebhookRepository persists Webhook registrations. URLPath is globally
// unique, enforced at the database level — Create returns
// domain.ErrWebhookPathTaken on conflict.
type WebhookRepository interface {
	Create(ctx context.Context, w *domain.Webhook) error
	GetByURLPath(ctx context.Context, path string) (*domain.Webhook, error)
	GetByJobID(ctx context.Context, jobID string) (*domain.Webhook, error)
	SetEnabled(ctx context.Context, id string, enabled bool) error
	Delete(ctx context.Context, id string) error
}
