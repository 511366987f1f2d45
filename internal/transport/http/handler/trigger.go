package handler

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ErlanBelekov/dist-job-scheduler/internal/contextstore"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/domain"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/queue"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/ratelimit"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/repository"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// TriggerHandler is the core's one HTTP-facing contract: the manual and
// webhook ingress points described abstractly as "trigger ingress" — the
// rest of the admin surface (job/schedule CRUD, login) lives elsewhere.
type TriggerHandler struct {
	jobs      repository.JobRepository
	execs     repository.ExecutionRepository
	webhooks  repository.WebhookRepository
	contexts  *contextstore.Store
	publisher *queue.Publisher
	limiter   *ratelimit.Limiter
	logger    *slog.Logger
}

func NewTriggerHandler(
	jobs repository.JobRepository,
	execs repository.ExecutionRepository,
	webhooks repository.WebhookRepository,
	contexts *contextstore.Store,
	publisher *queue.Publisher,
	limiter *ratelimit.Limiter,
	logger *slog.Logger,
) *TriggerHandler {
	return &TriggerHandler{
		jobs:      jobs,
		execs:     execs,
		webhooks:  webhooks,
		contexts:  contexts,
		publisher: publisher,
		limiter:   limiter,
		logger:    logger.With("component", "trigger_handler"),
	}
}

// POST /jobs/:id/trigger
// Starts an execution on behalf of the authenticated user. 404 if the job
// doesn't belong to them, 403 if disabled or manual triggers aren't
// permitted, 409 if a non-terminal execution already exists and the job
// doesn't allow concurrent runs, 202 with the new execution id otherwise.
func (h *TriggerHandler) ManualTrigger(c *gin.Context) {
	jobID := c.Param("id")
	userID := c.GetString("userID")

	job, err := h.jobs.GetByID(c.Request.Context(), userID, jobID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": errJobNotFound})
			return
		}
		h.logger.ErrorContext(c.Request.Context(), "load job for manual trigger", "job_id", jobID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}

	if !job.Enabled {
		c.JSON(http.StatusForbidden, gin.H{"error": "job is disabled"})
		return
	}
	if !job.Triggers.Allows(domain.TriggerManual) {
		c.JSON(http.StatusForbidden, gin.H{"error": "job does not permit manual triggers"})
		return
	}

	if !job.AllowConcurrent {
		running, err := h.hasRunningExecution(c.Request.Context(), job.ID)
		if err != nil {
			h.logger.ErrorContext(c.Request.Context(), "check running execution", "job_id", job.ID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
			return
		}
		if running {
			c.JSON(http.StatusConflict, gin.H{"error": "job does not allow concurrent executions"})
			return
		}
	}

	executionID := uuid.NewString()
	idempotencyKey := fmt.Sprintf("manual:%s:%s", job.ID, executionID)

	exec := &domain.JobExecution{
		ID:             executionID,
		JobID:          job.ID,
		IdempotencyKey: idempotencyKey,
		Status:         domain.ExecutionPending,
		Trigger:        domain.TriggerSource{Kind: domain.TriggerManual, User: userID},
		CreatedAt:      time.Now(),
	}

	if err := h.dispatch(c.Request.Context(), exec, nil); err != nil {
		h.logger.ErrorContext(c.Request.Context(), "dispatch manual trigger", "job_id", job.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"execution_id": executionID})
}

// POST /w/:path
// The webhook ingress described in the trigger contract: HMAC-verified,
// rate-limited, payload-preserving. Status codes follow the contract
// exactly: 401 bad signature, 403 disabled, 404 unknown path, 429
// rate-limited, 202 with execution id on success.
func (h *TriggerHandler) WebhookTrigger(c *gin.Context) {
	path := c.Param("path")

	wh, err := h.webhooks.GetByURLPath(c.Request.Context(), path)
	if err != nil {
		if errors.Is(err, domain.ErrWebhookNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown webhook path"})
			return
		}
		h.logger.ErrorContext(c.Request.Context(), "load webhook", "path", path, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable request body"})
		return
	}

	if !h.validSignature(c, wh.SecretKey, body) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": domain.ErrBadSignature.Error()})
		return
	}

	if !wh.Enabled {
		c.JSON(http.StatusForbidden, gin.H{"error": domain.ErrWebhookDisabled.Error()})
		return
	}

	job, err := h.jobs.GetByIDForExecution(c.Request.Context(), wh.JobID)
	if err != nil {
		h.logger.ErrorContext(c.Request.Context(), "load job for webhook", "webhook_id", wh.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}
	if !job.Enabled || !job.Triggers.Allows(domain.TriggerWebhook) {
		c.JSON(http.StatusForbidden, gin.H{"error": domain.ErrWebhookDisabled.Error()})
		return
	}

	if wh.RateLimit != nil {
		allowed, err := h.limiter.Allow(c.Request.Context(), "webhook:"+wh.ID,
			wh.RateLimit.MaxRequests, time.Duration(wh.RateLimit.WindowSeconds)*time.Second)
		if err != nil {
			h.logger.ErrorContext(c.Request.Context(), "rate limit check", "webhook_id", wh.ID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
			return
		}
		if !allowed {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": domain.ErrRateLimited.Error()})
			return
		}
	}

	executionID := uuid.NewString()
	idempotencyKey := fmt.Sprintf("webhook:%s:%s", wh.ID, executionID)

	exec := &domain.JobExecution{
		ID:             executionID,
		JobID:          job.ID,
		IdempotencyKey: idempotencyKey,
		Status:         domain.ExecutionPending,
		Trigger:        domain.TriggerSource{Kind: domain.TriggerWebhook, WebhookID: wh.ID},
		CreatedAt:      time.Now(),
	}

	webhookData := captureWebhookData(c, body)

	if err := h.dispatch(c.Request.Context(), exec, webhookData); err != nil {
		h.logger.ErrorContext(c.Request.Context(), "dispatch webhook trigger", "webhook_id", wh.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"execution_id": executionID})
}

// dispatch creates the execution row, seeds its initial Context (with
// webhook data if this is a webhook trigger), and publishes the dispatch
// message. The worker's idempotency gate covers redeliveries from here on.
func (h *TriggerHandler) dispatch(ctx context.Context, exec *domain.JobExecution, webhook *domain.WebhookData) error {
	if err := h.execs.Create(ctx, exec); err != nil {
		return fmt.Errorf("create execution: %w", err)
	}

	jc := domain.NewJobContext(exec.ID, exec.JobID)
	jc.Webhook = webhook
	if err := h.contexts.Save(ctx, jc); err != nil {
		return fmt.Errorf("seed job context: %w", err)
	}

	if err := h.publisher.Publish(ctx, queue.Message{
		ExecutionID:    exec.ID,
		JobID:          exec.JobID,
		IdempotencyKey: exec.IdempotencyKey,
		Attempt:        0,
	}); err != nil {
		exec.Status = domain.ExecutionFailed
		exec.Error = "publish failed"
		if uerr := h.execs.Update(ctx, exec); uerr != nil {
			h.logger.ErrorContext(ctx, "mark execution failed after publish error", "execution_id", exec.ID, "error", uerr)
		}
		return fmt.Errorf("publish dispatch message: %w", err)
	}
	return nil
}

func (h *TriggerHandler) hasRunningExecution(ctx context.Context, jobID string) (bool, error) {
	execs, err := h.execs.ListByJobID(ctx, jobID, 1)
	if err != nil {
		return false, err
	}
	if len(execs) == 0 {
		return false, nil
	}
	return !execs[0].Status.IsTerminal(), nil
}

const webhookSignatureHeader = "X-Webhook-Signature"

func (h *TriggerHandler) validSignature(c *gin.Context, secret string, body []byte) bool {
	provided := c.GetHeader(webhookSignatureHeader)
	if provided == "" {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(provided))
}

// captureWebhookData preserves the payload, query string, and X-prefixed
// headers (excluding the signature header itself) into the Job Context, as
// the trigger ingress contract requires.
func captureWebhookData(c *gin.Context, body []byte) *domain.WebhookData {
	data := &domain.WebhookData{
		Query:   make(map[string]string),
		Headers: make(map[string]string),
	}

	var payload map[string]any
	if len(body) > 0 && json.Unmarshal(body, &payload) == nil {
		data.Payload = payload
	}

	for key, values := range c.Request.URL.Query() {
		if len(values) > 0 {
			data.Query[key] = values[0]
		}
	}

	for key, values := range c.Request.Header {
		if !strings.HasPrefix(key, "X-") || strings.EqualFold(key, webhookSignatureHeader) {
			continue
		}
		if len(values) > 0 {
			data.Headers[key] = values[0]
		}
	}

	return data
}
