package handler_test

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/ErlanBelekov/dist-job-scheduler/internal/domain"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/transport/http/handler"
	"github.com/gin-gonic/gin"
)

type fakeJobRepo struct {
	job *domain.Job
	err error
}

func (f *fakeJobRepo) Create(context.Context, *domain.Job) error { return nil }
func (f *fakeJobRepo) GetByID(context.Context, string, string) (*domain.Job, error) {
	return f.job, f.err
}
func (f *fakeJobRepo) GetByIDForExecution(context.Context, string) (*domain.Job, error) {
	return f.job, f.err
}
func (f *fakeJobRepo) List(context.Context, string) ([]*domain.Job, error) { return nil, nil }
func (f *fakeJobRepo) Update(context.Context, *domain.Job) error           { return nil }
func (f *fakeJobRepo) Delete(context.Context, string, string) error       { return nil }
func (f *fakeJobRepo) GetStats(context.Context, string) (*domain.JobStats, error) {
	return nil, nil
}
func (f *fakeJobRepo) SaveStats(context.Context, *domain.JobStats) error { return nil }

type fakeExecRepo struct {
	recent []*domain.JobExecution
}

func (f *fakeExecRepo) Create(context.Context, *domain.JobExecution) error { return nil }
func (f *fakeExecRepo) GetByID(context.Context, string) (*domain.JobExecution, error) {
	return nil, domain.ErrExecutionNotFound
}
func (f *fakeExecRepo) GetByIdempotencyKey(context.Context, string) (*domain.JobExecution, error) {
	return nil, domain.ErrExecutionNotFound
}
func (f *fakeExecRepo) ListByJobID(context.Context, string, int) ([]*domain.JobExecution, error) {
	return f.recent, nil
}
func (f *fakeExecRepo) Update(context.Context, *domain.JobExecution) error { return nil }

type fakeWebhookRepo struct {
	webhook *domain.Webhook
	err     error
}

func (f *fakeWebhookRepo) Create(context.Context, *domain.Webhook) error { return nil }
func (f *fakeWebhookRepo) GetByURLPath(context.Context, string) (*domain.Webhook, error) {
	return f.webhook, f.err
}
func (f *fakeWebhookRepo) GetByJobID(context.Context, string) (*domain.Webhook, error) {
	return f.webhook, f.err
}
func (f *fakeWebhookRepo) SetEnabled(context.Context, string, bool) error { return nil }
func (f *fakeWebhookRepo) Delete(context.Context, string) error          { return nil }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, nil))
}

func newTriggerEngine(jobs *fakeJobRepo, execs *fakeExecRepo, webhooks *fakeWebhookRepo) *gin.Engine {
	h := handler.NewTriggerHandler(jobs, execs, webhooks, nil, nil, nil, testLogger())

	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("userID", "user-1")
		c.Next()
	})
	r.POST("/jobs/:id/trigger", h.ManualTrigger)
	r.POST("/w/:path", h.WebhookTrigger)
	return r
}

func TestManualTrigger_JobNotFound_Returns404(t *testing.T) {
	jobs := &fakeJobRepo{err: domain.ErrJobNotFound}
	r := newTriggerEngine(jobs, &fakeExecRepo{}, &fakeWebhookRepo{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/jobs/job-1/trigger", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestManualTrigger_JobDisabled_Returns403(t *testing.T) {
	jobs := &fakeJobRepo{job: &domain.Job{ID: "job-1", Enabled: false}}
	r := newTriggerEngine(jobs, &fakeExecRepo{}, &fakeWebhookRepo{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/jobs/job-1/trigger", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", w.Code)
	}
}

func TestManualTrigger_ManualNotPermitted_Returns403(t *testing.T) {
	jobs := &fakeJobRepo{job: &domain.Job{
		ID: "job-1", Enabled: true, Triggers: domain.TriggerSet{domain.TriggerWebhook: true},
	}}
	r := newTriggerEngine(jobs, &fakeExecRepo{}, &fakeWebhookRepo{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/jobs/job-1/trigger", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", w.Code)
	}
}

func TestManualTrigger_ConcurrentRunBlocked_Returns409(t *testing.T) {
	jobs := &fakeJobRepo{job: &domain.Job{
		ID: "job-1", Enabled: true, AllowConcurrent: false,
		Triggers: domain.TriggerSet{domain.TriggerManual: true},
	}}
	execs := &fakeExecRepo{recent: []*domain.JobExecution{{ID: "prev", Status: domain.ExecutionRunning}}}
	r := newTriggerEngine(jobs, execs, &fakeWebhookRepo{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/jobs/job-1/trigger", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", w.Code)
	}
}

func TestWebhookTrigger_UnknownPath_Returns404(t *testing.T) {
	webhooks := &fakeWebhookRepo{err: domain.ErrWebhookNotFound}
	r := newTriggerEngine(&fakeJobRepo{}, &fakeExecRepo{}, webhooks)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/w/unknown", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestWebhookTrigger_MissingSignature_Returns401(t *testing.T) {
	webhooks := &fakeWebhookRepo{webhook: &domain.Webhook{ID: "wh-1", Enabled: true, SecretKey: "s"}}
	r := newTriggerEngine(&fakeJobRepo{}, &fakeExecRepo{}, webhooks)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/w/abc", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestWebhookTrigger_BadSignature_Returns401(t *testing.T) {
	webhooks := &fakeWebhookRepo{webhook: &domain.Webhook{ID: "wh-1", Enabled: true, SecretKey: "s"}}
	r := newTriggerEngine(&fakeJobRepo{}, &fakeExecRepo{}, webhooks)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/w/abc", nil)
	req.Header.Set("X-Webhook-Signature", "deadbeef")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestWebhookTrigger_Disabled_Returns403(t *testing.T) {
	webhooks := &fakeWebhookRepo{webhook: &domain.Webhook{ID: "wh-1", Enabled: false, SecretKey: "s"}}
	r := newTriggerEngine(&fakeJobRepo{}, &fakeExecRepo{}, webhooks)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/w/abc", nil)
	req.Header.Set("X-Webhook-Signature", hmacHex(t, "s", nil))
	r.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", w.Code)
	}
}

func hmacHex(t *testing.T, secret string, body []byte) string {
	t.Helper()
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
