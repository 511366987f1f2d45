// Package httprunner executes HTTP step variants: GET/POST/PUT with
// optional Basic, Bearer, or OAuth2 client-credentials authentication.
package httprunner

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ErlanBelekov/dist-job-scheduler/internal/domain"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/requestid"
)

// Runner executes domain.HTTPStep configurations.
type Runner struct {
	client *http.Client
	logger *slog.Logger
}

func New(logger *slog.Logger) *Runner {
	return &Runner{
		client: &http.Client{
			Timeout: 5 * time.Minute, // safety net; per-step timeout comes from ctx
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{
					MinVersion: tls.VersionTLS12,
				},
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
			},
			CheckRedirect: func(_ *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return fmt.Errorf("stopped after 10 redirects")
				}
				return nil
			},
		},
		logger: logger.With("component", "httprunner"),
	}
}

func (r *Runner) Execute(ctx context.Context, step *domain.Step, jobCtx *domain.JobContext) (domain.StepOutput, error) {
	started := time.Now()
	if step.Http == nil {
		return domain.StepOutput{}, fmt.Errorf("httprunner: step %s has no http config", step.ID)
	}
	h := step.Http

	var bodyReader io.Reader
	if h.Body != "" {
		bodyReader = strings.NewReader(h.Body)
	}

	req, err := http.NewRequestWithContext(ctx, h.Method, h.URL, bodyReader)
	if err != nil {
		return domain.StepOutput{}, fmt.Errorf("httprunner: build request: %w", err)
	}
	for k, v := range h.Headers {
		req.Header.Set(k, v)
	}

	if err := r.applyAuth(ctx, req, h.Auth); err != nil {
		return domain.StepOutput{}, fmt.Errorf("httprunner: auth: %w", err)
	}

	reqID := requestid.New()
	req.Header.Set("X-Request-ID", reqID)
	ctx = requestid.WithRequestID(ctx, reqID)

	r.logger.InfoContext(ctx, "sending request", "step_id", step.ID, "method", h.Method, "url", h.URL)

	resp, err := r.client.Do(req)
	if err != nil {
		return domain.StepOutput{}, fmt.Errorf("httprunner: do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.StepOutput{}, fmt.Errorf("httprunner: read response body: %w", err)
	}

	var parsedBody any
	if err := json.Unmarshal(respBody, &parsedBody); err != nil {
		parsedBody = string(respBody)
	}

	respHeaders := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		respHeaders[k] = resp.Header.Get(k)
	}

	output := map[string]any{
		"statusCode": resp.StatusCode,
		"status":     resp.Status,
		"headers":    respHeaders,
		"body":       parsedBody,
	}

	completed := time.Now()
	if resp.StatusCode >= 400 {
		return domain.StepOutput{
			StepID:      step.ID,
			Status:      domain.StepStatusFailed,
			Output:      output,
			StartedAt:   started,
			CompletedAt: completed,
		}, fmt.Errorf("httprunner: request to %s failed with status %d", h.URL, resp.StatusCode)
	}

	r.logger.InfoContext(ctx, "received response", "step_id", step.ID, "status", resp.StatusCode, "duration", completed.Sub(started))

	return domain.StepOutput{
		StepID:      step.ID,
		Status:      domain.StepStatusSuccess,
		Output:      output,
		StartedAt:   started,
		CompletedAt: completed,
	}, nil
}

func (r *Runner) applyAuth(ctx context.Context, req *http.Request, auth *domain.HTTPAuth) error {
	if auth == nil {
		return nil
	}
	switch auth.Kind {
	case domain.HTTPAuthBasic:
		req.SetBasicAuth(auth.Username, auth.Password)
	case domain.HTTPAuthBearer:
		req.Header.Set("Authorization", "Bearer "+auth.Token)
	case domain.HTTPAuthOAuth2:
		token, err := r.acquireOAuth2Token(ctx, auth)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	default:
		return fmt.Errorf("unknown auth kind %q", auth.Kind)
	}
	return nil
}

// acquireOAuth2Token performs a client-credentials grant against
// auth.TokenURL and extracts the access_token field from the response.
func (r *Runner) acquireOAuth2Token(ctx context.Context, auth *domain.HTTPAuth) (string, error) {
	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {auth.ClientID},
		"client_secret": {auth.ClientSecret},
	}
	if auth.Scope != "" {
		form.Set("scope", auth.Scope)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, auth.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("build oauth2 token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("oauth2 token request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read oauth2 token response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("oauth2 token request failed with status %d: %s", resp.StatusCode, string(body))
	}

	var parsed struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("parse oauth2 token response: %w", err)
	}
	if parsed.AccessToken == "" {
		return "", fmt.Errorf("oauth2 response missing access_token field")
	}
	return parsed.AccessToken, nil
}
