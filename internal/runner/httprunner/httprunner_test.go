package httprunner

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ErlanBelekov/dist-job-scheduler/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(nopWriter{}, nil))
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestRunner_Execute_GETSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		assert.Equal(t, "bar", req.Header.Get("X-Foo"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"hello": "world"})
	}))
	defer srv.Close()

	r := New(testLogger())
	step := &domain.Step{
		ID:   "s1",
		Kind: domain.StepHTTP,
		Http: &domain.HTTPStep{
			Method:  "GET",
			URL:     srv.URL,
			Headers: map[string]string{"X-Foo": "bar"},
		},
	}

	out, err := r.Execute(context.Background(), step, domain.NewJobContext("e1", "j1"))
	require.NoError(t, err)
	assert.Equal(t, domain.StepStatusSuccess, out.Status)

	body := out.Output.(map[string]any)["body"].(map[string]any)
	assert.Equal(t, "world", body["hello"])
}

func TestRunner_Execute_BasicAuth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		user, pass, ok := req.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "alice", user)
		assert.Equal(t, "secret", pass)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	r := New(testLogger())
	step := &domain.Step{
		ID:   "s1",
		Kind: domain.StepHTTP,
		Http: &domain.HTTPStep{
			Method: "GET",
			URL:    srv.URL,
			Auth:   &domain.HTTPAuth{Kind: domain.HTTPAuthBasic, Username: "alice", Password: "secret"},
		},
	}

	_, err := r.Execute(context.Background(), step, domain.NewJobContext("e1", "j1"))
	require.NoError(t, err)
}

func TestRunner_Execute_BearerAuth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		assert.Equal(t, "Bearer tok123", req.Header.Get("Authorization"))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	r := New(testLogger())
	step := &domain.Step{
		ID:   "s1",
		Kind: domain.StepHTTP,
		Http: &domain.HTTPStep{
			Method: "GET",
			URL:    srv.URL,
			Auth:   &domain.HTTPAuth{Kind: domain.HTTPAuthBearer, Token: "tok123"},
		},
	}

	_, err := r.Execute(context.Background(), step, domain.NewJobContext("e1", "j1"))
	require.NoError(t, err)
}

func TestRunner_Execute_OAuth2ClientCredentials(t *testing.T) {
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		require.NoError(t, req.ParseForm())
		assert.Equal(t, "client_credentials", req.PostForm.Get("grant_type"))
		assert.Equal(t, "cid", req.PostForm.Get("client_id"))
		_ = json.NewEncoder(w).Encode(map[string]string{"access_token": "oauth-tok"})
	}))
	defer tokenSrv.Close()

	apiSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		assert.Equal(t, "Bearer oauth-tok", req.Header.Get("Authorization"))
		w.WriteHeader(http.StatusOK)
	}))
	defer apiSrv.Close()

	r := New(testLogger())
	step := &domain.Step{
		ID:   "s1",
		Kind: domain.StepHTTP,
		Http: &domain.HTTPStep{
			Method: "GET",
			URL:    apiSrv.URL,
			Auth: &domain.HTTPAuth{
				Kind:         domain.HTTPAuthOAuth2,
				ClientID:     "cid",
				ClientSecret: "csecret",
				TokenURL:     tokenSrv.URL,
			},
		},
	}

	_, err := r.Execute(context.Background(), step, domain.NewJobContext("e1", "j1"))
	require.NoError(t, err)
}

func TestRunner_Execute_NonSuccessStatusIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	r := New(testLogger())
	step := &domain.Step{
		ID:   "s1",
		Kind: domain.StepHTTP,
		Http: &domain.HTTPStep{Method: "GET", URL: srv.URL},
	}

	out, err := r.Execute(context.Background(), step, domain.NewJobContext("e1", "j1"))
	assert.Error(t, err)
	assert.Equal(t, domain.StepStatusFailed, out.Status)
}
