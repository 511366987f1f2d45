package resolver

import (
	"testing"

	"github.com/ErlanBelekov/dist-job-scheduler/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveString_Variable(t *testing.T) {
	jc := domain.NewJobContext("exec-1", "job-1")
	r := New(jc, map[string]string{"env": "prod"})

	out, err := r.ResolveString("https://${env}.example.com")
	require.NoError(t, err)
	assert.Equal(t, "https://prod.example.com", out)
}

func TestResolveString_StepOutput(t *testing.T) {
	jc := domain.NewJobContext("exec-1", "job-1")
	require.NoError(t, jc.RecordStep(domain.StepOutput{
		StepID: "A",
		Status: domain.StepStatusSuccess,
		Output: map[string]any{
			"body": map[string]any{"name": "alice"},
		},
	}))

	r := New(jc, nil)
	out, err := r.ResolveString(`{"name": "${steps.A.output.body.name}"}`)
	require.NoError(t, err)
	assert.Equal(t, `{"name": "alice"}`, out)
}

func TestResolveString_WebhookPayload(t *testing.T) {
	jc := domain.NewJobContext("exec-1", "job-1")
	jc.Webhook = &domain.WebhookData{Payload: map[string]any{"data": float64(42)}}

	r := New(jc, nil)
	out, err := r.ResolveString("value=${webhook.payload.data}")
	require.NoError(t, err)
	assert.Equal(t, "value=42", out)
}

func TestResolveString_Unresolved(t *testing.T) {
	jc := domain.NewJobContext("exec-1", "job-1")
	r := New(jc, nil)

	_, err := r.ResolveString("${missing_one} and ${missing_two}")
	require.Error(t, err)
	var ue *UnresolvedError
	require.ErrorAs(t, err, &ue)
	assert.ElementsMatch(t, []string{"missing_one", "missing_two"}, ue.Names)
}

func TestResolveString_NotRecursive(t *testing.T) {
	jc := domain.NewJobContext("exec-1", "job-1")
	r := New(jc, map[string]string{"outer": "${inner}", "inner": "leaked"})

	out, err := r.ResolveString("${outer}")
	require.NoError(t, err)
	assert.Equal(t, "${inner}", out, "a substituted value must not be re-expanded")
}

func TestResolveStep_HTTPHeaders(t *testing.T) {
	jc := domain.NewJobContext("exec-1", "job-1")
	r := New(jc, map[string]string{"token": "secret123"})

	step := &domain.Step{
		ID:   "call",
		Kind: domain.StepHTTP,
		Http: &domain.HTTPStep{
			Method:  "GET",
			URL:     "https://api.example.com/v1",
			Headers: map[string]string{"Authorization": "Bearer ${token}"},
		},
	}

	require.NoError(t, r.ResolveStep(step))
	assert.Equal(t, "Bearer secret123", step.Http.Headers["Authorization"])
}

func TestResolveStep_UnresolvedAccumulates(t *testing.T) {
	jc := domain.NewJobContext("exec-1", "job-1")
	r := New(jc, nil)

	step := &domain.Step{
		ID:   "call",
		Kind: domain.StepHTTP,
		Http: &domain.HTTPStep{
			Method: "GET",
			URL:    "${missing_host}/ping",
			Body:   "${missing_body}",
		},
	}

	err := r.ResolveStep(step)
	require.Error(t, err)
	var ue *UnresolvedError
	require.ErrorAs(t, err, &ue)
	assert.ElementsMatch(t, []string{"missing_host", "missing_body"}, ue.Names)
}
