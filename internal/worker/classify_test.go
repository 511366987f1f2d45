package worker

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/ErlanBelekov/dist-job-scheduler/internal/domain"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/retry"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/runner/dbrunner"
	"github.com/stretchr/testify/assert"
)

func TestClassifyStepError_DeadlineExceededIsExecTimeout(t *testing.T) {
	err := fmt.Errorf("httprunner: do request: %w", context.DeadlineExceeded)
	kind := classifyStepError(domain.StepHTTP, err)
	assert.Equal(t, retry.ErrorExecTimeout, kind)
	assert.True(t, retry.NonRetryable(kind))
}

func TestClassifyStepError_UnsupportedEngineIsValidation(t *testing.T) {
	err := errors.Join(errors.New("dbrunner: engine oracle"), dbrunner.ErrUnsupportedEngine)
	kind := classifyStepError(domain.StepDatabase, err)
	assert.Equal(t, retry.ErrorValidation, kind)
	assert.True(t, retry.NonRetryable(kind))
}

func TestClassifyStepError_AuthFailureIsNonRetryable(t *testing.T) {
	err := errors.New("httprunner: request failed with status 401")
	kind := classifyStepError(domain.StepHTTP, err)
	assert.Equal(t, retry.ErrorStepAuth, kind)
	assert.True(t, retry.NonRetryable(kind))
}

func TestClassifyStepError_DatabaseFailureIsRetryable(t *testing.T) {
	err := errors.New("dbrunner: connect: connection refused")
	kind := classifyStepError(domain.StepDatabase, err)
	assert.Equal(t, retry.ErrorDatabase, kind)
	assert.False(t, retry.NonRetryable(kind))
}

func TestClassifyStepError_GenericStepFailureIsRetryable(t *testing.T) {
	err := errors.New("httprunner: request failed with status 503")
	kind := classifyStepError(domain.StepHTTP, err)
	assert.Equal(t, retry.ErrorStep, kind)
	assert.False(t, retry.NonRetryable(kind))
}
