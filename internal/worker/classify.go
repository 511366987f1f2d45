package worker

import (
	"context"
	"errors"
	"strings"

	"github.com/ErlanBelekov/dist-job-scheduler/internal/domain"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/retry"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/runner/dbrunner"
)

// classifyStepError maps a runner error onto the error taxonomy so the
// retry loop can decide whether it is worth another attempt. Runners
// surface plain errors rather than tagged ones, so this is necessarily a
// set of heuristics over the step kind and the error text, not a type
// switch — the only structured signals checked are dbrunner's
// ErrUnsupportedEngine sentinel and context.DeadlineExceeded.
func classifyStepError(kind domain.StepKind, err error) retry.ErrorKind {
	if errors.Is(err, dbrunner.ErrUnsupportedEngine) {
		return retry.ErrorValidation
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return retry.ErrorExecTimeout
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "401"), strings.Contains(msg, "403"),
		strings.Contains(msg, "unauthorized"), strings.Contains(msg, "forbidden"),
		strings.Contains(msg, "auth"):
		return retry.ErrorStepAuth
	}

	if kind == domain.StepDatabase {
		return retry.ErrorDatabase
	}
	return retry.ErrorStep
}
