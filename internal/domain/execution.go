package domain

import (
	"errors"
	"time"
)

var (
	ErrExecutionNotFound  = errors.New("job execution not found")
	ErrDuplicateExecution = errors.New("execution with this idempotency key already exists")
	ErrExecutionTerminal  = errors.New("execution is already in a terminal state")
)

// ExecutionStatus is the JobExecution state machine.
type ExecutionStatus string

const (
	ExecutionPending    ExecutionStatus = "pending"
	ExecutionRunning    ExecutionStatus = "running"
	ExecutionSuccess    ExecutionStatus = "success"
	ExecutionFailed     ExecutionStatus = "failed"
	ExecutionTimeout    ExecutionStatus = "timeout"
	ExecutionDeadLetter ExecutionStatus = "dead_letter"
	ExecutionCancelled  ExecutionStatus = "cancelled"
)

// IsTerminal reports whether no further transition is expected — the
// idempotency gate uses this to decide whether a redelivered message is a
// no-op.
func (s ExecutionStatus) IsTerminal() bool {
	switch s {
	case ExecutionSuccess, ExecutionFailed, ExecutionTimeout, ExecutionDeadLetter, ExecutionCancelled:
		return true
	default:
		return false
	}
}

// TriggerSource records what caused an execution, tagged by kind.
type TriggerSource struct {
	Kind      TriggerKind `json:"kind"`
	User      string      `json:"user,omitempty"`      // Manual
	WebhookID string      `json:"webhookId,omitempty"` // Webhook
}

// JobExecution is one attempt to run a Job.
type JobExecution struct {
	ID             string          `json:"id"`
	JobID          string          `json:"jobId"`
	IdempotencyKey string          `json:"idempotencyKey"`
	Status         ExecutionStatus `json:"status"`
	Attempt        int             `json:"attempt"` // 0-based
	Trigger        TriggerSource   `json:"trigger"`
	CurrentStepID  *string         `json:"currentStepId,omitempty"`
	ContextPath    string          `json:"contextPath"`

	CreatedAt   time.Time  `json:"createdAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`

	Result string `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// DeadLetterEligible reports whether a Failed/Timeout execution has
// exhausted its retry budget and must move to DeadLetter rather than retry.
func (e *JobExecution) DeadLetterEligible(maxRetries int) bool {
	if e.Status != ExecutionFailed && e.Status != ExecutionTimeout {
		return false
	}
	return e.Attempt >= maxRetries
}
