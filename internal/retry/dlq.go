package retry

import (
	"errors"
	"fmt"

	"github.com/ErlanBelekov/dist-job-scheduler/internal/domain"
	"github.com/google/uuid"
)

var (
	// ErrNotDLQEligible is returned by MoveToDLQ when the execution hasn't
	// exhausted its retry budget.
	ErrNotDLQEligible = errors.New("dlq: execution does not meet criteria for dead-lettering")
	// ErrNotInDLQ is returned by ManualRetry for an execution that isn't
	// currently dead-lettered.
	ErrNotInDLQ = errors.New("dlq: execution is not in the dead letter queue")
)

// ShouldMoveToDLQ reports whether exec has exhausted its retry budget: its
// status is Failed or Timeout and its attempt counter has reached
// maxRetries.
func ShouldMoveToDLQ(exec *domain.JobExecution, maxRetries int) bool {
	return exec.DeadLetterEligible(maxRetries)
}

// MoveToDLQ transitions exec to DeadLetter in place, appending the reason
// to its error string. DLQ executions MUST NOT be automatically
// redelivered — the worker's idempotency gate treats DeadLetter as
// terminal and acks without reprocessing.
func MoveToDLQ(exec *domain.JobExecution, maxRetries int, reason string) error {
	if !ShouldMoveToDLQ(exec, maxRetries) {
		return fmt.Errorf("%w: execution %s (status=%s, attempt=%d)",
			ErrNotDLQEligible, exec.ID, exec.Status, exec.Attempt)
	}

	exec.Status = domain.ExecutionDeadLetter
	info := fmt.Sprintf(" [Moved to DLQ after %d attempts: %s]", exec.Attempt, reason)
	if exec.Error != "" {
		exec.Error += info
	} else {
		exec.Error = info
	}
	return nil
}

// IsInDLQ reports whether exec is currently dead-lettered.
func IsInDLQ(exec *domain.JobExecution) bool {
	return exec.Status == domain.ExecutionDeadLetter
}

// ManualRetry builds a fresh execution referencing a dead-lettered one,
// with the attempt counter reset to zero. Creating this fresh execution
// row and publishing it is out of core scope (the manual-retry API) — this
// only constructs the value.
func ManualRetry(exec *domain.JobExecution) (*domain.JobExecution, error) {
	if !IsInDLQ(exec) {
		return nil, fmt.Errorf("%w: execution %s", ErrNotInDLQ, exec.ID)
	}

	fresh := *exec
	fresh.ID = uuid.NewString()
	fresh.Status = domain.ExecutionPending
	fresh.Attempt = 0
	fresh.StartedAt = nil
	fresh.CompletedAt = nil
	fresh.Result = ""
	fresh.Error = fmt.Sprintf("Manual retry from DLQ (original execution: %s)", exec.ID)
	return &fresh, nil
}

// DLQStats summarizes dead-letter and terminal-failure volume across a set
// of executions — carried forward from the source's DLQ stats surface for
// the out-of-scope dashboard to consume.
type DLQStats struct {
	TotalDLQ     int `json:"totalDlq"`
	TotalFailed  int `json:"totalFailed"`
	TotalTimeout int `json:"totalTimeout"`
}

func GetDLQStats(executions []*domain.JobExecution) DLQStats {
	var s DLQStats
	for _, e := range executions {
		switch e.Status {
		case domain.ExecutionDeadLetter:
			s.TotalDLQ++
		case domain.ExecutionFailed:
			s.TotalFailed++
		case domain.ExecutionTimeout:
			s.TotalTimeout++
		}
	}
	return s
}
