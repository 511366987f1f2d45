package retry

import (
	"testing"

	"github.com/ErlanBelekov/dist-job-scheduler/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execWith(status domain.ExecutionStatus, attempt int) *domain.JobExecution {
	return &domain.JobExecution{
		ID:      "exec-1",
		JobID:   "job-1",
		Status:  status,
		Attempt: attempt,
		Error:   "server returned 500",
	}
}

func TestShouldMoveToDLQ(t *testing.T) {
	assert.True(t, ShouldMoveToDLQ(execWith(domain.ExecutionFailed, 10), 10))
	assert.True(t, ShouldMoveToDLQ(execWith(domain.ExecutionTimeout, 10), 10))
	assert.False(t, ShouldMoveToDLQ(execWith(domain.ExecutionFailed, 9), 10))
	assert.False(t, ShouldMoveToDLQ(execWith(domain.ExecutionSuccess, 10), 10))
}

func TestMoveToDLQ(t *testing.T) {
	e := execWith(domain.ExecutionFailed, 10)
	require.NoError(t, MoveToDLQ(e, 10, "max retries exceeded"))

	assert.Equal(t, domain.ExecutionDeadLetter, e.Status)
	assert.Contains(t, e.Error, "server returned 500")
	assert.Contains(t, e.Error, "Moved to DLQ after 10 attempts: max retries exceeded")
}

func TestMoveToDLQ_RejectsIneligible(t *testing.T) {
	e := execWith(domain.ExecutionFailed, 3)
	err := MoveToDLQ(e, 10, "not yet")
	assert.ErrorIs(t, err, ErrNotDLQEligible)
}

func TestManualRetry(t *testing.T) {
	e := execWith(domain.ExecutionDeadLetter, 10)
	fresh, err := ManualRetry(e)
	require.NoError(t, err)

	assert.NotEqual(t, e.ID, fresh.ID)
	assert.Equal(t, domain.ExecutionPending, fresh.Status)
	assert.Equal(t, 0, fresh.Attempt)
	assert.Nil(t, fresh.StartedAt)
	assert.Contains(t, fresh.Error, e.ID)
}

func TestManualRetry_RejectsNonDLQ(t *testing.T) {
	e := execWith(domain.ExecutionFailed, 3)
	_, err := ManualRetry(e)
	assert.ErrorIs(t, err, ErrNotInDLQ)
}

func TestGetDLQStats(t *testing.T) {
	stats := GetDLQStats([]*domain.JobExecution{
		execWith(domain.ExecutionDeadLetter, 10),
		execWith(domain.ExecutionDeadLetter, 10),
		execWith(domain.ExecutionFailed, 3),
		execWith(domain.ExecutionTimeout, 5),
		execWith(domain.ExecutionSuccess, 0),
	})

	assert.Equal(t, 2, stats.TotalDLQ)
	assert.Equal(t, 1, stats.TotalFailed)
	assert.Equal(t, 1, stats.TotalTimeout)
}
