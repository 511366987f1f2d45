package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/ErlanBelekov/dist-job-scheduler/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeScheduleRepository only implements ClaimDue meaningfully; the other
// methods are unused by Scheduler and exist to satisfy the interface.
type fakeScheduleRepository struct {
	due      []*domain.Schedule
	claimErr error
	claimed  int
}

func (f *fakeScheduleRepository) Create(context.Context, *domain.Schedule) error { return nil }
func (f *fakeScheduleRepository) GetByJobID(context.Context, string) (*domain.Schedule, error) {
	return nil, nil
}
func (f *fakeScheduleRepository) List(context.Context) ([]*domain.Schedule, error) { return nil, nil }
func (f *fakeScheduleRepository) SetPaused(context.Context, string, bool) error    { return nil }
func (f *fakeScheduleRepository) Delete(context.Context, string) error            { return nil }

func (f *fakeScheduleRepository) ClaimDue(_ context.Context, _ time.Time, _ int) ([]*domain.Schedule, error) {
	f.claimed++
	if f.claimErr != nil {
		return nil, f.claimErr
	}
	return f.due, nil
}

func (f *fakeScheduleRepository) Advance(context.Context, string, time.Time, time.Time) error {
	return nil
}

type fakeJobRepository struct{}

func (f *fakeJobRepository) Create(context.Context, *domain.Job) error { return nil }
func (f *fakeJobRepository) GetByID(context.Context, string, string) (*domain.Job, error) {
	return nil, domain.ErrJobNotFound
}
func (f *fakeJobRepository) GetByIDForExecution(context.Context, string) (*domain.Job, error) {
	return nil, domain.ErrJobNotFound
}
func (f *fakeJobRepository) List(context.Context, string) ([]*domain.Job, error) { return nil, nil }
func (f *fakeJobRepository) Update(context.Context, *domain.Job) error           { return nil }
func (f *fakeJobRepository) Delete(context.Context, string, string) error       { return nil }
func (f *fakeJobRepository) GetStats(context.Context, string) (*domain.JobStats, error) {
	return nil, nil
}
func (f *fakeJobRepository) SaveStats(context.Context, *domain.JobStats) error { return nil }

type fakeExecutionRepository struct{}

func (f *fakeExecutionRepository) Create(context.Context, *domain.JobExecution) error { return nil }
func (f *fakeExecutionRepository) GetByID(context.Context, string) (*domain.JobExecution, error) {
	return nil, domain.ErrExecutionNotFound
}
func (f *fakeExecutionRepository) GetByIdempotencyKey(context.Context, string) (*domain.JobExecution, error) {
	return nil, domain.ErrExecutionNotFound
}
func (f *fakeExecutionRepository) ListByJobID(context.Context, string, int) ([]*domain.JobExecution, error) {
	return nil, nil
}
func (f *fakeExecutionRepository) Update(context.Context, *domain.JobExecution) error { return nil }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestTick_NoDueSchedules_IsNoOp(t *testing.T) {
	schedules := &fakeScheduleRepository{due: nil}
	s := New(schedules, &fakeJobRepository{}, &fakeExecutionRepository{}, nil, nil,
		time.Second, 30*time.Second, 10, testLogger())

	s.tick(context.Background())

	assert.Equal(t, 1, schedules.claimed)
}

func TestTick_ClaimError_DoesNotPanic(t *testing.T) {
	schedules := &fakeScheduleRepository{claimErr: errors.New("connection reset")}
	s := New(schedules, &fakeJobRepository{}, &fakeExecutionRepository{}, nil, nil,
		time.Second, 30*time.Second, 10, testLogger())

	assert.NotPanics(t, func() { s.tick(context.Background()) })
}

func TestStartStop_TransitionsThroughStates(t *testing.T) {
	schedules := &fakeScheduleRepository{due: nil}
	s := New(schedules, &fakeJobRepository{}, &fakeExecutionRepository{}, nil, nil,
		5*time.Millisecond, 30*time.Second, 10, testLogger())

	assert.Equal(t, StateStopped, s.State())

	go s.Start(context.Background())
	require.Eventually(t, func() bool { return s.State() == StateRunning }, time.Second, time.Millisecond)

	stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Stop(stopCtx))
	assert.Equal(t, StateStopped, s.State())
}

func TestStop_DeadlineExceeded_ReturnsError(t *testing.T) {
	s := New(&fakeScheduleRepository{}, &fakeJobRepository{}, &fakeExecutionRepository{}, nil, nil,
		time.Second, 30*time.Second, 10, testLogger())

	// Start is never called, so the loop never closes `done`; Stop must
	// time out rather than block forever.
	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := s.Stop(stopCtx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
