// Package scheduler is the trigger half of the scheduled-trigger kind: a
// ticker-driven control loop that claims due schedules, takes out a
// distributed lease per job so only one replica fires it, and publishes a
// dispatch message for the worker pool to pick up.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/ErlanBelekov/dist-job-scheduler/internal/domain"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/lock"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/metrics"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/queue"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/repository"
	"github.com/google/uuid"
)

// State is one of the scheduler's three lifecycle states.
type State int32

const (
	StateStopped State = iota
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "stopped"
	}
}

// Scheduler runs the fixed-period poll loop described in the scheduled-
// trigger design: claim due schedules, lease each one, fire if due and
// concurrency allows, advance the schedule, release the lease.
type Scheduler struct {
	schedules repository.ScheduleRepository
	jobs      repository.JobRepository
	execs     repository.ExecutionRepository

	leaser    *lock.Leaser
	publisher *queue.Publisher

	pollInterval   time.Duration
	leaseTTL       time.Duration
	maxJobsPerTick int

	logger *slog.Logger

	state  atomic.Int32
	stopCh chan struct{}
	done   chan struct{}
}

func New(
	schedules repository.ScheduleRepository,
	jobs repository.JobRepository,
	execs repository.ExecutionRepository,
	leaser *lock.Leaser,
	publisher *queue.Publisher,
	pollInterval, leaseTTL time.Duration,
	maxJobsPerTick int,
	logger *slog.Logger,
) *Scheduler {
	return &Scheduler{
		schedules:      schedules,
		jobs:           jobs,
		execs:          execs,
		leaser:         leaser,
		publisher:      publisher,
		pollInterval:   pollInterval,
		leaseTTL:       leaseTTL,
		maxJobsPerTick: maxJobsPerTick,
		logger:         logger.With("component", "scheduler"),
		stopCh:         make(chan struct{}),
		done:           make(chan struct{}),
	}
}

func (s *Scheduler) State() State {
	return State(s.state.Load())
}

// Start runs the poll loop until ctx is cancelled or Stop is called. Ticks
// are never overlapped — the loop only reads the next tick once the
// current one has returned, so there is at most one in-flight tick to wait
// for on shutdown.
func (s *Scheduler) Start(ctx context.Context) {
	s.state.Store(int32(StateRunning))
	defer close(s.done)

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	s.logger.Info("scheduler started", "poll_interval", s.pollInterval, "lease_ttl", s.leaseTTL)

	for {
		select {
		case <-ctx.Done():
			s.state.Store(int32(StateStopping))
			return
		case <-s.stopCh:
			s.state.Store(int32(StateStopping))
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// Stop requests a graceful shutdown and waits for the current tick (if
// any) to finish, up to ctx's deadline.
func (s *Scheduler) Stop(ctx context.Context) error {
	select {
	case <-s.stopCh:
	default:
		close(s.stopCh)
	}

	select {
	case <-s.done:
		s.state.Store(int32(StateStopped))
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler: graceful stop deadline exceeded: %w", ctx.Err())
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	started := time.Now()
	defer func() { metrics.SchedulerTickDuration.Observe(time.Since(started).Seconds()) }()

	due, err := s.schedules.ClaimDue(ctx, started, s.maxJobsPerTick)
	if err != nil {
		s.logger.ErrorContext(ctx, "claim due schedules", "error", err)
		return
	}

	for _, sched := range due {
		s.fireOne(ctx, sched)
	}
}

// fireOne leases one due schedule, decides whether it can actually run
// right now, and — if so — creates the Pending execution row and
// publishes it. Any catalog/queue error here is logged and elided; the
// tick continues with the next schedule.
func (s *Scheduler) fireOne(ctx context.Context, sched *domain.Schedule) {
	lease, err := s.leaser.Acquire(ctx, leaseResource(sched.JobID), s.leaseTTL)
	if errors.Is(err, lock.ErrNotAcquired) {
		metrics.SchedulerLeaseContention.WithLabelValues(sched.JobID).Inc()
		return
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "acquire schedule lease", "job_id", sched.JobID, "error", err)
		return
	}
	defer func() {
		if err := lease.Release(ctx); err != nil {
			s.logger.WarnContext(ctx, "release schedule lease", "job_id", sched.JobID, "error", err)
		}
	}()

	job, err := s.jobs.GetByIDForExecution(ctx, sched.JobID)
	if err != nil {
		s.logger.ErrorContext(ctx, "load job for schedule", "job_id", sched.JobID, "error", err)
		return
	}
	if !job.Enabled || !job.Triggers.Allows(domain.TriggerScheduled) {
		return
	}

	if !job.AllowConcurrent {
		running, err := s.hasRunningExecution(ctx, job.ID)
		if err != nil {
			s.logger.ErrorContext(ctx, "check running execution", "job_id", job.ID, "error", err)
			return
		}
		if running {
			return
		}
	}

	fireTime := sched.NextRunAt
	now := time.Now()
	s.fire(ctx, job, fireTime, sched.Kind)

	next, ok, err := sched.NextFireTime(now)
	if err != nil {
		s.logger.ErrorContext(ctx, "compute next fire time", "job_id", job.ID, "error", err)
		return
	}
	if !ok {
		if err := s.schedules.SetPaused(ctx, job.ID, true); err != nil {
			s.logger.ErrorContext(ctx, "pause exhausted schedule", "job_id", job.ID, "error", err)
		}
		return
	}
	if err := s.schedules.Advance(ctx, job.ID, now, next); err != nil {
		s.logger.ErrorContext(ctx, "advance schedule", "job_id", job.ID, "error", err)
	}
}

// fire creates the Pending execution row and publishes its dispatch
// message. A publish failure marks the execution Failed in place rather
// than leaving it stuck Pending forever — reconciling the gap between a
// committed row and a lost publish is the out-of-scope sweeper's job.
func (s *Scheduler) fire(ctx context.Context, job *domain.Job, fireTime time.Time, kind domain.ScheduleKind) {
	idempotencyKey := fmt.Sprintf("scheduled:%s:%s", job.ID, fireTime.UTC().Format(time.RFC3339))

	exec := &domain.JobExecution{
		ID:             uuid.NewString(),
		JobID:          job.ID,
		IdempotencyKey: idempotencyKey,
		Status:         domain.ExecutionPending,
		Trigger:        domain.TriggerSource{Kind: domain.TriggerScheduled},
		CreatedAt:      time.Now(),
	}

	if err := s.execs.Create(ctx, exec); err != nil {
		if errors.Is(err, domain.ErrDuplicateExecution) {
			return
		}
		s.logger.ErrorContext(ctx, "create execution", "job_id", job.ID, "error", err)
		return
	}

	if err := s.publisher.Publish(ctx, queue.Message{
		ExecutionID:    exec.ID,
		JobID:          job.ID,
		IdempotencyKey: idempotencyKey,
		Attempt:        0,
	}); err != nil {
		exec.Status = domain.ExecutionFailed
		exec.Error = "publish failed"
		if uerr := s.execs.Update(ctx, exec); uerr != nil {
			s.logger.ErrorContext(ctx, "mark execution failed after publish error", "execution_id", exec.ID, "error", uerr)
		}
		s.logger.ErrorContext(ctx, "publish dispatch message", "execution_id", exec.ID, "error", err)
		return
	}

	metrics.SchedulerJobsFiredTotal.WithLabelValues(string(kind)).Inc()
}

// hasRunningExecution approximates "this job has a currently-running
// execution" by checking only the most recent one — executions for a job
// fire in order, so the newest row is the only one that can still be
// non-terminal by the time the next tick considers firing again.
func (s *Scheduler) hasRunningExecution(ctx context.Context, jobID string) (bool, error) {
	execs, err := s.execs.ListByJobID(ctx, jobID, 1)
	if err != nil {
		return false, err
	}
	if len(execs) == 0 {
		return false, nil
	}
	return !execs[0].Status.IsTerminal(), nil
}

func leaseResource(jobID string) string {
	return fmt.Sprintf("schedule:job:%s", jobID)
}
