// Package worker is the executor half of the scheduler: it claims one
// dispatch message at a time, runs the job's step pipeline to completion
// (or to a terminal failure), and keeps the Job Context durable across
// every step boundary so a crash mid-pipeline resumes rather than
// restarts.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ErlanBelekov/dist-job-scheduler/internal/contextstore"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/domain"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/metrics"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/queue"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/repository"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/resolver"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/retry"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/runner"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/secrets"
)

// definitionLoader is the slice of *definitionstore.Store the worker needs —
// narrowed to an interface so tests can fake it without a blob backend.
type definitionLoader interface {
	Get(ctx context.Context, jobID string) (*domain.Definition, error)
}

// jobContextStore is the slice of *contextstore.Store the worker needs.
type jobContextStore interface {
	Load(ctx context.Context, jobID, executionID string) (*domain.JobContext, error)
	Save(ctx context.Context, jc *domain.JobContext) error
}

// statusPublisher is the slice of *queue.Publisher the worker needs.
type statusPublisher interface {
	PublishStatus(ctx context.Context, ev queue.StatusEvent)
}

// Worker wires the catalog/blob stores, the step runner table, and the
// retry/circuit-breaker machinery into the single sequential executor a
// queue.Consumer drives one dispatch message at a time.
type Worker struct {
	jobs      repository.JobRepository
	execs     repository.ExecutionRepository
	variables repository.VariableRepository
	cipher    *secrets.Cipher

	definitions definitionLoader
	contexts    jobContextStore

	runners  *runner.Table
	breakers *retry.Registry
	backoff  retry.BackoffConfig

	publisher statusPublisher
	logger    *slog.Logger
}

func New(
	jobs repository.JobRepository,
	execs repository.ExecutionRepository,
	variables repository.VariableRepository,
	cipher *secrets.Cipher,
	definitions definitionLoader,
	contexts jobContextStore,
	runners *runner.Table,
	breakers *retry.Registry,
	backoff retry.BackoffConfig,
	publisher statusPublisher,
	logger *slog.Logger,
) *Worker {
	return &Worker{
		jobs:        jobs,
		execs:       execs,
		variables:   variables,
		cipher:      cipher,
		definitions: definitions,
		contexts:    contexts,
		runners:     runners,
		breakers:    breakers,
		backoff:     backoff,
		publisher:   publisher,
		logger:      logger.With("component", "worker"),
	}
}

// Handle is the queue.Handler the Consumer drives. It never returns an
// error for a failure already recorded on the execution row — only for
// conditions that leave the row in an indeterminate state, which the
// broker should redeliver.
func (w *Worker) Handle(ctx context.Context, msg queue.Message) error {
	exec, gated, err := w.gate(ctx, msg)
	if err != nil {
		return err
	}
	if gated {
		return nil
	}

	job, err := w.getJobForExecution(ctx, exec)
	if err != nil {
		w.failExecution(ctx, exec, fmt.Errorf("load job: %w", err))
		return nil
	}

	def, err := w.definitions.Get(ctx, job.ID)
	if err != nil {
		w.failExecution(ctx, exec, fmt.Errorf("load definition: %w", err))
		return nil
	}

	metrics.JobsInFlight.Inc()
	defer metrics.JobsInFlight.Dec()

	if err := w.markRunning(ctx, exec); err != nil {
		return err
	}

	jc, err := w.loadOrInitContext(ctx, job, exec)
	if err != nil {
		w.failExecution(ctx, exec, fmt.Errorf("load context: %w", err))
		return nil
	}

	vars, err := w.mergedVariables(ctx, job.ID)
	if err != nil {
		w.failExecution(ctx, exec, fmt.Errorf("resolve variables: %w", err))
		return nil
	}

	outcome := w.runPipeline(ctx, job, exec, def, jc, vars)
	w.finalize(ctx, job, exec, outcome)
	return nil
}

// gate implements the idempotency boundary: a redelivered message for an
// already-terminal execution is acknowledged as a no-op; a message for a
// fresh or in-flight execution proceeds.
func (w *Worker) gate(ctx context.Context, msg queue.Message) (*domain.JobExecution, bool, error) {
	exec, err := w.execs.GetByIdempotencyKey(ctx, msg.IdempotencyKey)
	if err != nil {
		return nil, false, fmt.Errorf("worker: load execution by idempotency key: %w", err)
	}
	if exec.Status.IsTerminal() {
		w.logger.InfoContext(ctx, "execution already terminal, acking without reprocessing",
			"execution_id", exec.ID, "status", exec.Status)
		return nil, true, nil
	}
	return exec, false, nil
}

func (w *Worker) getJobForExecution(ctx context.Context, exec *domain.JobExecution) (*domain.Job, error) {
	return w.jobs.GetByIDForExecution(ctx, exec.JobID)
}

func (w *Worker) markRunning(ctx context.Context, exec *domain.JobExecution) error {
	if exec.Status != domain.ExecutionRunning {
		now := time.Now()
		exec.Status = domain.ExecutionRunning
		exec.StartedAt = &now
	}
	if err := w.execs.Update(ctx, exec); err != nil {
		return fmt.Errorf("worker: mark execution running: %w", err)
	}
	w.publisher.PublishStatus(ctx, queue.StatusEvent{
		Type: "execution_status_changed", ExecutionID: exec.ID, JobID: exec.JobID, Status: string(domain.ExecutionRunning),
	})
	return nil
}

func (w *Worker) loadOrInitContext(ctx context.Context, job *domain.Job, exec *domain.JobExecution) (*domain.JobContext, error) {
	jc, err := w.contexts.Load(ctx, job.ID, exec.ID)
	if err == nil {
		return jc, nil
	}
	if !errors.Is(err, contextstore.ErrAbsent) {
		return nil, err
	}
	return domain.NewJobContext(exec.ID, job.ID), nil
}

// mergedVariables resolves the job's effective variable set and decrypts
// any sensitive entries — the ciphertext the catalog stores is decrypted
// here and nowhere else, immediately before the resolver substitutes it
// into a step.
func (w *Worker) mergedVariables(ctx context.Context, jobID string) (map[string]string, error) {
	vars, err := w.variables.Resolve(ctx, jobID)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(vars))
	for _, v := range vars {
		value := v.Value
		if v.IsSensitive {
			value, err = w.cipher.Decrypt(v.Value)
			if err != nil {
				return nil, fmt.Errorf("decrypt variable %s: %w", v.Name, err)
			}
		}
		out[v.Name] = value
		w.logger.DebugContext(ctx, "merged variable", "name", v.Name, "value", v.MarshalRedacted())
	}
	return out, nil
}

// pipelineOutcome is the terminal disposition runPipeline settles on, fed
// into finalize to update the execution row, stats, and status event.
type pipelineOutcome struct {
	status domain.ExecutionStatus
	err    error
}

// runPipeline walks the definition's steps in order, skipping any already
// recorded in jc (resumption after a crash), persisting jc after every
// step regardless of outcome — the context-persistence invariant that lets
// a retry pick up from the last completed step instead of the first.
func (w *Worker) runPipeline(
	ctx context.Context,
	job *domain.Job,
	exec *domain.JobExecution,
	def *domain.Definition,
	jc *domain.JobContext,
	vars map[string]string,
) pipelineOutcome {
	for i := range def.Steps {
		step := def.Steps[i]

		if jc.HasStep(step.ID) {
			continue
		}

		stepID := step.ID
		exec.CurrentStepID = &stepID
		if err := w.execs.Update(ctx, exec); err != nil {
			w.logger.WarnContext(ctx, "persist current step failed", "execution_id", exec.ID, "error", err)
		}

		outcome, stop := w.runStep(ctx, job, exec, &step, jc, vars)
		if err := w.contexts.Save(ctx, jc); err != nil {
			return pipelineOutcome{status: domain.ExecutionFailed, err: fmt.Errorf("persist context after step %s: %w", step.ID, err)}
		}
		if stop {
			return outcome
		}
	}
	return pipelineOutcome{status: domain.ExecutionSuccess}
}

// runStep evaluates the step's condition, resolves its templates, and
// drives the retry/circuit-breaker loop to a recorded StepOutput. It
// returns stop=true when the pipeline cannot continue past this step.
func (w *Worker) runStep(
	ctx context.Context,
	job *domain.Job,
	exec *domain.JobExecution,
	step *domain.Step,
	jc *domain.JobContext,
	vars map[string]string,
) (pipelineOutcome, bool) {
	started := time.Now()

	if !evaluateCondition(step.Condition) {
		_ = jc.RecordStep(domain.StepOutput{
			StepID: step.ID, Status: domain.StepStatusSkipped,
			StartedAt: started, CompletedAt: time.Now(),
		})
		return pipelineOutcome{}, false
	}

	res := resolver.New(jc, vars)
	if err := res.ResolveStep(step); err != nil {
		return w.recordStepFailure(exec, jc, step, started, domain.ExecutionFailed, fmt.Errorf("resolve step %s: %w", step.ID, err))
	}

	out, err := w.executeWithRetry(ctx, job, exec, step, jc)
	if err != nil {
		status := domain.ExecutionFailed
		if classifyStepError(step.Kind, err) == retry.ErrorExecTimeout {
			status = domain.ExecutionTimeout
		}
		return w.recordStepFailure(exec, jc, step, started, status, err)
	}

	if err := jc.RecordStep(out); err != nil {
		w.logger.WarnContext(ctx, "record step output", "step_id", step.ID, "error", err)
	}
	metrics.StepExecutionDuration.WithLabelValues(string(step.Kind), "success").Observe(time.Since(started).Seconds())
	return pipelineOutcome{}, false
}

func (w *Worker) recordStepFailure(exec *domain.JobExecution, jc *domain.JobContext, step *domain.Step, started time.Time, status domain.ExecutionStatus, err error) (pipelineOutcome, bool) {
	_ = jc.RecordStep(domain.StepOutput{
		StepID: step.ID, Status: domain.StepStatusFailed,
		StartedAt: started, CompletedAt: time.Now(),
	})
	metrics.StepExecutionDuration.WithLabelValues(string(step.Kind), "failed").Observe(time.Since(started).Seconds())
	return pipelineOutcome{status: status, err: err}, true
}

// executeWithRetry runs one step to success or exhaustion, against a
// circuit breaker shared by every step targeting the same destination and
// an exponential backoff shared with the execution's overall attempt
// counter — the spec ties dead-letter eligibility to that single counter,
// not to a per-step one.
func (w *Worker) executeWithRetry(
	ctx context.Context,
	job *domain.Job,
	exec *domain.JobExecution,
	step *domain.Step,
	jc *domain.JobContext,
) (domain.StepOutput, error) {
	breaker := w.breakers.Get(breakerTarget(step))

	for {
		if err := breaker.Allow(); err != nil {
			if stop := w.awaitRetryOrStop(ctx, exec, job.MaxRetries); stop {
				return domain.StepOutput{}, fmt.Errorf("step %s: %w", step.ID, err)
			}
			continue
		}

		stepCtx, cancel := context.WithTimeout(ctx, time.Duration(job.TimeoutSeconds)*time.Second)
		out, err := w.runners.Execute(stepCtx, step, jc)
		cancel()

		if err == nil {
			breaker.RecordSuccess()
			w.setBreakerGauge(step)
			return out, nil
		}

		breaker.RecordFailure()
		w.setBreakerGauge(step)
		if breaker.State() == retry.Open {
			metrics.CircuitBreakerTripsTotal.WithLabelValues(breakerTarget(step)).Inc()
		}

		kind := classifyStepError(step.Kind, err)
		if retry.NonRetryable(kind) {
			return domain.StepOutput{}, fmt.Errorf("step %s: %w", step.ID, err)
		}

		if stop := w.awaitRetryOrStop(ctx, exec, job.MaxRetries); stop {
			return domain.StepOutput{}, fmt.Errorf("step %s: %w", step.ID, err)
		}
	}
}

// awaitRetryOrStop increments the execution's shared attempt counter,
// persists it, and sleeps the backoff delay — unless the budget is already
// exhausted, in which case it reports stop=true without sleeping.
func (w *Worker) awaitRetryOrStop(ctx context.Context, exec *domain.JobExecution, maxRetries int) bool {
	if exec.Attempt >= maxRetries {
		return true
	}
	delay := w.backoff.Delay(exec.Attempt)
	exec.Attempt++
	if err := w.execs.Update(ctx, exec); err != nil {
		w.logger.WarnContext(ctx, "persist attempt counter", "execution_id", exec.ID, "error", err)
	}

	select {
	case <-ctx.Done():
		return true
	case <-time.After(delay):
		return false
	}
}

func (w *Worker) setBreakerGauge(step *domain.Step) {
	breaker := w.breakers.Get(breakerTarget(step))
	var v float64
	switch breaker.State() {
	case retry.HalfOpen:
		v = 1
	case retry.Open:
		v = 2
	}
	metrics.CircuitBreakerState.WithLabelValues(breakerTarget(step)).Set(v)
}

// finalize applies the pipeline's outcome to the execution row, rolling a
// Failed/Timeout outcome into DeadLetter once the retry budget is spent,
// updates the job's running stats, and emits the terminal status event. A
// step interrupted by context cancellation (process shutdown) never
// reaches a terminal status here — the row is left exactly as it was so a
// redelivered message picks it back up, instead of the idempotency gate
// permanently skipping it.
func (w *Worker) finalize(ctx context.Context, job *domain.Job, exec *domain.JobExecution, outcome pipelineOutcome) {
	if outcome.err != nil && ctx.Err() != nil {
		w.logger.InfoContext(ctx, "execution interrupted by cancellation, leaving row for redelivery",
			"execution_id", exec.ID, "job_id", job.ID, "status", exec.Status)
		return
	}

	now := time.Now()
	exec.CompletedAt = &now
	exec.CurrentStepID = nil

	switch {
	case outcome.err == nil:
		exec.Status = domain.ExecutionSuccess
	default:
		exec.Status = outcome.status
		if exec.Status == "" {
			exec.Status = domain.ExecutionFailed
		}
		exec.Error = outcome.err.Error()
		if retry.ShouldMoveToDLQ(exec, job.MaxRetries) {
			if err := retry.MoveToDLQ(exec, job.MaxRetries, outcome.err.Error()); err == nil {
				metrics.DLQMovedTotal.WithLabelValues(job.ID).Inc()
			}
		}
	}

	// The event for this status is only ever emitted once the row update
	// durably succeeds — publishing on a failed Update would announce a
	// transition that never actually landed.
	if err := w.execs.Update(ctx, exec); err != nil {
		w.logger.ErrorContext(ctx, "persist final execution state", "execution_id", exec.ID, "error", err)
		return
	}

	if stats, err := w.jobs.GetStats(ctx, job.ID); err == nil {
		stats.Apply(exec.Status, now)
		if err := w.jobs.SaveStats(ctx, stats); err != nil {
			w.logger.WarnContext(ctx, "save job stats", "job_id", job.ID, "error", err)
		}
	} else {
		w.logger.WarnContext(ctx, "load job stats", "job_id", job.ID, "error", err)
	}

	metrics.JobsCompletedTotal.WithLabelValues(string(exec.Status)).Inc()
	w.publisher.PublishStatus(ctx, queue.StatusEvent{
		Type: "execution_status_changed", ExecutionID: exec.ID, JobID: exec.JobID, Status: string(exec.Status),
	})

	w.logger.InfoContext(ctx, "execution finished", "execution_id", exec.ID, "job_id", job.ID, "status", exec.Status, "attempt", exec.Attempt)
}

// failExecution is used for failures that occur before the step loop ever
// starts (missing job row, unparsable definition) — there is no step to
// blame, so the whole execution goes straight to Failed.
func (w *Worker) failExecution(ctx context.Context, exec *domain.JobExecution, err error) {
	w.finalize(ctx, &domain.Job{ID: exec.JobID, MaxRetries: 0}, exec, pipelineOutcome{status: domain.ExecutionFailed, err: err})
}
