package worker

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/ErlanBelekov/dist-job-scheduler/internal/contextstore"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/domain"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/queue"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/retry"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/runner"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/secrets"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeJobRepo struct {
	job            *domain.Job
	getErr         error
	getCalls       int
	stats          *domain.JobStats
	saveStatsCalls int
}

func (f *fakeJobRepo) Create(context.Context, *domain.Job) error { return nil }
func (f *fakeJobRepo) GetByID(context.Context, string, string) (*domain.Job, error) {
	return nil, domain.ErrJobNotFound
}
func (f *fakeJobRepo) GetByIDForExecution(_ context.Context, _ string) (*domain.Job, error) {
	f.getCalls++
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.job, nil
}
func (f *fakeJobRepo) List(context.Context, string) ([]*domain.Job, error) { return nil, nil }
func (f *fakeJobRepo) Update(context.Context, *domain.Job) error           { return nil }
func (f *fakeJobRepo) Delete(context.Context, string, string) error       { return nil }
func (f *fakeJobRepo) GetStats(_ context.Context, jobID string) (*domain.JobStats, error) {
	if f.stats == nil {
		f.stats = &domain.JobStats{JobID: jobID}
	}
	return f.stats, nil
}
func (f *fakeJobRepo) SaveStats(context.Context, *domain.JobStats) error {
	f.saveStatsCalls++
	return nil
}

type fakeExecRepo struct {
	byIdempotency map[string]*domain.JobExecution
	updateErr     error
	updateCalls   int
}

func (f *fakeExecRepo) Create(context.Context, *domain.JobExecution) error { return nil }
func (f *fakeExecRepo) GetByID(context.Context, string) (*domain.JobExecution, error) {
	return nil, domain.ErrExecutionNotFound
}
func (f *fakeExecRepo) GetByIdempotencyKey(_ context.Context, key string) (*domain.JobExecution, error) {
	exec, ok := f.byIdempotency[key]
	if !ok {
		return nil, domain.ErrExecutionNotFound
	}
	return exec, nil
}
func (f *fakeExecRepo) ListByJobID(context.Context, string, int) ([]*domain.JobExecution, error) {
	return nil, nil
}
func (f *fakeExecRepo) Update(_ context.Context, _ *domain.JobExecution) error {
	f.updateCalls++
	return f.updateErr
}

type fakeVariableRepo struct {
	vars []*domain.Variable
}

func (f *fakeVariableRepo) Create(context.Context, *domain.Variable) error { return nil }
func (f *fakeVariableRepo) Update(context.Context, *domain.Variable) error { return nil }
func (f *fakeVariableRepo) Delete(context.Context, string) error          { return nil }
func (f *fakeVariableRepo) GetByID(context.Context, string) (*domain.Variable, error) {
	return nil, domain.ErrVariableNotFound
}
func (f *fakeVariableRepo) Resolve(context.Context, string) ([]*domain.Variable, error) {
	return f.vars, nil
}

type fakeDefinitions struct {
	def *domain.Definition
	err error
}

func (f *fakeDefinitions) Get(context.Context, string) (*domain.Definition, error) {
	return f.def, f.err
}

type fakeContexts struct {
	jc        *domain.JobContext
	saveCalls int
}

func (f *fakeContexts) Load(_ context.Context, _, _ string) (*domain.JobContext, error) {
	if f.jc == nil {
		return nil, contextstore.ErrAbsent
	}
	return f.jc, nil
}
func (f *fakeContexts) Save(_ context.Context, jc *domain.JobContext) error {
	f.saveCalls++
	f.jc = jc
	return nil
}

type fakePublisher struct {
	events []queue.StatusEvent
}

func (f *fakePublisher) PublishStatus(_ context.Context, ev queue.StatusEvent) {
	f.events = append(f.events, ev)
}

type fakeRunner struct {
	out   domain.StepOutput
	err   error
	calls int
}

func (f *fakeRunner) Execute(context.Context, *domain.Step, *domain.JobContext) (domain.StepOutput, error) {
	f.calls++
	return f.out, f.err
}

func testCipher(t *testing.T) *secrets.Cipher {
	t.Helper()
	c, err := secrets.NewCipher(base64.StdEncoding.EncodeToString(make([]byte, 32)))
	require.NoError(t, err)
	return c
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestWorker(t *testing.T, jobs *fakeJobRepo, execs *fakeExecRepo, vars *fakeVariableRepo,
	defs *fakeDefinitions, contexts *fakeContexts, pub *fakePublisher, table *runner.Table) *Worker {
	t.Helper()
	return New(
		jobs, execs, vars, testCipher(t),
		defs, contexts, table,
		retry.NewRegistry(retry.DefaultBreakerConfig()),
		retry.BackoffConfig{Base: time.Millisecond, Cap: time.Millisecond, Jitter: 0, MaxRetries: 10},
		pub, testLogger(),
	)
}

func httpStep(id string) domain.Step {
	return domain.Step{ID: id, Kind: domain.StepHTTP, Http: &domain.HTTPStep{Method: "GET", URL: "http://example.test/" + id}}
}

func TestHandle_IdempotencyGate_SkipsTerminalExecution(t *testing.T) {
	execs := &fakeExecRepo{byIdempotency: map[string]*domain.JobExecution{
		"key-1": {ID: "exec-1", Status: domain.ExecutionSuccess},
	}}
	jobs := &fakeJobRepo{}
	w := newTestWorker(t, jobs, execs, &fakeVariableRepo{}, &fakeDefinitions{}, &fakeContexts{}, &fakePublisher{}, runner.NewTable())

	err := w.Handle(context.Background(), queue.Message{IdempotencyKey: "key-1"})

	require.NoError(t, err)
	assert.Equal(t, 0, jobs.getCalls, "a terminal execution must never reach job/definition loading")
	assert.Equal(t, 0, execs.updateCalls)
}

func TestRunPipeline_ResumesFromPartialContext(t *testing.T) {
	def := &domain.Definition{Name: "d", Steps: []domain.Step{httpStep("step1"), httpStep("step2")}}
	job := &domain.Job{ID: "job-1", MaxRetries: 1, TimeoutSeconds: 5}
	exec := &domain.JobExecution{ID: "exec-1", JobID: job.ID}

	jc := domain.NewJobContext(exec.ID, job.ID)
	require.NoError(t, jc.RecordStep(domain.StepOutput{StepID: "step1", Status: domain.StepStatusSuccess}))

	fr := &fakeRunner{out: domain.StepOutput{StepID: "step2", Status: domain.StepStatusSuccess}}
	table := runner.NewTable()
	table.Register(domain.StepHTTP, fr)

	contexts := &fakeContexts{jc: jc}
	w := newTestWorker(t, &fakeJobRepo{}, &fakeExecRepo{}, &fakeVariableRepo{}, &fakeDefinitions{}, contexts, &fakePublisher{}, table)

	outcome := w.runPipeline(context.Background(), job, exec, def, jc, nil)

	assert.Equal(t, domain.ExecutionSuccess, outcome.status)
	assert.NoError(t, outcome.err)
	assert.Equal(t, 1, fr.calls, "the already-recorded step must not re-execute")
	assert.True(t, jc.HasStep("step2"))
}

func TestFinalize_DLQAtMaxRetries(t *testing.T) {
	job := &domain.Job{ID: "job-1", MaxRetries: 0}
	exec := &domain.JobExecution{ID: "exec-1", JobID: job.ID, Attempt: 0, Status: domain.ExecutionRunning}

	execs := &fakeExecRepo{}
	pub := &fakePublisher{}
	w := newTestWorker(t, &fakeJobRepo{}, execs, &fakeVariableRepo{}, &fakeDefinitions{}, &fakeContexts{}, pub, runner.NewTable())

	w.finalize(context.Background(), job, exec, pipelineOutcome{status: domain.ExecutionFailed, err: errors.New("step failed")})

	assert.Equal(t, domain.ExecutionDeadLetter, exec.Status)
	assert.Equal(t, 1, execs.updateCalls)
	require.Len(t, pub.events, 1)
	assert.Equal(t, string(domain.ExecutionDeadLetter), pub.events[0].Status)
}

func TestFinalize_CancellationLeavesExecutionUntouched(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	job := &domain.Job{ID: "job-1", MaxRetries: 5}
	exec := &domain.JobExecution{ID: "exec-1", JobID: job.ID, Status: domain.ExecutionRunning, Attempt: 1}

	execs := &fakeExecRepo{}
	pub := &fakePublisher{}
	w := newTestWorker(t, &fakeJobRepo{}, execs, &fakeVariableRepo{}, &fakeDefinitions{}, &fakeContexts{}, pub, runner.NewTable())

	w.finalize(ctx, job, exec, pipelineOutcome{status: domain.ExecutionFailed, err: context.Canceled})

	assert.Equal(t, domain.ExecutionRunning, exec.Status, "a cancelled step must not transition the execution to a terminal status")
	assert.Nil(t, exec.CompletedAt)
	assert.Equal(t, 0, execs.updateCalls, "the row must be left untouched so redelivery picks it back up")
	assert.Empty(t, pub.events)
}

func TestFinalize_PublishGatedOnUpdateSucceeding(t *testing.T) {
	job := &domain.Job{ID: "job-1", MaxRetries: 5}
	exec := &domain.JobExecution{ID: "exec-1", JobID: job.ID, Status: domain.ExecutionRunning}

	jobs := &fakeJobRepo{}
	execs := &fakeExecRepo{updateErr: errors.New("db unavailable")}
	pub := &fakePublisher{}
	w := newTestWorker(t, jobs, execs, &fakeVariableRepo{}, &fakeDefinitions{}, &fakeContexts{}, pub, runner.NewTable())

	w.finalize(context.Background(), job, exec, pipelineOutcome{status: domain.ExecutionSuccess})

	assert.Equal(t, 1, execs.updateCalls)
	assert.Empty(t, pub.events, "a failed persist must never be followed by a status event")
	assert.Equal(t, 0, jobs.saveStatsCalls, "stats must not be touched when the terminal state never durably landed")
}

func TestMergedVariables_DecryptsSensitiveValues(t *testing.T) {
	cipher := testCipher(t)
	ciphertext, err := cipher.Encrypt("s3cr3t")
	require.NoError(t, err)

	vars := &fakeVariableRepo{vars: []*domain.Variable{
		{Name: "PLAIN", Value: "visible"},
		{Name: "SECRET", Value: ciphertext, IsSensitive: true},
	}}

	w := New(
		&fakeJobRepo{}, &fakeExecRepo{}, vars, cipher,
		&fakeDefinitions{}, &fakeContexts{}, runner.NewTable(),
		retry.NewRegistry(retry.DefaultBreakerConfig()), retry.DefaultBackoffConfig(),
		&fakePublisher{}, testLogger(),
	)

	merged, err := w.mergedVariables(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, "visible", merged["PLAIN"])
	assert.Equal(t, "s3cr3t", merged["SECRET"])
}
