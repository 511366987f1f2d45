// Package runner implements the per-step-kind execution interface: one
// Runner per Step variant, selected from a dispatch table rather than by
// inheritance, matching domain.Step's tagged-union shape.
package runner

import (
	"context"
	"fmt"

	"github.com/ErlanBelekov/dist-job-scheduler/internal/domain"
)

// Runner executes one resolved step and produces its output. Callers must
// run the step through internal/resolver before Execute — a Runner never
// substitutes references itself.
type Runner interface {
	Execute(ctx context.Context, step *domain.Step, jobCtx *domain.JobContext) (domain.StepOutput, error)
}

// Table dispatches a resolved step to the Runner registered for its Kind.
type Table struct {
	runners map[domain.StepKind]Runner
}

// NewTable builds an empty dispatch table; callers register one Runner per
// domain.StepKind they support.
func NewTable() *Table {
	return &Table{runners: make(map[domain.StepKind]Runner)}
}

func (t *Table) Register(kind domain.StepKind, r Runner) {
	t.runners[kind] = r
}

// Execute looks up the Runner for step.Kind and delegates to it.
func (t *Table) Execute(ctx context.Context, step *domain.Step, jobCtx *domain.JobContext) (domain.StepOutput, error) {
	r, ok := t.runners[step.Kind]
	if !ok {
		return domain.StepOutput{}, fmt.Errorf("runner: no runner registered for step kind %q", step.Kind)
	}
	return r.Execute(ctx, step, jobCtx)
}
