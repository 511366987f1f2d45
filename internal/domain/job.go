package domain

import (
	"errors"
	"time"
)

var (
	ErrJobNotFound       = errors.New("job not found")
	ErrDuplicateJobName  = errors.New("job with this name already exists for this tenant")
	ErrJobDisabled       = errors.New("job is disabled")
	ErrTriggerNotAllowed = errors.New("job does not permit this trigger source")
	ErrConcurrentRun     = errors.New("job does not allow concurrent executions")
	ErrInvalidJob        = errors.New("job definition is invalid")
)

// TriggerKind names one of the three ways an execution can be started.
type TriggerKind string

const (
	TriggerScheduled TriggerKind = "scheduled"
	TriggerManual    TriggerKind = "manual"
	TriggerWebhook   TriggerKind = "webhook"
)

// TriggerSet is the capability set a job grants — which trigger kinds are
// permitted to create an execution for it.
type TriggerSet map[TriggerKind]bool

func (s TriggerSet) Allows(k TriggerKind) bool {
	return s != nil && s[k]
}

// Job is the user-authored unit of work: a named pipeline of steps, run on
// a schedule, by manual call, or by webhook.
type Job struct {
	ID          string `json:"id"`
	TenantID    string `json:"tenantId"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Enabled     bool   `json:"enabled"`

	TimeoutSeconds  int        `json:"timeoutSeconds"`
	MaxRetries      int        `json:"maxRetries"`
	AllowConcurrent bool       `json:"allowConcurrent"`
	Triggers        TriggerSet `json:"triggers"`

	// DefinitionPath is the blob path of the canonical job definition
	// (jobs/{job_id}/definition.json) — steps live there, not in the
	// catalog row.
	DefinitionPath string `json:"definitionPath"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Validate enforces max_retries >= 0 and timeout > 0. Definition-blob
// parseability is checked separately by Definition.Validate before the
// catalog row is committed.
func (j *Job) Validate() error {
	if j.Name == "" {
		return errors.Join(ErrInvalidJob, errors.New("name is required"))
	}
	if j.TimeoutSeconds <= 0 {
		return errors.Join(ErrInvalidJob, errors.New("timeout_seconds must be > 0"))
	}
	if j.MaxRetries < 0 {
		return errors.Join(ErrInvalidJob, errors.New("max_retries must be >= 0"))
	}
	return nil
}

// Definition is the canonical JSON document stored at Job.DefinitionPath.
type Definition struct {
	Name  string `json:"name"`
	Steps []Step `json:"steps"`
}

func (d *Definition) Validate() error {
	if d.Name == "" {
		return errors.Join(ErrInvalidJob, errors.New("definition name is required"))
	}
	if len(d.Steps) == 0 {
		return errors.Join(ErrInvalidJob, errors.New("definition must declare at least one step"))
	}
	seen := make(map[string]struct{}, len(d.Steps))
	for _, s := range d.Steps {
		if s.ID == "" {
			return errors.Join(ErrInvalidJob, errors.New("every step requires an id"))
		}
		if _, dup := seen[s.ID]; dup {
			return errors.Join(ErrInvalidJob, errors.New("duplicate step id: "+s.ID))
		}
		seen[s.ID] = struct{}{}
		if err := s.Validate(); err != nil {
			return err
		}
	}
	return nil
}
