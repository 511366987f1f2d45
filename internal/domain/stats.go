package domain

import "time"

// JobStats is the per-job aggregate the worker maintains after every
// terminal transition (moved here from the scheduler per the redesign
// decision in SPEC_FULL.md — the original scheduler-side increment ran
// before the job actually executed).
type JobStats struct {
	JobID              string     `json:"jobId"`
	Total              int64      `json:"total"`
	Successful         int64      `json:"successful"`
	Failed             int64      `json:"failed"`
	LastExecutionAt    *time.Time `json:"lastExecutionAt,omitempty"`
	LastSuccessAt      *time.Time `json:"lastSuccessAt,omitempty"`
	LastFailureAt      *time.Time `json:"lastFailureAt,omitempty"`
	ConsecutiveFailures int       `json:"consecutiveFailures"`
}

// Apply folds one terminal execution outcome into the stats snapshot.
// Success statuses: success. Everything else terminal counts as failure for
// aggregate purposes (failed, timeout, dead_letter, cancelled).
func (s *JobStats) Apply(status ExecutionStatus, at time.Time) {
	s.Total++
	s.LastExecutionAt = &at
	if status == ExecutionSuccess {
		s.Successful++
		s.LastSuccessAt = &at
		s.ConsecutiveFailures = 0
		return
	}
	s.Failed++
	s.LastFailureAt = &at
	s.ConsecutiveFailures++
}
