package domain

import (
	"errors"
	"time"

	"github.com/robfig/cron/v3"
)

var (
	ErrScheduleNotFound = errors.New("schedule not found")
	ErrInvalidCronExpr  = errors.New("invalid cron expression")
	ErrInvalidTimezone  = errors.New("invalid schedule timezone")
	ErrInvalidSchedule  = errors.New("invalid schedule")
)

// ScheduleKind tags which variant of Schedule a job carries.
type ScheduleKind string

const (
	ScheduleCron     ScheduleKind = "cron"
	ScheduleInterval ScheduleKind = "interval"
	ScheduleOneShot  ScheduleKind = "one_shot"
)

// Schedule is the tagged variant attached to a job's scheduled trigger.
// Exactly one of the variant-specific fields is meaningful, selected by Kind.
type Schedule struct {
	JobID string       `json:"jobId"`
	Kind  ScheduleKind `json:"kind"`

	// Cron
	CronExpr string `json:"cronExpr,omitempty"`
	Timezone string `json:"timezone,omitempty"`
	EndDate  *time.Time `json:"endDate,omitempty"`

	// Interval
	IntervalSeconds int `json:"intervalSeconds,omitempty"`

	// OneShot
	At *time.Time `json:"at,omitempty"`

	Paused    bool       `json:"paused"`
	NextRunAt time.Time  `json:"nextRunAt"`
	LastRunAt *time.Time `json:"lastRunAt,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// Validate checks the variant-specific fields and, for Cron, that the
// expression and timezone parse.
func (s *Schedule) Validate() error {
	switch s.Kind {
	case ScheduleCron:
		if s.CronExpr == "" {
			return errors.Join(ErrInvalidSchedule, errors.New("cron_expr is required"))
		}
		if _, err := cron.ParseStandard(s.CronExpr); err != nil {
			return errors.Join(ErrInvalidCronExpr, err)
		}
		if s.Timezone != "" {
			if _, err := time.LoadLocation(s.Timezone); err != nil {
				return errors.Join(ErrInvalidTimezone, err)
			}
		}
	case ScheduleInterval:
		if s.IntervalSeconds <= 0 {
			return errors.Join(ErrInvalidSchedule, errors.New("interval_seconds must be > 0"))
		}
	case ScheduleOneShot:
		if s.At == nil {
			return errors.Join(ErrInvalidSchedule, errors.New("at is required"))
		}
	default:
		return errors.Join(ErrInvalidSchedule, errors.New("unknown schedule kind: "+string(s.Kind)))
	}
	return nil
}

// NextFireTime deterministically computes the next fire time strictly after
// `after`. A OneShot schedule that has already fired returns the zero time
// and ok=false — the scheduler treats this as "nothing left to do."
func (s *Schedule) NextFireTime(after time.Time) (next time.Time, ok bool, err error) {
	switch s.Kind {
	case ScheduleCron:
		loc := time.UTC
		if s.Timezone != "" {
			loc, err = time.LoadLocation(s.Timezone)
			if err != nil {
				return time.Time{}, false, errors.Join(ErrInvalidTimezone, err)
			}
		}
		sched, err := cron.ParseStandard(s.CronExpr)
		if err != nil {
			return time.Time{}, false, errors.Join(ErrInvalidCronExpr, err)
		}
		next = sched.Next(after.In(loc))
		if s.EndDate != nil && next.After(*s.EndDate) {
			return time.Time{}, false, nil
		}
		return next, true, nil

	case ScheduleInterval:
		return after.Add(time.Duration(s.IntervalSeconds) * time.Second), true, nil

	case ScheduleOneShot:
		if s.At == nil || !s.At.After(after) {
			return time.Time{}, false, nil
		}
		return *s.At, true, nil

	default:
		return time.Time{}, false, errors.Join(ErrInvalidSchedule, errors.New("unknown schedule kind: "+string(s.Kind)))
	}
}
