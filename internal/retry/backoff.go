package retry

import (
	"math"
	"math/rand"
	"time"
)

// BackoffConfig parameterizes exponential backoff with jitter.
type BackoffConfig struct {
	Base       time.Duration // default 5s
	Cap        time.Duration // default 1800s (30min)
	Jitter     float64       // default 0.5
	MaxRetries int           // default 10, per-step ceiling
}

func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{Base: 5 * time.Second, Cap: 30 * time.Minute, Jitter: 0.5, MaxRetries: 10}
}

// Delay computes the wait before attempt N (0-based): min(base*3^N, cap)
// plus a uniform random jitter in [0, jitter*base*3^N).
func (c BackoffConfig) Delay(attempt int) time.Duration {
	raw := float64(c.Base) * math.Pow(3, float64(attempt))
	base := math.Min(raw, float64(c.Cap))

	jitterSpan := c.Jitter * raw
	if jitterSpan <= 0 {
		return time.Duration(base)
	}
	return time.Duration(base) + time.Duration(rand.Float64()*jitterSpan)
}

// NonRetryable classifies an error kind as bypassing retry entirely:
// authentication failures, validation errors (malformed job definitions)
// and execution timeouts. Every other kind is retried, including a
// step_error for a 4xx response other than 401/403.
func NonRetryable(kind ErrorKind) bool {
	switch kind {
	case ErrorStepAuth, ErrorValidation, ErrorExecTimeout:
		return true
	default:
		return false
	}
}

// ErrorKind is the taxonomy every error surfaced by the core maps to; only
// this is wire-visible as a code.
type ErrorKind string

const (
	ErrorSchedule      ErrorKind = "schedule_error"
	ErrorExecTimeout   ErrorKind = "execution_timeout"
	ErrorQueue         ErrorKind = "queue_error"
	ErrorStorage       ErrorKind = "storage_error"
	ErrorDatabase      ErrorKind = "database_error"
	ErrorStep          ErrorKind = "step_error"
	ErrorStepAuth      ErrorKind = "step_auth_error"
	ErrorCircuitOpen   ErrorKind = "circuit_open"
	ErrorValidation    ErrorKind = "validation_error"
	ErrorIdempotency   ErrorKind = "idempotency_conflict"
)
