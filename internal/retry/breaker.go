// Package retry implements the failure state machine attached to every
// step attempt: exponential backoff with jitter, a per-target circuit
// breaker, and dead-letter transition.
package retry

import (
	"errors"
	"sync"
	"time"
)

// BreakerState is one of the circuit breaker's three states.
type BreakerState int

const (
	Closed BreakerState = iota
	Open
	HalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case Closed:
		return "closed"
	case HalfOpen:
		return "half_open"
	default:
		return "open"
	}
}

// ErrCircuitOpen is returned by Breaker.Allow when the breaker is rejecting
// calls to its target.
var ErrCircuitOpen = errors.New("circuit_open")

type BreakerConfig struct {
	FailureThreshold int           // consecutive failures before opening, default 5
	Timeout          time.Duration // Open -> HalfOpen cooldown, default 60s
	SuccessThreshold int           // HalfOpen successes before closing, default 2
}

func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{FailureThreshold: 5, Timeout: 60 * time.Second, SuccessThreshold: 2}
}

// Breaker protects one target (step type + destination). State is held
// per-worker process, not shared across replicas — cross-replica breaker
// consensus would dominate latency for no correctness benefit at the
// intended failure rate.
type Breaker struct {
	name   string
	config BreakerConfig

	mu              sync.Mutex
	state           BreakerState
	failureCount    int
	successCount    int
	lastFailureTime time.Time
}

func NewBreaker(name string, config BreakerConfig) *Breaker {
	return &Breaker{name: name, config: config, state: Closed}
}

func (b *Breaker) Name() string { return b.name }

func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) FailureCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failureCount
}

// Allow reports whether a call to the target may proceed, transitioning
// Open -> HalfOpen once the cooldown has elapsed. Call RecordSuccess or
// RecordFailure with the outcome of any call this admits.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed, HalfOpen:
		return nil
	case Open:
		if !b.lastFailureTime.IsZero() && time.Since(b.lastFailureTime) >= b.config.Timeout {
			b.state = HalfOpen
			b.successCount = 0
			return nil
		}
		return ErrCircuitOpen
	default:
		return ErrCircuitOpen
	}
}

// RecordSuccess resets the failure count in Closed, or advances the
// HalfOpen probe toward closing.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		b.failureCount = 0
	case HalfOpen:
		b.successCount++
		if b.successCount >= b.config.SuccessThreshold {
			b.state = Closed
			b.failureCount = 0
			b.successCount = 0
			b.lastFailureTime = time.Time{}
		}
	}
}

// RecordFailure advances the failure count in Closed, opening the breaker
// at the threshold, or immediately reopens on any HalfOpen failure.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		b.failureCount++
		b.lastFailureTime = time.Now()
		if b.failureCount >= b.config.FailureThreshold {
			b.state = Open
		}
	case HalfOpen:
		b.state = Open
		b.failureCount = b.config.FailureThreshold
		b.successCount = 0
		b.lastFailureTime = time.Now()
	case Open:
		b.lastFailureTime = time.Now()
	}
}

// Reset forces the breaker back to Closed, discarding all counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = Closed
	b.failureCount = 0
	b.successCount = 0
	b.lastFailureTime = time.Time{}
}

// Registry is the process-wide mutable circuit-breaker table, the only
// such state the worker carries — its lifecycle is tied to the worker
// process, not persisted or shared across replicas.
type Registry struct {
	mu       sync.Mutex
	config   BreakerConfig
	breakers map[string]*Breaker
}

func NewRegistry(config BreakerConfig) *Registry {
	return &Registry{config: config, breakers: make(map[string]*Breaker)}
}

// Get returns the breaker for target, creating it with the registry's
// default config on first use.
func (r *Registry) Get(target string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.breakers[target]
	if !ok {
		b = NewBreaker(target, r.config)
		r.breakers[target] = b
	}
	return b
}
