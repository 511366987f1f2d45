package retry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b := NewBreaker("test", BreakerConfig{FailureThreshold: 3, Timeout: time.Minute, SuccessThreshold: 2})

	for i := 0; i < 2; i++ {
		require.NoError(t, b.Allow())
		b.RecordFailure()
		assert.Equal(t, Closed, b.State())
	}
	require.NoError(t, b.Allow())
	b.RecordFailure()
	assert.Equal(t, Open, b.State())
	assert.Equal(t, 3, b.FailureCount())
}

func TestBreaker_RejectsWhenOpen(t *testing.T) {
	b := NewBreaker("test", BreakerConfig{FailureThreshold: 2, Timeout: time.Minute, SuccessThreshold: 2})
	b.RecordFailure()
	b.RecordFailure()
	assert.Equal(t, Open, b.State())

	err := b.Allow()
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestBreaker_HalfOpenAfterTimeout(t *testing.T) {
	b := NewBreaker("test", BreakerConfig{FailureThreshold: 2, Timeout: 50 * time.Millisecond, SuccessThreshold: 2})
	b.RecordFailure()
	b.RecordFailure()
	assert.Equal(t, Open, b.State())

	time.Sleep(75 * time.Millisecond)

	require.NoError(t, b.Allow())
	assert.Equal(t, HalfOpen, b.State())
}

func TestBreaker_ClosesAfterSuccessThreshold(t *testing.T) {
	b := NewBreaker("test", BreakerConfig{FailureThreshold: 2, Timeout: 10 * time.Millisecond, SuccessThreshold: 2})
	b.RecordFailure()
	b.RecordFailure()
	time.Sleep(20 * time.Millisecond)

	require.NoError(t, b.Allow())
	b.RecordSuccess()
	assert.Equal(t, HalfOpen, b.State())

	require.NoError(t, b.Allow())
	b.RecordSuccess()
	assert.Equal(t, Closed, b.State())
	assert.Equal(t, 0, b.FailureCount())
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b := NewBreaker("test", BreakerConfig{FailureThreshold: 2, Timeout: 10 * time.Millisecond, SuccessThreshold: 2})
	b.RecordFailure()
	b.RecordFailure()
	time.Sleep(20 * time.Millisecond)

	require.NoError(t, b.Allow())
	assert.Equal(t, HalfOpen, b.State())

	b.RecordFailure()
	assert.Equal(t, Open, b.State())
}

func TestBreaker_SuccessResetsFailureCountInClosed(t *testing.T) {
	b := NewBreaker("test", BreakerConfig{FailureThreshold: 3, Timeout: time.Minute, SuccessThreshold: 2})
	b.RecordFailure()
	b.RecordFailure()
	assert.Equal(t, 2, b.FailureCount())

	b.RecordSuccess()
	assert.Equal(t, 0, b.FailureCount())
	assert.Equal(t, Closed, b.State())
}

func TestRegistry_GetCreatesAndReuses(t *testing.T) {
	r := NewRegistry(DefaultBreakerConfig())
	a := r.Get("host-a")
	b := r.Get("host-a")
	assert.Same(t, a, b)

	c := r.Get("host-b")
	assert.NotSame(t, a, c)
}
