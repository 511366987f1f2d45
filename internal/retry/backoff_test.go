package retry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoff_DelayWithinJitterBounds(t *testing.T) {
	cfg := DefaultBackoffConfig()

	for attempt := 0; attempt < 5; attempt++ {
		raw := float64(cfg.Base) * pow3(attempt)
		base := minF(raw, float64(cfg.Cap))
		upper := time.Duration(base + cfg.Jitter*raw)

		d := cfg.Delay(attempt)
		assert.GreaterOrEqual(t, d, time.Duration(base))
		assert.LessOrEqual(t, d, upper)
	}
}

func TestBackoff_RespectsCapAtHighAttempts(t *testing.T) {
	cfg := DefaultBackoffConfig()
	d := cfg.Delay(20)
	// The capped part is exactly Cap; the jitter span stays a fraction of the
	// uncapped base*3^N.
	assert.GreaterOrEqual(t, d, cfg.Cap)
	assert.LessOrEqual(t, d, cfg.Cap+time.Duration(cfg.Jitter*float64(cfg.Base)*pow3(20)))
}

func TestNonRetryable(t *testing.T) {
	assert.True(t, NonRetryable(ErrorStepAuth))
	assert.True(t, NonRetryable(ErrorValidation))
	assert.False(t, NonRetryable(ErrorStep))
	assert.True(t, NonRetryable(ErrorExecTimeout))
}

func pow3(n int) float64 {
	v := 1.0
	for i := 0; i < n; i++ {
		v *= 3
	}
	return v
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
