// Package ratelimit enforces per-webhook request quotas using a Redis
// atomic counter with expiry — one INCR per window, first caller in the
// window sets the TTL.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type Limiter struct {
	client *redis.Client
}

func NewLimiter(client *redis.Client) *Limiter {
	return &Limiter{client: client}
}

// Allow increments the counter for key within window and reports whether
// the caller is still under max. The window resets on the first request
// after the previous one expired — a fixed window, not sliding, which
// matches the cache service's atomic-counter-with-expiry contract.
func (l *Limiter) Allow(ctx context.Context, key string, max int, window time.Duration) (bool, error) {
	count, err := l.client.Eval(ctx,
		`local n = redis.call("INCR", KEYS[1]) if n == 1 then redis.call("PEXPIRE", KEYS[1], ARGV[1]) end return n`,
		[]string{key}, window.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("incr rate limit counter: %w", err)
	}
	return count <= int64(max), nil
}
