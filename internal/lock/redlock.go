// Package lock provides a Redis-backed distributed lease used to
// coordinate scheduler replicas around a single job's fire window.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrNotAcquired is returned when a resource is already leased by another
// holder. Callers treat this as "skip silently", not a failure.
var ErrNotAcquired = errors.New("lock: resource already leased")

// ErrLostLease is returned by Extend/Release when the lease has expired or
// been claimed by a different holder since acquisition.
var ErrLostLease = errors.New("lock: lease no longer owned by this holder")

const releaseScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end`

const extendScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("expire", KEYS[1], ARGV[2])
else
	return 0
end`

// Leaser acquires time-bound distributed leases keyed by resource name.
type Leaser struct {
	client *redis.Client
}

func NewLeaser(client *redis.Client) *Leaser {
	return &Leaser{client: client}
}

// Lease is a held, renewable lock on one resource.
type Lease struct {
	client     *redis.Client
	resource   string
	token      string
	ttl        time.Duration
	acquiredAt time.Time
}

func (l *Lease) Resource() string       { return l.resource }
func (l *Lease) Elapsed() time.Duration { return time.Since(l.acquiredAt) }

// Acquire attempts a single SET NX EX against `lock:{resource}`. A failed
// acquisition (resource already held) returns ErrNotAcquired, not a wrapped
// infrastructure error — the caller is expected to skip this tick silently,
// per the scheduler's lease-contention contract.
func (lk *Leaser) Acquire(ctx context.Context, resource string, ttl time.Duration) (*Lease, error) {
	key := "lock:" + resource
	token := uuid.NewString()

	ok, err := lk.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lease %q: %w", resource, err)
	}
	if !ok {
		return nil, ErrNotAcquired
	}

	return &Lease{
		client:     lk.client,
		resource:   resource,
		token:      token,
		ttl:        ttl,
		acquiredAt: time.Now(),
	}, nil
}

// Extend resets the lease to expire ttl+additional from now (ttl being the
// lease's current TTL), but only if this holder still owns it. The
// scheduler does not call it.
func (l *Lease) Extend(ctx context.Context, additional time.Duration) error {
	newTTL := l.ttl + additional
	key := "lock:" + l.resource

	res, err := l.client.Eval(ctx, extendScript, []string{key}, l.token, int(newTTL.Seconds())).Result()
	if err != nil {
		return fmt.Errorf("extend lease %q: %w", l.resource, err)
	}
	if n, ok := res.(int64); !ok || n != 1 {
		return ErrLostLease
	}
	l.ttl = newTTL
	return nil
}

// Release deletes the lock key iff it still holds this lease's token — a
// compare-and-delete that prevents releasing a lease some other holder has
// since acquired after this one expired.
func (l *Lease) Release(ctx context.Context) error {
	key := "lock:" + l.resource
	res, err := l.client.Eval(ctx, releaseScript, []string{key}, l.token).Result()
	if err != nil {
		return fmt.Errorf("release lease %q: %w", l.resource, err)
	}
	if n, ok := res.(int64); !ok || n != 1 {
		return ErrLostLease
	}
	return nil
}
