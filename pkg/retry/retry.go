// Package retry re-runs transient operations with capped exponential backoff.
package retry

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// PermanentError stops a retry loop. Do returns the wrapped error.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *PermanentError
	return errors.As(err, &p)
}

// Policy describes how often and how long to retry.
type Policy struct {
	// Attempts counts the first call. Values below 1 mean 1.
	Attempts int

	// BaseDelay precedes the first retry and doubles for each one after.
	BaseDelay time.Duration

	// MaxDelay caps a single wait (0 = uncapped).
	MaxDelay time.Duration

	// Jitter spreads each wait by up to this fraction in either direction.
	Jitter float64

	// OnRetry runs before each wait.
	OnRetry func(attempt int, err error, wait time.Duration)
}

// Do calls op until it succeeds, returns a permanent error, runs out of
// attempts, or ctx ends. The last error is returned unwrapped.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	attempts := max(p.Attempts, 1)

	var last error
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			if last != nil {
				return last
			}
			return err
		}

		err := op(ctx)
		if err == nil {
			return nil
		}
		var perm *PermanentError
		if errors.As(err, &perm) {
			return perm.Err
		}
		last = err
		if attempt >= attempts {
			return last
		}

		wait := p.delay(attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt, err, wait)
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return last
		case <-t.C:
		}
	}
}

func (p Policy) delay(attempt int) time.Duration {
	d := p.BaseDelay
	for i := 1; i < attempt && (p.MaxDelay == 0 || d < p.MaxDelay); i++ {
		if d > time.Duration(1<<62) {
			break
		}
		d *= 2
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	if p.Jitter > 0 {
		d += time.Duration(float64(d) * p.Jitter * (rand.Float64()*2 - 1))
	}
	return max(d, 0)
}

// Value is Do for operations that produce a result.
func Value[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := p.Do(ctx, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// Startup is the policy for reaching backing services while the process
// boots.
func Startup() Policy {
	return Policy{Attempts: 5, BaseDelay: 200 * time.Millisecond, MaxDelay: 5 * time.Second, Jitter: 0.05}
}
