package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPolicy_RetriesUntilSuccess(t *testing.T) {
	calls := 0
	var waits []int
	p := Policy{Attempts: 3, BaseDelay: time.Millisecond, OnRetry: func(attempt int, _ error, _ time.Duration) {
		waits = append(waits, attempt)
	}}

	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("503")
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{1, 2}, waits)
}

func TestPolicy_StopsOnPermanentError(t *testing.T) {
	notFound := errors.New("404")
	calls := 0
	err := Policy{Attempts: 5, BaseDelay: time.Millisecond}.Do(context.Background(), func(context.Context) error {
		calls++
		return Permanent(notFound)
	})

	assert.Equal(t, notFound, err)
	assert.False(t, IsPermanent(err))
	assert.Equal(t, 1, calls)
}

func TestPolicy_ReturnsLastError(t *testing.T) {
	cause := errors.New("timeout")
	calls := 0
	err := Policy{Attempts: 2, BaseDelay: time.Millisecond}.Do(context.Background(), func(context.Context) error {
		calls++
		return cause
	})

	assert.Equal(t, cause, err)
	assert.Equal(t, 2, calls)
}

func TestPolicy_ZeroAttemptsRunsOnce(t *testing.T) {
	calls := 0
	_ = Policy{}.Do(context.Background(), func(context.Context) error {
		calls++
		return errors.New("x")
	})
	assert.Equal(t, 1, calls)
}

func TestPolicy_Delay(t *testing.T) {
	p := Policy{BaseDelay: 100 * time.Millisecond, MaxDelay: 300 * time.Millisecond}
	assert.Equal(t, 100*time.Millisecond, p.delay(1))
	assert.Equal(t, 200*time.Millisecond, p.delay(2))
	assert.Equal(t, 300*time.Millisecond, p.delay(3))
	assert.Equal(t, 300*time.Millisecond, p.delay(60))
}

func TestValue(t *testing.T) {
	v, err := Value(context.Background(), Policy{}, func(context.Context) (string, error) {
		return "ok", nil
	})
	assert.NoError(t, err)
	assert.Equal(t, "ok", v)
}

func TestPolicy_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Policy{Attempts: 3}.Do(ctx, func(context.Context) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}
