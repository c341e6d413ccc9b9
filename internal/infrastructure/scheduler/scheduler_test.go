package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSweeper struct {
	mu    sync.Mutex
	calls []time.Duration
	n     int
	err   error
}

func (f *fakeSweeper) SweepIdle(_ context.Context, idle time.Duration) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, idle)
	return f.n, f.err
}

func (f *fakeSweeper) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type funcJob struct {
	name string
	run  func(ctx context.Context) error
}

func (j funcJob) Name() string                  { return j.name }
func (j funcJob) Description() string           { return "test job" }
func (j funcJob) Run(ctx context.Context) error { return j.run(ctx) }

func TestRegister_Validation(t *testing.T) {
	s := New(Config{})
	job := NewSweepIdleSessionsJob(&fakeSweeper{}, time.Hour, nil)

	assert.ErrorIs(t, s.Register(nil, "@every 1m"), ErrNilJob)
	assert.Error(t, s.Register(job, "not a schedule"))

	require.NoError(t, s.Register(job, "*/5 * * * *"))
	assert.ErrorIs(t, s.Register(job, "@every 1m"), ErrJobAlreadyExists)
}

func TestRunNow_SweepIdle(t *testing.T) {
	sweeper := &fakeSweeper{n: 3}
	s := New(Config{})
	require.NoError(t, s.Register(NewSweepIdleSessionsJob(sweeper, 2*time.Hour, nil), "@every 5m"))

	var completed []JobResult
	s.OnJobComplete(func(r JobResult) { completed = append(completed, r) })

	result, err := s.RunNow(context.Background(), "sweep_idle_sessions")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, []time.Duration{2 * time.Hour}, sweeper.calls)
	require.Len(t, completed, 1)

	last, ok := s.LastRun("sweep_idle_sessions")
	require.True(t, ok)
	assert.True(t, last.Success)

	_, err = s.RunNow(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestRunNow_Failure(t *testing.T) {
	sweeper := &fakeSweeper{n: 1, err: errors.New("save failed")}
	s := New(Config{})
	require.NoError(t, s.Register(NewSweepIdleSessionsJob(sweeper, time.Hour, nil), "@every 5m"))

	result, err := s.RunNow(context.Background(), "sweep_idle_sessions")
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.ErrorContains(t, result.Error, "save failed")
}

func TestRunNow_RecoversPanic(t *testing.T) {
	s := New(Config{})
	require.NoError(t, s.Register(funcJob{name: "boom", run: func(context.Context) error { panic("boom") }}, "@every 1h"))

	result, err := s.RunNow(context.Background(), "boom")
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.ErrorContains(t, result.Error, "panicked")
}

func TestJobTimeout(t *testing.T) {
	s := New(Config{JobTimeout: 10 * time.Millisecond})
	require.NoError(t, s.Register(funcJob{name: "slow", run: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}}, "@every 1h"))

	result, err := s.RunNow(context.Background(), "slow")
	require.NoError(t, err)
	assert.ErrorIs(t, result.Error, context.DeadlineExceeded)
}

func TestStartStop(t *testing.T) {
	sweeper := &fakeSweeper{}
	s := New(Config{})
	require.NoError(t, s.Register(NewSweepIdleSessionsJob(sweeper, time.Minute, nil), "@every 1s"))

	require.NoError(t, s.Start())
	assert.ErrorIs(t, s.Start(), ErrSchedulerAlreadyRunning)
	assert.True(t, s.IsRunning())

	next, err := s.NextRun("sweep_idle_sessions")
	require.NoError(t, err)
	assert.False(t, next.IsZero())

	require.Eventually(t, func() bool { return sweeper.callCount() > 0 }, 3*time.Second, 50*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	assert.ErrorIs(t, s.Stop(ctx), ErrSchedulerNotRunning)
}
