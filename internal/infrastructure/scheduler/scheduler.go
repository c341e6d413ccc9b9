// Package scheduler runs the router's periodic background jobs on cron
// schedules.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/guide-lms/guide-router/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// JOB INTERFACE
// ══════════════════════════════════════════════════════════════════════════════

// Job is a unit of periodic work.
type Job interface {
	// Name returns the unique name of the job.
	Name() string

	// Description returns a human-readable description of the job.
	Description() string

	// Run executes the job. ctx is cancelled when the scheduler stops or the
	// job timeout elapses.
	Run(ctx context.Context) error
}

// JobResult contains the result of a job execution.
type JobResult struct {
	JobName     string
	StartedAt   time.Time
	CompletedAt time.Time
	Duration    time.Duration
	Success     bool
	Error       error
}

// Scheduler errors.
var (
	ErrNilJob                  = errors.New("job cannot be nil")
	ErrJobAlreadyExists        = errors.New("job already exists")
	ErrJobNotFound             = errors.New("job not found")
	ErrSchedulerAlreadyRunning = errors.New("scheduler is already running")
	ErrSchedulerNotRunning     = errors.New("scheduler is not running")
)

// ══════════════════════════════════════════════════════════════════════════════
// SCHEDULER
// ══════════════════════════════════════════════════════════════════════════════

// Config contains configuration for the Scheduler.
type Config struct {
	Logger *logger.Logger

	// Location for cron expressions (default UTC).
	Location *time.Location

	// JobTimeout bounds one run of any job (0 = no limit).
	JobTimeout time.Duration
}

// Scheduler runs registered jobs on standard five-field cron specs or
// descriptors such as "@every 5m". A run is skipped while the previous run
// of the same job is still in progress.
type Scheduler struct {
	mu sync.RWMutex

	cron    *cron.Cron
	parser  cron.Parser
	log     *logger.Logger
	timeout time.Duration

	jobs     map[string]*scheduledJob
	lastRuns map[string]JobResult

	running bool
	ctx     context.Context
	cancel  context.CancelFunc

	onJobComplete func(JobResult)
}

type scheduledJob struct {
	job     Job
	spec    string
	entryID cron.EntryID
}

// New creates a Scheduler.
func New(cfg Config) *Scheduler {
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}

	log := cfg.Logger.With(logger.Component("scheduler"))
	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(cfg.Location),
			cron.WithChain(cron.SkipIfStillRunning(cronLogger{log})),
		),
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		log:      log,
		timeout:  cfg.JobTimeout,
		jobs:     make(map[string]*scheduledJob),
		lastRuns: make(map[string]JobResult),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Register schedules job on spec.
func (s *Scheduler) Register(job Job, spec string) error {
	if job == nil {
		return ErrNilJob
	}
	schedule, err := s.parser.Parse(spec)
	if err != nil {
		return fmt.Errorf("invalid schedule %q for job %s: %w", spec, job.Name(), err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	name := job.Name()
	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("%w: %s", ErrJobAlreadyExists, name)
	}

	id := s.cron.Schedule(schedule, cron.FuncJob(func() { s.runJob(s.ctx, job) }))
	s.jobs[name] = &scheduledJob{job: job, spec: spec, entryID: id}

	s.log.Info("job registered",
		logger.String("job", name),
		logger.String("description", job.Description()),
		logger.String("schedule", spec),
	)
	return nil
}

// OnJobComplete sets a callback run after every job execution.
func (s *Scheduler) OnJobComplete(fn func(JobResult)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onJobComplete = fn
}

// ══════════════════════════════════════════════════════════════════════════════
// LIFECYCLE
// ══════════════════════════════════════════════════════════════════════════════

// Start begins running jobs on their schedules.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrSchedulerAlreadyRunning
	}
	s.running = true
	s.cron.Start()
	s.log.Info("scheduler started", logger.Int("jobs_count", len(s.jobs)))
	return nil
}

// Stop cancels running jobs and waits for them to return, or for ctx to end.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return ErrSchedulerNotRunning
	}
	s.running = false
	s.mu.Unlock()

	s.cancel()
	select {
	case <-s.cron.Stop().Done():
		s.log.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsRunning returns true if the scheduler is running.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// ══════════════════════════════════════════════════════════════════════════════
// EXECUTION
// ══════════════════════════════════════════════════════════════════════════════

// RunNow executes a registered job immediately, ignoring its schedule.
func (s *Scheduler) RunNow(ctx context.Context, name string) (JobResult, error) {
	s.mu.RLock()
	sj, ok := s.jobs[name]
	s.mu.RUnlock()
	if !ok {
		return JobResult{}, fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}
	return s.runJob(ctx, sj.job), nil
}

// LastRun returns the result of the job's most recent run.
func (s *Scheduler) LastRun(name string) (JobResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.lastRuns[name]
	return r, ok
}

// NextRun returns when the job is next due. It is zero before Start.
func (s *Scheduler) NextRun(name string) (time.Time, error) {
	s.mu.RLock()
	sj, ok := s.jobs[name]
	s.mu.RUnlock()
	if !ok {
		return time.Time{}, fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}
	return s.cron.Entry(sj.entryID).Next, nil
}

func (s *Scheduler) runJob(ctx context.Context, job Job) JobResult {
	name := job.Name()
	log := s.log.With(logger.String("job", name))

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	result := JobResult{JobName: name, StartedAt: time.Now()}
	log.Debug("job started")

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("job panicked: %v", r)
			}
		}()
		return job.Run(ctx)
	}()

	result.CompletedAt = time.Now()
	result.Duration = result.CompletedAt.Sub(result.StartedAt)
	result.Success = err == nil
	result.Error = err

	if err != nil {
		log.Error("job failed", logger.Latency(result.Duration), logger.Err(err))
	} else {
		log.Debug("job completed", logger.Latency(result.Duration))
	}

	s.mu.Lock()
	s.lastRuns[name] = result
	hook := s.onJobComplete
	s.mu.Unlock()

	if hook != nil {
		hook(result)
	}
	return result
}

// cronLogger adapts the package logger to cron.Logger.
type cronLogger struct {
	log *logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug(msg, kvFields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error(msg, append(kvFields(keysAndValues), logger.Err(err))...)
}

func kvFields(kv []interface{}) []logger.Field {
	fields := make([]logger.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		fields = append(fields, logger.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return fields
}
