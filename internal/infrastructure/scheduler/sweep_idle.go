package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/guide-lms/guide-router/pkg/logger"
)

// IdleSweeper ends sessions without recent activity. sessions.Service
// implements it.
type IdleSweeper interface {
	SweepIdle(ctx context.Context, idle time.Duration) (int, error)
}

// SweepIdleSessionsJob deactivates sessions idle for longer than Idle.
type SweepIdleSessionsJob struct {
	sweeper IdleSweeper
	idle    time.Duration
	log     *logger.Logger
}

// NewSweepIdleSessionsJob creates the idle session sweep.
func NewSweepIdleSessionsJob(sweeper IdleSweeper, idle time.Duration, log *logger.Logger) *SweepIdleSessionsJob {
	if log == nil {
		log = logger.Nop()
	}
	return &SweepIdleSessionsJob{sweeper: sweeper, idle: idle, log: log}
}

// Name implements Job.
func (j *SweepIdleSessionsJob) Name() string { return "sweep_idle_sessions" }

// Description implements Job.
func (j *SweepIdleSessionsJob) Description() string {
	return fmt.Sprintf("Deactivate sessions idle for more than %s", j.idle)
}

// Run implements Job. Sessions that fail to deactivate are retried on the
// next run.
func (j *SweepIdleSessionsJob) Run(ctx context.Context) error {
	n, err := j.sweeper.SweepIdle(ctx, j.idle)
	if n > 0 {
		j.log.Info("idle sessions deactivated", logger.Int("count", n))
	}
	if err != nil {
		return fmt.Errorf("sweep idle sessions: %w", err)
	}
	return nil
}
