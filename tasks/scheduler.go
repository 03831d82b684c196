package tasks

import (
	"context"
	"time"

	"github.com/graphserve-ai/graphserve/log"
)

// DefaultPollInterval is how often the scheduler checks for due
// schedules.
const DefaultPollInterval = 10 * time.Second

// Scheduler polls the schedule store and executes due tasks through
// the runner.
type Scheduler struct {
	store    *ScheduleStore
	runner   *Runner
	interval time.Duration
	logger   log.Logger
}

// SchedulerOptions configures a Scheduler.
type SchedulerOptions struct {
	// PollInterval defaults to DefaultPollInterval.
	PollInterval time.Duration
	Logger       log.Logger
}

// NewScheduler creates a scheduler over the store and runner.
func NewScheduler(store *ScheduleStore, runner *Runner, opts SchedulerOptions) *Scheduler {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Logger == nil {
		opts.Logger = log.GetDefaultLogger()
	}
	return &Scheduler{store: store, runner: runner, interval: opts.PollInterval, logger: opts.Logger}
}

// Run polls for due schedules until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			s.runDue(ctx, now)
		}
	}
}

// runDue executes every schedule due at the given time. The next run
// time is advanced before executing so a failing task cannot hot-loop.
func (s *Scheduler) runDue(ctx context.Context, now time.Time) {
	due, err := s.store.Due(ctx, now)
	if err != nil {
		s.logger.Error("failed to load due schedules: %v", err)
		return
	}

	for _, schedule := range due {
		if err := s.store.MarkRun(ctx, schedule.ID, now); err != nil {
			s.logger.Error("failed to advance schedule %s: %v", schedule.ID, err)
			continue
		}
		if _, err := s.runner.Execute(ctx, schedule.Task); err != nil {
			s.logger.Error("scheduled graph %s failed: %v", schedule.Task.GraphName, err)
			continue
		}
		s.logger.Info("scheduled graph %s executed", schedule.Task.GraphName)
	}
}
