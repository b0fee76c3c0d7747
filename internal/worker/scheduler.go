package worker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Scheduler runs single-pass jobs such as the dispatcher on cron schedules.
// A run still in progress when its next tick fires is skipped.
type Scheduler struct {
	cron   *cron.Cron
	logger *slog.Logger
	jobs   int
}

func NewScheduler(logger *slog.Logger) *Scheduler {
	logger = logger.With("component", "scheduler")
	cl := cronLogger{logger: logger}
	return &Scheduler{
		cron: cron.New(cron.WithChain(
			cron.Recover(cl),
			cron.SkipIfStillRunning(cl),
		)),
		logger: logger,
	}
}

// Add registers job under schedule, a standard five-field cron expression or a
// descriptor such as "@every 1m". An empty schedule leaves the job unscheduled.
func (s *Scheduler) Add(ctx context.Context, name, schedule string, job func(context.Context) error) error {
	if schedule == "" {
		return nil
	}

	_, err := s.cron.AddFunc(schedule, func() {
		if err := job(ctx); err != nil {
			s.logger.Error("scheduled job failed", "job", name, "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("scheduling %s (%q): %w", name, schedule, err)
	}

	s.jobs++
	s.logger.Info("job scheduled", "job", name, "schedule", schedule)
	return nil
}

// Jobs returns how many jobs are scheduled.
func (s *Scheduler) Jobs() int {
	return s.jobs
}

// Start runs the schedule until ctx is cancelled, then waits for running jobs.
func (s *Scheduler) Start(ctx context.Context) {
	s.cron.Start()
	s.logger.Info("scheduler started", "jobs", s.jobs)

	<-ctx.Done()

	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
}

// cronLogger routes cron's internal logging to slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}
