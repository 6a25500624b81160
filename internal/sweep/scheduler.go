package sweep

import (
	"context"
	"errors"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Runner runs one sweep, either for real or as a dry run.
type Runner interface {
	Run(ctx context.Context) (*Report, error)
	DryRun(ctx context.Context) (*Report, error)
}

// Scheduler triggers sweeps in-process. It is used when no job queue is
// configured; only one process should run it.
type Scheduler struct {
	runner   Runner
	schedule cron.Schedule
	timeout  time.Duration
	logger   zerolog.Logger
}

// NewScheduler creates a scheduler. A zero timeout means no per-run limit.
func NewScheduler(runner Runner, schedule cron.Schedule, timeout time.Duration, logger zerolog.Logger) *Scheduler {
	return &Scheduler{runner: runner, schedule: schedule, timeout: timeout, logger: logger}
}

// Run blocks until ctx is cancelled, running a sweep at each scheduled time.
// A run still in flight when the next one is due causes that one to be skipped.
func (s *Scheduler) Run(ctx context.Context) error {
	logger := cronLogger{s.logger}
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	c.Schedule(s.schedule, cron.FuncJob(func() { s.runOnce(ctx) }))

	c.Start()
	s.logger.Info().Time("next_run", s.schedule.Next(time.Now())).Msg("stale sweep scheduled")

	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

func (s *Scheduler) runOnce(ctx context.Context) {
	runCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	report, err := s.runner.Run(runCtx)
	switch {
	case errors.Is(err, ErrAlreadyRunning):
		s.logger.Warn().Msg("previous stale sweep still running, skipping")
	case err != nil:
		s.logger.Error().Err(err).Msg("stale sweep failed")
	default:
		s.logger.Info().
			Str("run_id", report.RunID).
			Int("errors", len(report.Errors)).
			Time("next_run", s.schedule.Next(time.Now())).
			Msg("scheduled stale sweep finished")
	}
}

// cronLogger routes cron's own logging into zerolog.
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg("cron: " + msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg("cron: " + msg)
}
