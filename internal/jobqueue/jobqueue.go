// Package jobqueue runs the stale sweep as a River periodic job so that
// exactly one replica executes each daily run.
package jobqueue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/rs/zerolog"

	"github.com/similigh/triagebot/internal/sweep"
)

// Trigger values recorded on each job.
const (
	TriggerSchedule = "schedule"
	TriggerManual   = "manual"
)

// SweepArgs are the arguments of a stale sweep job.
type SweepArgs struct {
	Trigger string `json:"trigger"`
	DryRun  bool   `json:"dry_run,omitempty"`
}

// Kind returns the job kind for River
func (SweepArgs) Kind() string {
	return "stale_sweep"
}

// InsertOpts limits retries and collapses duplicate inserts within an hour.
func (SweepArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		MaxAttempts: 3,
		UniqueOpts: river.UniqueOpts{
			ByPeriod: time.Hour,
		},
	}
}

// SweepWorker executes stale sweep jobs.
type SweepWorker struct {
	river.WorkerDefaults[SweepArgs]
	runner  sweep.Runner
	timeout time.Duration
	logger  zerolog.Logger
}

// NewSweepWorker creates a worker around runner.
func NewSweepWorker(runner sweep.Runner, timeout time.Duration, logger zerolog.Logger) *SweepWorker {
	return &SweepWorker{runner: runner, timeout: timeout, logger: logger}
}

// Timeout bounds a single sweep. Zero falls back to River's default.
func (w *SweepWorker) Timeout(*river.Job[SweepArgs]) time.Duration {
	return w.timeout
}

// Work runs one sweep, as a dry run when the job asks for one. A sweep
// already in flight elsewhere is not a failure.
func (w *SweepWorker) Work(ctx context.Context, job *river.Job[SweepArgs]) error {
	run := w.runner.Run
	if job.Args.DryRun {
		run = w.runner.DryRun
	}
	report, err := run(ctx)
	if errors.Is(err, sweep.ErrAlreadyRunning) {
		w.logger.Warn().Str("trigger", job.Args.Trigger).Msg("stale sweep already running, skipping job")
		return nil
	}
	if err != nil {
		return fmt.Errorf("stale sweep failed: %w", err)
	}

	w.logger.Info().
		Str("trigger", job.Args.Trigger).
		Str("run_id", report.RunID).
		Bool("dry_run", report.DryRun).
		Int("staled", report.Staled).
		Int("closed", report.Closed).
		Int("errors", len(report.Errors)).
		Msg("stale sweep job finished")
	return nil
}

// JobQueue manages the River client.
type JobQueue struct {
	client *river.Client[pgx.Tx]
	pool   *pgxpool.Pool
}

// New creates a job queue on pool. The sweep is registered as a periodic
// job on schedule.
func New(pool *pgxpool.Pool, runner sweep.Runner, schedule river.PeriodicSchedule, timeout time.Duration, logger zerolog.Logger) (*JobQueue, error) {
	workers := river.NewWorkers()
	river.AddWorker(workers, NewSweepWorker(runner, timeout, logger))

	periodic := river.NewPeriodicJob(
		schedule,
		func() (river.JobArgs, *river.InsertOpts) {
			return SweepArgs{Trigger: TriggerSchedule}, nil
		},
		&river.PeriodicJobOpts{RunOnStart: false},
	)

	client, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: 1},
		},
		Workers:      workers,
		PeriodicJobs: []*river.PeriodicJob{periodic},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create River client: %w", err)
	}

	return &JobQueue{client: client, pool: pool}, nil
}

// Migrate applies River's schema migrations.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		return fmt.Errorf("failed to create River migrator: %w", err)
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		return fmt.Errorf("failed to apply River migrations: %w", err)
	}
	return nil
}

// Start starts the job queue workers
func (jq *JobQueue) Start(ctx context.Context) error {
	return jq.client.Start(ctx)
}

// Stop stops the job queue workers
func (jq *JobQueue) Stop(ctx context.Context) error {
	return jq.client.Stop(ctx)
}

// EnqueueSweep queues a manual sweep. It reports false when an equivalent
// job was inserted within the uniqueness window.
func (jq *JobQueue) EnqueueSweep(ctx context.Context, dryRun bool) (bool, error) {
	res, err := jq.client.Insert(ctx, SweepArgs{Trigger: TriggerManual, DryRun: dryRun}, nil)
	if err != nil {
		return false, fmt.Errorf("failed to queue stale sweep job: %w", err)
	}
	return !res.UniqueSkippedAsDuplicate, nil
}
