package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/similigh/triagebot/internal/jobqueue"
	"github.com/similigh/triagebot/internal/logging"
	"github.com/similigh/triagebot/internal/sweep"
	"github.com/similigh/triagebot/internal/tui"
)

var (
	sweepDryRun  bool
	sweepEnqueue bool
)

// sweepCmd represents the sweep command
var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run the stale sweep once",
	Long: `Marks inactive issues stale and closes stale issues whose grace period
has expired. The same locks as the scheduled sweep apply, so a sweep already
running elsewhere makes this command exit with an error.

Usage:
  triagebot sweep [--dry-run] [--config path]
  triagebot sweep --enqueue     queue the sweep on River instead of running it here`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runSweep(ctx)
	},
}

func init() {
	rootCmd.AddCommand(sweepCmd)

	sweepCmd.Flags().BoolVar(&sweepDryRun, "dry-run", false, "Report what would change without writing")
	sweepCmd.Flags().BoolVar(&sweepEnqueue, "enqueue", false, "Queue the sweep on the job queue (requires postgres)")
}

func runSweep(ctx context.Context) error {
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	if sweepEnqueue {
		return enqueueSweep(ctx, a)
	}

	client, err := a.trackerClient(ctx)
	if err != nil {
		return err
	}

	if a.cfg.Scheduler.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.cfg.Scheduler.Timeout)
		defer cancel()
	}

	report, err := a.engine(client, sweepDryRun).Run(ctx)
	if errors.Is(err, sweep.ErrAlreadyRunning) {
		return fmt.Errorf("another stale sweep is running")
	}
	if err != nil {
		return err
	}

	fmt.Println(tui.ReportSummary(report))

	resultBytes, err := json.MarshalIndent(report, "", "  ")
	if err == nil {
		fmt.Println("\n=== Detailed Result ===")
		fmt.Println(string(resultBytes))
	}

	if len(report.Errors) > 0 {
		return fmt.Errorf("%d issue(s) failed", len(report.Errors))
	}
	return nil
}

func enqueueSweep(ctx context.Context, a *app) error {
	if a.pool == nil {
		return fmt.Errorf("--enqueue requires a postgres database")
	}
	if err := jobqueue.Migrate(ctx, a.pool); err != nil {
		return err
	}

	schedule, err := a.schedule()
	if err != nil {
		return err
	}

	// Insert-only client; the periodic job never fires because Start is not called.
	jq, err := jobqueue.New(a.pool, a.engine(nil, false), schedule, a.cfg.Scheduler.Timeout, logging.Component(a.logger, "jobqueue"))
	if err != nil {
		return err
	}

	inserted, err := jq.EnqueueSweep(ctx, sweepDryRun || a.cfg.Stale.DryRun)
	if err != nil {
		return err
	}
	if !inserted {
		fmt.Println("A stale sweep was already queued within the last hour.")
		return nil
	}
	if sweepDryRun {
		fmt.Println("Stale sweep queued as a dry run.")
		return nil
	}
	fmt.Println("Stale sweep queued.")
	return nil
}
