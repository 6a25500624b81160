package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/similigh/triagebot/internal/core/config"
	"github.com/similigh/triagebot/internal/dispatch"
	"github.com/similigh/triagebot/internal/jobqueue"
	"github.com/similigh/triagebot/internal/logging"
	"github.com/similigh/triagebot/internal/rules"
	"github.com/similigh/triagebot/internal/server"
	"github.com/similigh/triagebot/internal/sweep"
	"github.com/similigh/triagebot/internal/webhook"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the webhook server and the stale sweep scheduler",
	Long: `Listens for GitHub webhooks on POST /webhook and runs the daily stale
sweep according to scheduler.mode:

  river  periodic job on the Postgres-backed queue (one replica runs it)
  local  in-process timer
  off    no scheduled sweeps; use "triagebot sweep" from cron instead`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runServe(ctx)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(ctx context.Context) error {
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	if a.cfg.GitHub.WebhookSecret == "" {
		a.logger.Warn().Msg("no webhook secret configured; every delivery will be rejected")
	}

	client, err := a.trackerClient(ctx)
	if err != nil {
		return err
	}

	d := dispatch.New(dispatch.Dependencies{
		Tracker: client,
		Matcher: rules.NewMatcher(a.rules, logging.Component(a.logger, "rules")),
		Ledger:  a.store,
		Clock:   a.clock,
		Logger:  logging.Component(a.logger, "dispatch"),
	})
	srv := server.New(server.Options{
		Addr:          a.cfg.Server.Addr,
		WebhookSecret: a.cfg.GitHub.WebhookSecret,
		MaxBodyBytes:  a.cfg.Server.MaxBodyBytes,
	}, d, webhook.NewDeliveryLog(webhook.DefaultDedupWindow), logging.Component(a.logger, "server"))

	engine := a.engine(client, false)
	schedule, err := a.schedule()
	if err != nil {
		return err
	}

	var jq *jobqueue.JobQueue
	if a.cfg.Scheduler.Mode == config.SchedulerRiver {
		if err := jobqueue.Migrate(ctx, a.pool); err != nil {
			return err
		}
		jq, err = jobqueue.New(a.pool, engine, schedule, a.cfg.Scheduler.Timeout, logging.Component(a.logger, "jobqueue"))
		if err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	switch a.cfg.Scheduler.Mode {
	case config.SchedulerRiver:
		if err := jq.Start(gctx); err != nil {
			return err
		}
		g.Go(func() error {
			<-gctx.Done()
			return jq.Stop(context.WithoutCancel(gctx))
		})
	case config.SchedulerLocal:
		sched := sweep.NewScheduler(engine, schedule, a.cfg.Scheduler.Timeout, logging.Component(a.logger, "scheduler"))
		g.Go(func() error { return sched.Run(gctx) })
	default:
		a.logger.Info().Msg("scheduled sweeps disabled")
	}

	g.Go(func() error { return srv.Run(gctx) })

	a.logger.Info().
		Str("addr", a.cfg.Server.Addr).
		Str("store", a.cfg.Store.Driver).
		Str("scheduler", a.cfg.Scheduler.Mode).
		Msg("triagebot started")

	return g.Wait()
}
