package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/similigh/triagebot/internal/core/config"
	"github.com/similigh/triagebot/internal/core/ledger"
	"github.com/similigh/triagebot/internal/integrations/github"
	"github.com/similigh/triagebot/internal/logging"
	"github.com/similigh/triagebot/internal/rules"
	"github.com/similigh/triagebot/internal/sweep"
)

// app holds the collaborators shared by every subcommand.
type app struct {
	cfg    *config.Config
	logger zerolog.Logger
	clock  clockwork.Clock
	pool   *pgxpool.Pool
	store  ledger.Store
	locker ledger.Locker
	rules  *rules.FileStore
}

// loadConfig resolves the config path and loads it.
func loadConfig() (*config.Config, error) {
	path := config.FindConfigPath(cfgFile)
	if cfgFile != "" && path == "" {
		return nil, fmt.Errorf("config file %s not found", cfgFile)
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if verbose {
		cfg.Log.Level = "debug"
	}
	return cfg, nil
}

// newApp loads config and opens the ledger. Callers must call close.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger := logging.New(logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: os.Stderr})
	a := &app{
		cfg:    cfg,
		logger: logger,
		clock:  clockwork.NewRealClock(),
		rules:  rules.NewFileStore(cfg.Rules.Path),
	}

	switch cfg.Store.Driver {
	case config.DriverPostgres:
		pool, err := pgxpool.New(ctx, cfg.Database.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to create connection pool: %w", err)
		}
		store := ledger.NewPostgresStore(pool)
		if err := store.Migrate(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		a.pool, a.store, a.locker = pool, store, store
	default:
		logger.Warn().Msg("using in-memory ledger; tracked issues are lost on restart")
		store := ledger.NewMemoryStore()
		a.store, a.locker = store, store
	}

	return a, nil
}

func (a *app) close() {
	if a.pool != nil {
		a.pool.Close()
	}
}

// trackerClient builds the GitHub client from config.
func (a *app) trackerClient(ctx context.Context) (*github.Client, error) {
	if a.cfg.GitHub.Token == "" {
		a.logger.Warn().Msg("no GitHub token configured; API calls will be unauthenticated")
	}
	retry := github.DefaultRetryConfig()
	if a.cfg.GitHub.MaxRetries > 0 {
		retry.MaxRetries = a.cfg.GitHub.MaxRetries
	}
	return github.NewClient(ctx, a.cfg.GitHub.Token, github.Options{
		BaseURL:           a.cfg.GitHub.BaseURL,
		RequestsPerSecond: a.cfg.GitHub.RequestsPerSecond,
		Retry:             retry,
	})
}

// engine builds a sweep engine. dryRun ORs with the configured flag.
func (a *app) engine(client *github.Client, dryRun bool) *sweep.Engine {
	return sweep.NewEngine(sweep.Dependencies{
		Tracker: client,
		Store:   a.store,
		Locker:  a.locker,
		Clock:   a.clock,
		Logger:  logging.Component(a.logger, "sweep"),
	}, sweep.Options{
		StaleDays:   a.cfg.Stale.Days,
		CloseDays:   a.cfg.Stale.CloseDays,
		StaleLabel:  a.cfg.Stale.Label,
		ExemptLabel: a.cfg.Stale.ExemptLabel,
		DryRun:      dryRun || a.cfg.Stale.DryRun,
	})
}

func (a *app) schedule() (cron.Schedule, error) {
	return sweep.DailySchedule(a.cfg.Scheduler.Hour)
}
