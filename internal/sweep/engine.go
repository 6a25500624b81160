// Package sweep implements the periodic stale sweep: issues with no
// activity are labeled and warned, and issues that stay inactive through
// the grace period are closed.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/similigh/triagebot/internal/core/ledger"
	"github.com/similigh/triagebot/internal/core/tracker"
)

// ErrAlreadyRunning is returned when another sweep holds the run guard.
var ErrAlreadyRunning = errors.New("stale sweep already running")

// LockName is the advisory lock that serialises sweeps across processes.
const LockName = "triagebot:stale_sweep"

const day = 24 * time.Hour

// CloseComment is posted before an inactive issue is closed.
const CloseComment = "This issue has been automatically closed due to inactivity. " +
	"If you believe this issue is still relevant, please reopen it or create a new issue with updated information."

// Options configures thresholds and labels.
type Options struct {
	StaleDays   int
	CloseDays   int
	StaleLabel  string
	ExemptLabel string
	DryRun      bool
}

func (o *Options) applyDefaults() {
	if o.StaleDays <= 0 {
		o.StaleDays = 14
	}
	if o.CloseDays <= 0 {
		o.CloseDays = 7
	}
	if o.StaleLabel == "" {
		o.StaleLabel = "stale"
	}
	if o.ExemptLabel == "" {
		o.ExemptLabel = "pinned"
	}
}

// StaleComment is the warning posted when an issue is marked stale.
func (o Options) StaleComment() string {
	return fmt.Sprintf("This issue has been automatically marked as stale because it has not had recent activity for %d days.\n\n"+
		"It will be closed in %d days if no further activity occurs. To keep this issue open:\n"+
		"- Add a comment explaining why this issue should remain open\n"+
		"- Remove the `%s` label\n"+
		"- Add the `%s` label to prevent future stale marking\n\n"+
		"Thank you for your contributions!",
		o.StaleDays, o.CloseDays, o.StaleLabel, o.ExemptLabel)
}

// Report summarises one sweep.
type Report struct {
	RunID      string    `json:"run_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	DryRun     bool      `json:"dry_run,omitempty"`
	Staled     int       `json:"staled"`
	Untracked  int       `json:"untracked"`
	Closed     int       `json:"closed"`
	Released   int       `json:"released"`
	Skipped    int       `json:"skipped"`
	Errors     []string  `json:"errors,omitempty"`
	Details    []Detail  `json:"details,omitempty"`
}

// Detail records the outcome for a single issue.
type Detail struct {
	Repository string `json:"repository"`
	Number     int    `json:"number"`
	Phase      int    `json:"phase"`
	Action     string `json:"action"` // "staled", "untracked", "closed", "released", "skipped", "error"
	Reason     string `json:"reason,omitempty"`
}

// Detail actions.
const (
	ActionStaled    = "staled"
	ActionUntracked = "untracked"
	ActionClosed    = "closed"
	ActionReleased  = "released"
	ActionSkipped   = "skipped"
	ActionError     = "error"
)

func (r *Report) add(rec ledger.Record, phase int, action, reason string) {
	r.Details = append(r.Details, Detail{
		Repository: rec.Repository,
		Number:     rec.IssueNumber,
		Phase:      phase,
		Action:     action,
		Reason:     reason,
	})
	switch action {
	case ActionStaled:
		r.Staled++
	case ActionUntracked:
		r.Untracked++
	case ActionClosed:
		r.Closed++
	case ActionReleased:
		r.Released++
	case ActionSkipped:
		r.Skipped++
	case ActionError:
		r.Errors = append(r.Errors, fmt.Sprintf("%s: %s", rec.Key(), reason))
	}
}

// Engine runs sweeps against the ledger and the tracker.
type Engine struct {
	tracker tracker.Client
	store   ledger.Store
	locker  ledger.Locker
	clock   clockwork.Clock
	logger  zerolog.Logger
	opts    Options

	running sync.Mutex
}

// Dependencies holds the collaborators injected into the engine. Locker may
// be nil, in which case only the in-process guard applies.
type Dependencies struct {
	Tracker tracker.Client
	Store   ledger.Store
	Locker  ledger.Locker
	Clock   clockwork.Clock
	Logger  zerolog.Logger
}

// NewEngine creates an engine.
func NewEngine(deps Dependencies, opts Options) *Engine {
	opts.applyDefaults()
	clk := deps.Clock
	if clk == nil {
		clk = clockwork.NewRealClock()
	}
	return &Engine{
		tracker: deps.Tracker,
		store:   deps.Store,
		locker:  deps.Locker,
		clock:   clk,
		logger:  deps.Logger,
		opts:    opts,
	}
}

// Options returns the effective options.
func (e *Engine) Options() Options { return e.opts }

// Run executes one sweep. It returns ErrAlreadyRunning if a sweep is in
// flight in this process or, when a Locker is configured, in any process.
// Per-record failures are reported in the Report, not as an error.
func (e *Engine) Run(ctx context.Context) (*Report, error) {
	return e.run(ctx, e.opts.DryRun)
}

// DryRun executes one sweep that reports what it would do without touching
// the tracker or the ledger, whatever Options.DryRun says.
func (e *Engine) DryRun(ctx context.Context) (*Report, error) {
	return e.run(ctx, true)
}

func (e *Engine) run(ctx context.Context, dryRun bool) (*Report, error) {
	if !e.running.TryLock() {
		return nil, ErrAlreadyRunning
	}
	defer e.running.Unlock()

	if e.locker != nil {
		release, acquired, err := e.locker.TryLock(ctx, LockName)
		if err != nil {
			return nil, fmt.Errorf("failed to acquire sweep lock: %w", err)
		}
		if !acquired {
			return nil, ErrAlreadyRunning
		}
		defer release()
	}

	now := e.clock.Now()
	report := &Report{RunID: uuid.NewString(), StartedAt: now, DryRun: dryRun}
	logger := e.logger.With().Str("run_id", report.RunID).Logger()

	staleCutoff := now.Add(-time.Duration(e.opts.StaleDays) * day)
	closeCutoff := now.Add(-time.Duration(e.opts.StaleDays+e.opts.CloseDays) * day)

	// Phase 2 candidates are read before phase 1 so that nothing staled in
	// this run can be closed in this run.
	closeCandidates, err := e.store.ListInactive(ctx, closeCutoff, true)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale records: %w", err)
	}
	staleCandidates, err := e.store.ListInactive(ctx, staleCutoff, false)
	if err != nil {
		return nil, fmt.Errorf("failed to list inactive records: %w", err)
	}

	logger.Info().
		Int("stale_candidates", len(staleCandidates)).
		Int("close_candidates", len(closeCandidates)).
		Time("stale_cutoff", staleCutoff).
		Time("close_cutoff", closeCutoff).
		Bool("dry_run", dryRun).
		Msg("starting stale sweep")

	for _, rec := range staleCandidates {
		e.staleOne(ctx, logger, report, rec, dryRun)
	}
	for _, rec := range closeCandidates {
		e.closeOne(ctx, logger, report, rec, dryRun)
	}

	report.FinishedAt = e.clock.Now()
	logger.Info().
		Int("staled", report.Staled).
		Int("untracked", report.Untracked).
		Int("closed", report.Closed).
		Int("released", report.Released).
		Int("skipped", report.Skipped).
		Int("errors", len(report.Errors)).
		Msg("stale sweep completed")

	return report, nil
}

// unchanged re-reads rec and reports whether it still matches the snapshot.
func (e *Engine) unchanged(ctx context.Context, rec ledger.Record) (bool, error) {
	current, err := e.store.Find(ctx, rec.Repository, rec.IssueNumber)
	if errors.Is(err, ledger.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return current.IsStale == rec.IsStale && current.LastActivity.Equal(rec.LastActivity), nil
}

// staleOne handles one phase-1 record.
func (e *Engine) staleOne(ctx context.Context, logger zerolog.Logger, report *Report, rec ledger.Record, dryRun bool) {
	logger = logger.With().Str("repo", rec.Repository).Int("issue", rec.IssueNumber).Int("phase", 1).Logger()
	fail := func(reason string, err error) {
		logger.Error().Err(err).Msg(reason)
		report.add(rec, 1, ActionError, fmt.Sprintf("%s: %v", reason, err))
	}

	issue, err := e.tracker.GetIssue(ctx, rec.Repository, rec.IssueNumber)
	if err != nil {
		fail("failed to fetch issue", err)
		return
	}

	if !issue.IsOpen() {
		if dryRun {
			report.add(rec, 1, ActionUntracked, "DRY RUN: issue closed externally, would stop tracking")
			return
		}
		if err := e.store.Delete(ctx, rec.Repository, rec.IssueNumber); err != nil {
			fail("failed to delete record", err)
			return
		}
		logger.Info().Msg("issue closed externally, stopped tracking")
		report.add(rec, 1, ActionUntracked, "issue closed externally")
		return
	}

	ok, err := e.unchanged(ctx, rec)
	if err != nil {
		fail("failed to re-read record", err)
		return
	}
	if !ok {
		logger.Warn().Msg("activity arrived during sweep, not staling")
		report.add(rec, 1, ActionSkipped, "activity arrived during sweep")
		return
	}

	if dryRun {
		report.add(rec, 1, ActionStaled, "DRY RUN: would label, comment, and mark stale")
		return
	}

	if err := e.tracker.AddLabels(ctx, rec.Repository, rec.IssueNumber, []string{e.opts.StaleLabel}); err != nil {
		fail("failed to add stale label", err)
		return
	}
	if err := e.tracker.CreateComment(ctx, rec.Repository, rec.IssueNumber, e.opts.StaleComment()); err != nil {
		fail("failed to post stale warning", err)
		return
	}

	marked, err := e.store.MarkStale(ctx, rec.Repository, rec.IssueNumber, rec.LastActivity)
	if err != nil {
		fail("failed to mark record stale", err)
		return
	}
	if !marked {
		logger.Warn().Msg("activity arrived while staling, record left active")
		report.add(rec, 1, ActionSkipped, "activity arrived while staling")
		return
	}

	logger.Info().Msg("marked issue stale")
	report.add(rec, 1, ActionStaled, fmt.Sprintf("inactive for more than %d days", e.opts.StaleDays))
}

// closeOne handles one phase-2 record.
func (e *Engine) closeOne(ctx context.Context, logger zerolog.Logger, report *Report, rec ledger.Record, dryRun bool) {
	logger = logger.With().Str("repo", rec.Repository).Int("issue", rec.IssueNumber).Int("phase", 2).Logger()
	fail := func(reason string, err error) {
		logger.Error().Err(err).Msg(reason)
		report.add(rec, 2, ActionError, fmt.Sprintf("%s: %v", reason, err))
	}

	ok, err := e.unchanged(ctx, rec)
	if err != nil {
		fail("failed to re-read record", err)
		return
	}
	if !ok {
		logger.Warn().Msg("record changed since snapshot, not closing")
		report.add(rec, 2, ActionSkipped, "record changed since snapshot")
		return
	}

	issue, err := e.tracker.GetIssue(ctx, rec.Repository, rec.IssueNumber)
	if err != nil {
		fail("failed to fetch issue", err)
		return
	}

	action, reason := ActionClosed, fmt.Sprintf("inactive for more than %d days", e.opts.StaleDays+e.opts.CloseDays)
	switch {
	case !issue.IsOpen():
		action, reason = ActionReleased, "issue already closed"
	case issue.HasLabel(e.opts.ExemptLabel):
		action, reason = ActionReleased, fmt.Sprintf("issue carries %q", e.opts.ExemptLabel)
	case !issue.HasLabel(e.opts.StaleLabel):
		action, reason = ActionReleased, fmt.Sprintf("%q label was removed", e.opts.StaleLabel)
	}

	if dryRun {
		report.add(rec, 2, action, "DRY RUN: "+reason)
		return
	}

	if action == ActionClosed {
		if err := e.tracker.CreateComment(ctx, rec.Repository, rec.IssueNumber, CloseComment); err != nil {
			fail("failed to post closing comment", err)
			return
		}
		if err := e.tracker.CloseIssue(ctx, rec.Repository, rec.IssueNumber); err != nil {
			fail("failed to close issue", err)
			return
		}
	}

	deleted, err := e.store.DeleteIfUnchanged(ctx, rec.Repository, rec.IssueNumber, rec.LastActivity)
	if err != nil {
		fail("failed to delete record", err)
		return
	}
	if !deleted {
		logger.Warn().Str("action", action).Msg("record changed before delete, kept tracking")
	}

	logger.Info().Str("action", action).Msg(reason)
	report.add(rec, 2, action, reason)
}
