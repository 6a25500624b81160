package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/similigh/triagebot/internal/core/ledger"
	"github.com/similigh/triagebot/internal/core/tracker"
)

// MinBodyLength is the trimmed body length, in characters, below which a new
// issue gets the information checklist comment.
const MinBodyLength = 40

// ChecklistComment asks the reporter for the details triage needs.
const ChecklistComment = `Thanks for opening this issue! To help us better understand and resolve it, please provide:

- [ ] **Steps to reproduce** the issue
- [ ] **Expected behavior** vs **actual behavior**
- [ ] **Error messages or logs** (if any)
- [ ] **Environment details** (OS, browser, version, etc.)
- [ ] **Screenshots or recordings** (if applicable)

This information will help us investigate and resolve the issue more quickly.`

// Matcher maps issue text to labels and owners.
type Matcher interface {
	MatchLabels(text string) []string
	MatchOwners(text string) []string
}

// HandlerFunc handles one routed event.
type HandlerFunc func(ctx context.Context, ev *Event) *Result

// anyAction matches every action of an event type.
const anyAction = "*"

type route struct {
	eventType string
	action    string
}

// Dependencies holds the collaborators injected into the dispatcher.
type Dependencies struct {
	Tracker tracker.Client
	Matcher Matcher
	Ledger  ledger.Store
	Clock   clockwork.Clock
	Logger  zerolog.Logger
}

// Dispatcher routes events by (type, action).
type Dispatcher struct {
	tracker tracker.Client
	matcher Matcher
	ledger  ledger.Store
	clock   clockwork.Clock
	logger  zerolog.Logger

	mu     sync.RWMutex
	routes map[route]HandlerFunc
}

// New creates a dispatcher with the default routes registered.
func New(deps Dependencies) *Dispatcher {
	clk := deps.Clock
	if clk == nil {
		clk = clockwork.NewRealClock()
	}

	d := &Dispatcher{
		tracker: deps.Tracker,
		matcher: deps.Matcher,
		ledger:  deps.Ledger,
		clock:   clk,
		logger:  deps.Logger,
		routes:  make(map[route]HandlerFunc),
	}

	d.Register(EventIssues, "opened", d.handleOpened)
	for _, action := range []string{"edited", "labeled", "assigned"} {
		d.Register(EventIssues, action, d.handleActivity)
	}
	d.Register(EventIssueComment, "created", d.handleComment)
	d.Register(EventPing, anyAction, handlePing)

	return d
}

// Register adds or replaces the handler for an event type and action. Use
// "*" to match every action.
func (d *Dispatcher) Register(eventType, action string, h HandlerFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.routes[route{eventType, action}] = h
}

func (d *Dispatcher) lookup(eventType, action string) (HandlerFunc, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if h, ok := d.routes[route{eventType, action}]; ok {
		return h, true
	}
	h, ok := d.routes[route{eventType, anyAction}]
	return h, ok
}

// Dispatch runs the handler for ev. Unrouted events are reported as ignored.
func (d *Dispatcher) Dispatch(ctx context.Context, ev *Event) *Result {
	h, ok := d.lookup(ev.Type, ev.Action)
	if !ok {
		d.logger.Debug().Str("event", ev.Type).Str("action", ev.Action).Msg("ignoring event")
		return &Result{Status: StatusIgnored, Event: ev.Type, Action: ev.Action}
	}
	return h(ctx, ev)
}

func handlePing(_ context.Context, _ *Event) *Result {
	return &Result{Status: StatusPong, Message: "Webhook configured successfully"}
}

// handleOpened labels, assigns, and starts tracking a new issue. Tracker
// failures are collected into the result; tracking starts regardless. An
// issue that is already tracked is left alone.
func (d *Dispatcher) handleOpened(ctx context.Context, ev *Event) *Result {
	logger := d.logger.With().Str("repo", ev.Repository).Int("issue", ev.IssueNumber).Logger()
	logger.Info().Msg("processing new issue")

	res := &Result{Status: StatusSuccess, Issue: ev.IssueNumber}

	switch _, err := d.ledger.Find(ctx, ev.Repository, ev.IssueNumber); {
	case err == nil:
		logger.Info().Msg("issue already tracked, skipping")
		res.Message = "Issue already tracked"
		res.Tracked = boolPtr(true)
		return res
	case !errors.Is(err, ledger.ErrNotFound):
		logger.Warn().Err(err).Msg("failed to look up issue, processing anyway")
	}

	text := ev.Title + " " + ev.Body
	var errs []string

	if labels := d.matcher.MatchLabels(text); len(labels) > 0 {
		if err := d.tracker.AddLabels(ctx, ev.Repository, ev.IssueNumber, labels); err != nil {
			logger.Error().Err(err).Strs("labels", labels).Msg("failed to add labels")
			errs = append(errs, err.Error())
		} else {
			res.LabelsAdded = labels
		}
	}

	if owners := d.matcher.MatchOwners(text); len(owners) > 0 {
		if err := d.tracker.AssignUsers(ctx, ev.Repository, ev.IssueNumber, owners); err != nil {
			logger.Error().Err(err).Strs("owners", owners).Msg("failed to assign owners")
			errs = append(errs, err.Error())
		} else {
			res.OwnersAssigned = owners
		}
	}

	checklist := false
	if utf8.RuneCountInString(strings.TrimSpace(ev.Body)) < MinBodyLength {
		if err := d.tracker.CreateComment(ctx, ev.Repository, ev.IssueNumber, ChecklistComment); err != nil {
			logger.Error().Err(err).Msg("failed to post checklist")
			errs = append(errs, err.Error())
		} else {
			checklist = true
		}
	}
	res.ChecklistAdded = boolPtr(checklist)

	now := d.clock.Now()
	err := d.ledger.Create(ctx, ledger.Record{
		Repository:   ev.Repository,
		IssueNumber:  ev.IssueNumber,
		LastActivity: now,
		CreatedAt:    now,
	})
	switch {
	case errors.Is(err, ledger.ErrDuplicate):
		logger.Debug().Msg("issue already tracked")
		res.Tracked = boolPtr(true)
	case err != nil:
		logger.Error().Err(err).Msg("failed to track issue activity")
		errs = append(errs, err.Error())
		res.Tracked = boolPtr(false)
	default:
		res.Tracked = boolPtr(true)
	}

	if len(errs) > 0 {
		res.Status = StatusError
		res.Message = fmt.Sprintf("%d action(s) failed", len(errs))
		res.Errors = errs
	}
	return res
}

// touch refreshes the activity record if the issue is tracked.
func (d *Dispatcher) touch(ctx context.Context, ev *Event) (bool, error) {
	return d.ledger.Touch(ctx, ev.Repository, ev.IssueNumber, d.clock.Now())
}

// handleActivity resets the inactivity clock. Untracked issues are a no-op.
func (d *Dispatcher) handleActivity(ctx context.Context, ev *Event) *Result {
	tracked, err := d.touch(ctx, ev)
	if err != nil {
		d.logger.Error().Err(err).Str("repo", ev.Repository).Int("issue", ev.IssueNumber).
			Msg("failed to update issue activity")
		res := errorResult(err.Error())
		res.Action, res.Issue = ev.Action, ev.IssueNumber
		return res
	}
	return &Result{Status: StatusSuccess, Action: ev.Action, Issue: ev.IssueNumber, Tracked: boolPtr(tracked)}
}

// handleComment records activity, then runs a slash command if present.
func (d *Dispatcher) handleComment(ctx context.Context, ev *Event) *Result {
	tracked, err := d.touch(ctx, ev)
	if err != nil {
		d.logger.Error().Err(err).Str("repo", ev.Repository).Int("issue", ev.IssueNumber).
			Msg("failed to update issue activity")
	}

	if strings.HasPrefix(strings.TrimSpace(ev.CommentBody), "/") {
		return d.runCommand(ctx, ev)
	}

	res := &Result{Status: StatusSuccess, Issue: ev.IssueNumber, Message: "Comment processed"}
	if err == nil {
		res.Tracked = boolPtr(tracked)
	}
	return res
}
