package sweep

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/similigh/triagebot/internal/core/ledger"
	"github.com/similigh/triagebot/internal/core/tracker"
	"github.com/similigh/triagebot/internal/core/tracker/trackertest"
)

const repo = "octo/widgets"

var now = time.Date(2026, 6, 15, 9, 0, 0, 0, time.UTC)

type fixture struct {
	tracker *trackertest.Fake
	store   *ledger.MemoryStore
	clock   *clockwork.FakeClock
}

func newFixture() *fixture {
	return &fixture{
		tracker: trackertest.New(),
		store:   ledger.NewMemoryStore(),
		clock:   clockwork.NewFakeClockAt(now),
	}
}

func (f *fixture) engine(client tracker.Client, opts Options) *Engine {
	if client == nil {
		client = f.tracker
	}
	return NewEngine(Dependencies{
		Tracker: client,
		Store:   f.store,
		Locker:  f.store,
		Clock:   f.clock,
		Logger:  zerolog.Nop(),
	}, opts)
}

func (f *fixture) track(t *testing.T, number int, age time.Duration, stale bool) {
	t.Helper()
	ctx := context.Background()
	at := now.Add(-age)
	require.NoError(t, f.store.Create(ctx, ledger.Record{Repository: repo, IssueNumber: number, LastActivity: at, CreatedAt: at}))
	if stale {
		ok, err := f.store.MarkStale(ctx, repo, number, at)
		require.NoError(t, err)
		require.True(t, ok)
	}
}

func (f *fixture) issue(number int, state string, labels ...string) {
	f.tracker.Put(tracker.Issue{Repository: repo, Number: number, State: state, Labels: labels})
}

func (f *fixture) find(t *testing.T, number int) (*ledger.Record, bool) {
	t.Helper()
	rec, err := f.store.Find(context.Background(), repo, number)
	if errors.Is(err, ledger.ErrNotFound) {
		return nil, false
	}
	require.NoError(t, err)
	return rec, true
}

func TestPhaseOneStalesOpenIssue(t *testing.T) {
	f := newFixture()
	f.track(t, 1, 20*day, false)
	f.issue(1, tracker.StateOpen)

	report, err := f.engine(nil, Options{StaleDays: 14, CloseDays: 7}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Staled)

	labels := f.tracker.CallsTo("AddLabels")
	require.Len(t, labels, 1)
	assert.Equal(t, []string{"stale"}, labels[0].Args)

	comments := f.tracker.CallsTo("CreateComment")
	require.Len(t, comments, 1)
	assert.Contains(t, comments[0].Args[0], "not had recent activity for 14 days")
	assert.Contains(t, comments[0].Args[0], "closed in 7 days")

	rec, ok := f.find(t, 1)
	require.True(t, ok)
	assert.True(t, rec.IsStale)
}

func TestPhaseOneClosedIssueStopsTracking(t *testing.T) {
	f := newFixture()
	f.track(t, 2, 20*day, false)
	f.issue(2, tracker.StateClosed)

	report, err := f.engine(nil, Options{}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Untracked)
	assert.Empty(t, f.tracker.Calls(), "no label or comment calls")

	_, ok := f.find(t, 2)
	assert.False(t, ok)
}

func TestPhaseOneIgnoresRecentActivity(t *testing.T) {
	f := newFixture()
	f.track(t, 3, 13*day, false)
	f.issue(3, tracker.StateOpen)

	report, err := f.engine(nil, Options{}).Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Staled)
	assert.Empty(t, f.tracker.Calls())
}

func TestPhaseTwoClosesStaleIssue(t *testing.T) {
	f := newFixture()
	f.track(t, 4, 22*day, true)
	f.issue(4, tracker.StateOpen, "stale")

	report, err := f.engine(nil, Options{StaleDays: 14, CloseDays: 7}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Closed)

	calls := f.tracker.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "CreateComment", calls[0].Method)
	assert.Equal(t, CloseComment, calls[0].Args[0])
	assert.Equal(t, "CloseIssue", calls[1].Method)

	issue, _ := f.tracker.Issue(repo, 4)
	assert.False(t, issue.IsOpen())
	_, ok := f.find(t, 4)
	assert.False(t, ok)
}

func TestPhaseTwoReleasesWithoutClosing(t *testing.T) {
	tests := []struct {
		name   string
		state  string
		labels []string
	}{
		{"pinned", tracker.StateOpen, []string{"stale", "pinned"}},
		{"stale label removed", tracker.StateOpen, []string{"bug"}},
		{"already closed", tracker.StateClosed, []string{"stale"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.track(t, 5, 22*day, true)
			f.issue(5, tt.state, tt.labels...)

			report, err := f.engine(nil, Options{StaleDays: 14, CloseDays: 7}).Run(context.Background())
			require.NoError(t, err)
			assert.Equal(t, 1, report.Released)
			assert.Zero(t, report.Closed)
			assert.Empty(t, f.tracker.Calls())

			_, ok := f.find(t, 5)
			assert.False(t, ok, "record deleted")
		})
	}
}

func TestPhaseTwoWaitsForGracePeriod(t *testing.T) {
	f := newFixture()
	f.track(t, 6, 20*day, true)
	f.issue(6, tracker.StateOpen, "stale")

	report, err := f.engine(nil, Options{StaleDays: 14, CloseDays: 7}).Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Closed)
	_, ok := f.find(t, 6)
	assert.True(t, ok)
}

func TestIssueStaledThisRunIsNotClosedThisRun(t *testing.T) {
	f := newFixture()
	f.track(t, 7, 40*day, false)
	f.issue(7, tracker.StateOpen)

	e := f.engine(nil, Options{StaleDays: 14, CloseDays: 7})
	report, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Staled)
	assert.Zero(t, report.Closed)
	assert.Empty(t, f.tracker.CallsTo("CloseIssue"))

	// The next sweep picks it up.
	f.clock.Advance(day)
	report, err = e.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Closed)
}

// flakyTracker fails GetIssue for one issue number.
type flakyTracker struct {
	*trackertest.Fake
	failFor int
}

func (t *flakyTracker) GetIssue(ctx context.Context, repo string, number int) (*tracker.Issue, error) {
	if number == t.failFor {
		return nil, errors.New("502 bad gateway")
	}
	return t.Fake.GetIssue(ctx, repo, number)
}

func TestPerRecordFailureDoesNotAbortBatch(t *testing.T) {
	f := newFixture()
	f.track(t, 10, 20*day, false)
	f.track(t, 11, 21*day, false)
	f.track(t, 12, 25*day, true)
	f.issue(10, tracker.StateOpen)
	f.issue(11, tracker.StateOpen)
	f.issue(12, tracker.StateOpen, "stale")

	client := &flakyTracker{Fake: f.tracker, failFor: 11}
	report, err := f.engine(client, Options{StaleDays: 14, CloseDays: 7}).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Staled)
	assert.Equal(t, 1, report.Closed)
	require.Len(t, report.Errors, 1)
	assert.Contains(t, report.Errors[0], "octo/widgets#11")

	rec, ok := f.find(t, 11)
	require.True(t, ok)
	assert.False(t, rec.IsStale, "failed record untouched")
}

func TestPhaseTwoTrackerFailureKeepsRecord(t *testing.T) {
	f := newFixture()
	f.track(t, 13, 25*day, true)
	f.issue(13, tracker.StateOpen, "stale")
	f.tracker.SetError("CloseIssue", errors.New("forbidden"))

	report, err := f.engine(nil, Options{}).Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, report.Errors, 1)
	_, ok := f.find(t, 13)
	assert.True(t, ok)
}

func TestPhaseOneCommentFailureLeavesRecordActive(t *testing.T) {
	f := newFixture()
	f.track(t, 14, 20*day, false)
	f.issue(14, tracker.StateOpen)
	f.tracker.SetError("CreateComment", errors.New("rate limited"))

	report, err := f.engine(nil, Options{}).Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, report.Errors, 1)

	rec, ok := f.find(t, 14)
	require.True(t, ok)
	assert.False(t, rec.IsStale)
}

// touchingTracker simulates a webhook for target landing while the sweep
// fetches an issue.
type touchingTracker struct {
	*trackertest.Fake
	store  *ledger.MemoryStore
	target int
	at     time.Time
}

func (t *touchingTracker) GetIssue(ctx context.Context, repo string, number int) (*tracker.Issue, error) {
	if _, err := t.store.Touch(ctx, repo, t.target, t.at); err != nil {
		return nil, err
	}
	return t.Fake.GetIssue(ctx, repo, number)
}

func TestRacedActivityAbandonsStaling(t *testing.T) {
	f := newFixture()
	f.track(t, 20, 20*day, false)
	f.issue(20, tracker.StateOpen)

	client := &touchingTracker{Fake: f.tracker, store: f.store, target: 20, at: now}
	report, err := f.engine(client, Options{}).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Skipped)
	assert.Empty(t, f.tracker.Calls())
	rec, ok := f.find(t, 20)
	require.True(t, ok)
	assert.False(t, rec.IsStale)
}

func TestRacedActivityAbandonsClosing(t *testing.T) {
	f := newFixture()
	f.track(t, 21, 25*day, true)
	f.track(t, 22, 20*day, false)
	f.issue(21, tracker.StateOpen, "stale")
	f.issue(22, tracker.StateOpen)

	// A comment on #21 lands while phase one fetches #22.
	client := &touchingTracker{Fake: f.tracker, store: f.store, target: 21, at: now}
	report, err := f.engine(client, Options{}).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Staled)
	assert.Equal(t, 1, report.Skipped)
	assert.Zero(t, report.Closed)
	assert.Empty(t, f.tracker.CallsTo("CloseIssue"))

	rec, ok := f.find(t, 21)
	require.True(t, ok)
	assert.False(t, rec.IsStale)
	assert.True(t, rec.LastActivity.Equal(now))
}

func TestDryRunMakesNoChanges(t *testing.T) {
	f := newFixture()
	f.track(t, 30, 20*day, false)
	f.track(t, 31, 25*day, true)
	f.track(t, 32, 20*day, false)
	f.issue(30, tracker.StateOpen)
	f.issue(31, tracker.StateOpen, "stale")
	f.issue(32, tracker.StateClosed)

	report, err := f.engine(nil, Options{DryRun: true}).Run(context.Background())
	require.NoError(t, err)
	assert.True(t, report.DryRun)
	assert.Equal(t, 1, report.Staled)
	assert.Equal(t, 1, report.Closed)
	assert.Equal(t, 1, report.Untracked)
	assert.Empty(t, f.tracker.Calls())

	all, err := f.store.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestDryRunOverridesOptions(t *testing.T) {
	f := newFixture()
	f.track(t, 33, 20*day, false)
	f.issue(33, tracker.StateOpen)
	e := f.engine(nil, Options{})

	report, err := e.DryRun(context.Background())
	require.NoError(t, err)
	assert.True(t, report.DryRun)
	assert.Equal(t, 1, report.Staled)
	assert.Empty(t, f.tracker.Calls())
	rec, ok := f.find(t, 33)
	require.True(t, ok)
	assert.False(t, rec.IsStale)

	report, err = e.Run(context.Background())
	require.NoError(t, err)
	assert.False(t, report.DryRun)
	rec, _ = f.find(t, 33)
	assert.True(t, rec.IsStale)
}

// blockingTracker parks GetIssue until released.
type blockingTracker struct {
	*trackertest.Fake
	entered chan struct{}
	release chan struct{}
}

func (t *blockingTracker) GetIssue(ctx context.Context, repo string, number int) (*tracker.Issue, error) {
	t.entered <- struct{}{}
	<-t.release
	return t.Fake.GetIssue(ctx, repo, number)
}

func TestConcurrentRunRejected(t *testing.T) {
	f := newFixture()
	f.track(t, 40, 20*day, false)
	f.issue(40, tracker.StateOpen)

	client := &blockingTracker{Fake: f.tracker, entered: make(chan struct{}, 1), release: make(chan struct{})}
	e := f.engine(client, Options{})

	done := make(chan error, 1)
	go func() {
		_, err := e.Run(context.Background())
		done <- err
	}()
	<-client.entered

	_, err := e.Run(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	close(client.release)
	require.NoError(t, <-done)
}

func TestLockHeldElsewhereRejected(t *testing.T) {
	f := newFixture()
	release, ok, err := f.store.TryLock(context.Background(), LockName)
	require.NoError(t, err)
	require.True(t, ok)
	defer release()

	_, err = f.engine(nil, Options{}).Run(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyRunning)
}

func TestOptionsDefaults(t *testing.T) {
	e := NewEngine(Dependencies{}, Options{})
	opts := e.Options()
	assert.Equal(t, 14, opts.StaleDays)
	assert.Equal(t, 7, opts.CloseDays)
	assert.Equal(t, "stale", opts.StaleLabel)
	assert.Equal(t, "pinned", opts.ExemptLabel)
	assert.Contains(t, opts.StaleComment(), "Add the `pinned` label")
}
