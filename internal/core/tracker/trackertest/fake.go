// Package trackertest provides an in-memory tracker.Client for tests.
package trackertest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/similigh/triagebot/internal/core/tracker"
)

// Call records one mutating tracker call.
type Call struct {
	Method string
	Repo   string
	Number int
	Args   []string
}

// Fake is a recording tracker. Issues unknown to the fake are reported as
// open with no labels. Errors keyed by method name are returned instead of
// performing the call.
type Fake struct {
	mu     sync.Mutex
	issues map[string]*tracker.Issue
	calls  []Call
	Errors map[string]error
}

// New returns an empty Fake.
func New() *Fake {
	return &Fake{
		issues: make(map[string]*tracker.Issue),
		Errors: make(map[string]error),
	}
}

func key(repo string, number int) string {
	return fmt.Sprintf("%s#%d", repo, number)
}

// Put stores an issue.
func (f *Fake) Put(issue tracker.Issue) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := issue
	cp.Labels = append([]string(nil), issue.Labels...)
	f.issues[key(issue.Repository, issue.Number)] = &cp
}

// Issue returns a copy of the stored issue.
func (f *Fake) Issue(repo string, number int) (tracker.Issue, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i, ok := f.issues[key(repo, number)]
	if !ok {
		return tracker.Issue{}, false
	}
	cp := *i
	cp.Labels = append([]string(nil), i.Labels...)
	return cp, true
}

// SetError makes method fail with err.
func (f *Fake) SetError(method string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Errors[method] = err
}

// Calls returns the mutating calls in order.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// CallsTo returns the recorded calls for one method.
func (f *Fake) CallsTo(method string) []Call {
	var out []Call
	for _, c := range f.Calls() {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

func (f *Fake) issueLocked(repo string, number int) *tracker.Issue {
	k := key(repo, number)
	i, ok := f.issues[k]
	if !ok {
		i = &tracker.Issue{Repository: repo, Number: number, State: tracker.StateOpen}
		f.issues[k] = i
	}
	return i
}

func (f *Fake) record(method, repo string, number int, args ...string) error {
	if err := f.Errors[method]; err != nil {
		return err
	}
	f.calls = append(f.calls, Call{Method: method, Repo: repo, Number: number, Args: args})
	return nil
}

// GetIssue implements tracker.Client.
func (f *Fake) GetIssue(_ context.Context, repo string, number int) (*tracker.Issue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.Errors["GetIssue"]; err != nil {
		return nil, err
	}
	cp := *f.issueLocked(repo, number)
	cp.Labels = append([]string(nil), cp.Labels...)
	return &cp, nil
}

// AddLabels implements tracker.Client.
func (f *Fake) AddLabels(_ context.Context, repo string, number int, labels []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("AddLabels", repo, number, labels...); err != nil {
		return err
	}
	issue := f.issueLocked(repo, number)
	for _, l := range labels {
		if !issue.HasLabel(l) {
			issue.Labels = append(issue.Labels, l)
		}
	}
	return nil
}

// AssignUsers implements tracker.Client.
func (f *Fake) AssignUsers(_ context.Context, repo string, number int, users []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.record("AssignUsers", repo, number, users...)
}

// CreateComment implements tracker.Client.
func (f *Fake) CreateComment(_ context.Context, repo string, number int, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.record("CreateComment", repo, number, body)
}

// CloseIssue implements tracker.Client.
func (f *Fake) CloseIssue(_ context.Context, repo string, number int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("CloseIssue", repo, number); err != nil {
		return err
	}
	f.issueLocked(repo, number).State = tracker.StateClosed
	return nil
}

// ListOpenIssuesOlderThan implements tracker.Client.
func (f *Fake) ListOpenIssuesOlderThan(_ context.Context, repo string, cutoff time.Time) ([]*tracker.Issue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.Errors["ListOpenIssuesOlderThan"]; err != nil {
		return nil, err
	}
	var out []*tracker.Issue
	for _, i := range f.issues {
		if i.Repository != repo || !i.IsOpen() {
			continue
		}
		if i.CreatedAt.Before(cutoff) && i.UpdatedAt.Before(cutoff) {
			cp := *i
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Number < out[b].Number })
	return out, nil
}

var _ tracker.Client = (*Fake)(nil)
