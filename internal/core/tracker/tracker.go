// Package tracker defines the narrow issue-tracker surface the dispatcher
// and the stale sweep depend on.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidRepository is returned for repository names not in owner/name form.
var ErrInvalidRepository = errors.New("invalid repository name")

// Issue states.
const (
	StateOpen   = "open"
	StateClosed = "closed"
)

// Issue is the tracker's view of an issue.
type Issue struct {
	Repository string
	Number     int
	Title      string
	State      string
	Labels     []string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// IsOpen reports whether the issue is open.
func (i *Issue) IsOpen() bool {
	return strings.EqualFold(i.State, StateOpen)
}

// HasLabel reports whether the issue carries the named label.
func (i *Issue) HasLabel(name string) bool {
	for _, l := range i.Labels {
		if strings.EqualFold(l, name) {
			return true
		}
	}
	return false
}

// Client is the set of tracker operations the bot performs. Repositories
// are addressed as "owner/name".
type Client interface {
	GetIssue(ctx context.Context, repo string, number int) (*Issue, error)
	AddLabels(ctx context.Context, repo string, number int, labels []string) error
	AssignUsers(ctx context.Context, repo string, number int, users []string) error
	CreateComment(ctx context.Context, repo string, number int, body string) error
	CloseIssue(ctx context.Context, repo string, number int) error
	ListOpenIssuesOlderThan(ctx context.Context, repo string, cutoff time.Time) ([]*Issue, error)
}

// SplitRepository splits "owner/name".
func SplitRepository(full string) (string, string, error) {
	owner, name, ok := strings.Cut(strings.TrimSpace(full), "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidRepository, full)
	}
	return owner, name, nil
}
