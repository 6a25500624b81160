// Package ledger stores one activity record per tracked issue: when it was
// last active and whether the stale sweep has flagged it.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrDuplicate is returned when a record already exists for the issue.
	ErrDuplicate = errors.New("activity record already exists")

	// ErrNotFound is returned when no record exists for the issue.
	ErrNotFound = errors.New("activity record not found")
)

// Record is the tracking state of one (repository, issue) pair.
type Record struct {
	Repository   string    `json:"repository"`
	IssueNumber  int       `json:"issue_number"`
	LastActivity time.Time `json:"last_activity"`
	IsStale      bool      `json:"is_stale"`
	CreatedAt    time.Time `json:"created_at"`
}

// Key returns "owner/name#number".
func (r Record) Key() string {
	return fmt.Sprintf("%s#%d", r.Repository, r.IssueNumber)
}

// Store is durable keyed storage for activity records. Every mutation is
// atomic with respect to the single record it touches.
type Store interface {
	// Create inserts a new record. It returns ErrDuplicate if the issue is
	// already tracked.
	Create(ctx context.Context, rec Record) error

	// Find returns the record or ErrNotFound.
	Find(ctx context.Context, repo string, number int) (*Record, error)

	// Touch records fresh activity: lastActivity moves forward to at and
	// isStale is cleared. It reports false when the issue is not tracked.
	Touch(ctx context.Context, repo string, number int, at time.Time) (bool, error)

	// MarkStale sets isStale only if lastActivity still equals observed and
	// the record is not already stale.
	MarkStale(ctx context.Context, repo string, number int, observed time.Time) (bool, error)

	// Delete removes the record. Deleting an untracked issue is not an error.
	Delete(ctx context.Context, repo string, number int) error

	// DeleteIfUnchanged removes the record only if it is still stale and its
	// lastActivity equals observed.
	DeleteIfUnchanged(ctx context.Context, repo string, number int, observed time.Time) (bool, error)

	// ListInactive returns records with lastActivity strictly before the
	// threshold and the given isStale value, oldest first.
	ListInactive(ctx context.Context, before time.Time, stale bool) ([]Record, error)

	// List returns every record, oldest activity first.
	List(ctx context.Context) ([]Record, error)
}

// Locker grants exclusive ownership of a named job.
type Locker interface {
	// TryLock acquires name without blocking. When acquired is false the
	// returned release func is nil.
	TryLock(ctx context.Context, name string) (release func(), acquired bool, err error)
}

// normalize truncates to the precision Postgres stores so equality checks
// behave the same in every backend.
func normalize(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}
