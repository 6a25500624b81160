package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

const schema = `
CREATE TABLE IF NOT EXISTS issue_activity (
	id             BIGSERIAL PRIMARY KEY,
	repo_full_name TEXT        NOT NULL,
	issue_number   INTEGER     NOT NULL,
	last_activity  TIMESTAMPTZ NOT NULL,
	is_stale       BOOLEAN     NOT NULL DEFAULT FALSE,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	CONSTRAINT issue_activity_repo_issue_key UNIQUE (repo_full_name, issue_number)
);
CREATE INDEX IF NOT EXISTS issue_activity_sweep_idx ON issue_activity (is_stale, last_activity);
`

const selectColumns = `repo_full_name, issue_number, last_activity, is_stale, created_at`

// PostgresStore is a Store and Locker backed by a pgx pool. Each mutation
// is a single conditional statement, so the read-decide-write for one
// record happens inside Postgres.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wraps an existing pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

var (
	_ Store  = (*PostgresStore)(nil)
	_ Locker = (*PostgresStore)(nil)
)

// Migrate creates the issue_activity table if needed.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to create issue_activity table: %w", err)
	}
	return nil
}

// Create implements Store.
func (s *PostgresStore) Create(ctx context.Context, rec Record) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO issue_activity (repo_full_name, issue_number, last_activity, is_stale, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		rec.Repository, rec.IssueNumber, normalize(rec.LastActivity), rec.IsStale, normalize(rec.CreatedAt))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to insert activity record: %w", err)
	}
	return nil
}

// Find implements Store.
func (s *PostgresStore) Find(ctx context.Context, repo string, number int) (*Record, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+selectColumns+` FROM issue_activity WHERE repo_full_name = $1 AND issue_number = $2`,
		repo, number)

	rec, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find activity record: %w", err)
	}
	return &rec, nil
}

// Touch implements Store.
func (s *PostgresStore) Touch(ctx context.Context, repo string, number int, at time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE issue_activity
		 SET last_activity = GREATEST(last_activity, $3), is_stale = FALSE
		 WHERE repo_full_name = $1 AND issue_number = $2`,
		repo, number, normalize(at))
	if err != nil {
		return false, fmt.Errorf("failed to update activity record: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// MarkStale implements Store.
func (s *PostgresStore) MarkStale(ctx context.Context, repo string, number int, observed time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE issue_activity SET is_stale = TRUE
		 WHERE repo_full_name = $1 AND issue_number = $2 AND last_activity = $3 AND NOT is_stale`,
		repo, number, normalize(observed))
	if err != nil {
		return false, fmt.Errorf("failed to mark record stale: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Delete implements Store.
func (s *PostgresStore) Delete(ctx context.Context, repo string, number int) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM issue_activity WHERE repo_full_name = $1 AND issue_number = $2`,
		repo, number)
	if err != nil {
		return fmt.Errorf("failed to delete activity record: %w", err)
	}
	return nil
}

// DeleteIfUnchanged implements Store.
func (s *PostgresStore) DeleteIfUnchanged(ctx context.Context, repo string, number int, observed time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM issue_activity
		 WHERE repo_full_name = $1 AND issue_number = $2 AND last_activity = $3 AND is_stale`,
		repo, number, normalize(observed))
	if err != nil {
		return false, fmt.Errorf("failed to delete activity record: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListInactive implements Store.
func (s *PostgresStore) ListInactive(ctx context.Context, before time.Time, stale bool) ([]Record, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+selectColumns+` FROM issue_activity
		 WHERE is_stale = $1 AND last_activity < $2
		 ORDER BY last_activity, repo_full_name, issue_number`,
		stale, normalize(before))
	if err != nil {
		return nil, fmt.Errorf("failed to query inactive records: %w", err)
	}
	return collectRecords(rows)
}

// List implements Store.
func (s *PostgresStore) List(ctx context.Context) ([]Record, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+selectColumns+` FROM issue_activity ORDER BY last_activity, repo_full_name, issue_number`)
	if err != nil {
		return nil, fmt.Errorf("failed to list activity records: %w", err)
	}
	return collectRecords(rows)
}

// TryLock implements Locker with a session-level advisory lock held on a
// dedicated connection until release is called.
func (s *PostgresStore) TryLock(ctx context.Context, name string) (func(), bool, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire connection for lock: %w", err)
	}

	var acquired bool
	err = conn.QueryRow(ctx, `SELECT pg_try_advisory_lock(hashtextextended($1, 0))`, name).Scan(&acquired)
	if err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("failed to take advisory lock %q: %w", name, err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			// Unlock even when the caller's context is already done.
			_, _ = conn.Exec(context.Background(), `SELECT pg_advisory_unlock(hashtextextended($1, 0))`, name)
			conn.Release()
		})
	}
	return release, true, nil
}

func scanRecord(row pgx.Row) (Record, error) {
	var rec Record
	if err := row.Scan(&rec.Repository, &rec.IssueNumber, &rec.LastActivity, &rec.IsStale, &rec.CreatedAt); err != nil {
		return Record{}, err
	}
	rec.LastActivity = rec.LastActivity.UTC()
	rec.CreatedAt = rec.CreatedAt.UTC()
	return rec, nil
}

func collectRecords(rows pgx.Rows) ([]Record, error) {
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan activity record: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read activity records: %w", err)
	}
	return out, nil
}
