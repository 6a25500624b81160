package ledger

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestPostgres connects to TRIAGEBOT_TEST_DATABASE_URL and empties the
// ledger table. The test is skipped when no database is configured.
func newTestPostgres(t *testing.T) *PostgresStore {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping database test in short mode")
	}
	url := os.Getenv("TRIAGEBOT_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TRIAGEBOT_TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, url)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	s := NewPostgresStore(pool)
	require.NoError(t, s.Migrate(ctx))
	_, err = pool.Exec(ctx, `TRUNCATE issue_activity`)
	require.NoError(t, err)
	return s
}

func TestPostgresStore(t *testing.T) {
	runStoreContract(t, func(t *testing.T) Store { return newTestPostgres(t) })
}

func TestPostgresStoreTryLock(t *testing.T) {
	s := newTestPostgres(t)
	ctx := context.Background()

	release, ok, err := s.TryLock(ctx, "stale_sweep_test")
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = s.TryLock(ctx, "stale_sweep_test")
	require.NoError(t, err)
	assert.False(t, ok, "advisory lock held by another session")

	release()

	release, ok, err = s.TryLock(ctx, "stale_sweep_test")
	require.NoError(t, err)
	assert.True(t, ok)
	release()
}
