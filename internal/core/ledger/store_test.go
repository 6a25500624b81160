package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runStoreContract exercises behaviour every Store must share.
func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()
	base := time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)

	t.Run("create rejects duplicates", func(t *testing.T) {
		s := newStore(t)
		rec := Record{Repository: "octo/widgets", IssueNumber: 1, LastActivity: base, CreatedAt: base}
		require.NoError(t, s.Create(ctx, rec))
		assert.ErrorIs(t, s.Create(ctx, rec), ErrDuplicate)

		other := rec
		other.IssueNumber = 2
		assert.NoError(t, s.Create(ctx, other))
	})

	t.Run("find", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Find(ctx, "octo/widgets", 9)
		assert.ErrorIs(t, err, ErrNotFound)

		require.NoError(t, s.Create(ctx, Record{Repository: "octo/widgets", IssueNumber: 9, LastActivity: base, CreatedAt: base}))
		rec, err := s.Find(ctx, "octo/widgets", 9)
		require.NoError(t, err)
		assert.True(t, base.Equal(rec.LastActivity))
		assert.False(t, rec.IsStale)
	})

	t.Run("touch resets stale", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Create(ctx, Record{Repository: "octo/widgets", IssueNumber: 3, LastActivity: base, CreatedAt: base}))
		ok, err := s.MarkStale(ctx, "octo/widgets", 3, base)
		require.NoError(t, err)
		require.True(t, ok)

		later := base.Add(48 * time.Hour)
		ok, err = s.Touch(ctx, "octo/widgets", 3, later)
		require.NoError(t, err)
		assert.True(t, ok)

		rec, err := s.Find(ctx, "octo/widgets", 3)
		require.NoError(t, err)
		assert.False(t, rec.IsStale)
		assert.True(t, later.Equal(rec.LastActivity))

		ok, err = s.Touch(ctx, "octo/widgets", 404, later)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("touch never moves activity backwards", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Create(ctx, Record{Repository: "octo/widgets", IssueNumber: 4, LastActivity: base, CreatedAt: base}))
		_, err := s.Touch(ctx, "octo/widgets", 4, base.Add(-time.Hour))
		require.NoError(t, err)
		rec, err := s.Find(ctx, "octo/widgets", 4)
		require.NoError(t, err)
		assert.True(t, base.Equal(rec.LastActivity))
	})

	t.Run("mark stale is compare and set", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Create(ctx, Record{Repository: "octo/widgets", IssueNumber: 5, LastActivity: base, CreatedAt: base}))
		_, err := s.Touch(ctx, "octo/widgets", 5, base.Add(time.Minute))
		require.NoError(t, err)

		ok, err := s.MarkStale(ctx, "octo/widgets", 5, base)
		require.NoError(t, err)
		assert.False(t, ok, "activity moved since observation")

		ok, err = s.MarkStale(ctx, "octo/widgets", 5, base.Add(time.Minute))
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = s.MarkStale(ctx, "octo/widgets", 5, base.Add(time.Minute))
		require.NoError(t, err)
		assert.False(t, ok, "already stale")
	})

	t.Run("delete if unchanged", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Create(ctx, Record{Repository: "octo/widgets", IssueNumber: 6, LastActivity: base, CreatedAt: base}))

		ok, err := s.DeleteIfUnchanged(ctx, "octo/widgets", 6, base)
		require.NoError(t, err)
		assert.False(t, ok, "record is not stale")

		_, err = s.MarkStale(ctx, "octo/widgets", 6, base)
		require.NoError(t, err)
		ok, err = s.DeleteIfUnchanged(ctx, "octo/widgets", 6, base)
		require.NoError(t, err)
		assert.True(t, ok)

		_, err = s.Find(ctx, "octo/widgets", 6)
		assert.ErrorIs(t, err, ErrNotFound)
		assert.NoError(t, s.Delete(ctx, "octo/widgets", 6))
	})

	t.Run("list inactive", func(t *testing.T) {
		s := newStore(t)
		for i, age := range []time.Duration{20, 10, 30, 2} {
			at := base.Add(-age * 24 * time.Hour)
			require.NoError(t, s.Create(ctx, Record{Repository: "octo/widgets", IssueNumber: i + 1, LastActivity: at, CreatedAt: at}))
		}
		_, err := s.MarkStale(ctx, "octo/widgets", 3, base.Add(-30*24*time.Hour))
		require.NoError(t, err)

		cutoff := base.Add(-14 * 24 * time.Hour)
		fresh, err := s.ListInactive(ctx, cutoff, false)
		require.NoError(t, err)
		require.Len(t, fresh, 1)
		assert.Equal(t, 1, fresh[0].IssueNumber)

		stale, err := s.ListInactive(ctx, cutoff, true)
		require.NoError(t, err)
		require.Len(t, stale, 1)
		assert.Equal(t, 3, stale[0].IssueNumber)

		all, err := s.List(ctx)
		require.NoError(t, err)
		require.Len(t, all, 4)
		assert.Equal(t, 3, all[0].IssueNumber, "oldest first")
	})
}

func TestMemoryStore(t *testing.T) {
	runStoreContract(t, func(t *testing.T) Store { return NewMemoryStore() })
}

func TestMemoryStoreTryLock(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	release, ok, err := s.TryLock(ctx, "stale_sweep")
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = s.TryLock(ctx, "stale_sweep")
	require.NoError(t, err)
	assert.False(t, ok)

	release()
	release()

	release, ok, err = s.TryLock(ctx, "stale_sweep")
	require.NoError(t, err)
	assert.True(t, ok)
	release()
}

func TestRecordKey(t *testing.T) {
	assert.Equal(t, "octo/widgets#12", Record{Repository: "octo/widgets", IssueNumber: 12}.Key())
}
