package ledger

import (
	"context"
	"sort"
	"sync"
	"time"
)

type recordKey struct {
	repo   string
	number int
}

// MemoryStore is a process-local Store and Locker.
type MemoryStore struct {
	mu      sync.Mutex
	records map[recordKey]Record
	locks   map[string]bool
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[recordKey]Record),
		locks:   make(map[string]bool),
	}
}

var (
	_ Store  = (*MemoryStore)(nil)
	_ Locker = (*MemoryStore)(nil)
)

// Create implements Store.
func (s *MemoryStore) Create(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := recordKey{rec.Repository, rec.IssueNumber}
	if _, ok := s.records[k]; ok {
		return ErrDuplicate
	}
	rec.LastActivity = normalize(rec.LastActivity)
	rec.CreatedAt = normalize(rec.CreatedAt)
	s.records[k] = rec
	return nil
}

// Find implements Store.
func (s *MemoryStore) Find(_ context.Context, repo string, number int) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[recordKey{repo, number}]
	if !ok {
		return nil, ErrNotFound
	}
	return &rec, nil
}

// Touch implements Store.
func (s *MemoryStore) Touch(_ context.Context, repo string, number int, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := recordKey{repo, number}
	rec, ok := s.records[k]
	if !ok {
		return false, nil
	}
	if at = normalize(at); at.After(rec.LastActivity) {
		rec.LastActivity = at
	}
	rec.IsStale = false
	s.records[k] = rec
	return true, nil
}

// MarkStale implements Store.
func (s *MemoryStore) MarkStale(_ context.Context, repo string, number int, observed time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := recordKey{repo, number}
	rec, ok := s.records[k]
	if !ok || rec.IsStale || !rec.LastActivity.Equal(normalize(observed)) {
		return false, nil
	}
	rec.IsStale = true
	s.records[k] = rec
	return true, nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(_ context.Context, repo string, number int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, recordKey{repo, number})
	return nil
}

// DeleteIfUnchanged implements Store.
func (s *MemoryStore) DeleteIfUnchanged(_ context.Context, repo string, number int, observed time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := recordKey{repo, number}
	rec, ok := s.records[k]
	if !ok || !rec.IsStale || !rec.LastActivity.Equal(normalize(observed)) {
		return false, nil
	}
	delete(s.records, k)
	return true, nil
}

// ListInactive implements Store.
func (s *MemoryStore) ListInactive(_ context.Context, before time.Time, stale bool) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Record
	for _, rec := range s.records {
		if rec.IsStale == stale && rec.LastActivity.Before(before) {
			out = append(out, rec)
		}
	}
	sortRecords(out)
	return out, nil
}

// List implements Store.
func (s *MemoryStore) List(_ context.Context) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Record, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec)
	}
	sortRecords(out)
	return out, nil
}

// TryLock implements Locker.
func (s *MemoryStore) TryLock(_ context.Context, name string) (func(), bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.locks[name] {
		return nil, false, nil
	}
	s.locks[name] = true

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.locks, name)
			s.mu.Unlock()
		})
	}, true, nil
}

func sortRecords(recs []Record) {
	sort.Slice(recs, func(i, j int) bool {
		if !recs[i].LastActivity.Equal(recs[j].LastActivity) {
			return recs[i].LastActivity.Before(recs[j].LastActivity)
		}
		if recs[i].Repository != recs[j].Repository {
			return recs[i].Repository < recs[j].Repository
		}
		return recs[i].IssueNumber < recs[j].IssueNumber
	})
}
