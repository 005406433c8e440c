package storage

import (
	"context"
	"sync"
	"time"

	"github.com/tollgate-sdk/tollgate/model"
)

// Compile-time check to verify that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)

type occurrenceRecord struct {
	key       string
	createdAt time.Time
}

// MemoryStore is a process-lifetime Store. Confirmed assignments do not
// survive a restart, which is acceptable for tests and preview sessions only:
// matching is deterministic for a stable config, so lost state is re-derived.
type MemoryStore struct {
	mu          sync.RWMutex
	assignments map[string]model.Assignment
	occurrences []occurrenceRecord
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		assignments: make(map[string]model.Assignment),
	}
}

// LoadAssignments returns a snapshot of all assignments.
func (s *MemoryStore) LoadAssignments(_ context.Context) ([]model.Assignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Assignment, 0, len(s.assignments))
	for _, a := range s.assignments {
		out = append(out, a)
	}
	return out, nil
}

// SaveAssignment inserts or replaces the assignment for its experiment id.
func (s *MemoryStore) SaveAssignment(_ context.Context, a model.Assignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.assignments[a.ExperimentID] = a
	return nil
}

// CountOccurrences counts records for the key created at or after since.
func (s *MemoryStore) CountOccurrences(_ context.Context, key string, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, rec := range s.occurrences {
		if rec.key != key {
			continue
		}
		if since.IsZero() || !rec.createdAt.Before(since) {
			count++
		}
	}
	return count, nil
}

// SaveOccurrence appends one occurrence record.
func (s *MemoryStore) SaveOccurrence(_ context.Context, key string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.occurrences = append(s.occurrences, occurrenceRecord{key: key, createdAt: at})
	return nil
}

// Reset clears all state.
func (s *MemoryStore) Reset(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.assignments = make(map[string]model.Assignment)
	s.occurrences = nil
	return nil
}

// Close is a no-op for the memory store.
func (s *MemoryStore) Close() error {
	return nil
}
