package feedback

import (
	"context"
	"fmt"
	"sync"
)

// Store is the append-only feedback log. Records are never updated or
// deleted. Append refuses a record whose ID is already stored with an error
// wrapping ErrDuplicate. Other failures wrap mapmaster.ErrStorage.
// Implementations must be safe for concurrent use.
type Store interface {
	Append(ctx context.Context, rec Record) error
	Records(ctx context.Context) ([]Record, error)
	Close() error
}

// MemoryStore keeps the log in memory.
type MemoryStore struct {
	mu      sync.RWMutex
	records []Record
	ids     map[string]struct{}
}

// NewMemoryStore creates an empty in-memory log.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{ids: make(map[string]struct{})}
}

// Append adds rec to the end of the log.
func (s *MemoryStore) Append(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ids[rec.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicate, rec.ID)
	}
	s.ids[rec.ID] = struct{}{}
	s.records = append(s.records, rec)
	return nil
}

// Records returns a copy of the log in append order.
func (s *MemoryStore) Records(_ context.Context) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Record, len(s.records))
	copy(out, s.records)
	return out, nil
}

// Len returns the number of records.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }
