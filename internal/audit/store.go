package audit

import (
	"context"
	"sync"
)

// Store is the persistence interface for audit entries. Implementations are
// append-only: entries are never updated or deleted.
type Store interface {
	Append(ctx context.Context, entry *Entry) error
	Get(ctx context.Context, logID string) (*Entry, error)
	ListByBout(ctx context.Context, boutID string) ([]*Entry, error)
}

// ============================================================================
// IN-MEMORY STORE
// ============================================================================

// InMemoryStore keeps audit entries in process memory. Used for tests and
// for running the pipeline without a database.
type InMemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	byBout  map[string][]string
}

// NewInMemoryStore creates an empty in-memory audit store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		entries: make(map[string]*Entry),
		byBout:  make(map[string][]string),
	}
}

// Append stores a copy of the entry.
func (s *InMemoryStore) Append(_ context.Context, entry *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *entry
	s.entries[entry.LogID] = &stored
	s.byBout[entry.BoutID] = append(s.byBout[entry.BoutID], entry.LogID)
	return nil
}

// Get returns a copy of the entry with the given log ID.
func (s *InMemoryStore) Get(_ context.Context, logID string) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[logID]
	if !ok {
		return nil, ErrEntryNotFound
	}
	out := *entry
	return &out, nil
}

// ListByBout returns copies of all entries for a bout in insertion order.
func (s *InMemoryStore) ListByBout(_ context.Context, boutID string) ([]*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byBout[boutID]
	out := make([]*Entry, 0, len(ids))
	for _, id := range ids {
		entry := *s.entries[id]
		out = append(out, &entry)
	}
	return out, nil
}

// Len returns the number of stored entries.
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Actions returns the action names recorded for a bout in insertion order.
func (s *InMemoryStore) Actions(boutID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byBout[boutID]
	actions := make([]string, 0, len(ids))
	for _, id := range ids {
		actions = append(actions, string(s.entries[id].Action))
	}
	return actions
}
