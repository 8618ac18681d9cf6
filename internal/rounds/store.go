package rounds

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ringside/backend/internal/core"
)

var (
	// ErrRoundNotFound is returned when a round ID resolves to nothing.
	ErrRoundNotFound = errors.New("round not found")

	// ErrRoundLocked is returned on any attempt to mutate a locked round.
	ErrRoundLocked = errors.New("round is locked")

	// ErrTimeout is returned when an operation's deadline expires before
	// the bout worker commits it.
	ErrTimeout = errors.New("operation timed out")
)

// Store persists round state. The event list is stored as an ordered
// append-only sequence alongside the round row; RemoveEvent exists only
// so the manager can roll back a half-committed admission.
type Store interface {
	// SaveRound upserts the round row (status, verdict, lock fields).
	// It does not touch the event sequence.
	SaveRound(ctx context.Context, st *core.RoundState) error

	// AppendEvent writes one event at the given sequence index.
	AppendEvent(ctx context.Context, roundID string, seq int, ev *core.CombatEvent) error

	// RemoveEvent deletes the event at a sequence index. Rollback only.
	RemoveEvent(ctx context.Context, roundID string, seq int) error

	// GetRound loads the round with its ordered events.
	GetRound(ctx context.Context, roundID string) (*core.RoundState, error)

	// ListByBout loads every round of a bout ordered by round number.
	ListByBout(ctx context.Context, boutID string) ([]*core.RoundState, error)
}

// InMemoryStore keeps rounds in process memory for tests, replay, and
// single-node deployments.
type InMemoryStore struct {
	mu     sync.RWMutex
	rounds map[string]*core.RoundState
	events map[string]map[int]core.CombatEvent
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		rounds: make(map[string]*core.RoundState),
		events: make(map[string]map[int]core.CombatEvent),
	}
}

func (s *InMemoryStore) SaveRound(_ context.Context, st *core.RoundState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := st.Clone()
	c.Events = nil
	s.rounds[st.RoundID] = c
	return nil
}

func (s *InMemoryStore) AppendEvent(_ context.Context, roundID string, seq int, ev *core.CombatEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rounds[roundID]; !ok {
		return ErrRoundNotFound
	}
	seqs := s.events[roundID]
	if seqs == nil {
		seqs = make(map[int]core.CombatEvent)
		s.events[roundID] = seqs
	}
	if _, dup := seqs[seq]; dup {
		return fmt.Errorf("sequence index %d already written for round %s", seq, roundID)
	}
	seqs[seq] = *ev
	return nil
}

func (s *InMemoryStore) RemoveEvent(_ context.Context, roundID string, seq int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.events[roundID], seq)
	return nil
}

func (s *InMemoryStore) GetRound(_ context.Context, roundID string) (*core.RoundState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.rounds[roundID]
	if !ok {
		return nil, ErrRoundNotFound
	}
	out := st.Clone()
	out.Events = s.orderedEvents(roundID)
	return out, nil
}

func (s *InMemoryStore) ListByBout(_ context.Context, boutID string) ([]*core.RoundState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*core.RoundState
	for id, st := range s.rounds {
		if st.BoutID != boutID {
			continue
		}
		c := st.Clone()
		c.Events = s.orderedEvents(id)
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RoundNum < out[j].RoundNum })
	return out, nil
}

func (s *InMemoryStore) orderedEvents(roundID string) []core.CombatEvent {
	seqs := s.events[roundID]
	indexes := make([]int, 0, len(seqs))
	for i := range seqs {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)

	out := make([]core.CombatEvent, 0, len(indexes))
	for _, i := range indexes {
		out = append(out, seqs[i])
	}
	return out
}
