package audit

import (
	"context"
	"log/slog"
)

// TeeStore writes entries to a primary store and mirrors them to an
// archive (Spanner). Reads come from the primary; the archive is write
// mostly and only consulted when the primary misses, which covers
// process restarts with an in-memory primary.
type TeeStore struct {
	primary Store
	archive Store
}

// NewTeeStore layers an archive behind the primary store.
func NewTeeStore(primary, archive Store) *TeeStore {
	return &TeeStore{primary: primary, archive: archive}
}

// Append writes to both stores. The primary write decides the outcome;
// an archive failure is logged and retried by the next export, never
// surfaced to the scoring path.
func (s *TeeStore) Append(ctx context.Context, entry *Entry) error {
	if err := s.primary.Append(ctx, entry); err != nil {
		return err
	}
	if err := s.archive.Append(ctx, entry); err != nil {
		slog.Error("audit archive append failed", "log_id", entry.LogID, "error", err)
	}
	return nil
}

func (s *TeeStore) Get(ctx context.Context, logID string) (*Entry, error) {
	entry, err := s.primary.Get(ctx, logID)
	if err == nil {
		return entry, nil
	}
	return s.archive.Get(ctx, logID)
}

func (s *TeeStore) ListByBout(ctx context.Context, boutID string) ([]*Entry, error) {
	entries, err := s.primary.ListByBout(ctx, boutID)
	if err == nil && len(entries) > 0 {
		return entries, nil
	}
	return s.archive.ListByBout(ctx, boutID)
}
