package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"cloud.google.com/go/spanner"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"

	"github.com/ringside/backend/internal/storage"
)

// SpannerStore persists audit entries in Cloud Spanner. Used for venues that
// archive commission-facing audit trails in a regional Spanner database.
//
// Expected table:
//
//	CREATE TABLE AuditLog (
//	    LogID     STRING(36) NOT NULL,
//	    BoutID    STRING(64) NOT NULL,
//	    RoundID   STRING(64),
//	    Action    STRING(32) NOT NULL,
//	    Actor     STRING(128) NOT NULL,
//	    Ts        STRING(24) NOT NULL,
//	    Data      STRING(MAX),
//	    Signature STRING(64) NOT NULL,
//	    CreatedAt TIMESTAMP NOT NULL OPTIONS (allow_commit_timestamp=true),
//	) PRIMARY KEY (LogID)
type SpannerStore struct {
	client *spanner.Client
	logger *log.Logger
}

// NewSpannerStore creates a Spanner-backed audit store. The database path has
// the form projects/P/instances/I/databases/D.
func NewSpannerStore(ctx context.Context, dbPath string) (*SpannerStore, error) {
	client, err := spanner.NewClient(ctx, dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create Spanner client: %w", err)
	}

	return &SpannerStore{
		client: client,
		logger: log.New(log.Writer(), "[SpannerAudit] ", log.LstdFlags),
	}, nil
}

// Append writes the entry as an insert-only mutation.
func (s *SpannerStore) Append(ctx context.Context, entry *Entry) error {
	var data spanner.NullString
	if entry.Data != nil {
		raw, err := json.Marshal(entry.Data)
		if err != nil {
			return storage.Permanent("audit append", err)
		}
		data = spanner.NullString{StringVal: string(raw), Valid: true}
	}

	mutation := spanner.Insert("AuditLog",
		[]string{"LogID", "BoutID", "RoundID", "Action", "Actor", "Ts", "Data", "Signature", "CreatedAt"},
		[]interface{}{entry.LogID, entry.BoutID, entry.RoundID, string(entry.Action),
			entry.Actor, entry.Timestamp, data, entry.Signature, spanner.CommitTimestamp},
	)

	if _, err := s.client.Apply(ctx, []*spanner.Mutation{mutation}); err != nil {
		return classifySpannerErr("audit append", err)
	}
	return nil
}

// Get loads a single entry by log ID.
func (s *SpannerStore) Get(ctx context.Context, logID string) (*Entry, error) {
	row, err := s.client.Single().ReadRow(ctx, "AuditLog", spanner.Key{logID},
		[]string{"LogID", "BoutID", "RoundID", "Action", "Actor", "Ts", "Data", "Signature"})
	if err != nil {
		if spanner.ErrCode(err) == codes.NotFound {
			return nil, ErrEntryNotFound
		}
		return nil, classifySpannerErr("audit get", err)
	}
	return decodeSpannerEntry(row)
}

// ListByBout loads all entries for a bout ordered by timestamp.
func (s *SpannerStore) ListByBout(ctx context.Context, boutID string) ([]*Entry, error) {
	stmt := spanner.Statement{
		SQL: `SELECT LogID, BoutID, RoundID, Action, Actor, Ts, Data, Signature
		      FROM AuditLog WHERE BoutID = @boutID ORDER BY Ts, LogID`,
		Params: map[string]interface{}{"boutID": boutID},
	}

	iter := s.client.Single().Query(ctx, stmt)
	defer iter.Stop()

	var entries []*Entry
	for {
		row, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, classifySpannerErr("audit list", err)
		}

		entry, err := decodeSpannerEntry(row)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Close closes the Spanner client.
func (s *SpannerStore) Close() error {
	s.client.Close()
	return nil
}

func decodeSpannerEntry(row *spanner.Row) (*Entry, error) {
	var entry Entry
	var action string
	var roundID, data spanner.NullString

	err := row.Columns(&entry.LogID, &entry.BoutID, &roundID, &action,
		&entry.Actor, &entry.Timestamp, &data, &entry.Signature)
	if err != nil {
		return nil, storage.Permanent("audit decode", err)
	}

	entry.Action = Action(action)
	if roundID.Valid {
		entry.RoundID = roundID.StringVal
	}
	if data.Valid && data.StringVal != "" {
		if err := json.Unmarshal([]byte(data.StringVal), &entry.Data); err != nil {
			return nil, storage.Permanent("audit decode", fmt.Errorf("failed to decode audit data: %w", err))
		}
	}
	return &entry, nil
}

// classifySpannerErr maps Spanner error codes onto the retry policy: aborted
// transactions and unavailable backends are worth retrying, everything else
// is not.
func classifySpannerErr(op string, err error) error {
	switch spanner.ErrCode(err) {
	case codes.Aborted, codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted:
		return storage.Transient(op, err)
	default:
		return storage.Permanent(op, err)
	}
}
