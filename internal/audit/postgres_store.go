package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/ringside/backend/internal/storage"
)

// auditSchema creates the append-only audit table. Timestamps are stored as
// the canonical ISO-8601 string the signature was computed over, so rows
// verify byte-for-byte after a round trip.
const auditSchema = `
CREATE TABLE IF NOT EXISTS audit_log (
	log_id    TEXT PRIMARY KEY,
	bout_id   TEXT NOT NULL,
	round_id  TEXT NOT NULL DEFAULT '',
	action    TEXT NOT NULL,
	actor     TEXT NOT NULL,
	ts        TEXT NOT NULL,
	data      JSONB,
	signature TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS audit_log_bout_idx ON audit_log (bout_id, ts);`

// PostgresStore persists audit entries in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore connects to PostgreSQL and verifies the connection.
func NewPostgresStore(dbURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// EnsureSchema creates the audit table if it does not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, auditSchema); err != nil {
		return fmt.Errorf("failed to create audit schema: %w", err)
	}
	return nil
}

// Append inserts a new entry. Insert failures are reported as transient so
// the caller's retry policy applies; duplicate log IDs are not possible in
// practice because IDs are generated fresh per entry.
func (s *PostgresStore) Append(ctx context.Context, entry *Entry) error {
	var data interface{}
	if entry.Data != nil {
		raw, err := json.Marshal(entry.Data)
		if err != nil {
			return storage.Permanent("audit append", err)
		}
		data = raw
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_log (log_id, bout_id, round_id, action, actor, ts, data, signature)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		entry.LogID, entry.BoutID, entry.RoundID, string(entry.Action),
		entry.Actor, entry.Timestamp, data, entry.Signature,
	)
	if err != nil {
		return storage.Transient("audit append", err)
	}
	return nil
}

// Get loads a single entry by log ID.
func (s *PostgresStore) Get(ctx context.Context, logID string) (*Entry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT log_id, bout_id, round_id, action, actor, ts, data, signature
		 FROM audit_log WHERE log_id = $1`, logID)

	entry, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, ErrEntryNotFound
	}
	if err != nil {
		return nil, storage.Transient("audit get", err)
	}
	return entry, nil
}

// ListByBout loads all entries for a bout ordered by timestamp. The canonical
// timestamp format is fixed-width UTC, so lexicographic order is
// chronological order.
func (s *PostgresStore) ListByBout(ctx context.Context, boutID string) ([]*Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT log_id, bout_id, round_id, action, actor, ts, data, signature
		 FROM audit_log WHERE bout_id = $1 ORDER BY ts, log_id`, boutID)
	if err != nil {
		return nil, storage.Transient("audit list", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, storage.Permanent("audit list", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, storage.Transient("audit list", err)
	}
	return entries, nil
}

// Close closes the database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(row rowScanner) (*Entry, error) {
	var entry Entry
	var action string
	var data []byte

	err := row.Scan(&entry.LogID, &entry.BoutID, &entry.RoundID, &action,
		&entry.Actor, &entry.Timestamp, &data, &entry.Signature)
	if err != nil {
		return nil, err
	}

	entry.Action = Action(action)
	if len(data) > 0 {
		if err := json.Unmarshal(data, &entry.Data); err != nil {
			return nil, fmt.Errorf("failed to decode audit data: %w", err)
		}
	}
	return &entry, nil
}
