package rounds

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/ringside/backend/internal/core"
	"github.com/ringside/backend/internal/storage"
)

// roundSchema holds round state plus the ordered event sequence. The
// unique (round_id, sequence_index) pair preserves insertion order and
// makes double-writes of a sequence slot impossible.
const roundSchema = `
CREATE TABLE IF NOT EXISTS round_state (
	round_id   TEXT PRIMARY KEY,
	bout_id    TEXT NOT NULL,
	round_num  INT  NOT NULL,
	status     TEXT NOT NULL,
	verdict    JSONB,
	opened_at  TIMESTAMPTZ NOT NULL,
	locked_at  TIMESTAMPTZ,
	event_hash TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS round_state_bout_idx ON round_state (bout_id, round_num);

CREATE TABLE IF NOT EXISTS round_events (
	round_id       TEXT NOT NULL REFERENCES round_state (round_id),
	sequence_index INT  NOT NULL,
	payload        JSONB NOT NULL,
	UNIQUE (round_id, sequence_index)
);`

// PostgresStore persists rounds and their event sequences in PostgreSQL.
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

// EnsureSchema creates the round tables if they do not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, roundSchema); err != nil {
		return fmt.Errorf("failed to create round schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveRound(ctx context.Context, st *core.RoundState) error {
	var verdict interface{}
	if st.Verdict != nil {
		raw, err := json.Marshal(st.Verdict)
		if err != nil {
			return storage.Permanent("round save", err)
		}
		verdict = raw
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO round_state (round_id, bout_id, round_num, status, verdict, opened_at, locked_at, event_hash)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (round_id) DO UPDATE SET
			status = EXCLUDED.status,
			verdict = EXCLUDED.verdict,
			locked_at = EXCLUDED.locked_at,
			event_hash = EXCLUDED.event_hash`,
		st.RoundID, st.BoutID, st.RoundNum, string(st.Status), verdict,
		st.OpenedAt, st.LockedAt, st.EventHash,
	)
	if err != nil {
		return storage.Transient("round save", err)
	}
	return nil
}

func (s *PostgresStore) AppendEvent(ctx context.Context, roundID string, seq int, ev *core.CombatEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return storage.Permanent("event append", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO round_events (round_id, sequence_index, payload) VALUES ($1, $2, $3)`,
		roundID, seq, payload,
	)
	if err != nil {
		return storage.Transient("event append", err)
	}
	return nil
}

func (s *PostgresStore) RemoveEvent(ctx context.Context, roundID string, seq int) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM round_events WHERE round_id = $1 AND sequence_index = $2`,
		roundID, seq,
	)
	if err != nil {
		return storage.Transient("event remove", err)
	}
	return nil
}

func (s *PostgresStore) GetRound(ctx context.Context, roundID string) (*core.RoundState, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT round_id, bout_id, round_num, status, verdict, opened_at, locked_at, event_hash
		 FROM round_state WHERE round_id = $1`, roundID)

	st, err := scanRound(row)
	if err == sql.ErrNoRows {
		return nil, ErrRoundNotFound
	}
	if err != nil {
		return nil, storage.Transient("round get", err)
	}

	events, err := s.loadEvents(ctx, roundID)
	if err != nil {
		return nil, err
	}
	st.Events = events
	return st, nil
}

func (s *PostgresStore) ListByBout(ctx context.Context, boutID string) ([]*core.RoundState, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT round_id, bout_id, round_num, status, verdict, opened_at, locked_at, event_hash
		 FROM round_state WHERE bout_id = $1 ORDER BY round_num`, boutID)
	if err != nil {
		return nil, storage.Transient("round list", err)
	}
	defer rows.Close()

	var out []*core.RoundState
	for rows.Next() {
		st, err := scanRound(rows)
		if err != nil {
			return nil, storage.Permanent("round list", err)
		}
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, storage.Transient("round list", err)
	}

	for _, st := range out {
		events, err := s.loadEvents(ctx, st.RoundID)
		if err != nil {
			return nil, err
		}
		st.Events = events
	}
	return out, nil
}

func (s *PostgresStore) loadEvents(ctx context.Context, roundID string) ([]core.CombatEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM round_events WHERE round_id = $1 ORDER BY sequence_index`, roundID)
	if err != nil {
		return nil, storage.Transient("event load", err)
	}
	defer rows.Close()

	var events []core.CombatEvent
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, storage.Permanent("event load", err)
		}
		var ev core.CombatEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			return nil, storage.Permanent("event load", fmt.Errorf("failed to decode event payload: %w", err))
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, storage.Transient("event load", err)
	}
	return events, nil
}

// Close closes the database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRound(row rowScanner) (*core.RoundState, error) {
	var st core.RoundState
	var status string
	var verdict []byte
	var lockedAt sql.NullTime

	err := row.Scan(&st.RoundID, &st.BoutID, &st.RoundNum, &status, &verdict,
		&st.OpenedAt, &lockedAt, &st.EventHash)
	if err != nil {
		return nil, err
	}

	st.Status = core.RoundStatus(status)
	if lockedAt.Valid {
		t := lockedAt.Time
		st.LockedAt = &t
	}
	if len(verdict) > 0 {
		if err := json.Unmarshal(verdict, &st.Verdict); err != nil {
			return nil, fmt.Errorf("failed to decode verdict: %w", err)
		}
	}
	return &st, nil
}
