// Package results mirrors locked round verdicts into Supabase so
// commission portals and broadcast partners can query final scores
// without touching the live scoring path.
package results

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"

	supabase "github.com/supabase-community/supabase-go"

	"github.com/ringside/backend/internal/core"
)

// RoundResultRow is the round_results table shape. Timestamps are
// strings to match the Supabase timestamp format.
type RoundResultRow struct {
	RoundID    string          `json:"round_id"`
	BoutID     string          `json:"bout_id"`
	RoundNum   int             `json:"round_num"`
	Winner     string          `json:"winner"`
	ScoreCard  string          `json:"score_card"`
	RedPoints  int             `json:"red_points"`
	BluePoints int             `json:"blue_points"`
	EventHash  string          `json:"event_hash"`
	EventCount int             `json:"event_count"`
	Receipt    json.RawMessage `json:"receipt,omitempty"`
	LockedAt   string          `json:"locked_at"`
}

// SupabaseMirror pushes locked rounds into the round_results table.
// Mirroring is strictly downstream of the lock: a mirror failure never
// unwinds a locked round, callers just log and retry out of band.
type SupabaseMirror struct {
	client *supabase.Client
	logger *log.Logger
}

// NewSupabaseMirror creates a mirror from SUPABASE_URL and
// SUPABASE_SERVICE_KEY.
func NewSupabaseMirror() (*SupabaseMirror, error) {
	url := os.Getenv("SUPABASE_URL")
	key := os.Getenv("SUPABASE_SERVICE_KEY")
	if url == "" || key == "" {
		return nil, fmt.Errorf("SUPABASE_URL and SUPABASE_SERVICE_KEY must be set")
	}

	client, err := supabase.NewClient(url, key, &supabase.ClientOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to create Supabase client: %w", err)
	}
	return &SupabaseMirror{
		client: client,
		logger: log.New(log.Writer(), "[ResultsMirror] ", log.LstdFlags),
	}, nil
}

// MirrorLockedRound upserts the round's final verdict keyed by round
// ID, so re-delivery after a retry is harmless.
func (m *SupabaseMirror) MirrorLockedRound(ctx context.Context, st *core.RoundState) error {
	if st.Status != core.StatusLocked || st.Verdict == nil {
		return fmt.Errorf("round %s is not locked", st.RoundID)
	}

	row, err := rowFromRound(st)
	if err != nil {
		return err
	}

	_, _, err = m.client.From("round_results").
		Upsert(row, "round_id", "", "").
		Execute()
	if err != nil {
		return fmt.Errorf("failed to mirror round %s: %w", st.RoundID, err)
	}

	m.logger.Printf("Mirrored round %s (%s, winner=%s)", st.RoundID, row.ScoreCard, row.Winner)
	return nil
}

// GetBoutResults returns the mirrored verdicts for a bout in round
// order.
func (m *SupabaseMirror) GetBoutResults(ctx context.Context, boutID string) ([]RoundResultRow, error) {
	var rows []RoundResultRow
	_, err := m.client.From("round_results").
		Select("*", "", false).
		Eq("bout_id", boutID).
		Order("round_num", nil).
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("failed to query results for bout %s: %w", boutID, err)
	}
	return rows, nil
}

func rowFromRound(st *core.RoundState) (*RoundResultRow, error) {
	receipt, err := json.Marshal(st.Verdict.Receipt)
	if err != nil {
		return nil, fmt.Errorf("failed to encode receipt for round %s: %w", st.RoundID, err)
	}

	row := &RoundResultRow{
		RoundID:    st.RoundID,
		BoutID:     st.BoutID,
		RoundNum:   st.RoundNum,
		Winner:     st.Verdict.Winner,
		ScoreCard:  st.Verdict.ScoreCard,
		RedPoints:  st.Verdict.RedPoints,
		BluePoints: st.Verdict.BluePoints,
		EventHash:  st.EventHash,
		EventCount: len(st.Events),
		Receipt:    receipt,
	}
	if st.LockedAt != nil {
		row.LockedAt = core.FormatTimestamp(*st.LockedAt)
	}
	return row, nil
}
