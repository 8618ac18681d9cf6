package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ringside/backend/internal/clock"
	"github.com/ringside/backend/internal/core"
	"github.com/ringside/backend/internal/storage"
)

func testLog(t *testing.T) (*Log, *InMemoryStore, *clock.ManualClock) {
	t.Helper()
	store := NewInMemoryStore()
	clk := clock.NewManualClock(time.Date(2025, 3, 14, 21, 4, 5, 123e6, time.UTC))
	return NewLog(store, clk, nil), store, clk
}

func TestRecordAndVerify(t *testing.T) {
	log, _, _ := testLog(t)
	ctx := context.Background()

	entry, err := log.Record(ctx, "bout-1", "round-1", ActionRoundOpened, "operator-7", map[string]interface{}{
		"round_num": 1,
	})
	require.NoError(t, err)
	require.NotEmpty(t, entry.LogID)
	assert.Equal(t, "2025-03-14T21:04:05.123Z", entry.Timestamp)
	assert.Len(t, entry.Signature, 64)

	ok, err := log.Verify(ctx, entry.LogID)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestComputeSignatureShape(t *testing.T) {
	entry := &Entry{
		BoutID:    "bout-1",
		RoundID:   "r1",
		Action:    ActionRoundOpened,
		Actor:     "judge-1",
		Timestamp: "2025-03-14T21:04:05.123Z",
		Data:      map[string]interface{}{"a": 1},
	}

	// Keys sorted alphabetically, no whitespace, signature field excluded.
	payload := `{"action":"round_opened","actor":"judge-1","bout_id":"bout-1",` +
		`"data":{"a":1},"round_id":"r1","timestamp":"2025-03-14T21:04:05.123Z"}`

	sig, err := ComputeSignature(entry)
	require.NoError(t, err)
	assert.Equal(t, core.HashBytes([]byte(payload)), sig)
}

func TestVerifyDetectsTampering(t *testing.T) {
	log, store, _ := testLog(t)
	ctx := context.Background()

	entry, err := log.Record(ctx, "bout-1", "round-1", ActionScoreComputed, SystemActor, map[string]interface{}{
		"score_card": "10-9",
	})
	require.NoError(t, err)

	// Mutate the stored row behind the service's back.
	store.mu.Lock()
	store.entries[entry.LogID].Data["score_card"] = "10-8"
	store.mu.Unlock()

	ok, err := log.Verify(ctx, entry.LogID)
	require.NoError(t, err)
	assert.False(t, ok)

	err = log.VerifyBout(ctx, "bout-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSignatureMismatch)
	assert.Contains(t, err.Error(), entry.LogID)
}

func TestVerifyBoutCleanTrail(t *testing.T) {
	log, _, clk := testLog(t)
	ctx := context.Background()

	for _, action := range []Action{ActionRoundOpened, ActionEventAdmitted, ActionRoundLocked} {
		_, err := log.Record(ctx, "bout-1", "round-1", action, "", nil)
		require.NoError(t, err)
		clk.Advance(time.Second)
	}

	assert.NoError(t, log.VerifyBout(ctx, "bout-1"))
}

func TestRecordDefaultsActorToSystem(t *testing.T) {
	log, _, _ := testLog(t)

	entry, err := log.Record(context.Background(), "bout-1", "", ActionConfigChanged, "", nil)
	require.NoError(t, err)
	assert.Equal(t, SystemActor, entry.Actor)
}

func TestExportBundleOrdering(t *testing.T) {
	log, _, clk := testLog(t)
	ctx := context.Background()

	var ids []string
	for _, action := range []Action{ActionRoundOpened, ActionEventAdmitted, ActionScoreComputed} {
		entry, err := log.Record(ctx, "bout-1", "round-1", action, "operator-7", nil)
		require.NoError(t, err)
		ids = append(ids, entry.LogID)
		clk.Advance(250 * time.Millisecond)
	}

	// Unrelated bout must not leak into the bundle.
	_, err := log.Record(ctx, "bout-2", "round-1", ActionRoundOpened, "operator-7", nil)
	require.NoError(t, err)

	bundle, err := log.ExportBundle(ctx, "bout-1")
	require.NoError(t, err)

	assert.Equal(t, "bout-1", bundle.BoutID)
	assert.Equal(t, "SHA-256", bundle.Algorithm)
	assert.Equal(t, 3, bundle.EntryCount)
	require.Len(t, bundle.Entries, 3)
	for i, entry := range bundle.Entries {
		assert.Equal(t, ids[i], entry.LogID)
	}
	assert.Equal(t, core.FormatTimestamp(clk.Now()), bundle.ExportedAt)
}

func TestExportBundleTimestampTieBrokenByLogID(t *testing.T) {
	log, _, _ := testLog(t)
	ctx := context.Background()

	// Frozen clock: all entries share one timestamp.
	a, err := log.Record(ctx, "bout-1", "round-1", ActionEventAdmitted, "", nil)
	require.NoError(t, err)
	b, err := log.Record(ctx, "bout-1", "round-1", ActionEventAdmitted, "", nil)
	require.NoError(t, err)

	bundle, err := log.ExportBundle(ctx, "bout-1")
	require.NoError(t, err)
	require.Len(t, bundle.Entries, 2)

	want := []string{a.LogID, b.LogID}
	if want[0] > want[1] {
		want[0], want[1] = want[1], want[0]
	}
	assert.Equal(t, want[0], bundle.Entries[0].LogID)
	assert.Equal(t, want[1], bundle.Entries[1].LogID)
}

type flakyStore struct {
	*InMemoryStore
	failures int
}

func (s *flakyStore) Append(ctx context.Context, entry *Entry) error {
	if s.failures > 0 {
		s.failures--
		return storage.Transient("audit append", assert.AnError)
	}
	return s.InMemoryStore.Append(ctx, entry)
}

func TestRecordRetriesTransientAppend(t *testing.T) {
	store := &flakyStore{InMemoryStore: NewInMemoryStore(), failures: 2}
	clk := clock.NewManualClock(time.Unix(1700000000, 0))
	log := NewLog(store, clk, nil)

	entry, err := log.Record(context.Background(), "bout-1", "round-1", ActionEventAdmitted, "", nil)
	require.NoError(t, err)

	ok, err := log.Verify(context.Background(), entry.LogID)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRecordGivesUpAfterRetryBudget(t *testing.T) {
	store := &flakyStore{InMemoryStore: NewInMemoryStore(), failures: storage.MaxRetries + 1}
	clk := clock.NewManualClock(time.Unix(1700000000, 0))
	log := NewLog(store, clk, nil)

	_, err := log.Record(context.Background(), "bout-1", "round-1", ActionEventAdmitted, "", nil)
	require.Error(t, err)
	assert.True(t, storage.IsTransient(err))
	assert.Equal(t, 0, store.Len())
}

func TestGetMissingEntry(t *testing.T) {
	store := NewInMemoryStore()

	_, err := store.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrEntryNotFound)
}

func TestStoreActionsOrder(t *testing.T) {
	log, store, clk := testLog(t)
	ctx := context.Background()

	for _, action := range []Action{ActionRoundOpened, ActionValidationRun, ActionRoundLocked} {
		_, err := log.Record(ctx, "bout-1", "round-1", action, "", nil)
		require.NoError(t, err)
		clk.Advance(time.Millisecond)
	}

	assert.Equal(t, []string{"round_opened", "validation_run", "round_locked"}, store.Actions("bout-1"))
}
