// Package tests exercises the full scoring stack end to end: ingestion
// through the round manager, deduplication, multi-camera fusion, the
// Plan A/B/C verdict hierarchy with the 10-8 and 10-7 gates, and the
// lock gate, all over in-memory stores.
package tests

import (
	"context"
	"testing"
	"time"

	"github.com/ringside/backend/internal/audit"
	"github.com/ringside/backend/internal/bus"
	"github.com/ringside/backend/internal/clock"
	"github.com/ringside/backend/internal/config"
	"github.com/ringside/backend/internal/core"
	"github.com/ringside/backend/internal/harmonizer"
	"github.com/ringside/backend/internal/pipeline"
	"github.com/ringside/backend/internal/rounds"
	"github.com/ringside/backend/internal/scoring"
)

type stack struct {
	manager    *rounds.Manager
	auditStore *audit.InMemoryStore
}

func newStack(t *testing.T) *stack {
	t.Helper()

	clk := clock.NewManualClock(time.Date(2025, 11, 8, 21, 0, 0, 0, time.UTC))
	auditStore := audit.NewInMemoryStore()

	cfg := config.Config{}
	cfg.ApplyDefaults()

	manager := rounds.NewManager(rounds.ManagerDeps{
		Store:       rounds.NewInMemoryStore(),
		Audit:       audit.NewLog(auditStore, clk, nil),
		Bus:         bus.NewBus(16, clk, nil),
		Harmonizer:  harmonizer.New(),
		Coordinator: config.NewCoordinator(&cfg.Calibration, nil),
		Engine:      scoring.NewEngine(nil),
		Clock:       clk,
		Timers:      clock.NewTimerRegistry(clk),
		Validation:  cfg.Validation,
	})
	t.Cleanup(manager.Close)

	return &stack{manager: manager, auditStore: auditStore}
}

func cvEvent(corner, eventType string, tsMS int64, confidence, severity float64) harmonizer.RawEvent {
	return harmonizer.RawEvent{
		FighterID:   corner,
		EventType:   eventType,
		Severity:    severity,
		Confidence:  &confidence,
		TimestampMS: &tsMS,
	}
}

func judgeEvent(corner, eventType string, tsMS int64) harmonizer.RawEvent {
	return harmonizer.RawEvent{
		FighterID:   corner,
		EventType:   eventType,
		TimestampMS: &tsMS,
	}
}

func mustAppend(t *testing.T, s *stack, roundID string, raw harmonizer.RawEvent, src core.Source) {
	t.Helper()
	if _, err := s.manager.AppendEvent(context.Background(), roundID, raw, src, "e2e"); err != nil {
		t.Fatalf("append %s %s @%d failed: %v", raw.FighterID, raw.EventType, *raw.TimestampMS, err)
	}
}

// =============================================================================
// 1. DUPLICATE SUPPRESSION
// =============================================================================

func TestE2E_DuplicateSuppression(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	st, err := s.manager.OpenRound(ctx, "e2e-dup", 1, "e2e")
	if err != nil {
		t.Fatalf("open round: %v", err)
	}

	mustAppend(t, s, st.RoundID, cvEvent("RED", "STRIKE_HOOK", 10000, 0.9, 0.8), core.SourceCV)

	_, err = s.manager.AppendEvent(ctx, st.RoundID,
		cvEvent("RED", "STRIKE_HOOK", 10050, 0.9, 0.8), core.SourceCV, "e2e")
	if err == nil {
		t.Fatal("identical event 50ms later should be rejected as a duplicate")
	}
	rej, ok := err.(*pipeline.Rejection)
	if !ok {
		t.Fatalf("expected *pipeline.Rejection, got %T: %v", err, err)
	}
	if rej.Reason != pipeline.ReasonDuplicate {
		t.Errorf("expected DUPLICATE rejection, got %s", rej.Reason)
	}

	verdict, err := s.manager.ComputeScore(ctx, st.RoundID, "e2e")
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if got := verdict.Receipt.Red.Striking; got != 2.5 {
		t.Errorf("RED striking should be 2.5 (one solid hook), got %.2f", got)
	}
	if verdict.Receipt.Red.SolidStrikes != 1 {
		t.Errorf("exactly one solid strike should remain, got %d", verdict.Receipt.Red.SolidStrikes)
	}
}

// =============================================================================
// 2. MULTI-CAMERA FUSION
// =============================================================================

func TestE2E_MulticamFusion(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	st, err := s.manager.OpenRound(ctx, "e2e-fusion", 1, "e2e")
	if err != nil {
		t.Fatalf("open round: %v", err)
	}

	angle := func(deg float64) *float64 { return &deg }
	batch := []harmonizer.RawEvent{
		cvEvent("RED", "STRIKE_CROSS", 20000, 0.6, 0.7),
		cvEvent("RED", "STRIKE_CROSS", 20080, 0.9, 0.7),
		cvEvent("RED", "STRIKE_CROSS", 20140, 0.75, 0.7),
	}
	batch[0].CameraID, batch[0].AngleDegrees = "cam-1", angle(30)
	batch[1].CameraID, batch[1].AngleDegrees = "cam-2", angle(90)
	batch[2].CameraID, batch[2].AngleDegrees = "cam-3", angle(250)

	admitted, rejected, err := s.manager.AppendBatch(ctx, st.RoundID, batch, core.SourceCV, "e2e")
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if len(rejected) != 0 {
		t.Fatalf("no rejections expected, got %v", rejected)
	}
	if len(admitted) != 1 {
		t.Fatalf("fusion should admit exactly one canonical event, got %d", len(admitted))
	}

	// cam-2: confidence 0.9 at 90° (weight 1.0) beats 0.6×0.7 and 0.75×1.0
	winner := admitted[0]
	if winner.TimestampMS != 20080 {
		t.Errorf("the 20080 observation should win fusion, got %d", winner.TimestampMS)
	}
	if winner.CameraID != "cam-2" {
		t.Errorf("cam-2 should win fusion, got %s", winner.CameraID)
	}
	if !winner.Canonical {
		t.Error("fusion winner should be marked canonical")
	}

	stats, err := s.manager.PipelineStats(st.RoundID)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.MulticamFusions != 1 {
		t.Errorf("multicam_fusions should be 1, got %d", stats.MulticamFusions)
	}
}

// =============================================================================
// 3. CLEAR 10-9
// =============================================================================

func TestE2E_ClearTenNine(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	st, err := s.manager.OpenRound(ctx, "e2e-109", 1, "e2e")
	if err != nil {
		t.Fatalf("open round: %v", err)
	}

	for i := 0; i < 10; i++ {
		mustAppend(t, s, st.RoundID, judgeEvent("RED", "STRIKE_JAB", int64(10000+i*2000)), core.SourceJudge)
	}
	for i := 0; i < 3; i++ {
		mustAppend(t, s, st.RoundID, judgeEvent("BLUE", "STRIKE_JAB", int64(11000+i*2000)), core.SourceJudge)
	}

	verdict, err := s.manager.ComputeScore(ctx, st.RoundID, "e2e")
	if err != nil {
		t.Fatalf("score: %v", err)
	}

	if verdict.Winner != "RED" || verdict.ScoreCard != "10-9" {
		t.Errorf("expected 10-9 RED, got %s %s", verdict.ScoreCard, verdict.Winner)
	}
	if verdict.Receipt.PlanB.Allowed {
		t.Error("Plan B should be disabled on a decisive Plan A margin")
	}
	if verdict.Receipt.ImpactAdvantage.Red || verdict.Receipt.ImpactAdvantage.Blue {
		t.Error("no impact advantage expected without knockdowns")
	}
}

// =============================================================================
// 4. 10-8 BY KNOCKDOWNS
// =============================================================================

func TestE2E_TenEightByKnockdowns(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	st, err := s.manager.OpenRound(ctx, "e2e-108", 1, "e2e")
	if err != nil {
		t.Fatalf("open round: %v", err)
	}

	for i := 0; i < 3; i++ {
		mustAppend(t, s, st.RoundID, judgeEvent("RED", "KD_HARD", int64(20000+i*30000)), core.SourceJudge)
	}
	for i := 0; i < 2; i++ {
		mustAppend(t, s, st.RoundID, judgeEvent("RED", "KD_NF", int64(120000+i*30000)), core.SourceJudge)
	}
	for i := 0; i < 8; i++ {
		mustAppend(t, s, st.RoundID, judgeEvent("RED", "STRIKE_HOOK", int64(15000+i*2000)), core.SourceJudge)
	}
	for i := 0; i < 2; i++ {
		mustAppend(t, s, st.RoundID, judgeEvent("BLUE", "STRIKE_HOOK", int64(40000+i*2000)), core.SourceJudge)
	}

	verdict, err := s.manager.ComputeScore(ctx, st.RoundID, "e2e")
	if err != nil {
		t.Fatalf("score: %v", err)
	}

	if verdict.Winner != "RED" || verdict.ScoreCard != "10-8" {
		t.Errorf("expected 10-8 RED, got %s %s", verdict.ScoreCard, verdict.Winner)
	}
	if verdict.Receipt.Red.Knockdowns != 3 {
		t.Errorf("3 hard knockdowns expected, got %d", verdict.Receipt.Red.Knockdowns)
	}
	if diff := verdict.Receipt.Red.HeavyStrikes - verdict.Receipt.Blue.HeavyStrikes; diff != 6 {
		t.Errorf("heavy-strike advantage should be 6, got %d", diff)
	}
}

// =============================================================================
// 5. IMPACT BREAKS THE DRAW
// =============================================================================

func TestE2E_ImpactBreaksDraw(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	st, err := s.manager.OpenRound(ctx, "e2e-draw", 1, "e2e")
	if err != nil {
		t.Fatalf("open round: %v", err)
	}

	// Identical striking output; the knockdown quality differs.
	for i := 0; i < 5; i++ {
		mustAppend(t, s, st.RoundID, judgeEvent("RED", "STRIKE_JAB", int64(10000+i*2000)), core.SourceJudge)
		mustAppend(t, s, st.RoundID, judgeEvent("BLUE", "STRIKE_JAB", int64(11000+i*2000)), core.SourceJudge)
	}
	mustAppend(t, s, st.RoundID, judgeEvent("RED", "KD_FLASH", 100000), core.SourceJudge)
	mustAppend(t, s, st.RoundID, judgeEvent("BLUE", "KD_HARD", 200000), core.SourceJudge)

	verdict, err := s.manager.ComputeScore(ctx, st.RoundID, "e2e")
	if err != nil {
		t.Fatalf("score: %v", err)
	}

	if verdict.Winner != "BLUE" || verdict.ScoreCard != "9-10" {
		t.Errorf("expected 9-10 BLUE, got %s %s", verdict.ScoreCard, verdict.Winner)
	}
	if !verdict.Receipt.ImpactAdvantage.Blue {
		t.Error("BLUE should hold the impact advantage with a hard knockdown")
	}
	if verdict.Receipt.ImpactAdvantage.Red {
		t.Error("a flash knockdown alone should not grant RED the impact advantage")
	}
}

// =============================================================================
// 6. LOCK REFUSED WITHOUT JUDGE EVENTS
// =============================================================================

func TestE2E_LockRefusedWithoutJudgeEvents(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	st, err := s.manager.OpenRound(ctx, "e2e-refuse", 1, "e2e")
	if err != nil {
		t.Fatalf("open round: %v", err)
	}

	for i := 0; i < 6; i++ {
		mustAppend(t, s, st.RoundID, cvEvent("RED", "STRIKE_JAB", int64(10000+i*40000), 0.9, 0.6), core.SourceCV)
	}

	res, err := s.manager.LockRound(ctx, st.RoundID, "e2e")
	if err != nil {
		t.Fatalf("lock attempt: %v", err)
	}
	if !res.Refused {
		t.Fatal("lock should be refused with zero judge events")
	}
	if res.Report == nil || res.Report.Criticals == 0 {
		t.Fatal("refusal report should carry a critical issue")
	}
	if got := res.Report.DominantIssue(); got != rounds.IssueMissingJudgeEvents {
		t.Errorf("dominant issue should be %s, got %s", rounds.IssueMissingJudgeEvents, got)
	}

	after, err := s.manager.GetRound(ctx, st.RoundID)
	if err != nil {
		t.Fatalf("get round: %v", err)
	}
	if after.Status != core.StatusScoring {
		t.Errorf("status should stay SCORING after a refused lock, got %s", after.Status)
	}

	for _, action := range s.auditStore.Actions("e2e-refuse") {
		if action == string(audit.ActionRoundLocked) {
			t.Error("a refused lock must not produce a round_locked audit entry")
		}
	}
}
