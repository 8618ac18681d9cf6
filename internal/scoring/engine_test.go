package scoring

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ringside/backend/internal/core"
)

func strike(corner core.Corner, t core.EventType, tsMS int64, quality string) core.CombatEvent {
	return core.CombatEvent{
		EventID:     fmt.Sprintf("ev-%s-%s-%d", corner, t, tsMS),
		BoutID:      "bout-1",
		RoundID:     "round-1",
		FighterID:   corner,
		EventType:   t,
		Severity:    0.7,
		Confidence:  1.0,
		TimestampMS: tsMS,
		Source:      core.SourceJudge,
		Metadata:    core.EventMeta{Quality: quality},
	}
}

func impact(corner core.Corner, t core.EventType, tsMS int64) core.CombatEvent {
	ev := strike(corner, t, tsMS, "")
	ev.Metadata = core.EventMeta{}
	return ev
}

func TestScoreEmptyRoundIsDraw(t *testing.T) {
	v := NewEngine(nil).Score(nil)
	assert.Equal(t, "DRAW", v.Winner)
	assert.Equal(t, "10-10", v.ScoreCard)
	assert.Equal(t, 10, v.RedPoints)
	assert.Equal(t, 10, v.BluePoints)
}

func TestScoreSingleHook(t *testing.T) {
	v := NewEngine(nil).Score([]core.CombatEvent{
		strike(core.CornerRed, core.StrikeHook, 10000, core.QualitySolid),
	})
	assert.InDelta(t, 2.5, v.Receipt.Red.Striking, 1e-9)
	assert.Equal(t, "RED", v.Winner)
	assert.Equal(t, "10-9", v.ScoreCard)
}

// Clear 10-9: ten jabs against three. The differential leg of the 10-8
// gate is satisfied but the impact leg is not, so the card stays 10-9.
func TestClearTenNine(t *testing.T) {
	var events []core.CombatEvent
	for i := 0; i < 10; i++ {
		events = append(events, strike(core.CornerRed, core.StrikeJab, int64(1000*(i+1)), core.QualitySolid))
	}
	for i := 0; i < 3; i++ {
		events = append(events, strike(core.CornerBlue, core.StrikeJab, int64(1500*(i+1)), core.QualitySolid))
	}

	v := NewEngine(nil).Score(events)
	require.NotNil(t, v.Receipt)

	assert.InDelta(t, 7.0, v.Receipt.PlanA.Delta, 1e-9)
	assert.False(t, v.Receipt.ImpactAdvantage.Red)
	assert.False(t, v.Receipt.ImpactAdvantage.Blue)
	assert.False(t, v.Receipt.PlanB.Allowed, "plan A separated the fighters")
	assert.False(t, v.Receipt.PlanC.Allowed)
	assert.Equal(t, "RED", v.Winner)
	assert.Equal(t, "10-9", v.ScoreCard)
}

// 10-8 by knockdowns: three hard knockdowns plus two near-finish
// knockdowns, heavy-strike margin six. Knockdowns are spaced outside
// the pairing window so the 10-7 gate stays closed.
func TestTenEightByKnockdowns(t *testing.T) {
	events := []core.CombatEvent{
		impact(core.CornerRed, core.KDHard, 10000),
		impact(core.CornerRed, core.KDHard, 60000),
		impact(core.CornerRed, core.KDHard, 120000),
		impact(core.CornerRed, core.KDNF, 180000),
		impact(core.CornerRed, core.KDNF, 240000),
	}
	for i := 0; i < 8; i++ {
		events = append(events, strike(core.CornerRed, core.StrikeHook, int64(5000+i*7000), core.QualitySolid))
	}
	for i := 0; i < 2; i++ {
		events = append(events, strike(core.CornerBlue, core.StrikeHook, int64(9000+i*9000), core.QualitySolid))
	}

	v := NewEngine(nil).Score(events)
	assert.Equal(t, "RED", v.Winner)
	assert.Equal(t, "10-8", v.ScoreCard)
	assert.Equal(t, 3, v.Receipt.Red.Knockdowns)
	assert.Equal(t, 2, v.Receipt.Red.KDNF)
	assert.Equal(t, 6, v.Receipt.Red.HeavyStrikes-v.Receipt.Blue.HeavyStrikes)
	assert.NotEmpty(t, v.Receipt.GateMessages)
}

// Knockdowns landed at exactly the pairing-window cadence do not chain
// into near-finish sequences: the window is strict, so a 30 s drumbeat
// of knockdowns counts only its KD_NF events and the 10-7 gate stays
// closed.
func TestKnockdownsAtPairingWindowBoundary(t *testing.T) {
	events := []core.CombatEvent{
		impact(core.CornerRed, core.KDHard, 20000),
		impact(core.CornerRed, core.KDHard, 50000),
		impact(core.CornerRed, core.KDHard, 80000),
		impact(core.CornerRed, core.KDNF, 110000),
		impact(core.CornerRed, core.KDNF, 140000),
	}
	for i := 0; i < 8; i++ {
		events = append(events, strike(core.CornerRed, core.StrikeHook, int64(5000+i*7000), core.QualitySolid))
	}
	for i := 0; i < 2; i++ {
		events = append(events, strike(core.CornerBlue, core.StrikeHook, int64(9000+i*9000), core.QualitySolid))
	}

	v := NewEngine(nil).Score(events)
	assert.Equal(t, 2, v.Receipt.Red.NearFinishSequences)
	assert.Equal(t, "RED", v.Winner)
	assert.Equal(t, "10-8", v.ScoreCard)

	// A gap just inside the window does pair.
	events[1].TimestampMS = 49999
	v = NewEngine(nil).Score(events)
	assert.Equal(t, 3, v.Receipt.Red.NearFinishSequences)
}

// Draw rule suppressed by impact: BLUE's hard knockdown outweighs RED's
// flash knockdown through the impact category, and the advantage flag
// blocks the 10-10.
func TestImpactTiltsNearEvenRound(t *testing.T) {
	events := []core.CombatEvent{
		impact(core.CornerRed, core.KDFlash, 30000),
		impact(core.CornerBlue, core.KDHard, 90000),
		strike(core.CornerRed, core.StrikeJab, 10000, core.QualitySolid),
		strike(core.CornerBlue, core.StrikeJab, 12000, core.QualitySolid),
	}

	v := NewEngine(nil).Score(events)
	assert.True(t, v.Receipt.ImpactAdvantage.Blue)
	assert.False(t, v.Receipt.ImpactAdvantage.Red)
	assert.Equal(t, "BLUE", v.Winner)
	assert.Equal(t, "9-10", v.ScoreCard)
}

func TestTenSevenGate(t *testing.T) {
	var events []core.CombatEvent
	// Four knockdowns spread across the round.
	events = append(events,
		impact(core.CornerRed, core.KDHard, 20000),
		impact(core.CornerRed, core.KDHard, 80000),
		impact(core.CornerRed, core.KDFlash, 140000),
		impact(core.CornerRed, core.KDHard, 200000),
	)
	// Massive heavy-strike differential.
	for i := 0; i < 12; i++ {
		events = append(events, strike(core.CornerRed, core.KickBody, int64(4000+i*6000), core.QualitySolid))
	}

	v := NewEngine(nil).Score(events)
	assert.Equal(t, "RED", v.Winner)
	assert.Equal(t, "10-7", v.ScoreCard)
	assert.Equal(t, 7, v.BluePoints)
}

func TestPlanBOnlyWhenAllowed(t *testing.T) {
	// Near-even striking, RED far busier: Plan B breaks the tie.
	events := []core.CombatEvent{
		strike(core.CornerRed, core.StrikeJab, 1000, core.QualitySolid),
		strike(core.CornerBlue, core.StrikeJab, 2000, core.QualitySolid),
	}
	for i := 0; i < 4; i++ {
		events = append(events, impact(core.CornerRed, core.Aggression, int64(10000+i*5000)))
	}

	v := NewEngine(nil).Score(events)
	require.True(t, v.Receipt.PlanB.Allowed)
	assert.InDelta(t, 1.2, v.Receipt.PlanB.Delta, 1e-9)
	assert.Equal(t, "RED", v.Winner)

	// An impact advantage shuts Plan B off entirely.
	events = append(events, impact(core.CornerBlue, core.KDHard, 60000))
	v = NewEngine(nil).Score(events)
	assert.False(t, v.Receipt.PlanB.Allowed)
	assert.Zero(t, v.Receipt.PlanB.Delta)
	assert.False(t, v.Receipt.PlanC.Allowed)
	assert.Zero(t, v.Receipt.PlanC.Delta)
}

func TestPlanBCap(t *testing.T) {
	var events []core.CombatEvent
	for i := 0; i < 20; i++ {
		events = append(events, impact(core.CornerRed, core.Pressing, int64(1000+i*1000)))
	}
	v := NewEngine(nil).Score(events)
	require.True(t, v.Receipt.PlanB.Allowed)
	assert.InDelta(t, 1.5, v.Receipt.PlanB.Delta, 1e-9, "capped at plan_b_cap")
}

func TestPlanCCageControl(t *testing.T) {
	start := strike(core.CornerRed, core.ControlStart, 10000, "")
	start.Metadata = core.EventMeta{ControlType: core.ControlCage}
	end := strike(core.CornerRed, core.ControlEnd, 70000, "")
	end.Metadata = core.EventMeta{ControlType: core.ControlCage}

	v := NewEngine(nil).Score([]core.CombatEvent{start, end})
	require.True(t, v.Receipt.PlanC.Allowed)
	// 60 s of cage control, no offense: 0.006 * 60 * 0.5.
	assert.InDelta(t, 0.18, v.Receipt.PlanC.Delta, 1e-9)
	assert.InDelta(t, 60, v.Receipt.Red.CageSeconds, 1e-9)
	assert.Zero(t, v.Receipt.Red.Control, "cage control never feeds plan A")
}

func TestControlWindowOffenseMultiplier(t *testing.T) {
	start := strike(core.CornerRed, core.ControlStart, 0, "")
	start.Metadata = core.EventMeta{ControlType: core.ControlTop}
	end := strike(core.CornerRed, core.ControlEnd, 100000, "")
	end.Metadata = core.EventMeta{ControlType: core.ControlTop}
	ground := strike(core.CornerRed, core.StrikeGround, 50000, core.QualitySolid)

	v := NewEngine(nil).Score([]core.CombatEvent{start, end, ground})
	// 100 s top control with offense: 0.010 * 100 * 1.10, plus the
	// ground strike itself.
	assert.InDelta(t, 1.10, v.Receipt.Red.Control, 1e-9)
	assert.InDelta(t, 100, v.Receipt.Red.TopSeconds, 1e-9)
	assert.InDelta(t, 1.2, v.Receipt.Red.Striking, 1e-9)
}

func TestLegacyControlPosition(t *testing.T) {
	ev := strike(core.CornerBlue, core.ControlPosition, 120000, "")
	ev.Metadata = core.EventMeta{ControlType: core.ControlBack, DurationSeconds: 50}

	v := NewEngine(nil).Score([]core.CombatEvent{ev})
	assert.InDelta(t, 50, v.Receipt.Blue.BackSeconds, 1e-9)
	// 0.012 * 50 * 0.5, no offense inside the implied window.
	assert.InDelta(t, 0.3, v.Receipt.Blue.Control, 1e-9)
}

func TestUnmatchedControlStartClosedAtRoundEnd(t *testing.T) {
	start := strike(core.CornerRed, core.ControlStart, 10000, "")
	start.Metadata = core.EventMeta{ControlType: core.ControlTop}
	late := strike(core.CornerBlue, core.StrikeJab, 70000, core.QualitySolid)

	v := NewEngine(nil).Score([]core.CombatEvent{start, late})
	// Window truncated at the last event: 60 s, no offense by RED.
	assert.InDelta(t, 60, v.Receipt.Red.TopSeconds, 1e-9)
}

func TestLDIEscalation(t *testing.T) {
	// Seven leg kicks: the index on BLUE steps 0.1 per kick, so the
	// multiplier ladder is 1.0 x3, 1.1 x3, 1.25 x1.
	var events []core.CombatEvent
	for i := 0; i < 7; i++ {
		events = append(events, strike(core.CornerRed, core.KickLeg, int64(5000*(i+1)), core.QualitySolid))
	}
	v := NewEngine(nil).Score(events)

	want := 1.5 * (3*1.0 + 3*1.1 + 1*1.25)
	assert.InDelta(t, want, v.Receipt.Red.Striking, 1e-9)
}

func TestLDIIsPerTarget(t *testing.T) {
	// Kicks trade both ways; each fighter's index accumulates
	// independently, so four kicks each stay below the second tier.
	var events []core.CombatEvent
	for i := 0; i < 2; i++ {
		events = append(events, strike(core.CornerRed, core.KickLeg, int64(1000*(i+1)), core.QualitySolid))
		events = append(events, strike(core.CornerBlue, core.KickLeg, int64(1000*(i+1))+500, core.QualitySolid))
	}
	v := NewEngine(nil).Score(events)
	assert.InDelta(t, v.Receipt.Red.Striking, v.Receipt.Blue.Striking, 1e-9)
	assert.InDelta(t, 3.0, v.Receipt.Red.Striking, 1e-9)
}

func TestLightQualityHalves(t *testing.T) {
	v := NewEngine(nil).Score([]core.CombatEvent{
		strike(core.CornerRed, core.StrikeCross, 1000, core.QualityLight),
	})
	assert.InDelta(t, 1.0, v.Receipt.Red.Striking, 1e-9)
	assert.Zero(t, v.Receipt.Red.SolidStrikes)
}

func TestTakedownStuffedCreditsDefender(t *testing.T) {
	v := NewEngine(nil).Score([]core.CombatEvent{
		impact(core.CornerBlue, core.TDStuffed, 20000),
	})
	assert.InDelta(t, 0.5, v.Receipt.Blue.Grappling, 1e-9)
	assert.Equal(t, 1, v.Receipt.Blue.TakedownsStuffed)
}

func TestSubmissionTiers(t *testing.T) {
	mk := func(tier string, ts int64) core.CombatEvent {
		ev := impact(core.CornerRed, core.SubAttempt, ts)
		ev.Metadata = core.EventMeta{Tier: tier}
		return ev
	}
	v := NewEngine(nil).Score([]core.CombatEvent{
		mk(core.TierLight, 1000),
		mk(core.TierDeep, 2000),
		mk(core.TierNearFinish, 3000),
	})
	assert.InDelta(t, 2+6+12, v.Receipt.Red.Grappling, 1e-9)
	assert.Equal(t, 1, v.Receipt.Red.SubNearFinish)
	assert.Equal(t, 1, v.Receipt.Red.NearFinishSequences)
}

func TestNearFinishSequencePairing(t *testing.T) {
	// Two knockdowns 10 s apart pair into one sequence; a third 60 s
	// later does not pair with the second.
	v := NewEngine(nil).Score([]core.CombatEvent{
		impact(core.CornerRed, core.KDFlash, 10000),
		impact(core.CornerRed, core.KDFlash, 20000),
		impact(core.CornerRed, core.KDFlash, 80000),
	})
	assert.Equal(t, 1, v.Receipt.Red.NearFinishSequences)
}

func TestReceiptTopContributionsPrioritizeWinner(t *testing.T) {
	var events []core.CombatEvent
	events = append(events, impact(core.CornerRed, core.KDHard, 30000))
	for i := 0; i < 10; i++ {
		events = append(events, strike(core.CornerRed, core.KickHead, int64(1000*(i+1)), core.QualitySolid))
		events = append(events, strike(core.CornerBlue, core.StrikeJab, int64(1100*(i+1)), core.QualitySolid))
	}

	v := NewEngine(nil).Score(events)
	require.NotEmpty(t, v.Receipt.TopContributions)
	assert.LessOrEqual(t, len(v.Receipt.TopContributions), 8)
	assert.Equal(t, core.CornerRed, v.Receipt.TopContributions[0].Corner)
	assert.Equal(t, "KD_HARD", v.Receipt.TopContributions[0].Label)
	for i := 1; i < len(v.Receipt.TopContributions); i++ {
		prev, cur := v.Receipt.TopContributions[i-1], v.Receipt.TopContributions[i]
		if prev.Corner == cur.Corner {
			assert.GreaterOrEqual(t, prev.Points, cur.Points)
		}
	}
}

// Scoring is a pure function: the same event list produces a
// byte-identical verdict, regardless of input order.
func TestScoreDeterminism(t *testing.T) {
	var events []core.CombatEvent
	for i := 0; i < 30; i++ {
		corner := core.CornerRed
		if i%3 == 0 {
			corner = core.CornerBlue
		}
		events = append(events, strike(corner, core.StrikeHook, int64(i*900), core.QualitySolid))
	}
	events = append(events, impact(core.CornerRed, core.KDFlash, 100000))
	start := strike(core.CornerBlue, core.ControlStart, 110000, "")
	start.Metadata = core.EventMeta{ControlType: core.ControlTop}
	end := strike(core.CornerBlue, core.ControlEnd, 150000, "")
	end.Metadata = core.EventMeta{ControlType: core.ControlTop}
	events = append(events, start, end)

	engine := NewEngine(nil)
	a, err := json.Marshal(engine.Score(events))
	require.NoError(t, err)

	reversed := make([]core.CombatEvent, len(events))
	for i, ev := range events {
		reversed[len(events)-1-i] = ev
	}
	b, err := json.Marshal(engine.Score(reversed))
	require.NoError(t, err)

	assert.Equal(t, string(a), string(b))
}

func TestGateNecessity(t *testing.T) {
	// Differential without impact never upgrades the card.
	var events []core.CombatEvent
	for i := 0; i < 30; i++ {
		events = append(events, strike(core.CornerRed, core.KickHead, int64(1000*(i+1)), core.QualitySolid))
	}
	v := NewEngine(nil).Score(events)
	assert.Equal(t, "10-9", v.ScoreCard, "no knockdowns: differential alone is not a 10-8")

	// Impact without differential stays 10-9 too: BLUE's volume keeps
	// the plan A lead, solid-strike and heavy-strike margins all under
	// the gate thresholds.
	events = []core.CombatEvent{
		impact(core.CornerRed, core.KDFlash, 10000),
		impact(core.CornerRed, core.KDFlash, 60000),
		impact(core.CornerRed, core.KDFlash, 120000),
	}
	for i := 0; i < 21; i++ {
		events = append(events, strike(core.CornerBlue, core.StrikeCross, int64(2000*(i+1)), core.QualitySolid))
	}
	v = NewEngine(nil).Score(events)
	require.Equal(t, "RED", v.Winner)
	assert.Equal(t, "10-9", v.ScoreCard, "three knockdowns without a differential stay 10-9")
}

func BenchmarkScore(b *testing.B) {
	var events []core.CombatEvent
	for i := 0; i < 200; i++ {
		corner := core.CornerRed
		if i%2 == 0 {
			corner = core.CornerBlue
		}
		events = append(events, strike(corner, core.StrikeHook, int64(i*1500), core.QualitySolid))
	}
	engine := NewEngine(nil)

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		engine.Score(events)
	}
}
