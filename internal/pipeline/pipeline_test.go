package pipeline

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ringside/backend/internal/clock"
	"github.com/ringside/backend/internal/config"
	"github.com/ringside/backend/internal/core"
)

func testPipeline(t *testing.T) (*Pipeline, *config.Coordinator, *clock.ManualClock) {
	t.Helper()
	clk := clock.NewManualClock(time.Date(2025, 3, 14, 21, 0, 0, 0, time.UTC))
	coord := config.NewCoordinator(nil, config.NewInMemoryCalibrationStore())
	return New(coord, clk, nil), coord, clk
}

func newEvent(eventType core.EventType, corner core.Corner, ts int64, conf float64) core.CombatEvent {
	return core.CombatEvent{
		EventID:     fmt.Sprintf("ev-%s-%s-%d", corner, eventType, ts),
		BoutID:      "bout-1",
		RoundID:     "round-1",
		FighterID:   corner,
		EventType:   eventType,
		Severity:    0.5,
		Confidence:  conf,
		TimestampMS: ts,
		Source:      core.SourceCV,
	}
}

func angleOf(deg float64) *float64 { return &deg }

func TestConfidenceFilter(t *testing.T) {
	p, _, clk := testPipeline(t)

	_, err := p.Admit(newEvent(core.StrikeJab, core.CornerRed, 1000, 0.4))
	var rej *Rejection
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, ReasonLowConfidence, rej.Reason)
	assert.Contains(t, rej.Detail, "0.400")

	// raising confidence to the threshold admits: the filter is strict less-than
	ev, err := p.Admit(newEvent(core.StrikeJab, core.CornerRed, 1000, 0.5))
	require.NoError(t, err)
	assert.True(t, ev.Deduplicated)
	assert.Equal(t, clk.Now(), ev.ProcessedAt)

	stats := p.Stats()
	assert.Equal(t, int64(1), stats.TotalAdmitted)
	assert.Equal(t, int64(1), stats.RejectedLowConfidence)
}

func TestDeduplicationWindow(t *testing.T) {
	p, _, _ := testPipeline(t)

	first, err := p.Admit(newEvent(core.StrikeHook, core.CornerRed, 10000, 0.9))
	require.NoError(t, err)

	_, err = p.Admit(newEvent(core.StrikeHook, core.CornerRed, 10050, 0.9))
	var rej *Rejection
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, ReasonDuplicate, rej.Reason)
	assert.Contains(t, rej.Detail, first.EventID)

	// same gap, different type or corner: not a duplicate
	_, err = p.Admit(newEvent(core.StrikeCross, core.CornerRed, 10050, 0.9))
	assert.NoError(t, err)
	_, err = p.Admit(newEvent(core.StrikeHook, core.CornerBlue, 10060, 0.9))
	assert.NoError(t, err)

	// a full window away admits again (strict less-than on the gap)
	_, err = p.Admit(newEvent(core.StrikeHook, core.CornerRed, 11000, 0.9))
	assert.NoError(t, err)

	stats := p.Stats()
	assert.Equal(t, int64(4), stats.TotalAdmitted)
	assert.Equal(t, int64(1), stats.RejectedDuplicates)
}

func TestDeduplicationHistoryBounded(t *testing.T) {
	p, _, _ := testPipeline(t)

	for i := 0; i < 55; i++ {
		_, err := p.Admit(newEvent(core.StrikeJab, core.CornerRed, int64(i)*2000, 0.9))
		require.NoError(t, err)
	}

	// ts 100 is inside the window of the very first admit (ts 0), but
	// that event has fallen out of the 50-event history
	_, err := p.Admit(newEvent(core.StrikeJab, core.CornerRed, 100, 0.9))
	assert.NoError(t, err)
	assert.Equal(t, int64(56), p.Stats().TotalAdmitted)
}

func TestCVEscalation(t *testing.T) {
	p, coord, _ := testPipeline(t)

	ev, err := p.Admit(newEvent(core.StrikeSig, core.CornerRed, 1000, 0.85))
	require.NoError(t, err)
	assert.Equal(t, core.StrikeHighImpact, ev.EventType)

	ev, err = p.Admit(newEvent(core.StrikeSig, core.CornerRed, 5000, 0.84))
	require.NoError(t, err)
	assert.Equal(t, core.StrikeSig, ev.EventType)

	ev, err = p.Admit(newEvent(core.KDFlash, core.CornerRed, 9000, 0.90))
	require.NoError(t, err)
	assert.Equal(t, core.KDHard, ev.EventType)

	ev, err = p.Admit(newEvent(core.KDFlash, core.CornerRed, 13000, 0.89))
	require.NoError(t, err)
	assert.Equal(t, core.KDFlash, ev.EventType)

	// judge entries never move, whatever the confidence
	judged := newEvent(core.StrikeSig, core.CornerBlue, 17000, 0.99)
	judged.Source = core.SourceJudge
	ev, err = p.Admit(judged)
	require.NoError(t, err)
	assert.Equal(t, core.StrikeSig, ev.EventType)

	// the ROCKED downgrade only shows once the confidence floor sits below it
	_, err = coord.Update(context.Background(), "test", func(c *config.Calibration) {
		c.ConfidenceThreshold = 0.3
	})
	require.NoError(t, err)

	ev, err = p.Admit(newEvent(core.Rocked, core.CornerRed, 21000, 0.45))
	require.NoError(t, err)
	assert.Equal(t, core.StrikeHighImpact, ev.EventType)

	ev, err = p.Admit(newEvent(core.Rocked, core.CornerRed, 25000, 0.60))
	require.NoError(t, err)
	assert.Equal(t, core.Rocked, ev.EventType)
}

func TestFuseBatchPicksAngleWeightedWinner(t *testing.T) {
	p, _, _ := testPipeline(t)

	a := newEvent(core.StrikeCross, core.CornerRed, 20000, 0.6)
	a.AngleDegrees = angleOf(30) // side-on, weight 0.7
	b := newEvent(core.StrikeCross, core.CornerRed, 20080, 0.9)
	b.AngleDegrees = angleOf(90) // front, weight 1.0
	c := newEvent(core.StrikeCross, core.CornerRed, 20140, 0.75)
	c.AngleDegrees = angleOf(250) // back, weight 1.0

	canonical, dropped := p.FuseBatch([]core.CombatEvent{c, a, b})
	require.Len(t, canonical, 1)
	require.Len(t, dropped, 2)

	winner := canonical[0]
	assert.Equal(t, b.EventID, winner.EventID, "0.90 beats 0.42 and 0.75")
	assert.True(t, winner.Canonical)
	for _, d := range dropped {
		assert.False(t, d.Canonical)
	}
	assert.Equal(t, int64(1), p.Stats().MulticamFusions)
}

func TestFuseBatchGroupClosedByNonSimilarEvent(t *testing.T) {
	p, _, _ := testPipeline(t)

	events := []core.CombatEvent{
		newEvent(core.StrikeCross, core.CornerRed, 1000, 0.9),
		newEvent(core.StrikeJab, core.CornerBlue, 1050, 0.9),
		newEvent(core.StrikeCross, core.CornerRed, 1100, 0.8),
	}

	canonical, dropped := p.FuseBatch(events)
	assert.Len(t, canonical, 3, "the interleaved jab closes the cross group")
	assert.Empty(t, dropped)
	assert.Equal(t, int64(0), p.Stats().MulticamFusions)
}

func TestFuseBatchWindowAnchorsOnFirstMember(t *testing.T) {
	p, _, _ := testPipeline(t)

	// 0 and 200 join the group anchored at 0; 260 is past the 250ms
	// window relative to the anchor, so it starts a new group
	events := []core.CombatEvent{
		newEvent(core.StrikeHook, core.CornerRed, 0, 0.6),
		newEvent(core.StrikeHook, core.CornerRed, 200, 0.9),
		newEvent(core.StrikeHook, core.CornerRed, 260, 0.8),
	}

	canonical, dropped := p.FuseBatch(events)
	require.Len(t, canonical, 2)
	require.Len(t, dropped, 1)
	assert.Equal(t, events[1].EventID, canonical[0].EventID)
	assert.Equal(t, events[2].EventID, canonical[1].EventID)
}

func TestFuseBatchUnknownAngle(t *testing.T) {
	p, _, _ := testPipeline(t)

	a := newEvent(core.StrikeHook, core.CornerRed, 1000, 0.9) // no angle: weight 0.8
	b := newEvent(core.StrikeHook, core.CornerRed, 1010, 0.8)
	b.AngleDegrees = angleOf(90)

	canonical, _ := p.FuseBatch([]core.CombatEvent{a, b})
	require.Len(t, canonical, 1)
	assert.Equal(t, b.EventID, canonical[0].EventID, "0.8x1.0 beats 0.9x0.8")
}

func TestFuseBatchSingletonPassesThrough(t *testing.T) {
	p, _, _ := testPipeline(t)

	lone := newEvent(core.KickLeg, core.CornerBlue, 4000, 0.7)
	canonical, dropped := p.FuseBatch([]core.CombatEvent{lone})
	require.Len(t, canonical, 1)
	assert.Empty(t, dropped)
	assert.False(t, canonical[0].Canonical, "no fusion, no canonical tag")
	assert.Equal(t, int64(0), p.Stats().MulticamFusions)
}

func TestDetectMomentumSynthesizesSwing(t *testing.T) {
	p, _, _ := testPipeline(t)

	flurry := []core.CombatEvent{
		newEvent(core.StrikeSig, core.CornerRed, 1000, 0.8),
		newEvent(core.StrikeJab, core.CornerRed, 1500, 0.9), // not a flurry type
		newEvent(core.StrikeHighImpact, core.CornerRed, 3000, 0.9),
		newEvent(core.StrikeSig, core.CornerBlue, 3500, 0.9), // wrong corner
		newEvent(core.StrikeSig, core.CornerRed, 5000, 1.0),
	}
	flurry[0].Severity = 0.5
	flurry[2].Severity = 0.6
	flurry[4].Severity = 0.7

	swings := p.DetectMomentum(flurry, core.CornerRed)
	require.Len(t, swings, 1)

	swing := swings[0]
	assert.Equal(t, core.MomentumSwing, swing.EventType)
	assert.Equal(t, core.CornerRed, swing.FighterID)
	assert.Equal(t, core.SourceAnalytics, swing.Source)
	assert.Equal(t, int64(5000), swing.TimestampMS, "stamped with the last strike")
	assert.InDelta(t, 0.72, swing.Severity, 1e-9, "avg 0.6 x 1.2")
	assert.InDelta(t, 0.9, swing.Confidence, 1e-9)
	assert.Equal(t, 3, swing.Metadata.StrikesInFlurry)
	assert.Equal(t, int64(4000), swing.Metadata.TimeSpanMS)
	assert.Equal(t, "flurry", swing.Metadata.Trigger)
	assert.True(t, swing.Canonical)
	assert.NotEmpty(t, swing.EventID)

	assert.Equal(t, int64(1), p.Stats().MomentumSwingsDetected)
}

func TestDetectMomentumNeedsThreeStrikes(t *testing.T) {
	p, _, _ := testPipeline(t)

	two := []core.CombatEvent{
		newEvent(core.StrikeSig, core.CornerRed, 1000, 0.9),
		newEvent(core.StrikeSig, core.CornerRed, 2000, 0.9),
	}
	assert.Empty(t, p.DetectMomentum(two, core.CornerRed))
}

func TestDetectMomentumCursorAdvancesPastWindow(t *testing.T) {
	p, _, _ := testPipeline(t)

	var events []core.CombatEvent
	for _, ts := range []int64{0, 1000, 2000, 15000, 16000, 17000} {
		events = append(events, newEvent(core.StrikeSig, core.CornerRed, ts, 0.9))
	}

	swings := p.DetectMomentum(events, core.CornerRed)
	require.Len(t, swings, 2, "two separated flurries, two swings")
	assert.Equal(t, int64(2000), swings[0].TimestampMS)
	assert.Equal(t, int64(17000), swings[1].TimestampMS)
	assert.Equal(t, 3, swings[0].Metadata.StrikesInFlurry)
}

func TestDetectMomentumSeverityCapped(t *testing.T) {
	p, _, _ := testPipeline(t)

	events := []core.CombatEvent{
		newEvent(core.StrikeSig, core.CornerBlue, 1000, 0.9),
		newEvent(core.StrikeSig, core.CornerBlue, 2000, 0.9),
		newEvent(core.StrikeSig, core.CornerBlue, 3000, 0.9),
	}
	for i := range events {
		events[i].Severity = 0.95
	}

	swings := p.DetectMomentum(events, core.CornerBlue)
	require.Len(t, swings, 1)
	assert.Equal(t, 1.0, swings[0].Severity, "avg 0.95 x 1.2 capped at 1.0")
}

func TestCalibrationSnapshotAppliesMidStream(t *testing.T) {
	p, coord, _ := testPipeline(t)

	_, err := p.Admit(newEvent(core.StrikeHook, core.CornerRed, 1000, 0.9))
	require.NoError(t, err)

	_, err = coord.Update(context.Background(), "operator-7", func(c *config.Calibration) {
		c.DeduplicationWindowMS = 100
	})
	require.NoError(t, err)

	// 150ms gap: a duplicate under the old window, clean under the new
	_, err = p.Admit(newEvent(core.StrikeHook, core.CornerRed, 1150, 0.9))
	assert.NoError(t, err)
}
