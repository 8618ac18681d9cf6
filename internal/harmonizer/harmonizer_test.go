package harmonizer

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ringside/backend/internal/core"
)

func i64p(v int64) *int64     { return &v }
func f64p(v float64) *float64 { return &v }

func raw(eventType string) RawEvent {
	return RawEvent{
		BoutID:      "bout-1",
		RoundID:     "round-1",
		FighterID:   "RED",
		EventType:   eventType,
		Confidence:  f64p(0.9),
		TimestampMS: i64p(12000),
	}
}

func rejectionCode(t *testing.T, err error) ErrorCode {
	t.Helper()
	var herr *Error
	require.ErrorAs(t, err, &herr)
	return herr.Code
}

func TestVendorTypeSubstitution(t *testing.T) {
	h := New()

	for alias, want := range map[string]core.EventType{
		"punch_jab":    core.StrikeJab,
		"jab_detected": core.StrikeJab,
		"STRIKE_JAB":   core.StrikeJab,
		"strike_jab":   core.StrikeJab,
		"teep":         core.KickFront,
		"knockdown":    core.KDHard,
	} {
		ev, err := h.Harmonize(raw(alias), core.SourceCV)
		require.NoError(t, err, "alias %q", alias)
		assert.Equal(t, want, ev.EventType, "alias %q", alias)
	}
}

func TestUnknownEventTypeRejected(t *testing.T) {
	h := New()

	_, err := h.Harmonize(raw("interpretive_dance"), core.SourceCV)
	assert.Equal(t, CodeUnknownEventType, rejectionCode(t, err))
}

func TestCornerNormalization(t *testing.T) {
	h := New()

	for input, want := range map[string]core.Corner{
		"RED":       core.CornerRed,
		"red":       core.CornerRed,
		"fighter1":  core.CornerRed,
		"FIGHTER_1": core.CornerRed,
		"BLUE":      core.CornerBlue,
		"blue":      core.CornerBlue,
		"fighter2":  core.CornerBlue,
	} {
		r := raw("STRIKE_JAB")
		r.FighterID = input
		ev, err := h.Harmonize(r, core.SourceCV)
		require.NoError(t, err, "corner %q", input)
		assert.Equal(t, want, ev.FighterID, "corner %q", input)
	}

	for _, input := range []string{"", "GREEN", "fighter3"} {
		r := raw("STRIKE_JAB")
		r.FighterID = input
		_, err := h.Harmonize(r, core.SourceCV)
		assert.Equal(t, CodeMissingCorner, rejectionCode(t, err), "corner %q", input)
	}
}

func TestSeverityPercentageScale(t *testing.T) {
	h := New()

	cases := []struct {
		in   float64
		want float64
	}{
		{0.42, 0.42},
		{1.0, 1.0},
		{85, 0.85},
		{150, 1.0}, // divided by 100 then clamped
	}
	for _, tc := range cases {
		r := raw("STRIKE_HOOK")
		r.Severity = tc.in
		ev, err := h.Harmonize(r, core.SourceCV)
		require.NoError(t, err)
		assert.InDelta(t, tc.want, ev.Severity, 1e-9, "severity %v", tc.in)
	}

	r := raw("STRIKE_HOOK")
	r.Severity = -0.1
	_, err := h.Harmonize(r, core.SourceCV)
	assert.Equal(t, CodeOutOfRange, rejectionCode(t, err))
}

func TestConfidenceDefaultsAndClamp(t *testing.T) {
	h := New()

	r := raw("STRIKE_JAB")
	r.Confidence = nil
	ev, err := h.Harmonize(r, core.SourceJudge)
	require.NoError(t, err)
	assert.Equal(t, 1.0, ev.Confidence, "judge events default to full confidence")

	r = raw("STRIKE_JAB")
	r.Confidence = nil
	_, err = h.Harmonize(r, core.SourceCV)
	assert.Equal(t, CodeMalformedPayload, rejectionCode(t, err), "CV events must state confidence")

	r = raw("STRIKE_JAB")
	r.Confidence = f64p(1.7)
	ev, err = h.Harmonize(r, core.SourceCV)
	require.NoError(t, err)
	assert.Equal(t, 1.0, ev.Confidence)

	r = raw("STRIKE_JAB")
	r.Confidence = f64p(-0.2)
	_, err = h.Harmonize(r, core.SourceCV)
	assert.Equal(t, CodeOutOfRange, rejectionCode(t, err))
}

func TestStrikeQualityDefaultsToSolid(t *testing.T) {
	h := New()

	ev, err := h.Harmonize(raw("STRIKE_HOOK"), core.SourceCV)
	require.NoError(t, err)
	assert.Equal(t, core.QualitySolid, ev.Metadata.Quality)

	r := raw("STRIKE_HOOK")
	r.Metadata = map[string]interface{}{"quality": "light"}
	ev, err = h.Harmonize(r, core.SourceCV)
	require.NoError(t, err)
	assert.Equal(t, core.QualityLight, ev.Metadata.Quality)

	ev, err = h.Harmonize(raw("TD_LAND"), core.SourceCV)
	require.NoError(t, err)
	assert.Empty(t, ev.Metadata.Quality, "non-strikes carry no quality default")
}

func TestEventIDAssignment(t *testing.T) {
	h := New()

	ev, err := h.Harmonize(raw("STRIKE_JAB"), core.SourceCV)
	require.NoError(t, err)
	require.NoError(t, uuid.Validate(ev.EventID), "generated event_id must be a UUID")

	r := raw("STRIKE_JAB")
	r.EventID = "ev-supplied"
	ev, err = h.Harmonize(r, core.SourceCV)
	require.NoError(t, err)
	assert.Equal(t, "ev-supplied", ev.EventID)
}

func TestSourceHintFallback(t *testing.T) {
	h := New()

	ev, err := h.Harmonize(raw("STRIKE_JAB"), core.SourceCV)
	require.NoError(t, err)
	assert.Equal(t, core.SourceCV, ev.Source)

	r := raw("STRIKE_JAB")
	r.Source = "JUDGE_MANUAL"
	ev, err = h.Harmonize(r, core.SourceCV)
	require.NoError(t, err)
	assert.Equal(t, core.SourceJudge, ev.Source, "explicit source wins over the hint")

	r = raw("STRIKE_JAB")
	r.Source = "CARRIER_PIGEON"
	_, err = h.Harmonize(r, core.SourceCV)
	assert.Equal(t, CodeMalformedPayload, rejectionCode(t, err))
}

func TestMetadataParsing(t *testing.T) {
	h := New()

	r := raw("SUB_ATTEMPT")
	r.Metadata = map[string]interface{}{
		"tier":     "deep",
		"target":   "arm",
		"vendor_x": "dropped",
	}
	ev, err := h.Harmonize(r, core.SourceCV)
	require.NoError(t, err)
	assert.Equal(t, core.TierDeep, ev.Metadata.Tier)
	assert.Equal(t, "arm", ev.Metadata.Target)

	r = raw("CONTROL_POSITION")
	r.Metadata = map[string]interface{}{
		"control_type":     "top",
		"duration_seconds": 42,
	}
	ev, err = h.Harmonize(r, core.SourceCV)
	require.NoError(t, err)
	assert.Equal(t, core.ControlTop, ev.Metadata.ControlType)
	assert.Equal(t, 42.0, ev.Metadata.DurationSeconds)

	r = raw("SUB_ATTEMPT")
	r.Metadata = map[string]interface{}{"tier": "BOTTOMLESS"}
	_, err = h.Harmonize(r, core.SourceCV)
	assert.Equal(t, CodeMalformedPayload, rejectionCode(t, err))

	r = raw("CONTROL_START")
	r.Metadata = map[string]interface{}{"control_type": "FLOATING"}
	_, err = h.Harmonize(r, core.SourceCV)
	assert.Equal(t, CodeMalformedPayload, rejectionCode(t, err))
}

func TestStructuralRequirements(t *testing.T) {
	h := New()

	r := raw("STRIKE_JAB")
	r.BoutID = ""
	_, err := h.Harmonize(r, core.SourceCV)
	assert.Equal(t, CodeMalformedPayload, rejectionCode(t, err))

	r = raw("STRIKE_JAB")
	r.TimestampMS = nil
	_, err = h.Harmonize(r, core.SourceCV)
	assert.Equal(t, CodeMalformedPayload, rejectionCode(t, err))
}

func TestPipelineFieldsLeftForAdmission(t *testing.T) {
	h := New()

	ev, err := h.Harmonize(raw("STRIKE_JAB"), core.SourceCV)
	require.NoError(t, err)
	assert.False(t, ev.Deduplicated)
	assert.False(t, ev.Canonical)
	assert.True(t, ev.ProcessedAt.IsZero())
}

func TestHarmonizeBatch(t *testing.T) {
	h := New()

	bad := raw("mystery_move")
	batch := []RawEvent{raw("punch_jab"), bad, raw("hook")}

	accepted, rejected := h.HarmonizeBatch(batch, core.SourceCV)
	require.Len(t, accepted, 2)
	require.Len(t, rejected, 1)

	assert.Equal(t, core.StrikeJab, accepted[0].EventType)
	assert.Equal(t, core.StrikeHook, accepted[1].EventType)
	assert.Equal(t, 1, rejected[0].Index)
	assert.Equal(t, CodeUnknownEventType, rejected[0].Err.Code)
	assert.Equal(t, "mystery_move", rejected[0].Raw.EventType)
}

func TestRegisterVendorType(t *testing.T) {
	h := New()

	_, err := h.Harmonize(raw("hammerfist"), core.SourceCV)
	require.Error(t, err)

	require.NoError(t, h.RegisterVendorType("Hammerfist", core.StrikeGround))
	ev, err := h.Harmonize(raw("hammerfist"), core.SourceCV)
	require.NoError(t, err)
	assert.Equal(t, core.StrikeGround, ev.EventType)

	assert.Error(t, h.RegisterVendorType("x", core.EventType("NOT_A_TYPE")))
	assert.Error(t, h.RegisterVendorType("  ", core.StrikeJab))
}

func TestHarmonizeErrorString(t *testing.T) {
	_, err := New().Harmonize(raw("mystery_move"), core.SourceCV)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "UNKNOWN_EVENT_TYPE")
	assert.True(t, errors.As(err, new(*Error)))
}
