// Package harmonizer normalizes vendor-shaped raw events into the
// canonical CombatEvent model. Harmonization is pure: it touches no
// storage, no bus, and no shared mutable state, so the same input
// always yields the same output (modulo generated event IDs).
package harmonizer

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/ringside/backend/internal/core"
)

// ErrorCode is the machine-readable reason a raw event was rejected.
type ErrorCode string

const (
	CodeUnknownEventType ErrorCode = "UNKNOWN_EVENT_TYPE"
	CodeMissingCorner    ErrorCode = "MISSING_CORNER"
	CodeOutOfRange       ErrorCode = "OUT_OF_RANGE"
	CodeMalformedPayload ErrorCode = "MALFORMED_PAYLOAD"
)

// Error is a harmonization rejection: a stable code for machines plus a
// one-line description for operators. Rejections are expected traffic
// during a live bout and are never treated as fatal.
type Error struct {
	Code   ErrorCode `json:"code"`
	Detail string    `json:"detail"`
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %s", e.Code, e.Detail) }

func errf(code ErrorCode, format string, args ...interface{}) *Error {
	return &Error{Code: code, Detail: fmt.Sprintf(format, args...)}
}

// RawEvent is the wire shape producers send before normalization.
// Pointer fields distinguish absent values from legitimate zeros.
type RawEvent struct {
	EventID      string                 `json:"event_id,omitempty"`
	BoutID       string                 `json:"bout_id"`
	RoundID      string                 `json:"round_id"`
	FighterID    string                 `json:"fighter_id"`
	EventType    string                 `json:"event_type"`
	Severity     float64                `json:"severity,omitempty"`
	Confidence   *float64               `json:"confidence,omitempty"`
	TimestampMS  *int64                 `json:"timestamp_ms"`
	Source       string                 `json:"source,omitempty"`
	CameraID     string                 `json:"camera_id,omitempty"`
	AngleDegrees *float64               `json:"angle_degrees,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// Harmonizer maps vendor event names onto the canonical taxonomy and
// enforces the value ranges of the canonical model. The substitution
// table starts from the built-in vendor aliases and can be extended per
// venue at startup.
type Harmonizer struct {
	mu      sync.RWMutex
	typeMap map[string]core.EventType
}

// New returns a Harmonizer loaded with the built-in vendor alias table.
func New() *Harmonizer {
	h := &Harmonizer{typeMap: make(map[string]core.EventType, len(defaultTypeMap))}
	for alias, canonical := range defaultTypeMap {
		h.typeMap[alias] = canonical
	}
	return h
}

// RegisterVendorType adds a venue-specific alias to the substitution
// table. Aliases are matched case-insensitively.
func (h *Harmonizer) RegisterVendorType(alias string, canonical core.EventType) error {
	if !canonical.Valid() {
		return fmt.Errorf("harmonizer: %q is not a canonical event type", canonical)
	}
	alias = strings.ToLower(strings.TrimSpace(alias))
	if alias == "" {
		return fmt.Errorf("harmonizer: empty vendor alias")
	}
	h.mu.Lock()
	h.typeMap[alias] = canonical
	h.mu.Unlock()
	return nil
}

// Harmonize normalizes one raw event into the canonical model:
//
//  1. vendor event names are mapped through the substitution table
//  2. corner spellings (fighter1, red, ...) collapse to RED or BLUE
//  3. metadata is parsed into the typed shape; strikes default to SOLID
//  4. severity on a 0-100 scale is divided by 100, then clamped to [0,1];
//     confidence is clamped to [0,1]; negative values are rejected
//  5. a UUID event_id is assigned when the producer sent none
//  6. the source falls back to sourceHint when the payload omits it
//
// Pipeline-owned fields (Deduplicated, Canonical, ProcessedAt) are left
// zero; the ingestion pipeline stamps them on admission.
func (h *Harmonizer) Harmonize(raw RawEvent, sourceHint core.Source) (core.CombatEvent, error) {
	var zero core.CombatEvent

	if raw.BoutID == "" || raw.RoundID == "" {
		return zero, errf(CodeMalformedPayload, "bout_id and round_id are required")
	}
	if raw.TimestampMS == nil {
		return zero, errf(CodeMalformedPayload, "timestamp_ms is required")
	}

	eventType, ok := h.resolveType(raw.EventType)
	if !ok {
		return zero, errf(CodeUnknownEventType, "event type %q has no canonical mapping", raw.EventType)
	}

	corner, ok := normalizeCorner(raw.FighterID)
	if !ok {
		return zero, errf(CodeMissingCorner, "fighter_id %q does not resolve to RED or BLUE", raw.FighterID)
	}

	source, herr := resolveSource(raw.Source, sourceHint)
	if herr != nil {
		return zero, herr
	}

	meta, herr := parseMetadata(raw.Metadata)
	if herr != nil {
		return zero, herr
	}
	if eventType.IsStrike() && meta.Quality == "" {
		meta.Quality = core.QualitySolid
	}

	severity := raw.Severity
	if severity < 0 {
		return zero, errf(CodeOutOfRange, "severity %.3f is negative", severity)
	}
	if severity > 1 {
		// vendors on a 0-100 percent scale
		severity /= 100
	}
	severity = clamp01(severity)

	confidence, herr := resolveConfidence(raw.Confidence, source)
	if herr != nil {
		return zero, herr
	}

	eventID := raw.EventID
	if eventID == "" {
		eventID = uuid.NewString()
	}

	return core.CombatEvent{
		EventID:      eventID,
		BoutID:       raw.BoutID,
		RoundID:      raw.RoundID,
		FighterID:    corner,
		EventType:    eventType,
		Severity:     severity,
		Confidence:   confidence,
		TimestampMS:  *raw.TimestampMS,
		Source:       source,
		CameraID:     raw.CameraID,
		AngleDegrees: raw.AngleDegrees,
		Metadata:     meta,
	}, nil
}

// HarmonizeBatch normalizes a slice of raw events, splitting the result
// into accepted canonical events and per-event rejections. Order is
// preserved on both sides; one bad event never poisons the batch.
func (h *Harmonizer) HarmonizeBatch(raws []RawEvent, sourceHint core.Source) ([]core.CombatEvent, []Rejection) {
	accepted := make([]core.CombatEvent, 0, len(raws))
	var rejected []Rejection
	for i, raw := range raws {
		ev, err := h.Harmonize(raw, sourceHint)
		if err != nil {
			var herr *Error
			if !errors.As(err, &herr) {
				herr = errf(CodeMalformedPayload, "%v", err)
			}
			rejected = append(rejected, Rejection{Index: i, Raw: raw, Err: herr})
			continue
		}
		accepted = append(accepted, ev)
	}
	return accepted, rejected
}

// Rejection pairs a failed raw event with the reason it was turned away.
type Rejection struct {
	Index int      `json:"index"`
	Raw   RawEvent `json:"raw"`
	Err   *Error   `json:"error"`
}

func (h *Harmonizer) resolveType(raw string) (core.EventType, bool) {
	trimmed := strings.TrimSpace(raw)
	if t := core.EventType(trimmed); t.Valid() {
		return t, true
	}
	if t := core.EventType(strings.ToUpper(trimmed)); t.Valid() {
		return t, true
	}
	h.mu.RLock()
	t, ok := h.typeMap[strings.ToLower(trimmed)]
	h.mu.RUnlock()
	return t, ok
}

func normalizeCorner(raw string) (core.Corner, bool) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "RED", "FIGHTER1", "FIGHTER_1":
		return core.CornerRed, true
	case "BLUE", "FIGHTER2", "FIGHTER_2":
		return core.CornerBlue, true
	}
	return "", false
}

func resolveSource(raw string, hint core.Source) (core.Source, *Error) {
	s := core.Source(strings.ToUpper(strings.TrimSpace(raw)))
	if s == "" {
		s = hint
	}
	switch s {
	case core.SourceJudge, core.SourceCV, core.SourceAnalytics:
		return s, nil
	}
	return "", errf(CodeMalformedPayload, "source %q is not JUDGE_MANUAL, CV_SYSTEM, or ANALYTICS_DERIVED", s)
}

// resolveConfidence applies the judge default and the [0,1] clamp.
// Judge events without an explicit confidence are trusted at 1.0; CV
// and analytics producers are required to state theirs.
func resolveConfidence(c *float64, source core.Source) (float64, *Error) {
	if c == nil {
		if source == core.SourceJudge {
			return 1.0, nil
		}
		return 0, errf(CodeMalformedPayload, "confidence is required for %s events", source)
	}
	if *c < 0 {
		return 0, errf(CodeOutOfRange, "confidence %.3f is negative", *c)
	}
	return clamp01(*c), nil
}

// parseMetadata converts the free-form vendor map into the typed
// canonical shape. Enumerated fields are validated, numeric fields
// tolerate the usual JSON decodings, and unknown keys are dropped so
// the canonical model stays closed.
func parseMetadata(m map[string]interface{}) (core.EventMeta, *Error) {
	var meta core.EventMeta
	if len(m) == 0 {
		return meta, nil
	}
	for key, val := range m {
		switch key {
		case "quality":
			q := strings.ToUpper(asString(val))
			if q != core.QualityLight && q != core.QualitySolid {
				return meta, errf(CodeMalformedPayload, "metadata.quality %v is not LIGHT or SOLID", val)
			}
			meta.Quality = q
		case "tier":
			tier := strings.ToUpper(asString(val))
			switch tier {
			case core.TierLight, core.TierDeep, core.TierNearFinish:
				meta.Tier = tier
			default:
				return meta, errf(CodeMalformedPayload, "metadata.tier %v is not a submission tier", val)
			}
		case "target":
			meta.Target = asString(val)
		case "control_type":
			ct := strings.ToUpper(asString(val))
			switch ct {
			case core.ControlTop, core.ControlBack, core.ControlCage:
				meta.ControlType = ct
			default:
				return meta, errf(CodeMalformedPayload, "metadata.control_type %v is not TOP, BACK, or CAGE", val)
			}
		case "duration_seconds":
			f, ok := asNumber(val)
			if !ok || f < 0 {
				return meta, errf(CodeMalformedPayload, "metadata.duration_seconds %v is not a non-negative number", val)
			}
			meta.DurationSeconds = f
		case "type":
			wt := strings.ToLower(asString(val))
			if wt != "start" && wt != "stop" {
				return meta, errf(CodeMalformedPayload, "metadata.type %v is not start or stop", val)
			}
			meta.WindowType = wt
		case "strikes_in_flurry":
			if f, ok := asNumber(val); ok {
				meta.StrikesInFlurry = int(f)
			}
		case "time_span_ms":
			if f, ok := asNumber(val); ok {
				meta.TimeSpanMS = int64(f)
			}
		case "trigger":
			meta.Trigger = asString(val)
		}
	}
	return meta, nil
}

func asString(v interface{}) string {
	s, _ := v.(string)
	return s
}

func asNumber(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func clamp01(f float64) float64 {
	if f > 1 {
		return 1
	}
	if f < 0 {
		return 0
	}
	return f
}
