package core

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// Canonical serialization for event-hash commits.
//
// The hash input is a JSON array of the round's events sorted by
// timestamp_ms ascending with event_id as tie-breaker. Keys are sorted
// lexicographically, time fields are ISO-8601 UTC with millisecond
// precision, and the document carries no insignificant whitespace.
// The same inputs must produce a byte-identical document on every
// implementation, so nothing here may depend on a library's default
// stringification of times.

const canonicalTimeLayout = "2006-01-02T15:04:05.000Z"

// FormatTimestamp renders t in the canonical wire form.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(canonicalTimeLayout)
}

// ParseTimestamp parses the canonical wire form back into UTC time.
func ParseTimestamp(s string) (time.Time, error) {
	return time.Parse(canonicalTimeLayout, s)
}

// SortEventsCanonical orders events by timestamp_ms ascending,
// tie-breaking by event_id. The input slice is not modified.
func SortEventsCanonical(events []CombatEvent) []CombatEvent {
	sorted := make([]CombatEvent, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].TimestampMS != sorted[j].TimestampMS {
			return sorted[i].TimestampMS < sorted[j].TimestampMS
		}
		return sorted[i].EventID < sorted[j].EventID
	})
	return sorted
}

// canonicalMeta flattens EventMeta into a map with only the set fields,
// so json.Marshal emits sorted keys and absent fields never appear.
func canonicalMeta(m EventMeta) map[string]interface{} {
	out := map[string]interface{}{}
	if m.Quality != "" {
		out["quality"] = m.Quality
	}
	if m.Tier != "" {
		out["tier"] = m.Tier
	}
	if m.Target != "" {
		out["target"] = m.Target
	}
	if m.ControlType != "" {
		out["control_type"] = m.ControlType
	}
	if m.DurationSeconds != 0 {
		out["duration_seconds"] = m.DurationSeconds
	}
	if m.WindowType != "" {
		out["type"] = m.WindowType
	}
	if m.StrikesInFlurry != 0 {
		out["strikes_in_flurry"] = m.StrikesInFlurry
	}
	if m.TimeSpanMS != 0 {
		out["time_span_ms"] = m.TimeSpanMS
	}
	if m.Trigger != "" {
		out["trigger"] = m.Trigger
	}
	return out
}

func canonicalEvent(e *CombatEvent) map[string]interface{} {
	m := map[string]interface{}{
		"event_id":     e.EventID,
		"bout_id":      e.BoutID,
		"round_id":     e.RoundID,
		"fighter_id":   string(e.FighterID),
		"event_type":   string(e.EventType),
		"severity":     e.Severity,
		"confidence":   e.Confidence,
		"timestamp_ms": e.TimestampMS,
		"source":       string(e.Source),
		"metadata":     canonicalMeta(e.Metadata),
		"deduplicated": e.Deduplicated,
		"canonical":    e.Canonical,
		"processed_at": FormatTimestamp(e.ProcessedAt),
	}
	if e.CameraID != "" {
		m["camera_id"] = e.CameraID
	}
	if e.AngleDegrees != nil {
		m["angle_degrees"] = *e.AngleDegrees
	}
	return m
}

// MarshalCanonical produces the canonical JSON document for a round's
// events. json.Marshal writes map keys in sorted order and emits no
// insignificant whitespace, which is exactly the contract.
func MarshalCanonical(events []CombatEvent) ([]byte, error) {
	sorted := SortEventsCanonical(events)
	docs := make([]map[string]interface{}, len(sorted))
	for i := range sorted {
		docs[i] = canonicalEvent(&sorted[i])
	}
	data, err := json.Marshal(docs)
	if err != nil {
		return nil, fmt.Errorf("canonical marshal: %w", err)
	}
	return data, nil
}

// EventHash computes the SHA-256 commit over the canonical document.
func EventHash(events []CombatEvent) (string, error) {
	data, err := MarshalCanonical(events)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// HashBytes is the shared SHA-256 hex helper used by the audit log.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
