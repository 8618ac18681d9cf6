package scoring

import (
	"log/slog"
	"sort"

	"github.com/ringside/backend/internal/core"
)

// ControlWindow is a parsed interval during which one corner held a
// control position, plus whether the controller produced meaningful
// offense inside it.
type ControlWindow struct {
	Corner     core.Corner
	Position   string // TOP | BACK | CAGE
	StartMS    int64
	EndMS      int64
	HasOffense bool
	Unmatched  bool // start had no end; closed at round end
}

// DurationSeconds returns the window length in seconds.
func (w *ControlWindow) DurationSeconds() float64 {
	if w.EndMS <= w.StartMS {
		return 0
	}
	return float64(w.EndMS-w.StartMS) / 1000.0
}

type controlKey struct {
	corner   core.Corner
	position string
}

// parseControlWindows extracts control windows from a round's event
// list. Two producer patterns are supported: paired CONTROL_START /
// CONTROL_END events matched by (corner, control_type) using a stack,
// and legacy single CONTROL_POSITION events carrying duration_seconds
// (the implied window ends at the event's timestamp). Starts with no
// matching end are closed at the round's last timestamp.
func parseControlWindows(events []core.CombatEvent, roundEndMS int64) []ControlWindow {
	var windows []ControlWindow
	stacks := make(map[controlKey][]int64)

	ordered := make([]core.CombatEvent, len(events))
	copy(ordered, events)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].TimestampMS != ordered[j].TimestampMS {
			return ordered[i].TimestampMS < ordered[j].TimestampMS
		}
		return ordered[i].EventID < ordered[j].EventID
	})

	for _, ev := range ordered {
		position := ev.Metadata.ControlType
		switch ev.EventType {
		case core.ControlStart:
			if position == "" {
				continue
			}
			k := controlKey{ev.FighterID, position}
			stacks[k] = append(stacks[k], ev.TimestampMS)

		case core.ControlEnd:
			if position == "" {
				continue
			}
			k := controlKey{ev.FighterID, position}
			stack := stacks[k]
			if len(stack) == 0 {
				slog.Warn("control end without matching start",
					"round_id", ev.RoundID, "corner", ev.FighterID, "position", position)
				continue
			}
			start := stack[len(stack)-1]
			stacks[k] = stack[:len(stack)-1]
			windows = append(windows, ControlWindow{
				Corner:   ev.FighterID,
				Position: position,
				StartMS:  start,
				EndMS:    ev.TimestampMS,
			})

		case core.ControlPosition:
			// Legacy markers: either start/stop tagged through
			// metadata.type, or a self-contained duration.
			switch ev.Metadata.WindowType {
			case "start":
				if position == "" {
					continue
				}
				k := controlKey{ev.FighterID, position}
				stacks[k] = append(stacks[k], ev.TimestampMS)
				continue
			case "stop":
				if position == "" {
					continue
				}
				k := controlKey{ev.FighterID, position}
				stack := stacks[k]
				if len(stack) == 0 {
					continue
				}
				start := stack[len(stack)-1]
				stacks[k] = stack[:len(stack)-1]
				windows = append(windows, ControlWindow{
					Corner:   ev.FighterID,
					Position: position,
					StartMS:  start,
					EndMS:    ev.TimestampMS,
				})
				continue
			}
			if position == "" || ev.Metadata.DurationSeconds <= 0 {
				continue
			}
			durMS := int64(ev.Metadata.DurationSeconds * 1000)
			windows = append(windows, ControlWindow{
				Corner:   ev.FighterID,
				Position: position,
				StartMS:  ev.TimestampMS - durMS,
				EndMS:    ev.TimestampMS,
			})
		}
	}

	// Close out anything still open at the round horizon.
	for k, stack := range stacks {
		for _, start := range stack {
			if roundEndMS <= start {
				continue
			}
			slog.Warn("control start never closed; truncating at round end",
				"corner", k.corner, "position", k.position, "start_ms", start)
			windows = append(windows, ControlWindow{
				Corner:    k.corner,
				Position:  k.position,
				StartMS:   start,
				EndMS:     roundEndMS,
				Unmatched: true,
			})
		}
	}

	markOffense(windows, ordered)

	// Map iteration above makes unmatched-window order unstable; the
	// receipt must be deterministic, so impose a total order.
	sort.SliceStable(windows, func(i, j int) bool {
		if windows[i].StartMS != windows[j].StartMS {
			return windows[i].StartMS < windows[j].StartMS
		}
		if windows[i].Corner != windows[j].Corner {
			return windows[i].Corner < windows[j].Corner
		}
		return windows[i].Position < windows[j].Position
	})
	return windows
}

// markOffense flags every window in which the controlling corner landed
// a SOLID strike, attempted any submission, or landed a ground strike
// inside the window timeframe.
func markOffense(windows []ControlWindow, events []core.CombatEvent) {
	for i := range windows {
		w := &windows[i]
		for _, ev := range events {
			if ev.FighterID != w.Corner {
				continue
			}
			if ev.TimestampMS < w.StartMS || ev.TimestampMS > w.EndMS {
				continue
			}
			if isControlOffense(ev) {
				w.HasOffense = true
				break
			}
		}
	}
}

func isControlOffense(ev core.CombatEvent) bool {
	if ev.EventType == core.SubAttempt {
		return true
	}
	if ev.EventType.IsStrike() && ev.Quality() == core.QualitySolid {
		return true
	}
	return false
}
