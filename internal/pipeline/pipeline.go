// Package pipeline admits harmonized events into a round's canonical
// sequence and synthesizes derived events from the admitted stream. It
// implements the confidence filter, the bounded deduplication scan,
// multi-camera fusion, and flurry-based momentum synthesis. Thresholds
// come from the live calibration snapshot, so a mid-round config change
// applies cleanly from the next operation on.
package pipeline

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/ringside/backend/internal/clock"
	"github.com/ringside/backend/internal/config"
	"github.com/ringside/backend/internal/core"
	"github.com/ringside/backend/internal/metrics"
)

// maxAdmittedHistory bounds the deduplication scan. Anything older than
// the last 50 admitted events is past every plausible dedup window.
const maxAdmittedHistory = 50

// RejectReason is the machine-readable admission refusal code.
type RejectReason string

const (
	ReasonLowConfidence RejectReason = "LOW_CONFIDENCE"
	ReasonDuplicate     RejectReason = "DUPLICATE"
)

// Rejection is an admission refusal. Rejections are routine traffic
// during a live bout: callers audit them and keep going.
type Rejection struct {
	Reason RejectReason `json:"reason"`
	Detail string       `json:"detail"`
}

func (r *Rejection) Error() string { return fmt.Sprintf("%s: %s", r.Reason, r.Detail) }

// Stats is an observational snapshot of the pipeline counters.
type Stats struct {
	TotalAdmitted          int64 `json:"total_admitted"`
	RejectedLowConfidence  int64 `json:"rejected_low_confidence"`
	RejectedDuplicates     int64 `json:"rejected_duplicates"`
	MulticamFusions        int64 `json:"multicam_fusions"`
	MomentumSwingsDetected int64 `json:"momentum_swings_detected"`
}

// Pipeline runs the admission checks for one round. It keeps a bounded
// history of admitted events for the deduplication scan, so one
// instance serves exactly one round's stream.
type Pipeline struct {
	coord  *config.Coordinator
	clock  clock.Clock
	meters *metrics.Metrics

	mu      sync.Mutex
	history []core.CombatEvent

	admitted       atomic.Int64
	lowConfidence  atomic.Int64
	duplicates     atomic.Int64
	fusions        atomic.Int64
	momentumSwings atomic.Int64
}

// New returns a Pipeline reading thresholds from coord. meters may be
// nil (tests).
func New(coord *config.Coordinator, clk clock.Clock, meters *metrics.Metrics) *Pipeline {
	return &Pipeline{coord: coord, clock: clk, meters: meters}
}

// Admit runs the admission procedure for one harmonized event: CV
// severity escalation, the confidence filter, then the deduplication
// scan over the bounded history. Admitted events come back stamped
// (deduplicated, processed_at); refusals are *Rejection errors.
func (p *Pipeline) Admit(ev core.CombatEvent) (core.CombatEvent, error) {
	cfg := p.coord.Snapshot()

	ev = escalate(ev, cfg)

	if ev.Confidence < cfg.ConfidenceThreshold {
		p.lowConfidence.Add(1)
		if p.meters != nil {
			p.meters.RecordRejection(string(ReasonLowConfidence))
		}
		return core.CombatEvent{}, &Rejection{
			Reason: ReasonLowConfidence,
			Detail: fmt.Sprintf("confidence %.3f below threshold %.3f", ev.Confidence, cfg.ConfidenceThreshold),
		}
	}

	p.mu.Lock()
	for i := len(p.history) - 1; i >= 0; i-- {
		prior := p.history[i]
		if prior.FighterID != ev.FighterID || prior.EventType != ev.EventType {
			continue
		}
		if absInt64(ev.TimestampMS-prior.TimestampMS) < cfg.DeduplicationWindowMS {
			p.mu.Unlock()
			p.duplicates.Add(1)
			if p.meters != nil {
				p.meters.RecordRejection(string(ReasonDuplicate))
			}
			return core.CombatEvent{}, &Rejection{
				Reason: ReasonDuplicate,
				Detail: fmt.Sprintf("%s by %s within %dms of admitted event %s",
					ev.EventType, ev.FighterID, cfg.DeduplicationWindowMS, prior.EventID),
			}
		}
	}

	ev.Deduplicated = true
	ev.ProcessedAt = p.clock.Now()
	p.history = append(p.history, ev)
	if len(p.history) > maxAdmittedHistory {
		p.history = p.history[len(p.history)-maxAdmittedHistory:]
	}
	p.mu.Unlock()

	p.admitted.Add(1)
	if p.meters != nil {
		p.meters.RecordAdmission(string(ev.Source))
	}
	return ev, nil
}

// escalate applies the CV severity ladder under the calibration
// thresholds. Judge and analytics events already carry intent, so only
// CV_SYSTEM detections move.
func escalate(ev core.CombatEvent, cfg *config.Calibration) core.CombatEvent {
	if ev.Source != core.SourceCV {
		return ev
	}
	switch ev.EventType {
	case core.StrikeSig:
		if ev.Confidence >= cfg.HighImpactStrikeThreshold {
			ev.EventType = core.StrikeHighImpact
		}
	case core.KDFlash:
		if ev.Confidence >= cfg.KDThreshold {
			ev.EventType = core.KDHard
		}
	case core.Rocked:
		if ev.Confidence < cfg.RockedThreshold {
			ev.EventType = core.StrikeHighImpact
		}
	}
	return ev
}

// FuseBatch collapses multi-camera duplicates. Events are sorted by
// timestamp, swept into groups of similar events (same fighter and
// type) whose gap to the group's first member stays inside the merge
// window, and each multi-member group is reduced to the member with the
// highest confidence x angle weight. A non-similar event closes the
// running group. Returns the surviving canonical sequence and the
// dropped non-winners, which callers keep for the audit trail.
func (p *Pipeline) FuseBatch(events []core.CombatEvent) (canonical, dropped []core.CombatEvent) {
	if len(events) == 0 {
		return nil, nil
	}
	cfg := p.coord.Snapshot()

	sorted := make([]core.CombatEvent, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].TimestampMS != sorted[j].TimestampMS {
			return sorted[i].TimestampMS < sorted[j].TimestampMS
		}
		return sorted[i].EventID < sorted[j].EventID
	})

	canonical = make([]core.CombatEvent, 0, len(sorted))
	var group []core.CombatEvent

	flush := func() {
		switch len(group) {
		case 0:
		case 1:
			canonical = append(canonical, group[0])
		default:
			winner := 0
			best := fusionScore(group[0])
			for i := 1; i < len(group); i++ {
				if s := fusionScore(group[i]); s > best {
					best, winner = s, i
				}
			}
			group[winner].Canonical = true
			canonical = append(canonical, group[winner])
			for i := range group {
				if i != winner {
					dropped = append(dropped, group[i])
				}
			}
			p.fusions.Add(1)
			if p.meters != nil {
				p.meters.MulticamFusions.Inc()
			}
		}
		group = group[:0]
	}

	for _, ev := range sorted {
		if len(group) > 0 {
			first := group[0]
			similar := ev.FighterID == first.FighterID && ev.EventType == first.EventType &&
				ev.TimestampMS-first.TimestampMS < cfg.MulticamMergeWindowMS
			if !similar {
				flush()
			}
		}
		group = append(group, ev)
	}
	flush()

	return canonical, dropped
}

func fusionScore(ev core.CombatEvent) float64 {
	return ev.Confidence * angleWeight(ev.AngleDegrees)
}

// angleWeight favors front/back camera positions. Side-on angles
// foreshorten strikes and read low.
func angleWeight(angle *float64) float64 {
	if angle == nil {
		return 0.8
	}
	a := math.Mod(*angle, 360)
	if a < 0 {
		a += 360
	}
	if (a >= 45 && a <= 135) || (a >= 225 && a <= 315) {
		return 1.0
	}
	return 0.7
}

// DetectMomentum scans one fighter's admitted strikes for flurries and
// synthesizes MOMENTUM_SWING events. A window opens at the first
// qualifying strike and extends while the span stays under the
// configured window; three or more strikes inside it produce one swing,
// and the cursor jumps past the window so a flurry never double-counts.
func (p *Pipeline) DetectMomentum(events []core.CombatEvent, corner core.Corner) []core.CombatEvent {
	cfg := p.coord.Snapshot()

	strikes := make([]core.CombatEvent, 0, len(events))
	for _, ev := range events {
		if ev.FighterID != corner {
			continue
		}
		if ev.EventType == core.StrikeSig || ev.EventType == core.StrikeHighImpact {
			strikes = append(strikes, ev)
		}
	}
	sort.SliceStable(strikes, func(i, j int) bool {
		return strikes[i].TimestampMS < strikes[j].TimestampMS
	})

	var swings []core.CombatEvent
	for i := 0; i < len(strikes); {
		j := i + 1
		for j < len(strikes) && strikes[j].TimestampMS-strikes[i].TimestampMS < cfg.MomentumSwingWindowMS {
			j++
		}
		if j-i >= 3 {
			swings = append(swings, p.synthesizeSwing(strikes[i:j]))
			i = j
		} else {
			i++
		}
	}
	return swings
}

func (p *Pipeline) synthesizeSwing(flurry []core.CombatEvent) core.CombatEvent {
	var sevSum, confSum float64
	for _, s := range flurry {
		sevSum += s.Severity
		confSum += s.Confidence
	}
	n := float64(len(flurry))
	first, last := flurry[0], flurry[len(flurry)-1]

	severity := sevSum / n * 1.2
	if severity > 1.0 {
		severity = 1.0
	}

	p.momentumSwings.Add(1)
	if p.meters != nil {
		p.meters.MomentumSwings.Inc()
	}

	return core.CombatEvent{
		EventID:     uuid.NewString(),
		BoutID:      last.BoutID,
		RoundID:     last.RoundID,
		FighterID:   last.FighterID,
		EventType:   core.MomentumSwing,
		Severity:    severity,
		Confidence:  confSum / n,
		TimestampMS: last.TimestampMS,
		Source:      core.SourceAnalytics,
		Metadata: core.EventMeta{
			StrikesInFlurry: len(flurry),
			TimeSpanMS:      last.TimestampMS - first.TimestampMS,
			Trigger:         "flurry",
		},
		Deduplicated: true,
		Canonical:    true,
		ProcessedAt:  p.clock.Now(),
	}
}

// Stats returns the observational counters.
func (p *Pipeline) Stats() Stats {
	return Stats{
		TotalAdmitted:          p.admitted.Load(),
		RejectedLowConfidence:  p.lowConfidence.Load(),
		RejectedDuplicates:     p.duplicates.Load(),
		MulticamFusions:        p.fusions.Load(),
		MomentumSwingsDetected: p.momentumSwings.Load(),
	}
}

func absInt64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
