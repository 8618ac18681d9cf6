// Package scoring implements the deterministic round-scoring engine: the
// Plan A/B/C hierarchy over an admitted event list, leg-damage
// escalation, impact-advantage detection, the 10-8/10-7 gates, and the
// explainable receipt attached to every verdict. Scoring is a pure
// function of (events, profile): the same inputs always produce the
// same verdict and a byte-identical receipt.
package scoring

import (
	"fmt"
	"math"
	"sort"

	"github.com/ringside/backend/internal/core"
)

// Engine scores rounds under one immutable Profile. It holds no other
// state and is safe for concurrent use.
type Engine struct {
	profile *Profile
}

// NewEngine returns an engine on the given profile (the default
// unified-ruleset profile when nil).
func NewEngine(p *Profile) *Engine {
	if p == nil {
		p = DefaultProfile()
	}
	return &Engine{profile: p}
}

// Profile returns the active scoring profile.
func (e *Engine) Profile() *Profile { return e.profile }

// tally accumulates one corner's scoring state during a pass.
type tally struct {
	breakdown     core.CornerBreakdown
	contributions []core.ContributionItem
	kdTimesMS     []int64 // flash + hard + near-finish, for sequence pairing
}

func (t *tally) add(ev *core.CombatEvent, category string, label string, points float64) {
	t.contributions = append(t.contributions, core.ContributionItem{
		EventID:  ev.EventID,
		Corner:   ev.FighterID,
		Label:    label,
		Points:   points,
		Category: category,
	})
}

// Score runs one full scoring pass and returns the verdict with its
// receipt. The input slice is never mutated.
func (e *Engine) Score(events []core.CombatEvent) *core.RoundVerdict {
	p := e.profile

	ordered := core.SortEventsCanonical(events)

	tallies := map[core.Corner]*tally{
		core.CornerRed:  {},
		core.CornerBlue: {},
	}

	// Leg-damage index per target: each landed leg kick scores under
	// the target's current index, then raises it for the next one.
	ldi := map[core.Corner]float64{}

	var roundEndMS int64
	for i := range ordered {
		if ordered[i].TimestampMS > roundEndMS {
			roundEndMS = ordered[i].TimestampMS
		}
	}

	for i := range ordered {
		ev := &ordered[i]
		t := tallies[ev.FighterID]
		if t == nil {
			continue
		}
		b := &t.breakdown

		switch {
		case ev.EventType == core.KickLeg:
			target := ev.FighterID.Opponent()
			mult := p.ldiMultiplier(ldi[target])
			points := p.strikeWeight(core.KickLeg) * p.qualityMultiplier(ev.Quality()) * mult
			b.Striking += points
			if ev.Quality() == core.QualitySolid {
				b.SolidStrikes++
			}
			label := fmt.Sprintf("KICK_LEG (%s)", ev.Quality())
			if mult != 1.0 {
				label = fmt.Sprintf("KICK_LEG (%s, LDI x%.2f)", ev.Quality(), mult)
			}
			t.add(ev, "striking", label, points)
			ldi[target] += p.LDIStep

		case ev.EventType == core.StrikeHighImpact:
			b.Impact += p.HighImpactValue
			if ev.Quality() == core.QualitySolid {
				b.SolidStrikes++
			}
			t.add(ev, "impact", "STRIKE_HIGHIMPACT", p.HighImpactValue)

		case ev.EventType.IsStrike():
			weight := p.strikeWeight(ev.EventType)
			if weight == 0 {
				break
			}
			points := weight * p.qualityMultiplier(ev.Quality())
			b.Striking += points
			if ev.Quality() == core.QualitySolid {
				b.SolidStrikes++
			}
			if heavyStrikes[ev.EventType] {
				b.HeavyStrikes++
			}
			t.add(ev, "striking", fmt.Sprintf("%s (%s)", ev.EventType, ev.Quality()), points)

		case ev.EventType == core.KDFlash:
			b.Impact += p.KDFlashValue
			b.KDFlash++
			b.Knockdowns++
			t.kdTimesMS = append(t.kdTimesMS, ev.TimestampMS)
			t.add(ev, "impact", "KD_FLASH", p.KDFlashValue)

		case ev.EventType == core.KDHard:
			b.Impact += p.KDHardValue
			b.KDHard++
			b.Knockdowns++
			t.kdTimesMS = append(t.kdTimesMS, ev.TimestampMS)
			t.add(ev, "impact", "KD_HARD", p.KDHardValue)

		case ev.EventType == core.KDNF:
			b.Impact += p.KDNFValue
			b.KDNF++
			t.kdTimesMS = append(t.kdTimesMS, ev.TimestampMS)
			t.add(ev, "impact", "KD_NF", p.KDNFValue)

		case ev.EventType == core.Rocked:
			b.Impact += p.RockedValue
			b.Rocked++
			t.add(ev, "impact", "ROCKED", p.RockedValue)

		case ev.EventType == core.TDLand:
			b.Grappling += p.TakedownLanded
			b.TakedownsLanded++
			t.add(ev, "grappling", "TD_LAND", p.TakedownLanded)

		case ev.EventType == core.TDStuffed:
			// Credited to the defender who stuffed the shot.
			b.Grappling += p.TakedownStuffed
			b.TakedownsStuffed++
			t.add(ev, "grappling", "TD_STUFFED", p.TakedownStuffed)

		case ev.EventType == core.SubAttempt:
			tier := ev.Metadata.Tier
			if tier == "" {
				tier = core.TierLight
			}
			points := p.subValue(tier)
			b.Grappling += points
			switch tier {
			case core.TierNearFinish:
				b.SubNearFinish++
			case core.TierDeep:
				b.SubDeep++
			default:
				b.SubLight++
			}
			t.add(ev, "grappling", fmt.Sprintf("SUB_ATTEMPT (%s)", tier), points)

		case ev.EventType == core.Sweep:
			b.Grappling += p.SweepValue
			t.add(ev, "grappling", "SWEEP", p.SweepValue)

		case ev.EventType == core.GuardPass:
			b.Grappling += p.GuardPassValue
			t.add(ev, "grappling", "GUARD_PASS", p.GuardPassValue)

		case ev.EventType.IsAggression():
			b.AggressionEvents++
		}
	}

	e.scoreControl(ordered, roundEndMS, tallies)

	red, blue := tallies[core.CornerRed], tallies[core.CornerBlue]
	rb, bb := &red.breakdown, &blue.breakdown

	red.finishNearFinishSequences(p)
	blue.finishNearFinishSequences(p)

	rb.PlanATotal = rb.Striking + rb.Grappling + rb.Control + rb.Impact
	bb.PlanATotal = bb.Striking + bb.Grappling + bb.Control + bb.Impact
	deltaA := rb.PlanATotal - bb.PlanATotal

	advantage := detectImpactAdvantage(rb, bb)

	planB := e.planB(deltaA, advantage, rb, bb)
	planC := e.planC(deltaA+planB.Delta, advantage, rb, bb)
	deltaRound := deltaA + planB.Delta + planC.Delta

	receipt := &core.RoundReceipt{
		Red:  *rb,
		Blue: *bb,
		PlanA: core.PlanResult{
			Delta:   deltaA,
			Allowed: true,
			Reason:  "primary criteria: striking, grappling, control, impact",
		},
		PlanB:           planB,
		PlanC:           planC,
		DeltaRound:      deltaRound,
		ImpactAdvantage: advantage,
	}

	verdict := e.assignVerdict(deltaRound, advantage, receipt)
	receipt.Winner = verdict.Winner
	receipt.ScoreCard = verdict.ScoreCard
	receipt.TopContributions = topContributions(red, blue, verdict.Winner, p.MaxContributions)
	verdict.Receipt = receipt
	return verdict
}

// scoreControl parses control windows and folds them into the tallies.
// TOP and BACK feed the Plan A control category; CAGE belongs to
// Plan C and is held aside on the breakdown.
func (e *Engine) scoreControl(events []core.CombatEvent, roundEndMS int64, tallies map[core.Corner]*tally) {
	p := e.profile
	for _, w := range parseControlWindows(events, roundEndMS) {
		t := tallies[w.Corner]
		if t == nil {
			continue
		}
		dur := w.DurationSeconds()
		points := p.controlRate(w.Position) * dur
		if w.HasOffense {
			points *= p.ControlOffenseMultiplier
		} else {
			points *= 0.5
		}

		b := &t.breakdown
		switch w.Position {
		case core.ControlTop:
			b.TopSeconds += dur
			b.Control += points
		case core.ControlBack:
			b.BackSeconds += dur
			b.Control += points
		case core.ControlCage:
			b.CageSeconds += dur
			b.CageControl += points
		default:
			continue
		}

		label := fmt.Sprintf("%s control %.1fs", w.Position, dur)
		if w.HasOffense {
			label += " with offense"
		}
		t.contributions = append(t.contributions, core.ContributionItem{
			Corner:   w.Corner,
			Label:    label,
			Points:   points,
			Category: "control",
		})
	}
}

// finishNearFinishSequences counts the near-finish sequences the 10-8
// and 10-7 gates read: each near-finish knockdown, each near-finish
// submission attempt, and each consecutive pair of knockdowns landed
// inside the pairing window.
func (t *tally) finishNearFinishSequences(p *Profile) {
	b := &t.breakdown
	sequences := b.KDNF + b.SubNearFinish

	windowMS := int64(p.NFSequenceWindowSeconds * 1000)
	times := append([]int64(nil), t.kdTimesMS...)
	sort.Slice(times, func(i, j int) bool { return times[i] < times[j] })
	for i := 1; i < len(times); i++ {
		if times[i]-times[i-1] < windowMS {
			sequences++
		}
	}
	b.NearFinishSequences = sequences
}

// detectImpactAdvantage flags a corner that landed materially damaging
// events. Either flag disables the Plan B/C tiebreakers.
func detectImpactAdvantage(red, blue *core.CornerBreakdown) core.ImpactAdvantage {
	adv := core.ImpactAdvantage{}

	describe := func(corner string, b, opp *core.CornerBreakdown) string {
		switch {
		case b.KDHard >= 1:
			return fmt.Sprintf("%s: hard knockdown", corner)
		case b.KDNF >= 1:
			return fmt.Sprintf("%s: near-finish knockdown", corner)
		case b.Rocked >= 2:
			return fmt.Sprintf("%s: opponent rocked %d times", corner, b.Rocked)
		case b.KDFlash-opp.KDFlash >= 2:
			return fmt.Sprintf("%s: flash knockdown margin %d", corner, b.KDFlash-opp.KDFlash)
		}
		return ""
	}

	if r := describe("RED", red, blue); r != "" {
		adv.Red = true
		adv.Reason = r
	}
	if r := describe("BLUE", blue, red); r != "" {
		adv.Blue = true
		if adv.Reason != "" {
			adv.Reason += "; " + r
		} else {
			adv.Reason = r
		}
	}
	return adv
}

// planB scores aggressiveness, enabled only when neither side holds an
// impact advantage and Plan A failed to separate the fighters.
func (e *Engine) planB(deltaA float64, adv core.ImpactAdvantage, red, blue *core.CornerBreakdown) core.PlanResult {
	p := e.profile

	if adv.Red || adv.Blue {
		return core.PlanResult{Reason: "disabled: impact advantage present"}
	}
	if math.Abs(deltaA) >= p.PlanBThreshold {
		return core.PlanResult{Reason: fmt.Sprintf(
			"disabled: plan A separation %.2f at or above %.2f", math.Abs(deltaA), p.PlanBThreshold)}
	}

	delta := float64(red.AggressionEvents-blue.AggressionEvents) * p.AggressionEventValue
	if delta > p.PlanBCap {
		delta = p.PlanBCap
	} else if delta < -p.PlanBCap {
		delta = -p.PlanBCap
	}
	return core.PlanResult{
		Delta:   delta,
		Allowed: true,
		Reason: fmt.Sprintf("aggressiveness %d vs %d events",
			red.AggressionEvents, blue.AggressionEvents),
	}
}

// planC scores cage control, the last tiebreaker.
func (e *Engine) planC(deltaAB float64, adv core.ImpactAdvantage, red, blue *core.CornerBreakdown) core.PlanResult {
	p := e.profile

	if adv.Red || adv.Blue {
		return core.PlanResult{Reason: "disabled: impact advantage present"}
	}
	if math.Abs(deltaAB) >= p.PlanCThreshold {
		return core.PlanResult{Reason: fmt.Sprintf(
			"disabled: plan A+B separation %.2f at or above %.2f", math.Abs(deltaAB), p.PlanCThreshold)}
	}

	return core.PlanResult{
		Delta:   red.CageControl - blue.CageControl,
		Allowed: true,
		Reason: fmt.Sprintf("cage control %.1fs vs %.1fs",
			red.CageSeconds, blue.CageSeconds),
	}
}

// assignVerdict maps the round delta onto a 10-point-must score card,
// applying the draw rule and the 10-7 then 10-8 gates.
func (e *Engine) assignVerdict(deltaRound float64, adv core.ImpactAdvantage, r *core.RoundReceipt) *core.RoundVerdict {
	p := e.profile

	if math.Abs(deltaRound) < p.DrawThreshold && !adv.Red && !adv.Blue {
		r.GateMessages = append(r.GateMessages, fmt.Sprintf(
			"draw: round delta %.2f inside %.2f with no impact advantage", deltaRound, p.DrawThreshold))
		return &core.RoundVerdict{RedPoints: 10, BluePoints: 10, Winner: "DRAW", ScoreCard: "10-10"}
	}

	var winner core.Corner
	switch {
	case deltaRound > 0:
		winner = core.CornerRed
	case deltaRound < 0:
		winner = core.CornerBlue
	case adv.Red && !adv.Blue:
		winner = core.CornerRed
	case adv.Blue && !adv.Red:
		winner = core.CornerBlue
	default:
		r.GateMessages = append(r.GateMessages,
			"draw: zero round delta with symmetric impact")
		return &core.RoundVerdict{RedPoints: 10, BluePoints: 10, Winner: "DRAW", ScoreCard: "10-10"}
	}

	wb, lb := &r.Red, &r.Blue
	if winner == core.CornerBlue {
		wb, lb = &r.Blue, &r.Red
	}

	margin := 1
	if msgs, ok := e.tenSevenGate(wb, lb); ok {
		margin = 3
		r.GateMessages = append(r.GateMessages, msgs...)
	} else if msgs, ok := e.tenEightGate(wb, lb); ok {
		margin = 2
		r.GateMessages = append(r.GateMessages, msgs...)
	}

	loserPoints := 10 - margin
	if winner == core.CornerRed {
		return &core.RoundVerdict{
			RedPoints: 10, BluePoints: loserPoints,
			Winner: "RED", ScoreCard: fmt.Sprintf("10-%d", loserPoints),
		}
	}
	return &core.RoundVerdict{
		RedPoints: loserPoints, BluePoints: 10,
		Winner: "BLUE", ScoreCard: fmt.Sprintf("%d-10", loserPoints),
	}
}

// tenEightGate evaluates the dual-condition 10-8 gate for the winner's
// breakdown. Both the impact and the differential condition must hold.
// Knockdown counts here are flash plus hard; near-finish knockdowns
// tally through the sequence counter instead.
func (e *Engine) tenEightGate(w, l *core.CornerBreakdown) ([]string, bool) {
	p := e.profile

	var impact string
	switch {
	case w.Knockdowns >= p.TenEightKnockdowns:
		impact = fmt.Sprintf("10-8 impact: %d knockdowns", w.Knockdowns)
	case w.KDHard >= 3 && w.KDNF+w.SubNearFinish >= 2:
		impact = fmt.Sprintf("10-8 impact: %d hard knockdowns with %d near-finishes",
			w.KDHard, w.KDNF+w.SubNearFinish)
	case w.SubNearFinish >= 3 && w.HeavyStrikes-l.HeavyStrikes >= p.TenEightHeavyDiff:
		impact = fmt.Sprintf("10-8 impact: %d near-finish submissions with heavy-strike advantage %d",
			w.SubNearFinish, w.HeavyStrikes-l.HeavyStrikes)
	default:
		return nil, false
	}

	lead := w.PlanATotal - l.PlanATotal
	solidDiff := w.SolidStrikes - l.SolidStrikes
	heavyDiff := w.HeavyStrikes - l.HeavyStrikes

	var differential string
	switch {
	case lead >= p.TenEightPlanALead:
		differential = fmt.Sprintf("10-8 differential: plan A lead %.2f", lead)
	case solidDiff >= p.TenEightSolidDiff:
		differential = fmt.Sprintf("10-8 differential: solid-strike margin %d", solidDiff)
	case heavyDiff >= p.TenEightHeavyDiff:
		differential = fmt.Sprintf("10-8 differential: heavy-strike advantage %d", heavyDiff)
	default:
		return nil, false
	}

	return []string{impact, differential}, true
}

// tenSevenGate evaluates the 10-7 gate: a severe-impact condition and a
// massive-differential condition must both hold.
func (e *Engine) tenSevenGate(w, l *core.CornerBreakdown) ([]string, bool) {
	p := e.profile

	var severe string
	switch {
	case w.Knockdowns >= p.TenSevenKnockdowns:
		severe = fmt.Sprintf("10-7 impact: %d knockdowns", w.Knockdowns)
	case w.KDHard >= 3 && w.NearFinishSequences >= 4:
		severe = fmt.Sprintf("10-7 impact: %d hard knockdowns with %d near-finish sequences",
			w.KDHard, w.NearFinishSequences)
	case w.NearFinishSequences >= 3 && w.Knockdowns+w.KDNF >= 1:
		severe = fmt.Sprintf("10-7 impact: %d near-finish and knockdown sequences", w.NearFinishSequences)
	default:
		return nil, false
	}

	lead := w.PlanATotal - l.PlanATotal
	solidDiff := w.SolidStrikes - l.SolidStrikes
	heavyDiff := w.HeavyStrikes - l.HeavyStrikes

	var massive string
	switch {
	case lead >= p.TenSevenPlanALead:
		massive = fmt.Sprintf("10-7 differential: plan A lead %.2f", lead)
	case solidDiff >= p.TenSevenSolidDiff:
		massive = fmt.Sprintf("10-7 differential: solid-strike margin %d", solidDiff)
	case heavyDiff >= p.TenSevenHeavyDiff:
		massive = fmt.Sprintf("10-7 differential: heavy-strike advantage %d", heavyDiff)
	default:
		return nil, false
	}

	return []string{severe, massive}, true
}

// topContributions assembles the receipt's contributor list: the
// winner's highest-point items first, then the loser's, capped at max.
// Ordering is fully deterministic (points desc, then event ID).
func topContributions(red, blue *tally, winner string, max int) []core.ContributionItem {
	if max <= 0 {
		max = 8
	}

	byPoints := func(items []core.ContributionItem) {
		sort.SliceStable(items, func(i, j int) bool {
			if items[i].Points != items[j].Points {
				return items[i].Points > items[j].Points
			}
			return items[i].EventID < items[j].EventID
		})
	}

	first, second := red.contributions, blue.contributions
	if winner == "BLUE" {
		first, second = blue.contributions, red.contributions
	}
	first = append([]core.ContributionItem(nil), first...)
	second = append([]core.ContributionItem(nil), second...)
	byPoints(first)
	byPoints(second)

	out := make([]core.ContributionItem, 0, max)
	out = append(out, first...)
	out = append(out, second...)
	if len(out) > max {
		out = out[:max]
	}
	return out
}
