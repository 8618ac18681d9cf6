package core

import "time"

// Corner identifies a side of the bout.
type Corner string

const (
	CornerRed  Corner = "RED"
	CornerBlue Corner = "BLUE"
)

// Opponent returns the other corner.
func (c Corner) Opponent() Corner {
	if c == CornerRed {
		return CornerBlue
	}
	return CornerRed
}

// Source identifies who produced an event.
type Source string

const (
	SourceJudge     Source = "JUDGE_MANUAL"
	SourceCV        Source = "CV_SYSTEM"
	SourceAnalytics Source = "ANALYTICS_DERIVED"
)

// EventType is the closed event taxonomy. Case-sensitive.
type EventType string

const (
	// Strikes
	StrikeJab      EventType = "STRIKE_JAB"
	StrikeCross    EventType = "STRIKE_CROSS"
	StrikeHook     EventType = "STRIKE_HOOK"
	StrikeUppercut EventType = "STRIKE_UPPERCUT"
	StrikeOverhand EventType = "STRIKE_OVERHAND"
	StrikeElbow    EventType = "STRIKE_ELBOW"
	StrikeKnee     EventType = "STRIKE_KNEE"
	KickHead       EventType = "KICK_HEAD"
	KickBody       EventType = "KICK_BODY"
	KickLeg        EventType = "KICK_LEG"
	KickFront      EventType = "KICK_FRONT"
	StrikeGround   EventType = "STRIKE_GROUND"

	// Strike aggregates (CV significant-strike feed)
	StrikeSig        EventType = "STRIKE_SIG"
	StrikeHighImpact EventType = "STRIKE_HIGHIMPACT"

	// Impact
	KDFlash EventType = "KD_FLASH"
	KDHard  EventType = "KD_HARD"
	KDNF    EventType = "KD_NF"
	Rocked  EventType = "ROCKED"

	// Grappling
	TDAttempt  EventType = "TD_ATTEMPT"
	TDLand     EventType = "TD_LAND"
	TDStuffed  EventType = "TD_STUFFED"
	SubAttempt EventType = "SUB_ATTEMPT"
	Sweep      EventType = "SWEEP"
	GuardPass  EventType = "GUARD_PASS"

	// Control
	ControlStart    EventType = "CONTROL_START"
	ControlEnd      EventType = "CONTROL_END"
	ControlPosition EventType = "CONTROL_POSITION"

	// Dynamics / aggression
	MomentumSwing   EventType = "MOMENTUM_SWING"
	Aggression      EventType = "AGGRESSION"
	Pressing        EventType = "PRESSING"
	ForwardMovement EventType = "FORWARD_MOVEMENT"
)

// Strike quality tags carried in event metadata.
const (
	QualityLight = "LIGHT"
	QualitySolid = "SOLID"
)

// Submission attempt tiers.
const (
	TierLight      = "LIGHT"
	TierDeep       = "DEEP"
	TierNearFinish = "NEAR_FINISH"
)

// Control positions.
const (
	ControlTop  = "TOP"
	ControlBack = "BACK"
	ControlCage = "CAGE"
)

var eventTypes = map[EventType]bool{
	StrikeJab: true, StrikeCross: true, StrikeHook: true, StrikeUppercut: true,
	StrikeOverhand: true, StrikeElbow: true, StrikeKnee: true,
	KickHead: true, KickBody: true, KickLeg: true, KickFront: true,
	StrikeGround: true, StrikeSig: true, StrikeHighImpact: true,
	KDFlash: true, KDHard: true, KDNF: true, Rocked: true,
	TDAttempt: true, TDLand: true, TDStuffed: true, SubAttempt: true,
	Sweep: true, GuardPass: true,
	ControlStart: true, ControlEnd: true, ControlPosition: true,
	MomentumSwing: true, Aggression: true, Pressing: true, ForwardMovement: true,
}

// Valid reports whether t belongs to the taxonomy.
func (t EventType) Valid() bool { return eventTypes[t] }

// IsStrike reports whether t lands in the striking category,
// including the CV aggregates.
func (t EventType) IsStrike() bool {
	switch t {
	case StrikeJab, StrikeCross, StrikeHook, StrikeUppercut, StrikeOverhand,
		StrikeElbow, StrikeKnee, KickHead, KickBody, KickLeg, KickFront,
		StrikeGround, StrikeSig, StrikeHighImpact:
		return true
	}
	return false
}

// IsKnockdown reports whether t is one of the knockdown variants.
func (t EventType) IsKnockdown() bool {
	return t == KDFlash || t == KDHard || t == KDNF
}

// IsImpact reports whether t contributes to the impact category.
func (t EventType) IsImpact() bool {
	return t.IsKnockdown() || t == Rocked || t == StrikeHighImpact
}

// IsAggression reports whether t counts toward the Plan B tiebreaker.
func (t EventType) IsAggression() bool {
	return t == Aggression || t == Pressing || t == ForwardMovement
}

// IsControl reports whether t opens, closes, or carries a control window.
func (t EventType) IsControl() bool {
	return t == ControlStart || t == ControlEnd || t == ControlPosition
}

// EventMeta carries the event-type-specific refinements of a CombatEvent.
// Producers send a free-form map; the harmonizer parses it into this
// closed shape so scoring and hashing never touch untyped values.
type EventMeta struct {
	Quality         string  `json:"quality,omitempty"`      // LIGHT | SOLID, strikes only
	Tier            string  `json:"tier,omitempty"`         // submission attempts
	Target          string  `json:"target,omitempty"`       // anatomical target, free-form
	ControlType     string  `json:"control_type,omitempty"` // TOP | BACK | CAGE
	DurationSeconds float64 `json:"duration_seconds,omitempty"`
	WindowType      string  `json:"type,omitempty"` // start | stop, legacy control markers
	StrikesInFlurry int     `json:"strikes_in_flurry,omitempty"`
	TimeSpanMS      int64   `json:"time_span_ms,omitempty"`
	Trigger         string  `json:"trigger,omitempty"` // momentum synthesis trigger
}

// IsZero reports whether no metadata field is set.
func (m EventMeta) IsZero() bool {
	return m == EventMeta{}
}

// CombatEvent is the canonical unit of information flowing through the
// pipeline. Producers never set the pipeline-owned fields (Deduplicated,
// Canonical, ProcessedAt); the ingestion pipeline stamps them on admission.
type CombatEvent struct {
	EventID      string    `json:"event_id"`
	BoutID       string    `json:"bout_id"`
	RoundID      string    `json:"round_id"`
	FighterID    Corner    `json:"fighter_id"`
	EventType    EventType `json:"event_type"`
	Severity     float64   `json:"severity"`   // [0,1]
	Confidence   float64   `json:"confidence"` // [0,1], judge events default 1.0
	TimestampMS  int64     `json:"timestamp_ms"`
	Source       Source    `json:"source"`
	CameraID     string    `json:"camera_id,omitempty"`
	AngleDegrees *float64  `json:"angle_degrees,omitempty"`
	Metadata     EventMeta `json:"metadata"`
	Deduplicated bool      `json:"deduplicated"`
	Canonical    bool      `json:"canonical"`
	ProcessedAt  time.Time `json:"processed_at"`
}

// Quality returns the strike quality, defaulting to SOLID.
func (e *CombatEvent) Quality() string {
	if e.Metadata.Quality == QualityLight {
		return QualityLight
	}
	return QualitySolid
}

// RoundStatus is the round lifecycle state.
type RoundStatus string

const (
	StatusOpen    RoundStatus = "OPEN"
	StatusScoring RoundStatus = "SCORING"
	StatusLocked  RoundStatus = "LOCKED"
)

// RoundState is the authoritative record of one round. It is owned
// exclusively by the round manager; all mutation goes through the
// per-bout command queue.
type RoundState struct {
	RoundID   string        `json:"round_id"`
	BoutID    string        `json:"bout_id"`
	RoundNum  int           `json:"round_num"`
	Status    RoundStatus   `json:"status"`
	Events    []CombatEvent `json:"events"`
	Verdict   *RoundVerdict `json:"verdict,omitempty"` // cached from the last scoring pass
	OpenedAt  time.Time     `json:"opened_at"`
	LockedAt  *time.Time    `json:"locked_at,omitempty"`
	EventHash string        `json:"event_hash,omitempty"` // set on lock, immutable after
}

// Clone returns a deep copy safe to hand outside the owning worker.
func (r *RoundState) Clone() *RoundState {
	c := *r
	c.Events = make([]CombatEvent, len(r.Events))
	copy(c.Events, r.Events)
	if r.LockedAt != nil {
		t := *r.LockedAt
		c.LockedAt = &t
	}
	return &c
}

// RoundVerdict is the outcome of one scoring pass under the
// 10-point-must convention. ScoreCard is RED-relative, so "9-10"
// means BLUE took the round.
type RoundVerdict struct {
	RedPoints  int           `json:"red_points"`
	BluePoints int           `json:"blue_points"`
	Winner     string        `json:"winner"` // RED | BLUE | DRAW
	ScoreCard  string        `json:"score_card"`
	Receipt    *RoundReceipt `json:"receipt"`
}

// CornerBreakdown holds one corner's category subtotals and the raw
// counts the 10-8/10-7 gates read.
type CornerBreakdown struct {
	Striking   float64 `json:"striking"`
	Grappling  float64 `json:"grappling"`
	Control    float64 `json:"control"` // excludes CAGE, which Plan C owns
	Impact     float64 `json:"impact"`
	PlanATotal float64 `json:"plan_a_total"`

	SolidStrikes int `json:"solid_strikes"`
	HeavyStrikes int `json:"heavy_strikes"`

	KDFlash    int `json:"kd_flash"`
	KDHard     int `json:"kd_hard"`
	KDNF       int `json:"kd_nf"`
	Rocked     int `json:"rocked"`
	Knockdowns int `json:"knockdowns"` // flash + hard; near-finish KDs tally through NF sequences

	SubLight      int `json:"sub_light"`
	SubDeep       int `json:"sub_deep"`
	SubNearFinish int `json:"sub_near_finish"`

	TakedownsLanded  int `json:"takedowns_landed"`
	TakedownsStuffed int `json:"takedowns_stuffed"`

	NearFinishSequences int `json:"near_finish_sequences"`

	TopSeconds  float64 `json:"top_seconds"`
	BackSeconds float64 `json:"back_seconds"`
	CageSeconds float64 `json:"cage_seconds"`
	CageControl float64 `json:"cage_control"` // Plan C points

	AggressionEvents int `json:"aggression_events"`
}

// PlanResult records one stage of the scoring hierarchy.
type PlanResult struct {
	Delta   float64 `json:"delta"` // RED minus BLUE
	Allowed bool    `json:"allowed"`
	Reason  string  `json:"reason,omitempty"`
}

// ImpactAdvantage flags structurally damaging rounds. When either side
// holds it, the Plan B/C tiebreakers are disabled.
type ImpactAdvantage struct {
	Red    bool   `json:"red"`
	Blue   bool   `json:"blue"`
	Reason string `json:"reason,omitempty"`
}

// ContributionItem is one line of the receipt's top-contributor list.
type ContributionItem struct {
	EventID  string  `json:"event_id,omitempty"`
	Corner   Corner  `json:"corner"`
	Label    string  `json:"label"`
	Points   float64 `json:"points"`
	Category string  `json:"category"` // striking | grappling | control | impact
}

// RoundReceipt explains a verdict. It is assembled deterministically:
// scoring the same event list twice yields byte-identical receipts.
type RoundReceipt struct {
	Winner    string `json:"winner"`
	ScoreCard string `json:"score_card"`

	Red  CornerBreakdown `json:"red"`
	Blue CornerBreakdown `json:"blue"`

	PlanA      PlanResult `json:"plan_a"`
	PlanB      PlanResult `json:"plan_b"`
	PlanC      PlanResult `json:"plan_c"`
	DeltaRound float64    `json:"delta_round"`

	ImpactAdvantage  ImpactAdvantage    `json:"impact_advantage"`
	TopContributions []ContributionItem `json:"top_contributions"`
	GateMessages     []string           `json:"gate_messages"`
}
