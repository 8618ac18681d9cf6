package scoring

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"

	"github.com/ringside/backend/internal/core"
)

// Profile carries every scoring constant. The defaults implement the
// unified ruleset; a promotion may override individual values through a
// YAML profile file loaded at startup.
type Profile struct {
	// Strike base weights, unit points per landed SOLID strike.
	StrikeWeights map[core.EventType]float64 `yaml:"strike_weights"`

	// Quality multipliers applied to strike weights.
	QualityLight float64 `yaml:"quality_light"`
	QualitySolid float64 `yaml:"quality_solid"`

	// Impact event values.
	KDFlashValue    float64 `yaml:"kd_flash_value"`
	KDHardValue     float64 `yaml:"kd_hard_value"`
	KDNFValue       float64 `yaml:"kd_nf_value"`
	RockedValue     float64 `yaml:"rocked_value"`
	HighImpactValue float64 `yaml:"highimpact_value"`

	// Grappling values.
	TakedownLanded  float64 `yaml:"takedown_landed"`
	TakedownStuffed float64 `yaml:"takedown_stuffed"`
	SubLight        float64 `yaml:"sub_light"`
	SubDeep         float64 `yaml:"sub_deep"`
	SubNearFinish   float64 `yaml:"sub_near_finish"`
	SweepValue      float64 `yaml:"sweep_value"`
	GuardPassValue  float64 `yaml:"guard_pass_value"`

	// Control reward rates, points per second by position.
	ControlRateTop  float64 `yaml:"control_rate_top"`
	ControlRateBack float64 `yaml:"control_rate_back"`
	ControlRateCage float64 `yaml:"control_rate_cage"`
	// A window with no offense by the controller yields half value;
	// with offense, full value times this multiplier.
	ControlOffenseMultiplier float64 `yaml:"control_offense_multiplier"`

	// Plan hierarchy thresholds.
	PlanBThreshold       float64 `yaml:"plan_b_threshold"`
	PlanBCap             float64 `yaml:"plan_b_cap"`
	PlanCThreshold       float64 `yaml:"plan_c_threshold"`
	DrawThreshold        float64 `yaml:"draw_threshold"`
	AggressionEventValue float64 `yaml:"aggression_event_value"`

	// Leg-Damage Index escalation.
	LDIStep  float64   `yaml:"ldi_step"`
	LDITiers []LDITier `yaml:"ldi_tiers"`

	// Near-finish sequence pairing window.
	NFSequenceWindowSeconds float64 `yaml:"nf_sequence_window_seconds"`

	// 10-8 gate thresholds.
	TenEightKnockdowns   int     `yaml:"ten_eight_knockdowns"`
	TenEightPlanALead    float64 `yaml:"ten_eight_plan_a_lead"`
	TenEightSolidDiff    int     `yaml:"ten_eight_solid_diff"`
	TenEightHeavyDiff    int     `yaml:"ten_eight_heavy_diff"`

	// 10-7 gate thresholds.
	TenSevenKnockdowns int     `yaml:"ten_seven_knockdowns"`
	TenSevenPlanALead  float64 `yaml:"ten_seven_plan_a_lead"`
	TenSevenSolidDiff  int     `yaml:"ten_seven_solid_diff"`
	TenSevenHeavyDiff  int     `yaml:"ten_seven_heavy_diff"`

	// Receipt shaping.
	MaxContributions int `yaml:"max_contributions"`
}

// LDITier maps an accumulated leg-damage index to the multiplier the
// next leg kick against that fighter earns. Tiers are evaluated in
// order; the first tier whose Below bound exceeds the index wins, and
// the final tier applies open-ended.
type LDITier struct {
	Below      float64 `yaml:"below"` // exclusive upper bound; 0 means open-ended
	Multiplier float64 `yaml:"multiplier"`
}

// heavyStrikes is the closed set of techniques the 10-8/10-7 gates
// count as heavy. CV aggregates stay out: STRIKE_HIGHIMPACT is already
// valued through the impact category.
var heavyStrikes = map[core.EventType]bool{
	core.StrikeHook:     true,
	core.StrikeUppercut: true,
	core.StrikeOverhand: true,
	core.KickHead:       true,
	core.KickBody:       true,
	core.StrikeElbow:    true,
	core.StrikeKnee:     true,
}

// DefaultProfile returns the unified-ruleset constants.
func DefaultProfile() *Profile {
	return &Profile{
		StrikeWeights: map[core.EventType]float64{
			core.StrikeJab:      1.0,
			core.StrikeCross:    2.0,
			core.StrikeHook:     2.5,
			core.StrikeUppercut: 2.5,
			core.StrikeOverhand: 2.8,
			core.KickHead:       5.0,
			core.KickBody:       3.0,
			core.KickLeg:        1.5,
			core.KickFront:      2.0,
			core.StrikeElbow:    3.0,
			core.StrikeKnee:     4.0,
			core.StrikeGround:   1.2,
			core.StrikeSig:      2.0,
		},

		QualityLight: 0.5,
		QualitySolid: 1.0,

		KDFlashValue:    15,
		KDHardValue:     25,
		KDNFValue:       35,
		RockedValue:     12,
		HighImpactValue: 5,

		TakedownLanded:  4,
		TakedownStuffed: 0.5,
		SubLight:        2,
		SubDeep:         6,
		SubNearFinish:   12,
		SweepValue:      2.0,
		GuardPassValue:  1.5,

		ControlRateTop:           0.010,
		ControlRateBack:          0.012,
		ControlRateCage:          0.006,
		ControlOffenseMultiplier: 1.10,

		PlanBThreshold:       2.0,
		PlanBCap:             1.5,
		PlanCThreshold:       1.0,
		DrawThreshold:        0.5,
		AggressionEventValue: 0.3,

		LDIStep: 0.1,
		LDITiers: []LDITier{
			{Below: 0.3, Multiplier: 1.00},
			{Below: 0.6, Multiplier: 1.10},
			{Below: 1.0, Multiplier: 1.25},
			{Below: 0, Multiplier: 1.40},
		},

		NFSequenceWindowSeconds: 30,

		TenEightKnockdowns: 3,
		TenEightPlanALead:  4.0,
		TenEightSolidDiff:  12,
		TenEightHeavyDiff:  5,

		TenSevenKnockdowns: 4,
		TenSevenPlanALead:  8.0,
		TenSevenSolidDiff:  25,
		TenSevenHeavyDiff:  10,

		MaxContributions: 8,
	}
}

// strikeWeight returns the base weight for a strike technique, or 0 for
// types outside the striking table.
func (p *Profile) strikeWeight(t core.EventType) float64 {
	return p.StrikeWeights[t]
}

// qualityMultiplier maps a strike quality tag to its multiplier.
func (p *Profile) qualityMultiplier(q string) float64 {
	if q == core.QualityLight {
		return p.QualityLight
	}
	return p.QualitySolid
}

// ldiMultiplier looks up the escalation multiplier for an accumulated
// leg-damage index.
func (p *Profile) ldiMultiplier(index float64) float64 {
	for _, tier := range p.LDITiers {
		if tier.Below > 0 && index < tier.Below {
			return tier.Multiplier
		}
	}
	if n := len(p.LDITiers); n > 0 {
		return p.LDITiers[n-1].Multiplier
	}
	return 1.0
}

// subValue returns the submission attempt value for a tier, defaulting
// unknown tiers to LIGHT.
func (p *Profile) subValue(tier string) float64 {
	switch tier {
	case core.TierNearFinish:
		return p.SubNearFinish
	case core.TierDeep:
		return p.SubDeep
	default:
		return p.SubLight
	}
}

// controlRate returns the per-second reward for a control position.
func (p *Profile) controlRate(position string) float64 {
	switch position {
	case core.ControlTop:
		return p.ControlRateTop
	case core.ControlBack:
		return p.ControlRateBack
	case core.ControlCage:
		return p.ControlRateCage
	}
	return 0
}

// LoadProfile reads a promotion's override file and merges it over the
// defaults: only the values the file sets move off the stock ruleset.
func LoadProfile(path string) (*Profile, error) {
	base := DefaultProfile()
	if path == "" {
		return base, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scoring profile %s: %w", path, err)
	}

	var override Profile
	if err := yaml.Unmarshal(data, &override); err != nil {
		return nil, fmt.Errorf("parse scoring profile %s: %w", path, err)
	}

	base.merge(&override)
	return base, nil
}

func (p *Profile) merge(o *Profile) {
	for t, w := range o.StrikeWeights {
		p.StrikeWeights[t] = w
	}
	mergeFloat(&p.QualityLight, o.QualityLight)
	mergeFloat(&p.QualitySolid, o.QualitySolid)
	mergeFloat(&p.KDFlashValue, o.KDFlashValue)
	mergeFloat(&p.KDHardValue, o.KDHardValue)
	mergeFloat(&p.KDNFValue, o.KDNFValue)
	mergeFloat(&p.RockedValue, o.RockedValue)
	mergeFloat(&p.HighImpactValue, o.HighImpactValue)
	mergeFloat(&p.TakedownLanded, o.TakedownLanded)
	mergeFloat(&p.TakedownStuffed, o.TakedownStuffed)
	mergeFloat(&p.SubLight, o.SubLight)
	mergeFloat(&p.SubDeep, o.SubDeep)
	mergeFloat(&p.SubNearFinish, o.SubNearFinish)
	mergeFloat(&p.SweepValue, o.SweepValue)
	mergeFloat(&p.GuardPassValue, o.GuardPassValue)
	mergeFloat(&p.ControlRateTop, o.ControlRateTop)
	mergeFloat(&p.ControlRateBack, o.ControlRateBack)
	mergeFloat(&p.ControlRateCage, o.ControlRateCage)
	mergeFloat(&p.ControlOffenseMultiplier, o.ControlOffenseMultiplier)
	mergeFloat(&p.PlanBThreshold, o.PlanBThreshold)
	mergeFloat(&p.PlanBCap, o.PlanBCap)
	mergeFloat(&p.PlanCThreshold, o.PlanCThreshold)
	mergeFloat(&p.DrawThreshold, o.DrawThreshold)
	mergeFloat(&p.AggressionEventValue, o.AggressionEventValue)
	mergeFloat(&p.LDIStep, o.LDIStep)
	if len(o.LDITiers) > 0 {
		p.LDITiers = o.LDITiers
	}
	mergeFloat(&p.NFSequenceWindowSeconds, o.NFSequenceWindowSeconds)
	mergeInt(&p.TenEightKnockdowns, o.TenEightKnockdowns)
	mergeFloat(&p.TenEightPlanALead, o.TenEightPlanALead)
	mergeInt(&p.TenEightSolidDiff, o.TenEightSolidDiff)
	mergeInt(&p.TenEightHeavyDiff, o.TenEightHeavyDiff)
	mergeInt(&p.TenSevenKnockdowns, o.TenSevenKnockdowns)
	mergeFloat(&p.TenSevenPlanALead, o.TenSevenPlanALead)
	mergeInt(&p.TenSevenSolidDiff, o.TenSevenSolidDiff)
	mergeInt(&p.TenSevenHeavyDiff, o.TenSevenHeavyDiff)
	mergeInt(&p.MaxContributions, o.MaxContributions)
}

func mergeFloat(dst *float64, v float64) {
	if v != 0 {
		*dst = v
	}
}

func mergeInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}
