package harmonizer

import "github.com/ringside/backend/internal/core"

// defaultTypeMap is the built-in vendor alias table. Keys are lowercase;
// canonical taxonomy names resolve before this table is consulted, so
// only true vendor spellings live here.
var defaultTypeMap = map[string]core.EventType{
	// striking
	"punch_jab":          core.StrikeJab,
	"jab_detected":       core.StrikeJab,
	"jab":                core.StrikeJab,
	"punch_cross":        core.StrikeCross,
	"cross_detected":     core.StrikeCross,
	"cross":              core.StrikeCross,
	"straight":           core.StrikeCross,
	"punch_hook":         core.StrikeHook,
	"hook_detected":      core.StrikeHook,
	"hook":               core.StrikeHook,
	"punch_uppercut":     core.StrikeUppercut,
	"uppercut":           core.StrikeUppercut,
	"punch_overhand":     core.StrikeOverhand,
	"overhand":           core.StrikeOverhand,
	"elbow":              core.StrikeElbow,
	"elbow_strike":       core.StrikeElbow,
	"knee":               core.StrikeKnee,
	"knee_strike":        core.StrikeKnee,
	"head_kick":          core.KickHead,
	"high_kick":          core.KickHead,
	"kick_high":          core.KickHead,
	"body_kick":          core.KickBody,
	"kick_mid":           core.KickBody,
	"middle_kick":        core.KickBody,
	"leg_kick":           core.KickLeg,
	"low_kick":           core.KickLeg,
	"kick_low":           core.KickLeg,
	"calf_kick":          core.KickLeg,
	"front_kick":         core.KickFront,
	"teep":               core.KickFront,
	"push_kick":          core.KickFront,
	"ground_strike":      core.StrikeGround,
	"ground_and_pound":   core.StrikeGround,
	"significant_strike": core.StrikeSig,
	"sig_strike":         core.StrikeSig,
	"power_strike":       core.StrikeHighImpact,
	"high_impact_strike": core.StrikeHighImpact,

	// impact
	"flash_knockdown":       core.KDFlash,
	"knockdown_flash":       core.KDFlash,
	"knockdown":             core.KDHard,
	"knockdown_hard":        core.KDHard,
	"knockdown_near_finish": core.KDNF,
	"near_finish_knockdown": core.KDNF,
	"rocked_detected":       core.Rocked,
	"stunned":               core.Rocked,
	"wobbled":               core.Rocked,

	// grappling
	"takedown_attempt":    core.TDAttempt,
	"shot_attempt":        core.TDAttempt,
	"takedown_landed":     core.TDLand,
	"takedown_complete":   core.TDLand,
	"takedown_stuffed":    core.TDStuffed,
	"takedown_defended":   core.TDStuffed,
	"sprawl":              core.TDStuffed,
	"submission_attempt":  core.SubAttempt,
	"sub_attempt":         core.SubAttempt,
	"sweep_detected":      core.Sweep,
	"pass_guard":          core.GuardPass,
	"guard_pass_detected": core.GuardPass,

	// control and tempo
	"position_control":    core.ControlPosition,
	"octagon_control":     core.Pressing,
	"cage_pressure":       core.Pressing,
	"forward_pressure":    core.ForwardMovement,
	"aggression_detected": core.Aggression,
}
