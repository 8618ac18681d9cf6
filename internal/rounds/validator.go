package rounds

import (
	"fmt"
	"sort"

	"github.com/ringside/backend/internal/config"
	"github.com/ringside/backend/internal/core"
)

// Severity ranks a validation issue.
type Severity string

const (
	SeverityWarning  Severity = "WARNING"
	SeverityError    Severity = "ERROR"
	SeverityCritical Severity = "CRITICAL"
)

// Issue kinds produced by the pre-lock checks.
const (
	IssueTooFewEvents       = "TOO_FEW_EVENTS"
	IssueMissingJudgeEvents = "MISSING_JUDGE_EVENTS"
	IssueJudgeInactivity    = "JUDGE_INACTIVITY"
	IssueNoCVEvents         = "NO_CV_EVENTS"
	IssueCVFeedGap          = "CV_FEED_GAP"
	IssueTimecodeOutOfRange = "TIMECODE_OUT_OF_RANGE"
	IssueDurationOutOfRange = "DURATION_OUT_OF_RANGE"
)

// Issue is one finding from the validator.
type Issue struct {
	Kind     string   `json:"kind"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
}

// ValidationReport is the structured verdict of the pre-lock checks.
type ValidationReport struct {
	Issues    []Issue `json:"issues"`
	Warnings  int     `json:"warnings"`
	Errors    int     `json:"errors"`
	Criticals int     `json:"criticals"`

	Valid                    bool `json:"valid"`
	RequiresSupervisorReview bool `json:"requires_supervisor_review"`
	CanLock                  bool `json:"can_lock"`
}

// DominantIssue returns the kind of the most severe issue, preferring
// criticals, then errors, then warnings. Empty when the report is clean.
func (r *ValidationReport) DominantIssue() string {
	for _, want := range []Severity{SeverityCritical, SeverityError, SeverityWarning} {
		for _, issue := range r.Issues {
			if issue.Severity == want {
				return issue.Kind
			}
		}
	}
	return ""
}

// ToMap renders the report as JSON-native data for audit payloads.
func (r *ValidationReport) ToMap() map[string]interface{} {
	issues := make([]interface{}, 0, len(r.Issues))
	for _, i := range r.Issues {
		issues = append(issues, map[string]interface{}{
			"kind":     i.Kind,
			"severity": string(i.Severity),
			"message":  i.Message,
		})
	}
	return map[string]interface{}{
		"issues":                     issues,
		"warnings":                   r.Warnings,
		"errors":                     r.Errors,
		"criticals":                  r.Criticals,
		"valid":                      r.Valid,
		"requires_supervisor_review": r.RequiresSupervisorReview,
		"can_lock":                   r.CanLock,
	}
}

// Validate runs the pre-lock checks over a round's event list. Pure: the
// round manager is responsible for audit-logging the report.
func Validate(events []core.CombatEvent, roundStartMS, roundEndMS int64, cfg config.ValidationConfig) *ValidationReport {
	report := &ValidationReport{}
	add := func(kind string, severity Severity, format string, args ...interface{}) {
		report.Issues = append(report.Issues, Issue{
			Kind:     kind,
			Severity: severity,
			Message:  fmt.Sprintf(format, args...),
		})
	}

	// Minimum total events.
	if len(events) < cfg.MinTotalEvents {
		add(IssueTooFewEvents, SeverityError,
			"round has %d events, need at least %d", len(events), cfg.MinTotalEvents)
	}

	// Judge activity.
	judgeTimes := sourceTimes(events, core.SourceJudge)
	if len(judgeTimes) < cfg.MinJudgeEvents {
		add(IssueMissingJudgeEvents, SeverityCritical,
			"only %d judge events recorded, need at least %d", len(judgeTimes), cfg.MinJudgeEvents)
	}
	if gap := maxGapMS(judgeTimes); gap > int64(cfg.MaxJudgeInactivitySec*1000) {
		add(IssueJudgeInactivity, SeverityWarning,
			"judges went quiet for %.1fs (limit %.0fs)", float64(gap)/1000, cfg.MaxJudgeInactivitySec)
	}

	// CV feed health.
	cvTimes := sourceTimes(events, core.SourceCV)
	if len(cvTimes) == 0 {
		add(IssueNoCVEvents, SeverityWarning, "no CV events recorded for the round")
	} else if gap := maxGapMS(cvTimes); gap > int64(cfg.MaxCVInactivitySec*1000) {
		add(IssueCVFeedGap, SeverityWarning,
			"CV feed gap of %.1fs (limit %.0fs)", float64(gap)/1000, cfg.MaxCVInactivitySec)
	}

	// Timecode envelope.
	tolerance := cfg.TimecodeToleranceMS
	outOfRange := 0
	for i := range events {
		ts := events[i].TimestampMS
		if ts < roundStartMS-tolerance || ts > roundEndMS+tolerance {
			outOfRange++
		}
	}
	if outOfRange > 0 {
		add(IssueTimecodeOutOfRange, SeverityError,
			"%d events fall outside the round envelope [%d, %d] ms (tolerance %d ms)",
			outOfRange, roundStartMS, roundEndMS, tolerance)
	}

	// Duration sanity.
	durationSec := float64(roundEndMS-roundStartMS) / 1000
	if durationSec < 0 {
		durationSec = -durationSec
	}
	lo := cfg.ExpectedRoundDurationSec - cfg.DurationToleranceSec
	hi := cfg.ExpectedRoundDurationSec + cfg.DurationToleranceSec
	if durationSec < lo || durationSec > hi {
		add(IssueDurationOutOfRange, SeverityWarning,
			"round ran %.1fs, expected %.0fs +/- %.0fs", durationSec, cfg.ExpectedRoundDurationSec, cfg.DurationToleranceSec)
	}

	for _, issue := range report.Issues {
		switch issue.Severity {
		case SeverityWarning:
			report.Warnings++
		case SeverityError:
			report.Errors++
		case SeverityCritical:
			report.Criticals++
		}
	}
	report.Valid = len(report.Issues) == 0
	report.RequiresSupervisorReview = report.Errors > 0 || report.Criticals > 0
	report.CanLock = report.Criticals == 0
	return report
}

func sourceTimes(events []core.CombatEvent, source core.Source) []int64 {
	var times []int64
	for i := range events {
		if events[i].Source == source {
			times = append(times, events[i].TimestampMS)
		}
	}
	sort.Slice(times, func(i, j int) bool { return times[i] < times[j] })
	return times
}

func maxGapMS(sorted []int64) int64 {
	var max int64
	for i := 1; i < len(sorted); i++ {
		if gap := sorted[i] - sorted[i-1]; gap > max {
			max = gap
		}
	}
	return max
}
