package sdk

import "encoding/json"

// Round status values reported by the backend
const (
	// StatusOpen — round created, clock not necessarily running
	StatusOpen = "OPEN"

	// StatusScoring — events are being admitted
	StatusScoring = "SCORING"

	// StatusLocked — verdict sealed, the round rejects all writes
	StatusLocked = "LOCKED"
)

// Event source tags
const (
	SourceCV        = "CV_FEED"
	SourceJudge     = "JUDGE_MANUAL"
	SourceAnalytics = "ANALYTICS_DERIVED"
)

// RawEvent is what a feed pushes to the ingest endpoint. Only
// FighterID, EventType and TimestampMS are required; CV feeds should
// also set Confidence, CameraID and AngleDegrees so multi-camera fusion
// can pick the best observation.
type RawEvent struct {
	EventID      string                 `json:"event_id,omitempty"`
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

// Round is the backend's view of one round. Events stay raw: the
// canonical event document is versioned server-side and most SDK
// consumers only relay it.
type Round struct {
	RoundID  string            `json:"round_id"`
	BoutID   string            `json:"bout_id"`
	RoundNum int               `json:"round_num"`
	Status   string            `json:"status"`
	Events   []json.RawMessage `json:"events,omitempty"`
	Verdict  *Verdict          `json:"verdict,omitempty"`
	OpenedAt string            `json:"opened_at,omitempty"`

	// EventHash is set once the round locks
	EventHash string `json:"event_hash,omitempty"`
	LockedAt  string `json:"locked_at,omitempty"`
}

// Verdict is one scoring pass. ScoreCard is RED-relative ("10-9" means
// RED took the round). Receipt is the full deterministic breakdown; it
// is kept raw so SDK consumers that only need the headline numbers do
// not pay for decoding it.
type Verdict struct {
	RedPoints  int             `json:"red_points"`
	BluePoints int             `json:"blue_points"`
	Winner     string          `json:"winner"` // RED | BLUE | DRAW
	ScoreCard  string          `json:"score_card"`
	Receipt    json.RawMessage `json:"receipt,omitempty"`
}

// ValidationIssue is one pre-lock check finding.
type ValidationIssue struct {
	Kind     string `json:"kind"`
	Severity string `json:"severity"` // WARNING | ERROR | CRITICAL
	Message  string `json:"message"`
}

// ValidationReport summarizes the pre-lock checks.
type ValidationReport struct {
	Issues    []ValidationIssue `json:"issues"`
	Warnings  int               `json:"warnings"`
	Errors    int               `json:"errors"`
	Criticals int               `json:"criticals"`

	Valid                    bool `json:"valid"`
	RequiresSupervisorReview bool `json:"requires_supervisor_review"`
	CanLock                  bool `json:"can_lock"`
}

// LockResult is the outcome of a lock request. Refused means the
// validation gate held the round open; Report explains why.
type LockResult struct {
	AlreadyLocked bool              `json:"already_locked"`
	Refused       bool              `json:"refused"`
	Report        *ValidationReport `json:"report,omitempty"`
	Round         *Round            `json:"round,omitempty"`
}

// BatchResult reports a batch ingest: admitted events plus the
// rejection strings for everything the pipeline refused.
type BatchResult struct {
	Admitted   []json.RawMessage `json:"admitted"`
	Rejections []string          `json:"rejections"`
}
