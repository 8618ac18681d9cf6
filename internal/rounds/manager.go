// Package rounds owns the round lifecycle: the OPEN -> SCORING -> LOCKED
// state machine, event admission into a round's canonical sequence, score
// recomputation, the pre-lock validation gates, and the event-hash commit.
// All mutation of one bout's rounds flows through a single-consumer command
// queue, so rounds never need locks of their own and back-pressure is
// visible at the queue boundary.
package rounds

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ringside/backend/internal/audit"
	"github.com/ringside/backend/internal/bus"
	"github.com/ringside/backend/internal/clock"
	"github.com/ringside/backend/internal/config"
	"github.com/ringside/backend/internal/core"
	"github.com/ringside/backend/internal/harmonizer"
	"github.com/ringside/backend/internal/metrics"
	"github.com/ringside/backend/internal/pipeline"
	"github.com/ringside/backend/internal/scoring"
	"github.com/ringside/backend/internal/storage"
)

// DefaultLockDeadline bounds the lock operation, the only call that
// intentionally blocks on the validator.
const DefaultLockDeadline = 2 * time.Second

// RejectReasonRoundLocked is the audit reason for events turned away
// because the round was already locked.
const RejectReasonRoundLocked = "ROUND_LOCKED"

// RejectReasonMulticamDuplicate is the audit reason for fusion
// non-winners: recorded in the trail, absent from the canonical sequence.
const RejectReasonMulticamDuplicate = "MULTICAM_DUPLICATE"

// ResultsMirror receives locked rounds for downstream result surfaces
// (commission portal). Mirror failures never block the lock.
type ResultsMirror interface {
	MirrorLockedRound(ctx context.Context, st *core.RoundState) error
}

// LockResult is the outcome of a lock attempt.
type LockResult struct {
	AlreadyLocked bool              `json:"already_locked"`
	Refused       bool              `json:"refused"`
	Report        *ValidationReport `json:"report,omitempty"`
	Round         *core.RoundState  `json:"round,omitempty"`
}

// ManagerDeps wires the manager's collaborators. Store, Audit, Bus,
// Harmonizer, Coordinator, Engine and Clock are required; Cache, Mirror
// and Meters are optional.
type ManagerDeps struct {
	Store       Store
	Audit       *audit.Log
	Bus         *bus.Bus
	Harmonizer  *harmonizer.Harmonizer
	Coordinator *config.Coordinator
	Engine      *scoring.Engine
	Clock       clock.Clock
	Timers      *clock.TimerRegistry
	Validation  config.ValidationConfig
	Cache       *VerdictCache
	Mirror      ResultsMirror
	Meters      *metrics.Metrics
}

type roundRuntime struct {
	boutID string
	state  *core.RoundState
	pipe   *pipeline.Pipeline
}

type command struct {
	run  func()
	done chan struct{}
}

type boutWorker struct {
	boutID string
	cmds   chan command
}

func (w *boutWorker) loop() {
	for cmd := range w.cmds {
		cmd.run()
		close(cmd.done)
	}
}

// Manager is the authority over round state. One worker goroutine per
// bout drains commands; different bouts proceed in parallel.
type Manager struct {
	deps ManagerDeps

	mu      sync.Mutex
	workers map[string]*boutWorker
	rounds  map[string]*roundRuntime
	closed  bool
}

// NewManager wires a Manager from its dependencies.
func NewManager(deps ManagerDeps) *Manager {
	return &Manager{
		deps:    deps,
		workers: make(map[string]*boutWorker),
		rounds:  make(map[string]*roundRuntime),
	}
}

// Close stops every bout worker. Pending commands finish first.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	for _, w := range m.workers {
		close(w.cmds)
	}
}

// dispatch runs fn on the bout's worker and waits for completion or the
// caller's deadline. fn re-checks the context before committing, so a
// command abandoned in the queue never half-applies.
func (m *Manager) dispatch(ctx context.Context, boutID string, fn func(context.Context)) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return fmt.Errorf("round manager is shut down")
	}
	w, ok := m.workers[boutID]
	if !ok {
		w = &boutWorker{boutID: boutID, cmds: make(chan command, 64)}
		m.workers[boutID] = w
		if m.deps.Meters != nil {
			m.deps.Meters.ActiveBouts.Inc()
		}
		go w.loop()
	}
	m.mu.Unlock()

	cmd := command{run: func() { fn(ctx) }, done: make(chan struct{})}
	select {
	case w.cmds <- cmd:
	case <-ctx.Done():
		return ErrTimeout
	}
	select {
	case <-cmd.done:
		return nil
	case <-ctx.Done():
		return ErrTimeout
	}
}

func (m *Manager) runtime(roundID string) (*roundRuntime, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rt, ok := m.rounds[roundID]
	return rt, ok
}

// OpenRound creates a fresh round for the bout, persists it, audits it,
// and announces it on the lifecycle topic. The bout's round timer is
// reset and started.
func (m *Manager) OpenRound(ctx context.Context, boutID string, roundNum int, actor string) (*core.RoundState, error) {
	var (
		out  *core.RoundState
		oerr error
	)
	err := m.dispatch(ctx, boutID, func(ctx context.Context) {
		if ctx.Err() != nil {
			oerr = ErrTimeout
			return
		}

		st := &core.RoundState{
			RoundID:  uuid.NewString(),
			BoutID:   boutID,
			RoundNum: roundNum,
			Status:   core.StatusOpen,
			OpenedAt: m.deps.Clock.Now(),
		}

		if err := storage.Retry(ctx, "round save", func() error {
			return m.deps.Store.SaveRound(ctx, st)
		}); err != nil {
			oerr = err
			return
		}

		if _, err := m.deps.Audit.Record(ctx, boutID, st.RoundID, audit.ActionRoundOpened, actor,
			map[string]interface{}{"round_num": roundNum}); err != nil {
			oerr = err
			return
		}

		rt := &roundRuntime{
			boutID: boutID,
			state:  st,
			pipe:   pipeline.New(m.deps.Coordinator, m.deps.Clock, m.deps.Meters),
		}
		m.mu.Lock()
		m.rounds[st.RoundID] = rt
		m.mu.Unlock()

		if m.deps.Timers != nil {
			timer := m.deps.Timers.Get(boutID)
			timer.Reset()
			timer.Start()
		}
		if m.deps.Meters != nil {
			m.deps.Meters.RoundsOpened.Inc()
		}
		m.publishLifecycle(st, "round_opened", map[string]interface{}{"round_num": roundNum})
		slog.Info("round opened", "bout_id", boutID, "round_id", st.RoundID, "round_num", roundNum)

		out = st.Clone()
	})
	if err != nil {
		return nil, err
	}
	return out, oerr
}

// AppendEvent harmonizes and admits one raw event into the round.
// Harmonization failures and admission rejections are returned to the
// caller and audited; they never abort the stream. The operation is
// atomic: the event is persisted, audited, appended, and published, or
// none of those.
func (m *Manager) AppendEvent(ctx context.Context, roundID string, raw harmonizer.RawEvent, hint core.Source, actor string) (*core.CombatEvent, error) {
	rt, ok := m.runtime(roundID)
	if !ok {
		return nil, ErrRoundNotFound
	}

	// Live producers may omit the timestamp; stamp it from the bout
	// timer. Replay and import paths always pass explicit timestamps.
	if raw.TimestampMS == nil && m.deps.Timers != nil {
		ts := m.deps.Timers.Get(rt.boutID).ElapsedMS()
		raw.TimestampMS = &ts
	}

	var (
		out  *core.CombatEvent
		aerr error
	)
	err := m.dispatch(ctx, rt.boutID, func(ctx context.Context) {
		if ctx.Err() != nil {
			aerr = ErrTimeout
			return
		}
		out, aerr = m.appendLocked(ctx, rt, raw, hint, actor)
	})
	if err != nil {
		return nil, err
	}
	return out, aerr
}

// appendLocked runs on the bout worker.
func (m *Manager) appendLocked(ctx context.Context, rt *roundRuntime, raw harmonizer.RawEvent, hint core.Source, actor string) (*core.CombatEvent, error) {
	st := rt.state

	if st.Status == core.StatusLocked {
		m.auditRejection(ctx, st, actor, RejectReasonRoundLocked, "round is locked", raw.EventType)
		return nil, ErrRoundLocked
	}

	raw.BoutID, raw.RoundID = st.BoutID, st.RoundID
	ev, err := m.deps.Harmonizer.Harmonize(raw, hint)
	if err != nil {
		if herr, ok := err.(*harmonizer.Error); ok {
			m.auditRejection(ctx, st, actor, string(herr.Code), herr.Detail, raw.EventType)
			if m.deps.Meters != nil {
				m.deps.Meters.RecordRejection(string(herr.Code))
			}
		}
		return nil, err
	}

	admitted, err := rt.pipe.Admit(ev)
	if err != nil {
		if rej, ok := err.(*pipeline.Rejection); ok {
			m.auditRejection(ctx, st, actor, string(rej.Reason), rej.Detail, string(ev.EventType))
		}
		return nil, err
	}

	return m.commitEvent(ctx, rt, &admitted, actor)
}

// commitEvent persists, audits, appends and publishes one admitted
// event. Failure at any step leaves the round unchanged.
func (m *Manager) commitEvent(ctx context.Context, rt *roundRuntime, ev *core.CombatEvent, actor string) (*core.CombatEvent, error) {
	st := rt.state
	seq := len(st.Events)

	if err := storage.Retry(ctx, "event append", func() error {
		return m.deps.Store.AppendEvent(ctx, st.RoundID, seq, ev)
	}); err != nil {
		return nil, err
	}

	if _, err := m.deps.Audit.Record(ctx, st.BoutID, st.RoundID, audit.ActionEventAdmitted, actor,
		eventData(ev)); err != nil {
		// Roll the persisted row back so the stored sequence matches
		// the canonical one. Best effort: a failure here only leaves a
		// slot the next append will refuse to double-write.
		if rerr := m.deps.Store.RemoveEvent(ctx, st.RoundID, seq); rerr != nil {
			slog.Error("event rollback failed", "round_id", st.RoundID, "seq", seq, "error", rerr)
		}
		return nil, err
	}

	st.Events = append(st.Events, *ev)

	topic, msgType := bus.TopicCVEvents, "cv_event"
	if ev.Source == core.SourceJudge {
		topic, msgType = bus.TopicJudgeEvents, "judge_event"
	}
	m.deps.Bus.Publish(topic, &bus.Message{
		Type:    msgType,
		BoutID:  st.BoutID,
		RoundID: st.RoundID,
		Data:    eventData(ev),
	})

	out := *ev
	return &out, nil
}

// AppendBatch harmonizes a batch, runs multi-camera fusion over it, and
// admits the canonical survivors. Fusion non-winners stay in the audit
// trail but never reach the round's sequence. Returns the admitted
// events and the per-event rejections (harmonization and admission).
func (m *Manager) AppendBatch(ctx context.Context, roundID string, raws []harmonizer.RawEvent, hint core.Source, actor string) ([]core.CombatEvent, []error, error) {
	rt, ok := m.runtime(roundID)
	if !ok {
		return nil, nil, ErrRoundNotFound
	}

	var (
		admitted []core.CombatEvent
		rejected []error
	)
	err := m.dispatch(ctx, rt.boutID, func(ctx context.Context) {
		if ctx.Err() != nil {
			rejected = append(rejected, ErrTimeout)
			return
		}
		st := rt.state
		if st.Status == core.StatusLocked {
			rejected = append(rejected, ErrRoundLocked)
			return
		}

		for i := range raws {
			raws[i].BoutID, raws[i].RoundID = st.BoutID, st.RoundID
		}
		events, herrs := m.deps.Harmonizer.HarmonizeBatch(raws, hint)
		for _, h := range herrs {
			m.auditRejection(ctx, st, actor, string(h.Err.Code), h.Err.Detail, h.Raw.EventType)
			rejected = append(rejected, h.Err)
		}

		canonical, dropped := rt.pipe.FuseBatch(events)
		for i := range dropped {
			m.auditRejection(ctx, st, actor, RejectReasonMulticamDuplicate,
				fmt.Sprintf("camera %s lost fusion", dropped[i].CameraID), string(dropped[i].EventType))
		}

		for i := range canonical {
			ev, err := rt.pipe.Admit(canonical[i])
			if err != nil {
				if rej, ok := err.(*pipeline.Rejection); ok {
					m.auditRejection(ctx, st, actor, string(rej.Reason), rej.Detail, string(canonical[i].EventType))
				}
				rejected = append(rejected, err)
				continue
			}
			committed, err := m.commitEvent(ctx, rt, &ev, actor)
			if err != nil {
				rejected = append(rejected, err)
				continue
			}
			admitted = append(admitted, *committed)
		}
	})
	if err != nil {
		return nil, nil, err
	}
	return admitted, rejected, nil
}

// SynthesizeMomentum scans a corner's admitted strikes for flurries and
// admits any synthesized momentum-swing events into the round.
func (m *Manager) SynthesizeMomentum(ctx context.Context, roundID string, corner core.Corner, actor string) ([]core.CombatEvent, error) {
	rt, ok := m.runtime(roundID)
	if !ok {
		return nil, ErrRoundNotFound
	}

	var (
		swings []core.CombatEvent
		serr   error
	)
	err := m.dispatch(ctx, rt.boutID, func(ctx context.Context) {
		if ctx.Err() != nil {
			serr = ErrTimeout
			return
		}
		st := rt.state
		if st.Status == core.StatusLocked {
			serr = ErrRoundLocked
			return
		}

		for _, swing := range rt.pipe.DetectMomentum(st.Events, corner) {
			committed, err := m.commitEvent(ctx, rt, &swing, actor)
			if err != nil {
				serr = err
				return
			}
			swings = append(swings, *committed)
		}
	})
	if err != nil {
		return nil, err
	}
	return swings, serr
}

// ComputeScore runs the engine over the round's current sequence,
// caches the verdict, and publishes a score update. The first
// successful pass moves an OPEN round to SCORING. On a locked round the
// cached final verdict is returned unchanged.
func (m *Manager) ComputeScore(ctx context.Context, roundID string, actor string) (*core.RoundVerdict, error) {
	rt, ok := m.runtime(roundID)
	if !ok {
		return nil, ErrRoundNotFound
	}

	var (
		out  *core.RoundVerdict
		cerr error
	)
	err := m.dispatch(ctx, rt.boutID, func(ctx context.Context) {
		if ctx.Err() != nil {
			cerr = ErrTimeout
			return
		}
		out, cerr = m.computeLocked(ctx, rt, actor)
	})
	if err != nil {
		return nil, err
	}
	return out, cerr
}

func (m *Manager) computeLocked(ctx context.Context, rt *roundRuntime, actor string) (*core.RoundVerdict, error) {
	st := rt.state
	if st.Status == core.StatusLocked {
		return st.Verdict, nil
	}

	start := time.Now()
	verdict := m.deps.Engine.Score(st.Events)
	elapsed := time.Since(start)

	next := st.Clone()
	next.Verdict = verdict
	transitioned := next.Status == core.StatusOpen
	if transitioned {
		next.Status = core.StatusScoring
	}

	if err := storage.Retry(ctx, "round save", func() error {
		return m.deps.Store.SaveRound(ctx, next)
	}); err != nil {
		return nil, err
	}

	if _, err := m.deps.Audit.Record(ctx, st.BoutID, st.RoundID, audit.ActionScoreComputed, actor,
		map[string]interface{}{
			"score_card":  verdict.ScoreCard,
			"winner":      verdict.Winner,
			"delta_round": verdict.Receipt.DeltaRound,
			"event_count": len(st.Events),
		}); err != nil {
		return nil, err
	}

	st.Verdict = verdict
	st.Status = next.Status

	if m.deps.Meters != nil {
		m.deps.Meters.RecordScore(verdict.ScoreCard, elapsed.Seconds(), verdict.Receipt.DeltaRound)
	}
	if transitioned {
		m.publishLifecycle(st, "round_scoring", nil)
	}
	m.deps.Bus.Publish(bus.TopicScoreUpdates, &bus.Message{
		Type:    "score_update",
		BoutID:  st.BoutID,
		RoundID: st.RoundID,
		Data:    verdictData(verdict),
	})
	if m.deps.Cache != nil {
		m.deps.Cache.Put(ctx, st.RoundID, verdict)
	}
	return verdict, nil
}

// LockRound freezes the round: a final scoring pass, the validation
// gates, then the event-hash commit. Idempotent on locked rounds. A
// CRITICAL validation issue refuses the lock and leaves the round in
// SCORING for the supervisor to repair and retry.
func (m *Manager) LockRound(ctx context.Context, roundID string, actor string) (*LockResult, error) {
	rt, ok := m.runtime(roundID)
	if !ok {
		return nil, ErrRoundNotFound
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultLockDeadline)
		defer cancel()
	}

	var (
		out  *LockResult
		lerr error
	)
	err := m.dispatch(ctx, rt.boutID, func(ctx context.Context) {
		if ctx.Err() != nil {
			lerr = ErrTimeout
			return
		}
		out, lerr = m.lockLocked(ctx, rt, actor)
	})
	if err != nil {
		return nil, err
	}
	return out, lerr
}

func (m *Manager) lockLocked(ctx context.Context, rt *roundRuntime, actor string) (*LockResult, error) {
	st := rt.state
	if st.Status == core.StatusLocked {
		return &LockResult{AlreadyLocked: true, Round: st.Clone()}, nil
	}

	if _, err := m.computeLocked(ctx, rt, actor); err != nil {
		return nil, err
	}

	startMS, endMS := m.roundEnvelope(rt)
	report := Validate(st.Events, startMS, endMS, m.deps.Validation)
	if _, err := m.deps.Audit.Record(ctx, st.BoutID, st.RoundID, audit.ActionValidationRun, actor,
		report.ToMap()); err != nil {
		return nil, err
	}

	if !report.CanLock {
		if m.deps.Meters != nil {
			m.deps.Meters.RecordLockRefused(report.DominantIssue())
		}
		slog.Warn("lock refused", "round_id", st.RoundID, "criticals", report.Criticals,
			"dominant", report.DominantIssue())
		return &LockResult{Refused: true, Report: report}, nil
	}

	hash, err := core.EventHash(st.Events)
	if err != nil {
		return nil, fmt.Errorf("compute event hash: %w", err)
	}

	next := st.Clone()
	lockedAt := m.deps.Clock.Now()
	next.Status = core.StatusLocked
	next.LockedAt = &lockedAt
	next.EventHash = hash

	if err := storage.Retry(ctx, "round save", func() error {
		return m.deps.Store.SaveRound(ctx, next)
	}); err != nil {
		return nil, err
	}

	if _, err := m.deps.Audit.Record(ctx, st.BoutID, st.RoundID, audit.ActionRoundLocked, actor,
		map[string]interface{}{
			"event_hash":  hash,
			"event_count": len(st.Events),
			"score_card":  st.Verdict.ScoreCard,
			"winner":      st.Verdict.Winner,
		}); err != nil {
		return nil, err
	}

	st.Status = core.StatusLocked
	st.LockedAt = &lockedAt
	st.EventHash = hash

	if m.deps.Timers != nil {
		m.deps.Timers.Get(rt.boutID).Pause()
	}
	if m.deps.Meters != nil {
		m.deps.Meters.RoundsLocked.Inc()
	}
	m.publishLifecycle(st, "round_locked", map[string]interface{}{"event_hash": hash})

	if m.deps.Mirror != nil {
		if err := m.deps.Mirror.MirrorLockedRound(ctx, st.Clone()); err != nil {
			slog.Error("results mirror failed", "round_id", st.RoundID, "error", err)
		}
	}

	slog.Info("round locked", "round_id", st.RoundID, "event_hash", hash,
		"score_card", st.Verdict.ScoreCard, "report_valid", report.Valid)
	return &LockResult{Report: report, Round: st.Clone()}, nil
}

// roundEnvelope returns the validation time envelope: bout-clock zero
// through the round timer's elapsed time, falling back to the last
// event when no timer ran (replay).
func (m *Manager) roundEnvelope(rt *roundRuntime) (int64, int64) {
	var endMS int64
	if m.deps.Timers != nil {
		endMS = m.deps.Timers.Get(rt.boutID).ElapsedMS()
	}
	for _, ev := range rt.state.Events {
		if ev.TimestampMS > endMS {
			endMS = ev.TimestampMS
		}
	}
	return 0, endMS
}

// GetRound returns a consistent snapshot of the round.
func (m *Manager) GetRound(ctx context.Context, roundID string) (*core.RoundState, error) {
	rt, ok := m.runtime(roundID)
	if !ok {
		// Cold read: rounds from a previous process live in the store.
		return m.deps.Store.GetRound(ctx, roundID)
	}

	var out *core.RoundState
	err := m.dispatch(ctx, rt.boutID, func(context.Context) {
		out = rt.state.Clone()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ValidatePreview runs the pre-lock checks without attempting a lock.
func (m *Manager) ValidatePreview(ctx context.Context, roundID string, actor string) (*ValidationReport, error) {
	rt, ok := m.runtime(roundID)
	if !ok {
		return nil, ErrRoundNotFound
	}

	var (
		report *ValidationReport
		verr   error
	)
	err := m.dispatch(ctx, rt.boutID, func(ctx context.Context) {
		startMS, endMS := m.roundEnvelope(rt)
		report = Validate(rt.state.Events, startMS, endMS, m.deps.Validation)
		_, verr = m.deps.Audit.Record(ctx, rt.state.BoutID, rt.state.RoundID,
			audit.ActionValidationRun, actor, report.ToMap())
	})
	if err != nil {
		return nil, err
	}
	return report, verr
}

// PipelineStats returns the round's admission counters.
func (m *Manager) PipelineStats(roundID string) (pipeline.Stats, error) {
	rt, ok := m.runtime(roundID)
	if !ok {
		return pipeline.Stats{}, ErrRoundNotFound
	}
	return rt.pipe.Stats(), nil
}

// VerifyRound recomputes a locked round's event hash against the stored
// commit. A mismatch means the persisted sequence was altered after
// lock; that breaks the system's core integrity invariant, so it panics
// rather than returning an error a caller might swallow.
func (m *Manager) VerifyRound(ctx context.Context, roundID string) error {
	st, err := m.GetRound(ctx, roundID)
	if err != nil {
		return err
	}
	if st.Status != core.StatusLocked {
		return fmt.Errorf("round %s is not locked", roundID)
	}

	hash, err := core.EventHash(st.Events)
	if err != nil {
		return err
	}
	if hash != st.EventHash {
		panic(fmt.Sprintf("event hash mismatch on locked round %s: stored %s recomputed %s",
			roundID, st.EventHash, hash))
	}
	return nil
}

func (m *Manager) publishLifecycle(st *core.RoundState, event string, extra map[string]interface{}) {
	data := map[string]interface{}{
		"event":    event,
		"round_id": st.RoundID,
		"status":   string(st.Status),
	}
	for k, v := range extra {
		data[k] = v
	}
	m.deps.Bus.Publish(bus.TopicLifecycle, &bus.Message{
		Type:    "lifecycle",
		BoutID:  st.BoutID,
		RoundID: st.RoundID,
		Data:    data,
	})
}

func (m *Manager) auditRejection(ctx context.Context, st *core.RoundState, actor, reason, detail, eventType string) {
	_, err := m.deps.Audit.Record(ctx, st.BoutID, st.RoundID, audit.ActionEventRejected, actor,
		map[string]interface{}{
			"reason":     reason,
			"detail":     detail,
			"event_type": eventType,
		})
	if err != nil {
		slog.Error("failed to audit rejection", "round_id", st.RoundID, "reason", reason, "error", err)
	}
}

// eventData renders an event as JSON-native data for audit payloads and
// bus messages.
func eventData(ev *core.CombatEvent) map[string]interface{} {
	return toMap(ev)
}

func verdictData(v *core.RoundVerdict) map[string]interface{} {
	return toMap(v)
}

func toMap(v interface{}) map[string]interface{} {
	raw, err := json.Marshal(v)
	if err != nil {
		return map[string]interface{}{"encode_error": err.Error()}
	}
	var out map[string]interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return map[string]interface{}{"decode_error": err.Error()}
	}
	return out
}
