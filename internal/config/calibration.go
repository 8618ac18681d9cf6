package config

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Calibration holds the mutable pipeline thresholds. The pipeline reads
// a snapshot per operation, so a mid-stream update never produces a
// half-old, half-new decision.
type Calibration struct {
	KDThreshold               float64 `yaml:"kd_threshold" json:"kd_threshold"`
	RockedThreshold           float64 `yaml:"rocked_threshold" json:"rocked_threshold"`
	HighImpactStrikeThreshold float64 `yaml:"highimpact_strike_threshold" json:"highimpact_strike_threshold"`
	MomentumSwingWindowMS     int64   `yaml:"momentum_swing_window_ms" json:"momentum_swing_window_ms"`
	MulticamMergeWindowMS     int64   `yaml:"multicam_merge_window_ms" json:"multicam_merge_window_ms"`
	ConfidenceThreshold       float64 `yaml:"confidence_threshold" json:"confidence_threshold"`
	DeduplicationWindowMS     int64   `yaml:"deduplication_window_ms" json:"deduplication_window_ms"`

	Version      int64     `yaml:"-" json:"version"`
	ModifiedBy   string    `yaml:"-" json:"modified_by,omitempty"`
	LastModified time.Time `yaml:"-" json:"last_modified,omitempty"`
}

func (c *Calibration) applyDefaults() {
	if c.KDThreshold == 0 {
		c.KDThreshold = 0.90
	}
	if c.RockedThreshold == 0 {
		c.RockedThreshold = 0.50
	}
	if c.HighImpactStrikeThreshold == 0 {
		c.HighImpactStrikeThreshold = 0.85
	}
	if c.MomentumSwingWindowMS == 0 {
		c.MomentumSwingWindowMS = 10000
	}
	if c.MulticamMergeWindowMS == 0 {
		c.MulticamMergeWindowMS = 250
	}
	if c.ConfidenceThreshold == 0 {
		c.ConfidenceThreshold = 0.5
	}
	if c.DeduplicationWindowMS == 0 {
		c.DeduplicationWindowMS = 1000
	}
}

// DefaultCalibration returns the stock thresholds at version 1.
func DefaultCalibration() *Calibration {
	c := &Calibration{Version: 1}
	c.applyDefaults()
	return c
}

// CalibrationStore persists calibration revisions.
type CalibrationStore interface {
	SaveCalibration(ctx context.Context, cal *Calibration) error
	LoadCalibration(ctx context.Context) (*Calibration, error)
}

// Coordinator owns the live Calibration with copy-on-update semantics.
// Readers take a lock-free snapshot; writers serialize, bump the
// version, persist, then notify listeners (bus publish, audit).
type Coordinator struct {
	current   atomic.Pointer[Calibration]
	mu        sync.Mutex
	store     CalibrationStore
	listeners []func(Calibration)
	nowFn     func() time.Time
}

// NewCoordinator starts from initial (or the defaults when nil).
func NewCoordinator(initial *Calibration, store CalibrationStore) *Coordinator {
	if initial == nil {
		initial = DefaultCalibration()
	}
	c := &Coordinator{store: store, nowFn: func() time.Time { return time.Now().UTC() }}
	snapshot := *initial
	c.current.Store(&snapshot)
	return c
}

// SetNowFunc overrides the update timestamp source. Used by tests and
// replay tooling.
func (c *Coordinator) SetNowFunc(fn func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nowFn = fn
}

// Snapshot returns the live calibration. The returned value must be
// treated as immutable; Update installs a fresh copy on every change.
func (c *Coordinator) Snapshot() *Calibration {
	return c.current.Load()
}

// OnUpdate registers a listener invoked after each successful update
// with a copy of the new calibration.
func (c *Coordinator) OnUpdate(fn func(Calibration)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// Update applies mutate to a copy of the live calibration, bumps the
// version, persists, swaps the pointer, and notifies listeners. The
// snapshot other readers hold is never touched.
func (c *Coordinator) Update(ctx context.Context, modifiedBy string, mutate func(*Calibration)) (*Calibration, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	next := *c.current.Load()
	mutate(&next)
	next.applyDefaults()
	next.Version++
	next.ModifiedBy = modifiedBy
	next.LastModified = c.nowFn()

	if c.store != nil {
		if err := c.store.SaveCalibration(ctx, &next); err != nil {
			return nil, fmt.Errorf("persist calibration v%d: %w", next.Version, err)
		}
	}

	c.current.Store(&next)
	slog.Info("calibration updated",
		"version", next.Version,
		"modified_by", modifiedBy,
		"confidence_threshold", next.ConfidenceThreshold,
		"dedup_window_ms", next.DeduplicationWindowMS)

	for _, fn := range c.listeners {
		fn(next)
	}
	return &next, nil
}

// InMemoryCalibrationStore keeps revisions in memory for tests and dev.
type InMemoryCalibrationStore struct {
	mu        sync.Mutex
	revisions []Calibration
}

func NewInMemoryCalibrationStore() *InMemoryCalibrationStore {
	return &InMemoryCalibrationStore{}
}

func (s *InMemoryCalibrationStore) SaveCalibration(_ context.Context, cal *Calibration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revisions = append(s.revisions, *cal)
	return nil
}

func (s *InMemoryCalibrationStore) LoadCalibration(_ context.Context) (*Calibration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.revisions) == 0 {
		return nil, fmt.Errorf("no calibration persisted")
	}
	latest := s.revisions[len(s.revisions)-1]
	return &latest, nil
}

// Revisions returns a copy of every persisted revision, oldest first.
func (s *InMemoryCalibrationStore) Revisions() []Calibration {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Calibration, len(s.revisions))
	copy(out, s.revisions)
	return out
}
