package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.ApplyDefaults()

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "memory", cfg.Storage.Driver)
	assert.Equal(t, 128, cfg.Bus.SubscriberBuffer)

	assert.Equal(t, 5, cfg.Validation.MinTotalEvents)
	assert.Equal(t, 2, cfg.Validation.MinJudgeEvents)
	assert.Equal(t, 60.0, cfg.Validation.MaxJudgeInactivitySec)
	assert.Equal(t, 30.0, cfg.Validation.MaxCVInactivitySec)
	assert.Equal(t, int64(5000), cfg.Validation.TimecodeToleranceMS)
	assert.Equal(t, 300.0, cfg.Validation.ExpectedRoundDurationSec)

	assert.Equal(t, 0.5, cfg.Calibration.ConfidenceThreshold)
	assert.Equal(t, int64(1000), cfg.Calibration.DeduplicationWindowMS)
	assert.Equal(t, int64(250), cfg.Calibration.MulticamMergeWindowMS)
	assert.Equal(t, int64(10000), cfg.Calibration.MomentumSwingWindowMS)
	assert.Equal(t, 0.90, cfg.Calibration.KDThreshold)
}

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Server.Port)
}

func TestLoadConfigOverridesAndDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
server:
  port: "9090"
calibration:
  confidence_threshold: 0.65
validation:
  min_total_events: 8
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, 0.65, cfg.Calibration.ConfidenceThreshold)
	assert.Equal(t, 8, cfg.Validation.MinTotalEvents)
	// untouched keys still get defaults
	assert.Equal(t, int64(1000), cfg.Calibration.DeduplicationWindowMS)
	assert.Equal(t, 2, cfg.Validation.MinJudgeEvents)
}

func TestCoordinatorSnapshotIsolation(t *testing.T) {
	coord := NewCoordinator(nil, nil)
	before := coord.Snapshot()
	require.Equal(t, int64(1), before.Version)

	_, err := coord.Update(context.Background(), "supervisor-7", func(c *Calibration) {
		c.ConfidenceThreshold = 0.8
	})
	require.NoError(t, err)

	// the old snapshot is untouched, the new one visible
	assert.Equal(t, 0.5, before.ConfidenceThreshold)
	after := coord.Snapshot()
	assert.Equal(t, 0.8, after.ConfidenceThreshold)
	assert.Equal(t, int64(2), after.Version)
	assert.Equal(t, "supervisor-7", after.ModifiedBy)
}

func TestCoordinatorPersistsAndNotifies(t *testing.T) {
	store := NewInMemoryCalibrationStore()
	coord := NewCoordinator(nil, store)
	coord.SetNowFunc(func() time.Time {
		return time.Date(2025, 7, 4, 12, 0, 0, 0, time.UTC)
	})

	var notified []int64
	coord.OnUpdate(func(c Calibration) { notified = append(notified, c.Version) })

	_, err := coord.Update(context.Background(), "op", func(c *Calibration) {
		c.DeduplicationWindowMS = 750
	})
	require.NoError(t, err)
	_, err = coord.Update(context.Background(), "op", func(c *Calibration) {
		c.KDThreshold = 0.95
	})
	require.NoError(t, err)

	assert.Equal(t, []int64{2, 3}, notified)

	revs := store.Revisions()
	require.Len(t, revs, 2)
	assert.Equal(t, int64(750), revs[0].DeduplicationWindowMS)
	assert.Equal(t, 0.95, revs[1].KDThreshold)

	loaded, err := store.LoadCalibration(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), loaded.Version)
	assert.Equal(t, time.Date(2025, 7, 4, 12, 0, 0, 0, time.UTC), loaded.LastModified)
}

func TestCoordinatorUpdateRollsBackOnStoreFailure(t *testing.T) {
	coord := NewCoordinator(nil, failingCalStore{})

	_, err := coord.Update(context.Background(), "op", func(c *Calibration) {
		c.ConfidenceThreshold = 0.9
	})
	require.Error(t, err)

	// live snapshot unchanged
	assert.Equal(t, 0.5, coord.Snapshot().ConfidenceThreshold)
	assert.Equal(t, int64(1), coord.Snapshot().Version)
}

type failingCalStore struct{}

func (failingCalStore) SaveCalibration(context.Context, *Calibration) error {
	return assert.AnError
}

func (failingCalStore) LoadCalibration(context.Context) (*Calibration, error) {
	return nil, assert.AnError
}
