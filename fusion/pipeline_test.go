package fusion

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPipeline(t *testing.T, pcfg PipelineConfig) *FusionPipeline {
	t.Helper()
	p, err := NewFusionPipeline(DefaultConfig(), pcfg)
	require.NoError(t, err)
	return p
}

func TestFusionPipeline_Flags(t *testing.T) {
	t.Parallel()
	p := newTestPipeline(t, DefaultPipelineConfig())

	r := p.Process(PositionMeasurement{TimestampUs: 0, X: 1, Y: 2})
	assert.Equal(t, FlagInit, r.Flag)
	assert.Equal(t, 1.0, r.X)
	assert.Equal(t, 2.0, r.Y)
	assert.True(t, math.IsNaN(r.NIS))

	r = p.Process(RangeBearingMeasurement{TimestampUs: 100_000, Range: math.Hypot(1.1, 2), Bearing: math.Atan2(2, 1.1), RangeRate: 0.5})
	assert.Equal(t, FlagUpdated, r.Flag)
	assert.NoError(t, r.Err)
	assert.False(t, math.IsNaN(r.NIS))
	assert.Equal(t, SensorRangeBearing, r.Sensor)
	assert.InDelta(t, r.Speed*math.Cos(r.Heading), r.Vx, 1e-12)

	r = p.Process(PositionMeasurement{TimestampUs: 50_000, X: 1, Y: 2})
	assert.Equal(t, FlagRejected, r.Flag)
	assert.ErrorIs(t, r.Err, ErrOutOfOrder)

	r = p.Process(nil)
	assert.Equal(t, FlagRejected, r.Flag)

	st := p.Stats()
	assert.Equal(t, PipelineStats{Processed: 4, Initialized: 1, Updated: 1, Rejected: 2}, st)
}

func TestFusionPipeline_GapReseeds(t *testing.T) {
	t.Parallel()
	p := newTestPipeline(t, PipelineConfig{MaxGapSeconds: 2})
	p.Process(PositionMeasurement{TimestampUs: 0, X: 1, Y: 1})
	p.Process(PositionMeasurement{TimestampUs: 100_000, X: 1.1, Y: 1})

	r := p.Process(PositionMeasurement{TimestampUs: 5_000_000, X: 40, Y: -3})
	assert.Equal(t, FlagInit, r.Flag)
	assert.Equal(t, 40.0, r.X)
	assert.Equal(t, -3.0, r.Y)
	assert.Equal(t, 1, p.Stats().Resets)
}

func TestFusionPipeline_VarianceWatchdog(t *testing.T) {
	t.Parallel()
	p := newTestPipeline(t, PipelineConfig{MaxPositionVariance: 1e-6})
	p.Process(PositionMeasurement{TimestampUs: 0, X: 1, Y: 1})
	r := p.Process(PositionMeasurement{TimestampUs: 100_000, X: 1, Y: 1})
	assert.Equal(t, FlagReset, r.Flag)
	assert.False(t, p.Filter().Initialized())
	assert.Equal(t, 1, p.Stats().Resets)

	r = p.Process(PositionMeasurement{TimestampUs: 200_000, X: 1, Y: 1})
	assert.Equal(t, FlagInit, r.Flag)
}

func TestFusionPipeline_IgnoresDisabledSensor(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	cfg.Position.Enabled = false
	p, err := NewFusionPipeline(cfg, DefaultPipelineConfig())
	require.NoError(t, err)

	r := p.Process(PositionMeasurement{TimestampUs: 0, X: 1, Y: 1})
	assert.Equal(t, FlagIgnored, r.Flag)
	assert.Equal(t, 1, p.Stats().Ignored)
}

func TestNewFusionPipeline_InvalidConfig(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	cfg.StdAccel = 0
	_, err := NewFusionPipeline(cfg, DefaultPipelineConfig())
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestFusionPipeline_ConsecutiveFaultsReset(t *testing.T) {
	t.Parallel()
	p := newTestPipeline(t, PipelineConfig{MaxConsecutiveFaults: 2})
	require.Equal(t, FlagInit, p.Process(PositionMeasurement{TimestampUs: 0, X: 1, Y: 1}).Flag)

	// A negative definite covariance defeats every jitter attempt.
	for i := 0; i < StateDim; i++ {
		p.filter.belief.Cov.SetSym(i, i, -1)
	}
	ts := int64(0)
	for i := 0; i < 2; i++ {
		ts += 50_000
		r := p.Process(PositionMeasurement{TimestampUs: ts, X: 1, Y: 1})
		assert.Equal(t, FlagRejected, r.Flag, "fault %d", i+1)
		assert.ErrorIs(t, r.Err, ErrNotPositiveDefinite)
		assert.Zero(t, p.Stats().Resets)
	}

	ts += 50_000
	r := p.Process(PositionMeasurement{TimestampUs: ts, X: 1, Y: 1})
	assert.Equal(t, FlagReset, r.Flag)
	assert.ErrorIs(t, r.Err, ErrNotPositiveDefinite)
	assert.Equal(t, 1, p.Stats().Resets)
	assert.False(t, p.Filter().Initialized())

	ts += 50_000
	r = p.Process(PositionMeasurement{TimestampUs: ts, X: 2, Y: 3})
	assert.Equal(t, FlagInit, r.Flag)
	assert.Equal(t, 2.0, r.X)
}
