package fusion

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestRangeBearingModel_Project(t *testing.T) {
	t.Parallel()
	m := NewRangeBearingModel(DefaultConfig().RangeBearing, DefaultMinRange)
	out := make([]float64, 3)

	m.Project([]float64{3, 4, 2, math.Atan2(4, 3), 0}, out)
	assert.InDelta(t, 5, out[0], 1e-12)
	assert.InDelta(t, math.Atan2(4, 3), out[1], 1e-12)
	assert.InDelta(t, 2, out[2], 1e-12, "moving radially away at full speed")

	m.Project([]float64{0, 0, 3, 1, 0}, out)
	assert.Equal(t, []float64{0, 0, 0}, out)

	m.Project([]float64{-1, 1e-9, 1, 0, 0}, out)
	assert.InDelta(t, math.Pi, out[1], 1e-6)
}

func TestRangeBearingModel_NormalizeResidual(t *testing.T) {
	t.Parallel()
	m := NewRangeBearingModel(DefaultConfig().RangeBearing, DefaultMinRange)
	r := []float64{7, 2*math.Pi - 0.1, 7}
	m.NormalizeResidual(r)
	assert.InDelta(t, -0.1, r[1], 1e-12)
	assert.Equal(t, 7.0, r[0])
	assert.Equal(t, 7.0, r[2])
}

func TestPositionModel(t *testing.T) {
	t.Parallel()
	m := NewPositionModel(PositionSensorConfig{StdX: 0.2, StdY: 0.3})
	out := make([]float64, 2)
	m.Project([]float64{1, 2, 3, 4, 5}, out)
	assert.Equal(t, []float64{1, 2}, out)
	assert.InDelta(t, 0.04, m.Noise().At(0, 0), 1e-12)
	assert.InDelta(t, 0.09, m.Noise().At(1, 1), 1e-12)
	assert.Equal(t, 0.0, m.Noise().At(0, 1))

	r := []float64{10, 10}
	m.NormalizeResidual(r)
	assert.Equal(t, []float64{10, 10}, r, "laser residuals are not angles")
}

func TestModelFor(t *testing.T) {
	t.Parallel()
	for _, kind := range []SensorKind{SensorPosition, SensorRangeBearing} {
		m, ok := ModelFor(kind, DefaultConfig())
		require.True(t, ok)
		assert.Equal(t, kind, m.Sensor())
		assert.Equal(t, kind.Dim(), m.Dim())
		r, c := m.Noise().Dims()
		assert.Equal(t, kind.Dim(), r)
		assert.Equal(t, kind.Dim(), c)
	}
	_, ok := ModelFor(SensorKind(42), DefaultConfig())
	assert.False(t, ok)
}

func TestUpdate_BearingWraparound(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	// Target just across the ±π seam.
	b := cfg.InitialBelief(-10, 0.01)
	aug, err := GenerateAugmentedSigmaPoints(b, cfg)
	require.NoError(t, err)
	sig := PropagateSigmaPoints(aug, 0, cfg.YawRateEpsilon)
	m := NewRangeBearingModel(cfg.RangeBearing, cfg.MinRange)

	res, err := Update(b, sig, SigmaWeights(), m, []float64{10, -math.Pi + 0.001, 0})
	require.NoError(t, err)
	assert.Less(t, math.Abs(res.Innovation[1]), 0.1)
	assert.Less(t, res.NIS, 20.0)
	assert.InDelta(t, -10, res.Posterior.Mean.AtVec(IdxX), 0.5)
}

func TestUpdate_WrongDimension(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	b := cfg.InitialBelief(1, 1)
	aug, err := GenerateAugmentedSigmaPoints(b, cfg)
	require.NoError(t, err)
	sig := PropagateSigmaPoints(aug, 0, cfg.YawRateEpsilon)
	_, err = Update(b, sig, SigmaWeights(), NewPositionModel(cfg.Position), []float64{1, 2, 3})
	assert.ErrorIs(t, err, ErrInvalidMeasurement)
}

func TestUpdate_RejectsIndefinitePosterior(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	wide := cfg.InitialBelief(1, 1)
	aug, err := GenerateAugmentedSigmaPoints(wide, cfg)
	require.NoError(t, err)
	sig := PropagateSigmaPoints(aug, 0, cfg.YawRateEpsilon)

	// A prior far tighter than its sigma spread: K*S*K^T exceeds P.
	tight := wide.Clone()
	for i := 0; i < StateDim; i++ {
		tight.Cov.SetSym(i, i, 1e-6)
	}
	before := tight.Clone()

	_, err = Update(tight, sig, SigmaWeights(), NewPositionModel(cfg.Position), []float64{1.1, 0.9})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotPositiveDefinite)
	assert.True(t, mat.EqualApprox(before.Cov, tight.Cov, 0), "prior left untouched")
	assert.True(t, mat.EqualApprox(before.Mean, tight.Mean, 0))
}

func TestMeasurement_InitialPosition(t *testing.T) {
	t.Parallel()
	x, y := RangeBearingMeasurement{Range: 2, Bearing: math.Pi / 2}.InitialPosition()
	assert.InDelta(t, 0, x, 1e-12)
	assert.InDelta(t, 2, y, 1e-12)

	kind, err := ParseSensorKind("R")
	require.NoError(t, err)
	assert.Equal(t, SensorRangeBearing, kind)
	kind, err = ParseSensorKind(SensorPosition.String())
	require.NoError(t, err)
	assert.Equal(t, SensorPosition, kind)
	_, err = ParseSensorKind("sonar")
	assert.Error(t, err)
}
