package fusion

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// MeasurementModel describes how a sensor observes the state. The update
// step is generic over this interface.
type MeasurementModel interface {
	Sensor() SensorKind
	Dim() int
	// Project writes the expected observation of state into out.
	Project(state []float64, out []float64)
	// Noise returns the measurement noise covariance R.
	Noise() *mat.SymDense
	// NormalizeResidual wraps any angular components of r in place.
	NormalizeResidual(r []float64)
}

// PositionModel observes (x, y) directly.
type PositionModel struct {
	r *mat.SymDense
}

func NewPositionModel(cfg PositionSensorConfig) PositionModel {
	return PositionModel{r: mat.NewSymDense(2, []float64{
		Pow2(cfg.StdX), 0,
		0, Pow2(cfg.StdY),
	})}
}

func (PositionModel) Sensor() SensorKind { return SensorPosition }
func (PositionModel) Dim() int           { return 2 }

func (PositionModel) Project(state []float64, out []float64) {
	out[0] = state[IdxX]
	out[1] = state[IdxY]
}

func (m PositionModel) Noise() *mat.SymDense { return m.r }

// NormalizeResidual is a no-op: both components are lengths.
func (PositionModel) NormalizeResidual([]float64) {}

// RangeBearingModel observes range, bearing and range-rate from the origin.
type RangeBearingModel struct {
	r        *mat.SymDense
	minRange float64
}

func NewRangeBearingModel(cfg RangeBearingSensorConfig, minRange float64) RangeBearingModel {
	return RangeBearingModel{
		r: mat.NewSymDense(3, []float64{
			Pow2(cfg.StdRange), 0, 0,
			0, Pow2(cfg.StdBearing), 0,
			0, 0, Pow2(cfg.StdRangeRate),
		}),
		minRange: minRange,
	}
}

func (RangeBearingModel) Sensor() SensorKind { return SensorRangeBearing }
func (RangeBearingModel) Dim() int           { return 3 }

// Project returns (ρ, φ, ρ̇). Below minRange the bearing is still atan2 of the
// position but ρ̇ is reported as zero.
func (m RangeBearingModel) Project(state []float64, out []float64) {
	px, py := state[IdxX], state[IdxY]
	v, yaw := state[IdxSpeed], state[IdxHeading]
	rho := math.Hypot(px, py)
	out[0] = rho
	out[1] = math.Atan2(py, px)
	if rho < m.minRange {
		out[2] = 0
		return
	}
	out[2] = (px*v*math.Cos(yaw) + py*v*math.Sin(yaw)) / rho
}

func (m RangeBearingModel) Noise() *mat.SymDense { return m.r }

func (RangeBearingModel) NormalizeResidual(r []float64) {
	r[1] = NormalizeAngle(r[1])
}

// ModelFor builds the measurement model of kind from cfg.
func ModelFor(kind SensorKind, cfg Config) (MeasurementModel, bool) {
	switch kind {
	case SensorPosition:
		return NewPositionModel(cfg.Position), true
	case SensorRangeBearing:
		return NewRangeBearingModel(cfg.RangeBearing, cfg.MinRange), true
	}
	return nil, false
}
