package fusion

import (
	"fmt"
	"math"
)

// SensorKind identifies the measurement model a measurement belongs to.
type SensorKind int

const (
	SensorPosition SensorKind = iota + 1
	SensorRangeBearing
)

func (k SensorKind) String() string {
	switch k {
	case SensorPosition:
		return "position"
	case SensorRangeBearing:
		return "range_bearing"
	default:
		return fmt.Sprintf("sensor(%d)", int(k))
	}
}

// Dim returns the measurement dimension of the sensor.
func (k SensorKind) Dim() int {
	switch k {
	case SensorPosition:
		return 2
	case SensorRangeBearing:
		return 3
	default:
		return 0
	}
}

// ParseSensorKind accepts the names returned by String as well as the
// short L/R tags used in text logs.
func ParseSensorKind(s string) (SensorKind, error) {
	switch s {
	case "position", "L", "lidar", "laser":
		return SensorPosition, nil
	case "range_bearing", "R", "radar":
		return SensorRangeBearing, nil
	}
	return 0, fmt.Errorf("unknown sensor %q", s)
}

// Measurement is one timestamped observation. The set of implementations is
// closed: PositionMeasurement and RangeBearingMeasurement.
type Measurement interface {
	Sensor() SensorKind
	// Timestamp in microseconds.
	Timestamp() int64
	// Values returns the raw observation vector in model order.
	Values() []float64
	// InitialPosition converts the observation into a Cartesian position
	// used to seed the filter.
	InitialPosition() (x, y float64)
}

// PositionMeasurement is a Cartesian (x, y) observation.
type PositionMeasurement struct {
	TimestampUs int64
	X, Y        float64
}

func (m PositionMeasurement) Sensor() SensorKind                  { return SensorPosition }
func (m PositionMeasurement) Timestamp() int64                    { return m.TimestampUs }
func (m PositionMeasurement) Values() []float64                   { return []float64{m.X, m.Y} }
func (m PositionMeasurement) InitialPosition() (float64, float64) { return m.X, m.Y }

// RangeBearingMeasurement is a polar observation with radial velocity.
type RangeBearingMeasurement struct {
	TimestampUs int64
	Range       float64
	Bearing     float64
	RangeRate   float64
}

func (m RangeBearingMeasurement) Sensor() SensorKind { return SensorRangeBearing }
func (m RangeBearingMeasurement) Timestamp() int64   { return m.TimestampUs }
func (m RangeBearingMeasurement) Values() []float64 {
	return []float64{m.Range, m.Bearing, m.RangeRate}
}

func (m RangeBearingMeasurement) InitialPosition() (float64, float64) {
	return m.Range * math.Cos(m.Bearing), m.Range * math.Sin(m.Bearing)
}
