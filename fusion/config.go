package fusion

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidConfig is wrapped by every Config.Validate failure.
var ErrInvalidConfig = errors.New("invalid filter config")

// PositionSensorConfig describes the Cartesian sensor.
type PositionSensorConfig struct {
	Enabled bool
	StdX    float64
	StdY    float64
}

// RangeBearingSensorConfig describes the polar sensor.
type RangeBearingSensorConfig struct {
	Enabled      bool
	StdRange     float64
	StdBearing   float64
	StdRangeRate float64
}

// Config is the immutable filter configuration. Disabled sensors are ignored
// entirely: they neither seed nor update the belief.
type Config struct {
	StdAccel    float64 // longitudinal acceleration noise (m/s²)
	StdYawAccel float64 // yaw acceleration noise (rad/s²)

	Position     PositionSensorConfig
	RangeBearing RangeBearingSensorConfig

	// InitialCovariance is the diagonal of P0. InitialCovarianceFull, when
	// set, takes precedence and must hold StateDim*StateDim row-major values.
	InitialCovariance     [StateDim]float64
	InitialCovarianceFull []float64
	InitialSpeed          float64

	YawRateEpsilon float64
	MinRange       float64
	// MaxPredictStep splits long predictions into steps of at most this
	// many seconds. Zero predicts in a single step.
	MaxPredictStep float64
}

// DefaultConfig returns the reference tuning with both sensors enabled.
func DefaultConfig() Config {
	return Config{
		StdAccel:    DefaultStdAccel,
		StdYawAccel: DefaultStdYawAccel,
		Position: PositionSensorConfig{
			Enabled: true,
			StdX:    DefaultStdPosX,
			StdY:    DefaultStdPosY,
		},
		RangeBearing: RangeBearingSensorConfig{
			Enabled:      true,
			StdRange:     DefaultStdRange,
			StdBearing:   DefaultStdBearing,
			StdRangeRate: DefaultStdRangeRate,
		},
		InitialCovariance: DefaultInitialVariance,
		InitialSpeed:      DefaultInitialSpeed,
		YawRateEpsilon:    DefaultYawRateEpsilon,
		MinRange:          DefaultMinRange,
	}
}

// Enabled reports whether measurements of kind participate in the filter.
func (c Config) Enabled(kind SensorKind) bool {
	switch kind {
	case SensorPosition:
		return c.Position.Enabled
	case SensorRangeBearing:
		return c.RangeBearing.Enabled
	}
	return false
}

// InitialBelief seeds a belief at (x, y) with the configured speed and P0.
func (c Config) InitialBelief(x, y float64) Belief {
	mean := []float64{x, y, c.InitialSpeed, 0, 0}
	cov := make([]float64, StateDim*StateDim)
	if len(c.InitialCovarianceFull) == StateDim*StateDim {
		copy(cov, c.InitialCovarianceFull)
	} else {
		for i := 0; i < StateDim; i++ {
			cov[i*StateDim+i] = c.InitialCovariance[i]
		}
	}
	return NewBelief(mean, cov)
}

// Validate rejects non-positive or non-finite noise parameters.
func (c Config) Validate() error {
	check := func(name string, v float64) error {
		if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
			return fmt.Errorf("%w: %s must be positive, got %v", ErrInvalidConfig, name, v)
		}
		return nil
	}
	if err := check("std_accel", c.StdAccel); err != nil {
		return err
	}
	if err := check("std_yaw_accel", c.StdYawAccel); err != nil {
		return err
	}
	if !c.Position.Enabled && !c.RangeBearing.Enabled {
		return fmt.Errorf("%w: at least one sensor must be enabled", ErrInvalidConfig)
	}
	if c.Position.Enabled {
		if err := check("position.std_x", c.Position.StdX); err != nil {
			return err
		}
		if err := check("position.std_y", c.Position.StdY); err != nil {
			return err
		}
	}
	if c.RangeBearing.Enabled {
		if err := check("range_bearing.std_range", c.RangeBearing.StdRange); err != nil {
			return err
		}
		if err := check("range_bearing.std_bearing", c.RangeBearing.StdBearing); err != nil {
			return err
		}
		if err := check("range_bearing.std_range_rate", c.RangeBearing.StdRangeRate); err != nil {
			return err
		}
	}
	if c.InitialCovarianceFull != nil {
		if len(c.InitialCovarianceFull) != StateDim*StateDim {
			return fmt.Errorf("%w: initial_covariance_full needs %d values, got %d", ErrInvalidConfig, StateDim*StateDim, len(c.InitialCovarianceFull))
		}
		p0 := c.InitialBelief(0, 0).Cov
		if _, _, ok := choleskyWithJitter(p0); !ok || minEigen(p0) <= 0 {
			return fmt.Errorf("%w: initial covariance is not positive definite", ErrInvalidConfig)
		}
	} else {
		for i, v := range c.InitialCovariance {
			if err := check(fmt.Sprintf("initial_covariance[%d]", i), v); err != nil {
				return err
			}
		}
	}
	if math.IsNaN(c.InitialSpeed) || math.IsInf(c.InitialSpeed, 0) {
		return fmt.Errorf("%w: initial_speed must be finite", ErrInvalidConfig)
	}
	if err := check("yaw_rate_epsilon", c.YawRateEpsilon); err != nil {
		return err
	}
	if err := check("min_range", c.MinRange); err != nil {
		return err
	}
	if c.MaxPredictStep < 0 || math.IsNaN(c.MaxPredictStep) {
		return fmt.Errorf("%w: max_predict_step must be >= 0, got %v", ErrInvalidConfig, c.MaxPredictStep)
	}
	return nil
}
