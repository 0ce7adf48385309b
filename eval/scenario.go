package eval

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"

	"ukf-tracker/binlog"
	"ukf-tracker/fusion"
)

// Scenario describes a synthetic CTRV run. The truth is driven by white
// longitudinal and yaw acceleration noise; measurements are the sensor
// models plus white noise with the sensor standard deviations of the filter
// config.
type Scenario struct {
	Start       [fusion.StateDim]float64
	StartUs     int64
	DtUs        int64
	Steps       int
	StdAccel    float64
	StdYawAccel float64
	// Sensors is cycled through, one measurement per step.
	Sensors []fusion.SensorKind
	Seed    uint64
}

// DefaultScenario is a gentle turn sampled at 20 Hz for 25 s, alternating
// sensors.
func DefaultScenario() Scenario {
	return Scenario{
		Start:       [fusion.StateDim]float64{0.6, 0.6, 5.2, 0, 0.1},
		StartUs:     1477010443000000,
		DtUs:        50000,
		Steps:       500,
		StdAccel:    0.5,
		StdYawAccel: 0.3,
		Sensors:     []fusion.SensorKind{fusion.SensorPosition, fusion.SensorRangeBearing},
		Seed:        1,
	}
}

func normal(sigma float64, src rand.Source) distuv.Normal {
	return distuv.Normal{Mu: 0, Sigma: sigma, Src: src}
}

// Generate produces the measurements of sc with ground truth attached. cfg
// supplies the measurement noise and the CTRV yaw-rate threshold.
func Generate(sc Scenario, cfg fusion.Config) []binlog.Entry {
	src := rand.NewPCG(sc.Seed, sc.Seed^0x9E3779B97F4A7C15)
	accel := normal(sc.StdAccel, src)
	yawAccel := normal(sc.StdYawAccel, src)
	posX := normal(cfg.Position.StdX, src)
	posY := normal(cfg.Position.StdY, src)
	rng := normal(cfg.RangeBearing.StdRange, src)
	brg := normal(cfg.RangeBearing.StdBearing, src)
	rate := normal(cfg.RangeBearing.StdRangeRate, src)

	sensors := sc.Sensors
	if len(sensors) == 0 {
		sensors = []fusion.SensorKind{fusion.SensorPosition}
	}
	dt := float64(sc.DtUs) / fusion.MicrosPerSecond
	state := sc.Start
	radar := fusion.NewRangeBearingModel(cfg.RangeBearing, cfg.MinRange)
	z := make([]float64, radar.Dim())
	out := make([]binlog.Entry, 0, sc.Steps)
	for i := 0; i < sc.Steps; i++ {
		if i > 0 {
			var aug [fusion.AugDim]float64
			copy(aug[:], state[:])
			if sc.StdAccel > 0 {
				aug[fusion.StateDim] = accel.Rand()
			}
			if sc.StdYawAccel > 0 {
				aug[fusion.StateDim+1] = yawAccel.Rand()
			}
			state = fusion.PropagateCTRV(aug, dt, cfg.YawRateEpsilon)
			state[fusion.IdxHeading] = fusion.NormalizeAngle(state[fusion.IdxHeading])
		}
		ts := sc.StartUs + int64(i)*sc.DtUs
		truth := &binlog.GroundTruth{
			X:       state[fusion.IdxX],
			Y:       state[fusion.IdxY],
			Vx:      state[fusion.IdxSpeed] * math.Cos(state[fusion.IdxHeading]),
			Vy:      state[fusion.IdxSpeed] * math.Sin(state[fusion.IdxHeading]),
			Yaw:     state[fusion.IdxHeading],
			YawRate: state[fusion.IdxYawRate],
			HasYaw:  true,
		}

		var m fusion.Measurement
		switch sensors[i%len(sensors)] {
		case fusion.SensorRangeBearing:
			radar.Project(state[:], z)
			m = fusion.RangeBearingMeasurement{
				TimestampUs: ts,
				Range:       z[0] + rng.Rand(),
				Bearing:     fusion.NormalizeAngle(z[1] + brg.Rand()),
				RangeRate:   z[2] + rate.Rand(),
			}
		default:
			m = fusion.PositionMeasurement{
				TimestampUs: ts,
				X:           state[fusion.IdxX] + posX.Rand(),
				Y:           state[fusion.IdxY] + posY.Rand(),
			}
		}
		out = append(out, binlog.Entry{Measurement: m, Truth: truth})
	}
	return out
}
