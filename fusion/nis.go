package fusion

import (
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// NISLog accumulates the normalized innovation squared of one sensor. For a
// consistent filter the values follow a chi-square distribution with the
// sensor's measurement dimension as degrees of freedom.
type NISLog struct {
	sensor SensorKind
	values []float64
}

func NewNISLog(kind SensorKind) *NISLog {
	return &NISLog{sensor: kind}
}

func (l *NISLog) Sensor() SensorKind { return l.sensor }

// DegreesOfFreedom is the measurement dimension of the sensor.
func (l *NISLog) DegreesOfFreedom() int { return l.sensor.Dim() }

func (l *NISLog) Append(v float64) { l.values = append(l.values, v) }

func (l *NISLog) Len() int { return len(l.values) }

// Values returns a copy of the log in arrival order.
func (l *NISLog) Values() []float64 {
	out := make([]float64, len(l.values))
	copy(out, l.values)
	return out
}

// Clone returns an independent copy of the log.
func (l *NISLog) Clone() *NISLog {
	return &NISLog{sensor: l.sensor, values: l.Values()}
}

func (l *NISLog) Reset() { l.values = l.values[:0] }

// Mean returns the average NIS, or 0 for an empty log.
func (l *NISLog) Mean() float64 {
	if len(l.values) == 0 {
		return 0
	}
	return stat.Mean(l.values, nil)
}

// Threshold returns the chi-square quantile p for the log's degrees of freedom.
func (l *NISLog) Threshold(p float64) float64 {
	return distuv.ChiSquared{K: float64(l.DegreesOfFreedom())}.Quantile(p)
}

// ExceedRatio returns the fraction of values above Threshold(p). About 1-p
// of the values of a well tuned filter exceed it.
func (l *NISLog) ExceedRatio(p float64) float64 {
	if len(l.values) == 0 {
		return 0
	}
	thr := l.Threshold(p)
	n := 0
	for _, v := range l.values {
		if v > thr {
			n++
		}
	}
	return float64(n) / float64(len(l.values))
}

// NISSummary condenses a log for reports.
type NISSummary struct {
	Sensor      string  `json:"sensor"`
	Count       int     `json:"count"`
	DOF         int     `json:"dof"`
	Mean        float64 `json:"mean"`
	Threshold95 float64 `json:"threshold_95"`
	Exceed95    float64 `json:"exceed_95"`
}

func (l *NISLog) Summary() NISSummary {
	return NISSummary{
		Sensor:      l.sensor.String(),
		Count:       len(l.values),
		DOF:         l.DegreesOfFreedom(),
		Mean:        l.Mean(),
		Threshold95: l.Threshold(0.95),
		Exceed95:    l.ExceedRatio(0.95),
	}
}
