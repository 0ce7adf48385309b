package eval

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/floats"
)

var (
	// ErrLengthMismatch is returned when estimates and ground truth differ in
	// count or vector size.
	ErrLengthMismatch = errors.New("estimations and ground truth differ in size")
	ErrNoSamples      = errors.New("no samples")
)

// RMSE returns the per-component root mean squared error of est against
// truth. Every vector must have the same length.
func RMSE(est, truth [][]float64) ([]float64, error) {
	if len(est) == 0 {
		return nil, ErrNoSamples
	}
	if len(est) != len(truth) {
		return nil, ErrLengthMismatch
	}
	dim := len(est[0])
	sum := make([]float64, dim)
	diff := make([]float64, dim)
	for i := range est {
		if len(est[i]) != dim || len(truth[i]) != dim {
			return nil, ErrLengthMismatch
		}
		floats.SubTo(diff, est[i], truth[i])
		floats.Mul(diff, diff)
		floats.Add(sum, diff)
	}
	floats.Scale(1/float64(len(est)), sum)
	for i, v := range sum {
		sum[i] = math.Sqrt(v)
	}
	return sum, nil
}
