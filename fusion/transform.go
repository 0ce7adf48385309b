package fusion

import (
	"gonum.org/v1/gonum/mat"
)

// sigmaWeights is fixed because the dimensions are.
var sigmaWeights = func() []float64 {
	w := make([]float64, SigmaCount)
	w[0] = Lambda / (Lambda + AugDim)
	for i := 1; i < SigmaCount; i++ {
		w[i] = 0.5 / (Lambda + AugDim)
	}
	return w
}()

// SigmaWeights returns a copy of the sigma point weights.
func SigmaWeights() []float64 {
	w := make([]float64, len(sigmaWeights))
	copy(w, sigmaWeights)
	return w
}

// weightedMean returns Σ wᵢ·colᵢ.
func weightedMean(sig *mat.Dense, w []float64) []float64 {
	rows, cols := sig.Dims()
	mean := make([]float64, rows)
	for c := 0; c < cols; c++ {
		for r := 0; r < rows; r++ {
			mean[r] += w[c] * sig.At(r, c)
		}
	}
	return mean
}

// residual returns col - mean with the angle row (if any) wrapped.
func residual(sig *mat.Dense, c int, mean []float64, angleRow int) []float64 {
	d := make([]float64, len(mean))
	for r := range d {
		d[r] = sig.At(r, c) - mean[r]
	}
	if angleRow >= 0 {
		d[angleRow] = NormalizeAngle(d[angleRow])
	}
	return d
}

// ReduceToMeanCovariance recombines sigma points into a mean and covariance.
// angleRow names the row holding an angle whose differences are wrapped into
// (-π, π]; pass -1 when there is none.
func ReduceToMeanCovariance(sig *mat.Dense, w []float64, angleRow int) Belief {
	rows, cols := sig.Dims()
	mean := weightedMean(sig, w)
	cov := mat.NewDense(rows, rows, nil)
	for c := 0; c < cols; c++ {
		d := residual(sig, c, mean, angleRow)
		for i := 0; i < rows; i++ {
			for j := 0; j < rows; j++ {
				cov.Set(i, j, cov.At(i, j)+w[c]*d[i]*d[j])
			}
		}
	}
	return Belief{Mean: mat.NewVecDense(rows, mean), Cov: symmetrize(cov)}
}
