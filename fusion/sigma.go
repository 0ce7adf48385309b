package fusion

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"ukf-tracker/monitoring"
)

// AugmentedCovariance embeds the state covariance in the top-left block and
// the process noise variances on the two trailing diagonal entries.
func AugmentedCovariance(b Belief, cfg Config) *mat.SymDense {
	pAug := mat.NewSymDense(AugDim, nil)
	for i := 0; i < StateDim; i++ {
		for j := i; j < StateDim; j++ {
			pAug.SetSym(i, j, b.Cov.At(i, j))
		}
	}
	pAug.SetSym(idxNuAccel, idxNuAccel, Pow2(cfg.StdAccel))
	pAug.SetSym(idxNuYawAccel, idxNuYawAccel, Pow2(cfg.StdYawAccel))
	return pAug
}

// GenerateAugmentedSigmaPoints returns the AugDim x SigmaCount matrix whose
// columns are the augmented mean followed by the mean ± sqrt(λ+n_aug)·Lᵢ for
// every column Lᵢ of the lower Cholesky factor of the augmented covariance.
func GenerateAugmentedSigmaPoints(b Belief, cfg Config) (*mat.Dense, error) {
	if b.Mean == nil || b.Cov == nil {
		return nil, fmt.Errorf("generate sigma points: %w", ErrUninitialized)
	}
	xAug := make([]float64, AugDim)
	for i := 0; i < StateDim; i++ {
		xAug[i] = b.Mean.AtVec(i)
	}

	chol, jitter, ok := choleskyWithJitter(AugmentedCovariance(b, cfg))
	if !ok {
		return nil, fmt.Errorf("generate sigma points: %w", ErrNotPositiveDefinite)
	}
	if jitter > 0 {
		monitoring.Logf("augmented covariance regularized with jitter %.1e", jitter)
	}
	var l mat.TriDense
	chol.LTo(&l)

	scale := math.Sqrt(Lambda + AugDim)
	sig := mat.NewDense(AugDim, SigmaCount, nil)
	sig.SetCol(0, xAug)
	for i := 0; i < AugDim; i++ {
		for r := 0; r < AugDim; r++ {
			d := scale * l.At(r, i)
			sig.Set(r, i+1, xAug[r]+d)
			sig.Set(r, i+1+AugDim, xAug[r]-d)
		}
	}
	return sig, nil
}
