package fusion

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// UpdateResult is the outcome of a successful measurement update.
type UpdateResult struct {
	Posterior  Belief
	Predicted  []float64 // expected measurement
	Innovation []float64
	S          *mat.SymDense
	NIS        float64
}

// measurementMean averages projected points relative to the central one so
// angular components stay continuous across the ±π seam.
func measurementMean(zSig *mat.Dense, w []float64, m MeasurementModel) []float64 {
	nz, cols := zSig.Dims()
	z0 := mat.Col(nil, 0, zSig)
	mean := make([]float64, nz)
	copy(mean, z0)
	d := make([]float64, nz)
	for c := 1; c < cols; c++ {
		for r := 0; r < nz; r++ {
			d[r] = zSig.At(r, c) - z0[r]
		}
		m.NormalizeResidual(d)
		for r := 0; r < nz; r++ {
			mean[r] += w[c] * d[r]
		}
	}
	m.NormalizeResidual(mean)
	return mean
}

// posteriorEigenFloor tolerates rounding in P - K*S*K^T.
const posteriorEigenFloor = -1e-9

// Update fuses measurement z into the predicted belief. sig holds the
// StateDim x SigmaCount predicted sigma points that produced pred. pred is not
// modified; on error the caller keeps it.
func Update(pred Belief, sig *mat.Dense, w []float64, m MeasurementModel, z []float64) (UpdateResult, error) {
	nz := m.Dim()
	if len(z) != nz {
		return UpdateResult{}, fmt.Errorf("%s update: %w: got %d values, want %d", m.Sensor(), ErrInvalidMeasurement, len(z), nz)
	}
	if !allFinite(z) {
		return UpdateResult{}, fmt.Errorf("%s update: %w", m.Sensor(), ErrInvalidMeasurement)
	}
	_, cols := sig.Dims()

	zSig := mat.NewDense(nz, cols, nil)
	state := make([]float64, StateDim)
	proj := make([]float64, nz)
	for c := 0; c < cols; c++ {
		mat.Col(state, c, sig)
		m.Project(state, proj)
		zSig.SetCol(c, proj)
	}
	zPred := measurementMean(zSig, w, m)

	s := mat.NewDense(nz, nz, nil)
	tc := mat.NewDense(StateDim, nz, nil)
	xMean := pred.State()
	dz := make([]float64, nz)
	for c := 0; c < cols; c++ {
		for r := 0; r < nz; r++ {
			dz[r] = zSig.At(r, c) - zPred[r]
		}
		m.NormalizeResidual(dz)
		dx := residual(sig, c, xMean, IdxHeading)
		for i := 0; i < nz; i++ {
			for j := 0; j < nz; j++ {
				s.Set(i, j, s.At(i, j)+w[c]*dz[i]*dz[j])
			}
		}
		for i := 0; i < StateDim; i++ {
			for j := 0; j < nz; j++ {
				tc.Set(i, j, tc.At(i, j)+w[c]*dx[i]*dz[j])
			}
		}
	}
	s.Add(s, m.Noise())
	sSym := symmetrize(s)
	if !allFiniteMat(sSym) {
		return UpdateResult{}, fmt.Errorf("%s update: innovation covariance: %w", m.Sensor(), ErrNonFinite)
	}

	var chol mat.Cholesky
	if !chol.Factorize(sSym) {
		return UpdateResult{}, fmt.Errorf("%s update: %w", m.Sensor(), ErrSingularInnovation)
	}
	var sInv mat.SymDense
	if err := chol.InverseTo(&sInv); err != nil {
		return UpdateResult{}, fmt.Errorf("%s update: %w: %v", m.Sensor(), ErrSingularInnovation, err)
	}

	var k mat.Dense
	k.Mul(tc, &sInv)

	y := make([]float64, nz)
	for i := range y {
		y[i] = z[i] - zPred[i]
	}
	m.NormalizeResidual(y)
	yVec := mat.NewVecDense(nz, y)

	var dMean mat.VecDense
	dMean.MulVec(&k, yVec)
	mean := mat.NewVecDense(StateDim, nil)
	mean.AddVec(pred.Mean, &dMean)

	var ks, kskt mat.Dense
	ks.Mul(&k, sSym)
	kskt.Mul(&ks, k.T())
	var cov mat.Dense
	cov.Sub(pred.Cov, &kskt)

	var sy mat.VecDense
	sy.MulVec(&sInv, yVec)
	nis := mat.Dot(yVec, &sy)
	if !allFinite([]float64{nis}) {
		return UpdateResult{}, fmt.Errorf("%s update: nis: %w", m.Sensor(), ErrNonFinite)
	}

	post := Belief{Mean: mean, Cov: symmetrize(&cov)}
	post.normalizeHeading()
	if err := post.Validate(); err != nil {
		return UpdateResult{}, fmt.Errorf("%s update: %w", m.Sensor(), err)
	}
	// NaN from a failed decomposition fails the comparison too.
	if ev := minEigen(post.Cov); !(ev >= posteriorEigenFloor) {
		return UpdateResult{}, fmt.Errorf("%s update: posterior min eigenvalue %g: %w", m.Sensor(), ev, ErrNotPositiveDefinite)
	}
	return UpdateResult{
		Posterior:  post,
		Predicted:  zPred,
		Innovation: y,
		S:          sSym,
		NIS:        nis,
	}, nil
}
