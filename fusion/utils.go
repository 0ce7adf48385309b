package fusion

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// NormalizeAngle maps a into (-π, π].
func NormalizeAngle(a float64) float64 {
	if math.IsNaN(a) || math.IsInf(a, 0) {
		return a
	}
	r := a - 2*math.Pi*math.Ceil((a-math.Pi)/(2*math.Pi))
	if r <= -math.Pi {
		r += 2 * math.Pi
	}
	if r > math.Pi {
		r -= 2 * math.Pi
	}
	return r
}

// symmetrize returns 0.5*(a+aᵀ) as a SymDense.
func symmetrize(a mat.Matrix) *mat.SymDense {
	n, _ := a.Dims()
	out := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			out.SetSym(i, j, 0.5*(a.At(i, j)+a.At(j, i)))
		}
	}
	return out
}

// choleskyWithJitter factorizes s, adding escalating diagonal jitter when the
// plain factorization fails. The returned jitter is zero on the first attempt.
func choleskyWithJitter(s *mat.SymDense) (*mat.Cholesky, float64, bool) {
	var chol mat.Cholesky
	if chol.Factorize(s) {
		return &chol, 0, true
	}
	n := s.SymmetricDim()
	jitter := SReg
	for attempt := 0; attempt < maxJitterAttempts; attempt++ {
		reg := mat.NewSymDense(n, nil)
		reg.CopySym(s)
		for i := 0; i < n; i++ {
			reg.SetSym(i, i, reg.At(i, i)+jitter)
		}
		if chol.Factorize(reg) {
			return &chol, jitter, true
		}
		jitter *= 100
	}
	return nil, 0, false
}

// minEigen returns the smallest eigenvalue of a symmetric matrix.
func minEigen(s mat.Symmetric) float64 {
	var eig mat.EigenSym
	if !eig.Factorize(s, false) {
		return math.NaN()
	}
	vals := eig.Values(nil)
	min := math.Inf(1)
	for _, v := range vals {
		if v < min {
			min = v
		}
	}
	return min
}

func allFinite(v []float64) bool {
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}

func allFiniteMat(m mat.Matrix) bool {
	r, c := m.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			x := m.At(i, j)
			if math.IsNaN(x) || math.IsInf(x, 0) {
				return false
			}
		}
	}
	return true
}
