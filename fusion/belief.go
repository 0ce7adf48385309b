package fusion

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Belief is the filter's Gaussian estimate of [x, y, speed, heading, yaw-rate].
type Belief struct {
	Mean *mat.VecDense
	Cov  *mat.SymDense
}

// NewBelief copies mean and the full covariance into a Belief.
func NewBelief(mean []float64, cov []float64) Belief {
	m := make([]float64, len(mean))
	copy(m, mean)
	c := make([]float64, len(cov))
	copy(c, cov)
	n := len(m)
	return Belief{Mean: mat.NewVecDense(n, m), Cov: symmetrize(mat.NewDense(n, n, c))}
}

// Clone returns a deep copy.
func (b Belief) Clone() Belief {
	if b.Mean == nil || b.Cov == nil {
		return Belief{}
	}
	mean := mat.VecDenseCopyOf(b.Mean)
	cov := mat.NewSymDense(b.Cov.SymmetricDim(), nil)
	cov.CopySym(b.Cov)
	return Belief{Mean: mean, Cov: cov}
}

// State returns the mean as a plain slice.
func (b Belief) State() []float64 {
	if b.Mean == nil {
		return nil
	}
	out := make([]float64, b.Mean.Len())
	for i := range out {
		out[i] = b.Mean.AtVec(i)
	}
	return out
}

func (b Belief) Heading() float64 { return b.Mean.AtVec(IdxHeading) }

// Velocity returns the Cartesian velocity implied by speed and heading.
func (b Belief) Velocity() (vx, vy float64) {
	v := b.Mean.AtVec(IdxSpeed)
	yaw := b.Mean.AtVec(IdxHeading)
	return v * math.Cos(yaw), v * math.Sin(yaw)
}

// Validate checks that the belief is finite and correctly shaped.
func (b Belief) Validate() error {
	if b.Mean == nil || b.Cov == nil {
		return fmt.Errorf("belief is empty")
	}
	if b.Mean.Len() != b.Cov.SymmetricDim() {
		return fmt.Errorf("belief mean has %d entries, covariance is %dx%d", b.Mean.Len(), b.Cov.SymmetricDim(), b.Cov.SymmetricDim())
	}
	if !allFinite(b.Mean.RawVector().Data) || !allFiniteMat(b.Cov) {
		return ErrNonFinite
	}
	return nil
}

func (b Belief) normalizeHeading() {
	b.Mean.SetVec(IdxHeading, NormalizeAngle(b.Mean.AtVec(IdxHeading)))
}
