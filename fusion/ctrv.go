package fusion

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// PropagateCTRV advances one augmented point [x, y, v, ψ, ψ̇, νa, νψ̈] by dt
// seconds under the constant turn rate and velocity model.
func PropagateCTRV(p [AugDim]float64, dt, yawEps float64) [StateDim]float64 {
	px, py := p[IdxX], p[IdxY]
	v, yaw, yawd := p[IdxSpeed], p[IdxHeading], p[IdxYawRate]
	nuA, nuYawdd := p[idxNuAccel], p[idxNuYawAccel]

	var out [StateDim]float64
	if math.Abs(yawd) < yawEps {
		// Second-order expansion of the turn branch in yawd.
		arc := 0.5 * v * yawd * dt * dt
		out[IdxX] = px + v*math.Cos(yaw)*dt - arc*math.Sin(yaw)
		out[IdxY] = py + v*math.Sin(yaw)*dt + arc*math.Cos(yaw)
		out[IdxHeading] = yaw + yawd*dt
	} else {
		out[IdxX] = px + v/yawd*(math.Sin(yaw+yawd*dt)-math.Sin(yaw))
		out[IdxY] = py + v/yawd*(-math.Cos(yaw+yawd*dt)+math.Cos(yaw))
		out[IdxHeading] = yaw + yawd*dt
	}
	out[IdxSpeed] = v
	out[IdxYawRate] = yawd

	dt2 := 0.5 * dt * dt
	out[IdxX] += dt2 * math.Cos(yaw) * nuA
	out[IdxY] += dt2 * math.Sin(yaw) * nuA
	out[IdxSpeed] += dt * nuA
	out[IdxHeading] += dt2 * nuYawdd
	out[IdxYawRate] += dt * nuYawdd
	return out
}

// PropagateSigmaPoints maps every augmented sigma point through the motion
// model, returning a StateDim x SigmaCount matrix.
func PropagateSigmaPoints(aug *mat.Dense, dt, yawEps float64) *mat.Dense {
	_, cols := aug.Dims()
	pred := mat.NewDense(StateDim, cols, nil)
	var p [AugDim]float64
	for c := 0; c < cols; c++ {
		for r := 0; r < AugDim; r++ {
			p[r] = aug.At(r, c)
		}
		x := PropagateCTRV(p, dt, yawEps)
		pred.SetCol(c, x[:])
	}
	return pred
}
