package fusion

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

// randomBelief returns a belief with a random mean and a random positive
// definite covariance A·Aᵀ + 0.1·I.
func randomBelief(rng *rand.Rand) Belief {
	mean := make([]float64, StateDim)
	for i := range mean {
		mean[i] = rng.NormFloat64() * 3
	}
	mean[IdxHeading] = NormalizeAngle(mean[IdxHeading])
	a := mat.NewDense(StateDim, StateDim, nil)
	for i := 0; i < StateDim; i++ {
		for j := 0; j < StateDim; j++ {
			a.Set(i, j, rng.NormFloat64()*0.5)
		}
	}
	var cov mat.Dense
	cov.Mul(a, a.T())
	for i := 0; i < StateDim; i++ {
		cov.Set(i, i, cov.At(i, i)+0.1)
	}
	return NewBelief(mean, cov.RawMatrix().Data)
}

func TestSigmaWeights(t *testing.T) {
	t.Parallel()
	w := SigmaWeights()
	require.Len(t, w, SigmaCount)
	assert.InDelta(t, -2.0/5.0, w[0], 1e-12)
	sum := 0.0
	for i, v := range w {
		if i > 0 {
			assert.InDelta(t, 0.1, v, 1e-12)
		}
		sum += v
	}
	assert.InDelta(t, 1.0, sum, 1e-12)

	w[0] = 42
	assert.NotEqual(t, 42.0, SigmaWeights()[0], "SigmaWeights must return a copy")
}

func TestGenerateAugmentedSigmaPoints_ReproducesMeanAndCovariance(t *testing.T) {
	t.Parallel()
	rng := rand.New(rand.NewPCG(1, 2))
	cfg := DefaultConfig()
	for trial := 0; trial < 20; trial++ {
		b := randomBelief(rng)
		sig, err := GenerateAugmentedSigmaPoints(b, cfg)
		require.NoError(t, err)
		r, c := sig.Dims()
		require.Equal(t, AugDim, r)
		require.Equal(t, SigmaCount, c)

		got := ReduceToMeanCovariance(sig, SigmaWeights(), -1)
		want := AugmentedCovariance(b, cfg)
		for i := 0; i < AugDim; i++ {
			wantMean := 0.0
			if i < StateDim {
				wantMean = b.Mean.AtVec(i)
			}
			assert.InDelta(t, wantMean, got.Mean.AtVec(i), 1e-9, "mean[%d]", i)
			for j := 0; j < AugDim; j++ {
				assert.InDelta(t, want.At(i, j), got.Cov.At(i, j), 1e-9, "cov[%d][%d]", i, j)
			}
		}
	}
}

func TestGenerateAugmentedSigmaPoints_SymmetricAboutMean(t *testing.T) {
	t.Parallel()
	b := DefaultConfig().InitialBelief(5, 3)
	sig, err := GenerateAugmentedSigmaPoints(b, DefaultConfig())
	require.NoError(t, err)
	for i := 1; i <= AugDim; i++ {
		for r := 0; r < AugDim; r++ {
			assert.InDelta(t, 2*sig.At(r, 0), sig.At(r, i)+sig.At(r, i+AugDim), 1e-12)
		}
	}
	// Noise rows of the mean column are zero.
	assert.Equal(t, 0.0, sig.At(idxNuAccel, 0))
	assert.Equal(t, 0.0, sig.At(idxNuYawAccel, 0))
	// Spread along the accel noise axis is sqrt(λ+n_aug)·σa.
	assert.InDelta(t, math.Sqrt(Lambda+AugDim)*DefaultStdAccel, sig.At(idxNuAccel, idxNuAccel+1), 1e-12)
}

func TestGenerateAugmentedSigmaPoints_Errors(t *testing.T) {
	t.Parallel()

	_, err := GenerateAugmentedSigmaPoints(Belief{}, DefaultConfig())
	assert.ErrorIs(t, err, ErrUninitialized)

	cov := make([]float64, StateDim*StateDim)
	for i := 0; i < StateDim; i++ {
		cov[i*StateDim+i] = 1
	}
	cov[0] = -5
	_, err = GenerateAugmentedSigmaPoints(NewBelief(make([]float64, StateDim), cov), DefaultConfig())
	assert.ErrorIs(t, err, ErrNotPositiveDefinite)
}

func TestGenerateAugmentedSigmaPoints_JitterRecoversSemiDefinite(t *testing.T) {
	t.Parallel()
	// Rank-deficient but PSD: x and y perfectly correlated.
	cov := []float64{
		1, 1, 0, 0, 0,
		1, 1, 0, 0, 0,
		0, 0, 1, 0, 0,
		0, 0, 0, 1, 0,
		0, 0, 0, 0, 1,
	}
	sig, err := GenerateAugmentedSigmaPoints(NewBelief(make([]float64, StateDim), cov), DefaultConfig())
	require.NoError(t, err)
	assert.True(t, allFiniteMat(sig))
}
