package fusion

import "math"

// Filter dimensions. The augmented state appends longitudinal and yaw
// acceleration noise to [x, y, speed, heading, yaw-rate].
const (
	StateDim   = 5
	AugDim     = StateDim + 2
	SigmaCount = 2*AugDim + 1

	// Lambda is the sigma point spreading parameter.
	Lambda = 3.0 - StateDim
)

// State vector indices.
const (
	IdxX = iota
	IdxY
	IdxSpeed
	IdxHeading
	IdxYawRate
	idxNuAccel
	idxNuYawAccel
)

// Default tuning. Sensor noise values are the
// manufacturer figures; process noise is tunable.
const (
	DefaultStdAccel     = 3.5 / 2
	DefaultStdYawAccel  = math.Pi / 4
	DefaultStdPosX      = 0.15
	DefaultStdPosY      = 0.15
	DefaultStdRange     = 0.3
	DefaultStdBearing   = 0.03
	DefaultStdRangeRate = 0.3
	DefaultInitialSpeed = 1.0
)

// DefaultInitialVariance is the diagonal of the initial covariance guess.
var DefaultInitialVariance = [StateDim]float64{0.1, 0.1, 3, 0.5, 0.5}

// Numerical guards.
const (
	// DefaultYawRateEpsilon selects the straight-line CTRV branch.
	DefaultYawRateEpsilon = 1e-3
	// DefaultMinRange below which range-rate is reported as zero.
	DefaultMinRange = 1e-4
	// SReg is the first diagonal jitter tried when a covariance fails Cholesky.
	SReg = 1e-9
	// maxJitterAttempts bounds the jitter escalation (x100 per attempt).
	maxJitterAttempts = 3
)

// Pipeline watchdog defaults.
const (
	DefaultMaxGapSeconds        = 30.0
	DefaultMaxPositionVariance  = 10000.0
	DefaultMaxConsecutiveFaults = 5
)

// MicrosPerSecond converts measurement timestamps to seconds.
const MicrosPerSecond = 1e6

// Pow2 returns squared value.
func Pow2(x float64) float64 { return x * x }
