package fusion

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

var (
	ErrOutOfOrder          = errors.New("measurement older than filter time")
	ErrNotPositiveDefinite = errors.New("covariance is not positive definite")
	ErrSingularInnovation  = errors.New("innovation covariance is singular")
	ErrNonFinite           = errors.New("non-finite value in belief")
	ErrInvalidMeasurement  = errors.New("invalid measurement")
	ErrUninitialized       = errors.New("filter is not initialized")
)

// Status tells the caller what ProcessMeasurement did with a measurement.
type Status int

const (
	// StatusRejected: the measurement was refused or faulted; the belief is
	// unchanged and the returned error says why.
	StatusRejected Status = iota
	// StatusInitialized: the first usable measurement seeded the belief.
	StatusInitialized
	StatusUpdated
	// StatusIgnored: the measurement's sensor is disabled.
	StatusIgnored
)

func (s Status) String() string {
	switch s {
	case StatusRejected:
		return "rejected"
	case StatusInitialized:
		return "initialized"
	case StatusUpdated:
		return "updated"
	case StatusIgnored:
		return "ignored"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// Filter is a single-target CTRV unscented Kalman filter. It is not safe for
// concurrent use.
type Filter struct {
	cfg         Config
	models      map[SensorKind]MeasurementModel
	nis         map[SensorKind]*NISLog
	belief      Belief
	initialized bool
	lastTs      int64
}

// New validates cfg and returns an uninitialized filter.
func New(cfg Config) (*Filter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	f := &Filter{
		cfg:    cfg,
		models: map[SensorKind]MeasurementModel{},
		nis:    map[SensorKind]*NISLog{},
	}
	for _, kind := range []SensorKind{SensorPosition, SensorRangeBearing} {
		if !cfg.Enabled(kind) {
			continue
		}
		m, _ := ModelFor(kind, cfg)
		f.models[kind] = m
		f.nis[kind] = NewNISLog(kind)
	}
	return f, nil
}

func (f *Filter) Config() Config { return f.cfg }

func (f *Filter) Initialized() bool { return f.initialized }

// LastTimestamp is the time of the last accepted measurement in microseconds.
func (f *Filter) LastTimestamp() int64 { return f.lastTs }

// Belief returns a copy of the current estimate. It is empty before
// initialization.
func (f *Filter) Belief() Belief { return f.belief.Clone() }

// NIS returns the recorded NIS values of kind in arrival order.
func (f *Filter) NIS(kind SensorKind) []float64 {
	if l, ok := f.nis[kind]; ok {
		return l.Values()
	}
	return nil
}

// NISLog returns the live log of kind, or nil for a disabled sensor.
func (f *Filter) NISLog(kind SensorKind) *NISLog { return f.nis[kind] }

// Reset drops the belief. NIS logs are kept.
func (f *Filter) Reset() {
	f.belief = Belief{}
	f.initialized = false
	f.lastTs = 0
}

// ProcessMeasurement runs one predict/update cycle. The first measurement of
// an enabled sensor initializes the belief. A rejected measurement leaves the
// belief and timestamp untouched.
func (f *Filter) ProcessMeasurement(m Measurement) (Status, error) {
	if m == nil {
		return StatusRejected, fmt.Errorf("process: %w: nil", ErrInvalidMeasurement)
	}
	kind := m.Sensor()
	if !f.cfg.Enabled(kind) {
		return StatusIgnored, nil
	}
	model := f.models[kind]

	if !f.initialized {
		x, y := m.InitialPosition()
		if !allFinite([]float64{x, y}) {
			return StatusRejected, fmt.Errorf("initialize from %s: %w", kind, ErrInvalidMeasurement)
		}
		f.belief = f.cfg.InitialBelief(x, y)
		f.lastTs = m.Timestamp()
		f.initialized = true
		return StatusInitialized, nil
	}

	ts := m.Timestamp()
	if ts < f.lastTs {
		return StatusRejected, fmt.Errorf("%s at %d: %w (last %d)", kind, ts, ErrOutOfOrder, f.lastTs)
	}
	dt := float64(ts-f.lastTs) / MicrosPerSecond

	pred, sig, err := f.predict(f.belief, dt)
	if err != nil {
		return StatusRejected, err
	}
	res, err := Update(pred, sig, sigmaWeights, model, m.Values())
	if err != nil {
		return StatusRejected, err
	}
	f.belief = res.Posterior
	f.lastTs = ts
	f.nis[kind].Append(res.NIS)
	return StatusUpdated, nil
}

// Predict coasts the belief forward by dt seconds without a measurement and
// advances the filter time accordingly.
func (f *Filter) Predict(dt float64) error {
	if !f.initialized {
		return fmt.Errorf("predict: %w", ErrUninitialized)
	}
	if dt < 0 || math.IsNaN(dt) || math.IsInf(dt, 0) {
		return fmt.Errorf("predict by %v: %w", dt, ErrOutOfOrder)
	}
	pred, _, err := f.predict(f.belief, dt)
	if err != nil {
		return err
	}
	f.belief = pred
	f.lastTs += int64(math.Round(dt * MicrosPerSecond))
	return nil
}

// maxPredictSteps bounds the work of one prediction; past it the chunks
// grow beyond MaxPredictStep.
const maxPredictSteps = 1000

// predictSteps splits dt into chunks no longer than MaxPredictStep, using
// at most maxPredictSteps equal chunks.
func (f *Filter) predictSteps(dt float64) []float64 {
	step := f.cfg.MaxPredictStep
	if step <= 0 || dt <= step {
		return []float64{dt}
	}
	n := maxPredictSteps
	if r := math.Ceil(dt / step); r < maxPredictSteps {
		n = int(r)
	}
	h := dt / float64(n)
	steps := make([]float64, n)
	for i := range steps {
		steps[i] = h
	}
	return steps
}

// predict returns the predicted belief and the sigma points of the last
// prediction step. A zero dt keeps the belief as is; the returned sigma
// points then describe b itself.
func (f *Filter) predict(b Belief, dt float64) (Belief, *mat.Dense, error) {
	cur := b
	var sig *mat.Dense
	for _, h := range f.predictSteps(dt) {
		aug, err := GenerateAugmentedSigmaPoints(cur, f.cfg)
		if err != nil {
			return Belief{}, nil, fmt.Errorf("predict: %w", err)
		}
		sig = PropagateSigmaPoints(aug, h, f.cfg.YawRateEpsilon)
		if h == 0 {
			cur = cur.Clone()
			continue
		}
		cur = ReduceToMeanCovariance(sig, sigmaWeights, IdxHeading)
		cur.normalizeHeading()
		if err := cur.Validate(); err != nil {
			return Belief{}, nil, fmt.Errorf("predict: %w", err)
		}
	}
	return cur, sig, nil
}
