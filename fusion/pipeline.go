package fusion

import (
	"errors"
	"math"

	"ukf-tracker/monitoring"
)

// Result flags reported by FusionPipeline.Process.
const (
	FlagRejected = -3
	FlagReset    = -2
	FlagIgnored  = -1
	FlagInit     = 0
	FlagUpdated  = 2
)

type FusionResult struct {
	TimestampUs int64
	Sensor      SensorKind
	X           float64
	Y           float64
	Speed       float64
	Heading     float64
	YawRate     float64
	Vx          float64
	Vy          float64
	Flag        int
	// NIS of this update; NaN when no update happened.
	NIS float64
	Err error
}

// PipelineConfig holds the watchdog limits.
type PipelineConfig struct {
	// MaxGapSeconds resets and re-seeds the filter when two measurements are
	// further apart than this.
	MaxGapSeconds float64
	// MaxPositionVariance resets the filter when either position variance
	// exceeds it.
	MaxPositionVariance float64
	// MaxConsecutiveFaults resets the filter after more numerical faults in a
	// row than this.
	MaxConsecutiveFaults int
}

func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		MaxGapSeconds:        DefaultMaxGapSeconds,
		MaxPositionVariance:  DefaultMaxPositionVariance,
		MaxConsecutiveFaults: DefaultMaxConsecutiveFaults,
	}
}

// PipelineStats counts what the pipeline did.
type PipelineStats struct {
	Processed   int
	Initialized int
	Updated     int
	Rejected    int
	Ignored     int
	Resets      int
}

// FusionPipeline runs a Filter over a live stream and resets it when it
// diverges or the stream stalls.
type FusionPipeline struct {
	filter     *Filter
	cfg        PipelineConfig
	faultCount int
	stats      PipelineStats
}

func NewFusionPipeline(filterCfg Config, cfg PipelineConfig) (*FusionPipeline, error) {
	f, err := New(filterCfg)
	if err != nil {
		return nil, err
	}
	return &FusionPipeline{filter: f, cfg: cfg}, nil
}

func (p *FusionPipeline) Filter() *Filter { return p.filter }

func (p *FusionPipeline) Stats() PipelineStats { return p.stats }

func (p *FusionPipeline) reset(reason string) {
	monitoring.Logf("pipeline reset: %s", reason)
	p.filter.Reset()
	p.faultCount = 0
	p.stats.Resets++
}

func (p *FusionPipeline) resetResult(m Measurement) FusionResult {
	return FusionResult{TimestampUs: m.Timestamp(), Sensor: m.Sensor(), Flag: FlagReset, NIS: math.NaN()}
}

// Process feeds one measurement through the filter.
func (p *FusionPipeline) Process(m Measurement) FusionResult {
	p.stats.Processed++
	if m == nil {
		p.stats.Rejected++
		return FusionResult{Flag: FlagRejected, NIS: math.NaN(), Err: ErrInvalidMeasurement}
	}

	// Stream stalled: start over from this measurement.
	if p.filter.Initialized() && p.cfg.MaxGapSeconds > 0 && p.filter.Config().Enabled(m.Sensor()) {
		gap := float64(m.Timestamp()-p.filter.LastTimestamp()) / MicrosPerSecond
		if gap > p.cfg.MaxGapSeconds {
			p.reset("time gap")
		}
	}

	status, err := p.filter.ProcessMeasurement(m)
	switch status {
	case StatusIgnored:
		p.stats.Ignored++
		return FusionResult{TimestampUs: m.Timestamp(), Sensor: m.Sensor(), Flag: FlagIgnored, NIS: math.NaN()}
	case StatusRejected:
		p.stats.Rejected++
		if errors.Is(err, ErrOutOfOrder) || errors.Is(err, ErrInvalidMeasurement) {
			return FusionResult{TimestampUs: m.Timestamp(), Sensor: m.Sensor(), Flag: FlagRejected, NIS: math.NaN(), Err: err}
		}
		monitoring.Logf("pipeline: %v", err)
		p.faultCount++
		if p.cfg.MaxConsecutiveFaults > 0 && p.faultCount > p.cfg.MaxConsecutiveFaults {
			p.reset("consecutive faults")
			r := p.resetResult(m)
			r.Err = err
			return r
		}
		return FusionResult{TimestampUs: m.Timestamp(), Sensor: m.Sensor(), Flag: FlagRejected, NIS: math.NaN(), Err: err}
	case StatusInitialized:
		p.stats.Initialized++
		p.faultCount = 0
		return p.result(m, FlagInit, math.NaN())
	}

	p.stats.Updated++
	p.faultCount = 0
	b := p.filter.Belief()
	if p.cfg.MaxPositionVariance > 0 &&
		(b.Cov.At(IdxX, IdxX) > p.cfg.MaxPositionVariance || b.Cov.At(IdxY, IdxY) > p.cfg.MaxPositionVariance) {
		p.reset("position variance")
		return p.resetResult(m)
	}
	nis := math.NaN()
	if l := p.filter.NISLog(m.Sensor()); l != nil && l.Len() > 0 {
		nis = l.values[l.Len()-1]
	}
	return p.result(m, FlagUpdated, nis)
}

func (p *FusionPipeline) result(m Measurement, flag int, nis float64) FusionResult {
	b := p.filter.Belief()
	vx, vy := b.Velocity()
	return FusionResult{
		TimestampUs: m.Timestamp(),
		Sensor:      m.Sensor(),
		X:           b.Mean.AtVec(IdxX),
		Y:           b.Mean.AtVec(IdxY),
		Speed:       b.Mean.AtVec(IdxSpeed),
		Heading:     b.Mean.AtVec(IdxHeading),
		YawRate:     b.Mean.AtVec(IdxYawRate),
		Vx:          vx,
		Vy:          vy,
		Flag:        flag,
		NIS:         nis,
	}
}
