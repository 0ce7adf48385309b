package fusion

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// RelayTargetConfig is one estimate fan-out destination.
type RelayTargetConfig struct {
	Addr string `yaml:"addr"`
	Port int    `yaml:"port"`
	Type string `yaml:"type"` // "udp" or "tcp"
	Mask uint32 `yaml:"mask"`
}

// FileConfig is everything a tracker config file carries.
type FileConfig struct {
	Filter   Config
	Pipeline PipelineConfig
	Relay    []RelayTargetConfig
}

type yamlPosition struct {
	Enabled *bool    `yaml:"enabled"`
	StdX    *float64 `yaml:"std_x"`
	StdY    *float64 `yaml:"std_y"`
}

type yamlRangeBearing struct {
	Enabled      *bool    `yaml:"enabled"`
	StdRange     *float64 `yaml:"std_range"`
	StdBearing   *float64 `yaml:"std_bearing"`
	StdRangeRate *float64 `yaml:"std_range_rate"`
}

type yamlFilter struct {
	StdAccel              *float64          `yaml:"std_accel"`
	StdYawAccel           *float64          `yaml:"std_yaw_accel"`
	Position              *yamlPosition     `yaml:"position"`
	RangeBearing          *yamlRangeBearing `yaml:"range_bearing"`
	InitialCovariance     []float64         `yaml:"initial_covariance"`
	InitialCovarianceFull []float64         `yaml:"initial_covariance_full"`
	InitialSpeed          *float64          `yaml:"initial_speed"`
	YawRateEpsilon        *float64          `yaml:"yaw_rate_epsilon"`
	MinRange              *float64          `yaml:"min_range"`
	MaxPredictStep        *float64          `yaml:"max_predict_step"`
}

type yamlPipeline struct {
	MaxGapSeconds        *float64 `yaml:"max_gap_seconds"`
	MaxPositionVariance  *float64 `yaml:"max_position_variance"`
	MaxConsecutiveFaults *int     `yaml:"max_consecutive_faults"`
}

type yamlFile struct {
	Filter   yamlFilter          `yaml:"filter"`
	Pipeline yamlPipeline        `yaml:"pipeline"`
	Relay    []RelayTargetConfig `yaml:"relay"`
}

func setF(dst *float64, src *float64) {
	if src != nil {
		*dst = *src
	}
}

// LoadConfig reads a YAML config file. Missing keys keep their defaults.
func LoadConfig(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	fc, err := ParseConfig(data)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return fc, nil
}

// ParseConfig decodes and validates YAML config bytes. Unknown keys are
// rejected.
func ParseConfig(data []byte) (*FileConfig, error) {
	var raw yamlFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&raw); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	fc := &FileConfig{Filter: DefaultConfig(), Pipeline: DefaultPipelineConfig(), Relay: raw.Relay}
	c := &fc.Filter
	f := raw.Filter
	setF(&c.StdAccel, f.StdAccel)
	setF(&c.StdYawAccel, f.StdYawAccel)
	if f.Position != nil {
		if f.Position.Enabled != nil {
			c.Position.Enabled = *f.Position.Enabled
		}
		setF(&c.Position.StdX, f.Position.StdX)
		setF(&c.Position.StdY, f.Position.StdY)
	}
	if f.RangeBearing != nil {
		if f.RangeBearing.Enabled != nil {
			c.RangeBearing.Enabled = *f.RangeBearing.Enabled
		}
		setF(&c.RangeBearing.StdRange, f.RangeBearing.StdRange)
		setF(&c.RangeBearing.StdBearing, f.RangeBearing.StdBearing)
		setF(&c.RangeBearing.StdRangeRate, f.RangeBearing.StdRangeRate)
	}
	if f.InitialCovariance != nil {
		if len(f.InitialCovariance) != StateDim {
			return nil, fmt.Errorf("%w: initial_covariance needs %d values, got %d", ErrInvalidConfig, StateDim, len(f.InitialCovariance))
		}
		copy(c.InitialCovariance[:], f.InitialCovariance)
	}
	if f.InitialCovarianceFull != nil {
		c.InitialCovarianceFull = f.InitialCovarianceFull
	}
	setF(&c.InitialSpeed, f.InitialSpeed)
	setF(&c.YawRateEpsilon, f.YawRateEpsilon)
	setF(&c.MinRange, f.MinRange)
	setF(&c.MaxPredictStep, f.MaxPredictStep)

	setF(&fc.Pipeline.MaxGapSeconds, raw.Pipeline.MaxGapSeconds)
	setF(&fc.Pipeline.MaxPositionVariance, raw.Pipeline.MaxPositionVariance)
	if raw.Pipeline.MaxConsecutiveFaults != nil {
		fc.Pipeline.MaxConsecutiveFaults = *raw.Pipeline.MaxConsecutiveFaults
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	for i, t := range fc.Relay {
		if t.Type != "udp" && t.Type != "tcp" {
			return nil, fmt.Errorf("%w: relay[%d].type must be udp or tcp, got %q", ErrInvalidConfig, i, t.Type)
		}
		if t.Port <= 0 || t.Port > 65535 {
			return nil, fmt.Errorf("%w: relay[%d].port out of range: %d", ErrInvalidConfig, i, t.Port)
		}
	}
	return fc, nil
}
