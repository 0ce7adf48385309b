package eval

import (
	"encoding/csv"
	"io"
	"math"
	"strconv"

	"ukf-tracker/binlog"
	"ukf-tracker/fusion"
)

// Sample pairs a measurement with the pipeline result it produced.
type Sample struct {
	Measurement fusion.Measurement
	Result      fusion.FusionResult
	Truth       *binlog.GroundTruth
}

// Report is the outcome of an offline run.
type Report struct {
	Samples []Sample
	// RMSE over [x, y, vx, vy] for estimates with ground truth; nil when the
	// input carried none.
	RMSE  []float64
	NIS   []fusion.NISSummary
	Logs  []*fusion.NISLog
	Stats fusion.PipelineStats
}

// Run feeds entries through a fresh pipeline in order.
func Run(entries []binlog.Entry, cfg fusion.Config, pcfg fusion.PipelineConfig) (*Report, error) {
	p, err := fusion.NewFusionPipeline(cfg, pcfg)
	if err != nil {
		return nil, err
	}
	rep := &Report{Samples: make([]Sample, 0, len(entries))}
	var est, truth [][]float64
	for _, e := range entries {
		res := p.Process(e.Measurement)
		rep.Samples = append(rep.Samples, Sample{Measurement: e.Measurement, Result: res, Truth: e.Truth})
		if e.Truth == nil || !isEstimate(res.Flag) {
			continue
		}
		est = append(est, []float64{res.X, res.Y, res.Vx, res.Vy})
		truth = append(truth, []float64{e.Truth.X, e.Truth.Y, e.Truth.Vx, e.Truth.Vy})
	}
	if len(est) > 0 {
		if rep.RMSE, err = RMSE(est, truth); err != nil {
			return nil, err
		}
	}
	for _, kind := range []fusion.SensorKind{fusion.SensorPosition, fusion.SensorRangeBearing} {
		l := p.Filter().NISLog(kind)
		if l == nil || !cfg.Enabled(kind) {
			continue
		}
		rep.Logs = append(rep.Logs, l)
		rep.NIS = append(rep.NIS, l.Summary())
	}
	rep.Stats = p.Stats()
	return rep, nil
}

// RunMeasurements runs measurements without ground truth.
func RunMeasurements(ms []fusion.Measurement, cfg fusion.Config, pcfg fusion.PipelineConfig) (*Report, error) {
	entries := make([]binlog.Entry, len(ms))
	for i, m := range ms {
		entries[i].Measurement = m
	}
	return Run(entries, cfg, pcfg)
}

func isEstimate(flag int) bool {
	return flag == fusion.FlagInit || flag == fusion.FlagUpdated
}

func fmtF(v float64) string {
	if math.IsNaN(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'f', 6, 64)
}

// WriteCSV writes one row per estimate.
func (r *Report) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	header := []string{"ts_us", "sensor", "flag", "x", "y", "vx", "vy", "speed", "heading", "yaw_rate", "nis",
		"gt_x", "gt_y", "gt_vx", "gt_vy"}
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, s := range r.Samples {
		res := s.Result
		if !isEstimate(res.Flag) {
			continue
		}
		row := []string{
			strconv.FormatInt(res.TimestampUs, 10), res.Sensor.String(), strconv.Itoa(res.Flag),
			fmtF(res.X), fmtF(res.Y), fmtF(res.Vx), fmtF(res.Vy),
			fmtF(res.Speed), fmtF(res.Heading), fmtF(res.YawRate), fmtF(res.NIS),
		}
		if gt := s.Truth; gt != nil {
			row = append(row, fmtF(gt.X), fmtF(gt.Y), fmtF(gt.Vx), fmtF(gt.Vy))
		} else {
			row = append(row, "", "", "", "")
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
