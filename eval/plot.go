package eval

import (
	"fmt"
	"image/color"
	"math"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"ukf-tracker/fusion"
)

var (
	colorTruth       = color.RGBA{R: 40, G: 160, B: 40, A: 255}
	colorMeasurement = color.RGBA{R: 200, G: 60, B: 60, A: 255}
	colorEstimate    = color.RGBA{R: 30, G: 90, B: 200, A: 255}
	colorThreshold   = color.RGBA{R: 120, G: 120, B: 120, A: 255}
)

// measurementXY returns the Cartesian position a measurement observes.
func measurementXY(m fusion.Measurement) (float64, float64) {
	switch mm := m.(type) {
	case fusion.PositionMeasurement:
		return mm.X, mm.Y
	case fusion.RangeBearingMeasurement:
		return mm.Range * math.Cos(mm.Bearing), mm.Range * math.Sin(mm.Bearing)
	}
	return 0, 0
}

// NewTrajectoryPlot draws the ground truth, the measurements and the
// estimates of a report in the XY plane.
func NewTrajectoryPlot(r *Report) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = "Trajectory"
	p.X.Label.Text = "X (m)"
	p.Y.Label.Text = "Y (m)"
	p.Add(plotter.NewGrid())

	var truth, meas, est plotter.XYs
	for _, s := range r.Samples {
		if s.Truth != nil {
			truth = append(truth, plotter.XY{X: s.Truth.X, Y: s.Truth.Y})
		}
		if s.Measurement != nil {
			x, y := measurementXY(s.Measurement)
			meas = append(meas, plotter.XY{X: x, Y: y})
		}
		if isEstimate(s.Result.Flag) {
			est = append(est, plotter.XY{X: s.Result.X, Y: s.Result.Y})
		}
	}

	if len(meas) > 0 {
		sc, err := plotter.NewScatter(meas)
		if err != nil {
			return nil, err
		}
		sc.GlyphStyle.Color = colorMeasurement
		sc.GlyphStyle.Radius = vg.Points(1.5)
		p.Add(sc)
		p.Legend.Add("measurement", sc)
	}
	for _, series := range []struct {
		name string
		pts  plotter.XYs
		c    color.Color
	}{{"truth", truth, colorTruth}, {"estimate", est, colorEstimate}} {
		if len(series.pts) == 0 {
			continue
		}
		l, err := plotter.NewLine(series.pts)
		if err != nil {
			return nil, err
		}
		l.Color = series.c
		l.Width = vg.Points(1)
		p.Add(l)
		p.Legend.Add(series.name, l)
	}
	return p, nil
}

// NewNISPlot draws a NIS log against its 95% chi-square threshold.
func NewNISPlot(l *fusion.NISLog) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("NIS %s (dof %d)", l.Sensor(), l.DegreesOfFreedom())
	p.X.Label.Text = "update"
	p.Y.Label.Text = "NIS"

	vals := l.Values()
	if len(vals) == 0 {
		return p, nil
	}
	pts := make(plotter.XYs, len(vals))
	for i, v := range vals {
		pts[i] = plotter.XY{X: float64(i), Y: v}
	}
	line, err := plotter.NewLine(pts)
	if err != nil {
		return nil, err
	}
	line.Color = colorEstimate
	line.Width = vg.Points(0.5)
	p.Add(line)
	p.Legend.Add("nis", line)

	thr := l.Threshold(0.95)
	ref, err := plotter.NewLine(plotter.XYs{{X: 0, Y: thr}, {X: float64(len(vals) - 1), Y: thr}})
	if err != nil {
		return nil, err
	}
	ref.Color = colorThreshold
	ref.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
	p.Add(ref)
	p.Legend.Add("95%", ref)
	return p, nil
}

// SaveTrajectoryPNG renders NewTrajectoryPlot to path; the format follows
// the file extension.
func SaveTrajectoryPNG(path string, r *Report) error {
	p, err := NewTrajectoryPlot(r)
	if err != nil {
		return err
	}
	return p.Save(10*vg.Inch, 10*vg.Inch, path)
}

func SaveNISPNG(path string, l *fusion.NISLog) error {
	p, err := NewNISPlot(l)
	if err != nil {
		return err
	}
	return p.Save(14*vg.Inch, 6*vg.Inch, path)
}
