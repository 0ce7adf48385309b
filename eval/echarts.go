package eval

import (
	"fmt"
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"ukf-tracker/fusion"
)

func nisLineChart(l *fusion.NISLog) *charts.Line {
	vals := l.Values()
	thr := l.Threshold(0.95)

	xs := make([]int, len(vals))
	nis := make([]opts.LineData, len(vals))
	ref := make([]opts.LineData, len(vals))
	for i, v := range vals {
		xs[i] = i
		nis[i] = opts.LineData{Value: v}
		ref[i] = opts.LineData{Value: thr}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "420px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    fmt.Sprintf("NIS %s", l.Sensor()),
			Subtitle: fmt.Sprintf("n=%d dof=%d mean=%.3f above95=%.1f%%", l.Len(), l.DegreesOfFreedom(), l.Mean(), 100*l.ExceedRatio(0.95)),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Right: "5%"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "update"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "NIS"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "inside"}),
	)
	line.SetXAxis(xs).
		AddSeries("nis", nis, charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)})).
		AddSeries("95%", ref, charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}),
			charts.WithLineStyleOpts(opts.LineStyle{Type: "dashed"}))
	return line
}

// WriteNISChart renders an HTML page with one NIS chart per log.
func WriteNISChart(w io.Writer, title string, logs ...*fusion.NISLog) error {
	page := components.NewPage()
	page.SetPageTitle(title)
	for _, l := range logs {
		if l == nil {
			continue
		}
		page.AddCharts(nisLineChart(l))
	}
	return page.Render(w)
}
