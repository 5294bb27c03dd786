package report

import (
	"fmt"
	"io"
	"math"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/autotune/internal/triallog"
)

// HTMLOptions controls the chart page.
type HTMLOptions struct {
	// AssetsHost serves echarts.min.js; empty uses the go-echarts default.
	AssetsHost string
	Title      string
}

// WriteHTML renders a page with a cost chart and a normalised parameter
// chart for every run in rep.
func WriteHTML(w io.Writer, rep *triallog.Report, o HTMLOptions) error {
	page := components.NewPage()
	if o.AssetsHost != "" {
		page.SetAssetsHost(o.AssetsHost)
	}
	page.PageTitle = o.Title
	if page.PageTitle == "" {
		page.PageTitle = "autotune report"
	}
	for _, run := range rep.Runs {
		page.AddCharts(costChart(run, o), paramChart(run, o))
	}
	if err := page.Render(w); err != nil {
		return fmt.Errorf("render error: %w", err)
	}
	return nil
}

func trialAxis(run *triallog.RunReport) []int {
	x := make([]int, len(run.Trials))
	for i := range run.Trials {
		x[i] = run.Trials[i].Index
	}
	return x
}

// lineData leaves NaN points without a value so the chart shows a gap.
func lineData(values []float64) []opts.LineData {
	out := make([]opts.LineData, len(values))
	for i, v := range values {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			out[i] = opts.LineData{Value: v}
		}
	}
	return out
}

func runSubtitle(run *triallog.RunReport) string {
	st := Summarise(run)
	sub := fmt.Sprintf("run=%s status=%s evaluations=%d failures=%d", run.RunID, run.Status, run.Evaluations, run.Failures)
	if run.Termination != "" {
		sub += " termination=" + run.Termination
	}
	if st.OK > 1 {
		sub += fmt.Sprintf(" cost=%.4g±%.4g", st.Mean, st.StdDev)
	}
	return sub
}

func costChart(run *triallog.RunReport, o HTMLOptions) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "420px", AssetsHost: o.AssetsHost}),
		charts.WithTitleOpts(opts.Title{Title: plotTitle(run), Subtitle: runSubtitle(run)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Right: "10%"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "trial", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "cost", Scale: opts.Bool(true)}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider"}),
	)
	line.SetXAxis(trialAxis(run)).
		AddSeries("trial", lineData(run.CostTrace()),
			charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(true), ConnectNulls: opts.Bool(false)}),
		).
		AddSeries("best", lineData(run.BestTrace()),
			charts.WithLineChartOpts(opts.LineChart{Step: "end", ShowSymbol: opts.Bool(false)}),
		)
	return line
}

func paramChart(run *triallog.RunReport, o HTMLOptions) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "360px", AssetsHost: o.AssetsHost}),
		charts.WithTitleOpts(opts.Title{Title: "parameters (normalised)", Subtitle: run.RunID}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Right: "10%"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "trial", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Min: 0, Max: 1}),
	)
	line.SetXAxis(trialAxis(run))
	for j, info := range run.Params {
		values := make([]float64, len(run.Trials))
		for i := range run.Trials {
			values[i] = math.NaN()
			if n := run.Trials[i].Normalized; j < len(n) {
				values[i] = n[j]
			}
		}
		line.AddSeries(info.Name, lineData(values))
	}
	return line
}
