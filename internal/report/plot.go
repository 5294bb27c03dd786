package report

import (
	"fmt"
	"image/color"
	"math"
	"os"
	"path/filepath"
	"regexp"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/autotune/internal/triallog"
)

var (
	plotWidth  = 10 * vg.Inch
	plotHeight = 4 * vg.Inch

	trialColour = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	bestColour  = color.RGBA{R: 214, G: 39, B: 40, A: 255}
	failColour  = color.RGBA{R: 127, G: 127, B: 127, A: 255}
)

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9_.-]+`)

// fileSafe replaces characters that do not belong in a file name.
func fileSafe(s string) string {
	return unsafeName.ReplaceAllString(s, "_")
}

// WritePlots saves a cost trace and one trace per parameter for run as PNG
// files in dir, returning the paths written.
func WritePlots(run *triallog.RunReport, dir string) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output dir: %w", err)
	}
	var written []string

	p, err := costPlot(run)
	if err != nil {
		return nil, err
	}
	costFile := filepath.Join(dir, fileSafe(run.RunID)+"-cost.png")
	if err := p.Save(plotWidth, plotHeight, costFile); err != nil {
		return nil, fmt.Errorf("failed to save %s: %w", costFile, err)
	}
	written = append(written, costFile)

	for _, info := range run.Params {
		p, err := paramPlot(run, info)
		if err != nil {
			return written, err
		}
		file := filepath.Join(dir, fmt.Sprintf("%s-param-%s.png", fileSafe(run.RunID), fileSafe(info.Name)))
		if err := p.Save(plotWidth, plotHeight, file); err != nil {
			return written, fmt.Errorf("failed to save %s: %w", file, err)
		}
		written = append(written, file)
	}
	return written, nil
}

func plotTitle(run *triallog.RunReport) string {
	name := run.Routine
	if name == "" {
		name = run.RunID
	}
	return fmt.Sprintf("%s (%s, %s)", name, run.Algorithm, run.CostFunction)
}

func costPlot(run *triallog.RunReport) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = plotTitle(run)
	p.X.Label.Text = "trial"
	p.Y.Label.Text = "cost"
	p.Add(plotter.NewGrid())

	costs := run.CostTrace()
	best := run.BestTrace()
	okPts := make(plotter.XYs, 0, len(costs))
	bestPts := make(plotter.XYs, 0, len(best))
	var failed []float64
	for i := range run.Trials {
		x := float64(run.Trials[i].Index)
		if !math.IsNaN(costs[i]) {
			okPts = append(okPts, plotter.XY{X: x, Y: costs[i]})
		} else {
			failed = append(failed, x)
		}
		if !math.IsNaN(best[i]) {
			bestPts = append(bestPts, plotter.XY{X: x, Y: best[i]})
		}
	}

	if len(okPts) > 0 {
		sc, err := plotter.NewScatter(okPts)
		if err != nil {
			return nil, fmt.Errorf("cost scatter: %w", err)
		}
		sc.GlyphStyle.Color = trialColour
		sc.GlyphStyle.Radius = vg.Points(2)
		p.Add(sc)
		p.Legend.Add("trial", sc)

		line, err := plotter.NewLine(bestPts)
		if err != nil {
			return nil, fmt.Errorf("best line: %w", err)
		}
		line.Color = bestColour
		line.Width = vg.Points(1.5)
		line.StepStyle = plotter.PostStep
		p.Add(line)
		p.Legend.Add("best", line)
	}

	// Failed trials sit on the lower edge so gaps in the trace are visible.
	if len(failed) > 0 {
		y := 0.0
		if len(okPts) > 0 {
			_, _, y, _ = plotter.XYRange(okPts)
		}
		failPts := make(plotter.XYs, len(failed))
		for i, x := range failed {
			failPts[i] = plotter.XY{X: x, Y: y}
		}
		sc, err := plotter.NewScatter(failPts)
		if err != nil {
			return nil, fmt.Errorf("failure scatter: %w", err)
		}
		sc.GlyphStyle.Color = failColour
		sc.GlyphStyle.Radius = vg.Points(2)
		p.Add(sc)
		p.Legend.Add("failed", sc)
	}
	p.Legend.Top = true
	return p, nil
}

func paramPlot(run *triallog.RunReport, info triallog.ParamInfo) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("%s: %s", plotTitle(run), info.Name)
	p.X.Label.Text = "trial"
	p.Y.Label.Text = info.Name
	if info.Unit != "" {
		p.Y.Label.Text += " (" + info.Unit + ")"
	}
	p.Y.Min = info.Lower
	p.Y.Max = info.Upper
	p.Add(plotter.NewGrid())

	trace := run.ParamTrace(info.Name)
	pts := make(plotter.XYs, 0, len(trace))
	for i, v := range trace {
		if !math.IsNaN(v) {
			pts = append(pts, plotter.XY{X: float64(run.Trials[i].Index), Y: v})
		}
	}
	if len(pts) == 0 {
		return p, nil
	}
	line, points, err := plotter.NewLinePoints(pts)
	if err != nil {
		return nil, fmt.Errorf("parameter %s: %w", info.Name, err)
	}
	line.Color = trialColour
	points.GlyphStyle.Color = trialColour
	points.GlyphStyle.Radius = vg.Points(1.5)
	p.Add(line, points)

	if run.Best != nil {
		if v, ok := run.Best.Params[info.Name]; ok {
			best := plotter.NewFunction(func(float64) float64 { return v })
			best.Color = bestColour
			best.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
			p.Add(best)
			p.Legend.Add("best", best)
		}
	}
	return p, nil
}
