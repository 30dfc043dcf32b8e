// Package report renders fit results as PNG charts.
package report

import (
	"errors"
	"fmt"
	"image/color"
	"io"
	"math"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

const (
	width  = 8 * vg.Inch
	height = 5 * vg.Inch
)

// ErrNoData is returned when there is nothing to draw.
var ErrNoData = errors.New("no data to plot")

// Convergence plots a cost history against the step index. The y axis is
// logarithmic when every cost is positive.
func Convergence(history []float64, title string) (*plot.Plot, error) {
	if len(history) == 0 {
		return nil, ErrNoData
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "step"
	p.Y.Label.Text = "cost"
	p.Add(plotter.NewGrid())

	pts := make(plotter.XYs, len(history))
	positive := true
	for i, c := range history {
		pts[i].X = float64(i)
		pts[i].Y = c
		if !(c > 0) || math.IsInf(c, 0) {
			positive = false
		}
	}
	if positive {
		p.Y.Scale = plot.LogScale{}
		p.Y.Tick.Marker = plot.LogTicks{Prec: -1}
	}

	line, err := plotter.NewLine(pts)
	if err != nil {
		return nil, fmt.Errorf("failed to build convergence line: %w", err)
	}
	line.Color = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	p.Add(line)
	return p, nil
}

// Fit plots target samples against the fitted model for one-input models.
func Fit(xs, targets, fitted []float64, title string) (*plot.Plot, error) {
	if len(xs) == 0 {
		return nil, ErrNoData
	}
	if len(targets) != len(xs) || len(fitted) != len(xs) {
		return nil, fmt.Errorf("mismatched series: %d x, %d targets, %d fitted", len(xs), len(targets), len(fitted))
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "x"
	p.Y.Label.Text = "y"
	p.Add(plotter.NewGrid())

	data := make(plotter.XYs, len(xs))
	model := make(plotter.XYs, len(xs))
	for i := range xs {
		data[i] = plotter.XY{X: xs[i], Y: targets[i]}
		model[i] = plotter.XY{X: xs[i], Y: fitted[i]}
	}

	scatter, err := plotter.NewScatter(data)
	if err != nil {
		return nil, fmt.Errorf("failed to build target scatter: %w", err)
	}
	line, err := plotter.NewLine(model)
	if err != nil {
		return nil, fmt.Errorf("failed to build fitted line: %w", err)
	}
	line.Color = color.RGBA{R: 214, G: 39, B: 40, A: 255}

	p.Add(scatter, line)
	p.Legend.Add("targets", scatter)
	p.Legend.Add("fit", line)
	return p, nil
}

// WritePNG encodes the plot as PNG.
func WritePNG(w io.Writer, p *plot.Plot) error {
	wt, err := p.WriterTo(width, height, "png")
	if err != nil {
		return fmt.Errorf("failed to render chart: %w", err)
	}
	if _, err := wt.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write chart: %w", err)
	}
	return nil
}

// SavePNG writes the plot to path, creating parent directories.
func SavePNG(path string, p *plot.Plot) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create chart directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create chart file: %w", err)
	}
	if err := WritePNG(f, p); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
