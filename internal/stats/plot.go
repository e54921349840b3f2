package stats

import (
	"fmt"
	"image/color"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"marecast/internal/model"
)

// WriteScorePlot renders best and mean score per generation to a PNG (or any
// format gonum/plot infers from the path extension).
func WriteScorePlot(path, title string, diagnostics []model.GenerationDiagnostics) error {
	if len(diagnostics) == 0 {
		return fmt.Errorf("no generations to plot")
	}
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "generation"
	p.Y.Label.Text = "score"

	best := make(plotter.XYs, 0, len(diagnostics))
	mean := make(plotter.XYs, 0, len(diagnostics))
	for _, d := range diagnostics {
		best = append(best, plotter.XY{X: float64(d.Generation), Y: d.BestScore})
		mean = append(mean, plotter.XY{X: float64(d.Generation), Y: d.MeanScore})
	}

	bestLine, err := plotter.NewLine(best)
	if err != nil {
		return err
	}
	bestLine.Color = color.RGBA{R: 20, G: 80, B: 200, A: 255}
	bestLine.Width = vg.Points(1.5)
	p.Add(bestLine)
	p.Legend.Add("best", bestLine)

	meanLine, err := plotter.NewLine(mean)
	if err != nil {
		return err
	}
	meanLine.Color = color.RGBA{R: 200, G: 30, B: 30, A: 200}
	meanLine.Width = vg.Points(1)
	meanLine.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
	p.Add(meanLine)
	p.Legend.Add("mean", meanLine)

	p.Add(plotter.NewGrid())
	p.Legend.Top = true

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return p.Save(8*vg.Inch, 6*vg.Inch, path)
}

// WriteRunPlot renders a run's score plot into its artifact directory.
func WriteRunPlot(baseDir string, run model.RunRecord) (string, error) {
	path := filepath.Join(baseDir, run.RunID, scorePlotFile)
	title := fmt.Sprintf("%s (%s) score by generation", run.Factor, run.RunID)
	if err := WriteScorePlot(path, title, run.Diagnostics); err != nil {
		return "", err
	}
	return path, nil
}
