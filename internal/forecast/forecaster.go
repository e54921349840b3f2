package forecast

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"time"

	"marecast/internal/features"
	"marecast/internal/grid"
	"marecast/internal/model"
	"marecast/internal/regress"
)

// Config describes a trained model and the grid it forecasts over.
type Config struct {
	Model   regress.Regressor
	Schema  features.Schema
	Columns []int
	Lats    []float64
	Lons    []float64
	// Sea holds one flag per cell in row-major order; nil treats every cell as
	// water.
	Sea []bool
	// Outputs names the produced grids: one name for scalar variables, speed
	// then direction for angular ones.
	Outputs  []string
	Logger   *slog.Logger
	Observer func(step, bufferLen int)
}

// Forecaster rolls a trained model forward one frame at a time, feeding each
// prediction back into its history.
type Forecaster struct {
	cfg   Config
	cells int
}

func New(cfg Config) (*Forecaster, error) {
	if cfg.Model == nil {
		return nil, errors.New("forecast model is required")
	}
	if len(cfg.Columns) == 0 {
		return nil, errors.New("at least one feature column is required")
	}
	for _, c := range cfg.Columns {
		if c < 0 || c >= cfg.Schema.Len() {
			return nil, fmt.Errorf("feature column %d outside schema of %d", c, cfg.Schema.Len())
		}
	}
	cells := len(cfg.Lats) * len(cfg.Lons)
	if cells == 0 {
		return nil, errors.New("forecast grid has no cells")
	}
	if cfg.Sea != nil && len(cfg.Sea) != cells {
		return nil, fmt.Errorf("sea mask has %d cells, grid has %d", len(cfg.Sea), cells)
	}
	want := 1
	if cfg.Schema.Class == features.Angular {
		want = 2
	}
	if len(cfg.Outputs) != want {
		return nil, fmt.Errorf("%s forecasts need %d output names, got %d", cfg.Schema.Class, want, len(cfg.Outputs))
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Forecaster{cfg: cfg, cells: cells}, nil
}

// Run forecasts one step per date, starting from the last MaxLag frames of
// history. Land cells are NaN in every output grid.
func (f *Forecaster) Run(ctx context.Context, history []features.Frame, dates []time.Time) ([]model.ForecastStep, error) {
	ring, err := NewRing(f.cfg.Schema.MaxLag, history)
	if err != nil {
		return nil, err
	}
	rows, cols := len(f.cfg.Lats), len(f.cfg.Lons)
	steps := make([]model.ForecastStep, 0, len(dates))
	for i, date := range dates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if f.cfg.Observer != nil {
			f.cfg.Observer(i, ring.Len())
		}
		feats, err := f.cfg.Schema.Rows(ring.Frames(), date, f.cfg.Lats, f.cfg.Lons)
		if err != nil {
			return nil, fmt.Errorf("forecast %s: %w", grid.DateKey(date), err)
		}
		pred, err := f.cfg.Model.Predict(features.Project(feats, f.cfg.Columns))
		if err != nil {
			return nil, fmt.Errorf("forecast %s: %w", grid.DateKey(date), err)
		}
		if len(pred) != f.cells {
			return nil, fmt.Errorf("forecast %s: model returned %d rows for %d cells", grid.DateKey(date), len(pred), f.cells)
		}

		var (
			out  map[string]grid.Grid
			next features.Frame
		)
		if f.cfg.Schema.Class == features.Angular {
			out, next, err = f.angularStep(pred, rows, cols)
		} else {
			out, next, err = f.scalarStep(pred, rows, cols)
		}
		if err != nil {
			return nil, fmt.Errorf("forecast %s: %w", grid.DateKey(date), err)
		}
		ring.Push(next)
		if f.cfg.Observer != nil {
			f.cfg.Observer(i, ring.Len())
		}
		steps = append(steps, model.ForecastStep{Date: grid.DateKey(date), Grids: out})
		f.cfg.Logger.Debug("forecast step", "date", grid.DateKey(date), "land_cells", out[f.cfg.Outputs[0]].CountNaN())
	}
	return steps, nil
}

func (f *Forecaster) scalarStep(pred [][]float64, rows, cols int) (map[string]grid.Grid, features.Frame, error) {
	values := grid.New(rows, cols)
	for cell, p := range pred {
		if len(p) < 1 {
			return nil, nil, errors.New("scalar model returned an empty row")
		}
		values.Values[cell] = p[0]
	}
	masked := f.mask(values)
	return map[string]grid.Grid{f.cfg.Outputs[0]: masked}, features.Frame{masked.Clone()}, nil
}

// angularStep renormalizes the predicted (sin, cos) pair to the unit circle
// before decoding. Speed and direction outputs are masked; the history keeps
// the masked speed with the unmasked unit vector.
func (f *Forecaster) angularStep(pred [][]float64, rows, cols int) (map[string]grid.Grid, features.Frame, error) {
	speed, sin, cos := grid.New(rows, cols), grid.New(rows, cols), grid.New(rows, cols)
	for cell, p := range pred {
		if len(p) < 3 {
			return nil, nil, fmt.Errorf("angular model returned %d outputs, want 3", len(p))
		}
		mag := math.Sqrt(p[1]*p[1]+p[2]*p[2]) + 1e-9
		speed.Values[cell] = p[0]
		sin.Values[cell] = p[1] / mag
		cos.Values[cell] = p[2] / mag
	}
	maskedSpeed := f.mask(speed)
	direction := f.mask(grid.DecodeGrid(sin, cos))
	out := map[string]grid.Grid{
		f.cfg.Outputs[0]: maskedSpeed,
		f.cfg.Outputs[1]: direction,
	}
	return out, features.Frame{maskedSpeed.Clone(), sin, cos}, nil
}

func (f *Forecaster) mask(g grid.Grid) grid.Grid {
	if f.cfg.Sea == nil {
		return g
	}
	return g.Mask(f.cfg.Sea)
}
