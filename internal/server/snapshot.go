package server

import (
	"errors"
	"math"
	"sort"
	"time"

	"marecast/internal/grid"
	"marecast/internal/model"
)

const depthVariable = "depth"

var defaultPercentVariables = []string{"ice_conc", "ice_coverage"}

// SnapshotSource is a dataset whose variables and static fields can be
// enumerated.
type SnapshotSource interface {
	grid.Dataset
	grid.StaticDataset
	VariableNames() []string
	StaticNames() []string
}

type SnapshotOptions struct {
	// ElevationVar is served as depth: sea cells hold -elevation, land cells
	// are missing.
	ElevationVar string
	// StrictLand treats only elevation > 0 as land.
	StrictLand bool
	// PercentVars are stored in percent and served as fractions in [0, 1].
	PercentVars []string
}

func (o SnapshotOptions) withDefaults() SnapshotOptions {
	if o.ElevationVar == "" {
		o.ElevationVar = "elevation"
	}
	if o.PercentVars == nil {
		o.PercentVars = defaultPercentVariables
	}
	return o
}

// PreviousSunday returns the UTC day of the last Sunday on or before ts.
func PreviousSunday(ts time.Time) time.Time {
	ts = ts.UTC()
	day := time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, time.UTC)
	return day.AddDate(0, 0, -int(day.Weekday()))
}

func nearestTime(times []time.Time, target time.Time) int {
	best, bestGap := -1, time.Duration(math.MaxInt64)
	for i, ts := range times {
		gap := ts.Sub(target)
		if gap < 0 {
			gap = -gap
		}
		if gap < bestGap {
			best, bestGap = i, gap
		}
	}
	return best
}

// Snapshot selects the dataset frame nearest to the Sunday on or before date
// and returns every variable and static field as a one-step record.
func Snapshot(ds SnapshotSource, date time.Time, opts SnapshotOptions) (model.ForecastRecord, error) {
	opts = opts.withDefaults()
	percent := make(map[string]bool, len(opts.PercentVars))
	for _, name := range opts.PercentVars {
		percent[name] = true
	}

	step := model.ForecastStep{Grids: map[string]grid.Grid{}}
	var names []string
	add := func(name string, g grid.Grid) {
		if percent[name] {
			g = toFraction(g)
		}
		step.Grids[name] = g
		names = append(names, name)
	}

	if vars := ds.VariableNames(); len(vars) > 0 {
		idx := nearestTime(ds.Times(), PreviousSunday(date))
		if idx < 0 {
			return model.ForecastRecord{}, errors.New("dataset has no timestamps")
		}
		step.Date = grid.DateKey(ds.Times()[idx])
		for _, name := range vars {
			series, err := ds.Variable(name)
			if err != nil {
				return model.ForecastRecord{}, err
			}
			add(name, series.Frames[idx])
		}
	}
	for _, name := range ds.StaticNames() {
		g, _ := ds.Static(name)
		if name == opts.ElevationVar {
			add(depthVariable, toDepth(g, opts.StrictLand))
			continue
		}
		add(name, g)
	}
	if len(names) == 0 {
		return model.ForecastRecord{}, errors.New("dataset has no grids")
	}
	sort.Strings(names)

	return model.ForecastRecord{
		Factor:    "dataset",
		Variables: names,
		Lats:      ds.Lats(),
		Lons:      ds.Lons(),
		Steps:     []model.ForecastStep{step},
	}, nil
}

func toDepth(elevation grid.Grid, strict bool) grid.Grid {
	out := elevation.Clone()
	for i, v := range out.Values {
		land := v >= 0
		if strict {
			land = v > 0
		}
		switch {
		case math.IsNaN(v):
		case land:
			out.Values[i] = math.NaN()
		default:
			out.Values[i] = -v
		}
	}
	return out
}

func toFraction(g grid.Grid) grid.Grid {
	out := g.Clone()
	for i, v := range out.Values {
		if math.IsNaN(v) {
			continue
		}
		out.Values[i] = math.Min(math.Max(v/100, 0), 1)
	}
	return out
}
