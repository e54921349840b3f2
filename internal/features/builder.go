package features

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"marecast/internal/grid"
)

// Sampling bounds table size on large grids by drawing a fixed fraction of
// cells once per build.
type Sampling struct {
	Enabled  bool    `json:"enabled" mapstructure:"enabled"`
	Fraction float64 `json:"fraction" mapstructure:"fraction"`
}

// Builder turns a history of frames into a supervised feature table.
type Builder struct {
	Schema   Schema
	Sampling Sampling
	Rand     *rand.Rand
}

// Table holds one feature row and one target row per usable cell-time sample.
// Targets have one column for scalar variables and (speed, sin, cos) for
// angular ones.
type Table struct {
	Schema Schema
	X      [][]float64
	Y      [][]float64
}

func (t Table) Len() int {
	return len(t.X)
}

func (t Table) Empty() bool {
	return len(t.X) == 0
}

// Slice returns rows [start, end) sharing the underlying rows.
func (t Table) Slice(start, end int) Table {
	return Table{Schema: t.Schema, X: t.X[start:end], Y: t.Y[start:end]}
}

// Subset returns the listed rows in order.
func (t Table) Subset(rows []int) Table {
	out := Table{Schema: t.Schema, X: make([][]float64, len(rows)), Y: make([][]float64, len(rows))}
	for i, r := range rows {
		out.X[i] = t.X[r]
		out.Y[i] = t.Y[r]
	}
	return out
}

// Project returns X restricted to the given columns.
func (t Table) Project(cols []int) [][]float64 {
	return Project(t.X, cols)
}

// Select returns X restricted to the columns whose mask bit is set.
func (t Table) Select(mask []bool) [][]float64 {
	return Project(t.X, MaskColumns(mask))
}

// Target returns target column j.
func (t Table) Target(j int) []float64 {
	out := make([]float64, len(t.Y))
	for i, row := range t.Y {
		out[i] = row[j]
	}
	return out
}

// Project copies the given columns out of each row.
func Project(rows [][]float64, cols []int) [][]float64 {
	out := make([][]float64, len(rows))
	for i, row := range rows {
		projected := make([]float64, len(cols))
		for j, c := range cols {
			projected[j] = row[c]
		}
		out[i] = projected
	}
	return out
}

// Build constructs the table. For each time index tt in [MaxLag, T-1) the
// history is frames tt-MaxLag+1..tt and the target is frame tt+1; samples
// whose target has any non-numeric channel are skipped.
func (b Builder) Build(frames []Frame, times []time.Time, lats, lons []float64) (Table, error) {
	s := b.Schema
	if s.MaxLag <= 0 {
		return Table{}, ErrInvalidLag
	}
	if len(frames) != len(times) {
		return Table{}, fmt.Errorf("have %d frames for %d timestamps", len(frames), len(times))
	}
	cells := len(lats) * len(lons)
	channels := s.Class.Channels()
	for i, f := range frames {
		if len(f) != channels {
			return Table{}, fmt.Errorf("frame %d has %d channels, %s schema needs %d", i, len(f), s.Class, channels)
		}
		for _, g := range f {
			if g.Len() != cells {
				return Table{}, fmt.Errorf("frame %d has %d cells, coordinates give %d", i, g.Len(), cells)
			}
		}
	}

	sampled, err := b.sampleCells(cells)
	if err != nil {
		return Table{}, err
	}

	table := Table{Schema: s}
	ctx := newRowContext(s)
	for tt := s.MaxLag; tt < len(frames)-1; tt++ {
		target := frames[tt+1]
		hist := frames[tt-s.MaxLag+1 : tt+1]
		doySin, doyCos := grid.DayOfYearCycle(times[tt])
		visit := func(cell int) {
			y := make([]float64, channels)
			for ch := 0; ch < channels; ch++ {
				y[ch] = target[ch].Values[cell]
				if math.IsNaN(y[ch]) {
					return
				}
			}
			row := make([]float64, s.Len())
			ctx.fill(row, hist, cell, doySin, doyCos, lats[cell/len(lons)], lons[cell%len(lons)])
			table.X = append(table.X, row)
			table.Y = append(table.Y, y)
		}
		if sampled != nil {
			for _, cell := range sampled {
				visit(cell)
			}
			continue
		}
		for cell := 0; cell < cells; cell++ {
			visit(cell)
		}
	}
	return table, nil
}

// sampleCells draws the cell subset used for every time step of one build.
func (b Builder) sampleCells(total int) ([]int, error) {
	if !b.Sampling.Enabled {
		return nil, nil
	}
	if b.Rand == nil {
		return nil, errors.New("random source is required for cell sampling")
	}
	fraction := b.Sampling.Fraction
	if fraction <= 0 {
		fraction = 1
	}
	n := int(float64(total) * fraction)
	if n > total {
		n = total
	}
	picked := b.Rand.Perm(total)[:n]
	sort.Ints(picked)
	return picked, nil
}

// Rows builds one feature row per cell from a history buffer ordered oldest
// to newest. It is the forecasting counterpart of Build and uses the same
// column layout; ts supplies the day-of-year encoding.
func (s Schema) Rows(hist []Frame, ts time.Time, lats, lons []float64) ([][]float64, error) {
	if len(hist) < s.MaxLag {
		return nil, fmt.Errorf("history has %d frames, schema needs %d", len(hist), s.MaxLag)
	}
	hist = hist[len(hist)-s.MaxLag:]
	cells := len(lats) * len(lons)
	for i, f := range hist {
		if len(f) != s.Class.Channels() {
			return nil, fmt.Errorf("history frame %d has %d channels, %s schema needs %d", i, len(f), s.Class, s.Class.Channels())
		}
	}
	doySin, doyCos := grid.DayOfYearCycle(ts)
	ctx := newRowContext(s)
	rows := make([][]float64, cells)
	for cell := 0; cell < cells; cell++ {
		row := make([]float64, s.Len())
		ctx.fill(row, hist, cell, doySin, doyCos, lats[cell/len(lons)], lons[cell%len(lons)])
		rows[cell] = row
	}
	return rows, nil
}

type windowStat struct {
	ok                  bool
	mean, std, min, max float64
}

// rowContext caches rolling statistics per (channel, window) while one row is
// filled.
type rowContext struct {
	schema  Schema
	cache   [3][]windowStat
	scratch []float64
}

func newRowContext(s Schema) *rowContext {
	ctx := &rowContext{schema: s, scratch: make([]float64, 0, s.MaxLag)}
	for ch := range ctx.cache {
		ctx.cache[ch] = make([]windowStat, len(Windows))
	}
	return ctx
}

func (c *rowContext) fill(dst []float64, hist []Frame, cell int, doySin, doyCos, lat, lon float64) {
	for ch := range c.cache {
		for w := range c.cache[ch] {
			c.cache[ch][w].ok = false
		}
	}
	n := len(hist)
	for i, f := range c.schema.Features {
		switch f.Kind {
		case KindLag:
			dst[i] = hist[n-f.Lag][f.Channel].Values[cell]
		case KindRollMean, KindRollStd, KindRollMin, KindRollMax:
			ws := c.window(hist, f.Channel, f.Window, cell)
			switch f.Kind {
			case KindRollMean:
				dst[i] = ws.mean
			case KindRollStd:
				dst[i] = ws.std
			case KindRollMin:
				dst[i] = ws.min
			default:
				dst[i] = ws.max
			}
		case KindDOYSin:
			dst[i] = doySin
		case KindDOYCos:
			dst[i] = doyCos
		case KindLat:
			dst[i] = lat
		case KindLon:
			dst[i] = lon
		}
	}
}

func (c *rowContext) window(hist []Frame, ch Channel, w, cell int) windowStat {
	slot := windowSlot(w)
	if cached := c.cache[ch][slot]; cached.ok {
		return cached
	}
	vals := c.scratch[:0]
	for _, f := range hist[len(hist)-w:] {
		v := f[ch].Values[cell]
		if !math.IsNaN(v) {
			vals = append(vals, v)
		}
	}
	ws := windowStat{ok: true}
	if len(vals) == 0 {
		nan := math.NaN()
		ws.mean, ws.std, ws.min, ws.max = nan, nan, nan, nan
	} else {
		ws.mean, ws.std = stat.PopMeanStdDev(vals, nil)
		ws.min = floats.Min(vals)
		ws.max = floats.Max(vals)
	}
	c.scratch = vals
	c.cache[ch][slot] = ws
	return ws
}

func windowSlot(w int) int {
	for i, candidate := range Windows {
		if candidate == w {
			return i
		}
	}
	return 0
}
