package grid

import (
	"errors"
	"math"
	"sort"
)

// SeaMask classifies a coordinate as water (true) or land (false).
type SeaMask func(lat, lon float64) bool

// AllSea treats every coordinate as water.
func AllSea(float64, float64) bool { return true }

// ElevationMask classifies coordinates by the nearest cell of an elevation
// grid. Cells with elevation >= 0 are land unless Strict is set, in which case
// only elevation > 0 is land.
type ElevationMask struct {
	Lats      []float64
	Lons      []float64
	Elevation Grid
	Strict    bool
}

func NewElevationMask(lats, lons []float64, elevation Grid, strict bool) (ElevationMask, error) {
	if len(lats) == 0 || len(lons) == 0 {
		return ElevationMask{}, errors.New("elevation mask requires coordinates")
	}
	if elevation.Rows != len(lats) || elevation.Cols != len(lons) {
		return ElevationMask{}, errors.New("elevation grid does not match coordinates")
	}
	return ElevationMask{Lats: lats, Lons: lons, Elevation: elevation, Strict: strict}, nil
}

func (m ElevationMask) IsSea(lat, lon float64) bool {
	lat = clamp(lat, -90, 90)
	lon = clamp(lon, -180, 180)
	r := nearestIndex(m.Lats, lat)
	c := nearestIndex(m.Lons, lon)
	elev := m.Elevation.At(r, c)
	if math.IsNaN(elev) {
		return true
	}
	if m.Strict {
		return elev <= 0
	}
	return elev < 0
}

// Cells evaluates a mask over the lat x lon mesh in row-major order.
func Cells(lats, lons []float64, mask SeaMask) []bool {
	if mask == nil {
		mask = AllSea
	}
	out := make([]bool, len(lats)*len(lons))
	for r, lat := range lats {
		for c, lon := range lons {
			out[r*len(lons)+c] = mask(lat, lon)
		}
	}
	return out
}

// nearestIndex returns the index of the coordinate closest to v; ties resolve
// to the lower index.
func nearestIndex(coords []float64, v float64) int {
	best := 0
	bestDist := math.Inf(1)
	for i, c := range coords {
		d := math.Abs(c - v)
		if d < bestDist {
			best, bestDist = i, d
		}
	}
	return best
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

var ErrEmptySelection = errors.New("bounding box is outside the available data range")

// BBox is an inclusive latitude/longitude window.
type BBox struct {
	MinLat, MaxLat float64
	MinLon, MaxLon float64
}

// Window is a contiguous row/col range selected by a BBox.
type Window struct {
	RowStart, RowEnd int
	ColStart, ColEnd int
}

// Select finds the coordinate window covered by the box. An empty match is
// ErrEmptySelection.
func (b BBox) Select(lats, lons []float64) (Window, error) {
	if b.MinLat > b.MaxLat || b.MinLon > b.MaxLon {
		return Window{}, ErrEmptySelection
	}
	rows := indicesWithin(lats, b.MinLat, b.MaxLat)
	cols := indicesWithin(lons, b.MinLon, b.MaxLon)
	if len(rows) == 0 || len(cols) == 0 {
		return Window{}, ErrEmptySelection
	}
	return Window{
		RowStart: rows[0], RowEnd: rows[len(rows)-1] + 1,
		ColStart: cols[0], ColEnd: cols[len(cols)-1] + 1,
	}, nil
}

func (w Window) Crop(g Grid) Grid {
	out := New(w.RowEnd-w.RowStart, w.ColEnd-w.ColStart)
	for r := w.RowStart; r < w.RowEnd; r++ {
		copy(out.Values[(r-w.RowStart)*out.Cols:], g.Values[r*g.Cols+w.ColStart:r*g.Cols+w.ColEnd])
	}
	return out
}

func indicesWithin(coords []float64, lo, hi float64) []int {
	out := make([]int, 0, len(coords))
	for i, c := range coords {
		if c >= lo && c <= hi {
			out = append(out, i)
		}
	}
	sort.Ints(out)
	return out
}
