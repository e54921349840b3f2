package grid

import (
	"encoding/json"
	"fmt"
	"math"
)

// Grid is a row-major 2-D field over latitude (rows) and longitude (cols).
type Grid struct {
	Rows   int
	Cols   int
	Values []float64
}

func New(rows, cols int) Grid {
	return Grid{Rows: rows, Cols: cols, Values: make([]float64, rows*cols)}
}

// Filled returns a grid with every cell set to v.
func Filled(rows, cols int, v float64) Grid {
	g := New(rows, cols)
	for i := range g.Values {
		g.Values[i] = v
	}
	return g
}

// FromRows builds a grid from nested rows; all rows must share a length.
func FromRows(rows [][]float64) (Grid, error) {
	if len(rows) == 0 {
		return Grid{}, nil
	}
	cols := len(rows[0])
	g := New(len(rows), cols)
	for r, row := range rows {
		if len(row) != cols {
			return Grid{}, fmt.Errorf("row %d has %d values, want %d", r, len(row), cols)
		}
		copy(g.Values[r*cols:], row)
	}
	return g, nil
}

func (g Grid) Len() int {
	return len(g.Values)
}

func (g Grid) At(r, c int) float64 {
	return g.Values[r*g.Cols+c]
}

func (g Grid) Set(r, c int, v float64) {
	g.Values[r*g.Cols+c] = v
}

func (g Grid) Clone() Grid {
	out := Grid{Rows: g.Rows, Cols: g.Cols, Values: make([]float64, len(g.Values))}
	copy(out.Values, g.Values)
	return out
}

// SameShape reports whether both grids cover the same rows and cols.
func (g Grid) SameShape(o Grid) bool {
	return g.Rows == o.Rows && g.Cols == o.Cols
}

// Mask returns a copy with every cell whose keep flag is false set to NaN.
func (g Grid) Mask(keep []bool) Grid {
	out := g.Clone()
	for i := range out.Values {
		if i < len(keep) && !keep[i] {
			out.Values[i] = math.NaN()
		}
	}
	return out
}

// CountNaN returns the number of non-numeric cells.
func (g Grid) CountNaN() int {
	n := 0
	for _, v := range g.Values {
		if math.IsNaN(v) {
			n++
		}
	}
	return n
}

type gridJSON struct {
	Rows   int      `json:"rows"`
	Cols   int      `json:"cols"`
	Values []Number `json:"values"`
}

// MarshalJSON writes non-numeric cells as null.
func (g Grid) MarshalJSON() ([]byte, error) {
	return json.Marshal(gridJSON{Rows: g.Rows, Cols: g.Cols, Values: toNumbers(g)})
}

func (g *Grid) UnmarshalJSON(data []byte) error {
	var raw gridJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw.Values) != raw.Rows*raw.Cols {
		return fmt.Errorf("grid has %d values for %dx%d", len(raw.Values), raw.Rows, raw.Cols)
	}
	*g = fromNumbers(raw.Rows, raw.Cols, raw.Values)
	return nil
}
