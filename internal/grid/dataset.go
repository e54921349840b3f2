package grid

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"sort"
	"strings"
	"time"
)

var ErrUnknownVariable = errors.New("unknown variable")

// Series is a time-indexed sequence of grids for one variable.
type Series struct {
	Name   string
	Frames []Grid
}

func (s Series) Len() int {
	return len(s.Frames)
}

// Dataset is the gridded, time-indexed data source consumed by the core. It is
// opened and owned by the caller.
type Dataset interface {
	Lats() []float64
	Lons() []float64
	Times() []time.Time
	Variable(name string) (Series, error)
}

// StaticDataset optionally exposes time-invariant fields such as elevation.
type StaticDataset interface {
	Static(name string) (Grid, bool)
}

// MemoryDataset is an in-memory Dataset.
type MemoryDataset struct {
	lats      []float64
	lons      []float64
	times     []time.Time
	variables map[string]Series
	static    map[string]Grid
}

func NewMemoryDataset(lats, lons []float64, times []time.Time) *MemoryDataset {
	return &MemoryDataset{
		lats:      append([]float64(nil), lats...),
		lons:      append([]float64(nil), lons...),
		times:     append([]time.Time(nil), times...),
		variables: map[string]Series{},
		static:    map[string]Grid{},
	}
}

// AddVariable registers a variable; it must have one frame per timestamp and
// match the coordinate shape.
func (d *MemoryDataset) AddVariable(name string, frames []Grid) error {
	if len(frames) != len(d.times) {
		return fmt.Errorf("variable %s has %d frames, want %d", name, len(frames), len(d.times))
	}
	for i, frame := range frames {
		if frame.Rows != len(d.lats) || frame.Cols != len(d.lons) {
			return fmt.Errorf("variable %s frame %d has shape %dx%d, want %dx%d", name, i, frame.Rows, frame.Cols, len(d.lats), len(d.lons))
		}
	}
	d.variables[name] = Series{Name: name, Frames: frames}
	return nil
}

func (d *MemoryDataset) AddStatic(name string, g Grid) error {
	if g.Rows != len(d.lats) || g.Cols != len(d.lons) {
		return fmt.Errorf("static %s has shape %dx%d, want %dx%d", name, g.Rows, g.Cols, len(d.lats), len(d.lons))
	}
	d.static[name] = g
	return nil
}

func (d *MemoryDataset) Lats() []float64    { return d.lats }
func (d *MemoryDataset) Lons() []float64    { return d.lons }
func (d *MemoryDataset) Times() []time.Time { return d.times }

func (d *MemoryDataset) Variable(name string) (Series, error) {
	series, ok := d.variables[name]
	if !ok {
		return Series{}, fmt.Errorf("%w: %s", ErrUnknownVariable, name)
	}
	return series, nil
}

func (d *MemoryDataset) Static(name string) (Grid, bool) {
	g, ok := d.static[name]
	return g, ok
}

// VariableNames lists time-indexed variables in sorted order.
func (d *MemoryDataset) VariableNames() []string {
	names := make([]string, 0, len(d.variables))
	for name := range d.variables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// StaticNames lists time-invariant fields in sorted order.
func (d *MemoryDataset) StaticNames() []string {
	names := make([]string, 0, len(d.static))
	for name := range d.static {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Number decodes JSON null as NaN and encodes NaN as null.
type Number float64

func (n *Number) UnmarshalJSON(data []byte) error {
	if strings.TrimSpace(string(data)) == "null" {
		*n = Number(math.NaN())
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*n = Number(v)
	return nil
}

func (n Number) MarshalJSON() ([]byte, error) {
	v := float64(n)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return []byte("null"), nil
	}
	return json.Marshal(v)
}

// datasetFile is the on-disk JSON layout:
//
//	{"lats": [...], "lons": [...], "times": ["2024-01-07", ...],
//	 "variables": {"swh": [[row-major frame], ...]},
//	 "static": {"elevation": [row-major grid]}}
type datasetFile struct {
	Lats      []float64             `json:"lats"`
	Lons      []float64             `json:"lons"`
	Times     []string              `json:"times"`
	Variables map[string][][]Number `json:"variables"`
	Static    map[string][]Number   `json:"static,omitempty"`
}

// LoadJSON reads a dataset file in the layout above.
func LoadJSON(path string) (*MemoryDataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var raw datasetFile
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode dataset %s: %w", path, err)
	}
	times := make([]time.Time, 0, len(raw.Times))
	for _, value := range raw.Times {
		ts, err := ParseDate(value)
		if err != nil {
			return nil, fmt.Errorf("dataset %s: %w", path, err)
		}
		times = append(times, ts)
	}
	ds := NewMemoryDataset(raw.Lats, raw.Lons, times)
	rows, cols := len(raw.Lats), len(raw.Lons)
	for name, frames := range raw.Variables {
		grids := make([]Grid, 0, len(frames))
		for i, frame := range frames {
			if len(frame) != rows*cols {
				return nil, fmt.Errorf("dataset %s: variable %s frame %d has %d values, want %d", path, name, i, len(frame), rows*cols)
			}
			grids = append(grids, fromNumbers(rows, cols, frame))
		}
		if err := ds.AddVariable(name, grids); err != nil {
			return nil, fmt.Errorf("dataset %s: %w", path, err)
		}
	}
	for name, values := range raw.Static {
		if len(values) != rows*cols {
			return nil, fmt.Errorf("dataset %s: static %s has %d values, want %d", path, name, len(values), rows*cols)
		}
		if err := ds.AddStatic(name, fromNumbers(rows, cols, values)); err != nil {
			return nil, fmt.Errorf("dataset %s: %w", path, err)
		}
	}
	return ds, nil
}

// WriteJSON stores a MemoryDataset in the layout LoadJSON reads.
func WriteJSON(path string, ds *MemoryDataset) error {
	raw := datasetFile{
		Lats:      ds.lats,
		Lons:      ds.lons,
		Times:     make([]string, 0, len(ds.times)),
		Variables: map[string][][]Number{},
		Static:    map[string][]Number{},
	}
	for _, ts := range ds.times {
		raw.Times = append(raw.Times, DateKey(ts))
	}
	for name, series := range ds.variables {
		frames := make([][]Number, 0, len(series.Frames))
		for _, frame := range series.Frames {
			frames = append(frames, toNumbers(frame))
		}
		raw.Variables[name] = frames
	}
	for name, g := range ds.static {
		raw.Static[name] = toNumbers(g)
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func fromNumbers(rows, cols int, values []Number) Grid {
	g := New(rows, cols)
	for i, v := range values {
		g.Values[i] = float64(v)
	}
	return g
}

func toNumbers(g Grid) []Number {
	out := make([]Number, len(g.Values))
	for i, v := range g.Values {
		out[i] = Number(v)
	}
	return out
}
