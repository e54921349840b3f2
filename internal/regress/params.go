package regress

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

const (
	ParamEstimators     = "n_estimators"
	ParamMaxDepth       = "max_depth"
	ParamLearningRate   = "learning_rate"
	ParamMinSamplesLeaf = "min_samples_leaf"
)

// Params is one hyperparameter assignment.
type Params map[string]float64

func (p Params) Int(name string, fallback int) int {
	v, ok := p[name]
	if !ok || math.IsNaN(v) {
		return fallback
	}
	return int(v)
}

func (p Params) Float(name string, fallback float64) float64 {
	v, ok := p[name]
	if !ok || math.IsNaN(v) {
		return fallback
	}
	return v
}

func (p Params) Clone() Params {
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// String renders the assignment as sorted name=value pairs.
func (p Params) String() string {
	names := make([]string, 0, len(p))
	for name := range p {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = name + "=" + strconv.FormatFloat(p[name], 'g', -1, 64)
	}
	return strings.Join(parts, ",")
}

var ErrEmptyGrid = errors.New("hyperparameter grid is empty")

// Grid enumerates the cross product of named parameter choices. Names are
// ordered ascending and the last name varies fastest.
type Grid struct {
	names   []string
	choices [][]float64
}

func NewGrid(choices map[string][]float64) (Grid, error) {
	if len(choices) == 0 {
		return Grid{}, ErrEmptyGrid
	}
	names := make([]string, 0, len(choices))
	for name, values := range choices {
		if len(values) == 0 {
			return Grid{}, fmt.Errorf("parameter %q has no choices: %w", name, ErrEmptyGrid)
		}
		names = append(names, name)
	}
	sort.Strings(names)
	g := Grid{names: names, choices: make([][]float64, len(names))}
	for i, name := range names {
		g.choices[i] = append([]float64(nil), choices[name]...)
	}
	return g, nil
}

// DefaultGrid is the boosted-tree search space used when none is configured.
func DefaultGrid() Grid {
	g, _ := NewGrid(map[string][]float64{
		ParamEstimators:   {100, 200},
		ParamMaxDepth:     {4, 6},
		ParamLearningRate: {0.05, 0.1},
	})
	return g
}

func (g Grid) Len() int {
	if len(g.names) == 0 {
		return 0
	}
	n := 1
	for _, c := range g.choices {
		n *= len(c)
	}
	return n
}

func (g Grid) Names() []string {
	return append([]string(nil), g.names...)
}

// At returns the i-th assignment in enumeration order.
func (g Grid) At(i int) (Params, error) {
	if i < 0 || i >= g.Len() {
		return nil, fmt.Errorf("grid index %d out of range [0,%d)", i, g.Len())
	}
	p := make(Params, len(g.names))
	for k := len(g.names) - 1; k >= 0; k-- {
		n := len(g.choices[k])
		p[g.names[k]] = g.choices[k][i%n]
		i /= n
	}
	return p, nil
}

// Choices returns a copy of the grid definition.
func (g Grid) Choices() map[string][]float64 {
	out := make(map[string][]float64, len(g.names))
	for i, name := range g.names {
		out[name] = append([]float64(nil), g.choices[i]...)
	}
	return out
}
