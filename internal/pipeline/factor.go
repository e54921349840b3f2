package pipeline

import (
	"fmt"
	"sort"
	"strings"

	"marecast/internal/features"
	"marecast/internal/grid"
)

// Factor is one forecastable quantity and the dataset variables backing it.
type Factor struct {
	Name  string
	Class features.Class
	// Variables holds the dataset variable for scalar factors, or the speed
	// and direction variables for angular ones.
	Variables []string
	Outputs   []string
}

var angularFactors = map[string]bool{"wind": true, "current": true}

var knownFactors = []string{"current", "ice", "rain", "waves", "wind"}

// KnownFactors lists the supported factor names.
func KnownFactors() []string {
	return append([]string(nil), knownFactors...)
}

// ResolveFactor maps a factor name to dataset variables using the configured
// variable table. Scalar factors look up their own name; wind and current
// look up <factor>_speed and <factor>_dir. Missing entries fall back to the
// lookup key.
func ResolveFactor(name string, variables map[string]string) (Factor, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	idx := sort.SearchStrings(knownFactors, name)
	if idx == len(knownFactors) || knownFactors[idx] != name {
		return Factor{}, fmt.Errorf("unsupported factor %q (known: %s)", name, strings.Join(knownFactors, ", "))
	}
	lookup := func(key string) string {
		if v := strings.TrimSpace(variables[key]); v != "" {
			return v
		}
		return key
	}
	if angularFactors[name] {
		return Factor{
			Name:      name,
			Class:     features.Angular,
			Variables: []string{lookup(name + "_speed"), lookup(name + "_dir")},
			Outputs:   []string{name + "_speed_forecast", name + "_dir_forecast"},
		}, nil
	}
	return Factor{
		Name:      name,
		Class:     features.Scalar,
		Variables: []string{lookup(name)},
		Outputs:   []string{name + "_forecast"},
	}, nil
}

// Frames reads the factor's variables from a dataset as feature frames.
func (f Factor) Frames(ds grid.Dataset) ([]features.Frame, error) {
	if f.Class == features.Angular {
		speed, err := ds.Variable(f.Variables[0])
		if err != nil {
			return nil, err
		}
		direction, err := ds.Variable(f.Variables[1])
		if err != nil {
			return nil, err
		}
		return features.AngularFrames(speed, direction)
	}
	series, err := ds.Variable(f.Variables[0])
	if err != nil {
		return nil, err
	}
	return features.ScalarFrames(series), nil
}
