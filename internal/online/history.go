package online

import (
	"encoding/json"
	"fmt"
	"os"
)

// Entry is one cached observation keyed by variable. Missing and null values
// are both represented by absence after decoding.
type Entry map[string]json.RawMessage

// LoadLog reads the cached history log, a JSON array of objects.
func LoadLog(path string) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("decode history %s: %w", path, err)
	}
	return entries, nil
}

// Series extracts one variable's values from the log, substituting the
// current value where an entry lacks the key and skipping null or
// non-numeric values. The result is the last n values, left-padded to n with
// the current value (or the first available value, or 0), and its final
// element is forced to the current value when one is given.
func Series(entries []Entry, key string, current *float64, n int) []float64 {
	values := make([]float64, 0, len(entries))
	for _, entry := range entries {
		raw, ok := entry[key]
		if !ok {
			if current != nil {
				values = append(values, *current)
			}
			continue
		}
		var v *float64
		if err := json.Unmarshal(raw, &v); err != nil || v == nil {
			continue
		}
		values = append(values, *v)
	}
	if len(values) > n {
		values = values[len(values)-n:]
	}
	if missing := n - len(values); missing > 0 {
		pad := 0.0
		switch {
		case current != nil:
			pad = *current
		case len(values) > 0:
			pad = values[0]
		}
		padded := make([]float64, 0, n)
		for i := 0; i < missing; i++ {
			padded = append(padded, pad)
		}
		values = append(padded, values...)
	}
	if current != nil && len(values) > 0 {
		values[len(values)-1] = *current
	}
	return values
}
