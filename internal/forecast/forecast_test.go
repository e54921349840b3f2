package forecast

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"marecast/internal/features"
	"marecast/internal/grid"
)

// lagModel predicts the first selected column plus a fixed offset, and for
// angular schemas returns a fixed non-unit (sin, cos) vector.
type lagModel struct {
	offset  float64
	angular bool
	calls   int
}

func (m *lagModel) Fit(_, _ [][]float64) error { return nil }

func (m *lagModel) Predict(X [][]float64) ([][]float64, error) {
	m.calls++
	out := make([][]float64, len(X))
	for i, row := range X {
		if m.angular {
			out[i] = []float64{row[0] + m.offset, 3, -3}
			continue
		}
		out[i] = []float64{row[0] + m.offset}
	}
	return out, nil
}

func history(n int, channels int, rows, cols int) []features.Frame {
	out := make([]features.Frame, n)
	for t := range out {
		frame := make(features.Frame, channels)
		for ch := range frame {
			frame[ch] = grid.Filled(rows, cols, float64(t))
		}
		out[t] = frame
	}
	return out
}

func TestRingKeepsCapacity(t *testing.T) {
	ring, err := NewRing(3, history(5, 1, 1, 1))
	require.NoError(t, err)
	require.Equal(t, 3, ring.Len())
	require.Equal(t, 2.0, ring.Frames()[0][0].Values[0])

	for i := 0; i < 4; i++ {
		ring.Push(features.Frame{grid.Filled(1, 1, float64(10+i))})
		require.Equal(t, 3, ring.Len())
	}
	frames := ring.Frames()
	require.Equal(t, []float64{11, 12, 13}, []float64{frames[0][0].Values[0], frames[1][0].Values[0], frames[2][0].Values[0]})

	_, err = NewRing(6, history(5, 1, 1, 1))
	require.ErrorIs(t, err, ErrShortHistory)
}

func TestScalarForecastMasksLandAndKeepsBuffer(t *testing.T) {
	schema, err := features.NewSchema(features.Scalar, 3)
	require.NoError(t, err)
	lats, lons := []float64{10, 11}, []float64{20, 21}
	sea := []bool{true, false, true, true}

	var lengths []int
	fc, err := New(Config{
		Model:    &lagModel{offset: 1},
		Schema:   schema,
		Columns:  []int{0},
		Lats:     lats,
		Lons:     lons,
		Sea:      sea,
		Outputs:  []string{"swh_forecast"},
		Observer: func(_, n int) { lengths = append(lengths, n) },
	})
	require.NoError(t, err)

	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	dates := grid.WeeklyDates(start, start.AddDate(0, 0, 21))
	steps, err := fc.Run(context.Background(), history(4, 1, 2, 2), dates)
	require.NoError(t, err)
	require.Len(t, steps, 4)
	require.Equal(t, "2025-01-01", steps[0].Date)
	require.Equal(t, "2025-01-22", steps[3].Date)

	for _, n := range lengths {
		require.Equal(t, 3, n)
	}
	require.Len(t, lengths, 8)

	for i, step := range steps {
		g := step.Grids["swh_forecast"]
		require.True(t, math.IsNaN(g.Values[1]), "land cell at step %d", i)
		// lag_1 of the previous prediction feeds forward.
		require.InDelta(t, 4+float64(i), g.Values[0], 1e-12)
		require.InDelta(t, 4+float64(i), g.Values[3], 1e-12)
	}
}

func TestAngularForecastDirections(t *testing.T) {
	schema, err := features.NewSchema(features.Angular, 2)
	require.NoError(t, err)
	model := &lagModel{angular: true}
	fc, err := New(Config{
		Model:   model,
		Schema:  schema,
		Columns: []int{0, 1, 2},
		Lats:    []float64{0, 1},
		Lons:    []float64{5},
		Sea:     []bool{false, true},
		Outputs: []string{"wind_speed_forecast", "wind_dir_forecast"},
	})
	require.NoError(t, err)

	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	steps, err := fc.Run(context.Background(), history(3, 3, 2, 1), grid.WeeklyDates(start, start.AddDate(0, 0, 14)))
	require.NoError(t, err)
	require.Len(t, steps, 3)
	require.Equal(t, 3, model.calls)
	for _, step := range steps {
		dir := step.Grids["wind_dir_forecast"]
		speed := step.Grids["wind_speed_forecast"]
		require.True(t, math.IsNaN(dir.Values[0]))
		require.True(t, math.IsNaN(speed.Values[0]))
		require.GreaterOrEqual(t, dir.Values[1], 0.0)
		require.Less(t, dir.Values[1], 360.0)
		require.InDelta(t, 135, dir.Values[1], 1e-6)
	}
}

func TestForecasterValidation(t *testing.T) {
	schema, err := features.NewSchema(features.Scalar, 2)
	require.NoError(t, err)
	base := Config{Model: &lagModel{}, Schema: schema, Columns: []int{0}, Lats: []float64{0}, Lons: []float64{0}, Outputs: []string{"x"}}

	cfg := base
	cfg.Columns = []int{99}
	_, err = New(cfg)
	require.Error(t, err)

	cfg = base
	cfg.Sea = []bool{true, false}
	_, err = New(cfg)
	require.Error(t, err)

	cfg = base
	cfg.Outputs = []string{"a", "b"}
	_, err = New(cfg)
	require.Error(t, err)

	fc, err := New(base)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = fc.Run(ctx, history(2, 1, 1, 1), []time.Time{time.Now()})
	require.ErrorIs(t, err, context.Canceled)
}
