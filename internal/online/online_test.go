package online

import (
	"context"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"marecast/internal/model"
)

func ptr(v float64) *float64 { return &v }

func writeLog(t *testing.T, entries []map[string]any) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "environmental_history.json")
	data, err := json.Marshal(entries)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func newPredictor(t *testing.T, cfg Config) *Predictor {
	t.Helper()
	p, err := NewPredictor(cfg)
	require.NoError(t, err)
	return p
}

func TestSeriesPaddingAndOverride(t *testing.T) {
	path := writeLog(t, []map[string]any{
		{"waves_height_m": 1.0},
		{"waves_height_m": nil},
		{"other": 4.0},
		{"waves_height_m": 2.0},
	})
	entries, err := LoadLog(path)
	require.NoError(t, err)

	require.Equal(t, []float64{9, 9, 9, 9, 9, 1, 9, 9}, Series(entries, "waves_height_m", ptr(9), 8))
	require.Equal(t, []float64{1, 1, 1, 1, 1, 1, 1, 2}, Series(entries, "waves_height_m", nil, 8))
	require.Equal(t, []float64{7, 7}, Series(entries, "waves_height_m", ptr(7), 2))
	require.Equal(t, []float64{0, 0, 0}, Series(nil, "ice_conc", nil, 3))
}

func TestConstantHistoryShortCircuits(t *testing.T) {
	entries := make([]map[string]any, 5)
	for i := range entries {
		entries[i] = map[string]any{"waves_height_m": 1.0}
	}
	p := newPredictor(t, Config{HistoryPath: writeLog(t, entries)})
	forecast, coeffs, err := p.Forecast(context.Background(), "waves_height_m", ptr(1), p.History())
	require.NoError(t, err)
	require.Equal(t, []float64{1, 1, 1}, forecast)
	require.Equal(t, Coefficients{0, 0, 0, 0, 0, 0, 0}, coeffs)
}

func TestMissingCacheUsesCurrentValue(t *testing.T) {
	p := newPredictor(t, Config{HistoryPath: filepath.Join(t.TempDir(), "missing.json")})
	require.Empty(t, p.History())
	forecast, coeffs, err := p.Forecast(context.Background(), "wind_speed_mps", ptr(3), p.History())
	require.NoError(t, err)
	require.Equal(t, []float64{3, 3, 3}, forecast)
	require.Len(t, coeffs, 7)

	forecast, _, err = p.Forecast(context.Background(), "wind_speed_mps", nil, nil)
	require.NoError(t, err)
	require.Equal(t, []float64{0, 0, 0}, forecast)
}

func TestMalformedCacheDegradesToEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))
	p := newPredictor(t, Config{HistoryPath: path})
	require.Empty(t, p.History())
}

func TestFitnessOfExactModel(t *testing.T) {
	// bias 1, trend 0.5, no AR terms: series[i] = 1 + 0.5*i
	c := Coefficients{0, 0, 0, 0, 0, 1, 0.5}
	series := make([]float64, 10)
	for i := range series {
		series[i] = 1 + 0.5*float64(i)
	}
	require.Equal(t, 1.0, c.Fitness(series))
	require.Equal(t, unfit, c.Fitness(series[:5]))
	series[9] += 2
	require.InDelta(t, -4.0/5, c.Fitness(series), 1e-12)
}

func TestForecastConstraints(t *testing.T) {
	entries := make([]map[string]any, 12)
	for i := range entries {
		x := float64(i)
		entries[i] = map[string]any{
			"wind_direction_deg": math.Mod(300+25*x, 360),
			"ice_conc":           0.4 + 0.1*math.Sin(x),
			"waves_height_m":     2 - 0.3*x,
		}
	}
	settings := DefaultSettings()
	settings.Population = 20
	settings.Generations = 10
	p := newPredictor(t, Config{HistoryPath: writeLog(t, entries), Settings: settings, Seed: 3})
	history := p.History()

	dir, coeffs, err := p.Forecast(context.Background(), "wind_direction_deg", nil, history)
	require.NoError(t, err)
	require.Len(t, coeffs, 7)
	for _, v := range dir {
		require.GreaterOrEqual(t, v, 0.0)
		require.Less(t, v, 360.0)
	}

	ice, _, err := p.Forecast(context.Background(), "ice_conc", ptr(0.95), history)
	require.NoError(t, err)
	for _, v := range ice {
		require.GreaterOrEqual(t, v, 0.0)
		require.LessOrEqual(t, v, 1.0)
	}

	waves, _, err := p.Forecast(context.Background(), "waves_height_m", nil, history)
	require.NoError(t, err)
	for _, v := range waves {
		require.GreaterOrEqual(t, v, 0.0)
	}
}

func TestPredictWritesRecord(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, DefaultOutputPath)
	settings := DefaultSettings()
	settings.Population = 10
	settings.Generations = 3
	now := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	p := newPredictor(t, Config{
		Settings:    settings,
		HistoryPath: filepath.Join(dir, "none.json"),
		OutputPath:  out,
		Workers:     4,
		Now:         func() time.Time { return now },
	})

	conditions := map[string]any{"wind_speed_mps": 4.0, "ice_conc": 0.2, "note": "buoy"}
	record, err := p.Predict(context.Background(), Request{Lat: 60.1, Lon: 24.9, Date: "2025-05-01T00:00:00Z", Conditions: conditions})
	require.NoError(t, err)
	require.Equal(t, ModelName, record.Metadata.Model)
	require.Equal(t, 18, record.ForecastHorizonHours)
	require.Len(t, record.OptimizedCoefficients, len(TrackedVariables))
	require.Contains(t, record.OptimizedCoefficients, "ice_conc_coeffs")
	require.Len(t, record.ForecastData, 3)
	require.Equal(t, "2025-05-01T06:00:00+00:00", record.ForecastData[0].Timestamp)
	require.Equal(t, "2025-05-01T18:00:00+00:00", record.ForecastData[2].Timestamp)
	require.Equal(t, 4.0, record.ForecastData[1].Values["wind_speed_mps"])
	require.Equal(t, 0.0, record.ForecastData[1].Values["waves_height_m"])

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	require.Contains(t, raw, "optimized_coefficients")
	points := raw["forecast_data"].([]any)
	first := points[0].(map[string]any)
	require.Equal(t, 0.2, first["predicted_ice_conc"])
	require.Equal(t, "buoy", raw["metadata"].(map[string]any)["grounding_data"].(map[string]any)["note"])

	var decoded model.Prediction
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Equal(t, record.ForecastData[2].Values, decoded.ForecastData[2].Values)
}

func TestPredictIsDeterministicAcrossWorkers(t *testing.T) {
	entries := make([]map[string]any, 8)
	for i := range entries {
		entries[i] = map[string]any{"waves_height_m": 1 + 0.2*float64(i%3), "wind_speed_mps": 5 + float64(i%2)}
	}
	path := writeLog(t, entries)
	settings := DefaultSettings()
	settings.Population = 12
	settings.Generations = 4
	req := Request{Lat: 1, Lon: 2, Date: "2025-01-01", Conditions: map[string]any{}}

	serial, err := newPredictor(t, Config{Settings: settings, HistoryPath: path, Seed: 5}).Predict(context.Background(), req)
	require.NoError(t, err)
	parallel, err := newPredictor(t, Config{Settings: settings, HistoryPath: path, Seed: 5, Workers: 3}).Predict(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, serial.OptimizedCoefficients, parallel.OptimizedCoefficients)
	require.Equal(t, serial.ForecastData, parallel.ForecastData)
}

func TestSettingsValidation(t *testing.T) {
	s := DefaultSettings()
	s.Population = 0
	_, err := NewPredictor(Config{Settings: s})
	require.Error(t, err)

	_, err = NewPredictor(Config{Settings: Settings{HistoryLength: 5}})
	require.Error(t, err)
}
