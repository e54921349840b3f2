package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"marecast/internal/config"
	"marecast/internal/grid"
	"marecast/internal/model"
	"marecast/internal/pipeline"
	"marecast/internal/stats"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	origWD, err := os.Getwd()
	require.NoError(t, err)
	workdir := t.TempDir()
	require.NoError(t, os.Chdir(workdir))
	t.Cleanup(func() {
		_ = os.Chdir(origWD)
	})
	return workdir
}

func writeDataset(t *testing.T, path string) {
	t.Helper()
	lats, lons := []float64{10, 11}, []float64{20, 21, 22}
	start := time.Date(2024, 1, 7, 0, 0, 0, 0, time.UTC)
	times := make([]time.Time, 20)
	frames := make([]grid.Grid, len(times))
	for i := range times {
		times[i] = start.AddDate(0, 0, 7*i)
		frames[i] = grid.New(len(lats), len(lons))
		for cell := range frames[i].Values {
			frames[i].Values[cell] = 1.5 + math.Sin(float64(i)/3) + 0.1*float64(cell)
		}
	}
	ds := grid.NewMemoryDataset(lats, lons, times)
	require.NoError(t, ds.AddVariable("swh", frames))
	elevation := grid.Filled(len(lats), len(lons), -40)
	elevation.Set(1, 2, 15)
	require.NoError(t, ds.AddStatic("elevation", elevation))
	require.NoError(t, grid.WriteJSON(path, ds))
}

const smallConfig = `
factor: waves
forecast_start: "2024-07-01"
forecast_end: "2024-07-08"
log:
  level: error
ga:
  max_lag_days: 3
  population: 4
  generations: 2
  sample_cells_for_ga: 30
  hyperparam_grid_scalar:
    n_estimators: [5]
    max_depth: [2]
    learning_rate: [0.3]
`

func captureStdout(t *testing.T, fn func() error) string {
	t.Helper()
	orig := os.Stdout
	r, w, err := os.Pipe()
	require.NoError(t, err)
	os.Stdout = w
	runErr := fn()
	_ = w.Close()
	os.Stdout = orig
	var buf bytes.Buffer
	_, err = io.Copy(&buf, r)
	require.NoError(t, err)
	require.NoError(t, runErr)
	return buf.String()
}

func TestRunCommandWritesArtifacts(t *testing.T) {
	workdir := chdirTemp(t)
	writeDataset(t, filepath.Join(workdir, "dataset.json"))
	configPath := filepath.Join(workdir, "marecast.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(smallConfig), 0o644))

	ctx := context.Background()
	err := run(ctx, []string{
		"run",
		"--config", configPath,
		"--store", "memory",
		"--output-dir", "runs",
		"--run-id", "cli-run",
		"--seed", "0",
		"--plot",
	})
	require.NoError(t, err)

	for _, file := range []string{"config.json", "run.json", "top_genomes.json", "lineage.json", "forecast.json", "score_series.csv", "score_plot.png"} {
		_, err := os.Stat(filepath.Join("runs", "cli-run", file))
		require.NoError(t, err, file)
	}

	runCfg, ok, err := stats.ReadRunConfig("runs", "cli-run")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(0), runCfg.Seed)
	require.Equal(t, 4, runCfg.Population)
	require.Equal(t, "2024-07-01", runCfg.ForecastStart)

	forecast, ok, err := stats.ReadForecast("runs", "cli-run")
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, forecast.Steps, 2)
	for _, g := range forecast.Steps[0].Grids {
		require.True(t, math.IsNaN(g.At(1, 2)), "land cell must stay empty")
		require.False(t, math.IsNaN(g.At(0, 0)))
	}

	out := captureStdout(t, func() error {
		return run(ctx, []string{"runs", "--config", configPath, "--store", "memory", "--output-dir", "runs", "--json"})
	})
	var entries []stats.RunIndexEntry
	require.NoError(t, json.Unmarshal([]byte(out), &entries))
	require.Len(t, entries, 1)
	require.Equal(t, "cli-run", entries[0].RunID)

	require.NoError(t, run(ctx, []string{"export", "--config", configPath, "--store", "memory", "--output-dir", "runs", "--latest", "--out", "exported"}))
	_, err = os.Stat(filepath.Join("exported", "cli-run", "forecast.json"))
	require.NoError(t, err)
}

func TestPredictCommandPrintsRecord(t *testing.T) {
	workdir := chdirTemp(t)
	output := filepath.Join(workdir, "prediction.json")
	out := captureStdout(t, func() error {
		return run(context.Background(), []string{
			"predict",
			"--store", "memory",
			"--log-level", "error",
			"--date", "2025-05-01",
			"--lat", "60.1",
			"--lon", "24.9",
			"--conditions", `{"waves_height_m": 1.2}`,
			"--output", output,
		})
	})
	var record model.Prediction
	require.NoError(t, json.Unmarshal([]byte(out), &record))
	require.NotEmpty(t, record.ID)
	require.Len(t, record.ForecastData, 3)
	require.Equal(t, 1.2, record.ForecastData[0].Values["waves_height_m"])

	_, err := os.Stat(output)
	require.NoError(t, err)
}

func TestCommandErrors(t *testing.T) {
	chdirTemp(t)
	ctx := context.Background()
	require.ErrorContains(t, run(ctx, nil), "missing command")
	require.ErrorContains(t, run(ctx, []string{"train"}), "unknown command")
	require.Error(t, run(ctx, []string{"predict", "--store", "memory"}))
	require.Error(t, run(ctx, []string{"runs", "--limit", "0"}))
	require.Error(t, run(ctx, []string{"export", "--store", "memory", "--run-id", "a", "--latest"}))
	require.Error(t, run(ctx, []string{"run", "--store", "memory", "--factor", "fog"}))
	require.Error(t, run(ctx, []string{"run", "--store", "memory", "--dataset", "missing.json"}))
}

func TestFactorUsageListsResolvableFactors(t *testing.T) {
	usage := factorUsage()
	require.Equal(t, "factor: current|ice|rain|waves|wind", usage)
	for _, name := range pipeline.KnownFactors() {
		_, err := pipeline.ResolveFactor(name, config.Default().Variables)
		require.NoError(t, err, name)
	}
}
