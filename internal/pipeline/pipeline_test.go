package pipeline

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"marecast/internal/evo"
	"marecast/internal/features"
	"marecast/internal/grid"
	"marecast/internal/model"
	"marecast/internal/regress"
)

func smallGrid(t *testing.T) regress.Grid {
	t.Helper()
	g, err := regress.NewGrid(map[string][]float64{
		regress.ParamEstimators:   {5, 10},
		regress.ParamMaxDepth:     {2},
		regress.ParamLearningRate: {0.3},
	})
	require.NoError(t, err)
	return g
}

// syntheticDataset holds a 2x3 grid over weekly timestamps with a seasonal
// swell, plus wind speed and direction.
func syntheticDataset(t *testing.T, steps int) *grid.MemoryDataset {
	t.Helper()
	lats, lons := []float64{10, 11}, []float64{20, 21, 22}
	start := time.Date(2024, 1, 7, 0, 0, 0, 0, time.UTC)
	times := make([]time.Time, steps)
	waves := make([]grid.Grid, steps)
	speed := make([]grid.Grid, steps)
	dir := make([]grid.Grid, steps)
	for i := range times {
		times[i] = start.AddDate(0, 0, 7*i)
		waves[i] = grid.New(len(lats), len(lons))
		speed[i] = grid.New(len(lats), len(lons))
		dir[i] = grid.New(len(lats), len(lons))
		for cell := range waves[i].Values {
			waves[i].Values[cell] = 1.5 + math.Sin(float64(i)/3) + 0.1*float64(cell)
			speed[i].Values[cell] = 5 + math.Cos(float64(i)/4) + 0.2*float64(cell)
			dir[i].Values[cell] = math.Mod(30*float64(i)+10*float64(cell), 360)
		}
	}
	ds := grid.NewMemoryDataset(lats, lons, times)
	require.NoError(t, ds.AddVariable("swh", waves))
	require.NoError(t, ds.AddVariable("u10_speed", speed))
	require.NoError(t, ds.AddVariable("u10_dir", dir))
	return ds
}

func baseConfig(t *testing.T, factor Factor) Config {
	return Config{
		Factor:        factor,
		MaxLag:        3,
		Grid:          smallGrid(t),
		Population:    6,
		Generations:   3,
		CrossoverRate: 0.8,
		MutationRate:  0.1,
		SampleRows:    40,
		Seed:          7,
	}
}

func TestResolveFactor(t *testing.T) {
	waves, err := ResolveFactor("waves", map[string]string{"waves": "swh"})
	require.NoError(t, err)
	require.Equal(t, features.Scalar, waves.Class)
	require.Equal(t, []string{"swh"}, waves.Variables)
	require.Equal(t, []string{"waves_forecast"}, waves.Outputs)

	wind, err := ResolveFactor("Wind", map[string]string{"wind_speed": "u10_speed"})
	require.NoError(t, err)
	require.Equal(t, features.Angular, wind.Class)
	require.Equal(t, []string{"u10_speed", "wind_dir"}, wind.Variables)
	require.Equal(t, []string{"wind_speed_forecast", "wind_dir_forecast"}, wind.Outputs)

	_, err = ResolveFactor("snow", nil)
	require.Error(t, err)
}

func TestRunScalarFactor(t *testing.T) {
	ds := syntheticDataset(t, 24)
	factor, err := ResolveFactor("waves", map[string]string{"waves": "swh"})
	require.NoError(t, err)

	generations := 0
	cfg := baseConfig(t, factor)
	cfg.Observer = func(_ int, ranked []evo.ScoredGenome) {
		generations++
		require.Len(t, ranked, 6)
	}
	landLat := 11.0
	start := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)
	res, err := Run(context.Background(), Request{
		Config:  cfg,
		Dataset: ds,
		Sea:     func(lat, _ float64) bool { return lat != landLat },
		Start:   start,
		End:     start.AddDate(0, 0, 14),
		RunID:   "run-waves",
	})
	require.NoError(t, err)
	require.Equal(t, 3, generations)
	require.Equal(t, model.RunStatusCompleted, res.Run.Status)
	require.Equal(t, "run-waves", res.Run.RunID)
	require.Equal(t, "scalar", res.Run.Class)
	require.Equal(t, (24-1-3)*6, res.Run.Samples)
	require.NotEmpty(t, res.Run.Features)
	require.Len(t, res.Run.BestByGeneration, 3)
	require.Contains(t, res.Run.Holdout, "mae")
	require.Equal(t, []string{"2024-07-01", "2024-07-08", "2024-07-15"}, res.Run.ForecastDates)

	require.NotNil(t, res.Forecast)
	require.Len(t, res.Forecast.Steps, 3)
	for _, step := range res.Forecast.Steps {
		g := step.Grids["waves_forecast"]
		require.Equal(t, 6, g.Len())
		for cell, v := range g.Values {
			if cell >= 3 {
				require.True(t, math.IsNaN(v), "land cell %d on %s", cell, step.Date)
			} else {
				require.False(t, math.IsNaN(v), "sea cell %d on %s", cell, step.Date)
			}
		}
	}
}

func TestRunAngularFactor(t *testing.T) {
	ds := syntheticDataset(t, 20)
	factor, err := ResolveFactor("wind", map[string]string{"wind_speed": "u10_speed", "wind_dir": "u10_dir"})
	require.NoError(t, err)
	cfg := baseConfig(t, factor)
	cfg.Workers = 3

	start := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	res, err := Run(context.Background(), Request{Config: cfg, Dataset: ds, Start: start, End: start})
	require.NoError(t, err)
	require.NotEmpty(t, res.Run.RunID)
	require.Contains(t, res.Run.BestBreakdown, "angle_mae")
	require.Len(t, res.Forecast.Steps, 1)
	dir := res.Forecast.Steps[0].Grids["wind_dir_forecast"]
	for _, v := range dir.Values {
		require.GreaterOrEqual(t, v, 0.0)
		require.Less(t, v, 360.0)
	}
	require.Contains(t, res.Forecast.Steps[0].Grids, "wind_speed_forecast")
}

func TestRunWithoutWindowTrainsOnly(t *testing.T) {
	ds := syntheticDataset(t, 20)
	factor, err := ResolveFactor("waves", map[string]string{"waves": "swh"})
	require.NoError(t, err)

	res, err := Run(context.Background(), Request{Config: baseConfig(t, factor), Dataset: ds})
	require.NoError(t, err)
	require.Equal(t, model.RunStatusCompleted, res.Run.Status)
	require.Nil(t, res.Forecast)
	require.Empty(t, res.Run.ForecastDates)
	require.NotNil(t, res.Train.Model.Regressor)

	_, err = Run(context.Background(), Request{Config: baseConfig(t, factor), Dataset: ds, End: time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)})
	require.Error(t, err)
}

func TestThresholdGateAborts(t *testing.T) {
	ds := syntheticDataset(t, 20)
	factor, err := ResolveFactor("waves", map[string]string{"waves": "swh"})
	require.NoError(t, err)
	cfg := baseConfig(t, factor)
	threshold := 0.5
	cfg.Threshold = &threshold

	start := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	res, err := Run(context.Background(), Request{Config: cfg, Dataset: ds, Start: start, End: start})
	require.ErrorIs(t, err, ErrAccuracyThresholdNotMet)
	require.Nil(t, res.Forecast)
	require.Nil(t, res.Train.Model)
	require.Equal(t, model.RunStatusRejected, res.Run.Status)
	require.NotNil(t, res.Train.Holdout)

	lenient := -1e6
	cfg.Threshold = &lenient
	res, err = Run(context.Background(), Request{Config: cfg, Dataset: ds, Start: start, End: start})
	require.NoError(t, err)
	require.NotNil(t, res.Forecast)
}

func TestTrainWithoutSamples(t *testing.T) {
	ds := syntheticDataset(t, 4)
	factor, err := ResolveFactor("waves", map[string]string{"waves": "swh"})
	require.NoError(t, err)
	frames, err := factor.Frames(ds)
	require.NoError(t, err)
	_, err = Train(context.Background(), baseConfig(t, factor), frames, ds.Times(), ds.Lats(), ds.Lons())
	require.True(t, errors.Is(err, ErrNoSamples))
}

func TestRunRejectsMissingVariable(t *testing.T) {
	ds := syntheticDataset(t, 10)
	factor, err := ResolveFactor("rain", nil)
	require.NoError(t, err)
	start := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	_, err = Run(context.Background(), Request{Config: baseConfig(t, factor), Dataset: ds, Start: start, End: start})
	require.ErrorIs(t, err, grid.ErrUnknownVariable)
}
