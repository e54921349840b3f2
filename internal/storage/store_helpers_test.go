package storage

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"marecast/internal/grid"
	"marecast/internal/model"
)

func versioned() model.VersionedRecord {
	return model.VersionedRecord{SchemaVersion: CurrentSchemaVersion, CodecVersion: CurrentCodecVersion}
}

func sampleRun(id string, created time.Time) model.RunRecord {
	return model.RunRecord{
		VersionedRecord:  versioned(),
		RunID:            id,
		Factor:           "waves",
		Class:            "scalar",
		Status:           model.RunStatusCompleted,
		Mask:             []bool{true, false, true},
		Features:         []string{"lag_1", "roll_mean_3"},
		Hyperparams:      map[string]float64{"max_depth": 4},
		BestScore:        -0.25,
		BestByGeneration: []float64{-0.4, -0.25},
		CreatedAt:        created,
	}
}

func sampleForecast(runID string) model.ForecastRecord {
	g := grid.Filled(1, 2, 1.5)
	g.Values[1] = math.NaN()
	return model.ForecastRecord{
		VersionedRecord: versioned(),
		RunID:           runID,
		Factor:          "waves",
		Variables:       []string{"waves_forecast"},
		Lats:            []float64{10},
		Lons:            []float64{20, 21},
		Steps:           []model.ForecastStep{{Date: "2025-01-01", Grids: map[string]grid.Grid{"waves_forecast": g}}},
	}
}

// exerciseStore runs the shared round-trip checks against an initialized
// store.
func exerciseStore(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, store.SaveRun(ctx, sampleRun("b", base.Add(time.Hour))))
	require.NoError(t, store.SaveRun(ctx, sampleRun("a", base)))
	run, ok, err := store.GetRun(ctx, "b")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []bool{true, false, true}, run.Mask)
	require.Equal(t, -0.25, run.BestScore)

	runs, err := store.ListRuns(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	require.Equal(t, "a", runs[0].RunID)

	updated := sampleRun("a", base)
	updated.Status = model.RunStatusRejected
	require.NoError(t, store.SaveRun(ctx, updated))
	run, _, err = store.GetRun(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, model.RunStatusRejected, run.Status)

	_, ok, err = store.GetRun(ctx, "missing")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, store.SaveForecast(ctx, sampleForecast("a")))
	forecast, ok, err := store.GetForecast(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)
	g := forecast.Steps[0].Grids["waves_forecast"]
	require.Equal(t, 1.5, g.Values[0])
	require.True(t, math.IsNaN(g.Values[1]))

	lineage := []model.LineageRecord{{VersionedRecord: versioned(), GenomeID: "g1-i0", ParentID: "g0-i3", Generation: 1, Operation: "single_point_crossover+bit_flip"}}
	require.NoError(t, store.SaveLineage(ctx, "a", lineage))
	gotLineage, ok, err := store.GetLineage(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, lineage, gotLineage)

	prediction := model.Prediction{
		ID:                    "p1",
		Metadata:              model.PredictionMetadata{Model: "m", StartDate: "2025-01-01"},
		ForecastHorizonHours:  18,
		OptimizedCoefficients: map[string][]float64{"ice_conc_coeffs": {0, 0}},
		ForecastData:          []model.ForecastPoint{{Timestamp: "t", Lat: 1, Lon: 2, Values: map[string]float64{"ice_conc": 0.5}}},
	}
	require.NoError(t, store.SavePrediction(ctx, prediction))
	gotPrediction, ok, err := store.GetPrediction(ctx, "p1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 0.5, gotPrediction.ForecastData[0].Values["ice_conc"])
	require.Error(t, store.SavePrediction(ctx, model.Prediction{}))
}
