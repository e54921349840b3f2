package stats

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"marecast/internal/evo"
	"marecast/internal/fitness"
	"marecast/internal/grid"
	"marecast/internal/model"
)

func sampleRun(id string, created time.Time) model.RunRecord {
	return model.RunRecord{
		RunID:            id,
		Factor:           "waves",
		Class:            "scalar",
		Status:           model.RunStatusCompleted,
		Seed:             42,
		ModelKind:        "gbt",
		BestScore:        -0.25,
		BestByGeneration: []float64{-0.5, -0.3, -0.25},
		Diagnostics: []model.GenerationDiagnostics{
			{Generation: 1, BestScore: -0.5, MeanScore: -0.9, MinScore: -1.4},
			{Generation: 2, BestScore: -0.3, MeanScore: -0.6, MinScore: -1},
			{Generation: 3, BestScore: -0.25, MeanScore: -0.4, MinScore: -0.7},
		},
		CreatedAt: created,
	}
}

func sampleForecast(id string) *model.ForecastRecord {
	g := grid.Filled(1, 2, 1.5)
	g.Values[1] = math.NaN()
	return &model.ForecastRecord{
		RunID:     id,
		Factor:    "waves",
		Variables: []string{"waves_forecast"},
		Lats:      []float64{10},
		Lons:      []float64{20, 21},
		Steps:     []model.ForecastStep{{Date: "2024-07-01", Grids: map[string]grid.Grid{"waves_forecast": g}}},
	}
}

func TestWriteAndExportRunArtifacts(t *testing.T) {
	base := t.TempDir()
	run := sampleRun("run-1", time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC))
	cfg := RunConfig{Factor: "waves", Population: 25, Generations: 3, Seed: 42}

	runDir, err := WriteRunArtifacts(base, RunArtifacts{
		Config:   cfg,
		Run:      run,
		Lineage:  []model.LineageRecord{{GenomeID: "g-1", Operation: "seed"}},
		Forecast: sampleForecast("run-1"),
	})
	require.NoError(t, err)
	require.Equal(t, filepath.Join(base, "run-1"), runDir)

	gotCfg, ok, err := ReadRunConfig(base, "run-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "run-1", gotCfg.RunID)
	require.Equal(t, 25, gotCfg.Population)

	gotRun, ok, err := ReadRunRecord(base, "run-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, run.BestByGeneration, gotRun.BestByGeneration)

	forecast, ok, err := ReadForecast(base, "run-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, math.IsNaN(forecast.Steps[0].Grids["waves_forecast"].Values[1]))

	series, ok, err := ReadScoreSeries(base, "run-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, series, 3)
	require.Equal(t, -0.4, series[2].MeanScore)

	_, err = WriteRunPlot(base, run)
	require.NoError(t, err)

	out := t.TempDir()
	exported, err := ExportRunArtifacts(base, "run-1", out)
	require.NoError(t, err)
	for _, name := range []string{"config.json", "run.json", "lineage.json", "forecast.json", "score_series.csv", "score_plot.png"} {
		_, err := os.Stat(filepath.Join(exported, name))
		require.NoError(t, err, name)
	}
}

func TestExportSkipsMissingForecast(t *testing.T) {
	base := t.TempDir()
	run := sampleRun("run-2", time.Now())
	run.Status = model.RunStatusRejected
	_, err := WriteRunArtifacts(base, RunArtifacts{Run: run})
	require.NoError(t, err)

	_, ok, err := ReadForecast(base, "run-2")
	require.NoError(t, err)
	require.False(t, ok)

	exported, err := ExportRunArtifacts(base, "run-2", t.TempDir())
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(exported, "forecast.json"))
	require.True(t, os.IsNotExist(err))

	_, err = ExportRunArtifacts(base, "missing", t.TempDir())
	require.Error(t, err)
}

func TestRunIndexOrdering(t *testing.T) {
	base := t.TempDir()
	entries, err := ListRunIndex(base)
	require.NoError(t, err)
	require.Empty(t, entries)

	older := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := older.Add(time.Hour)
	require.NoError(t, AppendRunIndex(base, NewRunIndexEntry(RunConfig{}, sampleRun("a", older))))
	require.NoError(t, AppendRunIndex(base, NewRunIndexEntry(RunConfig{}, sampleRun("b", newer))))
	require.NoError(t, AppendRunIndex(base, NewRunIndexEntry(RunConfig{}, sampleRun("c", older))))

	replaced := sampleRun("a", older)
	replaced.BestScore = -0.1
	require.NoError(t, AppendRunIndex(base, NewRunIndexEntry(RunConfig{Population: 9}, replaced)))

	entries, err = ListRunIndex(base)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	require.Equal(t, []string{"b", "c", "a"}, []string{entries[0].RunID, entries[1].RunID, entries[2].RunID})
	require.Equal(t, -0.1, entries[2].BestScore)
	require.Equal(t, 9, entries[2].Population)

	require.Error(t, AppendRunIndex(base, RunIndexEntry{}))
}

func TestRankTopGenomes(t *testing.T) {
	population := []evo.ScoredGenome{
		{Genome: model.Genome{ID: "low"}, Score: fitness.ScalarScore{Score: -3, MAE: 3}},
		{Genome: model.Genome{ID: "failed"}, Score: fitness.FailedScore{}},
		{Genome: model.Genome{ID: "high"}, Score: fitness.ScalarScore{Score: -1, MAE: 1}},
		{Genome: model.Genome{ID: "mid"}, Score: fitness.ScalarScore{Score: -2, MAE: 2}},
	}
	top := RankTopGenomes(population, 2)
	require.Len(t, top, 2)
	require.Equal(t, "high", top[0].Genome.ID)
	require.Equal(t, 1, top[0].Rank)
	require.Equal(t, 1.0, top[0].Breakdown["mae"])
	require.Equal(t, "mid", top[1].Genome.ID)

	require.Len(t, RankTopGenomes(population, 0), 4)
}

func TestSummarize(t *testing.T) {
	s := Summarize(sampleRun("r", time.Now()))
	require.Equal(t, 3, s.Generations)
	require.Equal(t, -0.5, s.InitialBest)
	require.Equal(t, -0.25, s.FinalBest)
	require.InDelta(t, 0.25, s.Improvement, 1e-12)
	require.Equal(t, 3, s.PeakGeneration)
	require.InDelta(t, -0.35, s.MeanBest, 1e-12)
	require.Greater(t, s.StdBest, 0.0)

	require.Equal(t, ScoreSummary{}, Summarize(model.RunRecord{}))
}

func TestScorePlotRequiresGenerations(t *testing.T) {
	require.Error(t, WriteScorePlot(filepath.Join(t.TempDir(), "p.png"), "empty", nil))
}
