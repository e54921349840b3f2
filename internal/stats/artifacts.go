package stats

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"marecast/internal/evo"
	"marecast/internal/model"
)

const (
	runIndexFile     = "run_index.json"
	forecastFile     = "forecast.json"
	scoreSeriesFile  = "score_series.csv"
	scorePlotFile    = "score_plot.png"
	runRecordFile    = "run.json"
	runConfigFile    = "config.json"
	topGenomesFile   = "top_genomes.json"
	defaultTopGenome = 5
)

// RunConfig is the resolved configuration a factor run was started with.
type RunConfig struct {
	RunID         string               `json:"run_id"`
	Factor        string               `json:"factor"`
	Class         string               `json:"class"`
	Variables     []string             `json:"variables"`
	Dataset       string               `json:"dataset,omitempty"`
	ModelKind     string               `json:"model_kind"`
	MaxLag        int                  `json:"max_lag"`
	SampleRows    int                  `json:"sample_rows"`
	Population    int                  `json:"population"`
	Generations   int                  `json:"generations"`
	CrossoverRate float64              `json:"crossover_rate"`
	MutationRate  float64              `json:"mutation_rate"`
	WSpeed        float64              `json:"w_speed"`
	WAngle        float64              `json:"w_angle"`
	Workers       int                  `json:"workers"`
	Seed          int64                `json:"seed"`
	Threshold     *float64             `json:"min_accuracy_threshold,omitempty"`
	Hyperparams   map[string][]float64 `json:"hyperparams,omitempty"`
	ForecastStart string               `json:"forecast_start,omitempty"`
	ForecastEnd   string               `json:"forecast_end,omitempty"`
}

type TopGenome struct {
	Rank      int                `json:"rank"`
	Score     float64            `json:"score"`
	Breakdown map[string]float64 `json:"breakdown,omitempty"`
	Genome    model.Genome       `json:"genome"`
}

// RunArtifacts is everything written to a run's artifact directory.
type RunArtifacts struct {
	Config     RunConfig
	Run        model.RunRecord
	TopGenomes []TopGenome
	Lineage    []model.LineageRecord
	Forecast   *model.ForecastRecord
}

type RunIndexEntry struct {
	RunID        string  `json:"run_id"`
	Factor       string  `json:"factor"`
	Class        string  `json:"class"`
	Status       string  `json:"status"`
	ModelKind    string  `json:"model_kind"`
	Seed         int64   `json:"seed"`
	Population   int     `json:"population"`
	Generations  int     `json:"generations"`
	BestScore    float64 `json:"best_score"`
	CreatedAtUTC string  `json:"created_at_utc"`
}

// NewRunIndexEntry summarizes a run record for the run index.
func NewRunIndexEntry(cfg RunConfig, run model.RunRecord) RunIndexEntry {
	return RunIndexEntry{
		RunID:        run.RunID,
		Factor:       run.Factor,
		Class:        run.Class,
		Status:       run.Status,
		ModelKind:    run.ModelKind,
		Seed:         run.Seed,
		Population:   cfg.Population,
		Generations:  cfg.Generations,
		BestScore:    run.BestScore,
		CreatedAtUTC: run.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

// RankTopGenomes orders a final population by fitness and keeps the best
// limit entries. A non-positive limit keeps five.
func RankTopGenomes(population []evo.ScoredGenome, limit int) []TopGenome {
	if limit <= 0 {
		limit = defaultTopGenome
	}
	ranked := append([]evo.ScoredGenome(nil), population...)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Fitness() > ranked[j].Fitness()
	})
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	out := make([]TopGenome, 0, len(ranked))
	for i, item := range ranked {
		top := TopGenome{Rank: i + 1, Score: item.Fitness(), Genome: item.Genome}
		if item.Score != nil {
			top.Breakdown = item.Score.Breakdown()
		}
		out = append(out, top)
	}
	return out
}

func WriteRunArtifacts(baseDir string, artifacts RunArtifacts) (string, error) {
	runID := artifacts.Run.RunID
	if runID == "" {
		return "", fmt.Errorf("run id is required")
	}
	runDir := filepath.Join(baseDir, runID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", err
	}

	cfg := artifacts.Config
	if cfg.RunID == "" {
		cfg.RunID = runID
	}
	files := []struct {
		name  string
		value any
	}{
		{runConfigFile, cfg},
		{runRecordFile, artifacts.Run},
		{"fitness_history.json", artifacts.Run.BestByGeneration},
		{"generation_diagnostics.json", artifacts.Run.Diagnostics},
		{topGenomesFile, artifacts.TopGenomes},
		{"lineage.json", artifacts.Lineage},
	}
	for _, file := range files {
		if err := writeJSON(filepath.Join(runDir, file.name), file.value); err != nil {
			return "", err
		}
	}
	if err := WriteScoreSeries(runDir, artifacts.Run.Diagnostics); err != nil {
		return "", err
	}
	if artifacts.Forecast != nil {
		if err := writeJSON(filepath.Join(runDir, forecastFile), artifacts.Forecast); err != nil {
			return "", err
		}
	}
	return runDir, nil
}

func AppendRunIndex(baseDir string, entry RunIndexEntry) error {
	if entry.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return err
	}

	index, err := readRunIndex(baseDir)
	if err != nil {
		return err
	}
	for i := range index {
		if index[i].RunID == entry.RunID {
			index[i] = entry
			return writeJSON(filepath.Join(baseDir, runIndexFile), index)
		}
	}
	index = append(index, entry)
	return writeJSON(filepath.Join(baseDir, runIndexFile), index)
}

// ListRunIndex returns indexed runs newest first; equal timestamps list the
// later appended entry first.
func ListRunIndex(baseDir string) ([]RunIndexEntry, error) {
	entries, err := readRunIndex(baseDir)
	if err != nil {
		return nil, err
	}
	type indexedEntry struct {
		entry RunIndexEntry
		idx   int
	}
	indexed := make([]indexedEntry, len(entries))
	for i := range entries {
		indexed[i] = indexedEntry{entry: entries[i], idx: i}
	}
	sort.Slice(indexed, func(i, j int) bool {
		if indexed[i].entry.CreatedAtUTC == indexed[j].entry.CreatedAtUTC {
			return indexed[i].idx > indexed[j].idx
		}
		return indexed[i].entry.CreatedAtUTC > indexed[j].entry.CreatedAtUTC
	})
	sorted := make([]RunIndexEntry, 0, len(indexed))
	for _, item := range indexed {
		sorted = append(sorted, item.entry)
	}
	return sorted, nil
}

func readRunIndex(baseDir string) ([]RunIndexEntry, error) {
	data, err := os.ReadFile(filepath.Join(baseDir, runIndexFile))
	if err != nil {
		if os.IsNotExist(err) {
			return []RunIndexEntry{}, nil
		}
		return nil, err
	}
	var entries []RunIndexEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("decode run index: %w", err)
	}
	return entries, nil
}

// ExportRunArtifacts copies a run's artifact directory to outDir/<runID>.
// Forecast, score series and plot files are copied only when present.
func ExportRunArtifacts(baseDir, runID, outDir string) (string, error) {
	if runID == "" {
		return "", fmt.Errorf("run id is required")
	}
	src := filepath.Join(baseDir, runID)
	if _, err := os.Stat(src); err != nil {
		return "", err
	}
	dst := filepath.Join(outDir, runID)
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return "", err
	}

	required := []string{runConfigFile, runRecordFile, "fitness_history.json", "generation_diagnostics.json", topGenomesFile, "lineage.json"}
	for _, file := range required {
		if err := copyFile(filepath.Join(src, file), filepath.Join(dst, file)); err != nil {
			return "", err
		}
	}
	for _, file := range []string{forecastFile, scoreSeriesFile, scorePlotFile} {
		path := filepath.Join(src, file)
		if _, err := os.Stat(path); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return "", err
		}
		if err := copyFile(path, filepath.Join(dst, file)); err != nil {
			return "", err
		}
	}
	return dst, nil
}

func ReadRunConfig(baseDir, runID string) (RunConfig, bool, error) {
	var cfg RunConfig
	ok, err := readJSON(filepath.Join(baseDir, runID, runConfigFile), &cfg)
	return cfg, ok, err
}

func ReadRunRecord(baseDir, runID string) (model.RunRecord, bool, error) {
	var run model.RunRecord
	ok, err := readJSON(filepath.Join(baseDir, runID, runRecordFile), &run)
	return run, ok, err
}

func ReadTopGenomes(baseDir, runID string) ([]TopGenome, bool, error) {
	var top []TopGenome
	ok, err := readJSON(filepath.Join(baseDir, runID, topGenomesFile), &top)
	return top, ok, err
}

func ReadForecast(baseDir, runID string) (*model.ForecastRecord, bool, error) {
	var record model.ForecastRecord
	ok, err := readJSON(filepath.Join(baseDir, runID, forecastFile), &record)
	if !ok || err != nil {
		return nil, ok, err
	}
	return &record, true, nil
}

// WriteScoreSeries writes per-generation best, mean and minimum scores as CSV.
func WriteScoreSeries(runDir string, diagnostics []model.GenerationDiagnostics) error {
	file, err := os.Create(filepath.Join(runDir, scoreSeriesFile))
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write([]string{"generation", "best_score", "mean_score", "min_score"}); err != nil {
		return err
	}
	for _, d := range diagnostics {
		if err := writer.Write([]string{
			strconv.Itoa(d.Generation),
			formatScore(d.BestScore),
			formatScore(d.MeanScore),
			formatScore(d.MinScore),
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// ReadScoreSeries reads back the per-generation rows of a score series.
func ReadScoreSeries(baseDir, runID string) ([]model.GenerationDiagnostics, bool, error) {
	file, err := os.Open(filepath.Join(baseDir, runID, scoreSeriesFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	header, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return []model.GenerationDiagnostics{}, true, nil
		}
		return nil, false, err
	}
	if len(header) < 4 {
		return nil, false, fmt.Errorf("score series header must have 4 columns")
	}

	series := make([]model.GenerationDiagnostics, 0, 32)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, false, err
		}
		gen, err := strconv.Atoi(record[0])
		if err != nil {
			return nil, false, err
		}
		values := make([]float64, 3)
		for i := range values {
			if values[i], err = strconv.ParseFloat(record[i+1], 64); err != nil {
				return nil, false, err
			}
		}
		series = append(series, model.GenerationDiagnostics{
			Generation: gen,
			BestScore:  values[0],
			MeanScore:  values[1],
			MinScore:   values[2],
		})
	}
	return series, true, nil
}

func formatScore(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func readJSON(path string, value any) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(data, value); err != nil {
		return false, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return true, nil
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o644)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
