package marecast

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"marecast/internal/evo"
	"marecast/internal/fitness"
	"marecast/internal/grid"
	"marecast/internal/metrics"
	"marecast/internal/model"
	"marecast/internal/online"
	"marecast/internal/pipeline"
	"marecast/internal/stats"
	"marecast/internal/storage"
)

const (
	defaultArtifactsDir = "runs"
	defaultExportsDir   = "exports"
	defaultRunsLimit    = 20
	topGenomesKept      = 5
)

type Options struct {
	StoreKind    string
	DBPath       string
	ArtifactsDir string
	ExportsDir   string
	Online       online.Config
	Metrics      *metrics.Recorder
	Logger       *slog.Logger
}

// Client runs factor pipelines and online predictions and manages their
// persisted records and artifacts.
type Client struct {
	store     storage.Store
	predictor *online.Predictor
	metrics   *metrics.Recorder
	logger    *slog.Logger

	artifactsDir string
	exportsDir   string

	mu          sync.Mutex
	initialized bool
}

type RunRequest struct {
	pipeline.Request
	// DatasetName is recorded in the run config only.
	DatasetName string
	// Plot also renders the score plot into the run's artifact directory.
	Plot bool
}

type RunSummary struct {
	RunID            string
	Factor           string
	Status           string
	ArtifactsDir     string
	BestScore        float64
	BestByGeneration []float64
	Holdout          map[string]float64
	ForecastDates    []string
	Scores           stats.ScoreSummary
	Elapsed          time.Duration
}

type RunsRequest struct {
	Limit int
}

type ExportRequest struct {
	RunID  string
	Latest bool
	OutDir string
}

type ExportSummary struct {
	RunID     string
	Directory string
}

type LineageRequest struct {
	RunID  string
	Latest bool
	Limit  int
}

type PlotRequest struct {
	RunID  string
	Latest bool
	// Out overrides the default score_plot.png in the run directory.
	Out string
}

func New(opts Options) (*Client, error) {
	storeKind := opts.StoreKind
	if storeKind == "" {
		storeKind = storage.DefaultStoreKind()
	}
	artifactsDir := opts.ArtifactsDir
	if artifactsDir == "" {
		artifactsDir = defaultArtifactsDir
	}
	exportsDir := opts.ExportsDir
	if exportsDir == "" {
		exportsDir = defaultExportsDir
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	store, err := storage.NewStore(storeKind, opts.DBPath)
	if err != nil {
		return nil, err
	}
	onlineCfg := opts.Online
	if onlineCfg.Logger == nil {
		onlineCfg.Logger = logger
	}
	predictor, err := online.NewPredictor(onlineCfg)
	if err != nil {
		_ = storage.CloseIfSupported(store)
		return nil, fmt.Errorf("online predictor: %w", err)
	}

	return &Client{
		store:        store,
		predictor:    predictor,
		metrics:      opts.Metrics,
		logger:       logger,
		artifactsDir: artifactsDir,
		exportsDir:   exportsDir,
	}, nil
}

func (c *Client) Close() error {
	return storage.CloseIfSupported(c.store)
}

func (c *Client) Init(ctx context.Context) error {
	return c.ensureStore(ctx)
}

// Run executes one factor pipeline. Completed runs are persisted and written
// as artifacts; a run rejected by the accuracy gate is reported with an error
// wrapping pipeline.ErrAccuracyThresholdNotMet and nothing is persisted.
func (c *Client) Run(ctx context.Context, req RunRequest) (RunSummary, error) {
	if err := c.ensureStore(ctx); err != nil {
		return RunSummary{}, err
	}
	if req.RunID == "" {
		req.RunID = uuid.NewString()
	}
	if req.Config.Logger == nil {
		req.Config.Logger = c.logger
	}
	cfg := req.Config.WithDefaults()
	factor := cfg.Factor.Name
	observer := cfg.Observer
	cfg.Observer = func(generation int, ranked []evo.ScoredGenome) {
		if c.metrics != nil {
			c.metrics.ObserveGeneration(factor, countFailed(ranked))
		}
		if observer != nil {
			observer(generation, ranked)
		}
	}
	req.Config = cfg

	started := time.Now()
	res, err := pipeline.Run(ctx, req.Request)
	elapsed := time.Since(started)
	if errors.Is(err, pipeline.ErrAccuracyThresholdNotMet) {
		c.observeRun(res.Run, elapsed)
		c.logger.Warn("run rejected by accuracy gate", "run_id", res.Run.RunID, "factor", factor, "best_score", res.Run.BestScore)
		return summarize(res.Run, "", elapsed), err
	}
	if err != nil {
		if c.metrics != nil {
			c.metrics.ObserveRunError(factor, elapsed)
		}
		return RunSummary{}, err
	}

	run := res.Run
	if err := c.store.SaveRun(ctx, run); err != nil {
		return RunSummary{}, fmt.Errorf("save run: %w", err)
	}
	if res.Forecast != nil {
		if err := c.store.SaveForecast(ctx, *res.Forecast); err != nil {
			return RunSummary{}, fmt.Errorf("save forecast: %w", err)
		}
	}
	lineage := res.Train.Search.Lineage
	if err := c.store.SaveLineage(ctx, run.RunID, lineage); err != nil {
		return RunSummary{}, fmt.Errorf("save lineage: %w", err)
	}

	runCfg := runConfig(req, cfg)
	runDir, err := stats.WriteRunArtifacts(c.artifactsDir, stats.RunArtifacts{
		Config:     runCfg,
		Run:        run,
		TopGenomes: stats.RankTopGenomes(res.Train.Search.FinalPopulation, topGenomesKept),
		Lineage:    lineage,
		Forecast:   res.Forecast,
	})
	if err != nil {
		return RunSummary{}, err
	}
	if err := stats.AppendRunIndex(c.artifactsDir, stats.NewRunIndexEntry(runCfg, run)); err != nil {
		return RunSummary{}, err
	}
	if req.Plot {
		if _, err := stats.WriteRunPlot(c.artifactsDir, run); err != nil {
			return RunSummary{}, fmt.Errorf("plot: %w", err)
		}
	}
	c.observeRun(run, elapsed)
	c.logger.Info("run complete",
		"run_id", run.RunID,
		"factor", factor,
		"samples", humanize.Comma(int64(run.Samples)),
		"best_score", run.BestScore,
		"forecast_steps", len(run.ForecastDates),
		"elapsed", elapsed.Round(time.Millisecond),
	)
	return summarize(run, runDir, elapsed), nil
}

// Predict runs the online predictor and stores the record under a new ID.
func (c *Client) Predict(ctx context.Context, req online.Request) (model.Prediction, error) {
	if err := c.ensureStore(ctx); err != nil {
		return model.Prediction{}, err
	}
	started := time.Now()
	record, err := c.predictor.Predict(ctx, req)
	if c.metrics != nil {
		c.metrics.ObservePrediction(err, time.Since(started))
	}
	if err != nil {
		return model.Prediction{}, err
	}
	record.ID = uuid.NewString()
	if err := c.store.SavePrediction(ctx, record); err != nil {
		return model.Prediction{}, fmt.Errorf("save prediction: %w", err)
	}
	return record, nil
}

func (c *Client) Prediction(ctx context.Context, id string) (model.Prediction, bool, error) {
	if err := c.ensureStore(ctx); err != nil {
		return model.Prediction{}, false, err
	}
	return c.store.GetPrediction(ctx, id)
}

// ListRuns returns stored run records, oldest first.
func (c *Client) ListRuns(ctx context.Context) ([]model.RunRecord, error) {
	if err := c.ensureStore(ctx); err != nil {
		return nil, err
	}
	return c.store.ListRuns(ctx)
}

func (c *Client) GetForecast(ctx context.Context, runID string) (model.ForecastRecord, bool, error) {
	if err := c.ensureStore(ctx); err != nil {
		return model.ForecastRecord{}, false, err
	}
	return c.store.GetForecast(ctx, runID)
}

// Runs lists the artifact run index, newest first.
func (c *Client) Runs(_ context.Context, req RunsRequest) ([]stats.RunIndexEntry, error) {
	if req.Limit <= 0 {
		req.Limit = defaultRunsLimit
	}
	entries, err := stats.ListRunIndex(c.artifactsDir)
	if err != nil {
		return nil, err
	}
	if len(entries) > req.Limit {
		entries = entries[:req.Limit]
	}
	return entries, nil
}

func (c *Client) Export(_ context.Context, req ExportRequest) (ExportSummary, error) {
	runID, err := c.resolveRunID(req.RunID, req.Latest, "export")
	if err != nil {
		return ExportSummary{}, err
	}
	if req.OutDir == "" {
		req.OutDir = c.exportsDir
	}
	exportedDir, err := stats.ExportRunArtifacts(c.artifactsDir, runID, req.OutDir)
	if err != nil {
		return ExportSummary{}, err
	}
	return ExportSummary{RunID: runID, Directory: filepath.Clean(exportedDir)}, nil
}

func (c *Client) Lineage(ctx context.Context, req LineageRequest) ([]model.LineageRecord, error) {
	if req.Limit < 0 {
		return nil, errors.New("limit must be >= 0")
	}
	runID, err := c.resolveRunID(req.RunID, req.Latest, "lineage")
	if err != nil {
		return nil, err
	}
	if err := c.ensureStore(ctx); err != nil {
		return nil, err
	}
	lineage, ok, err := c.store.GetLineage(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("lineage not found for run id: %s", runID)
	}
	if req.Limit > 0 && len(lineage) > req.Limit {
		lineage = lineage[:req.Limit]
	}
	return lineage, nil
}

// Plot renders a stored run's score history and returns the image path.
func (c *Client) Plot(ctx context.Context, req PlotRequest) (string, error) {
	runID, err := c.resolveRunID(req.RunID, req.Latest, "plot")
	if err != nil {
		return "", err
	}
	if err := c.ensureStore(ctx); err != nil {
		return "", err
	}
	run, ok, err := c.store.GetRun(ctx, runID)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("run not found: %s", runID)
	}
	if req.Out == "" {
		return stats.WriteRunPlot(c.artifactsDir, run)
	}
	title := fmt.Sprintf("%s (%s) score by generation", run.Factor, run.RunID)
	if err := stats.WriteScorePlot(req.Out, title, run.Diagnostics); err != nil {
		return "", err
	}
	return req.Out, nil
}

func (c *Client) resolveRunID(runID string, latest bool, action string) (string, error) {
	if runID != "" && latest {
		return "", errors.New("use either run id or latest")
	}
	if runID != "" {
		return runID, nil
	}
	if !latest {
		return "", fmt.Errorf("%s requires run id or latest", action)
	}
	entries, err := stats.ListRunIndex(c.artifactsDir)
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "", errors.New("no runs available")
	}
	return entries[0].RunID, nil
}

func (c *Client) ensureStore(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.initialized {
		return nil
	}
	if err := c.store.Init(ctx); err != nil {
		return err
	}
	c.initialized = true
	return nil
}

func (c *Client) observeRun(run model.RunRecord, elapsed time.Duration) {
	if c.metrics != nil {
		c.metrics.ObserveRun(run, elapsed)
	}
}

func runConfig(req RunRequest, cfg pipeline.Config) stats.RunConfig {
	out := stats.RunConfig{
		RunID:         req.RunID,
		Factor:        cfg.Factor.Name,
		Class:         cfg.Factor.Class.String(),
		Variables:     append([]string(nil), cfg.Factor.Variables...),
		Dataset:       req.DatasetName,
		ModelKind:     cfg.ModelKind,
		MaxLag:        cfg.MaxLag,
		SampleRows:    cfg.SampleRows,
		Population:    cfg.Population,
		Generations:   cfg.Generations,
		CrossoverRate: cfg.CrossoverRate,
		MutationRate:  cfg.MutationRate,
		WSpeed:        cfg.WSpeed,
		WAngle:        cfg.WAngle,
		Workers:       cfg.Workers,
		Seed:          cfg.Seed,
		Threshold:     cfg.Threshold,
		Hyperparams:   cfg.Grid.Choices(),
	}
	if !req.Start.IsZero() {
		out.ForecastStart = grid.DateKey(req.Start)
		out.ForecastEnd = grid.DateKey(req.End)
	}
	return out
}

func summarize(run model.RunRecord, runDir string, elapsed time.Duration) RunSummary {
	summary := RunSummary{
		RunID:            run.RunID,
		Factor:           run.Factor,
		Status:           run.Status,
		BestScore:        run.BestScore,
		BestByGeneration: append([]float64(nil), run.BestByGeneration...),
		Holdout:          run.Holdout,
		ForecastDates:    run.ForecastDates,
		Scores:           stats.Summarize(run),
		Elapsed:          elapsed,
	}
	if runDir != "" {
		summary.ArtifactsDir = filepath.Clean(runDir)
	}
	return summary
}

func countFailed(ranked []evo.ScoredGenome) int {
	n := 0
	for _, item := range ranked {
		if _, ok := item.Score.(fitness.FailedScore); ok {
			n++
		}
	}
	return n
}
