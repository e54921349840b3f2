package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"

	"marecast/internal/config"
	"marecast/internal/grid"
	"marecast/internal/logging"
	"marecast/internal/metrics"
	"marecast/internal/online"
	"marecast/internal/pipeline"
	"marecast/internal/server"
	"marecast/pkg/marecast"
)

const exportsDir = "exports"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usageError("missing command")
	}

	switch args[0] {
	case "init":
		return runInit(ctx, args[1:])
	case "run":
		return runRun(ctx, args[1:])
	case "predict":
		return runPredict(ctx, args[1:])
	case "serve":
		return runServe(ctx, args[1:])
	case "runs":
		return runRuns(ctx, args[1:])
	case "lineage":
		return runLineage(ctx, args[1:])
	case "export":
		return runExport(ctx, args[1:])
	case "plot":
		return runPlot(ctx, args[1:])
	default:
		return usageError(fmt.Sprintf("unknown command: %s", args[0]))
	}
}

// env is the configuration, logger and client shared by every command.
type env struct {
	cfg    config.FactorConfig
	logger *slog.Logger
	client *marecast.Client
	sync   func() error
}

func (e *env) Close() {
	_ = e.client.Close()
	_ = e.sync()
}

type commonFlags struct {
	configPath string
	storeKind  string
	dbPath     string
	outputDir  string
	logLevel   string
}

func registerCommon(fs *flag.FlagSet) *commonFlags {
	c := &commonFlags{}
	fs.StringVar(&c.configPath, "config", "", "JSON or YAML config file")
	fs.StringVar(&c.storeKind, "store", "", "store backend: memory|sqlite (overrides config)")
	fs.StringVar(&c.dbPath, "db-path", "", "sqlite database path (overrides config)")
	fs.StringVar(&c.outputDir, "output-dir", "", "run artifacts directory (overrides config)")
	fs.StringVar(&c.logLevel, "log-level", "", "debug|info|warn|error (overrides config)")
	return c
}

func (c *commonFlags) load() (config.FactorConfig, error) {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return config.FactorConfig{}, err
	}
	if c.storeKind != "" {
		cfg.Store.Kind = c.storeKind
	}
	if c.dbPath != "" {
		cfg.Store.Path = c.dbPath
	}
	if c.outputDir != "" {
		cfg.OutputDir = c.outputDir
	}
	if c.logLevel != "" {
		cfg.Log.Level = c.logLevel
	}
	return cfg, nil
}

func (c *commonFlags) open(cfg config.FactorConfig, rec *metrics.Recorder) (*env, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger, sync, err := logging.New(cfg.Log.Level, cfg.Log.Production)
	if err != nil {
		return nil, err
	}
	client, err := marecast.New(marecast.Options{
		StoreKind:    cfg.Store.Kind,
		DBPath:       cfg.Store.Path,
		ArtifactsDir: cfg.OutputDir,
		ExportsDir:   exportsDir,
		Online:       cfg.Predictor(logger),
		Metrics:      rec,
		Logger:       logger,
	})
	if err != nil {
		_ = sync()
		return nil, err
	}
	return &env{cfg: cfg, logger: logger, client: client, sync: sync}, nil
}

func runInit(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	common := registerCommon(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := common.load()
	if err != nil {
		return err
	}
	e, err := common.open(cfg, nil)
	if err != nil {
		return err
	}
	defer e.Close()
	if err := e.client.Init(ctx); err != nil {
		return err
	}
	fmt.Printf("initialized store=%s\n", cfg.Store.Kind)
	return nil
}

func runRun(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	common := registerCommon(fs)
	factor := fs.String("factor", "", factorUsage())
	datasetPath := fs.String("dataset", "", "JSON dataset path (overrides config)")
	start := fs.String("start", "", "first forecast date YYYY-MM-DD (empty trains without forecasting)")
	end := fs.String("end", "", "last forecast date YYYY-MM-DD")
	population := fs.Int("pop", 0, "GA population size")
	generations := fs.Int("gens", 0, "GA generations")
	seed := fs.Int64("seed", 0, "random seed")
	workers := fs.Int("workers", 0, "parallel fitness workers")
	runID := fs.String("run-id", "", "explicit run id")
	plot := fs.Bool("plot", false, "write score_plot.png next to the run artifacts")
	jsonOut := fs.Bool("json", false, "emit the run summary as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	set := visited(fs)

	cfg, err := common.load()
	if err != nil {
		return err
	}
	if *factor != "" {
		cfg.Factor = strings.ToLower(*factor)
	}
	if *datasetPath != "" {
		cfg.DatasetPath = *datasetPath
	}
	if *start != "" {
		cfg.ForecastStart = *start
	}
	if *end != "" {
		cfg.ForecastEnd = *end
	}
	if *population > 0 {
		cfg.GA.Population = *population
	}
	if *generations > 0 {
		cfg.GA.Generations = *generations
	}
	if set["seed"] {
		cfg.Seed = *seed
	}
	if *workers > 0 {
		cfg.GA.Workers = *workers
	}

	e, err := common.open(cfg, nil)
	if err != nil {
		return err
	}
	defer e.Close()

	pcfg, err := cfg.Pipeline(e.logger)
	if err != nil {
		return err
	}
	forecastStart, forecastEnd, err := cfg.ForecastRange()
	if err != nil {
		return err
	}
	ds, err := grid.LoadJSON(cfg.DatasetPath)
	if err != nil {
		return fmt.Errorf("load dataset: %w", err)
	}
	sea := grid.SeaMask(grid.AllSea)
	if elevation, ok := ds.Static(cfg.ElevationVar); ok {
		mask, err := grid.NewElevationMask(ds.Lats(), ds.Lons(), elevation, cfg.StrictLand)
		if err != nil {
			return err
		}
		sea = mask.IsSea
	} else {
		e.logger.Warn("no elevation field, treating every cell as sea", "var", cfg.ElevationVar)
	}

	summary, err := e.client.Run(ctx, marecast.RunRequest{
		Request: pipeline.Request{
			Config:  pcfg,
			Dataset: ds,
			Sea:     sea,
			Start:   forecastStart,
			End:     forecastEnd,
			RunID:   *runID,
		},
		DatasetName: cfg.DatasetPath,
		Plot:        *plot,
	})
	if errors.Is(err, pipeline.ErrAccuracyThresholdNotMet) {
		fmt.Printf("run_id=%s factor=%s status=%s best=%.6f\n", summary.RunID, summary.Factor, summary.Status, summary.BestScore)
		return err
	}
	if err != nil {
		return err
	}

	if *jsonOut {
		return writeJSON(summary)
	}
	fmt.Printf("run_id=%s factor=%s status=%s best=%.6f improvement=%.6f forecast_steps=%d elapsed=%s\n",
		summary.RunID,
		summary.Factor,
		summary.Status,
		summary.BestScore,
		summary.Scores.Improvement,
		len(summary.ForecastDates),
		summary.Elapsed.Round(time.Millisecond),
	)
	for metric, value := range summary.Holdout {
		fmt.Printf("holdout %s=%.6f\n", metric, value)
	}
	fmt.Printf("artifacts=%s\n", summary.ArtifactsDir)
	return nil
}

func runPredict(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("predict", flag.ContinueOnError)
	common := registerCommon(fs)
	lat := fs.Float64("lat", 0, "start latitude")
	lon := fs.Float64("lon", 0, "start longitude")
	date := fs.String("date", "", "start date YYYY-MM-DD")
	conditions := fs.String("conditions", "{}", "current conditions as a JSON object")
	history := fs.String("history", "", "cached observation log (overrides config)")
	output := fs.String("output", "", "prediction output file (overrides config)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *date == "" {
		return errors.New("predict requires --date")
	}
	var current map[string]any
	if err := json.Unmarshal([]byte(*conditions), &current); err != nil {
		return fmt.Errorf("decode --conditions: %w", err)
	}

	cfg, err := common.load()
	if err != nil {
		return err
	}
	if *history != "" {
		cfg.Online.HistoryPath = *history
	}
	if *output != "" {
		cfg.Online.OutputPath = *output
	}
	e, err := common.open(cfg, nil)
	if err != nil {
		return err
	}
	defer e.Close()

	record, err := e.client.Predict(ctx, online.Request{Lat: *lat, Lon: *lon, Date: *date, Conditions: current})
	if err != nil {
		return err
	}
	return writeJSON(record)
}

func runServe(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	common := registerCommon(fs)
	addr := fs.String("addr", "", "listen address (overrides config)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := common.load()
	if err != nil {
		return err
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	rec := metrics.New()
	e, err := common.open(cfg, rec)
	if err != nil {
		return err
	}
	defer e.Close()
	if err := e.client.Init(ctx); err != nil {
		return err
	}

	srvCfg := server.Config{
		Backend:  e.client,
		Metrics:  rec,
		Logger:   e.logger,
		Snapshot: server.SnapshotOptions{ElevationVar: cfg.ElevationVar, StrictLand: cfg.StrictLand},
	}
	ds, err := grid.LoadJSON(cfg.DatasetPath)
	switch {
	case err == nil:
		srvCfg.Dataset = ds
	case os.IsNotExist(err):
		e.logger.Warn("dataset not found, data grid route disabled", "path", cfg.DatasetPath)
	default:
		return err
	}

	srv, err := server.New(srvCfg)
	if err != nil {
		return err
	}
	return srv.Run(ctx, cfg.Server.Addr)
}

func runRuns(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("runs", flag.ContinueOnError)
	common := registerCommon(fs)
	limit := fs.Int("limit", 20, "max runs to list")
	jsonOut := fs.Bool("json", false, "emit runs list as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *limit <= 0 {
		return errors.New("limit must be > 0")
	}
	cfg, err := common.load()
	if err != nil {
		return err
	}
	e, err := common.open(cfg, nil)
	if err != nil {
		return err
	}
	defer e.Close()

	entries, err := e.client.Runs(ctx, marecast.RunsRequest{Limit: *limit})
	if err != nil {
		return err
	}
	if *jsonOut {
		return writeJSON(entries)
	}
	if len(entries) == 0 {
		fmt.Println("no runs found")
		return nil
	}
	for _, entry := range entries {
		created := entry.CreatedAtUTC
		if ts, err := time.Parse(time.RFC3339Nano, entry.CreatedAtUTC); err == nil {
			created = humanize.Time(ts)
		}
		fmt.Printf("%s factor=%s status=%s model=%s pop=%d gens=%d seed=%d best=%.6f created=%s\n",
			entry.RunID,
			entry.Factor,
			entry.Status,
			entry.ModelKind,
			entry.Population,
			entry.Generations,
			entry.Seed,
			entry.BestScore,
			created,
		)
	}
	return nil
}

func runLineage(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("lineage", flag.ContinueOnError)
	common := registerCommon(fs)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "use the most recent run")
	limit := fs.Int("limit", 50, "max lineage records to show (0 shows all)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := common.load()
	if err != nil {
		return err
	}
	e, err := common.open(cfg, nil)
	if err != nil {
		return err
	}
	defer e.Close()

	lineage, err := e.client.Lineage(ctx, marecast.LineageRequest{RunID: *runID, Latest: *latest, Limit: *limit})
	if err != nil {
		return err
	}
	for _, record := range lineage {
		parents := record.ParentID
		if record.SecondParentID != "" {
			parents += "+" + record.SecondParentID
		}
		fmt.Printf("gen=%d genome=%s parents=%s op=%s\n", record.Generation, record.GenomeID, parents, record.Operation)
	}
	return nil
}

func runExport(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	common := registerCommon(fs)
	runID := fs.String("run-id", "", "run id to export")
	latest := fs.Bool("latest", false, "export the most recent run")
	outDir := fs.String("out", exportsDir, "export output directory")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := common.load()
	if err != nil {
		return err
	}
	e, err := common.open(cfg, nil)
	if err != nil {
		return err
	}
	defer e.Close()

	exported, err := e.client.Export(ctx, marecast.ExportRequest{RunID: *runID, Latest: *latest, OutDir: *outDir})
	if err != nil {
		return err
	}
	fmt.Printf("exported run_id=%s dir=%s\n", exported.RunID, exported.Directory)
	return nil
}

func runPlot(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("plot", flag.ContinueOnError)
	common := registerCommon(fs)
	runID := fs.String("run-id", "", "run id to plot")
	latest := fs.Bool("latest", false, "plot the most recent run")
	out := fs.String("out", "", "image path (default: the run's score_plot.png)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := common.load()
	if err != nil {
		return err
	}
	e, err := common.open(cfg, nil)
	if err != nil {
		return err
	}
	defer e.Close()

	path, err := e.client.Plot(ctx, marecast.PlotRequest{RunID: *runID, Latest: *latest, Out: *out})
	if err != nil {
		return err
	}
	fmt.Printf("plot=%s\n", path)
	return nil
}

func factorUsage() string {
	return "factor: " + strings.Join(pipeline.KnownFactors(), "|")
}

func visited(fs *flag.FlagSet) map[string]bool {
	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
	return set
}

func writeJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func usageError(msg string) error {
	return fmt.Errorf("%s\nusage: marecastctl <init|run|predict|serve|runs|lineage|export|plot> [flags]", msg)
}
