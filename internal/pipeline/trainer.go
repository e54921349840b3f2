package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"time"

	"github.com/dustin/go-humanize"

	"marecast/internal/evo"
	"marecast/internal/features"
	"marecast/internal/fitness"
	"marecast/internal/model"
	"marecast/internal/regress"
)

var (
	ErrAccuracyThresholdNotMet = errors.New("accuracy threshold not met")
	ErrNoSamples               = errors.New("no training samples")
)

const (
	DefaultPopulation    = 25
	DefaultGenerations   = 15
	DefaultCrossoverRate = 0.8
	DefaultMutationRate  = 0.1
	DefaultSampleRows    = 15000
	DefaultSeed          = 42
)

// Config drives one factor through search, gating and refit.
type Config struct {
	Factor        Factor
	MaxLag        int
	Grid          regress.Grid
	ModelKind     string
	SampleRows    int
	WSpeed        float64
	WAngle        float64
	Population    int
	Generations   int
	CrossoverRate float64
	MutationRate  float64
	Workers       int
	Seed          int64
	Sampling      features.Sampling
	// Threshold, when set, is the minimum acceptable GA score.
	Threshold    *float64
	TestFraction float64
	Logger       *slog.Logger
	Observer     func(generation int, ranked []evo.ScoredGenome)
}

// WithDefaults fills unset search parameters with the pipeline defaults.
func (c Config) WithDefaults() Config {
	if c.Grid.Len() == 0 {
		c.Grid = regress.DefaultGrid()
	}
	if c.Population <= 0 {
		c.Population = DefaultPopulation
	}
	if c.Generations <= 0 {
		c.Generations = DefaultGenerations
	}
	if c.SampleRows <= 0 {
		c.SampleRows = DefaultSampleRows
	}
	if c.TestFraction <= 0 {
		c.TestFraction = fitness.DefaultTestFraction
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return c
}

// Model is a production model refit on every available row.
type Model struct {
	Factor     Factor
	Schema     features.Schema
	Mask       []bool
	Columns    []int
	Features   []string
	HyperIndex int
	Params     regress.Params
	Regressor  regress.Regressor
}

type TrainResult struct {
	Model   *Model
	Search  evo.RunResult
	Holdout fitness.Score
	Samples int
}

// Train builds the supervised table, runs the feature/hyperparameter search,
// reports held-out accuracy and refits the winner on all rows. A configured
// threshold above the best GA score aborts with ErrAccuracyThresholdNotMet;
// the partial result still carries the search outcome.
func Train(ctx context.Context, cfg Config, frames []features.Frame, times []time.Time, lats, lons []float64) (TrainResult, error) {
	cfg = cfg.WithDefaults()
	logger := cfg.Logger.With("factor", cfg.Factor.Name)

	schema, err := features.NewSchema(cfg.Factor.Class, cfg.MaxLag)
	if err != nil {
		return TrainResult{}, err
	}
	factory, err := regress.NewFactory(cfg.ModelKind)
	if err != nil {
		return TrainResult{}, err
	}
	builder := features.Builder{Schema: schema, Sampling: cfg.Sampling, Rand: rand.New(rand.NewSource(cfg.Seed))}
	table, err := builder.Build(frames, times, lats, lons)
	if err != nil {
		return TrainResult{}, fmt.Errorf("build %s table: %w", cfg.Factor.Name, err)
	}
	if table.Empty() {
		logger.Warn("no training samples, skipping")
		return TrainResult{}, fmt.Errorf("%s: %w", cfg.Factor.Name, ErrNoSamples)
	}
	logger.Info("feature table built",
		"rows", humanize.Comma(int64(table.Len())),
		"features", schema.Len(),
		"cells", humanize.Comma(int64(len(lats)*len(lons))),
	)

	split, err := fitness.NewSplit(table, cfg.TestFraction)
	if err != nil {
		return TrainResult{}, fmt.Errorf("%s: %w", cfg.Factor.Name, err)
	}
	evaluator, err := fitness.NewEvaluator(split, fitness.Config{
		Factory:    factory,
		SampleRows: cfg.SampleRows,
		WSpeed:     cfg.WSpeed,
		WAngle:     cfg.WAngle,
	})
	if err != nil {
		return TrainResult{}, err
	}

	monitor, err := evo.NewPopulationMonitor(evo.MonitorConfig{
		Evaluator: evo.EvaluatorFunc(func(ctx context.Context, genome model.Genome, rng *rand.Rand) (fitness.Score, error) {
			params, err := cfg.Grid.At(genome.HyperIndex)
			if err != nil {
				return nil, err
			}
			return evaluator.Evaluate(ctx, genome.Mask, params, rng)
		}),
		FeatureCount:   schema.Len(),
		GridSize:       cfg.Grid.Len(),
		PopulationSize: cfg.Population,
		Generations:    cfg.Generations,
		CrossoverRate:  cfg.CrossoverRate,
		MutationRate:   cfg.MutationRate,
		Workers:        cfg.Workers,
		Seed:           cfg.Seed,
		Logger:         logger,
		Observer:       cfg.Observer,
	})
	if err != nil {
		return TrainResult{}, err
	}
	search, err := monitor.Run(ctx)
	if err != nil {
		return TrainResult{}, err
	}

	best := search.Best
	params, err := cfg.Grid.At(best.Genome.HyperIndex)
	if err != nil {
		return TrainResult{}, err
	}
	result := TrainResult{Search: search, Samples: table.Len()}

	holdout, err := evaluator.Holdout(ctx, best.Genome.Mask, params)
	if err != nil {
		return result, fmt.Errorf("%s holdout: %w", cfg.Factor.Name, err)
	}
	result.Holdout = holdout
	logger.Info("final accuracy on test set", "score", holdout.Primary(), "breakdown", holdout.Breakdown())

	if cfg.Threshold != nil {
		if best.Fitness() < *cfg.Threshold {
			logger.Warn("accuracy threshold not met", "best_score", best.Fitness(), "threshold", *cfg.Threshold)
			return result, fmt.Errorf("%s: best score %.4f below %.4f: %w", cfg.Factor.Name, best.Fitness(), *cfg.Threshold, ErrAccuracyThresholdNotMet)
		}
		logger.Info("accuracy threshold met", "best_score", best.Fitness(), "threshold", *cfg.Threshold)
	}

	columns := features.MaskColumns(best.Genome.Mask)
	regressor := regress.NewMultiOutput(factory, params)
	if err := regressor.Fit(table.Project(columns), table.Y); err != nil {
		return result, fmt.Errorf("%s refit: %w", cfg.Factor.Name, err)
	}
	result.Model = &Model{
		Factor:     cfg.Factor,
		Schema:     schema,
		Mask:       append([]bool(nil), best.Genome.Mask...),
		Columns:    columns,
		Features:   schema.MaskNames(best.Genome.Mask),
		HyperIndex: best.Genome.HyperIndex,
		Params:     params,
		Regressor:  regressor,
	}
	logger.Info("model refit on all rows",
		"features", len(columns),
		"hyperparams", params.String(),
		"ga_score", best.Fitness(),
	)
	return result, nil
}
