package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"

	"marecast/internal/features"
	"marecast/internal/grid"
	"marecast/internal/online"
	"marecast/internal/pipeline"
	"marecast/internal/regress"
	"marecast/internal/storage"
)

const EnvPrefix = "MARECAST"

type GA struct {
	MaxLagDays           int                  `mapstructure:"max_lag_days"`
	Population           int                  `mapstructure:"population"`
	Generations          int                  `mapstructure:"generations"`
	PCrossover           float64              `mapstructure:"p_crossover"`
	PMutation            float64              `mapstructure:"p_mutation"`
	SampleCellsForGA     int                  `mapstructure:"sample_cells_for_ga"`
	WSpeed               float64              `mapstructure:"w_speed"`
	WAngle               float64              `mapstructure:"w_angle"`
	Workers              int                  `mapstructure:"workers"`
	HyperparamGridScalar map[string][]float64 `mapstructure:"hyperparam_grid_scalar"`
	HyperparamGridWCD    map[string][]float64 `mapstructure:"hyperparam_grid_wcd"`
}

type RetrainingRules struct {
	// MinAccuracyThreshold maps a factor name to the lowest GA score that may
	// produce a forecast.
	MinAccuracyThreshold map[string]float64 `mapstructure:"min_accuracy_threshold"`
}

type Store struct {
	Kind string `mapstructure:"kind"`
	Path string `mapstructure:"path"`
}

type Log struct {
	Level      string `mapstructure:"level"`
	Production bool   `mapstructure:"production"`
}

type Server struct {
	Addr string `mapstructure:"addr"`
}

type Online struct {
	online.Settings `mapstructure:",squash"`
	HistoryPath     string `mapstructure:"history_path"`
	OutputPath      string `mapstructure:"output_path"`
	Workers         int    `mapstructure:"workers"`
}

// FactorConfig is the full configuration of a factor run plus the service
// surfaces around it.
type FactorConfig struct {
	Factor          string            `mapstructure:"factor"`
	Variables       map[string]string `mapstructure:"variables"`
	DatasetPath     string            `mapstructure:"dataset_path"`
	ElevationVar    string            `mapstructure:"elevation_var"`
	StrictLand      bool              `mapstructure:"strict_land"`
	ForecastStart   string            `mapstructure:"forecast_start"`
	ForecastEnd     string            `mapstructure:"forecast_end"`
	Seed            int64             `mapstructure:"seed"`
	ModelKind       string            `mapstructure:"model_kind"`
	DataSampling    features.Sampling `mapstructure:"data_sampling"`
	GA              GA                `mapstructure:"ga"`
	RetrainingRules RetrainingRules   `mapstructure:"retraining_rules"`
	OutputDir       string            `mapstructure:"output_dir"`
	Store           Store             `mapstructure:"store"`
	Log             Log               `mapstructure:"log"`
	Server          Server            `mapstructure:"server"`
	Online          Online            `mapstructure:"online"`
}

var defaultVariables = map[string]string{
	"waves":         "swh",
	"ice":           "siconc",
	"rain":          "tp",
	"wind_speed":    "wind_speed",
	"wind_dir":      "wind_dir",
	"current_speed": "current_speed",
	"current_dir":   "current_dir",
}

var defaultGrid = map[string][]float64{
	regress.ParamEstimators:   {100, 200},
	regress.ParamMaxDepth:     {4, 6},
	regress.ParamLearningRate: {0.05, 0.1},
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("factor", "waves")
	for key, name := range defaultVariables {
		v.SetDefault("variables."+key, name)
	}
	v.SetDefault("dataset_path", "dataset.json")
	v.SetDefault("elevation_var", "elevation")
	v.SetDefault("strict_land", false)
	v.SetDefault("seed", pipeline.DefaultSeed)
	v.SetDefault("model_kind", regress.KindGBT)
	v.SetDefault("data_sampling.enabled", false)
	v.SetDefault("data_sampling.fraction", 1.0)

	v.SetDefault("ga.max_lag_days", 30)
	v.SetDefault("ga.population", pipeline.DefaultPopulation)
	v.SetDefault("ga.generations", pipeline.DefaultGenerations)
	v.SetDefault("ga.p_crossover", pipeline.DefaultCrossoverRate)
	v.SetDefault("ga.p_mutation", pipeline.DefaultMutationRate)
	v.SetDefault("ga.sample_cells_for_ga", pipeline.DefaultSampleRows)
	v.SetDefault("ga.w_speed", 0.6)
	v.SetDefault("ga.w_angle", 0.4)
	v.SetDefault("ga.workers", 1)

	v.SetDefault("output_dir", "forecasts")
	v.SetDefault("store.kind", storage.DefaultStoreKind())
	v.SetDefault("store.path", storage.DefaultSQLitePath)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.production", false)
	v.SetDefault("server.addr", ":8080")

	settings := online.DefaultSettings()
	v.SetDefault("online.history_length", settings.HistoryLength)
	v.SetDefault("online.population", settings.Population)
	v.SetDefault("online.generations", settings.Generations)
	v.SetDefault("online.mutation_rate", settings.MutationRate)
	v.SetDefault("online.init_range", settings.InitRange)
	v.SetDefault("online.mutation_step", settings.MutationStep)
	v.SetDefault("online.steps", settings.Steps)
	v.SetDefault("online.step_interval", settings.StepInterval)
	v.SetDefault("online.history_path", "environmental_history.json")
	v.SetDefault("online.output_path", online.DefaultOutputPath)
	v.SetDefault("online.workers", 1)
}

// Default returns the configuration with no file and no environment.
func Default() FactorConfig {
	v := viper.New()
	setDefaults(v)
	var cfg FactorConfig
	if err := v.Unmarshal(&cfg); err != nil {
		panic("config defaults do not decode: " + err.Error())
	}
	cfg.GA.applyGridDefaults()
	return cfg
}

// applyGridDefaults fills a missing hyperparameter grid with the default one.
// A configured grid replaces the default whole.
func (g *GA) applyGridDefaults() {
	if len(g.HyperparamGridScalar) == 0 {
		g.HyperparamGridScalar = cloneGrid(defaultGrid)
	}
	if len(g.HyperparamGridWCD) == 0 {
		g.HyperparamGridWCD = cloneGrid(defaultGrid)
	}
}

func cloneGrid(choices map[string][]float64) map[string][]float64 {
	out := make(map[string][]float64, len(choices))
	for name, values := range choices {
		out[name] = append([]float64(nil), values...)
	}
	return out
}

// Load reads an optional JSON or YAML config file, applies MARECAST_*
// environment overrides (MARECAST_GA_POPULATION and so on) and validates.
func Load(path string) (FactorConfig, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return FactorConfig{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg FactorConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return FactorConfig{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.GA.applyGridDefaults()
	cfg.Factor = strings.ToLower(strings.TrimSpace(cfg.Factor))
	if err := cfg.Validate(); err != nil {
		return FactorConfig{}, err
	}
	return cfg, nil
}

func (c FactorConfig) Validate() error {
	var errs []error
	if _, err := pipeline.ResolveFactor(c.Factor, c.Variables); err != nil {
		errs = append(errs, err)
	}
	if c.GA.MaxLagDays <= 0 {
		errs = append(errs, fmt.Errorf("ga.max_lag_days must be > 0, got %d", c.GA.MaxLagDays))
	}
	if c.GA.Population <= 0 {
		errs = append(errs, fmt.Errorf("ga.population must be > 0, got %d", c.GA.Population))
	}
	if c.GA.Generations <= 0 {
		errs = append(errs, fmt.Errorf("ga.generations must be > 0, got %d", c.GA.Generations))
	}
	if c.GA.PCrossover < 0 || c.GA.PCrossover > 1 {
		errs = append(errs, fmt.Errorf("ga.p_crossover must be in [0, 1], got %v", c.GA.PCrossover))
	}
	if c.GA.PMutation < 0 || c.GA.PMutation > 1 {
		errs = append(errs, fmt.Errorf("ga.p_mutation must be in [0, 1], got %v", c.GA.PMutation))
	}
	if c.GA.SampleCellsForGA <= 0 {
		errs = append(errs, fmt.Errorf("ga.sample_cells_for_ga must be > 0, got %d", c.GA.SampleCellsForGA))
	}
	if c.GA.WSpeed < 0 || c.GA.WAngle < 0 || c.GA.WSpeed+c.GA.WAngle == 0 {
		errs = append(errs, fmt.Errorf("ga.w_speed and ga.w_angle must be non-negative and not both zero"))
	}
	if c.DataSampling.Enabled && (c.DataSampling.Fraction <= 0 || c.DataSampling.Fraction > 1) {
		errs = append(errs, fmt.Errorf("data_sampling.fraction must be in (0, 1], got %v", c.DataSampling.Fraction))
	}
	if _, err := regress.NewFactory(c.ModelKind); err != nil {
		errs = append(errs, err)
	}
	if _, _, err := c.ForecastRange(); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(strings.TrimSpace(c.Store.Kind)) {
	case "memory", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("store.kind must be memory or sqlite, got %q", c.Store.Kind))
	}
	return errors.Join(errs...)
}

// ForecastRange parses the forecast window. An empty window is allowed; an
// end without a start is not.
func (c FactorConfig) ForecastRange() (time.Time, time.Time, error) {
	if c.ForecastStart == "" {
		if c.ForecastEnd != "" {
			return time.Time{}, time.Time{}, fmt.Errorf("forecast_end set without forecast_start")
		}
		return time.Time{}, time.Time{}, nil
	}
	start, err := grid.ParseDate(c.ForecastStart)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("forecast_start: %w", err)
	}
	end := start
	if c.ForecastEnd != "" {
		if end, err = grid.ParseDate(c.ForecastEnd); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("forecast_end: %w", err)
		}
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("forecast_end %s is before forecast_start %s", c.ForecastEnd, c.ForecastStart)
	}
	return start, end, nil
}

// Threshold returns the configured minimum accuracy for the factor, if any.
func (c FactorConfig) Threshold() *float64 {
	v, ok := c.RetrainingRules.MinAccuracyThreshold[c.Factor]
	if !ok {
		return nil
	}
	return &v
}

// Pipeline converts the configuration into a factor pipeline config.
func (c FactorConfig) Pipeline(logger *slog.Logger) (pipeline.Config, error) {
	factor, err := pipeline.ResolveFactor(c.Factor, c.Variables)
	if err != nil {
		return pipeline.Config{}, err
	}
	choices := c.GA.HyperparamGridScalar
	if factor.Class == features.Angular {
		choices = c.GA.HyperparamGridWCD
	}
	hyper, err := regress.NewGrid(choices)
	if err != nil {
		return pipeline.Config{}, fmt.Errorf("hyperparameter grid: %w", err)
	}
	return pipeline.Config{
		Factor:        factor,
		MaxLag:        c.GA.MaxLagDays,
		Grid:          hyper,
		ModelKind:     c.ModelKind,
		SampleRows:    c.GA.SampleCellsForGA,
		WSpeed:        c.GA.WSpeed,
		WAngle:        c.GA.WAngle,
		Population:    c.GA.Population,
		Generations:   c.GA.Generations,
		CrossoverRate: c.GA.PCrossover,
		MutationRate:  c.GA.PMutation,
		Workers:       c.GA.Workers,
		Seed:          c.Seed,
		Sampling:      c.DataSampling,
		Threshold:     c.Threshold(),
		Logger:        logger,
	}, nil
}

// Predictor converts the online block into a predictor config.
func (c FactorConfig) Predictor(logger *slog.Logger) online.Config {
	return online.Config{
		Settings:    c.Online.Settings,
		HistoryPath: c.Online.HistoryPath,
		OutputPath:  c.Online.OutputPath,
		Seed:        c.Seed,
		Workers:     c.Online.Workers,
		Logger:      logger,
	}
}
