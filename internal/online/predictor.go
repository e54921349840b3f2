package online

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"math"
	"math/rand"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"

	"marecast/internal/grid"
	"marecast/internal/model"
)

const (
	ModelName          = "Genetic Algorithm AR(5)+Trend Live-Trained"
	DefaultOutputPath  = "historical_data.json"
	timestampLayout    = "2006-01-02T15:04:05-07:00"
	constantTolerance  = 1e-9
	coefficientsSuffix = "_coeffs"
)

// TrackedVariables are predicted for every request, in output order.
var TrackedVariables = []string{
	"wind_speed_mps",
	"wind_direction_deg",
	"current_speed_mps",
	"current_direction_deg",
	"waves_height_m",
	"weekly_precip_mean",
	"ice_conc",
}

type Settings struct {
	HistoryLength int           `mapstructure:"history_length"`
	Population    int           `mapstructure:"population"`
	Generations   int           `mapstructure:"generations"`
	MutationRate  float64       `mapstructure:"mutation_rate"`
	InitRange     float64       `mapstructure:"init_range"`
	MutationStep  float64       `mapstructure:"mutation_step"`
	Steps         int           `mapstructure:"steps"`
	StepInterval  time.Duration `mapstructure:"step_interval"`
}

func DefaultSettings() Settings {
	return Settings{
		HistoryLength: 5,
		Population:    60,
		Generations:   30,
		MutationRate:  0.1,
		InitRange:     0.5,
		MutationStep:  0.2,
		Steps:         3,
		StepInterval:  6 * time.Hour,
	}
}

type Config struct {
	Settings Settings
	// HistoryPath is the cached observation log; a missing file is an empty
	// history.
	HistoryPath string
	// OutputPath receives each prediction record; empty disables writing.
	OutputPath string
	Variables  []string
	Seed       int64
	Workers    int
	Logger     *slog.Logger
	Now        func() time.Time
}

// Predictor fits a small AR+trend model per variable from cached history and
// the current reading, and forecasts a few steps ahead.
type Predictor struct {
	cfg Config

	mu  sync.Mutex
	rng *rand.Rand
}

func NewPredictor(cfg Config) (*Predictor, error) {
	if cfg.Settings == (Settings{}) {
		cfg.Settings = DefaultSettings()
	}
	if err := cfg.Settings.validate(); err != nil {
		return nil, err
	}
	if len(cfg.Variables) == 0 {
		cfg.Variables = TrackedVariables
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Predictor{cfg: cfg, rng: rand.New(rand.NewSource(cfg.Seed))}, nil
}

func (p *Predictor) Settings() Settings {
	return p.cfg.Settings
}

// History loads the cached log. Unreadable or malformed logs degrade to an
// empty history.
func (p *Predictor) History() []Entry {
	if p.cfg.HistoryPath == "" {
		return nil
	}
	entries, err := LoadLog(p.cfg.HistoryPath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			p.cfg.Logger.Warn("could not read history, starting with padded history", "path", p.cfg.HistoryPath, "error", err)
		}
		return nil
	}
	return entries
}

// Forecast predicts the next Steps values of one variable. Degenerate
// histories short-circuit to a flat forecast with zero coefficients.
func (p *Predictor) Forecast(ctx context.Context, key string, current *float64, entries []Entry) ([]float64, Coefficients, error) {
	return p.forecast(ctx, key, current, entries, p.nextSeed())
}

func (p *Predictor) forecast(ctx context.Context, key string, current *float64, entries []Entry, seed int64) ([]float64, Coefficients, error) {
	s := p.cfg.Settings
	series := Series(entries, key, current, s.HistoryLength+5)
	zeros := make(Coefficients, s.HistoryLength+2)

	if len(series) < s.HistoryLength+1 {
		p.cfg.Logger.Warn("insufficient history, returning current value", "variable", key)
		v := 0.0
		if current != nil {
			v = *current
		}
		return flat(v, s.Steps), zeros, nil
	}
	if isConstant(series) {
		p.cfg.Logger.Info("history is constant, predicting stable conditions", "variable", key)
		return flat(series[0], s.Steps), zeros, nil
	}

	best, err := evolve(ctx, s, series, rand.New(rand.NewSource(seed)))
	if err != nil {
		return nil, nil, err
	}
	working := append([]float64(nil), series...)
	window := make([]float64, s.HistoryLength)
	out := make([]float64, 0, s.Steps)
	for step := 0; step < s.Steps; step++ {
		reverseInto(window, working[len(working)-s.HistoryLength:])
		v := constrain(key, best.Predict(window, float64(len(series)+step)))
		working = append(working, v)
		out = append(out, v)
	}
	return out, best, nil
}

// Request is one online prediction at a location and start time.
type Request struct {
	Lat        float64        `json:"lat"`
	Lon        float64        `json:"lon"`
	Date       string         `json:"date"`
	Conditions map[string]any `json:"current_conditions"`
}

// Predict forecasts every configured variable and assembles the prediction
// record. The record is written to OutputPath when configured; a write
// failure is logged and the record is still returned.
func (p *Predictor) Predict(ctx context.Context, req Request) (model.Prediction, error) {
	start, err := grid.ParseDate(req.Date)
	if err != nil {
		return model.Prediction{}, err
	}
	entries := p.History()

	vars := p.cfg.Variables
	seeds := make([]int64, len(vars))
	for i := range seeds {
		seeds[i] = p.nextSeed()
	}
	forecasts := make([][]float64, len(vars))
	coeffs := make([]Coefficients, len(vars))
	errs := make([]error, len(vars))

	run := func(i int) {
		forecasts[i], coeffs[i], errs[i] = p.forecast(ctx, vars[i], currentValue(req.Conditions, vars[i]), entries, seeds[i])
	}
	if p.cfg.Workers > 1 {
		workers := pool.New().WithMaxGoroutines(p.cfg.Workers)
		for i := range vars {
			i := i
			workers.Go(func() { run(i) })
		}
		workers.Wait()
	} else {
		for i := range vars {
			run(i)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return model.Prediction{}, err
	}

	s := p.cfg.Settings
	record := model.Prediction{
		Metadata: model.PredictionMetadata{
			Model:         ModelName,
			RunAt:         p.cfg.Now().Format(time.RFC3339Nano),
			StartLocation: model.Location{Lat: req.Lat, Lon: req.Lon},
			StartDate:     req.Date,
			GroundingData: req.Conditions,
		},
		ForecastHorizonHours:  int(time.Duration(s.Steps) * s.StepInterval / time.Hour),
		OptimizedCoefficients: make(map[string][]float64, len(vars)),
		ForecastData:          make([]model.ForecastPoint, 0, s.Steps),
	}
	for i, key := range vars {
		record.OptimizedCoefficients[key+coefficientsSuffix] = coeffs[i]
	}
	for step := 0; step < s.Steps; step++ {
		point := model.ForecastPoint{
			Timestamp: start.Add(time.Duration(step+1) * s.StepInterval).Format(timestampLayout),
			Lat:       req.Lat,
			Lon:       req.Lon,
			Values:    make(map[string]float64, len(vars)),
		}
		for i, key := range vars {
			v := 0.0
			if step < len(forecasts[i]) {
				v = forecasts[i][step]
			}
			point.Values[key] = v
		}
		record.ForecastData = append(record.ForecastData, point)
	}

	if p.cfg.OutputPath != "" {
		if err := writeRecord(p.cfg.OutputPath, record); err != nil {
			p.cfg.Logger.Error("could not save prediction", "path", p.cfg.OutputPath, "error", err)
		}
	}
	return record, nil
}

func (p *Predictor) nextSeed() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rng.Int63()
}

func writeRecord(path string, record model.Prediction) error {
	data, err := json.MarshalIndent(record, "", "    ")
	if err != nil {
		return fmt.Errorf("encode prediction: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// currentValue reads a numeric reading from request conditions; anything
// else counts as absent.
func currentValue(conditions map[string]any, key string) *float64 {
	raw, ok := conditions[key]
	if !ok {
		return nil
	}
	var v float64
	switch n := raw.(type) {
	case float64:
		v = n
	case float32:
		v = float64(n)
	case int:
		v = float64(n)
	case int64:
		v = float64(n)
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return nil
		}
		v = f
	default:
		return nil
	}
	return &v
}

// constrain keeps forecasts physical: ice concentration in [0, 1],
// directions wrapped into [0, 360), everything else non-negative.
func constrain(key string, v float64) float64 {
	switch {
	case key == "ice_conc":
		return math.Min(1, math.Max(0, v))
	case strings.Contains(key, "direction"):
		return grid.NormalizeDegrees(v)
	default:
		return math.Max(0, v)
	}
}

func isConstant(series []float64) bool {
	for _, v := range series {
		if math.Abs(v-series[0]) >= constantTolerance {
			return false
		}
	}
	return true
}

func flat(v float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}
