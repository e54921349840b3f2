package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"marecast/internal/forecast"
	"marecast/internal/grid"
	"marecast/internal/model"
	"marecast/internal/regress"
	"marecast/internal/storage"
)

var currentVersion = model.VersionedRecord{
	SchemaVersion: storage.CurrentSchemaVersion,
	CodecVersion:  storage.CurrentCodecVersion,
}

// Request is one end-to-end factor run over a dataset.
type Request struct {
	Config
	Dataset grid.Dataset
	Sea     grid.SeaMask
	Start   time.Time
	End     time.Time
	RunID   string
}

// Result carries the persisted records of a run. Forecast is nil when the
// run was rejected by the accuracy gate.
type Result struct {
	Run      model.RunRecord
	Forecast *model.ForecastRecord
	Train    TrainResult
}

// Run trains a factor model and rolls it forward over weekly dates from Start
// to End inclusive. A zero Start trains only: the run completes with no
// forecast and no forecast dates. A rejected run returns its record together with an error
// wrapping ErrAccuracyThresholdNotMet.
func Run(ctx context.Context, req Request) (Result, error) {
	if req.Dataset == nil {
		return Result{}, errors.New("dataset is required")
	}
	if req.Start.IsZero() && !req.End.IsZero() {
		return Result{}, errors.New("forecast end set without start")
	}
	if req.End.Before(req.Start) {
		return Result{}, fmt.Errorf("forecast end %s is before start %s", grid.DateKey(req.End), grid.DateKey(req.Start))
	}
	cfg := req.Config.WithDefaults()
	runID := req.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	logger := cfg.Logger.With("run_id", runID)
	cfg.Logger = logger

	frames, err := cfg.Factor.Frames(req.Dataset)
	if err != nil {
		return Result{}, fmt.Errorf("load %s: %w", cfg.Factor.Name, err)
	}
	lats, lons, times := req.Dataset.Lats(), req.Dataset.Lons(), req.Dataset.Times()

	trained, err := Train(ctx, cfg, frames, times, lats, lons)
	for i := range trained.Search.Lineage {
		trained.Search.Lineage[i].VersionedRecord = currentVersion
	}
	record := newRunRecord(runID, cfg, trained)
	if errors.Is(err, ErrAccuracyThresholdNotMet) {
		record.Status = model.RunStatusRejected
		return Result{Run: record, Train: trained}, err
	}
	if err != nil {
		return Result{}, err
	}

	if req.Start.IsZero() {
		record.Status = model.RunStatusCompleted
		logger.Info("no forecast window, training only", "factor", cfg.Factor.Name)
		return Result{Run: record, Train: trained}, nil
	}

	m := trained.Model
	fc, err := forecast.New(forecast.Config{
		Model:   m.Regressor,
		Schema:  m.Schema,
		Columns: m.Columns,
		Lats:    lats,
		Lons:    lons,
		Sea:     grid.Cells(lats, lons, req.Sea),
		Outputs: cfg.Factor.Outputs,
		Logger:  logger,
	})
	if err != nil {
		return Result{}, err
	}
	dates := grid.WeeklyDates(req.Start, req.End)
	steps, err := fc.Run(ctx, frames, dates)
	if err != nil {
		return Result{}, fmt.Errorf("forecast %s: %w", cfg.Factor.Name, err)
	}
	out := &model.ForecastRecord{
		VersionedRecord: currentVersion,
		RunID:           runID,
		Factor:          cfg.Factor.Name,
		Variables:       append([]string(nil), cfg.Factor.Outputs...),
		Lats:            append([]float64(nil), lats...),
		Lons:            append([]float64(nil), lons...),
		Steps:           steps,
	}
	record.Status = model.RunStatusCompleted
	record.ForecastDates = out.Dates()
	logger.Info("forecast complete", "factor", cfg.Factor.Name, "steps", len(steps))
	return Result{Run: record, Forecast: out, Train: trained}, nil
}

func newRunRecord(runID string, cfg Config, trained TrainResult) model.RunRecord {
	search := trained.Search
	best := search.Best
	record := model.RunRecord{
		VersionedRecord:  currentVersion,
		RunID:            runID,
		Factor:           cfg.Factor.Name,
		Class:            cfg.Factor.Class.String(),
		Variables:        append([]string(nil), cfg.Factor.Variables...),
		Seed:             cfg.Seed,
		ModelKind:        cfg.ModelKind,
		MaxLag:           cfg.MaxLag,
		Samples:          trained.Samples,
		Mask:             append([]bool(nil), best.Genome.Mask...),
		HyperIndex:       best.Genome.HyperIndex,
		BestScore:        best.Fitness(),
		BestByGeneration: append([]float64(nil), search.BestByGeneration...),
		Diagnostics:      append([]model.GenerationDiagnostics(nil), search.GenerationDiagnostics...),
		CreatedAt:        time.Now().UTC(),
	}
	if record.ModelKind == "" {
		record.ModelKind = regress.KindGBT
	}
	if best.Score != nil {
		record.BestBreakdown = best.Score.Breakdown()
	}
	if trained.Holdout != nil {
		record.Holdout = trained.Holdout.Breakdown()
	}
	if params, err := cfg.Grid.At(best.Genome.HyperIndex); err == nil {
		record.Hyperparams = params
	}
	if trained.Model != nil {
		record.Features = append([]string(nil), trained.Model.Features...)
	}
	return record
}
