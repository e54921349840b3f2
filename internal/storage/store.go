package storage

import (
	"context"

	"marecast/internal/model"
)

// Store persists factor runs, their forecasts and lineage, and online
// predictions.
type Store interface {
	Init(ctx context.Context) error
	SaveRun(ctx context.Context, run model.RunRecord) error
	GetRun(ctx context.Context, runID string) (model.RunRecord, bool, error)
	// ListRuns returns runs ordered by creation time, oldest first.
	ListRuns(ctx context.Context) ([]model.RunRecord, error)
	SaveForecast(ctx context.Context, forecast model.ForecastRecord) error
	GetForecast(ctx context.Context, runID string) (model.ForecastRecord, bool, error)
	SaveLineage(ctx context.Context, runID string, lineage []model.LineageRecord) error
	GetLineage(ctx context.Context, runID string) ([]model.LineageRecord, bool, error)
	SavePrediction(ctx context.Context, prediction model.Prediction) error
	GetPrediction(ctx context.Context, id string) (model.Prediction, bool, error)
}
