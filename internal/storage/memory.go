package storage

import (
	"context"
	"errors"
	"sync"

	"marecast/internal/model"
)

var errNotInitialized = errors.New("store is not initialized")

// MemoryStore keeps encoded records so callers never share state with it.
type MemoryStore struct {
	mu          sync.RWMutex
	initialized bool
	runs        map[string][]byte
	forecasts   map[string][]byte
	lineage     map[string][]byte
	predictions map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.initialized {
		return nil
	}
	s.initialized = true
	s.runs = make(map[string][]byte)
	s.forecasts = make(map[string][]byte)
	s.lineage = make(map[string][]byte)
	s.predictions = make(map[string][]byte)
	return nil
}

func (s *MemoryStore) SaveRun(_ context.Context, run model.RunRecord) error {
	if run.RunID == "" {
		return errors.New("run id is required")
	}
	payload, err := EncodeRun(run)
	if err != nil {
		return err
	}
	return s.put(func() { s.runs[run.RunID] = payload })
}

func (s *MemoryStore) GetRun(_ context.Context, runID string) (model.RunRecord, bool, error) {
	payload, ok, err := s.get(s.runs, runID)
	if err != nil || !ok {
		return model.RunRecord{}, false, err
	}
	run, err := DecodeRun(payload)
	if err != nil {
		return model.RunRecord{}, false, err
	}
	return run, true, nil
}

func (s *MemoryStore) ListRuns(_ context.Context) ([]model.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.initialized {
		return nil, errNotInitialized
	}
	runs := make([]model.RunRecord, 0, len(s.runs))
	for _, payload := range s.runs {
		run, err := DecodeRun(payload)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	sortRuns(runs)
	return runs, nil
}

func (s *MemoryStore) SaveForecast(_ context.Context, forecast model.ForecastRecord) error {
	if forecast.RunID == "" {
		return errors.New("forecast run id is required")
	}
	payload, err := EncodeForecast(forecast)
	if err != nil {
		return err
	}
	return s.put(func() { s.forecasts[forecast.RunID] = payload })
}

func (s *MemoryStore) GetForecast(_ context.Context, runID string) (model.ForecastRecord, bool, error) {
	payload, ok, err := s.get(s.forecasts, runID)
	if err != nil || !ok {
		return model.ForecastRecord{}, false, err
	}
	forecast, err := DecodeForecast(payload)
	if err != nil {
		return model.ForecastRecord{}, false, err
	}
	return forecast, true, nil
}

func (s *MemoryStore) SaveLineage(_ context.Context, runID string, lineage []model.LineageRecord) error {
	payload, err := EncodeLineage(lineage)
	if err != nil {
		return err
	}
	return s.put(func() { s.lineage[runID] = payload })
}

func (s *MemoryStore) GetLineage(_ context.Context, runID string) ([]model.LineageRecord, bool, error) {
	payload, ok, err := s.get(s.lineage, runID)
	if err != nil || !ok {
		return nil, false, err
	}
	lineage, err := DecodeLineage(payload)
	if err != nil {
		return nil, false, err
	}
	return lineage, true, nil
}

func (s *MemoryStore) SavePrediction(_ context.Context, prediction model.Prediction) error {
	if prediction.ID == "" {
		return errors.New("prediction id is required")
	}
	payload, err := EncodePrediction(prediction)
	if err != nil {
		return err
	}
	return s.put(func() { s.predictions[prediction.ID] = payload })
}

func (s *MemoryStore) GetPrediction(_ context.Context, id string) (model.Prediction, bool, error) {
	payload, ok, err := s.get(s.predictions, id)
	if err != nil || !ok {
		return model.Prediction{}, false, err
	}
	prediction, err := DecodePrediction(payload)
	if err != nil {
		return model.Prediction{}, false, err
	}
	return prediction, true, nil
}

func (s *MemoryStore) put(write func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errNotInitialized
	}
	write()
	return nil
}

func (s *MemoryStore) get(records map[string][]byte, key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.initialized {
		return nil, false, errNotInitialized
	}
	payload, ok := records[key]
	return payload, ok, nil
}
