package storage

import (
	"encoding/json"
	"errors"
	"sort"

	"marecast/internal/model"
)

const (
	CurrentSchemaVersion = 1
	CurrentCodecVersion  = 1
)

var ErrVersionMismatch = errors.New("record version mismatch")

func EncodeRun(r model.RunRecord) ([]byte, error) {
	return json.Marshal(r)
}

func DecodeRun(data []byte) (model.RunRecord, error) {
	var run model.RunRecord
	if err := json.Unmarshal(data, &run); err != nil {
		return model.RunRecord{}, err
	}
	if err := checkVersion(run.VersionedRecord); err != nil {
		return model.RunRecord{}, err
	}
	return run, nil
}

func EncodeForecast(f model.ForecastRecord) ([]byte, error) {
	return json.Marshal(f)
}

func DecodeForecast(data []byte) (model.ForecastRecord, error) {
	var forecast model.ForecastRecord
	if err := json.Unmarshal(data, &forecast); err != nil {
		return model.ForecastRecord{}, err
	}
	if err := checkVersion(forecast.VersionedRecord); err != nil {
		return model.ForecastRecord{}, err
	}
	return forecast, nil
}

func EncodeLineage(records []model.LineageRecord) ([]byte, error) {
	return json.Marshal(records)
}

func DecodeLineage(data []byte) ([]model.LineageRecord, error) {
	var records []model.LineageRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, err
	}
	for _, record := range records {
		if err := checkVersion(record.VersionedRecord); err != nil {
			return nil, err
		}
	}
	return records, nil
}

// Predictions keep the layout written to historical_data.json, so they carry
// no version header.
func EncodePrediction(p model.Prediction) ([]byte, error) {
	return json.Marshal(p)
}

func DecodePrediction(data []byte) (model.Prediction, error) {
	var prediction model.Prediction
	if err := json.Unmarshal(data, &prediction); err != nil {
		return model.Prediction{}, err
	}
	return prediction, nil
}

func checkVersion(v model.VersionedRecord) error {
	if v.SchemaVersion != CurrentSchemaVersion || v.CodecVersion != CurrentCodecVersion {
		return ErrVersionMismatch
	}
	return nil
}

func sortRuns(runs []model.RunRecord) {
	sort.SliceStable(runs, func(i, j int) bool {
		if runs[i].CreatedAt.Equal(runs[j].CreatedAt) {
			return runs[i].RunID < runs[j].RunID
		}
		return runs[i].CreatedAt.Before(runs[j].CreatedAt)
	})
}
