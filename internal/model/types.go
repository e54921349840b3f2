package model

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"marecast/internal/grid"
)

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

// Genome is one outer-GA candidate: a feature mask plus an index into the
// enumerated hyperparameter grid.
type Genome struct {
	ID         string `json:"id"`
	Mask       []bool `json:"mask"`
	HyperIndex int    `json:"hyper_index"`
}

// Clone copies the genome under a new ID.
func (g Genome) Clone(id string) Genome {
	return Genome{ID: id, Mask: append([]bool(nil), g.Mask...), HyperIndex: g.HyperIndex}
}

func (g Genome) Selected() int {
	n := 0
	for _, on := range g.Mask {
		if on {
			n++
		}
	}
	return n
}

// Key identifies the (mask, hyperparameter) combination independent of ID.
func (g Genome) Key() string {
	var b strings.Builder
	b.Grow(len(g.Mask) + 8)
	for _, on := range g.Mask {
		if on {
			b.WriteByte('1')
		} else {
			b.WriteByte('0')
		}
	}
	fmt.Fprintf(&b, "/%d", g.HyperIndex)
	return b.String()
}

type GenerationDiagnostics struct {
	Generation    int                `json:"generation"`
	BestScore     float64            `json:"best_score"`
	MeanScore     float64            `json:"mean_score"`
	MinScore      float64            `json:"min_score"`
	DistinctMasks int                `json:"distinct_masks"`
	Failed        int                `json:"failed"`
	BestGenomeID  string             `json:"best_genome_id"`
	BestBreakdown map[string]float64 `json:"best_breakdown,omitempty"`
}

type LineageRecord struct {
	VersionedRecord
	GenomeID       string `json:"genome_id"`
	ParentID       string `json:"parent_id"`
	SecondParentID string `json:"second_parent_id,omitempty"`
	Generation     int    `json:"generation"`
	Operation      string `json:"operation"`
}

const (
	RunStatusCompleted = "completed"
	RunStatusRejected  = "rejected"
)

// RunRecord summarizes one factor pipeline run.
type RunRecord struct {
	VersionedRecord
	RunID            string                  `json:"run_id"`
	Factor           string                  `json:"factor"`
	Class            string                  `json:"class"`
	Variables        []string                `json:"variables"`
	Status           string                  `json:"status"`
	Seed             int64                   `json:"seed"`
	ModelKind        string                  `json:"model_kind"`
	MaxLag           int                     `json:"max_lag"`
	Samples          int                     `json:"samples"`
	Mask             []bool                  `json:"mask"`
	Features         []string                `json:"features"`
	HyperIndex       int                     `json:"hyper_index"`
	Hyperparams      map[string]float64      `json:"hyperparams"`
	BestScore        float64                 `json:"best_score"`
	BestBreakdown    map[string]float64      `json:"best_breakdown,omitempty"`
	Holdout          map[string]float64      `json:"holdout,omitempty"`
	BestByGeneration []float64               `json:"best_by_generation"`
	Diagnostics      []GenerationDiagnostics `json:"diagnostics,omitempty"`
	ForecastDates    []string                `json:"forecast_dates,omitempty"`
	CreatedAt        time.Time               `json:"created_at"`
}

// ForecastStep holds every output grid for one forecast date.
type ForecastStep struct {
	Date  string               `json:"date"`
	Grids map[string]grid.Grid `json:"grids"`
}

// ForecastRecord is the multi-step grid forecast produced by one run.
type ForecastRecord struct {
	VersionedRecord
	RunID     string         `json:"run_id"`
	Factor    string         `json:"factor"`
	Variables []string       `json:"variables"`
	Lats      []float64      `json:"lats"`
	Lons      []float64      `json:"lons"`
	Steps     []ForecastStep `json:"steps"`
}

func (r ForecastRecord) Dates() []string {
	out := make([]string, len(r.Steps))
	for i, step := range r.Steps {
		out[i] = step.Date
	}
	return out
}

type Location struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

type PredictionMetadata struct {
	Model         string         `json:"model"`
	RunAt         string         `json:"run_at"`
	StartLocation Location       `json:"start_location"`
	StartDate     string         `json:"start_date"`
	GroundingData map[string]any `json:"grounding_data"`
}

// ForecastPoint is one future point of an online prediction. Values are
// serialized as predicted_<variable> fields.
type ForecastPoint struct {
	Timestamp string
	Lat       float64
	Lon       float64
	Values    map[string]float64
}

const predictedPrefix = "predicted_"

func (p ForecastPoint) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(p.Values)+3)
	out["timestamp"] = p.Timestamp
	out["lat"] = p.Lat
	out["lon"] = p.Lon
	for key, v := range p.Values {
		out[predictedPrefix+key] = v
	}
	return json.Marshal(out)
}

func (p *ForecastPoint) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*p = ForecastPoint{Values: map[string]float64{}}
	for key, value := range raw {
		var err error
		switch {
		case key == "timestamp":
			err = json.Unmarshal(value, &p.Timestamp)
		case key == "lat":
			err = json.Unmarshal(value, &p.Lat)
		case key == "lon":
			err = json.Unmarshal(value, &p.Lon)
		case strings.HasPrefix(key, predictedPrefix):
			var v float64
			err = json.Unmarshal(value, &v)
			p.Values[strings.TrimPrefix(key, predictedPrefix)] = v
		}
		if err != nil {
			return fmt.Errorf("forecast point field %s: %w", key, err)
		}
	}
	return nil
}

// Variables lists the predicted variables in sorted order.
func (p ForecastPoint) Variables() []string {
	out := make([]string, 0, len(p.Values))
	for key := range p.Values {
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}

// Prediction is the record produced by one online AR+trend run.
type Prediction struct {
	ID                    string               `json:"id,omitempty"`
	Metadata              PredictionMetadata   `json:"metadata"`
	ForecastHorizonHours  int                  `json:"forecast_horizon_hours"`
	OptimizedCoefficients map[string][]float64 `json:"optimized_coefficients"`
	ForecastData          []ForecastPoint      `json:"forecast_data"`
}
