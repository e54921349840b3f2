package fitness

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// Failed is the primary score of an individual that could not be evaluated.
const Failed = -1e9

// Score is the result of evaluating one candidate. Higher primary is better.
type Score interface {
	Primary() float64
	Breakdown() map[string]float64
}

// ScalarScore is -MAE for a single-target variable.
type ScalarScore struct {
	Score float64 `json:"score"`
	MAE   float64 `json:"mae"`
}

func (s ScalarScore) Primary() float64 { return s.Score }

func (s ScalarScore) Breakdown() map[string]float64 {
	return map[string]float64{"score": s.Score, "mae": s.MAE}
}

func (s ScalarScore) String() string {
	return fmt.Sprintf("score=%.6f mae=%.6f", s.Score, s.MAE)
}

// AngularScore is the weighted speed/direction error for an angular variable.
type AngularScore struct {
	Score    float64 `json:"score"`
	SpeedMAE float64 `json:"speed_mae"`
	AngleMAE float64 `json:"angle_mae"`
}

func (s AngularScore) Primary() float64 { return s.Score }

func (s AngularScore) Breakdown() map[string]float64 {
	return map[string]float64{"score": s.Score, "speed_mae": s.SpeedMAE, "angle_mae": s.AngleMAE}
}

func (s AngularScore) String() string {
	return fmt.Sprintf("score=%.6f speed_mae=%.6f angle_mae=%.6f", s.Score, s.SpeedMAE, s.AngleMAE)
}

// FailedScore records an evaluation that errored or panicked.
type FailedScore struct {
	Err error `json:"-"`
}

func (s FailedScore) Primary() float64 { return Failed }

func (s FailedScore) Breakdown() map[string]float64 {
	return map[string]float64{"score": Failed}
}

func (s FailedScore) String() string {
	if s.Err == nil {
		return "failed"
	}
	return "failed: " + s.Err.Error()
}

// emptySelection is the score of a mask that selects no columns.
func emptySelection(angular bool) Score {
	if angular {
		return AngularScore{Score: Failed, SpeedMAE: -Failed, AngleMAE: -Failed}
	}
	return ScalarScore{Score: Failed, MAE: -Failed}
}

// MAE is the mean absolute error between two equal-length slices.
func MAE(pred, truth []float64) float64 {
	if len(pred) == 0 {
		return math.NaN()
	}
	return floats.Distance(pred, truth, 1) / float64(len(pred))
}

// NanMean averages the non-NaN values; it is NaN when none remain.
func NanMean(values []float64) float64 {
	sum, n := 0.0, 0
	for _, v := range values {
		if !math.IsNaN(v) {
			sum += v
			n++
		}
	}
	if n == 0 {
		return math.NaN()
	}
	return sum / float64(n)
}
