package stats

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"marecast/internal/model"
)

// ScoreSummary condenses a run's best-score trajectory.
type ScoreSummary struct {
	Generations    int     `json:"generations"`
	InitialBest    float64 `json:"initial_best"`
	FinalBest      float64 `json:"final_best"`
	Improvement    float64 `json:"improvement"`
	MeanBest       float64 `json:"mean_best"`
	StdBest        float64 `json:"std_best"`
	PeakGeneration int     `json:"peak_generation"`
}

func Summarize(run model.RunRecord) ScoreSummary {
	series := run.BestByGeneration
	if len(series) == 0 {
		return ScoreSummary{}
	}
	out := ScoreSummary{
		Generations:    len(series),
		InitialBest:    series[0],
		FinalBest:      series[len(series)-1],
		PeakGeneration: floats.MaxIdx(series) + 1,
	}
	out.Improvement = out.FinalBest - out.InitialBest
	if len(series) == 1 {
		out.MeanBest = series[0]
		return out
	}
	out.MeanBest, out.StdBest = stat.MeanStdDev(series, nil)
	if math.IsNaN(out.StdBest) {
		out.StdBest = 0
	}
	return out
}
