package regress

import (
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/sajari/regression"
)

// Linear is an ordinary least-squares model. Non-numeric inputs are read as
// zero.
type Linear struct {
	r      *regression.Regression
	fitted bool
}

func NewLinear() *Linear {
	return &Linear{}
}

func (l *Linear) Fit(X [][]float64, y []float64) error {
	if len(X) == 0 {
		return ErrNoRows
	}
	if len(X) != len(y) {
		return fmt.Errorf("have %d feature rows for %d targets", len(X), len(y))
	}
	r := new(regression.Regression)
	r.SetObserved("target")
	for j := range X[0] {
		r.SetVar(j, "x"+strconv.Itoa(j))
	}
	for i, row := range X {
		r.Train(regression.DataPoint(y[i], zeroMissing(row)))
	}
	if err := r.Run(); err != nil {
		return fmt.Errorf("linear fit: %w", err)
	}
	l.r = r
	l.fitted = true
	return nil
}

func (l *Linear) Predict(X [][]float64) ([]float64, error) {
	if !l.fitted {
		return nil, errors.New("model is not fitted")
	}
	out := make([]float64, len(X))
	for i, row := range X {
		v, err := l.r.Predict(zeroMissing(row))
		if err != nil {
			return nil, fmt.Errorf("linear predict row %d: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}

// Coefficients returns the intercept followed by one weight per feature.
func (l *Linear) Coefficients() []float64 {
	if !l.fitted {
		return nil
	}
	return l.r.GetCoeffs()
}

func zeroMissing(row []float64) []float64 {
	out := make([]float64, len(row))
	for i, v := range row {
		if !math.IsNaN(v) {
			out[i] = v
		}
	}
	return out
}
