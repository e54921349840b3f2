package regress

import (
	"errors"
	"fmt"
	"strings"
)

var ErrNoRows = errors.New("no training rows")

// Regressor is a trainable model over row-major feature matrices. Y holds one
// column per output.
type Regressor interface {
	Fit(X, Y [][]float64) error
	Predict(X [][]float64) ([][]float64, error)
}

// Estimator is a single-output model.
type Estimator interface {
	Fit(X [][]float64, y []float64) error
	Predict(X [][]float64) ([]float64, error)
}

// Factory builds an untrained single-output estimator for a hyperparameter
// assignment.
type Factory func(p Params) (Estimator, error)

const (
	KindGBT    = "gbt"
	KindLinear = "linear"
)

// NewFactory resolves a model kind name.
func NewFactory(kind string) (Factory, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", KindGBT:
		return func(p Params) (Estimator, error) { return NewGBT(p) }, nil
	case KindLinear:
		return func(Params) (Estimator, error) { return NewLinear(), nil }, nil
	default:
		return nil, fmt.Errorf("unsupported model kind: %s", kind)
	}
}

// MultiOutput fits one independent estimator per target column.
type MultiOutput struct {
	factory    Factory
	params     Params
	estimators []Estimator
}

func NewMultiOutput(factory Factory, params Params) *MultiOutput {
	return &MultiOutput{factory: factory, params: params}
}

func (m *MultiOutput) Fit(X, Y [][]float64) error {
	if len(X) == 0 {
		return ErrNoRows
	}
	if len(X) != len(Y) {
		return fmt.Errorf("have %d feature rows for %d target rows", len(X), len(Y))
	}
	outputs := len(Y[0])
	m.estimators = make([]Estimator, outputs)
	for j := 0; j < outputs; j++ {
		y := make([]float64, len(Y))
		for i, row := range Y {
			if len(row) != outputs {
				return fmt.Errorf("target row %d has %d columns, want %d", i, len(row), outputs)
			}
			y[i] = row[j]
		}
		est, err := m.factory(m.params)
		if err != nil {
			return err
		}
		if err := est.Fit(X, y); err != nil {
			return fmt.Errorf("fit output %d: %w", j, err)
		}
		m.estimators[j] = est
	}
	return nil
}

func (m *MultiOutput) Predict(X [][]float64) ([][]float64, error) {
	if len(m.estimators) == 0 {
		return nil, errors.New("model is not fitted")
	}
	out := make([][]float64, len(X))
	for i := range out {
		out[i] = make([]float64, len(m.estimators))
	}
	for j, est := range m.estimators {
		col, err := est.Predict(X)
		if err != nil {
			return nil, fmt.Errorf("predict output %d: %w", j, err)
		}
		for i, v := range col {
			out[i][j] = v
		}
	}
	return out, nil
}

func (m *MultiOutput) Outputs() int {
	return len(m.estimators)
}
