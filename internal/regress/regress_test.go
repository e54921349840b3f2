package regress

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGridEnumerationOrder(t *testing.T) {
	g := DefaultGrid()
	require.Equal(t, 8, g.Len())
	require.Equal(t, []string{ParamLearningRate, ParamMaxDepth, ParamEstimators}, g.Names())

	first, err := g.At(0)
	require.NoError(t, err)
	require.Equal(t, Params{ParamLearningRate: 0.05, ParamMaxDepth: 4, ParamEstimators: 100}, first)

	second, err := g.At(1)
	require.NoError(t, err)
	require.Equal(t, 200.0, second[ParamEstimators], "last name varies fastest")
	require.Equal(t, 4.0, second[ParamMaxDepth])

	last, err := g.At(7)
	require.NoError(t, err)
	require.Equal(t, Params{ParamLearningRate: 0.1, ParamMaxDepth: 6, ParamEstimators: 200}, last)

	_, err = g.At(8)
	require.Error(t, err)

	_, err = NewGrid(nil)
	require.ErrorIs(t, err, ErrEmptyGrid)
	_, err = NewGrid(map[string][]float64{"a": {}})
	require.ErrorIs(t, err, ErrEmptyGrid)

	require.Equal(t, "learning_rate=0.05,max_depth=4,n_estimators=100", first.String())
}

func TestGBTFitsStepFunction(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	X := make([][]float64, 400)
	y := make([]float64, len(X))
	for i := range X {
		a := rng.Float64()*10 - 5
		b := rng.Float64()
		X[i] = []float64{a, b}
		if a > 0 {
			y[i] = 3
		} else {
			y[i] = -1
		}
	}
	model, err := NewGBT(Params{ParamEstimators: 50, ParamMaxDepth: 2, ParamLearningRate: 0.3})
	require.NoError(t, err)
	require.NoError(t, model.Fit(X, y))

	pred, err := model.Predict([][]float64{{2, 0.5}, {-2, 0.5}})
	require.NoError(t, err)
	require.InDelta(t, 3, pred[0], 0.1)
	require.InDelta(t, -1, pred[1], 0.1)

	nanPred, err := model.Predict([][]float64{{math.NaN(), 0.5}})
	require.NoError(t, err)
	require.False(t, math.IsNaN(nanPred[0]))
}

func TestGBTHandlesMissingInputs(t *testing.T) {
	X := [][]float64{{math.NaN()}, {math.NaN()}, {1}, {2}, {3}, {4}}
	y := []float64{0, 0, 0, 0, 10, 10}
	model, err := NewGBT(Params{ParamEstimators: 20, ParamMaxDepth: 1, ParamLearningRate: 0.5})
	require.NoError(t, err)
	require.NoError(t, model.Fit(X, y))
	pred, err := model.Predict([][]float64{{math.NaN()}, {3.5}})
	require.NoError(t, err)
	require.InDelta(t, 0, pred[0], 0.1)
	require.InDelta(t, 10, pred[1], 0.1)
}

func TestGBTDeepTreesStayBoundedByRows(t *testing.T) {
	require.Equal(t, 8, nodeCapacity(2, 100))
	require.Equal(t, 200, nodeCapacity(25, 100))
	require.Equal(t, 200, nodeCapacity(64, 100))

	X := [][]float64{{1}, {2}, {3}, {4}, {5}, {6}}
	y := []float64{1, 2, 3, 4, 5, 6}
	model, err := NewGBT(Params{ParamEstimators: 3, ParamMaxDepth: 64, ParamLearningRate: 0.5})
	require.NoError(t, err)
	require.NoError(t, model.Fit(X, y))
	pred, err := model.Predict([][]float64{{6}})
	require.NoError(t, err)
	require.Greater(t, pred[0], 3.5)
}

func TestGBTValidation(t *testing.T) {
	_, err := NewGBT(Params{ParamEstimators: 0})
	require.Error(t, err)
	model, err := NewGBT(nil)
	require.NoError(t, err)
	require.ErrorIs(t, model.Fit(nil, nil), ErrNoRows)
	_, err = model.Predict([][]float64{{1}})
	require.Error(t, err)
	require.Error(t, model.Fit([][]float64{{1}}, []float64{math.NaN()}))
}

func TestLinearRecoversPlane(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	X := make([][]float64, 50)
	y := make([]float64, len(X))
	for i := range X {
		a, b := rng.Float64()*4, rng.Float64()*4
		X[i] = []float64{a, b}
		y[i] = 1 + 2*a - 0.5*b
	}
	model := NewLinear()
	require.NoError(t, model.Fit(X, y))
	pred, err := model.Predict([][]float64{{1, 2}})
	require.NoError(t, err)
	require.InDelta(t, 2.0, pred[0], 1e-6)
	coeffs := model.Coefficients()
	require.Len(t, coeffs, 3)
	require.InDelta(t, 1.0, coeffs[0], 1e-6)
}

func TestMultiOutputAndFactory(t *testing.T) {
	factory, err := NewFactory("GBT")
	require.NoError(t, err)
	X := [][]float64{{0}, {1}, {2}, {3}, {4}, {5}}
	Y := [][]float64{{0, 5}, {0, 5}, {0, 5}, {1, -5}, {1, -5}, {1, -5}}
	m := NewMultiOutput(factory, Params{ParamEstimators: 30, ParamMaxDepth: 1, ParamLearningRate: 0.5})
	_, err = m.Predict(X)
	require.Error(t, err)
	require.NoError(t, m.Fit(X, Y))
	require.Equal(t, 2, m.Outputs())
	out, err := m.Predict([][]float64{{0.5}, {4.5}})
	require.NoError(t, err)
	require.InDelta(t, 0, out[0][0], 0.01)
	require.InDelta(t, 5, out[0][1], 0.01)
	require.InDelta(t, 1, out[1][0], 0.01)
	require.InDelta(t, -5, out[1][1], 0.01)

	require.Error(t, m.Fit(X, Y[:2]))
	_, err = NewFactory("forest")
	require.Error(t, err)
	linear, err := NewFactory(KindLinear)
	require.NoError(t, err)
	est, err := linear(nil)
	require.NoError(t, err)
	require.IsType(t, &Linear{}, est)
}
