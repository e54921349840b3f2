package fitness

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"

	"marecast/internal/features"
	"marecast/internal/grid"
	"marecast/internal/regress"
)

const DefaultTestFraction = 0.15

var (
	ErrTooFewRows = errors.New("need at least two rows to split")
	ErrNonNumeric = errors.New("model produced non-numeric error")
)

// Split is a chronological train/test partition: the last ceil(fraction*n)
// rows are held out.
type Split struct {
	Train features.Table
	Test  features.Table
}

func NewSplit(table features.Table, testFraction float64) (Split, error) {
	n := table.Len()
	if n < 2 {
		return Split{}, ErrTooFewRows
	}
	if testFraction <= 0 || testFraction >= 1 {
		return Split{}, fmt.Errorf("test fraction must be in (0,1), got %v", testFraction)
	}
	test := int(math.Ceil(testFraction * float64(n)))
	if test >= n {
		test = n - 1
	}
	cut := n - test
	return Split{Train: table.Slice(0, cut), Test: table.Slice(cut, n)}, nil
}

type Config struct {
	Factory regress.Factory
	// SampleRows caps the training rows used per evaluation; <= 0 uses all.
	SampleRows int
	WSpeed     float64
	WAngle     float64
}

// Evaluator scores feature masks and hyperparameters against a fixed split.
type Evaluator struct {
	split   Split
	cfg     Config
	angular bool
}

func NewEvaluator(split Split, cfg Config) (*Evaluator, error) {
	if cfg.Factory == nil {
		return nil, errors.New("regressor factory is required")
	}
	if split.Train.Empty() || split.Test.Empty() {
		return nil, ErrTooFewRows
	}
	angular := split.Train.Schema.Class == features.Angular
	if angular && cfg.WSpeed == 0 && cfg.WAngle == 0 {
		cfg.WSpeed, cfg.WAngle = 0.6, 0.4
	}
	return &Evaluator{split: split, cfg: cfg, angular: angular}, nil
}

func (e *Evaluator) Split() Split {
	return e.split
}

// Evaluate trains on a random sub-sample of the training rows and scores the
// held-out rows.
func (e *Evaluator) Evaluate(ctx context.Context, mask []bool, params regress.Params, rng *rand.Rand) (Score, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cols := features.MaskColumns(mask)
	if len(cols) == 0 {
		return emptySelection(e.angular), nil
	}
	train := e.split.Train
	if n := train.Len(); e.cfg.SampleRows > 0 && e.cfg.SampleRows < n {
		if rng == nil {
			return nil, errors.New("random source is required for row sampling")
		}
		train = train.Subset(rng.Perm(n)[:e.cfg.SampleRows])
	}
	return e.score(train, cols, params)
}

// Holdout trains on the full training split and scores the held-out rows.
func (e *Evaluator) Holdout(ctx context.Context, mask []bool, params regress.Params) (Score, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cols := features.MaskColumns(mask)
	if len(cols) == 0 {
		return emptySelection(e.angular), nil
	}
	return e.score(e.split.Train, cols, params)
}

func (e *Evaluator) score(train features.Table, cols []int, params regress.Params) (Score, error) {
	model := regress.NewMultiOutput(e.cfg.Factory, params)
	if err := model.Fit(train.Project(cols), train.Y); err != nil {
		return nil, err
	}
	test := e.split.Test
	pred, err := model.Predict(test.Project(cols))
	if err != nil {
		return nil, err
	}
	if !e.angular {
		mae := MAE(column(pred, 0), test.Target(0))
		if math.IsNaN(mae) {
			return nil, ErrNonNumeric
		}
		return ScalarScore{Score: -mae, MAE: mae}, nil
	}
	speedMAE, angleMAE := AngularErrors(pred, test.Y)
	if math.IsNaN(speedMAE) || math.IsNaN(angleMAE) {
		return nil, ErrNonNumeric
	}
	return AngularScore{
		Score:    -(e.cfg.WSpeed*speedMAE + e.cfg.WAngle*angleMAE),
		SpeedMAE: speedMAE,
		AngleMAE: angleMAE,
	}, nil
}

// AngularErrors compares (speed, sin, cos) rows: speed MAE and the mean
// wrapped direction error in degrees, skipping undefined directions.
func AngularErrors(pred, truth [][]float64) (float64, float64) {
	speedMAE := MAE(column(pred, 0), column(truth, 0))
	errs := make([]float64, len(pred))
	for i := range pred {
		p := grid.DecodeDegrees(pred[i][1], pred[i][2])
		t := grid.DecodeDegrees(truth[i][1], truth[i][2])
		errs[i] = grid.WrappedError(p, t)
	}
	return speedMAE, NanMean(errs)
}

func column(rows [][]float64, j int) []float64 {
	out := make([]float64, len(rows))
	for i, row := range rows {
		out[i] = row[j]
	}
	return out
}
