package regress

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
)

const (
	defaultEstimators   = 100
	defaultMaxDepth     = 3
	defaultLearningRate = 0.1
	defaultMinLeaf      = 1
	maxBins             = 64
	missingBin          = math.MaxUint8
)

// GBT is a least-squares gradient-boosted ensemble of regression trees.
// Features are quantile-binned once per fit; split search runs on per-node
// bin histograms. Non-numeric inputs are routed to the left child.
type GBT struct {
	Estimators   int
	MaxDepth     int
	LearningRate float64
	MinLeaf      int

	base  float64
	trees []tree
}

func NewGBT(p Params) (*GBT, error) {
	g := &GBT{
		Estimators:   p.Int(ParamEstimators, defaultEstimators),
		MaxDepth:     p.Int(ParamMaxDepth, defaultMaxDepth),
		LearningRate: p.Float(ParamLearningRate, defaultLearningRate),
		MinLeaf:      p.Int(ParamMinSamplesLeaf, defaultMinLeaf),
	}
	switch {
	case g.Estimators <= 0:
		return nil, fmt.Errorf("%s must be > 0", ParamEstimators)
	case g.MaxDepth <= 0:
		return nil, fmt.Errorf("%s must be > 0", ParamMaxDepth)
	case g.LearningRate <= 0:
		return nil, fmt.Errorf("%s must be > 0", ParamLearningRate)
	case g.MinLeaf <= 0:
		return nil, fmt.Errorf("%s must be > 0", ParamMinSamplesLeaf)
	}
	return g, nil
}

type treeNode struct {
	leaf      bool
	feature   int
	threshold float64
	left      int
	right     int
	value     float64
}

type tree []treeNode

func (t tree) eval(row []float64) float64 {
	i := 0
	for !t[i].leaf {
		n := t[i]
		x := row[n.feature]
		if math.IsNaN(x) || x <= n.threshold {
			i = n.left
		} else {
			i = n.right
		}
	}
	return t[i].value
}

type binned struct {
	codes      [][]uint8
	thresholds [][]float64
}

func binFeatures(X [][]float64, cols int) binned {
	b := binned{codes: make([][]uint8, cols), thresholds: make([][]float64, cols)}
	vals := make([]float64, 0, len(X))
	for j := 0; j < cols; j++ {
		vals = vals[:0]
		for _, row := range X {
			if v := row[j]; !math.IsNaN(v) {
				vals = append(vals, v)
			}
		}
		sort.Float64s(vals)
		thr := quantileThresholds(vals)
		codes := make([]uint8, len(X))
		for i, row := range X {
			v := row[j]
			if math.IsNaN(v) {
				codes[i] = missingBin
				continue
			}
			codes[i] = uint8(sort.SearchFloat64s(thr, v))
		}
		b.codes[j] = codes
		b.thresholds[j] = thr
	}
	return b
}

// quantileThresholds picks up to maxBins-1 distinct cut values from sorted
// values, excluding the maximum.
func quantileThresholds(sorted []float64) []float64 {
	if len(sorted) == 0 {
		return nil
	}
	var out []float64
	last := sorted[len(sorted)-1]
	for k := 1; k < maxBins; k++ {
		v := sorted[(k*len(sorted))/maxBins]
		if v >= last {
			break
		}
		if len(out) > 0 && v <= out[len(out)-1] {
			continue
		}
		out = append(out, v)
	}
	if len(out) == 0 && sorted[0] < last {
		out = append(out, sorted[0])
	}
	return out
}

func (g *GBT) Fit(X [][]float64, y []float64) error {
	if len(X) == 0 {
		return ErrNoRows
	}
	if len(X) != len(y) {
		return fmt.Errorf("have %d feature rows for %d targets", len(X), len(y))
	}
	for i, v := range y {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("target %d is not finite", i)
		}
	}
	cols := len(X[0])
	for i, row := range X {
		if len(row) != cols {
			return fmt.Errorf("row %d has %d columns, want %d", i, len(row), cols)
		}
	}

	bins := binFeatures(X, cols)
	g.base = floats.Sum(y) / float64(len(y))
	pred := make([]float64, len(y))
	for i := range pred {
		pred[i] = g.base
	}
	resid := make([]float64, len(y))
	idx := make([]int, len(y))
	g.trees = make([]tree, 0, g.Estimators)
	grower := &treeGrower{gbt: g, bins: bins, resid: resid}
	for m := 0; m < g.Estimators; m++ {
		for i := range resid {
			resid[i] = y[i] - pred[i]
			idx[i] = i
		}
		t := grower.grow(idx)
		for i := range pred {
			pred[i] += t.eval(X[i])
		}
		g.trees = append(g.trees, t)
	}
	return nil
}

func (g *GBT) Predict(X [][]float64) ([]float64, error) {
	if g.trees == nil {
		return nil, errors.New("model is not fitted")
	}
	out := make([]float64, len(X))
	for i, row := range X {
		v := g.base
		for _, t := range g.trees {
			v += t.eval(row)
		}
		out[i] = v
	}
	return out, nil
}

type treeGrower struct {
	gbt   *GBT
	bins  binned
	resid []float64
	nodes tree
}

type split struct {
	ok      bool
	feature int
	bin     int
	gain    float64
}

func (tg *treeGrower) grow(idx []int) tree {
	tg.nodes = make(tree, 0, nodeCapacity(tg.gbt.MaxDepth, len(idx)))
	tg.build(idx, 0)
	return tg.nodes
}

// nodeCapacity bounds a tree's node count by both its depth and its rows.
func nodeCapacity(maxDepth, rows int) int {
	byRows := 2 * rows
	if maxDepth+1 >= 30 {
		return byRows
	}
	return min(1<<(maxDepth+1), byRows)
}

func (tg *treeGrower) build(idx []int, depth int) int {
	at := len(tg.nodes)
	tg.nodes = append(tg.nodes, treeNode{})
	sum := 0.0
	for _, i := range idx {
		sum += tg.resid[i]
	}
	if depth >= tg.gbt.MaxDepth || len(idx) < 2*tg.gbt.MinLeaf {
		tg.nodes[at] = treeNode{leaf: true, value: tg.gbt.LearningRate * sum / float64(len(idx))}
		return at
	}
	best := tg.bestSplit(idx, sum)
	if !best.ok {
		tg.nodes[at] = treeNode{leaf: true, value: tg.gbt.LearningRate * sum / float64(len(idx))}
		return at
	}

	codes := tg.bins.codes[best.feature]
	left := make([]int, 0, len(idx))
	right := make([]int, 0, len(idx))
	for _, i := range idx {
		c := codes[i]
		if c == missingBin || int(c) <= best.bin {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	l := tg.build(left, depth+1)
	r := tg.build(right, depth+1)
	tg.nodes[at] = treeNode{
		feature:   best.feature,
		threshold: tg.bins.thresholds[best.feature][best.bin],
		left:      l,
		right:     r,
	}
	return at
}

func (tg *treeGrower) bestSplit(idx []int, total float64) split {
	n := float64(len(idx))
	parent := total * total / n
	minLeaf := tg.gbt.MinLeaf
	var best split
	var sums [maxBins + 1]float64
	var counts [maxBins + 1]int
	for j, codes := range tg.bins.codes {
		thr := tg.bins.thresholds[j]
		if len(thr) == 0 {
			continue
		}
		nb := len(thr) + 1
		for b := 0; b < nb; b++ {
			sums[b], counts[b] = 0, 0
		}
		missSum, missCount := 0.0, 0
		for _, i := range idx {
			c := codes[i]
			if c == missingBin {
				missSum += tg.resid[i]
				missCount++
				continue
			}
			sums[c] += tg.resid[i]
			counts[c]++
		}
		lSum, lCount := missSum, missCount
		for b := 0; b < len(thr); b++ {
			lSum += sums[b]
			lCount += counts[b]
			rCount := len(idx) - lCount
			if lCount < minLeaf || rCount < minLeaf {
				continue
			}
			rSum := total - lSum
			gain := lSum*lSum/float64(lCount) + rSum*rSum/float64(rCount) - parent
			if gain > best.gain+1e-12 {
				best = split{ok: true, feature: j, bin: b, gain: gain}
			}
		}
	}
	return best
}
