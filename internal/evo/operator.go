package evo

import (
	"context"
	"fmt"
	"math/rand"

	"marecast/internal/model"
)

type Operator interface {
	Name() string
	Apply(ctx context.Context, genome model.Genome) (model.Genome, error)
}

// CrossoverOperator recombines two parents into two offspring. The returned
// flag reports whether recombination happened or the parents were copied.
type CrossoverOperator interface {
	Name() string
	Apply(ctx context.Context, a, b model.Genome) (model.Genome, model.Genome, bool, error)
}

// RandomGenome draws a mask with each bit set with probability 0.5,
// redrawing until at least one bit is set, and a uniform grid index.
func RandomGenome(rng *rand.Rand, id string, features, gridSize int) model.Genome {
	mask := make([]bool, features)
	for {
		set := false
		for i := range mask {
			mask[i] = rng.Float64() < 0.5
			set = set || mask[i]
		}
		if set {
			break
		}
	}
	return model.Genome{ID: id, Mask: mask, HyperIndex: rng.Intn(gridSize)}
}

// SinglePointCrossover cuts both masks at one point in [1, F-1] with
// probability Rate. Half the time the hyperparameter indices travel with the
// mask suffix, otherwise they stay with the prefix.
type SinglePointCrossover struct {
	Rand *rand.Rand
	Rate float64
}

func (o *SinglePointCrossover) Name() string {
	return "single_point_crossover"
}

func (o *SinglePointCrossover) Apply(_ context.Context, a, b model.Genome) (model.Genome, model.Genome, bool, error) {
	if o.Rand == nil {
		return model.Genome{}, model.Genome{}, false, fmt.Errorf("random source is required")
	}
	if len(a.Mask) != len(b.Mask) {
		return model.Genome{}, model.Genome{}, false, fmt.Errorf("mask length mismatch: %d vs %d", len(a.Mask), len(b.Mask))
	}
	c1, c2 := a.Clone(a.ID), b.Clone(b.ID)
	if o.Rand.Float64() > o.Rate || len(a.Mask) < 2 {
		return c1, c2, false, nil
	}
	cut := 1 + o.Rand.Intn(len(a.Mask)-1)
	copy(c1.Mask[cut:], b.Mask[cut:])
	copy(c2.Mask[cut:], a.Mask[cut:])
	if o.Rand.Float64() < 0.5 {
		c1.HyperIndex, c2.HyperIndex = b.HyperIndex, a.HyperIndex
	}
	return c1, c2, true, nil
}

// BitFlipMutation flips each mask bit with probability Rate, repairs an
// all-false mask by setting one random bit, and redraws the hyperparameter
// index with probability Rate.
type BitFlipMutation struct {
	Rand     *rand.Rand
	Rate     float64
	GridSize int
}

func (o *BitFlipMutation) Name() string {
	return "bit_flip"
}

func (o *BitFlipMutation) Apply(_ context.Context, genome model.Genome) (model.Genome, error) {
	if o.Rand == nil {
		return model.Genome{}, fmt.Errorf("random source is required")
	}
	if len(genome.Mask) == 0 {
		return model.Genome{}, ErrNoFeatures
	}
	mutated := genome.Clone(genome.ID)
	for i := range mutated.Mask {
		if o.Rand.Float64() < o.Rate {
			mutated.Mask[i] = !mutated.Mask[i]
		}
	}
	if mutated.Selected() == 0 {
		mutated.Mask[o.Rand.Intn(len(mutated.Mask))] = true
	}
	if o.GridSize > 0 && o.Rand.Float64() < o.Rate {
		mutated.HyperIndex = o.Rand.Intn(o.GridSize)
	}
	return mutated, nil
}
