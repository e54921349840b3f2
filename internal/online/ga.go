package online

import (
	"context"
	"fmt"
	"math/rand"
)

const unfit = -1e9

// Coefficients are AR weights for the most recent values first, then a bias
// and a trend weight.
type Coefficients []float64

// Predict applies the model to history ordered most recent first at trend
// index t.
func (c Coefficients) Predict(history []float64, t float64) float64 {
	lags := len(c) - 2
	v := c[lags] + c[lags+1]*t
	for i := 0; i < lags; i++ {
		v += c[i] * history[i]
	}
	return v
}

// Fitness is the negative mean squared one-step error over the series, or 1
// for a perfect fit.
func (c Coefficients) Fitness(series []float64) float64 {
	lags := len(c) - 2
	if len(series) <= lags {
		return unfit
	}
	window := make([]float64, lags)
	sum := 0.0
	n := 0
	for i := lags; i < len(series); i++ {
		reverseInto(window, series[i-lags:i])
		d := c.Predict(window, float64(i)) - series[i]
		sum += d * d
		n++
	}
	mse := sum / float64(n)
	if mse > 0 {
		return -mse
	}
	return 1.0
}

func reverseInto(dst, src []float64) {
	for i := range src {
		dst[len(src)-1-i] = src[i]
	}
}

type scored struct {
	coeffs  Coefficients
	fitness float64
}

// evolve runs the coefficient GA over one series and returns the fittest
// vector of the final population.
func evolve(ctx context.Context, s Settings, series []float64, rng *rand.Rand) (Coefficients, error) {
	size := s.HistoryLength + 2
	population := make([]scored, s.Population)
	for i := range population {
		c := make(Coefficients, size)
		for j := range c {
			c[j] = (rng.Float64()*2 - 1) * s.InitRange
		}
		population[i].coeffs = c
	}

	for gen := 0; gen < s.Generations; gen++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		score(population, series)
		next := make([]scored, 0, s.Population)
		next = append(next, scored{coeffs: fittest(population).coeffs})
		for len(next) < s.Population {
			a := tournament(rng, population)
			b := tournament(rng, population)
			child := uniformCrossover(rng, a.coeffs, b.coeffs)
			for j := range child {
				if rng.Float64() < s.MutationRate {
					child[j] += (rng.Float64() - 0.5) * s.MutationStep
				}
			}
			next = append(next, scored{coeffs: child})
		}
		population = next
	}
	score(population, series)
	return fittest(population).coeffs, nil
}

func score(population []scored, series []float64) {
	for i := range population {
		population[i].fitness = population[i].coeffs.Fitness(series)
	}
}

// fittest returns the first individual with the highest fitness.
func fittest(population []scored) scored {
	best := population[0]
	for _, candidate := range population[1:] {
		if candidate.fitness > best.fitness {
			best = candidate
		}
	}
	return best
}

// tournament draws two contenders with replacement; the first wins only when
// strictly fitter.
func tournament(rng *rand.Rand, population []scored) scored {
	a := population[rng.Intn(len(population))]
	b := population[rng.Intn(len(population))]
	if a.fitness > b.fitness {
		return a
	}
	return b
}

func uniformCrossover(rng *rand.Rand, a, b Coefficients) Coefficients {
	child := make(Coefficients, len(a))
	copy(child, a)
	for i := range child {
		if rng.Float64() < 0.5 {
			child[i] = b[i]
		}
	}
	return child
}

func (s Settings) validate() error {
	switch {
	case s.HistoryLength <= 0:
		return fmt.Errorf("history length must be > 0, got %d", s.HistoryLength)
	case s.Population <= 0:
		return fmt.Errorf("population must be > 0, got %d", s.Population)
	case s.Generations < 0:
		return fmt.Errorf("generations must be >= 0, got %d", s.Generations)
	case s.MutationRate < 0 || s.MutationRate > 1:
		return fmt.Errorf("mutation rate must be in [0, 1], got %v", s.MutationRate)
	case s.Steps <= 0:
		return fmt.Errorf("forecast steps must be > 0, got %d", s.Steps)
	case s.StepInterval <= 0:
		return fmt.Errorf("step interval must be > 0, got %s", s.StepInterval)
	}
	return nil
}
