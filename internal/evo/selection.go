package evo

import (
	"fmt"
	"math/rand"

	"marecast/internal/model"
)

// Selector chooses parents from ranked genomes for replication.
type Selector interface {
	Name() string
	PickParent(rng *rand.Rand, ranked []ScoredGenome) (model.Genome, error)
}

// TournamentSelector samples TournamentSize distinct candidates and keeps the
// fittest; ties go to the earliest sampled.
type TournamentSelector struct {
	TournamentSize int
}

func (TournamentSelector) Name() string {
	return "tournament"
}

func (s TournamentSelector) PickParent(rng *rand.Rand, ranked []ScoredGenome) (model.Genome, error) {
	if rng == nil {
		return model.Genome{}, fmt.Errorf("random source is required")
	}
	if len(ranked) == 0 {
		return model.Genome{}, fmt.Errorf("cannot select from an empty population")
	}
	size := s.TournamentSize
	if size <= 0 {
		size = 3
	}
	if size > len(ranked) {
		size = len(ranked)
	}

	aspirants := samplePositions(rng, len(ranked), size)
	best := ranked[aspirants[0]]
	for _, idx := range aspirants[1:] {
		if candidate := ranked[idx]; candidate.Fitness() > best.Fitness() {
			best = candidate
		}
	}
	return best.Genome, nil
}

// EliteSelector picks uniformly from the top Count genomes.
type EliteSelector struct {
	Count int
}

func (EliteSelector) Name() string {
	return "elite"
}

func (s EliteSelector) PickParent(rng *rand.Rand, ranked []ScoredGenome) (model.Genome, error) {
	if rng == nil {
		return model.Genome{}, fmt.Errorf("random source is required")
	}
	if s.Count <= 0 || s.Count > len(ranked) {
		return model.Genome{}, fmt.Errorf("invalid elite count: %d", s.Count)
	}
	return ranked[rng.Intn(s.Count)].Genome, nil
}

// samplePositions draws k distinct indices from [0, n) in draw order.
func samplePositions(rng *rand.Rand, n, k int) []int {
	pool := make([]int, n)
	for i := range pool {
		pool[i] = i
	}
	for i := 0; i < k; i++ {
		j := i + rng.Intn(n-i)
		pool[i], pool[j] = pool[j], pool[i]
	}
	return pool[:k]
}
