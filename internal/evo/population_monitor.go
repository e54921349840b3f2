package evo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"sort"

	"github.com/sourcegraph/conc/pool"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"marecast/internal/fitness"
	"marecast/internal/model"
)

var (
	ErrNoFeatures = errors.New("feature set is empty")
	ErrEmptyGrid  = errors.New("hyperparameter grid is empty")
)

// Evaluator scores one genome. The random source is private to the call.
type Evaluator interface {
	Evaluate(ctx context.Context, genome model.Genome, rng *rand.Rand) (fitness.Score, error)
}

type EvaluatorFunc func(ctx context.Context, genome model.Genome, rng *rand.Rand) (fitness.Score, error)

func (f EvaluatorFunc) Evaluate(ctx context.Context, genome model.Genome, rng *rand.Rand) (fitness.Score, error) {
	return f(ctx, genome, rng)
}

type ScoredGenome struct {
	Genome model.Genome
	Score  fitness.Score
}

func (s ScoredGenome) Fitness() float64 {
	if s.Score == nil {
		return fitness.Failed
	}
	return s.Score.Primary()
}

type RunResult struct {
	Best                  ScoredGenome
	BestByGeneration      []float64
	GenerationDiagnostics []model.GenerationDiagnostics
	FinalPopulation       []ScoredGenome
	Lineage               []model.LineageRecord
}

type MonitorConfig struct {
	Evaluator      Evaluator
	Selector       Selector
	Crossover      CrossoverOperator
	Mutation       Operator
	FeatureCount   int
	GridSize       int
	PopulationSize int
	Generations    int
	CrossoverRate  float64
	MutationRate   float64
	Workers        int
	Seed           int64
	Logger         *slog.Logger
	// Observer receives every generation's ranked population.
	Observer func(generation int, ranked []ScoredGenome)
}

type PopulationMonitor struct {
	cfg MonitorConfig
	rng *rand.Rand
}

func NewPopulationMonitor(cfg MonitorConfig) (*PopulationMonitor, error) {
	if cfg.Evaluator == nil {
		return nil, fmt.Errorf("evaluator is required")
	}
	if cfg.FeatureCount <= 0 {
		return nil, ErrNoFeatures
	}
	if cfg.GridSize <= 0 {
		return nil, ErrEmptyGrid
	}
	if cfg.PopulationSize <= 0 {
		return nil, fmt.Errorf("population size must be > 0")
	}
	if cfg.Generations <= 0 {
		return nil, fmt.Errorf("generations must be > 0")
	}
	if cfg.CrossoverRate < 0 || cfg.CrossoverRate > 1 {
		return nil, fmt.Errorf("crossover rate must be in [0, 1]")
	}
	if cfg.MutationRate < 0 || cfg.MutationRate > 1 {
		return nil, fmt.Errorf("mutation rate must be in [0, 1]")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	if cfg.Selector == nil {
		cfg.Selector = TournamentSelector{TournamentSize: 3}
	}
	if cfg.Crossover == nil {
		cfg.Crossover = &SinglePointCrossover{Rand: rng, Rate: cfg.CrossoverRate}
	}
	if cfg.Mutation == nil {
		cfg.Mutation = &BitFlipMutation{Rand: rng, Rate: cfg.MutationRate, GridSize: cfg.GridSize}
	}
	return &PopulationMonitor{cfg: cfg, rng: rng}, nil
}

// SeedPopulation draws the initial random population.
func (m *PopulationMonitor) SeedPopulation() []model.Genome {
	out := make([]model.Genome, m.cfg.PopulationSize)
	for i := range out {
		out[i] = RandomGenome(m.rng, fmt.Sprintf("g0-i%d", i), m.cfg.FeatureCount, m.cfg.GridSize)
	}
	return out
}

func (m *PopulationMonitor) Run(ctx context.Context) (RunResult, error) {
	return m.RunFrom(ctx, m.SeedPopulation())
}

func (m *PopulationMonitor) RunFrom(ctx context.Context, initial []model.Genome) (RunResult, error) {
	if len(initial) != m.cfg.PopulationSize {
		return RunResult{}, fmt.Errorf("initial population mismatch: got=%d want=%d", len(initial), m.cfg.PopulationSize)
	}
	for _, genome := range initial {
		if len(genome.Mask) != m.cfg.FeatureCount {
			return RunResult{}, fmt.Errorf("genome %s mask has %d bits, want %d", genome.ID, len(genome.Mask), m.cfg.FeatureCount)
		}
	}

	population := make([]model.Genome, len(initial))
	copy(population, initial)

	bestHistory := make([]float64, 0, m.cfg.Generations)
	diagnostics := make([]model.GenerationDiagnostics, 0, m.cfg.Generations)
	lineage := make([]model.LineageRecord, 0, len(initial)*(m.cfg.Generations+1))
	for _, genome := range population {
		lineage = append(lineage, model.LineageRecord{
			GenomeID:   genome.ID,
			Generation: 0,
			Operation:  "seed",
		})
	}

	var (
		scored  []ScoredGenome
		best    ScoredGenome
		hasBest bool
	)
	for gen := 0; gen < m.cfg.Generations; gen++ {
		if err := ctx.Err(); err != nil {
			return RunResult{}, err
		}

		var err error
		scored, err = m.evaluatePopulation(ctx, population)
		if err != nil {
			return RunResult{}, err
		}

		sort.SliceStable(scored, func(i, j int) bool {
			return scored[i].Fitness() > scored[j].Fitness()
		})
		genBest := scored[0]
		if !hasBest || genBest.Fitness() > best.Fitness() {
			best = ScoredGenome{Genome: genBest.Genome.Clone(genBest.Genome.ID), Score: genBest.Score}
			hasBest = true
		}
		bestHistory = append(bestHistory, genBest.Fitness())
		diag := summarizeGeneration(scored, gen+1)
		diagnostics = append(diagnostics, diag)
		m.cfg.Logger.Info("generation evaluated",
			"gen", gen+1,
			"best_score", genBest.Fitness(),
			"breakdown", genBest.Score.Breakdown(),
			"selected", genBest.Genome.Selected(),
			"hyper_index", genBest.Genome.HyperIndex,
			"distinct_masks", diag.DistinctMasks,
		)
		if m.cfg.Observer != nil {
			m.cfg.Observer(gen+1, scored)
		}
		if gen == m.cfg.Generations-1 {
			break
		}

		var generationLineage []model.LineageRecord
		population, generationLineage, err = m.nextGeneration(ctx, scored, gen)
		if err != nil {
			return RunResult{}, err
		}
		lineage = append(lineage, generationLineage...)
	}

	return RunResult{
		Best:                  best,
		BestByGeneration:      bestHistory,
		GenerationDiagnostics: diagnostics,
		FinalPopulation:       scored,
		Lineage:               lineage,
	}, nil
}

func summarizeGeneration(scored []ScoredGenome, generation int) model.GenerationDiagnostics {
	if len(scored) == 0 {
		return model.GenerationDiagnostics{Generation: generation}
	}

	scores := make([]float64, len(scored))
	masks := make(map[string]struct{}, len(scored))
	failed := 0
	for i, item := range scored {
		scores[i] = item.Fitness()
		masks[model.Genome{Mask: item.Genome.Mask}.Key()] = struct{}{}
		if _, ok := item.Score.(fitness.FailedScore); ok {
			failed++
		}
	}

	return model.GenerationDiagnostics{
		Generation:    generation,
		BestScore:     scored[0].Fitness(),
		MeanScore:     stat.Mean(scores, nil),
		MinScore:      floats.Min(scores),
		DistinctMasks: len(masks),
		Failed:        failed,
		BestGenomeID:  scored[0].Genome.ID,
		BestBreakdown: scored[0].Score.Breakdown(),
	}
}

// evaluatePopulation scores every genome. Seeds are drawn from the run RNG
// in population order before any evaluation starts, so results do not depend
// on the worker count.
func (m *PopulationMonitor) evaluatePopulation(ctx context.Context, population []model.Genome) ([]ScoredGenome, error) {
	seeds := make([]int64, len(population))
	for i := range seeds {
		seeds[i] = m.rng.Int63()
	}

	scored := make([]ScoredGenome, len(population))
	errs := make([]error, len(population))
	evaluate := func(i int) {
		if err := ctx.Err(); err != nil {
			errs[i] = err
			return
		}
		scored[i], errs[i] = m.evaluateGenome(ctx, population[i], rand.New(rand.NewSource(seeds[i])))
	}

	workers := m.cfg.Workers
	if workers > len(population) {
		workers = len(population)
	}
	if workers <= 1 {
		for i := range population {
			evaluate(i)
		}
	} else {
		p := pool.New().WithMaxGoroutines(workers)
		for i := range population {
			i := i
			p.Go(func() { evaluate(i) })
		}
		p.Wait()
	}

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return scored, nil
}

// evaluateGenome isolates evaluation failures: errors and panics become a
// FailedScore. Only context cancellation aborts the run.
func (m *PopulationMonitor) evaluateGenome(ctx context.Context, genome model.Genome, rng *rand.Rand) (out ScoredGenome, err error) {
	defer func() {
		if r := recover(); r != nil {
			m.cfg.Logger.Warn("fitness evaluation panicked", "genome", genome.ID, "panic", fmt.Sprint(r))
			out, err = ScoredGenome{Genome: genome, Score: fitness.FailedScore{Err: fmt.Errorf("panic: %v", r)}}, nil
		}
	}()

	score, evalErr := m.cfg.Evaluator.Evaluate(ctx, genome, rng)
	if evalErr != nil {
		if errors.Is(evalErr, context.Canceled) || errors.Is(evalErr, context.DeadlineExceeded) {
			return ScoredGenome{}, evalErr
		}
		m.cfg.Logger.Warn("fitness evaluation failed", "genome", genome.ID, "error", evalErr)
		return ScoredGenome{Genome: genome, Score: fitness.FailedScore{Err: evalErr}}, nil
	}
	if score == nil {
		return ScoredGenome{Genome: genome, Score: fitness.FailedScore{Err: errors.New("evaluator returned no score")}}, nil
	}
	return ScoredGenome{Genome: genome, Score: score}, nil
}

func (m *PopulationMonitor) nextGeneration(ctx context.Context, ranked []ScoredGenome, generation int) ([]model.Genome, []model.LineageRecord, error) {
	size := m.cfg.PopulationSize
	next := make([]model.Genome, 0, size+1)
	lineage := make([]model.LineageRecord, 0, size+1)
	nextGeneration := generation + 1

	elite := ranked[0].Genome.Clone(ranked[0].Genome.ID)
	next = append(next, elite)
	lineage = append(lineage, model.LineageRecord{
		GenomeID:   elite.ID,
		ParentID:   ranked[0].Genome.ID,
		Generation: nextGeneration,
		Operation:  "elite_clone",
	})
	if size < 2 {
		return next, lineage, nil
	}

	mating := make([]model.Genome, size)
	for i := range mating {
		parent, err := m.cfg.Selector.PickParent(m.rng, ranked)
		if err != nil {
			return nil, nil, err
		}
		mating[i] = parent
	}

	for len(next) < size {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		pair := samplePositions(m.rng, len(mating), 2)
		p1, p2 := mating[pair[0]], mating[pair[1]]
		c1, c2, crossed, err := m.cfg.Crossover.Apply(ctx, p1, p2)
		if err != nil {
			return nil, nil, err
		}
		operation := "copy"
		if crossed {
			operation = m.cfg.Crossover.Name()
		}
		for _, child := range []model.Genome{c1, c2} {
			mutated, err := m.cfg.Mutation.Apply(ctx, child)
			if err != nil {
				return nil, nil, err
			}
			mutated.ID = fmt.Sprintf("g%d-i%d", nextGeneration, len(next))
			next = append(next, mutated)
			lineage = append(lineage, model.LineageRecord{
				GenomeID:       mutated.ID,
				ParentID:       p1.ID,
				SecondParentID: p2.ID,
				Generation:     nextGeneration,
				Operation:      operation + "+" + m.cfg.Mutation.Name(),
			})
		}
	}

	return next[:size], lineage[:size], nil
}
