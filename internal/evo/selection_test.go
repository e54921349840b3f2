package evo

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"marecast/internal/fitness"
	"marecast/internal/model"
)

func rankedOf(scores ...float64) []ScoredGenome {
	out := make([]ScoredGenome, len(scores))
	for i, s := range scores {
		out[i] = ScoredGenome{
			Genome: model.Genome{ID: string(rune('a' + i)), Mask: []bool{true}},
			Score:  fitness.ScalarScore{Score: s, MAE: -s},
		}
	}
	return out
}

func TestTournamentSelectorNeverPicksWorstOfThree(t *testing.T) {
	ranked := rankedOf(-1, -2, -3)
	rng := rand.New(rand.NewSource(8))
	for i := 0; i < 50; i++ {
		parent, err := TournamentSelector{TournamentSize: 3}.PickParent(rng, ranked)
		require.NoError(t, err)
		require.Equal(t, "a", parent.ID, "sampling without replacement covers all three")
	}
}

func TestTournamentSelectorFavoursFitter(t *testing.T) {
	ranked := rankedOf(-1, -2, -3, -4, -5, -6, -7, -8)
	rng := rand.New(rand.NewSource(13))
	counts := map[string]int{}
	for i := 0; i < 2000; i++ {
		parent, err := TournamentSelector{}.PickParent(rng, ranked)
		require.NoError(t, err)
		counts[parent.ID]++
	}
	require.Zero(t, counts["g"]+counts["h"], "bottom two can never win a three-way tournament")
	require.Greater(t, counts["a"], counts["d"])

	_, err := TournamentSelector{}.PickParent(nil, ranked)
	require.Error(t, err)
	_, err = TournamentSelector{}.PickParent(rng, nil)
	require.Error(t, err)
}

func TestEliteSelectorValidation(t *testing.T) {
	ranked := rankedOf(-1, -2)
	rng := rand.New(rand.NewSource(1))
	_, err := EliteSelector{Count: 3}.PickParent(rng, ranked)
	require.Error(t, err)
	parent, err := EliteSelector{Count: 1}.PickParent(rng, ranked)
	require.NoError(t, err)
	require.Equal(t, "a", parent.ID)
}

func TestSinglePointCrossover(t *testing.T) {
	a := model.Genome{ID: "a", Mask: []bool{true, true, true, true}, HyperIndex: 0}
	b := model.Genome{ID: "b", Mask: []bool{false, false, false, false}, HyperIndex: 1}
	rng := rand.New(rand.NewSource(2))
	op := &SinglePointCrossover{Rand: rng, Rate: 1}
	swapped := 0
	for i := 0; i < 100; i++ {
		c1, c2, crossed, err := op.Apply(context.Background(), a, b)
		require.NoError(t, err)
		require.True(t, crossed)
		require.True(t, c1.Mask[0], "cut point is at least 1")
		require.False(t, c2.Mask[0])
		require.False(t, c1.Mask[3], "cut point is at most F-1")
		require.True(t, c2.Mask[3])
		require.Equal(t, 1, c1.HyperIndex+c2.HyperIndex)
		if c1.HyperIndex == 1 {
			swapped++
		}
	}
	require.Greater(t, swapped, 20)
	require.Less(t, swapped, 80)
	require.Equal(t, []bool{true, true, true, true}, a.Mask, "parents are not modified")

	never := &SinglePointCrossover{Rand: rng, Rate: 0}
	c1, c2, crossed, err := never.Apply(context.Background(), a, b)
	require.NoError(t, err)
	require.False(t, crossed)
	require.Equal(t, a.Mask, c1.Mask)
	require.Equal(t, b.Mask, c2.Mask)

	single := &SinglePointCrossover{Rand: rng, Rate: 1}
	c1, _, crossed, err = single.Apply(context.Background(), model.Genome{Mask: []bool{true}}, model.Genome{Mask: []bool{false}})
	require.NoError(t, err)
	require.False(t, crossed, "a one-feature mask degenerates to copying")
	require.Equal(t, []bool{true}, c1.Mask)

	_, _, _, err = single.Apply(context.Background(), a, model.Genome{Mask: []bool{true}})
	require.Error(t, err)
}

func TestRandomGenomeHasSelection(t *testing.T) {
	rng := rand.New(rand.NewSource(6))
	for i := 0; i < 500; i++ {
		g := RandomGenome(rng, "x", 2, 8)
		require.Positive(t, g.Selected())
		require.Less(t, g.HyperIndex, 8)
	}
}
