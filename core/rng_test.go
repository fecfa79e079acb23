package core_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brickwellhealth/simulator/core"
)

func Test_RNG_Same_Seed_Produces_Same_Sequence(t *testing.T) {
	first := core.NewRNG(42)
	second := core.NewRNG(42)

	for draw := 0; draw < 100; draw++ {
		assert.Equal(t, first.Float64(), second.Float64(), "draw %d", draw)
	}
}

func Test_RNG_Different_Seeds_Diverge(t *testing.T) {
	first := core.NewRNG(1)
	second := core.NewRNG(2)

	diverged := false
	for draw := 0; draw < 10; draw++ {
		if first.Float64() != second.Float64() {
			diverged = true
			break
		}
	}

	assert.True(t, diverged)
}

func Test_RNG_State_RoundTrip_Resumes_The_Exact_Draw_Sequence(t *testing.T) {
	original := core.NewRNG(7)
	for draw := 0; draw < 50; draw++ {
		original.Float64()
	}

	saved, err := original.MarshalState()
	require.NoError(t, err)

	expected := make([]float64, 20)
	for i := range expected {
		expected[i] = original.Float64()
	}

	resumed := core.NewRNG(0)
	require.NoError(t, resumed.UnmarshalState(saved))

	for i, want := range expected {
		assert.Equal(t, want, resumed.Float64(), "draw %d after resume", i)
	}
}

func Test_RNG_Float64_Stays_In_Unit_Interval(t *testing.T) {
	rng := core.NewRNG(99)

	for draw := 0; draw < 1000; draw++ {
		value := rng.Float64()
		assert.GreaterOrEqual(t, value, 0.0)
		assert.Less(t, value, 1.0)
	}
}

func Test_RNG_Poisson_Zero_Rate_Returns_Zero(t *testing.T) {
	rng := core.NewRNG(1)

	assert.Equal(t, 0, rng.Poisson(0))
	assert.Equal(t, 0, rng.Poisson(-1.5))
}

func Test_RNG_Poisson_Mean_Tracks_The_Rate(t *testing.T) {
	rng := core.NewRNG(2024)

	const samples = 5000
	total := 0
	for i := 0; i < samples; i++ {
		total += rng.Poisson(3.0)
	}

	assert.InDelta(t, 3.0, float64(total)/samples, 0.15)
}

func Test_RNG_UniformN_Stays_Inclusive_Of_Both_Bounds(t *testing.T) {
	rng := core.NewRNG(5)

	seen := make(map[int]bool)
	for draw := 0; draw < 1000; draw++ {
		value := rng.UniformN(3, 6)
		require.GreaterOrEqual(t, value, 3)
		require.LessOrEqual(t, value, 6)
		seen[value] = true
	}

	assert.Len(t, seen, 4, "every value in [3, 6] should occur")
	assert.Equal(t, 9, rng.UniformN(9, 9))
	assert.Equal(t, 9, rng.UniformN(9, 4))
}

func Test_RNG_LogNormal_Is_Always_Positive(t *testing.T) {
	rng := core.NewRNG(8)

	for draw := 0; draw < 1000; draw++ {
		assert.Greater(t, rng.LogNormal(4.0, 1.2), 0.0)
	}
}

func Test_RNG_Choice_Covers_All_Options(t *testing.T) {
	rng := core.NewRNG(13)
	options := []string{"Bronze", "Silver", "Gold"}

	seen := make(map[string]bool)
	for draw := 0; draw < 200; draw++ {
		choice := rng.Choice(options)
		require.Contains(t, options, choice)
		seen[choice] = true
	}

	assert.Len(t, seen, len(options))
}

func Test_RNG_WeightedChoice_Skews_Toward_Heavy_Weights(t *testing.T) {
	rng := core.NewRNG(17)
	options := []string{"rare", "common"}
	weights := []float64{1, 9}

	counts := make(map[string]int)
	for draw := 0; draw < 2000; draw++ {
		counts[rng.WeightedChoice(options, weights)]++
	}

	assert.Greater(t, counts["common"], counts["rare"]*4)
	assert.Positive(t, counts["rare"])
}
