package core

import (
	"math"
	randv2 "math/rand/v2"
)

// RandomSource is the draw interface consumed by the trigger engine and the
// generators. Tests drive it with a fixed-value stub.
type RandomSource interface {
	Float64() float64
}

// RNG is a deterministic, serializable random source. Its internal PCG state
// round-trips through MarshalState/UnmarshalState so a resumed worker
// produces exactly the draw sequence an uninterrupted run would have.
type RNG struct {
	pcg  *randv2.PCG
	rand *randv2.Rand
}

var _ RandomSource = (*RNG)(nil)

// NewRNG creates a generator seeded from one 64-bit seed.
func NewRNG(seed uint64) *RNG {
	pcg := randv2.NewPCG(seed, seed^0x9e3779b97f4a7c15)

	return &RNG{pcg: pcg, rand: randv2.New(pcg)}
}

// Float64 returns a uniform draw in [0, 1).
func (r *RNG) Float64() float64 {
	return r.rand.Float64()
}

// IntN returns a uniform draw in [0, n).
func (r *RNG) IntN(n int) int {
	return r.rand.IntN(n)
}

// Uint64 returns a uniform 64-bit draw.
func (r *RNG) Uint64() uint64 {
	return r.rand.Uint64()
}

// NormFloat64 returns a standard normal draw.
func (r *RNG) NormFloat64() float64 {
	return r.rand.NormFloat64()
}

// LogNormal returns a draw from a log-normal distribution with the given
// location and scale parameters.
func (r *RNG) LogNormal(mu float64, sigma float64) float64 {
	return math.Exp(mu + sigma*r.rand.NormFloat64())
}

// Poisson returns a draw from a Poisson distribution with the given rate,
// using Knuth's inversion by repeated multiplication. Rates here are small
// (daily arrival counts), so the loop stays short.
func (r *RNG) Poisson(lambda float64) int {
	if lambda <= 0 {
		return 0
	}

	limit := math.Exp(-lambda)
	count := 0
	product := r.rand.Float64()
	for product > limit {
		count++
		product *= r.rand.Float64()
	}

	return count
}

// UniformN returns a uniform draw in [low, high].
func (r *RNG) UniformN(low int, high int) int {
	if high <= low {
		return low
	}

	return low + r.rand.IntN(high-low+1)
}

// Choice returns one of the options, uniformly.
func (r *RNG) Choice(options []string) string {
	return options[r.rand.IntN(len(options))]
}

// WeightedChoice returns one of the options drawn by weight. Weights need
// not sum to one; they are normalized over their total.
func (r *RNG) WeightedChoice(options []string, weights []float64) string {
	total := 0.0
	for _, weight := range weights {
		total += weight
	}

	draw := r.rand.Float64() * total
	cumulative := 0.0
	for i, weight := range weights {
		cumulative += weight
		if draw < cumulative {
			return options[i]
		}
	}

	return options[len(options)-1]
}

// MarshalState serializes the generator state.
func (r *RNG) MarshalState() ([]byte, error) {
	return r.pcg.MarshalBinary()
}

// UnmarshalState restores a state produced by MarshalState.
func (r *RNG) UnmarshalState(data []byte) error {
	return r.pcg.UnmarshalBinary(data)
}
