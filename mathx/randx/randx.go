package randx

import (
	"math/rand/v2"
)

// NewPCG returns a generator seeded from a single value.
func NewPCG(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// Keep reports true with probability 1-p.
func Keep(p float32, rng *rand.Rand) bool {
	return rng.Float32() >= p
}

// Uniform draws from [min, max).
func Uniform(min, max float64, rng *rand.Rand) float64 {
	return min + rng.Float64()*(max-min)
}
