package vector

import (
	"math"
	"math/rand/v2"
	"slices"

	"gonum.org/v1/gonum/blas/blas32"
)

func NewZeros(n int) blas32.Vector {
	return blas32.Vector{
		N:    n,
		Inc:  1,
		Data: make([]float32, n),
	}
}

func NewOnes(n int) blas32.Vector {
	vec := NewZeros(n)
	for i := range vec.Data {
		vec.Data[i] = 1.0
	}
	return vec
}

func NewNormal(n int, rng *rand.Rand) blas32.Vector {
	vec := NewZeros(n)
	for i := range vec.Data {
		vec.Data[i] = float32(rng.NormFloat64())
	}
	return vec
}

// NewUniformFanIn draws from U(-1/sqrt(fanIn), 1/sqrt(fanIn)).
func NewUniformFanIn(n, fanIn int, rng *rand.Rand) blas32.Vector {
	vec := NewZeros(n)
	bound := 1.0 / math.Sqrt(float64(fanIn))
	for i := range vec.Data {
		vec.Data[i] = float32((rng.Float64()*2.0 - 1.0) * bound)
	}
	return vec
}

func Clone(vec blas32.Vector) blas32.Vector {
	return blas32.Vector{
		N:    vec.N,
		Inc:  vec.Inc,
		Data: slices.Clone(vec.Data),
	}
}

// NewRademacher draws every element from {-1, +1} with equal probability.
func NewRademacher(n int, rng *rand.Rand) blas32.Vector {
	vec := NewZeros(n)
	for i := range vec.Data {
		if rng.IntN(2) == 0 {
			vec.Data[i] = -1.0
		} else {
			vec.Data[i] = 1.0
		}
	}
	return vec
}
