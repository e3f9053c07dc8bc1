package tensor2d

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/blas/blas32"
)

func NewZeros(rows, cols int) blas32.General {
	return blas32.General{
		Rows:   rows,
		Cols:   cols,
		Stride: cols,
		Data:   make([]float32, rows*cols),
	}
}

// NewUniformFanIn draws from U(-1/sqrt(cols), 1/sqrt(cols)), the default
// initialization of a pointwise convolution with cols input channels.
func NewUniformFanIn(rows, cols int, rng *rand.Rand) blas32.General {
	gen := NewZeros(rows, cols)
	bound := 1.0 / math.Sqrt(float64(cols))
	for i := range gen.Data {
		gen.Data[i] = float32((rng.Float64()*2.0 - 1.0) * bound)
	}
	return gen
}

// Row returns row r. It aliases gen.Data.
func Row(gen blas32.General, r int) []float32 {
	off := r * gen.Stride
	return gen.Data[off : off+gen.Cols]
}
