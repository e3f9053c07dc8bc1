package layer

import (
	"math/rand/v2"

	"github.com/chewxy/math32"
	tensor3d "github.com/sw965/stablessm/blas32/tensor/3d"
)

const invSqrt2 float32 = 0.70710678118654752440

// Activation is a parameter-free elementwise nonlinearity.
type Activation func(float32) float32

// GELU is the exact erf form x * Phi(x).
func GELU(x float32) float32 {
	return 0.5 * x * (1 + math32.Erf(x*invSqrt2))
}

func Tanh(x float32) float32 {
	return math32.Tanh(x)
}

func ReLU(x float32) float32 {
	return max(x, 0)
}

func Identity(x float32) float32 {
	return x
}

func Sigmoid(x float32) float32 {
	return 1 / (1 + math32.Exp(-x))
}

// Apply returns a new tensor with f applied to every element.
func (f Activation) Apply(x tensor3d.General, _ bool, _ *rand.Rand) (tensor3d.General, error) {
	y := tensor3d.NewZerosLike(x)
	for i, e := range x.Data {
		y.Data[i] = f(e)
	}
	return y, nil
}
