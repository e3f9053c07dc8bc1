package layer

import (
	"math/rand/v2"

	tensor3d "github.com/sw965/stablessm/blas32/tensor/3d"
)

// Residual wraps Block with a skip connection and one layer norm, applied
// before the block when PreNorm is set and after the sum otherwise.
type Residual struct {
	Block   Interface
	Norm    *LayerNorm
	Dropout *Dropout
	PreNorm bool
}

func (r *Residual) Apply(x tensor3d.General, training bool, rng *rand.Rand) (tensor3d.General, error) {
	z := x
	var err error
	if r.PreNorm {
		z, err = r.Norm.Apply(z, training, rng)
		if err != nil {
			return tensor3d.General{}, err
		}
	}

	z, err = r.Block.Apply(z, training, rng)
	if err != nil {
		return tensor3d.General{}, err
	}
	z, err = r.Dropout.Apply(z, training, rng)
	if err != nil {
		return tensor3d.General{}, err
	}

	next := x.Clone()
	if err := next.Axpy(1, z); err != nil {
		return tensor3d.General{}, err
	}

	if !r.PreNorm {
		return r.Norm.Apply(next, training, rng)
	}
	return next, nil
}
