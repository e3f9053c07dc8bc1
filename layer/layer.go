// Package layer contains the sequence block of the diagonal state-space model
// and the pointwise primitives it is built from. Every component consumes and
// produces a (B, H, L) sequence tensor through the same Interface.
package layer

import (
	"math/rand/v2"

	tensor3d "github.com/sw965/stablessm/blas32/tensor/3d"
)

type Interface interface {
	// Apply maps x to a new tensor. training only affects stochastic layers,
	// which draw from rng. rng may be nil when training is false.
	Apply(x tensor3d.General, training bool, rng *rand.Rand) (tensor3d.General, error)
}

type Sequence []Interface

func (s Sequence) Apply(x tensor3d.General, training bool, rng *rand.Rand) (tensor3d.General, error) {
	var err error
	for _, l := range s {
		x, err = l.Apply(x, training, rng)
		if err != nil {
			return tensor3d.General{}, err
		}
	}
	return x, nil
}
