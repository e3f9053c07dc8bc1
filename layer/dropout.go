package layer

import (
	"math/rand/v2"

	"github.com/sw965/stablessm"
	tensor3d "github.com/sw965/stablessm/blas32/tensor/3d"
	"github.com/sw965/stablessm/mathx/randx"
)

// Dropout zeroes inputs with probability P during training and scales the
// survivors by 1/(1-P). With Tie set one draw covers a whole (batch, channel)
// row of the length axis.
//
// Dropout holds no random state. Masks are drawn from the source passed to
// Apply, so concurrent callers each bring their own.
type Dropout struct {
	P   float32
	Tie bool
}

func NewDropout(p float32, tie bool) (*Dropout, error) {
	if !(p >= 0 && p < 1) {
		return nil, stablessm.ConfigError("layer.NewDropout", "dropout probability has to be in [0, 1), but got %g", p)
	}
	return &Dropout{P: p, Tie: tie}, nil
}

func (d *Dropout) Apply(x tensor3d.General, training bool, rng *rand.Rand) (tensor3d.General, error) {
	if !training || d.P == 0 {
		return x, nil
	}
	if rng == nil {
		return tensor3d.General{}, stablessm.ConfigError("layer.Dropout", "a random source is required for p = %g", d.P)
	}

	scale := 1 / (1 - d.P)
	y := tensor3d.NewZerosLike(x)
	for b := 0; b < x.Batches; b++ {
		for ch := 0; ch < x.Channels; ch++ {
			src := x.Row(b, ch)
			dst := y.Row(b, ch)
			if d.Tie {
				if randx.Keep(d.P, rng) {
					for l, e := range src {
						dst[l] = e * scale
					}
				}
				continue
			}
			for l, e := range src {
				if randx.Keep(d.P, rng) {
					dst[l] = e * scale
				}
			}
		}
	}
	return y, nil
}
