package layer

import (
	"math/rand/v2"

	"github.com/sw965/stablessm"
	tensor3d "github.com/sw965/stablessm/blas32/tensor/3d"
	"github.com/sw965/stablessm/blas32/vector"
	"github.com/sw965/stablessm/conv"
	"github.com/sw965/stablessm/kernel"
	"github.com/sw965/stablessm/param"
)

type SSMConfig struct {
	Kernel  kernel.Config
	Dropout float32
	// Transposed means inputs are (B, H, L). Otherwise they are (B, L, H).
	Transposed bool
	// Activation defaults to GELU when nil.
	Activation Activation
}

// SSM is one diagonal state-space sequence block: a long causal convolution
// per channel, a skip term, a nonlinearity, and a gated channel mix.
type SSM struct {
	Kernel     *kernel.Generator
	D          []float32
	Activation Activation
	Dropout    *Dropout
	Projection *GatedProjection
	Transposed bool
}

func NewSSM(reg *param.Registry, prefix string, cfg SSMConfig, rng *rand.Rand) (*SSM, error) {
	gen, err := kernel.New(reg, prefix+"kernel.", cfg.Kernel, rng)
	if err != nil {
		return nil, err
	}

	d := vector.NewNormal(cfg.Kernel.Channels, rng).Data
	if err := reg.Add(prefix+"D", d); err != nil {
		return nil, err
	}

	drop, err := NewDropout(cfg.Dropout, true)
	if err != nil {
		return nil, err
	}

	proj, err := NewGatedProjection(reg, prefix+"output_linear.", cfg.Kernel.Channels, rng)
	if err != nil {
		return nil, err
	}

	act := cfg.Activation
	if act == nil {
		act = GELU
	}

	return &SSM{
		Kernel:     gen,
		D:          d,
		Activation: act,
		Dropout:    drop,
		Projection: proj,
		Transposed: cfg.Transposed,
	}, nil
}

func (s *SSM) Apply(x tensor3d.General, training bool, rng *rand.Rand) (tensor3d.General, error) {
	h := s.Kernel.Channels()
	if !s.Transposed {
		if x.Length != h {
			return tensor3d.General{}, stablessm.ShapeError("layer.SSM", []int{x.Batches, x.Channels, h}, x.Shape())
		}
		x = x.Transpose021()
	} else if x.Channels != h {
		return tensor3d.General{}, stablessm.ShapeError("layer.SSM", []int{x.Batches, h, x.Length}, x.Shape())
	}

	k, err := s.Kernel.Kernel(x.Length)
	if err != nil {
		return tensor3d.General{}, err
	}
	y, err := conv.FFT(x, k)
	if err != nil {
		return tensor3d.General{}, err
	}

	for b := 0; b < x.Batches; b++ {
		for ch, d := range s.D {
			src := x.Row(b, ch)
			dst := y.Row(b, ch)
			for l, e := range src {
				dst[l] += e * d
			}
		}
	}

	y, err = s.Activation.Apply(y, training, rng)
	if err != nil {
		return tensor3d.General{}, err
	}
	y, err = s.Dropout.Apply(y, training, rng)
	if err != nil {
		return tensor3d.General{}, err
	}
	y, err = s.Projection.Apply(y, training, rng)
	if err != nil {
		return tensor3d.General{}, err
	}

	if !s.Transposed {
		y = y.Transpose021()
	}
	return y, nil
}
