package layer

import (
	"math/rand/v2"

	"github.com/chewxy/math32"
	"github.com/sw965/stablessm"
	tensor3d "github.com/sw965/stablessm/blas32/tensor/3d"
	"github.com/sw965/stablessm/blas32/vector"
	"github.com/sw965/stablessm/param"
)

const layerNormEps = 1e-5

// LayerNorm normalizes over the channel axis independently at every
// (batch, position) and applies a learned per-channel scale and shift.
type LayerNorm struct {
	Weight []float32
	Bias   []float32
	Eps    float32
}

func NewLayerNorm(reg *param.Registry, prefix string, channels int) (*LayerNorm, error) {
	if channels < 1 {
		return nil, stablessm.ConfigError("layer.NewLayerNorm", "channels must be positive, got %d", channels)
	}
	w := vector.NewOnes(channels).Data
	b := vector.NewZeros(channels).Data
	if err := reg.Add(prefix+"weight", w); err != nil {
		return nil, err
	}
	if err := reg.Add(prefix+"bias", b); err != nil {
		return nil, err
	}
	return &LayerNorm{Weight: w, Bias: b, Eps: layerNormEps}, nil
}

func (n *LayerNorm) Apply(x tensor3d.General, _ bool, _ *rand.Rand) (tensor3d.General, error) {
	chs := len(n.Weight)
	if x.Channels != chs {
		return tensor3d.General{}, stablessm.ShapeError("layer.LayerNorm", []int{x.Batches, chs, x.Length}, x.Shape())
	}

	y := tensor3d.NewZerosLike(x)
	inv := 1 / float32(chs)
	for b := 0; b < x.Batches; b++ {
		for l := 0; l < x.Length; l++ {
			var mean float32
			for ch := 0; ch < chs; ch++ {
				mean += x.Data[x.At(b, ch, l)]
			}
			mean *= inv

			var vari float32
			for ch := 0; ch < chs; ch++ {
				d := x.Data[x.At(b, ch, l)] - mean
				vari += d * d
			}
			vari *= inv

			istd := 1 / math32.Sqrt(vari+n.Eps)
			for ch := 0; ch < chs; ch++ {
				i := x.At(b, ch, l)
				y.Data[i] = (x.Data[i]-mean)*istd*n.Weight[ch] + n.Bias[ch]
			}
		}
	}
	return y, nil
}
