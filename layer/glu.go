package layer

import (
	"math/rand/v2"

	"github.com/sw965/stablessm"
	tensor2d "github.com/sw965/stablessm/blas32/tensor/2d"
	tensor3d "github.com/sw965/stablessm/blas32/tensor/3d"
	"github.com/sw965/stablessm/blas32/vector"
	"github.com/sw965/stablessm/param"
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
)

// GatedProjection mixes channels with a pointwise H -> 2H projection and
// gates the result back to H channels: out = z[:H] * sigmoid(z[H:]).
// It is the only place where channels interact.
type GatedProjection struct {
	Weight blas32.General // (2H, H)
	Bias   []float32      // (2H)
}

func NewGatedProjection(reg *param.Registry, prefix string, channels int, rng *rand.Rand) (*GatedProjection, error) {
	if channels < 1 {
		return nil, stablessm.ConfigError("layer.NewGatedProjection", "channels must be positive, got %d", channels)
	}
	w := tensor2d.NewUniformFanIn(2*channels, channels, rng)
	b := vector.NewUniformFanIn(2*channels, channels, rng).Data
	if err := reg.Add(prefix+"weight", w.Data); err != nil {
		return nil, err
	}
	if err := reg.Add(prefix+"bias", b); err != nil {
		return nil, err
	}
	return &GatedProjection{Weight: w, Bias: b}, nil
}

func (g *GatedProjection) Channels() int {
	return g.Weight.Cols
}

// Project applies the H -> 2H pointwise projection without gating.
func (g *GatedProjection) Project(x tensor3d.General) (tensor3d.General, error) {
	chs := g.Channels()
	if x.Channels != chs {
		return tensor3d.General{}, stablessm.ShapeError("layer.GatedProjection", []int{x.Batches, chs, x.Length}, x.Shape())
	}

	z := tensor3d.NewZeros(x.Batches, 2*chs, x.Length)
	for b := 0; b < x.Batches; b++ {
		zb := z.Batch(b)
		for r := 0; r < zb.Rows; r++ {
			row := zb.Data[r*zb.Stride : r*zb.Stride+zb.Cols]
			for l := range row {
				row[l] = g.Bias[r]
			}
		}
		blas32.Gemm(blas.NoTrans, blas.NoTrans, 1.0, g.Weight, x.Batch(b), 1.0, zb)
	}
	return z, nil
}

func (g *GatedProjection) Apply(x tensor3d.General, _ bool, _ *rand.Rand) (tensor3d.General, error) {
	z, err := g.Project(x)
	if err != nil {
		return tensor3d.General{}, err
	}
	return GLU(z)
}

// GLU splits the channel axis of z (B, 2H, L) into halves a and b and
// returns a * sigmoid(b) with shape (B, H, L).
func GLU(z tensor3d.General) (tensor3d.General, error) {
	if z.Channels%2 != 0 {
		return tensor3d.General{}, stablessm.ShapeError("layer.GLU", []int{z.Batches, z.Channels + 1, z.Length}, z.Shape())
	}
	half := z.Channels / 2
	y := tensor3d.NewZeros(z.Batches, half, z.Length)
	for b := 0; b < z.Batches; b++ {
		for ch := 0; ch < half; ch++ {
			a := z.Row(b, ch)
			gate := z.Row(b, ch+half)
			out := y.Row(b, ch)
			for l := range out {
				out[l] = a[l] * Sigmoid(gate[l])
			}
		}
	}
	return y, nil
}
