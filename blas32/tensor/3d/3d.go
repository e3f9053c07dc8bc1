package tensor3d

import (
	"math/rand/v2"
	"slices"

	"github.com/sw965/stablessm"
	"gonum.org/v1/gonum/blas/blas32"
)

// General is a dense row-major (Batches, Channels, Length) tensor.
// The canonical sequence layout is (B, H, L); a (B, L, H) tensor uses the
// same struct with the roles of Channels and Length swapped.
type General struct {
	Batches       int
	Channels      int
	Length        int
	BatchStride   int
	ChannelStride int
	Data          []float32
}

func NewZeros(batches, chs, length int) General {
	chStride := length
	batchStride := chs * chStride
	return General{
		Batches:       batches,
		Channels:      chs,
		Length:        length,
		BatchStride:   batchStride,
		ChannelStride: chStride,
		Data:          make([]float32, batches*batchStride),
	}
}

func NewZerosLike(g General) General {
	return NewZeros(g.Batches, g.Channels, g.Length)
}

// New wraps data without copying it.
func New(batches, chs, length int, data []float32) (General, error) {
	if batches < 1 || chs < 1 || length < 1 {
		return General{}, stablessm.ConfigError("tensor3d.New", "dimensions must be positive, got (%d, %d, %d)", batches, chs, length)
	}
	if len(data) != batches*chs*length {
		return General{}, stablessm.ShapeError("tensor3d.New", []int{batches * chs * length}, []int{len(data)})
	}
	return General{
		Batches:       batches,
		Channels:      chs,
		Length:        length,
		BatchStride:   chs * length,
		ChannelStride: length,
		Data:          data,
	}, nil
}

func NewRandNormal(batches, chs, length int, std float32, rng *rand.Rand) General {
	g := NewZeros(batches, chs, length)
	for i := range g.Data {
		g.Data[i] = float32(rng.NormFloat64()) * std
	}
	return g
}

func (g General) N() int {
	return g.Batches * g.Channels * g.Length
}

func (g General) Shape() []int {
	return []int{g.Batches, g.Channels, g.Length}
}

func (g General) SameShape(other General) bool {
	return g.Batches == other.Batches && g.Channels == other.Channels && g.Length == other.Length
}

func (g General) Clone() General {
	return General{
		Batches:       g.Batches,
		Channels:      g.Channels,
		Length:        g.Length,
		BatchStride:   g.BatchStride,
		ChannelStride: g.ChannelStride,
		Data:          slices.Clone(g.Data),
	}
}

func (g General) At(b, ch, l int) int {
	return b*g.BatchStride + ch*g.ChannelStride + l
}

// Row returns the length-axis slice of (b, ch). It aliases g.Data.
func (g General) Row(b, ch int) []float32 {
	off := g.At(b, ch, 0)
	return g.Data[off : off+g.Length]
}

// Batch returns batch b as a (Channels, Length) matrix sharing g.Data.
func (g General) Batch(b int) blas32.General {
	off := b * g.BatchStride
	return blas32.General{
		Rows:   g.Channels,
		Cols:   g.Length,
		Stride: g.ChannelStride,
		Data:   g.Data[off : off+g.BatchStride],
	}
}

func (g General) ToVector() blas32.Vector {
	return blas32.Vector{
		N:    g.N(),
		Inc:  1,
		Data: g.Data,
	}
}

// Axpy computes g += alpha * x.
func (g General) Axpy(alpha float32, x General) error {
	if !g.SameShape(x) {
		return stablessm.ShapeError("tensor3d.Axpy", g.Shape(), x.Shape())
	}
	blas32.Axpy(alpha, x.ToVector(), g.ToVector())
	return nil
}

// Transpose021 swaps the last two axes: (B, H, L) <-> (B, L, H).
func (g General) Transpose021() General {
	dst := NewZeros(g.Batches, g.Length, g.Channels)
	for b := 0; b < g.Batches; b++ {
		srcBase := b * g.BatchStride
		dstBase := b * dst.BatchStride
		for ch := 0; ch < g.Channels; ch++ {
			srcOff := srcBase + ch*g.ChannelStride
			for l := 0; l < g.Length; l++ {
				dst.Data[dstBase+l*dst.ChannelStride+ch] = g.Data[srcOff+l]
			}
		}
	}
	return dst
}

// MeanLength averages over the last axis and returns a (Batches, Channels) matrix.
func (g General) MeanLength() blas32.General {
	y := blas32.General{
		Rows:   g.Batches,
		Cols:   g.Channels,
		Stride: g.Channels,
		Data:   make([]float32, g.Batches*g.Channels),
	}
	inv := 1.0 / float32(g.Length)
	for b := 0; b < g.Batches; b++ {
		for ch := 0; ch < g.Channels; ch++ {
			var sum float32
			for _, e := range g.Row(b, ch) {
				sum += e
			}
			y.Data[b*y.Stride+ch] = sum * inv
		}
	}
	return y
}
