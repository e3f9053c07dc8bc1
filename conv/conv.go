// Package conv evaluates the depthwise causal convolution between a sequence
// tensor (B, H, L) and a per-channel kernel (H, L).
package conv

import (
	"github.com/sw965/stablessm"
	tensor2d "github.com/sw965/stablessm/blas32/tensor/2d"
	tensor3d "github.com/sw965/stablessm/blas32/tensor/3d"
	"gonum.org/v1/gonum/blas/blas32"
	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/floats"
)

func checkShapes(op string, u tensor3d.General, k blas32.General) error {
	if k.Rows != u.Channels || k.Cols != u.Length {
		return stablessm.ShapeError(op, []int{u.Channels, u.Length}, []int{k.Rows, k.Cols})
	}
	return nil
}

// FFT zero-pads both operands to 2L, multiplies their real spectra and keeps
// the first L samples of the inverse transform. The padding keeps the
// circular product from wrapping into the causal result.
func FFT(u tensor3d.General, k blas32.General) (tensor3d.General, error) {
	if err := checkShapes("conv.FFT", u, k); err != nil {
		return tensor3d.General{}, err
	}

	length := u.Length
	n := 2 * length
	fft := fourier.NewFFT(n)
	scale := 1.0 / float64(n)

	padded := make([]float64, n)
	seq := make([]float64, n)
	kf := make([]complex128, n/2+1)
	uf := make([]complex128, n/2+1)

	y := tensor3d.NewZerosLike(u)
	for h := 0; h < u.Channels; h++ {
		load(padded, tensor2d.Row(k, h))
		fft.Coefficients(kf, padded)

		for b := 0; b < u.Batches; b++ {
			load(padded, u.Row(b, h))
			fft.Coefficients(uf, padded)
			for i := range uf {
				uf[i] *= kf[i]
			}
			fft.Sequence(seq, uf)
			floats.Scale(scale, seq[:length])

			out := y.Row(b, h)
			for l := range out {
				out[l] = float32(seq[l])
			}
		}
	}
	return y, nil
}

// load copies src into the front of dst and zeroes the tail.
func load(dst []float64, src []float32) {
	for i, e := range src {
		dst[i] = float64(e)
	}
	clear(dst[len(src):])
}

// Direct is the O(B*H*L^2) time-domain reference:
// Y[b,h,l] = sum_{j<=l} U[b,h,j] * K[h,l-j].
func Direct(u tensor3d.General, k blas32.General) (tensor3d.General, error) {
	if err := checkShapes("conv.Direct", u, k); err != nil {
		return tensor3d.General{}, err
	}

	y := tensor3d.NewZerosLike(u)
	for h := 0; h < u.Channels; h++ {
		kr := tensor2d.Row(k, h)
		for b := 0; b < u.Batches; b++ {
			ur := u.Row(b, h)
			out := y.Row(b, h)
			for l := range out {
				var sum float32
				for j := 0; j <= l; j++ {
					sum += ur[j] * kr[l-j]
				}
				out[l] = sum
			}
		}
	}
	return y, nil
}
