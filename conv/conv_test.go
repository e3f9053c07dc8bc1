package conv_test

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/sw965/stablessm"
	tensor2d "github.com/sw965/stablessm/blas32/tensor/2d"
	tensor3d "github.com/sw965/stablessm/blas32/tensor/3d"
	"github.com/sw965/stablessm/conv"
)

func randKernel(rows, cols int, rng *rand.Rand) []float32 {
	k := make([]float32, rows*cols)
	for i := range k {
		k[i] = float32(rng.NormFloat64())
	}
	return k
}

func TestFFTMatchesDirect(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	cases := []struct {
		name     string
		batches  int
		channels int
		length   int
	}{
		{"small", 3, 2, 8},
		{"single step", 1, 2, 1},
		{"odd length", 2, 3, 13},
		{"longer", 2, 4, 64},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			u := tensor3d.NewRandNormal(tc.batches, tc.channels, tc.length, 1.0, rng)
			k := tensor2d.NewZeros(tc.channels, tc.length)
			copy(k.Data, randKernel(tc.channels, tc.length, rng))

			got, err := conv.FFT(u, k)
			require.NoError(t, err)
			want, err := conv.Direct(u, k)
			require.NoError(t, err)

			require.Equal(t, want.Shape(), got.Shape())
			for i := range want.Data {
				require.InDelta(t, want.Data[i], got.Data[i], 1e-4)
			}
		})
	}
}

func TestFFTSmallTolerance(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 4))
	u := tensor3d.NewRandNormal(2, 2, 8, 0.5, rng)
	k := tensor2d.NewZeros(2, 8)
	for i := range k.Data {
		k.Data[i] = float32(rng.Float64() - 0.5)
	}

	got, err := conv.FFT(u, k)
	require.NoError(t, err)
	want, err := conv.Direct(u, k)
	require.NoError(t, err)
	for i := range want.Data {
		require.InDelta(t, want.Data[i], got.Data[i], 1e-5)
	}
}

func TestImpulseReturnsKernel(t *testing.T) {
	u := tensor3d.NewZeros(1, 2, 6)
	u.Row(0, 0)[0] = 1
	u.Row(0, 1)[0] = 1

	k := tensor2d.NewZeros(2, 6)
	for i := range k.Data {
		k.Data[i] = float32(i + 1)
	}

	y, err := conv.FFT(u, k)
	require.NoError(t, err)
	for i := range k.Data {
		require.InDelta(t, k.Data[i], y.Data[i], 1e-5)
	}
}

func TestCausality(t *testing.T) {
	u := tensor3d.NewZeros(1, 1, 8)
	u.Row(0, 0)[5] = 1
	k := tensor2d.NewZeros(1, 8)
	for i := range k.Data {
		k.Data[i] = 1
	}

	y, err := conv.FFT(u, k)
	require.NoError(t, err)
	for l, e := range y.Row(0, 0) {
		if l < 5 {
			require.InDelta(t, 0.0, e, 1e-6)
		} else {
			require.InDelta(t, 1.0, e, 1e-5)
		}
	}
}

func TestShapeMismatch(t *testing.T) {
	u := tensor3d.NewZeros(1, 2, 8)

	_, err := conv.FFT(u, tensor2d.NewZeros(3, 8))
	require.ErrorIs(t, err, stablessm.ErrShapeMismatch)

	_, err = conv.FFT(u, tensor2d.NewZeros(2, 7))
	require.ErrorIs(t, err, stablessm.ErrShapeMismatch)

	_, err = conv.Direct(u, tensor2d.NewZeros(2, 9))
	require.ErrorIs(t, err, stablessm.ErrShapeMismatch)
}
