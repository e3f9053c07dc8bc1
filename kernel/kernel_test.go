package kernel_test

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/sw965/stablessm"
	tensor2d "github.com/sw965/stablessm/blas32/tensor/2d"
	tensor3d "github.com/sw965/stablessm/blas32/tensor/3d"
	"github.com/sw965/stablessm/conv"
	"github.com/sw965/stablessm/kernel"
	"github.com/sw965/stablessm/param"
)

var allParameterizations = []kernel.Parameterization{
	kernel.Exp,
	kernel.Softplus,
	kernel.Best,
	kernel.Direct,
}

func newGenerator(t *testing.T, cfg kernel.Config) (*kernel.Generator, *param.Registry) {
	t.Helper()
	reg := param.NewRegistry()
	g, err := kernel.New(reg, "kernel.", cfg, rand.New(rand.NewPCG(1, 2)))
	require.NoError(t, err)
	return g, reg
}

func TestKernelShape(t *testing.T) {
	for _, p := range allParameterizations {
		for _, length := range []int{1, 7, 32} {
			cfg := kernel.NewConfig(3, 8)
			cfg.Parameterization = p
			g, _ := newGenerator(t, cfg)

			k, err := g.Kernel(length)
			require.NoError(t, err, "%s L=%d", p, length)
			require.Equal(t, 3, k.Rows)
			require.Equal(t, length, k.Cols)
			require.Len(t, k.Data, 3*length)
			for _, e := range k.Data {
				require.False(t, math.IsNaN(float64(e)) || math.IsInf(float64(e), 0))
			}
		}
	}
}

func TestKernelLengthMustBePositive(t *testing.T) {
	g, _ := newGenerator(t, kernel.NewConfig(2, 4))
	_, err := g.Kernel(0)
	require.ErrorIs(t, err, stablessm.ErrInvalidConfiguration)
}

func TestParseParameterization(t *testing.T) {
	for _, p := range allParameterizations {
		got, err := kernel.ParseParameterization(p.String())
		require.NoError(t, err)
		require.Equal(t, p, got)
	}

	_, err := kernel.ParseParameterization("linear")
	require.ErrorIs(t, err, stablessm.ErrInvalidConfiguration)
	require.Equal(t, "Parameterization(9)", kernel.Parameterization(9).String())
}

func TestUnknownParameterizationRejected(t *testing.T) {
	cfg := kernel.NewConfig(2, 4)
	cfg.Parameterization = kernel.Parameterization(7)
	_, err := kernel.New(param.NewRegistry(), "", cfg, rand.New(rand.NewPCG(1, 2)))
	require.ErrorIs(t, err, stablessm.ErrInvalidConfiguration)

	_, err = kernel.Parameterization(4).Real(0.5)
	require.ErrorIs(t, err, stablessm.ErrInvalidConfiguration)
}

func TestConfigValidation(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*kernel.Config)
	}{
		{"odd state dim", func(c *kernel.Config) { c.StateDim = 5 }},
		{"zero state dim", func(c *kernel.Config) { c.StateDim = 0 }},
		{"no channels", func(c *kernel.Config) { c.Channels = 0 }},
		{"dt min zero", func(c *kernel.Config) { c.DtMin = 0 }},
		{"dt range inverted", func(c *kernel.Config) { c.DtMin, c.DtMax = 0.1, 0.01 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := kernel.NewConfig(2, 4)
			tc.mutate(&cfg)
			_, err := kernel.New(param.NewRegistry(), "", cfg, rand.New(rand.NewPCG(1, 2)))
			require.ErrorIs(t, err, stablessm.ErrInvalidConfiguration)
		})
	}
}

func TestRealPartSigns(t *testing.T) {
	raws := []float32{-20, -5, -1, -0.1, 0.1, 1, 5, 20}
	for _, raw := range raws {
		re, err := kernel.Exp.Real(raw)
		require.NoError(t, err)
		require.Less(t, re, float32(0))

		re, err = kernel.Softplus.Real(raw)
		require.NoError(t, err)
		require.Less(t, re, float32(0))

		re, err = kernel.Best.Real(raw)
		require.NoError(t, err)
		require.Less(t, re, float32(0))
		require.Greater(t, re, float32(-10))

		re, err = kernel.Direct.Real(raw)
		require.NoError(t, err)
		require.Equal(t, raw, re)
	}

	re, err := kernel.Best.Real(0)
	require.NoError(t, err)
	require.InDelta(t, -10.0, re, 1e-5)
}

func TestRawInvertsReal(t *testing.T) {
	for _, p := range allParameterizations {
		raw, err := p.Raw(0.5)
		require.NoError(t, err)
		re, err := p.Real(raw)
		require.NoError(t, err)
		require.InDelta(t, -0.5, re, 1e-5, p.String())
	}
}

func TestInitialization(t *testing.T) {
	g, _ := newGenerator(t, kernel.NewConfig(3, 8))
	require.Equal(t, 3, g.Channels())
	require.Equal(t, 4, g.Modes())
	require.Len(t, g.C(), 3*4*2)

	for h := 0; h < 3; h++ {
		dt := math.Exp(float64(g.LogDt()[h]))
		require.GreaterOrEqual(t, dt, 0.001-1e-6)
		require.LessOrEqual(t, dt, 0.1+1e-6)
		for n := 0; n < 4; n++ {
			a, err := g.Decay(h, n)
			require.NoError(t, err)
			require.InDelta(t, -0.5, real(a), 1e-5)
			require.InDelta(t, math.Pi*float64(n), imag(a), 1e-5)
		}
	}
}

func TestRegistration(t *testing.T) {
	cfg := kernel.NewConfig(2, 4)
	cfg.Rate = param.LearningRate(0.001)
	_, reg := newGenerator(t, cfg)

	_, trainable, ok := reg.Lookup("kernel.C")
	require.True(t, ok)
	require.True(t, trainable)
	_, trainable, ok = reg.Lookup("kernel.A_imag")
	require.True(t, ok)
	require.False(t, trainable)

	for _, tr := range reg.Trainables() {
		switch tr.Name {
		case "kernel.log_dt", "kernel.log_A_real":
			require.True(t, tr.Hints.HasLearningRate)
			require.InDelta(t, 0.001, tr.Hints.LearningRate, 1e-9)
			require.True(t, tr.Hints.HasWeightDecay)
			require.Zero(t, tr.Hints.WeightDecay)
		case "kernel.C":
			require.Equal(t, param.Hints{}, tr.Hints)
		default:
			t.Fatalf("unexpected trainable %q", tr.Name)
		}
	}

	cfg.TrainImag = true
	_, reg = newGenerator(t, cfg)
	_, trainable, _ = reg.Lookup("kernel.A_imag")
	require.True(t, trainable)

	cfg.Rate = param.Fixed()
	_, reg = newGenerator(t, cfg)
	require.Len(t, reg.Trainables(), 1)
	require.Len(t, reg.Buffers(), 3)
}

func TestZeroCouplingGivesZeroKernel(t *testing.T) {
	g, _ := newGenerator(t, kernel.NewConfig(4, 4))
	clear(g.C())

	k, err := g.Kernel(8)
	require.NoError(t, err)
	for _, e := range k.Data {
		require.Zero(t, e)
	}
}

func TestSingleModeClosedForm(t *testing.T) {
	g, _ := newGenerator(t, kernel.NewConfig(1, 2))
	dt := 0.1
	g.LogDt()[0] = float32(math.Log(dt))
	g.C()[0], g.C()[1] = 1, 0

	// A = -0.5, A_imag = 0 for mode 0.
	a := -0.5
	cBar := (math.Exp(a*dt) - 1) / a
	k, err := g.Kernel(16)
	require.NoError(t, err)
	for l, e := range k.Data {
		want := 2 * cBar * math.Exp(a*dt*float64(l))
		require.InDelta(t, want, e, 1e-5, "l=%d", l)
	}
}

func TestOscillatingModeClosedForm(t *testing.T) {
	g, _ := newGenerator(t, kernel.NewConfig(1, 4))
	dt := 0.05
	g.LogDt()[0] = float32(math.Log(dt))
	// only mode 1 (A = -0.5 + i*pi) contributes
	c := g.C()
	c[0], c[1], c[2], c[3] = 0, 0, 0.3, -0.7

	a := complex(-0.5, math.Pi)
	coupling := complex(0.3, -0.7) * (cmplxExp(a*complex(dt, 0)) - 1) / a
	k, err := g.Kernel(20)
	require.NoError(t, err)
	for l, e := range k.Data {
		want := 2 * real(coupling*cmplxExp(a*complex(dt*float64(l), 0)))
		require.InDelta(t, want, e, 1e-5, "l=%d", l)
	}
}

func cmplxExp(z complex128) complex128 {
	m := math.Exp(real(z))
	return complex(m*math.Cos(imag(z)), m*math.Sin(imag(z)))
}

func TestZeroDecayUsesLimit(t *testing.T) {
	cfg := kernel.NewConfig(1, 2)
	cfg.Parameterization = kernel.Direct
	g, _ := newGenerator(t, cfg)
	g.RawA()[0] = 0
	g.LogDt()[0] = float32(math.Log(0.1))
	g.C()[0], g.C()[1] = 1, 0

	// A = 0: the coupling tends to C*dt and the kernel is constant.
	k, err := g.Kernel(4)
	require.NoError(t, err)
	for _, e := range k.Data {
		require.InDelta(t, 0.2, e, 1e-6)
	}
}

func TestKernelDecays(t *testing.T) {
	for _, p := range []kernel.Parameterization{kernel.Exp, kernel.Softplus, kernel.Best} {
		cfg := kernel.NewConfig(2, 4)
		cfg.Parameterization = p
		g, _ := newGenerator(t, cfg)
		for h := range g.LogDt() {
			g.LogDt()[h] = float32(math.Log(0.1))
		}

		k, err := g.Kernel(256)
		require.NoError(t, err)
		for h := 0; h < k.Rows; h++ {
			row := tensor2d.Row(k, h)
			head, tail := maxAbs(row[:8]), maxAbs(row[len(row)-8:])
			require.Less(t, tail, 0.01*head, "%s channel %d", p, h)
		}
	}
}

func maxAbs(xs []float32) float32 {
	var m float32
	for _, x := range xs {
		m = max(m, float32(math.Abs(float64(x))))
	}
	return m
}

func TestScanMatchesConvolution(t *testing.T) {
	for _, p := range allParameterizations {
		cfg := kernel.NewConfig(3, 6)
		cfg.Parameterization = p
		g, _ := newGenerator(t, cfg)

		x := tensor3d.NewRandNormal(2, 3, 24, 1.0, rand.New(rand.NewPCG(5, 6)))
		k, err := g.Kernel(x.Length)
		require.NoError(t, err)
		want, err := conv.FFT(x, k)
		require.NoError(t, err)

		got, err := g.Scan(x)
		require.NoError(t, err)
		for i := range want.Data {
			require.InDelta(t, want.Data[i], got.Data[i], 1e-4, p.String())
		}
	}

	g, _ := newGenerator(t, kernel.NewConfig(3, 6))
	_, err := g.Scan(tensor3d.NewZeros(1, 2, 4))
	require.ErrorIs(t, err, stablessm.ErrShapeMismatch)
}

func TestDirectInstability(t *testing.T) {
	cfg := kernel.NewConfig(2, 4)
	cfg.Parameterization = kernel.Direct
	g, _ := newGenerator(t, cfg)
	require.Equal(t, kernel.Direct, g.Parameterization())
	require.False(t, g.Strict())
	for _, r := range g.RawA() {
		require.Equal(t, float32(-0.5), r)
	}

	modes, err := g.UnstableModes()
	require.NoError(t, err)
	require.Empty(t, modes)

	g.RawA()[1] = 0.3
	modes, err = g.UnstableModes()
	require.NoError(t, err)
	require.Equal(t, []kernel.Mode{{Channel: 0, Index: 1}}, modes)

	_, err = g.Kernel(8)
	require.NoError(t, err)

	cfg.Strict = true
	strict, _ := newGenerator(t, cfg)
	require.True(t, strict.Strict())
	_, err = strict.Kernel(8)
	require.NoError(t, err)
	strict.RawA()[1] = 0.3
	_, err = strict.Kernel(8)
	require.ErrorIs(t, err, stablessm.ErrNumericalInstability)

	g.RawA()[1] = 200
	for h := range g.LogDt() {
		g.LogDt()[h] = float32(math.Log(0.1))
	}
	_, err = g.Kernel(128)
	require.ErrorIs(t, err, stablessm.ErrNumericalInstability)
}
