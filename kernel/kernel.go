// Package kernel turns the diagonal state-space parameters of one layer into
// an explicit causal convolution kernel.
//
// Each of the H channels carries N/2 complex modes. Only one mode of every
// conjugate pair is stored; taking twice the real part of the mode sum
// reconstructs the real N-mode response.
package kernel

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/chewxy/math32"
	"github.com/sw965/stablessm"
	tensor2d "github.com/sw965/stablessm/blas32/tensor/2d"
	"github.com/sw965/stablessm/mathx/randx"
	"github.com/sw965/stablessm/param"
	"gonum.org/v1/gonum/blas/blas32"
)

const (
	// initial decay weight, Re(A) = -0.5 for every parameterization.
	initWeight = 0.5

	// below this |dt*A| the zero-order-hold factor uses its Taylor series.
	seriesThreshold = 1e-4
)

type Config struct {
	Channels         int
	StateDim         int
	DtMin            float64
	DtMax            float64
	Rate             param.Rate
	Parameterization Parameterization
	// TrainImag registers A_imag with Rate instead of as a fixed buffer.
	TrainImag bool
	// Strict rejects modes with a positive real decay before evaluation.
	Strict bool
}

func NewConfig(channels, stateDim int) Config {
	return Config{
		Channels:         channels,
		StateDim:         stateDim,
		DtMin:            0.001,
		DtMax:            0.1,
		Rate:             param.Default(),
		Parameterization: Exp,
	}
}

func (c Config) Validate() error {
	const op = "kernel.Config"
	if c.Channels < 1 {
		return stablessm.ConfigError(op, "channels must be positive, got %d", c.Channels)
	}
	if c.StateDim < 2 || c.StateDim%2 != 0 {
		return stablessm.ConfigError(op, "state dimension must be even and at least 2, got %d", c.StateDim)
	}
	if !(c.DtMin > 0) || c.DtMax < c.DtMin {
		return stablessm.ConfigError(op, "need 0 < dt_min <= dt_max, got [%g, %g]", c.DtMin, c.DtMax)
	}
	return c.Parameterization.Validate()
}

// Mode identifies one stored complex mode.
type Mode struct {
	Channel int
	Index   int
}

// Generator owns the kernel parameters of one layer. Its parameterization
// and strictness are fixed by New.
type Generator struct {
	kind   Parameterization
	strict bool

	channels int
	modes    int

	logDt []float32
	c     []float32
	rawA  []float32
	aImag []float32
}

// New initializes the parameters and registers them under prefix.
func New(reg *param.Registry, prefix string, cfg Config, rng *rand.Rand) (*Generator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	h := cfg.Channels
	modes := cfg.StateDim / 2

	logDt := make([]float32, h)
	lo, hi := math.Log(cfg.DtMin), math.Log(cfg.DtMax)
	for i := range logDt {
		logDt[i] = float32(randx.Uniform(lo, hi, rng))
	}

	c := make([]float32, h*modes*2)
	std := math.Sqrt(0.5)
	for i := range c {
		c[i] = float32(rng.NormFloat64() * std)
	}

	raw, err := cfg.Parameterization.Raw(initWeight)
	if err != nil {
		return nil, err
	}
	rawA := make([]float32, h*modes)
	aImag := make([]float32, h*modes)
	for ch := 0; ch < h; ch++ {
		for n := 0; n < modes; n++ {
			rawA[ch*modes+n] = raw
			aImag[ch*modes+n] = math32.Pi * float32(n)
		}
	}

	imagRate := param.Fixed()
	if cfg.TrainImag {
		imagRate = cfg.Rate
	}

	if err := reg.Add(prefix+"C", c); err != nil {
		return nil, err
	}
	if err := reg.Register(prefix+"log_dt", logDt, cfg.Rate); err != nil {
		return nil, err
	}
	if err := reg.Register(prefix+"log_A_real", rawA, cfg.Rate); err != nil {
		return nil, err
	}
	if err := reg.Register(prefix+"A_imag", aImag, imagRate); err != nil {
		return nil, err
	}

	return &Generator{
		kind:     cfg.Parameterization,
		strict:   cfg.Strict,
		channels: h,
		modes:    modes,
		logDt:    logDt,
		c:        c,
		rawA:     rawA,
		aImag:    aImag,
	}, nil
}

func (g *Generator) Parameterization() Parameterization {
	return g.kind
}

// Strict reports whether Kernel rejects modes with a positive real decay.
func (g *Generator) Strict() bool {
	return g.strict
}

func (g *Generator) Channels() int {
	return g.channels
}

func (g *Generator) Modes() int {
	return g.modes
}

// LogDt returns the (H) log step sizes. The slice is the registered storage.
func (g *Generator) LogDt() []float32 {
	return g.logDt
}

// C returns the (H, N/2) output coupling as interleaved (re, im) pairs.
func (g *Generator) C() []float32 {
	return g.c
}

// RawA returns the (H, N/2) raw decay values.
func (g *Generator) RawA() []float32 {
	return g.rawA
}

// AImag returns the (H, N/2) oscillation frequencies.
func (g *Generator) AImag() []float32 {
	return g.aImag
}

// Decay returns the continuous-time complex decay A of mode n in channel h.
func (g *Generator) Decay(h, n int) (complex64, error) {
	i := h*g.modes + n
	re, err := g.kind.Real(g.rawA[i])
	if err != nil {
		return 0, err
	}
	return complex(re, g.aImag[i]), nil
}

// UnstableModes lists the modes whose decay has a positive real part.
func (g *Generator) UnstableModes() ([]Mode, error) {
	var modes []Mode
	for h := 0; h < g.channels; h++ {
		for n := 0; n < g.modes; n++ {
			a, err := g.Decay(h, n)
			if err != nil {
				return nil, err
			}
			if real(a) > 0 {
				modes = append(modes, Mode{Channel: h, Index: n})
			}
		}
	}
	return modes, nil
}

// discretize returns dt*A and the zero-order-hold coupling C*(exp(dt*A)-1)/A
// for every stored mode, laid out (H, N/2).
func (g *Generator) discretize() ([]complex64, []complex64, error) {
	n := g.channels * g.modes
	dtA := make([]complex64, n)
	cBar := make([]complex64, n)
	for h := 0; h < g.channels; h++ {
		dt := math32.Exp(g.logDt[h])
		for m := 0; m < g.modes; m++ {
			a, err := g.Decay(h, m)
			if err != nil {
				return nil, nil, err
			}
			if g.strict && real(a) > 0 {
				return nil, nil, fmt.Errorf("%w: channel %d mode %d has Re(A) = %g", stablessm.ErrNumericalInstability, h, m, real(a))
			}
			i := h*g.modes + m
			z := a * complex(dt, 0)
			c := complex(g.c[2*i], g.c[2*i+1])
			dtA[i] = z
			// (exp(dt*A)-1)/A == dt * (exp(z)-1)/z, finite as A -> 0.
			cBar[i] = c * complex(dt, 0) * expm1Ratio(z)
		}
	}
	return dtA, cBar, nil
}

// Kernel evaluates the (H, length) convolution kernel
// K[h,l] = 2 Re sum_n cBar[h,n] exp(dtA[h,n] l).
func (g *Generator) Kernel(length int) (blas32.General, error) {
	if length < 1 {
		return blas32.General{}, stablessm.ConfigError("kernel.Kernel", "length must be positive, got %d", length)
	}
	dtA, cBar, err := g.discretize()
	if err != nil {
		return blas32.General{}, err
	}

	k := tensor2d.NewZeros(g.channels, length)
	for h := 0; h < g.channels; h++ {
		row := tensor2d.Row(k, h)
		zs := dtA[h*g.modes : (h+1)*g.modes]
		cs := cBar[h*g.modes : (h+1)*g.modes]
		for l := range row {
			fl := complex(float32(l), 0)
			var sum complex64
			for m, z := range zs {
				sum += cs[m] * cexp(z*fl)
			}
			row[l] = 2 * real(sum)
		}
	}

	for i, e := range k.Data {
		if math32.IsNaN(e) || math32.IsInf(e, 0) {
			return blas32.General{}, fmt.Errorf("%w: kernel value %g at channel %d position %d", stablessm.ErrNumericalInstability, e, i/length, i%length)
		}
	}
	return k, nil
}

func cexp(z complex64) complex64 {
	m := math32.Exp(real(z))
	return complex(m*math32.Cos(imag(z)), m*math32.Sin(imag(z)))
}

// expm1Ratio returns (exp(z)-1)/z.
func expm1Ratio(z complex64) complex64 {
	if abs := math32.Hypot(real(z), imag(z)); abs < seriesThreshold {
		return 1 + z/2 + z*z/6
	}
	return (cexp(z) - 1) / z
}
