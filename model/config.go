package model

import (
	"io"

	"github.com/sirupsen/logrus"
	"github.com/sw965/stablessm"
	"github.com/sw965/stablessm/kernel"
)

// Config holds the construction parameters of a Stack.
type Config struct {
	Channels         int
	StateDim         int
	Dropout          float32
	Layers           int
	Parameterization kernel.Parameterization
	PreNorm          bool
	ReturnSequence   bool
	// Transposed means inputs are (B, H, L). Otherwise they are (B, L, H).
	Transposed bool
	// Dt caps the learning rate hint of the kernel parameters at min(0.001, Dt).
	Dt        float64
	DtMin     float64
	DtMax     float64
	TrainImag bool
	Strict    bool
	Logger    *logrus.Logger
}

// ConfigOption is a functional option for Config.
type ConfigOption func(*Config)

// NewConfig creates a new Config with default values.
func NewConfig(opts ...ConfigOption) *Config {
	c := &Config{
		Channels:         256,
		StateDim:         64,
		Dropout:          0.2,
		Layers:           4,
		Parameterization: kernel.Exp,
		Dt:               0.33,
		DtMin:            0.001,
		DtMax:            0.1,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// KernelRate is the learning rate hint attached to log_dt, log_A_real and A_imag.
func (c *Config) KernelRate() float32 {
	return float32(min(0.001, c.Dt))
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	const op = "model.Config"
	if c.Layers < 1 {
		return stablessm.ConfigError(op, "layers must be at least 1, got %d", c.Layers)
	}
	if !(c.Dropout >= 0 && c.Dropout < 1) {
		return stablessm.ConfigError(op, "dropout has to be in [0, 1), got %g", c.Dropout)
	}
	if !(c.Dt > 0) {
		return stablessm.ConfigError(op, "dt must be positive, got %g", c.Dt)
	}
	return c.kernelConfig().Validate()
}

func (c *Config) kernelConfig() kernel.Config {
	kc := kernel.NewConfig(c.Channels, c.StateDim)
	kc.DtMin = c.DtMin
	kc.DtMax = c.DtMax
	kc.Parameterization = c.Parameterization
	kc.TrainImag = c.TrainImag
	kc.Strict = c.Strict
	return kc
}

func (c *Config) logger() *logrus.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// WithChannels sets the model width H.
func WithChannels(n int) ConfigOption {
	return func(c *Config) {
		c.Channels = n
	}
}

// WithStateDim sets the state dimension N, which must be even.
func WithStateDim(n int) ConfigOption {
	return func(c *Config) {
		c.StateDim = n
	}
}

// WithDropout sets the dropout probability of every block and residual branch.
func WithDropout(p float32) ConfigOption {
	return func(c *Config) {
		c.Dropout = p
	}
}

// WithLayers sets the number of residual blocks.
func WithLayers(n int) ConfigOption {
	return func(c *Config) {
		c.Layers = n
	}
}

// WithParameterization sets how raw decays map to Re(A).
func WithParameterization(p kernel.Parameterization) ConfigOption {
	return func(c *Config) {
		c.Parameterization = p
	}
}

// WithPreNorm selects pre-norm residual blocks instead of post-norm.
func WithPreNorm(b bool) ConfigOption {
	return func(c *Config) {
		c.PreNorm = b
	}
}

// WithReturnSequence returns the full sequence instead of the length average.
func WithReturnSequence(b bool) ConfigOption {
	return func(c *Config) {
		c.ReturnSequence = b
	}
}

// WithTransposed sets the input layout to (B, H, L).
func WithTransposed(b bool) ConfigOption {
	return func(c *Config) {
		c.Transposed = b
	}
}

// WithDt sets the step that bounds the kernel learning rate hint.
func WithDt(dt float64) ConfigOption {
	return func(c *Config) {
		c.Dt = dt
	}
}

// WithDtRange sets the initialization range of the discretization step.
func WithDtRange(lo, hi float64) ConfigOption {
	return func(c *Config) {
		c.DtMin = lo
		c.DtMax = hi
	}
}

// WithTrainImag makes A_imag trainable.
func WithTrainImag(b bool) ConfigOption {
	return func(c *Config) {
		c.TrainImag = b
	}
}

// WithStrict rejects growing modes at forward time.
func WithStrict(b bool) ConfigOption {
	return func(c *Config) {
		c.Strict = b
	}
}

// WithLogger sets the logger used for construction and stability messages.
func WithLogger(l *logrus.Logger) ConfigOption {
	return func(c *Config) {
		c.Logger = l
	}
}
