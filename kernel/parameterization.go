package kernel

import (
	"fmt"
	"math"

	"github.com/chewxy/math32"
	"github.com/sw965/stablessm"
)

// Parameterization maps the raw decay parameter to the real part of A.
type Parameterization int

const (
	// Exp uses -exp(raw).
	Exp Parameterization = iota
	// Softplus uses -log(1+exp(raw)).
	Softplus
	// Best uses -1/(raw^2+0.1), bounded below by -10.
	Best
	// Direct uses raw unchanged. Stability is the caller's responsibility.
	Direct
)

var parameterizationNames = [...]string{
	Exp:      "exp",
	Softplus: "softplus",
	Best:     "best",
	Direct:   "direct",
}

func ParseParameterization(name string) (Parameterization, error) {
	for p, s := range parameterizationNames {
		if s == name {
			return Parameterization(p), nil
		}
	}
	return 0, stablessm.ConfigError("kernel.ParseParameterization", "unknown parameterization %q", name)
}

func (p Parameterization) String() string {
	if p.Validate() != nil {
		return fmt.Sprintf("Parameterization(%d)", int(p))
	}
	return parameterizationNames[p]
}

func (p Parameterization) Validate() error {
	switch p {
	case Exp, Softplus, Best, Direct:
		return nil
	}
	return stablessm.ConfigError("kernel.Parameterization", "unknown parameterization %d", int(p))
}

// Real returns the real part of the continuous-time decay for a raw value.
func (p Parameterization) Real(raw float32) (float32, error) {
	switch p {
	case Exp:
		return -math32.Exp(raw), nil
	case Softplus:
		return -softplus(raw), nil
	case Best:
		return -1.0 / (raw*raw + 0.1), nil
	case Direct:
		return raw, nil
	}
	return 0, p.Validate()
}

// Raw returns the raw value whose real decay is -weight. Every
// parameterization, Direct included, therefore starts with decaying modes.
func (p Parameterization) Raw(weight float64) (float32, error) {
	switch p {
	case Exp:
		return float32(math.Log(weight)), nil
	case Softplus:
		return float32(math.Log(math.Expm1(weight))), nil
	case Best:
		return float32(math.Sqrt(math.Max(1.0/weight-0.1, 1e-6))), nil
	case Direct:
		return float32(-weight), nil
	}
	return 0, p.Validate()
}

func softplus(x float32) float32 {
	if x > 0 {
		return x + math32.Log1p(math32.Exp(-x))
	}
	return math32.Log1p(math32.Exp(x))
}
