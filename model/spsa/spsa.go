// Package spsa estimates gradients of a scalar loss with respect to the
// trainable tensors of a param.Registry without differentiating the model.
//
// The loss is evaluated against the registry's current values, so estimation
// perturbs the shared storage in place and restores it before returning.
// Buffers are never perturbed.
package spsa

import (
	"fmt"
	"math/rand/v2"

	"github.com/sw965/stablessm"
	"github.com/sw965/stablessm/blas32/vector"
	"github.com/sw965/stablessm/mathx"
	"github.com/sw965/stablessm/param"
	"gonum.org/v1/gonum/blas/blas32"
)

type LossFunc func() (float32, error)

// Grads maps a trainable name to its gradient estimate.
type Grads map[string][]float32

// Estimator draws Rademacher directions and averages Samples two-sided
// differences with step C.
type Estimator struct {
	C       float32
	Samples int
	rng     *rand.Rand
}

func NewEstimator(c float32, samples int, rng *rand.Rand) (*Estimator, error) {
	const op = "spsa.NewEstimator"
	if !(c > 0) {
		return nil, stablessm.ConfigError(op, "perturbation must be positive, got %g", c)
	}
	if samples < 1 {
		return nil, stablessm.ConfigError(op, "samples must be at least 1, got %d", samples)
	}
	if rng == nil {
		return nil, stablessm.ConfigError(op, "a random source is required")
	}
	return &Estimator{C: c, Samples: samples, rng: rng}, nil
}

type snapshot struct {
	trainables []*param.Trainable
	values     []blas32.Vector
}

func take(reg *param.Registry) snapshot {
	ts := reg.Trainables()
	s := snapshot{trainables: ts, values: make([]blas32.Vector, len(ts))}
	for i, t := range ts {
		s.values[i] = vector.Clone(blas32.Vector{N: len(t.Value), Inc: 1, Data: t.Value})
	}
	return s
}

func (s snapshot) restore() {
	for i, t := range s.trainables {
		copy(t.Value, s.values[i].Data)
	}
}

// shift sets every trainable to its snapshot value plus alpha * deltas.
func (s snapshot) shift(alpha float32, deltas []blas32.Vector) {
	for i, t := range s.trainables {
		copy(t.Value, s.values[i].Data)
		blas32.Axpy(alpha, deltas[i], blas32.Vector{N: len(t.Value), Inc: 1, Data: t.Value})
	}
}

func evaluate(op string, loss LossFunc) (float32, error) {
	y, err := loss()
	if err != nil {
		return 0, err
	}
	if !mathx.IsFinite(y) {
		return 0, fmt.Errorf("%w: %s: loss is %g", stablessm.ErrNumericalInstability, op, y)
	}
	return y, nil
}

func newZeroGrads(s snapshot) Grads {
	grads := make(Grads, len(s.trainables))
	for i, t := range s.trainables {
		grads[t.Name] = make([]float32, s.values[i].N)
	}
	return grads
}

// Estimate returns the averaged simultaneous-perturbation gradient.
func (e *Estimator) Estimate(reg *param.Registry, loss LossFunc) (Grads, error) {
	const op = "spsa.Estimate"
	s := take(reg)
	defer s.restore()

	grads := newZeroGrads(s)
	inv := 1.0 / float32(e.Samples)
	deltas := make([]blas32.Vector, len(s.trainables))
	for k := 0; k < e.Samples; k++ {
		for i := range s.trainables {
			deltas[i] = vector.NewRademacher(s.values[i].N, e.rng)
		}

		s.shift(e.C, deltas)
		plus, err := evaluate(op, loss)
		if err != nil {
			return nil, err
		}
		s.shift(-e.C, deltas)
		minus, err := evaluate(op, loss)
		if err != nil {
			return nil, err
		}

		for i, t := range s.trainables {
			g := grads[t.Name]
			for j, d := range deltas[i].Data {
				g[j] += inv * mathx.CentralDifference(plus, minus, e.C*d)
			}
		}
	}
	return grads, nil
}

// Numerical returns the element-by-element central difference gradient with
// step h. It costs two loss evaluations per trainable element.
func Numerical(reg *param.Registry, loss LossFunc, h float32) (Grads, error) {
	const op = "spsa.Numerical"
	if !(h > 0) {
		return nil, stablessm.ConfigError(op, "step must be positive, got %g", h)
	}
	s := take(reg)
	defer s.restore()

	grads := newZeroGrads(s)
	for i, t := range s.trainables {
		g := grads[t.Name]
		for j := range t.Value {
			tmp := s.values[i].Data[j]

			t.Value[j] = tmp + h
			plus, err := evaluate(op, loss)
			if err != nil {
				return nil, err
			}

			t.Value[j] = tmp - h
			minus, err := evaluate(op, loss)
			if err != nil {
				return nil, err
			}

			g[j] = mathx.CentralDifference(plus, minus, h)
			t.Value[j] = tmp
		}
	}
	return grads, nil
}
