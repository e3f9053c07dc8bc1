// Package optimizer updates the trainable tensors of a param.Registry between
// forward calls, honoring their per-tensor hints.
package optimizer

import (
	"github.com/sw965/stablessm"
	"github.com/sw965/stablessm/blas32/vector"
	"github.com/sw965/stablessm/param"
	"gonum.org/v1/gonum/blas/blas32"
)

// Momentum is heavy-ball SGD with L2 weight decay. LearningRate and
// WeightDecay are the defaults for tensors whose hints leave them open.
type Momentum struct {
	LearningRate float32
	WeightDecay  float32
	Momentum     float32

	velocity map[string]blas32.Vector
}

func NewMomentum(lr, wd, momentum float32) (*Momentum, error) {
	const op = "optimizer.NewMomentum"
	if !(lr > 0) {
		return nil, stablessm.ConfigError(op, "learning rate must be positive, got %g", lr)
	}
	if wd < 0 {
		return nil, stablessm.ConfigError(op, "weight decay must be non-negative, got %g", wd)
	}
	if !(momentum >= 0 && momentum < 1) {
		return nil, stablessm.ConfigError(op, "momentum has to be in [0, 1), got %g", momentum)
	}
	return &Momentum{
		LearningRate: lr,
		WeightDecay:  wd,
		Momentum:     momentum,
		velocity:     map[string]blas32.Vector{},
	}, nil
}

// Rates resolves the learning rate and weight decay used for t.
func (opt *Momentum) Rates(t *param.Trainable) (float32, float32) {
	lr, wd := opt.LearningRate, opt.WeightDecay
	if t.Hints.HasLearningRate {
		lr = t.Hints.LearningRate
	}
	if t.Hints.HasWeightDecay {
		wd = t.Hints.WeightDecay
	}
	return lr, wd
}

// Step applies v = momentum*v - lr*(g + wd*w); w += v to every trainable
// tensor with an entry in grads. Buffers are never touched. All gradient
// lengths are checked before any tensor is written.
func (opt *Momentum) Step(reg *param.Registry, grads map[string][]float32) error {
	trainables := reg.Trainables()
	for _, t := range trainables {
		g, ok := grads[t.Name]
		if ok && len(g) != len(t.Value) {
			return stablessm.ShapeError("optimizer.Step "+t.Name, []int{len(t.Value)}, []int{len(g)})
		}
	}

	for _, t := range trainables {
		g, ok := grads[t.Name]
		if !ok {
			continue
		}
		lr, wd := opt.Rates(t)
		if lr == 0 {
			continue
		}

		n := len(t.Value)
		w := blas32.Vector{N: n, Inc: 1, Data: t.Value}
		v, ok := opt.velocity[t.Name]
		if !ok {
			v = vector.NewZeros(n)
			opt.velocity[t.Name] = v
		}

		blas32.Scal(opt.Momentum, v)
		blas32.Axpy(-lr, blas32.Vector{N: n, Inc: 1, Data: g}, v)
		if wd != 0 {
			blas32.Axpy(-lr*wd, w, v)
		}
		blas32.Axpy(1, v, w)
	}
	return nil
}

// Reset drops all accumulated velocity.
func (opt *Momentum) Reset() {
	clear(opt.velocity)
}
