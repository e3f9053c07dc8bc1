// Package param holds the per-layer parameter registry.
//
// A tensor is registered once as either a Trainable (visible to an optimizer,
// optionally carrying learning-rate and weight-decay hints) or a Buffer
// (fixed, never updated). The kind never changes after registration.
package param

import (
	"encoding/binary"
	"math"
	"slices"

	"github.com/cespare/xxhash/v2"
	"github.com/sw965/stablessm"
)

// Rate selects how Register stores a tensor.
type Rate struct {
	value float32
	set   bool
}

// Default registers a trainable tensor and leaves the learning rate to the optimizer.
func Default() Rate {
	return Rate{}
}

// Fixed registers a buffer.
func Fixed() Rate {
	return Rate{value: 0, set: true}
}

// LearningRate registers a trainable tensor with its own learning rate.
// A value of exactly 0 is equivalent to Fixed.
func LearningRate(lr float32) Rate {
	return Rate{value: lr, set: true}
}

func (r Rate) IsFixed() bool {
	return r.set && r.value == 0
}

// Value returns the explicit learning rate and whether one was given.
func (r Rate) Value() (float32, bool) {
	return r.value, r.set
}

// Hints are the optimizer overrides attached to a trainable tensor.
// A false Has* flag means "use the optimizer default".
type Hints struct {
	LearningRate    float32
	HasLearningRate bool
	WeightDecay     float32
	HasWeightDecay  bool
}

type Trainable struct {
	Name  string
	Value []float32
	Hints Hints
}

type Buffer struct {
	Name  string
	Value []float32
}

// Registry is an ordered side-table of named tensors. The registry owns no
// update logic; Value slices are shared with the layers that read them and
// with the optimizer that writes them between forward calls.
type Registry struct {
	trainables []*Trainable
	buffers    []*Buffer
	names      map[string]struct{}
}

func NewRegistry() *Registry {
	return &Registry{names: map[string]struct{}{}}
}

func (r *Registry) claim(op, name string) error {
	if name == "" {
		return stablessm.ConfigError(op, "empty parameter name")
	}
	if _, ok := r.names[name]; ok {
		return stablessm.ConfigError(op, "parameter %q already registered", name)
	}
	r.names[name] = struct{}{}
	return nil
}

// Register stores value as a buffer when rate is fixed, otherwise as a
// trainable tensor with zero weight decay and the rate's learning rate.
func (r *Registry) Register(name string, value []float32, rate Rate) error {
	lr, hasLR := rate.Value()
	if lr < 0 {
		return stablessm.ConfigError("param.Register", "negative learning rate %g for %q", lr, name)
	}
	if err := r.claim("param.Register", name); err != nil {
		return err
	}

	if rate.IsFixed() {
		r.buffers = append(r.buffers, &Buffer{Name: name, Value: value})
		return nil
	}

	r.trainables = append(r.trainables, &Trainable{
		Name:  name,
		Value: value,
		Hints: Hints{
			LearningRate:    lr,
			HasLearningRate: hasLR,
			WeightDecay:     0,
			HasWeightDecay:  true,
		},
	})
	return nil
}

// Add stores value as a trainable tensor without hints.
func (r *Registry) Add(name string, value []float32) error {
	if err := r.claim("param.Add", name); err != nil {
		return err
	}
	r.trainables = append(r.trainables, &Trainable{Name: name, Value: value})
	return nil
}

func (r *Registry) Trainables() []*Trainable {
	return r.trainables
}

func (r *Registry) Buffers() []*Buffer {
	return r.buffers
}

func (r *Registry) Len() int {
	return len(r.trainables) + len(r.buffers)
}

// Lookup returns the value registered under name and whether it is trainable.
func (r *Registry) Lookup(name string) ([]float32, bool, bool) {
	for _, t := range r.trainables {
		if t.Name == name {
			return t.Value, true, true
		}
	}
	for _, b := range r.buffers {
		if b.Name == name {
			return b.Value, false, true
		}
	}
	return nil, false, false
}

// Fingerprint hashes every name and value bit pattern in registration order.
func (r *Registry) Fingerprint() uint64 {
	h := xxhash.New()
	var buf [4]byte
	write := func(name string, value []float32) {
		h.WriteString(name)
		for _, v := range value {
			binary.LittleEndian.PutUint32(buf[:], math.Float32bits(v))
			h.Write(buf[:])
		}
	}
	for _, t := range r.trainables {
		write(t.Name, t.Value)
	}
	for _, b := range r.buffers {
		write(b.Name, b.Value)
	}
	return h.Sum64()
}

// Snapshot copies every registered value, trainable and fixed, keyed by name.
func (r *Registry) Snapshot() map[string][]float32 {
	snap := make(map[string][]float32, r.Len())
	for _, t := range r.trainables {
		snap[t.Name] = slices.Clone(t.Value)
	}
	for _, b := range r.buffers {
		snap[b.Name] = slices.Clone(b.Value)
	}
	return snap
}

// Restore copies snap into the registered storage in place. Every registered
// name must be present with its registered length.
func (r *Registry) Restore(snap map[string][]float32) error {
	const op = "param.Restore"
	if len(snap) != r.Len() {
		return stablessm.ConfigError(op, "snapshot holds %d tensors, registry holds %d", len(snap), r.Len())
	}
	restore := func(name string, dst []float32) error {
		src, ok := snap[name]
		if !ok {
			return stablessm.ConfigError(op, "missing parameter %q", name)
		}
		if len(src) != len(dst) {
			return stablessm.ShapeError(op+" "+name, []int{len(dst)}, []int{len(src)})
		}
		return nil
	}
	for _, t := range r.trainables {
		if err := restore(t.Name, t.Value); err != nil {
			return err
		}
	}
	for _, b := range r.buffers {
		if err := restore(b.Name, b.Value); err != nil {
			return err
		}
	}

	for _, t := range r.trainables {
		copy(t.Value, snap[t.Name])
	}
	for _, b := range r.buffers {
		copy(b.Value, snap[b.Name])
	}
	return nil
}
