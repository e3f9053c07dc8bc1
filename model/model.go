// Package model stacks diagonal state-space blocks into residual layers and
// exposes the pooled or full-sequence forward pass.
package model

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/sw965/stablessm"
	tensor3d "github.com/sw965/stablessm/blas32/tensor/3d"
	"github.com/sw965/stablessm/layer"
	"github.com/sw965/stablessm/param"
	"gonum.org/v1/gonum/blas/blas32"
)

// Output holds either the (B, L, H) or (B, H, L) sequence, depending on the
// input layout, or the (B, H) length average when IsPooled is set.
type Output struct {
	Sequence tensor3d.General
	Pooled   blas32.General
	IsPooled bool
}

type Stack struct {
	Config *Config
	Blocks layer.Sequence
	SSMs   []*layer.SSM

	reg *param.Registry
	log *logrus.Logger
}

func New(cfg *Config, rng *rand.Rand) (*Stack, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if rng == nil {
		return nil, stablessm.ConfigError("model.New", "a random source is required")
	}

	reg := param.NewRegistry()
	kc := cfg.kernelConfig()
	kc.Rate = param.LearningRate(cfg.KernelRate())

	s := &Stack{
		Config: cfg,
		Blocks: make(layer.Sequence, 0, cfg.Layers),
		SSMs:   make([]*layer.SSM, 0, cfg.Layers),
		reg:    reg,
		log:    cfg.logger(),
	}

	for i := 0; i < cfg.Layers; i++ {
		ssm, err := layer.NewSSM(reg, fmt.Sprintf("layers.%d.", i), layer.SSMConfig{
			Kernel:     kc,
			Dropout:    cfg.Dropout,
			Transposed: true,
		}, rng)
		if err != nil {
			return nil, err
		}
		norm, err := layer.NewLayerNorm(reg, fmt.Sprintf("norms.%d.", i), cfg.Channels)
		if err != nil {
			return nil, err
		}
		drop, err := layer.NewDropout(cfg.Dropout, true)
		if err != nil {
			return nil, err
		}

		s.SSMs = append(s.SSMs, ssm)
		s.Blocks = append(s.Blocks, &layer.Residual{
			Block:   ssm,
			Norm:    norm,
			Dropout: drop,
			PreNorm: cfg.PreNorm,
		})
	}

	norm := "post"
	if cfg.PreNorm {
		norm = "pre"
	}
	s.log.WithFields(logrus.Fields{
		"channels":         cfg.Channels,
		"state_dim":        cfg.StateDim,
		"layers":           cfg.Layers,
		"parameterization": cfg.Parameterization,
		"norm":             norm,
	}).Debug("state-space stack constructed")

	if _, err := s.CheckStability(); err != nil {
		return nil, err
	}
	return s, nil
}

// Registry returns the shared parameter registry of every block.
func (s *Stack) Registry() *param.Registry {
	return s.reg
}

// CheckStability logs every mode with a growing decay and returns how many
// there are. Only the Direct parameterization can produce them.
func (s *Stack) CheckStability() (int, error) {
	var n int
	for i, ssm := range s.SSMs {
		modes, err := ssm.Kernel.UnstableModes()
		if err != nil {
			return 0, err
		}
		for _, m := range modes {
			a, err := ssm.Kernel.Decay(m.Channel, m.Index)
			if err != nil {
				return 0, err
			}
			s.log.WithFields(logrus.Fields{
				"layer":   i,
				"channel": m.Channel,
				"mode":    m.Index,
				"real":    real(a),
			}).Warn("mode has a positive real decay")
		}
		n += len(modes)
	}
	return n, nil
}

// Forward runs every residual block over x. training enables dropout, whose
// masks are drawn from rng. The Stack keeps no random state, so goroutines
// running Forward concurrently must each pass their own rng.
func (s *Stack) Forward(x tensor3d.General, training bool, rng *rand.Rand) (Output, error) {
	h := s.Config.Channels
	if s.Config.Transposed {
		if x.Channels != h {
			return Output{}, stablessm.ShapeError("model.Forward", []int{x.Batches, h, x.Length}, x.Shape())
		}
	} else {
		if x.Length != h {
			return Output{}, stablessm.ShapeError("model.Forward", []int{x.Batches, x.Channels, h}, x.Shape())
		}
		x = x.Transpose021()
	}

	y, err := s.Blocks.Apply(x, training, rng)
	if err != nil {
		return Output{}, err
	}

	if !s.Config.ReturnSequence {
		return Output{Pooled: y.MeanLength(), IsPooled: true}, nil
	}
	if !s.Config.Transposed {
		y = y.Transpose021()
	}
	return Output{Sequence: y}, nil
}

// WriteJSON stores every registered tensor by name.
func (s *Stack) WriteJSON(path string) error {
	data, err := json.Marshal(s.reg.Snapshot())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func LoadParameterJSON(path string) (map[string][]float32, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var snap map[string][]float32
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("model.LoadParameterJSON: %w", err)
	}
	return snap, nil
}

// SetParameters copies snap into the registry and re-checks stability.
func (s *Stack) SetParameters(snap map[string][]float32) error {
	if err := s.reg.Restore(snap); err != nil {
		return err
	}
	_, err := s.CheckStability()
	return err
}
