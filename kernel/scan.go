package kernel

import (
	"github.com/sw965/stablessm"
	tensor3d "github.com/sw965/stablessm/blas32/tensor/3d"
)

// Scan runs the discretized system as a diagonal recurrence over x (B, H, L):
//
//	s[n] <- exp(dtA[n]) * s[n] + u[l]
//	y[l]  = 2 Re sum_n cBar[n] * s[n]
//
// The result equals the causal convolution of x with Kernel(L). It costs
// O(B*H*L*N) and keeps no state between calls.
func (g *Generator) Scan(x tensor3d.General) (tensor3d.General, error) {
	if x.Channels != g.channels {
		return tensor3d.General{}, stablessm.ShapeError("kernel.Scan", []int{x.Batches, g.channels, x.Length}, x.Shape())
	}
	dtA, cBar, err := g.discretize()
	if err != nil {
		return tensor3d.General{}, err
	}

	dA := make([]complex64, len(dtA))
	for i, z := range dtA {
		dA[i] = cexp(z)
	}

	y := tensor3d.NewZerosLike(x)
	state := make([]complex64, g.modes)
	for b := 0; b < x.Batches; b++ {
		for h := 0; h < g.channels; h++ {
			clear(state)
			ds := dA[h*g.modes : (h+1)*g.modes]
			cs := cBar[h*g.modes : (h+1)*g.modes]
			u := x.Row(b, h)
			out := y.Row(b, h)
			for l, e := range u {
				ue := complex(e, 0)
				var sum complex64
				for n := range state {
					state[n] = ds[n]*state[n] + ue
					sum += cs[n] * state[n]
				}
				out[l] = 2 * real(sum)
			}
		}
	}
	return y, nil
}
