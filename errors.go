// Package stablessm holds the error taxonomy shared by every package of the
// diagonal state-space sequence layer.
//
// Callers branch with errors.Is; implementations wrap the sentinels with %w
// and attach the failing operation and the offending values.
package stablessm

import (
	"errors"
	"fmt"
)

// ErrInvalidConfiguration reports a construction parameter outside its
// domain: unknown parameterization, odd state dimension, dropout probability
// outside [0, 1), non-positive sizes, duplicate parameter names.
var ErrInvalidConfiguration = errors.New("stablessm: invalid configuration")

// ErrShapeMismatch reports tensors whose dimensions disagree with what an
// operation expects. The wrapped message names both shapes.
var ErrShapeMismatch = errors.New("stablessm: shape mismatch")

// ErrNumericalInstability reports a kernel that diverged (non-finite values)
// or, in strict mode, a decay whose real part is positive.
var ErrNumericalInstability = errors.New("stablessm: numerical instability")

// ShapeError wraps ErrShapeMismatch with the operation, expected and actual shapes.
func ShapeError(op string, want, got []int) error {
	return fmt.Errorf("%w: %s: want %v, got %v", ErrShapeMismatch, op, want, got)
}

// ConfigError wraps ErrInvalidConfiguration with the operation and a formatted reason.
func ConfigError(op, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", ErrInvalidConfiguration, op, fmt.Sprintf(format, args...))
}
