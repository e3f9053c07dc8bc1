package mathx

import (
	"github.com/chewxy/math32"
)

// CentralDifference returns (f(x+h) - f(x-h)) / 2h given both evaluations.
func CentralDifference(plusY, minusY, h float32) float32 {
	return (plusY - minusY) / (2.0 * h)
}

func IsFinite(x float32) bool {
	return !math32.IsNaN(x) && !math32.IsInf(x, 0)
}
