package rope

import (
	"fmt"
	"math"
)

// InvFreq returns rotaryDim/2 inverse frequencies 1 / base^(2j/rotaryDim).
// The exponent is formed in float64 so large bases (1e7 and up) keep their
// precision.
func InvFreq(base float64, rotaryDim int) ([]float64, error) {
	if rotaryDim < 2 || rotaryDim%2 != 0 {
		return nil, fmt.Errorf("%w: rotary_dim %d must be even and at least 2", ErrInvalidConfig, rotaryDim)
	}
	if !(base > 0) {
		return nil, fmt.Errorf("%w: base %v must be positive", ErrInvalidConfig, base)
	}
	invFreq := make([]float64, rotaryDim/2)
	for j := range invFreq {
		power := float64(2*j) / float64(rotaryDim)
		invFreq[j] = 1.0 / math.Pow(base, power)
	}
	return invFreq, nil
}
