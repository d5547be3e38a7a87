package domain

import (
	"math"
	"math/bits"
)

// MulDiv returns floor(a*b/d) computed through a 128-bit intermediate, so
// the product a*b cannot overflow. When the quotient does not fit in 64
// bits (including d == 0) the result saturates to MaxUint64; settlement
// formulas always divide by a value at least as large as one factor, so
// their quotients fit.
func MulDiv(a, b, d uint64) uint64 {
	hi, lo := bits.Mul64(a, b)
	if hi >= d {
		return math.MaxUint64
	}
	q, _ := bits.Div64(hi, lo, d)
	return q
}
