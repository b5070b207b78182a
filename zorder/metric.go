package zorder

import (
	"cmp"
	"math"
	"math/bits"

	"golang.org/x/exp/constraints"
)

// Metric describes where two ordinates of kind T differ.
// The zero value of D must mean "no difference".
type Metric[T cmp.Ordered, D any] interface {
	// Diff describes the bits in which a and b differ
	Diff(a, b T) D
	// MSBLess reports whether the most significant differing bit of x is strictly below that of y
	MSBLess(x, y D) bool
}

// Ints is the Metric for integer ordinates. The difference is the XOR of the two's complement
// bit patterns, so a sign difference is always the most significant one.
type Ints[T constraints.Integer] struct{}

func (Ints[T]) Diff(a, b T) uint64 {
	return uint64(a) ^ uint64(b)
}

// MSBLess holds exactly when y's highest set bit is above x's, without computing bit positions.
func (Ints[T]) MSBLess(x, y uint64) bool {
	return x < y && x < x^y
}

const (
	mantissaMask = 1<<52 - 1
	// above all 2^e positions of finite float64s
	infPos  = math.MaxInt - 1
	signPos = math.MaxInt
)

// floatDiff is the absolute bit position (as in 2^pos) of the most significant differing bit
type floatDiff struct {
	differ bool
	pos    int
}

// Floats is the Metric for float64 ordinates.
//
// Each value is taken as an exact binary number (sign and magnitude) and the position of the
// most significant differing bit of the magnitudes is derived with math.Frexp:
// different exponents differ in the leading bit of the larger one, equal exponents differ
// where the mantissas differ. A sign difference outranks any magnitude bit and infinities
// rank above every finite bit. -0 and +0 are equal. NaN does not panic but its order is unspecified.
//
// For negative values this ranks the magnitude bits, which is the Z-order of the
// order-preserving encoding "sign bit, then complemented magnitude", so the order stays total.
type Floats struct{}

func (Floats) Diff(a, b float64) floatDiff {
	if a == b {
		return floatDiff{}
	}
	if math.IsNaN(a) || math.IsNaN(b) || (a < 0) != (b < 0) {
		return floatDiff{differ: true, pos: signPos}
	}
	return floatDiff{differ: true, pos: msdb(math.Abs(a), math.Abs(b))}
}

func (Floats) MSBLess(x, y floatDiff) bool {
	if !y.differ {
		return false
	}
	if !x.differ {
		return true
	}
	return x.pos < y.pos
}

// msdb returns the position of the most significant differing bit of two different non-negative numbers
func msdb(x, y float64) int {
	if math.IsInf(x, 1) || math.IsInf(y, 1) {
		return infPos
	}
	if x == 0 {
		return leadingBit(y)
	}
	if y == 0 {
		return leadingBit(x)
	}
	fx, ex := math.Frexp(x)
	fy, ey := math.Frexp(y)
	if ex != ey {
		return max(ex, ey) - 1
	}
	mx := math.Float64bits(fx) & mantissaMask
	my := math.Float64bits(fy) & mantissaMask
	// mantissa bit i weighs 2^(e-53+i)
	return ex - 54 + bits.Len64(mx^my)
}

// leadingBit returns e-1 for x in [2^(e-1), 2^e)
func leadingBit(x float64) int {
	_, e := math.Frexp(x)
	return e - 1
}
