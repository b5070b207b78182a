package mathhelp

import "math/bits"

func Pow2(n uint) uint {
	return 1 << n
}

// Log2 returns n for 2^n, false if the argument is not a power of two
func Log2(p uint) (uint, bool) {
	if p == 0 || p&(p-1) != 0 {
		return 0, false
	}
	return uint(bits.TrailingZeros(p)), true
}
