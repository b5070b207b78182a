// Package morton interleaves the bits of integer coordinates into a single Z-order (Morton) key
// and back.
//
// Bit i of dimension k ends up at bit D*i+k of the key, so at every bit level the highest
// dimension is the most significant one.
package morton

import (
	"errors"
	"fmt"
	"math"
)

// Z is a Morton key
type Z = uint

var (
	ErrOutOfRange = errors.New("ordinate out of range")
	ErrDimensions = errors.New("wrong number of dimensions")
)

var (
	masks = [...]uint{
		0b0101010101010101010101010101010101010101010101010101010101010101,
		0b0011001100110011001100110011001100110011001100110011001100110011,
		0b0000111100001111000011110000111100001111000011110000111100001111,
		0b0000000011111111000000001111111100000000111111110000000011111111,
		0b0000000000000000111111111111111100000000000000001111111111111111,
		0b0000000000000000000000000000000011111111111111111111111111111111,
	}
	powersOfTwo = [...]uint{0, 1, 2, 4, 8, 16}
)

// Interleave spreads x over the even and y over the odd bits of a 32-bit key.
func Interleave(x, y uint16) uint32 {
	return part1By1(x) | part1By1(y)<<1
}

// Deinterleave is the inverse of Interleave.
func Deinterleave(z uint32) (x, y uint16) {
	return compact1By1(z), compact1By1(z >> 1)
}

func part1By1(v uint16) uint32 {
	n := uint32(v)
	n = (n | n<<8) & 0x00FF00FF
	n = (n | n<<4) & 0x0F0F0F0F
	n = (n | n<<2) & 0x33333333
	n = (n | n<<1) & 0x55555555
	return n
}

func compact1By1(n uint32) uint16 {
	n &= 0x55555555
	n = (n ^ n>>1) & 0x33333333
	n = (n ^ n>>2) & 0x0F0F0F0F
	n = (n ^ n>>4) & 0x00FF00FF
	n = (n ^ n>>8) & 0x0000FFFF
	return uint16(n)
}

// ToZ interleaves two 32-bit ordinates into a 64-bit key.
// ok is false if either ordinate does not fit in 32 bits, z is garbage then.
func ToZ(x, y uint) (z Z, ok bool) {
	ok = x <= math.MaxUint32 && y <= math.MaxUint32
	for i := 4; i >= 0; i-- {
		x = (x | (x << powersOfTwo[i+1])) & masks[i]
		y = (y | (y << powersOfTwo[i+1])) & masks[i]
	}
	z = x | (y << 1)
	return z, ok
}

func MustToZ(x, y uint) Z {
	z, ok := ToZ(x, y)
	if !ok {
		panic(fmt.Errorf(`cannot make Z out of %v and %v: %w`, x, y, ErrOutOfRange))
	}
	return z
}

func FromZ(z Z) (x, y uint) {
	x = z & masks[0]
	y = (z >> 1) & masks[0]
	for i := 1; i <= 5; i++ {
		x = (x ^ (x >> powersOfTwo[i])) & masks[i]
		y = (y ^ (y >> powersOfTwo[i])) & masks[i]
	}
	return x, y
}
