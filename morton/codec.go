package morton

import "fmt"

const keyBits = 64

// stage is one mask-and-shift step of the bit spread
type stage struct {
	shift uint
	mask  uint64
}

// Codec interleaves a fixed number of dimensions into a 64-bit key.
// Each dimension gets 64/dims bits.
type Codec struct {
	dims    uint
	bits    uint
	ordMask uint64
	spread  []stage // widest stride first
	gather  []stage // narrowest stride first
}

// NewCodec generates the masks for dims dimensions (1 to 64).
func NewCodec(dims uint) (*Codec, error) {
	if dims == 0 || dims > keyBits {
		return nil, fmt.Errorf("cannot interleave %d dimensions into %d bits: %w", dims, keyBits, ErrDimensions)
	}
	c := &Codec{
		dims: dims,
		bits: keyBits / dims,
	}
	c.ordMask = lowBits(c.bits)
	if dims == 1 {
		return c, nil
	}

	// every stage moves chunks of s bits s*(dims-1) bits up, starting with the largest power of two below bits
	var strides []uint
	for s := uint(1); s < c.bits; s <<= 1 {
		strides = append(strides, s)
	}
	for i := len(strides) - 1; i >= 0; i-- {
		s := strides[i]
		c.spread = append(c.spread, stage{shift: s * (dims - 1), mask: blockMask(s, s*dims)})
	}
	for _, s := range strides {
		mask := c.ordMask
		if 2*s < c.bits {
			mask = blockMask(2*s, 2*s*dims)
		}
		c.gather = append(c.gather, stage{shift: s * (dims - 1), mask: mask})
	}
	return c, nil
}

// MustNewCodec is NewCodec that panics on a bad dimension count.
func MustNewCodec(dims uint) *Codec {
	c, err := NewCodec(dims)
	if err != nil {
		panic(err)
	}
	return c
}

// Dims returns the number of dimensions
func (c *Codec) Dims() uint {
	return c.dims
}

// Bits returns the number of bits available per dimension
func (c *Codec) Bits() uint {
	return c.bits
}

// Encode interleaves the ordinates, one per dimension.
func (c *Codec) Encode(ords ...uint) (Z, error) {
	if uint(len(ords)) != c.dims {
		return 0, fmt.Errorf("got %d ordinates for %d dimensions: %w", len(ords), c.dims, ErrDimensions)
	}
	var z uint64
	for k, ord := range ords {
		o := uint64(ord)
		if o&^c.ordMask != 0 {
			return 0, fmt.Errorf("ordinate %d (%d) does not fit in %d bits: %w", k, ord, c.bits, ErrOutOfRange)
		}
		z |= c.spreadBits(o) << k
	}
	return Z(z), nil
}

// MustEncode is Encode that panics
func (c *Codec) MustEncode(ords ...uint) Z {
	z, err := c.Encode(ords...)
	if err != nil {
		panic(err)
	}
	return z
}

// Decode splits a key into its ordinates. It is the exact inverse of Encode.
func (c *Codec) Decode(z Z) []uint {
	ords := make([]uint, c.dims)
	for k := range ords {
		ords[k] = uint(c.gatherBits(uint64(z) >> k))
	}
	return ords
}

func (c *Codec) spreadBits(o uint64) uint64 {
	for _, st := range c.spread {
		o = (o | o<<st.shift) & st.mask
	}
	return o
}

func (c *Codec) gatherBits(o uint64) uint64 {
	if c.dims == 1 {
		return o
	}
	o &= blockMask(1, c.dims)
	for _, st := range c.gather {
		o = (o ^ o>>st.shift) & st.mask
	}
	return o
}

// blockMask sets the lowest size bits of every period bits
func blockMask(size, period uint) uint64 {
	var m uint64
	for p := uint(0); p < keyBits; p++ {
		if p%period < size {
			m |= 1 << p
		}
	}
	return m
}

func lowBits(n uint) uint64 {
	if n >= keyBits {
		return ^uint64(0)
	}
	return 1<<n - 1
}
