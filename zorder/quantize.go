package zorder

import (
	"errors"
	"fmt"
	"math"
)

var ErrOutOfRange = errors.New("ordinate outside quantization range")

// Quantizer maps real-valued ordinates onto a fixed-point grid of 2^bits cells per dimension.
// Comparing quantized points with the integer metric (or encoding them with morton.Codec)
// is the simple alternative to comparing floats directly, whenever the range is bounded.
type Quantizer struct {
	min     []float64
	span    []float64
	bits    uint
	cells   float64
	maxCell uint64
}

// NewQuantizer makes a Quantizer for the box [min, max] (inclusive) with bits (1 to 64) per dimension.
// Beyond 53 bits the float64 input has no more precision to offer.
func NewQuantizer(min, max []float64, bits uint) (*Quantizer, error) {
	if len(min) == 0 {
		return nil, ErrDimensions
	}
	if len(min) != len(max) {
		return nil, fmt.Errorf("min has %d and max %d dimensions: %w", len(min), len(max), ErrDimensionMismatch)
	}
	if bits == 0 || bits > 64 {
		return nil, fmt.Errorf("cannot quantize into %d bits", bits)
	}
	q := &Quantizer{
		min:     make([]float64, len(min)),
		span:    make([]float64, len(min)),
		bits:    bits,
		cells:   math.Ldexp(1, int(bits)),
		maxCell: ^uint64(0) >> (64 - bits),
	}
	for k := range min {
		if math.IsNaN(min[k]) || math.IsInf(min[k], 0) || math.IsNaN(max[k]) || math.IsInf(max[k], 0) || !(min[k] < max[k]) || math.IsInf(max[k]-min[k], 0) {
			return nil, fmt.Errorf("invalid range [%v, %v] for dimension %d", min[k], max[k], k)
		}
		q.min[k] = min[k]
		q.span[k] = max[k] - min[k]
	}
	return q, nil
}

func (q *Quantizer) Dims() int {
	return len(q.min)
}

func (q *Quantizer) Bits() uint {
	return q.bits
}

// QuantizeOrd returns the cell of v in dimension k.
func (q *Quantizer) QuantizeOrd(k int, v float64) (uint64, error) {
	r := (v - q.min[k]) / q.span[k]
	if math.IsNaN(r) || r < 0 || r > 1 {
		return 0, fmt.Errorf("%v in dimension %d: %w", v, k, ErrOutOfRange)
	}
	c := math.Floor(r * q.cells)
	if c >= q.cells {
		// the max is inclusive
		return q.maxCell, nil
	}
	return uint64(c), nil
}

// Quantize returns the cell coordinates of p.
func (q *Quantizer) Quantize(p Point[float64]) (Point[uint64], error) {
	if p.Dims() != q.Dims() {
		return Point[uint64]{}, fmt.Errorf("cannot quantize a %dD point with a %dD quantizer: %w", p.Dims(), q.Dims(), ErrDimensionMismatch)
	}
	cells := make([]uint64, p.Dims())
	for k, v := range p.ords {
		c, err := q.QuantizeOrd(k, v)
		if err != nil {
			return Point[uint64]{}, err
		}
		cells[k] = c
	}
	return Point[uint64]{ords: cells}, nil
}
