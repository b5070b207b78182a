// Package zorder ranks points on the Z-order (Morton) curve without building their interleaved keys.
//
// For two points the dimension holding the most significant differing bit decides the order;
// only that dimension's ordinates are compared. This gives the same order as sorting by Morton key,
// but it does not overflow when dims * bits exceeds 64 and it also works for real-valued ordinates,
// whose raw IEEE-754 bit patterns cannot be interleaved.
//
// How "the most significant differing bit" is found depends on the kind of ordinate, see Metric.
// Ties at the same bit level go to the higher dimension, which matches morton.ToZ and morton.Codec
// where dimension k is stored above dimension k-1.
//
// Comparators are immutable and safe for concurrent use.
package zorder

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"strings"

	"golang.org/x/exp/constraints"
)

var (
	ErrDimensions        = errors.New("a point needs at least one dimension")
	ErrDimensionMismatch = errors.New("dimension mismatch")
)

// Ordering is the result of comparing two points
type Ordering int

const (
	Less    Ordering = -1
	Equal   Ordering = 0
	Greater Ordering = 1
)

func (o Ordering) String() string {
	switch o {
	case Less:
		return "LESS"
	case Equal:
		return "EQUAL"
	case Greater:
		return "GREATER"
	}
	return fmt.Sprintf("Ordering(%d)", int(o))
}

// Point is an immutable tuple of ordinates
type Point[T cmp.Ordered] struct {
	ords []T
}

// NewPoint copies the ordinates into a new Point.
func NewPoint[T cmp.Ordered](ords ...T) Point[T] {
	return Point[T]{ords: slices.Clone(ords)}
}

func (p Point[T]) Dims() int {
	return len(p.ords)
}

// Ord returns the ordinate in dimension k
func (p Point[T]) Ord(k int) T {
	return p.ords[k]
}

// Ords returns a copy of all ordinates
func (p Point[T]) Ords() []T {
	return slices.Clone(p.ords)
}

func (p Point[T]) Equal(o Point[T]) bool {
	return slices.Equal(p.ords, o.ords)
}

func (p Point[T]) String() string {
	s := make([]string, len(p.ords))
	for i, o := range p.ords {
		s[i] = fmt.Sprint(o)
	}
	return "(" + strings.Join(s, ", ") + ")"
}

// Comparator compares points of a fixed number of dimensions in Z-order.
type Comparator[T cmp.Ordered] struct {
	dims    int
	compare func(a, b []T) Ordering
}

// New makes a Comparator for points with dims dimensions, using metric to find the
// most significant differing bit.
func New[T cmp.Ordered, D any](metric Metric[T, D], dims int) (*Comparator[T], error) {
	if dims < 1 {
		return nil, fmt.Errorf("cannot compare points with %d dimensions: %w", dims, ErrDimensions)
	}
	return &Comparator[T]{
		dims: dims,
		compare: func(a, b []T) Ordering {
			return compareOrds(metric, a, b)
		},
	}, nil
}

// NewIntComparator makes a Comparator for integer ordinates (signed or unsigned).
func NewIntComparator[T constraints.Integer](dims int) (*Comparator[T], error) {
	return New[T, uint64](Ints[T]{}, dims)
}

// NewFloatComparator makes a Comparator for float64 ordinates.
func NewFloatComparator(dims int) (*Comparator[float64], error) {
	return New[float64, floatDiff](Floats{}, dims)
}

func (c *Comparator[T]) Dims() int {
	return c.dims
}

// Compare returns the Z-order of a relative to b.
// It panics when a point does not have the comparator's number of dimensions,
// like a sort routine would on an invalid index.
func (c *Comparator[T]) Compare(a, b Point[T]) Ordering {
	o, err := c.CompareChecked(a, b)
	if err != nil {
		panic(err)
	}
	return o
}

// CompareChecked is Compare that returns an error instead of panicking.
func (c *Comparator[T]) CompareChecked(a, b Point[T]) (Ordering, error) {
	return c.CompareOrds(a.ords, b.ords)
}

// CompareOrds compares raw ordinate slices, avoiding the Point copies in hot loops.
func (c *Comparator[T]) CompareOrds(a, b []T) (Ordering, error) {
	if len(a) != c.dims || len(b) != c.dims {
		return Equal, fmt.Errorf("cannot compare %dD and %dD points with a %dD comparator: %w",
			len(a), len(b), c.dims, ErrDimensionMismatch)
	}
	return c.compare(a, b), nil
}

// Func adapts Compare for slices.SortFunc and friends.
func (c *Comparator[T]) Func() func(a, b Point[T]) int {
	return func(a, b Point[T]) int {
		return int(c.Compare(a, b))
	}
}

// Sort sorts points in Z-order, it panics on a dimension mismatch.
func (c *Comparator[T]) Sort(points []Point[T]) {
	slices.SortFunc(points, c.Func())
}

// SortStable is Sort, but keeps equal points in their original order.
func (c *Comparator[T]) SortStable(points []Point[T]) {
	slices.SortStableFunc(points, c.Func())
}

func (c *Comparator[T]) IsSorted(points []Point[T]) bool {
	return slices.IsSortedFunc(points, c.Func())
}

// CompareInts compares two integer points in Z-order. It panics if their dimensions differ.
func CompareInts[T constraints.Integer](a, b Point[T]) Ordering {
	mustSameDims(a.ords, b.ords)
	return compareOrds[T, uint64](Ints[T]{}, a.ords, b.ords)
}

// CompareFloats compares two float64 points in Z-order. It panics if their dimensions differ.
// The order of points with NaN ordinates is unspecified.
func CompareFloats(a, b Point[float64]) Ordering {
	mustSameDims(a.ords, b.ords)
	return compareOrds[float64, floatDiff](Floats{}, a.ords, b.ords)
}

func mustSameDims[T any](a, b []T) {
	if len(a) != len(b) {
		panic(fmt.Errorf("cannot compare a %dD point with a %dD point: %w", len(a), len(b), ErrDimensionMismatch))
	}
}

// compareOrds finds the dimension with the most significant differing bit and compares a and b in it.
// A zero value D means "no difference".
func compareOrds[T cmp.Ordered, D any](metric Metric[T, D], a, b []T) Ordering {
	var x D
	j := 0
	for k := range a {
		// not less than: on a tie the higher dimension wins
		if y := metric.Diff(a[k], b[k]); !metric.MSBLess(y, x) {
			x = y
			j = k
		}
	}
	return Ordering(cmp.Compare(a[j], b[j]))
}
