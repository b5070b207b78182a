// Package intgeom resembles github.com/go-spatial/geom but uses int64s internally
// to avoid floating point errors when dividing an extent into grid cells.
//
// An ordinate is stored as a fixed-point number with Precision decimals.
// That leaves 9 digits for the whole units of measurement in your SRS,
// enough for degrees and for metres or feet on earth.
// The fixed-point ords are what the grid quantizes into cell coordinates for Z-ordering.
package intgeom

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

const (
	Precision = 10
	Half      = 5000000000
	One       = 10000000000
)

// M is short for measure.
// Used to indicate that a distance or ordinate is saved as an int64 and needs division by Precision (eventually).
type M = int64

// ToGeomOrd turns an ordinate represented as an integer back into a floating point
func ToGeomOrd(o M) float64 {
	if o == 0 {
		return 0.0
	}
	return float64(o) / One
}

// FromGeomOrd turns a floating point ordinate into a representation by an integer.
// Rounds half away from zero, so negative ords are not biased towards zero.
func FromGeomOrd(o float64) M {
	return int64(math.Round(o * One))
}

// PrintWithDecimals formats a fixed-point ordinate with n decimals, without going through a float.
func PrintWithDecimals(o M, n uint) string {
	sign := ""
	if o < 0 {
		sign = "-"
		o = -o
	}
	s := fmt.Sprintf("%0"+strconv.Itoa(Precision+1)+"d", o)
	l := len(s)
	m := s[l-Precision : l]
	if n < Precision {
		m = m[0:n]
	} else {
		m += strings.Repeat("0", int(n-Precision))
	}
	c := s[0 : l-Precision]
	if n == 0 {
		return sign + c
	}
	return sign + c + "." + m
}
