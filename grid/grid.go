// Package grid quantizes real coordinates onto a square 2^level x 2^level grid, so that they can be
// put on a Z-order curve.
package grid

import (
	"errors"
	"fmt"
	"io"

	"github.com/go-spatial/geom"
	"github.com/go-spatial/geom/encoding/wkt"

	"github.com/pdok/zorder/intgeom"
	"github.com/pdok/zorder/mathhelp"
	"github.com/pdok/zorder/morton"
	"github.com/pdok/zorder/tms20"
	"github.com/pdok/zorder/zorder"
)

const (
	VectorTileInternalPixelResolution = 16
	// MaxLevel is the deepest level of which the cell coordinates still fit a morton.Z
	MaxLevel = 32
)

var ErrOutsideGrid = errors.New("point is outside the grid")

type Level = uint

// Grid divides an extent in 2^level columns and 2^level rows.
// Cells include their left and bottom edges. The right and top edges of the whole grid are
// included in the last column and row.
type Grid struct {
	intExtent intgeom.Extent
	level     Level
	// Number of cells in one direction (= 2 ^ level)
	size uint
	xRes intgeom.M
	yRes intgeom.M
}

// NewGrid creates a grid over an extent
func NewGrid(extent geom.Extent, level Level) (*Grid, error) {
	if level > MaxLevel {
		return nil, fmt.Errorf("level %v is too deep, the maximum is %v", level, MaxLevel)
	}
	intExtent := intgeom.FromGeomExtent(extent)
	if intExtent.XSpan() <= 0 || intExtent.YSpan() <= 0 {
		return nil, fmt.Errorf("extent %v has no area", extent)
	}
	size := mathhelp.Pow2(level)
	g := Grid{
		intExtent: intExtent,
		level:     level,
		size:      size,
		xRes:      intExtent.XSpan() / int64(size),
		yRes:      intExtent.YSpan() / int64(size),
	}
	if g.xRes == 0 || g.yRes == 0 {
		return nil, fmt.Errorf("level %v is too deep for extent %v, cells would be smaller than %v",
			level, extent, intgeom.PrintWithDecimals(1, intgeom.Precision))
	}
	return &g, nil
}

// FromTileMatrixSet creates a grid over the bounding box of a quad tree tile matrix set, deep enough
// to distinguish the internal pixels of the vector tiles at deepestTMID.
func FromTileMatrixSet(tileMatrixSet tms20.TileMatrixSet, deepestTMID tms20.TMID) (*Grid, error) {
	if err := tileMatrixSet.IsQuadTree(); err != nil {
		return nil, fmt.Errorf("tile matrix set %v is not usable as a grid: %w", tileMatrixSet.ID, err)
	}
	if _, exists := tileMatrixSet.TileMatrices[deepestTMID]; !exists {
		return nil, fmt.Errorf("tile matrix set %v has no tile matrix %v", tileMatrixSet.ID, deepestTMID)
	}
	rootTM := tileMatrixSet.TileMatrices[0]
	tileLevels, ok := mathhelp.Log2(rootTM.TileWidth)
	if !ok {
		return nil, fmt.Errorf("tile width %v is not a power of two", rootTM.TileWidth)
	}
	pixelLevels, _ := mathhelp.Log2(VectorTileInternalPixelResolution)
	bottomLeft, topRight, err := tileMatrixSet.MatrixBoundingBox(0)
	if err != nil {
		return nil, fmt.Errorf(`could not make grid from TileMatrixSet %v: %w`, tileMatrixSet.ID, err)
	}
	return NewGrid(geom.Extent{bottomLeft.X(), bottomLeft.Y(), topRight.X(), topRight.Y()},
		uint(deepestTMID)+tileLevels+pixelLevels)
}

func (g *Grid) Level() Level {
	return g.level
}

// Size is the number of cells in one direction
func (g *Grid) Size() uint {
	return g.size
}

func (g *Grid) Extent() geom.Extent {
	return g.intExtent.ToGeomExtent()
}

// Cell returns the column and row of the cell that contains the point
func (g *Grid) Cell(point geom.Point) (x, y uint, err error) {
	// checked as floats first, NaN and huge ords do not convert to fixed point
	extent := g.Extent()
	if !(extent.MinX() <= point.X() && point.X() <= extent.MaxX() && extent.MinY() <= point.Y() && point.Y() <= extent.MaxY()) {
		return 0, 0, fmt.Errorf("%w: %v not in %v", ErrOutsideGrid, point, extent)
	}
	intPoint := intgeom.FromGeomPoint(point)
	if !g.intExtent.ContainsPoint(intPoint) {
		return 0, 0, fmt.Errorf("%w: %v not in %v", ErrOutsideGrid, point, g.Extent())
	}
	x = min(uint((intPoint.X()-g.intExtent.MinX())/g.xRes), g.size-1)
	y = min(uint((intPoint.Y()-g.intExtent.MinY())/g.yRes), g.size-1)
	return x, y, nil
}

// CellPoint returns the cell as a point that can be compared in Z-order
func (g *Grid) CellPoint(point geom.Point) (zorder.Point[uint], error) {
	x, y, err := g.Cell(point)
	if err != nil {
		return zorder.Point[uint]{}, err
	}
	return zorder.NewPoint(x, y), nil
}

// Z returns the Morton key of the cell that contains the point
func (g *Grid) Z(point geom.Point) (morton.Z, error) {
	x, y, err := g.Cell(point)
	if err != nil {
		return 0, err
	}
	return morton.MustToZ(x, y), nil
}

// CellExtent returns the extent of the cell with the given key and its centroid
func (g *Grid) CellExtent(z morton.Z) (geom.Extent, geom.Point, error) {
	x, y := morton.FromZ(z)
	if x >= g.size || y >= g.size {
		return geom.Extent{}, geom.Point{}, fmt.Errorf("%w: cell %v (%v, %v) with %v cells per axis", ErrOutsideGrid, z, x, y, g.size)
	}
	intMinX := g.intExtent.MinX() + int64(x)*g.xRes
	intMinY := g.intExtent.MinY() + int64(y)*g.yRes
	intExtent := intgeom.Extent{intMinX, intMinY, intMinX + g.xRes, intMinY + g.yRes}
	intCentroid := intgeom.Point{intMinX + g.xRes/2, intMinY + g.yRes/2}
	return intExtent.ToGeomExtent(), intCentroid.ToGeomPoint(), nil
}

// ToWkt writes the cells with the given keys as WKT polygons, one per line. For debugging/visualising.
func (g *Grid) ToWkt(writer io.Writer, zs ...morton.Z) error {
	for _, z := range zs {
		extent, _, err := g.CellExtent(z)
		if err != nil {
			return err
		}
		if err = wkt.Encode(writer, extent); err != nil {
			return err
		}
		if _, err = fmt.Fprintf(writer, "\n"); err != nil {
			return err
		}
	}
	return nil
}
