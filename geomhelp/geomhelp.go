package geomhelp

import (
	"errors"
	"fmt"

	"github.com/go-spatial/geom"
	"github.com/go-spatial/geom/encoding/wkt"
	"github.com/muesli/reflow/truncate"
)

var ErrEmptyGeometry = errors.New("geometry has no coordinates")

// RepresentativePoint returns the point used to place a geometry on a curve: the centre of its extent.
// A point represents itself.
func RepresentativePoint(g geom.Geometry) (geom.Point, error) {
	switch typed := g.(type) {
	case geom.Point:
		return typed, nil
	case *geom.Point:
		if typed == nil {
			return geom.Point{}, ErrEmptyGeometry
		}
		return *typed, nil
	}
	if g == nil {
		return geom.Point{}, ErrEmptyGeometry
	}
	extent, err := geom.NewExtentFromGeometry(g)
	if err != nil {
		return geom.Point{}, fmt.Errorf("could not determine extent of %T: %w", g, err)
	}
	if extent == nil {
		return geom.Point{}, ErrEmptyGeometry
	}
	return geom.Point{
		extent.MinX() + (extent.MaxX()-extent.MinX())/2,
		extent.MinY() + (extent.MaxY()-extent.MinY())/2,
	}, nil
}

// WktMustEncode encodes a geometry as WKT for log lines, truncated to maxLen (0 is unlimited)
func WktMustEncode(g geom.Geometry, maxLen uint) string {
	if maxLen == 0 {
		return wkt.MustEncode(g)
	}
	return truncate.StringWithTail(wkt.MustEncode(g), maxLen, "...")
}
