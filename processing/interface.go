package processing

import (
	"context"

	"github.com/go-spatial/geom"
)

type Feature interface {
	Columns() []interface{}
	Geometry() geom.Geometry
}

// Source sends its features on the channel until it is done or the context is cancelled.
// The channel is owned (and closed) by the caller.
type Source interface {
	ReadFeatures(ctx context.Context, features chan<- Feature) error
}

// Target writes a page of features at once, e.g. in one transaction
type Target interface {
	WritePage(features []Feature) error
}
