// Package processing takes care of the logistics around reading, Z-ordering and writing features.
package processing

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"slices"

	"github.com/go-spatial/geom"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/pdok/zorder/geomhelp"
	"github.com/pdok/zorder/grid"
	"github.com/pdok/zorder/morton"
	"github.com/pdok/zorder/zorder"
)

// PageRange describes one written page. Min and Max are the lowest and highest Morton key of the
// features in the page that lie inside the grid. Outside counts the features that do not.
type PageRange struct {
	Min     morton.Z `json:"min"`
	Max     morton.Z `json:"max"`
	Count   int      `json:"count"`
	Outside int      `json:"outside"`
}

// Ranges maps page numbers (in writing order) to their key range
type Ranges = orderedmap.OrderedMap[int, PageRange]

// entry is a feature with its cell key, if it has one
type entry struct {
	feature Feature
	z       morton.Z
	inGrid  bool
}

type keyedEntry[T cmp.Ordered] struct {
	entry
	point zorder.Point[T]
}

// keyFunc maps the representative point of a feature to the point that is compared in Z-order
type keyFunc[T cmp.Ordered] func(geom.Point) (zorder.Point[T], error)

var errNotFinite = errors.New("point has a coordinate that is not finite")

// SortFeatures reads all features from the source, sorts them in Z-order and writes them to the target in pages.
// Features that cannot be placed on the curve are written after all the others, in the order they were read.
func SortFeatures(ctx context.Context, source Source, target Target, g *grid.Grid, config Config) (*Ranges, error) {
	if g == nil {
		return nil, errors.New("no grid to sort on")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	features := make(chan Feature)
	readErr := make(chan error, 1)
	go readFeaturesFromSource(ctx, source, features, readErr)

	var entries []entry
	switch config.Ordering {
	case OrderingFloat:
		comparator, err := zorder.NewFloatComparator(2)
		if err != nil {
			return nil, err
		}
		entries = sortFeatures(features, comparator, floatKey, g, config.LogWktMaxLen)
	default:
		comparator, err := zorder.NewIntComparator[uint](2)
		if err != nil {
			return nil, err
		}
		entries = sortFeatures(features, comparator, g.CellPoint, g, config.LogWktMaxLen)
	}
	if err := <-readErr; err != nil {
		return nil, fmt.Errorf("could not read features: %w", err)
	}

	return writePagesToTarget(ctx, entries, target, config.PageSize)
}

func readFeaturesFromSource(ctx context.Context, source Source, features chan<- Feature, readErr chan<- error) {
	defer close(features)
	readErr <- source.ReadFeatures(ctx, features)
}

func floatKey(point geom.Point) (zorder.Point[float64], error) {
	for _, ord := range point {
		if math.IsNaN(ord) || math.IsInf(ord, 0) {
			return zorder.Point[float64]{}, errNotFinite
		}
	}
	return zorder.NewPoint(point.X(), point.Y()), nil
}

// sortFeatures keys the incoming features and sorts them with the comparator.
// The unkeyed features are appended at the end.
func sortFeatures[T cmp.Ordered](features <-chan Feature, comparator *zorder.Comparator[T], key keyFunc[T], g *grid.Grid, logWktMaxLen uint) []entry {
	var keyed []keyedEntry[T]
	var unkeyed []entry
	var totalCount, outsideCount uint64
	for feature := range features {
		totalCount++
		e := entry{feature: feature}
		point, err := geomhelp.RepresentativePoint(feature.Geometry())
		if err != nil {
			log.Printf("    no representative point for feature %v, writing it last: %v", feature.Columns(), err)
			unkeyed = append(unkeyed, e)
			continue
		}
		if z, err := g.Z(point); err == nil {
			e.z = z
			e.inGrid = true
		} else {
			outsideCount++
		}
		keyPoint, err := key(point)
		if err != nil {
			log.Printf("    cannot order %v, writing it last: %v", geomhelp.WktMustEncode(feature.Geometry(), logWktMaxLen), err)
			unkeyed = append(unkeyed, e)
			continue
		}
		keyed = append(keyed, keyedEntry[T]{entry: e, point: keyPoint})
	}

	slices.SortStableFunc(keyed, func(a, b keyedEntry[T]) int {
		return int(comparator.Compare(a.point, b.point))
	})

	entries := make([]entry, 0, len(keyed)+len(unkeyed))
	for _, k := range keyed {
		entries = append(entries, k.entry)
	}
	entries = append(entries, unkeyed...)

	log.Printf("    total features: %d", totalCount)
	log.Printf("      outside grid: %d", outsideCount)
	log.Printf("           unkeyed: %d", len(unkeyed))
	return entries
}

// writePagesToTarget cuts the sorted entries in pages and hands them to a goroutine that writes them
func writePagesToTarget(ctx context.Context, entries []entry, target Target, pageSize int) (*Ranges, error) {
	pages := make(chan []Feature)
	writeErr := make(chan error, 1)
	go func() {
		writeErr <- writePages(pages, target)
	}()

	ranges := orderedmap.New[int, PageRange]()
	var ctxErr error
	for start, pageNo := 0, 0; start < len(entries); start, pageNo = start+pageSize, pageNo+1 {
		if ctxErr = ctx.Err(); ctxErr != nil {
			break
		}
		page := entries[start:min(start+pageSize, len(entries))]
		features := make([]Feature, len(page))
		for i, e := range page {
			features[i] = e.feature
		}
		ranges.Set(pageNo, pageRange(page))
		pages <- features
	}
	close(pages)

	if err := <-writeErr; err != nil {
		return nil, fmt.Errorf("could not write features: %w", err)
	}
	if ctxErr != nil {
		return nil, ctxErr
	}
	log.Printf("             pages: %d", ranges.Len())
	return ranges, nil
}

// writePages keeps draining the channel after a failure, so the sender never blocks
func writePages(pages <-chan []Feature, target Target) error {
	var err error
	for page := range pages {
		if err != nil {
			continue
		}
		err = target.WritePage(page)
	}
	return err
}

func pageRange(page []entry) PageRange {
	r := PageRange{Count: len(page)}
	first := true
	for _, e := range page {
		if !e.inGrid {
			r.Outside++
			continue
		}
		if first || e.z < r.Min {
			r.Min = e.z
		}
		if first || e.z > r.Max {
			r.Max = e.z
		}
		first = false
	}
	return r
}

// WriteRanges writes the page ranges as a JSON object, in page order
func WriteRanges(w io.Writer, ranges *Ranges) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(ranges)
}
