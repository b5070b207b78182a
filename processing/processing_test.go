package processing

import (
	"bytes"
	"context"
	"errors"
	"math"
	"testing"

	"github.com/go-spatial/geom"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdok/zorder/grid"
	"github.com/pdok/zorder/morton"
)

type testFeature struct {
	id       int
	geometry geom.Geometry
}

func (f testFeature) Columns() []interface{} {
	return []interface{}{f.id}
}

func (f testFeature) Geometry() geom.Geometry {
	return f.geometry
}

type testSource struct {
	features []Feature
	err      error
}

func (s testSource) ReadFeatures(ctx context.Context, features chan<- Feature) error {
	for _, f := range s.features {
		if err := ctx.Err(); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case features <- f:
		}
	}
	return s.err
}

type testTarget struct {
	pages  [][]Feature
	failAt int
}

func (t *testTarget) WritePage(features []Feature) error {
	if t.failAt > 0 && len(t.pages)+1 == t.failAt {
		return errors.New("disk full")
	}
	t.pages = append(t.pages, features)
	return nil
}

func (t *testTarget) ids() []int {
	var ids []int
	for _, page := range t.pages {
		for _, f := range page {
			ids = append(ids, f.(testFeature).id)
		}
	}
	return ids
}

// rowMajorFeatures places a feature in the centre of every cell of a size x size grid, row by row.
// The id of a feature is its cell's Morton key.
func rowMajorFeatures(size int) []Feature {
	var features []Feature
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			features = append(features, testFeature{
				id:       int(morton.MustToZ(uint(x), uint(y))),
				geometry: geom.Point{float64(x) + 0.5, float64(y) + 0.5},
			})
		}
	}
	return features
}

func newTestGrid(t *testing.T) *grid.Grid {
	t.Helper()
	g, err := grid.NewGrid(geom.Extent{0, 0, 8, 8}, 3)
	require.NoError(t, err)
	return g
}

func newTestConfig(t *testing.T, ordering Ordering, pageSize int) Config {
	t.Helper()
	config, err := NewConfig()
	require.NoError(t, err)
	config.Ordering = ordering
	config.PageSize = pageSize
	return config
}

func TestSortFeatures(t *testing.T) {
	wantIDs := make([]int, 64)
	for i := range wantIDs {
		wantIDs[i] = i
	}
	for _, ordering := range []Ordering{OrderingGrid, OrderingFloat} {
		t.Run(string(ordering), func(t *testing.T) {
			target := &testTarget{}
			ranges, err := SortFeatures(context.Background(), testSource{features: rowMajorFeatures(8)}, target,
				newTestGrid(t), newTestConfig(t, ordering, 16))
			require.NoError(t, err)

			assert.Equal(t, wantIDs, target.ids())
			require.Len(t, target.pages, 4)
			require.Equal(t, 4, ranges.Len())
			for pageNo := 0; pageNo < 4; pageNo++ {
				r, ok := ranges.Get(pageNo)
				require.True(t, ok)
				assert.Equal(t, PageRange{Min: morton.Z(16 * pageNo), Max: morton.Z(16*pageNo + 15), Count: 16}, r)
			}
		})
	}
}

func TestSortFeatures_lastPageIsPartial(t *testing.T) {
	target := &testTarget{}
	ranges, err := SortFeatures(context.Background(), testSource{features: rowMajorFeatures(8)}, target,
		newTestGrid(t), newTestConfig(t, OrderingGrid, 10))
	require.NoError(t, err)
	require.Len(t, target.pages, 7)
	assert.Len(t, target.pages[6], 4)
	last, ok := ranges.Get(6)
	require.True(t, ok)
	assert.Equal(t, PageRange{Min: 60, Max: 63, Count: 4}, last)
}

func TestSortFeatures_sameCellKeepsReadingOrder(t *testing.T) {
	features := []Feature{
		testFeature{id: 1, geometry: geom.Point{5.1, 5.1}},
		testFeature{id: 2, geometry: geom.Point{0.2, 0.2}},
		testFeature{id: 3, geometry: geom.Point{5.9, 5.9}},
		testFeature{id: 4, geometry: geom.Point{0.8, 0.8}},
		testFeature{id: 5, geometry: geom.Point{5.5, 5.5}},
	}
	target := &testTarget{}
	_, err := SortFeatures(context.Background(), testSource{features: features}, target,
		newTestGrid(t), newTestConfig(t, OrderingGrid, 100))
	require.NoError(t, err)
	assert.Equal(t, []int{2, 4, 1, 3, 5}, target.ids())
}

func TestSortFeatures_outsideAndUnkeyed(t *testing.T) {
	features := []Feature{
		testFeature{id: 1, geometry: geom.Point{7.5, 7.5}},
		testFeature{id: 2, geometry: geom.Point{100, 100}},
		testFeature{id: 3, geometry: nil},
		testFeature{id: 4, geometry: geom.Polygon{{{0, 0}, {1, 0}, {1, 1}, {0, 1}}}},
		testFeature{id: 5, geometry: geom.Point{math.NaN(), 1}},
		testFeature{id: 6, geometry: geom.Point{-1, -1}},
	}

	t.Run("grid", func(t *testing.T) {
		target := &testTarget{}
		ranges, err := SortFeatures(context.Background(), testSource{features: features}, target,
			newTestGrid(t), newTestConfig(t, OrderingGrid, 100))
		require.NoError(t, err)
		// only cells in the grid are ordered, the rest follows in reading order
		assert.Equal(t, []int{4, 1, 2, 3, 5, 6}, target.ids())
		r, ok := ranges.Get(0)
		require.True(t, ok)
		assert.Equal(t, PageRange{Min: 0, Max: 63, Count: 6, Outside: 4}, r)
	})

	t.Run("float", func(t *testing.T) {
		target := &testTarget{}
		ranges, err := SortFeatures(context.Background(), testSource{features: features}, target,
			newTestGrid(t), newTestConfig(t, OrderingFloat, 100))
		require.NoError(t, err)
		// finite points outside the grid are still ordered
		assert.Equal(t, []int{6, 4, 1, 2, 3, 5}, target.ids())
		r, ok := ranges.Get(0)
		require.True(t, ok)
		assert.Equal(t, PageRange{Min: 0, Max: 63, Count: 6, Outside: 4}, r)
	})
}

func TestSortFeatures_empty(t *testing.T) {
	target := &testTarget{}
	ranges, err := SortFeatures(context.Background(), testSource{}, target,
		newTestGrid(t), newTestConfig(t, OrderingGrid, 10))
	require.NoError(t, err)
	assert.Equal(t, 0, ranges.Len())
	assert.Empty(t, target.pages)
}

func TestSortFeatures_errors(t *testing.T) {
	features := rowMajorFeatures(8)

	t.Run("no grid", func(t *testing.T) {
		_, err := SortFeatures(context.Background(), testSource{features: features}, &testTarget{},
			nil, newTestConfig(t, OrderingGrid, 10))
		require.Error(t, err)
	})

	t.Run("invalid config", func(t *testing.T) {
		_, err := SortFeatures(context.Background(), testSource{features: features}, &testTarget{},
			newTestGrid(t), newTestConfig(t, "hilbert", 10))
		require.Error(t, err)
	})

	t.Run("source fails", func(t *testing.T) {
		readErr := errors.New("corrupt row")
		target := &testTarget{}
		_, err := SortFeatures(context.Background(), testSource{features: features, err: readErr}, target,
			newTestGrid(t), newTestConfig(t, OrderingGrid, 10))
		require.ErrorIs(t, err, readErr)
		assert.Empty(t, target.pages)
	})

	t.Run("target fails", func(t *testing.T) {
		target := &testTarget{failAt: 2}
		_, err := SortFeatures(context.Background(), testSource{features: features}, target,
			newTestGrid(t), newTestConfig(t, OrderingGrid, 10))
		require.ErrorContains(t, err, "disk full")
		assert.Len(t, target.pages, 1)
	})

	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := SortFeatures(ctx, testSource{features: features}, &testTarget{},
			newTestGrid(t), newTestConfig(t, OrderingGrid, 10))
		require.ErrorIs(t, err, context.Canceled)
	})
}

func TestWriteRanges(t *testing.T) {
	target := &testTarget{}
	ranges, err := SortFeatures(context.Background(), testSource{features: rowMajorFeatures(4)}, target,
		newTestGrid(t), newTestConfig(t, OrderingGrid, 8))
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteRanges(&buf, ranges))
	assert.JSONEq(t, `{
		"0": {"min": 0, "max": 7, "count": 8, "outside": 0},
		"1": {"min": 8, "max": 15, "count": 8, "outside": 0}
	}`, buf.String())
}
