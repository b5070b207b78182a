package gpkg

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-spatial/geom"
	"github.com/go-spatial/geom/encoding/gpkg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdok/zorder/grid"
	"github.com/pdok/zorder/processing"
)

var testTable = Table{
	Name: "buildings",
	columns: []column{
		{cid: 0, name: "fid", ctype: "INTEGER", notnull: 1, pk: 1},
		{cid: 1, name: "geom", ctype: "POLYGON"},
		{cid: 2, name: "name", ctype: "TEXT"},
		{cid: 3, name: "height", ctype: "REAL", notnull: 1},
	},
	gcolumn: "geom",
	gtype:   gpkg.Polygon,
}

func TestTable_createSQL(t *testing.T) {
	assert.Equal(t,
		`CREATE TABLE IF NOT EXISTS "buildings"("fid" INTEGER NOT NULL PRIMARY KEY, "geom" POLYGON, "name" TEXT, "height" REAL NOT NULL);`,
		testTable.createSQL())
}

func TestTable_selectSQL(t *testing.T) {
	assert.Equal(t, `SELECT "fid","geom","name","height" FROM "buildings";`, testTable.selectSQL())
}

func TestTable_insertSQL(t *testing.T) {
	assert.Equal(t, `INSERT INTO "buildings"("fid","name","height","geom") VALUES(?,?,?,?)`, testTable.insertSQL())
}

func TestGeometryTypeFromString(t *testing.T) {
	tests := map[string]gpkg.GeometryType{
		"GEOMETRY":           gpkg.Geometry,
		"point":              gpkg.Point,
		"LineString":         gpkg.Linestring,
		"POLYGON":            gpkg.Polygon,
		"MULTIPOINT":         gpkg.MultiPoint,
		"MULTILINESTRING":    gpkg.MultiLinestring,
		"MULTIPOLYGON":       gpkg.MultiPolygon,
		"GEOMETRYCOLLECTION": gpkg.GeometryCollection,
		"CURVEPOLYGON":       gpkg.Geometry,
	}
	for s, want := range tests {
		assert.Equalf(t, want, geometryTypeFromString(s), "geometryTypeFromString(%v)", s)
	}
}

func TestColumnValue(t *testing.T) {
	now := time.Now()
	tests := []struct {
		val  interface{}
		want interface{}
	}{
		{val: []byte("abc"), want: "abc"},
		{val: int64(42), want: int64(42)},
		{val: 1.5, want: 1.5},
		{val: "x", want: "x"},
		{val: now, want: now},
		{val: true, want: true},
		{val: nil, want: nil},
	}
	for _, tt := range tests {
		got, err := columnValue(tt.val)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}

	_, err := columnValue(int32(1))
	require.Error(t, err)
}

func TestDecodeGeometry(t *testing.T) {
	g, err := decodeGeometry(nil)
	require.NoError(t, err)
	assert.Nil(t, g)

	_, err = decodeGeometry("POINT (1 2)")
	require.Error(t, err)
}

var pointTable = Table{
	Name: "addresses",
	columns: []column{
		{cid: 0, name: "fid", ctype: "INTEGER", notnull: 1, pk: 1},
		{cid: 1, name: "geom", ctype: "POINT"},
		{cid: 2, name: "name", ctype: "TEXT"},
	},
	gcolumn: "geom",
	gtype:   gpkg.Point,
	srs:     gpkg.KnownSRS[4326],
}

// writeSourceGeopackage creates a GeoPackage with pointTable and the given features in it
func writeSourceGeopackage(t *testing.T, file string, features ...processing.Feature) {
	t.Helper()
	seed, err := NewTargetGeopackage(file, true)
	require.NoError(t, err)
	defer seed.Close()
	require.NoError(t, seed.CreateTables([]Table{pointTable}))
	seed.Table = pointTable
	require.NoError(t, seed.WritePage(features))
}

func readAllFeatures(t *testing.T, source *SourceGeopackage) []processing.Feature {
	t.Helper()
	features := make(chan processing.Feature, 100)
	require.NoError(t, source.ReadFeatures(context.Background(), features))
	close(features)
	var all []processing.Feature
	for f := range features {
		all = append(all, f)
	}
	return all
}

func tableExtent(t *testing.T, h *gpkg.Handle, table string) [4]float64 {
	t.Helper()
	var e [4]float64
	err := h.QueryRow(`SELECT min_x, min_y, max_x, max_y FROM gpkg_contents WHERE table_name = ?`, table).
		Scan(&e[0], &e[1], &e[2], &e[3])
	require.NoError(t, err)
	return e
}

func TestGeopackage_sortFeatures(t *testing.T) {
	dir := t.TempDir()
	sourceFile := filepath.Join(dir, "source.gpkg")
	targetFile := filepath.Join(dir, "target.gpkg")
	writeSourceGeopackage(t, sourceFile,
		featureGPKG{columns: []interface{}{int64(1), "far"}, geometry: geom.Point{3.5, 4.5}},
		featureGPKG{columns: []interface{}{int64(2), "near"}, geometry: geom.Point{1.5, 2.5}},
		featureGPKG{columns: []interface{}{int64(3), nil}, geometry: nil},
	)

	source, err := NewSourceGeopackage(sourceFile)
	require.NoError(t, err)
	defer source.Close()
	tables, err := source.GetTableInfo()
	require.NoError(t, err)
	require.Len(t, tables, 1)
	table := tables[0]
	assert.Equal(t, "addresses", table.Name)
	assert.Equal(t, "geom", table.gcolumn)
	assert.Equal(t, gpkg.Point, table.gtype)
	assert.Equal(t, 4326, table.srs.ID)
	require.Len(t, table.columns, 3)
	assert.Equal(t, "name", table.columns[2].name)
	assert.Equal(t, "TEXT", table.columns[2].ctype)

	target, err := NewTargetGeopackage(targetFile, true)
	require.NoError(t, err)
	defer target.Close()
	require.NoError(t, target.CreateTables(tables))

	source.Table = table
	target.Table = table
	g, err := grid.NewGrid(geom.Extent{0, 0, 8, 8}, 3)
	require.NoError(t, err)
	config, err := processing.NewConfig()
	require.NoError(t, err)
	config.PageSize = 2
	ranges, err := processing.SortFeatures(context.Background(), source, target, g, config)
	require.NoError(t, err)

	// (1, 2) and (3, 4) are cells 9 and 37, the feature without geometry has no cell
	require.Equal(t, 2, ranges.Len())
	first, _ := ranges.Get(0)
	assert.Equal(t, processing.PageRange{Min: 9, Max: 37, Count: 2}, first)
	second, _ := ranges.Get(1)
	assert.Equal(t, processing.PageRange{Count: 1, Outside: 1}, second)

	written, err := NewSourceGeopackage(targetFile)
	require.NoError(t, err)
	defer written.Close()
	written.Table = table
	features := readAllFeatures(t, written)
	require.Len(t, features, 3)
	assert.Equal(t, []interface{}{int64(1), "far"}, features[0].Columns())
	assert.Equal(t, geom.Point{3.5, 4.5}, features[0].Geometry())
	assert.Equal(t, []interface{}{int64(2), "near"}, features[1].Columns())
	assert.Equal(t, geom.Point{1.5, 2.5}, features[1].Geometry())
	assert.Equal(t, []interface{}{int64(3), nil}, features[2].Columns())
	assert.Nil(t, features[2].Geometry())

	assert.Equal(t, [4]float64{1.5, 2.5, 3.5, 4.5}, tableExtent(t, target.handle, table.Name))
}

func TestTargetGeopackage_WritePage_rollback(t *testing.T) {
	file := filepath.Join(t.TempDir(), "target.gpkg")
	writeSourceGeopackage(t, file,
		featureGPKG{columns: []interface{}{int64(1), "a"}, geometry: geom.Point{1, 1}},
	)

	target, err := NewTargetGeopackage(file, false)
	require.NoError(t, err)
	defer target.Close()
	target.Table = pointTable
	err = target.WritePage([]processing.Feature{
		featureGPKG{columns: []interface{}{int64(2), "b"}, geometry: geom.Point{5, 5}},
		featureGPKG{columns: []interface{}{int64(1), "duplicate"}, geometry: geom.Point{6, 6}},
	})
	require.ErrorContains(t, err, "fid 1")

	source, err := NewSourceGeopackage(file)
	require.NoError(t, err)
	defer source.Close()
	source.Table = pointTable
	features := readAllFeatures(t, source)
	require.Len(t, features, 1)
	assert.Equal(t, []interface{}{int64(1), "a"}, features[0].Columns())
	assert.Equal(t, [4]float64{1, 1, 1, 1}, tableExtent(t, target.handle, pointTable.Name))
}

func TestNewSourceGeopackage_missing(t *testing.T) {
	_, err := NewSourceGeopackage(filepath.Join(t.TempDir(), "missing.gpkg"))
	require.Error(t, err)
}
