package gpkg

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/go-spatial/geom"
	"github.com/go-spatial/geom/encoding/gpkg"

	"github.com/pdok/zorder/processing"
)

type featureGPKG struct {
	columns  []interface{}
	geometry geom.Geometry
}

func (f featureGPKG) Columns() []interface{} {
	return f.columns
}

func (f featureGPKG) Geometry() geom.Geometry {
	return f.geometry
}

type column struct {
	cid       int
	name      string
	ctype     string
	notnull   int
	dfltValue *string
	pk        int
}

type Table struct {
	Name    string
	columns []column
	gcolumn string
	gtype   gpkg.GeometryType
	srs     gpkg.SpatialReferenceSystem
}

// geometryTypeFromString returns the numeric value of a gometry string
func geometryTypeFromString(geometrytype string) gpkg.GeometryType {
	switch strings.ToUpper(geometrytype) {
	case "GEOMETRY":
		return gpkg.Geometry
	case "POINT":
		return gpkg.Point
	case "LINESTRING":
		return gpkg.Linestring
	case "POLYGON":
		return gpkg.Polygon
	case "MULTIPOINT":
		return gpkg.MultiPoint
	case "MULTILINESTRING":
		return gpkg.MultiLinestring
	case "MULTIPOLYGON":
		return gpkg.MultiPolygon
	case "GEOMETRYCOLLECTION":
		return gpkg.GeometryCollection
	default:
		return gpkg.Geometry
	}
}

type SourceGeopackage struct {
	Table  Table
	handle *gpkg.Handle
}

func NewSourceGeopackage(file string) (*SourceGeopackage, error) {
	if _, err := os.Stat(file); err != nil {
		return nil, fmt.Errorf("error opening source GeoPackage: %w", err)
	}
	handle, err := gpkg.Open(file)
	if err != nil {
		return nil, fmt.Errorf("error opening source GeoPackage: %w", err)
	}
	return &SourceGeopackage{handle: handle}, nil
}

func (source *SourceGeopackage) Close() error {
	return source.handle.Close()
}

// ReadFeatures reads the features from the current Table and decodes the WKB geometries
func (source *SourceGeopackage) ReadFeatures(ctx context.Context, features chan<- processing.Feature) error {
	rows, err := source.handle.QueryContext(ctx, source.Table.selectSQL())
	if err != nil {
		return fmt.Errorf("error querying %v: %w", source.Table.Name, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return fmt.Errorf("error reading the columns: %w", err)
	}

	for rows.Next() {
		vals := make([]interface{}, len(cols))
		valPtrs := make([]interface{}, len(cols))
		for i := 0; i < len(cols); i++ {
			valPtrs[i] = &vals[i]
		}
		if err = rows.Scan(valPtrs...); err != nil {
			return fmt.Errorf("err reading row values: %w", err)
		}

		var f featureGPKG
		for i, colName := range cols {
			if colName == source.Table.gcolumn {
				f.geometry, err = decodeGeometry(vals[i])
				if err != nil {
					return err
				}
				continue
			}
			v, err := columnValue(vals[i])
			if err != nil {
				return fmt.Errorf("unexpected type for sqlite column data: %v: %w", colName, err)
			}
			f.columns = append(f.columns, v)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case features <- f:
		}
	}
	return rows.Err()
}

func decodeGeometry(val interface{}) (geom.Geometry, error) {
	if val == nil {
		return nil, nil
	}
	wkb, ok := val.([]byte)
	if !ok {
		return nil, fmt.Errorf("geometry is not a blob but a %T", val)
	}
	binary, err := gpkg.DecodeGeometry(wkb)
	if err != nil {
		return nil, fmt.Errorf("error decoding the geometry: %w", err)
	}
	return binary.Geometry, nil
}

// columnValue converts a value scanned from sqlite to one that can be inserted again
func columnValue(val interface{}) (interface{}, error) {
	switch v := val.(type) {
	case []uint8:
		return string(v), nil
	case int64, float64, time.Time, string, bool, nil:
		return v, nil
	default:
		return nil, fmt.Errorf("%T", v)
	}
}

// GetTableInfo describes the feature tables in the GeoPackage
func (source *SourceGeopackage) GetTableInfo() ([]Table, error) {
	query := `SELECT table_name, column_name, geometry_type_name, srs_id FROM gpkg_geometry_columns;`
	rows, err := source.handle.Query(query)
	if err != nil {
		return nil, fmt.Errorf("error during query: %v - %w", query, err)
	}
	defer rows.Close()

	var tables []Table
	var srsIDs []int
	for rows.Next() {
		var t Table
		var gtype string
		var srsID int
		if err = rows.Scan(&t.Name, &t.gcolumn, &gtype, &srsID); err != nil {
			return nil, fmt.Errorf("error reading the source table information: %w", err)
		}
		t.gtype = geometryTypeFromString(gtype)
		tables = append(tables, t)
		srsIDs = append(srsIDs, srsID)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	// columns and srs are read after the rows are done, not while they are open
	for i := range tables {
		if tables[i].columns, err = getTableColumns(source.handle, tables[i].Name); err != nil {
			return nil, err
		}
		if tables[i].srs, err = getSpatialReferenceSystem(source.handle, srsIDs[i]); err != nil {
			return nil, err
		}
	}
	return tables, nil
}

type TargetGeopackage struct {
	Table  Table
	handle *gpkg.Handle
}

// NewTargetGeopackage opens (or creates) a target GeoPackage, removing an existing file first when asked
func NewTargetGeopackage(file string, overwrite bool) (*TargetGeopackage, error) {
	if overwrite {
		err := os.Remove(file)
		var pathError *os.PathError
		if err != nil && !(errors.As(err, &pathError) && errors.Is(pathError.Err, syscall.ENOENT)) {
			return nil, fmt.Errorf("could not remove target file: %w", err)
		}
	}
	handle, err := gpkg.Open(file)
	if err != nil {
		return nil, fmt.Errorf("error opening target GeoPackage: %w", err)
	}
	return &TargetGeopackage{handle: handle}, nil
}

func (target *TargetGeopackage) Close() error {
	return target.handle.Close()
}

func (target *TargetGeopackage) CreateTables(tables []Table) error {
	for _, table := range tables {
		if err := target.handle.UpdateSRS(table.srs); err != nil {
			return err
		}
		if err := buildTable(target.handle, table); err != nil {
			return err
		}
	}
	return nil
}

// WritePage writes the features in one transaction and grows the extent of the table
func (target *TargetGeopackage) WritePage(features []processing.Feature) error {
	if len(features) == 0 {
		return nil
	}
	tx, err := target.handle.Begin()
	if err != nil {
		return fmt.Errorf("could not start a transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.Prepare(target.Table.insertSQL())
	if err != nil {
		return fmt.Errorf("could not prepare a statement: %w", err)
	}
	defer stmt.Close()

	var ext *geom.Extent
	for _, f := range features {
		var sb interface{}
		if f.Geometry() != nil {
			sb, err = gpkg.NewBinary(int32(target.Table.srs.ID), f.Geometry())
			if err != nil {
				return fmt.Errorf("could not create a binary geometry: %w", err)
			}
		}

		data := append(append(make([]interface{}, 0, len(f.Columns())+1), f.Columns()...), sb)
		if _, err = stmt.Exec(data...); err != nil {
			var fid interface{} = "unknown"
			if len(data) > 1 {
				fid = data[0]
			}
			return fmt.Errorf("could not insert feature with fid %v: %w", fid, err)
		}

		if f.Geometry() == nil {
			continue
		}
		if ext == nil {
			var extErr error
			ext, extErr = geom.NewExtentFromGeometry(f.Geometry())
			if extErr != nil {
				ext = nil
				log.Println("Failed to create new extent:", extErr)
			}
		} else {
			ext.AddGeometry(f.Geometry())
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("could not commit: %w", err)
	}

	if ext != nil {
		if err = target.handle.UpdateGeometryExtent(target.Table.Name, ext); err != nil {
			return fmt.Errorf("failed to update extent: %w", err)
		}
	}
	return nil
}

// createSQL creates a CREATE statement on the given table and column information
// used for creating feature tables in the target Geopackage
func (t Table) createSQL() string {
	create := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS "%v"`, t.Name)
	var columnparts []string
	for _, column := range t.columns {
		columnpart := `"` + column.name + `" ` + column.ctype
		if column.notnull == 1 {
			columnpart += ` NOT NULL`
		}
		if column.pk == 1 {
			columnpart += ` PRIMARY KEY`
		}
		columnparts = append(columnparts, columnpart)
	}
	return create + `(` + strings.Join(columnparts, `, `) + `);`
}

// selectSQL build a SELECT statement based on the table and columns
// used for reading the source features
func (t Table) selectSQL() string {
	var csql []string
	for _, c := range t.columns {
		csql = append(csql, `"`+c.name+`"`)
	}
	return `SELECT ` + strings.Join(csql, `,`) + ` FROM "` + t.Name + `";`
}

// insertSQL used for writing the features
// build the INSERT statement based on the table and columns, the geometry goes last
func (t Table) insertSQL() string {
	var csql, vsql []string
	for _, c := range t.columns {
		if c.name != t.gcolumn {
			csql = append(csql, `"`+c.name+`"`)
			vsql = append(vsql, `?`)
		}
	}
	csql = append(csql, `"`+t.gcolumn+`"`)
	vsql = append(vsql, `?`)
	return `INSERT INTO "` + t.Name + `"(` + strings.Join(csql, `,`) + `) VALUES(` + strings.Join(vsql, `,`) + `)`
}

// getSpatialReferenceSystem extracts this based on the given SRS id
func getSpatialReferenceSystem(h *gpkg.Handle, id int) (gpkg.SpatialReferenceSystem, error) {
	var srs gpkg.SpatialReferenceSystem
	query := `SELECT srs_name, srs_id, organization, organization_coordsys_id, definition, description FROM gpkg_spatial_ref_sys WHERE srs_id = ?;`
	var description *string
	err := h.QueryRow(query, id).Scan(&srs.Name, &srs.ID, &srs.Organization, &srs.OrganizationCoordsysID, &srs.Definition, &description)
	if err != nil {
		return srs, fmt.Errorf("could not read spatial reference system %v: %w", id, err)
	}
	if description != nil {
		srs.Description = *description
	}
	return srs, nil
}

// getTableColumns collects the column information of a given table
func getTableColumns(h *gpkg.Handle, table string) ([]column, error) {
	query := fmt.Sprintf(`PRAGMA table_info('%v');`, table)
	rows, err := h.Query(query)
	if err != nil {
		return nil, fmt.Errorf("error during query: %v - %w", query, err)
	}
	defer rows.Close()

	var columns []column
	for rows.Next() {
		var column column
		if err = rows.Scan(&column.cid, &column.name, &column.ctype, &column.notnull, &column.dfltValue, &column.pk); err != nil {
			return nil, fmt.Errorf("error getting the column information: %w", err)
		}
		columns = append(columns, column)
	}
	return columns, rows.Err()
}

// buildTable creates a given destination table with the necessary gpkg_ information
func buildTable(h *gpkg.Handle, t Table) error {
	if _, err := h.Exec(t.createSQL()); err != nil {
		return fmt.Errorf("error building table in target GeoPackage: %w", err)
	}

	err := h.AddGeometryTable(gpkg.TableDescription{
		Name:          t.Name,
		ShortName:     t.Name,
		Description:   t.Name,
		GeometryField: t.gcolumn,
		GeometryType:  t.gtype,
		SRS:           int32(t.srs.ID),
		Z:             gpkg.Prohibited,
		M:             gpkg.Prohibited,
	})
	if err != nil {
		return fmt.Errorf("error adding geometry table in target GeoPackage: %w", err)
	}
	return nil
}
