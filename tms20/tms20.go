// Package tms20 reads OGC Tile Matrix Set (v2.0) definitions.
// Only what is needed to derive a bounded, quad tree shaped extent is implemented.
// See https://www.ogc.org/standard/tms/
package tms20

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"regexp"
	"slices"
	"strconv"
	"sync"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/go-spatial/geom"
	"github.com/perimeterx/marshmallow"
	"golang.org/x/exp/maps"
)

// TMID is the (integer) ID of a tile matrix
type TMID = int

var (
	//go:embed tilematrixsets/*.json
	embeddedTileMatrixSetsJSONFS embed.FS
	embeddedTileMatrixSetsCache  = make(map[string]*TileMatrixSet)
	embeddedTileMatrixSetsMu     sync.Mutex
)

// LoadEmbeddedTileMatrixSet loads one of the built-in tile matrix sets by its ID
func LoadEmbeddedTileMatrixSet(id string) (TileMatrixSet, error) {
	embeddedTileMatrixSetsMu.Lock()
	defer embeddedTileMatrixSetsMu.Unlock()
	if cached, ok := embeddedTileMatrixSetsCache[id]; ok {
		return *cached, nil
	}
	var tms TileMatrixSet
	tmsJSON, err := embeddedTileMatrixSetsJSONFS.ReadFile("tilematrixsets/" + id + ".json")
	if err != nil {
		return tms, fmt.Errorf("no built-in tile matrix set %q: %w", id, err)
	}
	if err = json.Unmarshal(tmsJSON, &tms); err != nil {
		return tms, fmt.Errorf("could not parse built-in tile matrix set %q: %w", id, err)
	}
	embeddedTileMatrixSetsCache[id] = &tms
	return tms, nil
}

// LoadJSONTileMatrixSet loads a tile matrix set from a JSON file
func LoadJSONTileMatrixSet(path string) (TileMatrixSet, error) {
	var tms TileMatrixSet
	tmsJSON, err := os.ReadFile(path)
	if err != nil {
		return tms, err
	}
	if err = json.Unmarshal(tmsJSON, &tms); err != nil {
		return tms, fmt.Errorf("could not parse tile matrix set %v: %w", path, err)
	}
	return tms, nil
}

// LoadTileMatrixSet tries the built-in tile matrix sets first and falls back to reading a file
func LoadTileMatrixSet(idOrPath string) (TileMatrixSet, error) {
	tms, err := LoadEmbeddedTileMatrixSet(idOrPath)
	if err == nil {
		return tms, nil
	}
	if _, statErr := os.Stat(idOrPath); statErr != nil {
		return tms, err
	}
	return LoadJSONTileMatrixSet(idOrPath)
}

// TileMatrixSet is a definition of a tile matrix set following the Tile Matrix Set standard.
type TileMatrixSet struct {
	// Tile matrix set identifier
	ID string `json:"id,omitempty"`
	// Title of this tile matrix set, normally used for display to a human
	Title string `json:"title,omitempty"`
	// Brief narrative description of this tile matrix set, normally available for display to a human
	Description string `json:"description,omitempty"`
	// Reference to an official source for this TileMatrixSet
	URI         string   `validate:"omitempty,uri" json:"uri,omitempty"`
	OrderedAxes []string `validate:"omitempty,min=1" json:"orderedAxes,omitempty"`
	// Coordinate Reference System (CRS)
	CRS URICRS `validate:"required" json:"-"`
	// Describes scale levels and its tile matrices
	TileMatrices map[TMID]TileMatrix `validate:"required,min=1" json:"-"`
}

func (tms *TileMatrixSet) UnmarshalJSON(data []byte) error {
	err := defaults.Set(tms)
	if err != nil {
		return err
	}

	specials, err := marshmallow.Unmarshal(data, tms, marshmallow.WithExcludeKnownFieldsFromMap(true))
	if err != nil {
		return err
	}

	rawCrs, ok := specials["crs"]
	if !ok {
		return fmt.Errorf(`missing key "crs"`)
	}
	if err = tms.CRS.UnmarshalJSONFromMap(rawCrs); err != nil {
		return err
	}

	rawTileMatrices, ok := specials["tileMatrices"]
	if !ok {
		return fmt.Errorf(`missing key "tileMatrices"`)
	}
	tms.TileMatrices, err = unmarshalTileMatrices(rawTileMatrices)
	if err != nil {
		return err
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	return validate.Struct(tms)
}

func unmarshalTileMatrices(rawTileMatrices interface{}) (map[TMID]TileMatrix, error) {
	rawTileMatricesList, ok := rawTileMatrices.([]interface{})
	if !ok {
		return nil, fmt.Errorf(`"tileMatrices" should be an array`)
	}
	tileMatrices := make(map[TMID]TileMatrix, len(rawTileMatricesList))
	for _, rawTileMatrix := range rawTileMatricesList {
		var tileMatrix TileMatrix
		if err := tileMatrix.UnmarshalJSONFromMap(rawTileMatrix); err != nil {
			return nil, err
		}
		tileMatrixID, err := strconv.Atoi(tileMatrix.ID)
		if err != nil {
			return nil, fmt.Errorf("only integer-like ids are supported for tile matrices: %w", err)
		}
		tileMatrices[tileMatrixID] = tileMatrix
	}
	return tileMatrices, nil
}

var (
	crsURIRegexURL = regexp.MustCompile("https?://.+/def/crs/(?P<authority>[^/]+)/[^/]+/(?P<code>[^/]+)$")
	crsURIRegexURN = regexp.MustCompile("^urn:ogc:def:crs:(?P<authority>[^:]+):[^:]*:(?P<code>[^:]+)$")
)

// URICRS is a CRS given by reference, either as a plain string or as an object with an uri
type URICRS struct {
	Description   string
	URI           string `validate:"required,uri"`
	AuthorityName string `validate:"required"`
	AuthorityCode string `validate:"required"`
}

func (crs *URICRS) UnmarshalJSONFromMap(data interface{}) error {
	var dataMap map[string]interface{}
	switch d := data.(type) {
	case string:
		dataMap = map[string]interface{}{"uri": d}
	case map[string]interface{}:
		dataMap = d
	default:
		return fmt.Errorf(`wrong type for "crs": %T`, data)
	}

	if rawDescription, ok := dataMap["description"]; ok {
		if crs.Description, ok = rawDescription.(string); !ok {
			return fmt.Errorf(`description property is not a string but a %T`, rawDescription)
		}
	}
	rawURI, ok := dataMap["uri"]
	if !ok {
		return fmt.Errorf(`only crs references by uri are supported`)
	}
	if crs.URI, ok = rawURI.(string); !ok {
		return fmt.Errorf(`uri property is not a string but a %T`, rawURI)
	}

	uriParts := crsURIRegexURL.FindStringSubmatch(crs.URI)
	if uriParts == nil {
		uriParts = crsURIRegexURN.FindStringSubmatch(crs.URI)
	}
	if uriParts == nil {
		return fmt.Errorf(`could not parse crs uri "%v"`, crs.URI)
	}
	crs.AuthorityName = uriParts[1]
	crs.AuthorityCode = uriParts[2]

	validate := validator.New(validator.WithRequiredStructEnabled())
	return validate.Struct(crs)
}

// A 2D Point in the CRS indicated elsewhere
type TwoDPoint [2]float64

// A tile matrix, usually corresponding to a particular zoom level of a TileMatrixSet.
type TileMatrix struct {
	// Identifier selecting one of the scales defined in the TileMatrixSet
	ID string `validate:"required" json:"id"`
	// Scale denominator of this tile matrix
	ScaleDenominator float64 `validate:"required,gt=0" json:"scaleDenominator"`
	// Cell size of this tile matrix
	CellSize float64 `validate:"required,gt=0" json:"cellSize"`
	// The corner of the tile matrix (topLeft or bottomLeft) used as the origin for numbering tile rows and columns.
	CornerOfOrigin CornerOfOrigin `default:"topLeft" validate:"oneof=topLeft bottomLeft" json:"cornerOfOrigin,omitempty"`
	// Position in CRS coordinates of the corner of origin
	PointOfOrigin TwoDPoint `json:"pointOfOrigin"`
	// Width of each tile of this tile matrix in pixels
	TileWidth uint `default:"256" validate:"required,min=1" json:"tileWidth"`
	// Height of each tile of this tile matrix in pixels
	TileHeight uint `default:"256" validate:"required,min=1" json:"tileHeight"`
	// Width of the matrix (number of tiles in width)
	MatrixWidth uint `validate:"required,min=1" json:"matrixWidth"`
	// Height of the matrix (number of tiles in height)
	MatrixHeight uint `validate:"required,min=1" json:"matrixHeight"`
	// Describes the rows that have variable matrix width
	VariableMatrixWidths []VariableMatrixWidth `json:"variableMatrixWidths,omitempty"`
}

func (tm *TileMatrix) UnmarshalJSONFromMap(data interface{}) error {
	err := defaults.Set(tm)
	if err != nil {
		return err
	}

	dataMap, ok := data.(map[string]interface{})
	if !ok {
		return fmt.Errorf(`tile matrix is not an object but a %T`, data)
	}

	_, err = marshmallow.UnmarshalFromJSONMap(dataMap, tm, marshmallow.WithExcludeKnownFieldsFromMap(true))
	if err != nil {
		return err
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	return validate.Struct(tm)
}

type CornerOfOrigin string

const (
	TopLeft    CornerOfOrigin = "topLeft"
	BottomLeft CornerOfOrigin = "bottomLeft"
)

func (c *CornerOfOrigin) UnmarshalJSON(data []byte) error {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	return c.UnmarshalJSONFromMap(raw)
}

// UnmarshalJSONFromMap is called by marshmallow, which otherwise leaves the (defaulted) corner alone
func (c *CornerOfOrigin) UnmarshalJSONFromMap(data interface{}) error {
	dataString, ok := data.(string)
	if !ok {
		return fmt.Errorf(`cornerOfOrigin is not a string but a %T`, data)
	}
	switch dataString {
	case "", string(TopLeft):
		*c = TopLeft
	case string(BottomLeft):
		*c = BottomLeft
	default:
		return fmt.Errorf(`unknown cornerOfOrigin: %v`, dataString)
	}
	return nil
}

// Variable Matrix Width data structure
type VariableMatrixWidth struct {
	Coalesce   uint `json:"coalesce"`
	MinTileRow uint `json:"minTileRow"`
	MaxTileRow uint `json:"maxTileRow"`
}

// SRID returns the numeric code of the CRS
func (tms *TileMatrixSet) SRID() (uint, error) {
	code, err := strconv.ParseUint(tms.CRS.AuthorityCode, 10, 64)
	if err != nil {
		return 0, fmt.Errorf(`could not parse crs authority code "%v": %w`, tms.CRS.AuthorityCode, err)
	}
	return uint(code), nil
}

// MatrixBoundingBox returns the corners of the area covered by a tile matrix
func (tms *TileMatrixSet) MatrixBoundingBox(tmID TMID) (bottomLeft, topRight geom.Point, err error) {
	tm, ok := tms.TileMatrices[tmID]
	if !ok {
		return bottomLeft, topRight, fmt.Errorf("tile matrix set %v has no tile matrix %v", tms.ID, tmID)
	}
	if len(tm.VariableMatrixWidths) != 0 {
		return bottomLeft, topRight, fmt.Errorf("variable matrix widths are not supported: %v", tm.ID)
	}
	width := float64(tm.MatrixWidth) * float64(tm.TileWidth) * tm.CellSize
	height := float64(tm.MatrixHeight) * float64(tm.TileHeight) * tm.CellSize
	minX := tm.PointOfOrigin[0]
	var minY float64
	switch tm.CornerOfOrigin {
	case BottomLeft:
		minY = tm.PointOfOrigin[1]
	default:
		minY = tm.PointOfOrigin[1] - height
	}
	return geom.Point{minX, minY}, geom.Point{minX + width, minY + height}, nil
}

// IsQuadTree checks that every tile matrix splits the tiles of the previous one in four
// and that they all share the same origin.
func (tms *TileMatrixSet) IsQuadTree() error {
	var previousTM *TileMatrix
	tmIDs := maps.Keys(tms.TileMatrices)
	slices.Sort(tmIDs)
	for i, tmID := range tmIDs {
		tm := tms.TileMatrices[tmID]
		if tmID != i {
			return errors.New("tile matrix IDs should be a range with step 1 starting with 0")
		}
		if tm.TileHeight != tm.TileWidth {
			return errors.New("tiles should be square: " + tm.ID)
		}
		if len(tm.VariableMatrixWidths) != 0 {
			return errors.New("variable matrix widths are not supported: " + tm.ID)
		}
		if previousTM == nil {
			if tm.MatrixHeight != 1 || tm.MatrixWidth != 1 {
				return errors.New("the first tile matrix should be a single tile: " + tm.ID)
			}
		} else {
			if tm.MatrixWidth != 2*previousTM.MatrixWidth || tm.MatrixHeight != 2*previousTM.MatrixHeight {
				return errors.New("tile matrix should have twice as many tiles in both directions as the previous one: " + tm.ID)
			}
			if tm.PointOfOrigin != previousTM.PointOfOrigin {
				return errors.New("tile matrixes should have the same point of origin: " + tm.ID)
			}
			if tm.CornerOfOrigin != previousTM.CornerOfOrigin {
				return errors.New("tile matrixes should have the same corner of origin: " + tm.ID)
			}
		}
		previousTM = &tm
	}
	return nil
}
