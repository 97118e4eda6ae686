package parquet

import (
	"encoding/json"
	"strings"

	"github.com/kasuganosora/geoaccess/pkg/resource/domain"
)

// geoMetadataKey is the GeoParquet file metadata key.
const geoMetadataKey = "geo"

type geoMetadata struct {
	Version       string                   `json:"version"`
	PrimaryColumn string                   `json:"primary_column"`
	Columns       map[string]geoColumnMeta `json:"columns"`
}

type geoColumnMeta struct {
	Encoding      string   `json:"encoding"`
	GeometryTypes []string `json:"geometry_types"`
	CRS           *geoCRS  `json:"crs,omitempty"`
}

// geoCRS is the identifier part of a PROJJSON object.
type geoCRS struct {
	ID *struct {
		Authority string `json:"authority"`
		Code      int    `json:"code"`
	} `json:"id,omitempty"`
}

func (c *geoCRS) srid() int {
	if c == nil || c.ID == nil || !strings.EqualFold(c.ID.Authority, "EPSG") {
		return 0
	}
	return c.ID.Code
}

func parseGeoMetadata(s string) (*geoMetadata, error) {
	var m geoMetadata
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// geoMetadataFor describes the WKB geometry columns of dt, or returns ""
// when it has none.
func geoMetadataFor(dt *domain.DataSetType) (string, error) {
	m := geoMetadata{Version: "1.0.0", PrimaryColumn: dt.DefaultGeometry, Columns: map[string]geoColumnMeta{}}
	for _, p := range dt.Properties {
		if !p.IsGeometry() {
			continue
		}
		col := geoColumnMeta{Encoding: "WKB", GeometryTypes: []string{}}
		if t := geometryTypeName(p.GeometryType); t != "" {
			col.GeometryTypes = append(col.GeometryTypes, t)
		}
		if p.SRID != 0 {
			col.CRS = &geoCRS{}
			col.CRS.ID = &struct {
				Authority string `json:"authority"`
				Code      int    `json:"code"`
			}{Authority: "EPSG", Code: p.SRID}
		}
		m.Columns[p.Name] = col
	}
	if len(m.Columns) == 0 {
		return "", nil
	}
	data, err := json.Marshal(m)
	return string(data), err
}

var geoParquetTypes = map[string]string{
	"POINT":              "Point",
	"LINESTRING":         "LineString",
	"POLYGON":            "Polygon",
	"MULTIPOINT":         "MultiPoint",
	"MULTILINESTRING":    "MultiLineString",
	"MULTIPOLYGON":       "MultiPolygon",
	"GEOMETRYCOLLECTION": "GeometryCollection",
}

func geometryTypeName(t string) string {
	return geoParquetTypes[strings.ToUpper(t)]
}

func geometryTypeFromGeoParquet(types []string) string {
	if len(types) != 1 {
		return ""
	}
	for k, v := range geoParquetTypes {
		if strings.EqualFold(v, strings.TrimSuffix(types[0], " Z")) {
			return k
		}
	}
	return ""
}
