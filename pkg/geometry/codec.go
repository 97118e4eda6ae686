package geometry

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"
	"github.com/twpayne/go-geom/encoding/geojson"
	"github.com/twpayne/go-geom/encoding/wkb"
	"github.com/twpayne/go-geom/encoding/wkt"
)

// ParseWKT decodes well-known text.
func ParseWKT(s string) (geom.T, error) {
	g, err := wkt.Unmarshal(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("parse wkt: %w", err)
	}
	return g, nil
}

// FormatWKT encodes g as well-known text.
func FormatWKT(g geom.T) (string, error) {
	s, err := wkt.Marshal(g)
	if err != nil {
		return "", fmt.Errorf("format wkt: %w", err)
	}
	return s, nil
}

// DecodeWKB decodes WKB or PostGIS EWKB; the SRID is kept when present.
func DecodeWKB(data []byte) (geom.T, error) {
	g, err := ewkb.Unmarshal(data)
	if err == nil {
		return g, nil
	}
	g, werr := wkb.Unmarshal(data)
	if werr != nil {
		return nil, fmt.Errorf("decode wkb: %w", err)
	}
	return g, nil
}

// EncodeWKB encodes g as little-endian ISO WKB.
func EncodeWKB(g geom.T) ([]byte, error) {
	data, err := wkb.Marshal(g, binary.LittleEndian)
	if err != nil {
		return nil, fmt.Errorf("encode wkb: %w", err)
	}
	return data, nil
}

// EncodeEWKB encodes g as little-endian EWKB carrying its SRID.
func EncodeEWKB(g geom.T) ([]byte, error) {
	data, err := ewkb.Marshal(g, binary.LittleEndian)
	if err != nil {
		return nil, fmt.Errorf("encode ewkb: %w", err)
	}
	return data, nil
}

// ToGeoJSON encodes g as a GeoJSON geometry object.
func ToGeoJSON(g geom.T) ([]byte, error) {
	data, err := geojson.Marshal(g)
	if err != nil {
		return nil, fmt.Errorf("encode geojson: %w", err)
	}
	return data, nil
}

// FromGeoJSON decodes a GeoJSON geometry object.
func FromGeoJSON(data []byte) (geom.T, error) {
	var g geom.T
	if err := geojson.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("decode geojson: %w", err)
	}
	return g, nil
}

// FromValue converts a stored column value into a geometry. Strings are
// tried as GeoJSON, hex encoded (E)WKB and WKT in that order.
func FromValue(v interface{}) (geom.T, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case geom.T:
		return val, nil
	case Envelope:
		return val.Polygon(0), nil
	case *Envelope:
		return val.Polygon(0), nil
	case []byte:
		if len(val) == 0 {
			return nil, nil
		}
		if g, err := DecodeWKB(val); err == nil {
			return g, nil
		}
		return FromValue(string(val))
	case string:
		s := strings.TrimSpace(val)
		if s == "" {
			return nil, nil
		}
		if strings.HasPrefix(s, "{") {
			return FromGeoJSON([]byte(s))
		}
		if isHex(s) {
			if raw, err := hex.DecodeString(s); err == nil {
				if g, err := DecodeWKB(raw); err == nil {
					return g, nil
				}
			}
		}
		return ParseWKT(s)
	default:
		return nil, fmt.Errorf("cannot convert %T to geometry", v)
	}
}

func isHex(s string) bool {
	if len(s)%2 != 0 || len(s) < 10 {
		return false
	}
	for _, c := range s {
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f' || c >= 'A' && c <= 'F') {
			return false
		}
	}
	return true
}

// WithSRID returns g tagged with srid.
func WithSRID(g geom.T, srid int) geom.T {
	switch v := g.(type) {
	case *geom.Point:
		return v.SetSRID(srid)
	case *geom.LineString:
		return v.SetSRID(srid)
	case *geom.Polygon:
		return v.SetSRID(srid)
	case *geom.MultiPoint:
		return v.SetSRID(srid)
	case *geom.MultiLineString:
		return v.SetSRID(srid)
	case *geom.MultiPolygon:
		return v.SetSRID(srid)
	case *geom.GeometryCollection:
		return v.SetSRID(srid)
	default:
		return g
	}
}

// TypeName returns the OGC type name of g, e.g. "POLYGON".
func TypeName(g geom.T) string {
	switch g.(type) {
	case *geom.Point:
		return "POINT"
	case *geom.LineString:
		return "LINESTRING"
	case *geom.LinearRing:
		return "LINEARRING"
	case *geom.Polygon:
		return "POLYGON"
	case *geom.MultiPoint:
		return "MULTIPOINT"
	case *geom.MultiLineString:
		return "MULTILINESTRING"
	case *geom.MultiPolygon:
		return "MULTIPOLYGON"
	case *geom.GeometryCollection:
		return "GEOMETRYCOLLECTION"
	default:
		return "GEOMETRY"
	}
}
