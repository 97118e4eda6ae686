package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kasuganosora/geoaccess/pkg/geometry"
	"github.com/twpayne/go-geom"
)

// ToInt64 converts a stored value to int64.
func ToInt64(v interface{}) (int64, error) {
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int8:
		return int64(n), nil
	case int16:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case uint:
		return int64(n), nil
	case uint8:
		return int64(n), nil
	case uint16:
		return int64(n), nil
	case uint32:
		return int64(n), nil
	case uint64:
		return int64(n), nil
	case float32:
		return int64(n), nil
	case float64:
		return int64(n), nil
	case bool:
		if n {
			return 1, nil
		}
		return 0, nil
	case []byte:
		return ToInt64(string(n))
	case string:
		s := strings.TrimSpace(n)
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return i, nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("cannot convert %q to int64", n)
		}
		return int64(f), nil
	}
	return 0, fmt.Errorf("cannot convert %T to int64", v)
}

// ToFloat64 converts a stored value to float64.
func ToFloat64(v interface{}) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case []byte:
		return ToFloat64(string(n))
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, fmt.Errorf("cannot convert %q to float64", n)
		}
		return f, nil
	}
	i, err := ToInt64(v)
	if err != nil {
		return 0, fmt.Errorf("cannot convert %T to float64", v)
	}
	return float64(i), nil
}

// ToBool converts a stored value to bool.
func ToBool(v interface{}) (bool, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case []byte:
		return ToBool(string(b))
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(b))
		if err != nil {
			return false, fmt.Errorf("cannot convert %q to bool", b)
		}
		return parsed, nil
	}
	i, err := ToInt64(v)
	if err != nil {
		return false, fmt.Errorf("cannot convert %T to bool", v)
	}
	return i != 0, nil
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// ToTime converts a stored value to time.Time. Integers are unix seconds.
func ToTime(v interface{}) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case []byte:
		return ToTime(string(t))
	case string:
		s := strings.TrimSpace(t)
		for _, layout := range timeLayouts {
			if parsed, err := time.Parse(layout, s); err == nil {
				return parsed, nil
			}
		}
		return time.Time{}, fmt.Errorf("cannot convert %q to time", t)
	}
	i, err := ToInt64(v)
	if err != nil {
		return time.Time{}, fmt.Errorf("cannot convert %T to time", v)
	}
	return time.Unix(i, 0).UTC(), nil
}

// ToString converts a stored value to its text form.
func ToString(v interface{}) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case []byte:
		return string(s)
	case time.Time:
		return s.Format(time.RFC3339Nano)
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	}
	return fmt.Sprint(v)
}

// ConvertValue coerces v to the Go representation used for typ. Geometry
// and raster values are returned unchanged.
func ConvertValue(v interface{}, typ PropertyType) (interface{}, error) {
	if v == nil {
		return nil, nil
	}
	if s, ok := v.(string); ok && s == "" && typ != TypeString {
		return nil, nil
	}
	switch typ {
	case TypeInt32, TypeInt64:
		return ToInt64(v)
	case TypeDouble, TypeNumeric:
		return ToFloat64(v)
	case TypeBoolean:
		return ToBool(v)
	case TypeDateTime:
		return ToTime(v)
	case TypeString:
		return ToString(v), nil
	case TypeBytes:
		switch b := v.(type) {
		case []byte:
			return b, nil
		case string:
			return []byte(b), nil
		}
		return nil, fmt.Errorf("cannot convert %T to bytes", v)
	}
	return v, nil
}

// ConvertForProperty coerces v to the representation stored for p.
// Geometries without an SRID take the property's.
func ConvertForProperty(p *Property, v interface{}) (interface{}, error) {
	if p.IsGeometry() {
		g, err := geometry.FromValue(v)
		if err != nil {
			return nil, fmt.Errorf("property %s: %w", p.Name, err)
		}
		if g == nil {
			return nil, nil
		}
		if p.SRID != 0 && g.SRID() == 0 {
			g = geometry.WithSRID(g, p.SRID)
		}
		return g, nil
	}
	out, err := ConvertValue(v, p.Type)
	if err != nil {
		return nil, fmt.Errorf("property %s: %w", p.Name, err)
	}
	return out, nil
}

// NormalizeRow converts every value of r and fills NULLs for missing
// properties. Unknown keys are rejected.
func NormalizeRow(dt *DataSetType, r Row) (Row, error) {
	out := make(Row, len(dt.Properties))
	for k := range r {
		if !dt.HasProperty(k) {
			return nil, NewErrPropertyNotFound(k, dt.Name)
		}
	}
	for _, p := range dt.Properties {
		v, err := ConvertForProperty(p, r[p.Name])
		if err != nil {
			return nil, err
		}
		out[p.Name] = v
	}
	return out, nil
}

// InferPropertyType guesses a property type from a Go value.
func InferPropertyType(v interface{}) PropertyType {
	switch v.(type) {
	case int, int8, int16, int32, uint8, uint16:
		return TypeInt32
	case int64, uint, uint32, uint64:
		return TypeInt64
	case float32, float64:
		return TypeDouble
	case bool:
		return TypeBoolean
	case time.Time:
		return TypeDateTime
	case []byte:
		return TypeBytes
	case string:
		return TypeString
	case geom.T:
		return TypeGeometry
	case *Raster, Raster:
		return TypeRaster
	}
	return TypeUnknown
}
