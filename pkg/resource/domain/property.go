package domain

import (
	"fmt"
	"strings"
)

// PropertyType 属性数据类型
type PropertyType int

const (
	TypeUnknown PropertyType = iota
	TypeInt32
	TypeInt64
	TypeDouble
	TypeNumeric
	TypeString
	TypeBoolean
	TypeDateTime
	TypeBytes
	TypeGeometry
	TypeRaster
)

var propertyTypeNames = map[PropertyType]string{
	TypeUnknown:  "UNKNOWN",
	TypeInt32:    "INT32",
	TypeInt64:    "INT64",
	TypeDouble:   "DOUBLE",
	TypeNumeric:  "NUMERIC",
	TypeString:   "STRING",
	TypeBoolean:  "BOOLEAN",
	TypeDateTime: "DATETIME",
	TypeBytes:    "BYTES",
	TypeGeometry: "GEOMETRY",
	TypeRaster:   "RASTER",
}

func (t PropertyType) String() string {
	if s, ok := propertyTypeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("PropertyType(%d)", int(t))
}

// MarshalText 以名称序列化
func (t PropertyType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText 从名称反序列化
func (t *PropertyType) UnmarshalText(b []byte) error {
	pt, err := ParsePropertyType(string(b))
	if err != nil {
		return err
	}
	*t = pt
	return nil
}

// ParsePropertyType 解析类型名称，同时接受常见 SQL 类型别名
func ParsePropertyType(s string) (PropertyType, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	if i := strings.IndexByte(name, '('); i >= 0 {
		name = strings.TrimSpace(name[:i])
	}
	for t, n := range propertyTypeNames {
		if n == name {
			return t, nil
		}
	}
	switch name {
	case "INT", "INTEGER", "SMALLINT", "TINYINT", "MEDIUMINT", "INT4", "INT2":
		return TypeInt32, nil
	case "BIGINT", "INT8", "SERIAL", "BIGSERIAL":
		return TypeInt64, nil
	case "FLOAT", "FLOAT4", "FLOAT8", "REAL", "DOUBLE PRECISION":
		return TypeDouble, nil
	case "DECIMAL", "NUMBER":
		return TypeNumeric, nil
	case "TEXT", "VARCHAR", "CHAR", "CHARACTER VARYING", "CHARACTER", "NVARCHAR", "CLOB":
		return TypeString, nil
	case "BOOL":
		return TypeBoolean, nil
	case "DATE", "TIME", "TIMESTAMP", "TIMESTAMPTZ", "TIMESTAMP WITH TIME ZONE", "TIMESTAMP WITHOUT TIME ZONE":
		return TypeDateTime, nil
	case "BLOB", "BYTEA", "BINARY", "VARBINARY", "LONGBLOB":
		return TypeBytes, nil
	case "POINT", "LINESTRING", "POLYGON", "MULTIPOINT", "MULTILINESTRING", "MULTIPOLYGON",
		"GEOMETRYCOLLECTION", "GEOGRAPHY":
		return TypeGeometry, nil
	}
	return TypeUnknown, fmt.Errorf("unknown property type %q", s)
}

// Property 属性（列）定义
type Property struct {
	Name          string       `json:"name"`
	Type          PropertyType `json:"type"`
	Nullable      bool         `json:"nullable"`
	AutoIncrement bool         `json:"auto_increment,omitempty"`
	Size          int          `json:"size,omitempty"`
	// 仅几何属性使用
	GeometryType string `json:"geometry_type,omitempty"`
	SRID         int    `json:"srid,omitempty"`
}

// NewProperty creates a nullable property of the given type.
func NewProperty(name string, typ PropertyType) *Property {
	return &Property{Name: name, Type: typ, Nullable: true}
}

// NewGeometryProperty creates a geometry property; an empty subtype means any geometry.
func NewGeometryProperty(name, geometryType string, srid int) *Property {
	if geometryType == "" {
		geometryType = "GEOMETRY"
	}
	return &Property{Name: name, Type: TypeGeometry, Nullable: true, GeometryType: strings.ToUpper(geometryType), SRID: srid}
}

// IsGeometry reports whether the property holds geometries.
func (p *Property) IsGeometry() bool { return p.Type == TypeGeometry }

// IsRaster reports whether the property holds rasters.
func (p *Property) IsRaster() bool { return p.Type == TypeRaster }

// IsFloating reports whether the property is a floating point number.
func (p *Property) IsFloating() bool { return p.Type == TypeDouble || p.Type == TypeNumeric }

// Clone returns a copy of the property.
func (p *Property) Clone() *Property {
	c := *p
	return &c
}
