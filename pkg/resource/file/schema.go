package file

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kasuganosora/geoaccess/pkg/geometry"
	"github.com/kasuganosora/geoaccess/pkg/resource/domain"
)

// ==================== Schema 推断器实现 ====================

// DefaultSampleSize 推断类型时检查的行数
const DefaultSampleSize = 100

// geometryColumnNames are treated as WKT geometry columns when
// GEOMETRY_COLUMN is not set.
var geometryColumnNames = map[string]bool{"geom": true, "geometry": true, "the_geom": true, "wkt": true}

// SchemaOptions 推断选项，来自连接参数
type SchemaOptions struct {
	GeometryColumn string
	PrimaryKey     []string
	SRID           int
	SampleSize     int
}

// SchemaOptionsFrom reads GEOMETRY_COLUMN, PRIMARY_KEY and SRID.
func SchemaOptionsFrom(info domain.ConnectionInfo) (SchemaOptions, error) {
	srid, err := info.Int(domain.InfoSRID, 0)
	if err != nil {
		return SchemaOptions{}, err
	}
	opts := SchemaOptions{
		GeometryColumn: strings.TrimSpace(info.Get(domain.InfoGeometryColumn)),
		SRID:           srid,
		SampleSize:     DefaultSampleSize,
	}
	if pk, ok := info.Lookup(domain.InfoPrimaryKey); ok {
		for _, name := range strings.Split(pk, ",") {
			if name = strings.TrimSpace(name); name != "" {
				opts.PrimaryKey = append(opts.PrimaryKey, name)
			}
		}
	}
	return opts, nil
}

// DefaultSchemaInferor 默认 Schema 推断器，从文本单元格推断属性类型
type DefaultSchemaInferor struct {
	opts SchemaOptions
}

// NewDefaultSchemaInferor 创建默认 Schema 推断器
func NewDefaultSchemaInferor(opts SchemaOptions) *DefaultSchemaInferor {
	if opts.SampleSize <= 0 {
		opts.SampleSize = DefaultSampleSize
	}
	return &DefaultSchemaInferor{opts: opts}
}

// InferSchema 推断表结构
func (s *DefaultSchemaInferor) InferSchema(name string, headers []string, samples [][]string) (*domain.DataSetType, error) {
	if len(samples) > s.opts.SampleSize {
		samples = samples[:s.opts.SampleSize]
	}
	dt := domain.NewDataSetType(name)
	for i, header := range headers {
		col := strings.TrimSpace(header)
		if col == "" {
			col = fmt.Sprintf("column_%d", i+1)
		}
		var p *domain.Property
		if s.isGeometryColumn(col) {
			p = domain.NewGeometryProperty(col, "", s.opts.SRID)
		} else {
			p = domain.NewProperty(col, s.inferColumnType(i, samples))
		}
		if err := dt.AddProperty(p); err != nil {
			return nil, err
		}
	}
	if err := ApplyPrimaryKey(dt, s.opts.PrimaryKey); err != nil {
		return nil, err
	}
	return dt, nil
}

// ApplyPrimaryKey sets PRIMARY_KEY on dt when dt has every key column.
// Datasets lacking one of them (other sheets or layers) stay keyless.
func ApplyPrimaryKey(dt *domain.DataSetType, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	for _, k := range keys {
		if !dt.HasProperty(k) {
			return nil
		}
	}
	for _, k := range keys {
		if p, ok := dt.Property(k); ok {
			p.Nullable = false
		}
	}
	return dt.SetPrimaryKey(&domain.PrimaryKey{Name: dt.Name + "_pk", Properties: keys})
}

func (s *DefaultSchemaInferor) isGeometryColumn(col string) bool {
	if s.opts.GeometryColumn != "" {
		return strings.EqualFold(col, s.opts.GeometryColumn)
	}
	return geometryColumnNames[strings.ToLower(col)]
}

// inferColumnType 推断列类型。非空值全部可解析时才采用窄类型
func (s *DefaultSchemaInferor) inferColumnType(colIndex int, samples [][]string) domain.PropertyType {
	result := domain.TypeUnknown
	for _, row := range samples {
		if colIndex >= len(row) {
			continue
		}
		value := strings.TrimSpace(row[colIndex])
		if value == "" {
			continue
		}
		result = widen(result, detectType(value))
		if result == domain.TypeString {
			break
		}
	}
	if result == domain.TypeUnknown {
		return domain.TypeString
	}
	return result
}

// detectType 检测值的类型
func detectType(value string) domain.PropertyType {
	if strings.EqualFold(value, "true") || strings.EqualFold(value, "false") {
		return domain.TypeBoolean
	}
	if _, err := strconv.ParseInt(value, 10, 64); err == nil {
		return domain.TypeInt64
	}
	if _, err := strconv.ParseFloat(value, 64); err == nil {
		return domain.TypeDouble
	}
	if _, err := time.Parse(time.RFC3339, value); err == nil {
		return domain.TypeDateTime
	}
	return domain.TypeString
}

func widen(a, b domain.PropertyType) domain.PropertyType {
	switch {
	case a == domain.TypeUnknown || a == b:
		return b
	case a == domain.TypeInt64 && b == domain.TypeDouble, a == domain.TypeDouble && b == domain.TypeInt64:
		return domain.TypeDouble
	}
	return domain.TypeString
}

// ApplyHint returns the saved type when its properties match the file's
// columns, otherwise the inferred one.
func ApplyHint(inferred, hint *domain.DataSetType) *domain.DataSetType {
	if hint == nil || len(hint.Properties) != len(inferred.Properties) {
		return inferred
	}
	for i, p := range inferred.Properties {
		if hint.Properties[i].Name != p.Name {
			return inferred
		}
	}
	out := hint.Clone()
	out.FullyLoaded = false
	return out
}

// ParseCell converts a text cell to the representation of p. Geometry
// cells hold WKT.
func ParseCell(p *domain.Property, cell string) (interface{}, error) {
	if cell == "" && p.Type != domain.TypeString {
		return nil, nil
	}
	if p.IsGeometry() {
		return geometry.ParseWKT(cell)
	}
	return domain.ConvertValue(cell, p.Type)
}
