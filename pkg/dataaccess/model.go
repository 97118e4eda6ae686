package dataaccess

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/kasuganosora/geoaccess/pkg/resource/domain"
	"gorm.io/gorm/schema"
)

var modelCache sync.Map

// DataSetTypeFromModel derives a DataSetType from a gorm-style struct model.
// Geometry columns are declared with a type tag, for example
// `gorm:"type:geometry(POLYGON,4326)"`.
func DataSetTypeFromModel(model interface{}) (*domain.DataSetType, error) {
	s, err := schema.Parse(model, &modelCache, schema.NamingStrategy{})
	if err != nil {
		return nil, fmt.Errorf("failed to parse schema: %w", err)
	}

	dt := domain.NewDataSetType(s.Table)
	var pk []string
	for _, field := range s.Fields {
		if field.DBName == "" {
			continue
		}
		p, ok := propertyOf(field)
		if !ok {
			continue
		}
		if err := dt.AddProperty(p); err != nil {
			return nil, err
		}
		if field.PrimaryKey {
			pk = append(pk, field.DBName)
		}
		if field.Unique {
			if err := dt.AddUniqueKey(&domain.UniqueKey{
				Name:       "uk_" + s.Table + "_" + field.DBName,
				Properties: []string{field.DBName},
			}); err != nil {
				return nil, err
			}
		}
		if p.IsGeometry() {
			if err := dt.AddIndex(&domain.Index{
				Name:       "sidx_" + s.Table + "_" + field.DBName,
				Type:       domain.IndexTypeRTree,
				Properties: []string{field.DBName},
			}); err != nil {
				return nil, err
			}
		}
	}
	if len(pk) > 0 {
		if err := dt.SetPrimaryKey(&domain.PrimaryKey{Name: "pk_" + s.Table, Properties: pk}); err != nil {
			return nil, err
		}
	}
	dt.FullyLoaded = true
	return dt, nil
}

func propertyOf(field *schema.Field) (*domain.Property, bool) {
	p := &domain.Property{
		Name:          field.DBName,
		Nullable:      !field.NotNull && !field.PrimaryKey,
		AutoIncrement: field.AutoIncrement,
	}
	switch field.DataType {
	case schema.Bool:
		p.Type = domain.TypeBoolean
	case schema.Int, schema.Uint:
		p.Type = domain.TypeInt64
		if field.Size > 0 && field.Size <= 32 {
			p.Type = domain.TypeInt32
		}
	case schema.Float:
		p.Type = domain.TypeDouble
	case schema.String:
		p.Type = domain.TypeString
		p.Size = field.Size
	case schema.Time:
		p.Type = domain.TypeDateTime
	case schema.Bytes:
		p.Type = domain.TypeBytes
	case "":
		return nil, false
	default:
		gtype, srid, ok := parseGeometryDataType(string(field.DataType))
		if ok {
			p.Type = domain.TypeGeometry
			p.GeometryType = gtype
			p.SRID = srid
			break
		}
		typ, err := domain.ParsePropertyType(string(field.DataType))
		if err != nil {
			return nil, false
		}
		p.Type = typ
	}
	return p, true
}

// parseGeometryDataType reads "geometry", "geometry(POINT)" and
// "geometry(POINT,4326)".
func parseGeometryDataType(s string) (string, int, bool) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(strings.ToLower(s), "geometry") {
		return "", 0, false
	}
	rest := strings.TrimSpace(s[len("geometry"):])
	if rest == "" {
		return "GEOMETRY", 0, true
	}
	if !strings.HasPrefix(rest, "(") || !strings.HasSuffix(rest, ")") {
		return "", 0, false
	}
	parts := strings.Split(rest[1:len(rest)-1], ",")
	gtype := strings.ToUpper(strings.TrimSpace(parts[0]))
	if gtype == "" {
		gtype = "GEOMETRY"
	}
	srid := 0
	if len(parts) > 1 {
		n, err := strconv.Atoi(strings.TrimSpace(parts[1]))
		if err != nil {
			return "", 0, false
		}
		srid = n
	}
	return gtype, srid, true
}
