package geojson

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/twpayne/go-geom"

	"github.com/kasuganosora/geoaccess/pkg/geometry"
	"github.com/kasuganosora/geoaccess/pkg/resource/domain"
	"github.com/kasuganosora/geoaccess/pkg/resource/file"
	"github.com/kasuganosora/geoaccess/pkg/resource/memory"
)

// DefaultGeometryProperty 未设置 GEOMETRY_COLUMN 时几何属性的名称
const DefaultGeometryProperty = "geom"

// DefaultSRID GeoJSON 坐标固定为 WGS 84
const DefaultSRID = 4326

type featureCollection struct {
	Type     string    `json:"type"`
	Features []feature `json:"features"`
}

type feature struct {
	Type       string          `json:"type"`
	Geometry   json.RawMessage `json:"geometry"`
	Properties json.RawMessage `json:"properties"`
}

// geojsonFormat 读写 FeatureCollection。属性按首次出现的顺序排列，
// 几何属性排在最后
type geojsonFormat struct{}

func (geojsonFormat) Read(ctx context.Context, path string, info domain.ConnectionInfo, hints map[string]*domain.DataSetType) ([]memory.TableSnapshot, error) {
	opts, err := file.SchemaOptionsFrom(info)
	if err != nil {
		return nil, err
	}
	if opts.GeometryColumn == "" {
		opts.GeometryColumn = DefaultGeometryProperty
	}
	if opts.SRID == 0 {
		opts.SRID = DefaultSRID
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var fc featureCollection
	if len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, &fc); err != nil {
			return nil, fmt.Errorf("failed to parse GeoJSON: %w", err)
		}
		if fc.Type != "FeatureCollection" {
			return nil, fmt.Errorf("expected a FeatureCollection, got %q", fc.Type)
		}
	}

	var (
		order    []string
		seen     = make(map[string]bool)
		types    = make(map[string]domain.PropertyType)
		values   = make([]map[string]interface{}, len(fc.Features))
		geoms    = make([]geom.T, len(fc.Features))
		geomType string
	)
	for i, f := range fc.Features {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if g, err := decodeGeometry(f.Geometry); err != nil {
			return nil, fmt.Errorf("feature %d: %w", i, err)
		} else if g != nil {
			geoms[i] = g
			geomType = mergeGeometryType(geomType, geometry.TypeName(g))
		}

		keys, err := objectKeys(f.Properties)
		if err != nil {
			return nil, fmt.Errorf("feature %d: %w", i, err)
		}
		props := make(map[string]interface{}, len(keys))
		if len(keys) > 0 {
			if err := json.Unmarshal(f.Properties, &props); err != nil {
				return nil, fmt.Errorf("feature %d: %w", i, err)
			}
		}
		values[i] = props
		for _, k := range keys {
			if k == opts.GeometryColumn {
				continue
			}
			if !seen[k] {
				seen[k] = true
				order = append(order, k)
				types[k] = domain.TypeUnknown
			}
			if v := props[k]; v != nil {
				types[k] = widen(types[k], detectType(v))
			}
		}
	}
	if geomType == "GEOMETRY" {
		geomType = ""
	}

	name := file.DataSetName(path)
	dt := domain.NewDataSetType(name)
	for _, k := range order {
		typ := types[k]
		if typ == domain.TypeUnknown {
			typ = domain.TypeString
		}
		if err := dt.AddProperty(domain.NewProperty(k, typ)); err != nil {
			return nil, err
		}
	}
	if err := dt.AddProperty(domain.NewGeometryProperty(opts.GeometryColumn, geomType, opts.SRID)); err != nil {
		return nil, err
	}
	if err := file.ApplyPrimaryKey(dt, opts.PrimaryKey); err != nil {
		return nil, err
	}
	dt = file.ApplyHint(dt, hints[name])

	rows := make([]domain.Row, len(fc.Features))
	for i := range fc.Features {
		row := make(domain.Row, len(dt.Properties))
		for _, p := range dt.Properties {
			if p.Name == opts.GeometryColumn {
				row[p.Name] = geoms[i]
				continue
			}
			v, err := convert(p, values[i][p.Name])
			if err != nil {
				return nil, fmt.Errorf("feature %d: property %s: %w", i, p.Name, err)
			}
			row[p.Name] = v
		}
		rows[i] = row
	}
	return []memory.TableSnapshot{{Type: dt, Rows: rows}}, nil
}

func (geojsonFormat) Write(ctx context.Context, path string, info domain.ConnectionInfo, tables []memory.TableSnapshot) error {
	if len(tables) > 1 {
		return errors.New("a GeoJSON file holds a single dataset")
	}

	var buf bytes.Buffer
	buf.WriteString(`{"type":"FeatureCollection","features":[`)
	if len(tables) == 1 {
		t := tables[0]
		geomProp := geometryProperty(t.Type, info)
		for i, r := range t.Rows {
			if i > 0 {
				buf.WriteByte(',')
			}
			buf.WriteString("\n")
			if err := writeFeature(&buf, t.Type, geomProp, r); err != nil {
				return fmt.Errorf("row %d: %w", i, err)
			}
		}
	}
	buf.WriteString("\n]}\n")
	return os.WriteFile(path, buf.Bytes(), 0644)
}

// geometryProperty 写回时作为要素几何的属性
func geometryProperty(dt *domain.DataSetType, info domain.ConnectionInfo) string {
	if name, ok := info.Lookup(domain.InfoGeometryColumn); ok {
		return name
	}
	if dt.DefaultGeometry != "" {
		return dt.DefaultGeometry
	}
	return DefaultGeometryProperty
}

func writeFeature(buf *bytes.Buffer, dt *domain.DataSetType, geomProp string, r domain.Row) error {
	buf.WriteString(`{"type":"Feature","geometry":`)
	if g, ok := r[geomProp].(geom.T); ok && g != nil {
		data, err := geometry.ToGeoJSON(g)
		if err != nil {
			return err
		}
		buf.Write(data)
	} else {
		buf.WriteString("null")
	}

	buf.WriteString(`,"properties":{`)
	first := true
	for _, p := range dt.Properties {
		if p.Name == geomProp {
			continue
		}
		v, err := jsonValue(r[p.Name])
		if err != nil {
			return fmt.Errorf("property %s: %w", p.Name, err)
		}
		key, _ := json.Marshal(p.Name)
		val, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("property %s: %w", p.Name, err)
		}
		if !first {
			buf.WriteByte(',')
		}
		first = false
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteString("}}")
	return nil
}

func jsonValue(v interface{}) (interface{}, error) {
	switch x := v.(type) {
	case geom.T:
		return geometry.FormatWKT(x)
	case time.Time:
		return x.Format(time.RFC3339), nil
	}
	return v, nil
}

func decodeGeometry(raw json.RawMessage) (geom.T, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	return geometry.FromGeoJSON(raw)
}

// objectKeys 按出现顺序返回 JSON 对象的键，null 视为空对象
func objectKeys(raw json.RawMessage) ([]string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, errors.New("properties must be an object")
	}
	var keys []string
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		keys = append(keys, tok.(string))
		var skip json.RawMessage
		if err := dec.Decode(&skip); err != nil {
			return nil, err
		}
	}
	return keys, nil
}

func detectType(v interface{}) domain.PropertyType {
	switch x := v.(type) {
	case bool:
		return domain.TypeBoolean
	case float64:
		if x == float64(int64(x)) {
			return domain.TypeInt64
		}
		return domain.TypeDouble
	case string:
		if _, err := time.Parse(time.RFC3339, x); err == nil {
			return domain.TypeDateTime
		}
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

func mergeGeometryType(current, next string) string {
	if current == "" || current == next {
		return next
	}
	return "GEOMETRY"
}

// convert 把解码后的 JSON 值转换为属性类型。嵌套数组和对象保存为 JSON 文本
func convert(p *domain.Property, v interface{}) (interface{}, error) {
	switch v.(type) {
	case nil:
		return nil, nil
	case []interface{}, map[string]interface{}:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		v = string(data)
	}
	if p.IsGeometry() {
		return geometry.FromValue(v)
	}
	return domain.ConvertValue(v, p.Type)
}
