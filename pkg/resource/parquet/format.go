package parquet

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	pq "github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress"
	"github.com/twpayne/go-geom"

	"github.com/kasuganosora/geoaccess/pkg/geometry"
	"github.com/kasuganosora/geoaccess/pkg/resource/domain"
	"github.com/kasuganosora/geoaccess/pkg/resource/file"
	"github.com/kasuganosora/geoaccess/pkg/resource/memory"
)

// InfoCompression selects the codec used when writing.
const InfoCompression = "COMPRESSION"

// parquetFormat 单数据集，几何列以 WKB 存储并写入 GeoParquet 元数据
type parquetFormat struct{}

func (parquetFormat) Read(ctx context.Context, path string, info domain.ConnectionInfo, hints map[string]*domain.DataSetType) ([]memory.TableSnapshot, error) {
	opts, err := file.SchemaOptionsFrom(info)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open parquet file %q: %w", path, err)
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat parquet file %q: %w", path, err)
	}
	pf, err := pq.OpenFile(f, stat.Size())
	if err != nil {
		return nil, fmt.Errorf("failed to open parquet file %q: %w", path, err)
	}

	var geo *geoMetadata
	if s, ok := pf.Lookup(geoMetadataKey); ok {
		if geo, err = parseGeoMetadata(s); err != nil {
			return nil, fmt.Errorf("invalid geoparquet metadata: %w", err)
		}
	}

	name := file.DataSetName(path)
	fields := pf.Schema().Fields()
	dt, err := schemaToDataSetType(name, fields, geo, opts)
	if err != nil {
		return nil, err
	}

	reader := pq.NewReader(f)
	defer reader.Close()

	var rows []domain.Row
	buf := make([]pq.Row, 128)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n, err := reader.ReadRows(buf)
		for i := 0; i < n; i++ {
			row, cerr := parquetRowToDomain(dt, buf[i])
			if cerr != nil {
				return nil, fmt.Errorf("row %d: %w", len(rows), cerr)
			}
			rows = append(rows, row)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("failed to read rows from %q: %w", path, err)
		}
	}

	// 行按名称取值，保存的类型只需属性集合一致
	if hint := hints[name]; sameProperties(dt, hint) {
		dt = hint.Clone()
		dt.FullyLoaded = false
	}
	return []memory.TableSnapshot{{Type: dt, Rows: rows}}, nil
}

func sameProperties(a, b *domain.DataSetType) bool {
	if b == nil || len(a.Properties) != len(b.Properties) {
		return false
	}
	for _, p := range a.Properties {
		q, ok := b.Property(p.Name)
		if !ok || q.Type != p.Type {
			return false
		}
	}
	return true
}

// schemaToDataSetType maps parquet leaf columns to properties. Geometry
// columns come from the GeoParquet metadata, GEOMETRY_COLUMN or the usual
// column names.
func schemaToDataSetType(name string, fields []pq.Field, geo *geoMetadata, opts file.SchemaOptions) (*domain.DataSetType, error) {
	dt := domain.NewDataSetType(name)
	for _, field := range fields {
		if !field.Leaf() {
			return nil, fmt.Errorf("nested column %s is not supported", field.Name())
		}
		p := &domain.Property{Name: field.Name(), Nullable: field.Optional()}
		if meta, ok := geoColumn(geo, field.Name()); ok {
			p.Type = domain.TypeGeometry
			p.GeometryType = geometryTypeFromGeoParquet(meta.GeometryTypes)
			p.SRID = meta.CRS.srid()
		} else if isGeometryName(field.Name(), opts) {
			p.Type = domain.TypeGeometry
			p.SRID = opts.SRID
		} else {
			p.Type = leafType(field)
		}
		if p.IsGeometry() {
			if p.GeometryType == "" {
				p.GeometryType = "GEOMETRY"
			}
			if p.SRID == 0 {
				p.SRID = opts.SRID
			}
		}
		if err := dt.AddProperty(p); err != nil {
			return nil, err
		}
	}
	if geo != nil && geo.PrimaryColumn != "" && dt.HasProperty(geo.PrimaryColumn) {
		dt.DefaultGeometry = geo.PrimaryColumn
	}
	if err := file.ApplyPrimaryKey(dt, opts.PrimaryKey); err != nil {
		return nil, err
	}
	return dt, nil
}

func geoColumn(geo *geoMetadata, name string) (geoColumnMeta, bool) {
	if geo == nil {
		return geoColumnMeta{}, false
	}
	c, ok := geo.Columns[name]
	return c, ok
}

func isGeometryName(name string, opts file.SchemaOptions) bool {
	if opts.GeometryColumn != "" {
		return strings.EqualFold(name, opts.GeometryColumn)
	}
	switch strings.ToLower(name) {
	case "geom", "geometry", "the_geom":
		return true
	}
	return false
}

// leafType maps a leaf parquet node to a property type.
func leafType(node pq.Node) domain.PropertyType {
	t := node.Type()
	lt := t.LogicalType()
	switch t.Kind() {
	case pq.Boolean:
		return domain.TypeBoolean
	case pq.Int32:
		return domain.TypeInt32
	case pq.Int64:
		if lt != nil && lt.Timestamp != nil {
			return domain.TypeDateTime
		}
		return domain.TypeInt64
	case pq.Float, pq.Double:
		return domain.TypeDouble
	case pq.ByteArray:
		if lt != nil && (lt.UTF8 != nil || lt.Json != nil) {
			return domain.TypeString
		}
		return domain.TypeBytes
	}
	return domain.TypeBytes
}

// parquetRowToDomain converts a parquet.Row to a domain.Row.
func parquetRowToDomain(dt *domain.DataSetType, row pq.Row) (domain.Row, error) {
	out := make(domain.Row, len(dt.Properties))
	for _, p := range dt.Properties {
		out[p.Name] = nil
	}
	for _, v := range row {
		i := v.Column()
		if i < 0 || i >= len(dt.Properties) || v.IsNull() {
			continue
		}
		p := dt.Properties[i]
		val, err := parquetValueToGo(p, v)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", p.Name, err)
		}
		out[p.Name] = val
	}
	return out, nil
}

// parquetValueToGo converts a parquet.Value to the representation of p.
func parquetValueToGo(p *domain.Property, v pq.Value) (interface{}, error) {
	switch v.Kind() {
	case pq.Boolean:
		return v.Boolean(), nil
	case pq.Int32:
		return int64(v.Int32()), nil
	case pq.Int64:
		if p.Type == domain.TypeDateTime {
			return time.UnixMilli(v.Int64()).UTC(), nil
		}
		return v.Int64(), nil
	case pq.Float:
		return float64(v.Float()), nil
	case pq.Double:
		return v.Double(), nil
	case pq.ByteArray, pq.FixedLenByteArray:
		b := append([]byte(nil), v.ByteArray()...)
		switch p.Type {
		case domain.TypeGeometry:
			return geometry.DecodeWKB(b)
		case domain.TypeString:
			return string(b), nil
		}
		return b, nil
	}
	return nil, fmt.Errorf("unsupported parquet kind %v", v.Kind())
}

// propertyNode converts a property to a parquet node.
func propertyNode(p *domain.Property) (pq.Node, error) {
	var node pq.Node
	switch p.Type {
	case domain.TypeInt32:
		node = pq.Leaf(pq.Int32Type)
	case domain.TypeInt64:
		node = pq.Leaf(pq.Int64Type)
	case domain.TypeDouble, domain.TypeNumeric:
		node = pq.Leaf(pq.DoubleType)
	case domain.TypeBoolean:
		node = pq.Leaf(pq.BooleanType)
	case domain.TypeString:
		node = pq.String()
	case domain.TypeDateTime:
		node = pq.Timestamp(pq.Millisecond)
	case domain.TypeBytes, domain.TypeGeometry:
		node = pq.Leaf(pq.ByteArrayType)
	default:
		return nil, fmt.Errorf("property %s: type %s cannot be stored in parquet", p.Name, p.Type)
	}
	// 全部列可空，NOT NULL 由内存引擎检查
	return pq.Optional(node), nil
}

// schemaFor builds the parquet schema and the column index of every
// property. Group columns are ordered by name.
func schemaFor(dt *domain.DataSetType) (*pq.Schema, map[string]int, error) {
	group := make(pq.Group, len(dt.Properties))
	for _, p := range dt.Properties {
		node, err := propertyNode(p)
		if err != nil {
			return nil, nil, err
		}
		group[p.Name] = node
	}
	schema := pq.NewSchema(dt.Name, group)
	columns := make(map[string]int, len(dt.Properties))
	for i, f := range schema.Fields() {
		columns[f.Name()] = i
	}
	return schema, columns, nil
}

// domainRowToParquetRow converts a domain.Row to a parquet.Row.
func domainRowToParquetRow(dt *domain.DataSetType, columns map[string]int, r domain.Row) (pq.Row, error) {
	values := make([]pq.Value, len(dt.Properties))
	for _, p := range dt.Properties {
		i := columns[p.Name]
		v := r[p.Name]
		if v == nil {
			values[i] = pq.NullValue().Level(0, 0, i)
			continue
		}
		pv, err := goValueToParquet(p, v)
		if err != nil {
			return nil, fmt.Errorf("property %s: %w", p.Name, err)
		}
		values[i] = pv.Level(0, 1, i)
	}
	return pq.Row(values), nil
}

func goValueToParquet(p *domain.Property, v interface{}) (pq.Value, error) {
	switch p.Type {
	case domain.TypeInt32:
		n, err := domain.ToInt64(v)
		return pq.Int32Value(int32(n)), err
	case domain.TypeInt64:
		n, err := domain.ToInt64(v)
		return pq.Int64Value(n), err
	case domain.TypeDouble, domain.TypeNumeric:
		f, err := domain.ToFloat64(v)
		return pq.DoubleValue(f), err
	case domain.TypeBoolean:
		b, err := domain.ToBool(v)
		return pq.BooleanValue(b), err
	case domain.TypeString:
		return pq.ByteArrayValue([]byte(domain.ToString(v))), nil
	case domain.TypeDateTime:
		t, err := domain.ToTime(v)
		return pq.Int64Value(t.UnixMilli()), err
	case domain.TypeGeometry:
		g, ok := v.(geom.T)
		if !ok {
			return pq.Value{}, fmt.Errorf("expected geometry, got %T", v)
		}
		b, err := geometry.EncodeWKB(g)
		return pq.ByteArrayValue(b), err
	case domain.TypeBytes:
		b, ok := v.([]byte)
		if !ok {
			b = []byte(domain.ToString(v))
		}
		return pq.ByteArrayValue(b), nil
	}
	return pq.Value{}, fmt.Errorf("unsupported type %s", p.Type)
}

func (parquetFormat) Write(ctx context.Context, path string, info domain.ConnectionInfo, tables []memory.TableSnapshot) error {
	if len(tables) != 1 {
		return errors.New("a parquet file holds exactly one dataset")
	}
	t := tables[0]
	if len(t.Type.Properties) == 0 {
		return fmt.Errorf("dataset %s has no properties", t.Type.Name)
	}

	schema, columns, err := schemaFor(t.Type)
	if err != nil {
		return err
	}
	writerOpts := []pq.WriterOption{schema}
	if codec := compressionCodec(info.Get(InfoCompression)); codec != nil {
		writerOpts = append(writerOpts, pq.Compression(codec))
	}
	geo, err := geoMetadataFor(t.Type)
	if err != nil {
		return err
	}
	if geo != "" {
		writerOpts = append(writerOpts, pq.KeyValueMetadata(geoMetadataKey, geo))
	}

	out, err := os.Create(path)
	if err != nil {
		return err
	}
	defer out.Close()

	writer := pq.NewWriter(out, writerOpts...)
	batch := make([]pq.Row, 0, 1024)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if _, err := writer.WriteRows(batch); err != nil {
			return fmt.Errorf("failed to write rows: %w", err)
		}
		batch = batch[:0]
		return nil
	}
	for _, r := range t.Rows {
		row, err := domainRowToParquetRow(t.Type, columns, r)
		if err != nil {
			return err
		}
		batch = append(batch, row)
		if len(batch) == cap(batch) {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := flush(); err != nil {
		return err
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close parquet writer: %w", err)
	}
	return out.Close()
}

// compressionCodec returns the parquet compression codec for a given name.
func compressionCodec(name string) compress.Codec {
	switch strings.ToLower(name) {
	case "gzip":
		return &pq.Gzip
	case "zstd":
		return &pq.Zstd
	case "lz4":
		return &pq.Lz4Raw
	case "none", "uncompressed":
		return nil
	default:
		return &pq.Snappy
	}
}
