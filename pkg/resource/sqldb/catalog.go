package sqldb

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/kasuganosora/geoaccess/pkg/geometry"
	"github.com/kasuganosora/geoaccess/pkg/resource/domain"
)

// catalogReader reads dataset types from the database catalog.
type catalogReader struct {
	d Dialect
	q Querier
}

// queryMaps runs a catalog query and returns each row keyed by lower-case
// column name with []byte values turned into strings.
func (c catalogReader) queryMaps(ctx context.Context, query string, args ...interface{}) ([]map[string]interface{}, error) {
	rows, err := c.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("get columns: %w", err)
	}
	var out []map[string]interface{}
	for rows.Next() {
		values := make([]interface{}, len(cols))
		scanTargets := make([]interface{}, len(cols))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return nil, fmt.Errorf("scan catalog row: %w", err)
		}
		m := make(map[string]interface{}, len(cols))
		for i, col := range cols {
			v := values[i]
			if b, ok := v.([]byte); ok {
				v = string(b)
			}
			m[strings.ToLower(col)] = v
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (c catalogReader) tables(ctx context.Context) ([]string, error) {
	rows, err := c.q.QueryContext(ctx, c.d.TablesQuery())
	if err != nil {
		return nil, fmt.Errorf("get tables: %w", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan table name: %w", err)
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

// load reads the columns of name; full adds unique keys, indexes and check
// constraints. An unknown table yields ErrDataSetNotFound.
func (c catalogReader) load(ctx context.Context, name string, full bool) (*domain.DataSetType, error) {
	table := unqualified(name)
	cols, err := c.queryMaps(ctx, c.d.ColumnsQuery(), table)
	if err != nil {
		return nil, fmt.Errorf("get table info: %w", err)
	}
	if len(cols) == 0 {
		return nil, domain.NewErrDataSetNotFound(name)
	}

	dt := domain.NewDataSetType(name)
	var pk []string
	for _, m := range cols {
		p := c.parseColumn(m)
		if err := dt.AddProperty(p); err != nil {
			return nil, err
		}
		if strings.EqualFold(str(m["column_key"]), "PRI") {
			pk = append(pk, p.Name)
		}
	}
	if len(pk) > 0 {
		if err := dt.SetPrimaryKey(&domain.PrimaryKey{Name: table + "_pkey", Properties: pk}); err != nil {
			return nil, err
		}
	}
	if !full {
		return dt, nil
	}

	if err := c.loadIndexes(ctx, dt, table); err != nil {
		return nil, err
	}
	if q := c.d.ChecksQuery(); q != "" {
		checks, err := c.queryMaps(ctx, q, table)
		if err != nil {
			return nil, fmt.Errorf("get check constraints: %w", err)
		}
		for _, m := range checks {
			clause := strings.TrimSpace(str(m["check_clause"]))
			clause = strings.TrimPrefix(clause, "CHECK ")
			if err := dt.AddCheckConstraint(&domain.CheckConstraint{Name: str(m["constraint_name"]), Expression: clause}); err != nil {
				return nil, err
			}
		}
	}
	dt.FullyLoaded = true
	return dt, nil
}

func (c catalogReader) parseColumn(m map[string]interface{}) *domain.Property {
	colType := str(m["column_type"])
	p := domain.NewProperty(str(m["column_name"]), c.d.MapColumnType(colType))
	p.Nullable = strings.EqualFold(str(m["is_nullable"]), "YES")
	p.AutoIncrement = strings.Contains(strings.ToLower(str(m["extra"])), "auto_increment")
	if size, err := domain.ToInt64(m["size"]); err == nil && size > 0 {
		p.Size = int(size)
	} else if p.Type == domain.TypeString {
		p.Size = typeSize(colType)
	}
	if p.IsGeometry() {
		p.Size = 0
		p.GeometryType = strings.ToUpper(str(m["geometry_type"]))
		if p.GeometryType == "" || p.GeometryType == "GEOMETRY" {
			if t := strings.ToUpper(baseType(colType)); geometryTypes[strings.ToLower(t)] {
				p.GeometryType = t
			} else {
				p.GeometryType = "GEOMETRY"
			}
		}
		if srid, err := domain.ToInt64(m["srid"]); err == nil {
			p.SRID = int(srid)
		}
	}
	return p
}

func (c catalogReader) loadIndexes(ctx context.Context, dt *domain.DataSetType, table string) error {
	rows, err := c.queryMaps(ctx, c.d.IndexesQuery(), table)
	if err != nil {
		return fmt.Errorf("get indexes: %w", err)
	}

	type indexDef struct {
		name    string
		unique  bool
		primary bool
		method  string
		cols    []string
	}
	var order []string
	defs := map[string]*indexDef{}
	for _, m := range rows {
		name := str(m["index_name"])
		def, ok := defs[name]
		if !ok {
			unique, _ := domain.ToBool(m["is_unique"])
			primary, _ := domain.ToBool(m["is_primary"])
			def = &indexDef{name: name, unique: unique, primary: primary, method: strings.ToLower(str(m["method"]))}
			defs[name] = def
			order = append(order, name)
		}
		def.cols = append(def.cols, str(m["column_name"]))
	}

	for _, name := range order {
		def := defs[name]
		if def.primary {
			continue
		}
		if def.unique {
			if err := dt.AddUniqueKey(&domain.UniqueKey{Name: def.name, Properties: def.cols}); err != nil {
				return err
			}
			continue
		}
		typ := domain.IndexTypeBTree
		switch def.method {
		case "gist", "spgist", "spatial", "rtree":
			typ = domain.IndexTypeRTree
		case "hash":
			typ = domain.IndexTypeHash
		}
		if err := dt.AddIndex(&domain.Index{Name: def.name, Type: typ, Properties: def.cols}); err != nil {
			return err
		}
	}
	return nil
}

// extent computes the envelope of a geometry column in the database when
// the dialect can, and by scanning the column otherwise.
func (c catalogReader) extent(ctx context.Context, dt *domain.DataSetType, p *domain.Property) (geometry.Envelope, error) {
	if eq, ok := c.d.(ExtentQuerier); ok {
		var minX, minY, maxX, maxY sql.NullFloat64
		err := c.q.QueryRowContext(ctx, eq.ExtentQuery(dt.Name, p.Name)).Scan(&minX, &minY, &maxX, &maxY)
		if err != nil {
			return geometry.EmptyEnvelope(), err
		}
		if !minX.Valid {
			return geometry.EmptyEnvelope(), nil
		}
		return geometry.NewEnvelope(minX.Float64, minY.Float64, maxX.Float64, maxY.Float64), nil
	}

	rows, err := c.q.QueryContext(ctx, fmt.Sprintf("SELECT %s FROM %s", c.d.QuoteIdentifier(p.Name), qualify(c.d, dt.Name)))
	if err != nil {
		return geometry.EmptyEnvelope(), err
	}
	defer rows.Close()
	col := domain.NewDataSetType(dt.Name)
	_ = col.AddProperty(p.Clone())
	data, err := ScanRows(rows, c.d, col)
	if err != nil {
		return geometry.EmptyEnvelope(), err
	}
	return domain.ExtentOf(data, p.Name)
}

func str(v interface{}) string {
	if v == nil {
		return ""
	}
	return domain.ToString(v)
}
