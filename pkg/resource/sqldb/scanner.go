package sqldb

import (
	"database/sql"
	"fmt"

	"github.com/kasuganosora/geoaccess/pkg/geometry"
	"github.com/kasuganosora/geoaccess/pkg/resource/domain"
)

// resultType builds the DataSetType of a result set. Columns that name a
// property of hint keep its definition; the rest are typed from the driver's
// column metadata.
func resultType(d Dialect, name string, hint *domain.DataSetType, colTypes []*sql.ColumnType) *domain.DataSetType {
	if hint != nil && len(hint.Properties) == len(colTypes) {
		same := true
		for i, ct := range colTypes {
			if hint.Properties[i].Name != ct.Name() {
				same = false
				break
			}
		}
		if same {
			return hint
		}
	}

	dt := domain.NewDataSetType(name)
	for _, ct := range colTypes {
		if hint != nil {
			if p, ok := hint.Property(ct.Name()); ok {
				_ = dt.AddProperty(p.Clone())
				continue
			}
		}
		p := domain.NewProperty(ct.Name(), d.MapColumnType(ct.DatabaseTypeName()))
		if nullable, ok := ct.Nullable(); ok {
			p.Nullable = nullable
		}
		if p.IsGeometry() {
			p.GeometryType = "GEOMETRY"
		}
		// a repeated column name keeps the first definition
		_ = dt.AddProperty(p)
	}
	if hint != nil {
		if g := hint.DefaultGeometryProperty(); g != nil && dt.HasProperty(g.Name) {
			dt.DefaultGeometry = g.Name
		}
		if hint.PrimaryKey != nil {
			_ = dt.SetPrimaryKey(&domain.PrimaryKey{Name: hint.PrimaryKey.Name, Properties: append([]string(nil), hint.PrimaryKey.Properties...)})
		}
	}
	return dt
}

// ScanRows reads all rows from *sql.Rows into domain rows typed by dt.
func ScanRows(rows *sql.Rows, d Dialect, dt *domain.DataSetType) ([]domain.Row, error) {
	colNames, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("get columns: %w", err)
	}

	props := make([]*domain.Property, len(colNames))
	for i, name := range colNames {
		if p, ok := dt.Property(name); ok {
			props[i] = p
		} else {
			props[i] = domain.NewProperty(name, domain.TypeUnknown)
		}
	}

	var result []domain.Row
	for rows.Next() {
		row, err := scanRow(rows, d, props)
		if err != nil {
			return nil, err
		}
		result = append(result, row)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return result, nil
}

func scanRow(rows *sql.Rows, d Dialect, props []*domain.Property) (domain.Row, error) {
	// Create scan targets
	values := make([]interface{}, len(props))
	scanTargets := make([]interface{}, len(props))
	for i := range values {
		scanTargets[i] = &values[i]
	}

	if err := rows.Scan(scanTargets...); err != nil {
		return nil, fmt.Errorf("scan row: %w", err)
	}

	row := make(domain.Row, len(props))
	for i, p := range props {
		if _, dup := row[p.Name]; dup {
			continue
		}
		v, err := normalizeValue(d, p, values[i])
		if err != nil {
			return nil, err
		}
		row[p.Name] = v
	}
	return row, nil
}

// normalizeValue converts a scanned value to the representation of p.
func normalizeValue(d Dialect, p *domain.Property, v interface{}) (interface{}, error) {
	if v == nil {
		return nil, nil
	}

	switch p.Type {
	case domain.TypeGeometry:
		g, err := d.DecodeGeometry(v)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", p.Name, err)
		}
		if g != nil && p.SRID != 0 && g.SRID() == 0 {
			g = geometry.WithSRID(g, p.SRID)
		}
		return g, nil
	case domain.TypeBytes, domain.TypeRaster:
		// drivers may reuse the scan buffer
		if b, ok := v.([]byte); ok {
			return append([]byte(nil), b...), nil
		}
	}

	if b, ok := v.([]byte); ok {
		v = string(b)
	}
	if p.Type == domain.TypeUnknown {
		return v, nil
	}
	out, err := domain.ConvertValue(v, p.Type)
	if err != nil {
		return nil, fmt.Errorf("column %s: %w", p.Name, err)
	}
	return out, nil
}
