package domain

import (
	"github.com/kasuganosora/geoaccess/pkg/query"
)

// SelectRows evaluates sel over materialised rows and returns the result
// as a RowSet. Result rows are copies.
func SelectRows(driver DataSourceType, dt *DataSetType, rows []Row, sel *query.Select, trav TraverseType, access AccessPolicy) (*RowSet, error) {
	maps := make([]map[string]interface{}, len(rows))
	for i, r := range rows {
		maps[i] = r
	}
	res, err := query.Run(sel, dt.PropertyNames(), maps)
	if err != nil {
		return nil, NewErrBackend(driver, "query", err)
	}

	out := make([]Row, len(res.Rows))
	for i, r := range res.Rows {
		out[i] = Row(r).Clone()
	}

	resultType := dt
	if !sel.Fields.IsAll() {
		resultType = ProjectType(dt, sel.Fields, res.Columns, out)
	}
	return NewRowSet(driver, resultType, out, trav, access), nil
}

// ProjectType derives the type of a projection. Plain property references
// keep their definition; computed columns are typed from the first non-NULL
// value.
func ProjectType(dt *DataSetType, fields query.Fields, columns []string, rows []Row) *DataSetType {
	out := NewDataSetType(dt.Name)
	out.Title = dt.Title
	for i, f := range fields {
		name := columns[i]
		if pn, ok := f.Expr.(*query.PropertyName); ok {
			if p, found := dt.Property(pn.Name); found {
				c := p.Clone()
				c.Name = name
				_ = out.AddProperty(c)
				continue
			}
		}
		typ := TypeUnknown
		for _, r := range rows {
			if v := r[name]; v != nil {
				typ = InferPropertyType(v)
				break
			}
		}
		_ = out.AddProperty(NewProperty(name, typ))
	}
	if dt.PrimaryKey != nil {
		keep := true
		for _, k := range dt.PrimaryKey.Properties {
			if !out.HasProperty(k) {
				keep = false
				break
			}
		}
		if keep {
			_ = out.SetPrimaryKey(&PrimaryKey{Name: dt.PrimaryKey.Name, Properties: append([]string(nil), dt.PrimaryKey.Properties...)})
		}
	}
	return out
}
