package query

import (
	"fmt"
	"strings"

	"github.com/kasuganosora/geoaccess/pkg/geometry"
)

// Dialect is the part of a SQL engine the renderer needs to know about.
type Dialect interface {
	// QuoteIdentifier wraps a dataset/property name in dialect-specific quoting
	QuoteIdentifier(name string) string

	// Placeholder returns the parameter placeholder for the n-th parameter (1-based)
	Placeholder(n int) string

	// GeometryFromWKB wraps a WKB parameter placeholder into a geometry constructor
	GeometryFromWKB(placeholder string, srid int) string

	// SpatialFunction maps a relation to the engine's function name
	SpatialFunction(rel geometry.SpatialRelation) string
}

// Render converts a statement into SQL text plus positional arguments.
// Geometry literals are bound as WKB parameters.
func Render(d Dialect, stmt Statement) (string, []interface{}, error) {
	r := &renderer{dialect: d}
	var err error
	switch s := stmt.(type) {
	case *Select:
		err = r.renderSelect(s)
	case *Insert:
		err = r.renderInsert(s)
	case *Update:
		err = r.renderUpdate(s)
	case *Delete:
		err = r.renderDelete(s)
	default:
		err = fmt.Errorf("cannot render statement %T", stmt)
	}
	if err != nil {
		return "", nil, err
	}
	return r.sb.String(), r.args, nil
}

type renderer struct {
	dialect Dialect
	sb      strings.Builder
	args    []interface{}
}

func (r *renderer) bind(v interface{}) string {
	r.args = append(r.args, v)
	return r.dialect.Placeholder(len(r.args))
}

func (r *renderer) renderSelect(s *Select) error {
	r.sb.WriteString("SELECT ")
	if s.Fields.IsAll() {
		r.sb.WriteString("*")
	} else {
		for i, f := range s.Fields {
			if i > 0 {
				r.sb.WriteString(", ")
			}
			if err := r.renderExpr(f.Expr); err != nil {
				return err
			}
			if f.Alias != "" {
				r.sb.WriteString(" AS " + r.dialect.QuoteIdentifier(f.Alias))
			}
		}
	}

	if len(s.From) > 0 {
		r.sb.WriteString(" FROM ")
		for i, item := range s.From {
			if i > 0 {
				r.sb.WriteString(", ")
			}
			ds, ok := item.(*DataSetName)
			if !ok {
				return fmt.Errorf("unsupported FROM item %T", item)
			}
			r.sb.WriteString(r.qualified(ds.Name))
			if ds.Alias != "" {
				r.sb.WriteString(" AS " + r.dialect.QuoteIdentifier(ds.Alias))
			}
		}
	}

	if err := r.renderWhere(s.Where); err != nil {
		return err
	}

	for i, o := range s.OrderBy {
		if i == 0 {
			r.sb.WriteString(" ORDER BY ")
		} else {
			r.sb.WriteString(", ")
		}
		if err := r.renderExpr(o.Expr); err != nil {
			return err
		}
		if o.Desc {
			r.sb.WriteString(" DESC")
		}
	}

	if s.Limit > 0 {
		r.sb.WriteString(fmt.Sprintf(" LIMIT %d", s.Limit))
	}
	if s.Offset > 0 {
		r.sb.WriteString(fmt.Sprintf(" OFFSET %d", s.Offset))
	}
	return nil
}

func (r *renderer) renderInsert(s *Insert) error {
	r.sb.WriteString("INSERT INTO " + r.qualified(s.DataSet.Name))
	if len(s.Columns) > 0 {
		quoted := make([]string, len(s.Columns))
		for i, c := range s.Columns {
			quoted[i] = r.dialect.QuoteIdentifier(c)
		}
		r.sb.WriteString(" (" + strings.Join(quoted, ", ") + ")")
	}
	r.sb.WriteString(" VALUES ")
	for i, row := range s.Values {
		if i > 0 {
			r.sb.WriteString(", ")
		}
		r.sb.WriteString("(")
		for j, v := range row {
			if j > 0 {
				r.sb.WriteString(", ")
			}
			if err := r.renderExpr(v); err != nil {
				return err
			}
		}
		r.sb.WriteString(")")
	}
	return nil
}

func (r *renderer) renderUpdate(s *Update) error {
	if len(s.Assignments) == 0 {
		return fmt.Errorf("update of %s has no assignments", s.DataSet.Name)
	}
	r.sb.WriteString("UPDATE " + r.qualified(s.DataSet.Name) + " SET ")
	for i, a := range s.Assignments {
		if i > 0 {
			r.sb.WriteString(", ")
		}
		r.sb.WriteString(r.dialect.QuoteIdentifier(a.Column) + " = ")
		if err := r.renderExpr(a.Value); err != nil {
			return err
		}
	}
	return r.renderWhere(s.Where)
}

func (r *renderer) renderDelete(s *Delete) error {
	r.sb.WriteString("DELETE FROM " + r.qualified(s.DataSet.Name))
	return r.renderWhere(s.Where)
}

func (r *renderer) renderWhere(w *Where) error {
	if w == nil || w.Expr == nil {
		return nil
	}
	r.sb.WriteString(" WHERE ")
	return r.renderExpr(w.Expr)
}

// qualified quotes "schema.table" part by part.
func (r *renderer) qualified(name string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = r.dialect.QuoteIdentifier(p)
	}
	return strings.Join(parts, ".")
}

func (r *renderer) renderExpr(expr Expression) error {
	switch e := expr.(type) {
	case *PropertyName:
		if e.Name == "*" {
			r.sb.WriteString("*")
		} else {
			r.sb.WriteString(r.qualified(e.Name))
		}
	case *Param:
		return fmt.Errorf("parameter %d is not bound", e.Index)
	case *Literal:
		if e.Value == nil {
			r.sb.WriteString("NULL")
		} else {
			r.sb.WriteString(r.bind(e.Value))
		}
	case *LiteralEnvelope:
		wkb, err := geometry.EncodeWKB(e.Envelope.Polygon(e.SRID))
		if err != nil {
			return err
		}
		r.sb.WriteString(r.dialect.GeometryFromWKB(r.bind(wkb), e.SRID))
	case *LiteralGeom:
		wkb, err := geometry.EncodeWKB(e.Geom)
		if err != nil {
			return err
		}
		r.sb.WriteString(r.dialect.GeometryFromWKB(r.bind(wkb), e.EffectiveSRID()))
	case *BinaryExpr:
		r.sb.WriteString("(")
		if err := r.renderExpr(e.Left); err != nil {
			return err
		}
		r.sb.WriteString(" " + string(e.Op) + " ")
		if err := r.renderExpr(e.Right); err != nil {
			return err
		}
		r.sb.WriteString(")")
	case *UnaryExpr:
		if e.Op == OpNeg {
			r.sb.WriteString("-")
		} else {
			r.sb.WriteString(string(e.Op) + " ")
		}
		r.sb.WriteString("(")
		if err := r.renderExpr(e.Expr); err != nil {
			return err
		}
		r.sb.WriteString(")")
	case *Function:
		name := e.Name
		if rel, ok := geometry.RelationFromFunction(e.Name); ok {
			name = r.dialect.SpatialFunction(rel)
		}
		r.sb.WriteString(name + "(")
		for i, arg := range e.Args {
			if i > 0 {
				r.sb.WriteString(", ")
			}
			if err := r.renderExpr(arg); err != nil {
				return err
			}
		}
		r.sb.WriteString(")")
	case *IsNull:
		if err := r.renderExpr(e.Expr); err != nil {
			return err
		}
		if e.Not {
			r.sb.WriteString(" IS NOT NULL")
		} else {
			r.sb.WriteString(" IS NULL")
		}
	case *In:
		if err := r.renderExpr(e.Expr); err != nil {
			return err
		}
		if e.Not {
			r.sb.WriteString(" NOT")
		}
		r.sb.WriteString(" IN (")
		for i, item := range e.List {
			if i > 0 {
				r.sb.WriteString(", ")
			}
			if err := r.renderExpr(item); err != nil {
				return err
			}
		}
		r.sb.WriteString(")")
	default:
		return fmt.Errorf("cannot render expression %T", expr)
	}
	return nil
}
