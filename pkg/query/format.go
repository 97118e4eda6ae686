package query

import (
	"fmt"
	"strings"

	"github.com/kasuganosora/geoaccess/pkg/geometry"
)

// Format renders an expression for logs and error messages. It is not a
// dialect renderer; use Render for SQL sent to a backend.
func Format(expr Expression) string {
	var sb strings.Builder
	formatExpr(&sb, expr)
	return sb.String()
}

func formatExpr(sb *strings.Builder, expr Expression) {
	switch e := expr.(type) {
	case nil:
		sb.WriteString("NULL")
	case *PropertyName:
		sb.WriteString(e.Name)
	case *Param:
		fmt.Fprintf(sb, "?%d", e.Index)
	case *Literal:
		switch v := e.Value.(type) {
		case nil:
			sb.WriteString("NULL")
		case string:
			sb.WriteString("'" + strings.ReplaceAll(v, "'", "''") + "'")
		case []byte:
			fmt.Fprintf(sb, "<%d bytes>", len(v))
		default:
			fmt.Fprintf(sb, "%v", v)
		}
	case *LiteralEnvelope:
		env := e.Envelope
		fmt.Fprintf(sb, "ST_MakeEnvelope(%g, %g, %g, %g, %d)", env.MinX, env.MinY, env.MaxX, env.MaxY, e.SRID)
	case *LiteralGeom:
		s, err := geometry.FormatWKT(e.Geom)
		if err != nil {
			sb.WriteString("ST_GeomFromText(?)")
			return
		}
		fmt.Fprintf(sb, "ST_GeomFromText('%s')", s)
	case *BinaryExpr:
		sb.WriteString("(")
		formatExpr(sb, e.Left)
		sb.WriteString(" " + string(e.Op) + " ")
		formatExpr(sb, e.Right)
		sb.WriteString(")")
	case *UnaryExpr:
		if e.Op == OpNeg {
			sb.WriteString("-")
		} else {
			sb.WriteString(string(e.Op) + " ")
		}
		formatExpr(sb, e.Expr)
	case *Function:
		sb.WriteString(e.Name + "(")
		for i, arg := range e.Args {
			if i > 0 {
				sb.WriteString(", ")
			}
			formatExpr(sb, arg)
		}
		sb.WriteString(")")
	case *IsNull:
		formatExpr(sb, e.Expr)
		if e.Not {
			sb.WriteString(" IS NOT NULL")
		} else {
			sb.WriteString(" IS NULL")
		}
	case *In:
		formatExpr(sb, e.Expr)
		if e.Not {
			sb.WriteString(" NOT")
		}
		sb.WriteString(" IN (")
		for i, item := range e.List {
			if i > 0 {
				sb.WriteString(", ")
			}
			formatExpr(sb, item)
		}
		sb.WriteString(")")
	default:
		fmt.Fprintf(sb, "%T", expr)
	}
}

func (s *Select) String() string {
	var sb strings.Builder
	sb.WriteString("SELECT ")
	if s.Fields.IsAll() {
		sb.WriteString("*")
	} else {
		for i, f := range s.Fields {
			if i > 0 {
				sb.WriteString(", ")
			}
			formatExpr(&sb, f.Expr)
			if f.Alias != "" {
				sb.WriteString(" AS " + f.Alias)
			}
		}
	}
	if names := s.DataSetNames(); len(names) > 0 {
		sb.WriteString(" FROM " + strings.Join(names, ", "))
	}
	if s.Where != nil {
		sb.WriteString(" WHERE ")
		formatExpr(&sb, s.Where.Expr)
	}
	for i, o := range s.OrderBy {
		if i == 0 {
			sb.WriteString(" ORDER BY ")
		} else {
			sb.WriteString(", ")
		}
		formatExpr(&sb, o.Expr)
		if o.Desc {
			sb.WriteString(" DESC")
		}
	}
	if s.Limit > 0 {
		fmt.Fprintf(&sb, " LIMIT %d", s.Limit)
	}
	if s.Offset > 0 {
		fmt.Fprintf(&sb, " OFFSET %d", s.Offset)
	}
	return sb.String()
}
