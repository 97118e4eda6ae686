package query

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/kasuganosora/geoaccess/pkg/geometry"
	"github.com/pingcap/tidb/pkg/parser"
	"github.com/pingcap/tidb/pkg/parser/ast"
	"github.com/pingcap/tidb/pkg/parser/opcode"
	"github.com/pingcap/tidb/pkg/parser/test_driver"
)

// Parse converts a native query string into the portable object model.
// Only single-dataset SELECT, INSERT, UPDATE and DELETE are accepted.
func Parse(sql string) (Statement, error) {
	stmts, _, err := parser.New().ParseSQL(sql)
	if err != nil {
		return nil, fmt.Errorf("parse query: %w", err)
	}
	if len(stmts) != 1 {
		return nil, fmt.Errorf("expected exactly one statement, got %d", len(stmts))
	}

	var stmt Statement
	switch s := stmts[0].(type) {
	case *ast.SelectStmt:
		stmt, err = convertSelect(s)
	case *ast.InsertStmt:
		stmt, err = convertInsert(s)
	case *ast.UpdateStmt:
		stmt, err = convertUpdate(s)
	case *ast.DeleteStmt:
		stmt, err = convertDelete(s)
	default:
		return nil, fmt.Errorf("unsupported statement type %T", s)
	}
	if err != nil {
		return nil, err
	}
	numberParams(stmt)
	return stmt, nil
}

// numberParams renumbers parameter markers 0..n-1 in text order.
func numberParams(stmt Statement) {
	var params []*Param
	walkStatement(stmt, func(e Expression) Expression {
		if p, ok := e.(*Param); ok {
			params = append(params, p)
		}
		return e
	})
	sort.Slice(params, func(i, j int) bool { return params[i].Index < params[j].Index })
	for i, p := range params {
		p.Index = i
	}
}

// ParseSelect is Parse restricted to queries.
func ParseSelect(sql string) (*Select, error) {
	stmt, err := Parse(sql)
	if err != nil {
		return nil, err
	}
	sel, ok := stmt.(*Select)
	if !ok {
		return nil, fmt.Errorf("not a SELECT statement: %s", sql)
	}
	return sel, nil
}

// ParseCommand is Parse restricted to INSERT/UPDATE/DELETE.
func ParseCommand(sql string) (Command, error) {
	stmt, err := Parse(sql)
	if err != nil {
		return nil, err
	}
	cmd, ok := stmt.(Command)
	if !ok {
		return nil, fmt.Errorf("not a command statement: %s", sql)
	}
	return cmd, nil
}

func convertSelect(stmt *ast.SelectStmt) (*Select, error) {
	sel := &Select{}

	if stmt.Fields != nil {
		for _, f := range stmt.Fields.Fields {
			if f.WildCard != nil {
				sel.Fields = append(sel.Fields, &Field{Expr: Prop("*")})
				continue
			}
			expr, err := convertExpr(f.Expr)
			if err != nil {
				return nil, err
			}
			sel.Fields = append(sel.Fields, &Field{Expr: expr, Alias: f.AsName.O})
		}
	}

	if stmt.From != nil && stmt.From.TableRefs != nil {
		if stmt.From.TableRefs.Right != nil {
			return nil, fmt.Errorf("joins are not supported")
		}
		ds, err := convertTableRef(stmt.From.TableRefs.Left)
		if err != nil {
			return nil, err
		}
		sel.From = From{ds}
	}

	if stmt.Where != nil {
		expr, err := convertExpr(stmt.Where)
		if err != nil {
			return nil, err
		}
		sel.Where = NewWhere(expr)
	}

	if stmt.OrderBy != nil {
		for _, item := range stmt.OrderBy.Items {
			expr, err := convertExpr(item.Expr)
			if err != nil {
				return nil, err
			}
			sel.OrderBy = append(sel.OrderBy, OrderByItem{Expr: expr, Desc: item.Desc})
		}
	}

	if stmt.Limit != nil {
		if stmt.Limit.Count != nil {
			n, err := intValue(stmt.Limit.Count)
			if err != nil {
				return nil, fmt.Errorf("LIMIT: %w", err)
			}
			sel.Limit = n
		}
		if stmt.Limit.Offset != nil {
			n, err := intValue(stmt.Limit.Offset)
			if err != nil {
				return nil, fmt.Errorf("OFFSET: %w", err)
			}
			sel.Offset = n
		}
	}
	return sel, nil
}

func convertInsert(stmt *ast.InsertStmt) (*Insert, error) {
	if stmt.Table == nil || stmt.Table.TableRefs == nil {
		return nil, fmt.Errorf("INSERT without target")
	}
	ds, err := convertTableRef(stmt.Table.TableRefs.Left)
	if err != nil {
		return nil, err
	}
	ins := &Insert{DataSet: ds}
	for _, col := range stmt.Columns {
		ins.Columns = append(ins.Columns, col.Name.O)
	}
	for _, row := range stmt.Lists {
		values := make([]Expression, 0, len(row))
		for _, v := range row {
			expr, err := convertExpr(v)
			if err != nil {
				return nil, err
			}
			values = append(values, expr)
		}
		ins.Values = append(ins.Values, values)
	}
	return ins, nil
}

func convertUpdate(stmt *ast.UpdateStmt) (*Update, error) {
	if stmt.TableRefs == nil || stmt.TableRefs.TableRefs == nil {
		return nil, fmt.Errorf("UPDATE without target")
	}
	ds, err := convertTableRef(stmt.TableRefs.TableRefs.Left)
	if err != nil {
		return nil, err
	}
	upd := &Update{DataSet: ds}
	for _, a := range stmt.List {
		expr, err := convertExpr(a.Expr)
		if err != nil {
			return nil, err
		}
		upd.Assignments = append(upd.Assignments, Assignment{Column: a.Column.Name.O, Value: expr})
	}
	if stmt.Where != nil {
		expr, err := convertExpr(stmt.Where)
		if err != nil {
			return nil, err
		}
		upd.Where = NewWhere(expr)
	}
	return upd, nil
}

func convertDelete(stmt *ast.DeleteStmt) (*Delete, error) {
	if stmt.TableRefs == nil || stmt.TableRefs.TableRefs == nil {
		return nil, fmt.Errorf("DELETE without target")
	}
	ds, err := convertTableRef(stmt.TableRefs.TableRefs.Left)
	if err != nil {
		return nil, err
	}
	del := &Delete{DataSet: ds}
	if stmt.Where != nil {
		expr, err := convertExpr(stmt.Where)
		if err != nil {
			return nil, err
		}
		del.Where = NewWhere(expr)
	}
	return del, nil
}

func convertTableRef(node ast.ResultSetNode) (*DataSetName, error) {
	ts, ok := node.(*ast.TableSource)
	if !ok {
		return nil, fmt.Errorf("unsupported table reference %T", node)
	}
	tn, ok := ts.Source.(*ast.TableName)
	if !ok {
		return nil, fmt.Errorf("sub-queries are not supported")
	}
	name := tn.Name.O
	if tn.Schema.O != "" {
		name = tn.Schema.O + "." + name
	}
	return &DataSetName{Name: name, Alias: ts.AsName.O}, nil
}

func convertExpr(node ast.ExprNode) (Expression, error) {
	switch n := node.(type) {
	case *ast.ParenthesesExpr:
		return convertExpr(n.Expr)

	case *ast.ColumnNameExpr:
		name := n.Name.Name.O
		if n.Name.Table.O != "" {
			name = n.Name.Table.O + "." + name
		}
		return Prop(name), nil

	case *test_driver.ParamMarkerExpr:
		// numbered by text offset here, renumbered in Parse
		return &Param{Index: n.Offset}, nil

	case ast.ValueExpr:
		return Lit(normalizeValue(n.GetValue())), nil

	case *ast.BinaryOperationExpr:
		op, err := convertOp(n.Op)
		if err != nil {
			return nil, err
		}
		l, err := convertExpr(n.L)
		if err != nil {
			return nil, err
		}
		r, err := convertExpr(n.R)
		if err != nil {
			return nil, err
		}
		return &BinaryExpr{Op: op, Left: l, Right: r}, nil

	case *ast.UnaryOperationExpr:
		inner, err := convertExpr(n.V)
		if err != nil {
			return nil, err
		}
		switch n.Op {
		case opcode.Not, opcode.Not2:
			return &UnaryExpr{Op: OpNot, Expr: inner}, nil
		case opcode.Minus:
			if lit, ok := inner.(*Literal); ok {
				switch v := lit.Value.(type) {
				case int64:
					return Lit(-v), nil
				case float64:
					return Lit(-v), nil
				}
			}
			return &UnaryExpr{Op: OpNeg, Expr: inner}, nil
		case opcode.Plus:
			return inner, nil
		}
		return nil, fmt.Errorf("unsupported unary operator %s", n.Op)

	case *ast.PatternLikeOrIlikeExpr:
		l, err := convertExpr(n.Expr)
		if err != nil {
			return nil, err
		}
		r, err := convertExpr(n.Pattern)
		if err != nil {
			return nil, err
		}
		op := OpLike
		if n.Not {
			op = OpNotLike
		}
		return &BinaryExpr{Op: op, Left: l, Right: r}, nil

	case *ast.BetweenExpr:
		e, err := convertExpr(n.Expr)
		if err != nil {
			return nil, err
		}
		lo, err := convertExpr(n.Left)
		if err != nil {
			return nil, err
		}
		hi, err := convertExpr(n.Right)
		if err != nil {
			return nil, err
		}
		between := And(Compare(OpGE, e, lo), Compare(OpLE, e, hi))
		if n.Not {
			return &UnaryExpr{Op: OpNot, Expr: between}, nil
		}
		return between, nil

	case *ast.PatternInExpr:
		if n.Sel != nil {
			return nil, fmt.Errorf("IN sub-queries are not supported")
		}
		e, err := convertExpr(n.Expr)
		if err != nil {
			return nil, err
		}
		in := &In{Expr: e, Not: n.Not}
		for _, item := range n.List {
			v, err := convertExpr(item)
			if err != nil {
				return nil, err
			}
			in.List = append(in.List, v)
		}
		return in, nil

	case *ast.IsNullExpr:
		e, err := convertExpr(n.Expr)
		if err != nil {
			return nil, err
		}
		return &IsNull{Expr: e, Not: n.Not}, nil

	case *ast.FuncCallExpr:
		return convertFunc(n)
	}
	return nil, fmt.Errorf("unsupported expression %T", node)
}

// convertFunc folds constant geometry constructors into geometry literals so
// that drivers can push them down.
func convertFunc(n *ast.FuncCallExpr) (Expression, error) {
	args := make([]Expression, 0, len(n.Args))
	for _, a := range n.Args {
		e, err := convertExpr(a)
		if err != nil {
			return nil, err
		}
		args = append(args, e)
	}

	name := n.FnName.O
	switch strings.ToUpper(name) {
	case "ST_GEOMFROMTEXT":
		if wkt, ok := literalString(args, 0); ok {
			g, err := geometry.ParseWKT(wkt)
			if err != nil {
				return nil, err
			}
			if srid, ok := literalFloat(args, 1); ok {
				g = geometry.WithSRID(g, int(srid))
			}
			return &LiteralGeom{Geom: g}, nil
		}
	case "ST_MAKEENVELOPE":
		var c [4]float64
		constant := len(args) >= 4
		for i := 0; constant && i < 4; i++ {
			c[i], constant = literalFloat(args, i)
		}
		if constant {
			srid, _ := literalFloat(args, 4)
			return &LiteralEnvelope{
				Envelope: geometry.NewEnvelope(c[0], c[1], c[2], c[3]),
				SRID:     int(srid),
			}, nil
		}
	}
	if rel, ok := geometry.RelationFromFunction(name); ok {
		name = rel.FunctionName()
	}
	return &Function{Name: name, Args: args}, nil
}

func literalString(args []Expression, i int) (string, bool) {
	if i >= len(args) {
		return "", false
	}
	lit, ok := args[i].(*Literal)
	if !ok {
		return "", false
	}
	s, ok := lit.Value.(string)
	return s, ok
}

func literalFloat(args []Expression, i int) (float64, bool) {
	if i >= len(args) {
		return 0, false
	}
	lit, ok := args[i].(*Literal)
	if !ok {
		return 0, false
	}
	switch v := lit.Value.(type) {
	case int64:
		return float64(v), true
	case float64:
		return v, true
	}
	return 0, false
}

func convertOp(op opcode.Op) (Operator, error) {
	switch op {
	case opcode.LogicAnd:
		return OpAnd, nil
	case opcode.LogicOr:
		return OpOr, nil
	case opcode.EQ:
		return OpEQ, nil
	case opcode.NE:
		return OpNE, nil
	case opcode.LT:
		return OpLT, nil
	case opcode.LE:
		return OpLE, nil
	case opcode.GT:
		return OpGT, nil
	case opcode.GE:
		return OpGE, nil
	case opcode.Plus:
		return OpAdd, nil
	case opcode.Minus:
		return OpSub, nil
	case opcode.Mul:
		return OpMul, nil
	case opcode.Div:
		return OpDiv, nil
	}
	return "", fmt.Errorf("unsupported operator %s", op)
}

func intValue(node ast.ExprNode) (int64, error) {
	v, ok := node.(ast.ValueExpr)
	if !ok {
		return 0, fmt.Errorf("expected a constant, got %T", node)
	}
	switch n := normalizeValue(v.GetValue()).(type) {
	case int64:
		return n, nil
	case float64:
		return int64(n), nil
	}
	return 0, fmt.Errorf("expected an integer constant")
}

// normalizeValue maps parser datums onto int64/float64/string/nil.
func normalizeValue(val interface{}) interface{} {
	switch v := val.(type) {
	case nil:
		return nil
	case int64:
		return v
	case uint64:
		if v <= math.MaxInt64 {
			return int64(v)
		}
		return float64(v)
	case float32:
		return float64(v)
	case float64:
		return v
	case string:
		return v
	case []byte:
		return string(v)
	case fmt.Stringer:
		// decimal literals
		if f, err := strconv.ParseFloat(v.String(), 64); err == nil {
			return f
		}
		return v.String()
	}
	return val
}
