package query

import (
	"fmt"

	"github.com/twpayne/go-geom"
)

// CountParams returns the number of distinct parameter slots in stmt.
func CountParams(stmt Statement) int {
	max := -1
	walkStatement(stmt, func(e Expression) Expression {
		if p, ok := e.(*Param); ok && p.Index > max {
			max = p.Index
		}
		return e
	})
	return max + 1
}

// Bind returns a copy of stmt with every Param replaced by the literal at
// its index. Geometry values become geometry literals.
func Bind(stmt Statement, args []interface{}) (Statement, error) {
	var bindErr error
	out := cloneStatement(stmt, func(e Expression) Expression {
		p, ok := e.(*Param)
		if !ok {
			return e
		}
		if p.Index >= len(args) {
			bindErr = fmt.Errorf("parameter %d is not bound", p.Index)
			return e
		}
		return literalOf(args[p.Index])
	})
	if bindErr != nil {
		return nil, bindErr
	}
	return out, nil
}

func literalOf(v interface{}) Expression {
	switch val := v.(type) {
	case Expression:
		return val
	case geom.T:
		return &LiteralGeom{Geom: val}
	}
	return Lit(v)
}

// Transform returns a copy of stmt with fn applied bottom-up to every
// expression node.
func Transform(stmt Statement, fn func(Expression) Expression) Statement {
	return cloneStatement(stmt, fn)
}

func walkStatement(stmt Statement, fn func(Expression) Expression) {
	cloneStatement(stmt, fn)
}

func cloneStatement(stmt Statement, fn func(Expression) Expression) Statement {
	switch s := stmt.(type) {
	case *Select:
		c := *s
		c.Fields = make(Fields, len(s.Fields))
		for i, f := range s.Fields {
			c.Fields[i] = &Field{Expr: rewrite(f.Expr, fn), Alias: f.Alias}
		}
		if s.Where != nil {
			c.Where = &Where{Expr: rewrite(s.Where.Expr, fn)}
		}
		c.OrderBy = make([]OrderByItem, len(s.OrderBy))
		for i, o := range s.OrderBy {
			c.OrderBy[i] = OrderByItem{Expr: rewrite(o.Expr, fn), Desc: o.Desc}
		}
		return &c
	case *Insert:
		c := *s
		c.Values = make([][]Expression, len(s.Values))
		for i, row := range s.Values {
			c.Values[i] = make([]Expression, len(row))
			for j, v := range row {
				c.Values[i][j] = rewrite(v, fn)
			}
		}
		return &c
	case *Update:
		c := *s
		c.Assignments = make([]Assignment, len(s.Assignments))
		for i, a := range s.Assignments {
			c.Assignments[i] = Assignment{Column: a.Column, Value: rewrite(a.Value, fn)}
		}
		if s.Where != nil {
			c.Where = &Where{Expr: rewrite(s.Where.Expr, fn)}
		}
		return &c
	case *Delete:
		c := *s
		if s.Where != nil {
			c.Where = &Where{Expr: rewrite(s.Where.Expr, fn)}
		}
		return &c
	}
	return stmt
}

// rewrite rebuilds expr bottom-up, applying fn to every node.
func rewrite(expr Expression, fn func(Expression) Expression) Expression {
	switch e := expr.(type) {
	case nil:
		return nil
	case *BinaryExpr:
		return fn(&BinaryExpr{Op: e.Op, Left: rewrite(e.Left, fn), Right: rewrite(e.Right, fn)})
	case *UnaryExpr:
		return fn(&UnaryExpr{Op: e.Op, Expr: rewrite(e.Expr, fn)})
	case *Function:
		args := make([]Expression, len(e.Args))
		for i, a := range e.Args {
			args[i] = rewrite(a, fn)
		}
		return fn(&Function{Name: e.Name, Args: args})
	case *IsNull:
		return fn(&IsNull{Expr: rewrite(e.Expr, fn), Not: e.Not})
	case *In:
		list := make([]Expression, len(e.List))
		for i, item := range e.List {
			list[i] = rewrite(item, fn)
		}
		return fn(&In{Expr: rewrite(e.Expr, fn), List: list, Not: e.Not})
	}
	return fn(expr)
}
