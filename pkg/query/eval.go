package query

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/kasuganosora/geoaccess/pkg/geometry"
	"github.com/twpayne/go-geom"
)

// Record is a row as seen by the evaluator.
type Record interface {
	Get(name string) (interface{}, bool)
}

// MapRecord adapts a map to Record.
type MapRecord map[string]interface{}

func (m MapRecord) Get(name string) (interface{}, bool) {
	v, ok := m[name]
	if ok {
		return v, true
	}
	// "alias.column" falls back to the bare column name
	if i := strings.LastIndex(name, "."); i >= 0 {
		v, ok = m[name[i+1:]]
	}
	return v, ok
}

// Match evaluates a predicate; a nil expression matches everything and a
// NULL result does not match.
func Match(expr Expression, rec Record) (bool, error) {
	if expr == nil {
		return true, nil
	}
	v, err := Eval(expr, rec)
	if err != nil {
		return false, err
	}
	b, _ := v.(bool)
	return b, nil
}

// Eval evaluates expr against rec.
func Eval(expr Expression, rec Record) (interface{}, error) {
	switch e := expr.(type) {
	case nil:
		return nil, nil
	case *PropertyName:
		v, ok := rec.Get(e.Name)
		if !ok {
			return nil, fmt.Errorf("property %s not found", e.Name)
		}
		return v, nil
	case *Param:
		return nil, fmt.Errorf("parameter %d is not bound", e.Index)
	case *Literal:
		return e.Value, nil
	case *LiteralEnvelope:
		return e.Envelope.Polygon(e.SRID), nil
	case *LiteralGeom:
		return e.Geom, nil
	case *BinaryExpr:
		return evalBinary(e, rec)
	case *UnaryExpr:
		v, err := Eval(e.Expr, rec)
		if err != nil || v == nil {
			return nil, err
		}
		switch e.Op {
		case OpNot:
			b, ok := v.(bool)
			if !ok {
				return nil, fmt.Errorf("NOT applied to %T", v)
			}
			return !b, nil
		case OpNeg:
			f, ok := toFloat(v)
			if !ok {
				return nil, fmt.Errorf("cannot negate %T", v)
			}
			if i, isInt := v.(int64); isInt {
				return -i, nil
			}
			return -f, nil
		}
		return nil, fmt.Errorf("unsupported unary operator %s", e.Op)
	case *Function:
		return evalFunction(e, rec)
	case *IsNull:
		v, err := Eval(e.Expr, rec)
		if err != nil {
			return nil, err
		}
		return (v == nil) != e.Not, nil
	case *In:
		v, err := Eval(e.Expr, rec)
		if err != nil || v == nil {
			return nil, err
		}
		found := false
		for _, item := range e.List {
			iv, err := Eval(item, rec)
			if err != nil {
				return nil, err
			}
			if c, ok := compareValues(v, iv); ok && c == 0 {
				found = true
				break
			}
		}
		return found != e.Not, nil
	default:
		return nil, fmt.Errorf("cannot evaluate expression %T", expr)
	}
}

func evalBinary(e *BinaryExpr, rec Record) (interface{}, error) {
	// Three-valued AND/OR.
	if e.Op == OpAnd || e.Op == OpOr {
		l, err := Eval(e.Left, rec)
		if err != nil {
			return nil, err
		}
		lb, lok := l.(bool)
		if e.Op == OpAnd && lok && !lb {
			return false, nil
		}
		if e.Op == OpOr && lok && lb {
			return true, nil
		}
		r, err := Eval(e.Right, rec)
		if err != nil {
			return nil, err
		}
		rb, rok := r.(bool)
		switch {
		case e.Op == OpAnd && rok && !rb:
			return false, nil
		case e.Op == OpOr && rok && rb:
			return true, nil
		case lok && rok:
			return e.Op == OpAnd, nil
		}
		return nil, nil
	}

	l, err := Eval(e.Left, rec)
	if err != nil {
		return nil, err
	}
	r, err := Eval(e.Right, rec)
	if err != nil {
		return nil, err
	}
	if l == nil || r == nil {
		return nil, nil
	}

	switch e.Op {
	case OpEQ, OpNE, OpLT, OpLE, OpGT, OpGE:
		c, ok := compareValues(l, r)
		if !ok {
			return nil, fmt.Errorf("cannot compare %T with %T", l, r)
		}
		switch e.Op {
		case OpEQ:
			return c == 0, nil
		case OpNE:
			return c != 0, nil
		case OpLT:
			return c < 0, nil
		case OpLE:
			return c <= 0, nil
		case OpGT:
			return c > 0, nil
		default:
			return c >= 0, nil
		}
	case OpLike, OpNotLike:
		matched, err := like(fmt.Sprint(l), fmt.Sprint(r))
		if err != nil {
			return nil, err
		}
		return matched == (e.Op == OpLike), nil
	case OpAdd, OpSub, OpMul, OpDiv:
		return arithmetic(e.Op, l, r)
	default:
		return nil, fmt.Errorf("unsupported operator %s", e.Op)
	}
}

func arithmetic(op Operator, l, r interface{}) (interface{}, error) {
	li, lInt := l.(int64)
	ri, rInt := r.(int64)
	if lInt && rInt && op != OpDiv {
		switch op {
		case OpAdd:
			return li + ri, nil
		case OpSub:
			return li - ri, nil
		case OpMul:
			return li * ri, nil
		}
	}
	lf, lok := toFloat(l)
	rf, rok := toFloat(r)
	if !lok || !rok {
		return nil, fmt.Errorf("arithmetic on %T and %T", l, r)
	}
	switch op {
	case OpAdd:
		return lf + rf, nil
	case OpSub:
		return lf - rf, nil
	case OpMul:
		return lf * rf, nil
	default:
		if rf == 0 {
			return nil, nil
		}
		return lf / rf, nil
	}
}

func evalFunction(f *Function, rec Record) (interface{}, error) {
	args := make([]interface{}, len(f.Args))
	for i, a := range f.Args {
		v, err := Eval(a, rec)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}

	if rel, ok := geometry.RelationFromFunction(f.Name); ok {
		if len(args) != 2 {
			return nil, fmt.Errorf("%s expects 2 arguments, got %d", f.Name, len(args))
		}
		if args[0] == nil || args[1] == nil {
			return nil, nil
		}
		a, err := geometry.FromValue(args[0])
		if err != nil {
			return nil, err
		}
		b, err := geometry.FromValue(args[1])
		if err != nil {
			return nil, err
		}
		return geometry.Relate(a, b, rel)
	}

	switch strings.ToUpper(f.Name) {
	case "ST_GEOMFROMTEXT":
		if len(args) == 0 || args[0] == nil {
			return nil, nil
		}
		g, err := geometry.ParseWKT(fmt.Sprint(args[0]))
		if err != nil {
			return nil, err
		}
		if len(args) > 1 {
			if srid, ok := toFloat(args[1]); ok {
				g = geometry.WithSRID(g, int(srid))
			}
		}
		return g, nil
	case "ST_MAKEENVELOPE":
		if len(args) < 4 {
			return nil, fmt.Errorf("ST_MakeEnvelope expects 4 or 5 arguments")
		}
		var c [4]float64
		for i := 0; i < 4; i++ {
			v, ok := toFloat(args[i])
			if !ok {
				return nil, fmt.Errorf("ST_MakeEnvelope argument %d is not numeric", i+1)
			}
			c[i] = v
		}
		srid := 0
		if len(args) > 4 {
			if s, ok := toFloat(args[4]); ok {
				srid = int(s)
			}
		}
		return geometry.NewEnvelope(c[0], c[1], c[2], c[3]).Polygon(srid), nil
	case "ST_ASTEXT":
		if len(args) != 1 || args[0] == nil {
			return nil, nil
		}
		g, err := geometry.FromValue(args[0])
		if err != nil || g == nil {
			return nil, err
		}
		return geometry.FormatWKT(g)
	case "UPPER":
		if len(args) != 1 || args[0] == nil {
			return nil, nil
		}
		return strings.ToUpper(fmt.Sprint(args[0])), nil
	case "LOWER":
		if len(args) != 1 || args[0] == nil {
			return nil, nil
		}
		return strings.ToLower(fmt.Sprint(args[0])), nil
	case "LENGTH":
		if len(args) != 1 || args[0] == nil {
			return nil, nil
		}
		return int64(len(fmt.Sprint(args[0]))), nil
	case "ABS":
		if len(args) != 1 || args[0] == nil {
			return nil, nil
		}
		if i, ok := args[0].(int64); ok {
			if i < 0 {
				return -i, nil
			}
			return i, nil
		}
		fv, ok := toFloat(args[0])
		if !ok {
			return nil, fmt.Errorf("ABS of %T", args[0])
		}
		return math.Abs(fv), nil
	case "COALESCE":
		for _, a := range args {
			if a != nil {
				return a, nil
			}
		}
		return nil, nil
	}
	return nil, fmt.Errorf("unsupported function %s", f.Name)
}

var likeCache sync.Map

func like(s, pattern string) (bool, error) {
	var re *regexp.Regexp
	if cached, ok := likeCache.Load(pattern); ok {
		re = cached.(*regexp.Regexp)
	} else {
		var sb strings.Builder
		sb.WriteString("(?s)^")
		for _, r := range pattern {
			switch r {
			case '%':
				sb.WriteString(".*")
			case '_':
				sb.WriteString(".")
			default:
				sb.WriteString(regexp.QuoteMeta(string(r)))
			}
		}
		sb.WriteString("$")
		var err error
		re, err = regexp.Compile(sb.String())
		if err != nil {
			return false, err
		}
		likeCache.Store(pattern, re)
	}
	return re.MatchString(s), nil
}

// compareValues orders two scalar values; ok is false when they are not comparable.
func compareValues(a, b interface{}) (int, bool) {
	if a == nil || b == nil {
		return 0, false
	}
	if af, ok := toFloat(a); ok {
		if bf, ok := toFloat(b); ok {
			switch {
			case af < bf:
				return -1, true
			case af > bf:
				return 1, true
			default:
				return 0, true
			}
		}
	}
	switch av := a.(type) {
	case string:
		bs, ok := b.(string)
		if !ok {
			bs = fmt.Sprint(b)
		}
		return strings.Compare(av, bs), true
	case bool:
		bb, ok := b.(bool)
		if !ok {
			// TRUE/FALSE 字面量解析为 1/0
			f, isNum := toFloat(b)
			if !isNum || (f != 0 && f != 1) {
				return 0, false
			}
			bb = f == 1
		}
		switch {
		case av == bb:
			return 0, true
		case !av:
			return -1, true
		default:
			return 1, true
		}
	case time.Time:
		bt, ok := toTime(b)
		if !ok {
			return 0, false
		}
		return av.Compare(bt), true
	case geom.T:
		bg, ok := b.(geom.T)
		if !ok {
			return 0, false
		}
		eq, err := geometry.Relate(av, bg, geometry.Equals)
		if err != nil || !eq {
			return 1, err == nil
		}
		return 0, true
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b)), true
}

func toTime(v interface{}) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05", "2006-01-02"} {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed, true
			}
		}
	}
	return time.Time{}, false
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

// Result is the output of Run.
type Result struct {
	Columns []string
	Rows    []map[string]interface{}
}

// Run executes a select over materialised rows: filter, order, page, project.
// columns gives the source column order used for SELECT *.
func Run(sel *Select, columns []string, rows []map[string]interface{}) (*Result, error) {
	filtered := make([]map[string]interface{}, 0, len(rows))
	for _, row := range rows {
		ok, err := Match(sel.WhereExpr(), MapRecord(row))
		if err != nil {
			return nil, err
		}
		if ok {
			filtered = append(filtered, row)
		}
	}

	if len(sel.OrderBy) > 0 {
		var sortErr error
		sort.SliceStable(filtered, func(i, j int) bool {
			for _, o := range sel.OrderBy {
				a, err := Eval(o.Expr, MapRecord(filtered[i]))
				if err != nil {
					sortErr = err
					return false
				}
				b, err := Eval(o.Expr, MapRecord(filtered[j]))
				if err != nil {
					sortErr = err
					return false
				}
				c := orderCompare(a, b)
				if c == 0 {
					continue
				}
				if o.Desc {
					return c > 0
				}
				return c < 0
			}
			return false
		})
		if sortErr != nil {
			return nil, sortErr
		}
	}

	if sel.Offset > 0 {
		if int(sel.Offset) >= len(filtered) {
			filtered = filtered[:0]
		} else {
			filtered = filtered[sel.Offset:]
		}
	}
	if sel.Limit > 0 && int(sel.Limit) < len(filtered) {
		filtered = filtered[:sel.Limit]
	}

	if sel.Fields.IsAll() {
		return &Result{Columns: columns, Rows: filtered}, nil
	}

	out := &Result{Columns: make([]string, len(sel.Fields))}
	for i, f := range sel.Fields {
		out.Columns[i] = f.Name()
	}
	out.Rows = make([]map[string]interface{}, 0, len(filtered))
	for _, row := range filtered {
		projected := make(map[string]interface{}, len(sel.Fields))
		for i, f := range sel.Fields {
			v, err := Eval(f.Expr, MapRecord(row))
			if err != nil {
				return nil, err
			}
			projected[out.Columns[i]] = v
		}
		out.Rows = append(out.Rows, projected)
	}
	return out, nil
}

// orderCompare sorts NULLs first.
func orderCompare(a, b interface{}) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	c, _ := compareValues(a, b)
	return c
}
