package query

import (
	"testing"

	"github.com/kasuganosora/geoaccess/pkg/geometry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"
)

func parcelRows() []map[string]interface{} {
	return []map[string]interface{}{
		{"id": int64(1), "name": "alpha", "geom": "POINT (1 1)", "area": 12.5},
		{"id": int64(2), "name": "beta", "geom": "POINT (8 8)", "area": nil},
		{"id": int64(3), "name": "gamma", "geom": "POINT (3 4)", "area": 4.0},
	}
}

func TestRunSpatialFilter(t *testing.T) {
	sel := EnvelopeFilter("parcels", "geom", geometry.NewEnvelope(0, 0, 5, 5), 0, geometry.Intersects)
	res, err := Run(sel, []string{"id", "name", "geom", "area"}, parcelRows())
	require.NoError(t, err)
	require.Len(t, res.Rows, 2)
	assert.Equal(t, int64(1), res.Rows[0]["id"])
	assert.Equal(t, int64(3), res.Rows[1]["id"])
	assert.Equal(t, []string{"id", "name", "geom", "area"}, res.Columns)
}

func TestRunOrderAndProjection(t *testing.T) {
	sel, err := ParseSelect("SELECT id, UPPER(name) AS upper_name FROM parcels ORDER BY area DESC LIMIT 2")
	require.NoError(t, err)

	res, err := Run(sel, nil, parcelRows())
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "upper_name"}, res.Columns)
	require.Len(t, res.Rows, 2)
	assert.Equal(t, "ALPHA", res.Rows[0]["upper_name"])
	assert.Equal(t, int64(3), res.Rows[1]["id"])
}

func TestRunOffsetPastEnd(t *testing.T) {
	sel := SelectAll("parcels")
	sel.Offset = 10
	res, err := Run(sel, nil, parcelRows())
	require.NoError(t, err)
	assert.Empty(t, res.Rows)
}

func TestMatchNullSemantics(t *testing.T) {
	rec := MapRecord{"a": nil, "b": int64(1)}

	ok, err := Match(Compare(OpEQ, Prop("a"), Lit(int64(1))), rec)
	require.NoError(t, err)
	assert.False(t, ok)

	// NULL OR TRUE
	ok, err = Match(&BinaryExpr{Op: OpOr, Left: Compare(OpEQ, Prop("a"), Lit(int64(1))), Right: Compare(OpEQ, Prop("b"), Lit(int64(1)))}, rec)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Match(nil, rec)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = Match(Compare(OpEQ, Prop("missing"), Lit(int64(1))), rec)
	assert.Error(t, err)
}

func TestEvalExpressions(t *testing.T) {
	rec := MapRecord{"x": int64(7), "s": "Hello", "t.y": 2.5}

	testCases := []struct {
		name string
		expr Expression
		want interface{}
	}{
		{"整数加法", &BinaryExpr{Op: OpAdd, Left: Prop("x"), Right: Lit(int64(3))}, int64(10)},
		{"除法", &BinaryExpr{Op: OpDiv, Left: Prop("x"), Right: Lit(int64(2))}, 3.5},
		{"除零", &BinaryExpr{Op: OpDiv, Left: Prop("x"), Right: Lit(int64(0))}, nil},
		{"取负", &UnaryExpr{Op: OpNeg, Expr: Prop("x")}, int64(-7)},
		{"LIKE", &BinaryExpr{Op: OpLike, Left: Prop("s"), Right: Lit("He_l%")}, true},
		{"NOT LIKE", &BinaryExpr{Op: OpNotLike, Left: Prop("s"), Right: Lit("x%")}, true},
		{"数字字符串比较", Compare(OpLT, Lit("10"), Lit(int64(9))), false},
		{"限定列名", Prop("alias.x"), int64(7)},
		{"COALESCE", &Function{Name: "COALESCE", Args: []Expression{Lit(nil), Lit("d")}}, "d"},
		{"ABS", &Function{Name: "ABS", Args: []Expression{Lit(int64(-4))}}, int64(4)},
		{"LENGTH", &Function{Name: "LENGTH", Args: []Expression{Prop("s")}}, int64(5)},
		{"ST_AsText", &Function{Name: "ST_AsText", Args: []Expression{&LiteralGeom{Geom: mustWKT(t, "POINT (1 2)")}}}, "POINT (1 2)"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Eval(tc.expr, rec)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestEvalSpatialFunctions(t *testing.T) {
	rec := MapRecord{"geom": "POLYGON ((0 0, 4 0, 4 4, 0 4, 0 0))"}

	contains := &Function{Name: "ST_Contains", Args: []Expression{
		Prop("geom"),
		&Function{Name: "ST_GeomFromText", Args: []Expression{Lit("POINT (2 2)")}},
	}}
	v, err := Eval(contains, rec)
	require.NoError(t, err)
	assert.Equal(t, true, v)

	disjoint := &Function{Name: "ST_Disjoint", Args: []Expression{
		Prop("geom"),
		&Function{Name: "ST_MakeEnvelope", Args: []Expression{Lit(int64(10)), Lit(int64(10)), Lit(int64(11)), Lit(int64(11))}},
	}}
	v, err = Eval(disjoint, rec)
	require.NoError(t, err)
	assert.Equal(t, true, v)

	v, err = Eval(&Function{Name: "ST_Intersects", Args: []Expression{Lit(nil), Prop("geom")}}, rec)
	require.NoError(t, err)
	assert.Nil(t, v)

	_, err = Eval(&Function{Name: "NO_SUCH_FN"}, rec)
	assert.Error(t, err)
}

func mustWKT(t *testing.T, s string) geom.T {
	t.Helper()
	g, err := geometry.ParseWKT(s)
	require.NoError(t, err)
	return g
}

func TestRunBoolColumnAgainstTrueLiteral(t *testing.T) {
	rows := []map[string]interface{}{
		{"id": int64(1), "active": true},
		{"id": int64(2), "active": false},
		{"id": int64(3), "active": nil},
	}
	sel, err := ParseSelect("SELECT id FROM roads WHERE active = true")
	require.NoError(t, err)
	res, err := Run(sel, nil, rows)
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, int64(1), res.Rows[0]["id"])

	ok, err := Match(Compare(OpEQ, Prop("active"), Lit(int64(0))), MapRecord{"active": false})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Match(Compare(OpEQ, Prop("active"), Lit(int64(2))), MapRecord{"active": true})
	require.NoError(t, err)
	assert.False(t, ok)
}
