package query

import (
	"fmt"
	"testing"

	"github.com/kasuganosora/geoaccess/pkg/geometry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testDialect struct{}

func (testDialect) QuoteIdentifier(name string) string { return `"` + name + `"` }
func (testDialect) Placeholder(n int) string           { return fmt.Sprintf("$%d", n) }
func (testDialect) GeometryFromWKB(p string, srid int) string {
	return fmt.Sprintf("ST_GeomFromWKB(%s, %d)", p, srid)
}
func (testDialect) SpatialFunction(rel geometry.SpatialRelation) string {
	return rel.FunctionName()
}

func TestRenderEnvelopeFilter(t *testing.T) {
	sel := EnvelopeFilter("public.parcels", "geom", geometry.NewEnvelope(0, 0, 5, 5), 4326, geometry.Intersects)

	sql, args, err := Render(testDialect{}, sel)
	require.NoError(t, err)
	assert.Equal(t, `SELECT * FROM "public"."parcels" WHERE ST_Intersects("geom", ST_GeomFromWKB($1, 4326))`, sql)
	require.Len(t, args, 1)
	wkb, ok := args[0].([]byte)
	require.True(t, ok)

	g, err := geometry.DecodeWKB(wkb)
	require.NoError(t, err)
	env, ok := geometry.EnvelopeOf(g)
	require.True(t, ok)
	assert.Equal(t, geometry.NewEnvelope(0, 0, 5, 5), env)
}

func TestRenderSelect(t *testing.T) {
	sel, err := ParseSelect("SELECT id, name AS n FROM t WHERE a >= 1 AND b IS NULL AND c IN (1, 2) ORDER BY id DESC LIMIT 5 OFFSET 10")
	require.NoError(t, err)

	sql, args, err := Render(testDialect{}, sel)
	require.NoError(t, err)
	assert.Equal(t,
		`SELECT "id", "name" AS "n" FROM "t" WHERE ((("a" >= $1) AND "b" IS NULL) AND "c" IN ($2, $3)) ORDER BY "id" DESC LIMIT 5 OFFSET 10`,
		sql)
	assert.Equal(t, []interface{}{int64(1), int64(1), int64(2)}, args)
}

func TestRenderCommands(t *testing.T) {
	stmt, err := Parse("INSERT INTO t (id, name) VALUES (1, NULL)")
	require.NoError(t, err)
	sql, args, err := Render(testDialect{}, stmt)
	require.NoError(t, err)
	assert.Equal(t, `INSERT INTO "t" ("id", "name") VALUES ($1, NULL)`, sql)
	assert.Equal(t, []interface{}{int64(1)}, args)

	stmt, err = Parse("UPDATE t SET name = 'x' WHERE id = 2")
	require.NoError(t, err)
	sql, _, err = Render(testDialect{}, stmt)
	require.NoError(t, err)
	assert.Equal(t, `UPDATE "t" SET "name" = $1 WHERE ("id" = $2)`, sql)

	stmt, err = Parse("DELETE FROM t")
	require.NoError(t, err)
	sql, args, err = Render(testDialect{}, stmt)
	require.NoError(t, err)
	assert.Equal(t, `DELETE FROM "t"`, sql)
	assert.Empty(t, args)

	_, _, err = Render(testDialect{}, &Update{DataSet: &DataSetName{Name: "t"}})
	assert.Error(t, err)
}
