package geometry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelope(t *testing.T) {
	e := NewEnvelope(10, 10, 0, 0)
	assert.Equal(t, Envelope{MinX: 0, MinY: 0, MaxX: 10, MaxY: 10}, e)
	assert.True(t, e.IsValid())
	assert.Equal(t, 100.0, e.Area())

	assert.True(t, e.Intersects(NewEnvelope(5, 5, 15, 15)))
	assert.True(t, e.Intersects(NewEnvelope(10, 10, 20, 20)))
	assert.False(t, e.Intersects(NewEnvelope(11, 11, 20, 20)))
	assert.True(t, e.Contains(NewEnvelope(1, 1, 2, 2)))
	assert.True(t, NewEnvelope(1, 1, 2, 2).Within(e))

	inter, ok := e.Intersection(NewEnvelope(5, 5, 15, 15))
	require.True(t, ok)
	assert.Equal(t, NewEnvelope(5, 5, 10, 10), inter)

	assert.Equal(t, "0,0,10,10", e.BBox())
}

func TestEmptyEnvelopeExpand(t *testing.T) {
	e := EmptyEnvelope()
	assert.False(t, e.IsValid())
	assert.Equal(t, 0.0, e.Area())

	e = e.Expand(NewEnvelope(1, 2, 3, 4))
	e = e.Expand(NewEnvelope(-1, 0, 2, 2))
	assert.Equal(t, NewEnvelope(-1, 0, 3, 4), e)
}

func TestEnvelopeOf(t *testing.T) {
	g, err := ParseWKT("LINESTRING(1 5,3 -2,8 4)")
	require.NoError(t, err)

	env, ok := EnvelopeOf(g)
	require.True(t, ok)
	assert.Equal(t, NewEnvelope(1, -2, 8, 5), env)

	back, ok := EnvelopeOf(env.Polygon(4326))
	require.True(t, ok)
	assert.Equal(t, env, back)
}

func TestParseBBox(t *testing.T) {
	env, err := ParseBBox(" 10, 20 ,0,5")
	require.NoError(t, err)
	assert.Equal(t, "0,5,10,20", env.BBox())

	_, err = ParseBBox("a,b,c,d")
	assert.Error(t, err)
	_, err = ParseBBox("")
	assert.Error(t, err)
	_, err = ParseBBox("0,0,5")
	assert.Error(t, err)
}
