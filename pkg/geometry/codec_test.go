package geometry

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"
)

func TestFromValue(t *testing.T) {
	pt := geom.NewPointFlat(geom.XY, []float64{1, 2})

	wkbData, err := EncodeWKB(pt)
	require.NoError(t, err)

	ewkbData, err := EncodeEWKB(WithSRID(geom.NewPointFlat(geom.XY, []float64{1, 2}), 4326))
	require.NoError(t, err)

	geojsonData, err := ToGeoJSON(pt)
	require.NoError(t, err)

	inputs := map[string]interface{}{
		"wkt":     "POINT (1 2)",
		"wkb":     wkbData,
		"ewkb":    ewkbData,
		"hex":     hex.EncodeToString(wkbData),
		"geojson": string(geojsonData),
		"geom":    pt,
	}

	for name, in := range inputs {
		t.Run(name, func(t *testing.T) {
			g, err := FromValue(in)
			require.NoError(t, err)
			p, ok := g.(*geom.Point)
			require.True(t, ok, "got %T", g)
			assert.Equal(t, 1.0, p.X())
			assert.Equal(t, 2.0, p.Y())
		})
	}

	g, err := FromValue(ewkbData)
	require.NoError(t, err)
	assert.Equal(t, 4326, g.SRID())
}

func TestFromValue_Empty(t *testing.T) {
	g, err := FromValue(nil)
	assert.NoError(t, err)
	assert.Nil(t, g)

	g, err = FromValue("")
	assert.NoError(t, err)
	assert.Nil(t, g)

	_, err = FromValue(42)
	assert.Error(t, err)
}

func TestFormatWKT(t *testing.T) {
	s, err := FormatWKT(NewEnvelope(0, 0, 1, 1).Polygon(0))
	require.NoError(t, err)
	assert.Equal(t, "POLYGON ((0 0, 1 0, 1 1, 0 1, 0 0))", s)
	assert.Equal(t, "POLYGON", TypeName(NewEnvelope(0, 0, 1, 1).Polygon(0)))
}
