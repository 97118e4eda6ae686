package parquet

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	pq "github.com/parquet-go/parquet-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"github.com/kasuganosora/geoaccess/pkg/geometry"
	"github.com/kasuganosora/geoaccess/pkg/resource/domain"
	"github.com/kasuganosora/geoaccess/pkg/resource/memory"
)

var observed = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func stationsType(t *testing.T) *domain.DataSetType {
	t.Helper()
	dt := domain.NewDataSetType("stations")
	require.NoError(t, dt.AddProperty(domain.NewProperty("id", domain.TypeInt64)))
	require.NoError(t, dt.AddProperty(domain.NewProperty("name", domain.TypeString)))
	require.NoError(t, dt.AddProperty(domain.NewProperty("observed", domain.TypeDateTime)))
	require.NoError(t, dt.AddProperty(domain.NewGeometryProperty("geom", "POINT", 4326)))
	return dt
}

func writeStations(t *testing.T, n int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stations.parquet")
	rows := make([]domain.Row, n)
	for i := range rows {
		rows[i] = domain.Row{
			"id":       int64(i + 1),
			"name":     string(rune('a' + i)),
			"observed": observed.Add(time.Duration(i) * time.Hour),
			"geom":     geom.NewPointFlat(geom.XY, []float64{float64(i), float64(2 * i)}).SetSRID(4326),
		}
	}
	rows[n-1]["name"] = nil
	err := parquetFormat{}.Write(context.Background(), path, nil, []memory.TableSnapshot{{Type: stationsType(t), Rows: rows}})
	require.NoError(t, err)
	return path
}

func openParquet(t *testing.T, info domain.ConnectionInfo) (*ParquetSource, domain.Transactor) {
	t.Helper()
	ctx := context.Background()
	s := NewParquetSource(info)
	require.NoError(t, s.Open(ctx))
	t.Cleanup(func() { _ = s.Close(ctx) })
	tr, err := s.Transactor(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.Close(ctx) })
	return s, tr
}

func TestParquetFactory(t *testing.T) {
	f := NewParquetFactory()
	assert.Equal(t, domain.DataSourceTypeParquet, f.GetType())
	ds, err := f.Create(domain.ConnectionInfo{domain.InfoPath: "x.parquet"})
	require.NoError(t, err)
	assert.False(t, ds.Capabilities().Create)
	assert.True(t, ds.Capabilities().Drop)
	assert.True(t, domain.IsUnsupportedOperation(ds.Create(context.Background(), domain.ConnectionInfo{domain.InfoPath: "x.parquet"})))
}

func TestParquetSource_GeoParquetRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := writeStations(t, 4)

	// the file carries GeoParquet metadata
	f, err := os.Open(path)
	require.NoError(t, err)
	stat, err := f.Stat()
	require.NoError(t, err)
	pf, err := pq.OpenFile(f, stat.Size())
	require.NoError(t, err)
	geo, ok := pf.Lookup(geoMetadataKey)
	require.True(t, ok)
	assert.Contains(t, geo, `"primary_column":"geom"`)
	f.Close()

	s, tr := openParquet(t, domain.ConnectionInfo{domain.InfoPath: path})
	dt, ok := s.Catalog().Get("stations")
	require.True(t, ok)
	assert.Equal(t, "geom", dt.DefaultGeometry)
	p, _ := dt.Property("geom")
	assert.Equal(t, "POINT", p.GeometryType)
	assert.Equal(t, 4326, p.SRID)
	p, _ = dt.Property("observed")
	assert.Equal(t, domain.TypeDateTime, p.Type)

	ds, err := tr.QueryString(ctx, "SELECT * FROM stations ORDER BY id", domain.RandomAccess, domain.AccessRead)
	require.NoError(t, err)
	defer ds.Close()
	require.Equal(t, 4, ds.Size())

	require.True(t, ds.MoveNext())
	when, err := ds.GetTime("observed")
	require.NoError(t, err)
	assert.True(t, observed.Equal(when))

	_, err = ds.MoveLast()
	require.NoError(t, err)
	null, err := ds.IsNull("name")
	require.NoError(t, err)
	assert.True(t, null)
	g, err := ds.GetGeometry("geom")
	require.NoError(t, err)
	assert.Equal(t, []float64{3, 6}, g.FlatCoords())

	filtered, err := tr.GetDataSetByEnvelope(ctx, "stations", "", geometry.NewEnvelope(0.5, 0.5, 2.5, 4.5), geometry.Intersects, domain.ForwardOnly, domain.AccessRead)
	require.NoError(t, err)
	defer filtered.Close()
	var ids []int64
	for filtered.MoveNext() {
		id, err := filtered.GetInt64("id")
		require.NoError(t, err)
		ids = append(ids, id)
	}
	assert.Equal(t, []int64{2, 3}, ids)
}

func TestParquetSource_WriteBack(t *testing.T) {
	ctx := context.Background()
	path := writeStations(t, 2)
	_, tr := openParquet(t, domain.ConnectionInfo{domain.InfoPath: path, domain.InfoWritable: "true", InfoCompression: "zstd"})

	p, err := tr.DataSetPersistence(ctx)
	require.NoError(t, err)
	defer p.Close()
	_, err = p.Add(ctx, "stations", []domain.Row{{"id": int64(10), "name": "new", "geom": "POINT(7 7)"}})
	require.NoError(t, err)

	_, again := openParquet(t, domain.ConnectionInfo{domain.InfoPath: path})
	ds, err := again.QueryString(ctx, "SELECT name FROM stations WHERE id = 10", domain.RandomAccess, domain.AccessRead)
	require.NoError(t, err)
	defer ds.Close()
	require.True(t, ds.MoveNext())
	name, err := ds.GetString("name")
	require.NoError(t, err)
	assert.Equal(t, "new", name)

}

func TestParquetSource_GeometryColumnOption(t *testing.T) {
	dt := domain.NewDataSetType("shapes")
	require.NoError(t, dt.AddProperty(domain.NewProperty("shape", domain.TypeBytes)))
	wkb, err := geometry.EncodeWKB(geom.NewPointFlat(geom.XY, []float64{1, 2}))
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "shapes.parquet")
	require.NoError(t, parquetFormat{}.Write(context.Background(), path, nil, []memory.TableSnapshot{{Type: dt, Rows: []domain.Row{{"shape": wkb}}}}))

	s, _ := openParquet(t, domain.ConnectionInfo{domain.InfoPath: path, domain.InfoGeometryColumn: "shape", domain.InfoSRID: "3857"})
	got, ok := s.Catalog().Get("shapes")
	require.True(t, ok)
	p, _ := got.Property("shape")
	assert.True(t, p.IsGeometry())
	assert.Equal(t, 3857, p.SRID)
}
