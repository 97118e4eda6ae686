package sqldb

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/kasuganosora/geoaccess/pkg/dataaccess"
	"github.com/kasuganosora/geoaccess/pkg/geometry"
	"github.com/kasuganosora/geoaccess/pkg/query"
	"github.com/kasuganosora/geoaccess/pkg/resource/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"
)

func wellsType() *domain.DataSetType {
	dt := domain.NewDataSetType("wells")
	id := domain.NewProperty("id", domain.TypeInt64)
	id.AutoIncrement = true
	id.Nullable = false
	_ = dt.AddProperty(id)
	_ = dt.AddProperty(domain.NewProperty("code", domain.TypeString))
	_ = dt.AddProperty(domain.NewProperty("depth", domain.TypeDouble))
	_ = dt.AddProperty(domain.NewGeometryProperty("geom", "POINT", 4326))
	_ = dt.SetPrimaryKey(&domain.PrimaryKey{Name: "pk_wells", Properties: []string{"id"}})
	_ = dt.AddUniqueKey(&domain.UniqueKey{Name: "uk_code", Properties: []string{"code"}})
	_ = dt.AddIndex(&domain.Index{Name: "idx_depth", Type: domain.IndexTypeBTree, Properties: []string{"depth"}})
	_ = dt.AddIndex(&domain.Index{Name: "idx_geom", Type: domain.IndexTypeRTree, Properties: []string{"geom"}})
	return dt
}

func sqliteInfo(t *testing.T) domain.ConnectionInfo {
	return domain.ConnectionInfo{domain.InfoPath: filepath.Join(t.TempDir(), "geo.db")}
}

func openSQLite(t *testing.T, info domain.ConnectionInfo) *Source {
	t.Helper()
	ds, err := NewSQLiteFactory().Create(info)
	require.NoError(t, err)
	s := ds.(*Source)
	require.NoError(t, s.Open(context.Background()))
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}

func openTransactor(t *testing.T, s *Source) domain.Transactor {
	t.Helper()
	tr, err := s.Transactor(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.Close(context.Background()) })
	return tr
}

func createWells(t *testing.T, tr domain.Transactor, n int) {
	t.Helper()
	ctx := context.Background()
	tp, err := tr.DataSetTypePersistence(ctx)
	require.NoError(t, err)
	require.NoError(t, tp.Create(ctx, wellsType()))

	p, err := tr.DataSetPersistence(ctx)
	require.NoError(t, err)
	rows := make([]domain.Row, n)
	for i := range rows {
		rows[i] = domain.Row{
			"code":  fmt.Sprintf("w%02d", i),
			"depth": float64(i) * 1.5,
			"geom":  geom.NewPointFlat(geom.XY, []float64{float64(i), float64(i)}),
		}
	}
	added, err := p.Add(ctx, "wells", rows)
	require.NoError(t, err)
	require.Equal(t, int64(n), added)
}

func readCodes(t *testing.T, ds domain.DataSet) []string {
	t.Helper()
	defer ds.Close()
	rows, err := dataaccess.ReadAll(ds, 0)
	require.NoError(t, err)
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r["code"].(string)
	}
	return out
}

func TestSQLiteFactory(t *testing.T) {
	f := NewSQLiteFactory()
	assert.Equal(t, domain.DataSourceTypeSQLite, f.GetType())

	ds, err := f.Create(domain.ConnectionInfo{})
	require.NoError(t, err)
	assert.False(t, ds.IsOpened())
	assert.True(t, ds.Capabilities().SpatialPushdown)
	assert.True(t, ds.Capabilities().Transactions)

	// neither PATH nor IN_MEMORY
	assert.True(t, domain.IsConnectionError(ds.Open(context.Background())))
	assert.False(t, ds.IsOpened())
}

func TestSQLite_CreateInsertAndQuery(t *testing.T) {
	ctx := context.Background()
	s := openSQLite(t, sqliteInfo(t))
	tr := openTransactor(t, s)
	createWells(t, tr, 5)

	assert.Equal(t, int64(5), tr.LastInsertID())

	dt, ok := s.Catalog().Get("wells")
	require.True(t, ok)
	assert.Equal(t, "geom", dt.DefaultGeometry)
	g, _ := dt.Property("geom")
	assert.Equal(t, 4326, g.SRID)
	assert.Equal(t, "POINT", g.GeometryType)
	id, _ := dt.Property("id")
	assert.True(t, id.AutoIncrement)
	require.NotNil(t, dt.PrimaryKey)
	assert.Equal(t, []string{"id"}, dt.PrimaryKey.Properties)

	ds, err := tr.GetDataSet(ctx, "wells", domain.ForwardOnly, domain.AccessRead)
	require.NoError(t, err)
	rows, err := dataaccess.ReadAll(ds, 0)
	require.NoError(t, err)
	require.Len(t, rows, 5)
	pt, ok := rows[2]["geom"].(*geom.Point)
	require.True(t, ok, "geom is %T", rows[2]["geom"])
	assert.Equal(t, []float64{2, 2}, pt.FlatCoords())
	assert.Equal(t, 4326, pt.SRID())
	assert.Equal(t, 3.0, rows[2]["depth"])
	ds.Close()

	_, err = tr.GetDataSet(ctx, "missing", domain.ForwardOnly, domain.AccessRead)
	assert.True(t, domain.IsDataSetNotFound(err))
}

func TestSQLite_SpatialFilters(t *testing.T) {
	ctx := context.Background()
	s := openSQLite(t, sqliteInfo(t))
	tr := openTransactor(t, s)
	createWells(t, tr, 5)

	env := geometry.NewEnvelope(0.5, 0.5, 2.5, 2.5)
	ds, err := tr.GetDataSetByEnvelope(ctx, "wells", "", env, geometry.Intersects, domain.ForwardOnly, domain.AccessRead)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"w01", "w02"}, readCodes(t, ds))

	area := geom.NewPolygonFlat(geom.XY, []float64{-1, -1, 3.5, -1, 3.5, 3.5, -1, 3.5, -1, -1}, []int{10})
	ds, err = tr.GetDataSetByGeometry(ctx, "wells", "geom", area, geometry.Within, domain.ForwardOnly, domain.AccessRead)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"w00", "w01", "w02", "w03"}, readCodes(t, ds))

	_, err = tr.GetDataSetByEnvelope(ctx, "wells", "depth", env, geometry.Intersects, domain.ForwardOnly, domain.AccessRead)
	assert.Error(t, err)
	_, err = tr.GetDataSetByEnvelope(ctx, "wells", "nope", env, geometry.Intersects, domain.ForwardOnly, domain.AccessRead)
	assert.True(t, domain.IsPropertyNotFound(err))
}

func TestSQLite_Transactions(t *testing.T) {
	ctx := context.Background()
	s := openSQLite(t, sqliteInfo(t))
	tr := openTransactor(t, s)
	createWells(t, tr, 2)
	p, err := tr.DataSetPersistence(ctx)
	require.NoError(t, err)

	count := func() int {
		ds, err := tr.GetDataSet(ctx, "wells", domain.RandomAccess, domain.AccessRead)
		require.NoError(t, err)
		defer ds.Close()
		return ds.Size()
	}

	require.NoError(t, tr.Begin(ctx))
	assert.True(t, tr.IsInTransaction())
	assert.True(t, domain.IsTransactionInProgress(tr.Begin(ctx)))
	_, err = p.Add(ctx, "wells", []domain.Row{{"code": "tmp", "depth": 1.0}})
	require.NoError(t, err)
	assert.Equal(t, 3, count())
	require.NoError(t, tr.Rollback(ctx))
	assert.False(t, tr.IsInTransaction())
	assert.Equal(t, 2, count())

	require.NoError(t, tr.Begin(ctx))
	_, err = p.Add(ctx, "wells", []domain.Row{{"code": "kept", "depth": 1.0}})
	require.NoError(t, err)
	require.NoError(t, tr.Commit(ctx))
	assert.Equal(t, 3, count())

	assert.True(t, domain.IsNoActiveTransaction(tr.Commit(ctx)))
	assert.True(t, domain.IsNoActiveTransaction(tr.Rollback(ctx)))
}

func TestSQLite_ExecuteAndNativeQuery(t *testing.T) {
	ctx := context.Background()
	s := openSQLite(t, sqliteInfo(t))
	tr := openTransactor(t, s)
	createWells(t, tr, 4)

	n, err := tr.ExecuteString(ctx, "UPDATE wells SET depth = 100 WHERE code = 'w01'")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	ds, err := tr.QueryString(ctx, "SELECT code, depth FROM wells WHERE depth > 3", domain.ForwardOnly, domain.AccessRead)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"w01", "w03"}, readCodes(t, ds))

	ds, err = tr.QueryString(ctx, "SELECT count(*) AS n FROM wells", domain.ForwardOnly, domain.AccessRead)
	require.NoError(t, err)
	rows, err := dataaccess.ReadAll(ds, 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.EqualValues(t, 4, rows[0]["n"])

	n, err = tr.Execute(ctx, &query.Delete{
		DataSet: &query.DataSetName{Name: "wells"},
		Where:   query.NewWhere(query.Compare(query.OpLT, query.Prop("depth"), query.Lit(4.0))),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	_, err = tr.Execute(ctx, &query.Update{
		DataSet:     &query.DataSetName{Name: "wells"},
		Assignments: []query.Assignment{{Column: "nope", Value: query.Lit(1)}},
	})
	assert.True(t, domain.IsPropertyNotFound(err))

	// statements the command parser does not cover run natively
	_, err = tr.ExecuteString(ctx, "CREATE INDEX idx_code ON wells (code)")
	require.NoError(t, err)
}

func TestSQLite_UpdateGeometryKeepsSRID(t *testing.T) {
	ctx := context.Background()
	s := openSQLite(t, sqliteInfo(t))
	tr := openTransactor(t, s)
	createWells(t, tr, 2)

	p, err := tr.DataSetPersistence(ctx)
	require.NoError(t, err)
	n, err := p.Update(ctx, "wells",
		domain.Row{"geom": geom.NewPointFlat(geom.XY, []float64{10, 20})},
		query.Compare(query.OpEQ, query.Prop("code"), query.Lit("w00")))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	ds, err := tr.QueryString(ctx, "SELECT ST_SRID(geom) AS srid FROM wells WHERE code = 'w00'", domain.ForwardOnly, domain.AccessRead)
	require.NoError(t, err)
	rows, err := dataaccess.ReadAll(ds, 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.EqualValues(t, 4326, rows[0]["srid"])
}

func TestSQLite_CatalogLoader(t *testing.T) {
	ctx := context.Background()
	s := openSQLite(t, sqliteInfo(t))
	tr := openTransactor(t, s)
	createWells(t, tr, 5)

	loader, err := tr.CatalogLoader(ctx)
	require.NoError(t, err)
	defer loader.Close()

	names, err := loader.GetDataSets(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"wells"}, names)

	ok, err := loader.DataSetExists(ctx, "wells")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = loader.DataSetExists(ctx, "geometry_columns")
	require.NoError(t, err)
	assert.False(t, ok)

	full, err := loader.GetDataSetType(ctx, "wells", true)
	require.NoError(t, err)
	assert.True(t, full.FullyLoaded)
	require.Len(t, full.UniqueKeys, 1)
	assert.Equal(t, []string{"code"}, full.UniqueKeys[0].Properties)
	require.Len(t, full.Indexes, 1)
	assert.Equal(t, "idx_depth", full.Indexes[0].Name)
	assert.Equal(t, domain.IndexTypeBTree, full.Indexes[0].Type)

	pk, err := loader.GetPrimaryKey(ctx, "wells")
	require.NoError(t, err)
	assert.Equal(t, []string{"id"}, pk.Properties)

	env, err := loader.GetExtent(ctx, "wells", "")
	require.NoError(t, err)
	assert.Equal(t, geometry.NewEnvelope(0, 0, 4, 4), env)

	_, err = loader.GetExtent(ctx, "wells", "code")
	assert.True(t, domain.IsPropertyNotFound(err))
	_, err = loader.GetDataSetType(ctx, "missing", false)
	assert.True(t, domain.IsDataSetNotFound(err))
}

func TestSQLite_SchemaChanges(t *testing.T) {
	ctx := context.Background()
	s := openSQLite(t, sqliteInfo(t))
	tr := openTransactor(t, s)
	createWells(t, tr, 1)

	tp, err := tr.DataSetTypePersistence(ctx)
	require.NoError(t, err)
	assert.True(t, domain.IsDataSetTypeExists(tp.Create(ctx, wellsType())))

	require.NoError(t, tp.AddProperty(ctx, "wells", domain.NewProperty("status", domain.TypeString)))
	dt, ok := s.Catalog().Get("wells")
	require.True(t, ok)
	assert.True(t, dt.HasProperty("status"))

	require.NoError(t, tp.DropProperty(ctx, "wells", "status"))
	dt, _ = s.Catalog().Get("wells")
	assert.False(t, dt.HasProperty("status"))
	assert.True(t, domain.IsPropertyNotFound(tp.DropProperty(ctx, "wells", "status")))

	require.NoError(t, tp.Rename(ctx, "wells", "bores"))
	assert.False(t, s.Catalog().Contains("wells"))
	bores, ok := s.Catalog().Get("bores")
	require.True(t, ok)
	g, _ := bores.Property("geom")
	assert.Equal(t, 4326, g.SRID)

	// schema changes inside a transaction reach the catalog at commit
	require.NoError(t, tr.Begin(ctx))
	require.NoError(t, tp.Drop(ctx, "bores"))
	assert.True(t, s.Catalog().Contains("bores"))
	require.NoError(t, tr.Commit(ctx))
	assert.False(t, s.Catalog().Contains("bores"))

	assert.True(t, domain.IsDataSetNotFound(tp.Drop(ctx, "bores")))
}

func TestSQLite_ReopenLoadsCatalog(t *testing.T) {
	ctx := context.Background()
	info := sqliteInfo(t)

	s := openSQLite(t, info)
	createWells(t, openTransactor(t, s), 3)
	require.NoError(t, s.Close(ctx))
	assert.False(t, s.IsValid(ctx))

	s2 := openSQLite(t, info)
	assert.True(t, s2.IsValid(ctx))
	dt, ok := s2.Catalog().Get("wells")
	require.True(t, ok)
	assert.Equal(t, "geom", dt.DefaultGeometry)

	ds, err := openTransactor(t, s2).GetDataSet(ctx, "wells", domain.ForwardOnly, domain.AccessRead)
	require.NoError(t, err)
	assert.Len(t, readCodes(t, ds), 3)
}

func TestSQLite_ClosedSource(t *testing.T) {
	ctx := context.Background()
	s := openSQLite(t, sqliteInfo(t))
	tr := openTransactor(t, s)
	require.NoError(t, s.Close(ctx))

	_, err := tr.GetDataSet(ctx, "wells", domain.ForwardOnly, domain.AccessRead)
	assert.True(t, domain.IsNotOpenError(err))
	assert.True(t, domain.IsNotOpenError(tr.Begin(ctx)))
	_, err = s.Transactor(ctx)
	assert.True(t, domain.IsNotOpenError(err))
}

func TestSQLite_InMemory(t *testing.T) {
	s := openSQLite(t, domain.ConnectionInfo{domain.InfoInMemory: "true"})
	tr := openTransactor(t, s)
	createWells(t, tr, 2)

	ds, err := tr.GetDataSet(context.Background(), "wells", domain.ForwardOnly, domain.AccessRead)
	require.NoError(t, err)
	assert.Equal(t, []string{"w00", "w01"}, readCodes(t, ds))
}

func TestSQLite_ExistsCreateDrop(t *testing.T) {
	ctx := context.Background()
	s := NewSource(&SQLiteDialect{}, SQLiteCapabilities(), nil)
	info := sqliteInfo(t)

	ok, err := s.Exists(ctx, info)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Create(ctx, info))
	ok, err = s.Exists(ctx, info)
	require.NoError(t, err)
	assert.True(t, ok)

	assert.True(t, domain.IsBackendError(s.Create(ctx, info)))

	require.NoError(t, s.Drop(ctx, info))
	ok, err = s.Exists(ctx, info)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.Exists(ctx, domain.ConnectionInfo{})
	assert.True(t, domain.IsConnectionError(err))
}
