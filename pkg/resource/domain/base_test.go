package domain

import (
	"context"
	"testing"

	"github.com/kasuganosora/geoaccess/pkg/geometry"
	"github.com/kasuganosora/geoaccess/pkg/query"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubSource is a minimal driver without spatial pushdown.
type stubSource struct {
	*BaseDataSource
	dt   *DataSetType
	rows []Row
}

func newStubSource(t *testing.T) *stubSource {
	s := &stubSource{
		BaseDataSource: NewBaseDataSource(DataSourceTypeMemory, nil, Capabilities{QueryObjects: true}),
		dt:             newParcelType(t),
		rows: []Row{
			{"id": int64(1), "name": "a", "geom": "POLYGON ((0 0, 2 0, 2 2, 0 2, 0 0))"},
			{"id": int64(2), "name": "b", "geom": "POLYGON ((10 10, 12 10, 12 12, 10 12, 10 10))"},
			{"id": int64(3), "name": "c", "geom": "POINT (3 3)"},
		},
	}
	return s
}

func (s *stubSource) Open(ctx context.Context) error  { s.SetOpened(true); return nil }
func (s *stubSource) Close(ctx context.Context) error { s.SetOpened(false); return nil }
func (s *stubSource) IsValid(ctx context.Context) bool {
	return s.IsOpened()
}

func (s *stubSource) Transactor(ctx context.Context) (Transactor, error) {
	if err := s.CheckOpen(); err != nil {
		return nil, err
	}
	t := &stubTransactor{src: s}
	t.Init(t, s)
	return t, nil
}

func (s *stubSource) DataSetNames(ctx context.Context) ([]string, error) {
	return []string{s.dt.Name}, nil
}

func (s *stubSource) DataSetTypeOf(ctx context.Context, name string) (*DataSetType, error) {
	if name != s.dt.Name {
		return nil, NewErrDataSetNotFound(name)
	}
	return s.dt, nil
}

type stubTransactor struct {
	BaseTransactor
	src     *stubSource
	queries []*query.Select
}

func (t *stubTransactor) GetDataSet(ctx context.Context, name string, trav TraverseType, access AccessPolicy) (DataSet, error) {
	return t.Query(ctx, query.SelectAll(name), trav, access)
}

func (t *stubTransactor) Query(ctx context.Context, sel *query.Select, trav TraverseType, access AccessPolicy) (DataSet, error) {
	if err := t.CheckOpen(); err != nil {
		return nil, err
	}
	t.queries = append(t.queries, sel)
	dt, err := t.src.DataSetTypeOf(ctx, sel.DataSetNames()[0])
	if err != nil {
		return nil, err
	}
	return SelectRows(DataSourceTypeMemory, dt, t.src.rows, sel, trav, access)
}

func (t *stubTransactor) CatalogLoader(ctx context.Context) (CatalogLoader, error) {
	return NewSchemaCatalogLoader(t.src, t), nil
}

func (t *stubTransactor) Close(ctx context.Context) error { return nil }

func ids(t *testing.T, ds DataSet) []int64 {
	t.Helper()
	var out []int64
	for ds.MoveNext() {
		id, err := ds.GetInt64("id")
		require.NoError(t, err)
		out = append(out, id)
	}
	return out
}

func TestBaseTransactor_EnvelopeFallbackComposesQuery(t *testing.T) {
	ctx := context.Background()
	src := newStubSource(t)
	require.NoError(t, src.Open(ctx))
	tr, err := src.Transactor(ctx)
	require.NoError(t, err)
	stub := tr.(*stubTransactor)

	env := geometry.NewEnvelope(1, 1, 5, 5)
	ds, err := tr.GetDataSetByEnvelope(ctx, "parcels", "", env, geometry.Intersects, ForwardOnly, AccessRead)
	require.NoError(t, err)
	got := ids(t, ds)
	assert.Equal(t, []int64{1, 3}, got)

	require.Len(t, stub.queries, 1)
	fn, ok := stub.queries[0].WhereExpr().(*query.Function)
	require.True(t, ok)
	assert.Equal(t, "ST_Intersects", fn.Name)
	assert.Equal(t, "geom", fn.Args[0].(*query.PropertyName).Name)
	lit := fn.Args[1].(*query.LiteralEnvelope)
	assert.Equal(t, env, lit.Envelope)
	assert.Equal(t, 4326, lit.SRID)

	// 手工组合查询结果一致
	manual, err := tr.Query(ctx, query.NewSelect(query.AllFields(), query.From{&query.DataSetName{Name: "parcels"}},
		query.NewWhere(query.SpatialRelation(geometry.Intersects, "geom", &query.LiteralEnvelope{Envelope: env, SRID: 4326}))),
		ForwardOnly, AccessRead)
	require.NoError(t, err)
	assert.Equal(t, got, ids(t, manual))
}

func TestBaseTransactor_GeometryFallback(t *testing.T) {
	ctx := context.Background()
	src := newStubSource(t)
	require.NoError(t, src.Open(ctx))
	tr, err := src.Transactor(ctx)
	require.NoError(t, err)

	g, err := geometry.ParseWKT("POLYGON ((-1 -1, 4 -1, 4 4, -1 4, -1 -1))")
	require.NoError(t, err)
	ds, err := tr.GetDataSetByGeometry(ctx, "parcels", "geom", g, geometry.Contains, ForwardOnly, AccessRead)
	require.NoError(t, err)
	assert.Empty(t, ids(t, ds))

	ds, err = tr.GetDataSetByGeometry(ctx, "parcels", "geom", g, geometry.Within, ForwardOnly, AccessRead)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 3}, ids(t, ds))

	_, err = tr.GetDataSetByGeometry(ctx, "parcels", "nope", g, geometry.Within, ForwardOnly, AccessRead)
	assert.True(t, IsPropertyNotFound(err))

	_, err = tr.GetDataSetByGeometry(ctx, "unknown", "", g, geometry.Within, ForwardOnly, AccessRead)
	assert.True(t, IsDataSetNotFound(err))
}

func TestBaseTransactor_UnsupportedOperations(t *testing.T) {
	ctx := context.Background()
	src := newStubSource(t)
	require.NoError(t, src.Open(ctx))
	tr, err := src.Transactor(ctx)
	require.NoError(t, err)

	caps := src.Capabilities()
	checks := map[Operation]error{}
	checks[OpTransactions] = tr.Begin(ctx)
	_, checks[OpExecute] = tr.ExecuteString(ctx, "DELETE FROM parcels")
	_, checks[OpPreparedQuery] = tr.Prepared(ctx, "p")
	_, checks[OpBatchExecutor] = tr.BatchExecutor(ctx)
	_, checks[OpDataSetTypePersistence] = tr.DataSetTypePersistence(ctx)
	_, checks[OpDataSetPersistence] = tr.DataSetPersistence(ctx)
	_, checks[OpNativeQuery] = tr.QueryString(ctx, "SELECT * FROM parcels", ForwardOnly, AccessRead)

	for op, err := range checks {
		assert.False(t, caps.Supports(op), op)
		assert.True(t, IsUnsupportedOperation(err), op)
		assert.True(t, IsUnsupportedOperation(caps.Require(src.Type(), op)), op)
	}
	assert.NoError(t, caps.Require(src.Type(), OpQueryObjects))
}

func TestBaseTransactor_FailsFastAfterClose(t *testing.T) {
	ctx := context.Background()
	src := newStubSource(t)

	_, err := src.Transactor(ctx)
	assert.True(t, IsNotOpenError(err))

	require.NoError(t, src.Open(ctx))
	tr, err := src.Transactor(ctx)
	require.NoError(t, err)
	require.NoError(t, src.Close(ctx))

	_, err = tr.GetDataSet(ctx, "parcels", ForwardOnly, AccessRead)
	assert.True(t, IsNotOpenError(err))
	_, err = tr.GetDataSetByEnvelope(ctx, "parcels", "", geometry.NewEnvelope(0, 0, 1, 1), geometry.Intersects, ForwardOnly, AccessRead)
	assert.True(t, IsNotOpenError(err))
}

func TestBaseTransactor_LocalTransactionState(t *testing.T) {
	var b BaseTransactor
	b.Init(nil, newStubSource(t))

	assert.True(t, IsNoActiveTransaction(b.MarkEnd("Commit")))
	require.NoError(t, b.MarkBegin())
	assert.True(t, b.IsInTransaction())
	assert.True(t, IsTransactionInProgress(b.MarkBegin()))
	require.NoError(t, b.MarkEnd("Commit"))
	assert.False(t, b.IsInTransaction())
}

func TestBaseTransactor_Cancel(t *testing.T) {
	var b BaseTransactor
	b.Cancel()

	ctx, done := b.OpContext(context.Background())
	b.Cancel()
	<-ctx.Done()
	assert.ErrorIs(t, ctx.Err(), context.Canceled)
	done()
}

func TestSchemaCatalogLoader(t *testing.T) {
	ctx := context.Background()
	src := newStubSource(t)
	require.NoError(t, src.dt.SetPrimaryKey(&PrimaryKey{Properties: []string{"id"}}))
	require.NoError(t, src.Open(ctx))
	tr, err := src.Transactor(ctx)
	require.NoError(t, err)
	loader, err := tr.CatalogLoader(ctx)
	require.NoError(t, err)
	defer loader.Close()

	partial, err := loader.GetDataSetType(ctx, "parcels", false)
	require.NoError(t, err)
	assert.False(t, partial.FullyLoaded)
	assert.Nil(t, partial.PrimaryKey)

	full, err := loader.GetDataSetType(ctx, "parcels", true)
	require.NoError(t, err)
	assert.True(t, full.FullyLoaded)
	require.NoError(t, full.Validate())

	pk, err := loader.GetPrimaryKey(ctx, "parcels")
	require.NoError(t, err)
	assert.Equal(t, []string{"id"}, pk.Properties)

	env, err := loader.GetExtent(ctx, "parcels", "geom")
	require.NoError(t, err)
	assert.Equal(t, geometry.NewEnvelope(0, 0, 12, 12), env)

	ok, err := loader.DataSetExists(ctx, "parcels")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = loader.DataSetExists(ctx, "x")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBaseTransactor_LastInsertIDWithoutCapability(t *testing.T) {
	ctx := context.Background()
	src := newStubSource(t)
	require.NoError(t, src.Open(ctx))
	tr, err := src.Transactor(ctx)
	require.NoError(t, err)

	assert.False(t, src.Capabilities().Supports(OpLastInsertID))
	assert.Equal(t, int64(0), tr.LastInsertID())
}
