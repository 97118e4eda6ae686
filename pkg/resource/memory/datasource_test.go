package memory

import (
	"context"
	"testing"

	"github.com/kasuganosora/geoaccess/pkg/resource/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryFactory(t *testing.T) {
	f := NewMemoryFactory()
	assert.Equal(t, domain.DataSourceTypeMemory, f.GetType())

	ds, err := f.Create(domain.ConnectionInfo{InfoSpatialIndex: "false"})
	require.NoError(t, err)
	assert.Equal(t, domain.DataSourceTypeMemory, ds.Type())
	assert.NotEmpty(t, ds.ID())
	assert.False(t, ds.IsOpened())
	assert.False(t, ds.Capabilities().SpatialPushdown)
	assert.True(t, ds.Capabilities().Transactions)
}

func TestSource_OpenClose(t *testing.T) {
	ctx := context.Background()
	s := NewSource(nil)
	assert.False(t, s.IsValid(ctx))

	require.NoError(t, s.Open(ctx))
	require.NoError(t, s.Open(ctx))
	assert.True(t, s.IsValid(ctx))
	assert.NotNil(t, s.Engine())

	require.NoError(t, s.Close(ctx))
	require.NoError(t, s.Close(ctx))
	assert.False(t, s.IsOpened())
	assert.Nil(t, s.Engine())

	bad := NewSource(domain.ConnectionInfo{InfoSpatialIndex: "sometimes"})
	err := bad.Open(ctx)
	assert.True(t, domain.IsConnectionError(err))
	assert.False(t, bad.IsOpened())
}

func TestSource_NamedStoreIsShared(t *testing.T) {
	ctx := context.Background()
	info := domain.ConnectionInfo{InfoStore: "shared-parcels"}
	t.Cleanup(func() { _ = NewSource(nil).Drop(ctx, info) })

	first := openSource(t, info)
	createParcels(t, newTransactor(t, first))

	second := openSource(t, info)
	assert.True(t, second.Catalog().Contains("parcels"))
	assert.Same(t, first.Engine(), second.Engine())

	// closing one source keeps the store
	require.NoError(t, first.Close(ctx))
	third := openSource(t, info)
	assert.Equal(t, []string{"parcels"}, third.Catalog().Names())
}

func TestSource_AdministrativeOperations(t *testing.T) {
	ctx := context.Background()
	s := NewSource(nil)
	info := domain.ConnectionInfo{InfoStore: "admin-store"}

	_, err := s.Exists(ctx, domain.ConnectionInfo{})
	assert.True(t, domain.IsConnectionError(err))

	ok, err := s.Exists(ctx, info)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Create(ctx, info))
	ok, err = s.Exists(ctx, info)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Error(t, s.Create(ctx, info))

	require.NoError(t, s.Drop(ctx, info))
	ok, err = s.Exists(ctx, info)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.True(t, domain.IsBackendError(s.Drop(ctx, info)))
}

func TestEngine_LoadAndTables(t *testing.T) {
	e := NewEngine(domain.DataSourceTypeCSV, WithoutSpatialIndex())
	assert.Equal(t, domain.DataSourceTypeCSV, e.Driver())
	assert.False(t, e.SpatialIndexEnabled())

	dt := parcelsType()
	require.NoError(t, e.Load(dt, []domain.Row{
		{"id": int64(7), "name": "a", "geom": "POINT(1 2)"},
		{"id": "8", "name": "b"},
	}))

	tables := e.Tables()
	require.Len(t, tables, 1)
	assert.Equal(t, "parcels", tables[0].Type.Name)
	require.Len(t, tables[0].Rows, 2)
	assert.Equal(t, int64(8), tables[0].Rows[1]["id"])
	assert.Nil(t, tables[0].Rows[1]["geom"])

	// unknown columns are rejected
	err := e.Load(dt, []domain.Row{{"other": 1}})
	assert.True(t, domain.IsPropertyNotFound(err))

	c := domain.NewCatalog()
	e.FillCatalog(c)
	assert.Equal(t, []string{"parcels"}, c.Names())

	e.Reset()
	assert.Empty(t, e.Names())
}

func TestEngine_AutoIncrementContinuesAfterLoad(t *testing.T) {
	ctx := context.Background()
	s := NewSource(nil)
	s.engine = NewEngine(domain.DataSourceTypeMemory)
	require.NoError(t, s.engine.Load(parcelsType(), []domain.Row{{"id": int64(41), "name": "x"}}))
	require.NoError(t, s.Open(ctx))
	defer s.Close(ctx)

	tr := newTransactor(t, s)
	_, err := tr.ExecuteString(ctx, "INSERT INTO parcels (name) VALUES ('y')")
	require.NoError(t, err)
	assert.Equal(t, int64(42), tr.LastInsertID())
}
