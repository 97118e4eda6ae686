package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/kasuganosora/geoaccess/pkg/geometry"
	"github.com/kasuganosora/geoaccess/pkg/resource/domain"
	"github.com/kasuganosora/geoaccess/pkg/resource/memory"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"
)

func pointsType() *domain.DataSetType {
	dt := domain.NewDataSetType("points")
	_ = dt.AddProperty(domain.NewProperty("name", domain.TypeString))
	_ = dt.AddProperty(domain.NewGeometryProperty("geom", "POINT", 4326))
	return dt
}

func openMonitored(t *testing.T, mon *Monitor) domain.DataSource {
	t.Helper()
	ds := mon.WrapSource(memory.NewSource(nil))
	require.NoError(t, ds.Open(context.Background()))
	t.Cleanup(func() { _ = ds.Close(context.Background()) })
	return ds
}

func TestMonitor_WrapsTransactor(t *testing.T) {
	ctx := context.Background()
	mon := New(time.Hour, 10)
	ds := openMonitored(t, mon)
	assert.Same(t, ds, mon.WrapSource(ds))

	tr, err := ds.Transactor(ctx)
	require.NoError(t, err)
	assert.IsType(t, &Transactor{}, tr)
	assert.Same(t, ds, tr.DataSource())

	tp, err := tr.DataSetTypePersistence(ctx)
	require.NoError(t, err)
	require.NoError(t, tp.Create(ctx, pointsType()))
	require.NoError(t, tp.Close())

	require.NoError(t, tr.Begin(ctx))
	assert.Equal(t, int64(1), mon.Metrics.GetActiveTransactions())

	p, err := tr.DataSetPersistence(ctx)
	require.NoError(t, err)
	n, err := p.Add(ctx, "points", []domain.Row{
		{"name": "a", "geom": geom.NewPointFlat(geom.XY, []float64{1, 1})},
		{"name": "b", "geom": geom.NewPointFlat(geom.XY, []float64{5, 5})},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	require.NoError(t, p.Close())

	require.NoError(t, tr.Commit(ctx))
	assert.Zero(t, mon.Metrics.GetActiveTransactions())

	set, err := tr.GetDataSetByEnvelope(ctx, "points", "", geometry.NewEnvelope(0, 0, 2, 2), geometry.Intersects, domain.ForwardOnly, domain.AccessRead)
	require.NoError(t, err)
	require.NoError(t, set.Close())

	_, err = tr.GetDataSet(ctx, "missing", domain.ForwardOnly, domain.AccessRead)
	require.Error(t, err)
	require.NoError(t, tr.Close(ctx))

	m := mon.Metrics
	assert.Equal(t, 1.0, testutil.ToFloat64(m.operations.WithLabelValues("MEMORY", "Begin", StatusOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.operations.WithLabelValues("MEMORY", "Commit", StatusOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.operations.WithLabelValues("MEMORY", "Add", StatusOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.operations.WithLabelValues("MEMORY", "GetDataSetByEnvelope", StatusOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.operations.WithLabelValues("MEMORY", "GetDataSet", StatusError)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.rows.WithLabelValues("MEMORY")))
	assert.Equal(t, int64(1), m.GetErrorCount("dataset_not_found"))
	assert.Equal(t, int64(2), m.GetDataSetAccessCount("points"))
	assert.Zero(t, mon.Slow.Len())
}

func TestMonitor_CloseEndsTransaction(t *testing.T) {
	ctx := context.Background()
	mon := New(time.Hour, 10)
	ds := openMonitored(t, mon)

	tr, err := ds.Transactor(ctx)
	require.NoError(t, err)
	require.NoError(t, tr.Begin(ctx))
	assert.Equal(t, int64(1), mon.Metrics.GetActiveTransactions())

	require.NoError(t, tr.Close(ctx))
	assert.Zero(t, mon.Metrics.GetActiveTransactions())
}

func TestMonitor_RecordsSlowOperations(t *testing.T) {
	ctx := context.Background()
	mon := New(0, 10)
	ds := openMonitored(t, mon)

	tr, err := ds.Transactor(ctx)
	require.NoError(t, err)
	defer tr.Close(ctx)

	_, err = tr.QueryString(ctx, "SELECT * FROM nowhere", domain.ForwardOnly, domain.AccessRead)
	require.Error(t, err)

	recent := mon.Slow.Recent(1)
	require.Len(t, recent, 1)
	assert.Equal(t, "QueryString", recent[0].Operation)
	assert.Equal(t, "SELECT * FROM nowhere", recent[0].Statement)
	assert.Equal(t, domain.DataSourceTypeMemory, recent[0].Driver)
	assert.NotEmpty(t, recent[0].Error)
	// Open is observed too
	assert.Equal(t, 1, mon.Slow.Analyze().Operations["Open"])
}
