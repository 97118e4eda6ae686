package domain

import (
	"errors"
	"testing"

	"github.com/kasuganosora/geoaccess/pkg/geometry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRows() []Row {
	return []Row{
		{"id": int64(1), "name": "a", "geom": "POINT (1 1)"},
		{"id": int64(2), "name": "b", "geom": "POINT (4 6)"},
		{"id": int64(3), "name": nil, "geom": nil},
	}
}

func TestRowSet_ForwardOnly(t *testing.T) {
	dt := newParcelType(t)
	ds := NewRowSet(DataSourceTypeMemory, dt, sampleRows(), ForwardOnly, AccessRead)

	assert.True(t, ds.IsBeforeBegin())
	_, err := ds.GetInt64("id")
	assert.True(t, IsInvalidPosition(err))

	var ids []int64
	for ds.MoveNext() {
		id, err := ds.GetInt64("id")
		require.NoError(t, err)
		ids = append(ids, id)
	}
	assert.Equal(t, []int64{1, 2, 3}, ids)
	assert.True(t, ds.IsAfterEnd())
	assert.False(t, ds.MoveNext())

	_, err = ds.MovePrevious()
	assert.True(t, IsUnsupportedOperation(err))
	_, err = ds.MoveLast()
	assert.True(t, IsUnsupportedOperation(err))
	_, err = ds.Move(0)
	assert.True(t, IsUnsupportedOperation(err))
	_, err = ds.MoveFirst()
	assert.True(t, IsUnsupportedOperation(err))
}

func TestRowSet_RandomAccess(t *testing.T) {
	dt := newParcelType(t)
	ds := NewRowSet(DataSourceTypeMemory, dt, sampleRows(), RandomAccess, AccessRead)

	ok, err := ds.MoveLast()
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, ds.IsAtEnd())
	isNull, err := ds.IsNull("name")
	require.NoError(t, err)
	assert.True(t, isNull)

	ok, err = ds.MovePrevious()
	require.NoError(t, err)
	require.True(t, ok)
	name, err := ds.GetString("name")
	require.NoError(t, err)
	assert.Equal(t, "b", name)

	ok, err = ds.MoveFirst()
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, ds.IsAtBegin())

	_, err = ds.Move(10)
	assert.True(t, IsInvalidPosition(err))

	require.NoError(t, ds.MoveBeforeFirst())
	assert.True(t, ds.IsBeforeBegin())
}

func TestRowSet_Getters(t *testing.T) {
	dt := newParcelType(t)
	ds := NewRowSet(DataSourceTypeMemory, dt, sampleRows(), RandomAccess, AccessRead)
	require.True(t, ds.MoveNext())

	g, err := ds.GetGeometry("")
	require.NoError(t, err)
	assert.Equal(t, 4326, g.SRID())

	v, err := ds.Get(1)
	require.NoError(t, err)
	assert.Equal(t, "a", v)
	_, err = ds.Get(5)
	assert.Error(t, err)

	_, err = ds.GetByName("missing")
	assert.True(t, IsPropertyNotFound(err))

	row, err := ds.Row()
	require.NoError(t, err)
	row["id"] = int64(99)
	id, _ := ds.GetInt64("id")
	assert.Equal(t, int64(1), id)

	_, err = ds.GetRaster("")
	assert.True(t, IsPropertyNotFound(err))
}

func TestRowSet_SetRequiresReadWrite(t *testing.T) {
	dt := newParcelType(t)
	ro := NewRowSet(DataSourceTypeMemory, dt, sampleRows(), RandomAccess, AccessRead)
	require.True(t, ro.MoveNext())
	assert.True(t, IsReadOnly(ro.Set("name", "x")))

	rw := NewRowSet(DataSourceTypeMemory, dt, sampleRows(), RandomAccess, AccessReadWrite)
	require.True(t, rw.MoveNext())
	require.NoError(t, rw.Set("name", "x"))
	name, _ := rw.GetString("name")
	assert.Equal(t, "x", name)
}

func TestRowSet_Extent(t *testing.T) {
	dt := newParcelType(t)
	ds := NewRowSet(DataSourceTypeMemory, dt, sampleRows(), ForwardOnly, AccessRead)

	env, err := ds.Extent("")
	require.NoError(t, err)
	assert.Equal(t, geometry.NewEnvelope(1, 1, 4, 6), env)

	_, err = ds.Extent("nope")
	assert.True(t, IsPropertyNotFound(err))
}

type failingIterator struct {
	rows []Row
	err  error
}

func (it *failingIterator) Next() (Row, error) {
	if len(it.rows) == 0 {
		return nil, it.err
	}
	r := it.rows[0]
	it.rows = it.rows[1:]
	return r, nil
}

func (it *failingIterator) Close() error { return nil }

func TestStreamSet(t *testing.T) {
	dt := newParcelType(t)
	ds := NewStreamSet(DataSourceTypeSQLite, dt, NewSliceIterator(sampleRows()), AccessRead)
	defer ds.Close()

	assert.False(t, ds.IsEmpty())
	assert.Equal(t, -1, ds.Size())

	ok, err := ds.MoveFirst()
	require.NoError(t, err)
	require.True(t, ok)
	id, _ := ds.GetInt64("id")
	assert.Equal(t, int64(1), id)

	require.True(t, ds.MoveNext())
	require.True(t, ds.MoveNext())
	assert.True(t, ds.IsAtEnd())
	assert.False(t, ds.MoveNext())
	assert.True(t, ds.IsAfterEnd())
	assert.NoError(t, ds.Err())

	_, err = ds.Extent("")
	assert.True(t, IsUnsupportedOperation(err))

	boom := errors.New("boom")
	failing := NewStreamSet(DataSourceTypeSQLite, dt, &failingIterator{rows: sampleRows()[:1], err: boom}, AccessRead)
	assert.True(t, failing.MoveNext())
	assert.False(t, failing.MoveNext())
	assert.ErrorIs(t, failing.Err(), boom)
}
