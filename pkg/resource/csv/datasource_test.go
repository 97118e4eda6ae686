package csv

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kasuganosora/geoaccess/pkg/geometry"
	"github.com/kasuganosora/geoaccess/pkg/resource/domain"
	"github.com/kasuganosora/geoaccess/pkg/resource/filemeta"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func openCSV(t *testing.T, info domain.ConnectionInfo) (*CSVSource, domain.Transactor) {
	t.Helper()
	ctx := context.Background()
	s := NewCSVSource(info)
	require.NoError(t, s.Open(ctx))
	t.Cleanup(func() { _ = s.Close(ctx) })
	tr, err := s.Transactor(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.Close(ctx) })
	return s, tr
}

func collect(t *testing.T, ds domain.DataSet, column string) []string {
	t.Helper()
	defer ds.Close()
	var out []string
	for ds.MoveNext() {
		v, err := ds.GetString(column)
		require.NoError(t, err)
		out = append(out, v)
	}
	require.NoError(t, ds.Err())
	return out
}

const points = `id,name,geom
1,a,POINT(0 0)
2,b,POINT(2 2)
3,c,POINT(5 5)
4,d,
5,e,"LINESTRING(1 3, 3 1)"
`

func TestCSVFactory(t *testing.T) {
	f := NewCSVFactory()
	assert.Equal(t, domain.DataSourceTypeCSV, f.GetType())

	ds, err := f.Create(domain.ConnectionInfo{domain.InfoPath: "x.csv"})
	require.NoError(t, err)
	assert.Equal(t, domain.DataSourceTypeCSV, ds.Type())
	assert.True(t, ds.Capabilities().ReadOnly)
	assert.False(t, ds.Capabilities().Transactions)
	assert.False(t, ds.Capabilities().SpatialPushdown)

	ds, err = f.Create(domain.ConnectionInfo{domain.InfoPath: "x.csv", domain.InfoWritable: "true"})
	require.NoError(t, err)
	assert.True(t, ds.Capabilities().Transactions)
	assert.False(t, ds.Capabilities().ReadOnly)
}

func TestCSVSource_OpenErrors(t *testing.T) {
	ctx := context.Background()

	err := NewCSVSource(nil).Open(ctx)
	assert.True(t, domain.IsConnectionError(err))

	err = NewCSVSource(domain.ConnectionInfo{domain.InfoPath: filepath.Join(t.TempDir(), "missing.csv")}).Open(ctx)
	assert.True(t, domain.IsConnectionError(err))

	s := NewCSVSource(domain.ConnectionInfo{domain.InfoPath: "x.csv"})
	_, err = s.Transactor(ctx)
	assert.True(t, domain.IsNotOpenError(err))

	path := writeFile(t, "flags.csv", "id,name\n1,a\n")
	bad := NewCSVSource(domain.ConnectionInfo{domain.InfoPath: path, domain.InfoWritable: "yes"})
	assert.True(t, bad.Capabilities().ReadOnly)
	err = bad.Open(ctx)
	assert.True(t, domain.IsConnectionError(err))
	assert.Contains(t, err.Error(), domain.InfoWritable)

	err = NewCSVSource(domain.ConnectionInfo{domain.InfoPath: path, domain.InfoHasHeader: "maybe"}).Open(ctx)
	assert.True(t, domain.IsConnectionError(err))
}

func TestCSVSource_ReadsRowsInFileOrder(t *testing.T) {
	ctx := context.Background()
	path := writeFile(t, "t.csv", "id,name\n1,one\n2,two\n3,three\n")
	s, tr := openCSV(t, domain.ConnectionInfo{domain.InfoPath: path, domain.InfoPrimaryKey: "id"})

	assert.Equal(t, []string{"t"}, s.Catalog().Names())

	ds, err := tr.GetDataSet(ctx, "t", domain.ForwardOnly, domain.AccessRead)
	require.NoError(t, err)
	defer ds.Close()

	for want := int64(1); want <= 3; want++ {
		require.True(t, ds.MoveNext())
		id, err := ds.GetInt64("id")
		require.NoError(t, err)
		assert.Equal(t, want, id)
	}
	assert.False(t, ds.MoveNext())
	assert.True(t, ds.IsAfterEnd())

	dt := ds.Type()
	require.NotNil(t, dt.PrimaryKey)
	assert.Equal(t, []string{"id"}, dt.PrimaryKey.Properties)
	p, _ := dt.Property("id")
	assert.Equal(t, domain.TypeInt64, p.Type)
	assert.False(t, p.Nullable)
}

func TestCSVSource_TypeInference(t *testing.T) {
	ctx := context.Background()
	path := writeFile(t, "mixed.csv", "n,x,flag,label,at\n1,1.5,true,a,2024-01-02T03:04:05Z\n2,2,false,3,2024-02-03T00:00:00Z\n,,,,\n")
	_, tr := openCSV(t, domain.ConnectionInfo{domain.InfoPath: path})

	ds, err := tr.GetDataSet(ctx, "mixed", domain.RandomAccess, domain.AccessRead)
	require.NoError(t, err)
	defer ds.Close()

	want := map[string]domain.PropertyType{
		"n":     domain.TypeInt64,
		"x":     domain.TypeDouble,
		"flag":  domain.TypeBoolean,
		"label": domain.TypeString,
		"at":    domain.TypeDateTime,
	}
	for name, typ := range want {
		p, ok := ds.Type().Property(name)
		require.True(t, ok, name)
		assert.Equal(t, typ, p.Type, name)
	}

	require.True(t, ds.MoveNext())
	x, err := ds.GetFloat64("x")
	require.NoError(t, err)
	assert.Equal(t, 1.5, x)

	_, err = ds.MoveLast()
	require.NoError(t, err)
	null, err := ds.IsNull("n")
	require.NoError(t, err)
	assert.True(t, null)
}

func TestCSVSource_OptionsWithoutHeader(t *testing.T) {
	ctx := context.Background()
	path := writeFile(t, "pipes.txt", "1|x\n2|y\n")
	_, tr := openCSV(t, domain.ConnectionInfo{
		domain.InfoPath:      path,
		domain.InfoHasHeader: "false",
		domain.InfoDelimiter: "|",
	})

	ds, err := tr.GetDataSet(ctx, "pipes", domain.RandomAccess, domain.AccessRead)
	require.NoError(t, err)
	assert.Equal(t, []string{"column_1", "column_2"}, ds.Type().PropertyNames())
	assert.Equal(t, []string{"x", "y"}, collect(t, ds, "column_2"))
}

func TestCSVSource_Encoding(t *testing.T) {
	ctx := context.Background()
	// "café" in ISO-8859-1
	path := writeFile(t, "latin.csv", "name\ncaf\xe9\n")
	_, tr := openCSV(t, domain.ConnectionInfo{domain.InfoPath: path, domain.InfoEncoding: "latin1"})

	ds, err := tr.GetDataSet(ctx, "latin", domain.ForwardOnly, domain.AccessRead)
	require.NoError(t, err)
	assert.Equal(t, []string{"café"}, collect(t, ds, "name"))

	s := NewCSVSource(domain.ConnectionInfo{domain.InfoPath: path, domain.InfoEncoding: "klingon"})
	assert.True(t, domain.IsConnectionError(s.Open(ctx)))
}

func TestCSVSource_SpatialFilterFallback(t *testing.T) {
	ctx := context.Background()
	path := writeFile(t, "pts.csv", points)
	_, tr := openCSV(t, domain.ConnectionInfo{domain.InfoPath: path, domain.InfoSRID: "4326"})

	env := geometry.NewEnvelope(1, 1, 3, 3)
	ds, err := tr.GetDataSetByEnvelope(ctx, "pts", "", env, geometry.Intersects, domain.RandomAccess, domain.AccessRead)
	require.NoError(t, err)
	byEnvelope := collect(t, ds, "name")

	ds, err = tr.QueryString(ctx, "SELECT * FROM pts WHERE ST_Intersects(geom, ST_MakeEnvelope(1, 1, 3, 3, 4326))", domain.RandomAccess, domain.AccessRead)
	require.NoError(t, err)
	composed := collect(t, ds, "name")

	assert.Equal(t, []string{"b", "e"}, byEnvelope)
	assert.Equal(t, byEnvelope, composed)

	ds, err = tr.GetDataSet(ctx, "pts", domain.RandomAccess, domain.AccessRead)
	require.NoError(t, err)
	defer ds.Close()
	require.True(t, ds.MoveNext())
	g, err := ds.GetGeometry("geom")
	require.NoError(t, err)
	require.NotNil(t, g)

	extent, err := ds.Extent("")
	require.NoError(t, err)
	assert.Equal(t, geometry.NewEnvelope(0, 0, 5, 5), extent)
}

func TestCSVSource_ReadOnlyRejectsWrites(t *testing.T) {
	ctx := context.Background()
	path := writeFile(t, "t.csv", "id\n1\n")
	_, tr := openCSV(t, domain.ConnectionInfo{domain.InfoPath: path})

	_, err := tr.ExecuteString(ctx, "INSERT INTO t (id) VALUES (2)")
	assert.True(t, domain.IsUnsupportedOperation(err))
	assert.True(t, domain.IsUnsupportedOperation(tr.Begin(ctx)))

	_, err = tr.GetDataSet(ctx, "t", domain.RandomAccess, domain.AccessReadWrite)
	assert.True(t, domain.IsReadOnly(err))
}

func TestCSVSource_WriteBack(t *testing.T) {
	ctx := context.Background()
	path := writeFile(t, "sites.csv", points)
	info := domain.ConnectionInfo{domain.InfoPath: path, domain.InfoWritable: "true", domain.InfoPrimaryKey: "id"}
	_, tr := openCSV(t, info)

	_, err := tr.ExecuteString(ctx, "INSERT INTO sites (id, name, geom) VALUES (6, 'f', ST_GeomFromText('POINT(9 9)'))")
	require.NoError(t, err)
	_, err = tr.ExecuteString(ctx, "DELETE FROM sites WHERE id = 4")
	require.NoError(t, err)

	// duplicate key is rejected and leaves the file untouched
	_, err = tr.ExecuteString(ctx, "INSERT INTO sites (id, name) VALUES (1, 'dup')")
	require.Error(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	assert.Equal(t, "id,name,geom", lines[0])
	assert.Equal(t, "6,f,POINT (9 9)", lines[len(lines)-1])
	assert.Len(t, lines, 6)

	meta, err := filemeta.Load(filemeta.MetaPath(path))
	require.NoError(t, err)
	require.NotNil(t, meta.Type("sites"))

	// a fresh source keeps the key from the sidecar even without PRIMARY_KEY
	_, again := openCSV(t, domain.ConnectionInfo{domain.InfoPath: path})
	ds, err := again.GetDataSet(ctx, "sites", domain.RandomAccess, domain.AccessRead)
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2", "3", "5", "6"}, collect(t, ds, "id"))
	loader, err := again.CatalogLoader(ctx)
	require.NoError(t, err)
	pk, err := loader.GetPrimaryKey(ctx, "sites")
	require.NoError(t, err)
	require.NotNil(t, pk)
	assert.Equal(t, []string{"id"}, pk.Properties)
}

func TestCSVSource_TransactionWriteBack(t *testing.T) {
	ctx := context.Background()
	path := writeFile(t, "t.csv", "id,name\n1,a\n")
	_, tr := openCSV(t, domain.ConnectionInfo{domain.InfoPath: path, domain.InfoWritable: "true"})

	require.NoError(t, tr.Begin(ctx))
	_, err := tr.ExecuteString(ctx, "UPDATE t SET name = 'z' WHERE id = 1")
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "id,name\n1,a\n", string(data))

	require.NoError(t, tr.Commit(ctx))
	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "id,name\n1,z\n", string(data))
}

func TestCSVSource_Administrative(t *testing.T) {
	ctx := context.Background()
	s := NewCSVSource(nil)
	path := filepath.Join(t.TempDir(), "sub", "new.csv")
	info := domain.ConnectionInfo{domain.InfoPath: path}

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
	assert.True(t, domain.IsBackendError(s.Drop(ctx, info)))

	_, err = s.Exists(ctx, nil)
	assert.True(t, domain.IsConnectionError(err))
}
