package excel

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/kasuganosora/geoaccess/pkg/geometry"
	"github.com/kasuganosora/geoaccess/pkg/resource/domain"
)

func createWorkbook(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "survey.xlsx")
	f := excelize.NewFile()
	defer f.Close()

	require.NoError(t, f.SetSheetName("Sheet1", "wells"))
	rows := [][]interface{}{
		{"id", "name", "depth", "geom"},
		{1, "w1", 10.5, "POINT(1 1)"},
		{2, "w2", 20, "POINT(4 4)"},
		{3, "w3", nil, "POINT(8 2)"},
	}
	for i, r := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, f.SetSheetRow("wells", cell, &r))
	}

	_, err := f.NewSheet("roads")
	require.NoError(t, err)
	require.NoError(t, f.SetSheetRow("roads", "A1", &[]interface{}{"code", "active"}))
	require.NoError(t, f.SetSheetRow("roads", "A2", &[]interface{}{"R1", true}))

	_, err = f.NewSheet("notes")
	require.NoError(t, err)

	require.NoError(t, f.SaveAs(path))
	return path
}

func openExcel(t *testing.T, info domain.ConnectionInfo) (*ExcelSource, domain.Transactor) {
	t.Helper()
	ctx := context.Background()
	s := NewExcelSource(info)
	require.NoError(t, s.Open(ctx))
	t.Cleanup(func() { _ = s.Close(ctx) })
	tr, err := s.Transactor(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.Close(ctx) })
	return s, tr
}

func TestExcelFactory(t *testing.T) {
	f := NewExcelFactory()
	assert.Equal(t, domain.DataSourceTypeExcel, f.GetType())
	ds, err := f.Create(domain.ConnectionInfo{domain.InfoPath: "a.xlsx"})
	require.NoError(t, err)
	assert.Equal(t, domain.DataSourceTypeExcel, ds.Type())
	assert.True(t, ds.Capabilities().ReadOnly)
}

func TestExcelSource_SheetsAreDataSets(t *testing.T) {
	ctx := context.Background()
	path := createWorkbook(t)
	s, tr := openExcel(t, domain.ConnectionInfo{domain.InfoPath: path, domain.InfoPrimaryKey: "id"})

	// the empty sheet is skipped
	assert.Equal(t, []string{"wells", "roads"}, s.Catalog().Names())

	ds, err := tr.GetDataSet(ctx, "wells", domain.RandomAccess, domain.AccessRead)
	require.NoError(t, err)
	defer ds.Close()
	assert.Equal(t, 3, ds.Size())

	dt := ds.Type()
	assert.Equal(t, "geom", dt.DefaultGeometry)
	require.NotNil(t, dt.PrimaryKey)
	assert.Equal(t, []string{"id"}, dt.PrimaryKey.Properties)
	roadsType, ok := s.Catalog().Get("roads")
	require.True(t, ok)
	assert.Nil(t, roadsType.PrimaryKey)
	p, _ := dt.Property("depth")
	assert.Equal(t, domain.TypeDouble, p.Type)

	ok, err = ds.Move(2)
	require.NoError(t, err)
	require.True(t, ok)
	null, err := ds.IsNull("depth")
	require.NoError(t, err)
	assert.True(t, null)

	env, err := ds.Extent("geom")
	require.NoError(t, err)
	assert.Equal(t, geometry.NewEnvelope(1, 1, 8, 4), env)

	roads, err := tr.QueryString(ctx, "SELECT * FROM roads WHERE active = true", domain.ForwardOnly, domain.AccessRead)
	require.NoError(t, err)
	defer roads.Close()
	require.True(t, roads.MoveNext())
	code, err := roads.GetString("code")
	require.NoError(t, err)
	assert.Equal(t, "R1", code)
}

func TestExcelSource_SingleSheet(t *testing.T) {
	path := createWorkbook(t)
	s, _ := openExcel(t, domain.ConnectionInfo{domain.InfoPath: path, InfoSheet: "roads"})
	assert.Equal(t, []string{"roads"}, s.Catalog().Names())

	bad := NewExcelSource(domain.ConnectionInfo{domain.InfoPath: path, InfoSheet: "missing"})
	assert.True(t, domain.IsConnectionError(bad.Open(context.Background())))
}

func TestExcelSource_WriteBack(t *testing.T) {
	ctx := context.Background()
	path := createWorkbook(t)
	_, tr := openExcel(t, domain.ConnectionInfo{domain.InfoPath: path, domain.InfoWritable: "true"})

	_, err := tr.ExecuteString(ctx, "INSERT INTO wells (id, name, depth, geom) VALUES (4, 'w4', 3.5, ST_GeomFromText('POINT(2 9)'))")
	require.NoError(t, err)

	tp, err := tr.DataSetTypePersistence(ctx)
	require.NoError(t, err)
	defer tp.Close()
	zones := domain.NewDataSetType("zones")
	require.NoError(t, zones.AddProperty(domain.NewProperty("label", domain.TypeString)))
	require.NoError(t, tp.Create(ctx, zones))

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, []string{"wells", "roads", "zones"}, f.GetSheetList())

	rows, err := f.GetRows("wells")
	require.NoError(t, err)
	require.Len(t, rows, 5)
	assert.Equal(t, []string{"4", "w4", "3.5", "POINT (2 9)"}, rows[4])

	// reopening sees the written rows
	s2, tr2 := openExcel(t, domain.ConnectionInfo{domain.InfoPath: path})
	assert.True(t, s2.Catalog().Contains("zones"))
	ds, err := tr2.GetDataSetByEnvelope(ctx, "wells", "", geometry.NewEnvelope(0, 8, 3, 10), geometry.Intersects, domain.RandomAccess, domain.AccessRead)
	require.NoError(t, err)
	defer ds.Close()
	require.Equal(t, 1, ds.Size())
	require.True(t, ds.MoveNext())
	name, err := ds.GetString("name")
	require.NoError(t, err)
	assert.Equal(t, "w4", name)
}

func TestExcelSource_CreateAndDrop(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "empty.xlsx")
	info := domain.ConnectionInfo{domain.InfoPath: path, domain.InfoWritable: "true"}
	s := NewExcelSource(info)

	require.NoError(t, s.Create(ctx, info))
	require.NoError(t, s.Open(ctx))
	assert.Empty(t, s.Catalog().Names())
	require.NoError(t, s.Close(ctx))

	require.NoError(t, s.Drop(ctx, info))
	ok, err := s.Exists(ctx, info)
	require.NoError(t, err)
	assert.False(t, ok)
}
