package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newParcelType(t *testing.T) *DataSetType {
	t.Helper()
	dt := NewDataSetType("parcels")
	require.NoError(t, dt.AddProperty(&Property{Name: "id", Type: TypeInt64}))
	require.NoError(t, dt.AddProperty(NewProperty("name", TypeString)))
	require.NoError(t, dt.AddProperty(NewGeometryProperty("geom", "polygon", 4326)))
	return dt
}

func TestDataSetType_AddProperty(t *testing.T) {
	dt := newParcelType(t)

	assert.Equal(t, []string{"id", "name", "geom"}, dt.PropertyNames())
	assert.Equal(t, "geom", dt.DefaultGeometry)
	assert.Equal(t, "POLYGON", dt.DefaultGeometryProperty().GeometryType)
	assert.Nil(t, dt.DefaultRasterProperty())

	err := dt.AddProperty(NewProperty("id", TypeInt32))
	assert.Error(t, err)
	assert.Error(t, dt.AddProperty(&Property{}))
}

func TestDataSetType_KeysMustReferenceProperties(t *testing.T) {
	dt := newParcelType(t)

	require.NoError(t, dt.SetPrimaryKey(&PrimaryKey{Name: "pk", Properties: []string{"id"}}))
	err := dt.SetPrimaryKey(&PrimaryKey{Properties: []string{"missing"}})
	assert.True(t, IsPropertyNotFound(err))
	assert.Error(t, dt.SetPrimaryKey(&PrimaryKey{}))
	assert.Equal(t, []string{"id"}, dt.PrimaryKey.Properties)

	require.NoError(t, dt.AddUniqueKey(&UniqueKey{Name: "uk", Properties: []string{"name"}}))
	assert.True(t, IsPropertyNotFound(dt.AddUniqueKey(&UniqueKey{Properties: []string{"x"}})))

	require.NoError(t, dt.AddIndex(&Index{Name: "sidx", Type: IndexTypeRTree, Properties: []string{"geom"}}))
	assert.Error(t, dt.AddIndex(&Index{Name: "sidx", Type: IndexTypeRTree, Properties: []string{"geom"}}))

	require.NoError(t, dt.Validate())

	// 被引用的属性不能删除
	assert.Error(t, dt.RemoveProperty("id"))
	assert.True(t, IsPropertyNotFound(dt.RemoveProperty("nope")))
}

func TestDataSetType_Validate(t *testing.T) {
	dt := newParcelType(t)
	dt.PrimaryKey = &PrimaryKey{Properties: []string{"ghost"}}
	assert.Error(t, dt.Validate())

	dt = newParcelType(t)
	dt.DefaultGeometry = "ghost"
	assert.Error(t, dt.Validate())

	assert.Error(t, NewDataSetType("").Validate())
}

func TestDataSetType_CloneAndShallow(t *testing.T) {
	dt := newParcelType(t)
	require.NoError(t, dt.SetPrimaryKey(&PrimaryKey{Properties: []string{"id"}}))
	dt.FullyLoaded = true

	c := dt.Clone()
	c.Properties[0].Name = "changed"
	c.PrimaryKey.Properties[0] = "changed"
	assert.Equal(t, "id", dt.Properties[0].Name)
	assert.Equal(t, "id", dt.PrimaryKey.Properties[0])

	s := dt.Shallow()
	assert.Nil(t, s.PrimaryKey)
	assert.False(t, s.FullyLoaded)
	assert.Equal(t, "geom", s.DefaultGeometry)
	assert.Len(t, s.Properties, 3)
}

func TestParsePropertyType(t *testing.T) {
	testCases := []struct {
		in   string
		want PropertyType
	}{
		{"INT64", TypeInt64},
		{"varchar(255)", TypeString},
		{"bigint", TypeInt64},
		{"double precision", TypeDouble},
		{"timestamptz", TypeDateTime},
		{"MULTIPOLYGON", TypeGeometry},
		{"bytea", TypeBytes},
	}
	for _, tc := range testCases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParsePropertyType(tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	_, err := ParsePropertyType("whatever")
	assert.Error(t, err)

	var pt PropertyType
	require.NoError(t, pt.UnmarshalText([]byte("GEOMETRY")))
	assert.Equal(t, TypeGeometry, pt)
}
