package schema

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseType(t *testing.T) {
	tbl := []struct {
		tag  string
		want FieldType
		dims int
		err  bool
	}{
		{tag: "int", want: Int},
		{tag: "str", want: String},
		{tag: "String", want: String},
		{tag: "timedelta", want: Duration},
		{tag: "ipaddress", want: IP},
		{tag: "MultiPolygon", want: MultiPolygon},
		{tag: "[str]", want: Array(String), dims: 1},
		{tag: "[[float]]", want: Array(Array(Float)), dims: 2},
		{tag: "(int, str, float)", want: Tuple(Int, String, Float), dims: 1},
		{tag: "[(int,str)]", want: Array(Tuple(Int, String)), dims: 2},
		{tag: "", err: true},
		{tag: "[int,str]", err: true},
		{tag: "[int", err: true},
		{tag: "complex", err: true},
		{tag: "(int,)", err: true},
	}

	for _, tt := range tbl {
		t.Run(tt.tag, func(t *testing.T) {
			ft, err := ParseType(tt.tag)
			if tt.err {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrSchemaConflict))
				return
			}
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(ft), "got %s", ft)
			assert.Equal(t, tt.dims, ft.Dims())
		})
	}
}

func TestFieldType_StringRoundTrip(t *testing.T) {
	for _, ft := range []FieldType{Int, Array(String), Array(Array(Float)), Tuple(Int, String), Point, Duration} {
		parsed, err := ParseType(ft.String())
		require.NoError(t, err, ft.String())
		assert.True(t, ft.Equal(parsed), ft.String())
	}
}

func TestFieldType_Element(t *testing.T) {
	assert.Equal(t, KindString, Array(Array(String)).Element().Kind)
	assert.Equal(t, KindInt, Int.Element().Kind)
	assert.True(t, Point.IsGeometry())
	assert.True(t, Geometry.IsGeometry())
	assert.False(t, Array(Point).IsGeometry())
	assert.False(t, String.IsGeometry())
}

func TestNewFields(t *testing.T) {
	fields, err := NewFields("id", "int", "name", "str", "loc", "point")
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "name", "loc"}, fields.Names())
	assert.Equal(t, 1, fields.Index("name"))
	assert.Equal(t, -1, fields.Index("nope"))
	assert.Equal(t, []string{"loc"}, fields.Geometry().Names())
	assert.Equal(t, "{id:int, name:str, loc:Point}", fields.String())

	_, err = NewFields("id", "int", "id", "str")
	assert.ErrorIs(t, err, ErrSchemaConflict)

	_, err = NewFields("id")
	require.Error(t, err)

	_, err = NewFields("", "int")
	assert.ErrorIs(t, err, ErrSchemaConflict)
}

func TestFields_PrimaryKey(t *testing.T) {
	fields, err := NewFields("id", "int", "name", "str")
	require.NoError(t, err)

	pk, err := fields.PrimaryKey(nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"id"}, pk)

	pk, err = fields.PrimaryKey([]string{"name", "id"})
	require.NoError(t, err)
	assert.Equal(t, []string{"name", "id"}, pk)

	_, err = fields.PrimaryKey([]string{"other"})
	assert.ErrorIs(t, err, ErrSchemaConflict)

	_, err = Fields{}.PrimaryKey(nil)
	assert.ErrorIs(t, err, ErrSchemaConflict)
}

func TestEnumeration_Lookup(t *testing.T) {
	e := NewEnumeration("color", EnumMember{Name: "red", Value: 1}, EnumMember{Name: "green", Value: 2})

	m, err := e.Lookup("green")
	require.NoError(t, err)
	assert.Equal(t, 2, m.Value)

	m, err = e.Lookup(1)
	require.NoError(t, err)
	assert.Equal(t, "red", m.Name)

	m, err = e.Lookup("2")
	require.NoError(t, err)
	assert.Equal(t, "green", m.Name)

	_, err = e.Lookup("blue")
	require.EqualError(t, err, "blue is not a member of color, valid members: red, green")
}

func TestRecord(t *testing.T) {
	r := Record{"a": 1, "b": "x"}
	c := r.Clone()
	c["a"] = 2
	assert.Equal(t, 1, r["a"])
	assert.Equal(t, []any{"x", nil, 2}, c.Values([]string{"b", "z", "a"}))
	assert.Equal(t, Record{}, Record(nil).Clone())
}

func TestErrorTaxonomy(t *testing.T) {
	assert.True(t, errors.Is(ErrUnsafeInheritance, ErrSchemaConflict))
	assert.False(t, errors.Is(ErrNotFound, ErrSchemaConflict))
}
