package predicate

import (
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umputun/tablecrow/pkg/dialect"
	"github.com/umputun/tablecrow/pkg/geo"
	"github.com/umputun/tablecrow/pkg/schema"
)

func testFields(t *testing.T) schema.Fields {
	t.Helper()
	fields, err := schema.NewFields("id", "int", "name", "str", "created", "datetime", "tags", "[str]", "geom", "Polygon")
	require.NoError(t, err)
	return fields
}

func TestCompile_Simple(t *testing.T) {
	fields := testFields(t)

	tbl := []struct {
		name   string
		p      Predicate
		sqlite string
		pg     string
		args   []any
	}{
		{"nil", nil, "", "", nil},
		{"none", None{}, "", "", nil},
		{"empty map", Equalities{}, "", "", nil},
		{"raw", RawClause(" id > 5 "), "id > 5", "id > 5", nil},
		{"raw list", RawClauseList{"id > 5", "name IS NOT NULL"}, "id > 5 AND name IS NOT NULL",
			"id > 5 AND name IS NOT NULL", nil},
		{"equality", Equalities{"id": 1}, `"id" = ?`, `"id" = $1`, []any{int64(1)}},
		{"null", Equalities{"name": nil}, `"name" IS NULL`, `"name" IS NULL`, nil},
		{"membership", Equalities{"id": []int{1, 2, 3}}, `"id" IN (?, ?, ?)`, `"id" IN ($1, $2, $3)`,
			[]any{int64(1), int64(2), int64(3)}},
		{"empty membership", Equalities{"id": []any{}}, "1 = 0", "1 = 0", nil},
		{"datetime formatted", Equalities{"created": time.Date(2021, 3, 26, 10, 0, 0, 0, time.UTC)},
			`"created" = ?`, `"created" = $1`, []any{"2021-03-26 10:00:00"}},
		{"field order", Equalities{"name": "a", "id": "7"}, `"id" = ? AND "name" = ?`, `"id" = $1 AND "name" = $2`,
			[]any{int64(7), "a"}},
	}

	for _, tt := range tbl {
		t.Run(tt.name, func(t *testing.T) {
			args := dialect.NewArgs(dialect.SQLite{})
			res, err := Compile(tt.p, fields, dialect.SQLite{}, geo.DefaultCRS, args)
			require.NoError(t, err)
			assert.Equal(t, tt.sqlite, res)
			assert.Equal(t, tt.args, args.Values())

			args = dialect.NewArgs(dialect.Postgres{})
			res, err = Compile(tt.p, fields, dialect.Postgres{}, geo.DefaultCRS, args)
			require.NoError(t, err)
			assert.Equal(t, tt.pg, res)
		})
	}
}

func TestCompile_Pattern(t *testing.T) {
	fields := testFields(t)

	args := dialect.NewArgs(dialect.SQLite{})
	res, err := Compile(Equalities{"name": "ab%"}, fields, dialect.SQLite{}, geo.DefaultCRS, args)
	require.NoError(t, err)
	assert.Equal(t, `UPPER("name") LIKE ?`, res)
	assert.Equal(t, []any{"AB%"}, args.Values())

	args = dialect.NewArgs(dialect.Postgres{})
	res, err = Compile(Equalities{"name": "ab%"}, fields, dialect.Postgres{}, geo.DefaultCRS, args)
	require.NoError(t, err)
	assert.Equal(t, `"name" ILIKE $1`, res)
	assert.Equal(t, []any{"ab%"}, args.Values())

	args = dialect.NewArgs(dialect.MySQL{})
	res, err = Compile(Equalities{"name": "ab%"}, fields, dialect.MySQL{}, geo.DefaultCRS, args)
	require.NoError(t, err)
	assert.Equal(t, "`name` LIKE ?", res)
}

func TestCompile_Arrays(t *testing.T) {
	fields := testFields(t)

	args := dialect.NewArgs(dialect.Postgres{})
	res, err := Compile(Equalities{"tags": "x"}, fields, dialect.Postgres{}, geo.DefaultCRS, args)
	require.NoError(t, err)
	assert.Equal(t, `$1 = ANY("tags")`, res)
	assert.Equal(t, []any{"x"}, args.Values())

	args = dialect.NewArgs(dialect.Postgres{})
	res, err = Compile(Equalities{"tags": []string{"x", "y"}}, fields, dialect.Postgres{}, geo.DefaultCRS, args)
	require.NoError(t, err)
	assert.Equal(t, `"tags" = $1::VARCHAR[]`, res)
	require.Len(t, args.Values(), 1)
	_, ok := args.Values()[0].(pq.GenericArray)
	assert.True(t, ok)

	_, err = Compile(Equalities{"tags": "x"}, fields, dialect.SQLite{}, geo.DefaultCRS, dialect.NewArgs(dialect.SQLite{}))
	assert.ErrorIs(t, err, schema.ErrUnsupported)

	args = dialect.NewArgs(dialect.Postgres{})
	res, err = Compile(Equalities{"tags": nil}, fields, dialect.Postgres{}, geo.DefaultCRS, args)
	require.NoError(t, err)
	assert.Equal(t, `"tags" IS NULL`, res)
}

func TestCompile_Key(t *testing.T) {
	fields := testFields(t)

	tbl := []struct {
		name   string
		key    Key
		sqlite string
		args   []any
	}{
		{"scalar", Key{"id": 1}, `"id" = ?`, []any{int64(1)}},
		{"wildcard is literal", Key{"name": "ab%"}, `"name" = ?`, []any{"ab%"}},
		{"compound in field order", Key{"name": "a", "id": "7"}, `"id" = ? AND "name" = ?`, []any{int64(7), "a"}},
	}
	for _, tt := range tbl {
		t.Run(tt.name, func(t *testing.T) {
			args := dialect.NewArgs(dialect.SQLite{})
			res, err := Compile(tt.key, fields, dialect.SQLite{}, geo.DefaultCRS, args)
			require.NoError(t, err)
			assert.Equal(t, tt.sqlite, res)
			assert.Equal(t, tt.args, args.Values())
		})
	}

	args := dialect.NewArgs(dialect.Postgres{})
	res, err := Compile(Key{"name": "%x%"}, fields, dialect.Postgres{}, geo.DefaultCRS, args)
	require.NoError(t, err)
	assert.Equal(t, `"name" = $1`, res)

	args = dialect.NewArgs(dialect.Postgres{})
	res, err = Compile(Key{"tags": []string{"x", "y"}}, fields, dialect.Postgres{}, geo.DefaultCRS, args)
	require.NoError(t, err)
	assert.Equal(t, `"tags" = $1::VARCHAR[]`, res)

	_, err = Compile(Key{}, fields, dialect.SQLite{}, geo.DefaultCRS, dialect.NewArgs(dialect.SQLite{}))
	assert.ErrorIs(t, err, schema.ErrMissingKey)
	_, err = Compile(Key{"nope": 1}, fields, dialect.SQLite{}, geo.DefaultCRS, dialect.NewArgs(dialect.SQLite{}))
	assert.ErrorIs(t, err, schema.ErrNotFound)
}

func TestCompile_Geometry(t *testing.T) {
	fields := testFields(t)
	square := orb.Polygon{{{0, 0}, {1, 0}, {1, 1}, {0, 1}, {0, 0}}}

	t.Run("same crs", func(t *testing.T) {
		args := dialect.NewArgs(dialect.SQLite{})
		res, err := Compile(Equalities{"geom": square}, fields, dialect.SQLite{}, geo.DefaultCRS, args)
		require.NoError(t, err)
		assert.Equal(t, `"geom" = GeomFromText(?, ?)`, res)
		assert.Equal(t, []any{"POLYGON((0 0,1 0,1 1,0 1,0 0))", int64(4326)}, args.Values())
	})

	t.Run("wkt for geometry field", func(t *testing.T) {
		args := dialect.NewArgs(dialect.Postgres{})
		res, err := Compile(Equalities{"geom": "POLYGON((0 0,1 0,1 1,0 1,0 0))"}, fields, dialect.Postgres{}, geo.DefaultCRS, args)
		require.NoError(t, err)
		assert.Equal(t, `"geom" = ST_GeomFromText($1, $2)`, res)
	})

	t.Run("other crs", func(t *testing.T) {
		args := dialect.NewArgs(dialect.Postgres{})
		v := geo.Projected{Geometry: square, CRS: geo.FromEPSG(3857)}
		res, err := Compile(Equalities{"geom": v}, fields, dialect.Postgres{}, geo.DefaultCRS, args)
		require.NoError(t, err)
		assert.Equal(t, `"geom" = ST_Transform(ST_GeomFromText($1, $2), $3)`, res)
		assert.Equal(t, []any{"POLYGON((0 0,1 0,1 1,0 1,0 0))", int64(3857), int64(4326)}, args.Values())
	})

	t.Run("mysql spatial equality", func(t *testing.T) {
		args := dialect.NewArgs(dialect.MySQL{})
		res, err := Compile(Equalities{"geom": square}, fields, dialect.MySQL{}, geo.DefaultCRS, args)
		require.NoError(t, err)
		assert.Equal(t, "ST_Equals(`geom`, ST_GeomFromText(?, ?, 'axis-order=long-lat'))", res)
	})
}

func TestCompile_Errors(t *testing.T) {
	fields := testFields(t)

	_, err := Compile(Equalities{"nope": 1, "id": 1}, fields, dialect.SQLite{}, geo.DefaultCRS, dialect.NewArgs(dialect.SQLite{}))
	require.Error(t, err)
	assert.ErrorIs(t, err, schema.ErrInvalidPredicate)
	assert.ErrorIs(t, err, schema.ErrNotFound)
	assert.Contains(t, err.Error(), "nope")

	_, err = Compile(Equalities{"id": "abc"}, fields, dialect.SQLite{}, geo.DefaultCRS, dialect.NewArgs(dialect.SQLite{}))
	assert.ErrorIs(t, err, schema.ErrConversion)
}

func TestIntersecting(t *testing.T) {
	fields, err := schema.NewFields("id", "int", "area", "Polygon", "center", "Point")
	require.NoError(t, err)
	pt := orb.Point{1, 2}

	t.Run("all geometry fields", func(t *testing.T) {
		args := dialect.NewArgs(dialect.SQLite{})
		res, err := Intersecting(pt, geo.CRS{}, nil, fields, geo.DefaultCRS, dialect.SQLite{}, args)
		require.NoError(t, err)
		assert.Equal(t, `(Intersects("area", GeomFromText(?, ?)) OR Intersects("center", GeomFromText(?, ?)))`, res)
		assert.Equal(t, []any{"POINT(1 2)", int64(4326), "POINT(1 2)", int64(4326)}, args.Values())
	})

	t.Run("named field with other crs", func(t *testing.T) {
		args := dialect.NewArgs(dialect.Postgres{})
		res, err := Intersecting(pt, geo.FromEPSG(3857), []string{"area"}, fields, geo.DefaultCRS, dialect.Postgres{}, args)
		require.NoError(t, err)
		assert.Equal(t, `ST_Intersects("area", ST_Transform(ST_GeomFromText($1, $2), $3))`, res)
		assert.Equal(t, []any{"POINT(1 2)", int64(3857), int64(4326)}, args.Values())
	})

	t.Run("not a geometry field", func(t *testing.T) {
		_, err := Intersecting(pt, geo.CRS{}, []string{"id"}, fields, geo.DefaultCRS, dialect.SQLite{}, dialect.NewArgs(dialect.SQLite{}))
		assert.ErrorIs(t, err, schema.ErrUnsupported)
	})

	t.Run("unknown field", func(t *testing.T) {
		_, err := Intersecting(pt, geo.CRS{}, []string{"zzz"}, fields, geo.DefaultCRS, dialect.SQLite{}, dialect.NewArgs(dialect.SQLite{}))
		assert.ErrorIs(t, err, schema.ErrNotFound)
	})

	t.Run("no geometry fields", func(t *testing.T) {
		plain, err := schema.NewFields("id", "int")
		require.NoError(t, err)
		_, err = Intersecting(pt, geo.CRS{}, nil, plain, geo.DefaultCRS, dialect.SQLite{}, dialect.NewArgs(dialect.SQLite{}))
		assert.ErrorIs(t, err, schema.ErrUnsupported)
	})
}

func TestSequence(t *testing.T) {
	items, ok := Sequence([]string{"a", "b"})
	assert.True(t, ok)
	assert.Equal(t, []any{"a", "b"}, items)

	_, ok = Sequence("abc")
	assert.False(t, ok)
	_, ok = Sequence([]byte("abc"))
	assert.False(t, ok)
	_, ok = Sequence(orb.LineString{{0, 0}, {1, 1}})
	assert.False(t, ok)
	_, ok = Sequence(5)
	assert.False(t, ok)
}
