package geo

import (
	"encoding/hex"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umputun/tablecrow/pkg/schema"
)

func TestParse(t *testing.T) {
	pt := orb.Point{1, 2}
	raw, err := ToWKB(pt)
	require.NoError(t, err)

	tbl := []struct {
		name string
		in   any
		kind schema.Kind
		want orb.Geometry
	}{
		{name: "hex wkb", in: hex.EncodeToString(raw), kind: schema.KindPoint, want: pt},
		{name: "wkt", in: "POINT(1 2)", kind: schema.KindPoint, want: pt},
		{name: "raw wkb", in: raw, kind: schema.KindPoint, want: pt},
		{name: "geojson string", in: `{"type":"Point","coordinates":[1,2]}`, kind: schema.KindPoint, want: pt},
		{name: "geojson map", in: map[string]any{"type": "Point", "coordinates": []any{1.0, 2.0}}, kind: schema.KindPoint, want: pt},
		{name: "coordinates", in: []any{1, 2}, kind: schema.KindPoint, want: pt},
		{name: "orb value", in: pt, kind: schema.KindPoint, want: pt},
		{name: "generic kind", in: "LINESTRING(0 0,1 1)", kind: schema.KindGeometry, want: orb.LineString{{0, 0}, {1, 1}}},
		{name: "line coordinates", in: [][]float64{{0, 0}, {1, 1}}, kind: schema.KindLineString,
			want: orb.LineString{{0, 0}, {1, 1}}},
		{name: "multipoint coordinates", in: []any{[]any{0, 0}, []any{1, 1}}, kind: schema.KindMultiPoint,
			want: orb.MultiPoint{{0, 0}, {1, 1}}},
		{name: "polygon coordinates", in: []any{[]any{[]any{0, 0}, []any{1, 0}, []any{1, 1}, []any{0, 0}}},
			kind: schema.KindPolygon, want: orb.Polygon{{{0, 0}, {1, 0}, {1, 1}, {0, 0}}}},
		{name: "ring to polygon", in: orb.Ring{{0, 0}, {1, 0}, {1, 1}, {0, 0}}, kind: schema.KindPolygon,
			want: orb.Polygon{{{0, 0}, {1, 0}, {1, 1}, {0, 0}}}},
	}

	for _, tt := range tbl {
		t.Run(tt.name, func(t *testing.T) {
			g, err := ParseAs(tt.in, tt.kind)
			require.NoError(t, err)
			assert.True(t, orb.Equal(tt.want, g), "got %v", g)
		})
	}
}

func TestParse_Errors(t *testing.T) {
	_, err := ParseAs("POINT(1 2)", schema.KindPolygon)
	require.Error(t, err)
	assert.ErrorIs(t, err, schema.ErrUnsupported)

	_, err = Parse("not a geometry")
	require.Error(t, err)

	_, err = Parse(nil)
	require.Error(t, err)

	_, err = Parse(42)
	require.Error(t, err)
}

func TestWKTAndWKB(t *testing.T) {
	poly := orb.Polygon{{{0, 0}, {1, 0}, {1, 1}, {0, 0}}}
	assert.Equal(t, "POLYGON((0 0,1 0,1 1,0 0))", ToWKT(poly))

	raw, err := ToWKB(poly)
	require.NoError(t, err)
	back, err := FromWKB(raw)
	require.NoError(t, err)
	assert.True(t, orb.Equal(poly, back))

	_, err = FromWKB([]byte{1, 2, 3})
	require.Error(t, err)
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, schema.KindPoint, KindOf(orb.Point{}))
	assert.Equal(t, schema.KindLineString, KindOf(orb.LineString{}))
	assert.Equal(t, schema.KindPolygon, KindOf(orb.Polygon{}))
	assert.Equal(t, schema.KindMultiPoint, KindOf(orb.MultiPoint{}))
	assert.Equal(t, schema.KindMultiLineString, KindOf(orb.MultiLineString{}))
	assert.Equal(t, schema.KindMultiPolygon, KindOf(orb.MultiPolygon{}))
	assert.Equal(t, schema.KindGeometry, KindOf(orb.Collection{}))
	assert.Equal(t, schema.KindInvalid, KindOf(nil))
}

func TestIntersects(t *testing.T) {
	square := orb.Polygon{{{0, 0}, {10, 0}, {10, 10}, {0, 10}, {0, 0}}}
	tbl := []struct {
		name string
		a, b orb.Geometry
		want bool
	}{
		{name: "point inside polygon", a: orb.Point{5, 5}, b: square, want: true},
		{name: "point outside polygon", a: orb.Point{15, 5}, b: square, want: false},
		{name: "point on edge", a: orb.Point{10, 5}, b: square, want: true},
		{name: "crossing line", a: orb.LineString{{-5, 5}, {15, 5}}, b: square, want: true},
		{name: "line outside", a: orb.LineString{{-5, -5}, {-1, 20}}, b: square, want: false},
		{name: "polygon inside polygon", a: orb.Polygon{{{2, 2}, {3, 2}, {3, 3}, {2, 2}}}, b: square, want: true},
		{name: "polygon containing polygon", a: square, b: orb.Polygon{{{2, 2}, {3, 2}, {3, 3}, {2, 2}}}, want: true},
		{name: "same points", a: orb.Point{1, 1}, b: orb.MultiPoint{{0, 0}, {1, 1}}, want: true},
		{name: "different points", a: orb.Point{1, 1}, b: orb.Point{1, 2}, want: false},
		{name: "point on line", a: orb.Point{1, 1}, b: orb.LineString{{0, 0}, {2, 2}}, want: true},
		{name: "parallel lines", a: orb.LineString{{0, 0}, {2, 0}}, b: orb.LineString{{0, 1}, {2, 1}}, want: false},
		{name: "collinear overlap", a: orb.LineString{{0, 0}, {2, 0}}, b: orb.LineString{{1, 0}, {3, 0}}, want: true},
		{name: "nil", a: nil, b: square, want: false},
	}
	for _, tt := range tbl {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Intersects(tt.a, tt.b))
		})
	}
}

func TestReproject(t *testing.T) {
	pt := orb.Point{10, 20}
	merc, err := Reproject(pt, FromEPSG(4326), FromEPSG(3857))
	require.NoError(t, err)
	assert.InDelta(t, 1113194.9, merc.(orb.Point)[0], 0.1)
	assert.InDelta(t, 2273030.9, merc.(orb.Point)[1], 0.1)
	assert.Equal(t, orb.Point{10, 20}, pt, "source geometry untouched")

	back, err := Reproject(merc, FromEPSG(3857), FromEPSG(4326))
	require.NoError(t, err)
	assert.InDelta(t, 10, back.(orb.Point)[0], 1e-6)
	assert.InDelta(t, 20, back.(orb.Point)[1], 1e-6)

	same, err := Reproject(pt, FromEPSG(4326), DefaultCRS)
	require.NoError(t, err)
	assert.Equal(t, pt, same)

	_, err = Reproject(pt, FromEPSG(4326), FromEPSG(4269))
	assert.ErrorIs(t, err, schema.ErrUnsupported)

	_, err = Reproject(pt, CRS{Name: "custom"}, FromEPSG(4326))
	assert.ErrorIs(t, err, schema.ErrUnsupported)
}

func TestParseCRS(t *testing.T) {
	tbl := []struct {
		name string
		in   any
		epsg int
		str  string
	}{
		{name: "int", in: 4326, epsg: 4326, str: "EPSG:4326"},
		{name: "epsg string", in: "epsg:3857", epsg: 3857, str: "EPSG:3857"},
		{name: "digits", in: " 4269 ", epsg: 4269, str: "EPSG:4269"},
		{name: "wkt", in: knownCRS[4326].WKT, epsg: 4326, str: "EPSG:4326"},
		{name: "json", in: map[string]any{"id": map[string]any{"authority": "EPSG", "code": 3857}}, epsg: 3857, str: "EPSG:3857"},
		{name: "unknown code", in: 32618, epsg: 32618, str: "EPSG:32618"},
	}
	for _, tt := range tbl {
		t.Run(tt.name, func(t *testing.T) {
			c, err := ParseCRS(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.epsg, c.EPSG)
			assert.Equal(t, tt.str, c.String())
		})
	}

	_, err := ParseCRS("nonsense")
	require.Error(t, err)
	_, err = ParseCRS(1.5)
	require.Error(t, err)
	_, err = ParseCRS(`GEOGCS["broken"`)
	require.Error(t, err)
}

func TestParseCRS_Compound(t *testing.T) {
	c, err := ParseCRS("EPSG:4326 + EPSG:5703")
	require.NoError(t, err)
	assert.True(t, c.IsCompound())
	assert.Equal(t, "EPSG:4326 + EPSG:5703", c.String())
	srid, err := c.SRID()
	require.NoError(t, err)
	assert.Equal(t, 4326, srid)

	wkt := c.ToWKT()
	assert.Contains(t, wkt, `COMPD_CS["WGS 84 + NAVD88 height"`)
	parsed, err := ParseCRS(wkt)
	require.NoError(t, err)
	require.Len(t, parsed.Parts, 2)
	assert.Equal(t, 4326, parsed.Parts[0].EPSG)
	assert.Equal(t, 5703, parsed.Parts[1].EPSG)
	assert.True(t, c.Equal(parsed))

	js := c.ToJSON()
	assert.Equal(t, "CompoundCRS", js["type"])
	back, err := ParseCRS(js)
	require.NoError(t, err)
	assert.True(t, c.Equal(back))
}

func TestCRS_Format(t *testing.T) {
	c := FromEPSG(3857)
	assert.Contains(t, c.ToWKT(), `PROJCS["WGS 84 / Pseudo-Mercator"`)
	assert.Equal(t, map[string]any{"name": "WGS 84 / Pseudo-Mercator", "type": "ProjectedCRS",
		"id": map[string]any{"authority": "EPSG", "code": 3857}}, c.ToJSON())
	assert.Equal(t, "GeographicCRS", DefaultCRS.ToJSON()["type"])
	assert.Equal(t, `CRS["EPSG:32618",AUTHORITY["EPSG","32618"]]`, FromEPSG(32618).ToWKT())
	assert.True(t, FromEPSG(4326).Equal(DefaultCRS))
	assert.False(t, FromEPSG(4326).Equal(FromEPSG(3857)))
	assert.True(t, CRS{}.IsZero())
}
