// Package geo provides geometry parsing, serialization, intersection and reprojection
// on top of orb geometries, plus coordinate reference system handling.
package geo

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/ewkb"
	"github.com/paulmach/orb/encoding/wkb"
	"github.com/paulmach/orb/encoding/wkt"
	"github.com/paulmach/orb/geojson"

	"github.com/umputun/tablecrow/pkg/schema"
)

// Projected is a geometry tagged with its CRS, used when a query geometry is not in the table CRS
type Projected struct {
	Geometry orb.Geometry
	CRS      CRS
}

// KindOf returns field kind matching the geometry type
func KindOf(g orb.Geometry) schema.Kind {
	switch g.(type) {
	case orb.Point:
		return schema.KindPoint
	case orb.LineString:
		return schema.KindLineString
	case orb.Polygon, orb.Ring, orb.Bound:
		return schema.KindPolygon
	case orb.MultiPoint:
		return schema.KindMultiPoint
	case orb.MultiLineString:
		return schema.KindMultiLineString
	case orb.MultiPolygon:
		return schema.KindMultiPolygon
	case nil:
		return schema.KindInvalid
	default:
		return schema.KindGeometry
	}
}

// Parse makes geometry from WKB hex, WKT, raw WKB, GeoJSON or coordinate arrays, in this order
func Parse(v any) (orb.Geometry, error) {
	return ParseAs(v, schema.KindGeometry)
}

// ParseAs parses v and checks the result is of the requested kind. The generic geometry kind accepts any.
// Coordinate arrays are shaped by the requested kind, i.e. a list of pairs is a MultiPoint when kind is MultiPoint.
func ParseAs(v any, kind schema.Kind) (orb.Geometry, error) {
	g, err := parse(v, kind)
	if err != nil {
		return nil, err
	}
	g = normalize(g)
	if kind != schema.KindGeometry && KindOf(g) != kind {
		return nil, fmt.Errorf("can't cast %s to %s: %w", KindOf(g), kind, schema.ErrUnsupported)
	}
	return g, nil
}

func parse(v any, kind schema.Kind) (orb.Geometry, error) {
	switch val := v.(type) {
	case nil:
		return nil, errors.New("nil geometry")
	case Projected:
		return val.Geometry, nil
	case orb.Geometry:
		return val, nil
	case string:
		return parseText([]byte(val))
	case []byte:
		return parseText(val)
	case map[string]any:
		data, err := json.Marshal(val)
		if err != nil {
			return nil, fmt.Errorf("can't encode geojson: %w", err)
		}
		return parseGeoJSON(data)
	case []float64, []any, [][]float64, [][][]float64:
		return fromCoordinates(val, kind)
	}
	return nil, fmt.Errorf("can't make geometry from %T", v)
}

// parseText tries hex WKB, WKT, raw WKB and GeoJSON
func parseText(data []byte) (orb.Geometry, error) {
	s := strings.TrimSpace(string(data))
	if raw, err := hex.DecodeString(s); err == nil && len(raw) > 0 {
		if g, err := FromWKB(raw); err == nil {
			return g, nil
		}
	}
	if g, err := wkt.Unmarshal(s); err == nil {
		return g, nil
	}
	if g, err := FromWKB(data); err == nil {
		return g, nil
	}
	if g, err := parseGeoJSON([]byte(s)); err == nil {
		return g, nil
	}
	return nil, fmt.Errorf("can't parse geometry from %q", truncate(s, 64))
}

func parseGeoJSON(data []byte) (orb.Geometry, error) {
	gj, err := geojson.UnmarshalGeometry(data)
	if err != nil {
		return nil, fmt.Errorf("can't parse geojson: %w", err)
	}
	if gj.Geometry() == nil {
		return nil, errors.New("empty geojson geometry")
	}
	return gj.Geometry(), nil
}

// FromWKB decodes WKB, accepting the EWKB flavour with embedded SRID
func FromWKB(data []byte) (orb.Geometry, error) {
	if g, err := wkb.Unmarshal(data); err == nil {
		return g, nil
	}
	g, _, err := ewkb.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("can't decode wkb: %w", err)
	}
	return g, nil
}

// ToWKB encodes geometry as little-endian WKB
func ToWKB(g orb.Geometry) ([]byte, error) {
	res, err := wkb.Marshal(g)
	if err != nil {
		return nil, fmt.Errorf("can't encode wkb: %w", err)
	}
	return res, nil
}

// ToWKT encodes geometry as WKT
func ToWKT(g orb.Geometry) string { return wkt.MarshalString(g) }

// normalize turns rings and bounds into polygons
func normalize(g orb.Geometry) orb.Geometry {
	switch val := g.(type) {
	case orb.Ring:
		return orb.Polygon{val}
	case orb.Bound:
		return val.ToPolygon()
	}
	return g
}

func fromCoordinates(v any, kind schema.Kind) (orb.Geometry, error) {
	nested, depth, err := coordinates(v)
	if err != nil {
		return nil, err
	}
	switch depth {
	case 1:
		return toPoint(nested)
	case 2:
		pts, err := toPoints(nested)
		if err != nil {
			return nil, err
		}
		if kind == schema.KindMultiPoint {
			return orb.MultiPoint(pts), nil
		}
		return orb.LineString(pts), nil
	case 3:
		lines := make([][]orb.Point, 0, len(nested.([]any)))
		for _, l := range nested.([]any) {
			pts, err := toPoints(l)
			if err != nil {
				return nil, err
			}
			lines = append(lines, pts)
		}
		if kind == schema.KindMultiLineString {
			mls := make(orb.MultiLineString, len(lines))
			for i, l := range lines {
				mls[i] = l
			}
			return mls, nil
		}
		poly := make(orb.Polygon, len(lines))
		for i, l := range lines {
			poly[i] = l
		}
		return poly, nil
	case 4:
		mp := orb.MultiPolygon{}
		for _, p := range nested.([]any) {
			g, err := fromCoordinates(p, schema.KindPolygon)
			if err != nil {
				return nil, err
			}
			mp = append(mp, g.(orb.Polygon))
		}
		return mp, nil
	}
	return nil, fmt.Errorf("unsupported coordinates nesting %d", depth)
}

// coordinates normalizes typed and untyped coordinate arrays to nested []any and returns nesting depth
func coordinates(v any) (any, int, error) {
	switch val := v.(type) {
	case []float64:
		res := make([]any, len(val))
		for i, f := range val {
			res[i] = f
		}
		return res, 1, nil
	case [][]float64:
		res := make([]any, len(val))
		for i, p := range val {
			res[i], _, _ = coordinates(p)
		}
		return res, 2, nil
	case [][][]float64:
		res := make([]any, len(val))
		for i, p := range val {
			res[i], _, _ = coordinates(p)
		}
		return res, 3, nil
	case []any:
		if len(val) == 0 {
			return nil, 0, errors.New("empty coordinates")
		}
		if _, ok := toFloat(val[0]); ok {
			return val, 1, nil
		}
		res := make([]any, len(val))
		depth := 0
		for i, item := range val {
			nested, d, err := coordinates(item)
			if err != nil {
				return nil, 0, err
			}
			res[i], depth = nested, d+1
		}
		return res, depth, nil
	}
	return nil, 0, fmt.Errorf("invalid coordinates %T", v)
}

func toPoint(v any) (orb.Point, error) {
	vals, ok := v.([]any)
	if !ok || len(vals) < 2 {
		return orb.Point{}, fmt.Errorf("invalid point coordinates %v", v)
	}
	x, okx := toFloat(vals[0])
	y, oky := toFloat(vals[1])
	if !okx || !oky {
		return orb.Point{}, fmt.Errorf("invalid point coordinates %v", v)
	}
	return orb.Point{x, y}, nil
}

func toPoints(v any) ([]orb.Point, error) {
	vals, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("invalid coordinates %v", v)
	}
	res := make([]orb.Point, 0, len(vals))
	for _, p := range vals {
		pt, err := toPoint(p)
		if err != nil {
			return nil, err
		}
		res = append(res, pt)
	}
	return res, nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
