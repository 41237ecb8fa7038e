package geo

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

type segment struct{ a, b orb.Point }

// parts is a geometry decomposed into vertices, edges and areas
type parts struct {
	points   []orb.Point
	segments []segment
	polygons []orb.Polygon
}

// Intersects reports whether two planar geometries share at least one point.
// Boundaries count, so touching geometries intersect.
func Intersects(a, b orb.Geometry) bool {
	if a == nil || b == nil {
		return false
	}
	pa, pb := decompose(normalize(a)), decompose(normalize(b))

	if anyInside(pa.points, pb.polygons) || anyInside(pb.points, pa.polygons) {
		return true
	}
	for _, p := range pa.points {
		for _, q := range pb.points {
			if p.Equal(q) {
				return true
			}
		}
		for _, s := range pb.segments {
			if onSegment(s.a, p, s.b) && orientation(s.a, s.b, p) == 0 {
				return true
			}
		}
	}
	for _, q := range pb.points {
		for _, s := range pa.segments {
			if onSegment(s.a, q, s.b) && orientation(s.a, s.b, q) == 0 {
				return true
			}
		}
	}
	for _, s := range pa.segments {
		for _, t := range pb.segments {
			if segmentsIntersect(s, t) {
				return true
			}
		}
	}
	return false
}

func anyInside(points []orb.Point, polygons []orb.Polygon) bool {
	for _, poly := range polygons {
		for _, p := range points {
			if planar.PolygonContains(poly, p) {
				return true
			}
		}
	}
	return false
}

func decompose(g orb.Geometry) parts {
	var res parts
	addLine := func(pts []orb.Point) {
		res.points = append(res.points, pts...)
		for i := 1; i < len(pts); i++ {
			res.segments = append(res.segments, segment{pts[i-1], pts[i]})
		}
	}
	switch val := g.(type) {
	case orb.Point:
		res.points = append(res.points, val)
	case orb.MultiPoint:
		res.points = append(res.points, val...)
	case orb.LineString:
		addLine(val)
	case orb.MultiLineString:
		for _, ls := range val {
			addLine(ls)
		}
	case orb.Polygon:
		res.polygons = append(res.polygons, val)
		for _, r := range val {
			addLine(r)
		}
	case orb.MultiPolygon:
		for _, p := range val {
			res.polygons = append(res.polygons, p)
			for _, r := range p {
				addLine(r)
			}
		}
	case orb.Collection:
		for _, item := range val {
			sub := decompose(normalize(item))
			res.points = append(res.points, sub.points...)
			res.segments = append(res.segments, sub.segments...)
			res.polygons = append(res.polygons, sub.polygons...)
		}
	}
	return res
}

func segmentsIntersect(s, t segment) bool {
	o1 := orientation(s.a, s.b, t.a)
	o2 := orientation(s.a, s.b, t.b)
	o3 := orientation(t.a, t.b, s.a)
	o4 := orientation(t.a, t.b, s.b)

	if o1 != o2 && o3 != o4 {
		return true
	}
	switch {
	case o1 == 0 && onSegment(s.a, t.a, s.b):
		return true
	case o2 == 0 && onSegment(s.a, t.b, s.b):
		return true
	case o3 == 0 && onSegment(t.a, s.a, t.b):
		return true
	case o4 == 0 && onSegment(t.a, s.b, t.b):
		return true
	}
	return false
}

// orientation of ordered triplet: 0 collinear, 1 clockwise, 2 counterclockwise
func orientation(p, q, r orb.Point) int {
	v := (q[1]-p[1])*(r[0]-q[0]) - (q[0]-p[0])*(r[1]-q[1])
	if math.Abs(v) < 1e-12 {
		return 0
	}
	if v > 0 {
		return 1
	}
	return 2
}

// onSegment checks q lies within the bounding box of segment pr
func onSegment(p, q, r orb.Point) bool {
	return q[0] <= math.Max(p[0], r[0]) && q[0] >= math.Min(p[0], r[0]) &&
		q[1] <= math.Max(p[1], r[1]) && q[1] >= math.Min(p[1], r[1])
}
