package geo

import (
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"

	"github.com/umputun/tablecrow/pkg/schema"
)

// Reproject transforms geometry between coordinate systems.
// Only WGS 84 (4326) and Web Mercator (3857) are supported, other pairs fail with ErrUnsupported.
func Reproject(g orb.Geometry, from, to CRS) (orb.Geometry, error) {
	src, err := from.SRID()
	if err != nil {
		return nil, err
	}
	dst, err := to.SRID()
	if err != nil {
		return nil, err
	}
	if src == dst {
		return g, nil
	}

	var proj orb.Projection
	switch {
	case src == 4326 && dst == 3857:
		proj = project.WGS84.ToMercator
	case src == 3857 && dst == 4326:
		proj = project.Mercator.ToWGS84
	default:
		return nil, fmt.Errorf("can't reproject from %s to %s: %w", from, to, schema.ErrUnsupported)
	}
	return project.Geometry(orb.Clone(g), proj), nil
}
