package dialect

import (
	"database/sql/driver"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/ewkb"
	"modernc.org/sqlite"

	"github.com/umputun/tablecrow/pkg/geo"
)

// spatial SQL functions for sqlite, named after their spatialite counterparts.
// Geometries are kept as EWKB blobs with the SRID embedded.
func init() {
	sqlite.MustRegisterDeterministicScalarFunction("GeomFromText", 2, sqlGeomFromText)
	sqlite.MustRegisterDeterministicScalarFunction("AsBinary", 1, sqlAsBinary)
	sqlite.MustRegisterDeterministicScalarFunction("AsText", 1, sqlAsText)
	sqlite.MustRegisterDeterministicScalarFunction("Intersects", 2, sqlIntersects)
	sqlite.MustRegisterDeterministicScalarFunction("Transform", 2, sqlTransform)
	sqlite.MustRegisterDeterministicScalarFunction("SRID", 1, sqlSRID)
}

func sqlGeomFromText(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	if args[0] == nil {
		return nil, nil
	}
	g, err := geo.Parse(args[0])
	if err != nil {
		return nil, fmt.Errorf("GeomFromText: %w", err)
	}
	srid, _ := args[1].(int64)
	return ewkb.Marshal(g, int(srid))
}

func sqlAsBinary(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	g, _, err := blobGeometry(args[0])
	if err != nil || g == nil {
		return nil, err
	}
	return geo.ToWKB(g)
}

func sqlAsText(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	g, _, err := blobGeometry(args[0])
	if err != nil || g == nil {
		return nil, err
	}
	return geo.ToWKT(g), nil
}

func sqlIntersects(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	a, _, err := blobGeometry(args[0])
	if err != nil {
		return nil, err
	}
	b, _, err := blobGeometry(args[1])
	if err != nil {
		return nil, err
	}
	if a == nil || b == nil {
		return nil, nil
	}
	if geo.Intersects(a, b) {
		return int64(1), nil
	}
	return int64(0), nil
}

func sqlTransform(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	g, src, err := blobGeometry(args[0])
	if err != nil || g == nil {
		return nil, err
	}
	dst, ok := args[1].(int64)
	if !ok {
		return nil, fmt.Errorf("Transform: invalid srid %v", args[1])
	}
	if src != 0 && src != int(dst) {
		if g, err = geo.Reproject(g, geo.FromEPSG(src), geo.FromEPSG(int(dst))); err != nil {
			return nil, fmt.Errorf("Transform: %w", err)
		}
	}
	return ewkb.Marshal(g, int(dst))
}

func sqlSRID(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	g, srid, err := blobGeometry(args[0])
	if err != nil || g == nil {
		return nil, err
	}
	return int64(srid), nil
}

// blobGeometry decodes EWKB blob, nil value gives nil geometry
func blobGeometry(v driver.Value) (orb.Geometry, int, error) {
	switch val := v.(type) {
	case nil:
		return nil, 0, nil
	case []byte:
		g, srid, err := ewkb.Unmarshal(val)
		if err != nil {
			return nil, 0, fmt.Errorf("invalid geometry blob: %w", err)
		}
		return g, srid, nil
	case string:
		g, err := geo.Parse(val)
		return g, 0, err
	}
	return nil, 0, fmt.Errorf("invalid geometry value %T", v)
}
