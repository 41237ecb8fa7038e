// Package predicate compiles backend-agnostic record filters into parameterized SQL fragments.
// A mapping predicate picks the operator by the shape of each value: geometry gives spatial equality,
// array columns match by membership or exact array equality, nil gives IS NULL, sequences give IN,
// strings with '%' give a case-insensitive pattern match, anything else is plain equality.
// Raw clauses are passed to the engine as is, without parameters, and must come from trusted callers.
package predicate

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/paulmach/orb"

	"github.com/umputun/tablecrow/pkg/dialect"
	"github.com/umputun/tablecrow/pkg/geo"
	"github.com/umputun/tablecrow/pkg/schema"
)

// Predicate is one of None, Equalities, Key, RawClause or RawClauseList
type Predicate interface {
	predicate()
}

// None matches all rows
type None struct{}

// Equalities maps field names to values, terms are AND-joined
type Equalities map[string]any

// Key maps primary key fields to exact values. Unlike Equalities, strings with '%' and sequences
// are compared as is, never as patterns or sets.
type Key map[string]any

// RawClause is a backend-native clause used verbatim
type RawClause string

// RawClauseList is a list of backend-native clauses, AND-joined verbatim
type RawClauseList []string

func (None) predicate()          {}
func (Equalities) predicate()    {}
func (Key) predicate()           {}
func (RawClause) predicate()     {}
func (RawClauseList) predicate() {}

// Wildcard marks a pattern-match value
const Wildcard = "%"

// Compile returns WHERE clause text without the WHERE keyword, empty for predicates matching all rows.
// Bound values are appended to args, so the clause can follow other parameters of the same statement.
// crs is the table CRS used for geometry terms.
func Compile(p Predicate, fields schema.Fields, d dialect.Dialect, crs geo.CRS, args *dialect.Args) (string, error) {
	switch pr := p.(type) {
	case nil, None:
		return "", nil
	case RawClause:
		return strings.TrimSpace(string(pr)), nil
	case RawClauseList:
		return strings.Join(pr, " AND "), nil
	case Equalities:
		return compileEqualities(pr, fields, d, crs, args)
	case Key:
		return compileKey(pr, fields, d, crs, args)
	}
	return "", fmt.Errorf("unknown predicate %T: %w", p, schema.ErrInvalidPredicate)
}

func compileEqualities(eq Equalities, fields schema.Fields, d dialect.Dialect, crs geo.CRS, args *dialect.Args) (string, error) {
	if err := checkNames(eq, fields); err != nil {
		return "", err
	}
	terms := make([]string, 0, len(eq))
	for _, f := range fields {
		v, ok := eq[f.Name]
		if !ok {
			continue
		}
		term, err := compileTerm(f, v, d, crs, args)
		if err != nil {
			return "", fmt.Errorf("can't compile term for %q: %w", f.Name, err)
		}
		terms = append(terms, term)
	}
	return strings.Join(terms, " AND "), nil
}

func compileKey(key Key, fields schema.Fields, d dialect.Dialect, crs geo.CRS, args *dialect.Args) (string, error) {
	if len(key) == 0 {
		return "", fmt.Errorf("empty key: %w", schema.ErrMissingKey)
	}
	if err := checkNames(Equalities(key), fields); err != nil {
		return "", err
	}
	terms := make([]string, 0, len(key))
	for _, f := range fields {
		v, ok := key[f.Name]
		if !ok {
			continue
		}
		term, err := compileKeyTerm(f, v, d, crs, args)
		if err != nil {
			return "", fmt.Errorf("can't compile key term for %q: %w", f.Name, err)
		}
		terms = append(terms, term)
	}
	return strings.Join(terms, " AND "), nil
}

func compileKeyTerm(f schema.Field, v any, d dialect.Dialect, crs geo.CRS, args *dialect.Args) (string, error) {
	col := d.Quote(f.Name)
	switch {
	case v == nil:
		return col + " IS NULL", nil
	case f.Type.IsGeometry() || IsGeometry(v):
		expr, err := GeometryExpr(v, crs, d, args)
		if err != nil {
			return "", err
		}
		return d.GeometryEquals(col, expr), nil
	case f.Type.IsArray():
		val, err := d.Encode(v, f.Type)
		if err != nil {
			return "", err
		}
		return d.ArrayEquals(f, col, args.Add(val))
	}
	val, err := d.Encode(v, f.Type)
	if err != nil {
		return "", err
	}
	return col + " = " + args.Add(val), nil
}

// checkNames rejects fields missing from the schema
func checkNames(eq Equalities, fields schema.Fields) error {
	var unknown []string
	for name := range eq {
		if fields.Index(name) < 0 {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) == 0 {
		return nil
	}
	sort.Strings(unknown)
	return fmt.Errorf("%w: unknown fields %s, table fields are %v: %w", schema.ErrInvalidPredicate,
		strings.Join(unknown, ", "), fields.Names(), schema.ErrNotFound)
}

func compileTerm(f schema.Field, v any, d dialect.Dialect, crs geo.CRS, args *dialect.Args) (string, error) {
	col := d.Quote(f.Name)

	if IsGeometry(v) || (f.Type.IsGeometry() && v != nil) {
		expr, err := GeometryExpr(v, crs, d, args)
		if err != nil {
			return "", err
		}
		return d.GeometryEquals(col, expr), nil
	}

	if f.Type.IsArray() && v != nil {
		if _, ok := Sequence(v); ok {
			val, err := d.Encode(v, f.Type)
			if err != nil {
				return "", err
			}
			return d.ArrayEquals(f, col, args.Add(val))
		}
		val, err := d.Encode(v, f.Type.Element())
		if err != nil {
			return "", err
		}
		return d.ArrayContains(col, args.Add(val))
	}

	if v == nil {
		return col + " IS NULL", nil
	}

	if items, ok := Sequence(v); ok {
		if len(items) == 0 {
			return "1 = 0", nil
		}
		params := make([]string, len(items))
		for i, item := range items {
			val, err := d.Encode(item, f.Type)
			if err != nil {
				return "", err
			}
			params[i] = args.Add(val)
		}
		return fmt.Sprintf("%s IN (%s)", col, strings.Join(params, ", ")), nil
	}

	if s, ok := v.(string); ok && strings.Contains(s, Wildcard) {
		return d.Like(col, args.Add(d.LikeValue(s))), nil
	}

	val, err := d.Encode(v, f.Type)
	if err != nil {
		return "", err
	}
	return col + " = " + args.Add(val), nil
}

// Intersecting builds a clause matching rows where any of the named geometry fields intersects g.
// Empty names selects all geometry fields. g may be geo.Projected to carry its own CRS,
// otherwise queryCRS applies, and a zero queryCRS means the table CRS.
func Intersecting(g any, queryCRS geo.CRS, names []string, fields schema.Fields, tableCRS geo.CRS,
	d dialect.Dialect, args *dialect.Args) (string, error) {
	targets, err := geometryFields(names, fields)
	if err != nil {
		return "", err
	}
	if p, ok := g.(geo.Projected); ok && p.CRS.IsZero() && !queryCRS.IsZero() {
		g = geo.Projected{Geometry: p.Geometry, CRS: queryCRS}
	} else if !ok && !queryCRS.IsZero() {
		geom, err := geo.Parse(g)
		if err != nil {
			return "", fmt.Errorf("can't parse query geometry: %w", err)
		}
		g = geo.Projected{Geometry: geom, CRS: queryCRS}
	}

	terms := make([]string, len(targets))
	for i, f := range targets {
		expr, err := GeometryExpr(g, tableCRS, d, args)
		if err != nil {
			return "", err
		}
		terms[i] = d.Intersects(d.Quote(f.Name), expr)
	}
	if len(terms) == 1 {
		return terms[0], nil
	}
	return "(" + strings.Join(terms, " OR ") + ")", nil
}

func geometryFields(names []string, fields schema.Fields) (schema.Fields, error) {
	if len(names) == 0 {
		res := fields.Geometry()
		if len(res) == 0 {
			return nil, fmt.Errorf("table has no geometry fields: %w", schema.ErrUnsupported)
		}
		return res, nil
	}
	res := make(schema.Fields, 0, len(names))
	for _, name := range names {
		f, ok := fields.Get(name)
		if !ok {
			return nil, fmt.Errorf("%w: unknown field %q: %w", schema.ErrInvalidPredicate, name, schema.ErrNotFound)
		}
		if !f.Type.IsGeometry() {
			return nil, fmt.Errorf("field %q is %s, not a geometry: %w", name, f.Type, schema.ErrUnsupported)
		}
		res = append(res, f)
	}
	return res, nil
}

// GeometryExpr returns SQL expression building geometry v in the table CRS.
// Values carrying another CRS are wrapped in the dialect transform function.
func GeometryExpr(v any, tableCRS geo.CRS, d dialect.Dialect, args *dialect.Args) (string, error) {
	srcCRS := tableCRS
	if p, ok := v.(geo.Projected); ok && !p.CRS.IsZero() {
		srcCRS = p.CRS
	}
	g, err := geo.Parse(v)
	if err != nil {
		return "", fmt.Errorf("can't use %T as geometry: %w", v, err)
	}
	srcSRID, err := srcCRS.SRID()
	if err != nil {
		return "", fmt.Errorf("can't get srid of %s: %w", srcCRS, err)
	}
	expr := d.GeomFromText(args.Add(geo.ToWKT(g)), args.Add(int64(srcSRID)))
	if srcCRS.Equal(tableCRS) {
		return expr, nil
	}
	dstSRID, err := tableCRS.SRID()
	if err != nil {
		return "", fmt.Errorf("can't get srid of %s: %w", tableCRS, err)
	}
	if dstSRID == srcSRID {
		return expr, nil
	}
	return d.Transform(expr, args.Add(int64(dstSRID))), nil
}

// IsGeometry reports whether v is a geometry value
func IsGeometry(v any) bool {
	switch v.(type) {
	case orb.Geometry, geo.Projected:
		return true
	}
	return false
}

// Sequence returns elements of a slice or array value. Strings, byte slices and geometries are not sequences.
func Sequence(v any) ([]any, bool) {
	switch val := v.(type) {
	case nil, string, []byte, orb.Geometry, geo.Projected:
		return nil, false
	case []any:
		return val, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	res := make([]any, rv.Len())
	for i := range res {
		res[i] = rv.Index(i).Interface()
	}
	return res, true
}
