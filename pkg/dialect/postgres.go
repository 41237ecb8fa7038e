package dialect

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/lib/pq"
	"github.com/lib/pq/hstore"

	"github.com/umputun/tablecrow/pkg/convert"
	"github.com/umputun/tablecrow/pkg/schema"
)

// Postgres is the client-server dialect with PostGIS geometry, HSTORE dictionaries and native arrays
type Postgres struct{}

var postgresTypes = map[schema.Kind]string{
	schema.KindBool:     "BOOL",
	schema.KindFloat:    "REAL",
	schema.KindInt:      "INTEGER",
	schema.KindString:   "VARCHAR",
	schema.KindBytes:    "BYTEA",
	schema.KindDate:     "DATE",
	schema.KindDateTime: "TIMESTAMP",
	schema.KindDuration: "INTERVAL",
	schema.KindDict:     "HSTORE",
	schema.KindIP:       "INET",
	schema.KindEnum:     "VARCHAR",
}

// catalog type names (pg_type.typname) to kinds
var postgresNatives = map[string]schema.Kind{
	"bool": schema.KindBool, "float4": schema.KindFloat, "float8": schema.KindFloat, "numeric": schema.KindFloat,
	"int2": schema.KindInt, "int4": schema.KindInt, "int8": schema.KindInt,
	"varchar": schema.KindString, "text": schema.KindString, "bpchar": schema.KindString, "name": schema.KindString,
	"bytea": schema.KindBytes, "date": schema.KindDate, "timestamp": schema.KindDateTime, "timestamptz": schema.KindDateTime,
	"interval": schema.KindDuration, "hstore": schema.KindDict, "inet": schema.KindIP, "cidr": schema.KindIP,
	"geometry": schema.KindGeometry,
}

// Name of the dialect
func (Postgres) Name() string { return "postgres" }

// Driver name registered by lib/pq
func (Postgres) Driver() string { return "postgres" }

// Placeholder is "$n"
func (Postgres) Placeholder(n int) string { return "$" + strconv.Itoa(n) }

// Quote identifier with double quotes
func (Postgres) Quote(ident string) string { return quoteWith(ident, `"`) }

// ColumnType maps field type to postgres column type, arrays get one "[]" per dimension
func (Postgres) ColumnType(ft schema.FieldType) (string, error) {
	elem := ft.Element()
	var base string
	switch {
	case elem.IsGeometry():
		base = "GEOMETRY"
	default:
		t, ok := postgresTypes[elem.Kind]
		if !ok {
			return "", fmt.Errorf("postgres has no column type for %s: %w", ft, schema.ErrSchemaConflict)
		}
		base = t
	}
	if ft.IsArray() && elem.Kind == schema.KindDict {
		return "", fmt.Errorf("postgres doesn't support arrays of dictionaries: %w", schema.ErrUnsupported)
	}
	return base + strings.Repeat("[]", ft.Dims()), nil
}

// FieldType maps catalog type name and dimensions back to a field type
func (Postgres) FieldType(c Column) schema.FieldType {
	k, ok := postgresNatives[strings.ToLower(c.Native)]
	if !ok {
		k = schema.KindString
	}
	return wrapDims(schema.Scalar(k), c.Dims)
}

// SelectColumn returns expressions decodable without custom scanners:
// WKB for geometry, JSON for arrays and hstore, seconds for intervals and bare host for inet
func (d Postgres) SelectColumn(f schema.Field) string {
	col := d.Quote(f.Name)
	switch {
	case f.Type.IsArray():
		return fmt.Sprintf("to_json(%s) AS %s", col, col)
	case f.Type.IsGeometry():
		return fmt.Sprintf("ST_AsBinary(%s) AS %s", col, col)
	case f.Type.Kind == schema.KindDict:
		return fmt.Sprintf("hstore_to_json(%s) AS %s", col, col)
	case f.Type.Kind == schema.KindDuration:
		return fmt.Sprintf("EXTRACT(EPOCH FROM %s) AS %s", col, col)
	case f.Type.Kind == schema.KindIP:
		return fmt.Sprintf("host(%s) AS %s", col, col)
	}
	return col
}

// Encode converts value to a lib/pq parameter, arrays become postgres array literals and dictionaries hstore
func (Postgres) Encode(v any, ft schema.FieldType) (any, error) {
	wire, err := convert.Serialize(v, ft)
	if err != nil || wire == nil {
		return nil, err
	}
	switch {
	case ft.IsArray():
		return pgArray(wire, ft.Dims())
	case ft.Kind == schema.KindDict:
		m := wire.(map[string]string)
		h := hstore.Hstore{Map: make(map[string]sql.NullString, len(m))}
		for k, val := range m {
			h.Map[k] = sql.NullString{String: val, Valid: true}
		}
		return h, nil
	}
	return wire, nil
}

// pgArray builds nested []sql.NullString of the given depth, encoded by pq.GenericArray as array literal
func pgArray(v any, dims int) (driver.Valuer, error) {
	t := reflect.TypeOf(sql.NullString{})
	for i := 0; i < dims; i++ {
		t = reflect.SliceOf(t)
	}
	rv, err := fillArray(v, t)
	if err != nil {
		return nil, err
	}
	return pq.GenericArray{A: rv.Interface()}, nil
}

func fillArray(v any, t reflect.Type) (reflect.Value, error) {
	if t.Kind() != reflect.Slice {
		if v == nil {
			return reflect.ValueOf(sql.NullString{}), nil
		}
		return reflect.ValueOf(sql.NullString{String: convert.ToString(v), Valid: true}), nil
	}
	items, ok := v.([]any)
	if !ok {
		return reflect.Value{}, fmt.Errorf("array dimension mismatch at %v: %w", v, schema.ErrConversion)
	}
	res := reflect.MakeSlice(t, len(items), len(items))
	for i, item := range items {
		ev, err := fillArray(item, t.Elem())
		if err != nil {
			return reflect.Value{}, err
		}
		res.Index(i).Set(ev)
	}
	return res, nil
}

// Decode converts driver value back to typed value
func (Postgres) Decode(raw any, ft schema.FieldType) (any, error) {
	return convert.Deserialize(raw, ft)
}

// GeomFromText builds PostGIS geometry from WKT and SRID parameters
func (Postgres) GeomFromText(wkt, srid string) string {
	return fmt.Sprintf("ST_GeomFromText(%s, %s)", wkt, srid)
}

// Transform reprojects geometry expression
func (Postgres) Transform(expr, srid string) string {
	return fmt.Sprintf("ST_Transform(%s, %s)", expr, srid)
}

// Intersects tests two geometry expressions
func (Postgres) Intersects(a, b string) string { return fmt.Sprintf("ST_Intersects(%s, %s)", a, b) }

// GeometryEquals uses PostGIS exact equality operator
func (Postgres) GeometryEquals(col, expr string) string { return col + " = " + expr }

// Like uses native case-insensitive match
func (Postgres) Like(col, param string) string { return col + " ILIKE " + param }

// LikeValue keeps pattern as is
func (Postgres) LikeValue(s string) string { return s }

// ArrayContains matches a scalar against any array element
func (Postgres) ArrayContains(col, param string) (string, error) {
	return fmt.Sprintf("%s = ANY(%s)", param, col), nil
}

// ArrayEquals compares whole array, parameter cast to the remote element type with all dimensions
func (d Postgres) ArrayEquals(f schema.Field, col, param string) (string, error) {
	cast := f.Native
	if cast == "" {
		ct, err := d.ColumnType(f.Type.Element())
		if err != nil {
			return "", err
		}
		cast = ct
	}
	return fmt.Sprintf("%s = %s::%s%s", col, param, cast, strings.Repeat("[]", f.Type.Dims())), nil
}

// TableExists checks pg_class in the current schema
func (Postgres) TableExists(ctx context.Context, q Querier, table string) (bool, error) {
	var exists bool
	err := q.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM pg_catalog.pg_class c
		JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
		WHERE c.relname = $1 AND n.nspname = current_schema() AND c.relkind IN ('r', 'p'))`, table).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("can't check table %q: %w", table, err)
	}
	return exists, nil
}

// Columns reads pg_attribute, array types are reported by element type name with dimensions
func (Postgres) Columns(ctx context.Context, q Querier, table string) ([]Column, error) {
	rows, err := q.QueryContext(ctx, `SELECT a.attname, t.typname, a.attndims
		FROM pg_catalog.pg_attribute a
		JOIN pg_catalog.pg_type t ON t.oid = a.atttypid
		JOIN pg_catalog.pg_class c ON c.oid = a.attrelid
		JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
		WHERE c.relname = $1 AND n.nspname = current_schema() AND a.attnum > 0 AND NOT a.attisdropped
		ORDER BY a.attnum`, table)
	if err != nil {
		return nil, fmt.Errorf("can't get columns of %q: %w", table, err)
	}
	defer rows.Close()

	var res []Column
	for rows.Next() {
		var c Column
		if err := rows.Scan(&c.Name, &c.Native, &c.Dims); err != nil {
			return nil, fmt.Errorf("can't scan column of %q: %w", table, err)
		}
		if strings.HasPrefix(c.Native, "_") {
			c.Native = c.Native[1:]
			c.Dims = max(c.Dims, 1)
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

// Tables lists tables of the current schema
func (Postgres) Tables(ctx context.Context, q Querier) ([]string, error) {
	rows, err := q.QueryContext(ctx, `SELECT tablename FROM pg_catalog.pg_tables
		WHERE schemaname = current_schema() ORDER BY tablename`)
	if err != nil {
		return nil, fmt.Errorf("can't list tables: %w", err)
	}
	return scanStrings(rows)
}

// Inherited reports whether the table is a parent or a child in table inheritance
func (Postgres) Inherited(ctx context.Context, q Querier, table string) (bool, error) {
	var inherited bool
	err := q.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM pg_catalog.pg_inherits i
		JOIN pg_catalog.pg_class c ON c.oid = i.inhrelid OR c.oid = i.inhparent
		JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
		WHERE c.relname = $1 AND n.nspname = current_schema())`, table).Scan(&inherited)
	if err != nil {
		return false, fmt.Errorf("can't check inheritance of %q: %w", table, err)
	}
	return inherited, nil
}

// CheckExtensions verifies postgis and hstore are installed when fields need them
func (Postgres) CheckExtensions(ctx context.Context, q Querier, fields schema.Fields) error {
	needed := map[string]string{}
	for _, f := range fields {
		switch elem := f.Type.Element(); {
		case elem.IsGeometry():
			needed["postgis"] = f.Name
		case elem.Kind == schema.KindDict:
			needed["hstore"] = f.Name
		}
	}
	for _, ext := range []string{"postgis", "hstore"} {
		field, ok := needed[ext]
		if !ok {
			continue
		}
		var installed bool
		if err := q.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM pg_catalog.pg_extension WHERE extname = $1)",
			ext).Scan(&installed); err != nil {
			return fmt.Errorf("can't check extension %q: %w", ext, err)
		}
		if !installed {
			return fmt.Errorf("extension %q is not installed, required by field %q: %w", ext, field, schema.ErrUnsupported)
		}
	}
	return nil
}

// Truncate empties the table
func (d Postgres) Truncate(table string) string { return "TRUNCATE TABLE " + d.Quote(table) }

// Grant gives data privileges on the table to role. Table name is unqualified and resolves via search_path,
// the same schema current_schema() reports for lookups.
func (d Postgres) Grant(table, role string) string {
	return fmt.Sprintf("GRANT INSERT, SELECT, UPDATE, DELETE ON TABLE %s TO %s", d.Quote(table), d.Quote(role))
}

// TransactionalDDL is true, postgres runs DDL inside transactions
func (Postgres) TransactionalDDL() bool { return true }

// Classify maps syntax and undefined column errors to ErrInvalidPredicate and connection class errors to ErrConnection
func (Postgres) Classify(err error) error {
	var pqErr *pq.Error
	if err == nil || !errors.As(err, &pqErr) {
		return err
	}
	switch {
	case pqErr.Code == "42601", pqErr.Code == "42703", pqErr.Code == "42883":
		return invalidPredicate(err)
	case pqErr.Code.Class() == "08":
		return fmt.Errorf("%w: %w", schema.ErrConnection, err)
	}
	return err
}
