package dialect

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"modernc.org/sqlite"

	"github.com/umputun/tablecrow/pkg/convert"
	"github.com/umputun/tablecrow/pkg/schema"
)

// SQLite is the embedded single-file dialect. Arrays and dictionaries are not supported,
// geometry is stored as EWKB blobs handled by the spatial functions registered in this package.
type SQLite struct{}

var sqliteTypes = map[schema.Kind]string{
	schema.KindBool:     "BOOLEAN",
	schema.KindFloat:    "REAL",
	schema.KindInt:      "INTEGER",
	schema.KindString:   "TEXT",
	schema.KindDate:     "DATE",
	schema.KindDateTime: "DATETIME",
	schema.KindBytes:    "BLOB",
	schema.KindEnum:     "TEXT",
}

// Name of the dialect
func (SQLite) Name() string { return "sqlite" }

// Driver name registered by modernc.org/sqlite
func (SQLite) Driver() string { return "sqlite" }

// Placeholder is always "?"
func (SQLite) Placeholder(int) string { return "?" }

// Quote identifier with double quotes
func (SQLite) Quote(ident string) string { return quoteWith(ident, `"`) }

// ColumnType maps field type to sqlite column type
func (SQLite) ColumnType(ft schema.FieldType) (string, error) {
	switch {
	case ft.IsArray():
		return "", fmt.Errorf("sqlite doesn't support array type %s: %w", ft, schema.ErrUnsupported)
	case ft.Kind == schema.KindDict:
		return "", fmt.Errorf("sqlite doesn't support dictionary type: %w", schema.ErrUnsupported)
	case ft.IsGeometry():
		return strings.ToUpper(ft.Kind.String()), nil
	}
	if t, ok := sqliteTypes[ft.Kind]; ok {
		return t, nil
	}
	return "", fmt.Errorf("sqlite has no column type for %s: %w", ft, schema.ErrSchemaConflict)
}

// FieldType maps declared sqlite column type back to a field type, following sqlite affinity rules for unknown names
func (SQLite) FieldType(c Column) schema.FieldType {
	native := strings.ToUpper(strings.TrimSpace(c.Native))
	for k, t := range sqliteTypes {
		if native == t && k != schema.KindEnum {
			return schema.Scalar(k)
		}
	}
	if ft, err := schema.ParseType(native); err == nil && ft.IsGeometry() {
		return ft
	}
	switch {
	case strings.Contains(native, "INT"):
		return schema.Int
	case strings.Contains(native, "BOOL"):
		return schema.Bool
	case strings.Contains(native, "REAL"), strings.Contains(native, "FLOA"), strings.Contains(native, "DOUB"):
		return schema.Float
	case strings.Contains(native, "TIMESTAMP"):
		return schema.DateTime
	case strings.Contains(native, "BLOB"):
		return schema.Bytes
	}
	return schema.String
}

// SelectColumn returns geometry as WKB
func (d SQLite) SelectColumn(f schema.Field) string {
	if f.Type.IsGeometry() {
		return fmt.Sprintf("AsBinary(%s) AS %s", d.Quote(f.Name), d.Quote(f.Name))
	}
	return d.Quote(f.Name)
}

// Encode converts value to what modernc driver stores for the column type
func (SQLite) Encode(v any, ft schema.FieldType) (any, error) {
	if ft.IsArray() || ft.Kind == schema.KindDict {
		return nil, fmt.Errorf("sqlite can't store %s: %w", ft, schema.ErrUnsupported)
	}
	return convert.Serialize(v, ft)
}

// Decode converts driver value back to typed value
func (SQLite) Decode(raw any, ft schema.FieldType) (any, error) {
	return convert.Deserialize(raw, ft)
}

// GeomFromText builds geometry from WKT and SRID parameters
func (SQLite) GeomFromText(wkt, srid string) string {
	return fmt.Sprintf("GeomFromText(%s, %s)", wkt, srid)
}

// Transform reprojects geometry expression
func (SQLite) Transform(expr, srid string) string {
	return fmt.Sprintf("Transform(%s, %s)", expr, srid)
}

// Intersects tests two geometry expressions
func (SQLite) Intersects(a, b string) string { return fmt.Sprintf("Intersects(%s, %s)", a, b) }

// GeometryEquals compares encoded geometries
func (SQLite) GeometryEquals(col, expr string) string { return col + " = " + expr }

// Like folds case explicitly, sqlite LIKE is case-insensitive for ASCII only
func (SQLite) Like(col, param string) string { return fmt.Sprintf("UPPER(%s) LIKE %s", col, param) }

// LikeValue upper-cases pattern to match the folded column
func (SQLite) LikeValue(s string) string { return strings.ToUpper(s) }

// ArrayContains is not supported
func (SQLite) ArrayContains(string, string) (string, error) {
	return "", fmt.Errorf("sqlite has no array columns: %w", schema.ErrUnsupported)
}

// ArrayEquals is not supported
func (SQLite) ArrayEquals(schema.Field, string, string) (string, error) {
	return "", fmt.Errorf("sqlite has no array columns: %w", schema.ErrUnsupported)
}

// TableExists checks sqlite_master
func (SQLite) TableExists(ctx context.Context, q Querier, table string) (bool, error) {
	var count int
	err := q.QueryRowContext(ctx, "SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", table).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("can't check table %q: %w", table, err)
	}
	return count > 0, nil
}

// Columns reads table_info pragma
func (d SQLite) Columns(ctx context.Context, q Querier, table string) ([]Column, error) {
	rows, err := q.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", d.Quote(table)))
	if err != nil {
		return nil, fmt.Errorf("can't get columns of %q: %w", table, err)
	}
	defer rows.Close()

	var res []Column
	for rows.Next() {
		var (
			cid, notNull, pk int
			name, typ        string
			dflt             sql.NullString
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dflt, &pk); err != nil {
			return nil, fmt.Errorf("can't scan column of %q: %w", table, err)
		}
		res = append(res, Column{Name: name, Native: strings.ToLower(typ)})
	}
	return res, rows.Err()
}

// Tables lists user tables
func (SQLite) Tables(ctx context.Context, q Querier) ([]string, error) {
	rows, err := q.QueryContext(ctx, "SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("can't list tables: %w", err)
	}
	return scanStrings(rows)
}

// Inherited is always false, sqlite has no table inheritance
func (SQLite) Inherited(context.Context, Querier, string) (bool, error) { return false, nil }

// CheckExtensions is a no-op, spatial functions are built in
func (SQLite) CheckExtensions(context.Context, Querier, schema.Fields) error { return nil }

// Truncate deletes all rows, sqlite has no TRUNCATE
func (d SQLite) Truncate(table string) string { return "DELETE FROM " + d.Quote(table) }

// Grant is not supported
func (SQLite) Grant(string, string) string { return "" }

// TransactionalDDL is true, sqlite schema changes are transactional
func (SQLite) TransactionalDDL() bool { return true }

// Classify maps sqlite syntax and unknown column errors to ErrInvalidPredicate
func (SQLite) Classify(err error) error {
	var se *sqlite.Error
	if err == nil || !errors.As(err, &se) {
		return err
	}
	msg := se.Error()
	if strings.Contains(msg, "syntax error") || strings.Contains(msg, "no such column") ||
		strings.Contains(msg, "unrecognized token") || strings.Contains(msg, "incomplete input") {
		return invalidPredicate(err)
	}
	return err
}
