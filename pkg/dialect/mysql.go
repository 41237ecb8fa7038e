package dialect

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"

	"github.com/umputun/tablecrow/pkg/convert"
	"github.com/umputun/tablecrow/pkg/schema"
)

// MySQL is the client-server dialect for MySQL 8 with native spatial types and JSON dictionaries.
// MySQL commits DDL implicitly, so migrations can't be wrapped in a transaction.
type MySQL struct{}

var mysqlTypes = map[schema.Kind]string{
	schema.KindBool:     "BOOLEAN",
	schema.KindFloat:    "DOUBLE",
	schema.KindInt:      "BIGINT",
	schema.KindString:   "VARCHAR(255)",
	schema.KindBytes:    "BLOB",
	schema.KindDate:     "DATE",
	schema.KindDateTime: "DATETIME(6)",
	schema.KindDuration: "TIME(6)",
	schema.KindIP:       "VARCHAR(45)",
	schema.KindDict:     "JSON",
	schema.KindEnum:     "VARCHAR(255)",
}

// axis order option keeps x as longitude for geographic SRIDs
const mysqlAxisOrder = "'axis-order=long-lat'"

// Name of the dialect
func (MySQL) Name() string { return "mysql" }

// Driver name registered by go-sql-driver/mysql
func (MySQL) Driver() string { return "mysql" }

// Placeholder is always "?"
func (MySQL) Placeholder(int) string { return "?" }

// Quote identifier with backticks
func (MySQL) Quote(ident string) string { return quoteWith(ident, "`") }

// ColumnType maps field type to mysql column type
func (MySQL) ColumnType(ft schema.FieldType) (string, error) {
	switch {
	case ft.IsArray():
		return "", fmt.Errorf("mysql doesn't support array type %s: %w", ft, schema.ErrUnsupported)
	case ft.IsGeometry():
		return strings.ToUpper(ft.Kind.String()), nil
	}
	if t, ok := mysqlTypes[ft.Kind]; ok {
		return t, nil
	}
	return "", fmt.Errorf("mysql has no column type for %s: %w", ft, schema.ErrSchemaConflict)
}

// FieldType maps COLUMN_TYPE back to a field type
func (MySQL) FieldType(c Column) schema.FieldType {
	native := strings.ToLower(strings.TrimSpace(c.Native))
	base := native
	if i := strings.IndexAny(base, "( "); i > 0 {
		base = base[:i]
	}
	switch {
	case native == "tinyint(1)", base == "boolean", base == "bool":
		return schema.Bool
	case strings.HasSuffix(base, "int"):
		return schema.Int
	case base == "double", base == "float", base == "decimal", base == "real":
		return schema.Float
	case base == "blob", base == "longblob", base == "mediumblob", base == "varbinary", base == "binary":
		return schema.Bytes
	case base == "date":
		return schema.Date
	case base == "datetime", base == "timestamp":
		return schema.DateTime
	case base == "time":
		return schema.Duration
	case base == "json":
		return schema.Dict
	}
	if ft, err := schema.ParseType(base); err == nil && ft.IsGeometry() {
		return ft
	}
	return schema.String
}

// SelectColumn returns WKB for geometry and seconds for time columns
func (d MySQL) SelectColumn(f schema.Field) string {
	col := d.Quote(f.Name)
	switch {
	case f.Type.IsGeometry():
		return fmt.Sprintf("ST_AsBinary(%s, %s) AS %s", col, mysqlAxisOrder, col)
	case f.Type.Kind == schema.KindDuration:
		return fmt.Sprintf("TIME_TO_SEC(%s) AS %s", col, col)
	}
	return col
}

// Encode converts value to a mysql driver parameter, dictionaries become JSON text
func (MySQL) Encode(v any, ft schema.FieldType) (any, error) {
	if ft.IsArray() {
		return nil, fmt.Errorf("mysql can't store %s: %w", ft, schema.ErrUnsupported)
	}
	wire, err := convert.Serialize(v, ft)
	if err != nil || wire == nil {
		return nil, err
	}
	if ft.Kind == schema.KindDict {
		data, err := json.Marshal(wire)
		if err != nil {
			return nil, fmt.Errorf("can't encode dictionary: %w", err)
		}
		return string(data), nil
	}
	return wire, nil
}

// Decode converts driver value back to typed value
func (MySQL) Decode(raw any, ft schema.FieldType) (any, error) {
	return convert.Deserialize(raw, ft)
}

// GeomFromText builds geometry from WKT and SRID parameters with long-lat axis order
func (MySQL) GeomFromText(wkt, srid string) string {
	return fmt.Sprintf("ST_GeomFromText(%s, %s, %s)", wkt, srid, mysqlAxisOrder)
}

// Transform reprojects geometry expression
func (MySQL) Transform(expr, srid string) string {
	return fmt.Sprintf("ST_Transform(%s, %s)", expr, srid)
}

// Intersects tests two geometry expressions
func (MySQL) Intersects(a, b string) string { return fmt.Sprintf("ST_Intersects(%s, %s)", a, b) }

// GeometryEquals uses spatial equality, binary comparison of geometry columns is not meaningful in mysql
func (MySQL) GeometryEquals(col, expr string) string {
	return fmt.Sprintf("ST_Equals(%s, %s)", col, expr)
}

// Like relies on case-insensitive default collation
func (MySQL) Like(col, param string) string { return col + " LIKE " + param }

// LikeValue keeps pattern as is
func (MySQL) LikeValue(s string) string { return s }

// ArrayContains is not supported
func (MySQL) ArrayContains(string, string) (string, error) {
	return "", fmt.Errorf("mysql has no array columns: %w", schema.ErrUnsupported)
}

// ArrayEquals is not supported
func (MySQL) ArrayEquals(schema.Field, string, string) (string, error) {
	return "", fmt.Errorf("mysql has no array columns: %w", schema.ErrUnsupported)
}

// TableExists checks information_schema of the current database
func (MySQL) TableExists(ctx context.Context, q Querier, table string) (bool, error) {
	var count int
	err := q.QueryRowContext(ctx, "SELECT COUNT(*) FROM information_schema.TABLES WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = ?",
		table).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("can't check table %q: %w", table, err)
	}
	return count > 0, nil
}

// Columns reads information_schema columns in ordinal order
func (MySQL) Columns(ctx context.Context, q Querier, table string) ([]Column, error) {
	rows, err := q.QueryContext(ctx, `SELECT COLUMN_NAME, COLUMN_TYPE FROM information_schema.COLUMNS
		WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = ? ORDER BY ORDINAL_POSITION`, table)
	if err != nil {
		return nil, fmt.Errorf("can't get columns of %q: %w", table, err)
	}
	defer rows.Close()

	var res []Column
	for rows.Next() {
		var c Column
		if err := rows.Scan(&c.Name, &c.Native); err != nil {
			return nil, fmt.Errorf("can't scan column of %q: %w", table, err)
		}
		c.Native = strings.ToLower(c.Native)
		res = append(res, c)
	}
	return res, rows.Err()
}

// Tables lists tables of the current database
func (MySQL) Tables(ctx context.Context, q Querier) ([]string, error) {
	rows, err := q.QueryContext(ctx, `SELECT TABLE_NAME FROM information_schema.TABLES
		WHERE TABLE_SCHEMA = DATABASE() AND TABLE_TYPE = 'BASE TABLE' ORDER BY TABLE_NAME`)
	if err != nil {
		return nil, fmt.Errorf("can't list tables: %w", err)
	}
	return scanStrings(rows)
}

// Inherited is always false, mysql has no table inheritance
func (MySQL) Inherited(context.Context, Querier, string) (bool, error) { return false, nil }

// CheckExtensions is a no-op, spatial and JSON types are built in
func (MySQL) CheckExtensions(context.Context, Querier, schema.Fields) error { return nil }

// Truncate empties the table
func (d MySQL) Truncate(table string) string { return "TRUNCATE TABLE " + d.Quote(table) }

// Grant is not supported, mysql privileges are managed per user outside of tables
func (MySQL) Grant(string, string) string { return "" }

// TransactionalDDL is false, DDL statements commit implicitly
func (MySQL) TransactionalDDL() bool { return false }

// Classify maps parse and unknown column errors to ErrInvalidPredicate
func (MySQL) Classify(err error) error {
	var myErr *mysql.MySQLError
	if err == nil || !errors.As(err, &myErr) {
		return err
	}
	switch myErr.Number {
	case 1064, 1054:
		return invalidPredicate(err)
	}
	return err
}
