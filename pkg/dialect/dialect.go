// Package dialect isolates everything backend specific: placeholders, identifier quoting, column type tables,
// spatial function names, catalog introspection, wire encoding of values and classification of engine errors.
// Supported dialects are sqlite (modernc.org/sqlite), postgres (lib/pq with PostGIS) and mysql (go-sql-driver/mysql).
package dialect

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/umputun/tablecrow/pkg/schema"
)

// Querier is implemented by *sql.DB, *sql.Conn and *sql.Tx
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Column is a column of an existing table as reported by the database catalog
type Column struct {
	Name   string
	Native string // native element type name, lower-cased
	Dims   int    // array dimensions, zero for scalars
}

// Dialect generates backend specific SQL and converts values to and from the driver representation
type Dialect interface {
	Name() string
	Driver() string
	Placeholder(n int) string
	Quote(ident string) string

	ColumnType(ft schema.FieldType) (string, error)
	FieldType(c Column) schema.FieldType
	SelectColumn(f schema.Field) string
	Encode(v any, ft schema.FieldType) (any, error)
	Decode(raw any, ft schema.FieldType) (any, error)

	GeomFromText(wkt, srid string) string
	Transform(expr, srid string) string
	Intersects(a, b string) string
	GeometryEquals(col, expr string) string
	Like(col, param string) string
	LikeValue(s string) string
	ArrayContains(col, param string) (string, error)
	ArrayEquals(f schema.Field, col, param string) (string, error)

	TableExists(ctx context.Context, q Querier, table string) (bool, error)
	Columns(ctx context.Context, q Querier, table string) ([]Column, error)
	Tables(ctx context.Context, q Querier) ([]string, error)
	Inherited(ctx context.Context, q Querier, table string) (bool, error)
	CheckExtensions(ctx context.Context, q Querier, fields schema.Fields) error

	Truncate(table string) string
	Grant(table, role string) string
	TransactionalDDL() bool
	Classify(err error) error
}

// New returns dialect by name
func New(name string) (Dialect, error) {
	switch strings.ToLower(name) {
	case "sqlite", "sqlite3":
		return SQLite{}, nil
	case "postgres", "postgresql", "pg":
		return Postgres{}, nil
	case "mysql", "mariadb":
		return MySQL{}, nil
	}
	return nil, fmt.Errorf("unknown dialect %q: %w", name, schema.ErrUnsupported)
}

// Args collects bound parameters and hands out placeholders in the dialect syntax
type Args struct {
	d    Dialect
	vals []any
}

// NewArgs makes empty Args for the dialect
func NewArgs(d Dialect) *Args { return &Args{d: d} }

// Add appends a parameter and returns its placeholder
func (a *Args) Add(v any) string {
	a.vals = append(a.vals, v)
	return a.d.Placeholder(len(a.vals))
}

// Values returns collected parameters
func (a *Args) Values() []any { return a.vals }

// Len returns number of collected parameters
func (a *Args) Len() int { return len(a.vals) }

// RenameTable returns rename statement, the same for all supported backends
func RenameTable(d Dialect, from, to string) string {
	return fmt.Sprintf("ALTER TABLE %s RENAME TO %s", d.Quote(from), d.Quote(to))
}

// DropTable returns drop statement
func DropTable(d Dialect, table string, ifExists bool) string {
	if ifExists {
		return "DROP TABLE IF EXISTS " + d.Quote(table)
	}
	return "DROP TABLE " + d.Quote(table)
}

// QuoteList quotes and comma-joins identifiers
func QuoteList(d Dialect, names []string) string {
	res := make([]string, len(names))
	for i, n := range names {
		res[i] = d.Quote(n)
	}
	return strings.Join(res, ", ")
}

func quoteWith(ident, q string) string {
	return q + strings.ReplaceAll(ident, q, q+q) + q
}

// scanStrings reads single-column string rows
func scanStrings(rows *sql.Rows) ([]string, error) {
	defer rows.Close()
	var res []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("can't scan row: %w", err)
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// wrapDims appends array dimensions to a field type
func wrapDims(ft schema.FieldType, dims int) schema.FieldType {
	for i := 0; i < dims; i++ {
		ft = schema.Array(ft)
	}
	return ft
}

// invalidPredicate marks engine error as predicate problem keeping the original error in chain
func invalidPredicate(err error) error {
	return fmt.Errorf("%w: %w", schema.ErrInvalidPredicate, err)
}
