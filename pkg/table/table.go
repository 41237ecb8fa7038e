// Package table provides record access to a remote SQL table with a declared schema.
// New reconciles the remote table with the declared fields and returns a handle with the final,
// immutable effective schema. All data operations check the connection first and
// report a failure as schema.ErrConnection naming the database location and the table.
// A Table is not safe for concurrent use, open one handle per goroutine instead.
package table

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/go-pkgz/lgr"

	"github.com/umputun/tablecrow/pkg/dialect"
	"github.com/umputun/tablecrow/pkg/geo"
	"github.com/umputun/tablecrow/pkg/reconcile"
	"github.com/umputun/tablecrow/pkg/schema"
)

// Conn is an open database connection owned by the table
type Conn interface {
	DB() *sql.DB
	Dialect() dialect.Dialect
	Location() string // user@host:port/db, used in error messages
	Close() error
}

// Options for New
type Options struct {
	Name       string
	Fields     schema.Fields // nil adopts the schema of an existing remote table
	PrimaryKey []string      // defaults to the first field
	CRS        geo.CRS       // CRS of geometry fields, EPSG:4326 if not set
	Users      []string      // roles granted data privileges on created or migrated table
	Logger     lgr.L
	StrictKeys bool // fail with schema.ErrDuplicateKey if a key matches several rows
}

// Table is a handle of a remote table
type Table struct {
	conn   Conn
	db     *sql.DB
	d      dialect.Dialect
	name   string
	fields schema.Fields
	pk     []string
	crs    geo.CRS
	strict bool
	log    lgr.L
}

// New connects the table to conn, creating or migrating the remote table as needed.
// The table owns conn and closes it on Close.
func New(ctx context.Context, conn Conn, opts Options) (*Table, error) {
	if opts.Name == "" {
		return nil, fmt.Errorf("table name is required: %w", schema.ErrSchemaConflict)
	}
	res := &Table{
		conn:   conn,
		db:     conn.DB(),
		d:      conn.Dialect(),
		name:   opts.Name,
		crs:    opts.CRS,
		strict: opts.StrictKeys,
		log:    opts.Logger,
	}
	if res.log == nil {
		res.log = lgr.NoOp
	}

	if err := res.Ping(ctx); err != nil {
		return nil, err
	}

	// primary key is resolved against declared fields, effective ones may come in remote order
	pk := opts.PrimaryKey
	if opts.Fields != nil {
		if err := opts.Fields.Validate(); err != nil {
			return nil, err
		}
		var err error
		if pk, err = opts.Fields.PrimaryKey(opts.PrimaryKey); err != nil {
			return nil, err
		}
	}

	rec := &reconcile.Reconciler{DB: res.db, Dialect: res.d, Users: opts.Users, Logger: res.log}
	rr, err := rec.Ensure(ctx, res.name, opts.Fields, pk)
	if err != nil {
		return nil, fmt.Errorf("can't reconcile table %s: %w", res, err)
	}
	res.fields = rr.Fields
	if res.pk, err = res.fields.PrimaryKey(pk); err != nil {
		return nil, err
	}

	// CRS matters only for geometry fields, tables without them keep a zero one
	if len(res.fields.Geometry()) > 0 {
		if res.crs.IsZero() {
			res.crs = geo.DefaultCRS
			res.log.Logf("[WARN] no CRS set for geometry fields of %s, using %s", res.name, res.crs)
		}
		if _, err := res.crs.SRID(); err != nil {
			return nil, fmt.Errorf("can't use crs %s for table %s: %w", res.crs, res.name, err)
		}
	}

	res.log.Logf("[DEBUG] opened table %s, fields %s, primary key %v", res, res.fields, res.pk)
	return res, nil
}

// Name of the table
func (t *Table) Name() string { return t.name }

// Fields returns a copy of the effective fields
func (t *Table) Fields() schema.Fields { return append(schema.Fields(nil), t.fields...) }

// PrimaryKey returns a copy of primary key field names
func (t *Table) PrimaryKey() []string { return append([]string(nil), t.pk...) }

// CRS of geometry fields
func (t *Table) CRS() geo.CRS { return t.crs }

// Dialect of the connection
func (t *Table) Dialect() dialect.Dialect { return t.d }

// String returns location/table
func (t *Table) String() string { return t.conn.Location() + "/" + t.name }

// Ping checks the connection with a trivial query
func (t *Table) Ping(ctx context.Context) error {
	var one int
	if err := t.db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("can't reach %s: %w: %w", t, schema.ErrConnection, err)
	}
	return nil
}

// Connected reports whether the database answers
func (t *Table) Connected(ctx context.Context) bool { return t.Ping(ctx) == nil }

// Exists reports whether the remote table exists
func (t *Table) Exists(ctx context.Context) (bool, error) {
	return t.d.TableExists(ctx, t.db, t.name)
}

// Drop removes the remote table
func (t *Table) Drop(ctx context.Context) error {
	if err := t.Ping(ctx); err != nil {
		return err
	}
	if _, err := t.db.ExecContext(ctx, dialect.DropTable(t.d, t.name, false)); err != nil {
		return fmt.Errorf("can't drop %s: %w", t, err)
	}
	t.log.Logf("[INFO] dropped table %s", t)
	return nil
}

// Close releases the connection and the tunnel it uses, if any
func (t *Table) Close() error {
	if err := t.conn.Close(); err != nil {
		return fmt.Errorf("can't close %s: %w", t, err)
	}
	return nil
}
