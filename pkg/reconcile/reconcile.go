// Package reconcile converges a remote table to a declared field set. A missing table is created,
// an existing one is introspected, and when declared fields are absent remotely the table is migrated
// by copy: rename to old_<name>, create with the effective schema, copy rows, drop the old table.
// Remote schema wins for fields present on both sides, declared-only fields are appended at the end.
package reconcile

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/go-pkgz/lgr"
	"github.com/go-pkgz/stringutils"

	"github.com/umputun/tablecrow/pkg/dialect"
	"github.com/umputun/tablecrow/pkg/schema"
)

// OldPrefix is prepended to the table name while it is being migrated
const OldPrefix = "old_"

// DB is a database able to run queries and start transactions, implemented by *sql.DB
type DB interface {
	dialect.Querier
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// Reconciler creates and migrates tables of one database
type Reconciler struct {
	DB      DB
	Dialect dialect.Dialect
	Users   []string // roles granted data privileges on created tables
	Logger  lgr.L
}

// Result of Ensure
type Result struct {
	Fields       schema.Fields // effective fields
	Created      bool
	Migrated     bool
	RemoteOnly   []string
	DeclaredOnly []string
	Statements   []string // executed DDL, empty when the table was already converged
}

// Diff is the comparison of remote and declared fields
type Diff struct {
	Fields       schema.Fields
	RemoteOnly   []string
	DeclaredOnly []string
}

// NeedsMigration reports whether declared fields are missing from the remote table
func (d Diff) NeedsMigration() bool { return len(d.DeclaredOnly) > 0 }

// Plan compares remote and declared fields. The effective order is the remote order
// with declared-only fields appended. Types of remote fields win, except geometry columns take
// the declared geometry kind and text columns take the declared enumeration.
func Plan(remote, declared schema.Fields) Diff {
	remoteNames, declaredNames := remote.Names(), declared.Names()
	res := Diff{
		RemoteOnly:   stringutils.Difference(remoteNames, declaredNames),
		DeclaredOnly: stringutils.Difference(declaredNames, remoteNames),
	}
	for _, name := range stringutils.Union(remoteNames, declaredNames) {
		rf, isRemote := remote.Get(name)
		df, isDeclared := declared.Get(name)
		switch {
		case !isRemote:
			res.Fields = append(res.Fields, df)
		case isDeclared && rf.Type.IsGeometry() && df.Type.IsGeometry():
			res.Fields = append(res.Fields, schema.Field{Name: name, Type: df.Type, Native: rf.Native})
		case isDeclared && rf.Type.Kind == schema.KindString && df.Type.Kind == schema.KindEnum:
			res.Fields = append(res.Fields, schema.Field{Name: name, Type: df.Type, Native: rf.Native})
		default:
			res.Fields = append(res.Fields, rf)
		}
	}
	return res
}

// Ensure makes sure the table exists and has every declared field, returning the effective fields.
// Nil declared fields adopt the remote schema as is, the table must exist then.
// Empty pk means the first declared field.
func (r *Reconciler) Ensure(ctx context.Context, table string, declared schema.Fields, pk []string) (Result, error) {
	log := r.Logger
	if log == nil {
		log = lgr.NoOp
	}
	d := r.Dialect

	// default primary key is the first declared field, not the first remote one
	if len(pk) == 0 && len(declared) > 0 {
		pk = []string{declared[0].Name}
	}

	exists, err := d.TableExists(ctx, r.DB, table)
	if err != nil {
		return Result{}, fmt.Errorf("can't check table %s: %w", table, err)
	}

	if !exists {
		if len(declared) == 0 {
			return Result{}, fmt.Errorf("table %s doesn't exist and no fields declared: %w", table, schema.ErrNotFound)
		}
		if err := d.CheckExtensions(ctx, r.DB, declared); err != nil {
			return Result{}, err
		}
		stmts, err := r.createStatements(table, declared, pk)
		if err != nil {
			return Result{}, err
		}
		if err := r.exec(ctx, stmts); err != nil {
			return Result{}, fmt.Errorf("can't create table %s: %w", table, err)
		}
		log.Logf("[INFO] created table %s with fields %s", table, declared)
		return Result{Fields: declared, Created: true, Statements: stmts}, nil
	}

	inherited, err := d.Inherited(ctx, r.DB, table)
	if err != nil {
		return Result{}, err
	}
	if inherited {
		return Result{}, fmt.Errorf("table %s takes part in table inheritance, writes would be ambiguous: %w",
			table, schema.ErrUnsafeInheritance)
	}

	remote, err := r.RemoteFields(ctx, table)
	if err != nil {
		return Result{}, err
	}
	if len(declared) == 0 {
		log.Logf("[DEBUG] adopted remote schema of %s: %s", table, remote)
		return Result{Fields: remote}, nil
	}

	diff := Plan(remote, declared)
	if len(diff.RemoteOnly) > 0 {
		log.Logf("[WARN] %d remote fields of %s are not declared: %s", len(diff.RemoteOnly), table,
			strings.Join(diff.RemoteOnly, ", "))
	}
	if len(diff.DeclaredOnly) > 0 {
		log.Logf("[WARN] %d declared fields are missing in %s: %s", len(diff.DeclaredOnly), table,
			strings.Join(diff.DeclaredOnly, ", "))
	}
	if err := d.CheckExtensions(ctx, r.DB, diff.Fields); err != nil {
		return Result{}, err
	}

	res := Result{Fields: diff.Fields, RemoteOnly: diff.RemoteOnly, DeclaredOnly: diff.DeclaredOnly}
	if !diff.NeedsMigration() {
		return res, nil
	}

	stmts, err := r.migrateStatements(table, remote, diff.Fields, pk)
	if err != nil {
		return Result{}, err
	}
	if !d.TransactionalDDL() {
		log.Logf("[WARN] %s commits DDL implicitly, migration of %s is not atomic", d.Name(), table)
	}
	if err := r.exec(ctx, stmts); err != nil {
		return Result{}, fmt.Errorf("can't migrate table %s: %w", table, err)
	}
	log.Logf("[INFO] migrated table %s, added fields %s", table, strings.Join(diff.DeclaredOnly, ", "))
	res.Migrated, res.Statements = true, stmts
	return res, nil
}

// RemoteFields introspects columns of an existing table
func (r *Reconciler) RemoteFields(ctx context.Context, table string) (schema.Fields, error) {
	cols, err := r.Dialect.Columns(ctx, r.DB, table)
	if err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("table %s has no columns: %w", table, schema.ErrSchemaConflict)
	}
	res := make(schema.Fields, len(cols))
	for i, c := range cols {
		res[i] = schema.Field{Name: c.Name, Type: r.Dialect.FieldType(c), Native: c.Native}
	}
	return res, nil
}

func (r *Reconciler) createStatements(table string, fields schema.Fields, pk []string) ([]string, error) {
	create, err := CreateTableSQL(r.Dialect, table, fields, pk)
	if err != nil {
		return nil, err
	}
	return append([]string{create}, r.grantStatements(table)...), nil
}

func (r *Reconciler) migrateStatements(table string, remote, effective schema.Fields, pk []string) ([]string, error) {
	d := r.Dialect
	old := OldPrefix + table
	create, err := CreateTableSQL(d, table, effective, pk)
	if err != nil {
		return nil, err
	}
	cols := dialect.QuoteList(d, remote.Names())
	stmts := []string{dialect.DropTable(d, old, true), dialect.RenameTable(d, table, old), create}
	stmts = append(stmts, r.grantStatements(table)...)
	return append(stmts,
		fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s", d.Quote(table), cols, cols, d.Quote(old)),
		dialect.DropTable(d, old, false),
	), nil
}

func (r *Reconciler) grantStatements(table string) []string {
	var res []string
	for _, u := range r.Users {
		if g := r.Dialect.Grant(table, u); g != "" {
			res = append(res, g)
		}
	}
	return res
}

// exec runs statements in one transaction when the dialect supports transactional DDL
func (r *Reconciler) exec(ctx context.Context, stmts []string) (err error) {
	if !r.Dialect.TransactionalDDL() {
		for _, s := range stmts {
			if _, err := r.DB.ExecContext(ctx, s); err != nil {
				return fmt.Errorf("can't execute %q: %w", s, err)
			}
		}
		return nil
	}

	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("can't begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	for _, s := range stmts {
		if _, err = tx.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("can't execute %q: %w", s, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("can't commit: %w", err)
	}
	return nil
}

// CreateTableSQL returns CREATE TABLE statement with a primary key constraint.
// Fields introspected from a remote table keep their native column type.
func CreateTableSQL(d dialect.Dialect, table string, fields schema.Fields, pk []string) (string, error) {
	if err := fields.Validate(); err != nil {
		return "", err
	}
	keys, err := fields.PrimaryKey(pk)
	if err != nil {
		return "", err
	}
	defs := make([]string, 0, len(fields)+1)
	for _, f := range fields {
		ct, err := columnType(d, f)
		if err != nil {
			return "", fmt.Errorf("can't create field %q: %w", f.Name, err)
		}
		defs = append(defs, d.Quote(f.Name)+" "+ct)
	}
	defs = append(defs, fmt.Sprintf("PRIMARY KEY (%s)", dialect.QuoteList(d, keys)))
	return fmt.Sprintf("CREATE TABLE %s (%s)", d.Quote(table), strings.Join(defs, ", ")), nil
}

func columnType(d dialect.Dialect, f schema.Field) (string, error) {
	if f.Native != "" {
		return f.Native + strings.Repeat("[]", f.Type.Dims()), nil
	}
	return d.ColumnType(f.Type)
}
