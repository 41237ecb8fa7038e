package table

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/go-pkgz/stringutils"

	"github.com/umputun/tablecrow/pkg/convert"
	"github.com/umputun/tablecrow/pkg/dialect"
	"github.com/umputun/tablecrow/pkg/geo"
	"github.com/umputun/tablecrow/pkg/predicate"
	"github.com/umputun/tablecrow/pkg/schema"
)

// Set stores record under the key, key values override the record's primary key fields
func (t *Table) Set(ctx context.Context, key any, rec schema.Record) error {
	where, err := t.keyPredicate(key)
	if err != nil {
		return err
	}
	merged := rec.Clone()
	for k, v := range where {
		merged[k] = v
	}
	return t.Insert(ctx, merged)
}

// Delete removes the record with the key, schema.ErrNotFound if there is none
func (t *Table) Delete(ctx context.Context, key any) error {
	where, err := t.keyPredicate(key)
	if err != nil {
		return err
	}
	n, err := t.DeleteWhere(ctx, where)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("no record with key %v in %s: %w", key, t, schema.ErrNotFound)
	}
	return nil
}

// DeleteWhere removes matching records and returns how many were removed.
// predicate.None empties the whole table.
func (t *Table) DeleteWhere(ctx context.Context, where predicate.Predicate) (int64, error) {
	if err := t.Ping(ctx); err != nil {
		return 0, err
	}
	args := dialect.NewArgs(t.d)
	clause, err := predicate.Compile(where, t.fields, t.d, t.crs, args)
	if err != nil {
		return 0, err
	}

	if clause == "" {
		n, err := count(ctx, t.db, t.d, t.name, "", args)
		if err != nil {
			return 0, err
		}
		if _, err := t.db.ExecContext(ctx, t.d.Truncate(t.name)); err != nil {
			return 0, fmt.Errorf("can't truncate %s: %w", t, err)
		}
		return n, nil
	}

	res, err := t.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE %s", t.d.Quote(t.name), clause), args.Values()...)
	if err != nil {
		return 0, fmt.Errorf("can't delete from %s: %w", t, t.d.Classify(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("can't get deleted count of %s: %w", t, err)
	}
	return n, nil
}

// Insert adds or updates records by primary key in one transaction. Every record must have all
// primary key fields. Existing records get only the fields present in the record updated.
// Fields unknown to the table are dropped with a warning.
func (t *Table) Insert(ctx context.Context, recs ...schema.Record) (err error) {
	if err := t.Ping(ctx); err != nil {
		return err
	}
	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("can't begin transaction on %s: %w", t, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, rec := range recs {
		if err = t.insertOne(ctx, tx, rec); err != nil {
			return err
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("can't commit insert to %s: %w", t, err)
	}
	return nil
}

func (t *Table) insertOne(ctx context.Context, q dialect.Querier, rec schema.Record) error {
	rec = t.known(rec)
	key, err := t.keyFromMap(rec)
	if err != nil {
		return err
	}

	args := dialect.NewArgs(t.d)
	keyClause, err := predicate.Compile(key, t.fields, t.d, t.crs, args)
	if err != nil {
		return err
	}
	n, err := count(ctx, q, t.d, t.name, keyClause, args)
	if err != nil {
		return err
	}

	var plain, geom schema.Fields
	for _, f := range t.fields {
		if _, ok := rec[f.Name]; !ok {
			continue
		}
		if f.Type.IsGeometry() {
			geom = append(geom, f)
			continue
		}
		plain = append(plain, f)
	}

	if n > 0 {
		if err := t.update(ctx, q, rec, key, t.nonKey(plain)); err != nil {
			return err
		}
	} else if err := t.insert(ctx, q, rec, plain); err != nil {
		return err
	}

	// geometry goes by a separate update once the row exists
	return t.updateGeometry(ctx, q, rec, key, geom)
}

func (t *Table) insert(ctx context.Context, q dialect.Querier, rec schema.Record, fields schema.Fields) error {
	args := dialect.NewArgs(t.d)
	params := make([]string, len(fields))
	for i, f := range fields {
		v, err := t.d.Encode(rec[f.Name], f.Type)
		if err != nil {
			return fmt.Errorf("can't encode field %q of %s: %w", f.Name, t, err)
		}
		params[i] = args.Add(v)
	}
	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", t.d.Quote(t.name),
		dialect.QuoteList(t.d, fields.Names()), strings.Join(params, ", "))
	if _, err := q.ExecContext(ctx, stmt, args.Values()...); err != nil {
		return fmt.Errorf("can't insert into %s: %w", t, t.d.Classify(err))
	}
	return nil
}

func (t *Table) update(ctx context.Context, q dialect.Querier, rec schema.Record, key predicate.Key, fields schema.Fields) error {
	if len(fields) == 0 {
		return nil
	}
	args := dialect.NewArgs(t.d)
	sets := make([]string, len(fields))
	for i, f := range fields {
		v, err := t.d.Encode(rec[f.Name], f.Type)
		if err != nil {
			return fmt.Errorf("can't encode field %q of %s: %w", f.Name, t, err)
		}
		sets[i] = t.d.Quote(f.Name) + " = " + args.Add(v)
	}
	return t.execUpdate(ctx, q, sets, key, args)
}

func (t *Table) updateGeometry(ctx context.Context, q dialect.Querier, rec schema.Record, key predicate.Key, fields schema.Fields) error {
	if len(fields) == 0 {
		return nil
	}
	args := dialect.NewArgs(t.d)
	sets := make([]string, len(fields))
	for i, f := range fields {
		v := rec[f.Name]
		if v == nil {
			sets[i] = t.d.Quote(f.Name) + " = NULL"
			continue
		}
		g, err := geometryValue(v, f.Type)
		if err != nil {
			return fmt.Errorf("can't use value of field %q of %s: %w", f.Name, t, err)
		}
		expr, err := predicate.GeometryExpr(g, t.crs, t.d, args)
		if err != nil {
			return fmt.Errorf("can't encode field %q of %s: %w", f.Name, t, err)
		}
		sets[i] = t.d.Quote(f.Name) + " = " + expr
	}
	return t.execUpdate(ctx, q, sets, key, args)
}

func (t *Table) execUpdate(ctx context.Context, q dialect.Querier, sets []string, key predicate.Key, args *dialect.Args) error {
	clause, err := predicate.Compile(key, t.fields, t.d, t.crs, args)
	if err != nil {
		return err
	}
	stmt := fmt.Sprintf("UPDATE %s SET %s WHERE %s", t.d.Quote(t.name), strings.Join(sets, ", "), clause)
	if _, err := q.ExecContext(ctx, stmt, args.Values()...); err != nil {
		return fmt.Errorf("can't update %s: %w", t, t.d.Classify(err))
	}
	return nil
}

// geometryValue checks geometry kind of the value, keeping the CRS of projected values
func geometryValue(v any, ft schema.FieldType) (any, error) {
	if p, ok := v.(geo.Projected); ok {
		g, err := geo.ParseAs(p.Geometry, ft.Kind)
		if err != nil {
			return nil, err
		}
		return geo.Projected{Geometry: g, CRS: p.CRS}, nil
	}
	return convert.Convert(v, ft)
}

// known drops fields missing from the schema with a warning
func (t *Table) known(rec schema.Record) schema.Record {
	var unknown []string
	res := make(schema.Record, len(rec))
	for k, v := range rec {
		if t.fields.Index(k) < 0 {
			unknown = append(unknown, k)
			continue
		}
		res[k] = v
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		t.log.Logf("[WARN] dropped fields unknown to %s: %s", t, strings.Join(unknown, ", "))
	}
	return res
}

func (t *Table) nonKey(fields schema.Fields) schema.Fields {
	var res schema.Fields
	for _, f := range fields {
		if !stringutils.Contains(f.Name, t.pk) {
			res = append(res, f)
		}
	}
	return res
}
