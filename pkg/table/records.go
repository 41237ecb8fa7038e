package table

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/umputun/tablecrow/pkg/dialect"
	"github.com/umputun/tablecrow/pkg/geo"
	"github.com/umputun/tablecrow/pkg/predicate"
	"github.com/umputun/tablecrow/pkg/schema"
)

// Get returns the record with the given key. The key is a scalar for a single-field primary key,
// a slice with one value per primary key field in order, or a map holding every primary key field.
func (t *Table) Get(ctx context.Context, key any) (schema.Record, error) {
	where, err := t.keyPredicate(key)
	if err != nil {
		return nil, err
	}
	recs, err := t.RecordsWhere(ctx, where)
	if err != nil {
		return nil, err
	}
	switch {
	case len(recs) == 0:
		return nil, fmt.Errorf("no record with key %v in %s: %w", key, t, schema.ErrNotFound)
	case len(recs) > 1 && t.strict:
		return nil, fmt.Errorf("%d records with key %v in %s: %w", len(recs), key, t, schema.ErrDuplicateKey)
	case len(recs) > 1:
		t.log.Logf("[WARN] duplicate primary key %v in %s, %d records match, using the first one", key, t, len(recs))
	}
	return recs[0], nil
}

// Contains reports whether a record with the key exists
func (t *Table) Contains(ctx context.Context, key any) (bool, error) {
	where, err := t.keyPredicate(key)
	if err != nil {
		return false, err
	}
	n, err := t.CountWhere(ctx, where)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Count returns number of records
func (t *Table) Count(ctx context.Context) (int64, error) {
	return t.CountWhere(ctx, predicate.None{})
}

// Records returns all records
func (t *Table) Records(ctx context.Context) ([]schema.Record, error) {
	return t.RecordsWhere(ctx, predicate.None{})
}

// RecordsWhere returns records matching the predicate, every record has all effective fields
func (t *Table) RecordsWhere(ctx context.Context, where predicate.Predicate) ([]schema.Record, error) {
	if err := t.Ping(ctx); err != nil {
		return nil, err
	}
	args := dialect.NewArgs(t.d)
	clause, err := predicate.Compile(where, t.fields, t.d, t.crs, args)
	if err != nil {
		return nil, err
	}
	return t.query(ctx, clause, args)
}

// RecordsIntersecting returns records where any of the named geometry fields intersects g,
// all geometry fields are checked if none named. A zero crs means g is in the table CRS.
func (t *Table) RecordsIntersecting(ctx context.Context, g any, crs geo.CRS, fields ...string) ([]schema.Record, error) {
	if err := t.Ping(ctx); err != nil {
		return nil, err
	}
	args := dialect.NewArgs(t.d)
	clause, err := predicate.Intersecting(g, crs, fields, t.fields, t.crs, t.d, args)
	if err != nil {
		return nil, err
	}
	return t.query(ctx, clause, args)
}

func (t *Table) query(ctx context.Context, clause string, args *dialect.Args) ([]schema.Record, error) {
	cols := make([]string, len(t.fields))
	for i, f := range t.fields {
		cols[i] = t.d.SelectColumn(f)
	}
	q := fmt.Sprintf("SELECT %s FROM %s", strings.Join(cols, ", "), t.d.Quote(t.name))
	if clause != "" {
		q += " WHERE " + clause
	}

	rows, err := t.db.QueryContext(ctx, q, args.Values()...)
	if err != nil {
		return nil, fmt.Errorf("can't query %s: %w", t, t.d.Classify(err))
	}
	defer rows.Close()

	var res []schema.Record
	raw := make([]any, len(t.fields))
	ptrs := make([]any, len(t.fields))
	for i := range raw {
		ptrs[i] = &raw[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("can't scan record of %s: %w", t, err)
		}
		rec := make(schema.Record, len(t.fields))
		for i, f := range t.fields {
			v, err := t.d.Decode(raw[i], f.Type)
			if err != nil {
				return nil, fmt.Errorf("can't decode field %q of %s: %w", f.Name, t, err)
			}
			rec[f.Name] = v
		}
		res = append(res, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("can't read records of %s: %w", t, t.d.Classify(err))
	}
	return res, nil
}

// CountWhere returns number of records matching the predicate
func (t *Table) CountWhere(ctx context.Context, where predicate.Predicate) (int64, error) {
	if err := t.Ping(ctx); err != nil {
		return 0, err
	}
	args := dialect.NewArgs(t.d)
	clause, err := predicate.Compile(where, t.fields, t.d, t.crs, args)
	if err != nil {
		return 0, err
	}
	return count(ctx, t.db, t.d, t.name, clause, args)
}

func count(ctx context.Context, q dialect.Querier, d dialect.Dialect, table, clause string, args *dialect.Args) (int64, error) {
	stmt := "SELECT COUNT(*) FROM " + d.Quote(table)
	if clause != "" {
		stmt += " WHERE " + clause
	}
	var n int64
	if err := q.QueryRowContext(ctx, stmt, args.Values()...).Scan(&n); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("can't count records of %s: %w", table, d.Classify(err))
	}
	return n, nil
}

// keyPredicate builds equality predicate over primary key fields
func (t *Table) keyPredicate(key any) (predicate.Key, error) {
	res := make(predicate.Key, len(t.pk))
	switch k := key.(type) {
	case nil:
		return nil, fmt.Errorf("nil key for %s: %w", t, schema.ErrMissingKey)
	case schema.Record:
		return t.keyFromMap(k)
	case map[string]any:
		return t.keyFromMap(k)
	}

	if items, ok := predicate.Sequence(key); ok && (len(t.pk) > 1 || len(items) == 1) {
		if len(items) != len(t.pk) {
			return nil, fmt.Errorf("key %v has %d values, primary key %v of %s has %d: %w",
				key, len(items), t.pk, t, len(t.pk), schema.ErrMissingKey)
		}
		for i, name := range t.pk {
			if items[i] == nil {
				return nil, fmt.Errorf("nil value for key field %q of %s: %w", name, t, schema.ErrMissingKey)
			}
			res[name] = items[i]
		}
		return res, nil
	}

	if len(t.pk) > 1 {
		return nil, fmt.Errorf("scalar key %v for compound primary key %v of %s: %w", key, t.pk, t, schema.ErrMissingKey)
	}
	res[t.pk[0]] = key
	return res, nil
}

func (t *Table) keyFromMap(m map[string]any) (predicate.Key, error) {
	res := make(predicate.Key, len(t.pk))
	for _, name := range t.pk {
		v, ok := m[name]
		if !ok || v == nil {
			return nil, fmt.Errorf("key field %q is missing for %s: %w", name, t, schema.ErrMissingKey)
		}
		res[name] = v
	}
	return res, nil
}
