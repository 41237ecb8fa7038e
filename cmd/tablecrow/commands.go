package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/go-pkgz/lgr"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/umputun/tablecrow/pkg/config"
	"github.com/umputun/tablecrow/pkg/connect"
	"github.com/umputun/tablecrow/pkg/convert"
	"github.com/umputun/tablecrow/pkg/geo"
	"github.com/umputun/tablecrow/pkg/predicate"
	"github.com/umputun/tablecrow/pkg/schema"
	"github.com/umputun/tablecrow/pkg/table"
)

// command runs cli commands against one connection, records printed as json lines in field order
type command struct {
	out  io.Writer
	conn connect.Options
	defs *config.Definitions
}

func (c command) tables(ctx context.Context) error {
	conn, err := connect.Open(ctx, c.conn)
	if err != nil {
		return err
	}
	defer conn.Close()

	names, err := connect.Tables(ctx, conn)
	if err != nil {
		return err
	}
	for _, name := range names {
		fmt.Fprintln(c.out, name)
	}
	return nil
}

func (c command) schema(ctx context.Context, name string) error {
	return c.withTable(ctx, name, func(t *table.Table) error {
		pk := map[string]bool{}
		for _, k := range t.PrimaryKey() {
			pk[k] = true
		}
		for _, f := range t.Fields() {
			mark := ""
			if pk[f.Name] {
				mark = "\tpk"
			}
			fmt.Fprintf(c.out, "%s\t%s%s\n", f.Name, f.Type, mark)
		}
		if crs := t.CRS(); !crs.IsZero() {
			fmt.Fprintf(c.out, "crs\t%s\n", crs)
		}
		return nil
	})
}

func (c command) get(ctx context.Context, name string, key []string) error {
	return c.withTable(ctx, name, func(t *table.Table) error {
		rec, err := t.Get(ctx, keyValue(key))
		if err != nil {
			return err
		}
		return c.print(t.Fields(), rec)
	})
}

func (c command) set(ctx context.Context, name, data string) error {
	rec, err := parseRecord(data)
	if err != nil {
		return err
	}
	return c.withTable(ctx, name, func(t *table.Table) error {
		if err := t.Set(ctx, rec, rec); err != nil {
			return err
		}
		log.Printf("[INFO] record set in %s", t)
		return nil
	})
}

func (c command) del(ctx context.Context, name string, key []string) error {
	return c.withTable(ctx, name, func(t *table.Table) error {
		if err := t.Delete(ctx, keyValue(key)); err != nil {
			return err
		}
		log.Printf("[INFO] record %v deleted from %s", key, t)
		return nil
	})
}

func (c command) query(ctx context.Context, name string, filter filterOpts) error {
	where, err := filter.predicate()
	if err != nil {
		return err
	}
	return c.withTable(ctx, name, func(t *table.Table) error {
		recs, err := t.RecordsWhere(ctx, where)
		if err != nil {
			return err
		}
		return c.print(t.Fields(), recs...)
	})
}

func (c command) count(ctx context.Context, name string, filter filterOpts) error {
	where, err := filter.predicate()
	if err != nil {
		return err
	}
	return c.withTable(ctx, name, func(t *table.Table) error {
		n, err := t.CountWhere(ctx, where)
		if err != nil {
			return err
		}
		fmt.Fprintln(c.out, n)
		return nil
	})
}

func (c command) intersect(ctx context.Context, name, wkt, crsText string, fields []string) error {
	g, err := geo.Parse(wkt)
	if err != nil {
		return fmt.Errorf("invalid geometry: %w", err)
	}
	var crs geo.CRS
	if crsText != "" {
		if crs, err = geo.ParseCRS(crsText); err != nil {
			return err
		}
	}
	return c.withTable(ctx, name, func(t *table.Table) error {
		recs, err := t.RecordsIntersecting(ctx, g, crs, fields...)
		if err != nil {
			return err
		}
		return c.print(t.Fields(), recs...)
	})
}

func (c command) drop(ctx context.Context, name string) error {
	return c.withTable(ctx, name, func(t *table.Table) error {
		if err := t.Drop(ctx); err != nil {
			return err
		}
		log.Printf("[INFO] table %s dropped", t)
		return nil
	})
}

// withTable opens the table by its definition, or adopts the existing one, and closes it after fn
func (c command) withTable(ctx context.Context, name string, fn func(t *table.Table) error) error {
	def, err := tableOptions(c.defs, name)
	if err != nil {
		return err
	}
	def.Logger = lgr.Std
	t, err := connect.OpenTable(ctx, c.conn, def)
	if err != nil {
		return err
	}
	defer func() {
		if err := t.Close(); err != nil {
			log.Printf("[WARN] can't close %s: %v", name, err)
		}
	}()
	return fn(t)
}

// print writes records as json objects, one per line, keys in field order
func (c command) print(fields schema.Fields, recs ...schema.Record) error {
	for _, rec := range recs {
		line, err := recordJSON(fields, rec)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintln(c.out, string(line)); err != nil {
			return fmt.Errorf("can't write record: %w", err)
		}
	}
	return nil
}

func recordJSON(fields schema.Fields, rec schema.Record) ([]byte, error) {
	buf := bytes.Buffer{}
	buf.WriteByte('{')
	for i, f := range fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		name, err := json.Marshal(f.Name)
		if err != nil {
			return nil, fmt.Errorf("can't marshal field name %q: %w", f.Name, err)
		}
		val, err := json.Marshal(jsonValue(rec[f.Name]))
		if err != nil {
			return nil, fmt.Errorf("can't marshal field %q: %w", f.Name, err)
		}
		buf.Write(name)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// jsonValue makes value json friendly, geometries become geojson, other non-json types their text form
func jsonValue(v any) any {
	switch val := v.(type) {
	case nil, bool, int, int32, int64, float32, float64, string, []byte, map[string]any:
		return val
	case geo.Projected:
		return geojson.NewGeometry(val.Geometry)
	case orb.Geometry:
		return geojson.NewGeometry(val)
	case []any:
		res := make([]any, len(val))
		for i, item := range val {
			res[i] = jsonValue(item)
		}
		return res
	}
	if items, ok := predicate.Sequence(v); ok {
		return jsonValue(items)
	}
	return convert.ToString(v)
}

// parseRecord decodes json object, numbers kept as json.Number so integer precision survives
func parseRecord(data string) (schema.Record, error) {
	dec := json.NewDecoder(strings.NewReader(data))
	dec.UseNumber()
	rec := schema.Record{}
	if err := dec.Decode(&rec); err != nil {
		return nil, fmt.Errorf("invalid record %q: %w", data, err)
	}
	return rec, nil
}

// keyValue returns scalar for a single key value, slice for compound keys
func keyValue(key []string) any {
	if len(key) == 1 {
		return key[0]
	}
	res := make([]any, len(key))
	for i, k := range key {
		res[i] = k
	}
	return res
}

// predicate makes filter from --where and --raw options, both AND-joined. No options match all records.
func (f filterOpts) predicate() (predicate.Predicate, error) {
	if len(f.Where) > 0 && len(f.Raw) > 0 {
		return nil, fmt.Errorf("--where and --raw can't be mixed: %w", schema.ErrInvalidPredicate)
	}
	if len(f.Raw) == 1 {
		return predicate.RawClause(f.Raw[0]), nil
	}
	if len(f.Raw) > 1 {
		return predicate.RawClauseList(f.Raw), nil
	}
	if len(f.Where) == 0 {
		return predicate.None{}, nil
	}

	res := predicate.Equalities{}
	for _, w := range f.Where {
		name, val, ok := strings.Cut(w, "=")
		if !ok || strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("invalid filter %q, expected field=value: %w", w, schema.ErrInvalidPredicate)
		}
		res[strings.TrimSpace(name)] = filterValue(val)
	}
	return res, nil
}

// filterValue maps "NULL" to nil and "[a,b]" to a set of values
func filterValue(s string) any {
	if s == "NULL" {
		return nil
	}
	if strings.HasPrefix(s, "[") && strings.HasSuffix(s, "]") {
		inner := strings.TrimSpace(s[1 : len(s)-1])
		if inner == "" {
			return []any{}
		}
		parts := strings.Split(inner, ",")
		res := make([]any, len(parts))
		for i, p := range parts {
			res[i] = strings.TrimSpace(p)
		}
		return res
	}
	return s
}
