package schema

import (
	"errors"
	"fmt"
	"maps"
	"strings"
)

// Field is a named, typed column. Native keeps the backend type name when the field came from introspection.
type Field struct {
	Name   string
	Type   FieldType
	Native string
}

// Fields is an ordered field schema. Order defines column order and the default primary key.
type Fields []Field

// Record is a single row, field name to typed value
type Record map[string]any

// NewFields makes fields from alternating name and type-tag pairs, i.e. NewFields("id", "int", "name", "str")
func NewFields(pairs ...string) (Fields, error) {
	if len(pairs)%2 != 0 {
		return nil, errors.New("fields must be given as name/type pairs")
	}
	res := make(Fields, 0, len(pairs)/2)
	for i := 0; i < len(pairs); i += 2 {
		ft, err := ParseType(pairs[i+1])
		if err != nil {
			return nil, fmt.Errorf("can't parse type of field %q: %w", pairs[i], err)
		}
		res = append(res, Field{Name: pairs[i], Type: ft})
	}
	return res, res.Validate()
}

// Validate checks fields are non-empty with unique non-empty names
func (f Fields) Validate() error {
	if len(f) == 0 {
		return fmt.Errorf("no fields: %w", ErrSchemaConflict)
	}
	seen := make(map[string]bool, len(f))
	for i, fld := range f {
		if strings.TrimSpace(fld.Name) == "" {
			return fmt.Errorf("field #%d has empty name: %w", i, ErrSchemaConflict)
		}
		if seen[fld.Name] {
			return fmt.Errorf("duplicate field %q: %w", fld.Name, ErrSchemaConflict)
		}
		if fld.Type.Kind == KindInvalid {
			return fmt.Errorf("field %q has no type: %w", fld.Name, ErrSchemaConflict)
		}
		seen[fld.Name] = true
	}
	return nil
}

// Names returns field names in order
func (f Fields) Names() []string {
	res := make([]string, len(f))
	for i, fld := range f {
		res[i] = fld.Name
	}
	return res
}

// Get returns field by name
func (f Fields) Get(name string) (Field, bool) {
	if i := f.Index(name); i >= 0 {
		return f[i], true
	}
	return Field{}, false
}

// Index returns position of the field, -1 if missing
func (f Fields) Index(name string) int {
	for i, fld := range f {
		if fld.Name == name {
			return i
		}
	}
	return -1
}

// Geometry returns geometry-typed fields only
func (f Fields) Geometry() Fields {
	var res Fields
	for _, fld := range f {
		if fld.Type.IsGeometry() {
			res = append(res, fld)
		}
	}
	return res
}

// PrimaryKey validates pk against fields, defaulting to the first field if pk is empty
func (f Fields) PrimaryKey(pk []string) ([]string, error) {
	if len(f) == 0 {
		return nil, fmt.Errorf("no fields for primary key: %w", ErrSchemaConflict)
	}
	if len(pk) == 0 {
		return []string{f[0].Name}, nil
	}
	for _, name := range pk {
		if f.Index(name) < 0 {
			return nil, fmt.Errorf("primary key field %q is not in fields %v: %w", name, f.Names(), ErrSchemaConflict)
		}
	}
	return pk, nil
}

// String returns "name:type" list
func (f Fields) String() string {
	parts := make([]string, len(f))
	for i, fld := range f {
		parts[i] = fld.Name + ":" + fld.Type.String()
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// Clone returns a shallow copy of the record
func (r Record) Clone() Record {
	if r == nil {
		return Record{}
	}
	return maps.Clone(r)
}

// Values returns record values in the order of names, missing ones as nil
func (r Record) Values(names []string) []any {
	res := make([]any, len(names))
	for i, n := range names {
		res[i] = r[n]
	}
	return res
}
