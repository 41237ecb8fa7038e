package convert

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/netip"
	"time"

	"github.com/paulmach/orb"

	"github.com/umputun/tablecrow/pkg/geo"
	"github.com/umputun/tablecrow/pkg/schema"
)

// Serialize converts value to the field type and returns its dialect-neutral wire form:
// bool, int64, float64, string, []byte, map[string]string for dictionaries and []any for arrays.
// Dates, durations, addresses, enum members and geometries (as WKT) are sent as text.
func Serialize(v any, ft schema.FieldType) (any, error) {
	cv, err := Convert(v, ft)
	if err != nil || cv == nil {
		return nil, err
	}
	res, err := serialize(cv, ft)
	if err != nil {
		return nil, &Error{Value: v, Target: ft, Err: err}
	}
	return res, nil
}

func serialize(v any, ft schema.FieldType) (any, error) {
	if v == nil {
		return nil, nil
	}
	if ft.IsGeometry() {
		g, ok := v.(orb.Geometry)
		if !ok {
			return nil, fmt.Errorf("not a geometry %T", v)
		}
		return geo.ToWKT(g), nil
	}

	switch ft.Kind {
	case schema.KindArray:
		items := v.([]any)
		res := make([]any, len(items))
		for i, item := range items {
			elem := ft.Elems[0]
			if len(ft.Elems) == len(items) {
				elem = ft.Elems[i]
			}
			sv, err := serialize(item, elem)
			if err != nil {
				return nil, err
			}
			res[i] = sv
		}
		return res, nil
	case schema.KindDate:
		return v.(time.Time).Format(DateLayout), nil
	case schema.KindDateTime:
		return v.(time.Time).Format(DateTimeLayout), nil
	case schema.KindDuration:
		return wireDuration(v.(time.Duration)), nil
	case schema.KindIP:
		return v.(netip.Addr).String(), nil
	case schema.KindEnum:
		return v.(schema.EnumMember).Name, nil
	}
	return v, nil
}

// Deserialize turns a value returned by a SQL driver into the typed value of the field.
// Arrays and dictionaries are expected as JSON text, geometries as WKB (raw or hex) or WKT.
func Deserialize(wire any, ft schema.FieldType) (any, error) {
	res, err := deserialize(wire, ft)
	if err != nil {
		return nil, &Error{Value: wire, Target: ft, Err: err}
	}
	return res, nil
}

func deserialize(wire any, ft schema.FieldType) (any, error) {
	if wire == nil {
		return nil, nil
	}

	if ft.IsGeometry() {
		if raw, ok := wire.([]byte); ok {
			if g, err := geo.FromWKB(raw); err == nil {
				return geo.ParseAs(g, ft.Kind)
			}
		}
		return geo.ParseAs(wire, ft.Kind)
	}

	switch ft.Kind {
	case schema.KindArray:
		items, err := jsonArray(wire)
		if err != nil {
			return nil, err
		}
		res := make([]any, len(items))
		for i, item := range items {
			elem := ft.Elems[0]
			if len(ft.Elems) == len(items) {
				elem = ft.Elems[i]
			}
			dv, err := deserialize(item, elem)
			if err != nil {
				return nil, fmt.Errorf("element %d: %w", i, err)
			}
			res[i] = dv
		}
		return res, nil
	case schema.KindBytes:
		if b, ok := wire.([]byte); ok {
			return bytes.Clone(b), nil
		}
	case schema.KindString, schema.KindEnum, schema.KindIP:
		if b, ok := wire.([]byte); ok {
			wire = string(b)
		}
	}
	return convert(wire, ft)
}

// jsonArray accepts []any as is, or JSON text of an array
func jsonArray(wire any) ([]any, error) {
	var data []byte
	switch val := wire.(type) {
	case []any:
		return val, nil
	case string:
		data = []byte(val)
	case []byte:
		data = val
	default:
		if items, ok := asSlice(wire); ok {
			return items, nil
		}
		return nil, fmt.Errorf("unsupported array value %T", wire)
	}
	var res []any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&res); err != nil {
		return nil, fmt.Errorf("invalid array: %w", err)
	}
	if res == nil {
		res = []any{}
	}
	return res, nil
}
