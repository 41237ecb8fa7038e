// Package convert implements conversion of values to declared field types and back,
// plus the dialect-neutral wire representation used by the SQL dialects.
// All functions are pure and safe for concurrent use.
package convert

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net"
	"net/netip"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/paulmach/orb"

	"github.com/umputun/tablecrow/pkg/geo"
	"github.com/umputun/tablecrow/pkg/schema"
)

// Error is a conversion failure carrying source value and target type.
// It matches schema.ErrConversion with errors.Is, as well as the underlying cause.
type Error struct {
	Value  any
	Target schema.FieldType
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("can't convert %v (%T) to %s: %v", e.Value, e.Value, e.Target, e.Err)
}

// Unwrap returns both the taxonomy sentinel and the cause
func (e *Error) Unwrap() []error { return []error{schema.ErrConversion, e.Err} }

// Convert casts value to the field type. Nil stays nil, values already of the target type are returned as is.
func Convert(v any, ft schema.FieldType) (any, error) {
	res, err := convert(v, ft)
	if err != nil {
		return nil, &Error{Value: v, Target: ft, Err: err}
	}
	return res, nil
}

func convert(v any, ft schema.FieldType) (any, error) {
	if v == nil {
		return nil, nil
	}
	if ft.IsGeometry() {
		return geo.ParseAs(v, ft.Kind)
	}

	switch ft.Kind {
	case schema.KindArray:
		return toArray(v, ft)
	case schema.KindBool:
		return toBool(v)
	case schema.KindInt:
		return toInt(v)
	case schema.KindFloat:
		return toFloat(v)
	case schema.KindString:
		return ToString(v), nil
	case schema.KindBytes:
		return toBytes(v)
	case schema.KindDate:
		t, err := toTime(v)
		if err != nil {
			return nil, err
		}
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
	case schema.KindDateTime:
		return toTime(v)
	case schema.KindDuration:
		return toDuration(v)
	case schema.KindIP:
		return toIP(v)
	case schema.KindDict:
		return toDict(v)
	case schema.KindEnum:
		if ft.Enum == nil {
			return nil, errors.New("enumeration is not defined")
		}
		return ft.Enum.Lookup(v)
	}
	return nil, fmt.Errorf("unsupported field type %s: %w", ft, schema.ErrUnsupported)
}

// toArray converts a sequence element-wise. A one-element template is broadcast to the input length,
// otherwise lengths must match. Scalars are treated as one-element sequences.
func toArray(v any, ft schema.FieldType) (any, error) {
	items, ok := asSlice(v)
	if !ok {
		items = []any{v}
	}

	tmpl := ft.Elems
	if len(tmpl) == 1 && len(items) != 1 {
		tmpl = make([]schema.FieldType, len(items))
		for i := range tmpl {
			tmpl[i] = ft.Elems[0]
		}
	}
	if len(tmpl) != len(items) {
		return nil, fmt.Errorf("length mismatch, value has %d elements and type has %d", len(items), len(tmpl))
	}

	res := make([]any, len(items))
	for i, item := range items {
		cv, err := convert(item, tmpl[i])
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		res[i] = cv
	}
	return res, nil
}

// asSlice returns elements of any slice or array except byte slices and geometries
func asSlice(v any) ([]any, bool) {
	switch val := v.(type) {
	case []any:
		return val, true
	case []byte, string, orb.Geometry, geo.Projected:
		return nil, false
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	res := make([]any, rv.Len())
	for i := range res {
		res[i] = rv.Index(i).Interface()
	}
	return res, true
}

func toBool(v any) (any, error) {
	switch val := v.(type) {
	case bool:
		return val, nil
	case string:
		return parseBool(val)
	case []byte:
		return parseBool(string(val))
	}
	if f, ok := number(v); ok {
		return f != 0, nil
	}
	return nil, fmt.Errorf("unsupported type %T", v)
}

func parseBool(s string) (bool, error) {
	s = strings.TrimSpace(s)
	switch {
	case strings.EqualFold(s, "true"):
		return true, nil
	case strings.EqualFold(s, "false"):
		return false, nil
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("invalid boolean %q", s)
	}
	return b, nil
}

func toInt(v any) (any, error) {
	switch val := v.(type) {
	case int64:
		return val, nil
	case int:
		return int64(val), nil
	case int8:
		return int64(val), nil
	case int16:
		return int64(val), nil
	case int32:
		return int64(val), nil
	case uint8:
		return int64(val), nil
	case uint16:
		return int64(val), nil
	case uint32:
		return int64(val), nil
	case uint:
		if uint64(val) > math.MaxInt64 {
			return nil, errors.New("integer overflow")
		}
		return int64(val), nil
	case uint64:
		if val > math.MaxInt64 {
			return nil, errors.New("integer overflow")
		}
		return int64(val), nil
	case float32, float64:
		f, _ := number(val)
		if math.IsNaN(f) || math.IsInf(f, 0) || math.Abs(f) > math.MaxInt64 {
			return nil, fmt.Errorf("float %v out of integer range", f)
		}
		return int64(f), nil
	case bool:
		if val {
			return int64(1), nil
		}
		return int64(0), nil
	case string:
		return strconv.ParseInt(strings.TrimSpace(val), 10, 64)
	case []byte:
		return strconv.ParseInt(strings.TrimSpace(string(val)), 10, 64)
	case json.Number:
		return val.Int64()
	}
	return nil, fmt.Errorf("unsupported type %T", v)
}

func toFloat(v any) (any, error) {
	switch val := v.(type) {
	case string:
		return strconv.ParseFloat(strings.TrimSpace(val), 64)
	case []byte:
		return strconv.ParseFloat(strings.TrimSpace(string(val)), 64)
	case bool:
		if val {
			return 1.0, nil
		}
		return 0.0, nil
	case time.Duration:
		return val.Seconds(), nil
	}
	if f, ok := number(v); ok {
		return f, nil
	}
	return nil, fmt.Errorf("unsupported type %T", v)
}

// number returns float value of any numeric type
func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func toBytes(v any) (any, error) {
	switch val := v.(type) {
	case []byte:
		return val, nil
	case string:
		return []byte(val), nil
	}
	return nil, fmt.Errorf("unsupported type %T", v)
}

// toTime parses strings with a flexible date parser in UTC, numbers are unix seconds
func toTime(v any) (time.Time, error) {
	switch val := v.(type) {
	case time.Time:
		return val.UTC(), nil
	case string:
		return parseTime(val)
	case []byte:
		return parseTime(string(val))
	}
	if f, ok := number(v); ok {
		sec, frac := math.Modf(f)
		return time.Unix(int64(sec), int64(math.Round(frac*1e9))).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("unsupported type %T", v)
}

func parseTime(s string) (time.Time, error) {
	t, err := dateparse.ParseIn(strings.TrimSpace(s), time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("can't parse date %q: %w", s, err)
	}
	return t.UTC(), nil
}

func toDuration(v any) (any, error) {
	switch val := v.(type) {
	case time.Duration:
		return val, nil
	case string:
		return ParseDuration(val)
	case []byte:
		return ParseDuration(string(val))
	}
	if f, ok := number(v); ok {
		return time.Duration(math.Round(f * float64(time.Second))), nil
	}
	return nil, fmt.Errorf("unsupported type %T", v)
}

func toIP(v any) (any, error) {
	switch val := v.(type) {
	case netip.Addr:
		return val, nil
	case netip.Prefix:
		return val.Addr(), nil
	case net.IP:
		addr, ok := netip.AddrFromSlice(val)
		if !ok {
			return nil, fmt.Errorf("invalid ip %v", val)
		}
		return addr.Unmap(), nil
	case string:
		return parseIP(val)
	case []byte:
		return parseIP(string(val))
	}
	return nil, fmt.Errorf("unsupported type %T", v)
}

func parseIP(s string) (netip.Addr, error) {
	s = strings.TrimSpace(s)
	if addr, err := netip.ParseAddr(s); err == nil {
		return addr, nil
	}
	prefix, err := netip.ParsePrefix(s)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("invalid ip %q", s)
	}
	return prefix.Addr(), nil
}

// toDict makes string map, JSON objects are accepted as text. Null values are dropped.
func toDict(v any) (any, error) {
	switch val := v.(type) {
	case map[string]string:
		return val, nil
	case map[string]any:
		res := make(map[string]string, len(val))
		for k, item := range val {
			if item == nil {
				continue
			}
			res[k] = ToString(item)
		}
		return res, nil
	case string:
		return parseDict([]byte(val))
	case []byte:
		return parseDict(val)
	}
	return nil, fmt.Errorf("unsupported type %T", v)
}

func parseDict(data []byte) (any, error) {
	m := map[string]any{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("invalid dictionary: %w", err)
	}
	return toDict(m)
}

// ToString formats any value as text. Times use "2006-01-02 15:04:05", durations HH:MM:SS.sss,
// geometries and CRS their WKT, sequences and maps JSON.
func ToString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case []byte:
		return string(val)
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case time.Time:
		return val.Format(DateTimeLayout)
	case time.Duration:
		return FormatDuration(val)
	case geo.CRS:
		return val.ToWKT()
	case geo.Projected:
		return geo.ToWKT(val.Geometry)
	case orb.Geometry:
		return geo.ToWKT(val)
	case schema.EnumMember:
		return val.Name
	case fmt.Stringer:
		return val.String()
	}
	if _, ok := asSlice(v); ok || reflect.ValueOf(v).Kind() == reflect.Map {
		if data, err := json.Marshal(v); err == nil {
			return string(data)
		}
	}
	return fmt.Sprint(v)
}

// FormatCRS returns CRS as WKT string ("wkt"), EPSG integer ("epsg") or PROJJSON-like map ("json")
func FormatCRS(c geo.CRS, target string) (any, error) {
	switch strings.ToLower(target) {
	case "wkt", "str", "string":
		return c.ToWKT(), nil
	case "epsg", "int":
		return c.SRID()
	case "json", "dict":
		return c.ToJSON(), nil
	}
	return nil, fmt.Errorf("unknown crs format %q: %w", target, schema.ErrUnsupported)
}
