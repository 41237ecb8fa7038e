// Package schema defines the data model shared by the table, dialect and converter packages:
// field kinds, field types, ordered field lists, records and the error taxonomy.
// Field types are a closed set, type tags are resolved by a static table and never evaluated.
package schema

import (
	"fmt"
	"strings"
)

// Kind is a closed enumeration of supported field kinds
type Kind int

// enum of all supported kinds
const (
	KindInvalid Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindBytes
	KindDate
	KindDateTime
	KindDuration
	KindIP
	KindDict
	KindEnum
	KindPoint
	KindLineString
	KindPolygon
	KindMultiPoint
	KindMultiLineString
	KindMultiPolygon
	KindGeometry
	KindArray
)

var kindNames = map[Kind]string{
	KindBool:            "bool",
	KindInt:             "int",
	KindFloat:           "float",
	KindString:          "str",
	KindBytes:           "bytes",
	KindDate:            "date",
	KindDateTime:        "datetime",
	KindDuration:        "duration",
	KindIP:              "ip",
	KindDict:            "dict",
	KindEnum:            "enum",
	KindPoint:           "Point",
	KindLineString:      "LineString",
	KindPolygon:         "Polygon",
	KindMultiPoint:      "MultiPoint",
	KindMultiLineString: "MultiLineString",
	KindMultiPolygon:    "MultiPolygon",
	KindGeometry:        "Geometry",
	KindArray:           "array",
}

// tags accepted by ParseType, lower-cased
var tagKinds = map[string]Kind{
	"bool":            KindBool,
	"boolean":         KindBool,
	"int":             KindInt,
	"integer":         KindInt,
	"float":           KindFloat,
	"real":            KindFloat,
	"str":             KindString,
	"string":          KindString,
	"text":            KindString,
	"bytes":           KindBytes,
	"blob":            KindBytes,
	"date":            KindDate,
	"datetime":        KindDateTime,
	"timestamp":       KindDateTime,
	"duration":        KindDuration,
	"timedelta":       KindDuration,
	"ip":              KindIP,
	"ipaddress":       KindIP,
	"dict":            KindDict,
	"point":           KindPoint,
	"linestring":      KindLineString,
	"polygon":         KindPolygon,
	"multipoint":      KindMultiPoint,
	"multilinestring": KindMultiLineString,
	"multipolygon":    KindMultiPolygon,
	"geometry":        KindGeometry,
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// IsGeometry reports whether the kind is one of the geometry kinds, including the generic one
func (k Kind) IsGeometry() bool {
	return k >= KindPoint && k <= KindGeometry
}

// FieldType is either a scalar kind or a fixed-arity nested sequence of field types.
// For KindArray, Elems is a template: one element means "any number of this type",
// several elements mean a tuple of exactly that arity.
type FieldType struct {
	Kind  Kind
	Elems []FieldType
	Enum  *Enumeration
}

// Scalar makes a non-array field type
func Scalar(k Kind) FieldType { return FieldType{Kind: k} }

// Array makes a homogeneous array of elem
func Array(elem FieldType) FieldType { return FieldType{Kind: KindArray, Elems: []FieldType{elem}} }

// Tuple makes a fixed-arity sequence type
func Tuple(elems ...FieldType) FieldType { return FieldType{Kind: KindArray, Elems: elems} }

// EnumOf makes an enumerated field type
func EnumOf(e *Enumeration) FieldType { return FieldType{Kind: KindEnum, Enum: e} }

// common scalar types
var (
	Bool            = Scalar(KindBool)
	Int             = Scalar(KindInt)
	Float           = Scalar(KindFloat)
	String          = Scalar(KindString)
	Bytes           = Scalar(KindBytes)
	Date            = Scalar(KindDate)
	DateTime        = Scalar(KindDateTime)
	Duration        = Scalar(KindDuration)
	IP              = Scalar(KindIP)
	Dict            = Scalar(KindDict)
	Point           = Scalar(KindPoint)
	LineString      = Scalar(KindLineString)
	Polygon         = Scalar(KindPolygon)
	MultiPoint      = Scalar(KindMultiPoint)
	MultiLineString = Scalar(KindMultiLineString)
	MultiPolygon    = Scalar(KindMultiPolygon)
	Geometry        = Scalar(KindGeometry)
)

// IsArray reports whether the type is a sequence type
func (t FieldType) IsArray() bool { return t.Kind == KindArray }

// IsGeometry reports whether the type is a scalar geometry type
func (t FieldType) IsGeometry() bool { return t.Kind.IsGeometry() }

// Dims returns the array nesting depth, zero for scalars
func (t FieldType) Dims() int {
	dims := 0
	for cur := t; cur.Kind == KindArray && len(cur.Elems) > 0; cur = cur.Elems[0] {
		dims++
	}
	return dims
}

// Element returns the innermost scalar type of an array, or the type itself for scalars
func (t FieldType) Element() FieldType {
	cur := t
	for cur.Kind == KindArray && len(cur.Elems) > 0 {
		cur = cur.Elems[0]
	}
	return cur
}

// Equal compares two field types structurally
func (t FieldType) Equal(o FieldType) bool {
	if t.Kind != o.Kind || len(t.Elems) != len(o.Elems) {
		return false
	}
	if t.Kind == KindEnum && t.Enum != o.Enum {
		return false
	}
	for i := range t.Elems {
		if !t.Elems[i].Equal(o.Elems[i]) {
			return false
		}
	}
	return true
}

// String returns the type tag, parsable back with ParseType
func (t FieldType) String() string {
	switch t.Kind {
	case KindArray:
		if len(t.Elems) == 1 {
			return "[" + t.Elems[0].String() + "]"
		}
		parts := make([]string, len(t.Elems))
		for i, e := range t.Elems {
			parts[i] = e.String()
		}
		return "(" + strings.Join(parts, ",") + ")"
	case KindEnum:
		if t.Enum != nil && t.Enum.Name != "" {
			return "enum:" + t.Enum.Name
		}
		return "enum"
	default:
		return t.Kind.String()
	}
}

// ParseType resolves a type tag like "int", "[str]", "[[float]]" or "(int,str)" into a FieldType.
// Enumerations can't be expressed as tags and have to be built with EnumOf.
func ParseType(tag string) (FieldType, error) {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return FieldType{}, fmt.Errorf("empty type tag: %w", ErrSchemaConflict)
	}

	if open, closing := tag[0], tag[len(tag)-1]; (open == '[' && closing == ']') || (open == '(' && closing == ')') {
		parts, err := splitTopLevel(tag[1 : len(tag)-1])
		if err != nil {
			return FieldType{}, fmt.Errorf("can't parse type tag %q: %w", tag, err)
		}
		if open == '[' && len(parts) != 1 {
			return FieldType{}, fmt.Errorf("array tag %q must have exactly one element type: %w", tag, ErrSchemaConflict)
		}
		elems := make([]FieldType, 0, len(parts))
		for _, p := range parts {
			ft, err := ParseType(p)
			if err != nil {
				return FieldType{}, err
			}
			elems = append(elems, ft)
		}
		return FieldType{Kind: KindArray, Elems: elems}, nil
	}

	if k, ok := tagKinds[strings.ToLower(tag)]; ok {
		return Scalar(k), nil
	}
	return FieldType{}, fmt.Errorf("unknown type tag %q: %w", tag, ErrSchemaConflict)
}

// MustParseType is ParseType panicking on error, for static declarations
func MustParseType(tag string) FieldType {
	ft, err := ParseType(tag)
	if err != nil {
		panic(err)
	}
	return ft
}

// splitTopLevel splits by commas not nested in brackets or parens
func splitTopLevel(s string) ([]string, error) {
	var res []string
	depth, start := 0, 0
	for i, r := range s {
		switch r {
		case '[', '(':
			depth++
		case ']', ')':
			depth--
			if depth < 0 {
				return nil, fmt.Errorf("unbalanced brackets: %w", ErrSchemaConflict)
			}
		case ',':
			if depth == 0 {
				res = append(res, strings.TrimSpace(s[start:i]))
				start = i + 1
			}
		}
	}
	if depth != 0 {
		return nil, fmt.Errorf("unbalanced brackets: %w", ErrSchemaConflict)
	}
	last := strings.TrimSpace(s[start:])
	if last == "" {
		return nil, fmt.Errorf("empty element type: %w", ErrSchemaConflict)
	}
	return append(res, last), nil
}
