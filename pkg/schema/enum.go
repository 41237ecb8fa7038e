package schema

import (
	"fmt"
	"reflect"
	"strings"
)

// Enumeration is a named set of members, stored in tables by member name
type Enumeration struct {
	Name    string
	Members []EnumMember
}

// EnumMember is a single enumeration member
type EnumMember struct {
	Name  string
	Value any
}

// String returns member name
func (m EnumMember) String() string { return m.Name }

// NewEnumeration makes an enumeration from members
func NewEnumeration(name string, members ...EnumMember) *Enumeration {
	return &Enumeration{Name: name, Members: members}
}

// Lookup finds a member by name first, then by raw value
func (e *Enumeration) Lookup(v any) (EnumMember, error) {
	if m, ok := v.(EnumMember); ok {
		v = m.Name
	}
	if s, ok := v.(string); ok {
		for _, m := range e.Members {
			if m.Name == s {
				return m, nil
			}
		}
	}
	for _, m := range e.Members {
		if reflect.DeepEqual(m.Value, v) || fmt.Sprint(m.Value) == fmt.Sprint(v) {
			return m, nil
		}
	}
	return EnumMember{}, fmt.Errorf("%v is not a member of %s, valid members: %s", v, e.Name, strings.Join(e.names(), ", "))
}

func (e *Enumeration) names() []string {
	res := make([]string, len(e.Members))
	for i, m := range e.Members {
		res[i] = m.Name
	}
	return res
}
