package typeinfo

import (
	"reflect"
	"strings"
)

// Field represents a single field from a struct type.
type Field struct {
	Type reflect.Type

	// Name is the name of the struct field.
	Name string

	// Index of this field in the structure.
	Index int

	// OmitEmpty is true when "omitempty" is
	// a property of the field's "db" tag. A zero
	// value of such a field is bound as null.
	OmitEmpty bool
}

// Info represents reflected information about a struct type.
type Info struct {
	Type reflect.Type

	// Relate tag names to fields.
	TagToField map[string]Field

	// Tags lists the tag names in field order.
	Tags []string
}

// FieldByColumn returns the field whose tag matches a result column,
// ignoring case.
func (info *Info) FieldByColumn(column string) (Field, bool) {
	if f, ok := info.TagToField[column]; ok {
		return f, true
	}
	for _, tag := range info.Tags {
		if strings.EqualFold(tag, column) {
			return info.TagToField[tag], true
		}
	}
	return Field{}, false
}
