package typeinfo

import (
	"fmt"
	"reflect"
)

// Named flattens bindings into named values. bindings may be nil, a map
// with string keys, or a struct (or pointer to one) whose "db" tagged fields
// are the parameters.
func Named(bindings any) (map[string]any, error) {
	if bindings == nil {
		return map[string]any{}, nil
	}
	v := reflect.ValueOf(bindings)
	for v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return nil, fmt.Errorf("cannot use nil %T as bindings", bindings)
		}
		v = v.Elem()
	}

	switch v.Kind() {
	case reflect.Map:
		if v.Type().Key().Kind() != reflect.String {
			return nil, fmt.Errorf("cannot use %T as bindings: map keys must be strings", bindings)
		}
		named := make(map[string]any, v.Len())
		iter := v.MapRange()
		for iter.Next() {
			named[iter.Key().String()] = iter.Value().Interface()
		}
		return named, nil
	case reflect.Struct:
		info, err := GetTypeInfo(v.Interface())
		if err != nil {
			return nil, fmt.Errorf("cannot use %T as bindings: %s", bindings, err)
		}
		named := make(map[string]any, len(info.Tags))
		for _, tag := range info.Tags {
			field := info.TagToField[tag]
			fv := v.Field(field.Index)
			if field.OmitEmpty && fv.IsZero() {
				named[tag] = nil
				continue
			}
			named[tag] = fv.Interface()
		}
		return named, nil
	}
	return nil, fmt.Errorf("cannot use %T as bindings: need a map with string keys or a struct", bindings)
}
