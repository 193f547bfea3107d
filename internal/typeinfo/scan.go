package typeinfo

import (
	"fmt"
	"reflect"
)

// ScanTargets returns pointers to the fields of the struct pointed to by
// dest, one per result column, for passing to sql.Rows.Scan. Columns are
// matched against "db" tags ignoring case; a column without a matching
// field is an error.
func ScanTargets(dest any, columns []string) ([]any, error) {
	v := reflect.ValueOf(dest)
	if v.Kind() != reflect.Pointer || v.IsNil() || v.Elem().Kind() != reflect.Struct {
		return nil, fmt.Errorf("need a non-nil pointer to a struct, got %T", dest)
	}
	info, err := GetTypeInfo(dest)
	if err != nil {
		return nil, err
	}
	s := v.Elem()
	targets := make([]any, len(columns))
	for i, col := range columns {
		field, ok := info.FieldByColumn(col)
		if !ok {
			return nil, fmt.Errorf("no tag in %s matches column %q", info.Type, col)
		}
		targets[i] = s.Field(field.Index).Addr().Interface()
	}
	return targets, nil
}
