// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package value

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"math/big"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// Kind identifies which member of the Value union is set.
type Kind int

const (
	Null Kind = iota
	String
	Integer
	Decimal
	Date
	Bool
	List
)

func (k Kind) String() string {
	switch k {
	case Null:
		return "null"
	case String:
		return "string"
	case Integer:
		return "integer"
	case Decimal:
		return "decimal"
	case Date:
		return "date"
	case Bool:
		return "bool"
	case List:
		return "list"
	default:
		return "unknown"
	}
}

// Value is a bound parameter value, or the result of a condition
// sub-expression. The zero Value is Null.
type Value struct {
	kind Kind
	str  string
	num  *big.Rat
	date time.Time
	b    bool
	list []Value
}

// StringValue returns a String value.
func StringValue(s string) Value { return Value{kind: String, str: s} }

// IntValue returns an Integer value.
func IntValue(i int64) Value { return Value{kind: Integer, num: new(big.Rat).SetInt64(i)} }

// DecimalValue returns a Decimal value. The rational is copied.
func DecimalValue(r *big.Rat) Value {
	if r.IsInt() {
		return Value{kind: Integer, num: new(big.Rat).Set(r)}
	}
	return Value{kind: Decimal, num: new(big.Rat).Set(r)}
}

// DateValue returns a Date value.
func DateValue(t time.Time) Value { return Value{kind: Date, date: t} }

// BoolValue returns a Bool value.
func BoolValue(b bool) Value { return Value{kind: Bool, b: b} }

// ListValue returns a List value.
func ListValue(vs []Value) Value { return Value{kind: List, list: vs} }

// Kind returns the kind of v.
func (v Value) Kind() Kind { return v.kind }

// IsNumber reports whether v is an Integer or a Decimal.
func (v Value) IsNumber() bool { return v.kind == Integer || v.kind == Decimal }

// Rat returns the numeric value of an Integer or Decimal. It must not be
// modified.
func (v Value) Rat() *big.Rat { return v.num }

// Time returns the value of a Date.
func (v Value) Time() time.Time { return v.date }

// Len returns the number of elements of a List.
func (v Value) Len() int { return len(v.list) }

// Truthy reports the truth of v used as a bare condition operand: null is
// false, strings and dates are true, numbers are true unless zero, lists
// are true unless empty.
func (v Value) Truthy() bool {
	switch v.kind {
	case Null:
		return false
	case Integer, Decimal:
		return v.num.Sign() != 0
	case Bool:
		return v.b
	case List:
		return len(v.list) > 0
	default:
		return true
	}
}

// String returns the canonical, locale independent text of v.
func (v Value) String() string {
	switch v.kind {
	case Null:
		return ""
	case String:
		return v.str
	case Integer, Decimal:
		return FormatRat(v.num)
	case Date:
		return FormatDate(v.date)
	case Bool:
		return strconv.FormatBool(v.b)
	case List:
		parts := make([]string, len(v.list))
		for i, e := range v.list {
			parts[i] = e.String()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	}
	return ""
}

// FormatRat returns the shortest exact decimal text of r. Rationals with no
// finite decimal expansion are rounded to 20 decimal places.
func FormatRat(r *big.Rat) string {
	if r.IsInt() {
		return r.Num().String()
	}
	if prec, exact := r.FloatPrec(); exact {
		return r.FloatString(prec)
	}
	s := r.FloatString(20)
	s = strings.TrimRight(s, "0")
	return strings.TrimSuffix(s, ".")
}

// FormatDate returns t as 2006-01-02 when its clock reads midnight and
// as RFC 3339 otherwise.
func FormatDate(t time.Time) string {
	h, m, s := t.Clock()
	if h == 0 && m == 0 && s == 0 && t.Nanosecond() == 0 {
		return t.Format("2006-01-02")
	}
	return t.Format(time.RFC3339Nano)
}

// ParseNumber parses s as a decimal number using '.' as the decimal point.
// Exponents, separators and surrounding spaces are not accepted.
func ParseNumber(s string) (*big.Rat, bool) {
	if !isNumeric(s) {
		return nil, false
	}
	r, ok := new(big.Rat).SetString(s)
	return r, ok
}

// isNumeric reports whether s has the form [+-]digits[.digits] or
// [+-].digits.
func isNumeric(s string) bool {
	if s != "" && (s[0] == '-' || s[0] == '+') {
		s = s[1:]
	}
	digits, dot := 0, false
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case c >= '0' && c <= '9':
			digits++
		case c == '.' && !dot:
			dot = true
		default:
			return false
		}
	}
	return digits > 0 && !strings.HasSuffix(s, ".")
}

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseDate parses s as an ISO 8601 date or date-time.
func ParseDate(s string) (time.Time, bool) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

var (
	valuerInterface = reflect.TypeOf((*driver.Valuer)(nil)).Elem()
	timeType        = reflect.TypeOf(time.Time{})
	ratType         = reflect.TypeOf(big.Rat{})
	bigIntType      = reflect.TypeOf(big.Int{})
)

// Of converts a Go value to a Value. Lists are converted element by element
// and may not nest.
func Of(x any) (Value, error) {
	v, err := of(reflect.ValueOf(x), true)
	if err != nil {
		return Value{}, fmt.Errorf("cannot use %T as parameter value: %s", x, err)
	}
	return v, nil
}

func of(rv reflect.Value, allowList bool) (Value, error) {
	if !rv.IsValid() {
		return Value{}, nil
	}
	if rv.Type().Implements(valuerInterface) {
		if rv.Kind() == reflect.Pointer && rv.IsNil() {
			return Value{}, nil
		}
		dv, err := rv.Interface().(driver.Valuer).Value()
		if err != nil {
			return Value{}, err
		}
		return of(reflect.ValueOf(dv), allowList)
	}
	switch rv.Type() {
	case timeType:
		return DateValue(rv.Interface().(time.Time)), nil
	case ratType:
		r := rv.Interface().(big.Rat)
		return DecimalValue(&r), nil
	case bigIntType:
		i := rv.Interface().(big.Int)
		return DecimalValue(new(big.Rat).SetInt(&i)), nil
	}
	if n, ok := rv.Interface().(json.Number); ok {
		r, ok := ParseNumber(n.String())
		if !ok {
			return Value{}, fmt.Errorf("invalid number %q", n)
		}
		return DecimalValue(r), nil
	}
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return Value{}, nil
		}
		return of(rv.Elem(), allowList)
	case reflect.String:
		return StringValue(rv.String()), nil
	case reflect.Bool:
		return BoolValue(rv.Bool()), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return IntValue(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return DecimalValue(new(big.Rat).SetInt(new(big.Int).SetUint64(rv.Uint()))), nil
	case reflect.Float32, reflect.Float64:
		// The shortest representation keeps 0.1 equal to the literal 0.1.
		f := strconv.FormatFloat(rv.Float(), 'f', -1, rv.Type().Bits())
		r, ok := new(big.Rat).SetString(f)
		if !ok {
			return Value{}, fmt.Errorf("invalid number %s", f)
		}
		return DecimalValue(r), nil
	case reflect.Slice, reflect.Array:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			if rv.Kind() == reflect.Slice {
				return StringValue(string(rv.Bytes())), nil
			}
			b := make([]byte, rv.Len())
			reflect.Copy(reflect.ValueOf(b), rv)
			return StringValue(string(b)), nil
		}
		if !allowList {
			return Value{}, fmt.Errorf("lists cannot be nested")
		}
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return Value{}, nil
		}
		vs := make([]Value, rv.Len())
		for i := range vs {
			e, err := of(rv.Index(i), false)
			if err != nil {
				return Value{}, fmt.Errorf("element %d: %s", i, err)
			}
			vs[i] = e
		}
		return ListValue(vs), nil
	}
	return Value{}, fmt.Errorf("unsupported kind %s", rv.Kind())
}
