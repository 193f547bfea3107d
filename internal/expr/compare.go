package expr

import (
	"math/big"
	"strings"
	"time"

	"github.com/canonical/sqlprune/internal/errs"
	"github.com/canonical/sqlprune/internal/value"
)

// compare applies a comparison operator to two values. It is the only place
// where operands of different kinds are coerced to a common form:
//
//   - lists cannot be compared;
//   - null equals only null and is neither less nor greater than anything;
//   - a bool on either side compares both sides by truthiness, false < true;
//   - dates compare chronologically with dates and with strings holding an
//     ISO 8601 date, and as text with anything else;
//   - a number compares numerically with a number or a numeric string;
//   - everything else compares as canonical text.
func compare(op operator, l, r value.Value) (bool, error) {
	if l.Kind() == value.List || r.Kind() == value.List {
		return false, &errs.ComparisonError{Op: string(op), Left: l.Kind().String(), Right: r.Kind().String()}
	}
	if l.Kind() == value.Null || r.Kind() == value.Null {
		same := l.Kind() == r.Kind()
		switch op {
		case opEq, opLe, opGe:
			return same, nil
		case opNe:
			return !same, nil
		}
		return false, nil
	}
	return apply(op, order(l, r)), nil
}

// order returns -1, 0 or 1 as l sorts before, equal to or after r. Neither
// value is null or a list.
func order(l, r value.Value) int {
	switch {
	case l.Kind() == value.Bool || r.Kind() == value.Bool:
		return boolInt(l.Truthy()) - boolInt(r.Truthy())
	case l.Kind() == value.Date || r.Kind() == value.Date:
		if lt, rt, ok := asDates(l, r); ok {
			return lt.Compare(rt)
		}
	case l.IsNumber() || r.IsNumber():
		ln, lok := asNumber(l)
		rn, rok := asNumber(r)
		if lok && rok {
			return ln.Cmp(rn)
		}
	}
	return strings.Compare(l.String(), r.String())
}

func apply(op operator, cmp int) bool {
	switch op {
	case opEq:
		return cmp == 0
	case opNe:
		return cmp != 0
	case opLt:
		return cmp < 0
	case opGt:
		return cmp > 0
	case opLe:
		return cmp <= 0
	case opGe:
		return cmp >= 0
	}
	panic("internal error: unknown comparison operator " + string(op))
}

// asDates converts both values to times when one is a date and the other a
// date or an ISO 8601 string.
func asDates(l, r value.Value) (time.Time, time.Time, bool) {
	lt, lok := asDate(l)
	rt, rok := asDate(r)
	return lt, rt, lok && rok
}

func asDate(v value.Value) (time.Time, bool) {
	switch v.Kind() {
	case value.Date:
		return v.Time(), true
	case value.String:
		return value.ParseDate(v.String())
	}
	return time.Time{}, false
}

func asNumber(v value.Value) (*big.Rat, bool) {
	switch v.Kind() {
	case value.Integer, value.Decimal:
		return v.Rat(), true
	case value.String:
		return value.ParseNumber(v.String())
	}
	return nil, false
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
