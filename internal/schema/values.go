package schema

import (
	"bytes"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cockroachdb/apd/v3"
)

var decimalCtx = apd.BaseContext.WithPrecision(34)

var dateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"01/02/2006",
	"20060102",
}

var dateTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// Zero returns the blank value for a field, used for new rows.
func Zero(f Field) any {
	switch f.Type {
	case TypeNumeric:
		return apd.New(0, -int32(f.Scale))
	case TypeInt, TypeLong:
		return int64(0)
	case TypeBool:
		return false
	case TypeDate, TypeDateTime:
		return time.Time{}
	default:
		return ""
	}
}

// Matches reports whether v already has the Go representation for t.
// nil matches every type.
func Matches(t TypeCode, v any) bool {
	switch v.(type) {
	case nil:
		return true
	case string:
		return t.IsString()
	case []byte:
		return t == TypeMemo
	case *apd.Decimal:
		return t == TypeNumeric
	case int64:
		return t == TypeInt || t == TypeLong
	case bool:
		return t == TypeBool
	case time.Time:
		return t == TypeDate || t == TypeDateTime
	}
	return false
}

// Coerce converts v to the Go representation for f's type.
func Coerce(f Field, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch f.Type {
	case TypeChar, TypeMemo:
		return toText(f, v)
	case TypeNumeric:
		return toDecimal(v, f.Scale)
	case TypeInt, TypeLong:
		return toInt(v)
	case TypeBool:
		return toBool(v)
	case TypeDate:
		t, err := toTime(v, dateLayouts)
		if err != nil {
			return nil, err
		}
		y, m, d := t.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, t.Location()), nil
	case TypeDateTime:
		return toTime(v, dateTimeLayouts)
	}
	return v, nil
}

func toText(f Field, v any) (any, error) {
	switch x := v.(type) {
	case string:
		return x, nil
	case []byte:
		if utf8.Valid(x) {
			return string(x), nil
		}
		if f.Type == TypeMemo {
			return x, nil
		}
		return nil, fmt.Errorf("invalid utf-8 in %q", f.Alias)
	case time.Time:
		return x.Format(time.RFC3339), nil
	case *apd.Decimal:
		return x.String(), nil
	case fmt.Stringer:
		return x.String(), nil
	default:
		return fmt.Sprint(x), nil
	}
}

func toDecimal(v any, scale int) (*apd.Decimal, error) {
	d := new(apd.Decimal)
	switch x := v.(type) {
	case *apd.Decimal:
		d.Set(x)
	case int64:
		d.SetInt64(x)
	case int:
		d.SetInt64(int64(x))
	case float64:
		if _, err := d.SetFloat64(x); err != nil {
			return nil, err
		}
	case string:
		if _, _, err := d.SetString(strings.TrimSpace(x)); err != nil {
			return nil, fmt.Errorf("invalid decimal %q: %w", x, err)
		}
	case []byte:
		if _, _, err := d.SetString(strings.TrimSpace(string(x))); err != nil {
			return nil, fmt.Errorf("invalid decimal %q: %w", x, err)
		}
	case bool:
		if x {
			d.SetInt64(1)
		}
	default:
		return nil, fmt.Errorf("cannot convert %T to decimal", v)
	}
	if scale > 0 {
		if _, err := decimalCtx.Quantize(d, d, -int32(scale)); err != nil {
			return nil, err
		}
	}
	return d, nil
}

func toInt(v any) (int64, error) {
	switch x := v.(type) {
	case int64:
		return x, nil
	case int:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case uint64:
		if x > math.MaxInt64 {
			return 0, fmt.Errorf("integer %d overflows int64", x)
		}
		return int64(x), nil
	case float64:
		if x != math.Trunc(x) {
			return 0, fmt.Errorf("non-integral value %v", x)
		}
		return int64(x), nil
	case bool:
		if x {
			return 1, nil
		}
		return 0, nil
	case *apd.Decimal:
		return x.Int64()
	case string:
		return strconv.ParseInt(strings.TrimSpace(x), 10, 64)
	case []byte:
		return strconv.ParseInt(strings.TrimSpace(string(x)), 10, 64)
	}
	return 0, fmt.Errorf("cannot convert %T to integer", v)
}

func toBool(v any) (bool, error) {
	switch x := v.(type) {
	case bool:
		return x, nil
	case int64:
		return x != 0, nil
	case int:
		return x != 0, nil
	case float64:
		return x != 0, nil
	case string, []byte:
		s := strings.ToLower(strings.TrimSpace(fmt.Sprintf("%s", x)))
		switch s {
		case "1", "t", "true", "y", "yes":
			return true, nil
		case "0", "f", "false", "n", "no", "":
			return false, nil
		}
		return false, fmt.Errorf("invalid boolean %q", s)
	}
	return false, fmt.Errorf("cannot convert %T to boolean", v)
}

func toTime(v any, layouts []string) (time.Time, error) {
	var s string
	switch x := v.(type) {
	case time.Time:
		return x, nil
	case string:
		s = x
	case []byte:
		s = string(x)
	case int64:
		return time.Unix(x, 0).UTC(), nil
	default:
		return time.Time{}, fmt.Errorf("cannot convert %T to time", v)
	}
	s = strings.TrimSpace(s)
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date/time %q", s)
}

// Equal reports whether two row values are the same for dirty tracking.
func Equal(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	switch x := a.(type) {
	case *apd.Decimal:
		if y, ok := b.(*apd.Decimal); ok {
			return x.Cmp(y) == 0
		}
	case time.Time:
		if y, ok := b.(time.Time); ok {
			return x.Equal(y)
		}
	case []byte:
		if y, ok := b.([]byte); ok {
			return bytes.Equal(x, y)
		}
	}
	if c, ok := compareNumbers(a, b); ok {
		return c == 0
	}
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb {
		return false
	}
	if ta.Comparable() {
		return a == b
	}
	return reflect.DeepEqual(a, b)
}

// Compare orders two values: nil sorts first, then by type-specific order.
// Values of unrelated types compare by their printed form.
func Compare(a, b any, caseSensitive bool) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	switch x := a.(type) {
	case string:
		if y, ok := b.(string); ok {
			if !caseSensitive {
				x, y = strings.ToLower(x), strings.ToLower(y)
			}
			return strings.Compare(x, y)
		}
	case *apd.Decimal:
		if y, ok := b.(*apd.Decimal); ok {
			return x.Cmp(y)
		}
	case time.Time:
		if y, ok := b.(time.Time); ok {
			return x.Compare(y)
		}
	case bool:
		if y, ok := b.(bool); ok {
			switch {
			case x == y:
				return 0
			case !x:
				return -1
			default:
				return 1
			}
		}
	case []byte:
		if y, ok := b.([]byte); ok {
			return bytes.Compare(x, y)
		}
	}
	if c, ok := compareNumbers(a, b); ok {
		return c
	}
	sa, sb := fmt.Sprint(a), fmt.Sprint(b)
	if !caseSensitive {
		sa, sb = strings.ToLower(sa), strings.ToLower(sb)
	}
	return strings.Compare(sa, sb)
}

// compareNumbers orders two numeric values. Integers compare exactly; a
// decimal against an integer compares as decimals; float is the fallback.
func compareNumbers(a, b any) (int, bool) {
	ai, aInt := asInt64(a)
	bi, bInt := asInt64(b)
	if aInt && bInt {
		return cmpInt64(ai, bi), true
	}
	ad, aDec := a.(*apd.Decimal)
	bd, bDec := b.(*apd.Decimal)
	switch {
	case aDec && bInt:
		return ad.Cmp(apd.New(bi, 0)), true
	case aInt && bDec:
		return apd.New(ai, 0).Cmp(bd), true
	}
	an, ok := asFloat(a)
	if !ok {
		return 0, false
	}
	bn, ok := asFloat(b)
	if !ok {
		return 0, false
	}
	switch {
	case an < bn:
		return -1, true
	case an > bn:
		return 1, true
	}
	return 0, true
}

func cmpInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func asInt64(v any) (int64, bool) {
	switch x := v.(type) {
	case int64:
		return x, true
	case int:
		return int64(x), true
	case int32:
		return int64(x), true
	}
	return 0, false
}

func asFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case int64:
		return float64(x), true
	case int:
		return float64(x), true
	case int32:
		return float64(x), true
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case *apd.Decimal:
		f, err := x.Float64()
		return f, err == nil
	}
	return 0, false
}
