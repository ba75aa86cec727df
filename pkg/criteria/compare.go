package criteria

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Compare orders two values. Nil sorts before everything else. Integer types
// widen to int64 and mix with float64; a string compared with a typed value
// is parsed as that type. Returns ErrIncomparable for unrelated types.
func Compare(a, b any) (int, error) {
	a, b = widen(a), widen(b)
	switch {
	case a == nil && b == nil:
		return 0, nil
	case a == nil:
		return -1, nil
	case b == nil:
		return 1, nil
	}

	a, b, err := unify(a, b)
	if err != nil {
		return 0, err
	}

	switch x := a.(type) {
	case string:
		if y, ok := b.(string); ok {
			return strings.Compare(x, y), nil
		}
	case int64:
		if y, ok := b.(int64); ok {
			return cmpOrdered(x, y), nil
		}
	case float64:
		if y, ok := b.(float64); ok {
			return cmpOrdered(x, y), nil
		}
	case bool:
		if y, ok := b.(bool); ok {
			switch {
			case x == y:
				return 0, nil
			case !x:
				return -1, nil
			default:
				return 1, nil
			}
		}
	case time.Time:
		if y, ok := b.(time.Time); ok {
			return x.Compare(y), nil
		}
	case uuid.UUID:
		if y, ok := b.(uuid.UUID); ok {
			return bytes.Compare(x[:], y[:]), nil
		}
	case fmt.Stringer:
		if y, ok := b.(fmt.Stringer); ok {
			return strings.Compare(x.String(), y.String()), nil
		}
	}
	return 0, fmt.Errorf("%T and %T: %w", a, b, ErrIncomparable)
}

// Equal reports whether Compare considers a and b equal. Incomparable values
// are not equal.
func Equal(a, b any) bool {
	c, err := Compare(a, b)
	return err == nil && c == 0
}

func cmpOrdered[T int64 | float64](x, y T) int {
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	}
	return 0
}

// widen maps the integer and float kinds onto int64 and float64.
func widen(v any) any {
	switch x := v.(type) {
	case int:
		return int64(x)
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case uint:
		return int64(x)
	case uint8:
		return int64(x)
	case uint16:
		return int64(x)
	case uint32:
		return int64(x)
	case uint64:
		return int64(x)
	case float32:
		return float64(x)
	case *time.Time:
		if x == nil {
			return nil
		}
		return *x
	}
	return v
}

// unify mixes int64 with float64 and parses a string operand as the type of
// the other operand.
func unify(a, b any) (any, any, error) {
	switch x := a.(type) {
	case int64:
		if y, ok := b.(float64); ok {
			return float64(x), y, nil
		}
	case float64:
		if y, ok := b.(int64); ok {
			return x, float64(y), nil
		}
	}

	sa, aIsString := a.(string)
	sb, bIsString := b.(string)
	switch {
	case aIsString && !bIsString:
		conv, err := parseAs(sa, b)
		if err != nil {
			return nil, nil, err
		}
		return unify(conv, b)
	case bIsString && !aIsString:
		conv, err := parseAs(sb, a)
		if err != nil {
			return nil, nil, err
		}
		return unify(a, conv)
	}
	return a, b, nil
}

// parseAs parses s into the dynamic type of like.
func parseAs(s string, like any) (any, error) {
	s = strings.TrimSpace(s)
	switch like.(type) {
	case int64:
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n, nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("%q as number: %w", s, ErrIncomparable)
		}
		return f, nil
	case float64:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("%q as number: %w", s, ErrIncomparable)
		}
		return f, nil
	case bool:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return nil, fmt.Errorf("%q as bool: %w", s, ErrIncomparable)
		}
		return b, nil
	case time.Time:
		t, err := ParseTime(s)
		if err != nil {
			return nil, fmt.Errorf("%q as time: %w", s, ErrIncomparable)
		}
		return t, nil
	case uuid.UUID:
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("%q as uuid: %w", s, ErrIncomparable)
		}
		return id, nil
	}
	return nil, fmt.Errorf("string and %T: %w", like, ErrIncomparable)
}

// timeLayouts are tried in order by ParseTime.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// ParseTime parses the time formats accepted in criteria literals and
// property conversion.
func ParseTime(s string) (time.Time, error) {
	var lastErr error
	for _, layout := range timeLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

// FormatValue renders a value as plain text: nil is empty, times use
// RFC 3339 with nanoseconds, everything else uses its default format.
func FormatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case time.Time:
		return x.Format(time.RFC3339Nano)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case fmt.Stringer:
		return x.String()
	}
	return fmt.Sprint(v)
}

// literal renders v in criteria syntax.
func literal(v any) string {
	switch x := widen(v).(type) {
	case nil:
		return "NULL"
	case bool:
		if x {
			return "TRUE"
		}
		return "FALSE"
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		s := strconv.FormatFloat(x, 'f', -1, 64)
		if !strings.ContainsAny(s, ".eE") {
			s += ".0"
		}
		return s
	}
	return "'" + strings.ReplaceAll(FormatValue(v), "'", "''") + "'"
}
