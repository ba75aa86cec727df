package bo

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mesh-intelligence/larder/pkg/criteria"
	"github.com/mesh-intelligence/larder/pkg/types"
)

// Converter turns a value supplied by a caller, a store, or a file into the
// canonical form a property holds. Set runs the converter before the dirty
// comparison, so "5" and 5 assigned to an int property are the same value.
type Converter interface {
	Convert(v any) (any, error)
}

// ConverterFunc adapts a function to Converter.
type ConverterFunc func(v any) (any, error)

// Convert implements Converter.
func (f ConverterFunc) Convert(v any) (any, error) { return f(v) }

// typeConverters maps each value type to its converter. The converters are
// stateless and shared.
var typeConverters = map[string]Converter{
	types.ValueTypeString: ConverterFunc(toString),
	types.ValueTypeInt:    ConverterFunc(toInt),
	types.ValueTypeFloat:  ConverterFunc(toFloat),
	types.ValueTypeBool:   ConverterFunc(toBool),
	types.ValueTypeTime:   ConverterFunc(toTime),
	types.ValueTypeUUID:   ConverterFunc(toUUID),
	types.ValueTypeAny:    ConverterFunc(func(v any) (any, error) { return v, nil }),
}

// ConverterFor returns the converter for a value type. Unknown types get the
// identity converter.
func ConverterFor(valueType string) Converter {
	if c, ok := typeConverters[valueType]; ok {
		return c
	}
	return typeConverters[types.ValueTypeAny]
}

func convErr(v any, target string) error {
	return fmt.Errorf("cannot convert %v (%T) to %s: %w", v, v, target, types.ErrConversion)
}

func toString(v any) (any, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case string:
		return x, nil
	case []byte:
		return string(x), nil
	}
	return criteria.FormatValue(v), nil
}

func toInt(v any) (any, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case int:
		return int64(x), nil
	case int8:
		return int64(x), nil
	case int16:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case int64:
		return x, nil
	case uint:
		return int64(x), nil
	case uint8:
		return int64(x), nil
	case uint16:
		return int64(x), nil
	case uint32:
		return int64(x), nil
	case uint64:
		if x > math.MaxInt64 {
			return nil, convErr(v, types.ValueTypeInt)
		}
		return int64(x), nil
	case float32:
		return toInt(float64(x))
	case float64:
		if x != math.Trunc(x) || math.IsInf(x, 0) || math.IsNaN(x) {
			return nil, convErr(v, types.ValueTypeInt)
		}
		return int64(x), nil
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return nil, nil
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, convErr(v, types.ValueTypeInt)
		}
		return n, nil
	}
	return nil, convErr(v, types.ValueTypeInt)
}

func toFloat(v any) (any, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return nil, nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, convErr(v, types.ValueTypeFloat)
		}
		return f, nil
	}
	n, err := toInt(v)
	if err != nil {
		return nil, convErr(v, types.ValueTypeFloat)
	}
	return float64(n.(int64)), nil
}

func toBool(v any) (any, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case bool:
		return x, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(x)) {
		case "":
			return nil, nil
		case "true", "t", "yes", "y", "1":
			return true, nil
		case "false", "f", "no", "n", "0":
			return false, nil
		}
		return nil, convErr(v, types.ValueTypeBool)
	}
	n, err := toInt(v)
	if err != nil {
		return nil, convErr(v, types.ValueTypeBool)
	}
	switch n.(int64) {
	case 0:
		return false, nil
	case 1:
		return true, nil
	}
	return nil, convErr(v, types.ValueTypeBool)
}

func toTime(v any) (any, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case time.Time:
		return x.Round(0), nil
	case *time.Time:
		if x == nil {
			return nil, nil
		}
		return x.Round(0), nil
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return nil, nil
		}
		t, err := criteria.ParseTime(s)
		if err != nil {
			return nil, convErr(v, types.ValueTypeTime)
		}
		return t, nil
	}
	return nil, convErr(v, types.ValueTypeTime)
}

func toUUID(v any) (any, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case uuid.UUID:
		return x, nil
	case [16]byte:
		return uuid.UUID(x), nil
	case []byte:
		id, err := uuid.FromBytes(x)
		if err != nil {
			return nil, convErr(v, types.ValueTypeUUID)
		}
		return id, nil
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return nil, nil
		}
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, convErr(v, types.ValueTypeUUID)
		}
		return id, nil
	}
	return nil, convErr(v, types.ValueTypeUUID)
}

// LookupConverter resolves display text from a lookup list to the stored
// key, then converts the key with the property's type converter. Values that
// already are stored keys pass through.
//
// It remembers the last input and output, so a form or import that assigns
// the same display text repeatedly skips the list scan. The cache makes a
// LookupConverter stateful: each property gets its own.
type LookupConverter struct {
	base    Converter
	display map[string]string // display text -> stored key
	stored  map[string]string // stored key -> display text

	cached  bool
	lastIn  string
	lastOut any
}

// NewLookupConverter builds a converter over list, which maps display text
// to stored key.
func NewLookupConverter(list map[string]string, base Converter) *LookupConverter {
	c := &LookupConverter{
		base:    base,
		display: make(map[string]string, len(list)),
		stored:  make(map[string]string, len(list)),
	}
	for display, key := range list {
		c.display[display] = key
		c.stored[key] = display
	}
	return c
}

// Convert implements Converter.
func (c *LookupConverter) Convert(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	s, isString := v.(string)
	if isString && c.cached && s == c.lastIn {
		return c.lastOut, nil
	}

	key := criteria.FormatValue(v)
	if isString {
		if k, ok := c.display[s]; ok {
			key = k
		} else if _, ok := c.stored[s]; !ok {
			return nil, fmt.Errorf("%q is not in the lookup list: %w", s, types.ErrConversion)
		}
	} else if _, ok := c.stored[key]; !ok {
		return nil, fmt.Errorf("%v is not in the lookup list: %w", v, types.ErrConversion)
	}

	out, err := c.base.Convert(key)
	if err != nil {
		return nil, err
	}
	if isString {
		c.cached, c.lastIn, c.lastOut = true, s, out
	}
	return out, nil
}

// Display returns the display text for a stored value, or false when the
// value is not in the list.
func (c *LookupConverter) Display(v any) (string, bool) {
	d, ok := c.stored[criteria.FormatValue(v)]
	return d, ok
}
