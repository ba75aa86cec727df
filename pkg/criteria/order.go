package criteria

import (
	"fmt"
	"slices"
	"strings"
)

// OrderField sorts by one property.
type OrderField struct {
	Property string
	Desc     bool
}

// OrderBy sorts by each field in turn.
type OrderBy []OrderField

// Asc returns an ascending OrderBy over the given properties.
func Asc(properties ...string) OrderBy {
	o := make(OrderBy, 0, len(properties))
	for _, p := range properties {
		o = append(o, OrderField{Property: p})
	}
	return o
}

// ParseOrderBy parses "name DESC, id" style order clauses. An empty string
// yields a nil OrderBy.
func ParseOrderBy(s string) (OrderBy, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var o OrderBy
	for _, part := range strings.Split(s, ",") {
		fields := strings.Fields(part)
		switch len(fields) {
		case 1:
			o = append(o, OrderField{Property: fields[0]})
		case 2:
			switch strings.ToUpper(fields[1]) {
			case "ASC":
				o = append(o, OrderField{Property: fields[0]})
			case "DESC":
				o = append(o, OrderField{Property: fields[0], Desc: true})
			default:
				return nil, fmt.Errorf("order direction %q: %w", fields[1], ErrInvalidCriteria)
			}
		default:
			return nil, fmt.Errorf("order clause %q: %w", strings.TrimSpace(part), ErrInvalidCriteria)
		}
	}
	return o, nil
}

func (o OrderBy) String() string {
	parts := make([]string, 0, len(o))
	for _, f := range o {
		if f.Desc {
			parts = append(parts, f.Property+" DESC")
		} else {
			parts = append(parts, f.Property)
		}
	}
	return strings.Join(parts, ", ")
}

// Compare orders a and b by each field in turn.
func (o OrderBy) Compare(a, b Source) (int, error) {
	for _, f := range o {
		av, err := a.PropertyValue(f.Property)
		if err != nil {
			return 0, err
		}
		bv, err := b.PropertyValue(f.Property)
		if err != nil {
			return 0, err
		}
		c, err := Compare(av, bv)
		if err != nil {
			return 0, fmt.Errorf("order by %s: %w", f.Property, err)
		}
		if c != 0 {
			if f.Desc {
				return -c, nil
			}
			return c, nil
		}
	}
	return 0, nil
}

// Sort sorts items in place by o, keeping the original order of equal items.
// The first comparison error stops ordering decisions and is returned.
func Sort[S ~[]E, E Source](items S, o OrderBy) error {
	if len(o) == 0 {
		return nil
	}
	var firstErr error
	slices.SortStableFunc(items, func(a, b E) int {
		if firstErr != nil {
			return 0
		}
		c, err := o.Compare(a, b)
		if err != nil {
			firstErr = err
			return 0
		}
		return c
	})
	return firstErr
}
