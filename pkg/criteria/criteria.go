// Package criteria implements the predicate trees used to query domain
// objects and store records: comparisons combined with AND, OR, and NOT,
// evaluated in memory against any Source.
//
// Criteria is a sealed interface. Only Comparison, And, Or, and Not implement
// it, so stores can switch over the node types exhaustively.
package criteria

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Criteria errors.
var (
	ErrInvalidCriteria = errors.New("invalid criteria")
	ErrIncomparable    = errors.New("values are not comparable")
)

// Source supplies property values to a predicate.
type Source interface {
	PropertyValue(name string) (any, error)
}

// Criteria is a predicate over a Source.
type Criteria interface {
	// Matches evaluates the predicate against src.
	Matches(src Source) (bool, error)

	// String renders the predicate in the syntax Parse accepts.
	String() string

	criteriaNode()
}

// Op is a comparison operator.
type Op string

// Comparison operators.
const (
	OpEq      Op = "="
	OpNe      Op = "<>"
	OpLt      Op = "<"
	OpLe      Op = "<="
	OpGt      Op = ">"
	OpGe      Op = ">="
	OpLike    Op = "LIKE"
	OpNotLike Op = "NOT LIKE"
	OpIs      Op = "IS"
	OpIsNot   Op = "IS NOT"
	OpIn      Op = "IN"
)

// Comparison tests one property against a literal value. For OpIn the Value
// is a []any; for OpIs and OpIsNot it is nil.
type Comparison struct {
	Property string
	Op       Op
	Value    any
}

// And matches when every term matches.
type And struct {
	Terms []Criteria
}

// Or matches when any term matches.
type Or struct {
	Terms []Criteria
}

// Not inverts Term.
type Not struct {
	Term Criteria
}

func (Comparison) criteriaNode() {}
func (And) criteriaNode()        {}
func (Or) criteriaNode()         {}
func (Not) criteriaNode()        {}

// Eq returns property = value.
func Eq(property string, value any) Comparison { return Comparison{property, OpEq, value} }

// Ne returns property <> value.
func Ne(property string, value any) Comparison { return Comparison{property, OpNe, value} }

// Lt returns property < value.
func Lt(property string, value any) Comparison { return Comparison{property, OpLt, value} }

// Le returns property <= value.
func Le(property string, value any) Comparison { return Comparison{property, OpLe, value} }

// Gt returns property > value.
func Gt(property string, value any) Comparison { return Comparison{property, OpGt, value} }

// Ge returns property >= value.
func Ge(property string, value any) Comparison { return Comparison{property, OpGe, value} }

// Like returns property LIKE pattern, where % matches any run of characters
// and _ matches one character. Matching ignores case.
func Like(property, pattern string) Comparison { return Comparison{property, OpLike, pattern} }

// IsNull returns property IS NULL.
func IsNull(property string) Comparison { return Comparison{property, OpIs, nil} }

// IsNotNull returns property IS NOT NULL.
func IsNotNull(property string) Comparison { return Comparison{property, OpIsNot, nil} }

// In returns property IN (values...).
func In(property string, values ...any) Comparison { return Comparison{property, OpIn, values} }

// AllOf combines terms with AND. Nil terms are dropped; a single remaining
// term is returned as is and no terms yields nil, which matches everything.
func AllOf(terms ...Criteria) Criteria {
	kept := compact(terms)
	switch len(kept) {
	case 0:
		return nil
	case 1:
		return kept[0]
	}
	return And{Terms: kept}
}

// AnyOf combines terms with OR, dropping nil terms like AllOf.
func AnyOf(terms ...Criteria) Criteria {
	kept := compact(terms)
	switch len(kept) {
	case 0:
		return nil
	case 1:
		return kept[0]
	}
	return Or{Terms: kept}
}

// Negate returns NOT term.
func Negate(term Criteria) Criteria {
	return Not{Term: term}
}

func compact(terms []Criteria) []Criteria {
	kept := make([]Criteria, 0, len(terms))
	for _, t := range terms {
		if t != nil {
			kept = append(kept, t)
		}
	}
	return kept
}

// Match evaluates c against src. A nil c matches everything.
func Match(c Criteria, src Source) (bool, error) {
	if c == nil {
		return true, nil
	}
	return c.Matches(src)
}

// Matches implements Criteria.
func (c Comparison) Matches(src Source) (bool, error) {
	v, err := src.PropertyValue(c.Property)
	if err != nil {
		return false, err
	}

	switch c.Op {
	case OpIs:
		return v == nil, nil
	case OpIsNot:
		return v != nil, nil
	case OpEq:
		if c.Value == nil || v == nil {
			return c.Value == nil && v == nil, nil
		}
		cmp, err := Compare(v, c.Value)
		if err != nil {
			return false, fmt.Errorf("%s: %w", c.Property, err)
		}
		return cmp == 0, nil
	case OpNe:
		if c.Value == nil || v == nil {
			return (c.Value == nil) != (v == nil), nil
		}
		cmp, err := Compare(v, c.Value)
		if err != nil {
			return false, fmt.Errorf("%s: %w", c.Property, err)
		}
		return cmp != 0, nil
	case OpLt, OpLe, OpGt, OpGe:
		if c.Value == nil || v == nil {
			return false, nil
		}
		cmp, err := Compare(v, c.Value)
		if err != nil {
			return false, fmt.Errorf("%s: %w", c.Property, err)
		}
		switch c.Op {
		case OpLt:
			return cmp < 0, nil
		case OpLe:
			return cmp <= 0, nil
		case OpGt:
			return cmp > 0, nil
		default:
			return cmp >= 0, nil
		}
	case OpLike, OpNotLike:
		pattern, ok := c.Value.(string)
		if !ok {
			return false, fmt.Errorf("%s %s needs a string pattern: %w", c.Property, c.Op, ErrInvalidCriteria)
		}
		if v == nil {
			return false, nil
		}
		matched, err := likeMatch(FormatValue(v), pattern)
		if err != nil {
			return false, err
		}
		return matched == (c.Op == OpLike), nil
	case OpIn:
		values, ok := c.Value.([]any)
		if !ok {
			return false, fmt.Errorf("%s IN needs a list: %w", c.Property, ErrInvalidCriteria)
		}
		for _, want := range values {
			if want == nil || v == nil {
				if want == nil && v == nil {
					return true, nil
				}
				continue
			}
			cmp, err := Compare(v, want)
			if err != nil {
				return false, fmt.Errorf("%s: %w", c.Property, err)
			}
			if cmp == 0 {
				return true, nil
			}
		}
		return false, nil
	}
	return false, fmt.Errorf("operator %q: %w", c.Op, ErrInvalidCriteria)
}

// Matches implements Criteria.
func (a And) Matches(src Source) (bool, error) {
	for _, t := range a.Terms {
		ok, err := t.Matches(src)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

// Matches implements Criteria.
func (o Or) Matches(src Source) (bool, error) {
	for _, t := range o.Terms {
		ok, err := t.Matches(src)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// Matches implements Criteria.
func (n Not) Matches(src Source) (bool, error) {
	ok, err := n.Term.Matches(src)
	if err != nil {
		return false, err
	}
	return !ok, nil
}

func (c Comparison) String() string {
	switch c.Op {
	case OpIs, OpIsNot:
		return fmt.Sprintf("%s %s NULL", c.Property, c.Op)
	case OpIn:
		values, _ := c.Value.([]any)
		parts := make([]string, 0, len(values))
		for _, v := range values {
			parts = append(parts, literal(v))
		}
		return fmt.Sprintf("%s IN (%s)", c.Property, strings.Join(parts, ", "))
	}
	return fmt.Sprintf("%s %s %s", c.Property, c.Op, literal(c.Value))
}

func (a And) String() string { return join(a.Terms, " AND ") }

func (o Or) String() string { return join(o.Terms, " OR ") }

func (n Not) String() string { return "NOT " + group(n.Term) }

func join(terms []Criteria, sep string) string {
	parts := make([]string, 0, len(terms))
	for _, t := range terms {
		parts = append(parts, group(t))
	}
	return strings.Join(parts, sep)
}

// group parenthesizes composite terms so the rendering re-parses to the same
// tree.
func group(c Criteria) string {
	if _, ok := c.(Comparison); ok {
		return c.String()
	}
	return "(" + c.String() + ")"
}

func likeMatch(s, pattern string) (bool, error) {
	var b strings.Builder
	b.WriteString("(?is)^")
	for _, r := range pattern {
		switch r {
		case '%':
			b.WriteString(".*")
		case '_':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	re, err := regexp.Compile(b.String())
	if err != nil {
		return false, fmt.Errorf("pattern %q: %w", pattern, ErrInvalidCriteria)
	}
	return re.MatchString(s), nil
}
