// Package rules builds property validation rules from their definitions.
//
// Each rule checks one constraint on a non-nil canonical value and returns a
// reason suitable for showing to people. A RuleDef.Message replaces the
// generated reason.
package rules

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"time"
	"unicode/utf8"

	"github.com/mesh-intelligence/larder/pkg/bo"
	"github.com/mesh-intelligence/larder/pkg/criteria"
	"github.com/mesh-intelligence/larder/pkg/types"
)

// Rule definition errors.
var (
	ErrUnknownRule = errors.New("unknown rule kind")
	ErrBadRule     = errors.New("invalid rule definition")
)

// Build returns the rules declared on a property. It has the signature of
// bo.RuleBuilder.
func Build(def types.PropDef) ([]bo.Rule, error) {
	out := make([]bo.Rule, 0, len(def.Rules))
	for i, rd := range def.Rules {
		r, err := build(def.Label(), rd)
		if err != nil {
			return nil, fmt.Errorf("%s rule %d: %w", def.Name, i, err)
		}
		out = append(out, r)
	}
	return out, nil
}

func build(label string, rd types.RuleDef) (bo.Rule, error) {
	var check func(v any) (bool, string)
	switch rd.Kind {
	case types.RuleString:
		check = stringRule(label, rd)
	case types.RulePattern:
		re, err := regexp.Compile(rd.Pattern)
		if err != nil {
			return nil, fmt.Errorf("pattern %q: %v: %w", rd.Pattern, err, ErrBadRule)
		}
		check = patternRule(label, re)
	case types.RuleInteger:
		check = numberRule(label, rd, true)
	case types.RuleDecimal:
		check = numberRule(label, rd, false)
	case types.RuleDate:
		r, err := dateRule(label, rd)
		if err != nil {
			return nil, err
		}
		check = r
	default:
		return nil, fmt.Errorf("%q: %w", rd.Kind, ErrUnknownRule)
	}
	if rd.Message == "" {
		return bo.RuleFunc(check), nil
	}
	return bo.RuleFunc(func(v any) (bool, string) {
		if ok, _ := check(v); !ok {
			return false, rd.Message
		}
		return true, ""
	}), nil
}

func stringRule(label string, rd types.RuleDef) func(any) (bool, string) {
	return func(v any) (bool, string) {
		n := utf8.RuneCountInString(criteria.FormatValue(v))
		if rd.MinLength > 0 && n < rd.MinLength {
			return false, fmt.Sprintf("%s must be at least %d characters", label, rd.MinLength)
		}
		if rd.MaxLength > 0 && n > rd.MaxLength {
			return false, fmt.Sprintf("%s must be at most %d characters", label, rd.MaxLength)
		}
		return true, ""
	}
}

func patternRule(label string, re *regexp.Regexp) func(any) (bool, string) {
	return func(v any) (bool, string) {
		if !re.MatchString(criteria.FormatValue(v)) {
			return false, fmt.Sprintf("%s does not match %s", label, re)
		}
		return true, ""
	}
}

func numberRule(label string, rd types.RuleDef, integral bool) func(any) (bool, string) {
	return func(v any) (bool, string) {
		var f float64
		switch x := v.(type) {
		case int64:
			f = float64(x)
		case float64:
			f = x
		default:
			return false, fmt.Sprintf("%s must be a number", label)
		}
		if integral && f != math.Trunc(f) {
			return false, fmt.Sprintf("%s must be a whole number", label)
		}
		if rd.Min != nil && f < *rd.Min {
			return false, fmt.Sprintf("%s must be at least %s", label, criteria.FormatValue(*rd.Min))
		}
		if rd.Max != nil && f > *rd.Max {
			return false, fmt.Sprintf("%s must be at most %s", label, criteria.FormatValue(*rd.Max))
		}
		return true, ""
	}
}

func dateRule(label string, rd types.RuleDef) (func(any) (bool, string), error) {
	var after, before time.Time
	var err error
	if rd.After != "" {
		if after, err = criteria.ParseTime(rd.After); err != nil {
			return nil, fmt.Errorf("after %q: %w", rd.After, ErrBadRule)
		}
	}
	if rd.Before != "" {
		if before, err = criteria.ParseTime(rd.Before); err != nil {
			return nil, fmt.Errorf("before %q: %w", rd.Before, ErrBadRule)
		}
	}
	return func(v any) (bool, string) {
		t, ok := v.(time.Time)
		if !ok {
			return false, fmt.Sprintf("%s must be a date", label)
		}
		if !after.IsZero() && !t.After(after) {
			return false, fmt.Sprintf("%s must be after %s", label, rd.After)
		}
		if !before.IsZero() && !t.Before(before) {
			return false, fmt.Sprintf("%s must be before %s", label, rd.Before)
		}
		return true, ""
	}, nil
}
