package criteria

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		expr string
		want Criteria
	}{
		{
			name: "empty expression",
			expr: "   ",
			want: nil,
		},
		{
			name: "single comparison",
			expr: "name = 'Acme'",
			want: Eq("name", "Acme"),
		},
		{
			name: "bang-equals is not-equals",
			expr: "rank != 3",
			want: Ne("rank", int64(3)),
		},
		{
			name: "and binds tighter than or",
			expr: "a = 1 OR b = 2 AND c = 3",
			want: Or{Terms: []Criteria{
				Eq("a", int64(1)),
				And{Terms: []Criteria{Eq("b", int64(2)), Eq("c", int64(3))}},
			}},
		},
		{
			name: "parentheses and not",
			expr: "NOT (a < 1.5 or b >= -2)",
			want: Not{Term: Or{Terms: []Criteria{Lt("a", 1.5), Ge("b", int64(-2))}}},
		},
		{
			name: "null forms",
			expr: "owner IS NULL AND parent IS NOT NULL AND x = null",
			want: And{Terms: []Criteria{IsNull("owner"), IsNotNull("parent"), Eq("x", nil)}},
		},
		{
			name: "like and escaped quote",
			expr: `name LIKE 'O''Brien%' AND title NOT LIKE "%draft%"`,
			want: And{Terms: []Criteria{
				Like("name", "O'Brien%"),
				Comparison{Property: "title", Op: OpNotLike, Value: "%draft%"},
			}},
		},
		{
			name: "in and not in",
			expr: "rank IN (1, 2) AND state NOT IN ('a')",
			want: And{Terms: []Criteria{
				In("rank", int64(1), int64(2)),
				Not{Term: In("state", "a")},
			}},
		},
		{
			name: "booleans",
			expr: "active = TRUE",
			want: Eq("active", true),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.expr)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseErrors(t *testing.T) {
	for _, expr := range []string{
		"name =",
		"name 'x'",
		"(a = 1",
		"a = 1 b = 2",
		"a = 'open",
		"AND = 1",
		"a IS 3",
		"a IN 1, 2",
		"a ! 1",
		"a = 1 #",
	} {
		t.Run(expr, func(t *testing.T) {
			_, err := Parse(expr)
			assert.ErrorIs(t, err, ErrInvalidCriteria)
		})
	}
}

func TestStringRoundTrip(t *testing.T) {
	for _, expr := range []string{
		"name = 'Acme' AND (rank > 3 OR NOT active = TRUE)",
		"a IN (1, 'two', 3.5) OR b IS NOT NULL",
		"title NOT LIKE '%it''s%'",
	} {
		t.Run(expr, func(t *testing.T) {
			first, err := Parse(expr)
			require.NoError(t, err)
			second, err := Parse(first.String())
			require.NoError(t, err)
			assert.Equal(t, first, second)
		})
	}
}
