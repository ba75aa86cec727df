package criteria

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOrderBy(t *testing.T) {
	o, err := ParseOrderBy("name DESC, id, rank asc")
	require.NoError(t, err)
	assert.Equal(t, OrderBy{
		{Property: "name", Desc: true},
		{Property: "id"},
		{Property: "rank"},
	}, o)
	assert.Equal(t, "name DESC, id, rank", o.String())

	empty, err := ParseOrderBy("")
	require.NoError(t, err)
	assert.Nil(t, empty)

	_, err = ParseOrderBy("name sideways")
	assert.ErrorIs(t, err, ErrInvalidCriteria)
	_, err = ParseOrderBy("name desc extra")
	assert.ErrorIs(t, err, ErrInvalidCriteria)
}

func TestSort(t *testing.T) {
	rows := []row{
		{"name": "b", "rank": int64(2)},
		{"name": "a", "rank": int64(2)},
		{"name": "c", "rank": nil},
		{"name": "d", "rank": int64(1)},
	}

	require.NoError(t, Sort(rows, OrderBy{{Property: "rank", Desc: true}, {Property: "name"}}))
	names := make([]string, 0, len(rows))
	for _, r := range rows {
		names = append(names, r["name"].(string))
	}
	assert.Equal(t, []string{"a", "b", "d", "c"}, names)
}

func TestSortIsStableWithoutOrder(t *testing.T) {
	rows := []row{{"name": "z"}, {"name": "a"}}
	require.NoError(t, Sort(rows, nil))
	assert.Equal(t, "z", rows[0]["name"])
}

func TestSortReportsComparisonError(t *testing.T) {
	rows := []row{{"v": true}, {"v": 1.5}}
	err := Sort(rows, Asc("v"))
	assert.ErrorIs(t, err, ErrIncomparable)
}
