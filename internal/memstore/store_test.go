package memstore

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/larder/pkg/criteria"
	"github.com/mesh-intelligence/larder/pkg/types"
)

func rec(class string, id int64, name string) types.Record {
	return types.Record{
		Class:  class,
		Key:    fmt.Sprintf("%s#%d", class, id),
		Values: map[string]any{"id": id, "name": name},
	}
}

func seeded(t *testing.T, n int) *Store {
	t.Helper()
	s := New()
	for i := 1; i <= n; i++ {
		require.NoError(t, s.Insert(rec("Item", int64(i), fmt.Sprintf("item-%02d", i))))
	}
	return s
}

func keys(recs []types.Record) []string {
	out := make([]string, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.Key)
	}
	return out
}

func TestInsertUpdateRemove(t *testing.T) {
	s := New()
	require.NoError(t, s.Insert(rec("Item", 1, "a")))
	assert.ErrorIs(t, s.Insert(rec("Item", 1, "again")), types.ErrDuplicateIdentity)

	require.NoError(t, s.Update(rec("Item", 1, "b")))
	got, ok, err := s.Find("item", "Item#1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "b", got.Values["name"])

	assert.ErrorIs(t, s.Update(rec("Item", 2, "x")), types.ErrRecordNotFound)
	assert.ErrorIs(t, s.Remove("Item", "Item#2"), types.ErrRecordNotFound)

	require.NoError(t, s.Remove("Item", "Item#1"))
	_, ok, err = s.Find("Item", "Item#1")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.ErrorIs(t, s.Insert(types.Record{Class: "Item"}), types.ErrInvalidKey)
}

func TestReadsReturnCopies(t *testing.T) {
	s := seeded(t, 1)
	got, _, err := s.Find("Item", "Item#1")
	require.NoError(t, err)
	got.Values["name"] = "mutated"

	again, _, err := s.Find("Item", "Item#1")
	require.NoError(t, err)
	assert.Equal(t, "item-01", again.Values["name"])
}

func TestFindOne(t *testing.T) {
	s := seeded(t, 3)
	require.NoError(t, s.Insert(rec("Item", 4, "item-01")))

	got, ok, err := s.FindOne("Item", criteria.Eq("name", "item-02"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Item#2", got.Key)

	_, ok, err = s.FindOne("Item", criteria.Eq("name", "none"))
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = s.FindOne("Item", criteria.Eq("name", "item-01"))
	assert.ErrorIs(t, err, types.ErrAmbiguousMatch)
}

func TestFindAllPaging(t *testing.T) {
	s := seeded(t, 10)
	order := criteria.Asc("id")

	tests := []struct {
		name    string
		page    types.Page
		want    []string
		wantErr error
	}{
		{"window", types.Page{First: 1, Limit: 4}, []string{"Item#2", "Item#3", "Item#4", "Item#5"}, nil},
		{"no limit", types.Page{First: 8}, []string{"Item#9", "Item#10"}, nil},
		{"limit past end", types.Page{First: 9, Limit: 5}, []string{"Item#10"}, nil},
		{"first beyond count", types.Page{First: 10}, []string{}, nil},
		{"negative first", types.Page{First: -1}, nil, types.ErrIndexOutOfRange},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.FindAll("Item", nil, order, tt.page)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, keys(got))
		})
	}
}

func TestFindAllFiltersAndOrders(t *testing.T) {
	s := seeded(t, 5)
	c, err := criteria.Parse("id >= 2 AND name <> 'item-04'")
	require.NoError(t, err)
	order, err := criteria.ParseOrderBy("id DESC")
	require.NoError(t, err)

	got, err := s.FindAll("Item", c, order, types.Page{})
	require.NoError(t, err)
	assert.Equal(t, []string{"Item#5", "Item#3", "Item#2"}, keys(got))

	n, err := s.Count("Item", c)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = s.Count("Item", nil)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	_, err = s.FindAll("Item", criteria.Eq("missing", 1), nil, types.Page{})
	assert.ErrorIs(t, err, types.ErrUnknownProperty)
}

func TestApplyIsAtomic(t *testing.T) {
	s := seeded(t, 2)

	err := s.Apply([]types.Change{
		{Op: types.OpInsert, Record: rec("Item", 3, "c")},
		{Op: types.OpUpdate, Record: rec("Item", 1, "changed")},
		{Op: types.OpDelete, Record: types.Record{Class: "Item", Key: "Item#9"}},
	})
	var ce *types.ChangeError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, 2, ce.Index)
	assert.ErrorIs(t, err, types.ErrRecordNotFound)

	n, _ := s.Count("Item", nil)
	assert.Equal(t, 2, n)
	got, _, _ := s.Find("Item", "Item#1")
	assert.Equal(t, "item-01", got.Values["name"])

	require.NoError(t, s.Apply([]types.Change{
		{Op: types.OpDelete, Record: types.Record{Class: "Item", Key: "Item#1"}},
		{Op: types.OpInsert, Record: rec("Item", 1, "reborn")},
		{Op: types.OpInsert, Record: rec("Item", 3, "c")},
	}))
	got, _, _ = s.Find("Item", "Item#1")
	assert.Equal(t, "reborn", got.Values["name"])
	n, _ = s.Count("Item", nil)
	assert.Equal(t, 3, n)
}

func TestApplyRejectsDuplicateInsertWithinBatch(t *testing.T) {
	s := New()
	err := s.Apply([]types.Change{
		{Op: types.OpInsert, Record: rec("Item", 1, "a")},
		{Op: types.OpInsert, Record: rec("Item", 1, "b")},
	})
	assert.ErrorIs(t, err, types.ErrDuplicateIdentity)
	n, _ := s.Count("Item", nil)
	assert.Equal(t, 0, n)
}

func TestAutoIncrementConcurrent(t *testing.T) {
	s := New()
	const workers, each = 8, 100

	var mu sync.Mutex
	seen := make(map[int64]bool)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < each; i++ {
				v, err := s.NextAutoIncrement("Order")
				if err != nil {
					t.Error(err)
					return
				}
				mu.Lock()
				seen[v] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, seen, workers*each)

	s.SeedAutoIncrement("order", 5000)
	v, err := s.NextAutoIncrement("Order")
	require.NoError(t, err)
	assert.Equal(t, int64(5001), v)

	s.SeedAutoIncrement("Order", 10)
	v, _ = s.NextAutoIncrement("Order")
	assert.Equal(t, int64(5002), v, "seeding never lowers a counter")
	assert.Equal(t, int64(5002), s.Counters()["order"])
}

func TestRecordsAndReset(t *testing.T) {
	s := seeded(t, 2)
	require.NoError(t, s.Insert(rec("Box", 1, "box")))

	assert.Equal(t, []string{"Box#1", "Item#1", "Item#2"}, keys(s.Records()))

	s.Reset()
	assert.Empty(t, s.Records())
}
