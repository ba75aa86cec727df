package guard

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/larder/internal/identity"
	"github.com/mesh-intelligence/larder/internal/loader"
	"github.com/mesh-intelligence/larder/internal/memstore"
	"github.com/mesh-intelligence/larder/internal/testutil"
	"github.com/mesh-intelligence/larder/pkg/bo"
	"github.com/mesh-intelligence/larder/pkg/types"
)

const toyID = "0190c5d8-8d2a-7c1e-9a61-3f0a6f1b2c3d"

func newLoader(t *testing.T, action types.DeleteAction, recs ...types.Record) *loader.Loader {
	t.Helper()
	store := memstore.New()
	testutil.Seed(t, store, recs...)
	f := testutil.Factory(t, testutil.Catalog(t, action))
	return loader.New(store, identity.New(), f, nil)
}

func TestCanDeleteWithoutRelated(t *testing.T) {
	l := newLoader(t, types.DeleteRelated, testutil.ChildRec(10, 1, "a"))
	c, err := l.FindByKey("Child", 10)
	require.NoError(t, err)

	ok, reasons, err := New().CanDelete(c)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, reasons)
}

func TestPreventBlocksDelete(t *testing.T) {
	l := newLoader(t, types.DeleteRelated,
		testutil.ChildRec(10, 1, "a"),
		testutil.ToyRec(toyID, 10, "ball"),
	)
	c, err := l.FindByKey("Child", 10)
	require.NoError(t, err)

	ok, reasons, err := New().CanDelete(c)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, []string{`Child Child#10: relationship "toys" has 1 related Toy object(s)`}, reasons)

	err = New().Check(c)
	var dp *types.DeletePreventedError
	require.True(t, errors.As(err, &dp))
	assert.Equal(t, "Child#10", dp.Key)
	assert.ErrorIs(t, err, types.ErrDeletePrevented)
}

func TestPreventIgnoresRelatedMarkedForDelete(t *testing.T) {
	l := newLoader(t, types.DeleteRelated,
		testutil.ChildRec(10, 1, "a"),
		testutil.ToyRec(toyID, 10, "ball"),
	)
	c, err := l.FindByKey("Child", 10)
	require.NoError(t, err)
	toys, err := c.Relationships().GetMultiple("toys")
	require.NoError(t, err)
	require.Len(t, toys, 1)
	require.NoError(t, toys[0].MarkForDelete())

	ok, _, err := New().CanDelete(c)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPreventAppliesThroughCascade(t *testing.T) {
	recs := []types.Record{
		testutil.ParentRec(1, "Acme"),
		testutil.ChildRec(10, 1, "a"),
		testutil.ChildRec(11, 1, "b"),
		testutil.ToyRec(toyID, 11, "ball"),
	}

	l := newLoader(t, types.DeleteRelated, recs...)
	p, err := l.FindByKey("Parent", 1)
	require.NoError(t, err)
	ok, reasons, err := New().CanDelete(p)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, []string{`Child Child#11: relationship "children.toys" has 1 related Toy object(s)`}, reasons)

	l = newLoader(t, types.DeleteDereferenceRelated, recs...)
	p, err = l.FindByKey("Parent", 1)
	require.NoError(t, err)
	ok, _, err = New().CanDelete(p)
	require.NoError(t, err)
	assert.True(t, ok, "dereferenced children survive, so their prevent rules do not apply")
}

func TestPreventOnOwner(t *testing.T) {
	l := newLoader(t, types.DeletePrevent,
		testutil.ParentRec(1, "Acme"),
		testutil.ChildRec(10, 1, "a"),
		testutil.ChildRec(11, 1, "b"),
	)
	p, err := l.FindByKey("Parent", 1)
	require.NoError(t, err)

	ok, reasons, err := New().CanDelete(p)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, []string{`Parent Parent#1: relationship "children" has 2 related Child object(s)`}, reasons)
}

func TestCanDeleteAllReportsEachObjectOnce(t *testing.T) {
	l := newLoader(t, types.DeleteRelated,
		testutil.ParentRec(1, "Acme"),
		testutil.ChildRec(10, 1, "a"),
		testutil.ChildRec(11, 1, "b"),
		testutil.ToyRec(toyID, 11, "ball"),
	)
	p, err := l.FindByKey("Parent", 1)
	require.NoError(t, err)
	children, err := p.Relationships().GetMultiple("children")
	require.NoError(t, err)

	objs := append([]*bo.Object{p}, children...)
	ok, reasons, err := New().CanDeleteAll(objs)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, []string{`Child Child#11: relationship "children.toys" has 1 related Toy object(s)`}, reasons)
}
