package txn

import (
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/larder/internal/guard"
	"github.com/mesh-intelligence/larder/internal/identity"
	"github.com/mesh-intelligence/larder/internal/loader"
	"github.com/mesh-intelligence/larder/internal/memstore"
	"github.com/mesh-intelligence/larder/internal/testutil"
	"github.com/mesh-intelligence/larder/pkg/bo"
	"github.com/mesh-intelligence/larder/pkg/types"
)

const toyID = "0190c5d8-8d2a-7c1e-9a61-3f0a6f1b2c3d"

type env struct {
	store    types.DataStore
	mem      *memstore.Store
	registry *identity.Registry
	loader   *loader.Loader
	factory  *bo.Factory
}

func newEnv(t *testing.T, action types.DeleteAction, recs ...types.Record) *env {
	t.Helper()
	mem := memstore.New()
	testutil.Seed(t, mem, recs...)
	registry := identity.New()
	f := testutil.Factory(t, testutil.Catalog(t, action))
	return &env{
		store:    mem,
		mem:      mem,
		registry: registry,
		loader:   loader.New(mem, registry, f, nil),
		factory:  f,
	}
}

func (e *env) committer() *Committer {
	return New(e.store, e.registry, guard.New(), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func (e *env) commit(roots ...*bo.Object) (types.CommitResult, error) {
	return e.committer().Commit(roots...)
}

func (e *env) mustLoad(t *testing.T, class string, key any) *bo.Object {
	t.Helper()
	o, err := e.loader.FindByKey(class, key)
	require.NoError(t, err)
	require.NotNil(t, o)
	return o
}

func (e *env) stored(t *testing.T, class string, key any) (types.Record, bool) {
	t.Helper()
	k, err := e.factory.KeyOf(class, key)
	require.NoError(t, err)
	rec, ok, err := e.mem.Find(class, k)
	require.NoError(t, err)
	return rec, ok
}

func familyRecords() []types.Record {
	return []types.Record{
		testutil.ParentRec(1, "P1"),
		testutil.ChildRec(10, 1, "C1"),
		testutil.ChildRec(11, 1, "C2"),
	}
}

func TestCascadeDeleteRemovesFamily(t *testing.T) {
	e := newEnv(t, types.DeleteRelated, familyRecords()...)
	p := e.mustLoad(t, "Parent", 1)
	children, err := p.Relationships().GetMultiple("children")
	require.NoError(t, err)
	require.Len(t, children, 2)

	require.NoError(t, p.MarkForDelete())
	c := e.committer()
	result, err := c.Commit(p)
	require.NoError(t, err)
	assert.Equal(t, StateCommitted, c.State())
	assert.Equal(t, types.CommitResult{Deleted: 3}, result)

	for _, o := range append(children, p) {
		assert.True(t, o.IsDeleted())
		assert.Nil(t, e.registry.Find(o.Key()))
	}
	n, _ := e.mem.Count("Child", nil)
	assert.Equal(t, 0, n)
	n, _ = e.mem.Count("Parent", nil)
	assert.Equal(t, 0, n)

	found, err := e.loader.FindByKey("Parent", 1)
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestInsertAssignsAndPropagatesKeys(t *testing.T) {
	e := newEnv(t, types.DeleteRelated)
	e.mem.SeedAutoIncrement("Parent", 6)

	p, err := e.factory.New("Parent")
	require.NoError(t, err)
	require.NoError(t, p.Set("name", "Acme"))
	rel, err := p.Relationships().Get("children")
	require.NoError(t, err)

	var kids []*bo.Object
	for _, name := range []string{"a", "b"} {
		c, err := e.factory.New("Child")
		require.NoError(t, err)
		require.NoError(t, c.Set("name", name))
		require.NoError(t, rel.Add(c))
		kids = append(kids, c)
	}

	result, err := e.commit(p)
	require.NoError(t, err)
	assert.Equal(t, types.CommitResult{Inserted: 3}, result)

	id, _ := p.Get("id")
	assert.Equal(t, int64(7), id)
	assert.Equal(t, bo.StatusClean, p.Status())
	assert.Same(t, p, e.registry.Find("Parent#7"))

	for i, c := range kids {
		parentID, _ := c.Get("parentId")
		assert.Equal(t, int64(7), parentID)
		childID, _ := c.Get("id")
		assert.Equal(t, int64(i+1), childID)
		assert.Equal(t, bo.StatusClean, c.Status())

		rec, ok := e.stored(t, "Child", childID)
		require.True(t, ok)
		assert.Equal(t, int64(7), rec.Values["parentId"])
	}
	added, _ := rel.Pending()
	assert.Empty(t, added)
}

func TestValidationFailureWritesNothing(t *testing.T) {
	e := newEnv(t, types.DeleteRelated)
	p, err := e.factory.New("Parent")
	require.NoError(t, err)
	c, err := e.factory.New("Child")
	require.NoError(t, err)
	require.NoError(t, c.Set("name", "this name is far too long to pass"))
	rel, _ := p.Relationships().Get("children")
	require.NoError(t, rel.Add(c))

	tx := e.committer()
	_, err = tx.Commit(p)
	var ve *types.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.ErrorIs(t, err, types.ErrValidation)
	assert.Equal(t, StateRolledBack, tx.State())
	assert.Equal(t, []string{
		"Parent.name: name is compulsory",
		"Child.name: name must be at most 20 characters",
	}, ve.Reasons())

	assert.Empty(t, e.mem.Records())
	assert.True(t, p.IsNew())
	name, _ := c.Get("name")
	assert.Equal(t, "this name is far too long to pass", name, "edits are kept")
}

func TestDeletePreventedWritesNothing(t *testing.T) {
	recs := append(familyRecords(), testutil.ToyRec(toyID, 11, "ball"))
	e := newEnv(t, types.DeleteRelated, recs...)
	p := e.mustLoad(t, "Parent", 1)
	require.NoError(t, p.MarkForDelete())

	_, err := e.commit(p)
	var dp *types.DeletePreventedError
	require.True(t, errors.As(err, &dp))
	assert.Equal(t, "Parent#1", dp.Key)
	assert.Equal(t, []string{`Child Child#11: relationship "children.toys" has 1 related Toy object(s)`}, dp.Reasons)

	n, _ := e.mem.Count("Child", nil)
	assert.Equal(t, 2, n)
	assert.True(t, p.IsMarkedForDelete())

	p.CancelEdits()
	assert.False(t, p.IsDirty())
}

func TestDereferenceOnDelete(t *testing.T) {
	e := newEnv(t, types.DeleteDereferenceRelated, familyRecords()...)
	p := e.mustLoad(t, "Parent", 1)
	require.NoError(t, p.MarkForDelete())

	result, err := e.commit(p)
	require.NoError(t, err)
	assert.Equal(t, types.CommitResult{Updated: 2, Deleted: 1}, result)

	rec, ok := e.stored(t, "Child", 10)
	require.True(t, ok)
	assert.Nil(t, rec.Values["parentId"])
	_, ok = e.stored(t, "Parent", 1)
	assert.False(t, ok)
}

func TestUpdateAndKeyChange(t *testing.T) {
	e := newEnv(t, types.DeleteRelated, familyRecords()...)
	c := e.mustLoad(t, "Child", 10)

	require.NoError(t, c.Set("name", "renamed"))
	result, err := e.commit(c)
	require.NoError(t, err)
	assert.Equal(t, types.CommitResult{Updated: 1}, result)
	rec, _ := e.stored(t, "Child", 10)
	assert.Equal(t, "renamed", rec.Values["name"])
	assert.False(t, c.IsDirty())

	require.NoError(t, c.Set("id", 20))
	_, err = e.commit(c)
	require.NoError(t, err)
	_, ok := e.stored(t, "Child", 10)
	assert.False(t, ok)
	_, ok = e.stored(t, "Child", 20)
	assert.True(t, ok)
	assert.Nil(t, e.registry.Find("Child#10"))
	assert.Same(t, c, e.registry.Find("Child#20"))
}

func TestEditedForeignKeyWinsOverCachedParent(t *testing.T) {
	recs := append(familyRecords(), testutil.ParentRec(2, "P2"))
	e := newEnv(t, types.DeleteRelated, recs...)
	c := e.mustLoad(t, "Child", 10)
	parent, err := c.Relationships().GetSingle("parent")
	require.NoError(t, err)
	require.Equal(t, "Parent#1", parent.Key())

	require.NoError(t, c.Set("parentId", 2))
	result, err := e.commit(c)
	require.NoError(t, err)
	assert.Equal(t, types.CommitResult{Updated: 1}, result)

	rec, _ := e.stored(t, "Child", 10)
	assert.Equal(t, int64(2), rec.Values["parentId"])
	v, _ := c.Get("parentId")
	assert.Equal(t, int64(2), v)

	parent, err = c.Relationships().GetSingle("parent")
	require.NoError(t, err)
	assert.Equal(t, "Parent#2", parent.Key())
}

func TestCascadeSkipsChildMovedAway(t *testing.T) {
	recs := append(familyRecords(), testutil.ParentRec(2, "P2"))
	e := newEnv(t, types.DeleteRelated, recs...)
	moved := e.mustLoad(t, "Child", 10)
	require.NoError(t, moved.Set("parentId", 2))

	p := e.mustLoad(t, "Parent", 1)
	children, err := p.Relationships().GetMultiple("children")
	require.NoError(t, err)
	require.Len(t, children, 1)
	assert.Equal(t, "Child#11", children[0].Key())

	require.NoError(t, p.MarkForDelete())
	result, err := e.commit(p, moved)
	require.NoError(t, err)
	assert.Equal(t, types.CommitResult{Updated: 1, Deleted: 2}, result)

	rec, ok := e.stored(t, "Child", 10)
	require.True(t, ok)
	assert.Equal(t, int64(2), rec.Values["parentId"])
	assert.False(t, moved.IsDeleted())
	_, ok = e.stored(t, "Child", 11)
	assert.False(t, ok)
}

func TestRemoveFromRelationshipUpdatesChild(t *testing.T) {
	e := newEnv(t, types.DeleteRelated, familyRecords()...)
	p := e.mustLoad(t, "Parent", 1)
	c := e.mustLoad(t, "Child", 11)
	rel, err := p.Relationships().Get("children")
	require.NoError(t, err)
	require.NoError(t, rel.Remove(c))

	result, err := e.commit(p)
	require.NoError(t, err)
	assert.Equal(t, types.CommitResult{Updated: 1}, result)
	rec, _ := e.stored(t, "Child", 11)
	assert.Nil(t, rec.Values["parentId"])

	_, removed := rel.Pending()
	assert.Empty(t, removed)
	assert.False(t, p.IsDirty())
}

func TestDuplicateIdentityRejected(t *testing.T) {
	e := newEnv(t, types.DeleteRelated, familyRecords()...)
	e.mustLoad(t, "Parent", 1)

	p, err := e.factory.New("Parent")
	require.NoError(t, err)
	require.NoError(t, p.Set("id", 1))
	require.NoError(t, p.Set("name", "Twin"))

	_, err = e.commit(p)
	assert.ErrorIs(t, err, types.ErrDuplicateIdentity)
	rec, _ := e.stored(t, "Parent", 1)
	assert.Equal(t, "P1", rec.Values["name"])
}

func TestPersistFailureRollsBack(t *testing.T) {
	// Parent#5 exists in the store but was never loaded, so only the store
	// notices the clash.
	e := newEnv(t, types.DeleteRelated, testutil.ParentRec(5, "Existing"))

	fresh, err := e.factory.New("Parent")
	require.NoError(t, err)
	require.NoError(t, fresh.Set("name", "Fresh"))

	clash, err := e.factory.New("Parent")
	require.NoError(t, err)
	require.NoError(t, clash.Set("id", 5))
	require.NoError(t, clash.Set("name", "Clash"))

	child, err := e.factory.New("Child")
	require.NoError(t, err)
	require.NoError(t, child.Set("name", "kid"))
	rel, _ := fresh.Relationships().Get("children")
	require.NoError(t, rel.Add(child))

	tx := e.committer()
	_, err = tx.Commit(fresh, clash)
	var pe *types.PersistError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "Parent", pe.Class)
	assert.Equal(t, "Parent#5", pe.Key)
	assert.Equal(t, types.OpInsert, pe.Op)
	assert.ErrorIs(t, err, types.ErrPersist)
	assert.ErrorIs(t, err, types.ErrDuplicateIdentity)
	assert.Equal(t, StateRolledBack, tx.State())

	id, _ := fresh.Get("id")
	assert.Nil(t, id, "assigned keys are rolled back")
	parentID, _ := child.Get("parentId")
	assert.Nil(t, parentID)
	assert.True(t, fresh.IsNew())
	name, _ := fresh.Get("name")
	assert.Equal(t, "Fresh", name)

	recs := e.mem.Records()
	require.Len(t, recs, 1)
	assert.Equal(t, "Parent#5", recs[0].Key)
}

type failingStore struct {
	*memstore.Store
	err error
}

func (s *failingStore) Apply(changes []types.Change) error {
	return &types.ChangeError{Index: 0, Change: changes[0], Err: s.err}
}

func TestStoreErrorIsWrapped(t *testing.T) {
	e := newEnv(t, types.DeleteRelated, familyRecords()...)
	errDisk := errors.New("disk full")
	e.store = &failingStore{Store: e.mem, err: errDisk}

	c := e.mustLoad(t, "Child", 10)
	require.NoError(t, c.Set("name", "renamed"))
	_, err := e.commit(c)
	assert.ErrorIs(t, err, errDisk)
	var pe *types.PersistError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "Child#10", pe.Key)
	assert.Equal(t, types.OpUpdate, pe.Op)

	name, _ := c.Get("name")
	assert.Equal(t, "renamed", name, "caller edits survive a failed write")
}

func TestCommitterRunsOnce(t *testing.T) {
	e := newEnv(t, types.DeleteRelated)
	tx := e.committer()
	_, err := tx.Commit()
	require.NoError(t, err)
	_, err = tx.Commit()
	assert.ErrorIs(t, err, types.ErrTransactionStarted)
}

func TestNewObjectMarkedForDeleteIsDropped(t *testing.T) {
	e := newEnv(t, types.DeleteRelated)
	p, err := e.factory.New("Parent")
	require.NoError(t, err)
	require.NoError(t, p.MarkForDelete())

	result, err := e.commit(p)
	require.NoError(t, err)
	assert.Equal(t, types.CommitResult{}, result)
	assert.True(t, p.IsDeleted())
	assert.Empty(t, e.mem.Records())
}

func TestExplicitAutoIncrementRaisesCounter(t *testing.T) {
	e := newEnv(t, types.DeleteRelated)

	p, err := e.factory.New("Parent")
	require.NoError(t, err)
	require.NoError(t, p.Set("id", 9))
	require.NoError(t, p.Set("name", "Imported"))
	_, err = e.commit(p)
	require.NoError(t, err)

	next, err := e.mem.NextAutoIncrement("Parent")
	require.NoError(t, err)
	assert.Equal(t, int64(10), next)
}
