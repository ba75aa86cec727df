package bo

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/larder/pkg/types"
)

func familyFixture(t *testing.T, action types.DeleteAction) (fx *fixture, p, c1, c2 *Object) {
	t.Helper()
	fx = newFixture(t, action)
	pid := uuid.New()
	p = fx.persisted(t, "Parent", map[string]any{"id": pid, "name": "Acme"})
	c2 = fx.persisted(t, "Child", map[string]any{"id": uuid.New(), "parentId": pid, "name": "b"})
	c1 = fx.persisted(t, "Child", map[string]any{"id": uuid.New(), "parentId": pid, "name": "a"})
	fx.persisted(t, "Child", map[string]any{"id": uuid.New(), "parentId": uuid.New(), "name": "other"})
	fx.resolver.calls = 0
	return fx, p, c1, c2
}

func TestRelationshipResolvesOnce(t *testing.T) {
	fx, p, c1, c2 := familyFixture(t, types.DeleteRelated)

	rel, err := p.Relationships().Get("Children")
	require.NoError(t, err)
	assert.False(t, rel.IsLoaded())

	children, err := p.Relationships().GetMultiple("children")
	require.NoError(t, err)
	assert.Equal(t, []*Object{c1, c2}, children, "ordered by name")

	_, err = p.Relationships().GetMultiple("children")
	require.NoError(t, err)
	assert.Equal(t, 1, fx.resolver.calls)

	require.NoError(t, rel.Refresh())
	assert.Equal(t, 2, fx.resolver.calls)
}

func TestRelationshipAccessErrors(t *testing.T) {
	_, p, c1, _ := familyFixture(t, types.DeleteRelated)

	_, err := p.Relationships().GetSingle("children")
	assert.ErrorIs(t, err, types.ErrInvalidRelationshipAccess)

	_, err = c1.Relationships().GetMultiple("parent")
	assert.ErrorIs(t, err, types.ErrInvalidRelationshipAccess)

	_, err = p.Relationships().Get("nope")
	assert.ErrorIs(t, err, types.ErrRelationshipNotFound)

	dup, err := NewRelationship(types.RelationshipDef{Name: "CHILDREN", RelatedClass: "Child"}, nil, nil)
	require.NoError(t, err)
	assert.ErrorIs(t, p.Relationships().Add(dup), types.ErrDuplicateRelationship)

	rel, err := p.Relationships().Get("children")
	require.NoError(t, err)
	assert.ErrorIs(t, rel.Add(p), types.ErrClassMismatch)
}

func TestSingleRelationshipFollowsForeignKey(t *testing.T) {
	_, p, c1, _ := familyFixture(t, types.DeleteRelated)

	parent, err := c1.Relationships().GetSingle("parent")
	require.NoError(t, err)
	assert.Same(t, p, parent)

	require.NoError(t, c1.Set("parentId", nil))
	rel, err := c1.Relationships().Get("parent")
	require.NoError(t, err)
	require.NoError(t, rel.Refresh())
	parent, err = rel.Single()
	require.NoError(t, err)
	assert.Nil(t, parent, "a nil foreign key relates nothing")
}

func TestSingleRelationshipAmbiguousMatchFails(t *testing.T) {
	fx := newFixture(t, types.DeleteRelated)
	pid := uuid.New()
	fx.persisted(t, "Parent", map[string]any{"id": pid, "name": "one"})
	fx.persisted(t, "Parent", map[string]any{"id": pid, "name": "two"})
	c := fx.persisted(t, "Child", map[string]any{"id": uuid.New(), "parentId": pid})

	_, err := c.Relationships().GetSingle("parent")
	assert.ErrorIs(t, err, types.ErrAmbiguousMatch)
}

func TestSingleRelationshipSetCopiesKey(t *testing.T) {
	fx, p, c1, _ := familyFixture(t, types.DeleteRelated)
	other := fx.persisted(t, "Parent", map[string]any{"id": uuid.New(), "name": "Globex"})

	rel, err := c1.Relationships().Get("parent")
	require.NoError(t, err)
	require.True(t, rel.OwnerHoldsKey())

	require.NoError(t, rel.Set(other))
	v, _ := c1.Get("parentId")
	assert.Equal(t, other.KeyValues()[0], v)
	assert.True(t, c1.IsDirty())

	got, err := rel.Single()
	require.NoError(t, err)
	assert.Same(t, other, got)

	require.NoError(t, rel.Set(nil))
	v, _ = c1.Get("parentId")
	assert.Nil(t, v)

	c1.CancelEdits()
	v, _ = c1.Get("parentId")
	assert.Equal(t, p.KeyValues()[0], v)
}

func TestMultipleRelationshipAddRemove(t *testing.T) {
	fx, p, c1, c2 := familyFixture(t, types.DeleteRelated)
	rel, err := p.Relationships().Get("children")
	require.NoError(t, err)

	fresh, err := fx.factory.New("Child")
	require.NoError(t, err)
	require.NoError(t, rel.Add(fresh))
	require.NoError(t, rel.Add(fresh))

	v, _ := fresh.Get("parentId")
	assert.Equal(t, p.KeyValues()[0], v)
	added, removed := rel.Pending()
	assert.Equal(t, []*Object{fresh}, added)
	assert.Empty(t, removed)
	assert.True(t, p.IsDirty())

	require.NoError(t, rel.Remove(fresh))
	added, _ = rel.Pending()
	assert.Empty(t, added)
	v, _ = fresh.Get("parentId")
	assert.Nil(t, v)

	require.NoError(t, rel.Remove(c1))
	_, removed = rel.Pending()
	assert.Equal(t, []*Object{c1}, removed)
	v, _ = c1.Get("parentId")
	assert.Nil(t, v)

	children, err := rel.Related()
	require.NoError(t, err)
	assert.Equal(t, []*Object{c2}, children)

	assert.ErrorIs(t, rel.Remove(c1), types.ErrNotRelated)
}

func TestCompositionPropagatesDirtiness(t *testing.T) {
	_, p, c1, _ := familyFixture(t, types.DeleteRelated)
	_, err := p.Relationships().GetMultiple("children")
	require.NoError(t, err)
	assert.False(t, p.IsDirty())

	require.NoError(t, c1.Set("name", "renamed"))
	assert.True(t, p.IsDirty())
	assert.True(t, p.Relationships().IsDirty())
	assert.Equal(t, StatusDirty, p.Status())

	// Child.parent is an association, so a dirty parent does not dirty the
	// child.
	c1.CancelEdits()
	_, err = c1.Relationships().GetSingle("parent")
	require.NoError(t, err)
	require.NoError(t, p.Set("name", "renamed"))
	assert.False(t, c1.IsDirty())
}

func TestPushKeysFollowsOwnerKey(t *testing.T) {
	fx := newFixture(t, types.DeleteRelated)
	p, err := fx.factory.New("Parent")
	require.NoError(t, err)
	c, err := fx.factory.New("Child")
	require.NoError(t, err)

	rel, err := p.Relationships().Get("children")
	require.NoError(t, err)
	require.NoError(t, rel.Add(c))

	next := uuid.New()
	require.NoError(t, p.Set("id", next))
	require.NoError(t, rel.PushKeys())
	v, _ := c.Get("parentId")
	assert.Equal(t, next, v)

	back, err := c.Relationships().Get("parent")
	require.NoError(t, err)
	require.NoError(t, back.Set(p))
	require.NoError(t, p.Set("id", uuid.New()))
	require.NoError(t, back.PullKeys())
	v, _ = c.Get("parentId")
	assert.Equal(t, p.KeyValues()[0], v)
}

func TestForeignKeyEditDropsCachedParent(t *testing.T) {
	fx, p, c1, _ := familyFixture(t, types.DeleteRelated)
	other := fx.persisted(t, "Parent", map[string]any{"id": uuid.New(), "name": "Globex"})

	parent, err := c1.Relationships().GetSingle("parent")
	require.NoError(t, err)
	require.Same(t, p, parent)

	otherID, _ := other.Get("id")
	require.NoError(t, c1.Set("parentId", otherID))

	rel, err := c1.Relationships().Get("parent")
	require.NoError(t, err)
	assert.False(t, rel.IsLoaded())
	require.NoError(t, rel.PullKeys())
	v, _ := c1.Get("parentId")
	assert.Equal(t, otherID, v, "a clean persisted parent does not overwrite the edited key")

	parent, err = rel.Single()
	require.NoError(t, err)
	assert.Same(t, other, parent)
}

func TestPullKeysSkipsCleanParent(t *testing.T) {
	_, p, c1, _ := familyFixture(t, types.DeleteRelated)

	rel, err := c1.Relationships().Get("parent")
	require.NoError(t, err)
	_, err = rel.Single()
	require.NoError(t, err)

	// A forced write leaves the cached parent in place.
	prop, err := c1.props.Prop("parentId")
	require.NoError(t, err)
	moved := uuid.New()
	require.NoError(t, prop.set(moved, true))

	require.NoError(t, rel.PullKeys())
	v, _ := c1.Get("parentId")
	assert.Equal(t, moved, v)
	assert.True(t, rel.IsLoaded())
	assert.NotEqual(t, p.KeyValues()[0], v)
}

func TestSingleRelationshipOverflowIsAmbiguous(t *testing.T) {
	fx := newFixture(t, types.DeleteRelated)
	pid := uuid.New()
	p := fx.persisted(t, "Parent", map[string]any{"id": pid, "name": "Acme"})

	rel, err := NewRelationship(types.RelationshipDef{
		Name:         "favourite",
		RelatedClass: "Child",
		Cardinality:  types.CardinalitySingle,
		Keys:         []types.RelKeyDef{{OwnerProperty: "id", RelatedProperty: "parentId"}},
	}, nil, fx.resolver)
	require.NoError(t, err)
	require.NoError(t, p.Relationships().Add(rel))

	fresh, err := fx.factory.New("Child")
	require.NoError(t, err)
	require.NoError(t, rel.Set(fresh))
	v, _ := fresh.Get("parentId")
	require.Equal(t, pid, v)

	fx.persisted(t, "Child", map[string]any{"id": uuid.New(), "parentId": pid, "name": "stored"})
	err = rel.Refresh()
	assert.ErrorIs(t, err, types.ErrAmbiguousMatch)
}
