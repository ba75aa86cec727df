package bo

import (
	"errors"
	"fmt"
	"slices"

	"github.com/mesh-intelligence/larder/pkg/criteria"
	"github.com/mesh-intelligence/larder/pkg/types"
)

// Resolver loads the objects a relationship points at. The Loader implements
// it; objects built without a resolver only see related objects added in
// memory.
type Resolver interface {
	// FindOne returns the single matching object or nil. More than one match
	// returns ErrAmbiguousMatch.
	FindOne(class string, c criteria.Criteria) (*Object, error)

	// FindAll returns every matching object in order.
	FindAll(class string, c criteria.Criteria, order criteria.OrderBy) ([]*Object, error)
}

// errNoKey signals that the owner's key properties are nil, so nothing can be
// related yet.
var errNoKey = errors.New("owner key is nil")

// Relationship is a named link from an owner object to related objects of
// one class. The related set is resolved on first access and cached until
// Refresh.
type Relationship struct {
	def           types.RelationshipDef
	ownerHoldsKey bool
	order         criteria.OrderBy
	owner         *Object
	resolver      Resolver

	loaded  bool
	objects []*Object
	added   []*Object
	removed []*Object
}

// NewRelationship builds an unattached relationship from its definition.
// related is the related class definition; when it is nil the relationship
// assumes the related side holds the key. Attach it with
// RelationshipGraph.Add.
func NewRelationship(def types.RelationshipDef, related *types.ClassDef, resolver Resolver) (*Relationship, error) {
	order, err := criteria.ParseOrderBy(def.OrderBy)
	if err != nil {
		return nil, fmt.Errorf("%s order: %w", def.Name, err)
	}
	r := &Relationship{def: def, order: order, resolver: resolver}
	if related != nil {
		r.ownerHoldsKey = types.OwnerHoldsKey(&def, related)
	}
	return r, nil
}

// Name returns the relationship name.
func (r *Relationship) Name() string { return r.def.Name }

// Def returns the relationship definition.
func (r *Relationship) Def() types.RelationshipDef { return r.def }

// RelatedClass returns the class of the related objects.
func (r *Relationship) RelatedClass() string { return r.def.RelatedClass }

// Cardinality returns single or multiple.
func (r *Relationship) Cardinality() types.Cardinality { return r.def.Cardinality }

// DeleteAction returns the policy applied when the owner is marked for
// delete.
func (r *Relationship) DeleteAction() types.DeleteAction { return r.def.Action() }

// Type returns association, aggregation, or composition.
func (r *Relationship) Type() types.RelationshipType { return r.def.Kind() }

// OwnerHoldsKey reports whether the owner carries the foreign key.
func (r *Relationship) OwnerHoldsKey() bool { return r.ownerHoldsKey }

// IsLoaded reports whether the related set has been resolved.
func (r *Relationship) IsLoaded() bool { return r.loaded }

// Criteria returns the predicate that selects the related objects: each
// related key property equals the owner's matching property.
func (r *Relationship) Criteria() (criteria.Criteria, error) {
	if r.owner == nil {
		return nil, fmt.Errorf("%s: relationship is not attached: %w", r.def.Name, types.ErrInvalidRelationshipAccess)
	}
	terms := make([]criteria.Criteria, 0, len(r.def.Keys))
	for _, k := range r.def.Keys {
		v, err := r.owner.props.Get(k.OwnerProperty)
		if err != nil {
			return nil, err
		}
		if v == nil {
			return nil, errNoKey
		}
		terms = append(terms, criteria.Eq(k.RelatedProperty, v))
	}
	return criteria.AllOf(terms...), nil
}

// Related returns the related objects, resolving them on first access.
// Deleted objects are never returned.
func (r *Relationship) Related() ([]*Object, error) {
	if err := r.ensureLoaded(); err != nil {
		return nil, err
	}
	out := make([]*Object, 0, len(r.objects))
	for _, o := range r.objects {
		if !o.deleted {
			out = append(out, o)
		}
	}
	return out, nil
}

// Loaded returns the cached related objects without resolving.
func (r *Relationship) Loaded() []*Object {
	return slices.Clone(r.objects)
}

// Pending returns the objects added to and removed from the relationship
// since the last commit.
func (r *Relationship) Pending() (added, removed []*Object) {
	return slices.Clone(r.added), slices.Clone(r.removed)
}

// Single returns the related object of a single relationship, or nil.
func (r *Relationship) Single() (*Object, error) {
	if r.def.Cardinality != types.CardinalitySingle {
		return nil, fmt.Errorf("%s is %s: %w", r.def.Name, r.def.Cardinality, types.ErrInvalidRelationshipAccess)
	}
	objs, err := r.Related()
	if err != nil {
		return nil, err
	}
	if len(objs) == 0 {
		return nil, nil
	}
	return objs[0], nil
}

// Multiple returns the related objects of a multiple relationship.
func (r *Relationship) Multiple() ([]*Object, error) {
	if r.def.Cardinality != types.CardinalityMultiple {
		return nil, fmt.Errorf("%s is %s: %w", r.def.Name, r.def.Cardinality, types.ErrInvalidRelationshipAccess)
	}
	return r.Related()
}

// Refresh drops the cached related set and resolves it again. Objects added
// in memory and not yet committed are kept.
func (r *Relationship) Refresh() error {
	r.loaded = false
	return r.ensureLoaded()
}

func (r *Relationship) ensureLoaded() error {
	if r.loaded {
		return nil
	}
	var found []*Object
	c, err := r.Criteria()
	switch {
	case errors.Is(err, errNoKey):
	case err != nil:
		return err
	case r.resolver == nil:
	case r.def.Cardinality == types.CardinalitySingle:
		o, err := r.resolver.FindOne(r.def.RelatedClass, c)
		if err != nil {
			return fmt.Errorf("resolve %s.%s: %w", r.owner.Class(), r.def.Name, err)
		}
		if o != nil {
			found = append(found, o)
		}
	default:
		found, err = r.resolver.FindAll(r.def.RelatedClass, c, r.order)
		if err != nil {
			return fmt.Errorf("resolve %s.%s: %w", r.owner.Class(), r.def.Name, err)
		}
	}

	objects := make([]*Object, 0, len(found)+len(r.added))
	for _, o := range found {
		if !slices.Contains(r.removed, o) {
			objects = append(objects, o)
		}
	}
	for _, o := range r.added {
		if !slices.Contains(objects, o) {
			objects = append(objects, o)
		}
	}
	if r.def.Cardinality == types.CardinalitySingle && len(objects) > 1 {
		return fmt.Errorf("resolve %s.%s: %d related objects: %w", r.owner.Class(), r.def.Name, len(objects), types.ErrAmbiguousMatch)
	}
	r.objects = objects
	r.loaded = true
	return nil
}

func (r *Relationship) checkClass(o *Object) error {
	if !types.SameName(o.Class(), r.def.RelatedClass) {
		return fmt.Errorf("%s expects %s, got %s: %w", r.def.Name, r.def.RelatedClass, o.Class(), types.ErrClassMismatch)
	}
	return nil
}

// Set makes o the related object of a single relationship, copying key
// values to whichever side holds the key. A nil o clears the link.
func (r *Relationship) Set(o *Object) error {
	if r.def.Cardinality != types.CardinalitySingle {
		return fmt.Errorf("%s is %s: %w", r.def.Name, r.def.Cardinality, types.ErrInvalidRelationshipAccess)
	}
	if o != nil {
		if err := r.checkClass(o); err != nil {
			return err
		}
	}

	if r.ownerHoldsKey {
		for _, k := range r.def.Keys {
			var v any
			if o != nil {
				var err error
				if v, err = o.props.Get(k.RelatedProperty); err != nil {
					return err
				}
			}
			if err := r.owner.props.Set(k.OwnerProperty, v); err != nil {
				return err
			}
		}
	} else {
		if err := r.ensureLoaded(); err != nil {
			return err
		}
		for _, prev := range r.objects {
			if prev != o {
				if err := r.detach(prev); err != nil {
					return err
				}
			}
		}
		if o != nil {
			if err := r.attach(o); err != nil {
				return err
			}
		}
	}

	r.objects = r.objects[:0]
	if o != nil {
		r.objects = append(r.objects, o)
	}
	r.loaded = true
	return nil
}

// Add links o to a multiple relationship by setting its related key
// properties from the owner. Adding an object already present is a no-op.
func (r *Relationship) Add(o *Object) error {
	if r.def.Cardinality != types.CardinalityMultiple {
		return fmt.Errorf("%s is %s: %w", r.def.Name, r.def.Cardinality, types.ErrInvalidRelationshipAccess)
	}
	if err := r.checkClass(o); err != nil {
		return err
	}
	if err := r.ensureLoaded(); err != nil {
		return err
	}
	if slices.Contains(r.objects, o) {
		return nil
	}
	if err := r.attach(o); err != nil {
		return err
	}
	r.objects = append(r.objects, o)
	return nil
}

// Remove unlinks o from a multiple relationship by clearing its related key
// properties. Returns ErrNotRelated if o is not in the relationship.
func (r *Relationship) Remove(o *Object) error {
	if r.def.Cardinality != types.CardinalityMultiple {
		return fmt.Errorf("%s is %s: %w", r.def.Name, r.def.Cardinality, types.ErrInvalidRelationshipAccess)
	}
	if err := r.ensureLoaded(); err != nil {
		return err
	}
	if !slices.Contains(r.objects, o) {
		return fmt.Errorf("%s: %s: %w", r.def.Name, o, types.ErrNotRelated)
	}
	if err := r.detach(o); err != nil {
		return err
	}
	r.objects = slices.DeleteFunc(r.objects, func(x *Object) bool { return x == o })
	return nil
}

// attach copies the owner's key values onto o and records the addition.
func (r *Relationship) attach(o *Object) error {
	for _, k := range r.def.Keys {
		v, err := r.owner.props.Get(k.OwnerProperty)
		if err != nil {
			return err
		}
		if err := o.props.Set(k.RelatedProperty, v); err != nil {
			return err
		}
	}
	if i := slices.Index(r.removed, o); i >= 0 {
		r.removed = slices.Delete(r.removed, i, i+1)
	} else if !slices.Contains(r.added, o) {
		r.added = append(r.added, o)
	}
	return nil
}

// detach clears o's related key values and records the removal.
func (r *Relationship) detach(o *Object) error {
	if err := r.dereference(o); err != nil {
		return err
	}
	if i := slices.Index(r.added, o); i >= 0 {
		r.added = slices.Delete(r.added, i, i+1)
	} else if !slices.Contains(r.removed, o) {
		r.removed = append(r.removed, o)
	}
	return nil
}

// dereference clears the related key properties on o, bypassing access
// rules.
func (r *Relationship) dereference(o *Object) error {
	for _, k := range r.def.Keys {
		p, err := o.props.Prop(k.RelatedProperty)
		if err != nil {
			return err
		}
		if err := p.set(nil, true); err != nil {
			return err
		}
	}
	return nil
}

// PushKeys copies the owner's current key values onto every loaded related
// object that holds the key. The unit of work calls it after assigning a
// generated key to a new owner.
func (r *Relationship) PushKeys() error {
	if r.ownerHoldsKey {
		return nil
	}
	for _, o := range r.objects {
		if o.deleted || o.markedForDelete {
			continue
		}
		for _, k := range r.def.Keys {
			v, err := r.owner.props.Get(k.OwnerProperty)
			if err != nil {
				return err
			}
			p, err := o.props.Prop(k.RelatedProperty)
			if err != nil {
				return err
			}
			if err := p.set(v, true); err != nil {
				return err
			}
		}
	}
	return nil
}

// PullKeys copies the key values of the cached related object onto the owner
// when the owner holds the key and the related object is new or rekeyed, so
// its key may have been assigned after it was linked.
func (r *Relationship) PullKeys() error {
	if !r.ownerHoldsKey || len(r.objects) == 0 {
		return nil
	}
	related := r.objects[0]
	if !related.isNew && related.Key() == related.PersistedKey() {
		return nil
	}
	for _, k := range r.def.Keys {
		v, err := related.props.Get(k.RelatedProperty)
		if err != nil {
			return err
		}
		p, err := r.owner.props.Prop(k.OwnerProperty)
		if err != nil {
			return err
		}
		if err := p.set(v, true); err != nil {
			return err
		}
	}
	return nil
}

func (r *Relationship) isDirty(visited map[*Object]bool) bool {
	if len(r.added) > 0 || len(r.removed) > 0 {
		return true
	}
	if r.def.Kind() == types.RelAssociation {
		return false
	}
	for _, o := range r.objects {
		if o.isDirty(visited) {
			return true
		}
	}
	return false
}

func (r *Relationship) clearPending() {
	r.added = nil
	r.removed = nil
}

// RelationshipGraph holds the named relationships of one owner object. It is
// not safe for concurrent use.
type RelationshipGraph struct {
	owner *Object
	rels  map[string]*Relationship
	order []*Relationship
}

func newRelationshipGraph(owner *Object) *RelationshipGraph {
	return &RelationshipGraph{owner: owner, rels: make(map[string]*Relationship)}
}

// Add attaches rel to the graph's owner. Returns ErrDuplicateRelationship if
// the name is taken.
func (g *RelationshipGraph) Add(rel *Relationship) error {
	key := types.FoldName(rel.def.Name)
	if _, ok := g.rels[key]; ok {
		return fmt.Errorf("%s: %w", rel.def.Name, types.ErrDuplicateRelationship)
	}
	rel.owner = g.owner
	g.rels[key] = rel
	g.order = append(g.order, rel)
	return nil
}

// Get returns the named relationship. Returns ErrRelationshipNotFound if
// absent. The related set resolves on first access through the relationship.
func (g *RelationshipGraph) Get(name string) (*Relationship, error) {
	rel, ok := g.rels[types.FoldName(name)]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, types.ErrRelationshipNotFound)
	}
	return rel, nil
}

// GetSingle resolves a single relationship. Returns
// ErrInvalidRelationshipAccess if it is multiple.
func (g *RelationshipGraph) GetSingle(name string) (*Object, error) {
	rel, err := g.Get(name)
	if err != nil {
		return nil, err
	}
	return rel.Single()
}

// GetMultiple resolves a multiple relationship. Returns
// ErrInvalidRelationshipAccess if it is single.
func (g *RelationshipGraph) GetMultiple(name string) ([]*Object, error) {
	rel, err := g.Get(name)
	if err != nil {
		return nil, err
	}
	return rel.Multiple()
}

// keyChanged drops the cached related object of every relationship whose
// owner-side key includes property, so it resolves against the new value.
func (g *RelationshipGraph) keyChanged(property string) {
	for _, rel := range g.order {
		if !rel.ownerHoldsKey || !rel.loaded {
			continue
		}
		for _, k := range rel.def.Keys {
			if types.SameName(k.OwnerProperty, property) {
				rel.loaded = false
				rel.objects = nil
				break
			}
		}
	}
}

// All returns the relationships in declaration order.
func (g *RelationshipGraph) All() []*Relationship {
	return slices.Clone(g.order)
}

// IsDirty reports pending additions or removals, or a dirty related object
// held by an aggregation or composition relationship.
func (g *RelationshipGraph) IsDirty() bool {
	visited := map[*Object]bool{}
	if g.owner != nil {
		visited[g.owner] = true
	}
	return g.isDirty(visited)
}

func (g *RelationshipGraph) isDirty(visited map[*Object]bool) bool {
	for _, rel := range g.order {
		if rel.isDirty(visited) {
			return true
		}
	}
	return false
}
