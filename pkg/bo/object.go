// Package bo implements domain objects: a PropertyBag of typed, validated,
// dirty-tracked properties and a RelationshipGraph of lazily resolved links
// to other objects, together with the lifecycle flags the unit of work
// drives.
//
// Objects are created by a Factory from the class definitions in a Catalog.
// An object is not safe for concurrent mutation; whoever edits it owns it.
package bo

import (
	"fmt"
	"strings"

	"github.com/mesh-intelligence/larder/pkg/criteria"
	"github.com/mesh-intelligence/larder/pkg/types"
)

// Status is the lifecycle state of an object.
type Status string

// Object states.
const (
	StatusNew             Status = "new"
	StatusClean           Status = "clean"
	StatusDirty           Status = "dirty"
	StatusMarkedForDelete Status = "marked_for_delete"
	StatusDeleted         Status = "deleted"
)

// Object is a domain object: an instance of a class definition with its
// properties, relationships, and lifecycle flags.
type Object struct {
	def   *types.ClassDef
	props *PropertyBag
	rels  *RelationshipGraph

	isNew           bool
	markedForDelete bool
	deleted         bool
}

var _ criteria.Source = (*Object)(nil)

func newObject(def *types.ClassDef) *Object {
	o := &Object{def: def}
	o.props = NewPropertyBag()
	o.props.owner = o
	o.rels = newRelationshipGraph(o)
	return o
}

// Class returns the class name.
func (o *Object) Class() string { return o.def.Class }

// Def returns the class definition.
func (o *Object) Def() *types.ClassDef { return o.def }

// Props returns the property bag.
func (o *Object) Props() *PropertyBag { return o.props }

// Relationships returns the relationship graph.
func (o *Object) Relationships() *RelationshipGraph { return o.rels }

// Get returns the current value of a property.
func (o *Object) Get(name string) (any, error) { return o.props.Get(name) }

// Set assigns a property value through the property's conversion step.
func (o *Object) Set(name string, v any) error { return o.props.Set(name, v) }

// PropertyValue implements criteria.Source.
func (o *Object) PropertyValue(name string) (any, error) { return o.props.Get(name) }

// DisplayValue returns a property formatted for people.
func (o *Object) DisplayValue(name string) (string, error) {
	p, err := o.props.Prop(name)
	if err != nil {
		return "", err
	}
	return p.Display(), nil
}

// KeyValues returns the current primary key values in key order.
func (o *Object) KeyValues() []any {
	values := make([]any, 0, len(o.def.PrimaryKey))
	for _, name := range o.def.PrimaryKey {
		v, _ := o.props.Get(name)
		values = append(values, v)
	}
	return values
}

// Key returns the identity string "Class#v1|v2" built from the current
// primary key values, or "" while any of them is nil.
func (o *Object) Key() string {
	return FormatKey(o.def.Class, o.KeyValues())
}

// PersistedKey returns the identity built from the backup values, which is
// the key the store knows the object by.
func (o *Object) PersistedKey() string {
	values := make([]any, 0, len(o.def.PrimaryKey))
	for _, name := range o.def.PrimaryKey {
		p, err := o.props.Prop(name)
		if err != nil {
			return ""
		}
		values = append(values, p.backup)
	}
	return FormatKey(o.def.Class, values)
}

// FormatKey builds the identity string for a class and primary key values.
// It returns "" if any value is nil.
func FormatKey(class string, values []any) string {
	parts := make([]string, 0, len(values))
	for _, v := range values {
		if v == nil {
			return ""
		}
		parts = append(parts, criteria.FormatValue(v))
	}
	return class + "#" + strings.Join(parts, "|")
}

func (o *Object) String() string {
	if k := o.Key(); k != "" {
		return k
	}
	return o.def.Class + "#<new>"
}

// IsNew reports whether the object has never been persisted.
func (o *Object) IsNew() bool { return o.isNew }

// IsMarkedForDelete reports whether the object will be deleted on commit.
func (o *Object) IsMarkedForDelete() bool { return o.markedForDelete }

// IsDeleted reports whether a commit has deleted the object.
func (o *Object) IsDeleted() bool { return o.deleted }

// IsDirty reports whether the object has uncommitted changes: it is new,
// marked for delete, has changed properties, or its relationships are dirty.
func (o *Object) IsDirty() bool {
	return o.isDirty(map[*Object]bool{})
}

func (o *Object) isDirty(visited map[*Object]bool) bool {
	if visited[o] || o.deleted {
		return false
	}
	visited[o] = true
	return o.markedForDelete || o.props.IsDirty() || o.rels.isDirty(visited)
}

// Status derives the lifecycle state from the object's flags.
func (o *Object) Status() Status {
	switch {
	case o.deleted:
		return StatusDeleted
	case o.markedForDelete:
		return StatusMarkedForDelete
	case o.isNew:
		return StatusNew
	case o.IsDirty():
		return StatusDirty
	}
	return StatusClean
}

// Validate checks every property and returns all failure reasons.
func (o *Object) Validate() (bool, []string) {
	return o.props.ValidateAll()
}

// MarkForDelete flags the object for deletion on the next commit and applies
// each relationship's delete action: dereference_related clears the key on
// related objects, delete_related marks them for delete in turn. Each object
// is visited once, so cyclic graphs terminate.
func (o *Object) MarkForDelete() error {
	return o.markForDelete(map[*Object]bool{})
}

func (o *Object) markForDelete(visited map[*Object]bool) error {
	if visited[o] {
		return nil
	}
	visited[o] = true
	if o.deleted {
		return fmt.Errorf("%s: %w", o, types.ErrObjectDeleted)
	}
	o.markedForDelete = true

	for _, rel := range o.rels.order {
		switch rel.DeleteAction() {
		case types.DeleteRelated:
			related, err := rel.Related()
			if err != nil {
				return err
			}
			for _, r := range related {
				if err := r.markForDelete(visited); err != nil {
					return err
				}
			}
		case types.DeleteDereferenceRelated:
			if rel.ownerHoldsKey {
				continue
			}
			related, err := rel.Related()
			if err != nil {
				return err
			}
			for _, r := range related {
				if r.markedForDelete {
					continue
				}
				if err := rel.dereference(r); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// CancelEdits restores every property to its backup value, clears the delete
// mark, and drops pending relationship changes. Objects touched by this
// object's delete cascade or relationship edits are restored too.
func (o *Object) CancelEdits() {
	o.cancelEdits(map[*Object]bool{})
}

func (o *Object) cancelEdits(visited map[*Object]bool) {
	if visited[o] || o.deleted {
		return
	}
	visited[o] = true
	wasMarked := o.markedForDelete
	o.markedForDelete = false
	o.props.RestoreAll()

	for _, rel := range o.rels.order {
		var touched []*Object
		touched = append(touched, rel.added...)
		touched = append(touched, rel.removed...)
		if wasMarked && (rel.DeleteAction() == types.DeleteRelated || rel.DeleteAction() == types.DeleteDereferenceRelated) {
			touched = append(touched, rel.objects...)
		}
		for _, t := range touched {
			t.cancelEdits(visited)
		}
		rel.clearPending()
		rel.loaded = false
		rel.objects = nil
	}
}

// Record returns the store record for the object's current values.
func (o *Object) Record() types.Record {
	return types.Record{Class: o.def.Class, Key: o.Key(), Values: o.props.Values()}
}

// AcceptChanges marks the current state as persisted: values become backups,
// a new object becomes clean, and pending relationship changes are cleared.
func (o *Object) AcceptChanges() {
	o.props.BackupAll()
	o.isNew = false
	for _, rel := range o.rels.order {
		rel.clearPending()
	}
}

// AcceptDelete marks the object as deleted by a commit.
func (o *Object) AcceptDelete() {
	o.deleted = true
	o.markedForDelete = false
	o.isNew = false
	for _, rel := range o.rels.order {
		rel.clearPending()
	}
}

// Reload replaces current and backup values with persisted values. Cached
// relationship sets are dropped so they resolve against the new keys.
func (o *Object) Reload(values map[string]any) error {
	if err := o.props.load(values); err != nil {
		return fmt.Errorf("reload %s: %w", o, err)
	}
	for _, rel := range o.rels.order {
		if len(rel.added) == 0 && len(rel.removed) == 0 {
			rel.loaded = false
			rel.objects = nil
		}
	}
	return nil
}
