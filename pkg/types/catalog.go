package types

import (
	"fmt"
	"sync"
)

// Catalog holds the registered class definitions. Definitions are validated
// on Register and must not be modified afterwards.
type Catalog struct {
	mu      sync.RWMutex
	classes map[string]*ClassDef
	order   []string
}

// NewCatalog returns an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{classes: make(map[string]*ClassDef)}
}

// Register validates def and adds it to the catalog. Returns
// ErrDuplicateClass if a class with the same name is already registered.
func (c *Catalog) Register(def ClassDef) error {
	if err := def.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	folded := FoldName(def.Class)
	if _, ok := c.classes[folded]; ok {
		return fmt.Errorf("%s: %w", def.Class, ErrDuplicateClass)
	}
	stored := def
	c.classes[folded] = &stored
	c.order = append(c.order, folded)
	return nil
}

// Class returns the named class definition. Returns ErrUnknownClass if it is
// not registered.
func (c *Catalog) Class(name string) (*ClassDef, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	def, ok := c.classes[FoldName(name)]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, ErrUnknownClass)
	}
	return def, nil
}

// Classes returns every definition in registration order.
func (c *Catalog) Classes() []*ClassDef {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]*ClassDef, 0, len(c.order))
	for _, name := range c.order {
		out = append(out, c.classes[name])
	}
	return out
}

// Validate performs the cross-class checks: every related class exists, every
// related key names a property of the related class, multiple relationships
// are keyed on the related side, and dereference_related is only used where
// the related side holds the key.
func (c *Catalog) Validate() error {
	for _, def := range c.Classes() {
		for i := range def.Relationships {
			rel := &def.Relationships[i]
			related, err := c.Class(rel.RelatedClass)
			if err != nil {
				return fmt.Errorf("%s.%s: %w", def.Class, rel.Name, err)
			}
			for _, k := range rel.Keys {
				if _, err := related.Property(k.RelatedProperty); err != nil {
					return fmt.Errorf("%s.%s: related key: %w", def.Class, rel.Name, err)
				}
			}
			ownerHolds := OwnerHoldsKey(rel, related)
			if ownerHolds && rel.Cardinality == CardinalityMultiple {
				return fmt.Errorf("%s.%s: multiple relationship keyed on the related primary key: %w",
					def.Class, rel.Name, ErrInvalidClassDef)
			}
			if ownerHolds && rel.Action() == DeleteDereferenceRelated {
				return fmt.Errorf("%s.%s: dereference_related needs a key on the related side: %w",
					def.Class, rel.Name, ErrInvalidClassDef)
			}
		}
	}
	return nil
}

// OwnerHoldsKey reports whether the owner side of rel carries the foreign key,
// that is, every related key property is part of the related class's primary
// key.
func OwnerHoldsKey(rel *RelationshipDef, related *ClassDef) bool {
	for _, k := range rel.Keys {
		if !related.IsPrimaryKey(k.RelatedProperty) {
			return false
		}
	}
	return len(rel.Keys) > 0
}
