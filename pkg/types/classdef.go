package types

import (
	"fmt"
	"slices"
)

// Property value types determine the canonical Go type a property holds.
const (
	ValueTypeString = "string" // string
	ValueTypeInt    = "int"    // int64
	ValueTypeFloat  = "float"  // float64
	ValueTypeBool   = "bool"   // bool
	ValueTypeTime   = "time"   // time.Time
	ValueTypeUUID   = "uuid"   // uuid.UUID
	ValueTypeAny    = "any"    // stored as given
)

// validValueTypes is the set of recognized property value types.
var validValueTypes = map[string]bool{
	ValueTypeString: true,
	ValueTypeInt:    true,
	ValueTypeFloat:  true,
	ValueTypeBool:   true,
	ValueTypeTime:   true,
	ValueTypeUUID:   true,
	ValueTypeAny:    true,
}

// IsValidValueType reports whether the given string is a recognized value type.
func IsValidValueType(vt string) bool {
	return validValueTypes[vt]
}

// Property access rules.
const (
	AccessReadWrite = "read_write"
	AccessReadOnly  = "read_only"  // settable only while the object is new
	AccessWriteOnce = "write_once" // settable until a non-nil value is persisted
)

var validAccess = map[string]bool{
	AccessReadWrite: true,
	AccessReadOnly:  true,
	AccessWriteOnce: true,
}

// Cardinality states whether a relationship resolves to one or many objects.
type Cardinality string

// Relationship cardinalities.
const (
	CardinalitySingle   Cardinality = "single"
	CardinalityMultiple Cardinality = "multiple"
)

// RelationshipType states how strongly the owner holds its related objects.
// Aggregation and composition relationships make the owner dirty when a
// loaded related object is dirty, and the unit of work persists them with it.
type RelationshipType string

// Relationship types.
const (
	RelAssociation RelationshipType = "association"
	RelAggregation RelationshipType = "aggregation"
	RelComposition RelationshipType = "composition"
)

// DeleteAction is the policy applied to related objects when the owner is
// marked for delete.
type DeleteAction string

// Delete actions.
const (
	DeleteDoNothing          DeleteAction = "do_nothing"
	DeletePrevent            DeleteAction = "prevent"
	DeleteDereferenceRelated DeleteAction = "dereference_related"
	DeleteRelated            DeleteAction = "delete_related"
)

// Rule kinds understood by the rules package.
const (
	RuleString  = "string"
	RulePattern = "pattern"
	RuleInteger = "integer"
	RuleDecimal = "decimal"
	RuleDate    = "date"
)

// RuleDef describes one validation rule on a property. Which fields apply
// depends on Kind.
type RuleDef struct {
	Kind      string   `json:"kind" yaml:"kind"`
	Min       *float64 `json:"min,omitempty" yaml:"min,omitempty"`
	Max       *float64 `json:"max,omitempty" yaml:"max,omitempty"`
	MinLength int      `json:"min_length,omitempty" yaml:"min_length,omitempty"`
	MaxLength int      `json:"max_length,omitempty" yaml:"max_length,omitempty"`
	Pattern   string   `json:"pattern,omitempty" yaml:"pattern,omitempty"`
	After     string   `json:"after,omitempty" yaml:"after,omitempty"`
	Before    string   `json:"before,omitempty" yaml:"before,omitempty"`
	Message   string   `json:"message,omitempty" yaml:"message,omitempty"`
}

// PropDef describes one property of a class.
type PropDef struct {
	Name          string            `json:"name" yaml:"name"`
	Type          string            `json:"type,omitempty" yaml:"type,omitempty"`
	Default       any               `json:"default,omitempty" yaml:"default,omitempty"`
	Compulsory    bool              `json:"compulsory,omitempty" yaml:"compulsory,omitempty"`
	Access        string            `json:"access,omitempty" yaml:"access,omitempty"`
	AutoIncrement bool              `json:"auto_increment,omitempty" yaml:"auto_increment,omitempty"`
	Lookup        map[string]string `json:"lookup,omitempty" yaml:"lookup,omitempty"`
	Rules         []RuleDef         `json:"rules,omitempty" yaml:"rules,omitempty"`
	DisplayName   string            `json:"display_name,omitempty" yaml:"display_name,omitempty"`
}

// ValueType returns Type, defaulting to ValueTypeString.
func (p PropDef) ValueType() string {
	if p.Type == "" {
		return ValueTypeString
	}
	return p.Type
}

// AccessRule returns Access, defaulting to AccessReadWrite.
func (p PropDef) AccessRule() string {
	if p.Access == "" {
		return AccessReadWrite
	}
	return p.Access
}

// Label returns the display name, falling back to Name.
func (p PropDef) Label() string {
	if p.DisplayName != "" {
		return p.DisplayName
	}
	return p.Name
}

// RelKeyDef pairs a property on the owner with a property on the related
// class. The relationship matches related objects whose RelatedProperty
// equals the owner's OwnerProperty.
type RelKeyDef struct {
	OwnerProperty   string `json:"owner" yaml:"owner"`
	RelatedProperty string `json:"related" yaml:"related"`
}

// RelationshipDef describes a named link from one class to another.
type RelationshipDef struct {
	Name         string           `json:"name" yaml:"name"`
	RelatedClass string           `json:"related_class" yaml:"related_class"`
	Cardinality  Cardinality      `json:"cardinality" yaml:"cardinality"`
	Type         RelationshipType `json:"type,omitempty" yaml:"type,omitempty"`
	DeleteAction DeleteAction     `json:"delete_action,omitempty" yaml:"delete_action,omitempty"`
	Keys         []RelKeyDef      `json:"keys" yaml:"keys"`
	OrderBy      string           `json:"order_by,omitempty" yaml:"order_by,omitempty"`
}

// Kind returns Type, defaulting to RelAssociation.
func (r RelationshipDef) Kind() RelationshipType {
	if r.Type == "" {
		return RelAssociation
	}
	return r.Type
}

// Action returns DeleteAction, defaulting to DeleteDoNothing.
func (r RelationshipDef) Action() DeleteAction {
	if r.DeleteAction == "" {
		return DeleteDoNothing
	}
	return r.DeleteAction
}

// ClassDef is the type description the runtime consumes for one class of
// domain object.
type ClassDef struct {
	Class         string            `json:"class" yaml:"class"`
	PrimaryKey    []string          `json:"primary_key" yaml:"primary_key"`
	Properties    []PropDef         `json:"properties" yaml:"properties"`
	Relationships []RelationshipDef `json:"relationships,omitempty" yaml:"relationships,omitempty"`
}

// Property returns the named property definition, matched case-insensitively.
func (c *ClassDef) Property(name string) (*PropDef, error) {
	folded := FoldName(name)
	for i := range c.Properties {
		if FoldName(c.Properties[i].Name) == folded {
			return &c.Properties[i], nil
		}
	}
	return nil, fmt.Errorf("%s.%s: %w", c.Class, name, ErrUnknownProperty)
}

// Relationship returns the named relationship definition, matched
// case-insensitively.
func (c *ClassDef) Relationship(name string) (*RelationshipDef, error) {
	folded := FoldName(name)
	for i := range c.Relationships {
		if FoldName(c.Relationships[i].Name) == folded {
			return &c.Relationships[i], nil
		}
	}
	return nil, fmt.Errorf("%s.%s: %w", c.Class, name, ErrRelationshipNotFound)
}

// IsPrimaryKey reports whether name is one of the primary key properties.
func (c *ClassDef) IsPrimaryKey(name string) bool {
	return slices.ContainsFunc(c.PrimaryKey, func(pk string) bool { return SameName(pk, name) })
}

// Validate checks the definition on its own, without reference to other
// classes. Catalog.Validate performs the cross-class checks.
func (c *ClassDef) Validate() error {
	if c.Class == "" {
		return fmt.Errorf("class name is empty: %w", ErrInvalidClassDef)
	}

	seen := make(map[string]bool, len(c.Properties))
	for _, p := range c.Properties {
		if p.Name == "" {
			return fmt.Errorf("%s: property with empty name: %w", c.Class, ErrInvalidClassDef)
		}
		folded := FoldName(p.Name)
		if seen[folded] {
			return fmt.Errorf("%s.%s: %w", c.Class, p.Name, ErrDuplicateProperty)
		}
		seen[folded] = true
		if !IsValidValueType(p.ValueType()) {
			return fmt.Errorf("%s.%s: unknown type %q: %w", c.Class, p.Name, p.Type, ErrInvalidClassDef)
		}
		if !validAccess[p.AccessRule()] {
			return fmt.Errorf("%s.%s: unknown access %q: %w", c.Class, p.Name, p.Access, ErrInvalidClassDef)
		}
		if p.AutoIncrement && p.ValueType() != ValueTypeInt {
			return fmt.Errorf("%s.%s: auto_increment requires type int: %w", c.Class, p.Name, ErrInvalidClassDef)
		}
	}

	if len(c.PrimaryKey) == 0 {
		return fmt.Errorf("%s: primary key is empty: %w", c.Class, ErrInvalidClassDef)
	}
	for _, pk := range c.PrimaryKey {
		if !seen[FoldName(pk)] {
			return fmt.Errorf("%s: primary key %s: %w", c.Class, pk, ErrUnknownProperty)
		}
	}

	rels := make(map[string]bool, len(c.Relationships))
	for _, r := range c.Relationships {
		if r.Name == "" {
			return fmt.Errorf("%s: relationship with empty name: %w", c.Class, ErrInvalidClassDef)
		}
		folded := FoldName(r.Name)
		if rels[folded] {
			return fmt.Errorf("%s.%s: %w", c.Class, r.Name, ErrDuplicateRelationship)
		}
		rels[folded] = true
		if seen[folded] {
			return fmt.Errorf("%s.%s: relationship shadows a property: %w", c.Class, r.Name, ErrInvalidClassDef)
		}
		if err := c.validateRelationship(r, seen); err != nil {
			return err
		}
	}
	return nil
}

func (c *ClassDef) validateRelationship(r RelationshipDef, props map[string]bool) error {
	if r.RelatedClass == "" {
		return fmt.Errorf("%s.%s: related class is empty: %w", c.Class, r.Name, ErrInvalidClassDef)
	}
	switch r.Cardinality {
	case CardinalitySingle, CardinalityMultiple:
	default:
		return fmt.Errorf("%s.%s: unknown cardinality %q: %w", c.Class, r.Name, r.Cardinality, ErrInvalidClassDef)
	}
	switch r.Kind() {
	case RelAssociation, RelAggregation, RelComposition:
	default:
		return fmt.Errorf("%s.%s: unknown type %q: %w", c.Class, r.Name, r.Type, ErrInvalidClassDef)
	}
	switch r.Action() {
	case DeleteDoNothing, DeletePrevent, DeleteDereferenceRelated, DeleteRelated:
	default:
		return fmt.Errorf("%s.%s: unknown delete action %q: %w", c.Class, r.Name, r.DeleteAction, ErrInvalidClassDef)
	}
	if len(r.Keys) == 0 {
		return fmt.Errorf("%s.%s: relationship has no keys: %w", c.Class, r.Name, ErrInvalidClassDef)
	}
	for _, k := range r.Keys {
		if !props[FoldName(k.OwnerProperty)] {
			return fmt.Errorf("%s.%s: owner key %s: %w", c.Class, r.Name, k.OwnerProperty, ErrUnknownProperty)
		}
		if k.RelatedProperty == "" {
			return fmt.Errorf("%s.%s: related key is empty: %w", c.Class, r.Name, ErrInvalidClassDef)
		}
	}
	return nil
}
