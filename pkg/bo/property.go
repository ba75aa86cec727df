package bo

import (
	"fmt"
	"strings"
	"time"

	"github.com/mesh-intelligence/larder/pkg/criteria"
	"github.com/mesh-intelligence/larder/pkg/types"
)

// Rule is a validation capability attached to a property. Check is only
// called with non-nil values; compulsory checks are done by the property.
type Rule interface {
	Check(value any) (ok bool, reason string)
}

// RuleFunc adapts a function to Rule.
type RuleFunc func(value any) (bool, string)

// Check implements Rule.
func (f RuleFunc) Check(value any) (bool, string) { return f(value) }

// Prop is one property of a domain object: its current value, the persisted
// (backup) value, and the result of the last validation.
type Prop struct {
	def    types.PropDef
	bag    *PropertyBag
	conv   Converter
	rules  []Rule
	value  any
	backup any
	reason string
}

// Name returns the property name as declared.
func (p *Prop) Name() string { return p.def.Name }

// Def returns the property definition.
func (p *Prop) Def() types.PropDef { return p.def }

// Value returns the current value.
func (p *Prop) Value() any { return p.value }

// PersistedValue returns the backup value, which is the last value loaded
// from or written to the store.
func (p *Prop) PersistedValue() any { return p.backup }

// IsDirty reports whether the current value differs from the backup.
func (p *Prop) IsDirty() bool {
	return !criteria.Equal(p.value, p.backup)
}

// IsValid reports whether the current value passed validation when it was
// last set.
func (p *Prop) IsValid() bool { return p.reason == "" }

// InvalidReason returns the validation failure recorded on the last set, or
// the empty string.
func (p *Prop) InvalidReason() string { return p.reason }

// Display returns the value formatted for people: lookup values show their
// display text, times use a date-time layout, nil is empty.
func (p *Prop) Display() string {
	if p.value == nil {
		return ""
	}
	if lc, ok := p.conv.(*LookupConverter); ok {
		if d, ok := lc.Display(p.value); ok {
			return d
		}
	}
	if t, ok := p.value.(time.Time); ok {
		return t.Format(time.DateTime)
	}
	return criteria.FormatValue(p.value)
}

func (p *Prop) owner() *Object {
	if p.bag == nil {
		return nil
	}
	return p.bag.owner
}

func (p *Prop) set(v any, force bool) error {
	canonical, err := p.conv.Convert(v)
	if err != nil {
		return fmt.Errorf("%s: %w", p.def.Name, err)
	}
	if !force {
		if err := p.checkAccess(canonical); err != nil {
			return err
		}
	}
	changed := !criteria.Equal(canonical, p.value)
	p.value = canonical
	p.validate()
	if changed && !force {
		if o := p.owner(); o != nil {
			o.rels.keyChanged(p.def.Name)
		}
	}
	return nil
}

func (p *Prop) checkAccess(next any) error {
	o := p.owner()
	if o == nil || o.isNew || criteria.Equal(next, p.value) {
		return nil
	}
	switch p.def.AccessRule() {
	case types.AccessReadOnly:
		return fmt.Errorf("%s: %w", p.def.Name, types.ErrReadOnlyProperty)
	case types.AccessWriteOnce:
		if p.backup != nil {
			return fmt.Errorf("%s: %w", p.def.Name, types.ErrReadOnlyProperty)
		}
	}
	return nil
}

// validate checks the current value and records the outcome.
func (p *Prop) validate() []string {
	var reasons []string
	if p.value == nil {
		o := p.owner()
		pending := p.def.AutoIncrement && (o == nil || o.isNew)
		if p.def.Compulsory && !pending {
			reasons = append(reasons, fmt.Sprintf("%s is compulsory", p.def.Label()))
		}
	} else {
		for _, r := range p.rules {
			if ok, reason := r.Check(p.value); !ok {
				reasons = append(reasons, reason)
			}
		}
	}
	p.reason = strings.Join(reasons, "; ")
	return reasons
}

// PropertyBag holds the properties of one domain object. Names match
// case-insensitively. A PropertyBag is not safe for concurrent use; the
// caller editing an object owns it exclusively.
type PropertyBag struct {
	owner *Object
	props map[string]*Prop
	order []*Prop
}

// NewPropertyBag returns an empty bag that belongs to no object.
func NewPropertyBag() *PropertyBag {
	return &PropertyBag{props: make(map[string]*Prop)}
}

// Add registers an untyped property holding initialValue, which also becomes
// its backup value. Returns ErrDuplicateProperty if the name is taken.
func (b *PropertyBag) Add(name string, initialValue any) error {
	return b.add(&Prop{
		def:    types.PropDef{Name: name, Type: types.ValueTypeAny},
		conv:   ConverterFor(types.ValueTypeAny),
		value:  initialValue,
		backup: initialValue,
	})
}

func (b *PropertyBag) add(p *Prop) error {
	key := types.FoldName(p.def.Name)
	if _, ok := b.props[key]; ok {
		return fmt.Errorf("%s: %w", p.def.Name, types.ErrDuplicateProperty)
	}
	p.bag = b
	b.props[key] = p
	b.order = append(b.order, p)
	return nil
}

// Prop returns the named property. Returns ErrUnknownProperty if absent.
func (b *PropertyBag) Prop(name string) (*Prop, error) {
	p, ok := b.props[types.FoldName(name)]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, types.ErrUnknownProperty)
	}
	return p, nil
}

// Get returns the current value of the named property.
func (b *PropertyBag) Get(name string) (any, error) {
	p, err := b.Prop(name)
	if err != nil {
		return nil, err
	}
	return p.value, nil
}

// Set converts v to the property's canonical form, checks the access rule,
// stores it, and re-validates the property. A value that fails validation is
// still stored; IsValid and ValidateAll report it.
func (b *PropertyBag) Set(name string, v any) error {
	p, err := b.Prop(name)
	if err != nil {
		return err
	}
	if b.owner != nil && b.owner.deleted {
		return fmt.Errorf("%s: %w", name, types.ErrObjectDeleted)
	}
	return p.set(v, false)
}

// IsDirty reports whether any property differs from its backup, or the
// owning object is new.
func (b *PropertyBag) IsDirty() bool {
	if b.owner != nil && b.owner.isNew {
		return true
	}
	for _, p := range b.order {
		if p.IsDirty() {
			return true
		}
	}
	return false
}

// BackupAll makes every current value the backup value.
func (b *PropertyBag) BackupAll() {
	for _, p := range b.order {
		p.backup = p.value
	}
}

// RestoreAll resets every current value to its backup value.
func (b *PropertyBag) RestoreAll() {
	for _, p := range b.order {
		p.value = p.backup
		p.validate()
	}
}

// ValidateAll checks every property and returns all failure reasons. It
// never stops at the first failure.
func (b *PropertyBag) ValidateAll() (bool, []string) {
	var reasons []string
	for _, p := range b.order {
		reasons = append(reasons, p.validate()...)
	}
	return len(reasons) == 0, reasons
}

// Failures validates every property and returns the structured failures.
func (b *PropertyBag) Failures() []types.ValidationFailure {
	var class, key string
	if b.owner != nil {
		class, key = b.owner.Class(), b.owner.Key()
	}
	var out []types.ValidationFailure
	for _, p := range b.order {
		for _, reason := range p.validate() {
			out = append(out, types.ValidationFailure{
				Class:    class,
				Key:      key,
				Property: p.def.Name,
				Reason:   reason,
			})
		}
	}
	return out
}

// Names returns the property names in declaration order.
func (b *PropertyBag) Names() []string {
	names := make([]string, 0, len(b.order))
	for _, p := range b.order {
		names = append(names, p.def.Name)
	}
	return names
}

// DirtyNames returns the names of properties whose value differs from the
// backup.
func (b *PropertyBag) DirtyNames() []string {
	var names []string
	for _, p := range b.order {
		if p.IsDirty() {
			names = append(names, p.def.Name)
		}
	}
	return names
}

// Values returns a copy of the current values keyed by declared name.
func (b *PropertyBag) Values() map[string]any {
	out := make(map[string]any, len(b.order))
	for _, p := range b.order {
		out[p.def.Name] = p.value
	}
	return out
}

// Restore puts back current values captured with Values, leaving backups
// alone. Access rules and conversion are skipped; names missing from values
// are left unchanged.
func (b *PropertyBag) Restore(values map[string]any) {
	for _, p := range b.order {
		if v, ok := values[p.def.Name]; ok {
			p.value = v
			p.validate()
		}
	}
}

// Len returns the number of properties.
func (b *PropertyBag) Len() int { return len(b.order) }

// load sets current and backup values from persisted data. Missing names
// become nil.
func (b *PropertyBag) load(values map[string]any) error {
	folded := make(map[string]any, len(values))
	for k, v := range values {
		folded[types.FoldName(k)] = v
	}
	for _, p := range b.order {
		v, err := p.conv.Convert(folded[types.FoldName(p.def.Name)])
		if err != nil {
			return fmt.Errorf("%s: %w", p.def.Name, err)
		}
		p.value, p.backup = v, v
		p.validate()
	}
	return nil
}
