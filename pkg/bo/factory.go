package bo

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/mesh-intelligence/larder/pkg/types"
)

// RuleBuilder builds the validation rules for a property definition.
type RuleBuilder func(def types.PropDef) ([]Rule, error)

// propPlan is the capability table entry for one property: how to convert
// and validate its values.
type propPlan struct {
	def          types.PropDef
	newConverter func() Converter
	rules        []Rule
}

// relPlan is the capability table entry for one relationship.
type relPlan struct {
	def     types.RelationshipDef
	related *types.ClassDef
}

// classPlan is everything needed to build objects of one class, computed
// once per class.
type classPlan struct {
	def   *types.ClassDef
	props []propPlan
	rels  []relPlan
	// generateID is set when the primary key is a single uuid property.
	generateID string
}

// Factory builds domain objects from the class definitions in a Catalog.
// Converters, rules, and relationship metadata are resolved once per class
// and reused for every object. A Factory is safe for concurrent use.
type Factory struct {
	catalog *types.Catalog
	rules   RuleBuilder

	mu       sync.RWMutex
	plans    map[string]*classPlan
	resolver Resolver
}

// NewFactory returns a factory over catalog. rules may be nil, in which case
// properties only get compulsory checks.
func NewFactory(catalog *types.Catalog, rules RuleBuilder) *Factory {
	return &Factory{
		catalog: catalog,
		rules:   rules,
		plans:   make(map[string]*classPlan),
	}
}

// Catalog returns the catalog the factory builds from.
func (f *Factory) Catalog() *types.Catalog { return f.catalog }

// SetResolver sets the resolver given to relationships of objects built
// from now on.
func (f *Factory) SetResolver(r Resolver) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resolver = r
}

// Prepare validates the catalog and builds the plan of every class, so that
// rule or relationship errors surface before any object is created.
func (f *Factory) Prepare() error {
	if err := f.catalog.Validate(); err != nil {
		return err
	}
	for _, def := range f.catalog.Classes() {
		if _, _, err := f.plan(def.Class); err != nil {
			return err
		}
	}
	return nil
}

func (f *Factory) plan(class string) (*classPlan, Resolver, error) {
	key := types.FoldName(class)
	f.mu.RLock()
	p, ok := f.plans[key]
	resolver := f.resolver
	f.mu.RUnlock()
	if ok {
		return p, resolver, nil
	}

	def, err := f.catalog.Class(class)
	if err != nil {
		return nil, nil, err
	}
	p, err = f.buildPlan(def)
	if err != nil {
		return nil, nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.plans[key]; ok {
		return existing, f.resolver, nil
	}
	f.plans[key] = p
	return p, f.resolver, nil
}

func (f *Factory) buildPlan(def *types.ClassDef) (*classPlan, error) {
	p := &classPlan{def: def}
	for _, pd := range def.Properties {
		pp := propPlan{def: pd}
		base := ConverterFor(pd.ValueType())
		if len(pd.Lookup) > 0 {
			list := pd.Lookup
			pp.newConverter = func() Converter { return NewLookupConverter(list, base) }
		} else {
			pp.newConverter = func() Converter { return base }
		}
		if f.rules != nil {
			rules, err := f.rules(pd)
			if err != nil {
				return nil, fmt.Errorf("%s.%s rules: %w", def.Class, pd.Name, err)
			}
			pp.rules = rules
		}
		p.props = append(p.props, pp)
	}

	for _, rd := range def.Relationships {
		related, err := f.catalog.Class(rd.RelatedClass)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", def.Class, rd.Name, err)
		}
		p.rels = append(p.rels, relPlan{def: rd, related: related})
	}

	if len(def.PrimaryKey) == 1 {
		pd, err := def.Property(def.PrimaryKey[0])
		if err != nil {
			return nil, err
		}
		if pd.ValueType() == types.ValueTypeUUID && pd.Default == nil {
			p.generateID = pd.Name
		}
	}
	return p, nil
}

func (f *Factory) build(class string) (*Object, *classPlan, error) {
	p, resolver, err := f.plan(class)
	if err != nil {
		return nil, nil, err
	}
	o := newObject(p.def)
	for _, pp := range p.props {
		prop := &Prop{def: pp.def, conv: pp.newConverter(), rules: pp.rules}
		if err := o.props.add(prop); err != nil {
			return nil, nil, err
		}
	}
	for _, rp := range p.rels {
		rel, err := NewRelationship(rp.def, rp.related, resolver)
		if err != nil {
			return nil, nil, err
		}
		if err := o.rels.Add(rel); err != nil {
			return nil, nil, err
		}
	}
	return o, p, nil
}

// New returns a new, unsaved object of class with default values applied. A
// single uuid primary key receives a fresh UUID v7.
func (f *Factory) New(class string) (*Object, error) {
	o, p, err := f.build(class)
	if err != nil {
		return nil, err
	}
	o.isNew = true
	for _, prop := range o.props.order {
		v, err := prop.conv.Convert(prop.def.Default)
		if err != nil {
			return nil, fmt.Errorf("%s.%s default: %w", class, prop.def.Name, err)
		}
		prop.value, prop.backup = v, v
	}
	if p.generateID != "" {
		prop, err := o.props.Prop(p.generateID)
		if err != nil {
			return nil, err
		}
		prop.value = generateUUID()
		prop.backup = prop.value
	}
	o.props.ValidateAll()
	return o, nil
}

// Materialize returns a clean object holding the values of a store record.
func (f *Factory) Materialize(rec types.Record) (*Object, error) {
	o, _, err := f.build(rec.Class)
	if err != nil {
		return nil, err
	}
	if err := o.props.load(rec.Values); err != nil {
		return nil, fmt.Errorf("materialize %s: %w", rec.Key, err)
	}
	return o, nil
}

// KeyOf converts primary key values for class and returns the identity
// string an object with those values would have.
func (f *Factory) KeyOf(class string, values ...any) (string, error) {
	p, _, err := f.plan(class)
	if err != nil {
		return "", err
	}
	if len(values) != len(p.def.PrimaryKey) {
		return "", fmt.Errorf("%s needs %d key values, got %d: %w", p.def.Class, len(p.def.PrimaryKey), len(values), types.ErrInvalidKey)
	}
	canonical := make([]any, 0, len(values))
	for i, name := range p.def.PrimaryKey {
		pd, err := p.def.Property(name)
		if err != nil {
			return "", err
		}
		v, err := ConverterFor(pd.ValueType()).Convert(values[i])
		if err != nil {
			return "", fmt.Errorf("%s.%s: %w", p.def.Class, name, err)
		}
		canonical = append(canonical, v)
	}
	key := FormatKey(p.def.Class, canonical)
	if key == "" {
		return "", fmt.Errorf("%s: nil key value: %w", p.def.Class, types.ErrInvalidKey)
	}
	return key, nil
}

// generateUUID returns a UUID v7, falling back to v4.
func generateUUID() uuid.UUID {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New()
	}
	return id
}
