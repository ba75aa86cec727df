package bo

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/larder/pkg/criteria"
	"github.com/mesh-intelligence/larder/pkg/types"
)

func maxRule(limit int64) Rule {
	return RuleFunc(func(v any) (bool, string) {
		if n, ok := v.(int64); ok && n > limit {
			return false, fmt.Sprintf("must be at most %d", limit)
		}
		return true, ""
	})
}

// testRules gives every int property a maximum of 10.
func testRules(def types.PropDef) ([]Rule, error) {
	if def.ValueType() == types.ValueTypeInt {
		return []Rule{maxRule(10)}, nil
	}
	return nil, nil
}

func parentChildCatalog(t *testing.T, childAction types.DeleteAction) *types.Catalog {
	t.Helper()
	cat := types.NewCatalog()
	require.NoError(t, cat.Register(types.ClassDef{
		Class:      "Parent",
		PrimaryKey: []string{"id"},
		Properties: []types.PropDef{
			{Name: "id", Type: types.ValueTypeUUID},
			{Name: "name", Compulsory: true},
			{Name: "rank", Type: types.ValueTypeInt, Default: 1},
			{Name: "status", Lookup: map[string]string{"Active": "A", "Closed": "C"}},
			{Name: "code", Access: types.AccessReadOnly},
		},
		Relationships: []types.RelationshipDef{{
			Name:         "children",
			RelatedClass: "Child",
			Cardinality:  types.CardinalityMultiple,
			Type:         types.RelComposition,
			DeleteAction: childAction,
			Keys:         []types.RelKeyDef{{OwnerProperty: "id", RelatedProperty: "parentId"}},
			OrderBy:      "name",
		}},
	}))
	require.NoError(t, cat.Register(types.ClassDef{
		Class:      "Child",
		PrimaryKey: []string{"id"},
		Properties: []types.PropDef{
			{Name: "id", Type: types.ValueTypeUUID},
			{Name: "parentId", Type: types.ValueTypeUUID},
			{Name: "name"},
		},
		Relationships: []types.RelationshipDef{{
			Name:         "parent",
			RelatedClass: "Parent",
			Cardinality:  types.CardinalitySingle,
			Keys:         []types.RelKeyDef{{OwnerProperty: "parentId", RelatedProperty: "id"}},
		}},
	}))
	require.NoError(t, cat.Validate())
	return cat
}

// fakeResolver serves objects from a slice and counts queries.
type fakeResolver struct {
	objects []*Object
	calls   int
}

func (r *fakeResolver) FindOne(class string, c criteria.Criteria) (*Object, error) {
	all, err := r.FindAll(class, c, nil)
	if err != nil {
		return nil, err
	}
	switch len(all) {
	case 0:
		return nil, nil
	case 1:
		return all[0], nil
	}
	return nil, fmt.Errorf("%s: %w", class, types.ErrAmbiguousMatch)
}

func (r *fakeResolver) FindAll(class string, c criteria.Criteria, order criteria.OrderBy) ([]*Object, error) {
	r.calls++
	var out []*Object
	for _, o := range r.objects {
		if !types.SameName(o.Class(), class) {
			continue
		}
		ok, err := criteria.Match(c, o)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, o)
		}
	}
	if err := criteria.Sort(out, order); err != nil {
		return nil, err
	}
	return out, nil
}

type fixture struct {
	factory  *Factory
	resolver *fakeResolver
}

func newFixture(t *testing.T, childAction types.DeleteAction) *fixture {
	t.Helper()
	f := NewFactory(parentChildCatalog(t, childAction), testRules)
	require.NoError(t, f.Prepare())
	r := &fakeResolver{}
	f.SetResolver(r)
	return &fixture{factory: f, resolver: r}
}

// persisted returns a clean object built from values and visible to the
// resolver.
func (fx *fixture) persisted(t *testing.T, class string, values map[string]any) *Object {
	t.Helper()
	o, err := fx.factory.Materialize(types.Record{Class: class, Values: values})
	require.NoError(t, err)
	fx.resolver.objects = append(fx.resolver.objects, o)
	return o
}
