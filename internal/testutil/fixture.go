// Package testutil provides the class definitions and helpers shared by the
// runtime's package tests.
//
// The fixture models a Parent that owns Child objects through the
// "children" relationship. Each Child may own Toy objects through "toys",
// and a Toy prevents its Child from being deleted.
package testutil

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/larder/internal/rules"
	"github.com/mesh-intelligence/larder/pkg/bo"
	"github.com/mesh-intelligence/larder/pkg/types"
)

func maxLen(n int) []types.RuleDef {
	return []types.RuleDef{{Kind: types.RuleString, MaxLength: n}}
}

// ParentDef returns the Parent class. childAction is the delete action of
// Parent.children.
func ParentDef(childAction types.DeleteAction) types.ClassDef {
	return types.ClassDef{
		Class:      "Parent",
		PrimaryKey: []string{"id"},
		Properties: []types.PropDef{
			{Name: "id", Type: types.ValueTypeInt, AutoIncrement: true, Compulsory: true},
			{Name: "name", Compulsory: true, Rules: maxLen(20)},
			{Name: "status", Default: "A", Lookup: map[string]string{"Active": "A", "Closed": "C"}},
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
	}
}

// ChildDef returns the Child class.
func ChildDef() types.ClassDef {
	return types.ClassDef{
		Class:      "Child",
		PrimaryKey: []string{"id"},
		Properties: []types.PropDef{
			{Name: "id", Type: types.ValueTypeInt, AutoIncrement: true, Compulsory: true},
			{Name: "parentId", Type: types.ValueTypeInt},
			{Name: "name", Compulsory: true, Rules: maxLen(20)},
		},
		Relationships: []types.RelationshipDef{
			{
				Name:         "parent",
				RelatedClass: "Parent",
				Cardinality:  types.CardinalitySingle,
				Keys:         []types.RelKeyDef{{OwnerProperty: "parentId", RelatedProperty: "id"}},
			},
			{
				Name:         "toys",
				RelatedClass: "Toy",
				Cardinality:  types.CardinalityMultiple,
				DeleteAction: types.DeletePrevent,
				Keys:         []types.RelKeyDef{{OwnerProperty: "id", RelatedProperty: "childId"}},
			},
		},
	}
}

// ToyDef returns the Toy class.
func ToyDef() types.ClassDef {
	return types.ClassDef{
		Class:      "Toy",
		PrimaryKey: []string{"id"},
		Properties: []types.PropDef{
			{Name: "id", Type: types.ValueTypeUUID},
			{Name: "childId", Type: types.ValueTypeInt},
			{Name: "label"},
		},
	}
}

// Catalog returns a validated catalog of Parent, Child, and Toy.
func Catalog(t testing.TB, childAction types.DeleteAction) *types.Catalog {
	t.Helper()
	cat := types.NewCatalog()
	for _, def := range []types.ClassDef{ParentDef(childAction), ChildDef(), ToyDef()} {
		require.NoError(t, cat.Register(def))
	}
	require.NoError(t, cat.Validate())
	return cat
}

// Factory returns a prepared factory over cat using the standard rules.
func Factory(t testing.TB, cat *types.Catalog) *bo.Factory {
	t.Helper()
	f := bo.NewFactory(cat, rules.Build)
	require.NoError(t, f.Prepare())
	return f
}

// Seed inserts records directly into a store.
func Seed(t testing.TB, store types.DataStore, recs ...types.Record) {
	t.Helper()
	for _, rec := range recs {
		require.NoError(t, store.Insert(rec))
	}
}

// ParentRec returns a Parent record.
func ParentRec(id int64, name string) types.Record {
	return types.Record{
		Class:  "Parent",
		Key:    bo.FormatKey("Parent", []any{id}),
		Values: map[string]any{"id": id, "name": name, "status": "A"},
	}
}

// ChildRec returns a Child record belonging to parentID.
func ChildRec(id, parentID int64, name string) types.Record {
	return types.Record{
		Class:  "Child",
		Key:    bo.FormatKey("Child", []any{id}),
		Values: map[string]any{"id": id, "parentId": parentID, "name": name},
	}
}

// ToyRec returns a Toy record belonging to childID. id must be a UUID.
func ToyRec(id string, childID int64, label string) types.Record {
	u := uuid.MustParse(id)
	return types.Record{
		Class:  "Toy",
		Key:    bo.FormatKey("Toy", []any{u}),
		Values: map[string]any{"id": u, "childId": childID, "label": label},
	}
}
