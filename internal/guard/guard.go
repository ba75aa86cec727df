// Package guard decides whether objects may be deleted.
//
// A relationship with the prevent delete action blocks deletion of its owner
// while it has live related objects. Objects removed by a delete_related
// cascade are checked too, so a prevent rule deep in a composition blocks
// deleting its root.
package guard

import (
	"fmt"

	"github.com/mesh-intelligence/larder/pkg/bo"
	"github.com/mesh-intelligence/larder/pkg/types"
)

// Guard evaluates prevent rules.
type Guard struct{}

// New returns a Guard.
func New() *Guard { return &Guard{} }

// CanDelete reports whether o can be deleted. When it cannot, reasons holds
// one line per blocking relationship. err is set only when related objects
// could not be resolved.
func (g *Guard) CanDelete(o *bo.Object) (bool, []string, error) {
	var reasons []string
	if err := g.check(o, "", map[*bo.Object]bool{}, &reasons); err != nil {
		return false, nil, err
	}
	return len(reasons) == 0, reasons, nil
}

// CanDeleteAll checks several objects deleted together. Each object is
// checked once, so an object reached through a delete_related cascade from
// an earlier one is not reported twice.
func (g *Guard) CanDeleteAll(objs []*bo.Object) (bool, []string, error) {
	visited := map[*bo.Object]bool{}
	var reasons []string
	for _, o := range objs {
		if err := g.check(o, "", visited, &reasons); err != nil {
			return false, nil, err
		}
	}
	return len(reasons) == 0, reasons, nil
}

// Check returns a *types.DeletePreventedError for o, or nil when o can be
// deleted.
func (g *Guard) Check(o *bo.Object) error {
	ok, reasons, err := g.CanDelete(o)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	return &types.DeletePreventedError{Class: o.Class(), Key: o.Key(), Reasons: reasons}
}

func (g *Guard) check(o *bo.Object, path string, visited map[*bo.Object]bool, reasons *[]string) error {
	if visited[o] {
		return nil
	}
	visited[o] = true

	for _, rel := range o.Relationships().All() {
		action := rel.DeleteAction()
		if action != types.DeletePrevent && action != types.DeleteRelated {
			continue
		}
		related, err := rel.Related()
		if err != nil {
			return fmt.Errorf("check delete of %s: %w", o, err)
		}
		relPath := rel.Name()
		if path != "" {
			relPath = path + "." + rel.Name()
		}

		switch action {
		case types.DeletePrevent:
			live := 0
			for _, r := range related {
				if !r.IsMarkedForDelete() && !r.IsDeleted() {
					live++
				}
			}
			if live > 0 {
				*reasons = append(*reasons, fmt.Sprintf("%s %s: relationship %q has %d related %s object(s)",
					o.Class(), o.Key(), relPath, live, rel.RelatedClass()))
			}
		case types.DeleteRelated:
			for _, r := range related {
				if err := g.check(r, relPath, visited, reasons); err != nil {
					return err
				}
			}
		}
	}
	return nil
}
