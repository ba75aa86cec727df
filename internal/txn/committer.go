// Package txn implements the unit of work: it collects the objects changed
// under a set of roots, validates them, and writes them to a DataStore in
// one atomic batch.
package txn

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/mesh-intelligence/larder/internal/identity"
	"github.com/mesh-intelligence/larder/pkg/bo"
	"github.com/mesh-intelligence/larder/pkg/types"
)

// State is the phase of a commit run.
type State string

// Commit run states. Committed and RolledBack are terminal.
const (
	StateCollecting State = "collecting"
	StateValidating State = "validating"
	StatePersisting State = "persisting"
	StateCommitted  State = "committed"
	StateRolledBack State = "rolled_back"
)

// DeleteGuard decides whether the objects marked for delete in a unit of
// work may be deleted.
type DeleteGuard interface {
	CanDeleteAll(objs []*bo.Object) (bool, []string, error)
}

// CounterSeeder is implemented by stores that can raise an auto-increment
// counter. After inserting objects whose auto-increment value was supplied
// by the caller, the committer raises the counter past it so generated
// values do not collide with it.
type CounterSeeder interface {
	SeedAutoIncrement(class string, value int64)
}

// Committer runs one unit of work. Create one per commit with New.
type Committer struct {
	store    types.DataStore
	registry *identity.Registry
	guard    DeleteGuard
	logger   *slog.Logger

	state State
	// touched is every object reached from the roots, in collection order.
	touched []*bo.Object
	// writes is the subset of touched that needs a store write.
	writes []*bo.Object
}

// New returns a committer in the Collecting state. A nil logger uses
// slog.Default.
func New(store types.DataStore, registry *identity.Registry, guard DeleteGuard, logger *slog.Logger) *Committer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Committer{
		store:    store,
		registry: registry,
		guard:    guard,
		logger:   logger,
		state:    StateCollecting,
	}
}

// State returns the current phase.
func (c *Committer) State() State { return c.state }

// Commit collects every pending change reachable from roots, validates the
// result, and persists it atomically.
//
// Validation and delete-guard failures abort before anything is written and
// leave in-memory edits in place so the caller can fix or cancel them. A
// persistence failure restores every collected object to the state it had
// when Commit was called and returns a *types.PersistError.
func (c *Committer) Commit(roots ...*bo.Object) (types.CommitResult, error) {
	if c.state != StateCollecting {
		return types.CommitResult{}, fmt.Errorf("commit in state %s: %w", c.state, types.ErrTransactionStarted)
	}

	c.collect(roots)
	c.logger.Debug("collected", "touched", len(c.touched), "writes", len(c.writes))

	c.state = StateValidating
	if err := c.validate(); err != nil {
		c.state = StateRolledBack
		return types.CommitResult{}, err
	}

	c.state = StatePersisting
	result, err := c.persist()
	if err != nil {
		c.state = StateRolledBack
		c.logger.Debug("commit rolled back", "error", err)
		return types.CommitResult{}, err
	}

	c.accept()
	c.state = StateCommitted
	c.logger.Info("committed", "inserted", result.Inserted, "updated", result.Updated, "deleted", result.Deleted)
	return result, nil
}

// collect walks the graph from roots. It follows pending additions and
// removals, loaded objects of aggregation and composition relationships,
// cascade targets of objects marked for delete, and new objects linked
// through single relationships. Only loaded relationships are followed.
func (c *Committer) collect(roots []*bo.Object) {
	visited := make(map[*bo.Object]bool)
	var visit func(o *bo.Object)
	visit = func(o *bo.Object) {
		if o == nil || visited[o] || o.IsDeleted() {
			return
		}
		visited[o] = true
		c.touched = append(c.touched, o)
		if o.IsNew() || o.IsMarkedForDelete() || o.Props().IsDirty() {
			c.writes = append(c.writes, o)
		}

		for _, rel := range o.Relationships().All() {
			added, removed := rel.Pending()
			for _, r := range added {
				visit(r)
			}
			for _, r := range removed {
				visit(r)
			}

			owned := rel.Type() == types.RelAggregation || rel.Type() == types.RelComposition
			cascade := o.IsMarkedForDelete() &&
				(rel.DeleteAction() == types.DeleteRelated || rel.DeleteAction() == types.DeleteDereferenceRelated)
			single := rel.Cardinality() == types.CardinalitySingle
			for _, r := range rel.Loaded() {
				if owned || cascade || (single && r.IsNew()) {
					visit(r)
				}
			}
		}
	}
	for _, o := range roots {
		visit(o)
	}
}

func (c *Committer) validate() error {
	var failures []types.ValidationFailure
	var deleting []*bo.Object
	newKeys := make(map[string]*bo.Object)

	for _, o := range c.writes {
		if o.IsMarkedForDelete() {
			if !o.IsNew() {
				deleting = append(deleting, o)
			}
			continue
		}

		failures = append(failures, o.Props().Failures()...)

		if o.IsNew() {
			key := o.Key()
			if key == "" {
				continue
			}
			if other, ok := newKeys[key]; ok && other != o {
				return fmt.Errorf("insert %s: %w", key, types.ErrDuplicateIdentity)
			}
			newKeys[key] = o
			if existing := c.registry.Find(key); existing != nil && existing != o {
				return fmt.Errorf("insert %s: %w", key, types.ErrDuplicateIdentity)
			}
		}
	}

	if len(failures) > 0 {
		return &types.ValidationError{Failures: failures}
	}
	if len(deleting) == 0 {
		return nil
	}
	ok, reasons, err := c.guard.CanDeleteAll(deleting)
	if err != nil {
		return err
	}
	if !ok {
		return &types.DeletePreventedError{Class: deleting[0].Class(), Key: deleting[0].Key(), Reasons: reasons}
	}
	return nil
}

// order sorts the objects to write so that every object comes after the
// objects that supply its foreign key values.
func (c *Committer) order() []*bo.Object {
	inBatch := make(map[*bo.Object]bool, len(c.writes))
	for _, o := range c.writes {
		inBatch[o] = true
	}

	suppliers := make(map[*bo.Object][]*bo.Object)
	for _, o := range c.writes {
		for _, rel := range o.Relationships().All() {
			for _, r := range rel.Loaded() {
				if !inBatch[r] {
					continue
				}
				if rel.OwnerHoldsKey() {
					suppliers[o] = append(suppliers[o], r)
				} else {
					suppliers[r] = append(suppliers[r], o)
				}
			}
		}
	}

	const (
		visiting = 1
		done     = 2
	)
	mark := make(map[*bo.Object]int, len(c.writes))
	out := make([]*bo.Object, 0, len(c.writes))
	var visit func(o *bo.Object)
	visit = func(o *bo.Object) {
		if mark[o] != 0 {
			return
		}
		mark[o] = visiting
		for _, s := range suppliers[o] {
			visit(s)
		}
		mark[o] = done
		out = append(out, o)
	}
	for _, o := range c.writes {
		visit(o)
	}
	return out
}

// persist assigns generated keys, propagates them, and applies the batch.
// On failure it restores the collected objects.
func (c *Committer) persist() (types.CommitResult, error) {
	snapshots := make(map[*bo.Object]map[string]any, len(c.touched))
	for _, o := range c.touched {
		snapshots[o] = o.Props().Values()
	}
	rollback := func(err error) (types.CommitResult, error) {
		for _, o := range c.touched {
			o.Props().Restore(snapshots[o])
		}
		return types.CommitResult{}, err
	}

	ordered := c.order()
	c.writes = ordered

	var upserts, deletes []types.Change
	var result types.CommitResult
	for _, o := range ordered {
		if o.IsMarkedForDelete() {
			if !o.IsNew() {
				deletes = append(deletes, types.Change{
					Op:     types.OpDelete,
					Record: types.Record{Class: o.Class(), Key: o.PersistedKey()},
				})
				result.Deleted++
			}
			continue
		}

		if err := c.prepareKeys(o); err != nil {
			return rollback(err)
		}

		key := o.Key()
		if key == "" {
			return rollback(&types.PersistError{Class: o.Class(), Op: types.OpInsert, Err: types.ErrInvalidKey})
		}
		switch {
		case o.IsNew():
			upserts = append(upserts, types.Change{Op: types.OpInsert, Record: o.Record()})
			result.Inserted++
		case key != o.PersistedKey():
			deletes = append(deletes, types.Change{
				Op:     types.OpDelete,
				Record: types.Record{Class: o.Class(), Key: o.PersistedKey()},
			})
			upserts = append(upserts, types.Change{Op: types.OpInsert, Record: o.Record()})
			result.Updated++
		default:
			upserts = append(upserts, types.Change{Op: types.OpUpdate, Record: o.Record()})
			result.Updated++
		}
	}

	// Deletes of dependants go before deletes of the objects they reference,
	// and before inserts that may reuse a deleted key.
	slices.Reverse(deletes)
	changes := append(deletes, upserts...)

	if err := c.store.Apply(changes); err != nil {
		return rollback(wrapApplyError(err))
	}
	return result, nil
}

// prepareKeys copies key values from already processed suppliers and, for a
// new object, assigns auto-increment values and pushes its key to loaded
// dependants.
func (c *Committer) prepareKeys(o *bo.Object) error {
	for _, rel := range o.Relationships().All() {
		if !rel.OwnerHoldsKey() {
			continue
		}
		if err := rel.PullKeys(); err != nil {
			return &types.PersistError{Class: o.Class(), Key: o.Key(), Op: types.OpInsert, Err: err}
		}
	}
	if !o.IsNew() {
		return nil
	}

	for _, pd := range o.Def().Properties {
		if !pd.AutoIncrement {
			continue
		}
		v, err := o.Get(pd.Name)
		if err != nil {
			return err
		}
		if v != nil {
			continue
		}
		next, err := c.store.NextAutoIncrement(o.Class())
		if err != nil {
			return &types.PersistError{Class: o.Class(), Op: types.OpInsert, Property: pd.Name, Err: err}
		}
		if err := o.Set(pd.Name, next); err != nil {
			return &types.PersistError{Class: o.Class(), Op: types.OpInsert, Property: pd.Name, Err: err}
		}
		c.logger.Debug("assigned key", "class", o.Class(), "property", pd.Name, "value", next)
	}

	for _, rel := range o.Relationships().All() {
		if err := rel.PushKeys(); err != nil {
			return &types.PersistError{Class: o.Class(), Key: o.Key(), Op: types.OpInsert, Err: err}
		}
	}
	return nil
}

func wrapApplyError(err error) error {
	var ce *types.ChangeError
	if errors.As(err, &ce) {
		return &types.PersistError{
			Class: ce.Change.Record.Class,
			Key:   ce.Change.Record.Key,
			Op:    ce.Change.Op,
			Err:   ce.Err,
		}
	}
	return &types.PersistError{Err: err}
}

// accept records the successful commit on every collected object and in the
// identity registry.
func (c *Committer) accept() {
	written := make(map[*bo.Object]bool, len(c.writes))
	for _, o := range c.writes {
		written[o] = true
		switch {
		case o.IsMarkedForDelete():
			c.registry.Remove(o)
			o.AcceptDelete()
		case o.IsNew():
			c.seedCounters(o)
			o.AcceptChanges()
			if err := c.registry.Add(o); err != nil {
				c.logger.Warn("register inserted object", "key", o.Key(), "error", err)
			}
		default:
			oldKey := o.PersistedKey()
			o.AcceptChanges()
			if err := c.registry.Rekey(o, oldKey); err != nil {
				c.logger.Warn("register updated object", "key", o.Key(), "error", err)
			}
		}
	}
	for _, o := range c.touched {
		if !written[o] {
			o.AcceptChanges()
		}
	}
}

func (c *Committer) seedCounters(o *bo.Object) {
	seeder, ok := c.store.(CounterSeeder)
	if !ok {
		return
	}
	for _, pd := range o.Def().Properties {
		if !pd.AutoIncrement {
			continue
		}
		if v, err := o.Get(pd.Name); err == nil {
			if n, ok := v.(int64); ok {
				seeder.SeedAutoIncrement(o.Class(), n)
			}
		}
	}
}
