// Package loader reads records from a DataStore and turns them into domain
// objects, keeping one instance per identity through the identity registry.
package loader

import (
	"fmt"
	"log/slog"

	"github.com/mesh-intelligence/larder/internal/identity"
	"github.com/mesh-intelligence/larder/pkg/bo"
	"github.com/mesh-intelligence/larder/pkg/criteria"
	"github.com/mesh-intelligence/larder/pkg/types"
)

// Query selects a window of ordered objects.
type Query struct {
	Criteria criteria.Criteria
	OrderBy  criteria.OrderBy
	First    int
	Limit    int
}

// Loader materializes store records as domain objects. Every object it
// returns is the registered instance for its identity: an instance already
// in the registry is returned again, refreshed from the store unless it has
// pending edits.
type Loader struct {
	store    types.DataStore
	registry *identity.Registry
	factory  *bo.Factory
	logger   *slog.Logger
}

var _ bo.Resolver = (*Loader)(nil)

// New returns a loader and installs it as the factory's relationship
// resolver. A nil logger uses slog.Default.
func New(store types.DataStore, registry *identity.Registry, factory *bo.Factory, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Loader{store: store, registry: registry, factory: factory, logger: logger}
	factory.SetResolver(l)
	return l
}

// Factory returns the factory the loader builds objects with.
func (l *Loader) Factory() *bo.Factory { return l.factory }

// Registry returns the identity registry the loader funnels objects through.
func (l *Loader) Registry() *identity.Registry { return l.registry }

// FindOne returns the object of class matching c, or nil when nothing
// matches. More than one match returns ErrAmbiguousMatch.
func (l *Loader) FindOne(class string, c criteria.Criteria) (*bo.Object, error) {
	all, err := l.FindAll(class, c, nil)
	if err != nil {
		return nil, err
	}
	switch len(all) {
	case 0:
		return nil, nil
	case 1:
		return all[0], nil
	}
	return nil, fmt.Errorf("%s where %s: %w", class, c, types.ErrAmbiguousMatch)
}

// FindByKey returns the object of class with the given primary key values,
// or nil when no such record exists.
func (l *Loader) FindByKey(class string, keyValues ...any) (*bo.Object, error) {
	key, err := l.factory.KeyOf(class, keyValues...)
	if err != nil {
		return nil, err
	}
	rec, ok, err := l.store.Find(class, key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return l.materialize(rec)
}

// Get returns the object of class matching c. Returns ErrRecordNotFound when
// nothing matches.
func (l *Loader) Get(class string, c criteria.Criteria) (*bo.Object, error) {
	o, err := l.FindOne(class, c)
	if err != nil {
		return nil, err
	}
	if o == nil {
		return nil, fmt.Errorf("%s where %s: %w", class, c, types.ErrRecordNotFound)
	}
	return o, nil
}

// Refresh replaces o's values with the stored ones, discarding edits.
// Returns ErrRecordNotFound if the record no longer exists.
func (l *Loader) Refresh(o *bo.Object) error {
	key := o.PersistedKey()
	rec, ok, err := l.store.Find(o.Class(), key)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("refresh %s: %w", key, types.ErrRecordNotFound)
	}
	if o.IsMarkedForDelete() {
		o.CancelEdits()
	}
	return o.Reload(rec.Values)
}

// FindAll returns every object of class matching c in order.
func (l *Loader) FindAll(class string, c criteria.Criteria, order criteria.OrderBy) ([]*bo.Object, error) {
	return l.GetAll(class, Query{Criteria: c, OrderBy: order})
}

// GetAll returns the window of objects q selects. A registered instance
// with pending edits that no longer satisfies q.Criteria is left out.
func (l *Loader) GetAll(class string, q Query) ([]*bo.Object, error) {
	recs, err := l.store.FindAll(class, q.Criteria, q.OrderBy, types.Page{First: q.First, Limit: q.Limit})
	if err != nil {
		return nil, err
	}
	out := make([]*bo.Object, 0, len(recs))
	for _, rec := range recs {
		o, err := l.materialize(rec)
		if err != nil {
			return nil, err
		}
		if o.IsDirty() {
			ok, err := criteria.Match(q.Criteria, o)
			if err != nil {
				return nil, fmt.Errorf("match %s: %w", o.Key(), err)
			}
			if !ok {
				l.logger.Debug("edited instance no longer matches", "key", rec.Key, "criteria", q.Criteria)
				continue
			}
		}
		out = append(out, o)
	}
	return out, nil
}

// Count returns the number of stored records of class matching c.
func (l *Loader) Count(class string, c criteria.Criteria) (int, error) {
	return l.store.Count(class, c)
}

// materialize returns the registered instance for rec, creating and
// registering one if needed.
func (l *Loader) materialize(rec types.Record) (*bo.Object, error) {
	if o := l.registry.Find(rec.Key); o != nil {
		if o.IsDirty() {
			l.logger.Debug("keeping edited instance", "key", rec.Key)
			return o, nil
		}
		if err := o.Reload(rec.Values); err != nil {
			return nil, err
		}
		return o, nil
	}

	o, err := l.factory.Materialize(rec)
	if err != nil {
		return nil, err
	}
	if o.Key() != rec.Key {
		return nil, fmt.Errorf("record %s holds key values for %s: %w", rec.Key, o.Key(), types.ErrInvalidKey)
	}
	if err := l.registry.Add(o); err != nil {
		// Another caller registered the identity first.
		if existing := l.registry.Find(rec.Key); existing != nil {
			return existing, nil
		}
		return nil, err
	}
	l.logger.Debug("materialized", "class", rec.Class, "key", rec.Key)
	return o, nil
}
