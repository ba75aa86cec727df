// Package larder is the entry point to the business-object runtime. A
// Runtime ties a DataStore to the class catalog and hands out domain objects
// that are unique per identity, track their edits, and are written back in
// atomic units of work.
//
// Example:
//
//	cat, err := classdef.LoadFile("classes.yaml")
//	rt, err := larder.Open(types.Config{
//	    Backend: types.BackendSQLite,
//	    DataDir: ".larder",
//	}, cat)
//	defer rt.Close()
//
//	p, err := rt.New("Parent")
//	err = p.Set("name", "Acme")
//	result, err := rt.Commit(p)
package larder

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/mesh-intelligence/larder/internal/guard"
	"github.com/mesh-intelligence/larder/internal/identity"
	"github.com/mesh-intelligence/larder/internal/loader"
	"github.com/mesh-intelligence/larder/internal/memstore"
	"github.com/mesh-intelligence/larder/internal/rules"
	"github.com/mesh-intelligence/larder/internal/sqlite"
	"github.com/mesh-intelligence/larder/internal/txn"
	"github.com/mesh-intelligence/larder/internal/xmlio"
	"github.com/mesh-intelligence/larder/pkg/bo"
	"github.com/mesh-intelligence/larder/pkg/criteria"
	"github.com/mesh-intelligence/larder/pkg/types"
)

// Version is the release of the runtime and the larder command.
const Version = "0.1.0"

// ErrSnapshotUnsupported is returned by ExportJSONL and ImportJSONL when the
// store cannot write snapshots.
var ErrSnapshotUnsupported = errors.New("store does not support snapshots")

// Registry is the identity registry a Runtime funnels objects through.
type Registry = identity.Registry

// Query selects a window of ordered objects for GetAll.
type Query = loader.Query

// NewRegistry returns an empty registry for WithRegistry.
func NewRegistry() *Registry { return identity.New() }

// SharedRegistry returns the process-wide registry.
func SharedRegistry() *Registry { return identity.Shared() }

type snapshotter interface {
	ExportJSONL(path string) error
	ImportJSONL(path string) (int, error)
}

type options struct {
	registry *Registry
	store    types.DataStore
	logger   *slog.Logger
}

// Option configures Open.
type Option func(*options)

// WithRegistry makes the runtime use r instead of a registry of its own.
// Runtimes sharing a registry share object instances, so they should also
// share a store.
func WithRegistry(r *Registry) Option {
	return func(o *options) { o.registry = r }
}

// WithStore makes the runtime use store instead of the backend named in the
// config. Close does not close an injected store.
func WithStore(store types.DataStore) Option {
	return func(o *options) { o.store = store }
}

// WithLogger sets the logger. The default is slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// Runtime is a configured business-object runtime.
type Runtime struct {
	store      types.DataStore
	closeStore func() error
	registry   *Registry
	ownReg     bool
	factory    *bo.Factory
	loader     *loader.Loader
	guard      *guard.Guard
	logger     *slog.Logger
}

// Open builds a runtime over catalog. The catalog is validated and every
// class's property rules are built before Open returns, so definition
// errors surface here rather than on first use.
func Open(cfg types.Config, catalog *types.Catalog, opts ...Option) (*Runtime, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	factory := bo.NewFactory(catalog, rules.Build)
	if err := factory.Prepare(); err != nil {
		return nil, fmt.Errorf("preparing classes: %w", err)
	}

	rt := &Runtime{
		store:      o.store,
		closeStore: func() error { return nil },
		registry:   o.registry,
		factory:    factory,
		guard:      guard.New(),
		logger:     o.logger,
	}
	if rt.registry == nil {
		rt.registry = identity.New()
		rt.ownReg = true
	}

	if rt.store == nil {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		switch cfg.Backend {
		case types.BackendMemory:
			rt.store = memstore.New()
		case types.BackendSQLite:
			b := sqlite.NewBackend(sqlite.WithLogger(o.logger))
			if err := b.Attach(cfg); err != nil {
				return nil, err
			}
			rt.store = b
			rt.closeStore = b.Detach
		}
	}

	rt.loader = loader.New(rt.store, rt.registry, factory, o.logger)
	return rt, nil
}

// Close releases the store. Objects handed out earlier keep their values but
// can no longer load relationships or be committed.
func (rt *Runtime) Close() error {
	if rt.ownReg {
		rt.registry.Reset()
	}
	return rt.closeStore()
}

// Catalog returns the class definitions.
func (rt *Runtime) Catalog() *types.Catalog { return rt.factory.Catalog() }

// Registry returns the identity registry.
func (rt *Runtime) Registry() *Registry { return rt.registry }

// Store returns the underlying store.
func (rt *Runtime) Store() types.DataStore { return rt.store }

// New returns a new, unsaved object of class with defaults applied.
func (rt *Runtime) New(class string) (*bo.Object, error) { return rt.factory.New(class) }

// FindOne returns the object of class matching c, or nil when nothing
// matches. More than one match returns ErrAmbiguousMatch.
func (rt *Runtime) FindOne(class string, c criteria.Criteria) (*bo.Object, error) {
	return rt.loader.FindOne(class, c)
}

// FindByKey returns the object of class with the given primary key values,
// or nil when there is none.
func (rt *Runtime) FindByKey(class string, keyValues ...any) (*bo.Object, error) {
	return rt.loader.FindByKey(class, keyValues...)
}

// Get returns the object of class matching c, or ErrRecordNotFound.
func (rt *Runtime) Get(class string, c criteria.Criteria) (*bo.Object, error) {
	return rt.loader.Get(class, c)
}

// FindAll returns every object of class matching c, in order.
func (rt *Runtime) FindAll(class string, c criteria.Criteria, order criteria.OrderBy) ([]*bo.Object, error) {
	return rt.loader.FindAll(class, c, order)
}

// GetAll returns the window of objects q selects.
func (rt *Runtime) GetAll(class string, q Query) ([]*bo.Object, error) {
	return rt.loader.GetAll(class, q)
}

// Count returns the number of stored objects of class matching c.
func (rt *Runtime) Count(class string, c criteria.Criteria) (int, error) {
	return rt.loader.Count(class, c)
}

// Refresh discards o's edits and reloads its stored values.
func (rt *Runtime) Refresh(o *bo.Object) error { return rt.loader.Refresh(o) }

// CanDelete reports whether o could be deleted, with one reason per
// blocking relationship when it cannot.
func (rt *Runtime) CanDelete(o *bo.Object) (bool, []string, error) {
	return rt.guard.CanDelete(o)
}

// Commit writes the pending changes of objs and everything they own in one
// atomic unit of work.
func (rt *Runtime) Commit(objs ...*bo.Object) (types.CommitResult, error) {
	return txn.New(rt.store, rt.registry, rt.guard, rt.logger).Commit(objs...)
}

// ReadXML reads objects from r, matching stored identities. It returns the
// objects and the warnings about skipped content. Nothing is stored until
// the objects are committed.
func (rt *Runtime) ReadXML(r io.Reader) ([]*bo.Object, []string, error) {
	reader := xmlio.NewReader(rt.loader, rt.factory, rt.logger)
	objs, err := reader.Read(r)
	return objs, reader.Warnings(), err
}

// WriteXML writes objs to w.
func (rt *Runtime) WriteXML(w io.Writer, objs []*bo.Object) error {
	return xmlio.Write(w, objs)
}

// ExportJSONL writes a snapshot of the store to path.
func (rt *Runtime) ExportJSONL(path string) error {
	s, ok := rt.store.(snapshotter)
	if !ok {
		return ErrSnapshotUnsupported
	}
	return s.ExportJSONL(path)
}

// ImportJSONL loads a snapshot written by ExportJSONL. Objects already
// handed out are not refreshed; use Refresh.
func (rt *Runtime) ImportJSONL(path string) (int, error) {
	s, ok := rt.store.(snapshotter)
	if !ok {
		return 0, ErrSnapshotUnsupported
	}
	return s.ImportJSONL(path)
}
