// Package identity implements the identity map: at most one in-memory
// object per persisted identity.
//
// A Registry is constructed by its owner and handed to the loader and
// committer that share it. Shared returns a process-wide instance for
// composition roots that want one.
package identity

import (
	"fmt"
	"sync"

	"github.com/mesh-intelligence/larder/pkg/bo"
	"github.com/mesh-intelligence/larder/pkg/types"
)

// Registry maps identity strings to objects. It holds strong references;
// objects leave the registry through Remove or Reset. A Registry is safe for
// concurrent use.
type Registry struct {
	mu      sync.RWMutex
	objects map[string]*bo.Object
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{objects: make(map[string]*bo.Object)}
}

var (
	sharedOnce sync.Once
	shared     *Registry
)

// Shared returns the process-wide registry, creating it on first use.
func Shared() *Registry {
	sharedOnce.Do(func() { shared = New() })
	return shared
}

// Add registers o under its current key. Adding the registered instance
// again is a no-op. Returns ErrDuplicateIdentity if the key belongs to a
// different instance and ErrInvalidKey if o has no key yet.
func (r *Registry) Add(o *bo.Object) error {
	key := o.Key()
	if key == "" {
		return fmt.Errorf("register %s: %w", o, types.ErrInvalidKey)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.objects[key]; ok {
		if existing == o {
			return nil
		}
		return fmt.Errorf("register %s: %w", key, types.ErrDuplicateIdentity)
	}
	r.objects[key] = o
	return nil
}

// Remove drops o from the registry. It looks o up under both its current
// and persisted keys and only removes entries that hold o itself.
func (r *Registry) Remove(o *bo.Object) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, key := range []string{o.Key(), o.PersistedKey()} {
		if key != "" && r.objects[key] == o {
			delete(r.objects, key)
		}
	}
}

// Rekey moves o from oldKey to its current key after a committed key
// change.
func (r *Registry) Rekey(o *bo.Object, oldKey string) error {
	key := o.Key()
	if key == "" {
		return fmt.Errorf("rekey %s: %w", oldKey, types.ErrInvalidKey)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.objects[key]; ok && existing != o {
		return fmt.Errorf("rekey %s to %s: %w", oldKey, key, types.ErrDuplicateIdentity)
	}
	if r.objects[oldKey] == o {
		delete(r.objects, oldKey)
	}
	r.objects[key] = o
	return nil
}

// Find returns the object registered under key, or nil.
func (r *Registry) Find(key string) *bo.Object {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.objects[key]
}

// Len returns the number of registered objects.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.objects)
}

// Reset empties the registry.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.objects)
}
