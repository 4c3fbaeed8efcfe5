package backend

import (
	"fmt"
	"sync"

	"github.com/orizon-lang/shm/internal/shm/shmlog"
)

// ID names a backend slot in the current process. It is not portable
// across processes.
type ID int

// Registry is the process-wide table of live backends keyed by ID.
// Grounded on the teacher's runtime.RegionAllocator: a map guarded by
// a single RWMutex, without that allocator's observer hook or
// region-reuse pool (backends are acquired-then-destroyed, not
// recycled).
type Registry struct {
	mu       sync.RWMutex
	backends map[ID]Backend
}

// NewRegistry creates an empty backend registry.
func NewRegistry() *Registry {
	return &Registry{backends: make(map[ID]Backend)}
}

// Register installs b under id, first unregistering (detaching or
// destroying, by ownership) whatever previously occupied that slot.
func (r *Registry) Register(id ID, b Backend) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.backends[id]; ok {
		unregisterLocked(prev)
	}
	r.backends[id] = b
	shmlog.Debug("backend registered", "id", int(id), "variant", b.Variant().String())
}

// Get looks up the backend registered under id.
func (r *Registry) Get(id ID) (Backend, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.backends[id]
	return b, ok
}

// Unregister detaches (non-owner) or destroys (owner) the backend
// registered under id and removes it from the table.
func (r *Registry) Unregister(id ID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.backends[id]
	if !ok {
		return fmt.Errorf("backend: no backend registered under id %d", id)
	}
	delete(r.backends, id)
	return unregisterLocked(b)
}

func unregisterLocked(b Backend) error {
	if b.IsOwned() {
		return b.Destroy()
	}
	return b.Detach()
}

// Len reports the number of currently registered backends.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.backends)
}
