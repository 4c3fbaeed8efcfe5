package allocator

import (
	"fmt"
	"sync"

	"github.com/orizon-lang/shm/internal/shm/offset"
	"github.com/orizon-lang/shm/internal/shm/shmlog"
)

// Registry is the process-wide table of live allocators keyed by
// offset.AllocatorID, mirroring backend.Registry's shape so a
// manager.Manager can compose the two uniformly.
type Registry struct {
	mu         sync.RWMutex
	allocators map[offset.AllocatorID]Allocator
}

// NewRegistry creates an empty allocator registry.
func NewRegistry() *Registry {
	return &Registry{allocators: make(map[offset.AllocatorID]Allocator)}
}

// Register installs a under its own ID, overwriting any previous
// allocator at that ID without freeing its outstanding allocations —
// callers must ensure nothing still references the old allocator.
func (r *Registry) Register(a Allocator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.allocators[a.ID()] = a
	shmlog.Debug("allocator registered", "id", a.ID(), "kind", a.Kind().String())
}

// Get looks up the allocator registered under id.
func (r *Registry) Get(id offset.AllocatorID) (Allocator, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.allocators[id]
	return a, ok
}

// Unregister removes the allocator registered under id.
func (r *Registry) Unregister(id offset.AllocatorID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.allocators[id]; !ok {
		return fmt.Errorf("allocator: no allocator registered under id %v", id)
	}
	delete(r.allocators, id)
	return nil
}

// Resolve converts a FatPointer to bytes by looking up its allocator
// in the registry and narrowing+resolving against it. Returns nil if
// the allocator isn't registered or the pointer is out of bounds.
func (r *Registry) Resolve(p offset.FatPointer, size uint64) []byte {
	a, ok := r.Get(p.Allocator)
	if !ok {
		return nil
	}
	return a.AllocatePtr(p.Narrow(), size)
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.allocators)
}
