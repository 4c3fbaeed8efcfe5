// Package manager provides the single façade an application needs to
// acquire backends and allocators without juggling the registries
// directly, mirroring the teacher's GlobalAllocator/Initialize
// singleton pattern in internal/allocator/allocator.go.
package manager

import (
	"fmt"
	"os"
	"strconv"
	"sync"

	"github.com/orizon-lang/shm/internal/shm/allocator"
	"github.com/orizon-lang/shm/internal/shm/backend"
	"github.com/orizon-lang/shm/internal/shm/offset"
	"github.com/orizon-lang/shm/internal/shm/shmlog"
)

// DefaultBackendSizeEnv names the environment variable that overrides
// DefaultBackendSize when set, matching the external-interfaces
// contract's SHM_DEFAULT_BACKEND_SIZE.
const DefaultBackendSizeEnv = "SHM_DEFAULT_BACKEND_SIZE"

// defaultBackendSize is used whenever a caller doesn't specify a size
// explicitly.
const defaultBackendSize uint64 = 64 << 20 // 64 MiB

// Manager composes a backend registry and an allocator registry behind
// one set of entry points. Most programs need exactly one, obtained
// via Default().
type Manager struct {
	backends   *backend.Registry
	allocators *allocator.Registry
}

// New creates an independent Manager, for tests or programs that
// intentionally keep multiple isolated registries in one process.
func New() *Manager {
	return &Manager{
		backends:   backend.NewRegistry(),
		allocators: allocator.NewRegistry(),
	}
}

var (
	defaultOnce sync.Once
	defaultMgr  *Manager
)

// Default returns the process-wide Manager singleton, constructing it
// on first use.
func Default() *Manager {
	defaultOnce.Do(func() {
		defaultMgr = New()
	})
	return defaultMgr
}

// DefaultBackendSize returns the size new backends should use absent
// an explicit size, honoring SHM_DEFAULT_BACKEND_SIZE if set.
func DefaultBackendSize() uint64 {
	if v := os.Getenv(DefaultBackendSizeEnv); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil && n > 0 {
			return n
		}
		shmlog.Warn("invalid "+DefaultBackendSizeEnv, "value", v)
	}
	return defaultBackendSize
}

// CreateBackend constructs a backend of variant V (a type implementing
// backend.Backend through a pointer receiver), initializes it as
// owner, and registers it under id. Go forbids type parameters on
// methods, so this is a free function taking the Manager explicitly —
// the same shape as offset.TypedOf being a free function rather than
// a Pointer method.
func CreateBackend[V any, PV interface {
	*V
	backend.Backend
}](m *Manager, id backend.ID, size uint64, name string) (PV, error) {
	var v V
	pv := PV(&v)
	if err := pv.Init(size, name); err != nil {
		return nil, err
	}
	m.backends.Register(id, pv)
	return pv, nil
}

// AttachBackend opens an existing named backend of variant V as a
// non-owner and registers it under id.
func AttachBackend[V any, PV interface {
	*V
	backend.Backend
}](m *Manager, id backend.ID, name string) (PV, error) {
	var v V
	pv := PV(&v)
	if err := pv.Attach(name); err != nil {
		return nil, err
	}
	m.backends.Register(id, pv)
	return pv, nil
}

// GetBackend looks up a previously registered backend.
func (m *Manager) GetBackend(id backend.ID) (backend.Backend, bool) {
	return m.backends.Get(id)
}

// UnregisterBackend detaches or destroys (by ownership) the backend
// registered under id.
func (m *Manager) UnregisterBackend(id backend.ID) error {
	return m.backends.Unregister(id)
}

// CreateAllocator constructs an allocator of variant V (any of
// allocator.NewStack, allocator.NewScalablePage, or a caller-supplied
// equivalent of that (id, backend, customHeaderSize) -> V shape) bound
// to the backend registered under backendID, and registers the result
// under its own ID. customHeaderSize reserves that many bytes of the
// backend's data region for the allocator's CustomHeader, matching
// spec's create_allocator<Variant>(backend_id, alloc_id,
// custom_header_size). CreateFixedPageAllocator and
// CreateMallocAllocator cover the two variants whose constructors take
// extra or fewer arguments.
func CreateAllocator[V allocator.Allocator](m *Manager, backendID backend.ID, allocID offset.AllocatorID, customHeaderSize uint64, ctor func(offset.AllocatorID, backend.Backend, uint64) V) (V, error) {
	var zero V
	b, ok := m.backends.Get(backendID)
	if !ok {
		return zero, fmt.Errorf("manager: no backend registered under id %d", backendID)
	}
	a := ctor(allocID, b, customHeaderSize)
	m.allocators.Register(a)
	return a, nil
}

// CreateFixedPageAllocator constructs an allocator.FixedPage of the
// given page size bound to backendID's backend, reserving
// customHeaderSize bytes for its custom header, and registers it under
// allocID.
func CreateFixedPageAllocator(m *Manager, backendID backend.ID, allocID offset.AllocatorID, pageSize uint64, customHeaderSize uint64) (*allocator.FixedPage, error) {
	b, ok := m.backends.Get(backendID)
	if !ok {
		return nil, fmt.Errorf("manager: no backend registered under id %d", backendID)
	}
	a := allocator.NewFixedPage(allocID, b, pageSize, customHeaderSize)
	m.allocators.Register(a)
	return a, nil
}

// CreateMallocAllocator constructs an allocator.Malloc, which needs no
// backend, with a customHeaderSize-byte custom header, and registers
// it under allocID.
func CreateMallocAllocator(m *Manager, allocID offset.AllocatorID, customHeaderSize uint64) *allocator.Malloc {
	a := allocator.NewMalloc(allocID, customHeaderSize)
	m.allocators.Register(a)
	return a
}

// GetAllocator looks up a previously registered allocator.
func (m *Manager) GetAllocator(id offset.AllocatorID) (allocator.Allocator, bool) {
	return m.allocators.Get(id)
}

// UnregisterAllocator removes the allocator registered under id. It
// does not free the allocator's outstanding allocations; callers must
// ensure nothing else still references it.
func (m *Manager) UnregisterAllocator(id offset.AllocatorID) error {
	return m.allocators.Unregister(id)
}

// Backends exposes the underlying registry for callers that need to
// enumerate everything registered (e.g. a shutdown routine that
// unregisters every backend/allocator pair in a defined order).
func (m *Manager) Backends() *backend.Registry { return m.backends }

// Allocators exposes the underlying allocator registry.
func (m *Manager) Allocators() *allocator.Registry { return m.allocators }
