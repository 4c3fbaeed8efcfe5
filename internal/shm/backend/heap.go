package backend

import (
	"github.com/orizon-lang/shm/internal/shm/shmlog"
)

// HeapBackend allocates its region from the Go heap via make([]byte,
// ...). It can never be attached from another OS process — grounded
// on hermes-shm's MallocBackend, whose shm_deserialize unconditionally
// throws SHMEM_NOT_SUPPORTED, reflecting that a process-heap address
// is meaningless outside the process that made it. Useful for
// single-process tests and for composing allocator variants without
// paying for an OS-backed mapping.
type HeapBackend struct {
	base
}

var _ Backend = (*HeapBackend)(nil)

func (h *HeapBackend) Init(size uint64, _ string) error {
	if h.IsInitialized() {
		return ErrAlreadyInitialized
	}

	h.header = Header{Variant: uint32(VariantHeap), DataSize: size}
	h.header.stampVersion()
	h.header.setInitialized()
	h.data = make([]byte, size)
	h.markInitOwned(true)

	shmlog.Debug("heap backend initialized", "size", size)
	return nil
}

// Attach always fails for the heap variant: it has no OS-visible name.
func (h *HeapBackend) Attach(string) error {
	return ErrAttachUnsupported
}

// Detach is a no-op; the backing slice is reclaimed by the garbage
// collector once unreferenced.
func (h *HeapBackend) Detach() error {
	if !h.IsInitialized() {
		return ErrNotInitialized
	}
	return nil
}

// Destroy drops the reference to the backing slice immediately rather
// than waiting on a GC cycle.
func (h *HeapBackend) Destroy() error {
	if !h.IsOwned() {
		return nil
	}
	h.data = nil
	return nil
}

func (h *HeapBackend) Variant() Variant { return VariantHeap }
