// Package allocator implements the offset-addressed allocator layer:
// fixed-size-class, bump, slab-with-overflow, and malloc-passthrough
// variants, each carving blocks out of a backend.Backend's data region
// and handing callers back offset.Pointer values rather than native
// addresses.
//
// Grounded on the teacher's internal/allocator package (AllocatorKind,
// Config/Option pattern, the pool/arena/system implementations) and
// internal/runtime/region_alloc.go's RegionAllocator (Magic/Checksum
// header validation, free-list bookkeeping), adapted from native Go
// pointers to shared-memory offsets throughout.
package allocator

import (
	"errors"
	"fmt"
	"unsafe"

	"github.com/orizon-lang/shm/internal/shm/backend"
	"github.com/orizon-lang/shm/internal/shm/offset"
)

// Errors returned by allocator operations. ErrDoubleFree and
// ErrNotOwned are never returned from Free: they're the panic values
// for the programming errors Free treats as fatal (see the
// Allocator.Free doc comment). ErrHeaderCorrupt is declared but not
// raised by any allocator in this package.
var (
	ErrOutOfMemory     = errors.New("allocator: out of memory")
	ErrInvalidSize     = errors.New("allocator: invalid allocation size")
	ErrDoubleFree      = errors.New("allocator: pointer already freed")
	ErrNotOwned        = errors.New("allocator: pointer not owned by this allocator")
	ErrAlreadyAttached = errors.New("allocator: already attached to a backend")
	ErrHeaderCorrupt   = errors.New("allocator: header magic/checksum mismatch")
)

// Kind tags the concrete allocator variant, as reported by
// Allocator.Kind. It is not written into the backend's segment: no
// allocator stores a header of its own there, so an attaching process
// cannot recover the variant from the segment. Grounded on the
// teacher's AllocatorKind enum in internal/allocator/allocator.go.
type Kind uint32

const (
	KindStack Kind = iota
	KindFixedPage
	KindScalablePage
	KindMalloc
)

func (k Kind) String() string {
	switch k {
	case KindStack:
		return "stack"
	case KindFixedPage:
		return "fixed-page"
	case KindScalablePage:
		return "scalable-page"
	case KindMalloc:
		return "malloc"
	default:
		return fmt.Sprintf("kind(%d)", uint32(k))
	}
}

// Stats reports point-in-time allocator bookkeeping, mirroring the
// teacher's MemoryPool stats surface.
type Stats struct {
	TotalSize     uint64
	AllocatedSize uint64
	FreeSize      uint64
	NumAllocs     uint64
	NumFrees      uint64
}

// Allocator is the contract every variant implements. An Allocator is
// always bound to exactly one backend.Backend's data region for its
// entire lifetime.
type Allocator interface {
	// ID reports the allocator's identity within the current process,
	// used to construct offset.FatPointer values for callers outside
	// this allocator's own containers.
	ID() offset.AllocatorID
	Kind() Kind

	// Allocate reserves size bytes and returns the restricted offset
	// pointer to them. Contents are not guaranteed zeroed.
	Allocate(size uint64) (offset.Pointer, error)
	// Reallocate resizes the allocation at p to newSize, preserving
	// min(old, new) bytes of existing content and returning the
	// (possibly relocated) pointer. p == offset.Null behaves like
	// Allocate(newSize); newSize == 0 frees p and returns offset.Null.
	Reallocate(p offset.Pointer, newSize uint64) (offset.Pointer, error)
	// AllocatePtr resolves p to a native byte slice of length size.
	// Behavior is undefined if size does not match the allocation's
	// true size; callers that don't track size themselves should use a
	// container type that stores it.
	AllocatePtr(p offset.Pointer, size uint64) []byte
	// OffsetOf is AllocatePtr's inverse: given a live native pointer
	// into this allocator's own backing region (typically one handed
	// back by AllocatePtr, or offset.Convert), returns the offset
	// pointer that reproduces it, or offset.Null if ptr is foreign to
	// this allocator.
	OffsetOf(ptr unsafe.Pointer) offset.Pointer
	// Free releases a previously allocated pointer. Freeing
	// offset.Null is a no-op; double-freeing or freeing a pointer this
	// allocator never handed out are programming errors, not
	// recoverable runtime conditions, and Free panics rather than
	// returning an error for them. Free-list slots carry no integrity
	// tag, so a corrupted free list is not detected.
	Free(p offset.Pointer) error

	// CustomHeader returns the caller-reserved byte range (the first
	// bytes of the backend's data region, or a separate heap slice for
	// Malloc, which has no backend), sized at
	// construction time by the customHeaderSize argument to whichever
	// New* constructor built this allocator. Nil if none was reserved.
	CustomHeader() []byte

	Stats() Stats
}

// Base holds the fields common to every backend-bound variant: the
// backing data region, this allocator's identity, and any reserved
// custom header. Embed it and supply the size-class-specific
// Allocate/Free/AllocatePtr logic.
type Base struct {
	id           offset.AllocatorID
	customHeader []byte
	data         []byte
}

// NewBase binds a Base to a backend's data region under id, reserving
// the first customHeaderSize bytes of that region for the caller's own
// use (spec's "reserve at init" custom-header convention) before the
// remainder becomes the variant's own allocatable data. A
// customHeaderSize larger than the backend reserves the whole region
// and leaves no room to allocate from.
func NewBase(id offset.AllocatorID, b backend.Backend, customHeaderSize uint64) Base {
	full := b.Data()
	if customHeaderSize > uint64(len(full)) {
		customHeaderSize = uint64(len(full))
	}
	return Base{id: id, customHeader: full[:customHeaderSize], data: full[customHeaderSize:]}
}

func (a *Base) ID() offset.AllocatorID { return a.id }

func (a *Base) CustomHeader() []byte { return a.customHeader }

// Resolve converts a restricted offset.Pointer into a native slice of
// the given length, bounds-checked against the backing region.
func (a *Base) Resolve(p offset.Pointer, size uint64) []byte {
	if p.IsNull() {
		return nil
	}
	end := p.Off + size
	if end > uint64(len(a.data)) || end < p.Off {
		return nil
	}
	return a.data[p.Off:end]
}

// OffsetOf converts a native pointer that aliases this Base's data
// region back to the offset.Pointer that would resolve to it,
// matching Resolve's inverse direction. Returns offset.Null for a
// pointer outside the region.
func (a *Base) OffsetOf(ptr unsafe.Pointer) offset.Pointer {
	if len(a.data) == 0 {
		return offset.Null
	}
	base := uintptr(unsafe.Pointer(unsafe.SliceData(a.data)))
	addr := uintptr(ptr)
	if addr < base || addr >= base+uintptr(len(a.data)) {
		return offset.Null
	}
	return offset.Pointer{Off: uint64(addr - base)}
}

// checkBounds reports whether [off, off+size) fits within the region.
func (a *Base) checkBounds(off, size uint64) error {
	if size == 0 {
		return ErrInvalidSize
	}
	end := off + size
	if end > uint64(len(a.data)) || end < off {
		return ErrOutOfMemory
	}
	return nil
}

func minU64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}
