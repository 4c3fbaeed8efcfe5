// Package container implements the ownership conventions every
// shared-memory data structure in this module follows: a POD Header
// living in-segment, constructed and destroyed through an Allocator,
// and a Handle wrapping that header with unique, shared, or weak
// ownership semantics.
//
// Grounded on hermes-shm's hshm_container_base_template.h (the
// shm_init/shm_destroy/shm_deserialize contract every container
// implements) and on the teacher's atomic-refcount pattern in
// internal/runtime/refcount_optimizer.go, narrowed here to plain
// increment/decrement — no cycle detection, since automatic
// collection of leaked allocations is explicitly out of scope.
package container

import (
	"sync/atomic"

	"github.com/orizon-lang/shm/internal/shm/allocator"
	"github.com/orizon-lang/shm/internal/shm/offset"
)

// Header is the marker interface every in-segment container header
// implements: a plain-old-data struct laid out at a fixed offset, with
// no native pointers, only offset.Pointer/offset.Typed fields. Headers
// are constructed and destroyed through an allocator, never through
// Go's own new/make. Concrete header types implement this through a
// pointer receiver (the RefCount must address the real in-segment
// struct, not a copy), so every type parameter below is itself a
// pointer type — e.g. *slist.Header[T], not slist.Header[T].
type Header interface {
	// RefCount returns a pointer to the header's embedded atomic
	// reference count, shared by every owning Handle. Headers that
	// don't support shared ownership (pure value types) may return
	// nil.
	RefCount() *uint32
}

// Ownership distinguishes how a Handle relates to the header it
// wraps.
type Ownership int

const (
	// Unique means this Handle is the sole owner; destroying it always
	// destructs and frees the header.
	Unique Ownership = iota
	// Shared means ownership is reference-counted; destroying the last
	// Shared handle destructs and frees.
	Shared
	// Weak observes a Shared header without contributing to its
	// strong refcount; the header may be destroyed out from under it,
	// and dereferencing a dead Weak handle is a caller error checked
	// via Valid.
	Weak
)

// Destructor destructs a header of type H (itself a pointer type)
// through alloc, called once the container's last strong owner lets
// go. Each concrete container package supplies its own (e.g.
// slist.destroy, queue.destroyHeader).
type Destructor[H Header] func(alloc allocator.Allocator, h H)

// Handle wraps a container header together with the allocator it
// lives on and an ownership discipline, generalizing hermes-shm's
// ManualPtr / Shared pointer families. H is the concrete header
// pointer type (*slist.Header[T], *queue.Header[T], ...).
type Handle[H Header] struct {
	alloc   allocator.Allocator
	ptr     offset.Pointer
	header  H
	own     Ownership
	destroy Destructor[H]
}

// NewUnique wraps an already-constructed header as its sole owner.
func NewUnique[H Header](alloc allocator.Allocator, ptr offset.Pointer, header H, destroy Destructor[H]) Handle[H] {
	return Handle[H]{alloc: alloc, ptr: ptr, header: header, own: Unique, destroy: destroy}
}

// NewShared wraps header with a fresh strong reference count of 1.
func NewShared[H Header](alloc allocator.Allocator, ptr offset.Pointer, header H, destroy Destructor[H]) Handle[H] {
	if rc := header.RefCount(); rc != nil {
		atomic.StoreUint32(rc, 1)
	}
	return Handle[H]{alloc: alloc, ptr: ptr, header: header, own: Shared, destroy: destroy}
}

// Clone returns another Handle to the same header. For Shared it bumps
// the strong refcount; for Unique it panics, since two unique owners
// is a contract violation the caller must fix, not handle; for Weak it
// is always safe.
func (h Handle[H]) Clone() Handle[H] {
	switch h.own {
	case Shared:
		if rc := h.header.RefCount(); rc != nil {
			atomic.AddUint32(rc, 1)
		}
	case Unique:
		panic("container: cannot clone a Unique handle")
	}
	return h
}

// Downgrade produces a Weak handle observing the same header, valid
// for Shared handles only.
func (h Handle[H]) Downgrade() Handle[H] {
	if h.own != Shared {
		panic("container: Downgrade requires a Shared handle")
	}
	return Handle[H]{alloc: h.alloc, ptr: h.ptr, header: h.header, own: Weak, destroy: h.destroy}
}

// Valid reports whether a Weak handle's header is still alive. Unique
// and Shared handles are always valid while in scope.
func (h Handle[H]) Valid() bool {
	if h.own != Weak {
		return true
	}
	rc := h.header.RefCount()
	return rc == nil || atomic.LoadUint32(rc) > 0
}

// Get returns the wrapped header. Callers must check Valid first if
// this is a Weak handle.
func (h Handle[H]) Get() H { return h.header }

// Ptr returns the offset pointer to the header, for embedding inside
// another container (e.g. a list node holding a handle to a nested
// structure).
func (h Handle[H]) Ptr() offset.Pointer { return h.ptr }

// Allocator returns the allocator this handle's header was constructed
// on.
func (h Handle[H]) Allocator() allocator.Allocator { return h.alloc }

// Drop releases this handle's interest in the header: for Unique it
// always destructs and frees; for Shared it decrements the strong
// count and destructs+frees only on reaching zero; for Weak it is a
// no-op on the header's lifetime.
func (h Handle[H]) Drop() {
	switch h.own {
	case Unique:
		h.destructAndFree()
	case Shared:
		rc := h.header.RefCount()
		if rc == nil || atomic.AddUint32(rc, ^uint32(0)) == 0 {
			h.destructAndFree()
		}
	case Weak:
		// observing only; the strong owners' Drop calls do the work.
	}
}

func (h Handle[H]) destructAndFree() {
	if h.destroy != nil {
		h.destroy(h.alloc, h.header)
	}
	h.alloc.Free(h.ptr)
}

// Copier deep-duplicates the elements reachable from a source header
// onto dstAlloc, returning a freshly constructed header (and its
// offset pointer) holding an independent copy of every element. Each
// concrete container supplies its own (e.g. slist's per-element
// PushBack walk) — container.go only owns the Handle-level wiring
// every container shares.
type Copier[H Header] func(srcAlloc, dstAlloc allocator.Allocator, src H) (offset.Pointer, H, error)

// Mover places a new header on dstAlloc holding src's content without
// duplicating or relocating any element it refers to, and resets src
// in place to an empty, still-destructible shell. Each concrete
// container supplies its own (e.g. slist's head/tail/length
// transplant).
type Mover[H Header] func(dstAlloc allocator.Allocator, src H) (offset.Pointer, H, error)

// StrongCopy deep-duplicates h's container onto dstAlloc via copy,
// producing a new Unique Handle with entirely independent storage —
// the "strong copy" convention spec.md requires of every container. h
// itself, and everything it refers to, is left untouched: after
// dropping h, the copy returned here remains fully valid (scenario
// S4).
func StrongCopy[H Header](h Handle[H], dstAlloc allocator.Allocator, copy Copier[H], destroy Destructor[H]) (Handle[H], error) {
	p, dstHeader, err := copy(h.alloc, dstAlloc, h.header)
	if err != nil {
		return Handle[H]{}, err
	}
	return NewUnique(dstAlloc, p, dstHeader, destroy), nil
}

// WeakMove relocates h's header content onto dstAlloc without
// duplicating any element, and leaves h itself as an empty,
// still-droppable shell — the "weak move" convention complementing
// StrongCopy. No element is copied or relocated, only the header's own
// small bookkeeping moves, so the elements stay on h.alloc; the new
// Handle resolves them through dstAlloc and is therefore only usable
// when dstAlloc is h.alloc itself.
func WeakMove[H Header](h Handle[H], dstAlloc allocator.Allocator, move Mover[H], destroy Destructor[H]) (Handle[H], error) {
	p, dstHeader, err := move(dstAlloc, h.header)
	if err != nil {
		return Handle[H]{}, err
	}
	return NewUnique(dstAlloc, p, dstHeader, destroy), nil
}
