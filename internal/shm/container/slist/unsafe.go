package slist

import (
	"unsafe"

	"github.com/orizon-lang/shm/internal/shm/allocator"
	"github.com/orizon-lang/shm/internal/shm/offset"
)

// sizeOf reports the in-memory size of v's type. A free function
// rather than a generic method, since Go forbids type parameters on
// methods — the same constraint that makes offset.Convert/Back free
// functions throughout this module.
func sizeOf[T any](v T) uintptr {
	return unsafe.Sizeof(v)
}

// headerAt resolves a Header[T]'s offset pointer to a live, in-place
// Go pointer through alloc. The returned pointer aliases the
// allocator's backing buffer directly — mutations through it are
// visible to every other Convert of the same offset, exactly as an
// in-segment POD header should behave.
func headerAt[T any](alloc allocator.Allocator, p offset.Pointer) *Header[T] {
	var h Header[T]
	buf := alloc.AllocatePtr(p, uint64(sizeOf(h)))
	return (*Header[T])(unsafe.Pointer(unsafe.SliceData(buf)))
}

// entryAt resolves an Entry[T]'s typed offset pointer the same way.
func entryAt[T any](alloc allocator.Allocator, p offset.Typed[Entry[T]]) *Entry[T] {
	var e Entry[T]
	buf := alloc.AllocatePtr(p.Pointer, uint64(sizeOf(e)))
	return (*Entry[T])(unsafe.Pointer(unsafe.SliceData(buf)))
}
