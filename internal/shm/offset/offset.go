// Package offset implements the offset-pointer model shared by every
// backend, allocator, and container in the shm module: a reference
// into shared memory is never a native pointer, only a displacement
// paired with the allocator that owns it.
package offset

import (
	"math"
	"unsafe"
)

// NullOffset is the sentinel value marking a null offset pointer.
const NullOffset uint64 = math.MaxUint64

// AllocatorID names an allocator within the current process. Major is
// a user-chosen namespace (often a service id); Minor distinguishes
// sibling allocators in that namespace. The pair alone is the
// identity — it carries no reference to the backend the allocator
// happens to live on, so it is safe to use directly as a map key.
type AllocatorID struct {
	Major uint32
	Minor uint32
}

// NullAllocatorID is the sentinel allocator id denoting "no allocator".
var NullAllocatorID = AllocatorID{Major: math.MaxUint32, Minor: math.MaxUint32}

// IsNull reports whether id is the null allocator id.
func (id AllocatorID) IsNull() bool {
	return id == NullAllocatorID
}

// Pointer is the restricted, allocator-implied offset-pointer form
// used inside a container whose own allocator is already known from
// context. It is a byte displacement into that allocator's data
// region, or NullOffset.
type Pointer struct {
	Off uint64
}

// Null is the canonical null Pointer value.
var Null = Pointer{Off: NullOffset}

// IsNull reports whether p is the null offset pointer.
func (p Pointer) IsNull() bool {
	return p.Off == NullOffset
}

// FatPointer is the untyped offset pointer: an (allocator id, offset)
// pair. Its wire layout is 16 bytes: { u32 major, u32 minor, u64
// offset }, matching the external-interfaces contract.
type FatPointer struct {
	Allocator AllocatorID
	Off       uint64
}

// NullFatPointer is the null sentinel for FatPointer.
var NullFatPointer = FatPointer{Allocator: NullAllocatorID, Off: NullOffset}

// IsNull reports whether p is the null fat pointer.
func (p FatPointer) IsNull() bool {
	return p.Off == NullOffset
}

// Narrow drops the allocator id, yielding the restricted Pointer form
// for use inside a container that already knows its allocator.
func (p FatPointer) Narrow() Pointer {
	return Pointer{Off: p.Off}
}

// Widen attaches an allocator id to a restricted Pointer, producing
// the untyped wire form.
func (p Pointer) Widen(id AllocatorID) FatPointer {
	return FatPointer{Allocator: id, Off: p.Off}
}

// Typed tags an offset Pointer with an element type for compile-time
// discipline. Its bit layout is identical to Pointer — T is a phantom
// type parameter, never stored.
type Typed[T any] struct {
	Pointer
}

// NullTyped returns the null typed pointer for T.
func NullTyped[T any]() Typed[T] {
	return Typed[T]{Pointer: Null}
}

// TypedOf wraps a restricted Pointer as a Typed[T].
func TypedOf[T any](p Pointer) Typed[T] {
	return Typed[T]{Pointer: p}
}

// Resolver is the minimal allocator capability Convert and Back need:
// resolving a restricted Pointer to its backing bytes, and resolving a
// live pointer back to the offset that produced it. allocator.Allocator
// satisfies this structurally — Resolver lives here, not in a shared
// base package, so that package offset never has to import the
// allocator package that in turn imports offset for Pointer/Typed
// itself.
type Resolver interface {
	AllocatePtr(p Pointer, size uint64) []byte
	OffsetOf(ptr unsafe.Pointer) Pointer
}

// Convert resolves a Typed[T] offset pointer to a live, in-place Go
// pointer through a, the O(1) forward half of the conversion pair
// every allocator provides (spec's convert<T>(offset) -> native T*).
// A free function, not a method, since Go forbids type parameters on
// methods.
func Convert[T any](a Resolver, p Typed[T]) *T {
	var v T
	buf := a.AllocatePtr(p.Pointer, uint64(unsafe.Sizeof(v)))
	if buf == nil {
		return nil
	}
	return (*T)(unsafe.Pointer(unsafe.SliceData(buf)))
}

// Back is Convert's inverse: given a live pointer obtained from
// Convert (or otherwise known to alias a's backing region), returns
// the offset pointer that reproduces it. Round-tripping through both,
// Back(a, Convert(a, p)) == p, for every p returned by a.Allocate.
func Back[T any](a Resolver, v *T) Typed[T] {
	return TypedOf[T](a.OffsetOf(unsafe.Pointer(v)))
}
