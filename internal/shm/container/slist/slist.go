// Package slist implements a singly-linked, offset-addressed list,
// the Go-native form of hermes-shm's thread_unsafe/slist.h: each entry
// is an allocator-constructed node holding a next-offset pointer and
// an inline payload, and the list header tracks head, tail, and
// length so PushBack and Len are both O(1).
package slist

import (
	"errors"

	"github.com/orizon-lang/shm/internal/shm/allocator"
	"github.com/orizon-lang/shm/internal/shm/container"
	"github.com/orizon-lang/shm/internal/shm/offset"
)

// ErrEmpty is returned by operations that require at least one
// element, such as Back and PopFront, when the list is empty.
var ErrEmpty = errors.New("slist: list is empty")

// Entry is the in-segment node: a next-pointer plus the element,
// matching slist_entry<T>'s { next_ptr_, data_ } layout.
type Entry[T any] struct {
	Next offset.Typed[Entry[T]]
	Data T
}

// Header is the list's own in-segment state: head/tail pointers and a
// running length, so Len and PushBack never need to walk the list.
type Header[T any] struct {
	head    offset.Typed[Entry[T]]
	tail    offset.Typed[Entry[T]]
	length  uint64
	refCnt  uint32
}

var _ container.Header = (*Header[int])(nil)

func (h *Header[T]) RefCount() *uint32 { return &h.refCnt }

// New constructs an empty list header through alloc and returns a
// Unique handle to it.
func New[T any](alloc allocator.Allocator) (container.Handle[*Header[T]], error) {
	p, err := alloc.Allocate(headerSize[T]())
	if err != nil {
		return container.Handle[*Header[T]]{}, err
	}
	h := headerAt[T](alloc, p)
	*h = Header[T]{head: offset.NullTyped[Entry[T]](), tail: offset.NullTyped[Entry[T]]()}
	return container.NewUnique(alloc, p, h, destroy[T]), nil
}

func destroy[T any](alloc allocator.Allocator, h *Header[T]) {
	cur := h.head
	for !cur.IsNull() {
		entry := entryAt(alloc, cur)
		next := entry.Next
		alloc.Free(cur.Pointer)
		cur = next
	}
}

// List is the thin, allocator-aware view over a Header used for every
// operation; callers obtain one via Open on a container.Handle.
type List[T any] struct {
	alloc allocator.Allocator
	hdr   *Header[T]
}

// Open returns a List view bound to h's underlying header and
// allocator.
func Open[T any](alloc allocator.Allocator, h container.Handle[*Header[T]]) List[T] {
	return List[T]{alloc: alloc, hdr: h.Get()}
}

// Len returns the number of elements currently in the list.
func (l List[T]) Len() uint64 { return l.hdr.length }

// Empty reports whether the list has no elements.
func (l List[T]) Empty() bool { return l.hdr.length == 0 }

// PushBack allocates a new entry holding v and links it after the
// current tail (or as the sole element, if the list was empty).
func (l List[T]) PushBack(v T) error {
	p, err := l.alloc.Allocate(entrySize[T]())
	if err != nil {
		return err
	}
	e := entryAt(l.alloc, offset.TypedOf[Entry[T]](p))
	*e = Entry[T]{Next: offset.NullTyped[Entry[T]](), Data: v}

	typed := offset.TypedOf[Entry[T]](p)
	if l.hdr.tail.IsNull() {
		l.hdr.head = typed
	} else {
		tailEntry := entryAt(l.alloc, l.hdr.tail)
		tailEntry.Next = typed
	}
	l.hdr.tail = typed
	l.hdr.length++
	return nil
}

// Front returns the first element. Returns ErrEmpty if the list has no
// elements.
func (l List[T]) Front() (T, error) {
	var zero T
	if l.hdr.head.IsNull() {
		return zero, ErrEmpty
	}
	return entryAt(l.alloc, l.hdr.head).Data, nil
}

// Back returns the last element. Its precondition is that the list is
// non-empty: callers must check Empty (or handle ErrEmpty) themselves,
// since a singly-linked list cannot locate the tail's predecessor in
// O(1), so Back deliberately does not silently scan for one.
func (l List[T]) Back() (T, error) {
	var zero T
	if l.hdr.tail.IsNull() {
		return zero, ErrEmpty
	}
	return entryAt(l.alloc, l.hdr.tail).Data, nil
}

// PopFront removes and returns the first element.
func (l List[T]) PopFront() (T, error) {
	var zero T
	if l.hdr.head.IsNull() {
		return zero, ErrEmpty
	}
	head := l.hdr.head
	entry := entryAt(l.alloc, head)
	v := entry.Data

	l.hdr.head = entry.Next
	if l.hdr.head.IsNull() {
		l.hdr.tail = offset.NullTyped[Entry[T]]()
	}
	l.hdr.length--
	l.alloc.Free(head.Pointer)
	return v, nil
}

// Remove deletes the first element equal to v under eq, returning
// whether an element was removed. It walks from head tracking the true
// predecessor pointer rather than re-deriving it from an offset
// computation, so it behaves correctly even when entries aren't
// laid out contiguously (arbitrary allocator placement).
func (l List[T]) Remove(v T, eq func(a, b T) bool) bool {
	prev := offset.NullTyped[Entry[T]]()
	cur := l.hdr.head
	for !cur.IsNull() {
		entry := entryAt(l.alloc, cur)
		if eq(entry.Data, v) {
			if prev.IsNull() {
				l.hdr.head = entry.Next
			} else {
				entryAt(l.alloc, prev).Next = entry.Next
			}
			if cur.Pointer == l.hdr.tail.Pointer {
				l.hdr.tail = prev
			}
			l.hdr.length--
			l.alloc.Free(cur.Pointer)
			return true
		}
		prev = cur
		cur = entry.Next
	}
	return false
}

// Iterator walks the list from head to tail. Its zero value is not
// usable; obtain one via List.Iter.
type Iterator[T any] struct {
	alloc allocator.Allocator
	cur   offset.Typed[Entry[T]]
}

// Iter returns an iterator positioned at the first element.
func (l List[T]) Iter() Iterator[T] {
	return Iterator[T]{alloc: l.alloc, cur: l.hdr.head}
}

// end reports whether the iterator has no current element. A nil
// (null) offset pointer is the sole end-of-list marker, matching
// slist_iterator_templ's own OffsetPointer::GetNull() sentinel rather
// than a separate boolean flag that could drift out of sync with it.
func (it Iterator[T]) end() bool { return it.cur.IsNull() }

// Done reports whether the iterator has advanced past the last
// element.
func (it Iterator[T]) Done() bool { return it.end() }

// Value returns the element at the iterator's current position. Valid
// only when Done reports false.
func (it Iterator[T]) Value() T {
	return entryAt(it.alloc, it.cur).Data
}

// Next advances the iterator by one position. Advancing a finished
// iterator is a no-op, matching operator++'s is_end() guard.
func (it Iterator[T]) Next() Iterator[T] {
	if it.end() {
		return it
	}
	return Iterator[T]{alloc: it.alloc, cur: entryAt(it.alloc, it.cur).Next}
}

// copyElements is slist's container.Copier: build a fresh empty list
// on dstAlloc and PushBack every element of src in order, leaving src
// and its entries entirely untouched. Grounded on spec.md's strong-
// copy convention and exercised by scenario S4.
func copyElements[T any](srcAlloc, dstAlloc allocator.Allocator, src *Header[T]) (offset.Pointer, *Header[T], error) {
	p, err := dstAlloc.Allocate(headerSize[T]())
	if err != nil {
		return offset.Null, nil, err
	}
	dst := headerAt[T](dstAlloc, p)
	*dst = Header[T]{head: offset.NullTyped[Entry[T]](), tail: offset.NullTyped[Entry[T]]()}

	dstList := List[T]{alloc: dstAlloc, hdr: dst}
	cur := src.head
	for !cur.IsNull() {
		entry := entryAt(srcAlloc, cur)
		if err := dstList.PushBack(entry.Data); err != nil {
			destroy[T](dstAlloc, dst)
			dstAlloc.Free(p)
			return offset.Null, nil, err
		}
		cur = entry.Next
	}
	return p, dst, nil
}

// moveElements is slist's container.Mover: reserve a fresh header on
// dstAlloc and transfer src's head/tail/length by value. No entry is
// touched — only the chain's entry point moves — and src is reset to
// an empty shell in place.
func moveElements[T any](dstAlloc allocator.Allocator, src *Header[T]) (offset.Pointer, *Header[T], error) {
	p, err := dstAlloc.Allocate(headerSize[T]())
	if err != nil {
		return offset.Null, nil, err
	}
	dst := headerAt[T](dstAlloc, p)
	*dst = Header[T]{head: src.head, tail: src.tail, length: src.length}
	*src = Header[T]{head: offset.NullTyped[Entry[T]](), tail: offset.NullTyped[Entry[T]]()}
	return p, dst, nil
}

// StrongCopy deep-duplicates h's list onto dstAlloc, leaving h and
// every element it holds untouched — the list equivalent of a C++
// copy constructor into a possibly different allocator.
func StrongCopy[T any](h container.Handle[*Header[T]], dstAlloc allocator.Allocator) (container.Handle[*Header[T]], error) {
	return container.StrongCopy(h, dstAlloc, copyElements[T], destroy[T])
}

// WeakMove relocates h's list header onto dstAlloc without
// duplicating or relocating any element, leaving h as an empty,
// still-droppable shell — the list equivalent of a C++ move
// constructor. The entries stay on h's allocator, so dstAlloc must be
// that same allocator for the moved list to resolve them.
func WeakMove[T any](h container.Handle[*Header[T]], dstAlloc allocator.Allocator) (container.Handle[*Header[T]], error) {
	return container.WeakMove(h, dstAlloc, moveElements[T], destroy[T])
}

func headerSize[T any]() uint64 {
	var h Header[T]
	return uint64(sizeOf(h))
}

func entrySize[T any]() uint64 {
	var e Entry[T]
	return uint64(sizeOf(e))
}
