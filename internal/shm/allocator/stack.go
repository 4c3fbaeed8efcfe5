package allocator

import (
	"sync"

	"github.com/orizon-lang/shm/internal/shm/backend"
	"github.com/orizon-lang/shm/internal/shm/offset"
)

// Stack is a bump-pointer allocator: Allocate only ever advances a
// watermark, and Free is a no-op except for the single most-recently
// allocated block, which it rewinds in place (the LIFO short-circuit
// every bump allocator offers for free). Broader reclamation goes
// through Save/Restore to a previously captured mark, or Reset for the
// whole arena. Grounded on the teacher's ArenaAllocatorImpl in
// internal/allocator/arena.go (SaveState/RestoreState/bump cursor),
// adapted to offset addressing; the live-size tracking map below plays
// the same role as SystemAllocatorImpl's activeAllocations map, scoped
// down to what Free and Reallocate need to detect the LIFO case and
// resize in place.
type Stack struct {
	Base
	mu     sync.Mutex
	cursor uint64
	sizes  map[uint64]uint64 // live allocation offset -> aligned size

	numAllocs uint64
	numFrees  uint64
}

var _ Allocator = (*Stack)(nil)

// NewStack binds a fresh bump allocator to b's data region, reserving
// customHeaderSize bytes for the caller's own custom header.
func NewStack(id offset.AllocatorID, b backend.Backend, customHeaderSize uint64) *Stack {
	return &Stack{Base: NewBase(id, b, customHeaderSize), sizes: make(map[uint64]uint64)}
}

func (s *Stack) Kind() Kind { return KindStack }

// Mark is an opaque watermark returned by Save and consumed by
// Restore.
type Mark uint64

// Save captures the current cursor position for a later Restore,
// matching the teacher's Arena.SaveState.
func (s *Stack) Save() Mark {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Mark(s.cursor)
}

// Restore rewinds the cursor to a previously captured Mark, freeing
// everything allocated since. Restoring to a Mark from a different
// Stack, or one later than the current cursor, is a caller error and
// silently clamps rather than corrupting the cursor.
func (s *Stack) Restore(m Mark) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if uint64(m) >= s.cursor {
		return
	}
	for off := range s.sizes {
		if off >= uint64(m) {
			delete(s.sizes, off)
		}
	}
	s.cursor = uint64(m)
}

// Reset rewinds the whole arena back to empty.
func (s *Stack) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursor = 0
	s.sizes = make(map[uint64]uint64)
}

func (s *Stack) Allocate(size uint64) (offset.Pointer, error) {
	if size == 0 {
		return offset.Null, ErrInvalidSize
	}
	size = alignUp(size, 8)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkBounds(s.cursor, size); err != nil {
		return offset.Null, err
	}
	off := s.cursor
	s.cursor += size
	s.sizes[off] = size
	s.numAllocs++
	return offset.Pointer{Off: off}, nil
}

func (s *Stack) AllocatePtr(p offset.Pointer, size uint64) []byte {
	return s.Resolve(p, size)
}

// Free is a no-op unless p is the single most-recently allocated
// block still live, in which case the cursor rewinds to reclaim it —
// matching scenario S2 (allocate A, B; free B; allocate C reuses B's
// slot). Freeing a pointer this Stack never handed out, or
// double-freeing one already released, panics.
func (s *Stack) Free(p offset.Pointer) error {
	if p.IsNull() {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	size, ok := s.sizes[p.Off]
	if !ok {
		panic(ErrDoubleFree)
	}
	delete(s.sizes, p.Off)
	s.numFrees++
	if p.Off+size == s.cursor {
		s.cursor = p.Off
	}
	return nil
}

// Reallocate resizes the allocation at p, copying min(old, new) bytes
// into a freshly bumped block and freeing p — unless p is the
// most-recent allocation and the new size still fits the backend, in
// which case it grows or shrinks in place without copying.
func (s *Stack) Reallocate(p offset.Pointer, newSize uint64) (offset.Pointer, error) {
	if p.IsNull() {
		return s.Allocate(newSize)
	}
	if newSize == 0 {
		return offset.Null, s.Free(p)
	}
	aligned := alignUp(newSize, 8)

	s.mu.Lock()
	oldSize, ok := s.sizes[p.Off]
	if !ok {
		s.mu.Unlock()
		panic(ErrDoubleFree)
	}
	if p.Off+oldSize == s.cursor {
		if err := s.checkBounds(p.Off, aligned); err != nil {
			s.mu.Unlock()
			return offset.Null, err
		}
		s.cursor = p.Off + aligned
		s.sizes[p.Off] = aligned
		s.mu.Unlock()
		return p, nil
	}
	s.mu.Unlock()

	newP, err := s.Allocate(newSize)
	if err != nil {
		return offset.Null, err
	}
	copy(s.Resolve(newP, newSize), s.Resolve(p, minU64(oldSize, newSize)))
	if err := s.Free(p); err != nil {
		return offset.Null, err
	}
	return newP, nil
}

func (s *Stack) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := uint64(len(s.data))
	return Stats{
		TotalSize:     total,
		AllocatedSize: s.cursor,
		FreeSize:      total - s.cursor,
		NumAllocs:     s.numAllocs,
		NumFrees:      s.numFrees,
	}
}

func alignUp(n, align uint64) uint64 {
	return (n + align - 1) &^ (align - 1)
}
