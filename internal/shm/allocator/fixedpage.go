package allocator

import (
	"sync"

	"github.com/orizon-lang/shm/internal/shm/backend"
	"github.com/orizon-lang/shm/internal/shm/offset"
)

// FixedPage is a single-size-class allocator: the region is carved
// into equal pageSize slots on demand by a bump cursor, and a free
// list (stored in-band,
// by overwriting each free slot's first 8 bytes with the next free
// slot's offset) tracks which are available. Allocate and Free are
// both O(1) and never call into any other allocator. Grounded on the
// free-offset-list shape of buildbarn-bb-storage's block allocator,
// adapted here to a single fixed class rather than size-bucketed
// pools (that's ScalablePage's job). The freed set below exists only
// to turn a double free into a panic instead of silently looping the
// free list on itself.
type FixedPage struct {
	Base
	mu       sync.Mutex
	pageSize uint64
	freeHead uint64 // offset of first free page, or offset.NullOffset
	nextPage uint64 // bump cursor for pages never yet touched
	numAlloc uint64
	freed    map[uint64]bool
}

var _ Allocator = (*FixedPage)(nil)

// NewFixedPage binds a fixed-size-class allocator to b's data region,
// reserving customHeaderSize bytes for the caller's own custom
// header. A pageSize below 8 bytes is raised to 8 (a free slot stores
// its link inline); every allocation occupies one full page, and
// Allocate rejects any size larger than pageSize.
func NewFixedPage(id offset.AllocatorID, b backend.Backend, pageSize uint64, customHeaderSize uint64) *FixedPage {
	if pageSize < 8 {
		pageSize = 8
	}
	return &FixedPage{
		Base:     NewBase(id, b, customHeaderSize),
		pageSize: pageSize,
		freeHead: offset.NullOffset,
		freed:    make(map[uint64]bool),
	}
}

func (f *FixedPage) Kind() Kind { return KindFixedPage }

func (f *FixedPage) Allocate(size uint64) (offset.Pointer, error) {
	if size == 0 || size > f.pageSize {
		return offset.Null, ErrInvalidSize
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.freeHead != offset.NullOffset {
		off := f.freeHead
		slot := f.data[off : off+8]
		f.freeHead = leUint64(slot)
		delete(f.freed, off)
		f.numAlloc++
		return offset.Pointer{Off: off}, nil
	}

	off := f.nextPage
	if err := f.checkBounds(off, f.pageSize); err != nil {
		return offset.Null, err
	}
	f.nextPage += f.pageSize
	f.numAlloc++
	return offset.Pointer{Off: off}, nil
}

func (f *FixedPage) AllocatePtr(p offset.Pointer, size uint64) []byte {
	if size > f.pageSize {
		return nil
	}
	return f.Resolve(p, size)
}

// Free links p's page back onto the free list. Freeing a pointer
// outside this allocator's touched range, or one already on the free
// list, is a programming error and panics rather than corrupting the
// free-list chain.
func (f *FixedPage) Free(p offset.Pointer) error {
	if p.IsNull() {
		return nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if p.Off+f.pageSize > f.nextPage {
		panic(ErrNotOwned)
	}
	if f.freed[p.Off] {
		panic(ErrDoubleFree)
	}
	slot := f.data[p.Off : p.Off+8]
	putLeUint64(slot, f.freeHead)
	f.freeHead = p.Off
	f.freed[p.Off] = true
	f.numAlloc--
	return nil
}

// Reallocate is a no-op beyond validating newSize: every live
// allocation already occupies a full pageSize slot, so shrinking or
// growing within that slot never needs to move or copy anything.
func (f *FixedPage) Reallocate(p offset.Pointer, newSize uint64) (offset.Pointer, error) {
	if p.IsNull() {
		return f.Allocate(newSize)
	}
	if newSize == 0 {
		return offset.Null, f.Free(p)
	}
	if newSize > f.pageSize {
		return offset.Null, ErrInvalidSize
	}
	return p, nil
}

func (f *FixedPage) Stats() Stats {
	f.mu.Lock()
	defer f.mu.Unlock()

	total := uint64(len(f.data))
	used := f.numAlloc * f.pageSize
	return Stats{
		TotalSize:     total,
		AllocatedSize: used,
		FreeSize:      total - used,
		NumAllocs:     f.numAlloc,
	}
}

func leUint64(b []byte) uint64 {
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

func putLeUint64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v)
		v >>= 8
	}
}
