package allocator

import (
	"sync"
	"unsafe"

	"github.com/orizon-lang/shm/internal/shm/backend"
	"github.com/orizon-lang/shm/internal/shm/offset"
)

// sizeClasses mirrors the teacher's MemoryPool bucket ladder in
// internal/allocator/pool.go: powers of two from 16 bytes up to 4KiB.
// Anything larger than the top class falls through to the boundary-
// tagged overflow arena.
var sizeClasses = [...]uint64{16, 32, 64, 128, 256, 512, 1024, 2048, 4096}

// ScalablePage is a general-purpose allocator combining a bank of
// fixed-size-class free lists (one FixedPage per class, for small,
// common allocation sizes) with a boundary-tagged overflow region for
// anything larger than the biggest class. Grounded on the teacher's
// PoolAllocatorImpl (internal/allocator/pool.go): findBestPool selects
// the smallest class that fits, overflow allocations use an
// address-ordered free list merged on Free to fight fragmentation.
type ScalablePage struct {
	Base
	classes  [len(sizeClasses)]*FixedPage
	overflow *overflowArena
}

var _ Allocator = (*ScalablePage)(nil)

// NewScalablePage reserves customHeaderSize bytes of b's data region
// for the caller's own custom header, then splits the remainder into
// one sub-region per size class (an equal share of the total each,
// rounded down) plus a remainder overflow arena. This is a fixed
// up-front partition, not a dynamically grown one, trading
// flexibility for having no cross-region metadata to corrupt.
func NewScalablePage(id offset.AllocatorID, b backend.Backend, customHeaderSize uint64) *ScalablePage {
	sp := &ScalablePage{Base: NewBase(id, b, customHeaderSize)}

	total := uint64(len(sp.data))
	perClass := total / uint64(len(sizeClasses)+1) // +1 reserves a share for overflow

	var consumed uint64
	for i, sz := range sizeClasses {
		sub := &subBackend{data: sp.data[consumed : consumed+perClass]}
		sp.classes[i] = NewFixedPage(id, sub, sz, 0)
		consumed += perClass
	}
	sp.overflow = newOverflowArena(sp.data[consumed:])
	return sp
}

// subBackend adapts a byte slice to backend.Backend's Data() method
// only, so a ScalablePage can hand sub-regions of its own buffer to
// FixedPage constructors without those sub-regions being independently
// acquirable/destroyable backends.
type subBackend struct{ data []byte }

func (s *subBackend) Init(uint64, string) error { return ErrAlreadyAttached }
func (s *subBackend) Attach(string) error       { return backend.ErrAttachUnsupported }
func (s *subBackend) Detach() error             { return nil }
func (s *subBackend) Destroy() error            { return nil }
func (s *subBackend) Data() []byte              { return s.data }
func (s *subBackend) Variant() backend.Variant  { return backend.VariantArray }
func (s *subBackend) IsOwned() bool             { return true }
func (s *subBackend) IsInitialized() bool       { return true }

func (sp *ScalablePage) Kind() Kind { return KindScalablePage }

func classFor(size uint64) int {
	for i, sz := range sizeClasses {
		if size <= sz {
			return i
		}
	}
	return -1
}

// tagClass packs a size-class index (or len(sizeClasses) for overflow)
// into the top byte of the offset so Free/AllocatePtr can route
// without a separate lookup table. Region sizes are assumed to fit in
// 56 bits, which holds for any shared segment smaller than 64
// petabytes.
const classShift = 56

func tagClass(p offset.Pointer, idx int) offset.Pointer {
	return offset.Pointer{Off: p.Off | (uint64(idx) << classShift)}
}

func untagClass(p offset.Pointer) (int, offset.Pointer) {
	idx := int(p.Off >> classShift)
	inner := offset.Pointer{Off: p.Off &^ (uint64(0xFF) << classShift)}
	return idx, inner
}

func (sp *ScalablePage) Allocate(size uint64) (offset.Pointer, error) {
	if size == 0 {
		return offset.Null, ErrInvalidSize
	}
	if idx := classFor(size); idx >= 0 {
		p, err := sp.classes[idx].Allocate(size)
		if err != nil {
			return offset.Null, err
		}
		return tagClass(p, idx), nil
	}
	p, err := sp.overflow.allocate(size)
	if err != nil {
		return offset.Null, err
	}
	return tagClass(p, len(sizeClasses)), nil
}

func (sp *ScalablePage) AllocatePtr(p offset.Pointer, size uint64) []byte {
	idx, inner := untagClass(p)
	if idx < len(sizeClasses) {
		return sp.classes[idx].AllocatePtr(inner, size)
	}
	return sp.overflow.base.Resolve(inner, size)
}

// OffsetOf tries each size class in turn, then the overflow region,
// tagging whichever one claims ptr the same way Allocate would.
func (sp *ScalablePage) OffsetOf(ptr unsafe.Pointer) offset.Pointer {
	for i, c := range sp.classes {
		if p := c.OffsetOf(ptr); !p.IsNull() {
			return tagClass(p, i)
		}
	}
	if p := sp.overflow.base.OffsetOf(ptr); !p.IsNull() {
		return tagClass(p, len(sizeClasses))
	}
	return offset.Null
}

func (sp *ScalablePage) Free(p offset.Pointer) error {
	if p.IsNull() {
		return nil
	}
	idx, inner := untagClass(p)
	if idx < len(sizeClasses) {
		return sp.classes[idx].Free(inner)
	}
	return sp.overflow.free(inner)
}

// Reallocate keeps p's pointer unchanged when the new size still fits
// its current size class (or, for an overflow block, its stamped
// payload length); otherwise it allocates fresh, copies min(old, new)
// bytes across, and frees the original.
func (sp *ScalablePage) Reallocate(p offset.Pointer, newSize uint64) (offset.Pointer, error) {
	if p.IsNull() {
		return sp.Allocate(newSize)
	}
	if newSize == 0 {
		return offset.Null, sp.Free(p)
	}

	idx, inner := untagClass(p)
	var oldCap uint64
	if idx < len(sizeClasses) {
		oldCap = sizeClasses[idx]
		if newSize <= oldCap {
			return p, nil
		}
	} else {
		oldCap = sp.overflow.sizeOf(inner)
		if newSize <= oldCap {
			return p, nil
		}
	}

	newP, err := sp.Allocate(newSize)
	if err != nil {
		return offset.Null, err
	}
	copy(sp.AllocatePtr(newP, newSize), sp.AllocatePtr(p, minU64(oldCap, newSize)))
	if err := sp.Free(p); err != nil {
		return offset.Null, err
	}
	return newP, nil
}

func (sp *ScalablePage) Stats() Stats {
	var total, alloc, allocs, frees uint64
	for _, c := range sp.classes {
		s := c.Stats()
		total += s.TotalSize
		alloc += s.AllocatedSize
		allocs += s.NumAllocs
	}
	os := sp.overflow.stats()
	total += os.TotalSize
	alloc += os.AllocatedSize
	allocs += os.NumAllocs
	frees += os.NumFrees
	return Stats{TotalSize: total, AllocatedSize: alloc, FreeSize: total - alloc, NumAllocs: allocs, NumFrees: frees}
}

// overflowArena is a boundary-tagged free-list allocator for requests
// larger than every fixed size class, grounded on the teacher's
// MemoryPool fallback path (internal/allocator/pool.go): an
// address-ordered free list with immediate coalescing of adjacent
// free blocks on Free. Each live block is prefixed by an 8-byte
// boundary tag recording its payload length, so Free needs only the
// pointer returned by Allocate.
type overflowArena struct {
	base      blockBase
	mu        sync.Mutex
	freeSpans []blockSpan // sorted by offset, never touching/overlapping

	numAllocs uint64
	numFrees  uint64
}

type blockSpan struct {
	off uint64
	len uint64
}

// blockBase is a thin Base-compatible resolver so overflowArena can
// reuse pointer-bounds-checked slicing without embedding the full
// Allocator surface.
type blockBase struct{ data []byte }

func (b *blockBase) Resolve(p offset.Pointer, size uint64) []byte {
	if p.IsNull() {
		return nil
	}
	end := p.Off + size
	if end > uint64(len(b.data)) || end < p.Off {
		return nil
	}
	return b.data[p.Off:end]
}

func (b *blockBase) OffsetOf(ptr unsafe.Pointer) offset.Pointer {
	if len(b.data) == 0 {
		return offset.Null
	}
	base := uintptr(unsafe.Pointer(unsafe.SliceData(b.data)))
	addr := uintptr(ptr)
	if addr < base || addr >= base+uintptr(len(b.data)) {
		return offset.Null
	}
	return offset.Pointer{Off: uint64(addr - base)}
}

const tagSize = 8

func newOverflowArena(data []byte) *overflowArena {
	return &overflowArena{
		base:      blockBase{data: data},
		freeSpans: []blockSpan{{off: 0, len: uint64(len(data))}},
	}
}

// allocate reserves tagSize+size bytes, stamps the boundary tag with
// the payload size, and returns a pointer to the payload (past the
// tag).
func (o *overflowArena) allocate(size uint64) (offset.Pointer, error) {
	need := alignUp(size, 8) + tagSize

	o.mu.Lock()
	defer o.mu.Unlock()

	for i, span := range o.freeSpans {
		if span.len < need {
			continue
		}
		off := span.off
		if span.len == need {
			o.freeSpans = append(o.freeSpans[:i], o.freeSpans[i+1:]...)
		} else {
			o.freeSpans[i] = blockSpan{off: span.off + need, len: span.len - need}
		}
		putLeUint64(o.base.data[off:off+tagSize], size)
		o.numAllocs++
		return offset.Pointer{Off: off + tagSize}, nil
	}
	return offset.Null, ErrOutOfMemory
}

// sizeOf reads the boundary tag's stamped payload size for a live
// block without freeing it, used by Reallocate to know how much to
// copy forward.
func (o *overflowArena) sizeOf(p offset.Pointer) uint64 {
	if p.Off < tagSize || p.Off > uint64(len(o.base.data)) {
		return 0
	}
	tagOff := p.Off - tagSize
	return leUint64(o.base.data[tagOff : tagOff+tagSize])
}

// free reclaims the block at p, panicking if p falls outside the
// arena (a foreign pointer) or its boundary tag's span already
// overlaps a free span (a double free).
func (o *overflowArena) free(p offset.Pointer) error {
	if p.Off < tagSize || p.Off > uint64(len(o.base.data)) {
		panic(ErrNotOwned)
	}
	tagOff := p.Off - tagSize
	payload := leUint64(o.base.data[tagOff : tagOff+tagSize])
	blockLen := alignUp(payload, 8) + tagSize

	o.mu.Lock()
	defer o.mu.Unlock()
	for _, span := range o.freeSpans {
		if tagOff < span.off+span.len && span.off < tagOff+blockLen {
			panic(ErrDoubleFree)
		}
	}
	o.insertFree(tagOff, blockLen)
	o.numFrees++
	return nil
}

func (o *overflowArena) insertFree(off, length uint64) {
	insertAt := len(o.freeSpans)
	for i, span := range o.freeSpans {
		if span.off > off {
			insertAt = i
			break
		}
	}
	o.freeSpans = append(o.freeSpans, blockSpan{})
	copy(o.freeSpans[insertAt+1:], o.freeSpans[insertAt:])
	o.freeSpans[insertAt] = blockSpan{off: off, len: length}
	o.coalesce(insertAt)
}

// coalesce merges the span at idx with its immediate predecessor and
// successor if they're address-adjacent, mirroring the teacher's
// MemoryPool merge-on-free logic.
func (o *overflowArena) coalesce(idx int) {
	if idx+1 < len(o.freeSpans) {
		cur, next := o.freeSpans[idx], o.freeSpans[idx+1]
		if cur.off+cur.len == next.off {
			o.freeSpans[idx].len += next.len
			o.freeSpans = append(o.freeSpans[:idx+1], o.freeSpans[idx+2:]...)
		}
	}
	if idx > 0 {
		prev, cur := o.freeSpans[idx-1], o.freeSpans[idx]
		if prev.off+prev.len == cur.off {
			o.freeSpans[idx-1].len += cur.len
			o.freeSpans = append(o.freeSpans[:idx], o.freeSpans[idx+1:]...)
		}
	}
}

func (o *overflowArena) stats() Stats {
	o.mu.Lock()
	defer o.mu.Unlock()
	var freeLen uint64
	for _, s := range o.freeSpans {
		freeLen += s.len
	}
	total := uint64(len(o.base.data))
	return Stats{
		TotalSize:     total,
		AllocatedSize: total - freeLen,
		FreeSize:      freeLen,
		NumAllocs:     o.numAllocs,
		NumFrees:      o.numFrees,
	}
}
