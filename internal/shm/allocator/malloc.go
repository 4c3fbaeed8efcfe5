package allocator

import (
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/orizon-lang/shm/internal/shm/offset"
)

// Malloc passes every request straight to the Go runtime allocator
// instead of carving a backend's data region, tracking each live
// allocation so leaks can be reported at shutdown. Grounded on the
// teacher's SystemAllocatorImpl (internal/allocator/allocator.go),
// whose tracked-allocation map survives here as live, with its leak
// check reduced to LeakCount; the pointer type changes, from a native
// Go pointer to an offset.Pointer key into a private address table
// (a Malloc allocator is inherently single-process, so the "offset"
// it hands out is just a dense index, not a byte displacement into
// shared memory).
type Malloc struct {
	id offset.AllocatorID

	mu           sync.Mutex
	live         map[uint64][]byte
	nextKey      uint64
	customHeader []byte

	numAllocs uint64
	numFrees  uint64
}

var _ Allocator = (*Malloc)(nil)

// NewMalloc creates a malloc-passthrough allocator under id, with its
// own customHeaderSize-byte custom header (an ordinary heap
// allocation here, since Malloc has no shared segment to carve one
// from). It takes no backend, matching hermes-shm's malloc allocator
// variant, which likewise ignores the notion of a shared segment
// entirely.
func NewMalloc(id offset.AllocatorID, customHeaderSize uint64) *Malloc {
	return &Malloc{
		id:           id,
		live:         make(map[uint64][]byte),
		customHeader: make([]byte, customHeaderSize),
	}
}

func (m *Malloc) ID() offset.AllocatorID { return m.id }
func (m *Malloc) Kind() Kind             { return KindMalloc }

func (m *Malloc) CustomHeader() []byte { return m.customHeader }

func (m *Malloc) Allocate(size uint64) (offset.Pointer, error) {
	if size == 0 {
		return offset.Null, ErrInvalidSize
	}
	buf := make([]byte, size)

	m.mu.Lock()
	defer m.mu.Unlock()
	key := m.nextKey
	m.nextKey++
	m.live[key] = buf
	atomic.AddUint64(&m.numAllocs, 1)
	return offset.Pointer{Off: key}, nil
}

func (m *Malloc) AllocatePtr(p offset.Pointer, _ uint64) []byte {
	if p.IsNull() {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.live[p.Off]
}

// OffsetOf linearly scans the live set for the buffer backing ptr.
// Malloc's "offsets" are dense keys rather than arithmetic
// displacements, so unlike the backend-bound variants this can't be
// computed in O(1); it's intended for occasional Convert/Back
// round-trips, not a hot path.
func (m *Malloc) OffsetOf(ptr unsafe.Pointer) offset.Pointer {
	addr := uintptr(ptr)
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, buf := range m.live {
		if len(buf) == 0 {
			continue
		}
		base := uintptr(unsafe.Pointer(unsafe.SliceData(buf)))
		if addr >= base && addr < base+uintptr(len(buf)) {
			return offset.Pointer{Off: key}
		}
	}
	return offset.Null
}

// Free panics if p was never allocated or has already been freed —
// double-freeing and freeing a foreign pointer are programming
// errors, not recoverable runtime conditions.
func (m *Malloc) Free(p offset.Pointer) error {
	if p.IsNull() {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.live[p.Off]; !ok {
		panic(ErrDoubleFree)
	}
	delete(m.live, p.Off)
	atomic.AddUint64(&m.numFrees, 1)
	return nil
}

// Reallocate grows or shrinks the buffer at p, preserving min(old,
// new) bytes, the same contract as Reallocate everywhere else in this
// package; it never has to move a live pointer since Malloc's "offset"
// is a stable map key, not an arithmetic displacement.
func (m *Malloc) Reallocate(p offset.Pointer, newSize uint64) (offset.Pointer, error) {
	if p.IsNull() {
		return m.Allocate(newSize)
	}
	if newSize == 0 {
		return offset.Null, m.Free(p)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.live[p.Off]
	if !ok {
		panic(ErrDoubleFree)
	}
	buf := make([]byte, newSize)
	copy(buf, old[:minU64(uint64(len(old)), newSize)])
	m.live[p.Off] = buf
	return p, nil
}

func (m *Malloc) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	var allocated uint64
	for _, b := range m.live {
		allocated += uint64(len(b))
	}
	return Stats{
		AllocatedSize: allocated,
		NumAllocs:     atomic.LoadUint64(&m.numAllocs),
		NumFrees:      atomic.LoadUint64(&m.numFrees),
	}
}

// LeakCount reports the number of allocations never freed. Intended
// to be checked at process shutdown, matching the teacher's
// CheckLeaks.
func (m *Malloc) LeakCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.live)
}
