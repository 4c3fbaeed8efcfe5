// Package queue implements offset-addressed ring buffers: SPSCQueue
// for single-producer/single-consumer use (no CAS needed, matching the
// original library's ring_queue.cc test coverage) and MPSCQueue for
// multiple producers feeding one consumer.
//
// Grounded on the teacher's internal/runtime/concurrency.MPMCQueue
// (Vyukov bounded MPMC ring buffer: per-slot sequence numbers instead
// of a single head/tail pair, so a slot is never read or written out
// of turn), narrowed to the SPSC/MPSC shapes and moved to
// allocator-addressed storage instead of a native Go slice.
package queue

import (
	"sync/atomic"
	"unsafe"

	"github.com/orizon-lang/shm/internal/shm/allocator"
	"github.com/orizon-lang/shm/internal/shm/container"
	"github.com/orizon-lang/shm/internal/shm/offset"
)

// slot is one ring buffer cell: a sequence number (Vyukov's
// turn-taking discipline) plus the element.
type slot[T any] struct {
	seq  uint64
	data T
}

// Header is the in-segment queue state: the backing ring's offset,
// its capacity (always a power of two so index masking replaces a
// modulo), and the atomic enqueue/dequeue cursors.
type Header[T any] struct {
	buf      offset.Pointer
	capacity uint64
	mask     uint64

	enqueuePos uint64 // atomic
	dequeuePos uint64 // atomic

	refCnt uint32
}

var _ container.Header = (*Header[int])(nil)

func (h *Header[T]) RefCount() *uint32 { return &h.refCnt }

func nextPow2(n uint64) uint64 {
	p := uint64(1)
	for p < n {
		p <<= 1
	}
	return p
}

func slotSize[T any]() uint64 {
	var s slot[T]
	return uint64(unsafe.Sizeof(s))
}

// newHeader carves a capacity-slot ring (rounded up to a power of two)
// out of alloc and initializes every slot's sequence number, shared by
// both SPSCQueue and MPSCQueue construction.
func newHeader[T any](alloc allocator.Allocator, capacity uint64) (*Header[T], offset.Pointer, error) {
	cap2 := nextPow2(capacity)

	hdrPtr, err := alloc.Allocate(uint64(unsafe.Sizeof(Header[T]{})))
	if err != nil {
		return nil, offset.Null, err
	}
	bufPtr, err := alloc.Allocate(cap2 * slotSize[T]())
	if err != nil {
		alloc.Free(hdrPtr)
		return nil, offset.Null, err
	}

	h := resolveHeader[T](alloc, hdrPtr)
	*h = Header[T]{buf: bufPtr, capacity: cap2, mask: cap2 - 1}
	for i := uint64(0); i < cap2; i++ {
		resolveSlot[T](alloc, h, i).seq = i
	}
	return h, hdrPtr, nil
}

func resolveHeader[T any](alloc allocator.Allocator, p offset.Pointer) *Header[T] {
	buf := alloc.AllocatePtr(p, uint64(unsafe.Sizeof(Header[T]{})))
	return (*Header[T])(unsafe.Pointer(unsafe.SliceData(buf)))
}

func resolveSlot[T any](alloc allocator.Allocator, h *Header[T], idx uint64) *slot[T] {
	sz := slotSize[T]()
	off := offset.Pointer{Off: h.buf.Off + idx*sz}
	buf := alloc.AllocatePtr(off, sz)
	return (*slot[T])(unsafe.Pointer(unsafe.SliceData(buf)))
}

func destroyHeader[T any](alloc allocator.Allocator, h *Header[T]) {
	alloc.Free(h.buf)
}

// SPSCQueue is a single-producer/single-consumer bounded ring buffer.
// Enqueue and Dequeue use plain atomic loads/stores, not CAS, since by
// contract at most one goroutine ever calls each.
type SPSCQueue[T any] struct {
	alloc allocator.Allocator
	hdr   *Header[T]
}

// NewSPSCQueue constructs a queue of at least capacity slots (rounded
// up to a power of two) and returns a Unique handle to its header.
func NewSPSCQueue[T any](alloc allocator.Allocator, capacity uint64) (container.Handle[*Header[T]], SPSCQueue[T], error) {
	h, p, err := newHeader[T](alloc, capacity)
	if err != nil {
		return container.Handle[*Header[T]]{}, SPSCQueue[T]{}, err
	}
	handle := container.NewUnique(alloc, p, h, destroyHeader[T])
	return handle, SPSCQueue[T]{alloc: alloc, hdr: h}, nil
}

// OpenSPSC builds a queue view over a header obtained elsewhere (e.g.
// attached from another process).
func OpenSPSC[T any](alloc allocator.Allocator, h container.Handle[*Header[T]]) SPSCQueue[T] {
	return SPSCQueue[T]{alloc: alloc, hdr: h.Get()}
}

// Enqueue appends v, returning false if the ring is full.
func (q SPSCQueue[T]) Enqueue(v T) bool {
	pos := q.hdr.enqueuePos
	s := resolveSlot(q.alloc, q.hdr, pos&q.hdr.mask)
	if s.seq != pos {
		return false
	}
	s.data = v
	atomic.StoreUint64(&s.seq, pos+1)
	q.hdr.enqueuePos = pos + 1
	return true
}

// Dequeue pops the oldest element into *out, returning false if the
// ring is empty.
func (q SPSCQueue[T]) Dequeue(out *T) bool {
	pos := q.hdr.dequeuePos
	s := resolveSlot(q.alloc, q.hdr, pos&q.hdr.mask)
	if s.seq != pos+1 {
		return false
	}
	*out = s.data
	atomic.StoreUint64(&s.seq, pos+q.hdr.capacity)
	q.hdr.dequeuePos = pos + 1
	return true
}

// PopBack pops the newest enqueued element instead of the oldest,
// valid only while no consumer is concurrently draining the front —
// it shares the single-consumer side of the SPSC contract. Returns
// (zero, false) if the ring is empty, matching the original library's
// ring_queue.cc pop_back coverage.
func (q SPSCQueue[T]) PopBack() (T, bool) {
	var zero T
	if q.hdr.enqueuePos == q.hdr.dequeuePos {
		return zero, false
	}
	pos := q.hdr.enqueuePos - 1
	s := resolveSlot(q.alloc, q.hdr, pos&q.hdr.mask)
	v := s.data
	atomic.StoreUint64(&s.seq, pos)
	q.hdr.enqueuePos = pos
	return v, true
}

// Len returns the number of elements currently queued.
func (q SPSCQueue[T]) Len() uint64 {
	return q.hdr.enqueuePos - q.hdr.dequeuePos
}

// MPSCQueue is a multi-producer/single-consumer bounded ring buffer:
// producers contend for a slot via CAS on the enqueue cursor, the sole
// consumer reads with a plain atomic load, identical in shape to the
// teacher's MPMCQueue with the consumer side narrowed to one reader.
type MPSCQueue[T any] struct {
	alloc allocator.Allocator
	hdr   *Header[T]
}

// NewMPSCQueue constructs a queue of at least capacity slots.
func NewMPSCQueue[T any](alloc allocator.Allocator, capacity uint64) (container.Handle[*Header[T]], MPSCQueue[T], error) {
	h, p, err := newHeader[T](alloc, capacity)
	if err != nil {
		return container.Handle[*Header[T]]{}, MPSCQueue[T]{}, err
	}
	handle := container.NewUnique(alloc, p, h, destroyHeader[T])
	return handle, MPSCQueue[T]{alloc: alloc, hdr: h}, nil
}

// OpenMPSC builds a queue view over a header obtained elsewhere.
func OpenMPSC[T any](alloc allocator.Allocator, h container.Handle[*Header[T]]) MPSCQueue[T] {
	return MPSCQueue[T]{alloc: alloc, hdr: h.Get()}
}

// Enqueue appends v from any number of concurrent producers, returning
// false if the ring is momentarily full.
func (q MPSCQueue[T]) Enqueue(v T) bool {
	for {
		pos := atomic.LoadUint64(&q.hdr.enqueuePos)
		s := resolveSlot(q.alloc, q.hdr, pos&q.hdr.mask)
		seq := atomic.LoadUint64(&s.seq)
		diff := int64(seq) - int64(pos)
		switch {
		case diff == 0:
			if atomic.CompareAndSwapUint64(&q.hdr.enqueuePos, pos, pos+1) {
				s.data = v
				atomic.StoreUint64(&s.seq, pos+1)
				return true
			}
		case diff < 0:
			return false
		}
	}
}

// Dequeue pops the oldest element into *out, returning false if the
// ring is empty. Only the single consumer may call this.
func (q MPSCQueue[T]) Dequeue(out *T) bool {
	pos := q.hdr.dequeuePos
	s := resolveSlot(q.alloc, q.hdr, pos&q.hdr.mask)
	if atomic.LoadUint64(&s.seq) != pos+1 {
		return false
	}
	*out = s.data
	atomic.StoreUint64(&s.seq, pos+q.hdr.capacity)
	q.hdr.dequeuePos = pos + 1
	return true
}

// PtrQueue is an MPSCQueue specialized to offset.Pointer elements, the
// shape used to hand off container handles between processes attached
// to the same backend without copying the pointee.
type PtrQueue = MPSCQueue[offset.Pointer]

// NewPtrQueue constructs a pointer-handoff queue.
func NewPtrQueue(alloc allocator.Allocator, capacity uint64) (container.Handle[*Header[offset.Pointer]], PtrQueue, error) {
	return NewMPSCQueue[offset.Pointer](alloc, capacity)
}
