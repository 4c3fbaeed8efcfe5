package allocator

import (
	"testing"

	"github.com/orizon-lang/shm/internal/shm/backend"
	"github.com/orizon-lang/shm/internal/shm/offset"
)

func newTestBackend(t *testing.T, size uint64) backend.Backend {
	t.Helper()
	var b backend.HeapBackend
	if err := b.Init(size, ""); err != nil {
		t.Fatalf("backend Init: %v", err)
	}
	return &b
}

// assertPanics runs fn and fails the test unless it panics, matching
// this package's fatal-programming-error convention for double-free
// and free-of-foreign-pointer conditions.
func assertPanics(t *testing.T, fn func()) {
	t.Helper()
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic, got none")
		}
	}()
	fn()
}

func TestStackAllocateAndRestore(t *testing.T) {
	b := newTestBackend(t, 4096)
	s := NewStack(offset.AllocatorID{Major: 1, Minor: 1}, b, 0)

	mark := s.Save()
	p1, err := s.Allocate(64)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if p1.IsNull() {
		t.Fatal("expected non-null pointer")
	}
	if _, err := s.Allocate(128); err != nil {
		t.Fatalf("Allocate: %v", err)
	}

	if s.Stats().NumAllocs != 2 {
		t.Fatalf("NumAllocs = %d, want 2", s.Stats().NumAllocs)
	}

	s.Restore(mark)
	if s.Stats().AllocatedSize != 0 {
		t.Fatalf("AllocatedSize after Restore = %d, want 0", s.Stats().AllocatedSize)
	}

	p2, err := s.Allocate(64)
	if err != nil {
		t.Fatalf("Allocate after Restore: %v", err)
	}
	if p2.Off != p1.Off {
		t.Fatalf("expected reused offset %d, got %d", p1.Off, p2.Off)
	}
}

// TestStackFreeMostRecentRewindsCursor is scenario S2: allocate A(100),
// B(200), free B, allocate C(200) — C must reuse B's slot, since Free
// on a bump allocator is only ever a no-op for allocations that
// *aren't* the most recent one.
func TestStackFreeMostRecentRewindsCursor(t *testing.T) {
	b := newTestBackend(t, 1<<20)
	s := NewStack(offset.AllocatorID{}, b, 0)

	a, err := s.Allocate(100)
	if err != nil {
		t.Fatalf("Allocate A: %v", err)
	}
	before := s.Stats().AllocatedSize

	bPtr, err := s.Allocate(200)
	if err != nil {
		t.Fatalf("Allocate B: %v", err)
	}
	if err := s.Free(bPtr); err != nil {
		t.Fatalf("Free B: %v", err)
	}
	if got := s.Stats().AllocatedSize; got != before {
		t.Fatalf("AllocatedSize after freeing most-recent = %d, want %d (rewound)", got, before)
	}

	c, err := s.Allocate(200)
	if err != nil {
		t.Fatalf("Allocate C: %v", err)
	}
	if c.Off != bPtr.Off {
		t.Fatalf("C.Off = %d, want reused B.Off = %d", c.Off, bPtr.Off)
	}
	_ = a
}

// TestStackFreeNonRecentIsNoOp confirms Free's LIFO short-circuit only
// fires for the most recent live allocation: freeing an earlier one
// must not move the cursor.
func TestStackFreeNonRecentIsNoOp(t *testing.T) {
	b := newTestBackend(t, 1<<20)
	s := NewStack(offset.AllocatorID{}, b, 0)

	a, err := s.Allocate(64)
	if err != nil {
		t.Fatalf("Allocate A: %v", err)
	}
	if _, err := s.Allocate(64); err != nil {
		t.Fatalf("Allocate B: %v", err)
	}
	before := s.Stats().AllocatedSize

	if err := s.Free(a); err != nil {
		t.Fatalf("Free A: %v", err)
	}
	if got := s.Stats().AllocatedSize; got != before {
		t.Fatalf("AllocatedSize after freeing non-recent = %d, want unchanged %d", got, before)
	}
}

func TestStackDoubleFreePanics(t *testing.T) {
	b := newTestBackend(t, 4096)
	s := NewStack(offset.AllocatorID{}, b, 0)
	p, err := s.Allocate(32)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if err := s.Free(p); err != nil {
		t.Fatalf("Free: %v", err)
	}
	assertPanics(t, func() { s.Free(p) })
}

func TestStackReallocateGrowsInPlaceForMostRecent(t *testing.T) {
	b := newTestBackend(t, 4096)
	s := NewStack(offset.AllocatorID{}, b, 0)

	p, err := s.Allocate(16)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	buf := s.AllocatePtr(p, 16)
	copy(buf, []byte("0123456789abcdef"))

	grown, err := s.Reallocate(p, 64)
	if err != nil {
		t.Fatalf("Reallocate: %v", err)
	}
	if grown.Off != p.Off {
		t.Fatalf("expected in-place grow for most-recent allocation, got new offset %d != %d", grown.Off, p.Off)
	}
	if got := s.AllocatePtr(grown, 16); string(got) != "0123456789abcdef" {
		t.Fatalf("content after in-place grow = %q, want preserved prefix", got)
	}
}

func TestStackReallocateRelocatesAndCopies(t *testing.T) {
	b := newTestBackend(t, 4096)
	s := NewStack(offset.AllocatorID{}, b, 0)

	a, err := s.Allocate(16)
	if err != nil {
		t.Fatalf("Allocate A: %v", err)
	}
	copy(s.AllocatePtr(a, 16), []byte("hello-world-____"))
	if _, err := s.Allocate(16); err != nil {
		t.Fatalf("Allocate B: %v", err)
	}

	grown, err := s.Reallocate(a, 32)
	if err != nil {
		t.Fatalf("Reallocate: %v", err)
	}
	if grown.Off == a.Off {
		t.Fatal("expected relocation since A is no longer the most recent allocation")
	}
	if got := string(s.AllocatePtr(grown, 16)); got != "hello-world-____" {
		t.Fatalf("content after relocation = %q, want preserved prefix", got)
	}
}

func TestStackOutOfMemory(t *testing.T) {
	b := newTestBackend(t, 64)
	s := NewStack(offset.AllocatorID{}, b, 0)
	if _, err := s.Allocate(128); err == nil {
		t.Fatal("expected ErrOutOfMemory")
	}
}

func TestFixedPageAllocateFreeReuse(t *testing.T) {
	b := newTestBackend(t, 1024)
	fp := NewFixedPage(offset.AllocatorID{}, b, 32, 0)

	p1, err := fp.Allocate(16)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if err := fp.Free(p1); err != nil {
		t.Fatalf("Free: %v", err)
	}
	p2, err := fp.Allocate(16)
	if err != nil {
		t.Fatalf("Allocate after Free: %v", err)
	}
	if p2.Off != p1.Off {
		t.Fatalf("expected freed page reused at %d, got %d", p1.Off, p2.Off)
	}
}

func TestFixedPageRejectsOversize(t *testing.T) {
	b := newTestBackend(t, 1024)
	fp := NewFixedPage(offset.AllocatorID{}, b, 16, 0)
	if _, err := fp.Allocate(32); err != ErrInvalidSize {
		t.Fatalf("got %v, want ErrInvalidSize", err)
	}
}

func TestFixedPageDoubleFreePanics(t *testing.T) {
	b := newTestBackend(t, 1024)
	fp := NewFixedPage(offset.AllocatorID{}, b, 32, 0)
	p, err := fp.Allocate(16)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if err := fp.Free(p); err != nil {
		t.Fatalf("Free: %v", err)
	}
	assertPanics(t, func() { fp.Free(p) })
}

func TestFixedPageReallocateWithinPageIsNoOp(t *testing.T) {
	b := newTestBackend(t, 1024)
	fp := NewFixedPage(offset.AllocatorID{}, b, 32, 0)
	p, err := fp.Allocate(16)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	p2, err := fp.Reallocate(p, 24)
	if err != nil {
		t.Fatalf("Reallocate: %v", err)
	}
	if p2.Off != p.Off {
		t.Fatalf("expected same slot, got %d != %d", p2.Off, p.Off)
	}
	if _, err := fp.Reallocate(p, 64); err != ErrInvalidSize {
		t.Fatalf("Reallocate beyond pageSize: got %v, want ErrInvalidSize", err)
	}
}

func TestScalablePageSmallAndOverflow(t *testing.T) {
	b := newTestBackend(t, 1<<20)
	sp := NewScalablePage(offset.AllocatorID{}, b, 0)

	small, err := sp.Allocate(20)
	if err != nil {
		t.Fatalf("small Allocate: %v", err)
	}
	big, err := sp.Allocate(1 << 16)
	if err != nil {
		t.Fatalf("overflow Allocate: %v", err)
	}
	if small.Off == big.Off {
		t.Fatal("expected distinct pointers")
	}

	buf := sp.AllocatePtr(big, 1<<16)
	if len(buf) != 1<<16 {
		t.Fatalf("AllocatePtr len = %d, want %d", len(buf), 1<<16)
	}
	for i := range buf {
		buf[i] = 0xAB
	}

	if err := sp.Free(small); err != nil {
		t.Fatalf("Free small: %v", err)
	}
	if err := sp.Free(big); err != nil {
		t.Fatalf("Free overflow: %v", err)
	}
}

func TestScalablePageOverflowDoubleFreePanics(t *testing.T) {
	b := newTestBackend(t, 1<<20)
	sp := NewScalablePage(offset.AllocatorID{}, b, 0)
	big, err := sp.Allocate(1 << 16)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if err := sp.Free(big); err != nil {
		t.Fatalf("Free: %v", err)
	}
	assertPanics(t, func() { sp.Free(big) })
}

func TestScalablePageReallocateOverflowCopies(t *testing.T) {
	b := newTestBackend(t, 1<<20)
	sp := NewScalablePage(offset.AllocatorID{}, b, 0)

	p, err := sp.Allocate(1 << 13)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	copy(sp.AllocatePtr(p, 1<<13), []byte("overflow-content"))

	grown, err := sp.Reallocate(p, 1<<14)
	if err != nil {
		t.Fatalf("Reallocate: %v", err)
	}
	if got := string(sp.AllocatePtr(grown, len("overflow-content"))); got != "overflow-content" {
		t.Fatalf("content after overflow grow = %q, want preserved prefix", got)
	}
}

func TestScalablePageCustomHeaderReservedUpFront(t *testing.T) {
	b := newTestBackend(t, 1<<20)
	sp := NewScalablePage(offset.AllocatorID{}, b, 128)
	if len(sp.CustomHeader()) != 128 {
		t.Fatalf("CustomHeader() len = %d, want 128", len(sp.CustomHeader()))
	}
	if _, err := sp.Allocate(20); err != nil {
		t.Fatalf("Allocate after reserving custom header: %v", err)
	}
}

func TestOverflowArenaCoalesces(t *testing.T) {
	data := make([]byte, 4096)
	o := newOverflowArena(data)

	p1, err := o.allocate(512)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	p2, err := o.allocate(512)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if err := o.free(p1); err != nil {
		t.Fatalf("free p1: %v", err)
	}
	if err := o.free(p2); err != nil {
		t.Fatalf("free p2: %v", err)
	}

	if len(o.freeSpans) != 1 {
		t.Fatalf("expected free list to coalesce back to 1 span, got %d", len(o.freeSpans))
	}
	if o.freeSpans[0].len != uint64(len(data)) {
		t.Fatalf("coalesced span len = %d, want %d", o.freeSpans[0].len, len(data))
	}
}

func TestMallocAllocateFreeLeak(t *testing.T) {
	m := NewMalloc(offset.AllocatorID{Major: 9}, 0)

	p, err := m.Allocate(128)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if buf := m.AllocatePtr(p, 128); len(buf) != 128 {
		t.Fatalf("AllocatePtr len = %d, want 128", len(buf))
	}
	if m.LeakCount() != 1 {
		t.Fatalf("LeakCount = %d, want 1", m.LeakCount())
	}
	if err := m.Free(p); err != nil {
		t.Fatalf("Free: %v", err)
	}
	if m.LeakCount() != 0 {
		t.Fatalf("LeakCount after Free = %d, want 0", m.LeakCount())
	}
	assertPanics(t, func() { m.Free(p) })
}

func TestMallocReallocatePreservesContent(t *testing.T) {
	m := NewMalloc(offset.AllocatorID{Major: 9}, 0)
	p, err := m.Allocate(8)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	copy(m.AllocatePtr(p, 8), []byte("12345678"))

	grown, err := m.Reallocate(p, 32)
	if err != nil {
		t.Fatalf("Reallocate: %v", err)
	}
	if grown.Off != p.Off {
		t.Fatalf("expected stable key, got %d != %d", grown.Off, p.Off)
	}
	if got := string(m.AllocatePtr(grown, 8)); got != "12345678" {
		t.Fatalf("content after Reallocate = %q, want preserved prefix", got)
	}
}

func TestMallocCustomHeader(t *testing.T) {
	m := NewMalloc(offset.AllocatorID{}, 64)
	if len(m.CustomHeader()) != 64 {
		t.Fatalf("CustomHeader() len = %d, want 64", len(m.CustomHeader()))
	}
}

func TestRegistryRegisterGetResolve(t *testing.T) {
	b := newTestBackend(t, 4096)
	id := offset.AllocatorID{Major: 1, Minor: 2}
	s := NewStack(id, b, 0)

	r := NewRegistry()
	r.Register(s)

	got, ok := r.Get(id)
	if !ok || got.Kind() != KindStack {
		t.Fatalf("Get returned ok=%v kind=%v", ok, got)
	}

	p, err := s.Allocate(32)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	fp := p.Widen(id)
	if buf := r.Resolve(fp, 32); len(buf) != 32 {
		t.Fatalf("Resolve len = %d, want 32", len(buf))
	}

	if err := r.Unregister(id); err != nil {
		t.Fatalf("Unregister: %v", err)
	}
	if r.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", r.Len())
	}
}

// TestConvertBackRoundTrip covers spec's property 2: for every offset
// pointer p returned by an allocator's Allocate, a.convert(a.convert(p))
// == p. Checked against each backend-bound variant plus Malloc.
func TestConvertBackRoundTrip(t *testing.T) {
	type payload struct {
		a, b uint64
	}

	check := func(t *testing.T, a Allocator, p offset.Pointer) {
		t.Helper()
		typed := offset.TypedOf[payload](p)
		native := offset.Convert(a, typed)
		if native == nil {
			t.Fatal("Convert returned nil for a live pointer")
		}
		back := offset.Back(a, native)
		if back.Pointer != p {
			t.Fatalf("round trip: Back(Convert(p)) = %v, want %v", back.Pointer, p)
		}
	}

	t.Run("Stack", func(t *testing.T) {
		b := newTestBackend(t, 4096)
		s := NewStack(offset.AllocatorID{}, b, 0)
		p, err := s.Allocate(16)
		if err != nil {
			t.Fatalf("Allocate: %v", err)
		}
		check(t, s, p)
	})

	t.Run("FixedPage", func(t *testing.T) {
		b := newTestBackend(t, 4096)
		fp := NewFixedPage(offset.AllocatorID{}, b, 32, 0)
		p, err := fp.Allocate(16)
		if err != nil {
			t.Fatalf("Allocate: %v", err)
		}
		check(t, fp, p)
	})

	t.Run("ScalablePage", func(t *testing.T) {
		b := newTestBackend(t, 1<<20)
		sp := NewScalablePage(offset.AllocatorID{}, b, 0)
		p, err := sp.Allocate(16)
		if err != nil {
			t.Fatalf("Allocate: %v", err)
		}
		check(t, sp, p)
	})

	t.Run("Malloc", func(t *testing.T) {
		m := NewMalloc(offset.AllocatorID{}, 0)
		p, err := m.Allocate(16)
		if err != nil {
			t.Fatalf("Allocate: %v", err)
		}
		check(t, m, p)
	})
}
