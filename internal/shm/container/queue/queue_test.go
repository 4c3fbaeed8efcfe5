package queue

import (
	"sync"
	"testing"

	"github.com/orizon-lang/shm/internal/shm/allocator"
	"github.com/orizon-lang/shm/internal/shm/backend"
	"github.com/orizon-lang/shm/internal/shm/offset"
)

func newTestAllocator(t *testing.T) allocator.Allocator {
	t.Helper()
	var b backend.HeapBackend
	if err := b.Init(1<<20, ""); err != nil {
		t.Fatalf("backend Init: %v", err)
	}
	return allocator.NewScalablePage(offset.AllocatorID{Major: 2}, &b, 0)
}

func TestSPSCQueueBasic(t *testing.T) {
	alloc := newTestAllocator(t)
	_, q, err := NewSPSCQueue[int](alloc, 8)
	if err != nil {
		t.Fatalf("NewSPSCQueue: %v", err)
	}

	if !q.Enqueue(1) || !q.Enqueue(2) {
		t.Fatal("enqueue failed on non-full ring")
	}
	var v int
	if !q.Dequeue(&v) || v != 1 {
		t.Fatalf("Dequeue = %d, want 1", v)
	}
	if !q.Dequeue(&v) || v != 2 {
		t.Fatalf("Dequeue = %d, want 2", v)
	}
	if q.Dequeue(&v) {
		t.Fatal("expected Dequeue on empty ring to fail")
	}
}

func TestSPSCQueueFullRejectsEnqueue(t *testing.T) {
	alloc := newTestAllocator(t)
	_, q, err := NewSPSCQueue[int](alloc, 4)
	if err != nil {
		t.Fatalf("NewSPSCQueue: %v", err)
	}
	for i := 0; i < 4; i++ {
		if !q.Enqueue(i) {
			t.Fatalf("enqueue %d failed before ring full", i)
		}
	}
	if q.Enqueue(99) {
		t.Fatal("expected enqueue on full ring to fail")
	}
}

func TestSPSCQueuePopBack(t *testing.T) {
	alloc := newTestAllocator(t)
	_, q, err := NewSPSCQueue[int](alloc, 8)
	if err != nil {
		t.Fatalf("NewSPSCQueue: %v", err)
	}
	q.Enqueue(1)
	q.Enqueue(2)
	q.Enqueue(3)

	v, ok := q.PopBack()
	if !ok || v != 3 {
		t.Fatalf("PopBack = (%d, %v), want (3, true)", v, ok)
	}
	if q.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", q.Len())
	}

	var front int
	q.Dequeue(&front)
	if front != 1 {
		t.Fatalf("Dequeue after PopBack = %d, want 1", front)
	}
}

func TestSPSCQueuePopBackOnEmpty(t *testing.T) {
	alloc := newTestAllocator(t)
	_, q, err := NewSPSCQueue[int](alloc, 8)
	if err != nil {
		t.Fatalf("NewSPSCQueue: %v", err)
	}
	if _, ok := q.PopBack(); ok {
		t.Fatal("expected PopBack on empty ring to fail")
	}
}

func TestMPSCQueueConcurrentProducers(t *testing.T) {
	alloc := newTestAllocator(t)
	_, q, err := NewMPSCQueue[int](alloc, 1024)
	if err != nil {
		t.Fatalf("NewMPSCQueue: %v", err)
	}

	const producers = 4
	const perProducer = 2000

	var wg sync.WaitGroup
	wg.Add(producers)
	for p := 0; p < producers; p++ {
		go func(id int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				for !q.Enqueue(id*perProducer + i) {
				}
			}
		}(p)
	}

	total := producers * perProducer
	seen := make(map[int]bool, total)
	for len(seen) < total {
		var v int
		if q.Dequeue(&v) {
			if seen[v] {
				t.Fatalf("duplicate value %d dequeued", v)
			}
			seen[v] = true
		}
	}
	wg.Wait()
}
