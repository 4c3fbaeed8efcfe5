// Package main demonstrates the shm module end to end: acquiring a
// backend, binding an allocator to it, and building a list and a ring
// queue on top, all addressed by offset rather than native pointer.
package main

import (
	"fmt"
	"os"

	"github.com/orizon-lang/shm/internal/shm/allocator"
	"github.com/orizon-lang/shm/internal/shm/backend"
	"github.com/orizon-lang/shm/internal/shm/container/queue"
	"github.com/orizon-lang/shm/internal/shm/container/slist"
	"github.com/orizon-lang/shm/internal/shm/manager"
	"github.com/orizon-lang/shm/internal/shm/offset"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "shm-demo:", err)
		os.Exit(1)
	}
}

func run() error {
	m := manager.Default()

	b, err := manager.CreateBackend[backend.HeapBackend, *backend.HeapBackend](
		m, 1, manager.DefaultBackendSize(), "shm-demo")
	if err != nil {
		return fmt.Errorf("create backend: %w", err)
	}
	fmt.Printf("backend: variant=%s size=%d\n", b.Variant(), len(b.Data()))

	allocID := offset.AllocatorID{Major: 1, Minor: 1}
	alloc, err := manager.CreateAllocator[*allocator.ScalablePage](m, 1, allocID, 0, func(id offset.AllocatorID, be backend.Backend, customHeaderSize uint64) *allocator.ScalablePage {
		return allocator.NewScalablePage(id, be, customHeaderSize)
	})
	if err != nil {
		return fmt.Errorf("create allocator: %w", err)
	}

	listHandle, err := slist.New[int](alloc)
	if err != nil {
		return fmt.Errorf("create list: %w", err)
	}
	defer listHandle.Drop()

	l := slist.Open(alloc, listHandle)
	for _, v := range []int{1, 2, 3, 4, 5} {
		if err := l.PushBack(v); err != nil {
			return fmt.Errorf("push: %w", err)
		}
	}

	fmt.Print("list:")
	for it := l.Iter(); !it.Done(); it = it.Next() {
		fmt.Printf(" %d", it.Value())
	}
	fmt.Println()

	queueHandle, q, err := queue.NewSPSCQueue[string](alloc, 16)
	if err != nil {
		return fmt.Errorf("create queue: %w", err)
	}
	defer queueHandle.Drop()

	for _, msg := range []string{"hello", "shared", "memory"} {
		q.Enqueue(msg)
	}
	var out string
	for q.Dequeue(&out) {
		fmt.Println("queue:", out)
	}

	stats := alloc.Stats()
	fmt.Printf("allocator stats: total=%d allocated=%d free=%d\n",
		stats.TotalSize, stats.AllocatedSize, stats.FreeSize)

	return nil
}
