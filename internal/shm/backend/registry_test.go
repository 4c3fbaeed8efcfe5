package backend

import "testing"

func TestRegistryRegisterGetUnregister(t *testing.T) {
	r := NewRegistry()

	var b HeapBackend
	if err := b.Init(64, ""); err != nil {
		t.Fatalf("Init: %v", err)
	}
	r.Register(1, &b)

	got, ok := r.Get(1)
	if !ok {
		t.Fatal("expected backend to be registered")
	}
	if got.Variant() != VariantHeap {
		t.Fatalf("Variant() = %v, want heap", got.Variant())
	}
	if r.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", r.Len())
	}

	if err := r.Unregister(1); err != nil {
		t.Fatalf("Unregister: %v", err)
	}
	if r.Len() != 0 {
		t.Fatalf("Len() after unregister = %d, want 0", r.Len())
	}
	if _, ok := r.Get(1); ok {
		t.Fatal("expected backend to be gone after unregister")
	}
}

func TestRegistryUnregisterUnknown(t *testing.T) {
	r := NewRegistry()
	if err := r.Unregister(99); err == nil {
		t.Fatal("expected error unregistering unknown id")
	}
}

func TestRegistryReplaceDestroysPrevious(t *testing.T) {
	r := NewRegistry()

	var first HeapBackend
	first.Init(32, "")
	r.Register(1, &first)

	var second HeapBackend
	second.Init(32, "")
	r.Register(1, &second)

	if first.Data() != nil {
		t.Fatal("expected previous backend data to be released on replace")
	}
}
