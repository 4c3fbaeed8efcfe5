package backend

import "testing"

func TestHeaderSizeIsStructSize(t *testing.T) {
	if HeaderSize != 32 {
		t.Fatalf("HeaderSize = %d, want 32 (padding accounted for)", HeaderSize)
	}
}

func TestHeapBackendLifecycle(t *testing.T) {
	var b HeapBackend
	if err := b.Init(256, "ignored"); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if !b.IsOwned() || !b.IsInitialized() {
		t.Fatal("expected owned and initialized after Init")
	}
	if len(b.Data()) != 256 {
		t.Fatalf("Data() len = %d, want 256", len(b.Data()))
	}
	if b.Variant() != VariantHeap {
		t.Fatalf("Variant() = %v, want heap", b.Variant())
	}
	if err := b.Init(256, ""); err != ErrAlreadyInitialized {
		t.Fatalf("double Init: got %v, want ErrAlreadyInitialized", err)
	}
	if err := b.Attach("x"); err != ErrAttachUnsupported {
		t.Fatalf("Attach: got %v, want ErrAttachUnsupported", err)
	}
	if err := b.Destroy(); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
}

func TestNullBackend(t *testing.T) {
	var n NullBackend
	if err := n.Init(0, ""); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if n.Data() != nil {
		t.Fatal("expected nil data region")
	}
	if err := n.Detach(); err != nil {
		t.Fatalf("Detach: %v", err)
	}
	if err := n.Destroy(); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
}

func TestArrayBackendInitFromBuffer(t *testing.T) {
	buf := make([]byte, HeaderSize+128)

	var a ArrayBackend
	if err := a.InitFromBuffer(buf); err != nil {
		t.Fatalf("InitFromBuffer: %v", err)
	}
	if len(a.Data()) != 128 {
		t.Fatalf("Data() len = %d, want 128", len(a.Data()))
	}

	var attached ArrayBackend
	if err := attached.AttachBuffer(buf); err != nil {
		t.Fatalf("AttachBuffer: %v", err)
	}
	if attached.IsOwned() {
		t.Fatal("attacher must not be owner")
	}
	if len(attached.Data()) != 128 {
		t.Fatalf("attached Data() len = %d, want 128", len(attached.Data()))
	}

	if err := a.Destroy(); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
}

func TestArrayBackendTooSmall(t *testing.T) {
	var a ArrayBackend
	if err := a.InitFromBuffer(make([]byte, 4)); err == nil {
		t.Fatal("expected error for undersized buffer")
	}
}

func TestVariantString(t *testing.T) {
	cases := map[Variant]string{
		VariantNull:         "null",
		VariantPosixShmMmap: "posix-shm-mmap",
		VariantPosixMmap:    "posix-mmap",
		VariantHeap:         "heap",
		VariantArray:        "array",
	}
	for v, want := range cases {
		if got := v.String(); got != want {
			t.Errorf("Variant(%d).String() = %q, want %q", v, got, want)
		}
	}
}
