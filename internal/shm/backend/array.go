package backend

import (
	"fmt"

	"github.com/orizon-lang/shm/internal/shm/shmlog"
)

// ArrayBackend wraps a caller-supplied buffer instead of acquiring its
// own: the caller already owns some memory (a stack array, a buffer
// handed down from a parent allocator, memory mapped by a framework
// the shm module doesn't control) and merely wants the header/data
// split and allocator machinery layered on top of it. Grounded on
// hermes-shm's ArrayBackend, the simplest variant in memory_backend.h's
// family: no OS resource acquisition at all, Destroy is a no-op since
// ownership of the buffer was never taken.
type ArrayBackend struct {
	base
}

var _ Backend = (*ArrayBackend)(nil)

// InitFromBuffer carves the header out of buf's front and uses the
// remainder as the data region. buf must be at least HeaderSize bytes
// and is zeroed for the header only; existing data bytes are left
// untouched so a buffer can be reused across Init calls that rebuild
// state from it.
func (a *ArrayBackend) InitFromBuffer(buf []byte) error {
	if a.IsInitialized() {
		return ErrAlreadyInitialized
	}
	if len(buf) < HeaderSize {
		return fmt.Errorf("%w: buffer of %d bytes smaller than header", ErrAcquireFailed, len(buf))
	}

	size := uint64(len(buf) - HeaderSize)
	a.header = Header{Variant: uint32(VariantArray), DataSize: size}
	a.header.stampVersion()
	a.header.setInitialized()
	writeHeader(buf, a.header)
	a.data = buf[HeaderSize:]
	a.markInitOwned(true)

	shmlog.Debug("array backend initialized", "size", size)
	return nil
}

// Init satisfies the Backend interface but an ArrayBackend has no
// buffer of its own to size; callers must use InitFromBuffer instead.
func (a *ArrayBackend) Init(uint64, string) error {
	return fmt.Errorf("%w: array backend requires InitFromBuffer", ErrAcquireFailed)
}

// AttachBuffer reinterprets an existing caller buffer that already holds a
// stamped header, without taking ownership.
func (a *ArrayBackend) AttachBuffer(buf []byte) error {
	if a.IsInitialized() {
		return ErrAlreadyInitialized
	}
	if len(buf) < HeaderSize {
		return fmt.Errorf("%w: buffer smaller than header", ErrAttachMismatch)
	}

	hdr := readHeader(buf)
	if Variant(hdr.Variant) != VariantArray {
		return fmt.Errorf("%w: got %s", ErrAttachMismatch, Variant(hdr.Variant))
	}
	if err := hdr.checkVersion(); err != nil {
		return err
	}
	if !hdr.isInitialized() {
		return ErrNotInitialized
	}

	a.header = hdr
	a.data = buf[HeaderSize : HeaderSize+int(hdr.DataSize)]
	a.markInitOwned(false)
	return nil
}

// Attach is unsupported: an ArrayBackend's buffer has no name, only a
// Go-side reference, so attach must go through AttachBuffer.
func (a *ArrayBackend) Attach(string) error {
	return ErrAttachUnsupported
}

func (a *ArrayBackend) Detach() error {
	if !a.IsInitialized() {
		return ErrNotInitialized
	}
	return nil
}

// Destroy never frees the caller's buffer; ownership of it was never
// taken.
func (a *ArrayBackend) Destroy() error {
	return nil
}

func (a *ArrayBackend) Variant() Variant { return VariantArray }
