//go:build linux || darwin
// +build linux darwin

package backend

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/orizon-lang/shm/internal/shm/shmlog"
)

// PosixMmapBackend is an anonymous, process-private mapping: same
// acquisition mechanism as PosixShmBackend but MAP_ANONYMOUS|MAP_PRIVATE
// instead of a named, file-backed MAP_SHARED region. It cannot be
// attached from another process, matching hermes-shm's distinction
// between a named POSIX shm backend and a plain anonymous mmap one.
type PosixMmapBackend struct {
	base
	mmap []byte
}

var _ Backend = (*PosixMmapBackend)(nil)

func (p *PosixMmapBackend) Init(size uint64, _ string) error {
	if p.IsInitialized() {
		return ErrAlreadyInitialized
	}

	total := HeaderSize + int(size)
	mem, err := unix.Mmap(-1, 0, total, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return fmt.Errorf("%w: anon mmap: %v", ErrAcquireFailed, err)
	}

	p.mmap = mem
	p.header = Header{Variant: uint32(VariantPosixMmap), DataSize: size}
	p.header.stampVersion()
	p.header.setInitialized()
	writeHeader(mem, p.header)
	p.data = mem[HeaderSize:]
	p.markInitOwned(true)

	shmlog.Debug("posix mmap backend initialized", "size", size)
	return nil
}

// Attach always fails: an anonymous mapping has no name another
// process could open it by.
func (p *PosixMmapBackend) Attach(string) error {
	return ErrAttachUnsupported
}

func (p *PosixMmapBackend) Detach() error {
	if !p.IsInitialized() {
		return ErrNotInitialized
	}
	return unix.Munmap(p.mmap)
}

func (p *PosixMmapBackend) Destroy() error {
	if !p.IsOwned() {
		return nil
	}
	return p.Detach()
}

func (p *PosixMmapBackend) Variant() Variant { return VariantPosixMmap }
