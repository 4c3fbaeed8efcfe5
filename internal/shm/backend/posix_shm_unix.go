//go:build linux || darwin
// +build linux darwin

package backend

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/orizon-lang/shm/internal/shm/shmlog"
)

// shmDir is where POSIX shared-memory objects are conventionally
// visible as files on Linux; used by PosixShmBackend.
// manager.WaitForBackend watches the same directory through its own
// copy of this path.
const shmDir = "/dev/shm/"

// PosixShmBackend acquires a named POSIX shared-memory region via
// shm_open-equivalent syscalls and mmap, the way the teacher's
// asyncio code reaches golang.org/x/sys/unix directly under a
// //go:build linux tag rather than going through cgo.
type PosixShmBackend struct {
	base
	fd   int
	name string
	mmap []byte // full mapping (header + data); data is mmap[HeaderSize:]
}

var _ Backend = (*PosixShmBackend)(nil)

// Init creates and owns a new named shared-memory region of size
// bytes (plus HeaderSize for the in-segment header).
func (p *PosixShmBackend) Init(size uint64, name string) error {
	if p.IsInitialized() {
		return ErrAlreadyInitialized
	}

	total := HeaderSize + int(size)
	fd, err := unix.Open(shmDir+name, unix.O_RDWR|unix.O_CREAT|unix.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("%w: open %s: %v", ErrAcquireFailed, name, err)
	}
	if err := unix.Ftruncate(fd, int64(total)); err != nil {
		unix.Close(fd)
		unix.Unlink(shmDir + name)
		return fmt.Errorf("%w: ftruncate: %v", ErrAcquireFailed, err)
	}

	mem, err := unix.Mmap(fd, 0, total, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		unix.Unlink(shmDir + name)
		return fmt.Errorf("%w: mmap: %v", ErrAcquireFailed, err)
	}

	p.fd = fd
	p.name = name
	p.mmap = mem
	p.header = Header{Variant: uint32(VariantPosixShmMmap), DataSize: size}
	p.header.stampVersion()
	p.header.setInitialized()
	writeHeader(mem, p.header)
	p.data = mem[HeaderSize:]
	p.markInitOwned(true)

	shmlog.Debug("posix shm backend initialized", "name", name, "size", size)
	return nil
}

// Attach opens an existing named region as a non-owner, reconstructing
// header/data/size from the bytes already in the segment.
func (p *PosixShmBackend) Attach(name string) error {
	if p.IsInitialized() {
		return ErrAlreadyInitialized
	}

	fd, err := unix.Open(shmDir+name, unix.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("%w: open %s: %v", ErrAcquireFailed, name, err)
	}

	st, err := unix.Fstat(fd)
	if err != nil {
		unix.Close(fd)
		return fmt.Errorf("%w: fstat: %v", ErrAcquireFailed, err)
	}
	total := int(st.Size)
	if total < HeaderSize {
		unix.Close(fd)
		return fmt.Errorf("%w: segment smaller than header", ErrAttachMismatch)
	}

	mem, err := unix.Mmap(fd, 0, total, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return fmt.Errorf("%w: mmap: %v", ErrAcquireFailed, err)
	}

	hdr := readHeader(mem)
	if Variant(hdr.Variant) != VariantPosixShmMmap {
		unix.Munmap(mem)
		unix.Close(fd)
		return fmt.Errorf("%w: got %s", ErrAttachMismatch, Variant(hdr.Variant))
	}
	if err := hdr.checkVersion(); err != nil {
		unix.Munmap(mem)
		unix.Close(fd)
		return err
	}
	if !hdr.isInitialized() {
		unix.Munmap(mem)
		unix.Close(fd)
		return ErrNotInitialized
	}

	p.fd = fd
	p.name = name
	p.mmap = mem
	p.header = hdr
	p.data = mem[HeaderSize : HeaderSize+int(hdr.DataSize)]
	p.markInitOwned(false)

	shmlog.Debug("posix shm backend attached", "name", name)
	return nil
}

// Detach unmaps the segment without destroying it.
func (p *PosixShmBackend) Detach() error {
	if !p.IsInitialized() {
		return ErrNotInitialized
	}
	if err := unix.Munmap(p.mmap); err != nil {
		return fmt.Errorf("munmap: %w", err)
	}
	return unix.Close(p.fd)
}

// Destroy unmaps and unlinks the named region. Only meaningful for the
// owner.
func (p *PosixShmBackend) Destroy() error {
	if !p.IsOwned() {
		return nil
	}
	if err := p.Detach(); err != nil {
		return err
	}
	shmlog.Debug("posix shm backend destroyed", "name", p.name)
	return unix.Unlink(shmDir + p.name)
}

func (p *PosixShmBackend) Variant() Variant { return VariantPosixShmMmap }

func writeHeader(mem []byte, h Header) {
	binary.LittleEndian.PutUint32(mem[0:4], h.Variant)
	binary.LittleEndian.PutUint64(mem[8:16], h.DataSize)
	binary.LittleEndian.PutUint32(mem[16:20], h.Flags)
	binary.LittleEndian.PutUint32(mem[20:24], h.VersionMaj)
	binary.LittleEndian.PutUint32(mem[24:28], h.VersionMin)
	binary.LittleEndian.PutUint32(mem[28:32], h.VersionPatc)
}

func readHeader(mem []byte) Header {
	return Header{
		Variant:     binary.LittleEndian.Uint32(mem[0:4]),
		DataSize:    binary.LittleEndian.Uint64(mem[8:16]),
		Flags:       binary.LittleEndian.Uint32(mem[16:20]),
		VersionMaj:  binary.LittleEndian.Uint32(mem[20:24]),
		VersionMin:  binary.LittleEndian.Uint32(mem[24:28]),
		VersionPatc: binary.LittleEndian.Uint32(mem[28:32]),
	}
}
