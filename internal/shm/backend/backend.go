// Package backend acquires and exposes contiguous byte regions for
// the shm allocator layer: POSIX shared memory, anonymous mmap, the
// process heap, or a caller-supplied array. It distinguishes the
// owner of a region (who destroys it) from processes that merely
// attach.
//
// Grounded on the teacher's internal/runtime region registry (map +
// sync.RWMutex + atomic counters, Magic/Checksum header validation)
// and on hermes-shm's memory_backend.h / malloc_backend.h for the
// Init/Attach/Detach/Destroy contract and the Owned/Initialized flags.
package backend

import (
	"errors"
	"fmt"
	"sync/atomic"
	"unsafe"

	"github.com/Masterminds/semver/v3"
)

// Errors returned by backend operations.
var (
	ErrAlreadyInitialized = errors.New("backend: already initialized")
	ErrNotInitialized     = errors.New("backend: not initialized")
	ErrAttachUnsupported  = errors.New("backend: variant does not support attach")
	ErrAttachMismatch     = errors.New("backend: header variant tag mismatch")
	ErrAttachVersion      = errors.New("backend: incompatible header format version")
	ErrAcquireFailed      = errors.New("backend: OS resource acquisition failed")
)

// Variant tags the concrete backend kind, persisted in Header so an
// attacher can discriminate without a vtable stored in shared memory.
type Variant uint32

const (
	VariantNull Variant = iota
	VariantPosixShmMmap
	VariantPosixMmap
	VariantHeap
	VariantArray
)

func (v Variant) String() string {
	switch v {
	case VariantNull:
		return "null"
	case VariantPosixShmMmap:
		return "posix-shm-mmap"
	case VariantPosixMmap:
		return "posix-mmap"
	case VariantHeap:
		return "heap"
	case VariantArray:
		return "array"
	default:
		return fmt.Sprintf("variant(%d)", uint32(v))
	}
}

const (
	flagInitialized uint32 = 1 << 0
	flagOwned       uint32 = 1 << 1
)

// FormatVersion is the header schema version every backend stamps on
// Init and validates on Attach. It is bumped only when the in-segment
// Header layout changes incompatibly.
var FormatVersion = semver.MustParse("1.0.0")

// Header is the POD prefix stored at the very start of the segment,
// ahead of the allocator's own header. Exact field order matches the
// external-interfaces contract: { variant tag, data size, flags }.
type Header struct {
	Variant     uint32
	DataSize    uint64
	Flags       uint32
	VersionMaj  uint32
	VersionMin  uint32
	VersionPatc uint32
}

// FormatVersionOf reconstructs the semver triplet stamped in h, for
// logging and error messages.
func (h *Header) FormatVersionOf() *semver.Version {
	return semver.MustParse(fmt.Sprintf("%d.%d.%d", h.VersionMaj, h.VersionMin, h.VersionPatc))
}

func (h *Header) stampVersion() {
	h.VersionMaj = uint32(FormatVersion.Major())
	h.VersionMin = uint32(FormatVersion.Minor())
	h.VersionPatc = uint32(FormatVersion.Patch())
}

// checkVersion enforces the same rule semver.Constraint would for a
// "^major.0.0" range: the stamped major version must match exactly,
// since this module bumps FormatVersion's major component whenever
// the Header layout changes incompatibly.
func (h *Header) checkVersion() error {
	if uint64(h.VersionMaj) != uint64(FormatVersion.Major()) {
		return fmt.Errorf("%w: segment is v%s, this binary understands v%d.x.x",
			ErrAttachVersion, h.FormatVersionOf().String(), FormatVersion.Major())
	}
	return nil
}

func (h *Header) setInitialized()     { h.Flags |= flagInitialized }
func (h *Header) isInitialized() bool { return h.Flags&flagInitialized != 0 }
func (h *Header) own()                { h.Flags |= flagOwned }
func (h *Header) isOwned() bool       { return h.Flags&flagOwned != 0 }

// HeaderSize is the fixed number of bytes Header occupies at the
// front of every segment. Computed rather than hand-counted so struct
// padding (Go aligns the uint64 field on an 8-byte boundary) can never
// drift out of sync with the Header definition above.
var HeaderSize = int(unsafe.Sizeof(Header{}))

// Backend is the contract every variant implements.
type Backend interface {
	// Init acquires size bytes plus a header, named by name (ignored
	// for heap/array variants), as the owner. Zero-initialization of
	// the data region is not guaranteed.
	Init(size uint64, name string) error
	// Attach opens an existing named region as a non-owning process,
	// reconstructing header/data/size from the in-segment header.
	Attach(name string) error
	// Detach releases process-local mappings without affecting the
	// region. Valid for both owner and non-owner.
	Detach() error
	// Destroy tears down OS resources. Only meaningful for the owner;
	// a no-op when called by a non-owner.
	Destroy() error

	Data() []byte
	Variant() Variant
	IsOwned() bool
	IsInitialized() bool
}

// base implements the flag/size bookkeeping shared by every variant;
// embed it and supply the OS-specific acquisition logic.
type base struct {
	header      Header
	data        []byte
	initialized uint32 // atomic bool
	owned       uint32 // atomic bool
}

func (b *base) IsInitialized() bool { return atomic.LoadUint32(&b.initialized) != 0 }
func (b *base) IsOwned() bool       { return atomic.LoadUint32(&b.owned) != 0 }

func (b *base) markInitOwned(owned bool) {
	atomic.StoreUint32(&b.initialized, 1)
	b.header.setInitialized()
	if owned {
		atomic.StoreUint32(&b.owned, 1)
		b.header.own()
	}
}

func (b *base) Data() []byte { return b.data }
