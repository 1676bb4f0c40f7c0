// Package shm contains platform-specific helpers for mapping shared memory
// and carving atomic cells out of it.
package shm

import (
	"errors"
	"fmt"
	"time"
	"unsafe"
)

// DefaultDir is where named regions live when MapOptions.Dir is empty.
const DefaultDir = "/dev/shm"

// DefaultAttachTimeout is used when MapOptions.AttachTimeout is zero.
const DefaultAttachTimeout = 2 * time.Second

var (
	ErrInvalidSize         = errors.New("shm: region size must be positive")
	ErrNoSpace             = errors.New("shm: not enough free space to create region")
	ErrUnsupportedPlatform = errors.New("shm: named regions are not supported on this platform")
	// ErrNotReady means a peer has created the region but not finished
	// setting it up. Attaching again later may succeed.
	ErrNotReady = errors.New("shm: region is not ready")
)

// MappedRegion represents a memory-mapped shared region. Addr starts on a
// page boundary for mapped regions and on an 8-byte boundary for heap ones.
type MappedRegion struct {
	Addr []byte

	name   string
	path   string
	fd     int
	owner  bool
	unlink bool
	heap   bool
}

// MapOptions defines options for mapping shared memory.
type MapOptions struct {
	Name string
	// Size of the region. Zero when attaching means the current file size.
	Size   int
	Create bool
	// Dir overrides DefaultDir.
	Dir string
	// Unlink removes the backing file on UnmapRegion if this mapping created it.
	Unlink bool
	// AttachTimeout bounds how long AttachRegion waits for the region to
	// appear. Zero means DefaultAttachTimeout.
	AttachTimeout time.Duration
}

func (r *MappedRegion) Name() string { return r.name }

// Path returns the backing file, or "" for heap regions.
func (r *MappedRegion) Path() string { return r.path }

// Owner reports whether this mapping created the region.
func (r *MappedRegion) Owner() bool { return r.owner }

func (r *MappedRegion) String() string {
	if r.heap {
		return fmt.Sprintf("heap region (%d bytes)", len(r.Addr))
	}
	return fmt.Sprintf("%s (%d bytes)", r.path, len(r.Addr))
}

// NewHeapRegion returns a zeroed region of the given size that lives only in
// this process.
func NewHeapRegion(name string, size int) (*MappedRegion, error) {
	if size <= 0 {
		return nil, ErrInvalidSize
	}
	words := make([]uint64, (size+7)/8)
	return &MappedRegion{
		Addr:  unsafe.Slice((*byte)(unsafe.Pointer(&words[0])), size),
		name:  name,
		owner: true,
		heap:  true,
	}, nil
}
