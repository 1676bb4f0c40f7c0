package shm

import (
	"errors"
	"fmt"
	"unsafe"

	"github.com/srediag/shm-atomics/pkg/atomics"
)

var (
	ErrOutOfRange  = errors.New("shm: cell lies outside the region")
	ErrMisaligned  = errors.New("shm: cell is not naturally aligned")
	flagSize       = int(unsafe.Sizeof(atomics.Flag{}))
	subwordGranule = 4
)

// CellAt returns the atomic cell of type T at byte offset off in mem.
//
// The atomics package assumes aligned storage without checking it; this is
// where offsets read from a shared header get checked. Cells narrower than 32
// bits are updated through their whole containing word, so that word must be
// inside mem and must hold only atomic cells.
func CellAt[T atomics.Integer](mem []byte, off int) (*T, error) {
	var zero T
	size := int(unsafe.Sizeof(zero))
	if off < 0 || off+size > len(mem) {
		return nil, fmt.Errorf("%w: %d bytes at %d, region is %d", ErrOutOfRange, size, off, len(mem))
	}
	p := unsafe.Pointer(&mem[off])
	if uintptr(p)%uintptr(size) != 0 {
		return nil, fmt.Errorf("%w: %d-byte cell at %d", ErrMisaligned, size, off)
	}
	if size < subwordGranule {
		word := off - int(uintptr(p)%uintptr(subwordGranule))
		if word < 0 || word+subwordGranule > len(mem) {
			return nil, fmt.Errorf("%w: containing word of %d-byte cell at %d", ErrOutOfRange, size, off)
		}
	}
	return (*T)(p), nil
}

// FlagAt returns the atomic flag at byte offset off in mem. A flag takes a
// whole 4-byte aligned word.
func FlagAt(mem []byte, off int) (*atomics.Flag, error) {
	if off < 0 || off+flagSize > len(mem) {
		return nil, fmt.Errorf("%w: flag at %d, region is %d", ErrOutOfRange, off, len(mem))
	}
	p := unsafe.Pointer(&mem[off])
	if uintptr(p)%uintptr(flagSize) != 0 {
		return nil, fmt.Errorf("%w: flag at %d", ErrMisaligned, off)
	}
	return (*atomics.Flag)(p), nil
}

// AlignUp rounds off up to a multiple of align, which must be a power of two.
func AlignUp(off, align int) int {
	return (off + align - 1) &^ (align - 1)
}
