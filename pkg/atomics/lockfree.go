package atomics

import (
	"strconv"
	"unsafe"
)

// Width is the size in bits of an atomic cell.
type Width uint8

const (
	Width8  Width = 8
	Width16 Width = 16
	Width32 Width = 32
	Width64 Width = 64

	// WidthPtr is the width of uintptr and unsafe.Pointer on this platform.
	WidthPtr = Width(unsafe.Sizeof(uintptr(0)) * 8)
)

func (w Width) String() string {
	return strconv.Itoa(int(w)) + "-bit"
}

// WidthOf returns the width of cells of type T.
func WidthOf[T Integer]() Width {
	var zero T
	return Width(unsafe.Sizeof(zero) * 8)
}

// IsLockFreeWidth reports whether operations on cells of width w are
// lock-free. It is true for every width this package supports and false for
// any other: every platform Go targets has native 32- and 64-bit interlocked
// instructions, and narrower cells are built on the 32-bit ones.
func IsLockFreeWidth(w Width) bool {
	switch w {
	case Width8, Width16, Width32, Width64:
		return true
	}
	return false
}

// IsLockFree reports whether operations on cells of type T are lock-free.
func IsLockFree[T Integer]() bool {
	return IsLockFreeWidth(WidthOf[T]())
}
