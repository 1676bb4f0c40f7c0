package atomics

import (
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/cpu"
)

// This file holds the width-specific primitives. Each one is unconditionally
// atomic with respect to every other primitive on the same cell, provided
// the cell is naturally aligned. None of them emit ordering barriers; that is
// done by the callers in dispatch.go.

// subword addresses an 8- or 16-bit cell through the aligned 32-bit word
// that contains it. Every update is a CAS on the whole word that rewrites the
// neighbouring bytes with the values it read.
type subword struct {
	word  *uint32
	shift uint32
	mask  uint32
}

func subwordOf(p unsafe.Pointer, size uintptr) subword {
	off := uintptr(p) & 3
	var shift uint32
	if cpu.IsBigEndian {
		shift = uint32(4-size-off) * 8
	} else {
		shift = uint32(off) * 8
	}
	return subword{
		word:  (*uint32)(unsafe.Add(p, -int(off))),
		shift: shift,
		mask:  (uint32(1)<<(size*8) - 1) << shift,
	}
}

func (s subword) get(w uint32) uint32 {
	return (w & s.mask) >> s.shift
}

func (s subword) put(w, v uint32) uint32 {
	return w&^s.mask | (v<<s.shift)&s.mask
}

func (s subword) load() uint32 {
	return s.get(atomic.LoadUint32(s.word))
}

func (s subword) swap(v uint32) uint32 {
	for {
		w := atomic.LoadUint32(s.word)
		if atomic.CompareAndSwapUint32(s.word, w, s.put(w, v)) {
			return s.get(w)
		}
	}
}

func (s subword) cas(expected *uint32, desired uint32) bool {
	for {
		w := atomic.LoadUint32(s.word)
		if cur := s.get(w); cur != *expected {
			*expected = cur
			return false
		}
		if atomic.CompareAndSwapUint32(s.word, w, s.put(w, desired)) {
			return true
		}
		// Only a neighbour changed, or the cell changed and changed back.
		// Either way the comparison has to be redone.
	}
}

func (s subword) add(delta uint32) uint32 {
	for {
		w := atomic.LoadUint32(s.word)
		old := s.get(w)
		if atomic.CompareAndSwapUint32(s.word, w, s.put(w, old+delta)) {
			return old
		}
	}
}

// 8 bits.

func load8(addr *uint8) uint8 {
	return uint8(subwordOf(unsafe.Pointer(addr), 1).load())
}

func store8(addr *uint8, v uint8) {
	subwordOf(unsafe.Pointer(addr), 1).swap(uint32(v))
}

func xchg8(addr *uint8, v uint8) uint8 {
	return uint8(subwordOf(unsafe.Pointer(addr), 1).swap(uint32(v)))
}

func cas8(addr *uint8, expected *uint8, desired uint8) bool {
	e := uint32(*expected)
	if subwordOf(unsafe.Pointer(addr), 1).cas(&e, uint32(desired)) {
		return true
	}
	*expected = uint8(e)
	return false
}

func xadd8(addr *uint8, delta uint8) uint8 {
	return uint8(subwordOf(unsafe.Pointer(addr), 1).add(uint32(delta)))
}

// 16 bits.

func load16(addr *uint16) uint16 {
	return uint16(subwordOf(unsafe.Pointer(addr), 2).load())
}

func store16(addr *uint16, v uint16) {
	subwordOf(unsafe.Pointer(addr), 2).swap(uint32(v))
}

func xchg16(addr *uint16, v uint16) uint16 {
	return uint16(subwordOf(unsafe.Pointer(addr), 2).swap(uint32(v)))
}

func cas16(addr *uint16, expected *uint16, desired uint16) bool {
	e := uint32(*expected)
	if subwordOf(unsafe.Pointer(addr), 2).cas(&e, uint32(desired)) {
		return true
	}
	*expected = uint16(e)
	return false
}

func xadd16(addr *uint16, delta uint16) uint16 {
	return uint16(subwordOf(unsafe.Pointer(addr), 2).add(uint32(delta)))
}

// 32 bits.

func cas32(addr *uint32, expected *uint32, desired uint32) bool {
	for {
		old := *expected
		if atomic.CompareAndSwapUint32(addr, old, desired) {
			return true
		}
		if cur := atomic.LoadUint32(addr); cur != old {
			*expected = cur
			return false
		}
	}
}

func xadd32(addr *uint32, delta uint32) uint32 {
	return atomic.AddUint32(addr, delta) - delta
}

// 64 bits.

func cas64(addr *uint64, expected *uint64, desired uint64) bool {
	for {
		old := *expected
		if atomic.CompareAndSwapUint64(addr, old, desired) {
			return true
		}
		if cur := atomic.LoadUint64(addr); cur != old {
			*expected = cur
			return false
		}
	}
}

func xadd64(addr *uint64, delta uint64) uint64 {
	return atomic.AddUint64(addr, delta) - delta
}

// Pointer width. Integer cells of pointer width (uintptr, and int/uint on
// every supported platform) resolve to the 32- or 64-bit primitives by size;
// these handle GC-visible pointers.

func casPtr(addr *unsafe.Pointer, expected *unsafe.Pointer, desired unsafe.Pointer) bool {
	for {
		old := *expected
		if atomic.CompareAndSwapPointer(addr, old, desired) {
			return true
		}
		if cur := atomic.LoadPointer(addr); cur != old {
			*expected = cur
			return false
		}
	}
}
