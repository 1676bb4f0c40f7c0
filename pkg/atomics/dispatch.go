package atomics

import (
	"fmt"
	"sync/atomic"
	"unsafe"
)

// Integer is the set of types the dispatch layer knows how to route: any
// type whose underlying type is a fixed-width integer or uintptr.
type Integer interface {
	~int8 | ~uint8 | ~int16 | ~uint16 | ~int32 | ~uint32 |
		~int64 | ~uint64 | ~int | ~uint | ~uintptr
}

func badWidth(size uintptr) string {
	return fmt.Sprintf("atomics: no primitive for %d-byte cells", size)
}

// The helpers below pick the primitive for T by size. Every instantiation
// sees a single live case, and T and the unsigned word of the same size share
// a representation, so the pointer casts only reinterpret.

func loadW[T Integer](addr *T) T {
	p := unsafe.Pointer(addr)
	switch unsafe.Sizeof(*addr) {
	case 1:
		return T(load8((*uint8)(p)))
	case 2:
		return T(load16((*uint16)(p)))
	case 4:
		return T(atomic.LoadUint32((*uint32)(p)))
	case 8:
		return T(atomic.LoadUint64((*uint64)(p)))
	}
	panic(badWidth(unsafe.Sizeof(*addr)))
}

func storeW[T Integer](addr *T, v T) {
	p := unsafe.Pointer(addr)
	switch unsafe.Sizeof(*addr) {
	case 1:
		store8((*uint8)(p), uint8(v))
	case 2:
		store16((*uint16)(p), uint16(v))
	case 4:
		atomic.StoreUint32((*uint32)(p), uint32(v))
	case 8:
		atomic.StoreUint64((*uint64)(p), uint64(v))
	default:
		panic(badWidth(unsafe.Sizeof(*addr)))
	}
}

func xchgW[T Integer](addr *T, v T) T {
	p := unsafe.Pointer(addr)
	switch unsafe.Sizeof(*addr) {
	case 1:
		return T(xchg8((*uint8)(p), uint8(v)))
	case 2:
		return T(xchg16((*uint16)(p), uint16(v)))
	case 4:
		return T(atomic.SwapUint32((*uint32)(p), uint32(v)))
	case 8:
		return T(atomic.SwapUint64((*uint64)(p), uint64(v)))
	}
	panic(badWidth(unsafe.Sizeof(*addr)))
}

func casW[T Integer](addr *T, expected *T, desired T) bool {
	p, e := unsafe.Pointer(addr), unsafe.Pointer(expected)
	switch unsafe.Sizeof(*addr) {
	case 1:
		return cas8((*uint8)(p), (*uint8)(e), uint8(desired))
	case 2:
		return cas16((*uint16)(p), (*uint16)(e), uint16(desired))
	case 4:
		return cas32((*uint32)(p), (*uint32)(e), uint32(desired))
	case 8:
		return cas64((*uint64)(p), (*uint64)(e), uint64(desired))
	}
	panic(badWidth(unsafe.Sizeof(*addr)))
}

func xaddW[T Integer](addr *T, delta T) T {
	p := unsafe.Pointer(addr)
	switch unsafe.Sizeof(*addr) {
	case 1:
		return T(xadd8((*uint8)(p), uint8(delta)))
	case 2:
		return T(xadd16((*uint16)(p), uint16(delta)))
	case 4:
		return T(xadd32((*uint32)(p), uint32(delta)))
	case 8:
		return T(xadd64((*uint64)(p), uint64(delta)))
	}
	panic(badWidth(unsafe.Sizeof(*addr)))
}

// Init stores the initial value of a cell. It is a relaxed store, so the
// cell must be published to other goroutines by some later synchronizing
// operation.
func Init[T Integer](addr *T, val T) {
	StoreExplicit(addr, val, Relaxed)
}

// Load atomically loads *addr.
func Load[T Integer](addr *T) T {
	return LoadExplicit(addr, SeqCst)
}

// LoadExplicit atomically loads *addr with the given order.
func LoadExplicit[T Integer](addr *T, order MemoryOrder) T {
	fenceBefore(order)
	v := loadW(addr)
	fenceAfter(order)
	return v
}

// Store atomically stores val into *addr.
func Store[T Integer](addr *T, val T) {
	StoreExplicit(addr, val, SeqCst)
}

// StoreExplicit atomically stores val into *addr with the given order.
func StoreExplicit[T Integer](addr *T, val T, order MemoryOrder) {
	fenceBefore(order)
	storeW(addr, val)
	fenceAfter(order)
}

// Exchange atomically stores val into *addr and returns the previous value.
func Exchange[T Integer](addr *T, val T) (old T) {
	return ExchangeExplicit(addr, val, SeqCst)
}

// ExchangeExplicit is Exchange with the given order.
func ExchangeExplicit[T Integer](addr *T, val T, order MemoryOrder) (old T) {
	fenceBefore(order)
	old = xchgW(addr, val)
	fenceAfter(order)
	return old
}

// CompareExchangeStrong atomically replaces *addr with desired if it equals
// *expected and reports whether it did. On failure *expected is overwritten
// with the value found in *addr and *addr is left unchanged. It never fails
// spuriously.
func CompareExchangeStrong[T Integer](addr, expected *T, desired T) bool {
	return CompareExchangeStrongExplicit(addr, expected, desired, SeqCst, SeqCst)
}

// CompareExchangeStrongExplicit is CompareExchangeStrong with separate
// orders for the success and the failure outcome.
func CompareExchangeStrongExplicit[T Integer](addr, expected *T, desired T, success, failure MemoryOrder) bool {
	fenceBefore(success)
	if casW(addr, expected, desired) {
		fenceAfter(success)
		return true
	}
	fenceAfter(failure)
	return false
}

// CompareExchangeWeak is permitted to fail spuriously by its contract. This
// implementation never does: it is the same as CompareExchangeStrong.
func CompareExchangeWeak[T Integer](addr, expected *T, desired T) bool {
	return CompareExchangeStrongExplicit(addr, expected, desired, SeqCst, SeqCst)
}

// CompareExchangeWeakExplicit is CompareExchangeWeak with separate orders.
func CompareExchangeWeakExplicit[T Integer](addr, expected *T, desired T, success, failure MemoryOrder) bool {
	return CompareExchangeStrongExplicit(addr, expected, desired, success, failure)
}

// FetchAdd atomically adds delta to *addr and returns the previous value.
// Overflow wraps around.
func FetchAdd[T Integer](addr *T, delta T) (old T) {
	return FetchAddExplicit(addr, delta, SeqCst)
}

// FetchAddExplicit is FetchAdd with the given order.
func FetchAddExplicit[T Integer](addr *T, delta T, order MemoryOrder) (old T) {
	fenceBefore(order)
	old = xaddW(addr, delta)
	fenceAfter(order)
	return old
}

// FetchSub atomically subtracts delta from *addr and returns the previous
// value.
func FetchSub[T Integer](addr *T, delta T) (old T) {
	return FetchAddExplicit(addr, -delta, SeqCst)
}

// FetchSubExplicit is FetchSub with the given order.
func FetchSubExplicit[T Integer](addr *T, delta T, order MemoryOrder) (old T) {
	return FetchAddExplicit(addr, -delta, order)
}
