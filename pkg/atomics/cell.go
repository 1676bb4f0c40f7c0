package atomics

import (
	"sync/atomic"
	"unsafe"
)

// noCopy lets go vet's copylocks check flag cells copied after first use.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

// Cell is an atomically accessed integer of type T. Its storage is 8-byte
// aligned on every platform. A narrow Cell owns the whole 32-bit word its
// value lives in.
//
// The zero value is a cell holding 0. A Cell must not be copied after first
// use.
type Cell[T Integer] struct {
	_ noCopy
	_ [0]atomic.Uint64
	v T
}

// Init sets the initial value with a relaxed store.
func (c *Cell[T]) Init(val T) { Init(&c.v, val) }

// Load atomically loads the value.
func (c *Cell[T]) Load() T { return LoadExplicit(&c.v, SeqCst) }

// LoadExplicit atomically loads the value with the given order.
func (c *Cell[T]) LoadExplicit(order MemoryOrder) T { return LoadExplicit(&c.v, order) }

// Store atomically stores val.
func (c *Cell[T]) Store(val T) { StoreExplicit(&c.v, val, SeqCst) }

// StoreExplicit atomically stores val with the given order.
func (c *Cell[T]) StoreExplicit(val T, order MemoryOrder) { StoreExplicit(&c.v, val, order) }

// Exchange atomically stores val and returns the previous value.
func (c *Cell[T]) Exchange(val T) (old T) { return ExchangeExplicit(&c.v, val, SeqCst) }

// ExchangeExplicit is Exchange with the given order.
func (c *Cell[T]) ExchangeExplicit(val T, order MemoryOrder) (old T) {
	return ExchangeExplicit(&c.v, val, order)
}

// CompareExchangeStrong replaces the value with desired if it equals
// *expected. On failure *expected receives the current value.
func (c *Cell[T]) CompareExchangeStrong(expected *T, desired T) bool {
	return CompareExchangeStrongExplicit(&c.v, expected, desired, SeqCst, SeqCst)
}

// CompareExchangeStrongExplicit is CompareExchangeStrong with separate
// success and failure orders.
func (c *Cell[T]) CompareExchangeStrongExplicit(expected *T, desired T, success, failure MemoryOrder) bool {
	return CompareExchangeStrongExplicit(&c.v, expected, desired, success, failure)
}

// CompareExchangeWeak is the same as CompareExchangeStrong.
func (c *Cell[T]) CompareExchangeWeak(expected *T, desired T) bool {
	return CompareExchangeWeakExplicit(&c.v, expected, desired, SeqCst, SeqCst)
}

// CompareExchangeWeakExplicit is the same as CompareExchangeStrongExplicit.
func (c *Cell[T]) CompareExchangeWeakExplicit(expected *T, desired T, success, failure MemoryOrder) bool {
	return CompareExchangeWeakExplicit(&c.v, expected, desired, success, failure)
}

// FetchAdd atomically adds delta, wrapping on overflow, and returns the previous value.
func (c *Cell[T]) FetchAdd(delta T) (old T) { return FetchAddExplicit(&c.v, delta, SeqCst) }

// FetchAddExplicit is FetchAdd with the given order.
func (c *Cell[T]) FetchAddExplicit(delta T, order MemoryOrder) (old T) {
	return FetchAddExplicit(&c.v, delta, order)
}

// FetchSub atomically subtracts delta, wrapping on overflow, and returns the previous value.
func (c *Cell[T]) FetchSub(delta T) (old T) { return FetchSubExplicit(&c.v, delta, SeqCst) }

// FetchSubExplicit is FetchSub with the given order.
func (c *Cell[T]) FetchSubExplicit(delta T, order MemoryOrder) (old T) {
	return FetchSubExplicit(&c.v, delta, order)
}

// FetchAnd atomically replaces the value with value & val and returns the previous value.
func (c *Cell[T]) FetchAnd(val T) (old T) { return FetchAndExplicit(&c.v, val, SeqCst) }

// FetchAndExplicit is FetchAnd with the given order.
func (c *Cell[T]) FetchAndExplicit(val T, order MemoryOrder) (old T) {
	return FetchAndExplicit(&c.v, val, order)
}

// FetchOr atomically replaces the value with value | val and returns the previous value.
func (c *Cell[T]) FetchOr(val T) (old T) { return FetchOrExplicit(&c.v, val, SeqCst) }

// FetchOrExplicit is FetchOr with the given order.
func (c *Cell[T]) FetchOrExplicit(val T, order MemoryOrder) (old T) {
	return FetchOrExplicit(&c.v, val, order)
}

// FetchXor atomically replaces the value with value ^ val and returns the previous value.
func (c *Cell[T]) FetchXor(val T) (old T) { return FetchXorExplicit(&c.v, val, SeqCst) }

// FetchXorExplicit is FetchXor with the given order.
func (c *Cell[T]) FetchXorExplicit(val T, order MemoryOrder) (old T) {
	return FetchXorExplicit(&c.v, val, order)
}

// IsLockFree reports whether operations on the cell are lock-free.
func (c *Cell[T]) IsLockFree() bool { return IsLockFree[T]() }

// Bool is an atomically accessed boolean stored as 0 or 1 in a one-byte
// cell. The zero value is false.
type Bool struct {
	c Cell[uint8]
}

func b2u(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}

// Load atomically loads the value.
func (b *Bool) Load() bool { return b.c.LoadExplicit(SeqCst) != 0 }

// LoadExplicit atomically loads the value with the given order.
func (b *Bool) LoadExplicit(order MemoryOrder) bool { return b.c.LoadExplicit(order) != 0 }

// Store atomically stores val.
func (b *Bool) Store(val bool) { b.c.StoreExplicit(b2u(val), SeqCst) }

// StoreExplicit atomically stores val with the given order.
func (b *Bool) StoreExplicit(val bool, order MemoryOrder) { b.c.StoreExplicit(b2u(val), order) }

// Exchange atomically stores val and returns the previous value.
func (b *Bool) Exchange(val bool) (old bool) { return b.c.ExchangeExplicit(b2u(val), SeqCst) != 0 }

// ExchangeExplicit is Exchange with the given order.
func (b *Bool) ExchangeExplicit(val bool, order MemoryOrder) (old bool) {
	return b.c.ExchangeExplicit(b2u(val), order) != 0
}

// CompareExchangeStrong replaces the value with desired if it equals
// *expected. On failure *expected receives the current value.
func (b *Bool) CompareExchangeStrong(expected *bool, desired bool) bool {
	return b.CompareExchangeStrongExplicit(expected, desired, SeqCst, SeqCst)
}

// CompareExchangeStrongExplicit is CompareExchangeStrong with separate
// success and failure orders.
func (b *Bool) CompareExchangeStrongExplicit(expected *bool, desired bool, success, failure MemoryOrder) bool {
	e := b2u(*expected)
	if b.c.CompareExchangeStrongExplicit(&e, b2u(desired), success, failure) {
		return true
	}
	*expected = e != 0
	return false
}

// Pointer is an atomically accessed *T. The zero value holds nil.
//
// Arithmetic on pointer-width values is available through Cell[uintptr];
// Pointer only offers the operations that keep the value visible to the
// garbage collector.
type Pointer[T any] struct {
	_ noCopy
	_ [0]*T
	v unsafe.Pointer
}

// Load atomically loads the pointer.
func (p *Pointer[T]) Load() *T { return p.LoadExplicit(SeqCst) }

// LoadExplicit atomically loads the pointer with the given order.
func (p *Pointer[T]) LoadExplicit(order MemoryOrder) *T {
	fenceBefore(order)
	v := atomic.LoadPointer(&p.v)
	fenceAfter(order)
	return (*T)(v)
}

// Store atomically stores val.
func (p *Pointer[T]) Store(val *T) { p.StoreExplicit(val, SeqCst) }

// StoreExplicit atomically stores val with the given order.
func (p *Pointer[T]) StoreExplicit(val *T, order MemoryOrder) {
	fenceBefore(order)
	atomic.StorePointer(&p.v, unsafe.Pointer(val))
	fenceAfter(order)
}

// Exchange atomically stores val and returns the previous pointer.
func (p *Pointer[T]) Exchange(val *T) (old *T) { return p.ExchangeExplicit(val, SeqCst) }

// ExchangeExplicit is Exchange with the given order.
func (p *Pointer[T]) ExchangeExplicit(val *T, order MemoryOrder) (old *T) {
	fenceBefore(order)
	o := atomic.SwapPointer(&p.v, unsafe.Pointer(val))
	fenceAfter(order)
	return (*T)(o)
}

// CompareExchangeStrong replaces the pointer with desired if it equals
// *expected. On failure *expected receives the current pointer.
func (p *Pointer[T]) CompareExchangeStrong(expected **T, desired *T) bool {
	return p.CompareExchangeStrongExplicit(expected, desired, SeqCst, SeqCst)
}

// CompareExchangeStrongExplicit is CompareExchangeStrong with separate
// success and failure orders.
func (p *Pointer[T]) CompareExchangeStrongExplicit(expected **T, desired *T, success, failure MemoryOrder) bool {
	fenceBefore(success)
	if casPtr(&p.v, (*unsafe.Pointer)(unsafe.Pointer(expected)), unsafe.Pointer(desired)) {
		fenceAfter(success)
		return true
	}
	fenceAfter(failure)
	return false
}

// CompareExchangeWeak is the same as CompareExchangeStrong.
func (p *Pointer[T]) CompareExchangeWeak(expected **T, desired *T) bool {
	return p.CompareExchangeStrongExplicit(expected, desired, SeqCst, SeqCst)
}

// IsLockFree reports whether operations on the pointer are lock-free.
func (p *Pointer[T]) IsLockFree() bool { return IsLockFreeWidth(WidthPtr) }
