package atomics

import "sync/atomic"

// Flag is a one-bit atomic object supporting only test-and-set and clear.
// Its value is 0 (clear) or 1 (set) and every transition is a
// compare-exchange or a store, so it can live in memory shared with another
// process. The zero value is clear.
//
// A Flag occupies four bytes and must be 4-byte aligned.
type Flag struct {
	_ noCopy
	_ [0]atomic.Uint32
	v uint8
}

// TestAndSet sets the flag and reports whether it was already set.
func (f *Flag) TestAndSet() bool {
	return f.TestAndSetExplicit(SeqCst)
}

// TestAndSetExplicit is TestAndSet with the given order.
func (f *Flag) TestAndSetExplicit(order MemoryOrder) bool {
	var expected uint8
	return !CompareExchangeStrongExplicit(&f.v, &expected, 1, order, order)
}

// Clear resets the flag.
func (f *Flag) Clear() {
	f.ClearExplicit(SeqCst)
}

// ClearExplicit resets the flag with the given order. Release is enough
// when the flag guards a critical section.
func (f *Flag) ClearExplicit(order MemoryOrder) {
	StoreExplicit(&f.v, 0, order)
}

// Test reports whether the flag is set without modifying it.
func (f *Flag) Test() bool {
	return f.TestExplicit(SeqCst)
}

// TestExplicit is Test with the given order.
func (f *Flag) TestExplicit(order MemoryOrder) bool {
	return LoadExplicit(&f.v, order) != 0
}

// IsLockFree reports whether flag operations are lock-free.
func (f *Flag) IsLockFree() bool { return IsLockFreeWidth(Width8) }
