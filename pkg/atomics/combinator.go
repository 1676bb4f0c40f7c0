package atomics

// The bitwise read-modify-write operations have no width-specific primitive.
// They are derived from a relaxed load and a strong compare-exchange, retried
// until the exchange succeeds, and take effect at that exchange.

func fetchOp[T Integer](addr *T, val T, order MemoryOrder, op func(old, val T) T) T {
	old := LoadExplicit(addr, Relaxed)
	for !CompareExchangeStrongExplicit(addr, &old, op(old, val), order, Relaxed) {
	}
	return old
}

func and[T Integer](old, val T) T { return old & val }
func or[T Integer](old, val T) T  { return old | val }
func xor[T Integer](old, val T) T { return old ^ val }

// FetchAnd atomically replaces *addr with *addr & val and returns the
// previous value.
func FetchAnd[T Integer](addr *T, val T) (old T) {
	return fetchOp(addr, val, SeqCst, and[T])
}

// FetchAndExplicit is FetchAnd with the given order.
func FetchAndExplicit[T Integer](addr *T, val T, order MemoryOrder) (old T) {
	return fetchOp(addr, val, order, and[T])
}

// FetchOr atomically replaces *addr with *addr | val and returns the
// previous value.
func FetchOr[T Integer](addr *T, val T) (old T) {
	return fetchOp(addr, val, SeqCst, or[T])
}

// FetchOrExplicit is FetchOr with the given order.
func FetchOrExplicit[T Integer](addr *T, val T, order MemoryOrder) (old T) {
	return fetchOp(addr, val, order, or[T])
}

// FetchXor atomically replaces *addr with *addr ^ val and returns the
// previous value.
func FetchXor[T Integer](addr *T, val T) (old T) {
	return fetchOp(addr, val, SeqCst, xor[T])
}

// FetchXorExplicit is FetchXor with the given order.
func FetchXorExplicit[T Integer](addr *T, val T, order MemoryOrder) (old T) {
	return fetchOp(addr, val, order, xor[T])
}
