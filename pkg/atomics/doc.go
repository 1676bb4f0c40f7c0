// Package atomics provides C11-style atomic operations over integer cells of
// 8, 16, 32 and 64 bits and of pointer width, with an explicit memory-order
// argument on every operation.
//
// Every operation comes in two forms. The short form (Load, Store,
// FetchAdd, ...) is sequentially consistent. The Explicit form takes a
// MemoryOrder (or a success/failure pair for compare-exchange):
//
//	var hits atomics.Cell[uint16]
//	hits.FetchAddExplicit(1, atomics.Relaxed)
//
//	var n int32
//	atomics.Store(&n, 7)
//	old := atomics.FetchOr(&n, 8) // old == 7, n == 15
//
// The free functions accept a pointer to any type whose underlying type is
// a fixed-width integer (see Integer). A pointer to any other type fails
// to compile. The width-specific primitive is chosen from the size of the
// type, so the dispatch disappears once the function is instantiated.
//
// 32- and 64-bit cells, and pointer-width cells, map onto the platform's
// interlocked instructions through sync/atomic. 8- and 16-bit cells are
// emulated with a 32-bit compare-and-swap on the aligned word that contains
// them. That word must only ever be accessed through this package. Cell,
// Bool and Flag guarantee this by owning a whole aligned word.
//
// # Memory ordering
//
// A MemoryOrder is turned into one-way barriers emitted next to the
// operation:
//
//	Relaxed           nothing
//	Consume, Acquire  read barrier after the operation
//	Release           write barrier before the operation
//	AcqRel, SeqCst    full barrier before and after the operation
//
// The mapping is best-effort. It relies on the hardware's native load and
// store ordering, which is at least as strong as the requested order on
// amd64, arm64 and the other platforms Go supports with sync/atomic. It is
// not a certified implementation of every reordering the C11 model allows,
// and it is not meant for weaker memory models.
//
// # Misuse
//
// No operation returns an error. Misaligned or undersized storage and raw
// non-atomic writes to a cell are contract violations with unspecified
// behavior. The only failure outcome is the boolean result of a
// compare-exchange, which is part of normal operation.
package atomics
