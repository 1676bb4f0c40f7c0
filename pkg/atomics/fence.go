package atomics

import (
	"sync/atomic"

	"golang.org/x/sys/cpu"
)

// fence is the word the barriers operate on. sync/atomic operations are
// never reordered by the compiler and compile to fenced instructions, so an
// atomic access to a private word is the closest Go gets to an explicit
// barrier. The padding keeps it off cache lines used by real data.
var fence struct {
	_    cpu.CacheLinePad
	word uint32
	_    cpu.CacheLinePad
}

func readBarrier() {
	atomic.LoadUint32(&fence.word)
}

func writeBarrier() {
	atomic.StoreUint32(&fence.word, 0)
}

func fullBarrier() {
	atomic.AddUint32(&fence.word, 0)
}

// compilerBarrier stops the compiler from moving memory accesses across the
// call site. It emits no hardware fence.
//
//go:noinline
func compilerBarrier() {}

// fenceBefore emits the barrier that must precede an operation with the
// given order.
func fenceBefore(order MemoryOrder) {
	switch order {
	case Relaxed, Consume, Acquire:
	case Release:
		writeBarrier()
	default:
		fullBarrier()
	}
}

// fenceAfter emits the barrier that must follow an operation with the given
// order.
func fenceAfter(order MemoryOrder) {
	switch order {
	case Relaxed, Release:
	case Consume, Acquire:
		readBarrier()
	default:
		fullBarrier()
	}
}

// ThreadFence establishes ordering between threads without an associated
// atomic operation, like C11 atomic_thread_fence.
func ThreadFence(order MemoryOrder) {
	switch order {
	case Relaxed:
	case Consume, Acquire:
		readBarrier()
	case Release:
		writeBarrier()
	default:
		fullBarrier()
	}
}

// SignalFence orders memory accesses between a thread and code interrupting
// it on the same thread. Only the compiler is constrained.
func SignalFence(order MemoryOrder) {
	if order != Relaxed {
		compilerBarrier()
	}
}
