package atomics

// MemoryOrder is the ordering requested for an atomic operation. The values
// match the C11 memory_order enumeration.
type MemoryOrder int32

const (
	// Relaxed guarantees atomicity only.
	Relaxed MemoryOrder = iota
	// Consume is treated as Acquire.
	Consume
	// Acquire orders later memory accesses after the operation.
	Acquire
	// Release orders earlier memory accesses before the operation.
	Release
	// AcqRel combines Acquire and Release.
	AcqRel
	// SeqCst is AcqRel plus a single total order over all SeqCst operations.
	SeqCst
)

var orderNames = [...]string{
	Relaxed: "Relaxed",
	Consume: "Consume",
	Acquire: "Acquire",
	Release: "Release",
	AcqRel:  "AcqRel",
	SeqCst:  "SeqCst",
}

func (o MemoryOrder) String() string {
	if o.Valid() {
		return orderNames[o]
	}
	return "MemoryOrder(invalid)"
}

// Valid reports whether o is one of the six defined orders. Operations given
// an invalid order behave as if SeqCst was requested.
func (o MemoryOrder) Valid() bool {
	return o >= Relaxed && o <= SeqCst
}

// ParseMemoryOrder returns the order named s, as printed by String.
func ParseMemoryOrder(s string) (MemoryOrder, bool) {
	for i, name := range orderNames {
		if name == s {
			return MemoryOrder(i), true
		}
	}
	return SeqCst, false
}
