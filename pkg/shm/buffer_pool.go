package shm

import (
	"errors"
	"fmt"
	"sort"

	internalshm "github.com/srediag/shm-atomics/internal/shm"
	"github.com/srediag/shm-atomics/pkg/atomics"
)

// Pool header layout. The header is followed by one class entry per size
// class, then one state word per slice, then the slice data.
const (
	poolMagic         = 0x53484d50 // "SHMP"
	poolMagicOffset   = 0
	poolClassesOffset = 4
	poolDataOffset    = 8
	poolHeaderSize    = 16

	// size uint32, count uint32, free int64
	classEntrySize   = 16
	classSizeOffset  = 0
	classCountOffset = 4
	classFreeOffset  = 8

	slotSize   = 4
	maxClasses = 256
)

// Slice states.
const (
	slotFree uint32 = iota
	slotUsed
	slotRecycling
)

var (
	ErrInvalidLayout  = errors.New("shm: invalid slice layout")
	ErrNoFreeSlice    = errors.New("shm: no free buffer slice")
	ErrSliceTooLarge  = errors.New("shm: no slice class large enough")
	ErrDoubleRecycle  = errors.New("shm: slice recycled twice")
	ErrForeignSlice   = errors.New("shm: slice does not belong to this manager")
	sliceAlign        = 8
	maxPercentInTotal = uint32(100)
)

// SizePercentPair describes a buffer list's specification: slices of Size
// bytes taking Percent of the managed memory.
type SizePercentPair struct {
	Size    uint32
	Percent uint32
}

// BufferSlice represents a slice of a shared memory buffer.
type BufferSlice struct {
	Data   []byte
	Offset uint32
	Cap    uint32

	state *uint32
	class *sizeClass
}

// Used reports whether the slice is currently allocated.
func (s *BufferSlice) Used() bool {
	return atomics.LoadExplicit(s.state, atomics.Acquire) != slotFree
}

type sizeClass struct {
	size   uint32
	slices []*BufferSlice
	free   *int64
	next   atomics.Cell[uint32]
	owner  *BufferManager
}

// claim takes the first free slice, starting the scan at a rotating index so
// concurrent callers spread over the class.
func (c *sizeClass) claim() *BufferSlice {
	n := uint32(len(c.slices))
	if n == 0 || atomics.LoadExplicit(c.free, atomics.Relaxed) <= 0 {
		return nil
	}
	start := c.next.FetchAddExplicit(1, atomics.Relaxed)
	for i := uint32(0); i < n; i++ {
		s := c.slices[(start+i)%n]
		expected := slotFree
		if atomics.CompareExchangeStrongExplicit(s.state, &expected, slotUsed, atomics.Acquire, atomics.Relaxed) {
			atomics.FetchSubExplicit(c.free, 1, atomics.Relaxed)
			return s
		}
	}
	return nil
}

// BufferManager hands out fixed-size slices of a memory region. All of its
// state lives in the region, so managers in different processes mapping the
// same region never hand out the same slice. Allocation and recycling are
// lock-free.
type BufferManager struct {
	classes  []*sizeClass
	byOffset map[uint32]*BufferSlice
	mem      []byte
}

// VerifyLayout checks that layout is non-empty, that every entry has a
// positive size and percent with no size repeated, and that the percents
// add up to at most 100.
func VerifyLayout(layout []SizePercentPair) error {
	if len(layout) == 0 || len(layout) > maxClasses {
		return fmt.Errorf("%w: %d classes", ErrInvalidLayout, len(layout))
	}
	var total uint32
	seen := make(map[uint32]bool, len(layout))
	for _, p := range layout {
		if p.Size == 0 || p.Percent == 0 {
			return fmt.Errorf("%w: size %d percent %d", ErrInvalidLayout, p.Size, p.Percent)
		}
		if seen[p.Size] {
			return fmt.Errorf("%w: size %d repeated", ErrInvalidLayout, p.Size)
		}
		seen[p.Size] = true
		total += p.Percent
	}
	if total > maxPercentInTotal {
		return fmt.Errorf("%w: percents sum to %d", ErrInvalidLayout, total)
	}
	return nil
}

func slotsOffset(classes int) int {
	return poolHeaderSize + classEntrySize*classes
}

// planLayout decides where slice data starts and how many slices each class
// gets. Each class gets Percent of the memory left after the header, and
// every slice starts on an 8-byte boundary.
func planLayout(memLen int, sorted []SizePercentPair) (dataOff int, counts []uint32, err error) {
	var estimate uint64
	for _, p := range sorted {
		estimate += uint64(memLen) * uint64(p.Percent) / 100 / uint64(p.Size)
	}
	dataOff = internalshm.AlignUp(slotsOffset(len(sorted))+slotSize*int(estimate), sliceAlign)
	if dataOff >= memLen {
		return 0, nil, fmt.Errorf("%w: %d bytes leave no room after a %d-byte header", ErrInvalidLayout, memLen, dataOff)
	}
	data := uint64(memLen - dataOff)
	counts = make([]uint32, len(sorted))
	off := dataOff
	for i, p := range sorted {
		want := data * uint64(p.Percent) / 100 / uint64(p.Size)
		for k := uint64(0); k < want; k++ {
			start := internalshm.AlignUp(off, sliceAlign)
			if start+int(p.Size) > memLen {
				break
			}
			off = start + int(p.Size)
			counts[i]++
		}
	}
	return dataOff, counts, nil
}

// NewBufferManager formats mem as a slice pool with the given layout and
// returns a manager for it. Other users of the same memory, in this process
// or another, join with AttachBufferManager.
func NewBufferManager(mem []byte, layout []SizePercentPair) (*BufferManager, error) {
	if err := VerifyLayout(layout); err != nil {
		return nil, err
	}
	sorted := append([]SizePercentPair(nil), layout...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Size < sorted[j].Size })

	dataOff, counts, err := planLayout(len(mem), sorted)
	if err != nil {
		return nil, err
	}
	magic, err := internalshm.CellAt[uint32](mem, poolMagicOffset)
	if err != nil {
		return nil, err
	}
	// Readers that still see the old magic must not trust the rest.
	atomics.StoreExplicit(magic, 0, atomics.Relaxed)

	sizes := make([]uint32, len(sorted))
	for i, p := range sorted {
		sizes[i] = p.Size
	}
	bm, err := buildManager(mem, sizes, counts, dataOff)
	if err != nil {
		return nil, err
	}
	for i, c := range bm.classes {
		entry := poolHeaderSize + classEntrySize*i
		size, _ := internalshm.CellAt[uint32](mem, entry+classSizeOffset)
		count, _ := internalshm.CellAt[uint32](mem, entry+classCountOffset)
		atomics.Init(size, c.size)
		atomics.Init(count, uint32(len(c.slices)))
		atomics.Init(c.free, int64(len(c.slices)))
		for _, s := range c.slices {
			atomics.Init(s.state, slotFree)
		}
	}
	classes, _ := internalshm.CellAt[uint32](mem, poolClassesOffset)
	data, _ := internalshm.CellAt[uint32](mem, poolDataOffset)
	atomics.Init(classes, uint32(len(sorted)))
	atomics.Init(data, uint32(dataOff))
	atomics.StoreExplicit(magic, poolMagic, atomics.Release)
	return bm, nil
}

// AttachBufferManager returns a manager for a pool that NewBufferManager has
// formatted in mem. It fails with ErrNotReady while the pool is not
// formatted yet.
func AttachBufferManager(mem []byte) (*BufferManager, error) {
	if len(mem) < poolHeaderSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrInvalidLayout, len(mem))
	}
	magic, err := internalshm.CellAt[uint32](mem, poolMagicOffset)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidLayout, err)
	}
	switch m := atomics.LoadExplicit(magic, atomics.Acquire); m {
	case poolMagic:
	case 0:
		return nil, fmt.Errorf("%w: slice pool not formatted", ErrNotReady)
	default:
		return nil, fmt.Errorf("%w: magic %#x", ErrInvalidLayout, m)
	}

	classes, _ := internalshm.CellAt[uint32](mem, poolClassesOffset)
	data, _ := internalshm.CellAt[uint32](mem, poolDataOffset)
	n := int(atomics.LoadExplicit(classes, atomics.Relaxed))
	dataOff := int(atomics.LoadExplicit(data, atomics.Relaxed))
	if n == 0 || n > maxClasses || slotsOffset(n) > dataOff || dataOff > len(mem) {
		return nil, fmt.Errorf("%w: %d classes with data at %d in %d bytes", ErrInvalidLayout, n, dataOff, len(mem))
	}
	sizes := make([]uint32, n)
	counts := make([]uint32, n)
	for i := range sizes {
		entry := poolHeaderSize + classEntrySize*i
		size, _ := internalshm.CellAt[uint32](mem, entry+classSizeOffset)
		count, _ := internalshm.CellAt[uint32](mem, entry+classCountOffset)
		sizes[i] = atomics.LoadExplicit(size, atomics.Relaxed)
		counts[i] = atomics.LoadExplicit(count, atomics.Relaxed)
		if sizes[i] == 0 || (i > 0 && sizes[i] <= sizes[i-1]) {
			return nil, fmt.Errorf("%w: class %d has size %d", ErrInvalidLayout, i, sizes[i])
		}
	}
	return buildManager(mem, sizes, counts, dataOff)
}

// buildManager lays the classes over mem. Creator and attachers call it with
// the same arguments and so agree on every offset.
func buildManager(mem []byte, sizes, counts []uint32, dataOff int) (*BufferManager, error) {
	var total int
	for _, c := range counts {
		total += int(c)
	}
	if slotsOffset(len(sizes))+slotSize*total > dataOff {
		return nil, fmt.Errorf("%w: %d slots overlap data at %d", ErrInvalidLayout, total, dataOff)
	}

	bm := &BufferManager{mem: mem, byOffset: make(map[uint32]*BufferSlice, total)}
	slot := slotsOffset(len(sizes))
	off := dataOff
	for i, size := range sizes {
		free, err := internalshm.CellAt[int64](mem, poolHeaderSize+classEntrySize*i+classFreeOffset)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidLayout, err)
		}
		c := &sizeClass{size: size, free: free, owner: bm}
		for k := uint32(0); k < counts[i]; k++ {
			start := internalshm.AlignUp(off, sliceAlign)
			end := start + int(size)
			if end > len(mem) {
				return nil, fmt.Errorf("%w: slice at %d overruns %d bytes", ErrInvalidLayout, start, len(mem))
			}
			state, err := internalshm.CellAt[uint32](mem, slot)
			if err != nil {
				return nil, fmt.Errorf("%w: %w", ErrInvalidLayout, err)
			}
			s := &BufferSlice{
				Data:   mem[start:end:end],
				Offset: uint32(start),
				Cap:    size,
				state:  state,
				class:  c,
			}
			c.slices = append(c.slices, s)
			bm.byOffset[s.Offset] = s
			slot += slotSize
			off = end
		}
		bm.classes = append(bm.classes, c)
	}
	return bm, nil
}

// Alloc allocates a slice of at least size bytes from the smallest class
// that has one free.
func (bm *BufferManager) Alloc(size uint32) (*BufferSlice, error) {
	fits := false
	for _, c := range bm.classes {
		if c.size < size {
			continue
		}
		fits = true
		if s := c.claim(); s != nil {
			return s, nil
		}
	}
	if !fits {
		return nil, fmt.Errorf("%w: %d bytes", ErrSliceTooLarge, size)
	}
	return nil, ErrNoFreeSlice
}

// SliceAt returns the slice starting at offset. It lets a process recycle a
// slice that a peer allocated and passed to it by offset.
func (bm *BufferManager) SliceAt(offset uint32) (*BufferSlice, error) {
	s, ok := bm.byOffset[offset]
	if !ok {
		return nil, fmt.Errorf("%w: no slice at offset %d", ErrForeignSlice, offset)
	}
	return s, nil
}

// Recycle returns a BufferSlice to the pool. Of several concurrent recycles
// of one slice exactly one succeeds.
func (bm *BufferManager) Recycle(s *BufferSlice) error {
	if s == nil || s.class == nil || s.class.owner != bm {
		return ErrForeignSlice
	}
	expected := slotUsed
	if !atomics.CompareExchangeStrongExplicit(s.state, &expected, slotRecycling, atomics.Acquire, atomics.Relaxed) {
		return ErrDoubleRecycle
	}
	atomics.FetchAddExplicit(s.class.free, 1, atomics.Relaxed)
	atomics.StoreExplicit(s.state, slotFree, atomics.Release)
	return nil
}

// Stats returns the number of free slices for each size. Under concurrent
// use a count can be off by the number of operations in flight.
func (bm *BufferManager) Stats() map[uint32]int {
	stats := make(map[uint32]int, len(bm.classes))
	for _, c := range bm.classes {
		stats[c.size] = int(atomics.LoadExplicit(c.free, atomics.Acquire))
	}
	return stats
}

// Capacity returns the total number of slices per size.
func (bm *BufferManager) Capacity() map[uint32]int {
	caps := make(map[uint32]int, len(bm.classes))
	for _, c := range bm.classes {
		caps[c.size] = len(c.slices)
	}
	return caps
}
