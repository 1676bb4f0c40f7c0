package shm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srediag/shm-atomics/pkg/atomics"
)

func TestCellAt(t *testing.T) {
	region, err := NewHeapRegion("cells", 64)
	require.NoError(t, err)
	mem := region.Addr

	c64, err := CellAt[uint64](mem, 8)
	require.NoError(t, err)
	atomics.Store(c64, 0xfeedface)
	assert.Equal(t, uint64(0xfeedface), atomics.Load(c64))

	c8, err := CellAt[int8](mem, 3)
	require.NoError(t, err)
	atomics.Store(c8, -2)
	assert.Equal(t, int8(-2), atomics.Load(c8))
	assert.Equal(t, byte(0xfe), mem[3])

	_, err = CellAt[uint32](mem, 2)
	assert.ErrorIs(t, err, ErrMisaligned)
	_, err = CellAt[uint16](mem, 61)
	assert.ErrorIs(t, err, ErrMisaligned)
	_, err = CellAt[uint64](mem, 64)
	assert.ErrorIs(t, err, ErrOutOfRange)
	_, err = CellAt[uint8](mem, -1)
	assert.ErrorIs(t, err, ErrOutOfRange)
}

func TestCellAtRejectsPartialWord(t *testing.T) {
	region, err := NewHeapRegion("short", 16)
	require.NoError(t, err)

	// The last two bytes of a 14-byte view share a word with bytes past its end.
	_, err = CellAt[uint8](region.Addr[:14], 13)
	assert.ErrorIs(t, err, ErrOutOfRange)
	_, err = CellAt[uint8](region.Addr[:14], 11)
	assert.NoError(t, err)
}

func TestFlagAt(t *testing.T) {
	region, err := NewHeapRegion("flags", 16)
	require.NoError(t, err)

	f, err := FlagAt(region.Addr, 4)
	require.NoError(t, err)
	assert.False(t, f.TestAndSet())
	assert.Equal(t, byte(1), region.Addr[4])
	assert.True(t, f.TestAndSet())
	f.Clear()
	assert.Equal(t, byte(0), region.Addr[4])

	_, err = FlagAt(region.Addr, 6)
	assert.ErrorIs(t, err, ErrMisaligned)
	_, err = FlagAt(region.Addr, 14)
	assert.ErrorIs(t, err, ErrOutOfRange)
}

func TestHeapRegion(t *testing.T) {
	_, err := NewHeapRegion("empty", 0)
	assert.ErrorIs(t, err, ErrInvalidSize)

	region, err := NewHeapRegion("odd", 13)
	require.NoError(t, err)
	assert.Len(t, region.Addr, 13)
	assert.True(t, region.Owner())
	assert.Empty(t, region.Path())
	assert.Contains(t, region.String(), "heap region")
}

func TestAlignUp(t *testing.T) {
	assert.Equal(t, 0, AlignUp(0, 8))
	assert.Equal(t, 8, AlignUp(1, 8))
	assert.Equal(t, 64, AlignUp(64, 64))
	assert.Equal(t, 128, AlignUp(65, 64))
}
