//go:build linux

package shm

import (
	"context"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srediag/shm-atomics/pkg/atomics"
)

func TestMapRegionCreateAttach(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	r1, err := MapRegion(ctx, MapOptions{Name: "cells", Size: 4096, Create: true, Dir: dir, Unlink: true})
	require.NoError(t, err)
	assert.True(t, r1.Owner())
	assert.Equal(t, filepath.Join(dir, "cells"), r1.Path())

	r2, err := MapRegion(ctx, MapOptions{Name: "cells", Dir: dir})
	require.NoError(t, err)
	assert.Len(t, r2.Addr, 4096)
	assert.False(t, r2.Owner())

	c1, err := CellAt[uint64](r1.Addr, 0)
	require.NoError(t, err)
	c2, err := CellAt[uint64](r2.Addr, 0)
	require.NoError(t, err)
	atomics.FetchAdd(c1, 5)
	assert.Equal(t, uint64(5), atomics.FetchAdd(c2, 1))
	assert.Equal(t, uint64(6), atomics.Load(c1))

	_, err = MapRegion(ctx, MapOptions{Name: "cells", Size: 4096, Create: true, Dir: dir})
	assert.Error(t, err, "creating an existing region must fail")

	require.NoError(t, UnmapRegion(ctx, r2))
	require.NoError(t, UnmapRegion(ctx, r1))
	_, err = os.Stat(filepath.Join(dir, "cells"))
	assert.ErrorIs(t, err, fs.ErrNotExist)
	assert.NoError(t, UnmapRegion(ctx, r1), "second unmap is a no-op")
}

func TestMapRegionErrors(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	_, err := MapRegion(ctx, MapOptions{Name: "missing", Dir: dir})
	assert.ErrorIs(t, err, fs.ErrNotExist)

	_, err = MapRegion(ctx, MapOptions{Name: "zero", Create: true, Dir: dir})
	assert.ErrorIs(t, err, ErrInvalidSize)

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = MapRegion(canceled, MapOptions{Name: "late", Size: 64, Create: true, Dir: dir})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCanCreateOnDevShm(t *testing.T) {
	// Only /dev/shm is checked; other paths always pass.
	assert.Equal(t, true, canCreateOnDevShm(math.MaxUint64, "sdffafds"))
	stat, err := disk.Usage("/dev/shm")
	if err != nil {
		t.Skipf("/dev/shm unavailable: %v", err)
	}
	assert.Equal(t, false, canCreateOnDevShm(math.MaxUint64, "/dev/shm/yyy"))
	assert.Equal(t, true, canCreateOnDevShm(stat.Free/2, "/dev/shm/xxx"))
}
