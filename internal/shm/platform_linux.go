//go:build linux

package shm

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/shirou/gopsutil/v3/disk"
	"golang.org/x/sys/unix"
)

// MapRegion maps or creates a shared memory region (Linux implementation).
func MapRegion(ctx context.Context, opts MapOptions) (*MappedRegion, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if opts.Size < 0 || (opts.Create && opts.Size == 0) {
		return nil, ErrInvalidSize
	}
	dir := opts.Dir
	if dir == "" {
		dir = DefaultDir
	}
	shmPath := filepath.Join(dir, opts.Name)

	flags := unix.O_RDWR | unix.O_CLOEXEC
	if opts.Create {
		if !canCreateOnDevShm(uint64(opts.Size), shmPath) {
			return nil, fmt.Errorf("%w: path %s size %d", ErrNoSpace, shmPath, opts.Size)
		}
		flags |= unix.O_CREAT | unix.O_EXCL
	}
	fd, err := unix.Open(shmPath, flags, 0600)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", shmPath, err)
	}
	size := opts.Size
	if opts.Create {
		if err := unix.Ftruncate(fd, int64(size)); err != nil {
			_ = unix.Close(fd)
			_ = unix.Unlink(shmPath)
			return nil, fmt.Errorf("ftruncate: %w", err)
		}
	} else {
		var st unix.Stat_t
		if err := unix.Fstat(fd, &st); err != nil {
			_ = unix.Close(fd)
			return nil, fmt.Errorf("fstat: %w", err)
		}
		if st.Size == 0 {
			_ = unix.Close(fd)
			return nil, fmt.Errorf("%w: %s is empty", ErrNotReady, shmPath)
		}
		if size == 0 {
			size = int(st.Size)
		}
		if int64(size) > st.Size {
			_ = unix.Close(fd)
			return nil, fmt.Errorf("%w: %s holds %d bytes, want %d", ErrInvalidSize, shmPath, st.Size, size)
		}
	}
	addr, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		_ = unix.Close(fd)
		if opts.Create {
			_ = unix.Unlink(shmPath)
		}
		return nil, fmt.Errorf("mmap: %w", err)
	}
	return &MappedRegion{
		Addr:   addr,
		name:   opts.Name,
		path:   shmPath,
		fd:     fd,
		owner:  opts.Create,
		unlink: opts.Unlink,
	}, nil
}

// UnmapRegion unmaps and closes the shared memory region (Linux implementation).
func UnmapRegion(ctx context.Context, region *MappedRegion) error {
	if region == nil || region.Addr == nil {
		return nil
	}
	if region.heap {
		region.Addr = nil
		return nil
	}
	if err := unix.Munmap(region.Addr); err != nil {
		return fmt.Errorf("munmap: %w", err)
	}
	region.Addr = nil
	if err := unix.Close(region.fd); err != nil {
		return fmt.Errorf("close: %w", err)
	}
	if region.owner && region.unlink {
		if err := unix.Unlink(region.path); err != nil {
			return fmt.Errorf("unlink %s: %w", region.path, err)
		}
	}
	return nil
}

// canCreateOnDevShm reports whether size bytes fit in /dev/shm. Paths
// elsewhere are always accepted.
func canCreateOnDevShm(size uint64, path string) bool {
	if !strings.HasPrefix(path, DefaultDir) {
		return true
	}
	stat, err := disk.Usage(DefaultDir)
	if err != nil {
		return true
	}
	return stat.Free >= size
}
