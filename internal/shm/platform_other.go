//go:build !linux

package shm

import "context"

// MapRegion is only implemented on Linux. Use NewHeapRegion elsewhere.
func MapRegion(ctx context.Context, opts MapOptions) (*MappedRegion, error) {
	return nil, ErrUnsupportedPlatform
}

// UnmapRegion releases a heap region.
func UnmapRegion(ctx context.Context, region *MappedRegion) error {
	if region != nil {
		region.Addr = nil
	}
	return nil
}

func canCreateOnDevShm(size uint64, path string) bool {
	return true
}
