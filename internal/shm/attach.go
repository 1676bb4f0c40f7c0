package shm

import (
	"context"
	"errors"
	"io/fs"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/srediag/shm-atomics/internal/logger"
)

const attachInitialInterval = 5 * time.Millisecond

var internalLogger = logger.New("shm", nil)

func retryableAttach(err error) bool {
	return errors.Is(err, fs.ErrNotExist) || errors.Is(err, ErrNotReady)
}

// AttachRegion maps a region created by a peer. It retries while the
// backing file is missing or still empty, and while ready returns an error
// wrapping ErrNotReady. Any other failure is returned at once. A nil ready
// accepts every mapping.
//
// The mapping handed to ready is unmapped again when ready fails.
func AttachRegion(ctx context.Context, opts MapOptions, ready func(*MappedRegion) error) (*MappedRegion, error) {
	opts.Create = false
	timeout := opts.AttachTimeout
	if timeout <= 0 {
		timeout = DefaultAttachTimeout
	}

	var region *MappedRegion
	op := func() error {
		r, err := MapRegion(ctx, opts)
		if err != nil {
			if retryableAttach(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		if ready != nil {
			if err := ready(r); err != nil {
				if uerr := UnmapRegion(context.Background(), r); uerr != nil {
					internalLogger.Warnf("unmap %s: %v", r, uerr)
				}
				if errors.Is(err, ErrNotReady) {
					return err
				}
				return backoff.Permanent(err)
			}
		}
		region = r
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = attachInitialInterval
	b.MaxElapsedTime = timeout
	notify := func(err error, d time.Duration) {
		internalLogger.Debugf("attach %s: %v, retrying in %s", opts.Name, err, d)
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify); err != nil {
		return nil, err
	}
	return region, nil
}
