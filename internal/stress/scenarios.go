package stress

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"time"

	internalshm "github.com/srediag/shm-atomics/internal/shm"
	"github.com/srediag/shm-atomics/pkg/atomics"
)

var ErrVerifyFailed = errors.New("stress: verification failed")

// Env is what a scenario sees of the run config.
type Env struct {
	Workers    int
	Iterations int
	ShmDir     string
}

func (e Env) total() uint64 {
	return uint64(e.Workers) * uint64(e.Iterations)
}

// WorkerResult is what a single worker reports back.
type WorkerResult struct {
	Scenario string
	Worker   int
	Ops      uint64
	Retries  uint64
	Elapsed  time.Duration
	Err      error
}

// Run is one prepared execution of a scenario.
type Run struct {
	// Work is called once per worker, concurrently.
	Work func(ctx context.Context, worker int) WorkerResult
	// Verify checks the shared state after every worker has finished.
	Verify func() error
	// Cleanup is optional.
	Cleanup func() error
}

// Scenario is a named concurrent workload with a known final state.
type Scenario struct {
	Name        string
	Description string
	Prepare     func(ctx context.Context, env Env) (*Run, error)
}

var registry = []Scenario{
	{
		Name:        "fetch-add",
		Description: "every worker adds 1 to a shared 32-bit counter",
		Prepare:     prepareFetchAdd,
	},
	{
		Name:        "fetch-add-width",
		Description: "fetch-add on 8, 16, 32 and 64-bit cells sharing one word",
		Prepare:     prepareFetchAddWidth,
	},
	{
		Name:        "cas-increment",
		Description: "increment through a compare-exchange retry loop",
		Prepare:     prepareCASIncrement,
	},
	{
		Name:        "xor-toggle",
		Description: "xor the same mask an even number of times",
		Prepare:     prepareXorToggle,
	},
	{
		Name:        "flag-lock",
		Description: "spin lock on a flag guarding a plain counter",
		Prepare:     prepareFlagLock,
	},
	{
		Name:        "shm-counter",
		Description: "fetch-add through two mappings of one shared region",
		Prepare:     prepareShmCounter,
	},
}

// Scenarios returns the built-in scenarios.
func Scenarios() []Scenario {
	return append([]Scenario(nil), registry...)
}

// Lookup finds a built-in scenario by name.
func Lookup(name string) (Scenario, bool) {
	for _, sc := range registry {
		if sc.Name == name {
			return sc, true
		}
	}
	return Scenario{}, false
}

func mismatch(what string, got, want uint64) error {
	return fmt.Errorf("%w: %s is %d, want %d", ErrVerifyFailed, what, got, want)
}

func prepareFetchAdd(_ context.Context, env Env) (*Run, error) {
	counter := new(atomics.Cell[uint32])
	return &Run{
		Work: func(_ context.Context, worker int) WorkerResult {
			for i := 0; i < env.Iterations; i++ {
				counter.FetchAdd(1)
			}
			return WorkerResult{Ops: uint64(env.Iterations)}
		},
		Verify: func() error {
			if got, want := uint64(counter.Load()), uint64(uint32(env.total())); got != want {
				return mismatch("counter", got, want)
			}
			return nil
		},
	}, nil
}

// packedWord puts four counters of different widths in one 64-bit word.
type packedWord struct {
	_  [0]uint64
	b  uint8
	_  uint8
	h  uint16
	w  uint32
	dw uint64
}

func prepareFetchAddWidth(_ context.Context, env Env) (*Run, error) {
	p := new(packedWord)
	return &Run{
		Work: func(_ context.Context, worker int) WorkerResult {
			for i := 0; i < env.Iterations; i++ {
				atomics.FetchAdd(&p.b, 1)
				atomics.FetchAdd(&p.h, 1)
				atomics.FetchAdd(&p.w, 1)
				atomics.FetchAdd(&p.dw, 1)
			}
			return WorkerResult{Ops: 4 * uint64(env.Iterations)}
		},
		Verify: func() error {
			total := env.total()
			var errs []error
			if got := atomics.Load(&p.b); got != uint8(total) {
				errs = append(errs, mismatch("8-bit counter", uint64(got), uint64(uint8(total))))
			}
			if got := atomics.Load(&p.h); got != uint16(total) {
				errs = append(errs, mismatch("16-bit counter", uint64(got), uint64(uint16(total))))
			}
			if got := atomics.Load(&p.w); got != uint32(total) {
				errs = append(errs, mismatch("32-bit counter", uint64(got), uint64(uint32(total))))
			}
			if got := atomics.Load(&p.dw); got != total {
				errs = append(errs, mismatch("64-bit counter", got, total))
			}
			return errors.Join(errs...)
		},
	}, nil
}

func prepareCASIncrement(_ context.Context, env Env) (*Run, error) {
	counter := new(atomics.Cell[int64])
	return &Run{
		Work: func(_ context.Context, worker int) WorkerResult {
			var retries uint64
			for i := 0; i < env.Iterations; i++ {
				cur := counter.LoadExplicit(atomics.Relaxed)
				for !counter.CompareExchangeWeakExplicit(&cur, cur+1, atomics.AcqRel, atomics.Relaxed) {
					retries++
				}
			}
			return WorkerResult{Ops: uint64(env.Iterations), Retries: retries}
		},
		Verify: func() error {
			if got := uint64(counter.Load()); got != env.total() {
				return mismatch("counter", got, env.total())
			}
			return nil
		},
	}, nil
}

const (
	xorInitial = 0x5a5a5a5a
	xorMask    = 0xffff00ff
)

func prepareXorToggle(_ context.Context, env Env) (*Run, error) {
	cell := new(atomics.Cell[uint32])
	cell.Init(xorInitial)
	return &Run{
		Work: func(_ context.Context, worker int) WorkerResult {
			for i := 0; i < 2*env.Iterations; i++ {
				cell.FetchXorExplicit(xorMask, atomics.Relaxed)
			}
			return WorkerResult{Ops: 2 * uint64(env.Iterations)}
		},
		Verify: func() error {
			if got := cell.Load(); got != xorInitial {
				return mismatch("cell", uint64(got), xorInitial)
			}
			return nil
		},
	}, nil
}

func prepareFlagLock(_ context.Context, env Env) (*Run, error) {
	var (
		lock    atomics.Flag
		counter uint64
	)
	return &Run{
		Work: func(_ context.Context, worker int) WorkerResult {
			var spins uint64
			for i := 0; i < env.Iterations; i++ {
				for lock.TestAndSetExplicit(atomics.Acquire) {
					spins++
					runtime.Gosched()
				}
				counter++
				lock.ClearExplicit(atomics.Release)
			}
			return WorkerResult{Ops: uint64(env.Iterations), Retries: spins}
		},
		Verify: func() error {
			if lock.Test() {
				return fmt.Errorf("%w: lock still held", ErrVerifyFailed)
			}
			if counter != env.total() {
				return mismatch("guarded counter", counter, env.total())
			}
			return nil
		},
	}, nil
}

const (
	shmRegionSize    = 64
	shmCounterOffset = 0
	shmHitsOffset    = 8
)

var regionSeq atomics.Cell[uint32]

func prepareShmCounter(ctx context.Context, env Env) (*Run, error) {
	owner, peer, err := openRegionPair(ctx, env.ShmDir)
	if err != nil {
		return nil, err
	}
	release := func() error {
		var errs []error
		if peer != owner {
			errs = append(errs, internalshm.UnmapRegion(context.Background(), peer))
		}
		errs = append(errs, internalshm.UnmapRegion(context.Background(), owner))
		return errors.Join(errs...)
	}

	type view struct {
		counter *uint64
		hits    *uint16
	}
	views := make([]view, 2)
	for i, r := range []*internalshm.MappedRegion{owner, peer} {
		if views[i].counter, err = internalshm.CellAt[uint64](r.Addr, shmCounterOffset); err == nil {
			views[i].hits, err = internalshm.CellAt[uint16](r.Addr, shmHitsOffset)
		}
		if err != nil {
			_ = release()
			return nil, err
		}
	}
	atomics.Init(views[0].counter, 0)
	atomics.Init(views[0].hits, 0)

	return &Run{
		Work: func(_ context.Context, worker int) WorkerResult {
			v := views[worker%2]
			for i := 0; i < env.Iterations; i++ {
				atomics.FetchAdd(v.counter, 1)
				atomics.FetchAddExplicit(v.hits, 1, atomics.Relaxed)
			}
			return WorkerResult{Ops: 2 * uint64(env.Iterations)}
		},
		Verify: func() error {
			total := env.total()
			if got := atomics.Load(views[1].counter); got != total {
				return mismatch("shared counter", got, total)
			}
			if got := atomics.Load(views[0].hits); got != uint16(total) {
				return mismatch("shared 16-bit counter", uint64(got), uint64(uint16(total)))
			}
			return nil
		},
		Cleanup: release,
	}, nil
}

// openRegionPair creates a region in dir and maps it a second time, the way
// a peer process would. Without a dir, or where named regions are not
// supported, both halves are the same process memory region.
func openRegionPair(ctx context.Context, dir string) (owner, peer *internalshm.MappedRegion, err error) {
	name := fmt.Sprintf("shmatomic-%d-%d", os.Getpid(), regionSeq.FetchAdd(1))
	if dir != "" {
		owner, err = internalshm.MapRegion(ctx, internalshm.MapOptions{
			Name:   name,
			Size:   shmRegionSize,
			Create: true,
			Dir:    dir,
			Unlink: true,
		})
		switch {
		case err == nil:
			peer, err = internalshm.AttachRegion(ctx, internalshm.MapOptions{Name: name, Size: shmRegionSize, Dir: dir}, nil)
			if err != nil {
				_ = internalshm.UnmapRegion(context.Background(), owner)
				return nil, nil, err
			}
			return owner, peer, nil
		case errors.Is(err, internalshm.ErrUnsupportedPlatform):
			internalLogger.Warnf("named regions unavailable, using process memory: %v", err)
		default:
			return nil, nil, err
		}
	}
	owner, err = internalshm.NewHeapRegion(name, shmRegionSize)
	if err != nil {
		return nil, nil, err
	}
	return owner, owner, nil
}
