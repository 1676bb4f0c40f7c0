package stress

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/panjf2000/ants/v2"

	"github.com/srediag/shm-atomics/internal/logger"
	"github.com/srediag/shm-atomics/pkg/atomics"
)

// Health statuses reported for each scenario.
const (
	StatusRunning = "running"
	StatusPassed  = "passed"
	StatusFailed  = "failed"
)

var internalLogger = logger.New("stress", nil)

// Result is the outcome of one scenario run.
type Result struct {
	Scenario string
	Workers  int
	Ops      uint64
	Retries  uint64
	Elapsed  time.Duration
	Err      error
}

// Passed reports whether every worker finished and verification succeeded.
func (r Result) Passed() bool {
	return r.Err == nil
}

func mergeResult(exist bool, inMap, add Result) Result {
	if !exist {
		return add
	}
	inMap.Ops += add.Ops
	inMap.Retries += add.Retries
	inMap.Err = errors.Join(inMap.Err, add.Err)
	return inMap
}

// Recorder receives per-scenario telemetry.
type Recorder interface {
	StartScenario(ctx context.Context, name string) (context.Context, func(err error))
	RecordScenario(ctx context.Context, name string, ops, retries uint64, elapsed time.Duration, passed bool)
}

// HealthReporter receives scenario status changes.
type HealthReporter interface {
	ReportHealth(component string, status string) error
}

type noopRecorder struct{}

func (noopRecorder) StartScenario(ctx context.Context, _ string) (context.Context, func(error)) {
	return ctx, func(error) {}
}

func (noopRecorder) RecordScenario(context.Context, string, uint64, uint64, time.Duration, bool) {}

type Option func(*Runner)

func WithMetrics(m *Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

func WithRecorder(rec Recorder) Option {
	return func(r *Runner) { r.recorder = rec }
}

func WithHealth(h HealthReporter) Option {
	return func(r *Runner) { r.health = h }
}

// Runner executes scenarios on a pool of Config.Workers goroutines.
type Runner struct {
	cfg      *Config
	metrics  *Metrics
	recorder Recorder
	health   HealthReporter
	results  cmap.ConcurrentMap[string, Result]
}

// NewRunner validates cfg and returns a runner for it.
func NewRunner(cfg *Config, opts ...Option) (*Runner, error) {
	if err := VerifyConfig(cfg); err != nil {
		return nil, err
	}
	r := &Runner{
		cfg:      cfg,
		recorder: noopRecorder{},
		results:  cmap.New[Result](),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Run executes the selected scenarios one after another. A failing scenario
// does not stop the run; its Result carries the error. Run itself only fails
// when ctx is done or the worker pool cannot be created.
func (r *Runner) Run(ctx context.Context) ([]Result, error) {
	pool, err := ants.NewPool(r.cfg.Workers, ants.WithPreAlloc(true))
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}
	defer pool.Release()

	var out []Result
	for _, sc := range r.cfg.selected() {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		res, err := r.runScenario(ctx, pool, sc)
		if err != nil {
			return out, err
		}
		out = append(out, res)
	}
	return out, nil
}

// Results returns the latest result of every scenario run so far, including
// partial results of a scenario still running.
func (r *Runner) Results() []Result {
	var out []Result
	for _, sc := range r.cfg.selected() {
		if res, ok := r.results.Get(sc.Name); ok {
			out = append(out, res)
		}
	}
	return out
}

func (r *Runner) runScenario(ctx context.Context, pool *ants.Pool, sc Scenario) (Result, error) {
	ctx, end := r.recorder.StartScenario(ctx, sc.Name)
	r.report(sc.Name, StatusRunning)
	internalLogger.Infof("scenario %s: %d workers x %d iterations", sc.Name, r.cfg.Workers, r.cfg.Iterations)

	env := Env{Workers: r.cfg.Workers, Iterations: r.cfg.Iterations, ShmDir: r.cfg.ShmDir}
	r.results.Set(sc.Name, Result{Scenario: sc.Name, Workers: env.Workers})
	start := time.Now()

	run, err := sc.Prepare(ctx, env)
	if err != nil {
		r.results.Upsert(sc.Name, Result{Err: fmt.Errorf("prepare: %w", err)}, mergeResult)
		return r.finish(ctx, sc.Name, start, end), nil
	}

	q := newResultQueue(env.Workers)
	defer q.dispose()

	// Workers wait on the gate so they start together.
	var gate atomics.Cell[uint32]
	submitted := 0
	for w := 0; w < env.Workers; w++ {
		w := w
		err := pool.Submit(func() {
			r.metrics.workerStarted()
			defer r.metrics.workerDone()
			for gate.LoadExplicit(atomics.Acquire) == 0 {
				runtime.Gosched()
			}
			wr := runWorker(ctx, run, w)
			wr.Scenario = sc.Name
			if err := q.put(wr); err != nil {
				internalLogger.Debugf("scenario %s worker %d: drop result: %v", sc.Name, w, err)
			}
		})
		if err != nil {
			r.results.Upsert(sc.Name, Result{Err: fmt.Errorf("submit worker %d: %w", w, err)}, mergeResult)
			break
		}
		submitted++
	}
	gate.StoreExplicit(1, atomics.Release)

	for i := 0; i < submitted; i++ {
		wr, err := q.pop(ctx)
		if err != nil {
			// Workers may still touch the scenario state, so it is not cleaned up.
			internalLogger.Warnf("scenario %s abandoned with %d workers outstanding: %v", sc.Name, submitted-i, err)
			end(err)
			return Result{}, err
		}
		add := Result{Ops: wr.Ops, Retries: wr.Retries}
		if wr.Err != nil {
			add.Err = fmt.Errorf("worker %d: %w", wr.Worker, wr.Err)
		}
		r.results.Upsert(sc.Name, add, mergeResult)
	}

	if err := run.Verify(); err != nil {
		r.results.Upsert(sc.Name, Result{Err: err}, mergeResult)
	}
	if run.Cleanup != nil {
		if err := run.Cleanup(); err != nil {
			r.results.Upsert(sc.Name, Result{Err: fmt.Errorf("cleanup: %w", err)}, mergeResult)
		}
	}
	return r.finish(ctx, sc.Name, start, end), nil
}

func (r *Runner) finish(ctx context.Context, name string, start time.Time, end func(error)) Result {
	res := r.results.Upsert(name, Result{}, mergeResult)
	res.Elapsed = time.Since(start)
	r.results.Set(name, res)

	r.metrics.observe(res)
	r.recorder.RecordScenario(ctx, name, res.Ops, res.Retries, res.Elapsed, res.Passed())
	end(res.Err)
	if res.Passed() {
		r.report(name, StatusPassed)
		internalLogger.Infof("scenario %s passed: %d ops, %d retries in %s", name, res.Ops, res.Retries, res.Elapsed)
	} else {
		r.report(name, StatusFailed)
		internalLogger.Errorf("scenario %s failed: %v", name, res.Err)
	}
	return res
}

func (r *Runner) report(name, status string) {
	if r.health == nil {
		return
	}
	if err := r.health.ReportHealth(name, status); err != nil {
		internalLogger.Warnf("report %s %s: %v", name, status, err)
	}
}

func runWorker(ctx context.Context, run *Run, worker int) (wr WorkerResult) {
	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			wr = WorkerResult{Err: fmt.Errorf("panic: %v", p)}
		}
		wr.Worker = worker
		wr.Elapsed = time.Since(start)
	}()
	return run.Work(ctx, worker)
}
