package stress

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type fakeRecorder struct {
	mu       sync.Mutex
	started  []string
	recorded map[string]bool
	ended    int
}

func (f *fakeRecorder) StartScenario(ctx context.Context, name string) (context.Context, func(error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, name)
	return ctx, func(error) {
		f.mu.Lock()
		f.ended++
		f.mu.Unlock()
	}
}

func (f *fakeRecorder) RecordScenario(_ context.Context, name string, _, _ uint64, _ time.Duration, passed bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.recorded == nil {
		f.recorded = make(map[string]bool)
	}
	f.recorded[name] = passed
}

type fakeHealth struct {
	mu     sync.Mutex
	status map[string][]string
}

func (f *fakeHealth) ReportHealth(component, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.status == nil {
		f.status = make(map[string][]string)
	}
	f.status[component] = append(f.status[component], status)
	return nil
}

func counterValue(c prometheus.Counter) float64 {
	m := &dto.Metric{}
	_ = c.Write(m)
	return m.GetCounter().GetValue()
}

func gaugeValue(g prometheus.Gauge) float64 {
	m := &dto.Metric{}
	_ = g.Write(m)
	return m.GetGauge().GetValue()
}

type RunnerTestSuite struct {
	suite.Suite
	cfg *Config
}

func (s *RunnerTestSuite) SetupTest() {
	s.cfg = DefaultConfig()
	s.cfg.Workers = 8
	s.cfg.Iterations = 500
	s.cfg.ShmDir = s.T().TempDir()
}

func (s *RunnerTestSuite) TestAllScenariosPass() {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	rec := &fakeRecorder{}
	health := &fakeHealth{}

	r, err := NewRunner(s.cfg, WithMetrics(metrics), WithRecorder(rec), WithHealth(health))
	s.Require().NoError(err)
	results, err := r.Run(context.Background())
	s.Require().NoError(err)
	s.Require().Len(results, len(registry))

	for _, res := range results {
		s.True(res.Passed(), "%s: %v", res.Scenario, res.Err)
		s.Equal(8, res.Workers)
		s.Positive(res.Elapsed)
		s.True(rec.recorded[res.Scenario])
		s.Equal([]string{StatusRunning, StatusPassed}, health.status[res.Scenario])
		s.Equal(1.0, gaugeValue(metrics.passed.WithLabelValues(res.Scenario)))
		s.Equal(float64(res.Ops), counterValue(metrics.ops.WithLabelValues(res.Scenario)))
	}
	s.Equal(uint64(8*500), results[0].Ops, "fetch-add does one op per iteration")
	s.Equal(len(registry), rec.ended)
	s.Zero(gaugeValue(metrics.workers))
	s.Equal(results, r.Results())

	families, err := reg.Gather()
	s.Require().NoError(err)
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	s.True(names["shmatomic_operations_total"])
	s.True(names["shmatomic_scenario_duration_seconds"])
}

func (s *RunnerTestSuite) TestFailingScenarioIsReported() {
	broken := Scenario{
		Name: "broken",
		Prepare: func(context.Context, Env) (*Run, error) {
			return &Run{
				Work: func(_ context.Context, w int) WorkerResult {
					if w == 0 {
						return WorkerResult{Ops: 1, Err: errors.New("lost update")}
					}
					return WorkerResult{Ops: 1}
				},
				Verify: func() error { return ErrVerifyFailed },
			}, nil
		},
	}
	registry = append(registry, broken)
	defer func() { registry = registry[:len(registry)-1] }()

	s.cfg.Scenarios = []string{"broken"}
	health := &fakeHealth{}
	metrics := NewMetrics(nil)
	r, err := NewRunner(s.cfg, WithHealth(health), WithMetrics(metrics))
	s.Require().NoError(err)
	results, err := r.Run(context.Background())
	s.Require().NoError(err)
	s.Require().Len(results, 1)

	res := results[0]
	s.False(res.Passed())
	s.ErrorIs(res.Err, ErrVerifyFailed)
	s.ErrorContains(res.Err, "worker 0: lost update")
	s.Equal(uint64(8), res.Ops)
	s.Equal([]string{StatusRunning, StatusFailed}, health.status["broken"])
	s.Equal(1.0, counterValue(metrics.failures.WithLabelValues("broken")))
}

func (s *RunnerTestSuite) TestPrepareFailure() {
	registry = append(registry, Scenario{
		Name: "unpreparable",
		Prepare: func(context.Context, Env) (*Run, error) {
			return nil, errors.New("no region")
		},
	})
	defer func() { registry = registry[:len(registry)-1] }()

	s.cfg.Scenarios = []string{"unpreparable"}
	r, err := NewRunner(s.cfg)
	s.Require().NoError(err)
	results, err := r.Run(context.Background())
	s.Require().NoError(err)
	s.Require().Len(results, 1)
	s.ErrorContains(results[0].Err, "prepare: no region")
}

func (s *RunnerTestSuite) TestCanceledContext() {
	r, err := NewRunner(s.cfg)
	s.Require().NoError(err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	results, err := r.Run(ctx)
	s.ErrorIs(err, context.Canceled)
	s.Empty(results)
}

func (s *RunnerTestSuite) TestInvalidConfig() {
	s.cfg.Workers = 0
	_, err := NewRunner(s.cfg)
	s.ErrorIs(err, ErrInvalidConfig)
}

func TestRunnerTestSuite(t *testing.T) {
	suite.Run(t, new(RunnerTestSuite))
}

func TestReport(t *testing.T) {
	var out bytes.Buffer
	failed, err := Report(&out, []Result{
		{Scenario: "fetch-add", Workers: 2, Ops: 20, Elapsed: time.Millisecond},
		{Scenario: "xor-toggle", Workers: 2, Ops: 40, Err: errors.Join(ErrVerifyFailed, errors.New("second"))},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, failed)
	text := out.String()
	assert.Contains(t, text, "SCENARIO")
	assert.Contains(t, text, "fetch-add")
	assert.Contains(t, text, "FAIL: stress: verification failed; second")
	assert.Contains(t, text, "2 scenarios, 1 failed")
}

func TestResultQueue(t *testing.T) {
	q := newResultQueue(3)
	require.NoError(t, q.put(WorkerResult{Worker: 1}))
	require.NoError(t, q.put(WorkerResult{Worker: 2}))
	assert.Equal(t, 2, q.len())

	r, err := q.pop(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, r.Worker)
	r, err = q.pop(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, r.Worker)

	ctx, cancel := context.WithTimeout(context.Background(), 2*resultPollInterval)
	defer cancel()
	_, err = q.pop(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	q.dispose()
	assert.Error(t, q.put(WorkerResult{}))
}
