package stress

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v3/cpu"

	internalshm "github.com/srediag/shm-atomics/internal/shm"
)

const (
	EnvWorkers    = "SHMATOMIC_WORKERS"
	EnvIterations = "SHMATOMIC_ITERATIONS"
	EnvAdminAddr  = "SHMATOMIC_ADMIN_ADDR"
	EnvScenarios  = "SHMATOMIC_SCENARIOS"
	EnvShmDir     = "SHMATOMIC_SHM_DIR"

	defaultIterations = 1000
	defaultAdminAddr  = ":9464"
	maxWorkers        = 4096
)

var ErrInvalidConfig = errors.New("stress: invalid config")

// Config controls a stress run.
type Config struct {
	// Workers is the number of goroutines per scenario. LoadEnv and
	// ApplyDefaults turn 0 into the number of logical CPUs.
	Workers int
	// Iterations is the number of operations each worker performs.
	Iterations int
	// Scenarios selects scenarios by name. Empty means all.
	Scenarios []string
	// AdminAddr is where /metrics, /live and /ready are served. Empty disables it.
	AdminAddr string
	// ShmDir holds the regions created by shared memory scenarios. Empty
	// makes those scenarios use process memory.
	ShmDir string
}

// DefaultConfig returns the default config. Workers defaults to the number
// of logical CPUs.
func DefaultConfig() *Config {
	return &Config{
		Workers:    defaultWorkers(),
		Iterations: defaultIterations,
		AdminAddr:  defaultAdminAddr,
		ShmDir:     internalshm.DefaultDir,
	}
}

func defaultWorkers() int {
	n, err := cpu.Counts(true)
	if err != nil || n <= 0 {
		internalLogger.Debugf("cpu count unavailable (%v), using GOMAXPROCS", err)
		n = runtime.GOMAXPROCS(0)
	}
	return n
}

// LoadEnv applies the SHMATOMIC_* environment overrides to c.
func (c *Config) LoadEnv() error {
	if v, ok := os.LookupEnv(EnvWorkers); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %s=%q: %w", ErrInvalidConfig, EnvWorkers, v, err)
		}
		c.Workers = n
		c.ApplyDefaults()
	}
	if v, ok := os.LookupEnv(EnvIterations); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %s=%q: %w", ErrInvalidConfig, EnvIterations, v, err)
		}
		c.Iterations = n
	}
	if v, ok := os.LookupEnv(EnvAdminAddr); ok {
		c.AdminAddr = v
	}
	if v, ok := os.LookupEnv(EnvScenarios); ok {
		c.Scenarios = SplitNames(v)
	}
	if v, ok := os.LookupEnv(EnvShmDir); ok {
		c.ShmDir = v
	}
	return nil
}

// ApplyDefaults fills the fields left at zero that have a computed default.
func (c *Config) ApplyDefaults() {
	if c.Workers == 0 {
		c.Workers = defaultWorkers()
	}
}

// SplitNames splits a comma separated scenario list, dropping blanks.
func SplitNames(s string) []string {
	var names []string
	for _, n := range strings.Split(s, ",") {
		if n = strings.TrimSpace(n); n != "" {
			names = append(names, n)
		}
	}
	return names
}

// VerifyConfig checks that c describes a runnable stress run.
func VerifyConfig(c *Config) error {
	if c == nil {
		return fmt.Errorf("%w: nil", ErrInvalidConfig)
	}
	if c.Workers <= 0 || c.Workers > maxWorkers {
		return fmt.Errorf("%w: workers must be in [1, %d], got %d", ErrInvalidConfig, maxWorkers, c.Workers)
	}
	if c.Iterations <= 0 {
		return fmt.Errorf("%w: iterations must be positive, got %d", ErrInvalidConfig, c.Iterations)
	}
	for _, name := range c.Scenarios {
		if _, ok := Lookup(name); !ok {
			return fmt.Errorf("%w: unknown scenario %q", ErrInvalidConfig, name)
		}
	}
	return nil
}

// selected returns the scenarios c runs, in registration order.
func (c *Config) selected() []Scenario {
	if len(c.Scenarios) == 0 {
		return Scenarios()
	}
	var out []Scenario
	for _, sc := range Scenarios() {
		for _, name := range c.Scenarios {
			if sc.Name == name {
				out = append(out, sc)
				break
			}
		}
	}
	return out
}
