// Command atomicstress runs the atomics stress scenarios and exits non-zero
// when any of them fails.
//
// While running it serves Prometheus metrics on /metrics and health checks on
// /live and /ready at -admin.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/srediag/shm-atomics/adapter"
	"github.com/srediag/shm-atomics/internal/logger"
	"github.com/srediag/shm-atomics/internal/stress"
)

const (
	exitOK      = 0
	exitFailed  = 1
	exitUsage   = 2
	serviceName = "atomicstress"

	shutdownTimeout = 5 * time.Second
)

var log = logger.New(serviceName, os.Stderr)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cfg := stress.DefaultConfig()
	if err := cfg.LoadEnv(); err != nil {
		fmt.Fprintln(stderr, err)
		return exitUsage
	}

	fs := flag.NewFlagSet(serviceName, flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.IntVar(&cfg.Workers, "workers", cfg.Workers, "goroutines per scenario; 0 uses one per logical CPU")
	fs.IntVar(&cfg.Iterations, "iterations", cfg.Iterations, "operations per worker")
	fs.StringVar(&cfg.AdminAddr, "admin", cfg.AdminAddr, "address for /metrics, /live and /ready; empty disables it")
	fs.StringVar(&cfg.ShmDir, "shm-dir", cfg.ShmDir, "directory for shared regions; empty uses process memory")
	scenarios := fs.String("scenarios", strings.Join(cfg.Scenarios, ","), "comma separated scenarios to run; empty runs all")
	list := fs.Bool("list", false, "list scenarios and exit")
	level := fs.Int("log-level", logger.LogLevel(), "0 trace, 1 debug, 2 info, 3 warn, 4 error, 5 silent")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}
	logger.SetLogLevel(*level)
	cfg.Scenarios = stress.SplitNames(*scenarios)
	cfg.ApplyDefaults()

	if *list {
		for _, sc := range stress.Scenarios() {
			fmt.Fprintf(stdout, "%-16s %s\n", sc.Name, sc.Description)
		}
		return exitOK
	}
	if err := stress.VerifyConfig(cfg); err != nil {
		fmt.Fprintln(stderr, err)
		return exitUsage
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	health := adapter.NewHealthAdapter(reg, "shmatomic")
	telemetry, err := adapter.NewOTelAdapter(otel.GetMeterProvider().Meter(serviceName), otel.Tracer(serviceName))
	if err != nil {
		log.Errorf("create telemetry: %v", err)
		return exitFailed
	}
	runner, err := stress.NewRunner(cfg,
		stress.WithMetrics(stress.NewMetrics(reg)),
		stress.WithRecorder(telemetry),
		stress.WithHealth(health),
	)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitUsage
	}

	g, gctx := errgroup.WithContext(ctx)
	var srv *http.Server
	if cfg.AdminAddr != "" {
		ln, err := net.Listen("tcp", cfg.AdminAddr)
		if err != nil {
			log.Errorf("listen %s: %v", cfg.AdminAddr, err)
			return exitFailed
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
		mux.Handle("/live", health)
		mux.Handle("/ready", health)
		srv = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		log.Infof("admin server on %s", ln.Addr())
		g.Go(func() error {
			if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("admin server: %w", err)
			}
			return nil
		})
	}

	var results []stress.Result
	g.Go(func() error {
		defer func() {
			if srv == nil {
				return
			}
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(sctx); err != nil {
				log.Warnf("admin server shutdown: %v", err)
			}
		}()
		var err error
		results, err = runner.Run(gctx)
		return err
	})
	runErr := g.Wait()

	failed, err := stress.Report(stdout, results)
	if err != nil {
		log.Errorf("write report: %v", err)
		return exitFailed
	}
	if runErr != nil {
		log.Errorf("run aborted: %v", runErr)
		return exitFailed
	}
	if failed > 0 {
		return exitFailed
	}
	return exitOK
}
