package adapter

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const instrumentationName = "github.com/srediag/shm-atomics/adapter"

// OTelAdapter records scenario runs as OpenTelemetry spans and metrics.
type OTelAdapter struct {
	tracer   trace.Tracer
	ops      metric.Int64Counter
	retries  metric.Int64Counter
	runs     metric.Int64Counter
	duration metric.Float64Histogram
}

// NewOTelAdapter creates the instruments on meter. Nil arguments fall back
// to no-op providers.
func NewOTelAdapter(meter metric.Meter, tracer trace.Tracer) (*OTelAdapter, error) {
	if meter == nil {
		meter = metricnoop.NewMeterProvider().Meter(instrumentationName)
	}
	if tracer == nil {
		tracer = tracenoop.NewTracerProvider().Tracer(instrumentationName)
	}
	a := &OTelAdapter{tracer: tracer}
	var err error
	if a.ops, err = meter.Int64Counter("shmatomic.scenario.operations",
		metric.WithDescription("Atomic operations performed by stress scenarios.")); err != nil {
		return nil, err
	}
	if a.retries, err = meter.Int64Counter("shmatomic.scenario.retries",
		metric.WithDescription("Compare-exchange retries and lock spins.")); err != nil {
		return nil, err
	}
	if a.runs, err = meter.Int64Counter("shmatomic.scenario.runs",
		metric.WithDescription("Scenario runs by outcome.")); err != nil {
		return nil, err
	}
	if a.duration, err = meter.Float64Histogram("shmatomic.scenario.duration",
		metric.WithDescription("Wall time of a scenario run."),
		metric.WithUnit("s")); err != nil {
		return nil, err
	}
	return a, nil
}

// StartScenario starts a span for a scenario run. The returned function
// ends it and marks it failed when err is not nil.
func (a *OTelAdapter) StartScenario(ctx context.Context, name string) (context.Context, func(err error)) {
	ctx, span := a.tracer.Start(ctx, "stress."+name,
		trace.WithAttributes(attribute.String("scenario", name)))
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}

// RecordScenario records the totals of a finished run.
func (a *OTelAdapter) RecordScenario(ctx context.Context, name string, ops, retries uint64, elapsed time.Duration, passed bool) {
	scenario := metric.WithAttributes(attribute.String("scenario", name))
	a.ops.Add(ctx, int64(ops), scenario)
	a.retries.Add(ctx, int64(retries), scenario)
	a.duration.Record(ctx, elapsed.Seconds(), scenario)
	a.runs.Add(ctx, 1, metric.WithAttributes(
		attribute.String("scenario", name),
		attribute.Bool("passed", passed),
	))
}
