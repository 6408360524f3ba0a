// Package telemetry wires OpenTelemetry tracing and metrics. Without an
// endpoint the global no-op providers stay in place, so instrumented code
// runs unchanged in tests and local runs.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"geocompliance-backend/config"
)

const instrumentationName = "geocompliance-backend"

// ShutdownFunc flushes and stops the providers
type ShutdownFunc func(context.Context) error

// Setup installs OTLP/gRPC trace and metric providers as the globals.
func Setup(ctx context.Context, cfg config.TelemetryConfig) (ShutdownFunc, error) {
	logger := slog.Default().With("component", "telemetry")
	if cfg.OTLPEndpoint == "" {
		logger.InfoContext(ctx, "telemetry export disabled")
		return func(context.Context) error { return nil }, nil
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(semconv.SchemaURL, semconv.ServiceName(cfg.ServiceName)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	traceExporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(traceExporter, sdktrace.WithBatchTimeout(5*time.Second)),
	)

	metricExporter, err := otlpmetricgrpc.New(ctx,
		otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint),
		otlpmetricgrpc.WithInsecure(),
	)
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, fmt.Errorf("failed to create metric exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter, sdkmetric.WithInterval(15*time.Second))),
	)

	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	logger.InfoContext(ctx, "telemetry initialized", "service", cfg.ServiceName, "endpoint", cfg.OTLPEndpoint)

	return func(ctx context.Context) error {
		return errors.Join(tp.Shutdown(ctx), mp.Shutdown(ctx))
	}, nil
}

// Tracer returns the service tracer from the current global provider
func Tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}

// Meter returns the service meter from the current global provider
func Meter() metric.Meter {
	return otel.Meter(instrumentationName)
}

// Metrics are the counters and histograms recorded by the pipeline
type Metrics struct {
	RecordsWritten     metric.Int64Counter
	ChunksProcessed    metric.Int64Counter
	ExtractionFailures metric.Int64Counter
	IngestDuration     metric.Float64Histogram
	Assessments        metric.Int64Counter
	Clarifications     metric.Int64Counter
}

// NewMetrics creates the pipeline instruments on the global meter
func NewMetrics() (*Metrics, error) {
	m := Meter()
	var (
		out Metrics
		err error
	)
	if out.RecordsWritten, err = m.Int64Counter("geocompliance.records.written",
		metric.WithDescription("Definition and regulation rows upserted"),
		metric.WithUnit("{record}")); err != nil {
		return nil, err
	}
	if out.ChunksProcessed, err = m.Int64Counter("geocompliance.chunks.processed",
		metric.WithDescription("Chunks sent to extraction"),
		metric.WithUnit("{chunk}")); err != nil {
		return nil, err
	}
	if out.ExtractionFailures, err = m.Int64Counter("geocompliance.extraction.failures",
		metric.WithDescription("Chunks whose extraction failed after retries"),
		metric.WithUnit("{chunk}")); err != nil {
		return nil, err
	}
	if out.IngestDuration, err = m.Float64Histogram("geocompliance.ingest.duration",
		metric.WithDescription("Document ingestion duration"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300)); err != nil {
		return nil, err
	}
	if out.Assessments, err = m.Int64Counter("geocompliance.assessments",
		metric.WithDescription("Completed feature assessments"),
		metric.WithUnit("{assessment}")); err != nil {
		return nil, err
	}
	if out.Clarifications, err = m.Int64Counter("geocompliance.clarifications",
		metric.WithDescription("Clarification requests raised"),
		metric.WithUnit("{request}")); err != nil {
		return nil, err
	}
	return &out, nil
}

// MustMetrics is NewMetrics for constructors that cannot return an error.
// The global meter only fails on invalid instrument names.
func MustMetrics() *Metrics {
	m, err := NewMetrics()
	if err != nil {
		panic(err)
	}
	return m
}
