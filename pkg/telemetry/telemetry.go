// Package telemetry wires the orchestrator's tracing exporter, keeping
// otel's exporter packages out of pkg/orchestrator the way the teacher
// keeps pkg/observability distinct from pkg/core.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/exporters/zipkin"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// ExporterKind selects which trace exporter backs a TracerProvider.
type ExporterKind string

const (
	ExporterStdout ExporterKind = "stdout"
	ExporterJaeger ExporterKind = "jaeger"
	ExporterZipkin ExporterKind = "zipkin"
)

// Config configures the orchestrator's tracing exporter. ServiceName and
// Exporter default to "statecore" and ExporterStdout respectively when
// zero-valued; Endpoint is required for jaeger/zipkin.
type Config struct {
	ServiceName string
	Exporter    ExporterKind
	Endpoint    string
}

// NewTracerProvider builds a TracerProvider backed by the configured
// exporter. The caller owns the returned provider's lifecycle and should
// call Shutdown on it when the orchestrator stops.
func NewTracerProvider(ctx context.Context, cfg Config) (*sdktrace.TracerProvider, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "statecore"
	}
	if cfg.Exporter == "" {
		cfg.Exporter = ExporterStdout
	}

	exporter, err := newExporter(ctx, cfg)
	if err != nil {
		return nil, err
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewSchemaless(attribute.String("service.name", cfg.ServiceName)),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: build resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	return tp, nil
}

func newExporter(ctx context.Context, cfg Config) (sdktrace.SpanExporter, error) {
	switch cfg.Exporter {
	case ExporterJaeger:
		return jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(cfg.Endpoint)))
	case ExporterZipkin:
		return zipkin.New(cfg.Endpoint)
	case ExporterStdout, "":
		return stdouttrace.New(stdouttrace.WithPrettyPrint())
	default:
		return nil, fmt.Errorf("telemetry: unknown exporter %q", cfg.Exporter)
	}
}

// Tracer returns the named tracer off the provider's own Tracer method,
// a thin indirection so pkg/orchestrator never imports the sdk package
// directly.
func Tracer(tp *sdktrace.TracerProvider, name string) trace.Tracer {
	return tp.Tracer(name)
}

// SetGlobal installs tp as otel's global TracerProvider, matching how a
// process-wide default is normally wired in main().
func SetGlobal(tp *sdktrace.TracerProvider) {
	otel.SetTracerProvider(tp)
}
