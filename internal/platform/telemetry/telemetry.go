// Package telemetry bootstraps OpenTelemetry metrics and tracing for
// an embedding process.
//
// Adapted from packages/go-core/telemetry/metrics.go almost verbatim
// for the metrics half (OTLP/gRPC exporter + PeriodicReader); the
// tracer provider bootstrap is new, folded in here as a single Init
// call because the teacher's tracer setup lives inline in
// apisix-go-runner's initClients rather than its own reusable
// function.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
)

// Providers holds both bootstrapped OTel providers. Shutdown flushes
// and closes both; the caller defers it once at process startup.
type Providers struct {
	Meter  *sdkmetric.MeterProvider
	Tracer *sdktrace.TracerProvider
}

// Shutdown flushes pending metrics and spans and releases both
// exporters' connections.
func (p *Providers) Shutdown(ctx context.Context) error {
	if err := p.Tracer.Shutdown(ctx); err != nil {
		return err
	}
	return p.Meter.Shutdown(ctx)
}

// Init bootstraps both an OTLP/gRPC metric MeterProvider (PeriodicReader,
// matching InitMeterProvider's shape) and an OTLP/gRPC span
// TracerProvider, registers both globally via otel.SetMeterProvider/
// otel.SetTracerProvider, and returns them for an explicit shutdown.
func Init(ctx context.Context, serviceName, endpoint string) (*Providers, error) {
	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(serviceName),
	)

	metricExporter, err := otlpmetricgrpc.New(ctx,
		otlpmetricgrpc.WithEndpoint(endpoint),
		otlpmetricgrpc.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter)),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)

	traceExporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	return &Providers{Meter: mp, Tracer: tp}, nil
}
