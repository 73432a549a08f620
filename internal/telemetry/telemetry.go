// Package telemetry wires OpenTelemetry tracing for scheduler cycles and task
// visits. Tracing is off unless OTEL_EXPORTER_OTLP_ENDPOINT is set; a
// disabled Provider hands out a no-op tracer.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Environment variables read by Setup.
const (
	EnvEndpoint    = "OTEL_EXPORTER_OTLP_ENDPOINT"
	EnvServiceName = "OTEL_SERVICE_NAME"
)

// DefaultServiceName is reported when OTEL_SERVICE_NAME is unset.
const DefaultServiceName = "vaultloop"

// InstrumentationName names the tracer.
const InstrumentationName = "github.com/thruflo/vaultloop"

// Span attribute keys.
const (
	AttrCycleID  = attribute.Key("vaultloop.cycle.id")
	AttrTaskID   = attribute.Key("vaultloop.task.id")
	AttrOutcome  = attribute.Key("vaultloop.outcome")
	AttrExecuted = attribute.Key("vaultloop.steps.executed")
	AttrMode     = attribute.Key("vaultloop.mode")
)

// Provider owns the tracer provider for the process.
type Provider struct {
	provider *sdktrace.TracerProvider
	tracer   oteltrace.Tracer
}

// Setup creates a Provider exporting over OTLP/HTTP when the endpoint
// variable is set. It returns a disabled Provider otherwise.
func Setup(ctx context.Context, getenv func(string) string) (*Provider, error) {
	endpoint := getenv(EnvEndpoint)
	if endpoint == "" {
		return &Provider{}, nil
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(endpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	serviceName := getenv(EnvServiceName)
	if serviceName == "" {
		serviceName = DefaultServiceName
	}
	return NewWithProcessor(sdktrace.NewBatchSpanProcessor(exporter), serviceName), nil
}

// NewWithProcessor creates an enabled Provider sending spans through sp.
// Tests pass a simple processor over an in-memory exporter.
func NewWithProcessor(sp sdktrace.SpanProcessor, serviceName string) *Provider {
	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceNameKey.String(serviceName),
	)
	provider := sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(sp),
		sdktrace.WithResource(res),
	)
	return &Provider{
		provider: provider,
		tracer:   provider.Tracer(InstrumentationName),
	}
}

// Enabled reports whether spans are exported.
func (p *Provider) Enabled() bool {
	return p != nil && p.provider != nil
}

// Tracer returns the tracer, or a no-op tracer when disabled.
func (p *Provider) Tracer() oteltrace.Tracer {
	if !p.Enabled() {
		return noop.NewTracerProvider().Tracer(InstrumentationName)
	}
	return p.tracer
}

// Shutdown flushes pending spans.
func (p *Provider) Shutdown(ctx context.Context) error {
	if !p.Enabled() {
		return nil
	}
	return p.provider.Shutdown(ctx)
}
