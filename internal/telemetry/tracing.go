// Package telemetry configures OpenTelemetry tracing for the soundings binary.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
)

// Options selects the service identity recorded on every span.
type Options struct {
	ServiceName    string
	ServiceVersion string
	// Processors receive finished spans; none means spans are sampled but
	// not exported.
	Processors []sdktrace.SpanProcessor
}

// InitTracerProvider installs a global tracer provider and propagator. The
// caller owns Shutdown on the returned provider.
func InitTracerProvider(ctx context.Context, opts Options) (*sdktrace.TracerProvider, error) {
	name := opts.ServiceName
	if name == "" {
		name = "soundings"
	}
	attrs := []resource.Option{
		resource.WithAttributes(semconv.ServiceName(name)),
	}
	if opts.ServiceVersion != "" {
		attrs = append(attrs, resource.WithAttributes(semconv.ServiceVersion(opts.ServiceVersion)))
	}
	res, err := resource.New(ctx, attrs...)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	tpOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	for _, p := range opts.Processors {
		tpOpts = append(tpOpts, sdktrace.WithSpanProcessor(p))
	}
	tp := sdktrace.NewTracerProvider(tpOpts...)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	return tp, nil
}
