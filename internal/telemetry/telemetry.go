// Package telemetry installs the OpenTelemetry tracer provider used for
// request spans.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Config selects where spans go.
type Config struct {
	ServiceName string
	// Endpoint is an OTLP/HTTP collector URL. Empty disables tracing.
	Endpoint   string
	SampleRate float64
}

// Shutdown flushes pending spans.
type Shutdown func(context.Context) error

// Setup builds a tracer provider for cfg and registers it globally.
//
// When cfg.Endpoint is empty a no-op provider is returned and the global
// provider is left alone.
func Setup(ctx context.Context, cfg Config) (trace.TracerProvider, Shutdown, error) {
	noopShutdown := func(context.Context) error { return nil }
	if cfg.Endpoint == "" {
		return noop.NewTracerProvider(), noopShutdown, nil
	}

	exporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(cfg.Endpoint))
	if err != nil {
		return nil, noopShutdown, fmt.Errorf("create trace exporter: %w", err)
	}

	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(cfg.ServiceName)))
	if err != nil {
		return nil, noopShutdown, fmt.Errorf("create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler(cfg.SampleRate)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	return tp, tp.Shutdown, nil
}

func sampler(rate float64) sdktrace.Sampler {
	switch {
	case rate >= 1:
		return sdktrace.AlwaysSample()
	case rate <= 0:
		return sdktrace.NeverSample()
	default:
		return sdktrace.TraceIDRatioBased(rate)
	}
}
