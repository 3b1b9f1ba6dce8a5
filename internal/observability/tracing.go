package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// InitTracing wires the global OpenTelemetry tracer to an OTLP/gRPC endpoint
// and returns a shutdown function to flush spans on exit. Sampling is
// parent-based: a request that arrives already traced stays traced end to
// end, so a sampled submission can be followed from intake through decision,
// publication and feedback in one trace.
func InitTracing(ctx context.Context, logger *zap.Logger, serviceName, otlpEndpoint string, sampleRate float64) (func(), error) {
	res, err := resource.Merge(resource.Default(),
		resource.NewWithAttributes("",
			semconv.ServiceName(serviceName),
		))
	if err != nil {
		return nil, fmt.Errorf("build resource: %w", err)
	}

	exporter, err := otlptrace.New(ctx,
		otlptracegrpc.NewClient(
			otlptracegrpc.WithEndpoint(otlpEndpoint),
			otlptracegrpc.WithInsecure(),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create otlp exporter: %w", err)
	}

	var root sdktrace.Sampler
	switch {
	case sampleRate >= 1.0:
		root = sdktrace.AlwaysSample()
	case sampleRate <= 0:
		root = sdktrace.NeverSample()
	default:
		root = sdktrace.TraceIDRatioBased(sampleRate)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(root)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	logger.Info("tracing initialized",
		zap.String("service", serviceName),
		zap.String("otlp_endpoint", otlpEndpoint),
		zap.Float64("sample_rate", sampleRate))

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Error("tracer provider shutdown", zap.Error(err))
		}
	}, nil
}

// Tracer returns a tracer scoped to one pipeline component.
func Tracer(componentName string) trace.Tracer {
	return otel.Tracer(componentName)
}
