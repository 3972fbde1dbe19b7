// Package trace wraps the OpenTelemetry SDK behind a small surface. Tracing
// is opt-in: until Init enables it, StartSpan hands back the caller's context
// with a no-op span, so instrumented code paths cost nothing in tests and in
// deployments that run without tracing.
package trace

import (
	"context"
	"io"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultServiceName    = "crypto-multi-bot"
	defaultServiceVersion = "1.0.0"
)

var (
	tracer         trace.Tracer
	tracerProvider *sdktrace.TracerProvider
	enabled        bool
)

// Config holds the tracing settings.
type Config struct {
	Enabled        bool
	ServiceName    string    // Resource attribute (default "crypto-multi-bot")
	ServiceVersion string    // Resource attribute (default "1.0.0")
	Writer         io.Writer // Span sink (default os.Stdout)
}

// Init sets up the global tracer provider with a stdout span exporter. With
// cfg.Enabled false it leaves tracing off and returns nil.
func Init(cfg Config) error {
	enabled = cfg.Enabled
	if !enabled {
		return nil
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = defaultServiceName
	}
	if cfg.ServiceVersion == "" {
		cfg.ServiceVersion = defaultServiceVersion
	}
	if cfg.Writer == nil {
		cfg.Writer = os.Stdout
	}

	exporter, err := stdouttrace.New(
		stdouttrace.WithWriter(cfg.Writer),
		stdouttrace.WithPrettyPrint(),
	)
	if err != nil {
		return err
	}

	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return err
	}

	tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tracerProvider)
	tracer = otel.Tracer(cfg.ServiceName)
	return nil
}

// Shutdown flushes pending spans and stops the tracer provider.
func Shutdown(ctx context.Context) error {
	if tracerProvider != nil {
		return tracerProvider.Shutdown(ctx)
	}
	return nil
}

// StartSpan starts a span when tracing is enabled; otherwise it returns the
// caller's context unchanged with the span already on it (a no-op span when
// there is none).
func StartSpan(ctx context.Context, spanName string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	if !enabled || tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return tracer.Start(ctx, spanName, opts...)
}

// Enabled reports whether Init turned tracing on.
func Enabled() bool {
	return enabled
}

// Fields returns the trace and span IDs from the context as log fields, or
// nil when tracing is off or the context carries no recording span.
func Fields(ctx context.Context) map[string]interface{} {
	if !enabled {
		return nil
	}
	spanCtx := trace.SpanFromContext(ctx).SpanContext()
	if !spanCtx.IsValid() {
		return nil
	}
	return map[string]interface{}{
		"trace_id": spanCtx.TraceID().String(),
		"span_id":  spanCtx.SpanID().String(),
	}
}
