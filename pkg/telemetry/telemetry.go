// Package telemetry installs the process TracerProvider. Finished spans are
// written to the process logger.
package telemetry

import (
	"context"

	"github.com/OFFIS-RIT/kgraph/pkg/logger"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

// LogExporter implements sdktrace.SpanExporter by logging every span. Failed
// spans are logged at warn level, all others at debug level.
type LogExporter struct {
	log *logger.Logger
}

var _ sdktrace.SpanExporter = (*LogExporter)(nil)

// NewLogExporter creates an exporter writing to log. A nil log uses the
// process logger as configured at call time.
func NewLogExporter(log *logger.Logger) *LogExporter {
	if log == nil {
		log = logger.With("component", "trace")
	}
	return &LogExporter{log: log}
}

// ExportSpans never fails, export problems must not break the traced code.
func (e *LogExporter) ExportSpans(_ context.Context, spans []sdktrace.ReadOnlySpan) error {
	for _, span := range spans {
		sc := span.SpanContext()
		kv := []any{
			"span", span.Name(),
			"trace_id", sc.TraceID().String(),
			"span_id", sc.SpanID().String(),
			"duration", span.EndTime().Sub(span.StartTime()),
		}
		if parent := span.Parent(); parent.IsValid() {
			kv = append(kv, "parent_id", parent.SpanID().String())
		}
		for _, attr := range span.Attributes() {
			kv = append(kv, string(attr.Key), attr.Value.Emit())
		}

		if status := span.Status(); status.Code == codes.Error {
			e.log.Warn("[Trace] Span failed", append(kv, "err", status.Description)...)
			continue
		}
		e.log.Debug("[Trace] Span finished", kv...)
	}
	return nil
}

func (e *LogExporter) Shutdown(context.Context) error {
	return nil
}

// NewTracerProvider exports every span as soon as it ends.
func NewTracerProvider(exporter sdktrace.SpanExporter, serviceName string) *sdktrace.TracerProvider {
	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(semconv.ServiceNameKey.String(serviceName)),
	)
	if err != nil {
		logger.Warn("[Trace] Failed to create resource, using default", "err", err)
		res = resource.Default()
	}

	return sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(sdktrace.NewSimpleSpanProcessor(exporter)),
		sdktrace.WithResource(res),
	)
}

// Install makes a logging TracerProvider the global one and returns its
// shutdown func. Without it the otel tracers used across kgraph are no-ops.
func Install(serviceName string) func(context.Context) error {
	tp := NewTracerProvider(NewLogExporter(nil), serviceName)
	otel.SetTracerProvider(tp)
	logger.Debug("[Trace] Tracing enabled", "service", serviceName)
	return tp.Shutdown
}
