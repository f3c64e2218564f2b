package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// OTelSink adapts Event into an OpenTelemetry span (name + attributes + end
// time) and a duration histogram recorded against whatever global
// TracerProvider/MeterProvider the host application configured. It is the
// "integration point" for a tracing/metrics backend, not a backend itself:
// the actual exporter (OTLP, stdout, Prometheus, ...) is the host's choice.
type OTelSink struct {
	tracer    trace.Tracer
	durations metric.Float64Histogram
}

// NewOTelSink builds a sink against the global otel providers. Passing
// explicit providers is unnecessary for this integration point; callers
// that need a specific provider should call otel.SetTracerProvider /
// otel.SetMeterProvider before constructing the sink.
func NewOTelSink(instrumentationName string) (*OTelSink, error) {
	tracer := otel.Tracer(instrumentationName)
	meter := otel.Meter(instrumentationName)
	hist, err := meter.Float64Histogram(
		"utcp.event.duration",
		metric.WithDescription("Duration of UTCP client events, in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}
	return &OTelSink{tracer: tracer, durations: hist}, nil
}

func (s *OTelSink) Emit(e Event) {
	ctx, span := s.tracer.Start(context.Background(), string(e.Kind)+":"+e.Name)
	attrs := []attribute.KeyValue{
		attribute.String("utcp.provider", e.Provider),
		attribute.String("utcp.transport", e.Transport),
		attribute.String("utcp.event.kind", string(e.Kind)),
	}
	for k, v := range e.Labels {
		attrs = append(attrs, attribute.String("utcp.label."+k, v))
	}
	span.SetAttributes(attrs...)
	if e.Err != nil {
		span.RecordError(e.Err)
	}
	span.End()

	s.durations.Record(ctx, float64(e.Duration.Milliseconds()), metric.WithAttributes(attrs...))
}
