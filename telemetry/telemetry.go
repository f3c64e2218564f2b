// Package telemetry reduces health-check, metrics, and tracing concerns to
// a single event-sink interface: every phase of the client (tool calls,
// searches, provider lifecycle, connection state, health checks) emits one
// Event, and it is up to the configured Sink whether that becomes a log
// line, a metric, a trace span, or nothing at all.
package telemetry

import (
	"context"
	"time"
)

// Kind names the taxonomy of events the client emits.
type Kind string

const (
	ToolCall    Kind = "tool_call"
	Search      Kind = "search"
	Provider    Kind = "provider"
	Connection  Kind = "connection"
	HealthCheck Kind = "health_check"
)

// Event is one point-in-time occurrence worth recording. Duration is zero
// for instantaneous events (e.g. a connection state transition).
type Event struct {
	Kind      Kind
	Name      string
	Provider  string
	Transport string
	Duration  time.Duration
	Labels    map[string]string
	Err       error
	At        time.Time
}

// Sink is the single collaborator point every observability backend
// implements. A nil Sink is never passed around; use NopSink.
type Sink interface {
	Emit(Event)
}

// NopSink discards every event. The zero value is ready to use.
type NopSink struct{}

func (NopSink) Emit(Event) {}

// MultiSink fans one event out to several sinks, letting a caller combine a
// log sink with a metrics sink without either implementation knowing about
// the other.
type MultiSink []Sink

func (m MultiSink) Emit(e Event) {
	for _, s := range m {
		s.Emit(e)
	}
}

// LogSink renders events through an ambient logger function, the same
// `func(format string, args ...interface{})` convention every transport in
// this module accepts — so the same logger passed to a transport can also
// back its telemetry sink.
type LogSink struct {
	Log func(format string, args ...interface{})
}

func NewLogSink(log func(format string, args ...interface{})) *LogSink {
	return &LogSink{Log: log}
}

func (s *LogSink) Emit(e Event) {
	if s.Log == nil {
		return
	}
	if e.Err != nil {
		s.Log("telemetry: kind=%s name=%s provider=%s transport=%s duration=%s err=%v labels=%v",
			e.Kind, e.Name, e.Provider, e.Transport, e.Duration, e.Err, e.Labels)
		return
	}
	s.Log("telemetry: kind=%s name=%s provider=%s transport=%s duration=%s labels=%v",
		e.Kind, e.Name, e.Provider, e.Transport, e.Duration, e.Labels)
}

// Recorder is the ergonomic entry point orchestrator code calls instead of
// building Events by hand; Timed wraps the common "measure a blocking
// operation" shape used for tool calls, searches, and health checks.
type Recorder struct {
	Sink Sink
	Now  func() time.Time
}

func NewRecorder(sink Sink) *Recorder {
	if sink == nil {
		sink = NopSink{}
	}
	return &Recorder{Sink: sink, Now: time.Now}
}

func (r *Recorder) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

// Timed runs fn, emits one Event carrying its wall-clock duration and
// outcome, and returns fn's error unchanged.
func (r *Recorder) Timed(ctx context.Context, kind Kind, name, providerName, transportName string, labels map[string]string, fn func(context.Context) error) error {
	start := r.now()
	err := fn(ctx)
	r.Sink.Emit(Event{
		Kind:      kind,
		Name:      name,
		Provider:  providerName,
		Transport: transportName,
		Duration:  r.now().Sub(start),
		Labels:    labels,
		Err:       err,
		At:        start,
	})
	return err
}

// Instant emits a zero-duration event, for state transitions like
// connection/provider lifecycle changes that have no natural "elapsed"
// measurement.
func (r *Recorder) Instant(kind Kind, name, providerName, transportName string, labels map[string]string) {
	r.Sink.Emit(Event{
		Kind:      kind,
		Name:      name,
		Provider:  providerName,
		Transport: transportName,
		Labels:    labels,
		At:        r.now(),
	})
}
