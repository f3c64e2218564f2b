package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"
)

type captureSink struct {
	events []Event
}

func (c *captureSink) Emit(e Event) { c.events = append(c.events, e) }

func TestRecorder_Timed_RecordsDurationAndError(t *testing.T) {
	cap := &captureSink{}
	r := NewRecorder(cap)
	tick := time.Unix(0, 0)
	r.Now = func() time.Time {
		tick = tick.Add(5 * time.Millisecond)
		return tick
	}

	err := r.Timed(context.Background(), ToolCall, "users.get_user", "users", "http", map[string]string{"arg_count": "1"}, func(ctx context.Context) error {
		return errors.New("boom")
	})
	if err == nil {
		t.Fatal("expected error to propagate")
	}
	if len(cap.events) != 1 {
		t.Fatalf("expected one event, got %d", len(cap.events))
	}
	e := cap.events[0]
	if e.Kind != ToolCall || e.Name != "users.get_user" || e.Err == nil || e.Duration != 5*time.Millisecond {
		t.Fatalf("unexpected event: %+v", e)
	}
}

func TestRecorder_Instant_ZeroDuration(t *testing.T) {
	cap := &captureSink{}
	r := NewRecorder(cap)
	r.Instant(Connection, "connect", "svc", "websocket", nil)
	if len(cap.events) != 1 || cap.events[0].Duration != 0 {
		t.Fatalf("expected a zero-duration event, got %+v", cap.events)
	}
}

func TestMultiSink_FansOutToAll(t *testing.T) {
	a, b := &captureSink{}, &captureSink{}
	multi := MultiSink{a, b}
	multi.Emit(Event{Kind: Search, Name: "q"})
	if len(a.events) != 1 || len(b.events) != 1 {
		t.Fatalf("expected both sinks to receive the event")
	}
}

func TestNopSink_DiscardsSilently(t *testing.T) {
	var s NopSink
	s.Emit(Event{Kind: HealthCheck})
}

func TestLogSink_FormatsErrorAndSuccess(t *testing.T) {
	var lines []string
	sink := NewLogSink(func(format string, args ...interface{}) {
		lines = append(lines, format)
	})
	sink.Emit(Event{Kind: Provider, Name: "register"})
	sink.Emit(Event{Kind: Provider, Name: "register", Err: errors.New("fail")})
	if len(lines) != 2 {
		t.Fatalf("expected two log lines, got %d", len(lines))
	}
}
