package streams

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/mohammad-safakhou/incidentsync/internal/pipeline"
	"go.opentelemetry.io/otel/trace"
)

func TestNewEnvelopeCarriesTraceID(t *testing.T) {
	traceID, _ := trace.TraceIDFromHex("0102030405060708090a0b0c0d0e0f10")
	spanID, _ := trace.SpanIDFromHex("0102030405060708")
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: traceID, SpanID: spanID, TraceFlags: trace.FlagsSampled,
	}))
	env, err := NewEnvelope(ctx, EventRunFinished, "v1", map[string]int{"records": 2})
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	if env.TraceID != "0102030405060708090a0b0c0d0e0f10" || env.EventID == "" || env.OccurredAt.IsZero() {
		t.Fatalf("unexpected envelope %#v", env)
	}
	raw, _ := json.Marshal(env)
	back, err := UnmarshalEnvelope(raw)
	if err != nil {
		t.Fatalf("UnmarshalEnvelope: %v", err)
	}
	if back.EventType != EventRunFinished || string(back.Data) != `{"records":2}` {
		t.Fatalf("unexpected decoded envelope %#v", back)
	}
}

func TestUnmarshalEnvelopeRejectsIncomplete(t *testing.T) {
	if _, err := UnmarshalEnvelope([]byte(`{"event_id":"x","event_type":"t"}`)); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestRunEventOmitsUnfinishedTime(t *testing.T) {
	ev := runEvent(pipeline.Run{ID: "r1", Flow: pipeline.FlowDelete, Status: pipeline.RunStatusRunning, StartedAt: time.Now()})
	if ev.FinishedAt != nil || ev.Flow != "delete" {
		t.Fatalf("unexpected event %#v", ev)
	}
	ev = runEvent(pipeline.Run{ID: "r1", Flow: pipeline.FlowDelete, Status: pipeline.RunStatusSucceeded, Deleted: 3, FinishedAt: time.Now()})
	if ev.FinishedAt == nil || ev.Deleted != 3 {
		t.Fatalf("unexpected event %#v", ev)
	}
}
