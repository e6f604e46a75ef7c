package streams

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

// Envelope is the message wrapper appended to Redis Streams.
type Envelope struct {
	EventID        string          `json:"event_id"`
	EventType      string          `json:"event_type"`
	OccurredAt     time.Time       `json:"occurred_at"`
	TraceID        string          `json:"trace_id,omitempty"`
	PayloadVersion string          `json:"payload_version"`
	Data           json.RawMessage `json:"data"`
}

// NewEnvelope marshals payload and stamps id, time and the active trace id.
func NewEnvelope(ctx context.Context, eventType, version string, payload interface{}) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal payload: %w", err)
	}
	env := Envelope{
		EventID:        uuid.NewString(),
		EventType:      eventType,
		OccurredAt:     time.Now().UTC(),
		PayloadVersion: version,
		Data:           data,
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		env.TraceID = sc.TraceID().String()
	}
	return env, env.Validate()
}

// Validate checks the mandatory fields.
func (e Envelope) Validate() error {
	switch {
	case e.EventID == "":
		return fmt.Errorf("event_id is required")
	case e.EventType == "":
		return fmt.Errorf("event_type is required")
	case e.PayloadVersion == "":
		return fmt.Errorf("payload_version is required")
	case len(e.Data) == 0:
		return fmt.Errorf("data payload is required")
	}
	return nil
}

// UnmarshalEnvelope parses and validates a stored envelope.
func UnmarshalEnvelope(b []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return env, fmt.Errorf("unmarshal envelope: %w", err)
	}
	return env, env.Validate()
}
