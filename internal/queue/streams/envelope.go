// Package streams carries ingestion work orders over Redis Streams with
// consumer groups, giving the HTTP layer a durable hand-off to workers.
package streams

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventIngestRequested tags an ingestion work order on the stream.
const EventIngestRequested = "ingest.requested"

// PayloadVersion is the current envelope payload version.
const PayloadVersion = "v1"

// Envelope is the canonical message wrapper persisted to Redis Streams.
type Envelope struct {
	EventID    string          `json:"event_id"`
	EventType  string          `json:"event_type"`
	OccurredAt time.Time       `json:"occurred_at"`
	TaskID     string          `json:"task_id,omitempty"`
	Attempt    int             `json:"attempt"`
	Version    string          `json:"version"`
	Data       json.RawMessage `json:"data"`
}

// Validate checks mandatory envelope fields and defaults OccurredAt.
func (e *Envelope) Validate() error {
	if e.EventID == "" {
		return fmt.Errorf("event_id is required")
	}
	if e.EventType == "" {
		return fmt.Errorf("event_type is required")
	}
	if e.Version == "" {
		return fmt.Errorf("version is required")
	}
	if e.Attempt < 0 {
		return fmt.Errorf("attempt must be >= 0")
	}
	if len(e.Data) == 0 {
		return fmt.Errorf("data payload is required")
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	return nil
}

// Marshal returns the JSON encoding of a validated envelope.
func (e *Envelope) Marshal() ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(e)
}

// UnmarshalEnvelope parses and validates an envelope from JSON bytes.
func UnmarshalEnvelope(b []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return env, fmt.Errorf("unmarshal envelope: %w", err)
	}
	if err := env.Validate(); err != nil {
		return env, err
	}
	return env, nil
}
