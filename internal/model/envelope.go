package model

import (
	"encoding/json"
	"time"
)

// Envelope is the JSON document published to and consumed from Kafka.
type Envelope struct {
	EventID   string          `json:"eventId"` // outbox id (UUID)
	EventType string          `json:"eventType"`
	Source    string          `json:"source"` // publishing service
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewEnvelope wraps an outbox row for publication by the given service.
func NewEnvelope(source string, e OutboxEvent) Envelope {
	payload := json.RawMessage(e.Payload)
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}
	return Envelope{
		EventID:   e.ID,
		EventType: e.EventType,
		Source:    source,
		Payload:   payload,
		Timestamp: e.CreatedAt.UTC(),
	}
}
