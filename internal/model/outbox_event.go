package model

import "time"

type OutboxStatus string

const (
	OutboxPending OutboxStatus = "PENDING"
	OutboxSent    OutboxStatus = "SENT"
)

func (s OutboxStatus) String() string {
	return string(s)
}

func (s OutboxStatus) Valid() bool {
	return s == OutboxPending || s == OutboxSent
}

// OutboxEvent is a row of outbox_event. It is written in the same local
// transaction as the business change it announces and only ever moves
// PENDING -> SENT.
type OutboxEvent struct {
	ID            string       `db:"id"`             // UUID, doubles as the envelope eventId
	AggregateType string       `db:"aggregate_type"` // e.g. "test_order"
	AggregateID   string       `db:"aggregate_id"`
	EventType     string       `db:"event_type"`
	Payload       []byte       `db:"payload"` // JSON, opaque to the store
	Status        OutboxStatus `db:"status"`
	CreatedAt     time.Time    `db:"created_at"`
	SentAt        *time.Time   `db:"sent_at"`
}
