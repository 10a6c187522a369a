package model

import "time"

// InboxEvent records that an inbound eventId has been handled. event_id is
// unique; its presence is the only dedup signal.
type InboxEvent struct {
	ID          string    `db:"id"` // ULID
	EventID     string    `db:"event_id"`
	EventType   string    `db:"event_type"`
	Payload     []byte    `db:"payload"` // raw broker message, kept for audit/replay
	ProcessedAt time.Time `db:"processed_at"`
}
