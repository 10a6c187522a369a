package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
)

// DeliveredEvent is one row of the ClickHouse delivery log fed from the
// published topics.
type DeliveredEvent struct {
	EventID     string    `db:"event_id" json:"eventId"`
	EventType   string    `db:"event_type" json:"eventType"`
	Source      string    `db:"source" json:"source"`
	AggregateID string    `db:"aggregate_id" json:"aggregateId"`
	Topic       string    `db:"topic" json:"topic"`
	Payload     string    `db:"payload" json:"payload"`
	Timestamp   time.Time `db:"timestamp" json:"timestamp"`
}

// EventFilter narrows ListDelivered; empty fields are ignored.
type EventFilter struct {
	Source      string
	EventType   string
	AggregateID string
	Since       time.Time
	Limit       int
	Offset      int
}

// CHEventsRepository lists delivered events from ClickHouse (final view).
type CHEventsRepository interface {
	ListDelivered(ctx context.Context, f EventFilter) ([]DeliveredEvent, error)
}

type chEventsRepository struct {
	ch *sqlx.DB // ClickHouse connection
}

func NewCHEventsRepository(ch *sqlx.DB) CHEventsRepository {
	return &chEventsRepository{ch: ch}
}

func (r *chEventsRepository) ListDelivered(ctx context.Context, f EventFilter) ([]DeliveredEvent, error) {
	q, args := buildDeliveredQuery(f)

	var rows []DeliveredEvent
	if err := r.ch.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, err
	}
	return rows, nil
}

func buildDeliveredQuery(f EventFilter) (string, []any) {
	if f.Limit <= 0 || f.Limit > 1000 {
		f.Limit = 50
	}
	if f.Offset < 0 {
		f.Offset = 0
	}

	q := `
		SELECT event_id, event_type, source, aggregate_id, topic, payload, timestamp
		FROM labops.delivered_events_latest
		WHERE 1 = 1
	`
	var args []any

	if f.Source != "" {
		q += " AND source = ?"
		args = append(args, f.Source)
	}
	if f.EventType != "" {
		q += " AND event_type = ?"
		args = append(args, f.EventType)
	}
	if f.AggregateID != "" {
		q += " AND aggregate_id = ?"
		args = append(args, f.AggregateID)
	}
	if !f.Since.IsZero() {
		q += " AND timestamp >= ?"
		args = append(args, f.Since.UTC())
	}

	q += " ORDER BY timestamp DESC LIMIT ? OFFSET ?"
	args = append(args, f.Limit, f.Offset)
	return q, args
}
