package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	"github.com/labops/relay/internal/model"
)

// InboxRepository persists processed inbound event ids. Both calls run inside
// the consumer's transaction so the dedup row and the side effect commit together.
type InboxRepository interface {
	Exists(ctx context.Context, tx *sqlx.Tx, eventID string) (bool, error)
	Insert(ctx context.Context, tx *sqlx.Tx, e model.InboxEvent) error
}

type InboxRepositoryImpl struct{}

func NewInboxRepository() *InboxRepositoryImpl { return &InboxRepositoryImpl{} }

var _ InboxRepository = (*InboxRepositoryImpl)(nil)

// Exists checks if an inbox row with the given event id already exists.
func (r *InboxRepositoryImpl) Exists(ctx context.Context, tx *sqlx.Tx, eventID string) (bool, error) {
	if tx == nil {
		return false, ErrNoTransaction
	}
	var one int
	err := tx.QueryRowxContext(ctx,
		`SELECT 1 FROM inbox_event WHERE event_id = ? LIMIT 1`, eventID,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Insert adds the dedup row. A concurrent duplicate fails on ux_inbox_event_id.
func (r *InboxRepositoryImpl) Insert(ctx context.Context, tx *sqlx.Tx, e model.InboxEvent) error {
	if tx == nil {
		return ErrNoTransaction
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO inbox_event (id, event_id, event_type, payload, processed_at)
		VALUES (?, ?, ?, ?, ?)
	`, e.ID, e.EventID, e.EventType, e.Payload, e.ProcessedAt)
	return err
}

// GetInboxEvent reads an inbox row outside any transaction (ops/tests).
func GetInboxEvent(ctx context.Context, db *sqlx.DB, eventID string) (model.InboxEvent, error) {
	var e model.InboxEvent
	err := db.GetContext(ctx, &e, `
		SELECT id, event_id, event_type, payload, processed_at
		FROM inbox_event
		WHERE event_id = ?
	`, eventID)
	if err != nil {
		return model.InboxEvent{}, notFound(err)
	}
	return e, nil
}
