package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/labops/relay/internal/model"
)

// OutboxRepository defines persistence methods for the outbox_event table.
type OutboxRepository interface {
	// Insert writes a single outbox event inside the caller's business
	// transaction. A nil tx is rejected: the row must commit or roll back
	// together with the change it announces.
	Insert(ctx context.Context, tx *sqlx.Tx, e model.OutboxEvent) error
	// ListPending returns PENDING rows oldest first; limit <= 0 means all.
	ListPending(ctx context.Context, limit int) ([]model.OutboxEvent, error)
	// ListPendingAfter continues ListPending past cursor. The zero cursor
	// starts from the oldest row.
	ListPendingAfter(ctx context.Context, after PendingCursor, limit int) ([]model.OutboxEvent, error)
	CountPending(ctx context.Context) (int, error)
	// MarkSent flips a PENDING row to SENT. It reports false when the row was
	// already SENT (or does not exist); SENT never reverts.
	MarkSent(ctx context.Context, id string, at time.Time) (bool, error)
	Get(ctx context.Context, id string) (model.OutboxEvent, error)
}

// PendingCursor marks the last row of a page in (created_at, id) order.
type PendingCursor struct {
	CreatedAt time.Time
	ID        string
}

// CursorOf returns the cursor positioned at e.
func CursorOf(e model.OutboxEvent) PendingCursor {
	return PendingCursor{CreatedAt: e.CreatedAt, ID: e.ID}
}

func (c PendingCursor) IsZero() bool { return c.ID == "" && c.CreatedAt.IsZero() }

// OutboxRepositoryImpl is a sqlx-backed implementation.
type OutboxRepositoryImpl struct {
	db *sqlx.DB
}

// NewOutboxRepository constructs an OutboxRepositoryImpl.
func NewOutboxRepository(db *sqlx.DB) *OutboxRepositoryImpl {
	return &OutboxRepositoryImpl{db: db}
}

var _ OutboxRepository = (*OutboxRepositoryImpl)(nil)

func (r *OutboxRepositoryImpl) Insert(ctx context.Context, tx *sqlx.Tx, e model.OutboxEvent) error {
	if tx == nil {
		return ErrNoTransaction
	}
	const q = `
		INSERT INTO outbox_event (id, aggregate_type, aggregate_id, event_type, payload, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := tx.ExecContext(ctx, q,
		e.ID, e.AggregateType, e.AggregateID, e.EventType, e.Payload, e.Status.String(), e.CreatedAt,
	)
	return err
}

func (r *OutboxRepositoryImpl) ListPending(ctx context.Context, limit int) ([]model.OutboxEvent, error) {
	return r.ListPendingAfter(ctx, PendingCursor{}, limit)
}

func (r *OutboxRepositoryImpl) ListPendingAfter(ctx context.Context, after PendingCursor, limit int) ([]model.OutboxEvent, error) {
	q := `
		SELECT id, aggregate_type, aggregate_id, event_type, payload, status, created_at, sent_at
		FROM outbox_event
		WHERE status = ?`
	args := []any{model.OutboxPending.String()}
	if !after.IsZero() {
		q += ` AND (created_at > ? OR (created_at = ? AND id > ?))`
		args = append(args, after.CreatedAt, after.CreatedAt, after.ID)
	}
	q += ` ORDER BY created_at, id`
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}

	var rows []model.OutboxEvent
	if err := r.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *OutboxRepositoryImpl) CountPending(ctx context.Context) (int, error) {
	var n int
	err := r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM outbox_event WHERE status = ?`, model.OutboxPending.String())
	return n, err
}

func (r *OutboxRepositoryImpl) MarkSent(ctx context.Context, id string, at time.Time) (bool, error) {
	const q = `UPDATE outbox_event SET status = ?, sent_at = ? WHERE id = ? AND status = ?`

	var changed bool
	err := withTx(ctx, r.db, nil, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, q, model.OutboxSent.String(), at, id, model.OutboxPending.String())
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		changed = n == 1
		return nil
	})
	return changed, err
}

func (r *OutboxRepositoryImpl) Get(ctx context.Context, id string) (model.OutboxEvent, error) {
	const q = `
		SELECT id, aggregate_type, aggregate_id, event_type, payload, status, created_at, sent_at
		FROM outbox_event
		WHERE id = ?
	`
	var e model.OutboxEvent
	if err := r.db.GetContext(ctx, &e, q, id); err != nil {
		return model.OutboxEvent{}, notFound(err)
	}
	return e, nil
}
