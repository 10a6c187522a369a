package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/labops/relay/internal/model"
)

// SyncUpRepository persists sync_up_requests.
type SyncUpRepository interface {
	Insert(ctx context.Context, r model.SyncUpRequest) error
	ListPending(ctx context.Context, limit int) ([]model.SyncUpRequest, error)
	MarkCompleted(ctx context.Context, id string, at time.Time) (bool, error)
	Get(ctx context.Context, id string) (model.SyncUpRequest, error)
}

type SyncUpRepositoryImpl struct {
	db *sqlx.DB
}

func NewSyncUpRepository(db *sqlx.DB) *SyncUpRepositoryImpl {
	return &SyncUpRepositoryImpl{db: db}
}

var _ SyncUpRepository = (*SyncUpRepositoryImpl)(nil)

func (r *SyncUpRepositoryImpl) Insert(ctx context.Context, req model.SyncUpRequest) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sync_up_requests (id, source_service, message_id, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, req.ID, req.SourceService, req.MessageID, req.Status.String(), req.CreatedAt, req.UpdatedAt)
	return err
}

// ListPending returns PENDING requests oldest first.
func (r *SyncUpRepositoryImpl) ListPending(ctx context.Context, limit int) ([]model.SyncUpRequest, error) {
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	var rows []model.SyncUpRequest
	err := r.db.SelectContext(ctx, &rows, `
		SELECT id, source_service, message_id, status, processed_at, created_at, updated_at
		FROM sync_up_requests
		WHERE status = ?
		ORDER BY created_at, id
		LIMIT ?
	`, model.SyncUpPending.String(), limit)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *SyncUpRepositoryImpl) MarkCompleted(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE sync_up_requests
		SET status = ?, processed_at = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, model.SyncUpCompleted.String(), at, at, id, model.SyncUpPending.String())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *SyncUpRepositoryImpl) Get(ctx context.Context, id string) (model.SyncUpRequest, error) {
	var req model.SyncUpRequest
	err := r.db.GetContext(ctx, &req, `
		SELECT id, source_service, message_id, status, processed_at, created_at, updated_at
		FROM sync_up_requests
		WHERE id = ?
	`, id)
	if err != nil {
		return model.SyncUpRequest{}, notFound(err)
	}
	return req, nil
}
