package repository

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/labops/relay/internal/model"
)

// BrokerHealthRepository stores one message_broker_health row per broker.
type BrokerHealthRepository interface {
	Get(ctx context.Context, broker string) (model.BrokerHealth, error)
	Save(ctx context.Context, h model.BrokerHealth) error
	List(ctx context.Context) ([]model.BrokerHealth, error)
}

type BrokerHealthRepositoryImpl struct {
	db *sqlx.DB
}

func NewBrokerHealthRepository(db *sqlx.DB) *BrokerHealthRepositoryImpl {
	return &BrokerHealthRepositoryImpl{db: db}
}

var _ BrokerHealthRepository = (*BrokerHealthRepositoryImpl)(nil)

// Get returns ErrNotFound before the first check has been recorded.
func (r *BrokerHealthRepositoryImpl) Get(ctx context.Context, broker string) (model.BrokerHealth, error) {
	var h model.BrokerHealth
	err := r.db.GetContext(ctx, &h, `
		SELECT broker_name, status, retry_attempts, last_checked_at, recovered_at
		FROM message_broker_health
		WHERE broker_name = ?
	`, broker)
	if err != nil {
		return model.BrokerHealth{}, notFound(err)
	}
	return h, nil
}

// Save creates the row lazily on first check and overwrites it afterwards.
func (r *BrokerHealthRepositoryImpl) Save(ctx context.Context, h model.BrokerHealth) error {
	return withTx(ctx, r.db, nil, func(tx *sqlx.Tx) error {
		var n int
		if err := tx.QueryRowxContext(ctx,
			`SELECT COUNT(*) FROM message_broker_health WHERE broker_name = ?`, h.BrokerName,
		).Scan(&n); err != nil {
			return err
		}

		if n == 0 {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO message_broker_health (broker_name, status, retry_attempts, last_checked_at, recovered_at)
				VALUES (?, ?, ?, ?, ?)
			`, h.BrokerName, h.Status.String(), h.RetryAttempts, h.LastCheckedAt, h.RecoveredAt)
			return err
		}

		_, err := tx.ExecContext(ctx, `
			UPDATE message_broker_health
			SET status = ?, retry_attempts = ?, last_checked_at = ?, recovered_at = ?
			WHERE broker_name = ?
		`, h.Status.String(), h.RetryAttempts, h.LastCheckedAt, h.RecoveredAt, h.BrokerName)
		return err
	})
}

func (r *BrokerHealthRepositoryImpl) List(ctx context.Context) ([]model.BrokerHealth, error) {
	var rows []model.BrokerHealth
	err := r.db.SelectContext(ctx, &rows, `
		SELECT broker_name, status, retry_attempts, last_checked_at, recovered_at
		FROM message_broker_health
		ORDER BY broker_name
	`)
	if err != nil {
		return nil, err
	}
	return rows, nil
}
