// Package inbox makes broker consumers idempotent: each inbound eventId
// produces its side effect at most once per database.
package inbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/labops/relay/internal/db"
	"github.com/labops/relay/internal/metrics"
	"github.com/labops/relay/internal/model"
	"github.com/labops/relay/internal/repository"
	"github.com/labops/relay/internal/util"
	"go.uber.org/zap"
)

var (
	ErrMissingEventID = errors.New("inbox: envelope has no eventId")
	// ErrRejected marks a handler failure that redelivery cannot fix, such as
	// a malformed payload. Consumers skip such events instead of retrying.
	ErrRejected = errors.New("inbox: event rejected")
)

// Handler applies the domain side effect of env inside tx. Outbox events it
// records through tx commit together with the inbox row.
type Handler func(ctx context.Context, tx *sqlx.Tx, env model.Envelope) error

// Guard runs handlers behind an inbox dedup check.
type Guard struct {
	db        *sqlx.DB
	repo      repository.InboxRepository
	log       *zap.Logger
	now       func() time.Time
	newID     func() string
	duplicate func(error) bool
}

func NewGuard(dbx *sqlx.DB, repo repository.InboxRepository, log *zap.Logger) *Guard {
	return &Guard{
		db:        dbx,
		repo:      repo,
		log:       log.With(zap.String("component", "inbox-guard")),
		now:       time.Now,
		newID:     util.NewULID,
		duplicate: db.IsDuplicateKey,
	}
}

// Handle processes env once. processed is false for duplicates, which are not
// errors. A handler error rolls back the whole transaction, inbox row
// included, so redelivery retries from scratch.
func (g *Guard) Handle(ctx context.Context, env model.Envelope, raw []byte, h Handler) (processed bool, err error) {
	if env.EventID == "" {
		return false, ErrMissingEventID
	}

	tx, err := g.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin inbox tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	seen, err := g.repo.Exists(ctx, tx, env.EventID)
	if err != nil {
		return false, fmt.Errorf("inbox lookup %s: %w", env.EventID, err)
	}
	if seen {
		g.duplicateSkipped(env)
		return false, nil
	}

	if err := h(ctx, tx, env); err != nil {
		metrics.InboxEventsTotal.WithLabelValues(env.EventType, "failed").Inc()
		return false, fmt.Errorf("handle %s %s: %w", env.EventType, env.EventID, err)
	}

	if raw == nil {
		raw = []byte("{}")
	}
	row := model.InboxEvent{
		ID:          g.newID(),
		EventID:     env.EventID,
		EventType:   env.EventType,
		Payload:     raw,
		ProcessedAt: g.now().UTC(),
	}
	if err := g.repo.Insert(ctx, tx, row); err != nil {
		if g.duplicate(err) {
			// a concurrent delivery committed first
			g.duplicateSkipped(env)
			return false, nil
		}
		return false, fmt.Errorf("inbox insert %s: %w", env.EventID, err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit inbox tx %s: %w", env.EventID, err)
	}

	metrics.InboxEventsTotal.WithLabelValues(env.EventType, "processed").Inc()
	return true, nil
}

func (g *Guard) duplicateSkipped(env model.Envelope) {
	metrics.InboxEventsTotal.WithLabelValues(env.EventType, "duplicate").Inc()
	g.log.Debug("duplicate event skipped",
		zap.String("event_id", env.EventID),
		zap.String("event_type", env.EventType),
		zap.String("source", env.Source),
	)
}
