// Package outbox records events inside business transactions and drains them
// to the broker.
package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/labops/relay/internal/model"
	"github.com/labops/relay/internal/repository"
	"github.com/labops/relay/internal/util"
)

var (
	// ErrNoTransaction is returned when Record is called outside a transaction.
	ErrNoTransaction = errors.New("outbox: record requires an open transaction")
	// ErrSerialize means the payload could not be encoded; the caller must
	// roll back its transaction.
	ErrSerialize = errors.New("outbox: serialize payload")
)

// Writer appends outbox rows. It never touches the network.
type Writer struct {
	repo  repository.OutboxRepository
	now   func() time.Time
	newID func() string
}

func NewWriter(repo repository.OutboxRepository) *Writer {
	return &Writer{
		repo:  repo,
		now:   time.Now,
		newID: util.NewEventID,
	}
}

// Record writes a PENDING event in tx. payload is JSON-encoded unless it is
// json.RawMessage or []byte, which are taken as pre-encoded JSON and must be
// valid.
func (w *Writer) Record(ctx context.Context, tx *sqlx.Tx, aggregateType, aggregateID, eventType string, payload any) (model.OutboxEvent, error) {
	if tx == nil {
		return model.OutboxEvent{}, ErrNoTransaction
	}
	if aggregateType == "" || eventType == "" {
		return model.OutboxEvent{}, fmt.Errorf("outbox: aggregate type and event type are required")
	}

	b, err := encodePayload(payload)
	if err != nil {
		return model.OutboxEvent{}, fmt.Errorf("%w: %s/%s: %v", ErrSerialize, aggregateType, eventType, err)
	}

	e := model.OutboxEvent{
		ID:            w.newID(),
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       b,
		Status:        model.OutboxPending,
		CreatedAt:     w.now().UTC(),
	}
	if err := w.repo.Insert(ctx, tx, e); err != nil {
		return model.OutboxEvent{}, fmt.Errorf("insert outbox event: %w", err)
	}
	return e, nil
}

func encodePayload(payload any) ([]byte, error) {
	var raw []byte
	switch v := payload.(type) {
	case json.RawMessage:
		raw = v
	case []byte:
		raw = v
	default:
		return json.Marshal(payload)
	}
	if !json.Valid(raw) {
		return nil, errors.New("invalid raw JSON")
	}
	return raw, nil
}

// Recorder binds a Writer to one aggregate type and payload type.
type Recorder[P any] struct {
	w             *Writer
	aggregateType string
}

func NewRecorder[P any](w *Writer, aggregateType string) Recorder[P] {
	return Recorder[P]{w: w, aggregateType: aggregateType}
}

func (r Recorder[P]) Record(ctx context.Context, tx *sqlx.Tx, aggregateID, eventType string, payload P) (model.OutboxEvent, error) {
	return r.w.Record(ctx, tx, r.aggregateType, aggregateID, eventType, payload)
}
