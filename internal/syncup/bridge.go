package syncup

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/labops/relay/internal/inbox"
	"github.com/labops/relay/internal/metrics"
	"github.com/labops/relay/internal/model"
	"github.com/labops/relay/internal/outbox"
	"github.com/labops/relay/internal/util"
	"go.uber.org/zap"
)

// Event types emitted by the bridge.
const (
	EventResultSynced = "RESULT_SYNCED"
	EventNotFound     = "NOT_FOUND"
	EventSyncFailed   = "SYNC_FAILED"
)

// TriggerPayload is the payload of the inbound event that starts a sync.
type TriggerPayload struct {
	LookupKey string `json:"lookupKey"`
	Limit     int    `json:"limit,omitempty"`
}

type ResultSyncedPayload struct {
	LookupKey string `json:"lookupKey"`
	Result    Result `json:"result"`
}

type NotFoundPayload struct {
	LookupKey string `json:"lookupKey"`
}

type SyncFailedPayload struct {
	LookupKey string `json:"lookupKey"`
	Error     string `json:"error"`
}

// Outcome describes what one Sync call recorded.
type Outcome struct {
	EventType string // RESULT_SYNCED, NOT_FOUND or SYNC_FAILED
	Events    []model.OutboxEvent
}

// Bridge calls the remote lookup and re-emits its results as outbox events
// in the caller's transaction.
type Bridge struct {
	rpc           RPCClient
	writer        *outbox.Writer
	aggregateType string
	defaultLimit  int
	log           *zap.Logger
}

func NewBridge(rpc RPCClient, writer *outbox.Writer, aggregateType string, defaultLimit int, log *zap.Logger) *Bridge {
	if aggregateType == "" {
		aggregateType = "lab_result"
	}
	if defaultLimit <= 0 {
		defaultLimit = 50
	}
	return &Bridge{
		rpc:           rpc,
		writer:        writer,
		aggregateType: aggregateType,
		defaultLimit:  defaultLimit,
		log:           log.With(zap.String("component", "syncup-bridge")),
	}
}

// Sync records one RESULT_SYNCED event per streamed result, a single
// NOT_FOUND when the stream is empty, or a single SYNC_FAILED when the call
// fails at any point. RPC failures are never returned; only outbox write
// errors are, and the caller must then roll back tx.
func (b *Bridge) Sync(ctx context.Context, tx *sqlx.Tx, lookupKey string, limit int) (Outcome, error) {
	if limit <= 0 {
		limit = b.defaultLimit
	}

	results, err := b.rpc.Stream(ctx, Request{LookupKey: lookupKey, Limit: limit})
	if err != nil {
		b.log.Warn("sync-up call failed",
			zap.String("lookup_key", lookupKey),
			zap.Error(err),
		)
		return b.record(ctx, tx, lookupKey, EventSyncFailed, SyncFailedPayload{LookupKey: lookupKey, Error: err.Error()})
	}

	if len(results) > limit {
		b.log.Warn("sync-up remote ignored limit, truncating",
			zap.String("lookup_key", lookupKey),
			zap.Int("limit", limit),
			zap.Int("received", len(results)),
		)
		results = results[:limit]
	}

	if len(results) == 0 {
		return b.record(ctx, tx, lookupKey, EventNotFound, NotFoundPayload{LookupKey: lookupKey})
	}

	out := Outcome{EventType: EventResultSynced, Events: make([]model.OutboxEvent, 0, len(results))}
	for _, r := range results {
		e, err := b.writer.Record(ctx, tx, b.aggregateType, lookupKey, EventResultSynced, ResultSyncedPayload{LookupKey: lookupKey, Result: r})
		if err != nil {
			return Outcome{}, fmt.Errorf("record %s for %s: %w", EventResultSynced, lookupKey, err)
		}
		out.Events = append(out.Events, e)
	}
	metrics.SyncUpEventsTotal.WithLabelValues(EventResultSynced).Add(float64(len(results)))

	b.log.Debug("sync-up results recorded",
		zap.String("lookup_key", lookupKey),
		zap.Int("results", len(results)),
	)
	return out, nil
}

func (b *Bridge) record(ctx context.Context, tx *sqlx.Tx, lookupKey, eventType string, payload any) (Outcome, error) {
	e, err := b.writer.Record(ctx, tx, b.aggregateType, lookupKey, eventType, payload)
	if err != nil {
		return Outcome{}, fmt.Errorf("record %s for %s: %w", eventType, lookupKey, err)
	}
	metrics.SyncUpEventsTotal.WithLabelValues(eventType).Inc()
	return Outcome{EventType: eventType, Events: []model.OutboxEvent{e}}, nil
}

// Handle is the inbox handler for the trigger event.
func (b *Bridge) Handle(ctx context.Context, tx *sqlx.Tx, env model.Envelope) error {
	var p TriggerPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return fmt.Errorf("%w: decode sync-up trigger: %v", inbox.ErrRejected, err)
	}
	key := util.NormalizeLookupKey(p.LookupKey)
	if key == "" {
		return fmt.Errorf("%w: sync-up trigger without lookupKey", inbox.ErrRejected)
	}

	_, err := b.Sync(ctx, tx, key, p.Limit)
	return err
}

var _ inbox.Handler = (*Bridge)(nil).Handle
