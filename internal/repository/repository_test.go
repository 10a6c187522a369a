package repository

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/labops/relay/internal/db/dbtest"
	"github.com/labops/relay/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)

func outboxRow(id string, at time.Time) model.OutboxEvent {
	return model.OutboxEvent{
		ID:            id,
		AggregateType: "test_order",
		AggregateID:   "TO-" + id,
		EventType:     "TEST_ORDER_CREATED",
		Payload:       []byte(`{"id":"` + id + `"}`),
		Status:        model.OutboxPending,
		CreatedAt:     at,
	}
}

func TestOutbox_InsertRequiresTx(t *testing.T) {
	db := dbtest.Open(t)
	repo := NewOutboxRepository(db)

	err := repo.Insert(context.Background(), nil, outboxRow("a", t0))
	assert.ErrorIs(t, err, ErrNoTransaction)
}

func TestOutbox_RollbackDiscardsRow(t *testing.T) {
	ctx := context.Background()
	db := dbtest.Open(t)
	repo := NewOutboxRepository(db)

	tx, err := db.BeginTxx(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, repo.Insert(ctx, tx, outboxRow("a", t0)))
	require.NoError(t, tx.Rollback())

	_, err = repo.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOutbox_ListPendingAndMarkSent(t *testing.T) {
	ctx := context.Background()
	db := dbtest.Open(t)
	repo := NewOutboxRepository(db)

	tx, err := db.BeginTxx(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, repo.Insert(ctx, tx, outboxRow("b", t0.Add(time.Second))))
	require.NoError(t, repo.Insert(ctx, tx, outboxRow("a", t0)))
	require.NoError(t, repo.Insert(ctx, tx, outboxRow("c", t0.Add(2*time.Second))))
	require.NoError(t, tx.Commit())

	pending, err := repo.ListPending(ctx, 0)
	require.NoError(t, err)
	require.Len(t, pending, 3)
	assert.Equal(t, "a", pending[0].ID)
	assert.Equal(t, "b", pending[1].ID)
	assert.JSONEq(t, `{"id":"a"}`, string(pending[0].Payload))
	assert.Nil(t, pending[0].SentAt)

	limited, err := repo.ListPending(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	sentAt := t0.Add(time.Minute)
	ok, err := repo.MarkSent(ctx, "a", sentAt)
	require.NoError(t, err)
	assert.True(t, ok)

	// second ack is a no-op
	ok, err = repo.MarkSent(ctx, "a", sentAt.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := repo.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, model.OutboxSent, got.Status)
	require.NotNil(t, got.SentAt)
	assert.True(t, sentAt.Equal(*got.SentAt))

	pending, err = repo.ListPending(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, pending, 2)
}

func TestOutbox_ListPendingAfterPagesInOrder(t *testing.T) {
	ctx := context.Background()
	db := dbtest.Open(t)
	repo := NewOutboxRepository(db)

	tx, err := db.BeginTxx(ctx, nil)
	require.NoError(t, err)
	// b1 and b2 share a timestamp; id breaks the tie
	require.NoError(t, repo.Insert(ctx, tx, outboxRow("b2", t0.Add(time.Second))))
	require.NoError(t, repo.Insert(ctx, tx, outboxRow("a", t0)))
	require.NoError(t, repo.Insert(ctx, tx, outboxRow("b1", t0.Add(time.Second))))
	require.NoError(t, repo.Insert(ctx, tx, outboxRow("c", t0.Add(2*time.Second))))
	require.NoError(t, repo.Insert(ctx, tx, outboxRow("d", t0.Add(3*time.Second))))
	require.NoError(t, tx.Commit())

	var seen []string
	var cur PendingCursor
	for {
		page, err := repo.ListPendingAfter(ctx, cur, 2)
		require.NoError(t, err)
		for _, e := range page {
			seen = append(seen, e.ID)
		}
		if len(page) < 2 {
			break
		}
		cur = CursorOf(page[len(page)-1])
	}
	assert.Equal(t, []string{"a", "b1", "b2", "c", "d"}, seen)

	n, err := repo.CountPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	_, err = repo.MarkSent(ctx, "c", t0.Add(time.Minute))
	require.NoError(t, err)
	n, err = repo.CountPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestInbox_ExistsAndUnique(t *testing.T) {
	ctx := context.Background()
	db := dbtest.Open(t)
	repo := NewInboxRepository()

	tx, err := db.BeginTxx(ctx, nil)
	require.NoError(t, err)
	defer func() { _ = tx.Rollback() }()

	seen, err := repo.Exists(ctx, tx, "evt-1")
	require.NoError(t, err)
	assert.False(t, seen)

	row := model.InboxEvent{ID: "01J0000000000000000000000A", EventID: "evt-1", EventType: "X", Payload: []byte(`{}`), ProcessedAt: t0}
	require.NoError(t, repo.Insert(ctx, tx, row))

	seen, err = repo.Exists(ctx, tx, "evt-1")
	require.NoError(t, err)
	assert.True(t, seen)

	row.ID = "01J0000000000000000000000B"
	assert.Error(t, repo.Insert(ctx, tx, row), "event_id must be unique")
}

func TestInbox_RequiresTx(t *testing.T) {
	repo := NewInboxRepository()
	_, err := repo.Exists(context.Background(), nil, "x")
	assert.ErrorIs(t, err, ErrNoTransaction)
	assert.ErrorIs(t, repo.Insert(context.Background(), nil, model.InboxEvent{}), ErrNoTransaction)
}

func TestBrokerHealth_SaveCreatesThenUpdates(t *testing.T) {
	ctx := context.Background()
	db := dbtest.Open(t)
	repo := NewBrokerHealthRepository(db)

	_, err := repo.Get(ctx, "kafka")
	assert.ErrorIs(t, err, ErrNotFound)

	checked := t0
	require.NoError(t, repo.Save(ctx, model.BrokerHealth{
		BrokerName: "kafka", Status: model.BrokerUnhealthy, RetryAttempts: 3, LastCheckedAt: &checked,
	}))

	h, err := repo.Get(ctx, "kafka")
	require.NoError(t, err)
	assert.Equal(t, model.BrokerUnhealthy, h.Status)
	assert.Equal(t, 3, h.RetryAttempts)
	assert.Nil(t, h.RecoveredAt)

	recovered := t0.Add(time.Minute)
	require.NoError(t, repo.Save(ctx, model.BrokerHealth{
		BrokerName: "kafka", Status: model.BrokerHealthy, LastCheckedAt: &recovered, RecoveredAt: &recovered,
	}))

	h, err = repo.Get(ctx, "kafka")
	require.NoError(t, err)
	assert.Equal(t, model.BrokerHealthy, h.Status)
	assert.Equal(t, 0, h.RetryAttempts)
	require.NotNil(t, h.RecoveredAt)
	assert.True(t, recovered.Equal(*h.RecoveredAt))
}

func TestSyncUp_PendingAndComplete(t *testing.T) {
	ctx := context.Background()
	db := dbtest.Open(t)
	repo := NewSyncUpRepository(db)

	msg, err := model.EncodeLookupKeys([]string{"BC-1", "BC-2"})
	require.NoError(t, err)
	req := model.SyncUpRequest{
		ID: "01J0000000000000000000000C", SourceService: "instruments", MessageID: msg,
		Status: model.SyncUpPending, CreatedAt: t0, UpdatedAt: t0,
	}
	require.NoError(t, repo.Insert(ctx, req))

	pending, err := repo.ListPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	keys, err := pending[0].LookupKeys()
	require.NoError(t, err)
	assert.Equal(t, []string{"BC-1", "BC-2"}, keys)

	ok, err := repo.MarkCompleted(ctx, req.ID, t0.Add(time.Second))
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = repo.MarkCompleted(ctx, req.ID, t0.Add(2*time.Second))
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := repo.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SyncUpCompleted, got.Status)
	assert.NotNil(t, got.ProcessedAt)

	pending, err = repo.ListPending(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestBuildDeliveredQuery(t *testing.T) {
	q, args := buildDeliveredQuery(EventFilter{Source: "test-orders", EventType: "NOT_FOUND", Limit: 5000, Offset: -1})

	assert.Contains(t, q, "AND source = ?")
	assert.Contains(t, q, "AND event_type = ?")
	assert.NotContains(t, q, "aggregate_id = ?")
	assert.True(t, strings.HasSuffix(strings.TrimSpace(q), "LIMIT ? OFFSET ?"))
	assert.Equal(t, []any{"test-orders", "NOT_FOUND", 50, 0}, args)
}

func TestBrokerHealth_List(t *testing.T) {
	ctx := context.Background()
	repo := NewBrokerHealthRepository(dbtest.Open(t))

	for _, name := range []string{"kafka-b", "kafka-a"} {
		require.NoError(t, repo.Save(ctx, model.BrokerHealth{BrokerName: name, Status: model.BrokerHealthy}))
	}

	rows, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "kafka-a", rows[0].BrokerName)
}
