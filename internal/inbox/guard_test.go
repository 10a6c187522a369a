package inbox

import (
	"context"
	"errors"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"github.com/labops/relay/internal/db/dbtest"
	"github.com/labops/relay/internal/model"
	"github.com/labops/relay/internal/outbox"
	"github.com/labops/relay/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func envelope(id string) model.Envelope {
	return model.Envelope{EventID: id, EventType: "PATIENT_UPDATED", Source: "patients", Payload: []byte(`{}`)}
}

// countingHandler records one outbox event per call so its effect is visible
// in the database.
func countingHandler(w *outbox.Writer, calls *int) Handler {
	return func(ctx context.Context, tx *sqlx.Tx, env model.Envelope) error {
		*calls++
		_, err := w.Record(ctx, tx, "patient", env.EventID, "PATIENT_SNAPSHOT_TAKEN", map[string]string{"from": env.EventID})
		return err
	}
}

func pendingCount(t *testing.T, repo repository.OutboxRepository) int {
	t.Helper()
	rows, err := repo.ListPending(context.Background(), 0)
	require.NoError(t, err)
	return len(rows)
}

func TestGuard_SameEventIDHandledOnce(t *testing.T) {
	ctx := context.Background()
	db := dbtest.Open(t)
	outboxRepo := repository.NewOutboxRepository(db)
	g := NewGuard(db, repository.NewInboxRepository(), zap.NewNop())

	var calls int
	h := countingHandler(outbox.NewWriter(outboxRepo), &calls)

	processed, err := g.Handle(ctx, envelope("evt-1"), []byte(`{"raw":1}`), h)
	require.NoError(t, err)
	assert.True(t, processed)

	processed, err = g.Handle(ctx, envelope("evt-1"), []byte(`{"raw":1}`), h)
	require.NoError(t, err)
	assert.False(t, processed)

	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, pendingCount(t, outboxRepo))

	row, err := repository.GetInboxEvent(ctx, db, "evt-1")
	require.NoError(t, err)
	assert.Equal(t, "PATIENT_UPDATED", row.EventType)
	assert.JSONEq(t, `{"raw":1}`, string(row.Payload))
}

func TestGuard_DistinctEventIDsBothHandled(t *testing.T) {
	ctx := context.Background()
	db := dbtest.Open(t)
	outboxRepo := repository.NewOutboxRepository(db)
	g := NewGuard(db, repository.NewInboxRepository(), zap.NewNop())

	var calls int
	h := countingHandler(outbox.NewWriter(outboxRepo), &calls)

	for _, id := range []string{"evt-1", "evt-2"} {
		processed, err := g.Handle(ctx, envelope(id), nil, h)
		require.NoError(t, err)
		assert.True(t, processed)
	}

	assert.Equal(t, 2, calls)
	assert.Equal(t, 2, pendingCount(t, outboxRepo))
}

func TestGuard_HandlerErrorRollsBackEverything(t *testing.T) {
	ctx := context.Background()
	db := dbtest.Open(t)
	outboxRepo := repository.NewOutboxRepository(db)
	w := outbox.NewWriter(outboxRepo)
	g := NewGuard(db, repository.NewInboxRepository(), zap.NewNop())

	boom := errors.New("patient locked")
	failing := func(ctx context.Context, tx *sqlx.Tx, env model.Envelope) error {
		if _, err := w.Record(ctx, tx, "patient", "P-1", "PATIENT_SNAPSHOT_TAKEN", 1); err != nil {
			return err
		}
		return boom
	}

	processed, err := g.Handle(ctx, envelope("evt-1"), nil, failing)
	assert.ErrorIs(t, err, boom)
	assert.False(t, processed)
	assert.Equal(t, 0, pendingCount(t, outboxRepo))

	_, err = repository.GetInboxEvent(ctx, db, "evt-1")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	// redelivery retries from scratch
	var calls int
	processed, err = g.Handle(ctx, envelope("evt-1"), nil, countingHandler(w, &calls))
	require.NoError(t, err)
	assert.True(t, processed)
	assert.Equal(t, 1, calls)
}

func TestGuard_MissingEventID(t *testing.T) {
	g := NewGuard(dbtest.Open(t), repository.NewInboxRepository(), zap.NewNop())
	called := false
	_, err := g.Handle(context.Background(), model.Envelope{EventType: "X"}, nil,
		func(context.Context, *sqlx.Tx, model.Envelope) error { called = true; return nil })
	assert.ErrorIs(t, err, ErrMissingEventID)
	assert.False(t, called)
}

// racingInbox simulates a concurrent consumer committing the same eventId
// between our existence check and our insert.
type racingInbox struct{}

func (racingInbox) Exists(context.Context, *sqlx.Tx, string) (bool, error) { return false, nil }
func (racingInbox) Insert(context.Context, *sqlx.Tx, model.InboxEvent) error {
	return &mysql.MySQLError{Number: 1062, Message: "Duplicate entry 'evt-1' for key 'ux_inbox_event_id'"}
}

func TestGuard_ConcurrentDuplicateIsNoop(t *testing.T) {
	ctx := context.Background()
	db := dbtest.Open(t)
	outboxRepo := repository.NewOutboxRepository(db)
	g := NewGuard(db, racingInbox{}, zap.NewNop())

	var calls int
	processed, err := g.Handle(ctx, envelope("evt-1"), nil, countingHandler(outbox.NewWriter(outboxRepo), &calls))
	require.NoError(t, err)
	assert.False(t, processed)
	assert.Equal(t, 0, pendingCount(t, outboxRepo), "side effect rolled back with the losing tx")
}

func TestRouter(t *testing.T) {
	r := NewRouter()
	noop := func(context.Context, *sqlx.Tx, model.Envelope) error { return nil }
	r.Register("A", noop).Register("B", noop)

	_, ok := r.Lookup("A")
	assert.True(t, ok)
	_, ok = r.Lookup("C")
	assert.False(t, ok)
	assert.ElementsMatch(t, []string{"A", "B"}, r.EventTypes())
	assert.Panics(t, func() { r.Register("A", noop) })
}
