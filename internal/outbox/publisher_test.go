package outbox

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/labops/relay/internal/db/dbtest"
	"github.com/labops/relay/internal/metrics"
	"github.com/labops/relay/internal/model"
	"github.com/labops/relay/internal/repository"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type sentMessage struct {
	topic string
	key   string
	env   model.Envelope
}

type fakeSender struct {
	mu    sync.Mutex
	sent  []sentMessage
	calls int
	err   error
	gate  chan struct{} // when set, Send blocks until closed
}

func (s *fakeSender) Send(ctx context.Context, topic, key string, env model.Envelope) error {
	s.mu.Lock()
	s.calls++
	gate, err := s.gate, s.err
	s.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.sent = append(s.sent, sentMessage{topic: topic, key: key, env: env})
	s.mu.Unlock()
	return nil
}

func (s *fakeSender) snapshot() (int, []sentMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls, append([]sentMessage(nil), s.sent...)
}

type fakeHealth struct {
	mu     sync.Mutex
	status model.BrokerStatus
}

func (h *fakeHealth) Status(string) model.BrokerStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

func (h *fakeHealth) set(s model.BrokerStatus) {
	h.mu.Lock()
	h.status = s
	h.mu.Unlock()
}

type publisherFixture struct {
	db     *sqlx.DB
	repo   *repository.OutboxRepositoryImpl
	writer *Writer
	sender *fakeSender
	health *fakeHealth
	pub    *Publisher
}

func newPublisherFixture(t *testing.T, table map[string]string) *publisherFixture {
	t.Helper()
	db := dbtest.Open(t)
	repo := repository.NewOutboxRepository(db)
	f := &publisherFixture{
		db:     db,
		repo:   repo,
		writer: NewWriter(repo),
		sender: &fakeSender{},
		health: &fakeHealth{status: model.BrokerHealthy},
	}
	f.pub = NewPublisher(repo, f.sender, NewStaticResolver(table), f.health, PublisherConfig{
		Source:      "test-orders",
		Broker:      "kafka",
		MaxInFlight: 4,
		SendTimeout: time.Second,
	}, zap.NewNop())
	return f
}

func (f *publisherFixture) record(t *testing.T, aggregateID, eventType string, payload any) model.OutboxEvent {
	t.Helper()
	ctx := context.Background()
	tx, err := f.db.BeginTxx(ctx, nil)
	require.NoError(t, err)
	e, err := f.writer.Record(ctx, tx, "test_order", aggregateID, eventType, payload)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	return e
}

func (f *publisherFixture) status(t *testing.T, id string) model.OutboxStatus {
	t.Helper()
	e, err := f.repo.Get(context.Background(), id)
	require.NoError(t, err)
	return e.Status
}

func TestPublisher_RoundTrip(t *testing.T) {
	f := newPublisherFixture(t, map[string]string{"X": "topic-1"})
	e := f.record(t, "TO-1", "X", map[string]string{"p": "P"})

	require.NoError(t, f.pub.Tick(context.Background()))
	f.pub.Wait()

	assert.Equal(t, model.OutboxSent, f.status(t, e.ID))

	_, sent := f.sender.snapshot()
	require.Len(t, sent, 1)
	assert.Equal(t, "topic-1", sent[0].topic)
	assert.Equal(t, "TO-1", sent[0].key)
	assert.Equal(t, e.ID, sent[0].env.EventID)
	assert.Equal(t, "test-orders", sent[0].env.Source)
	assert.JSONEq(t, `{"p":"P"}`, string(sent[0].env.Payload))

	// SENT rows are not picked up again
	require.NoError(t, f.pub.Tick(context.Background()))
	f.pub.Wait()
	calls, _ := f.sender.snapshot()
	assert.Equal(t, 1, calls)
}

func TestPublisher_UnhealthySkipsThenDrains(t *testing.T) {
	f := newPublisherFixture(t, map[string]string{"X": "topic-1"})
	a := f.record(t, "TO-1", "X", 1)
	b := f.record(t, "TO-2", "X", 2)

	f.health.set(model.BrokerUnhealthy)
	require.NoError(t, f.pub.Tick(context.Background()))
	f.pub.Wait()

	calls, _ := f.sender.snapshot()
	assert.Zero(t, calls)
	assert.Equal(t, model.OutboxPending, f.status(t, a.ID))

	f.health.set(model.BrokerHealthy)
	require.NoError(t, f.pub.Tick(context.Background()))
	f.pub.Wait()

	assert.Equal(t, model.OutboxSent, f.status(t, a.ID))
	assert.Equal(t, model.OutboxSent, f.status(t, b.ID))
}

func TestPublisher_UnknownHealthStillPublishes(t *testing.T) {
	f := newPublisherFixture(t, map[string]string{"X": "topic-1"})
	e := f.record(t, "TO-1", "X", 1)
	f.health.set(model.BrokerUnknown)

	require.NoError(t, f.pub.Tick(context.Background()))
	f.pub.Wait()

	assert.Equal(t, model.OutboxSent, f.status(t, e.ID))
}

func TestPublisher_UnroutableStaysPending(t *testing.T) {
	f := newPublisherFixture(t, map[string]string{"X": "topic-1"})
	routed := f.record(t, "TO-1", "X", 1)
	stuck := f.record(t, "TO-2", "UNMAPPED", 2)

	require.NoError(t, f.pub.Tick(context.Background()))
	f.pub.Wait()

	assert.Equal(t, model.OutboxSent, f.status(t, routed.ID))
	assert.Equal(t, model.OutboxPending, f.status(t, stuck.ID))
}

func TestPublisher_UnroutableBacklogDoesNotBlockLaterEvents(t *testing.T) {
	f := newPublisherFixture(t, map[string]string{"X": "topic-1"})
	f.pub.cfg.BatchSize = 2

	clock := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	f.writer.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	a := f.record(t, "TO-1", "UNMAPPED", 1)
	b := f.record(t, "TO-2", "UNMAPPED", 2)
	c := f.record(t, "TO-3", "X", 3)

	require.NoError(t, f.pub.Tick(context.Background()))
	f.pub.Wait()

	assert.Equal(t, float64(3), testutil.ToFloat64(metrics.OutboxPending))
	assert.Equal(t, model.OutboxPending, f.status(t, a.ID))
	assert.Equal(t, model.OutboxPending, f.status(t, b.ID))
	assert.Equal(t, model.OutboxSent, f.status(t, c.ID))

	_, sent := f.sender.snapshot()
	require.Len(t, sent, 1)
	assert.Equal(t, c.ID, sent[0].env.EventID)

	require.NoError(t, f.pub.Tick(context.Background()))
	f.pub.Wait()
	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.OutboxPending))
}

func TestPublisher_SendFailureLeavesPending(t *testing.T) {
	f := newPublisherFixture(t, map[string]string{"X": "topic-1"})
	e := f.record(t, "TO-1", "X", 1)
	f.sender.err = errors.New("leader not available")

	require.NoError(t, f.pub.Tick(context.Background()))
	f.pub.Wait()
	assert.Equal(t, model.OutboxPending, f.status(t, e.ID))

	f.sender.mu.Lock()
	f.sender.err = nil
	f.sender.mu.Unlock()

	require.NoError(t, f.pub.Tick(context.Background()))
	f.pub.Wait()
	assert.Equal(t, model.OutboxSent, f.status(t, e.ID))
}

func TestPublisher_NoDuplicateInFlightSend(t *testing.T) {
	f := newPublisherFixture(t, map[string]string{"X": "topic-1"})
	e := f.record(t, "TO-1", "X", 1)
	gate := make(chan struct{})
	f.sender.gate = gate

	require.NoError(t, f.pub.Tick(context.Background()))
	require.Eventually(t, func() bool {
		calls, _ := f.sender.snapshot()
		return calls == 1
	}, time.Second, 5*time.Millisecond)

	// still PENDING and still in flight: a second tick must not resend
	require.NoError(t, f.pub.Tick(context.Background()))

	close(gate)
	f.pub.Wait()

	calls, _ := f.sender.snapshot()
	assert.Equal(t, 1, calls)
	assert.Equal(t, model.OutboxSent, f.status(t, e.ID))
}

func TestPublisher_RunDrainsOnShutdown(t *testing.T) {
	f := newPublisherFixture(t, map[string]string{"X": "topic-1"})
	e := f.record(t, "TO-1", "X", 1)
	gate := make(chan struct{})
	f.sender.gate = gate
	f.pub.cfg.PollInterval = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.pub.Run(ctx) }()

	require.Eventually(t, func() bool {
		calls, _ := f.sender.snapshot()
		return calls == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
		t.Fatal("Run returned while a send was still in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(gate)
	require.NoError(t, <-done)
	assert.Equal(t, model.OutboxSent, f.status(t, e.ID))
}
