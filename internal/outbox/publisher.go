package outbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/labops/relay/internal/logger"
	"github.com/labops/relay/internal/metrics"
	"github.com/labops/relay/internal/model"
	"github.com/labops/relay/internal/repository"
	"go.uber.org/zap"
)

// Sender delivers one envelope and returns once the broker has acknowledged it.
type Sender interface {
	Send(ctx context.Context, topic, key string, env model.Envelope) error
}

// HealthReader exposes the breaker state maintained by the health monitor.
type HealthReader interface {
	Status(broker string) model.BrokerStatus
}

type PublisherConfig struct {
	Source       string // service name stamped on every envelope
	Broker       string // BrokerHealth key gating this publisher
	PollInterval time.Duration
	BatchSize    int // page size; each tick pages through every PENDING row. 0 = single query
	MaxInFlight  int
	SendTimeout  time.Duration
	WarnEvery    time.Duration
}

// Publisher drains PENDING outbox rows to the broker on a fixed-delay loop.
type Publisher struct {
	repo     repository.OutboxRepository
	sender   Sender
	resolver TopicResolver
	health   HealthReader
	cfg      PublisherConfig
	log      *zap.Logger
	warn     *logger.Throttler
	now      func() time.Time

	sem      chan struct{}
	inFlight sync.Map // outbox id -> struct{}
	wg       sync.WaitGroup
}

func NewPublisher(
	repo repository.OutboxRepository,
	sender Sender,
	resolver TopicResolver,
	health HealthReader,
	cfg PublisherConfig,
	log *zap.Logger,
) *Publisher {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = 64
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	log = log.With(zap.String("component", "outbox-publisher"))

	return &Publisher{
		repo:     repo,
		sender:   sender,
		resolver: resolver,
		health:   health,
		cfg:      cfg,
		log:      log,
		warn:     logger.NewThrottler(log, cfg.WarnEvery),
		now:      time.Now,
		sem:      make(chan struct{}, cfg.MaxInFlight),
	}
}

// Run ticks until ctx is cancelled, then waits for in-flight sends.
func (p *Publisher) Run(ctx context.Context) error {
	p.log.Info("publisher started",
		zap.Duration("poll_interval", p.cfg.PollInterval),
		zap.Int("max_in_flight", p.cfg.MaxInFlight),
	)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			p.log.Info("publisher stopping, waiting for in-flight sends")
			p.Wait()
			return nil
		case <-timer.C:
			if err := p.Tick(ctx); err != nil && !errors.Is(err, context.Canceled) {
				p.log.Error("publisher tick failed", zap.Error(err))
			}
			timer.Reset(p.cfg.PollInterval)
		}
	}
}

// Tick runs one publishing pass. Sends are started asynchronously; use Wait
// to block until they complete.
func (p *Publisher) Tick(ctx context.Context) error {
	if p.health.Status(p.cfg.Broker) == model.BrokerUnhealthy {
		p.log.Debug("broker unhealthy, skipping tick", zap.String("broker", p.cfg.Broker))
		return nil
	}

	p.reportBacklog(ctx)

	// Page past rows that cannot be sent (unroutable or still in flight) so
	// they never hide routable rows queued behind them.
	var cursor repository.PendingCursor
	for {
		events, err := p.repo.ListPendingAfter(ctx, cursor, p.cfg.BatchSize)
		if err != nil {
			return fmt.Errorf("list pending outbox events: %w", err)
		}
		for _, e := range events {
			if err := p.dispatch(ctx, e); err != nil {
				return err
			}
		}
		if p.cfg.BatchSize <= 0 || len(events) < p.cfg.BatchSize {
			return nil
		}
		cursor = repository.CursorOf(events[len(events)-1])
	}
}

func (p *Publisher) reportBacklog(ctx context.Context) {
	n, err := p.repo.CountPending(ctx)
	if err != nil {
		p.log.Warn("count pending outbox events failed", zap.Error(err))
		return
	}
	metrics.OutboxPending.Set(float64(n))
}

// dispatch starts an asynchronous send of e unless it is unroutable or
// already in flight.
func (p *Publisher) dispatch(ctx context.Context, e model.OutboxEvent) error {
	topic, ok := p.resolver.Resolve(e.EventType)
	if !ok {
		metrics.OutboxEventsTotal.WithLabelValues(e.EventType, "unroutable").Inc()
		p.warn.Warn("unroutable:"+e.EventType, "no topic for event type, leaving PENDING",
			zap.String("event_type", e.EventType),
			zap.String("event_id", e.ID),
		)
		return nil
	}

	if _, busy := p.inFlight.LoadOrStore(e.ID, struct{}{}); busy {
		return nil
	}

	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		p.inFlight.Delete(e.ID)
		return ctx.Err()
	}

	p.wg.Add(1)
	go p.send(context.WithoutCancel(ctx), topic, e)
	return nil
}

// Wait blocks until every send started by Tick has finished.
func (p *Publisher) Wait() { p.wg.Wait() }

func (p *Publisher) send(ctx context.Context, topic string, e model.OutboxEvent) {
	defer p.wg.Done()
	defer func() { <-p.sem }()
	defer p.inFlight.Delete(e.ID)

	sendCtx, cancel := context.WithTimeout(ctx, p.cfg.SendTimeout)
	defer cancel()

	env := model.NewEnvelope(p.cfg.Source, e)
	if err := p.sender.Send(sendCtx, topic, e.AggregateID, env); err != nil {
		metrics.OutboxEventsTotal.WithLabelValues(e.EventType, "failed").Inc()
		p.log.Warn("send failed, will retry next tick",
			zap.String("event_id", e.ID),
			zap.String("event_type", e.EventType),
			zap.String("topic", topic),
			zap.Error(err),
		)
		return
	}

	changed, err := p.repo.MarkSent(ctx, e.ID, p.now().UTC())
	if err != nil {
		// acked but not marked: the next tick re-sends and consumers dedup
		p.log.Error("mark sent failed",
			zap.String("event_id", e.ID),
			zap.Error(err),
		)
		return
	}
	if changed {
		metrics.OutboxEventsTotal.WithLabelValues(e.EventType, "sent").Inc()
	}
	p.log.Debug("event sent",
		zap.String("event_id", e.ID),
		zap.String("topic", topic),
		zap.Bool("marked", changed),
	)
}
