package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/labops/relay/internal/inbox"
	"github.com/labops/relay/internal/kafka"
	"github.com/labops/relay/internal/metrics"
	"github.com/labops/relay/internal/model"
	"go.uber.org/zap"
)

// MessageSource is the subset of kafka.Consumer the worker needs.
type MessageSource interface {
	Fetch(ctx context.Context) (kafka.Message, error)
	Commit(ctx context.Context, m kafka.Message) error
}

// Deduper runs a handler behind the inbox check.
type Deduper interface {
	Handle(ctx context.Context, env model.Envelope, raw []byte, h inbox.Handler) (bool, error)
}

// Consumer:
// - fetches envelopes from Kafka,
// - routes them by event type through the inbox guard,
// - commits the offset only once the event is handled or deliberately skipped.
//
// Messages of one partition are processed serially so offsets commit in order;
// different partitions run in parallel.
type Consumer struct {
	Source MessageSource
	Guard  Deduper
	Router *inbox.Router
	Log    *zap.Logger

	Workers         int           // partition processors
	RetryMaxElapsed time.Duration // 0 = retry a failing handler until shutdown
	RetryInitial    time.Duration
}

func NewConsumer(src MessageSource, guard Deduper, router *inbox.Router, log *zap.Logger) *Consumer {
	return &Consumer{
		Source:       src,
		Guard:        guard,
		Router:       router,
		Log:          log.With(zap.String("component", "consumer")),
		Workers:      4,
		RetryInitial: 500 * time.Millisecond,
	}
}

// Run blocks until ctx is cancelled and every processor has returned.
func (c *Consumer) Run(ctx context.Context) error {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.RetryInitial <= 0 {
		c.RetryInitial = 500 * time.Millisecond
	}

	lanes := make([]chan kafka.Message, c.Workers)
	var wg sync.WaitGroup
	for i := range lanes {
		lanes[i] = make(chan kafka.Message, 16)
		wg.Add(1)
		go func(in <-chan kafka.Message) {
			defer wg.Done()
			c.runProcessor(ctx, in)
		}(lanes[i])
	}

	c.fetchLoop(ctx, lanes)

	for _, l := range lanes {
		close(l)
	}
	wg.Wait()
	return nil
}

func (c *Consumer) fetchLoop(ctx context.Context, lanes []chan kafka.Message) {
	for {
		m, err := c.Source.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.Log.Warn("kafka fetch failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(200 * time.Millisecond):
			}
			continue
		}

		lane := lanes[m.Partition%len(lanes)]
		select {
		case lane <- m:
		case <-ctx.Done():
			return
		}
	}
}

func (c *Consumer) runProcessor(ctx context.Context, in <-chan kafka.Message) {
	for m := range in {
		if ctx.Err() != nil {
			continue // drain without committing; the group redelivers
		}
		c.processOne(ctx, m)
	}
}

func (c *Consumer) processOne(ctx context.Context, m kafka.Message) {
	log := c.Log.With(
		zap.String("topic", m.Topic),
		zap.Int("partition", m.Partition),
		zap.Int64("offset", m.Offset),
	)

	env, err := kafka.DecodeEnvelope(m)
	if err != nil || env.EventID == "" {
		// poison: commit and skip
		if err == nil {
			err = inbox.ErrMissingEventID
		}
		log.Error("undecodable envelope skipped", zap.Error(err))
		c.commit(ctx, log, m)
		return
	}
	log = log.With(zap.String("event_id", env.EventID), zap.String("event_type", env.EventType))

	h, ok := c.Router.Lookup(env.EventType)
	if !ok {
		metrics.InboxEventsTotal.WithLabelValues(env.EventType, "unhandled").Inc()
		log.Debug("no handler for event type")
		c.commit(ctx, log, m)
		return
	}

	op := func() error {
		_, err := c.Guard.Handle(ctx, env, m.Value, h)
		if errors.Is(err, inbox.ErrRejected) {
			return backoff.Permanent(err)
		}
		return err
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = c.RetryInitial
	eb.MaxInterval = 30 * time.Second
	eb.MaxElapsedTime = c.RetryMaxElapsed

	notify := func(err error, wait time.Duration) {
		log.Warn("handler failed, retrying", zap.Duration("wait", wait), zap.Error(err))
	}

	if err := backoff.RetryNotify(op, backoff.WithContext(eb, ctx), notify); err != nil {
		if ctx.Err() != nil {
			return
		}
		if errors.Is(err, inbox.ErrRejected) {
			log.Error("event rejected by handler, skipping", zap.Error(err))
		} else {
			log.Error("handler retries exhausted, skipping", zap.Error(err))
		}
	}

	c.commit(ctx, log, m)
}

// commit survives shutdown so work already done is not redelivered.
func (c *Consumer) commit(ctx context.Context, log *zap.Logger, m kafka.Message) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := c.Source.Commit(cctx, m); err != nil {
		log.Error("commit failed", zap.Error(err))
	}
}
