package kafka

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Config describes a group reader over the inbound event topics.
type Config struct {
	Brokers        []string
	Topics         []string
	GroupID        string
	MinBytes       int           // default 1KB
	MaxBytes       int           // default 10MB
	CommitInterval time.Duration // 0 = commit synchronously on every Commit
	MaxWait        time.Duration // default 50ms
	FromLatest     bool          // new groups start at the tail instead of the head
	Log            *zap.Logger   // reader errors; nil drops them
}

// Consumer fetches and commits messages explicitly; nothing is committed
// until the inbox guard has settled the event.
type Consumer struct {
	r *kafka.Reader
}

func NewConsumer(c Config) *Consumer {
	return &Consumer{r: kafka.NewReader(readerConfig(c))}
}

func readerConfig(c Config) kafka.ReaderConfig {
	rc := kafka.ReaderConfig{
		Brokers:        c.Brokers,
		GroupID:        c.GroupID,
		GroupTopics:    c.Topics,
		MinBytes:       c.MinBytes,
		MaxBytes:       c.MaxBytes,
		MaxWait:        c.MaxWait,
		CommitInterval: c.CommitInterval,
		StartOffset:    kafka.FirstOffset,
	}
	if rc.MinBytes <= 0 {
		rc.MinBytes = 1 << 10
	}
	if rc.MaxBytes <= 0 {
		rc.MaxBytes = 10 << 20
	}
	if rc.MaxWait <= 0 {
		rc.MaxWait = 50 * time.Millisecond
	}
	if c.FromLatest {
		rc.StartOffset = kafka.LastOffset
	}
	if c.Log != nil {
		rc.ErrorLogger = kafka.LoggerFunc(c.Log.Named("kafka-reader").Sugar().Errorf)
	}
	return rc
}

type Message = kafka.Message

func (c *Consumer) Fetch(ctx context.Context) (Message, error) {
	return c.r.FetchMessage(ctx)
}

func (c *Consumer) Commit(ctx context.Context, m Message) error {
	return c.r.CommitMessages(ctx, m)
}

func (c *Consumer) Close() error { return c.r.Close() }
