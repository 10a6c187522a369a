package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/labops/relay/internal/model"
	"github.com/segmentio/kafka-go"
)

// Header keys carried on every published envelope.
const (
	HeaderEventID   = "event-id"
	HeaderEventType = "event-type"
	HeaderSource    = "source"
)

type ProducerConfig struct {
	Brokers      []string
	WriteTimeout time.Duration // default 10s
}

// Producer publishes envelopes. The topic is chosen per message, so one
// writer serves the whole routing table.
type Producer struct {
	w *kafka.Writer
}

func NewProducer(c ProducerConfig) *Producer {
	wt := c.WriteTimeout
	if wt <= 0 {
		wt = 10 * time.Second
	}

	return &Producer{w: &kafka.Writer{
		Addr:         kafka.TCP(c.Brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		WriteTimeout: wt,
		BatchTimeout: 10 * time.Millisecond,
	}}
}

// Send blocks until the broker acknowledges the message or ctx is done.
func (p *Producer) Send(ctx context.Context, topic, key string, env model.Envelope) error {
	msg, err := EncodeMessage(topic, key, env)
	if err != nil {
		return err
	}
	return p.w.WriteMessages(ctx, msg)
}

func (p *Producer) Close() error { return p.w.Close() }

// EncodeMessage builds the wire message for env: key = aggregate id, value =
// envelope JSON.
func EncodeMessage(topic, key string, env model.Envelope) (Message, error) {
	b, err := json.Marshal(env)
	if err != nil {
		return Message{}, fmt.Errorf("encode envelope %s: %w", env.EventID, err)
	}
	return Message{
		Topic: topic,
		Key:   []byte(key),
		Value: b,
		Headers: []kafka.Header{
			{Key: HeaderEventID, Value: []byte(env.EventID)},
			{Key: HeaderEventType, Value: []byte(env.EventType)},
			{Key: HeaderSource, Value: []byte(env.Source)},
		},
		Time: env.Timestamp,
	}, nil
}

// DecodeEnvelope parses a consumed message value.
func DecodeEnvelope(m Message) (model.Envelope, error) {
	var env model.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		return model.Envelope{}, fmt.Errorf("decode envelope at %s/%d@%d: %w", m.Topic, m.Partition, m.Offset, err)
	}
	return env, nil
}
