package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// Prober checks broker reachability with a metadata request, which reads
// cluster state without mutating it.
type Prober struct {
	client *kafka.Client
}

func NewProber(brokers []string, timeout time.Duration) *Prober {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Prober{client: &kafka.Client{
		Addr:    kafka.TCP(brokers...),
		Timeout: timeout,
	}}
}

func (p *Prober) Probe(ctx context.Context) error {
	res, err := p.client.Metadata(ctx, &kafka.MetadataRequest{})
	if err != nil {
		return fmt.Errorf("kafka metadata: %w", err)
	}
	if len(res.Brokers) == 0 {
		return fmt.Errorf("kafka metadata: no brokers in cluster")
	}
	return nil
}
