// Package brokerhealth tracks broker reachability and exposes it as a
// broker-wide circuit breaker for the outbox publisher.
package brokerhealth

import (
	"context"
	"sort"
	"sync"

	"github.com/labops/relay/internal/model"
)

// State is the shared, synchronized view of every monitored broker. The
// Monitor writes it; publishers and the HTTP surface read it.
type State struct {
	mu      sync.RWMutex
	brokers map[string]model.BrokerHealth
}

func NewState() *State {
	return &State{brokers: make(map[string]model.BrokerHealth)}
}

// Status returns UNKNOWN for brokers that were never checked.
func (s *State) Status(broker string) model.BrokerStatus {
	h, ok := s.Snapshot(broker)
	if !ok {
		return model.BrokerUnknown
	}
	return h.Status
}

func (s *State) Snapshot(broker string) (model.BrokerHealth, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.brokers[broker]
	return h, ok
}

// List returns a copy of every known record ordered by broker name.
func (s *State) List(context.Context) ([]model.BrokerHealth, error) {
	s.mu.RLock()
	out := make([]model.BrokerHealth, 0, len(s.brokers))
	for _, h := range s.brokers {
		out = append(out, h)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].BrokerName < out[j].BrokerName })
	return out, nil
}

func (s *State) set(h model.BrokerHealth) {
	s.mu.Lock()
	s.brokers[h.BrokerName] = h
	s.mu.Unlock()
}
