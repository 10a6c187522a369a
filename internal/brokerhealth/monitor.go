package brokerhealth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/labops/relay/internal/logger"
	"github.com/labops/relay/internal/metrics"
	"github.com/labops/relay/internal/model"
	"github.com/labops/relay/internal/repository"
	"go.uber.org/zap"
)

const DefaultFailureThreshold = 3

// Prober performs a cheap, non-mutating reachability check.
type Prober interface {
	Probe(ctx context.Context) error
}

type Config struct {
	Broker           string
	Interval         time.Duration
	FailureThreshold int
	ProbeTimeout     time.Duration
}

// Monitor probes one broker on a fixed delay and maintains its health record.
//
//	UNKNOWN -> HEALTHY on the first success
//	any     -> UNHEALTHY once FailureThreshold consecutive probes have failed
//	any     -> HEALTHY on a single success (retry counter reset)
type Monitor struct {
	prober Prober
	repo   repository.BrokerHealthRepository
	state  *State
	cfg    Config
	log    *zap.Logger
	warn   *logger.Throttler
	now    func() time.Time

	current model.BrokerHealth
}

func NewMonitor(prober Prober, repo repository.BrokerHealthRepository, state *State, cfg Config, log *zap.Logger) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultFailureThreshold
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 3 * time.Second
	}
	log = log.With(zap.String("component", "broker-health"), zap.String("broker", cfg.Broker))

	return &Monitor{
		prober:  prober,
		repo:    repo,
		state:   state,
		cfg:     cfg,
		log:     log,
		warn:    logger.NewThrottler(log, time.Minute),
		now:     time.Now,
		current: model.BrokerHealth{BrokerName: cfg.Broker, Status: model.BrokerUnknown},
	}
}

// Load seeds the monitor and the shared state from the persisted record, so a
// restart while UNHEALTHY keeps the breaker open until a probe succeeds.
func (m *Monitor) Load(ctx context.Context) error {
	h, err := m.repo.Get(ctx, m.cfg.Broker)
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load broker health %s: %w", m.cfg.Broker, err)
	}
	m.current = h
	m.publish()
	return nil
}

// Run checks until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	if err := m.Load(ctx); err != nil {
		m.log.Error("could not load persisted health, starting UNKNOWN", zap.Error(err))
	}
	m.log.Info("broker health monitor started",
		zap.Duration("interval", m.cfg.Interval),
		zap.Int("failure_threshold", m.cfg.FailureThreshold),
	)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
			if _, err := m.Check(ctx); err != nil && ctx.Err() == nil {
				m.log.Error("persist broker health failed", zap.Error(err))
			}
			timer.Reset(m.cfg.Interval)
		}
	}
}

// Check runs one probe, applies the transition and persists the record. The
// returned error only reports persistence failures; the in-memory state is
// updated regardless.
func (m *Monitor) Check(ctx context.Context) (model.BrokerHealth, error) {
	probeCtx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout)
	perr := m.prober.Probe(probeCtx)
	cancel()

	now := m.now().UTC()
	h := m.current
	h.BrokerName = m.cfg.Broker
	h.LastCheckedAt = &now

	if perr == nil {
		metrics.BrokerProbesTotal.WithLabelValues(m.cfg.Broker, "ok").Inc()
		if h.Status != model.BrokerHealthy {
			m.log.Info("broker recovered",
				zap.String("from", h.Status.String()),
				zap.Int("failed_probes", h.RetryAttempts),
			)
		}
		h.Status = model.BrokerHealthy
		h.RetryAttempts = 0
		h.RecoveredAt = &now
	} else {
		metrics.BrokerProbesTotal.WithLabelValues(m.cfg.Broker, "error").Inc()
		h.RetryAttempts++
		if h.RetryAttempts >= m.cfg.FailureThreshold && h.Status != model.BrokerUnhealthy {
			m.log.Error("broker disconnected",
				zap.Int("failed_probes", h.RetryAttempts),
				zap.Error(perr),
			)
			h.Status = model.BrokerUnhealthy
		} else {
			m.warn.Warn("probe", "broker probe failed",
				zap.Int("failed_probes", h.RetryAttempts),
				zap.String("status", h.Status.String()),
				zap.Error(perr),
			)
		}
	}

	m.current = h
	m.publish()

	if err := m.repo.Save(ctx, h); err != nil {
		return h, fmt.Errorf("save broker health %s: %w", m.cfg.Broker, err)
	}
	return h, nil
}

func (m *Monitor) publish() {
	m.state.set(m.current)
	metrics.BrokerHealthStatus.WithLabelValues(m.cfg.Broker).Set(m.current.Status.Gauge())
}
