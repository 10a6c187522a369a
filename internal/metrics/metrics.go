package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	OutboxEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "labops_outbox_events_total",
			Help: "Outbox publish outcomes by event type",
		},
		[]string{"event_type", "result"}, // sent|failed|unroutable
	)

	OutboxPending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "labops_outbox_pending",
			Help: "PENDING outbox rows at the start of the last publisher tick, routable or not",
		},
	)

	BrokerHealthStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "labops_broker_health_status",
			Help: "Broker circuit state: 0 unknown, 1 healthy, 2 unhealthy",
		},
		[]string{"broker"},
	)

	BrokerProbesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "labops_broker_probes_total",
			Help: "Broker health probes by result",
		},
		[]string{"broker", "result"}, // ok|error
	)

	InboxEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "labops_inbox_events_total",
			Help: "Inbound events by guard outcome",
		},
		[]string{"event_type", "outcome"}, // processed|duplicate|failed|unhandled
	)

	SyncUpEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "labops_syncup_events_total",
			Help: "Outbox events emitted by the sync-up bridge",
		},
		[]string{"event_type"}, // RESULT_SYNCED|NOT_FOUND|SYNC_FAILED
	)
)

func MustRegister(r prometheus.Registerer) {
	r.MustRegister(
		OutboxEventsTotal,
		OutboxPending,
		BrokerHealthStatus,
		BrokerProbesTotal,
		InboxEventsTotal,
		SyncUpEventsTotal,
	)
}
