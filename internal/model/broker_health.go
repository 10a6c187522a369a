package model

import "time"

type BrokerStatus string

const (
	BrokerUnknown   BrokerStatus = "UNKNOWN"
	BrokerHealthy   BrokerStatus = "HEALTHY"
	BrokerUnhealthy BrokerStatus = "UNHEALTHY"
)

func (s BrokerStatus) String() string {
	return string(s)
}

// Gauge maps the status onto the value exported by labops_broker_health_status.
func (s BrokerStatus) Gauge() float64 {
	switch s {
	case BrokerHealthy:
		return 1
	case BrokerUnhealthy:
		return 2
	default:
		return 0
	}
}

// BrokerHealth is one row of message_broker_health, keyed by broker name.
type BrokerHealth struct {
	BrokerName    string       `db:"broker_name" json:"brokerName"`
	Status        BrokerStatus `db:"status" json:"status"`
	RetryAttempts int          `db:"retry_attempts" json:"retryAttempts"` // consecutive failed probes
	LastCheckedAt *time.Time   `db:"last_checked_at" json:"lastCheckedAt"`
	RecoveredAt   *time.Time   `db:"recovered_at" json:"recoveredAt"`
}
