package db

import (
	"time"

	_ "github.com/ClickHouse/clickhouse-go/v2"
	"github.com/jmoiron/sqlx"
)

// NewClickHouseConnection opens the reporting store fed from the published
// event topics, e.g. clickhouse://default:@localhost:9000/labops?dial_timeout=5s.
func NewClickHouseConnection(dsn string, p PoolOpts) (*sqlx.DB, error) {
	if p.PingTimeout <= 0 {
		p.PingTimeout = 3 * time.Second
	}
	return open("clickhouse", dsn, p)
}
