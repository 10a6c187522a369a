// Package dbtest opens throwaway in-memory SQLite databases carrying the
// labops schema, so repositories and transactional code can be tested with
// real sqlx transactions.
package dbtest

import (
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// Schema mirrors migrations/001_init.sql in SQLite dialect.
const Schema = `
CREATE TABLE outbox_event (
    id             VARCHAR(36)  PRIMARY KEY,
    aggregate_type VARCHAR(64)  NOT NULL,
    aggregate_id   VARCHAR(128) NOT NULL,
    event_type     VARCHAR(128) NOT NULL,
    payload        BLOB         NOT NULL,
    status         VARCHAR(16)  NOT NULL,
    created_at     DATETIME     NOT NULL,
    sent_at        DATETIME     NULL
);
CREATE INDEX idx_outbox_status_created ON outbox_event (status, created_at);

CREATE TABLE inbox_event (
    id           VARCHAR(26)  PRIMARY KEY,
    event_id     VARCHAR(64)  NOT NULL,
    event_type   VARCHAR(128) NOT NULL,
    payload      BLOB         NOT NULL,
    processed_at DATETIME     NOT NULL
);
CREATE UNIQUE INDEX ux_inbox_event_id ON inbox_event (event_id);

CREATE TABLE message_broker_health (
    broker_name     VARCHAR(64) PRIMARY KEY,
    status          VARCHAR(16) NOT NULL,
    retry_attempts  INTEGER     NOT NULL DEFAULT 0,
    last_checked_at DATETIME    NULL,
    recovered_at    DATETIME    NULL
);

CREATE TABLE sync_up_requests (
    id             VARCHAR(26) PRIMARY KEY,
    source_service VARCHAR(64) NOT NULL,
    message_id     TEXT        NOT NULL,
    status         VARCHAR(16) NOT NULL,
    processed_at   DATETIME    NULL,
    created_at     DATETIME    NOT NULL,
    updated_at     DATETIME    NOT NULL
);
CREATE INDEX idx_sync_up_status ON sync_up_requests (status, created_at);
`

var seq atomic.Int64

// Open returns a fresh database with the schema applied; it is closed when
// the test ends. A single connection keeps the in-memory database shared by
// every statement, so at most one transaction can be open at a time.
func Open(t testing.TB) *sqlx.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:labops_%d?mode=memory&cache=shared", seq.Add(1))
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	if _, err := db.Exec(Schema); err != nil {
		t.Fatalf("apply schema: %v", err)
	}
	return db
}
