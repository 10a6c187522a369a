package model

import (
	"encoding/json"
	"fmt"
	"time"
)

type SyncUpStatus string

const (
	SyncUpPending   SyncUpStatus = "PENDING"
	SyncUpCompleted SyncUpStatus = "COMPLETED"
)

func (s SyncUpStatus) String() string {
	return string(s)
}

// SyncUpRequest is an on-demand resynchronization job. MessageID holds the
// JSON-encoded list of lookup keys (barcodes).
type SyncUpRequest struct {
	ID            string       `db:"id"`
	SourceService string       `db:"source_service"`
	MessageID     string       `db:"message_id"`
	Status        SyncUpStatus `db:"status"`
	ProcessedAt   *time.Time   `db:"processed_at"`
	CreatedAt     time.Time    `db:"created_at"`
	UpdatedAt     time.Time    `db:"updated_at"`
}

// LookupKeys decodes MessageID.
func (r SyncUpRequest) LookupKeys() ([]string, error) {
	var keys []string
	if err := json.Unmarshal([]byte(r.MessageID), &keys); err != nil {
		return nil, fmt.Errorf("sync-up request %s: decode lookup keys: %w", r.ID, err)
	}
	return keys, nil
}

// EncodeLookupKeys is the inverse of LookupKeys.
func EncodeLookupKeys(keys []string) (string, error) {
	b, err := json.Marshal(keys)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
