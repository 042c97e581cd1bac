package dto

import (
	"time"

	"github.com/customeros/mailpulse/internal/enum"
)

// AccountSyncStatus is a point-in-time copy of a supervisor's state.
type AccountSyncStatus struct {
	AccountID    string               `json:"accountId"`
	State        enum.ConnectionState `json:"state"`
	Mode         string               `json:"mode,omitempty"`
	Folder       string               `json:"folder"`
	LastUID      uint32               `json:"lastUid"`
	LastError    string               `json:"lastError,omitempty"`
	LastErrorAt  *time.Time           `json:"lastErrorAt,omitempty"`
	ConnectedAt  *time.Time           `json:"connectedAt,omitempty"`
	LastSyncAt   *time.Time           `json:"lastSyncAt,omitempty"`
	LastResult   *IngestResult        `json:"lastResult,omitempty"`
	Retries      int                  `json:"retries"`
	SyncRunning  bool                 `json:"syncRunning"`
	SyncPending  bool                 `json:"syncPending"`
	SyncRunCount int                  `json:"syncRunCount"`
}

type SyncRequestOutcome string

const (
	SyncScheduled SyncRequestOutcome = "scheduled"
	SyncCoalesced SyncRequestOutcome = "coalesced"
)
