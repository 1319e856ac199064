package models

import "time"

type OrphanKind string

const (
	OrphanFile      OrphanKind = "file"
	OrphanAssistant OrphanKind = "assistant"
)

type OrphanStatus string

const (
	OrphanPending   OrphanStatus = "pending"
	OrphanResolved  OrphanStatus = "resolved"
	// OrphanAbandoned rows exhausted their deletion attempts and need an operator.
	OrphanAbandoned OrphanStatus = "abandoned"
)

// Orphan is a remote resource that should have been deleted but was not.
type Orphan struct {
	ID        int64        `json:"id"`
	Kind      OrphanKind   `json:"kind"`
	RemoteID  string       `json:"remote_id"`
	SessionID string       `json:"session_id"`
	Reason    string       `json:"reason"`
	Attempts  int          `json:"attempts"`
	LastError string       `json:"last_error,omitempty"`
	Status    OrphanStatus `json:"status"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}
