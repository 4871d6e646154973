package models

import "time"

// Checkpoint is the persistent resumption cursor for one tool. Pull sync
// fills Cursor/LastSync; stream sync fills LastEventID/LastEvent. Either
// side may be empty.
type Checkpoint struct {
	ToolID      string    `json:"tool_id"`
	Cursor      string    `json:"cursor,omitempty"`
	LastSync    time.Time `json:"last_sync,omitempty"`
	LastEventID string    `json:"last_event_id,omitempty"`
	LastEvent   time.Time `json:"last_event,omitempty"`
}

// DLQRecord is the value published on the dead-letter topic when retries are
// exhausted or a stream event fails. Error preserves the final attempt's
// failure text.
type DLQRecord struct {
	ToolID     string         `json:"tool_id"`
	TenantID   string         `json:"tenant_id"`
	Params     map[string]any `json:"params,omitempty"`
	Error      string         `json:"error"`
	RetryCount int            `json:"retry_count"`
	Timestamp  time.Time      `json:"timestamp"`
}

// AuditRecord is one entry in the append-only invocation audit log.
type AuditRecord struct {
	InvocationID string         `json:"invocation_id"`
	ToolID       string         `json:"tool_id"`
	TenantID     string         `json:"tenant_id"`
	UserID       string         `json:"user_id,omitempty"`
	Params       map[string]any `json:"params,omitempty"`
	Ts           time.Time      `json:"ts"`
	Outcome      string         `json:"outcome"` // started | success | error
	Detail       string         `json:"detail,omitempty"`
}

// Audit outcomes.
const (
	AuditStarted = "started"
	AuditSuccess = "success"
	AuditError   = "error"
)

// SourceEvent is a pushed ingestion event: one tool-shaped payload delivered
// directly to the HTTP surface instead of pulled through a sync.
type SourceEvent struct {
	ToolID string         `json:"tool_id"`
	Data   map[string]any `json:"data"`
	ID     string         `json:"id,omitempty"`
}
