package events

// RunStatusPayload is published on every run lifecycle transition.
type RunStatusPayload struct {
	Type      string `json:"type"` // always EventTypeRunStatus
	RunID     string `json:"run_id"`
	TenantID  string `json:"tenant_id"`
	ToolID    string `json:"tool_id,omitempty"`
	Mode      string `json:"mode"`
	Status    string `json:"status"` // running, completed, failed, cancelled
	Documents int    `json:"documents"`
	Failures  int    `json:"failures"`
	Error     string `json:"error,omitempty"`
	Timestamp string `json:"timestamp"` // RFC3339Nano
}

// DocumentIndexedPayload is published after one document's delta indexing
// pass completes.
type DocumentIndexedPayload struct {
	Type      string `json:"type"` // always EventTypeDocumentIndexed
	RunID     string `json:"run_id,omitempty"`
	TenantID  string `json:"tenant_id"`
	DocID     string `json:"doc_id"`
	Chunks    int    `json:"chunks"`
	Deleted   int    `json:"deleted"`
	Timestamp string `json:"timestamp"`
}

// ConflictResolvedPayload reports a graph edge conflict outcome.
type ConflictResolvedPayload struct {
	Type      string `json:"type"` // always EventTypeConflictResolved
	TenantID  string `json:"tenant_id"`
	Relation  string `json:"relation"` // source:type:target
	Action    string `json:"action"`   // truncated, clipped, dropped, replaced
	WinnerID  string `json:"winner_id"`
	LoserID   string `json:"loser_id,omitempty"`
	Timestamp string `json:"timestamp"`
}

// DeadLetterPayload reports a message landing on the DLQ topic.
type DeadLetterPayload struct {
	Type       string `json:"type"` // always EventTypeDeadLetter
	ToolID     string `json:"tool_id"`
	TenantID   string `json:"tenant_id"`
	Error      string `json:"error"`
	RetryCount int    `json:"retry_count"`
	Timestamp  string `json:"timestamp"`
}
