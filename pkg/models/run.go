package models

import "time"

// RunStatus is the lifecycle state of a pipeline run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// RunMode says what kind of ingestion produced the run.
type RunMode string

const (
	RunModePull   RunMode = "pull"
	RunModeStream RunMode = "stream"
	RunModeEvent  RunMode = "event"
	RunModeFile   RunMode = "file"
	RunModeWeb    RunMode = "web"
)

// PipelineRun tracks one ingestion execution end to end.
type PipelineRun struct {
	ID          string     `json:"id"`
	TenantID    string     `json:"tenant_id"`
	ToolID      string     `json:"tool_id"`
	Mode        RunMode    `json:"mode"`
	Status      RunStatus  `json:"status"`
	Documents   int        `json:"documents"`
	Chunks      int        `json:"chunks"`
	Failures    int        `json:"failures"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// Terminal reports whether the run reached a final status.
func (r *PipelineRun) Terminal() bool {
	return r.Status == RunCompleted || r.Status == RunFailed || r.Status == RunCancelled
}

// RunListResponse is the paginated run listing.
type RunListResponse struct {
	Runs       []*PipelineRun `json:"runs"`
	TotalCount int            `json:"total_count"`
	Limit      int            `json:"limit"`
	Offset     int            `json:"offset"`
}

// RunFilters narrows run listings.
type RunFilters struct {
	TenantID string    `json:"tenant_id,omitempty"`
	ToolID   string    `json:"tool_id,omitempty"`
	Status   RunStatus `json:"status,omitempty"`
	Limit    int       `json:"limit,omitempty"`
	Offset   int       `json:"offset,omitempty"`
}
