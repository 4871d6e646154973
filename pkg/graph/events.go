package graph

import (
	"context"
	"time"
)

// Conflict actions.
const (
	ActionTruncated = "truncated" // existing edge end moved back to the new edge's start
	ActionDeleted   = "deleted"   // existing edge window emptied out entirely
	ActionClipped   = "clipped"   // incoming edge window reduced around the existing edge
	ActionDropped   = "dropped"   // incoming edge discarded
)

// ConflictEvent describes one resolved overlap between two edges of the same
// relation. Not an error; consumers surface it as an observability event.
type ConflictEvent struct {
	TenantID string    `json:"tenant_id"`
	Relation string    `json:"relation"` // source:type:target
	WinnerID string    `json:"winner_id"`
	LoserID  string    `json:"loser_id"`
	Action   string    `json:"action"`
	Ts       time.Time `json:"ts"`
}

// EventSink receives conflict events as they are resolved. Implementations
// must be quick; the writer calls them while holding the relation lock.
type EventSink interface {
	ConflictResolved(ctx context.Context, ev ConflictEvent)
}

type nopSink struct{}

func (nopSink) ConflictResolved(context.Context, ConflictEvent) {}
