// Package events provides real-time pipeline event delivery: an in-process
// broker for SSE subscribers, and a PostgreSQL NOTIFY/LISTEN bridge for
// cross-replica distribution. Persistent events land in the events table
// before the NOTIFY fires, so reconnecting clients can catch up by ID.
package events

// Persistent event types (stored in DB + NOTIFY when Postgres is enabled).
const (
	// Run lifecycle — one event type for all status transitions.
	EventTypeRunStatus = "run.status"

	// Emitted after a document's chunk delta is reconciled into the stores.
	EventTypeDocumentIndexed = "document.indexed"

	// Emitted when graph edge conflict resolution truncates or drops an edge.
	// Informational, not an error.
	EventTypeConflictResolved = "graph.conflict_resolved"

	// Emitted when a message is dead-lettered after retry exhaustion.
	EventTypeDeadLetter = "ingestion.dead_letter"
)

// GlobalRunsChannel carries run lifecycle events for all runs; dashboards
// subscribe here for live run listings.
const GlobalRunsChannel = "runs"

// GraphChannel carries conflict-resolution events.
const GraphChannel = "graph"

// RunChannel returns the channel for one run's events: "run:{run_id}".
func RunChannel(runID string) string {
	return "run:" + runID
}
