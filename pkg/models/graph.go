package models

import (
	"fmt"
	"strings"
	"time"
)

// DefaultEdgeValidity is the validity window applied when an extracted
// relation carries no explicit end: start + 3650 days.
const DefaultEdgeValidity = 3650 * 24 * time.Hour

// Provenance records where a graph entry came from.
type Provenance struct {
	DocumentID  string    `json:"document_id"`
	SourceTool  string    `json:"source_tool"`
	TsExtracted time.Time `json:"ts_extracted"`
}

// GraphNode is a deduplicated entity. ID is tenant:type:surface with the
// surface lowercased, so repeated mentions collapse onto one node.
type GraphNode struct {
	ID         string     `json:"id"`
	Type       string     `json:"type"`
	Surface    string     `json:"surface"`
	Summary    string     `json:"summary,omitempty"`
	TenantID   string     `json:"tenant_id"`
	Provenance Provenance `json:"provenance"`
}

// GraphEdge is a temporal relation between two nodes. The validity window is
// half-open: the edge holds for t with TValidStart <= t < TValidEnd. For any
// (source, type, target) at most one edge is valid at any instant.
type GraphEdge struct {
	ID          string     `json:"id"`
	SourceID    string     `json:"source_id"`
	TargetID    string     `json:"target_id"`
	Type        string     `json:"type"`
	TValidStart time.Time  `json:"t_valid_start"`
	TValidEnd   time.Time  `json:"t_valid_end"`
	Confidence  float64    `json:"confidence"`
	TenantID    string     `json:"tenant_id"`
	Provenance  Provenance `json:"provenance"`
}

// ValidAt reports whether the edge's window covers t.
func (e *GraphEdge) ValidAt(t time.Time) bool {
	return !t.Before(e.TValidStart) && t.Before(e.TValidEnd)
}

// Overlaps reports whether the edge's window intersects [start, end).
func (e *GraphEdge) Overlaps(start, end time.Time) bool {
	return e.TValidStart.Before(end) && start.Before(e.TValidEnd)
}

// RelationKey identifies the (source, type, target) family the non-overlap
// invariant is scoped to.
func (e *GraphEdge) RelationKey() string {
	return e.SourceID + ":" + e.Type + ":" + e.TargetID
}

// NodeID builds the canonical node ID.
func NodeID(tenantID, entityType, surface string) string {
	return fmt.Sprintf("%s:%s:%s", tenantID, entityType, strings.ToLower(surface))
}

// EdgeID builds the canonical edge ID: relation key plus the validity-window
// suffix that keeps clipped remainders distinct.
func EdgeID(sourceID, relType, targetID string, start time.Time) string {
	return fmt.Sprintf("%s:%s:%s:%d", sourceID, relType, targetID, start.Unix())
}

// Entity is a typed mention extracted from document text.
type Entity struct {
	Type       string  `json:"type"`
	Surface    string  `json:"surface"`
	Confidence float64 `json:"confidence"`
}

// Relation is a typed link between two extracted entities, optionally with an
// explicit validity window.
type Relation struct {
	Source      Entity     `json:"source"`
	Target      Entity     `json:"target"`
	Type        string     `json:"type"`
	Confidence  float64    `json:"confidence"`
	TValidStart *time.Time `json:"t_valid_start,omitempty"`
	TValidEnd   *time.Time `json:"t_valid_end,omitempty"`
}
