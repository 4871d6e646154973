package models

import "time"

// TimeWindow bounds retrieval by source timestamp, half-open [Start, End).
type TimeWindow struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// SearchFilters constrain retrieval. TenantID is mandatory; ACL and
// TimeWindow narrow further. Every store backend applies the same semantics.
type SearchFilters struct {
	TenantID   string      `json:"tenant_id"`
	ACL        []string    `json:"acl,omitempty"`
	TimeWindow *TimeWindow `json:"time_window,omitempty"`
}

// HybridQuery is the query request body.
type HybridQuery struct {
	Query    string         `json:"query"`
	Filters  *SearchFilters `json:"filters,omitempty"`
	UseGraph bool           `json:"use_graph"`
	TopK     int            `json:"top_k,omitempty"`
	Stream   bool           `json:"stream"`
}

// Candidate is one retrieval result flowing through fusion, reranking, and
// grounding. Type is "chunk" for indexed chunks and "edge" for graph-derived
// pseudo-chunks.
type Candidate struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Text       string         `json:"text"`
	Score      float64        `json:"score"`
	DocID      string         `json:"doc_id,omitempty"`
	TenantID   string         `json:"tenant_id,omitempty"`
	SourceTool string         `json:"source_tool,omitempty"`
	ACL        []string       `json:"acl,omitempty"`
	TsSource   time.Time      `json:"ts_source,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`

	// Edge candidates carry relation details for rendering and citation.
	Relation  string    `json:"relation,omitempty"`
	ValidFrom time.Time `json:"valid_from,omitempty"`
	ValidTo   time.Time `json:"valid_to,omitempty"`
}

// CandidateType values.
const (
	CandidateChunk = "chunk"
	CandidateEdge  = "edge"
)

// Validity is the citation-facing rendering of an edge window.
type Validity struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Citation binds a claim in the answer to retrieved evidence.
type Citation struct {
	RefType    string     `json:"ref_type"` // chunk | edge
	ChunkID    string     `json:"chunk_id,omitempty"`
	DocID      string     `json:"doc_id,omitempty"`
	EdgeID     string     `json:"edge_id,omitempty"`
	Relation   string     `json:"relation,omitempty"`
	Validity   *Validity  `json:"validity,omitempty"`
	SourceTool string     `json:"source_tool,omitempty"`
	TsSource   *time.Time `json:"ts_source,omitempty"`
}

// Answer is the non-streaming query response.
type Answer struct {
	Answer                string     `json:"answer"`
	Citations             []Citation `json:"citations"`
	HasSufficientEvidence bool       `json:"has_sufficient_evidence"`
	EvidenceScore         float64    `json:"evidence_score"`
}

// Frame is one streaming response event. Done is true on the terminal frame
// of every exit path: success, refusal, cancellation, and error.
type Frame struct {
	Type    string `json:"type"` // answer | citations | cancelled | error
	Content any    `json:"content"`
	Done    bool   `json:"done"`
}

// Frame types.
const (
	FrameAnswer    = "answer"
	FrameCitations = "citations"
	FrameCancelled = "cancelled"
	FrameError     = "error"
)
