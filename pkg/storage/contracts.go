// Package storage defines the abstract store contracts the pipeline writes
// through. Backends live in subpackages; every write is keyed by the natural
// ID (chunk_id, edge_id, doc_id) so store-side retries collapse into
// idempotent upserts.
package storage

import (
	"context"
	"time"

	"github.com/corralproject/corral/pkg/models"
)

// VectorStore holds embedded chunks and serves dense similarity search.
type VectorStore interface {
	// Upsert writes chunks keyed by chunk_id. Re-upserting an existing chunk
	// is a no-op apart from payload refresh.
	Upsert(ctx context.Context, chunks []*models.Chunk) error
	Delete(ctx context.Context, chunkIDs []string) error
	// Search returns up to k candidates by descending similarity.
	Search(ctx context.Context, vector []float32, k int, filters models.SearchFilters) ([]models.Candidate, error)
	// GetDocuments fetches chunk payloads by ID for candidates that surfaced
	// only in the lexical results. Unknown IDs are skipped, not errors.
	GetDocuments(ctx context.Context, chunkIDs []string) ([]models.Candidate, error)
	// ListChunks pages through a tenant's stored chunks in a stable,
	// implementation-defined order. cursor is the opaque position returned
	// by the previous page, empty to start from the beginning; the returned
	// cursor is empty once the listing is exhausted. Chunks carry their
	// stored embedding metadata so callers can detect stale vectors.
	ListChunks(ctx context.Context, tenantID, cursor string, limit int) ([]*models.Chunk, string, error)
	Health(ctx context.Context) error
}

// TextIndex serves lexical (BM25-style) search over chunk text.
type TextIndex interface {
	Index(ctx context.Context, chunks []*models.Chunk) error
	Delete(ctx context.Context, chunkIDs []string) error
	Search(ctx context.Context, query string, k int, filters models.SearchFilters) ([]models.Candidate, error)
	Health(ctx context.Context) error
}

// GraphStore persists the temporal knowledge graph. Conflict resolution is
// the sink's job; the store only guarantees keyed upserts and window lookups.
type GraphStore interface {
	UpsertNode(ctx context.Context, node *models.GraphNode) error
	// GetNode returns a faults.NotFound error when the node is absent.
	GetNode(ctx context.Context, id string) (*models.GraphNode, error)
	InsertEdge(ctx context.Context, edge *models.GraphEdge) error
	// UpdateEdge rewrites an existing edge in place, keyed by edge.ID.
	UpdateEdge(ctx context.Context, edge *models.GraphEdge) error
	DeleteEdge(ctx context.Context, id string) error
	// EdgesBetween returns all edges for one (source, type, target) relation,
	// ascending by t_valid_start.
	EdgesBetween(ctx context.Context, tenantID, sourceID, relType, targetID string) ([]*models.GraphEdge, error)
	// EdgesAt returns edges touching the node that are valid at t.
	EdgesAt(ctx context.Context, tenantID, nodeID string, t time.Time) ([]*models.GraphEdge, error)
	// Neighborhood expands hops steps from the seed nodes, optionally
	// constrained to a validity window overlap.
	Neighborhood(ctx context.Context, tenantID string, nodeIDs []string, hops int, window *models.TimeWindow) ([]*models.GraphEdge, error)
	Health(ctx context.Context) error
}

// CheckpointStore persists ingestion resumption cursors per tool.
type CheckpointStore interface {
	// Get returns (nil, nil) when no checkpoint exists yet.
	Get(ctx context.Context, toolID string) (*models.Checkpoint, error)
	Save(ctx context.Context, cp *models.Checkpoint) error
}

// ManifestStore persists per-document chunk membership.
type ManifestStore interface {
	// Get returns (nil, nil) when the document has never been indexed.
	Get(ctx context.Context, docID string) (*models.ChunkManifest, error)
	Save(ctx context.Context, m *models.ChunkManifest) error
}

// AuditStore is the append-only invocation log.
type AuditStore interface {
	Append(ctx context.Context, rec *models.AuditRecord) error
	ListRecent(ctx context.Context, limit int) ([]*models.AuditRecord, error)
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// RunStore persists pipeline runs.
type RunStore interface {
	Create(ctx context.Context, run *models.PipelineRun) error
	Update(ctx context.Context, run *models.PipelineRun) error
	// Get returns a faults.NotFound error for unknown run IDs.
	Get(ctx context.Context, id string) (*models.PipelineRun, error)
	List(ctx context.Context, f models.RunFilters) ([]*models.PipelineRun, int, error)
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// RerankCache memoizes reranker outputs keyed by (query, ids, model) hash.
type RerankCache interface {
	Get(ctx context.Context, key string) ([]models.Candidate, bool)
	Set(ctx context.Context, key string, value []models.Candidate)
}
