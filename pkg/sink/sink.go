// Package sink performs manifest-driven delta indexing: chunk, embed, and
// reconcile the vector store and text index against each document's chunk
// manifest. Deletes run before upserts so any successful pass leaves the
// indexed set equal to the fresh chunk set.
package sink

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/corralproject/corral/pkg/chunk"
	"github.com/corralproject/corral/pkg/models"
	"github.com/corralproject/corral/pkg/storage"
)

// DocumentChunker produces the chunk set for one document.
type DocumentChunker interface {
	ChunkDocument(doc *models.Document) []*models.Chunk
}

// Result summarizes one indexing pass.
type Result struct {
	DocID    string
	Changed  bool
	Upserted int
	Deleted  int
}

// Sink owns chunk-level index state for documents.
type Sink struct {
	chunker   DocumentChunker
	embedder  *chunk.Embedder
	vectors   storage.VectorStore
	text      storage.TextIndex
	manifests storage.ManifestStore
	logger    *slog.Logger
}

func New(chunker DocumentChunker, embedder *chunk.Embedder, vectors storage.VectorStore, text storage.TextIndex, manifests storage.ManifestStore, logger *slog.Logger) *Sink {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sink{
		chunker:   chunker,
		embedder:  embedder,
		vectors:   vectors,
		text:      text,
		manifests: manifests,
		logger:    logger,
	}
}

// refreshPageSize bounds how many stored chunks one refresh scan page pulls.
const refreshPageSize = 256

// RefreshEmbeddings sweeps a tenant's stored chunks and re-embeds the ones
// stamped by an older embedding model or version, writing the refreshed
// vectors back. The text index holds no vectors and is left alone. Returns
// how many chunks were refreshed.
func (s *Sink) RefreshEmbeddings(ctx context.Context, tenantID string) (int, error) {
	total := 0
	cursor := ""
	for {
		page, next, err := s.vectors.ListChunks(ctx, tenantID, cursor, refreshPageSize)
		if err != nil {
			return total, fmt.Errorf("list chunks %s: %w", tenantID, err)
		}
		var stale []*models.Chunk
		for _, c := range page {
			if s.embedder.Outdated(c) {
				stale = append(stale, c)
			}
		}
		if len(stale) > 0 {
			if _, err := s.embedder.ReembedOutdated(ctx, stale); err != nil {
				return total, fmt.Errorf("re-embed chunks %s: %w", tenantID, err)
			}
			if err := s.vectors.Upsert(ctx, stale); err != nil {
				return total, fmt.Errorf("upsert refreshed vectors %s: %w", tenantID, err)
			}
			total += len(stale)
		}
		if next == "" || len(page) == 0 {
			break
		}
		cursor = next
	}
	if total > 0 {
		s.logger.Info("refreshed stale embeddings", "tenant_id", tenantID, "chunks", total)
	}
	return total, nil
}

// IndexDocument reconciles the stores with the document's current content.
// A matching manifest checksum short-circuits to a no-op.
func (s *Sink) IndexDocument(ctx context.Context, doc *models.Document) (Result, error) {
	res := Result{DocID: doc.ID}

	old, err := s.manifests.Get(ctx, doc.ID)
	if err != nil {
		return res, fmt.Errorf("load manifest %s: %w", doc.ID, err)
	}
	if old != nil && old.Checksum == doc.Checksum {
		s.logger.Debug("checksum unchanged, skipping index", "doc_id", doc.ID)
		return res, nil
	}

	chunks := s.chunker.ChunkDocument(doc)
	if err := s.embedder.EmbedChunks(ctx, chunks); err != nil {
		return res, fmt.Errorf("embed chunks %s: %w", doc.ID, err)
	}

	newIDs := make([]string, len(chunks))
	newSet := make(map[string]bool, len(chunks))
	for i, c := range chunks {
		newIDs[i] = c.ChunkID
		newSet[c.ChunkID] = true
	}

	var toDelete []string
	if old != nil {
		for _, id := range old.ChunkIDs {
			if !newSet[id] {
				toDelete = append(toDelete, id)
			}
		}
	}

	if len(toDelete) > 0 {
		if err := s.vectors.Delete(ctx, toDelete); err != nil {
			return res, fmt.Errorf("delete stale vectors %s: %w", doc.ID, err)
		}
		if err := s.text.Delete(ctx, toDelete); err != nil {
			return res, fmt.Errorf("delete stale text chunks %s: %w", doc.ID, err)
		}
	}
	if len(chunks) > 0 {
		if err := s.vectors.Upsert(ctx, chunks); err != nil {
			return res, fmt.Errorf("upsert vectors %s: %w", doc.ID, err)
		}
		if err := s.text.Index(ctx, chunks); err != nil {
			return res, fmt.Errorf("index text chunks %s: %w", doc.ID, err)
		}
	}

	now := time.Now().UTC()
	m := &models.ChunkManifest{
		DocID:     doc.ID,
		Checksum:  doc.Checksum,
		ChunkIDs:  newIDs,
		TsCreated: now,
		TsUpdated: now,
	}
	if old != nil {
		m.TsCreated = old.TsCreated
	}
	if err := s.manifests.Save(ctx, m); err != nil {
		return res, fmt.Errorf("save manifest %s: %w", doc.ID, err)
	}

	res.Changed = true
	res.Upserted = len(chunks)
	res.Deleted = len(toDelete)
	s.logger.Info("document indexed",
		"doc_id", doc.ID, "chunks", len(chunks), "deleted", len(toDelete))
	return res, nil
}
