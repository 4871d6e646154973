// Package memstore provides in-memory store backends. They back unit tests
// and single-process deployments; filter and ordering semantics match the
// external backends so the pipeline behaves identically on either.
package memstore

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/corralproject/corral/pkg/models"
	"github.com/corralproject/corral/pkg/storage"
)

// VectorStore keeps embedded chunks in a map and scores searches by cosine
// similarity.
type VectorStore struct {
	mu     sync.RWMutex
	chunks map[string]*models.Chunk
}

func NewVectorStore() *VectorStore {
	return &VectorStore{chunks: make(map[string]*models.Chunk)}
}

func (s *VectorStore) Upsert(ctx context.Context, chunks []*models.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range chunks {
		cp := *c
		s.chunks[c.ChunkID] = &cp
	}
	return nil
}

func (s *VectorStore) Delete(ctx context.Context, chunkIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range chunkIDs {
		delete(s.chunks, id)
	}
	return nil
}

func (s *VectorStore) Search(ctx context.Context, vector []float32, k int, filters models.SearchFilters) ([]models.Candidate, error) {
	if k <= 0 {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Candidate, 0, k)
	for _, c := range s.chunks {
		if !storage.Matches(c.TenantID, c.ACL, c.TsSource, filters) {
			continue
		}
		out = append(out, chunkCandidate(c, cosine(vector, c.Embedding)))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

func (s *VectorStore) GetDocuments(ctx context.Context, chunkIDs []string) ([]models.Candidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Candidate, 0, len(chunkIDs))
	for _, id := range chunkIDs {
		c, ok := s.chunks[id]
		if !ok {
			continue
		}
		out = append(out, chunkCandidate(c, 0))
	}
	return out, nil
}

// ListChunks pages a tenant's chunks ordered by chunk ID; the cursor is the
// last chunk ID of the previous page.
func (s *VectorStore) ListChunks(ctx context.Context, tenantID, cursor string, limit int) ([]*models.Chunk, string, error) {
	if limit <= 0 {
		limit = 100
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.chunks))
	for id, c := range s.chunks {
		if c.TenantID != tenantID {
			continue
		}
		if cursor != "" && id <= cursor {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	if len(ids) > limit {
		ids = ids[:limit]
	}
	out := make([]*models.Chunk, 0, len(ids))
	for _, id := range ids {
		cp := *s.chunks[id]
		out = append(out, &cp)
	}
	next := ""
	if len(out) == limit {
		next = out[len(out)-1].ChunkID
	}
	return out, next, nil
}

func (s *VectorStore) Health(ctx context.Context) error { return nil }

// Len reports the number of stored chunks.
func (s *VectorStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chunks)
}

func chunkCandidate(c *models.Chunk, score float64) models.Candidate {
	return models.Candidate{
		ID:         c.ChunkID,
		Type:       models.CandidateChunk,
		Text:       c.Text,
		Score:      score,
		DocID:      c.DocID,
		TenantID:   c.TenantID,
		SourceTool: c.SourceTool,
		ACL:        append([]string(nil), c.ACL...),
		TsSource:   c.TsSource,
	}
}

func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
