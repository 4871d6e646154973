package chunk

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/corralproject/corral/pkg/capability"
	"github.com/corralproject/corral/pkg/models"
)

// DefaultBatchSize bounds how many texts go to the embedding capability per
// call.
const DefaultBatchSize = 16

// Embedder batch-embeds chunks and stamps them with the model identity so
// stale embeddings are detectable after a model change.
type Embedder struct {
	cap       capability.Embedder
	batchSize int
	permits   *semaphore.Weighted // shared with the reranker; nil means unlimited
}

// NewEmbedder creates an Embedder. permits may be nil; when set it is the
// shared batch-request limiter.
func NewEmbedder(cap capability.Embedder, batchSize int, permits *semaphore.Weighted) *Embedder {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Embedder{cap: cap, batchSize: batchSize, permits: permits}
}

// EmbedChunks fills Embedding and the model stamps on every chunk, in
// batches. Chunks are mutated in place; a batch failure leaves later chunks
// unstamped and returns the error.
func (e *Embedder) EmbedChunks(ctx context.Context, chunks []*models.Chunk) error {
	for start := 0; start < len(chunks); start += e.batchSize {
		end := min(start+e.batchSize, len(chunks))
		batch := chunks[start:end]

		texts := make([]string, len(batch))
		for i, ch := range batch {
			texts[i] = ch.Text
		}

		vectors, err := e.embedBatch(ctx, texts)
		if err != nil {
			return fmt.Errorf("embed batch [%d:%d]: %w", start, end, err)
		}
		if len(vectors) != len(batch) {
			return fmt.Errorf("embed batch [%d:%d]: got %d vectors for %d texts", start, end, len(vectors), len(batch))
		}

		now := time.Now().UTC()
		for i, ch := range batch {
			ch.Embedding = vectors[i]
			ch.EmbeddingModel = e.cap.Model()
			ch.EmbeddingVersion = e.cap.Version()
			ch.TsEmbedded = now
		}
	}
	return nil
}

func (e *Embedder) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if e.permits != nil {
		if err := e.permits.Acquire(ctx, 1); err != nil {
			return nil, err
		}
		defer e.permits.Release(1)
	}
	return e.cap.Embed(ctx, texts)
}

// EmbedQuery embeds a single query string.
func (e *Embedder) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	vecs, err := e.embedBatch(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("embed query: got %d vectors", len(vecs))
	}
	return vecs[0], nil
}

// Outdated reports whether a chunk's embedding stamp no longer matches the
// current capability. Such chunks are re-enqueued for embedding only; no
// re-chunking happens.
func (e *Embedder) Outdated(ch *models.Chunk) bool {
	return ch.EmbeddingModel != e.cap.Model() || ch.EmbeddingVersion != e.cap.Version()
}

// ReembedOutdated re-embeds exactly the chunks whose stamp mismatches,
// returning how many were refreshed.
func (e *Embedder) ReembedOutdated(ctx context.Context, chunks []*models.Chunk) (int, error) {
	var stale []*models.Chunk
	for _, ch := range chunks {
		if e.Outdated(ch) {
			stale = append(stale, ch)
		}
	}
	if len(stale) == 0 {
		return 0, nil
	}
	if err := e.EmbedChunks(ctx, stale); err != nil {
		return 0, err
	}
	return len(stale), nil
}
