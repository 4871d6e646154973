// Package capability defines the narrow model-facing contracts the pipeline
// depends on: generation, embedding, pair scoring, and entity extraction.
// Concrete backends are injected at boot; there is no runtime discovery.
package capability

import (
	"context"

	"github.com/corralproject/corral/pkg/models"
)

// Generator produces answers from prompts.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
	// GenerateStream returns a channel of stream chunks. The channel closes
	// when generation finishes; failures arrive as an ErrorChunk before close.
	GenerateStream(ctx context.Context, prompt string) (<-chan StreamChunk, error)
}

// Embedder turns texts into vectors. Model and Version stamp produced
// embeddings so stale chunks can be detected and re-embedded.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Model() string
	Version() string
}

// CrossEncoder jointly scores (query, doc) pairs for reranking.
type CrossEncoder interface {
	ScorePairs(ctx context.Context, query string, docs []string) ([]float64, error)
	Model() string
}

// EntityExtractor pulls typed entity mentions and relations out of text.
type EntityExtractor interface {
	Extract(ctx context.Context, text string) ([]models.Entity, []models.Relation, error)
}

// StreamChunk is one unit of a generation stream.
type StreamChunk interface {
	chunkType() string
}

// TextChunk carries a fragment of generated text.
type TextChunk struct {
	Text string
}

func (TextChunk) chunkType() string { return "text" }

// ErrorChunk reports a stream failure. The channel closes after it.
type ErrorChunk struct {
	Message   string
	Retryable bool
}

func (ErrorChunk) chunkType() string { return "error" }
