// Package chunk slices document content into embedding-sized pieces and
// batch-embeds them through the Embedder capability.
package chunk

import (
	"fmt"
	"strings"
	"time"

	"github.com/corralproject/corral/pkg/models"
)

// Defaults for paragraph-greedy chunking.
const (
	DefaultChunkSize    = 800
	DefaultChunkOverlap = 100

	// ChunkerVersion stamps chunks produced by the v1 algorithm.
	ChunkerVersion = "v1"
)

// Piece is one chunk of text before it becomes a models.Chunk.
type Piece struct {
	Text   string
	Tokens int
}

// Chunker implements paragraph-greedy chunking: paragraphs (blank-line
// separated) fill a buffer up to Size tokens; when the next paragraph would
// overflow a non-empty buffer, the buffer is emitted and the next one starts
// with the last Overlap tokens of the emitted text. Tokens are approximated
// by whitespace splitting. Deterministic for fixed (Size, Overlap).
type Chunker struct {
	Size    int
	Overlap int
}

// NewChunker applies defaults for non-positive values.
func NewChunker(size, overlap int) *Chunker {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = DefaultChunkOverlap
	}
	return &Chunker{Size: size, Overlap: overlap}
}

// Split chunks raw content. Blank paragraphs are skipped; a paragraph larger
// than Size is emitted as its own oversized chunk rather than split
// mid-paragraph, so every chunk holds whole paragraphs (plus the overlap
// seed).
func (c *Chunker) Split(content string) []Piece {
	var pieces []Piece
	var buf string

	flush := func() {
		if strings.TrimSpace(buf) == "" {
			return
		}
		pieces = append(pieces, Piece{Text: buf, Tokens: tokenCount(buf)})
	}

	for _, para := range strings.Split(content, "\n\n") {
		if strings.TrimSpace(para) == "" {
			continue
		}
		if buf == "" {
			buf = para
			continue
		}
		if tokenCount(buf)+tokenCount(para) > c.Size {
			flush()
			if seed := c.overlapSeed(buf); seed != "" {
				buf = seed + "\n\n" + para
			} else {
				buf = para
			}
			continue
		}
		buf = buf + "\n\n" + para
	}
	flush()
	return pieces
}

// overlapSeed returns the last Overlap tokens of text, or "" when Overlap
// is zero.
func (c *Chunker) overlapSeed(text string) string {
	if c.Overlap <= 0 {
		return ""
	}
	words := strings.Fields(text)
	if len(words) > c.Overlap {
		words = words[len(words)-c.Overlap:]
	}
	return strings.Join(words, " ")
}

// ChunkDocument materializes chunks for a document, inheriting tenancy, ACL,
// and source timestamps. Chunk IDs are content-addressed so identical
// re-chunks are no-ops downstream.
func (c *Chunker) ChunkDocument(doc *models.Document) []*models.Chunk {
	now := time.Now().UTC()
	pieces := c.Split(doc.Content)
	chunks := make([]*models.Chunk, 0, len(pieces))
	for _, p := range pieces {
		chunks = append(chunks, &models.Chunk{
			ChunkID:        models.ChunkID(doc.ID, p.Text),
			DocID:          doc.ID,
			Text:           p.Text,
			Tokens:         p.Tokens,
			TenantID:       doc.TenantID,
			SourceTool:     doc.SourceTool,
			ACL:            doc.ACL,
			TsSource:       doc.TsSource,
			TsChunked:      now,
			ChunkerVersion: ChunkerVersion,
		})
	}
	return chunks
}

// MultiChunker runs the v1 algorithm once per configured size. Chunk IDs are
// scoped by size so cross-size collisions are impossible; versions carry the
// size for observability.
type MultiChunker struct {
	Sizes        []int
	OverlapRatio float64
}

// ChunkDocument emits every size's chunks, sizes in configured order.
func (m *MultiChunker) ChunkDocument(doc *models.Document) []*models.Chunk {
	now := time.Now().UTC()
	var chunks []*models.Chunk
	for _, size := range m.Sizes {
		overlap := int(float64(size) * m.OverlapRatio)
		sub := NewChunker(size, overlap)
		for _, p := range sub.Split(doc.Content) {
			chunks = append(chunks, &models.Chunk{
				ChunkID:        models.SizedChunkID(doc.ID, size, p.Text),
				DocID:          doc.ID,
				Text:           p.Text,
				Tokens:         p.Tokens,
				TenantID:       doc.TenantID,
				SourceTool:     doc.SourceTool,
				ACL:            doc.ACL,
				TsSource:       doc.TsSource,
				TsChunked:      now,
				ChunkerVersion: fmt.Sprintf("v2:%d", size),
			})
		}
	}
	return chunks
}

func tokenCount(s string) int {
	return len(strings.Fields(s))
}
