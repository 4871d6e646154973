package models

import (
	"fmt"
	"time"
)

// Chunk is a slice of a document's content sized for embedding and indexing.
// ChunkID is deterministic from (doc_id, text), so identical re-chunks are
// no-ops in the index.
type Chunk struct {
	ChunkID        string    `json:"chunk_id"`
	DocID          string    `json:"doc_id"`
	Text           string    `json:"text"`
	Tokens         int       `json:"tokens"`
	TenantID       string    `json:"tenant_id"`
	SourceTool     string    `json:"source_tool"`
	ACL            []string  `json:"acl"`
	TsSource       time.Time `json:"ts_source"`
	TsChunked      time.Time `json:"ts_chunked"`
	ChunkerVersion string    `json:"chunker_version"`

	Embedding        []float32 `json:"embedding,omitempty"`
	EmbeddingModel   string    `json:"embedding_model,omitempty"`
	EmbeddingVersion string    `json:"embedding_version,omitempty"`
	TsEmbedded       time.Time `json:"ts_embedded,omitempty"`
}

// ChunkID derives the content-addressed chunk ID.
func ChunkID(docID, text string) string {
	return MD5Hex(docID + ":" + text)
}

// SizedChunkID scopes the chunk ID by target size for multi-size chunking so
// chunks of different sizes never collide.
func SizedChunkID(docID string, size int, text string) string {
	return MD5Hex(fmt.Sprintf("%s:%d:%s", docID, size, text))
}

// ChunkManifest records the chunk membership of a document. Delta indexing
// diffs the manifest against a fresh chunk set; the index converges to the
// manifest after every successful run.
type ChunkManifest struct {
	DocID     string    `json:"doc_id"`
	Checksum  string    `json:"checksum"`
	ChunkIDs  []string  `json:"chunk_ids"` // ordered
	TsCreated time.Time `json:"ts_created"`
	TsUpdated time.Time `json:"ts_updated"`
}
