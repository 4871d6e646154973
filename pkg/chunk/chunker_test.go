package chunk

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corralproject/corral/pkg/capability"
	"github.com/corralproject/corral/pkg/models"
)

func TestSplitOverlapSeed(t *testing.T) {
	c := NewChunker(4, 1)
	pieces := c.Split("AAA BBB CCC\n\nDDD EEE FFF")

	require.Len(t, pieces, 2)
	assert.Equal(t, "AAA BBB CCC", pieces[0].Text)
	assert.Equal(t, 3, pieces[0].Tokens)
	assert.Equal(t, "CCC\n\nDDD EEE FFF", pieces[1].Text)
	assert.Equal(t, 4, pieces[1].Tokens)
}

func TestSplitSingleParagraph(t *testing.T) {
	c := NewChunker(10, 2)
	pieces := c.Split("one two three")
	require.Len(t, pieces, 1)
	assert.Equal(t, "one two three", pieces[0].Text)
}

func TestSplitEmptyAndBlank(t *testing.T) {
	c := NewChunker(10, 2)
	assert.Empty(t, c.Split(""))
	assert.Empty(t, c.Split("\n\n\n\n  \n\n"))
}

func TestSplitOversizedParagraphKeptWhole(t *testing.T) {
	c := NewChunker(3, 1)
	big := "w1 w2 w3 w4 w5 w6"
	pieces := c.Split("small\n\n" + big)

	require.Len(t, pieces, 2)
	assert.Equal(t, "small", pieces[0].Text)
	// Oversized paragraph lands in one chunk, seeded with the overlap token.
	assert.Equal(t, "small\n\n"+big, pieces[1].Text)
	assert.LessOrEqual(t, pieces[1].Tokens, c.Size+tokenCount(big))
}

func TestSplitOverlapInvariant(t *testing.T) {
	c := NewChunker(6, 2)
	var paras []string
	for _, p := range [][]string{
		{"alpha", "beta", "gamma", "delta"},
		{"epsilon", "zeta", "eta"},
		{"theta", "iota", "kappa", "lambda"},
		{"mu", "nu"},
	} {
		paras = append(paras, strings.Join(p, " "))
	}
	pieces := c.Split(strings.Join(paras, "\n\n"))
	require.Greater(t, len(pieces), 1)

	for i := 1; i < len(pieces); i++ {
		prev := strings.Fields(pieces[i-1].Text)
		cur := strings.Fields(pieces[i].Text)
		want := min(c.Overlap, len(prev))
		// The next chunk starts with the last `want` tokens of the previous.
		assert.Equal(t, prev[len(prev)-want:], cur[:want], "chunk %d overlap", i)
	}
}

func TestSplitDeterministic(t *testing.T) {
	c := NewChunker(5, 2)
	content := "alpha beta gamma\n\ndelta epsilon zeta\n\neta theta iota kappa"
	first := c.Split(content)
	for range 5 {
		assert.Equal(t, first, c.Split(content))
	}
}

func TestChunkDocumentIDsDeterministic(t *testing.T) {
	doc := &models.Document{
		ID:         "t1:wiki:page",
		TenantID:   "t1",
		SourceTool: "wiki",
		Content:    "AAA BBB CCC\n\nDDD EEE FFF",
		ACL:        []string{"tenant:t1"},
		TsSource:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	c := NewChunker(4, 1)

	first := c.ChunkDocument(doc)
	second := c.ChunkDocument(doc)
	require.Len(t, first, 2)

	for i := range first {
		assert.Equal(t, first[i].ChunkID, second[i].ChunkID)
		assert.Equal(t, models.ChunkID(doc.ID, first[i].Text), first[i].ChunkID)
		assert.Equal(t, "v1", first[i].ChunkerVersion)
		assert.Equal(t, doc.ACL, first[i].ACL)
	}
}

func TestMultiChunkerSizeScopedIDs(t *testing.T) {
	doc := &models.Document{ID: "t1:wiki:page", Content: "AAA BBB CCC\n\nDDD EEE FFF"}
	m := &MultiChunker{Sizes: []int{4, 100}, OverlapRatio: 0.25}

	chunks := m.ChunkDocument(doc)
	require.Len(t, chunks, 3) // two at size 4, one at size 100

	ids := make(map[string]bool)
	for _, ch := range chunks {
		assert.False(t, ids[ch.ChunkID], "chunk IDs must not collide across sizes")
		ids[ch.ChunkID] = true
	}
	assert.Equal(t, "v2:4", chunks[0].ChunkerVersion)
	assert.Equal(t, "v2:100", chunks[2].ChunkerVersion)
}

func TestEmbedChunksStampsAndBatches(t *testing.T) {
	doc := &models.Document{ID: "t1:wiki:page", Content: strings.Repeat("para text here\n\n", 10)}
	chunks := NewChunker(5, 1).ChunkDocument(doc)
	require.NotEmpty(t, chunks)

	e := NewEmbedder(capability.NewStaticEmbedder(32), 2, nil)
	require.NoError(t, e.EmbedChunks(context.Background(), chunks))

	for _, ch := range chunks {
		assert.Len(t, ch.Embedding, 32)
		assert.Equal(t, "static-hash", ch.EmbeddingModel)
		assert.Equal(t, "1", ch.EmbeddingVersion)
		assert.False(t, ch.TsEmbedded.IsZero())
	}
}

func TestReembedOutdated(t *testing.T) {
	e := NewEmbedder(capability.NewStaticEmbedder(16), 4, nil)
	chunks := []*models.Chunk{
		{ChunkID: "a", Text: "alpha", EmbeddingModel: "static-hash", EmbeddingVersion: "1"},
		{ChunkID: "b", Text: "beta", EmbeddingModel: "old-model", EmbeddingVersion: "1"},
		{ChunkID: "c", Text: "gamma", EmbeddingModel: "static-hash", EmbeddingVersion: "0"},
	}

	n, err := e.ReembedOutdated(context.Background(), chunks)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Nil(t, chunks[0].Embedding) // up-to-date stamp untouched
	assert.NotNil(t, chunks[1].Embedding)
	assert.NotNil(t, chunks[2].Embedding)
}
