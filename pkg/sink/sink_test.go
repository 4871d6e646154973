package sink

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corralproject/corral/pkg/capability"
	"github.com/corralproject/corral/pkg/chunk"
	"github.com/corralproject/corral/pkg/models"
	"github.com/corralproject/corral/pkg/storage/memstore"
)

// fakeTextIndex records index/delete traffic and keeps the indexed ID set.
type fakeTextIndex struct {
	indexed map[string]bool
	deleted []string
}

func newFakeTextIndex() *fakeTextIndex {
	return &fakeTextIndex{indexed: make(map[string]bool)}
}

func (f *fakeTextIndex) Index(_ context.Context, chunks []*models.Chunk) error {
	for _, c := range chunks {
		f.indexed[c.ChunkID] = true
	}
	return nil
}

func (f *fakeTextIndex) Delete(_ context.Context, chunkIDs []string) error {
	for _, id := range chunkIDs {
		delete(f.indexed, id)
		f.deleted = append(f.deleted, id)
	}
	return nil
}

func (f *fakeTextIndex) Search(context.Context, string, int, models.SearchFilters) ([]models.Candidate, error) {
	return nil, nil
}

func (f *fakeTextIndex) Health(context.Context) error { return nil }

func (f *fakeTextIndex) ids() []string {
	var out []string
	for id := range f.indexed {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func testDoc(content, checksum string) *models.Document {
	return &models.Document{
		ID:         "acme:github:issue-7",
		TenantID:   "acme",
		SourceTool: "github",
		SourceID:   "issue-7",
		Content:    content,
		Checksum:   checksum,
		TsSource:   time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
	}
}

func newTestSink(text *fakeTextIndex, vectors *memstore.VectorStore, manifests *memstore.ManifestStore) *Sink {
	embedder := chunk.NewEmbedder(capability.NewStaticEmbedder(16), 0, nil)
	return New(chunk.NewChunker(4, 0), embedder, vectors, text, manifests, nil)
}

// versionedEmbedder stamps a fixed model with a swappable version so tests
// can simulate an embedding upgrade.
type versionedEmbedder struct {
	version string
}

func (e *versionedEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0, 0}
	}
	return out, nil
}

func (e *versionedEmbedder) Model() string   { return "pinned" }
func (e *versionedEmbedder) Version() string { return e.version }

func TestIndexDocumentFirstPass(t *testing.T) {
	text := newFakeTextIndex()
	vectors := memstore.NewVectorStore()
	manifests := memstore.NewManifestStore()
	s := newTestSink(text, vectors, manifests)

	res, err := s.IndexDocument(context.Background(), testDoc("AAA AAA AAA\n\nBBB BBB BBB", "sum-1"))
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Equal(t, 2, res.Upserted)
	assert.Equal(t, 0, res.Deleted)

	m, err := manifests.Get(context.Background(), "acme:github:issue-7")
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, "sum-1", m.Checksum)
	assert.Len(t, m.ChunkIDs, 2)
	assert.Equal(t, 2, vectors.Len())
	assert.ElementsMatch(t, m.ChunkIDs, text.ids())
}

func TestIndexDocumentSameChecksumIsNoOp(t *testing.T) {
	text := newFakeTextIndex()
	vectors := memstore.NewVectorStore()
	manifests := memstore.NewManifestStore()
	s := newTestSink(text, vectors, manifests)

	doc := testDoc("AAA AAA AAA\n\nBBB BBB BBB", "sum-1")
	_, err := s.IndexDocument(context.Background(), doc)
	require.NoError(t, err)
	before, err := manifests.Get(context.Background(), doc.ID)
	require.NoError(t, err)

	res, err := s.IndexDocument(context.Background(), doc)
	require.NoError(t, err)
	assert.False(t, res.Changed)
	assert.Empty(t, text.deleted)

	after, err := manifests.Get(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, before.ChunkIDs, after.ChunkIDs)
	assert.Equal(t, before.TsUpdated, after.TsUpdated)
}

func TestIndexDocumentDeltaDeletesOnlyStaleChunks(t *testing.T) {
	text := newFakeTextIndex()
	vectors := memstore.NewVectorStore()
	manifests := memstore.NewManifestStore()
	s := newTestSink(text, vectors, manifests)

	// First version chunks to {c1, c2}; the rewrite keeps the second
	// paragraph so its chunk ID survives, and adds a new one.
	_, err := s.IndexDocument(context.Background(), testDoc("AAA AAA AAA\n\nBBB BBB BBB", "sum-1"))
	require.NoError(t, err)
	first, err := manifests.Get(context.Background(), "acme:github:issue-7")
	require.NoError(t, err)
	c1 := models.ChunkID("acme:github:issue-7", "AAA AAA AAA")
	c2 := models.ChunkID("acme:github:issue-7", "BBB BBB BBB")
	assert.Equal(t, []string{c1, c2}, first.ChunkIDs)

	res, err := s.IndexDocument(context.Background(), testDoc("BBB BBB BBB\n\nCCC CCC CCC", "sum-2"))
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Equal(t, 1, res.Deleted)

	c3 := models.ChunkID("acme:github:issue-7", "CCC CCC CCC")
	second, err := manifests.Get(context.Background(), "acme:github:issue-7")
	require.NoError(t, err)
	assert.Equal(t, []string{c2, c3}, second.ChunkIDs)
	assert.Equal(t, []string{c1}, text.deleted, "deletions are exactly the stale set")
	assert.Equal(t, []string{c2, c3}, text.ids())
	assert.Equal(t, 2, vectors.Len())

	got, err := vectors.GetDocuments(context.Background(), []string{c1, c2, c3})
	require.NoError(t, err)
	require.Len(t, got, 2, "vector store holds exactly the fresh set")
	assert.Equal(t, first.TsCreated, second.TsCreated, "ts_created survives re-index")
}

func TestIndexDocumentEmptyContentClearsIndex(t *testing.T) {
	text := newFakeTextIndex()
	vectors := memstore.NewVectorStore()
	manifests := memstore.NewManifestStore()
	s := newTestSink(text, vectors, manifests)

	_, err := s.IndexDocument(context.Background(), testDoc("AAA AAA AAA", "sum-1"))
	require.NoError(t, err)
	require.Equal(t, 1, vectors.Len())

	res, err := s.IndexDocument(context.Background(), testDoc("", "sum-2"))
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Equal(t, 0, res.Upserted)
	assert.Equal(t, 1, res.Deleted)
	assert.Equal(t, 0, vectors.Len())
	assert.Empty(t, text.ids())

	m, err := manifests.Get(context.Background(), "acme:github:issue-7")
	require.NoError(t, err)
	assert.Empty(t, m.ChunkIDs)
	assert.Equal(t, "sum-2", m.Checksum)
}

func TestRefreshEmbeddingsReembedsStaleChunks(t *testing.T) {
	text := newFakeTextIndex()
	vectors := memstore.NewVectorStore()
	manifests := memstore.NewManifestStore()

	v1 := chunk.NewEmbedder(&versionedEmbedder{version: "1"}, 0, nil)
	s1 := New(chunk.NewChunker(4, 0), v1, vectors, text, manifests, nil)
	_, err := s1.IndexDocument(context.Background(), testDoc("AAA AAA AAA\n\nBBB BBB BBB", "sum-1"))
	require.NoError(t, err)

	// Same stores, upgraded embedder: the sweep must rewrite every chunk
	// stamped by version 1.
	v2 := chunk.NewEmbedder(&versionedEmbedder{version: "2"}, 0, nil)
	s2 := New(chunk.NewChunker(4, 0), v2, vectors, text, manifests, nil)

	n, err := s2.RefreshEmbeddings(context.Background(), "acme")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	stored, _, err := vectors.ListChunks(context.Background(), "acme", "", 10)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	for _, c := range stored {
		assert.Equal(t, "pinned", c.EmbeddingModel)
		assert.Equal(t, "2", c.EmbeddingVersion)
		assert.NotEmpty(t, c.Embedding)
	}

	n, err = s2.RefreshEmbeddings(context.Background(), "acme")
	require.NoError(t, err)
	assert.Zero(t, n, "second sweep finds nothing stale")
}

func TestRefreshEmbeddingsSkipsCurrentTenantOnly(t *testing.T) {
	text := newFakeTextIndex()
	vectors := memstore.NewVectorStore()
	manifests := memstore.NewManifestStore()
	s := newTestSink(text, vectors, manifests)

	_, err := s.IndexDocument(context.Background(), testDoc("AAA AAA AAA", "sum-1"))
	require.NoError(t, err)

	n, err := s.RefreshEmbeddings(context.Background(), "acme")
	require.NoError(t, err)
	assert.Zero(t, n, "chunks embedded by the current model stay untouched")

	n, err = s.RefreshEmbeddings(context.Background(), "globex")
	require.NoError(t, err)
	assert.Zero(t, n, "foreign tenants have nothing stored")
}
