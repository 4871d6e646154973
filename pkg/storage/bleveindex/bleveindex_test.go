package bleveindex

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corralproject/corral/pkg/models"
)

func newTestIndex(t *testing.T) *Index {
	t.Helper()
	idx, err := NewMemOnly(nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func chunkFixture(id, tenant, text string, acl []string, ts time.Time) *models.Chunk {
	return &models.Chunk{
		ChunkID:    id,
		DocID:      "doc-1",
		Text:       text,
		TenantID:   tenant,
		SourceTool: "jira",
		ACL:        acl,
		TsSource:   ts,
	}
}

func TestSearchMatchesRelevantText(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()
	ts := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, idx.Index(ctx, []*models.Chunk{
		chunkFixture("c1", "acme", "kubernetes pod restart loop detected", []string{"tenant:acme"}, ts),
		chunkFixture("c2", "acme", "quarterly revenue summary", []string{"tenant:acme"}, ts),
	}))

	got, err := idx.Search(ctx, "kubernetes restart", 10, models.SearchFilters{TenantID: "acme"})
	require.NoError(t, err)
	require.NotEmpty(t, got)
	assert.Equal(t, "c1", got[0].ID)
	assert.Equal(t, models.CandidateChunk, got[0].Type)
	assert.Equal(t, "kubernetes pod restart loop detected", got[0].Text)
	assert.Equal(t, "jira", got[0].SourceTool)
}

func TestSearchEnforcesTenant(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()
	ts := time.Now().UTC()

	require.NoError(t, idx.Index(ctx, []*models.Chunk{
		chunkFixture("c1", "acme", "shared incident report", []string{"tenant:acme"}, ts),
		chunkFixture("c2", "globex", "shared incident report", []string{"tenant:globex"}, ts),
	}))

	got, err := idx.Search(ctx, "incident report", 10, models.SearchFilters{TenantID: "globex"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "c2", got[0].ID)
}

func TestSearchACLOverlap(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()
	ts := time.Now().UTC()

	require.NoError(t, idx.Index(ctx, []*models.Chunk{
		chunkFixture("c1", "acme", "eng only design doc", []string{"tenant:acme", "group:eng"}, ts),
		chunkFixture("c2", "acme", "sales only design doc", []string{"tenant:acme", "group:sales"}, ts),
	}))

	got, err := idx.Search(ctx, "design doc", 10, models.SearchFilters{
		TenantID: "acme",
		ACL:      []string{"group:eng"},
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "c1", got[0].ID)
}

func TestSearchTimeWindowIsHalfOpen(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	jan := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
	mar := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
	require.NoError(t, idx.Index(ctx, []*models.Chunk{
		chunkFixture("january", "acme", "status update report", []string{"tenant:acme"}, jan),
		chunkFixture("march", "acme", "status update report", []string{"tenant:acme"}, mar),
	}))

	got, err := idx.Search(ctx, "status update", 10, models.SearchFilters{
		TenantID: "acme",
		TimeWindow: &models.TimeWindow{
			Start: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
			End:   time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		},
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "january", got[0].ID)

	// Window end equal to ts_source excludes the document.
	got, err = idx.Search(ctx, "status update", 10, models.SearchFilters{
		TenantID: "acme",
		TimeWindow: &models.TimeWindow{
			Start: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
			End:   jan,
		},
	})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestDeleteRemovesChunks(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()
	ts := time.Now().UTC()

	require.NoError(t, idx.Index(ctx, []*models.Chunk{
		chunkFixture("c1", "acme", "stale chunk text", []string{"tenant:acme"}, ts),
	}))
	require.NoError(t, idx.Delete(ctx, []string{"c1", "never-existed"}))

	got, err := idx.Search(ctx, "stale chunk", 10, models.SearchFilters{TenantID: "acme"})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestReindexSameChunkIsIdempotent(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()
	ts := time.Now().UTC()

	c := chunkFixture("c1", "acme", "idempotent upsert text", []string{"tenant:acme"}, ts)
	require.NoError(t, idx.Index(ctx, []*models.Chunk{c}))
	require.NoError(t, idx.Index(ctx, []*models.Chunk{c}))

	got, err := idx.Search(ctx, "idempotent upsert", 10, models.SearchFilters{TenantID: "acme"})
	require.NoError(t, err)
	assert.Len(t, got, 1)
}
