package pgstore

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/corralproject/corral/pkg/database"
	"github.com/corralproject/corral/pkg/faults"
	"github.com/corralproject/corral/pkg/models"
)

// startPostgres launches a throwaway Postgres container, applies migrations,
// and returns a pool. Skipped under -short.
func startPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container-backed test in short mode")
	}
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("corral_test"),
		tcpostgres.WithUsername("corral"),
		tcpostgres.WithPassword("corral"),
		tcpostgres.BasicWaitStrategies(),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = testcontainers.TerminateContainer(container) })

	url, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	require.NoError(t, database.Migrate(url))

	pool, err := pgxpool.New(ctx, url)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

func TestCheckpointRoundTrip(t *testing.T) {
	pool := startPostgres(t)
	store := NewCheckpointStore(pool)
	ctx := context.Background()

	got, err := store.Get(ctx, "jira.sync")
	require.NoError(t, err)
	assert.Nil(t, got)

	now := time.Now().UTC().Truncate(time.Microsecond)
	require.NoError(t, store.Save(ctx, &models.Checkpoint{
		ToolID:   "jira.sync",
		Cursor:   "page-7",
		LastSync: now,
	}))

	got, err = store.Get(ctx, "jira.sync")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "page-7", got.Cursor)
	assert.WithinDuration(t, now, got.LastSync, time.Millisecond)
	assert.True(t, got.LastEvent.IsZero())

	// Overwrite with a streaming checkpoint.
	require.NoError(t, store.Save(ctx, &models.Checkpoint{
		ToolID:      "jira.sync",
		LastEventID: "evt-42",
		LastEvent:   now,
	}))
	got, err = store.Get(ctx, "jira.sync")
	require.NoError(t, err)
	assert.Equal(t, "evt-42", got.LastEventID)
	assert.Empty(t, got.Cursor)
}

func TestManifestRoundTrip(t *testing.T) {
	pool := startPostgres(t)
	store := NewManifestStore(pool)
	ctx := context.Background()

	got, err := store.Get(ctx, "acme:jira:doc-1")
	require.NoError(t, err)
	assert.Nil(t, got)

	now := time.Now().UTC().Truncate(time.Microsecond)
	m := &models.ChunkManifest{
		DocID:     "acme:jira:doc-1",
		Checksum:  "abc123",
		ChunkIDs:  []string{"c1", "c2"},
		TsCreated: now,
		TsUpdated: now,
	}
	require.NoError(t, store.Save(ctx, m))

	got, err = store.Get(ctx, "acme:jira:doc-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, []string{"c1", "c2"}, got.ChunkIDs)

	m.ChunkIDs = []string{"c2", "c3"}
	m.Checksum = "def456"
	require.NoError(t, store.Save(ctx, m))
	got, err = store.Get(ctx, "acme:jira:doc-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"c2", "c3"}, got.ChunkIDs)
	assert.Equal(t, "def456", got.Checksum)
}

func TestAuditAppendListPurge(t *testing.T) {
	pool := startPostgres(t)
	store := NewAuditStore(pool)
	ctx := context.Background()

	old := time.Now().UTC().Add(-48 * time.Hour)
	recent := time.Now().UTC()
	require.NoError(t, store.Append(ctx, &models.AuditRecord{
		InvocationID: uuid.NewString(), ToolID: "jira.search", TenantID: "acme",
		Params: map[string]any{"q": "incident"}, Ts: old, Outcome: models.AuditStarted,
	}))
	require.NoError(t, store.Append(ctx, &models.AuditRecord{
		InvocationID: uuid.NewString(), ToolID: "jira.search", TenantID: "acme",
		Ts: recent, Outcome: models.AuditSuccess, Detail: "1024 bytes",
	}))

	recs, err := store.ListRecent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, models.AuditSuccess, recs[0].Outcome) // newest first

	purged, err := store.PurgeOlderThan(ctx, time.Now().UTC().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)
}

func TestRunLifecycle(t *testing.T) {
	pool := startPostgres(t)
	store := NewRunStore(pool)
	ctx := context.Background()

	run := &models.PipelineRun{
		ID: uuid.NewString(), TenantID: "acme", ToolID: "jira.sync",
		Mode: models.RunModePull, Status: models.RunRunning,
		StartedAt: time.Now().UTC().Truncate(time.Microsecond),
	}
	require.NoError(t, store.Create(ctx, run))

	done := time.Now().UTC().Truncate(time.Microsecond)
	run.Status = models.RunCompleted
	run.Documents = 12
	run.CompletedAt = &done
	require.NoError(t, store.Update(ctx, run))

	got, err := store.Get(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunCompleted, got.Status)
	assert.Equal(t, 12, got.Documents)

	runs, total, err := store.List(ctx, models.RunFilters{TenantID: "acme"})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, runs, 1)

	_, err = store.Get(ctx, uuid.NewString())
	assert.Equal(t, faults.NotFound, faults.KindOf(err))
}

func TestGraphEdgeQueries(t *testing.T) {
	pool := startPostgres(t)
	store := NewGraphStore(pool)
	ctx := context.Background()

	prov := models.Provenance{DocumentID: "acme:jira:doc-1", SourceTool: "jira", TsExtracted: time.Now().UTC()}
	require.NoError(t, store.UpsertNode(ctx, &models.GraphNode{
		ID: "acme:person:alice", Type: "person", Surface: "alice", TenantID: "acme", Provenance: prov,
	}))
	require.NoError(t, store.UpsertNode(ctx, &models.GraphNode{
		ID: "acme:org:initech", Type: "org", Surface: "initech", TenantID: "acme", Provenance: prov,
	}))

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	edge := &models.GraphEdge{
		ID:       models.EdgeID("acme:person:alice", "works_for", "acme:org:initech", start),
		SourceID: "acme:person:alice", TargetID: "acme:org:initech", Type: "works_for",
		TValidStart: start, TValidEnd: end, Confidence: 0.9, TenantID: "acme", Provenance: prov,
	}
	require.NoError(t, store.InsertEdge(ctx, edge))

	between, err := store.EdgesBetween(ctx, "acme", "acme:person:alice", "works_for", "acme:org:initech")
	require.NoError(t, err)
	require.Len(t, between, 1)

	at, err := store.EdgesAt(ctx, "acme", "acme:person:alice", time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Len(t, at, 1)

	// Half-open window: the end instant is outside.
	at, err = store.EdgesAt(ctx, "acme", "acme:person:alice", end)
	require.NoError(t, err)
	assert.Empty(t, at)

	hood, err := store.Neighborhood(ctx, "acme", []string{"acme:person:alice"}, 1, nil)
	require.NoError(t, err)
	assert.Len(t, hood, 1)

	require.NoError(t, store.DeleteEdge(ctx, edge.ID))
	between, err = store.EdgesBetween(ctx, "acme", "acme:person:alice", "works_for", "acme:org:initech")
	require.NoError(t, err)
	assert.Empty(t, between)
}
