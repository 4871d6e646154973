package graph

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corralproject/corral/pkg/capability"
	"github.com/corralproject/corral/pkg/models"
	"github.com/corralproject/corral/pkg/storage/memstore"
)

type recordSink struct {
	events []ConflictEvent
}

func (r *recordSink) ConflictResolved(_ context.Context, ev ConflictEvent) {
	r.events = append(r.events, ev)
}

func date(y, m, d int) time.Time {
	return time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
}

func testEdge(start, end time.Time, conf float64, extracted time.Time) *models.GraphEdge {
	return &models.GraphEdge{
		ID:          models.EdgeID("acme:person:alice", "works_at", "acme:org:initech", start),
		SourceID:    "acme:person:alice",
		TargetID:    "acme:org:initech",
		Type:        "works_at",
		TValidStart: start,
		TValidEnd:   end,
		Confidence:  conf,
		TenantID:    "acme",
		Provenance:  models.Provenance{TsExtracted: extracted},
	}
}

func relationEdges(t *testing.T, store *memstore.GraphStore) []*models.GraphEdge {
	t.Helper()
	edges, err := store.EdgesBetween(context.Background(), "acme", "acme:person:alice", "works_at", "acme:org:initech")
	require.NoError(t, err)
	return edges
}

// assertNonOverlapping checks that no instant is covered by two edges.
func assertNonOverlapping(t *testing.T, edges []*models.GraphEdge) {
	t.Helper()
	for i := 0; i < len(edges); i++ {
		for j := i + 1; j < len(edges); j++ {
			assert.False(t, edges[i].Overlaps(edges[j].TValidStart, edges[j].TValidEnd),
				"edges %s and %s overlap", edges[i].ID, edges[j].ID)
		}
	}
}

func TestInsertEdgeHigherConfidenceTruncatesExisting(t *testing.T) {
	store := memstore.NewGraphStore()
	sink := &recordSink{}
	w := NewWriter(store, nil, sink, nil)

	extractedOld := date(2023, 1, 1)
	existing := testEdge(date(2020, 1, 1), date(2025, 1, 1), 0.8, extractedOld)
	require.NoError(t, store.InsertEdge(context.Background(), existing))

	n := testEdge(date(2023, 6, 1), date(2026, 1, 1), 0.9, date(2024, 1, 1))
	inserted, conflicts, err := w.InsertEdge(context.Background(), n)
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.Equal(t, 1, conflicts)

	edges := relationEdges(t, store)
	require.Len(t, edges, 2)
	assert.Equal(t, date(2020, 1, 1), edges[0].TValidStart)
	assert.Equal(t, date(2023, 6, 1), edges[0].TValidEnd, "existing edge truncated at the new start")
	assert.Equal(t, date(2023, 6, 1), edges[1].TValidStart)
	assert.Equal(t, date(2026, 1, 1), edges[1].TValidEnd, "new edge inserted unchanged")
	assertNonOverlapping(t, edges)

	at2021, err := store.EdgesAt(context.Background(), "acme", "acme:person:alice", date(2021, 1, 1))
	require.NoError(t, err)
	require.Len(t, at2021, 1)
	assert.Equal(t, existing.ID, at2021[0].ID)

	at2024, err := store.EdgesAt(context.Background(), "acme", "acme:person:alice", date(2024, 1, 1))
	require.NoError(t, err)
	require.Len(t, at2024, 1)
	assert.Equal(t, n.ID, at2024[0].ID)

	require.Len(t, sink.events, 1)
	assert.Equal(t, ActionTruncated, sink.events[0].Action)
	assert.Equal(t, n.ID, sink.events[0].WinnerID)
	assert.Equal(t, existing.ID, sink.events[0].LoserID)
}

func TestInsertEdgeLowerConfidenceClipsToLeft(t *testing.T) {
	store := memstore.NewGraphStore()
	w := NewWriter(store, nil, nil, nil)

	existing := testEdge(date(2023, 1, 1), date(2026, 1, 1), 0.9, date(2023, 1, 1))
	require.NoError(t, store.InsertEdge(context.Background(), existing))

	n := testEdge(date(2020, 1, 1), date(2024, 6, 1), 0.5, date(2024, 1, 1))
	inserted, conflicts, err := w.InsertEdge(context.Background(), n)
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.Equal(t, 1, conflicts)

	edges := relationEdges(t, store)
	require.Len(t, edges, 2)
	assert.Equal(t, date(2020, 1, 1), edges[0].TValidStart)
	assert.Equal(t, date(2023, 1, 1), edges[0].TValidEnd, "incoming edge clipped at the existing start")
	assert.Equal(t, existing.TValidStart, edges[1].TValidStart)
	assert.Equal(t, existing.TValidEnd, edges[1].TValidEnd, "existing edge untouched")
	assertNonOverlapping(t, edges)
}

func TestInsertEdgeLowerConfidenceKeepsRemainder(t *testing.T) {
	store := memstore.NewGraphStore()
	w := NewWriter(store, nil, nil, nil)

	existing := testEdge(date(2020, 1, 1), date(2023, 1, 1), 0.9, date(2020, 1, 1))
	require.NoError(t, store.InsertEdge(context.Background(), existing))

	n := testEdge(date(2021, 1, 1), date(2025, 1, 1), 0.5, date(2024, 1, 1))
	inserted, _, err := w.InsertEdge(context.Background(), n)
	require.NoError(t, err)
	assert.True(t, inserted)

	edges := relationEdges(t, store)
	require.Len(t, edges, 2)
	assert.Equal(t, date(2023, 1, 1), edges[1].TValidStart, "remainder starts where the existing edge ends")
	assert.Equal(t, date(2025, 1, 1), edges[1].TValidEnd)
	assert.NotEqual(t, existing.ID, edges[1].ID, "remainder carries a distinct edge ID")
	assertNonOverlapping(t, edges)
}

func TestInsertEdgeInsideStrongerWindowIsDropped(t *testing.T) {
	store := memstore.NewGraphStore()
	sink := &recordSink{}
	w := NewWriter(store, nil, sink, nil)

	existing := testEdge(date(2020, 1, 1), date(2026, 1, 1), 0.9, date(2020, 1, 1))
	require.NoError(t, store.InsertEdge(context.Background(), existing))

	n := testEdge(date(2021, 1, 1), date(2022, 1, 1), 0.5, date(2024, 1, 1))
	inserted, conflicts, err := w.InsertEdge(context.Background(), n)
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.Equal(t, 1, conflicts)

	edges := relationEdges(t, store)
	require.Len(t, edges, 1)
	assert.Equal(t, existing.TValidEnd, edges[0].TValidEnd, "existing edge unchanged")
	require.Len(t, sink.events, 1)
	assert.Equal(t, ActionDropped, sink.events[0].Action)
}

func TestInsertEdgeEqualConfidenceLaterExtractionWins(t *testing.T) {
	store := memstore.NewGraphStore()
	w := NewWriter(store, nil, nil, nil)

	existing := testEdge(date(2020, 1, 1), date(2025, 1, 1), 0.8, date(2023, 1, 1))
	require.NoError(t, store.InsertEdge(context.Background(), existing))

	n := testEdge(date(2022, 1, 1), date(2026, 1, 1), 0.8, date(2024, 1, 1))
	inserted, _, err := w.InsertEdge(context.Background(), n)
	require.NoError(t, err)
	assert.True(t, inserted)

	edges := relationEdges(t, store)
	require.Len(t, edges, 2)
	assert.Equal(t, date(2022, 1, 1), edges[0].TValidEnd, "older extraction truncated")
	assertNonOverlapping(t, edges)
}

func TestInsertEdgeEqualConfidenceEarlierExtractionLoses(t *testing.T) {
	store := memstore.NewGraphStore()
	w := NewWriter(store, nil, nil, nil)

	existing := testEdge(date(2020, 1, 1), date(2025, 1, 1), 0.8, date(2024, 1, 1))
	require.NoError(t, store.InsertEdge(context.Background(), existing))

	// Same confidence, older extraction, window inside the existing one.
	n := testEdge(date(2021, 1, 1), date(2022, 1, 1), 0.8, date(2023, 1, 1))
	inserted, _, err := w.InsertEdge(context.Background(), n)
	require.NoError(t, err)
	assert.False(t, inserted)
	require.Len(t, relationEdges(t, store), 1)
}

func TestInsertEdgeCoveringWinnerDeletesExisting(t *testing.T) {
	store := memstore.NewGraphStore()
	sink := &recordSink{}
	w := NewWriter(store, nil, sink, nil)

	existing := testEdge(date(2022, 1, 1), date(2023, 1, 1), 0.5, date(2022, 1, 1))
	require.NoError(t, store.InsertEdge(context.Background(), existing))

	n := testEdge(date(2021, 1, 1), date(2024, 1, 1), 0.9, date(2024, 1, 1))
	inserted, _, err := w.InsertEdge(context.Background(), n)
	require.NoError(t, err)
	assert.True(t, inserted)

	edges := relationEdges(t, store)
	require.Len(t, edges, 1)
	assert.Equal(t, n.ID, edges[0].ID)
	require.Len(t, sink.events, 1)
	assert.Equal(t, ActionDeleted, sink.events[0].Action)
}

func TestInsertEdgeResolvesAgainstMultipleExisting(t *testing.T) {
	store := memstore.NewGraphStore()
	w := NewWriter(store, nil, nil, nil)

	e1 := testEdge(date(2020, 1, 1), date(2022, 1, 1), 0.3, date(2020, 1, 1))
	e2 := testEdge(date(2022, 1, 1), date(2024, 1, 1), 0.3, date(2022, 1, 1))
	require.NoError(t, store.InsertEdge(context.Background(), e1))
	require.NoError(t, store.InsertEdge(context.Background(), e2))

	n := testEdge(date(2021, 1, 1), date(2023, 1, 1), 0.9, date(2024, 1, 1))
	inserted, conflicts, err := w.InsertEdge(context.Background(), n)
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.Equal(t, 2, conflicts)

	edges := relationEdges(t, store)
	require.Len(t, edges, 2)
	assert.Equal(t, date(2021, 1, 1), edges[0].TValidEnd, "first edge truncated")
	assert.Equal(t, n.ID, edges[1].ID, "second edge fully superseded")
	assertNonOverlapping(t, edges)
}

func TestIngestDocumentWritesNodesAndEdges(t *testing.T) {
	store := memstore.NewGraphStore()
	w := NewWriter(store, capability.HeuristicExtractor{}, nil, nil)

	doc := &models.Document{
		ID:         "acme:github:doc-1",
		TenantID:   "acme",
		SourceTool: "github",
		Content:    "Alice moved the Initech migration forward. Initech signed off after Alice presented.",
		TsSource:   date(2026, 1, 1),
	}
	stats, err := w.IngestDocument(context.Background(), doc)
	require.NoError(t, err)
	assert.Greater(t, stats.Nodes, 0)
	assert.Greater(t, stats.Edges, 0)

	node, err := store.GetNode(context.Background(), models.NodeID("acme", "entity", "Alice"))
	require.NoError(t, err)
	assert.Equal(t, "acme", node.TenantID)
	assert.Equal(t, "acme:github:doc-1", node.Provenance.DocumentID)
}

func TestIngestDocumentDefaultsValidityWindow(t *testing.T) {
	store := memstore.NewGraphStore()
	w := NewWriter(store, capability.HeuristicExtractor{}, nil, nil)

	doc := &models.Document{
		ID:         "acme:github:doc-2",
		TenantID:   "acme",
		SourceTool: "github",
		Content:    "Alice joined Initech.",
		TsSource:   date(2026, 1, 1),
	}
	_, err := w.IngestDocument(context.Background(), doc)
	require.NoError(t, err)

	edges, err := store.Neighborhood(context.Background(), "acme", []string{models.NodeID("acme", "entity", "Alice")}, 1, nil)
	require.NoError(t, err)
	require.NotEmpty(t, edges)
	assert.Equal(t, date(2026, 1, 1), edges[0].TValidStart)
	assert.Equal(t, date(2026, 1, 1).Add(models.DefaultEdgeValidity), edges[0].TValidEnd)
}
