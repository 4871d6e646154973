package pipeline

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corralproject/corral/pkg/capability"
	"github.com/corralproject/corral/pkg/chunk"
	"github.com/corralproject/corral/pkg/config"
	"github.com/corralproject/corral/pkg/faults"
	"github.com/corralproject/corral/pkg/grounding"
	"github.com/corralproject/corral/pkg/ingest"
	"github.com/corralproject/corral/pkg/models"
	"github.com/corralproject/corral/pkg/normalize"
	"github.com/corralproject/corral/pkg/queue"
	"github.com/corralproject/corral/pkg/rerank"
	"github.com/corralproject/corral/pkg/retrieval"
	"github.com/corralproject/corral/pkg/scrub"
	"github.com/corralproject/corral/pkg/sink"
	"github.com/corralproject/corral/pkg/storage/bleveindex"
	"github.com/corralproject/corral/pkg/storage/memstore"
)

// fixture wires the full pipeline on in-memory backends with static
// capabilities.
type fixture struct {
	pipeline *Pipeline
	queue    *queue.Memory
	consumer *ingest.Consumer
	runs     *memstore.RunStore
	invoker  *scriptedInvoker
}

type scriptedInvoker struct {
	result json.RawMessage
	err    error
}

func (s *scriptedInvoker) InvokeTool(context.Context, string, string, string, map[string]any) (json.RawMessage, error) {
	return s.result, s.err
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	q := queue.NewMemory(64, nil)
	vectors := memstore.NewVectorStore()
	text, err := bleveindex.NewMemOnly(nil)
	require.NoError(t, err)
	manifests := memstore.NewManifestStore()
	runs := memstore.NewRunStore()

	embedder := chunk.NewEmbedder(capability.NewStaticEmbedder(16), 0, nil)
	docSink := sink.New(chunk.NewChunker(32, 4), embedder, vectors, text, manifests, nil)

	cfg := config.DefaultIngestionConfig()
	cfg.RetryDelay = time.Millisecond
	cfg.Workers = 1

	invoker := &scriptedInvoker{}
	worker := ingest.NewWorker(invoker, normalize.New(nil, scrub.Config{}, nil), q,
		memstore.NewCheckpointStore(), nil, nil, cfg, nil)
	consumer := ingest.NewConsumer(q, docSink, nil, nil, nil, cfg, nil)

	retriever := retrieval.New(vectors, text, nil, embedder, nil, retrieval.Options{}, nil)
	reranker := rerank.New(capability.StaticCrossEncoder{}, capability.HeuristicExtractor{}, nil, nil, rerank.Options{}, nil)
	generator := grounding.New(&capability.StaticGenerator{Render: func(string) string {
		return "The deploy pipeline failed because of the expired token [1]."
	}}, grounding.Options{}, nil)

	p := New(worker, retriever, reranker, generator, runs, nil, nil, nil, nil)
	return &fixture{pipeline: p, queue: q, consumer: consumer, runs: runs, invoker: invoker}
}

func (f *fixture) drain(t *testing.T) {
	t.Helper()
	f.consumer.Start(context.Background())
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if f.queue.Depth(queue.TopicIngestion) == 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond) // let in-flight handlers finish
	f.consumer.Stop()
}

func TestIngestSourceTracksRun(t *testing.T) {
	f := newFixture(t)
	f.invoker.result = json.RawMessage(`{"items": [
		{"id": "n-1", "content": "The deploy pipeline failed after the token expired."},
		{"id": "n-2", "content": "Rotating the expired token restored the deploy pipeline."}
	]}`)

	run, err := f.pipeline.IngestSource(context.Background(), "acme", "", "ops.sync_notes", nil)
	require.NoError(t, err)
	assert.Equal(t, models.RunCompleted, run.Status)
	assert.Equal(t, 2, run.Documents)
	require.NotNil(t, run.CompletedAt)

	stored, err := f.runs.Get(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunCompleted, stored.Status)
}

func TestIngestSourceFailureMarksRunFailed(t *testing.T) {
	f := newFixture(t)
	f.invoker.err = faults.Errorf(faults.PermissionDenied, "mcp.invoke_tool", "denied")

	run, err := f.pipeline.IngestSource(context.Background(), "acme", "", "ops.sync_notes", nil)
	require.Error(t, err)
	assert.Equal(t, models.RunFailed, run.Status)
	assert.Contains(t, run.Error, "denied")
}

func TestQueryEndToEnd(t *testing.T) {
	f := newFixture(t)
	longBody := strings.Repeat("The deploy pipeline failed because the access token expired. ", 150)
	f.invoker.result = json.RawMessage(`{"items": [{"id": "n-1", "content": ` + marshalString(longBody) + `}]}`)

	_, err := f.pipeline.IngestSource(context.Background(), "acme", "", "ops.sync_notes", nil)
	require.NoError(t, err)
	f.drain(t)

	answer, err := f.pipeline.Query(context.Background(), models.HybridQuery{
		Query:   "why did the deploy pipeline fail",
		Filters: &models.SearchFilters{TenantID: "acme"},
	})
	require.NoError(t, err)
	assert.True(t, answer.HasSufficientEvidence)
	assert.Contains(t, answer.Answer, "expired token")
	require.NotEmpty(t, answer.Citations)
	assert.Equal(t, "chunk", answer.Citations[0].RefType)
}

func TestQueryRefusesWithoutEvidence(t *testing.T) {
	f := newFixture(t)

	answer, err := f.pipeline.Query(context.Background(), models.HybridQuery{
		Query:   "anything at all",
		Filters: &models.SearchFilters{TenantID: "acme"},
	})
	require.NoError(t, err)
	assert.False(t, answer.HasSufficientEvidence)
	assert.Equal(t, grounding.RefusalText, answer.Answer)
	assert.Empty(t, answer.Citations)
}

func TestQueryRejectsMissingTenant(t *testing.T) {
	f := newFixture(t)

	_, err := f.pipeline.Query(context.Background(), models.HybridQuery{Query: "x"})
	require.Error(t, err)
	assert.Equal(t, faults.SchemaInvalid, faults.KindOf(err))
}

func TestQueryStreamDeliversTerminalFrame(t *testing.T) {
	f := newFixture(t)
	longBody := strings.Repeat("The deploy pipeline failed because the access token expired. ", 150)
	f.invoker.result = json.RawMessage(`{"items": [{"id": "n-1", "content": ` + marshalString(longBody) + `}]}`)

	_, err := f.pipeline.IngestSource(context.Background(), "acme", "", "ops.sync_notes", nil)
	require.NoError(t, err)
	f.drain(t)

	frames, err := f.pipeline.QueryStream(context.Background(), models.HybridQuery{
		Query:   "why did the deploy pipeline fail",
		Filters: &models.SearchFilters{TenantID: "acme"},
		Stream:  true,
	})
	require.NoError(t, err)

	var last models.Frame
	sawAnswer := false
	for frame := range frames {
		last = frame
		if frame.Type == models.FrameAnswer {
			sawAnswer = true
		}
	}
	assert.True(t, sawAnswer)
	assert.True(t, last.Done)
	assert.Equal(t, models.FrameCitations, last.Type)
}

func TestIngestEventAndFile(t *testing.T) {
	f := newFixture(t)

	docID, err := f.pipeline.IngestEvent(context.Background(), "acme", models.SourceEvent{
		ToolID: "github.issues",
		ID:     "issue-9",
		Data:   map[string]any{"content": "Issue body"},
	})
	require.NoError(t, err)
	assert.Equal(t, "acme:github.issues:issue-9", docID)

	fileID, err := f.pipeline.IngestFile(context.Background(), "acme", "notes.md", []byte("# Notes"))
	require.NoError(t, err)
	assert.Equal(t, "acme:file:notes.md", fileID)

	assert.Equal(t, 2, f.queue.Depth(queue.TopicIngestion))

	_, err = f.pipeline.IngestEvent(context.Background(), "acme", models.SourceEvent{})
	assert.Equal(t, faults.SchemaInvalid, faults.KindOf(err))
}

func TestListRuns(t *testing.T) {
	f := newFixture(t)
	f.invoker.result = json.RawMessage(`{"items": []}`)

	for i := 0; i < 3; i++ {
		_, err := f.pipeline.IngestSource(context.Background(), "acme", "", "ops.sync_notes", nil)
		require.NoError(t, err)
	}

	resp, err := f.pipeline.ListRuns(context.Background(), models.RunFilters{TenantID: "acme", Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, resp.TotalCount)
	assert.Len(t, resp.Runs, 2)
}

func TestHealthAggregates(t *testing.T) {
	f := newFixture(t)
	f.pipeline.checks = map[string]HealthChecker{
		"vectors": healthFunc(func(context.Context) error { return nil }),
		"graph":   healthFunc(func(context.Context) error { return assert.AnError }),
	}

	got := f.pipeline.Health(context.Background())
	assert.Equal(t, "ok", got["vectors"])
	assert.Equal(t, assert.AnError.Error(), got["graph"])
}

type healthFunc func(ctx context.Context) error

func (f healthFunc) Health(ctx context.Context) error { return f(ctx) }

func marshalString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
