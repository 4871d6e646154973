// Package pipeline is the orchestrator tying sources to answers: it drives
// ingestion runs against the tool host, tracks them in the run store, and
// executes the retrieve → rerank → ground query path.
package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/corralproject/corral/pkg/events"
	"github.com/corralproject/corral/pkg/faults"
	"github.com/corralproject/corral/pkg/graph"
	"github.com/corralproject/corral/pkg/grounding"
	"github.com/corralproject/corral/pkg/ingest"
	"github.com/corralproject/corral/pkg/models"
	"github.com/corralproject/corral/pkg/obs"
	"github.com/corralproject/corral/pkg/retrieval"
	"github.com/corralproject/corral/pkg/rerank"
	"github.com/corralproject/corral/pkg/storage"
)

// Query outcomes for the queries counter.
const (
	outcomeAnswered  = "answered"
	outcomeRefused   = "refused"
	outcomeError     = "error"
	outcomeCancelled = "cancelled"
)

// sourceToolFile is the synthetic source tool of uploaded files.
const sourceToolFile = "file"

// HealthChecker is anything that can report backend liveness.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Pipeline composes the ingestion and query paths. All dependencies are
// wired at boot; metrics, publisher, and checks may be nil.
type Pipeline struct {
	worker    *ingest.Worker
	retriever *retrieval.Retriever
	reranker  *rerank.Reranker
	generator *grounding.Generator
	runs      storage.RunStore
	publisher events.Publisher
	metrics   *obs.Metrics
	checks    map[string]HealthChecker
	logger    *slog.Logger
}

func New(worker *ingest.Worker, retriever *retrieval.Retriever, reranker *rerank.Reranker, generator *grounding.Generator, runs storage.RunStore, publisher events.Publisher, metrics *obs.Metrics, checks map[string]HealthChecker, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		worker:    worker,
		retriever: retriever,
		reranker:  reranker,
		generator: generator,
		runs:      runs,
		publisher: publisher,
		metrics:   metrics,
		checks:    checks,
		logger:    logger,
	}
}

// IngestSource runs one pull sync as a tracked pipeline run.
func (p *Pipeline) IngestSource(ctx context.Context, tenantID, userID, toolID string, params map[string]any) (*models.PipelineRun, error) {
	run := p.startRun(ctx, tenantID, toolID, models.RunModePull)

	docs, err := p.worker.RunIngestion(ctx, tenantID, userID, toolID, params)
	run.Documents = docs
	if err != nil {
		run.Failures++
		p.finishRun(ctx, run, err)
		return run, err
	}
	p.finishRun(ctx, run, nil)
	return run, nil
}

// IngestStream runs one streaming sync as a tracked pipeline run. It blocks
// until the stream closes or ctx ends.
func (p *Pipeline) IngestStream(ctx context.Context, sub ingest.ResourceSubscriber, tenantID, userID, resourceID string, params map[string]any) (*models.PipelineRun, error) {
	run := p.startRun(ctx, tenantID, resourceID, models.RunModeStream)

	docs, err := p.worker.StartStreaming(ctx, sub, tenantID, userID, resourceID, params)
	run.Documents = docs
	if err != nil && faults.KindOf(err) != faults.Cancelled {
		run.Failures++
		p.finishRun(ctx, run, err)
		return run, err
	}
	p.finishRun(ctx, run, err)
	return run, err
}

// IngestEvent handles one pushed source event and returns the document ID.
func (p *Pipeline) IngestEvent(ctx context.Context, tenantID string, ev models.SourceEvent) (string, error) {
	if ev.ToolID == "" {
		return "", faults.Errorf(faults.SchemaInvalid, "pipeline.ingest_event", "tool_id is required")
	}
	payload := ev.Data
	if payload == nil {
		payload = map[string]any{}
	}
	if ev.ID != "" {
		if _, set := payload["id"]; !set {
			payload["id"] = ev.ID
		}
	}
	doc, err := p.worker.IngestPayload(ctx, tenantID, ev.ToolID, payload)
	if err != nil {
		return "", err
	}
	return doc.ID, nil
}

// IngestFile ingests one uploaded file as a document of the synthetic "file"
// source tool, keyed by filename.
func (p *Pipeline) IngestFile(ctx context.Context, tenantID, name string, data []byte) (string, error) {
	if name == "" {
		return "", faults.Errorf(faults.SchemaInvalid, "pipeline.ingest_file", "filename is required")
	}
	payload := map[string]any{
		"id":      name,
		"content": string(data),
		"metadata": map[string]any{
			"filename":   name,
			"size_bytes": len(data),
		},
	}
	doc, err := p.worker.IngestPayload(ctx, tenantID, sourceToolFile, payload)
	if err != nil {
		return "", err
	}
	return doc.ID, nil
}

// IngestURLs runs a guarded batch web fetch.
func (p *Pipeline) IngestURLs(ctx context.Context, tenantID string, urls []string) ([]ingest.WebResult, error) {
	return p.worker.IngestWeb(ctx, tenantID, urls)
}

// Query answers one hybrid query end to end.
func (p *Pipeline) Query(ctx context.Context, q models.HybridQuery) (*models.Answer, error) {
	sources, err := p.retrieveAndRerank(ctx, q)
	if err != nil {
		p.countQuery(err)
		return nil, err
	}

	start := time.Now()
	answer, err := p.generator.Answer(ctx, q.Query, sources)
	p.observe(obs.StageGenerate, start)
	if err != nil {
		p.countQuery(err)
		return nil, err
	}

	if answer.HasSufficientEvidence {
		p.countOutcome(outcomeAnswered)
	} else {
		p.countOutcome(outcomeRefused)
	}
	return answer, nil
}

// QueryStream answers one hybrid query as a frame stream. Retrieval errors
// surface before any frame; generation errors arrive as terminal frames.
func (p *Pipeline) QueryStream(ctx context.Context, q models.HybridQuery) (<-chan models.Frame, error) {
	sources, err := p.retrieveAndRerank(ctx, q)
	if err != nil {
		p.countQuery(err)
		return nil, err
	}

	frames, err := p.generator.Stream(ctx, q.Query, sources)
	if err != nil {
		p.countQuery(err)
		return nil, err
	}

	out := make(chan models.Frame)
	go func() {
		defer close(out)
		for f := range frames {
			if f.Done {
				switch f.Type {
				case models.FrameCancelled:
					p.countOutcome(outcomeCancelled)
				case models.FrameError:
					p.countOutcome(outcomeError)
				default:
					p.countOutcome(outcomeAnswered)
				}
			}
			out <- f
		}
	}()
	return out, nil
}

func (p *Pipeline) retrieveAndRerank(ctx context.Context, q models.HybridQuery) ([]models.Candidate, error) {
	start := time.Now()
	cands, err := p.retriever.Retrieve(ctx, q)
	p.observe(obs.StageRetrieve, start)
	if err != nil {
		return nil, err
	}

	start = time.Now()
	// Rerank down to its configured top-k; the query's top_k already bounded
	// retrieval.
	sources, err := p.reranker.Rerank(ctx, q.Query, cands, 0)
	p.observe(obs.StageRerank, start)
	if err != nil {
		return nil, err
	}
	return sources, nil
}

// GetRun fetches one run.
func (p *Pipeline) GetRun(ctx context.Context, id string) (*models.PipelineRun, error) {
	return p.runs.Get(ctx, id)
}

// ListRuns pages the run history.
func (p *Pipeline) ListRuns(ctx context.Context, f models.RunFilters) (*models.RunListResponse, error) {
	runs, total, err := p.runs.List(ctx, f)
	if err != nil {
		return nil, err
	}
	return &models.RunListResponse{
		Runs: runs, TotalCount: total, Limit: f.Limit, Offset: f.Offset,
	}, nil
}

// Health probes every registered backend. Values are "ok" or the error text.
func (p *Pipeline) Health(ctx context.Context) map[string]string {
	out := make(map[string]string, len(p.checks))
	for name, c := range p.checks {
		if err := c.Health(ctx); err != nil {
			out[name] = err.Error()
		} else {
			out[name] = "ok"
		}
	}
	return out
}

// startRun records and announces a new running pipeline run. Run-store
// failures degrade to logging so ingestion still proceeds.
func (p *Pipeline) startRun(ctx context.Context, tenantID, toolID string, mode models.RunMode) *models.PipelineRun {
	run := &models.PipelineRun{
		ID:        uuid.NewString(),
		TenantID:  tenantID,
		ToolID:    toolID,
		Mode:      mode,
		Status:    models.RunRunning,
		StartedAt: time.Now().UTC(),
	}
	if p.runs != nil {
		if err := p.runs.Create(ctx, run); err != nil {
			p.logger.Warn("run create failed", "run_id", run.ID, "error", err)
		}
	}
	p.publishRunStatus(ctx, run)
	return run
}

// finishRun stamps the terminal status and announces it.
func (p *Pipeline) finishRun(ctx context.Context, run *models.PipelineRun, cause error) {
	now := time.Now().UTC()
	run.CompletedAt = &now
	switch {
	case cause == nil:
		run.Status = models.RunCompleted
	case faults.KindOf(cause) == faults.Cancelled:
		run.Status = models.RunCancelled
		run.Error = cause.Error()
	default:
		run.Status = models.RunFailed
		run.Error = cause.Error()
	}

	// Terminal records must land even when the sync itself was cancelled.
	updateCtx := context.WithoutCancel(ctx)
	if p.runs != nil {
		if err := p.runs.Update(updateCtx, run); err != nil {
			p.logger.Warn("run update failed", "run_id", run.ID, "error", err)
		}
	}
	p.publishRunStatus(updateCtx, run)
	p.logger.Info("pipeline run finished",
		"run_id", run.ID, "tool", run.ToolID, "status", run.Status,
		"documents", run.Documents, "failures", run.Failures)
}

func (p *Pipeline) publishRunStatus(ctx context.Context, run *models.PipelineRun) {
	if p.publisher == nil {
		return
	}
	payload := events.RunStatusPayload{
		Type:      events.EventTypeRunStatus,
		RunID:     run.ID,
		TenantID:  run.TenantID,
		ToolID:    run.ToolID,
		Mode:      string(run.Mode),
		Status:    string(run.Status),
		Documents: run.Documents,
		Failures:  run.Failures,
		Error:     run.Error,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}
	for _, channel := range []string{events.GlobalRunsChannel, events.RunChannel(run.ID)} {
		if err := p.publisher.Publish(ctx, channel, payload); err != nil {
			p.logger.Warn("run event publish failed",
				"run_id", run.ID, "channel", channel, "error", err)
		}
	}
}

func (p *Pipeline) observe(stage string, start time.Time) {
	if p.metrics != nil {
		p.metrics.Observe(stage, start)
	}
}

// countQuery maps an error to its outcome counter.
func (p *Pipeline) countQuery(err error) {
	if faults.KindOf(err) == faults.Cancelled {
		p.countOutcome(outcomeCancelled)
		return
	}
	p.countOutcome(outcomeError)
}

func (p *Pipeline) countOutcome(outcome string) {
	if p.metrics != nil {
		p.metrics.Queries.WithLabelValues(outcome).Inc()
	}
}

// ConflictSink adapts the events publisher to the graph writer's sink
// contract so edge conflict resolutions reach SSE subscribers.
type ConflictSink struct {
	Publisher events.Publisher
	Logger    *slog.Logger
}

var _ graph.EventSink = (*ConflictSink)(nil)

// ConflictResolved publishes one conflict event on the graph channel.
func (s *ConflictSink) ConflictResolved(ctx context.Context, ev graph.ConflictEvent) {
	payload := events.ConflictResolvedPayload{
		Type:      events.EventTypeConflictResolved,
		TenantID:  ev.TenantID,
		Relation:  ev.Relation,
		Action:    ev.Action,
		WinnerID:  ev.WinnerID,
		LoserID:   ev.LoserID,
		Timestamp: ev.Ts.UTC().Format(time.RFC3339Nano),
	}
	if err := s.Publisher.Publish(ctx, events.GraphChannel, payload); err != nil && s.Logger != nil {
		s.Logger.Warn("conflict event publish failed",
			"relation", ev.Relation, "error", err)
	}
}
