// Package ingest drives source synchronization: pull syncs against adapter
// tools, streaming subscriptions against adapter resources, and the consumer
// pool that drains the ingestion queue into the index sinks.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/corralproject/corral/pkg/config"
	"github.com/corralproject/corral/pkg/events"
	"github.com/corralproject/corral/pkg/faults"
	"github.com/corralproject/corral/pkg/models"
	"github.com/corralproject/corral/pkg/normalize"
	"github.com/corralproject/corral/pkg/obs"
	"github.com/corralproject/corral/pkg/queue"
	"github.com/corralproject/corral/pkg/storage"
)

// ToolInvoker is the slice of the tool host the worker needs. Satisfied by
// *mcp.Host; tests substitute fakes.
type ToolInvoker interface {
	InvokeTool(ctx context.Context, tenantID, userID, toolID string, params map[string]any) (json.RawMessage, error)
}

// pullResult is the contract shape of a sync-style tool reply: a page of
// items plus an optional continuation cursor.
type pullResult struct {
	Items  []map[string]any `json:"items"`
	Cursor string           `json:"cursor"`
}

// Worker runs pull and stream synchronization for one process. Safe for
// concurrent use; each sync owns its own checkpoint row.
type Worker struct {
	host        ToolInvoker
	norm        *normalize.Normalizer
	queue       queue.Queue
	checkpoints storage.CheckpointStore
	publisher   events.Publisher
	metrics     *obs.Metrics
	cfg         *config.IngestionConfig
	logger      *slog.Logger
}

// NewWorker wires a sync worker. metrics and logger may be nil.
func NewWorker(host ToolInvoker, norm *normalize.Normalizer, q queue.Queue, checkpoints storage.CheckpointStore, publisher events.Publisher, metrics *obs.Metrics, cfg *config.IngestionConfig, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		host:        host,
		norm:        norm,
		queue:       q,
		checkpoints: checkpoints,
		publisher:   publisher,
		metrics:     metrics,
		cfg:         cfg,
		logger:      logger,
	}
}

// RunIngestion performs one pull sync: resume from the stored cursor, invoke
// the tool with retries, normalize and enqueue every returned item, then
// advance the checkpoint. Returns the number of documents enqueued.
func (w *Worker) RunIngestion(ctx context.Context, tenantID, userID, toolID string, params map[string]any) (int, error) {
	const op = "ingest.pull"

	callParams := make(map[string]any, len(params)+1)
	for k, v := range params {
		callParams[k] = v
	}

	cp, err := w.checkpoints.Get(ctx, toolID)
	if err != nil {
		return 0, fmt.Errorf("load checkpoint %s: %w", toolID, err)
	}
	if cp != nil && cp.Cursor != "" {
		if _, set := callParams["cursor"]; !set {
			callParams["cursor"] = cp.Cursor
		}
	}

	raw, err := w.invokeWithRetry(ctx, op, tenantID, userID, toolID, callParams)
	if err != nil {
		return 0, err
	}

	var page pullResult
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &page); err != nil {
			// Some adapters return a bare item array.
			if arrErr := json.Unmarshal(raw, &page.Items); arrErr != nil {
				return 0, faults.Errorf(faults.SchemaInvalid, op,
					"tool %s returned an unrecognized sync result: %v", toolID, err)
			}
		}
	}

	enqueued := 0
	for _, item := range page.Items {
		doc := w.norm.Normalize(tenantID, toolID, item)
		if err := w.enqueue(ctx, doc); err != nil {
			return enqueued, err
		}
		enqueued++
	}

	next := &models.Checkpoint{ToolID: toolID, LastSync: time.Now().UTC()}
	if cp != nil {
		next.LastEventID = cp.LastEventID
		next.LastEvent = cp.LastEvent
		next.Cursor = cp.Cursor
	}
	if page.Cursor != "" {
		next.Cursor = page.Cursor
	}
	// Best effort: a lost checkpoint re-pulls a page; enqueue is idempotent
	// downstream by checksum.
	if err := w.checkpoints.Save(ctx, next); err != nil {
		w.logger.Warn("checkpoint save failed", "tool", toolID, "error", err)
	}

	w.logger.Info("pull sync complete",
		"tool", toolID, "tenant", tenantID, "documents", enqueued, "cursor", next.Cursor != "")
	return enqueued, nil
}

// IngestPayload normalizes one pushed payload and enqueues it. This is the
// push path behind /ingest/events and /ingest/file.
func (w *Worker) IngestPayload(ctx context.Context, tenantID, sourceTool string, payload map[string]any) (*models.Document, error) {
	doc := w.norm.Normalize(tenantID, sourceTool, payload)
	if err := w.enqueue(ctx, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// enqueue publishes one normalized document on the ingestion topic keyed by
// its idempotency key.
func (w *Worker) enqueue(ctx context.Context, doc *models.Document) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal document %s: %w", doc.ID, err)
	}
	if err := w.queue.Publish(ctx, queue.TopicIngestion, doc.IdempotencyKey(), data); err != nil {
		return fmt.Errorf("enqueue document %s: %w", doc.ID, err)
	}
	if w.metrics != nil {
		w.metrics.DocumentsIngested.WithLabelValues(doc.TenantID).Inc()
	}
	return nil
}

// invokeWithRetry runs one tool call under the retry policy: exponential
// backoff with jitter up to MaxRetries retries. Fatal and cancelled errors
// surface immediately without a DLQ record; every other exhausted or
// non-retryable failure dead-letters before returning with the attempt count.
func (w *Worker) invokeWithRetry(ctx context.Context, op, tenantID, userID, toolID string, params map[string]any) (json.RawMessage, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = w.cfg.RetryDelay
	bo.Multiplier = w.cfg.RetryBackoff
	bo.RandomizationFactor = w.cfg.RetryJitter
	bo.MaxElapsedTime = 0
	bo.Reset()

	attempts := 0
	for {
		raw, err := w.host.InvokeTool(ctx, tenantID, userID, toolID, params)
		attempts++
		if err == nil {
			return raw, nil
		}
		if faults.Fatal(err) || faults.KindOf(err) == faults.Cancelled {
			return nil, err
		}
		if !faults.IsRetryable(err) || attempts > w.cfg.MaxRetries {
			w.deadLetter(ctx, toolID, tenantID, params, err, attempts-1)
			return nil, faults.WithAttempts(err, attempts)
		}

		if w.metrics != nil {
			w.metrics.Retries.WithLabelValues(toolID).Inc()
		}
		w.logger.Warn("tool call failed, retrying",
			"tool", toolID, "attempt", attempts, "error", err)
		select {
		case <-time.After(bo.NextBackOff()):
		case <-ctx.Done():
			return nil, faults.E(faults.Cancelled, op, ctx.Err())
		}
	}
}

// deadLetter publishes a DLQRecord on the DLQ topic and a dead-letter event
// for observers. DLQ delivery failures are logged, never fatal: the caller
// already holds the original error.
func (w *Worker) deadLetter(ctx context.Context, toolID, tenantID string, params map[string]any, cause error, retries int) {
	now := time.Now().UTC()
	rec := models.DLQRecord{
		ToolID:     toolID,
		TenantID:   tenantID,
		Params:     params,
		Error:      cause.Error(),
		RetryCount: retries,
		Timestamp:  now,
	}
	data, err := json.Marshal(rec)
	if err != nil {
		w.logger.Error("DLQ record marshal failed", "tool", toolID, "error", err)
		return
	}
	// Survive caller cancellation so the record lands even when the sync was
	// cancelled mid-flight.
	dlqCtx := context.WithoutCancel(ctx)
	if err := w.queue.Publish(dlqCtx, queue.TopicIngestionDLQ, toolID, data); err != nil {
		w.logger.Error("DLQ publish failed", "tool", toolID, "error", err)
		return
	}
	if w.metrics != nil {
		w.metrics.DeadLetters.WithLabelValues(toolID).Inc()
	}
	if w.publisher != nil {
		payload := events.DeadLetterPayload{
			Type:       events.EventTypeDeadLetter,
			ToolID:     toolID,
			TenantID:   tenantID,
			Error:      cause.Error(),
			RetryCount: retries,
			Timestamp:  now.Format(time.RFC3339Nano),
		}
		if err := w.publisher.Publish(dlqCtx, events.GlobalRunsChannel, payload); err != nil {
			w.logger.Warn("dead-letter event publish failed", "tool", toolID, "error", err)
		}
	}
	w.logger.Error("message dead-lettered",
		"tool", toolID, "tenant", tenantID, "retries", retries, "error", cause)
}
