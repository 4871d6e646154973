package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/corralproject/corral/pkg/faults"
	"github.com/corralproject/corral/pkg/mcp"
	"github.com/corralproject/corral/pkg/models"
)

// ResourceSubscriber is the streaming slice of the tool host. Satisfied by
// *mcp.Host.
type ResourceSubscriber interface {
	SubscribeResource(ctx context.Context, tenantID, userID, resourceID string, params map[string]any) (<-chan mcp.Event, error)
}

// StartStreaming subscribes to an adapter resource and ingests its events
// until the stream closes or ctx is cancelled. Resumption starts at the
// checkpointed last_event_id; the checkpoint flushes every CheckpointEvery
// events and once more on exit. A failed event dead-letters and the stream
// continues. Returns the number of documents enqueued.
func (w *Worker) StartStreaming(ctx context.Context, sub ResourceSubscriber, tenantID, userID, resourceID string, params map[string]any) (int, error) {
	const op = "ingest.stream"

	callParams := make(map[string]any, len(params)+1)
	for k, v := range params {
		callParams[k] = v
	}

	cp, err := w.checkpoints.Get(ctx, resourceID)
	if err != nil {
		return 0, fmt.Errorf("load checkpoint %s: %w", resourceID, err)
	}
	if cp != nil && cp.LastEventID != "" {
		if _, set := callParams["last_event_id"]; !set {
			callParams["last_event_id"] = cp.LastEventID
		}
	}

	stream, err := sub.SubscribeResource(ctx, tenantID, userID, resourceID, callParams)
	if err != nil {
		return 0, err
	}
	w.logger.Info("stream subscription opened",
		"resource", resourceID, "tenant", tenantID, "resumed", cp != nil && cp.LastEventID != "")

	var (
		enqueued    int
		sinceFlush  int
		lastEventID string
	)
	flush := func(flushCtx context.Context) {
		if lastEventID == "" {
			return
		}
		next := &models.Checkpoint{
			ToolID:      resourceID,
			LastEventID: lastEventID,
			LastEvent:   time.Now().UTC(),
		}
		if cp != nil {
			next.Cursor = cp.Cursor
			next.LastSync = cp.LastSync
		}
		if err := w.checkpoints.Save(flushCtx, next); err != nil {
			w.logger.Warn("stream checkpoint save failed", "resource", resourceID, "error", err)
			return
		}
		sinceFlush = 0
	}
	// The exit flush survives cancellation so a clean shutdown never loses
	// more than the in-flight event.
	defer flush(context.WithoutCancel(ctx))

	for {
		select {
		case <-ctx.Done():
			return enqueued, faults.E(faults.Cancelled, op, ctx.Err())
		case ev, ok := <-stream:
			if !ok {
				w.logger.Info("stream closed by server",
					"resource", resourceID, "documents", enqueued)
				return enqueued, nil
			}

			var payload map[string]any
			if err := json.Unmarshal(ev.Data, &payload); err != nil {
				w.deadLetter(ctx, resourceID, tenantID,
					map[string]any{"event_id": ev.ID}, fmt.Errorf("undecodable event: %w", err), 0)
			} else {
				doc := w.norm.Normalize(tenantID, resourceID, payload)
				if err := w.enqueue(ctx, doc); err != nil {
					w.deadLetter(ctx, resourceID, tenantID,
						map[string]any{"event_id": ev.ID, "doc_id": doc.ID}, err, 0)
				} else {
					enqueued++
				}
			}

			if ev.ID != "" {
				lastEventID = ev.ID
			}
			sinceFlush++
			if w.cfg.CheckpointEvery > 0 && sinceFlush >= w.cfg.CheckpointEvery {
				flush(ctx)
			}
		}
	}
}
