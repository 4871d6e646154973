package ingest

import (
	"context"
	"encoding/json"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/corralproject/corral/pkg/config"
	"github.com/corralproject/corral/pkg/events"
	"github.com/corralproject/corral/pkg/faults"
	"github.com/corralproject/corral/pkg/graph"
	"github.com/corralproject/corral/pkg/models"
	"github.com/corralproject/corral/pkg/obs"
	"github.com/corralproject/corral/pkg/queue"
	"github.com/corralproject/corral/pkg/sink"
)

// consumerStripes is the keyed-mutex fan-out for per-document serialization.
const consumerStripes = 64

// Consumer is the worker pool draining the ingestion topic into the index
// sinks. Documents with the same ID serialize on a striped lock so delta
// reindexing never races itself.
type Consumer struct {
	queue     queue.Queue
	sink      *sink.Sink
	graph     *graph.Writer
	publisher events.Publisher
	metrics   *obs.Metrics
	cfg       *config.IngestionConfig
	logger    *slog.Logger

	locks [consumerStripes]sync.Mutex

	// Redelivery attempts per message key, cleared on success or DLQ.
	failMu   sync.Mutex
	failures map[string]int

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewConsumer wires the consumer pool. metrics and logger may be nil; graph
// may be nil to disable graph ingestion.
func NewConsumer(q queue.Queue, s *sink.Sink, g *graph.Writer, publisher events.Publisher, metrics *obs.Metrics, cfg *config.IngestionConfig, logger *slog.Logger) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{
		queue:     q,
		sink:      s,
		graph:     g,
		publisher: publisher,
		metrics:   metrics,
		cfg:       cfg,
		logger:    logger,
		failures:  make(map[string]int),
	}
}

// Start launches the worker pool. Call Stop to drain and shut down.
func (c *Consumer) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	workers := c.cfg.Workers
	if workers < 1 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		c.wg.Add(1)
		go func(id int) {
			defer c.wg.Done()
			if err := c.queue.Subscribe(runCtx, queue.TopicIngestion, c.handle); err != nil && runCtx.Err() == nil {
				c.logger.Error("consumer subscription failed", "worker", id, "error", err)
			}
		}(i)
	}
	c.logger.Info("ingestion consumers started", "workers", workers)
}

// Stop cancels the subscriptions and waits for in-flight messages.
func (c *Consumer) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	c.logger.Info("ingestion consumers stopped")
}

// handle processes one delivery. Returning nil acknowledges; a retryable
// failure returns the error for redelivery until the per-key retry budget is
// spent, then dead-letters and acknowledges.
func (c *Consumer) handle(ctx context.Context, msg queue.Message) error {
	var doc models.Document
	if err := json.Unmarshal(msg.Value, &doc); err != nil {
		// Undecodable payloads can never succeed; straight to the DLQ.
		c.deadLetterMessage(ctx, msg, "", err, 0)
		return nil
	}

	start := time.Now()
	res, stats, err := c.indexOne(ctx, &doc)
	if err != nil {
		if faults.KindOf(err) == faults.Cancelled {
			return err
		}
		attempts := c.bumpFailure(msg.Key)
		if faults.IsRetryable(err) && attempts <= c.cfg.MaxRetries {
			c.logger.Warn("document indexing failed, leaving for redelivery",
				"doc_id", doc.ID, "attempt", attempts, "error", err)
			return err
		}
		c.clearFailure(msg.Key)
		c.deadLetterMessage(ctx, msg, doc.TenantID, err, attempts)
		return nil
	}
	c.clearFailure(msg.Key)

	if c.metrics != nil {
		c.metrics.Observe(obs.StageIndex, start)
		c.metrics.ChunksIndexed.Add(float64(res.Upserted))
		c.metrics.ChunksDeleted.Add(float64(res.Deleted))
		c.metrics.GraphConflicts.Add(float64(stats.Conflicts))
	}
	if c.publisher != nil && res.Changed {
		payload := events.DocumentIndexedPayload{
			Type:      events.EventTypeDocumentIndexed,
			TenantID:  doc.TenantID,
			DocID:     doc.ID,
			Chunks:    res.Upserted,
			Deleted:   res.Deleted,
			Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		}
		if err := c.publisher.Publish(ctx, events.GlobalRunsChannel, payload); err != nil {
			c.logger.Warn("document event publish failed", "doc_id", doc.ID, "error", err)
		}
	}
	return nil
}

// indexOne runs the sink and graph writes under the document's stripe lock.
func (c *Consumer) indexOne(ctx context.Context, doc *models.Document) (sink.Result, graph.WriteStats, error) {
	lock := &c.locks[stripeFor(doc.ID)]
	lock.Lock()
	defer lock.Unlock()

	res, err := c.sink.IndexDocument(ctx, doc)
	if err != nil {
		return res, graph.WriteStats{}, err
	}
	var stats graph.WriteStats
	if c.graph != nil && res.Changed {
		stats, err = c.graph.IngestDocument(ctx, doc)
		if err != nil {
			return res, stats, err
		}
	}
	return res, stats, nil
}

func (c *Consumer) deadLetterMessage(ctx context.Context, msg queue.Message, tenantID string, cause error, retries int) {
	now := time.Now().UTC()
	rec := models.DLQRecord{
		ToolID:     "consumer:" + msg.Topic,
		TenantID:   tenantID,
		Params:     map[string]any{"key": msg.Key},
		Error:      cause.Error(),
		RetryCount: retries,
		Timestamp:  now,
	}
	data, err := json.Marshal(rec)
	if err != nil {
		c.logger.Error("DLQ record marshal failed", "key", msg.Key, "error", err)
		return
	}
	dlqCtx := context.WithoutCancel(ctx)
	if err := c.queue.Publish(dlqCtx, queue.TopicIngestionDLQ, msg.Key, data); err != nil {
		c.logger.Error("DLQ publish failed", "key", msg.Key, "error", err)
		return
	}
	if c.metrics != nil {
		c.metrics.DeadLetters.WithLabelValues(rec.ToolID).Inc()
	}
	if c.publisher != nil {
		payload := events.DeadLetterPayload{
			Type:       events.EventTypeDeadLetter,
			ToolID:     rec.ToolID,
			TenantID:   tenantID,
			Error:      cause.Error(),
			RetryCount: retries,
			Timestamp:  now.Format(time.RFC3339Nano),
		}
		if err := c.publisher.Publish(dlqCtx, events.GlobalRunsChannel, payload); err != nil {
			c.logger.Warn("dead-letter event publish failed", "key", msg.Key, "error", err)
		}
	}
	c.logger.Error("message dead-lettered",
		"key", msg.Key, "retries", retries, "error", cause)
}

func (c *Consumer) bumpFailure(key string) int {
	c.failMu.Lock()
	defer c.failMu.Unlock()
	c.failures[key]++
	return c.failures[key]
}

func (c *Consumer) clearFailure(key string) {
	c.failMu.Lock()
	delete(c.failures, key)
	c.failMu.Unlock()
}

func stripeFor(id string) int {
	h := fnv.New32a()
	h.Write([]byte(id))
	return int(h.Sum32() % consumerStripes)
}
