package queue

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/corralproject/corral/pkg/faults"
)

// kafkaWriter is the slice of kafka.Writer the queue needs; tests swap in a
// recorder.
type kafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka is the broker-backed queue. Messages hash to partitions by key, so
// deliveries for one document land on one consumer. A failed handler gets
// its message republished to the topic tail before the fetched offset
// commits, so retries happen within the session instead of waiting for a
// group rebalance; delivery stays at-least-once.
type Kafka struct {
	brokers []string
	group   string
	logger  *slog.Logger

	writer kafkaWriter

	mu      sync.Mutex
	readers []*kafka.Reader
	closed  bool
}

// NewKafka creates a Kafka-backed queue. Topics are created lazily by the
// broker (or ahead of time by deployment tooling).
func NewKafka(brokers []string, group string, logger *slog.Logger) *Kafka {
	if logger == nil {
		logger = slog.Default()
	}
	return &Kafka{
		brokers: brokers,
		group:   group,
		logger:  logger,
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			BatchTimeout: 20 * time.Millisecond,
		},
	}
}

func (k *Kafka) Publish(ctx context.Context, topic, key string, value []byte) error {
	err := k.writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: value,
	})
	if err != nil {
		return faults.E(faults.DependencyUnavailable, "queue.publish",
			fmt.Errorf("kafka write to %s: %w", topic, err))
	}
	return nil
}

func (k *Kafka) Subscribe(ctx context.Context, topic string, h Handler) error {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        k.brokers,
		GroupID:        k.group,
		Topic:          topic,
		MinBytes:       1,
		MaxBytes:       10 << 20,
		CommitInterval: 0, // synchronous commits
	})
	k.mu.Lock()
	if k.closed {
		k.mu.Unlock()
		_ = reader.Close()
		return fmt.Errorf("queue closed")
	}
	k.readers = append(k.readers, reader)
	k.mu.Unlock()

	for {
		m, err := reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
				return ctx.Err()
			}
			return faults.E(faults.DependencyUnavailable, "queue.fetch", err)
		}
		if !k.handleFetched(ctx, m, h) {
			continue
		}
		if err := reader.CommitMessages(ctx, m); err != nil {
			k.logger.Warn("offset commit failed, message may redeliver",
				"topic", topic, "key", string(m.Key), "error", err)
		}
	}
}

// handleFetched runs the handler and reports whether the fetched offset may
// commit. FetchMessage advances the session position whether or not the
// offset commits, so a failed message left uncommitted would sit parked
// until the next rebalance or restart. Republishing it to the topic tail
// keeps the retry in-session, where the consumer's per-key retry budget
// decides when to dead-letter; the offset then commits as usual. Only when
// the republish itself fails does the offset stay uncommitted so the
// rebalance path can redeliver.
func (k *Kafka) handleFetched(ctx context.Context, m kafka.Message, h Handler) bool {
	msg := Message{Topic: m.Topic, Key: string(m.Key), Value: m.Value, Ts: m.Time}
	err := h(ctx, msg)
	if err == nil {
		return true
	}
	requeue := kafka.Message{Topic: m.Topic, Key: m.Key, Value: m.Value}
	if rqErr := k.writer.WriteMessages(ctx, requeue); rqErr != nil {
		k.logger.Warn("handler failed and requeue failed, holding offset",
			"topic", m.Topic, "key", msg.Key, "error", err, "requeue_error", rqErr)
		return false
	}
	k.logger.Warn("handler failed, message requeued",
		"topic", m.Topic, "key", msg.Key, "error", err)
	return true
}

func (k *Kafka) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return nil
	}
	k.closed = true
	var firstErr error
	if err := k.writer.Close(); err != nil {
		firstErr = err
	}
	for _, r := range k.readers {
		if err := r.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
