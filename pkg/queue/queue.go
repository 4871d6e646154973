// Package queue provides the at-least-once work queue that decouples
// ingestion producers from the indexing consumers.
//
// Two logical topics exist: "ingestion" carries normalized documents keyed
// by their idempotency key (tenant_id:source_id), and "ingestion_dlq"
// receives records that exhausted their retries. Duplicate keys may be
// delivered; consumers deduplicate downstream by document checksum. There is
// no ordering guarantee across keys.
package queue

import (
	"context"
	"time"
)

// Topic names.
const (
	TopicIngestion    = "ingestion"
	TopicIngestionDLQ = "ingestion_dlq"
)

// Message is one unit of queued work.
type Message struct {
	Topic string
	Key   string
	Value []byte
	Ts    time.Time
}

// Handler processes one delivered message. Returning an error leaves the
// message eligible for redelivery; handlers that dead-letter internally
// should return nil so the delivery is acknowledged.
type Handler func(ctx context.Context, msg Message) error

// Queue is the broker contract. Implementations are safe for concurrent use.
type Queue interface {
	// Publish enqueues a keyed message on a topic.
	Publish(ctx context.Context, topic, key string, value []byte) error

	// Subscribe consumes a topic with at-least-once delivery, invoking h for
	// each message. It blocks until ctx is cancelled or the broker fails.
	// Multiple subscribers to the same topic share the work.
	Subscribe(ctx context.Context, topic string, h Handler) error

	Close() error
}
