package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Memory is the in-process queue backend. Each topic is a buffered channel;
// subscribers to the same topic compete for messages, which matches the
// consumer-group semantics of the Kafka backend.
type Memory struct {
	buffer int
	logger *slog.Logger

	mu     sync.Mutex
	topics map[string]chan Message
	closed bool
}

// NewMemory creates an in-process queue with the given per-topic buffer.
func NewMemory(buffer int, logger *slog.Logger) *Memory {
	if buffer <= 0 {
		buffer = 256
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Memory{
		buffer: buffer,
		logger: logger,
		topics: make(map[string]chan Message),
	}
}

func (m *Memory) topic(name string) (chan Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, fmt.Errorf("queue closed")
	}
	ch, ok := m.topics[name]
	if !ok {
		ch = make(chan Message, m.buffer)
		m.topics[name] = ch
	}
	return ch, nil
}

// Publish enqueues the message, blocking when the topic buffer is full so
// producers apply backpressure instead of dropping work.
func (m *Memory) Publish(ctx context.Context, topic, key string, value []byte) error {
	ch, err := m.topic(topic)
	if err != nil {
		return err
	}
	msg := Message{Topic: topic, Key: key, Value: value, Ts: time.Now().UTC()}
	select {
	case ch <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe drains the topic until ctx ends. A handler error requeues the
// message once (best effort) to preserve at-least-once delivery.
func (m *Memory) Subscribe(ctx context.Context, topic string, h Handler) error {
	ch, err := m.topic(topic)
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-ch:
			if err := h(ctx, msg); err != nil {
				m.logger.Warn("handler failed, requeueing message",
					"topic", topic, "key", msg.Key, "error", err)
				select {
				case ch <- msg:
				default:
					m.logger.Error("requeue dropped, topic buffer full",
						"topic", topic, "key", msg.Key)
				}
			}
		}
	}
}

// Close marks the queue closed. Buffered messages are discarded.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Depth returns the number of buffered messages on a topic. Test helper.
func (m *Memory) Depth(topic string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ch, ok := m.topics[topic]; ok {
		return len(ch)
	}
	return 0
}
