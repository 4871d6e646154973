package events

import (
	"context"
	"log/slog"
	"sync"
)

// subscriberBuffer is the per-subscriber channel capacity. A consumer that
// falls this far behind starts losing events; catchup via the events table
// recovers them.
const subscriberBuffer = 64

// RemoteListener is the optional cross-replica side of the broker. When set,
// the broker LISTENs remotely for any channel that has local subscribers.
type RemoteListener interface {
	Subscribe(ctx context.Context, channel string) error
	Unsubscribe(ctx context.Context, channel string) error
}

// Broker fans events out to local subscribers by channel name. It is the
// delivery hub between publishers (local or the NOTIFY listener) and SSE
// connections.
type Broker struct {
	logger *slog.Logger

	mu       sync.RWMutex
	nextID   int
	channels map[string]map[int]chan []byte
	remote   RemoteListener
}

func NewBroker(logger *slog.Logger) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broker{
		logger:   logger,
		channels: make(map[string]map[int]chan []byte),
	}
}

// SetListener wires the cross-replica listener. Call before serving
// subscribers.
func (b *Broker) SetListener(l RemoteListener) {
	b.mu.Lock()
	b.remote = l
	b.mu.Unlock()
}

// Subscribe registers a consumer for a channel. The returned cancel function
// must be called to release the subscription.
func (b *Broker) Subscribe(ctx context.Context, channel string) (<-chan []byte, func()) {
	ch := make(chan []byte, subscriberBuffer)

	b.mu.Lock()
	b.nextID++
	id := b.nextID
	subs, ok := b.channels[channel]
	if !ok {
		subs = make(map[int]chan []byte)
		b.channels[channel] = subs
	}
	first := len(subs) == 0
	subs[id] = ch
	remote := b.remote
	b.mu.Unlock()

	if first && remote != nil {
		if err := remote.Subscribe(ctx, channel); err != nil {
			b.logger.Warn("remote LISTEN failed, local-only delivery",
				"channel", channel, "error", err)
		}
	}

	cancel := func() {
		b.mu.Lock()
		if subs, ok := b.channels[channel]; ok {
			delete(subs, id)
			if len(subs) == 0 {
				delete(b.channels, channel)
			}
		}
		last := len(b.channels[channel]) == 0
		remote := b.remote
		b.mu.Unlock()

		if last && remote != nil {
			if err := remote.Unsubscribe(context.Background(), channel); err != nil {
				b.logger.Debug("remote UNLISTEN failed", "channel", channel, "error", err)
			}
		}
	}
	return ch, cancel
}

// Dispatch delivers a payload to every local subscriber of the channel.
// Slow subscribers are skipped rather than blocking the publisher.
func (b *Broker) Dispatch(channel string, payload []byte) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for id, ch := range b.channels[channel] {
		select {
		case ch <- payload:
		default:
			b.logger.Warn("subscriber behind, dropping event",
				"channel", channel, "subscriber", id)
		}
	}
}

// SubscriberCount returns the number of local subscribers on a channel.
func (b *Broker) SubscriberCount(channel string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.channels[channel])
}
