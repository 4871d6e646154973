// Package mcp connects the platform to tool adapter servers over JSON-RPC
// 2.0 and fronts every call with discovery, schema validation, permission
// checks, and audit records.
//
// Two transports carry the frames: stdio (the adapter is a child process,
// newline-delimited frames) and HTTP+SSE (POST /rpc per call, POST
// /subscribe for event streams). The Host composes one transport per
// configured server.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/corralproject/corral/pkg/config"
)

// Timing constants shared by the transports and the host.
const (
	// DefaultInvokeTimeout is the per-call deadline when the server config
	// does not set one.
	DefaultInvokeTimeout = 30 * time.Second

	// InitTimeout bounds transport creation plus the mcp.initialize handshake.
	InitTimeout = 30 * time.Second

	// ShutdownTimeout bounds the best-effort mcp.shutdown sent on Close.
	ShutdownTimeout = 2 * time.Second

	// UnsubscribeTimeout bounds the best-effort mcp.unsubscribe sent when a
	// subscription consumer goes away.
	UnsubscribeTimeout = 5 * time.Second

	// ReinitTimeout is the deadline for recreating a transport during recovery.
	ReinitTimeout = 10 * time.Second

	// RetryBackoffMin and RetryBackoffMax bound the jittered pause before the
	// host's single in-call retry after a lost transport.
	RetryBackoffMin = 250 * time.Millisecond
	RetryBackoffMax = 750 * time.Millisecond

	// HealthPingTimeout is the health check ping deadline.
	HealthPingTimeout = 5 * time.Second

	// HealthInterval is the health check loop interval.
	HealthInterval = 15 * time.Second
)

// eventBuffer is the per-subscription channel capacity. A consumer that
// falls this far behind starts losing events on stdio; resumption via
// last_event_id recovers them.
const eventBuffer = 64

// Event is one message from a resource subscription stream.
type Event struct {
	ID   string
	Type string
	Data json.RawMessage
}

// Transport carries JSON-RPC 2.0 calls to one adapter server.
// Implementations are safe for concurrent use.
type Transport interface {
	// Invoke sends one request and waits for the matching response. It fails
	// with a faults.TransportClosed error once the connection is gone, a
	// faults.Timeout error after the per-call deadline, and a faults.RpcError
	// carrying the adapter's code and message on a JSON-RPC error.
	Invoke(ctx context.Context, method string, params any) (json.RawMessage, error)

	// Subscribe opens an event stream for a resource. The channel closes when
	// the server ends the stream or ctx is cancelled; pass
	// params["last_event_id"] to resume a previous stream.
	Subscribe(ctx context.Context, resource string, params map[string]any) (<-chan Event, error)

	// Close sends mcp.shutdown (best effort), tears the connection down, and
	// fails all pending requests with faults.TransportClosed. Idempotent.
	Close() error
}

// newTransport creates a transport from config and completes the
// mcp.initialize handshake before returning it.
func newTransport(ctx context.Context, serverID string, cfg config.TransportConfig, logger *slog.Logger) (Transport, error) {
	switch cfg.Type {
	case config.TransportTypeStdio:
		return newStdioTransport(ctx, serverID, cfg, logger)
	case config.TransportTypeHTTP:
		return newHTTPTransport(ctx, serverID, cfg, logger)
	default:
		return nil, fmt.Errorf("unsupported transport type: %s", cfg.Type)
	}
}

// callTimeout resolves the per-call deadline for a server.
func callTimeout(cfg config.TransportConfig) time.Duration {
	if cfg.Timeout > 0 {
		return time.Duration(cfg.Timeout) * time.Second
	}
	return DefaultInvokeTimeout
}

// handshake announces the protocol version and capabilities on a fresh
// transport and checks the server accepted.
func handshake(ctx context.Context, t Transport) error {
	raw, err := t.Invoke(ctx, methodInitialize, map[string]any{
		"version":      protocolVersion,
		"capabilities": []string{"tools", "resources", "prompts"},
	})
	if err != nil {
		return err
	}
	var st statusResult
	if err := json.Unmarshal(raw, &st); err != nil {
		return fmt.Errorf("malformed initialize response: %w", err)
	}
	if st.Status != "success" {
		return fmt.Errorf("server rejected initialize: status %q", st.Status)
	}
	return nil
}
