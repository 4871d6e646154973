package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/corralproject/corral/pkg/config"
	"github.com/corralproject/corral/pkg/faults"
)

// httpTransport sends each call as POST {base_url}/rpc and opens
// subscriptions as POST {base_url}/subscribe, consuming the response as a
// text/event-stream.
type httpTransport struct {
	serverID string
	baseURL  string
	headers  map[string]string
	client   *http.Client

	nextID  atomic.Int64
	timeout time.Duration

	mu       sync.Mutex
	inflight map[int64]context.CancelFunc
	closed   bool

	closeOnce sync.Once
	logger    *slog.Logger
}

// newHTTPTransport builds the client and performs the handshake.
//
// No client-level timeout is set: it would cut long-lived subscribe streams.
// Per-call deadlines come from request contexts instead.
func newHTTPTransport(ctx context.Context, serverID string, cfg config.TransportConfig, logger *slog.Logger) (*httpTransport, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("http transport requires base_url")
	}

	t := &httpTransport{
		serverID: serverID,
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		headers:  cfg.AuthHeaders,
		client:   &http.Client{},
		timeout:  callTimeout(cfg),
		inflight: make(map[int64]context.CancelFunc),
		logger:   logger,
	}

	initCtx, cancel := context.WithTimeout(ctx, InitTimeout)
	defer cancel()
	if err := handshake(initCtx, t); err != nil {
		_ = t.Close()
		return nil, fmt.Errorf("initialize %q: %w", serverID, err)
	}
	return t, nil
}

// Invoke posts one JSON-RPC request to /rpc and decodes the response frame.
func (t *httpTransport) Invoke(ctx context.Context, method string, params any) (json.RawMessage, error) {
	const op = "mcp.invoke"

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, faults.Errorf(faults.TransportClosed, op, "server %s: transport closed", t.serverID)
	}
	id := t.nextID.Add(1)
	reqCtx, cancel := context.WithTimeout(ctx, t.timeout)
	t.inflight[id] = cancel
	t.mu.Unlock()
	defer func() {
		cancel()
		t.mu.Lock()
		delete(t.inflight, id)
		t.mu.Unlock()
	}()

	body, err := json.Marshal(rpcRequest{JSONRPC: jsonRPCVersion, ID: id, Method: method, Params: params})
	if err != nil {
		return nil, faults.E(faults.Internal, op, fmt.Errorf("marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, t.baseURL+"/rpc", bytes.NewReader(body))
	if err != nil {
		return nil, faults.E(faults.Internal, op, err)
	}
	t.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, t.classifyDoError(op, ctx, reqCtx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// The endpoint answered outside the JSON-RPC envelope. Map the HTTP
		// status onto the RPC error space; 5xx counts as transient.
		return nil, faults.RPC(op, resp.StatusCode,
			fmt.Sprintf("server %s: unexpected http status", t.serverID), resp.StatusCode >= 500)
	}

	var frame rpcFrame
	if err := json.NewDecoder(resp.Body).Decode(&frame); err != nil {
		return nil, faults.E(faults.Internal, op, fmt.Errorf("decode response: %w", err))
	}
	if frame.Error != nil {
		return nil, faults.RPC(op, frame.Error.Code, frame.Error.Message, retryableRPCCode(frame.Error.Code))
	}
	return frame.Result, nil
}

// Subscribe opens the event stream. The server's response body stays open
// for the life of the subscription; a reader goroutine parses SSE frames
// into the returned channel.
func (t *httpTransport) Subscribe(ctx context.Context, resource string, params map[string]any) (<-chan Event, error) {
	const op = "mcp.subscribe"

	subID := uuid.NewString()
	body, err := json.Marshal(subscribeParams{Resource: resource, Params: params, SubscriptionID: subID})
	if err != nil {
		return nil, faults.E(faults.Internal, op, err)
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, faults.Errorf(faults.TransportClosed, op, "server %s: transport closed", t.serverID)
	}
	streamID := t.nextID.Add(1)
	streamCtx, cancel := context.WithCancel(ctx)
	t.inflight[streamID] = cancel
	t.mu.Unlock()

	cleanup := func() {
		cancel()
		t.mu.Lock()
		delete(t.inflight, streamID)
		t.mu.Unlock()
	}

	req, err := http.NewRequestWithContext(streamCtx, http.MethodPost, t.baseURL+"/subscribe", bytes.NewReader(body))
	if err != nil {
		cleanup()
		return nil, faults.E(faults.Internal, op, err)
	}
	t.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if last, ok := params["last_event_id"].(string); ok && last != "" {
		req.Header.Set("Last-Event-ID", last)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		cleanup()
		return nil, t.classifyDoError(op, ctx, streamCtx, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cleanup()
		return nil, faults.RPC(op, resp.StatusCode,
			fmt.Sprintf("server %s: subscribe rejected", t.serverID), resp.StatusCode >= 500)
	}

	ch := make(chan Event, eventBuffer)
	go func() {
		defer cleanup()
		t.readEvents(streamCtx, resp.Body, subID, ch)
	}()
	return ch, nil
}

// Close cancels in-flight calls and streams and stops reusing connections.
// Safe to call more than once.
func (t *httpTransport) Close() error {
	t.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		_, _ = t.Invoke(ctx, methodShutdown, map[string]any{})
		cancel()

		t.mu.Lock()
		t.closed = true
		cancels := make([]context.CancelFunc, 0, len(t.inflight))
		for _, c := range t.inflight {
			cancels = append(cancels, c)
		}
		t.mu.Unlock()

		for _, c := range cancels {
			c()
		}
		t.client.CloseIdleConnections()
	})
	return nil
}

// readEvents parses the text/event-stream body. Events are dispatched on
// blank lines per the SSE framing; a trailing event without a final blank
// line is flushed at EOF. Frames without data lines only reset the
// accumulator.
func (t *httpTransport) readEvents(ctx context.Context, body io.ReadCloser, subID string, ch chan<- Event) {
	defer func() {
		body.Close()
		close(ch)
		t.unsubscribe(subID)
	}()

	var (
		ev   Event
		data []string
	)
	flush := func() bool {
		if len(data) == 0 {
			ev = Event{}
			return true
		}
		ev.Data = json.RawMessage(strings.Join(data, "\n"))
		select {
		case ch <- ev:
			ev, data = Event{}, nil
			return true
		case <-ctx.Done():
			return false
		}
	}

	sc := bufio.NewScanner(body)
	sc.Buffer(make([]byte, 64<<10), 16<<20)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			if !flush() {
				return
			}
		case strings.HasPrefix(line, ":"):
			// Comment / keep-alive.
		case strings.HasPrefix(line, "id:"):
			ev.ID = strings.TrimSpace(line[len("id:"):])
		case strings.HasPrefix(line, "event:"):
			ev.Type = strings.TrimSpace(line[len("event:"):])
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimSpace(line[len("data:"):]))
		}
	}
	flush()
	if err := sc.Err(); err != nil && ctx.Err() == nil {
		t.logger.Debug("subscribe stream ended", "server", t.serverID, "subscription", subID, "error", err)
	}
}

// unsubscribe tells the server the consumer is gone. Best effort; skipped
// when the transport itself is already down.
func (t *httpTransport) unsubscribe(subID string) {
	if t.isClosed() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), UnsubscribeTimeout)
	defer cancel()
	if _, err := t.Invoke(ctx, methodUnsubscribe, map[string]any{"subscription_id": subID}); err != nil {
		t.logger.Debug("unsubscribe failed", "server", t.serverID, "subscription", subID, "error", err)
	}
}

// classifyDoError translates a failed round trip into the fault taxonomy:
// caller cancellation first, then the per-call deadline, then transport
// teardown, then plain connection trouble.
func (t *httpTransport) classifyDoError(op string, ctx, reqCtx context.Context, err error) error {
	switch {
	case ctx.Err() != nil:
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return faults.E(faults.Timeout, op, err)
		}
		return faults.E(faults.Cancelled, op, ctx.Err())
	case errors.Is(reqCtx.Err(), context.DeadlineExceeded):
		return faults.Errorf(faults.Timeout, op, "server %s: request timed out after %s", t.serverID, t.timeout)
	case t.isClosed():
		return faults.Errorf(faults.TransportClosed, op, "server %s: transport closed", t.serverID)
	default:
		return faults.E(faults.TransportClosed, op, err)
	}
}

func (t *httpTransport) setHeaders(req *http.Request) {
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}
}

func (t *httpTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}
