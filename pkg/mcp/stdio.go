package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/corralproject/corral/pkg/config"
	"github.com/corralproject/corral/pkg/faults"
)

// stdioTransport speaks newline-delimited JSON-RPC with an adapter child
// process. A background reader owns stdout and dispatches response frames to
// pending requests by id; subscription events arrive as mcp.event
// notifications and are routed by subscription_id.
type stdioTransport struct {
	serverID string
	cmd      *exec.Cmd
	stdin    io.WriteCloser

	writeMu sync.Mutex // serializes stdin writes so frames never interleave

	nextID  atomic.Int64
	timeout time.Duration

	mu      sync.Mutex
	pending map[int64]chan *rpcFrame
	subs    map[string]chan Event
	closed  bool

	closeOnce sync.Once
	done      chan struct{} // closed once the transport is dead
	logger    *slog.Logger
}

// newStdioTransport starts the adapter process and performs the handshake.
func newStdioTransport(ctx context.Context, serverID string, cfg config.TransportConfig, logger *slog.Logger) (*stdioTransport, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("stdio transport requires command")
	}

	cmd := exec.Command(cfg.Command, cfg.Args...)

	// Inherit the parent environment plus config overrides. Values were
	// already expanded by the config loader.
	env := os.Environ()
	for k, v := range cfg.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	cmd.Env = env

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %q: %w", cfg.Command, err)
	}

	t := &stdioTransport{
		serverID: serverID,
		cmd:      cmd,
		stdin:    stdin,
		timeout:  callTimeout(cfg),
		pending:  make(map[int64]chan *rpcFrame),
		subs:     make(map[string]chan Event),
		done:     make(chan struct{}),
		logger:   logger,
	}

	go t.readLoop(stdout)
	go t.drainStderr(stderr)

	initCtx, cancel := context.WithTimeout(ctx, InitTimeout)
	defer cancel()
	if err := handshake(initCtx, t); err != nil {
		_ = t.Close()
		return nil, fmt.Errorf("initialize %q: %w", serverID, err)
	}
	return t, nil
}

// Invoke sends one request and waits for the matching response.
func (t *stdioTransport) Invoke(ctx context.Context, method string, params any) (json.RawMessage, error) {
	const op = "mcp.invoke"

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, faults.Errorf(faults.TransportClosed, op, "server %s: transport closed", t.serverID)
	}
	id := t.nextID.Add(1)
	ch := make(chan *rpcFrame, 1)
	t.pending[id] = ch
	t.mu.Unlock()

	if err := t.writeFrame(rpcRequest{JSONRPC: jsonRPCVersion, ID: id, Method: method, Params: params}); err != nil {
		t.forgetPending(id)
		return nil, faults.E(faults.TransportClosed, op, err)
	}

	timer := time.NewTimer(t.timeout)
	defer timer.Stop()

	select {
	case frame := <-ch:
		if frame == nil {
			// Channel closed by teardown while we were waiting.
			return nil, faults.Errorf(faults.TransportClosed, op, "server %s: transport closed", t.serverID)
		}
		if frame.Error != nil {
			return nil, faults.RPC(op, frame.Error.Code, frame.Error.Message, retryableRPCCode(frame.Error.Code))
		}
		return frame.Result, nil
	case <-timer.C:
		t.forgetPending(id)
		return nil, faults.Errorf(faults.Timeout, op, "server %s: %s timed out after %s", t.serverID, method, t.timeout)
	case <-ctx.Done():
		t.forgetPending(id)
		return nil, faults.E(faults.Cancelled, op, ctx.Err())
	case <-t.done:
		return nil, faults.Errorf(faults.TransportClosed, op, "server %s: connection lost", t.serverID)
	}
}

// Subscribe registers a subscription with the server and returns the event
// channel the reader will feed.
func (t *stdioTransport) Subscribe(ctx context.Context, resource string, params map[string]any) (<-chan Event, error) {
	const op = "mcp.subscribe"

	subID := uuid.NewString()
	ch := make(chan Event, eventBuffer)

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, faults.Errorf(faults.TransportClosed, op, "server %s: transport closed", t.serverID)
	}
	t.subs[subID] = ch
	t.mu.Unlock()

	raw, err := t.Invoke(ctx, methodSubscribe, subscribeParams{Resource: resource, Params: params, SubscriptionID: subID})
	if err != nil {
		t.removeSub(subID)
		return nil, err
	}
	var st statusResult
	if err := json.Unmarshal(raw, &st); err != nil || st.Status != "success" {
		t.removeSub(subID)
		return nil, faults.Errorf(faults.RpcError, op, "server %s rejected subscription to %s: %s", t.serverID, resource, st.Error)
	}

	go func() {
		select {
		case <-ctx.Done():
			t.removeSub(subID)
			t.unsubscribe(subID)
		case <-t.done:
			// Teardown already closed the channel.
		}
	}()
	return ch, nil
}

// Close sends mcp.shutdown (best effort), kills the child, and fails all
// pending requests. Safe to call more than once.
func (t *stdioTransport) Close() error {
	t.closeOnce.Do(func() {
		t.mu.Lock()
		alive := !t.closed
		t.mu.Unlock()

		if alive {
			ctx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
			_, _ = t.Invoke(ctx, methodShutdown, map[string]any{})
			cancel()
		}

		_ = t.stdin.Close()
		if t.cmd != nil {
			if t.cmd.Process != nil {
				_ = t.cmd.Process.Kill()
			}
			_ = t.cmd.Wait()
		}
		t.failAll()
	})
	return nil
}

// readLoop owns stdout. It runs until the pipe breaks, then fails everything
// still in flight.
func (t *stdioTransport) readLoop(stdout io.Reader) {
	defer t.failAll()

	r := bufio.NewReaderSize(stdout, 64<<10)
	for {
		line, err := readLine(r)
		if err != nil {
			if err != io.EOF {
				t.logger.Debug("stdio read loop ended", "server", t.serverID, "error", err)
			}
			return
		}
		if len(line) == 0 {
			continue
		}

		var frame rpcFrame
		if err := json.Unmarshal(line, &frame); err != nil {
			t.logger.Warn("dropping malformed frame", "server", t.serverID, "error", err)
			continue
		}
		switch {
		case frame.ID != nil:
			t.dispatchResponse(*frame.ID, &frame)
		case frame.Method == methodEvent:
			t.dispatchEvent(frame.Params)
		default:
			t.logger.Debug("ignoring notification", "server", t.serverID, "method", frame.Method)
		}
	}
}

// readLine reads one newline-delimited frame, tolerating frames larger than
// the reader's buffer and a missing trailing newline at EOF.
func readLine(r *bufio.Reader) ([]byte, error) {
	line, err := r.ReadBytes('\n')
	if err != nil {
		if err == io.EOF && len(line) > 0 {
			return bytes.TrimRight(line, "\r\n"), nil
		}
		return nil, err
	}
	return bytes.TrimRight(line, "\r\n"), nil
}

func (t *stdioTransport) dispatchResponse(id int64, frame *rpcFrame) {
	t.mu.Lock()
	ch, ok := t.pending[id]
	if ok {
		delete(t.pending, id)
	}
	t.mu.Unlock()
	if !ok {
		// Late reply after a timeout or cancellation.
		t.logger.Debug("dropping reply with no pending request", "server", t.serverID, "id", id)
		return
	}
	ch <- frame
}

// dispatchEvent routes an mcp.event notification to its subscription. The
// send stays under mu so it cannot race a concurrent channel close; it is
// non-blocking so a stalled consumer loses events instead of stalling every
// response on the transport.
func (t *stdioTransport) dispatchEvent(params json.RawMessage) {
	var n eventNotification
	if err := json.Unmarshal(params, &n); err != nil {
		t.logger.Warn("dropping malformed event", "server", t.serverID, "error", err)
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	ch, ok := t.subs[n.SubscriptionID]
	if !ok {
		return
	}
	select {
	case ch <- Event{ID: n.ID, Type: n.Type, Data: n.Data}:
	default:
		t.logger.Warn("subscriber not keeping up, dropping event",
			"server", t.serverID, "subscription", n.SubscriptionID, "event_id", n.ID)
	}
}

// writeFrame marshals and writes one request followed by a newline.
func (t *stdioTransport) writeFrame(req rpcRequest) error {
	buf, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	buf = append(buf, '\n')

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if _, err := t.stdin.Write(buf); err != nil {
		return fmt.Errorf("write to %s: %w", t.serverID, err)
	}
	return nil
}

func (t *stdioTransport) forgetPending(id int64) {
	t.mu.Lock()
	delete(t.pending, id)
	t.mu.Unlock()
}

// removeSub drops a subscription and closes its channel if teardown has not
// already done so.
func (t *stdioTransport) removeSub(subID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if ch, ok := t.subs[subID]; ok {
		delete(t.subs, subID)
		close(ch)
	}
}

// unsubscribe tells the server the consumer is gone. Best effort.
func (t *stdioTransport) unsubscribe(subID string) {
	ctx, cancel := context.WithTimeout(context.Background(), UnsubscribeTimeout)
	defer cancel()
	if _, err := t.Invoke(ctx, methodUnsubscribe, map[string]any{"subscription_id": subID}); err != nil {
		t.logger.Debug("unsubscribe failed", "server", t.serverID, "subscription", subID, "error", err)
	}
}

// failAll marks the transport closed, fails every pending request, and ends
// every subscription stream. Idempotent; called by both the reader on pipe
// breakage and Close.
func (t *stdioTransport) failAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	close(t.done)
	for id, ch := range t.pending {
		delete(t.pending, id)
		close(ch)
	}
	for subID, ch := range t.subs {
		delete(t.subs, subID)
		close(ch)
	}
}

// drainStderr forwards adapter diagnostics so child failures stay visible.
func (t *stdioTransport) drainStderr(stderr io.Reader) {
	sc := bufio.NewScanner(stderr)
	for sc.Scan() {
		t.logger.Debug("adapter stderr", "server", t.serverID, "line", sc.Text())
	}
}
