package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
)

// listenCmd is a LISTEN/UNLISTEN command executed by the receive loop, which
// is the sole goroutine that touches the pgx connection.
type listenCmd struct {
	sql    string
	result chan error
}

// NotifyListener holds a dedicated PostgreSQL connection, LISTENs on demand,
// and dispatches notifications to the local broker.
type NotifyListener struct {
	connString string
	broker     *Broker
	logger     *slog.Logger

	conn   *pgx.Conn
	connMu sync.Mutex

	channels   map[string]bool
	channelsMu sync.RWMutex

	// cmdCh serializes LISTEN/UNLISTEN through the receive loop to avoid the
	// "conn busy" race between WaitForNotification and Exec.
	cmdCh   chan listenCmd
	running atomic.Bool

	cancelLoop context.CancelFunc
	loopDone   chan struct{}
}

func NewNotifyListener(connString string, broker *Broker, logger *slog.Logger) *NotifyListener {
	if logger == nil {
		logger = slog.Default()
	}
	return &NotifyListener{
		connString: connString,
		broker:     broker,
		logger:     logger,
		channels:   make(map[string]bool),
		cmdCh:      make(chan listenCmd, 16),
	}
}

// Start establishes the dedicated LISTEN connection and begins receiving.
func (l *NotifyListener) Start(ctx context.Context) error {
	conn, err := pgx.Connect(ctx, l.connString)
	if err != nil {
		return fmt.Errorf("connect for LISTEN: %w", err)
	}
	l.connMu.Lock()
	l.conn = conn
	l.connMu.Unlock()
	l.running.Store(true)

	loopCtx, cancel := context.WithCancel(ctx)
	l.cancelLoop = cancel
	l.loopDone = make(chan struct{})
	go func() {
		defer close(l.loopDone)
		l.receiveLoop(loopCtx)
	}()

	l.logger.Info("notify listener started")
	return nil
}

// Subscribe issues LISTEN for a channel via the receive loop.
func (l *NotifyListener) Subscribe(ctx context.Context, channel string) error {
	l.channelsMu.RLock()
	already := l.channels[channel]
	l.channelsMu.RUnlock()
	if already {
		return nil
	}
	if !l.running.Load() {
		return fmt.Errorf("LISTEN connection not established")
	}
	if err := l.exec(ctx, "LISTEN "+pgx.Identifier{channel}.Sanitize()); err != nil {
		return err
	}
	l.channelsMu.Lock()
	l.channels[channel] = true
	l.channelsMu.Unlock()
	l.logger.Debug("subscribed to NOTIFY channel", "channel", channel)
	return nil
}

// Unsubscribe issues UNLISTEN for a channel.
func (l *NotifyListener) Unsubscribe(ctx context.Context, channel string) error {
	l.channelsMu.Lock()
	delete(l.channels, channel)
	l.channelsMu.Unlock()
	if !l.running.Load() {
		return nil
	}
	return l.exec(ctx, "UNLISTEN "+pgx.Identifier{channel}.Sanitize())
}

func (l *NotifyListener) exec(ctx context.Context, sql string) error {
	cmd := listenCmd{sql: sql, result: make(chan error, 1)}
	select {
	case l.cmdCh <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-cmd.result:
		if err != nil {
			return fmt.Errorf("%s failed: %w", sql, err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// receiveLoop alternates between executing queued LISTEN commands and
// waiting for notifications on short deadlines so commands are not starved.
func (l *NotifyListener) receiveLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-l.cmdCh:
			_, err := l.conn.Exec(ctx, cmd.sql)
			cmd.result <- err
		default:
		}

		waitCtx, cancel := context.WithTimeout(ctx, 250*time.Millisecond)
		notification, err := l.conn.WaitForNotification(waitCtx)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			// Deadline pops are the normal poll path; anything else is a
			// broken connection.
			if waitCtx.Err() == context.DeadlineExceeded {
				continue
			}
			l.logger.Error("notification wait failed, listener stopping", "error", err)
			l.running.Store(false)
			return
		}
		l.broker.Dispatch(notification.Channel, []byte(notification.Payload))
	}
}

// Stop terminates the receive loop and closes the connection.
func (l *NotifyListener) Stop(ctx context.Context) {
	if !l.running.Swap(false) {
		return
	}
	if l.cancelLoop != nil {
		l.cancelLoop()
		<-l.loopDone
	}
	l.connMu.Lock()
	defer l.connMu.Unlock()
	if l.conn != nil {
		if err := l.conn.Close(ctx); err != nil {
			l.logger.Debug("LISTEN connection close failed", "error", err)
		}
		l.conn = nil
	}
	l.logger.Info("notify listener stopped")
}
