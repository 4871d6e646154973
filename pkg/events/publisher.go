package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// notifyLimit keeps NOTIFY payloads under PostgreSQL's 8000-byte cap with
// headroom for the injected db_event_id.
const notifyLimit = 7900

// Publisher delivers a typed payload on a channel. Implementations marshal
// the payload once and route it to local subscribers and, when configured,
// to other replicas.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload any) error
}

// LocalPublisher dispatches straight to the in-process broker. Used when no
// database is configured (single replica).
type LocalPublisher struct {
	broker *Broker
}

func NewLocalPublisher(broker *Broker) *LocalPublisher {
	return &LocalPublisher{broker: broker}
}

func (p *LocalPublisher) Publish(_ context.Context, channel string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	p.broker.Dispatch(channel, data)
	return nil
}

// PGPublisher persists the event and broadcasts it via pg_notify in one
// transaction, so the INSERT and the NOTIFY commit atomically. Local
// delivery happens through the NOTIFY listener like on every other replica,
// keeping one delivery path.
type PGPublisher struct {
	pool *pgxpool.Pool
}

func NewPGPublisher(pool *pgxpool.Pool) *PGPublisher {
	return &PGPublisher{pool: pool}
}

func (p *PGPublisher) Publish(ctx context.Context, channel string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin event transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var eventID int64
	err = tx.QueryRow(ctx,
		`INSERT INTO events (channel, payload, created_at) VALUES ($1, $2, $3) RETURNING id`,
		channel, data, time.Now().UTC(),
	).Scan(&eventID)
	if err != nil {
		return fmt.Errorf("persist event: %w", err)
	}

	notifyPayload, err := notifyBody(data, eventID)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, "SELECT pg_notify($1, $2)", channel, notifyPayload); err != nil {
		return fmt.Errorf("pg_notify: %w", err)
	}
	return tx.Commit(ctx)
}

// notifyBody injects the database event ID for catchup tracking and shrinks
// payloads that would exceed the NOTIFY size limit to a routing envelope.
func notifyBody(data []byte, eventID int64) (string, error) {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return "", fmt.Errorf("decode payload for db_event_id injection: %w", err)
	}
	m["db_event_id"] = eventID

	enriched, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("encode enriched payload: %w", err)
	}
	if len(enriched) <= notifyLimit {
		return string(enriched), nil
	}

	truncated, err := json.Marshal(map[string]any{
		"type":        m["type"],
		"run_id":      m["run_id"],
		"db_event_id": eventID,
		"truncated":   true,
	})
	if err != nil {
		return "", fmt.Errorf("encode truncated payload: %w", err)
	}
	return string(truncated), nil
}
