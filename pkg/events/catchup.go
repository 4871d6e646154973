package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Catchup replays persisted events a reconnecting subscriber missed.
type Catchup interface {
	// ListSince returns events on a channel with id > afterID, ascending.
	ListSince(ctx context.Context, channel string, afterID int64, limit int) ([][]byte, error)
}

// PGCatchup reads the events table the PGPublisher writes.
type PGCatchup struct {
	pool *pgxpool.Pool
}

func NewPGCatchup(pool *pgxpool.Pool) *PGCatchup {
	return &PGCatchup{pool: pool}
}

func (c *PGCatchup) ListSince(ctx context.Context, channel string, afterID int64, limit int) ([][]byte, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := c.pool.Query(ctx,
		`SELECT id, payload FROM events WHERE channel = $1 AND id > $2 ORDER BY id ASC LIMIT $3`,
		channel, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("list events since %d on %q: %w", afterID, channel, err)
	}
	defer rows.Close()

	var out [][]byte
	for rows.Next() {
		var id int64
		var payload []byte
		if err := rows.Scan(&id, &payload); err != nil {
			return nil, fmt.Errorf("scan event row: %w", err)
		}
		enriched, err := withEventID(payload, id)
		if err != nil {
			return nil, err
		}
		out = append(out, enriched)
	}
	return out, rows.Err()
}

// PurgeOlderThan deletes persisted events created before cutoff. Events past
// retention can no longer be replayed; live subscribers are unaffected.
func (c *PGCatchup) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := c.pool.Exec(ctx, `DELETE FROM events WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge events before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	return tag.RowsAffected(), nil
}

// withEventID injects db_event_id so replayed events carry the same resume
// marker as live NOTIFY deliveries.
func withEventID(payload []byte, id int64) ([]byte, error) {
	var m map[string]any
	if err := json.Unmarshal(payload, &m); err != nil {
		return nil, fmt.Errorf("decode persisted event %d: %w", id, err)
	}
	m["db_event_id"] = id
	return json.Marshal(m)
}
