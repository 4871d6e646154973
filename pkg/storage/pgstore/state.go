// Package pgstore implements the persistent store contracts on PostgreSQL.
// Every write is an upsert keyed by the natural ID, so retries from the
// pipeline or the queue collapse into no-ops.
package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/corralproject/corral/pkg/models"
)

// CheckpointStore persists ingestion cursors in the checkpoints table.
type CheckpointStore struct {
	pool *pgxpool.Pool
}

func NewCheckpointStore(pool *pgxpool.Pool) *CheckpointStore {
	return &CheckpointStore{pool: pool}
}

func (s *CheckpointStore) Get(ctx context.Context, toolID string) (*models.Checkpoint, error) {
	var cp models.Checkpoint
	var lastSync, lastEvent *time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT tool_id, cursor, last_sync, last_event_id, last_event
		 FROM checkpoints WHERE tool_id = $1`, toolID,
	).Scan(&cp.ToolID, &cp.Cursor, &lastSync, &cp.LastEventID, &lastEvent)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get checkpoint %s: %w", toolID, err)
	}
	if lastSync != nil {
		cp.LastSync = *lastSync
	}
	if lastEvent != nil {
		cp.LastEvent = *lastEvent
	}
	return &cp, nil
}

func (s *CheckpointStore) Save(ctx context.Context, cp *models.Checkpoint) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO checkpoints (tool_id, cursor, last_sync, last_event_id, last_event, updated_at)
		 VALUES ($1, $2, NULLIF($3, 'epoch'::timestamptz), $4, NULLIF($5, 'epoch'::timestamptz), now())
		 ON CONFLICT (tool_id) DO UPDATE SET
		   cursor = EXCLUDED.cursor,
		   last_sync = EXCLUDED.last_sync,
		   last_event_id = EXCLUDED.last_event_id,
		   last_event = EXCLUDED.last_event,
		   updated_at = now()`,
		cp.ToolID, cp.Cursor, nullableTime(cp.LastSync), cp.LastEventID, nullableTime(cp.LastEvent))
	if err != nil {
		return fmt.Errorf("save checkpoint %s: %w", cp.ToolID, err)
	}
	return nil
}

// nullableTime maps the zero time onto the epoch sentinel NULLIF strips.
func nullableTime(t time.Time) time.Time {
	if t.IsZero() {
		return time.Unix(0, 0).UTC()
	}
	return t
}

// ManifestStore persists chunk manifests in the chunk_manifests table.
type ManifestStore struct {
	pool *pgxpool.Pool
}

func NewManifestStore(pool *pgxpool.Pool) *ManifestStore {
	return &ManifestStore{pool: pool}
}

func (s *ManifestStore) Get(ctx context.Context, docID string) (*models.ChunkManifest, error) {
	var m models.ChunkManifest
	var chunkIDs []byte
	err := s.pool.QueryRow(ctx,
		`SELECT doc_id, checksum, chunk_ids, ts_created, ts_updated
		 FROM chunk_manifests WHERE doc_id = $1`, docID,
	).Scan(&m.DocID, &m.Checksum, &chunkIDs, &m.TsCreated, &m.TsUpdated)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get manifest %s: %w", docID, err)
	}
	if err := json.Unmarshal(chunkIDs, &m.ChunkIDs); err != nil {
		return nil, fmt.Errorf("decode manifest chunk_ids %s: %w", docID, err)
	}
	return &m, nil
}

func (s *ManifestStore) Save(ctx context.Context, m *models.ChunkManifest) error {
	chunkIDs, err := json.Marshal(m.ChunkIDs)
	if err != nil {
		return fmt.Errorf("encode manifest chunk_ids %s: %w", m.DocID, err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO chunk_manifests (doc_id, checksum, chunk_ids, ts_created, ts_updated)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (doc_id) DO UPDATE SET
		   checksum = EXCLUDED.checksum,
		   chunk_ids = EXCLUDED.chunk_ids,
		   ts_updated = EXCLUDED.ts_updated`,
		m.DocID, m.Checksum, chunkIDs, m.TsCreated, m.TsUpdated)
	if err != nil {
		return fmt.Errorf("save manifest %s: %w", m.DocID, err)
	}
	return nil
}
