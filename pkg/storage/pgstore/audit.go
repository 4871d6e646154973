package pgstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/corralproject/corral/pkg/models"
)

// AuditStore is the append-only invocation log in the audit_log table.
type AuditStore struct {
	pool *pgxpool.Pool
}

func NewAuditStore(pool *pgxpool.Pool) *AuditStore {
	return &AuditStore{pool: pool}
}

func (s *AuditStore) Append(ctx context.Context, rec *models.AuditRecord) error {
	var params []byte
	if rec.Params != nil {
		var err error
		params, err = json.Marshal(rec.Params)
		if err != nil {
			return fmt.Errorf("encode audit params: %w", err)
		}
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO audit_log (invocation_id, tool_id, tenant_id, user_id, params, ts, outcome, detail)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rec.InvocationID, rec.ToolID, rec.TenantID, rec.UserID, params, rec.Ts, rec.Outcome, rec.Detail)
	if err != nil {
		return fmt.Errorf("append audit record: %w", err)
	}
	return nil
}

func (s *AuditStore) ListRecent(ctx context.Context, limit int) ([]*models.AuditRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT invocation_id, tool_id, tenant_id, user_id, params, ts, outcome, detail
		 FROM audit_log ORDER BY id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit records: %w", err)
	}
	defer rows.Close()

	var out []*models.AuditRecord
	for rows.Next() {
		var rec models.AuditRecord
		var params []byte
		if err := rows.Scan(&rec.InvocationID, &rec.ToolID, &rec.TenantID, &rec.UserID,
			&params, &rec.Ts, &rec.Outcome, &rec.Detail); err != nil {
			return nil, fmt.Errorf("scan audit record: %w", err)
		}
		if len(params) > 0 {
			if err := json.Unmarshal(params, &rec.Params); err != nil {
				return nil, fmt.Errorf("decode audit params: %w", err)
			}
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}

func (s *AuditStore) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM audit_log WHERE ts < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge audit records: %w", err)
	}
	return tag.RowsAffected(), nil
}
