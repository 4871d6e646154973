package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/corralproject/corral/pkg/faults"
	"github.com/corralproject/corral/pkg/models"
)

// GraphStore persists the temporal knowledge graph in graph_nodes and
// graph_edges. Conflict resolution happens in the sink; here edges are plain
// keyed rows with window lookups.
type GraphStore struct {
	pool *pgxpool.Pool
}

func NewGraphStore(pool *pgxpool.Pool) *GraphStore {
	return &GraphStore{pool: pool}
}

func (s *GraphStore) UpsertNode(ctx context.Context, node *models.GraphNode) error {
	prov, err := json.Marshal(node.Provenance)
	if err != nil {
		return fmt.Errorf("encode node provenance: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO graph_nodes (id, type, surface, summary, tenant_id, provenance)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (id) DO UPDATE SET
		   type = EXCLUDED.type,
		   surface = EXCLUDED.surface,
		   summary = EXCLUDED.summary,
		   provenance = EXCLUDED.provenance`,
		node.ID, node.Type, node.Surface, node.Summary, node.TenantID, prov)
	if err != nil {
		return fmt.Errorf("upsert node %s: %w", node.ID, err)
	}
	return nil
}

func (s *GraphStore) GetNode(ctx context.Context, id string) (*models.GraphNode, error) {
	var node models.GraphNode
	var prov []byte
	err := s.pool.QueryRow(ctx,
		`SELECT id, type, surface, summary, tenant_id, provenance FROM graph_nodes WHERE id = $1`, id,
	).Scan(&node.ID, &node.Type, &node.Surface, &node.Summary, &node.TenantID, &prov)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, faults.Errorf(faults.NotFound, "pgstore.node_get", "node %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get node %s: %w", id, err)
	}
	if err := json.Unmarshal(prov, &node.Provenance); err != nil {
		return nil, fmt.Errorf("decode node provenance %s: %w", id, err)
	}
	return &node, nil
}

const edgeColumns = `id, source_id, target_id, type, t_valid_start, t_valid_end, confidence, tenant_id, provenance`

func (s *GraphStore) InsertEdge(ctx context.Context, edge *models.GraphEdge) error {
	prov, err := json.Marshal(edge.Provenance)
	if err != nil {
		return fmt.Errorf("encode edge provenance: %w", err)
	}
	// Upsert keyed by edge ID so store-side retries collapse.
	_, err = s.pool.Exec(ctx,
		`INSERT INTO graph_edges (`+edgeColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (id) DO UPDATE SET
		   t_valid_start = EXCLUDED.t_valid_start,
		   t_valid_end = EXCLUDED.t_valid_end,
		   confidence = EXCLUDED.confidence,
		   provenance = EXCLUDED.provenance`,
		edge.ID, edge.SourceID, edge.TargetID, edge.Type,
		edge.TValidStart, edge.TValidEnd, edge.Confidence, edge.TenantID, prov)
	if err != nil {
		return fmt.Errorf("insert edge %s: %w", edge.ID, err)
	}
	return nil
}

func (s *GraphStore) UpdateEdge(ctx context.Context, edge *models.GraphEdge) error {
	prov, err := json.Marshal(edge.Provenance)
	if err != nil {
		return fmt.Errorf("encode edge provenance: %w", err)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE graph_edges SET t_valid_start = $2, t_valid_end = $3, confidence = $4, provenance = $5
		 WHERE id = $1`,
		edge.ID, edge.TValidStart, edge.TValidEnd, edge.Confidence, prov)
	if err != nil {
		return fmt.Errorf("update edge %s: %w", edge.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return faults.Errorf(faults.NotFound, "pgstore.edge_update", "edge %s not found", edge.ID)
	}
	return nil
}

func (s *GraphStore) DeleteEdge(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM graph_edges WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete edge %s: %w", id, err)
	}
	return nil
}

func (s *GraphStore) EdgesBetween(ctx context.Context, tenantID, sourceID, relType, targetID string) ([]*models.GraphEdge, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+edgeColumns+` FROM graph_edges
		 WHERE tenant_id = $1 AND source_id = $2 AND type = $3 AND target_id = $4
		 ORDER BY t_valid_start ASC`,
		tenantID, sourceID, relType, targetID)
	if err != nil {
		return nil, fmt.Errorf("edges between: %w", err)
	}
	return scanEdges(rows)
}

func (s *GraphStore) EdgesAt(ctx context.Context, tenantID, nodeID string, t time.Time) ([]*models.GraphEdge, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+edgeColumns+` FROM graph_edges
		 WHERE tenant_id = $1 AND (source_id = $2 OR target_id = $2)
		   AND t_valid_start <= $3 AND $3 < t_valid_end
		 ORDER BY t_valid_start ASC`,
		tenantID, nodeID, t)
	if err != nil {
		return nil, fmt.Errorf("edges at: %w", err)
	}
	return scanEdges(rows)
}

// Neighborhood expands hop by hop; each hop is one indexed query over the
// current frontier, so the total work is bounded by hops * frontier size.
func (s *GraphStore) Neighborhood(ctx context.Context, tenantID string, nodeIDs []string, hops int, window *models.TimeWindow) ([]*models.GraphEdge, error) {
	seen := make(map[string]*models.GraphEdge)
	frontier := nodeIDs
	for hop := 0; hop < hops && len(frontier) > 0; hop++ {
		query := `SELECT ` + edgeColumns + ` FROM graph_edges
		 WHERE tenant_id = $1 AND (source_id = ANY($2) OR target_id = ANY($2))`
		args := []any{tenantID, frontier}
		if window != nil {
			query += ` AND t_valid_start < $3 AND $4 < t_valid_end`
			args = append(args, window.End, window.Start)
		}
		rows, err := s.pool.Query(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("neighborhood hop %d: %w", hop, err)
		}
		edges, err := scanEdges(rows)
		if err != nil {
			return nil, err
		}
		next := map[string]bool{}
		for _, e := range edges {
			if _, ok := seen[e.ID]; ok {
				continue
			}
			seen[e.ID] = e
			next[e.SourceID] = true
			next[e.TargetID] = true
		}
		frontier = frontier[:0]
		for id := range next {
			frontier = append(frontier, id)
		}
	}
	out := make([]*models.GraphEdge, 0, len(seen))
	for _, e := range seen {
		out = append(out, e)
	}
	return out, nil
}

func scanEdges(rows pgx.Rows) ([]*models.GraphEdge, error) {
	defer rows.Close()
	var out []*models.GraphEdge
	for rows.Next() {
		var e models.GraphEdge
		var prov []byte
		if err := rows.Scan(&e.ID, &e.SourceID, &e.TargetID, &e.Type,
			&e.TValidStart, &e.TValidEnd, &e.Confidence, &e.TenantID, &prov); err != nil {
			return nil, fmt.Errorf("scan edge: %w", err)
		}
		if err := json.Unmarshal(prov, &e.Provenance); err != nil {
			return nil, fmt.Errorf("decode edge provenance %s: %w", e.ID, err)
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

func (s *GraphStore) Health(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
