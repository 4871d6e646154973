package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/corralproject/corral/pkg/faults"
	"github.com/corralproject/corral/pkg/models"
)

// GraphStore keeps nodes and edges in maps keyed by their canonical IDs.
type GraphStore struct {
	mu    sync.RWMutex
	nodes map[string]*models.GraphNode
	edges map[string]*models.GraphEdge
}

func NewGraphStore() *GraphStore {
	return &GraphStore{
		nodes: make(map[string]*models.GraphNode),
		edges: make(map[string]*models.GraphEdge),
	}
}

func (s *GraphStore) UpsertNode(ctx context.Context, node *models.GraphNode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *node
	s.nodes[node.ID] = &cp
	return nil
}

func (s *GraphStore) GetNode(ctx context.Context, id string) (*models.GraphNode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[id]
	if !ok {
		return nil, faults.Errorf(faults.NotFound, "graph.get_node", "node %s not found", id)
	}
	cp := *n
	return &cp, nil
}

func (s *GraphStore) InsertEdge(ctx context.Context, edge *models.GraphEdge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *edge
	s.edges[edge.ID] = &cp
	return nil
}

func (s *GraphStore) UpdateEdge(ctx context.Context, edge *models.GraphEdge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.edges[edge.ID]; !ok {
		return faults.Errorf(faults.NotFound, "graph.update_edge", "edge %s not found", edge.ID)
	}
	cp := *edge
	s.edges[edge.ID] = &cp
	return nil
}

func (s *GraphStore) DeleteEdge(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.edges, id)
	return nil
}

func (s *GraphStore) EdgesBetween(ctx context.Context, tenantID, sourceID, relType, targetID string) ([]*models.GraphEdge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.GraphEdge
	for _, e := range s.edges {
		if e.TenantID != tenantID || e.SourceID != sourceID || e.Type != relType || e.TargetID != targetID {
			continue
		}
		cp := *e
		out = append(out, &cp)
	}
	sortEdges(out)
	return out, nil
}

func (s *GraphStore) EdgesAt(ctx context.Context, tenantID, nodeID string, t time.Time) ([]*models.GraphEdge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.GraphEdge
	for _, e := range s.edges {
		if e.TenantID != tenantID || (e.SourceID != nodeID && e.TargetID != nodeID) {
			continue
		}
		if !e.ValidAt(t) {
			continue
		}
		cp := *e
		out = append(out, &cp)
	}
	sortEdges(out)
	return out, nil
}

func (s *GraphStore) Neighborhood(ctx context.Context, tenantID string, nodeIDs []string, hops int, window *models.TimeWindow) ([]*models.GraphEdge, error) {
	if hops < 1 {
		hops = 1
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	frontier := make(map[string]bool, len(nodeIDs))
	visited := make(map[string]bool, len(nodeIDs))
	for _, id := range nodeIDs {
		frontier[id] = true
		visited[id] = true
	}
	seen := make(map[string]bool)
	var out []*models.GraphEdge

	for hop := 0; hop < hops && len(frontier) > 0; hop++ {
		next := make(map[string]bool)
		for _, e := range s.edges {
			if e.TenantID != tenantID || seen[e.ID] {
				continue
			}
			if !frontier[e.SourceID] && !frontier[e.TargetID] {
				continue
			}
			if !windowOverlaps(e, window) {
				continue
			}
			seen[e.ID] = true
			cp := *e
			out = append(out, &cp)
			for _, end := range []string{e.SourceID, e.TargetID} {
				if !visited[end] {
					visited[end] = true
					next[end] = true
				}
			}
		}
		frontier = next
	}
	sortEdges(out)
	return out, nil
}

func (s *GraphStore) Health(ctx context.Context) error { return nil }

// EdgeCount reports the number of stored edges.
func (s *GraphStore) EdgeCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.edges)
}

func sortEdges(edges []*models.GraphEdge) {
	sort.Slice(edges, func(i, j int) bool {
		if !edges[i].TValidStart.Equal(edges[j].TValidStart) {
			return edges[i].TValidStart.Before(edges[j].TValidStart)
		}
		return edges[i].ID < edges[j].ID
	})
}

func windowOverlaps(e *models.GraphEdge, w *models.TimeWindow) bool {
	if w == nil {
		return true
	}
	if !w.End.IsZero() && !e.TValidStart.Before(w.End) {
		return false
	}
	if !w.Start.IsZero() && !w.Start.Before(e.TValidEnd) {
		return false
	}
	return true
}
