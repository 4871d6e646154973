// Package graph extracts entities and relations from documents and maintains
// the temporal knowledge graph. Edges carry half-open validity windows; for
// any (source, type, target) at most one edge is valid at any instant, and
// overlapping inserts are resolved by confidence before they land.
package graph

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/corralproject/corral/pkg/capability"
	"github.com/corralproject/corral/pkg/models"
	"github.com/corralproject/corral/pkg/storage"
)

const lockStripes = 64

// stripedLocks serializes conflict resolution per relation key without an
// unbounded lock table.
type stripedLocks [lockStripes]sync.Mutex

func (s *stripedLocks) forKey(key string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(key))
	return &s[h.Sum32()%lockStripes]
}

// WriteStats summarizes one document's graph write.
type WriteStats struct {
	Nodes     int
	Edges     int
	Conflicts int
	Dropped   int
}

// Writer drives extraction and temporal edge insertion.
type Writer struct {
	store     storage.GraphStore
	extractor capability.EntityExtractor
	sink      EventSink
	logger    *slog.Logger
	locks     stripedLocks
}

// NewWriter builds a graph writer. sink and logger may be nil.
func NewWriter(store storage.GraphStore, extractor capability.EntityExtractor, sink EventSink, logger *slog.Logger) *Writer {
	if sink == nil {
		sink = nopSink{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{store: store, extractor: extractor, sink: sink, logger: logger}
}

// IngestDocument extracts entities and relations from the document content
// and writes them to the graph store.
func (w *Writer) IngestDocument(ctx context.Context, doc *models.Document) (WriteStats, error) {
	var stats WriteStats
	entities, relations, err := w.extractor.Extract(ctx, doc.Content)
	if err != nil {
		return stats, fmt.Errorf("extract entities: %w", err)
	}

	prov := models.Provenance{
		DocumentID:  doc.ID,
		SourceTool:  doc.SourceTool,
		TsExtracted: time.Now().UTC(),
	}

	written := make(map[string]bool)
	upsertNode := func(e models.Entity) (string, error) {
		id := models.NodeID(doc.TenantID, e.Type, e.Surface)
		if written[id] {
			return id, nil
		}
		node := &models.GraphNode{
			ID:         id,
			Type:       e.Type,
			Surface:    e.Surface,
			TenantID:   doc.TenantID,
			Provenance: prov,
		}
		if err := w.store.UpsertNode(ctx, node); err != nil {
			return "", fmt.Errorf("upsert node %s: %w", id, err)
		}
		written[id] = true
		stats.Nodes++
		return id, nil
	}

	for _, e := range entities {
		if _, err := upsertNode(e); err != nil {
			return stats, err
		}
	}

	for _, rel := range relations {
		sourceID, err := upsertNode(rel.Source)
		if err != nil {
			return stats, err
		}
		targetID, err := upsertNode(rel.Target)
		if err != nil {
			return stats, err
		}
		edge := w.edgeFromRelation(doc, rel, sourceID, targetID, prov)
		inserted, conflicts, err := w.InsertEdge(ctx, edge)
		if err != nil {
			return stats, err
		}
		stats.Conflicts += conflicts
		if inserted {
			stats.Edges++
		} else {
			stats.Dropped++
		}
	}
	return stats, nil
}

// edgeFromRelation materializes a temporal edge. Validity defaults: start is
// the document's source timestamp, end is start plus ten years.
func (w *Writer) edgeFromRelation(doc *models.Document, rel models.Relation, sourceID, targetID string, prov models.Provenance) *models.GraphEdge {
	start := doc.TsSource
	if rel.TValidStart != nil {
		start = *rel.TValidStart
	}
	if start.IsZero() {
		start = prov.TsExtracted
	}
	end := start.Add(models.DefaultEdgeValidity)
	if rel.TValidEnd != nil && rel.TValidEnd.After(start) {
		end = *rel.TValidEnd
	}
	return &models.GraphEdge{
		ID:          models.EdgeID(sourceID, rel.Type, targetID, start),
		SourceID:    sourceID,
		TargetID:    targetID,
		Type:        rel.Type,
		TValidStart: start,
		TValidEnd:   end,
		Confidence:  rel.Confidence,
		TenantID:    doc.TenantID,
		Provenance:  prov,
	}
}

// InsertEdge inserts n, resolving overlaps against existing edges of the same
// relation. Existing edges are visited in ascending t_valid_start while n's
// window shrinks around the winners; resolution is serialized per relation
// key. Returns whether any part of n landed and how many conflicts were
// resolved.
func (w *Writer) InsertEdge(ctx context.Context, n *models.GraphEdge) (bool, int, error) {
	key := n.RelationKey()
	mu := w.locks.forKey(key)
	mu.Lock()
	defer mu.Unlock()

	existing, err := w.store.EdgesBetween(ctx, n.TenantID, n.SourceID, n.Type, n.TargetID)
	if err != nil {
		return false, 0, fmt.Errorf("list edges %s: %w", key, err)
	}

	cur := *n
	conflicts := 0
	for _, e := range existing {
		if !e.Overlaps(cur.TValidStart, cur.TValidEnd) {
			continue
		}
		conflicts++
		if w.newWins(&cur, e) {
			if err := w.truncateExisting(ctx, &cur, e); err != nil {
				return false, conflicts, err
			}
			continue
		}
		switch {
		case cur.TValidStart.Before(e.TValidStart):
			cur.TValidEnd = e.TValidStart
			w.emit(ctx, &cur, e.ID, cur.ID, ActionClipped)
		case cur.TValidEnd.After(e.TValidEnd):
			cur.TValidStart = e.TValidEnd
			cur.ID = models.EdgeID(cur.SourceID, cur.Type, cur.TargetID, cur.TValidStart)
			w.emit(ctx, &cur, e.ID, cur.ID, ActionClipped)
		default:
			w.emit(ctx, &cur, e.ID, cur.ID, ActionDropped)
			return false, conflicts, nil
		}
	}

	if !cur.TValidStart.Before(cur.TValidEnd) {
		return false, conflicts, nil
	}
	if err := w.store.InsertEdge(ctx, &cur); err != nil {
		return false, conflicts, fmt.Errorf("insert edge %s: %w", cur.ID, err)
	}
	return true, conflicts, nil
}

// newWins applies the precedence rule: higher confidence wins; on equal
// confidence the later extraction wins.
func (w *Writer) newWins(n, e *models.GraphEdge) bool {
	if n.Confidence != e.Confidence {
		return n.Confidence > e.Confidence
	}
	return n.Provenance.TsExtracted.After(e.Provenance.TsExtracted)
}

// truncateExisting shrinks e to [e.start, n.start). An empty result deletes e.
func (w *Writer) truncateExisting(ctx context.Context, n, e *models.GraphEdge) error {
	if e.TValidStart.Before(n.TValidStart) {
		e.TValidEnd = n.TValidStart
		if err := w.store.UpdateEdge(ctx, e); err != nil {
			return fmt.Errorf("truncate edge %s: %w", e.ID, err)
		}
		w.emit(ctx, n, n.ID, e.ID, ActionTruncated)
		return nil
	}
	if err := w.store.DeleteEdge(ctx, e.ID); err != nil {
		return fmt.Errorf("delete edge %s: %w", e.ID, err)
	}
	w.emit(ctx, n, n.ID, e.ID, ActionDeleted)
	return nil
}

func (w *Writer) emit(ctx context.Context, n *models.GraphEdge, winnerID, loserID, action string) {
	relation := strings.Join([]string{n.SourceID, n.Type, n.TargetID}, ":")
	w.logger.Debug("graph edge conflict resolved",
		"relation", relation, "winner", winnerID, "loser", loserID, "action", action)
	w.sink.ConflictResolved(ctx, ConflictEvent{
		TenantID: n.TenantID,
		Relation: relation,
		WinnerID: winnerID,
		LoserID:  loserID,
		Action:   action,
		Ts:       time.Now().UTC(),
	})
}
