// Package retrieval implements hybrid search: dense vector and BM25 branches
// run concurrently, their rankings fuse by reciprocal rank fusion, and an
// optional graph branch contributes temporal-edge pseudo-chunks scoped to the
// query's entities and narrows the other branches to documents those
// entities appear in.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/corralproject/corral/pkg/capability"
	"github.com/corralproject/corral/pkg/chunk"
	"github.com/corralproject/corral/pkg/faults"
	"github.com/corralproject/corral/pkg/models"
	"github.com/corralproject/corral/pkg/storage"
)

// DefaultTopK bounds how many fused candidates a retrieve returns.
const DefaultTopK = 50

// Options tune fusion. Zero values fall back to defaults. Weights are
// optional: nil means the default of 1, while an explicit zero drops that
// list from fusion entirely.
type Options struct {
	TopK         int
	RRFK         float64
	VectorWeight *float64
	BM25Weight   *float64
	GraphWeight  *float64
	GraphHops    int
}

func (o Options) withDefaults() Options {
	if o.TopK <= 0 {
		o.TopK = DefaultTopK
	}
	if o.RRFK <= 0 {
		o.RRFK = DefaultRRFK
	}
	if o.VectorWeight == nil {
		o.VectorWeight = f64(1)
	}
	if o.BM25Weight == nil {
		o.BM25Weight = f64(1)
	}
	if o.GraphWeight == nil {
		o.GraphWeight = f64(1)
	}
	if o.GraphHops <= 0 {
		o.GraphHops = 1
	}
	return o
}

func f64(v float64) *float64 { return &v }

// Retriever fans out and fuses. graph and extractor may be nil, which
// disables the graph branch regardless of the query flag.
type Retriever struct {
	vectors   storage.VectorStore
	text      storage.TextIndex
	graph     storage.GraphStore
	embedder  *chunk.Embedder
	extractor capability.EntityExtractor
	opts      Options
	logger    *slog.Logger
}

func New(vectors storage.VectorStore, text storage.TextIndex, graph storage.GraphStore, embedder *chunk.Embedder, extractor capability.EntityExtractor, opts Options, logger *slog.Logger) *Retriever {
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{
		vectors:   vectors,
		text:      text,
		graph:     graph,
		embedder:  embedder,
		extractor: extractor,
		opts:      opts.withDefaults(),
		logger:    logger,
	}
}

// Retrieve runs the hybrid pipeline for one query.
func (r *Retriever) Retrieve(ctx context.Context, q models.HybridQuery) ([]models.Candidate, error) {
	if q.Filters == nil || q.Filters.TenantID == "" {
		return nil, faults.Errorf(faults.SchemaInvalid, "retrieve", "filters.tenant_id is required")
	}
	filters := *q.Filters
	topK := q.TopK
	if topK <= 0 {
		topK = r.opts.TopK
	}

	var vecHits, textHits, edgeHits []models.Candidate
	var memberDocs map[string]bool
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		vec, err := r.embedder.EmbedQuery(gctx, q.Query)
		if err != nil {
			return fmt.Errorf("embed query: %w", err)
		}
		vecHits, err = r.vectors.Search(gctx, vec, topK, filters)
		if err != nil {
			return fmt.Errorf("vector search: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		hits, err := r.text.Search(gctx, q.Query, topK, filters)
		if err != nil {
			return fmt.Errorf("text search: %w", err)
		}
		textHits = hits
		return nil
	})
	if q.UseGraph && r.graph != nil && r.extractor != nil {
		g.Go(func() error {
			hits, members, err := r.graphCandidates(gctx, q.Query, filters)
			if err != nil {
				return fmt.Errorf("graph expansion: %w", err)
			}
			edgeHits = hits
			memberDocs = members
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// The graph variant is a constraint, not just an extra list: when the
	// query's entities cite documents, the dense and lexical rankings keep
	// only chunks from those documents before fusion.
	if len(memberDocs) > 0 {
		vecHits = keepMemberDocs(vecHits, memberDocs)
		textHits = keepMemberDocs(textHits, memberDocs)
	}

	lists := make([]RankedList, 0, 3)
	if w := *r.opts.VectorWeight; w > 0 {
		lists = append(lists, RankedList{Hits: vecHits, Weight: w})
	}
	if w := *r.opts.BM25Weight; w > 0 {
		lists = append(lists, RankedList{Hits: textHits, Weight: w})
	}
	if w := *r.opts.GraphWeight; w > 0 && len(edgeHits) > 0 {
		lists = append(lists, RankedList{Hits: edgeHits, Weight: w})
	}
	fused := FuseRRF(lists, r.opts.RRFK)
	if len(fused) > topK {
		fused = fused[:topK]
	}
	return r.fillPayloads(ctx, fused)
}

// fillPayloads resolves text for candidates that surfaced only as IDs in the
// lexical ranking. Candidates missing from the vector store keep their bare
// form rather than failing the query.
func (r *Retriever) fillPayloads(ctx context.Context, cands []models.Candidate) ([]models.Candidate, error) {
	var missing []string
	for _, c := range cands {
		if c.Type != models.CandidateEdge && c.Text == "" {
			missing = append(missing, c.ID)
		}
	}
	if len(missing) == 0 {
		return cands, nil
	}
	fetched, err := r.vectors.GetDocuments(ctx, missing)
	if err != nil {
		return nil, fmt.Errorf("fill payloads: %w", err)
	}
	byID := make(map[string]models.Candidate, len(fetched))
	for _, c := range fetched {
		byID[c.ID] = c
	}
	for i, c := range cands {
		full, ok := byID[c.ID]
		if !ok || c.Text != "" {
			continue
		}
		full.Score = c.Score
		full.Type = c.Type
		cands[i] = full
	}
	if unknown := len(missing) - len(fetched); unknown > 0 {
		r.logger.Warn("payload fill left candidates bare", "count", unknown)
	}
	return cands, nil
}

// graphCandidates links query entities to graph nodes and renders the
// neighborhood's temporal edges as pseudo-chunks ranked by confidence. The
// second return value is the set of document IDs the resolved nodes and
// their neighborhood edges were extracted from; callers use it to narrow
// the other branches. An empty set means the neighborhood cites no
// documents and carries no constraint.
func (r *Retriever) graphCandidates(ctx context.Context, query string, filters models.SearchFilters) ([]models.Candidate, map[string]bool, error) {
	entities, _, err := r.extractor.Extract(ctx, query)
	if err != nil {
		return nil, nil, fmt.Errorf("extract query entities: %w", err)
	}
	members := make(map[string]bool)
	var nodeIDs []string
	for _, e := range entities {
		id := models.NodeID(filters.TenantID, e.Type, e.Surface)
		node, err := r.graph.GetNode(ctx, id)
		if err != nil {
			if faults.KindOf(err) == faults.NotFound {
				continue
			}
			return nil, nil, fmt.Errorf("resolve node %s: %w", id, err)
		}
		if node.Provenance.DocumentID != "" {
			members[node.Provenance.DocumentID] = true
		}
		nodeIDs = append(nodeIDs, id)
	}
	if len(nodeIDs) == 0 {
		return nil, nil, nil
	}
	edges, err := r.graph.Neighborhood(ctx, filters.TenantID, nodeIDs, r.opts.GraphHops, filters.TimeWindow)
	if err != nil {
		return nil, nil, err
	}
	sort.SliceStable(edges, func(i, j int) bool {
		if edges[i].Confidence != edges[j].Confidence {
			return edges[i].Confidence > edges[j].Confidence
		}
		if !edges[i].TValidStart.Equal(edges[j].TValidStart) {
			return edges[i].TValidStart.After(edges[j].TValidStart)
		}
		return edges[i].ID < edges[j].ID
	})
	out := make([]models.Candidate, 0, len(edges))
	for _, e := range edges {
		if e.Provenance.DocumentID != "" {
			members[e.Provenance.DocumentID] = true
		}
		out = append(out, models.Candidate{
			ID:         e.ID,
			Type:       models.CandidateEdge,
			Text:       edgeText(e),
			TenantID:   e.TenantID,
			SourceTool: e.Provenance.SourceTool,
			DocID:      e.Provenance.DocumentID,
			TsSource:   e.Provenance.TsExtracted,
			Relation:   e.Type,
			ValidFrom:  e.TValidStart,
			ValidTo:    e.TValidEnd,
		})
	}
	return out, members, nil
}

// keepMemberDocs drops candidates whose document lies outside the entity
// neighborhood. Hits without a document ID cannot prove membership and are
// dropped with the rest.
func keepMemberDocs(hits []models.Candidate, members map[string]bool) []models.Candidate {
	out := make([]models.Candidate, 0, len(hits))
	for _, c := range hits {
		if members[c.DocID] {
			out = append(out, c)
		}
	}
	return out
}

// edgeText renders a temporal edge as a sentence-like pseudo-chunk.
func edgeText(e *models.GraphEdge) string {
	return fmt.Sprintf("%s %s %s (valid from %s to %s)",
		nodeSurface(e.SourceID), e.Type, nodeSurface(e.TargetID),
		e.TValidStart.Format("2006-01-02"), e.TValidEnd.Format("2006-01-02"))
}

// nodeSurface recovers the surface segment of a tenant:type:surface node ID.
func nodeSurface(nodeID string) string {
	parts := strings.SplitN(nodeID, ":", 3)
	return parts[len(parts)-1]
}
