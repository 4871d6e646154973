// Package bleveindex implements the lexical TextIndex contract on top of
// Bleve. The in-memory variant backs tests and single-node runs; the on-disk
// variant persists across restarts. BM25-style relevance comes from Bleve's
// default scoring; filters map to term and date-range conjuncts so every
// backend applies the same semantics.
package bleveindex

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"

	"github.com/corralproject/corral/pkg/models"
)

// indexDoc is the flattened chunk shape Bleve indexes. ACL entries and IDs
// use the keyword analyzer so term filters match them verbatim.
type indexDoc struct {
	Text       string    `json:"text"`
	DocID      string    `json:"doc_id"`
	TenantID   string    `json:"tenant_id"`
	SourceTool string    `json:"source_tool"`
	ACL        []string  `json:"acl"`
	TsSource   time.Time `json:"ts_source"`
}

// Index is a Bleve-backed TextIndex.
type Index struct {
	idx    bleve.Index
	logger *slog.Logger
}

func buildMapping() *mapping.IndexMappingImpl {
	m := bleve.NewIndexMapping()

	text := bleve.NewTextFieldMapping()

	kw := bleve.NewTextFieldMapping()
	kw.Analyzer = keyword.Name

	date := bleve.NewDateTimeFieldMapping()

	doc := bleve.NewDocumentMapping()
	doc.AddFieldMappingsAt("text", text)
	doc.AddFieldMappingsAt("doc_id", kw)
	doc.AddFieldMappingsAt("tenant_id", kw)
	doc.AddFieldMappingsAt("source_tool", kw)
	doc.AddFieldMappingsAt("acl", kw)
	doc.AddFieldMappingsAt("ts_source", date)

	m.DefaultMapping = doc
	return m
}

// NewMemOnly creates an in-memory index.
func NewMemOnly(logger *slog.Logger) (*Index, error) {
	if logger == nil {
		logger = slog.Default()
	}
	idx, err := bleve.NewMemOnly(buildMapping())
	if err != nil {
		return nil, fmt.Errorf("create memory index: %w", err)
	}
	return &Index{idx: idx, logger: logger}, nil
}

// Open opens the on-disk index at path, creating it when absent.
func Open(path string, logger *slog.Logger) (*Index, error) {
	if logger == nil {
		logger = slog.Default()
	}
	idx, err := bleve.Open(path)
	if err != nil {
		if _, statErr := os.Stat(path); statErr == nil {
			return nil, fmt.Errorf("open index %s: %w", path, err)
		}
		idx, err = bleve.New(path, buildMapping())
		if err != nil {
			return nil, fmt.Errorf("create index %s: %w", path, err)
		}
		logger.Info("created text index", "path", path)
	}
	return &Index{idx: idx, logger: logger}, nil
}

// Index writes chunks in one batch, keyed by chunk_id.
func (i *Index) Index(_ context.Context, chunks []*models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	batch := i.idx.NewBatch()
	for _, c := range chunks {
		doc := indexDoc{
			Text:       c.Text,
			DocID:      c.DocID,
			TenantID:   c.TenantID,
			SourceTool: c.SourceTool,
			ACL:        c.ACL,
			TsSource:   c.TsSource,
		}
		if err := batch.Index(c.ChunkID, doc); err != nil {
			return fmt.Errorf("batch index %s: %w", c.ChunkID, err)
		}
	}
	return i.idx.Batch(batch)
}

// Delete removes chunks by ID. Unknown IDs are no-ops.
func (i *Index) Delete(_ context.Context, chunkIDs []string) error {
	if len(chunkIDs) == 0 {
		return nil
	}
	batch := i.idx.NewBatch()
	for _, id := range chunkIDs {
		batch.Delete(id)
	}
	return i.idx.Batch(batch)
}

// Search runs a match query over the text field constrained by the shared
// filter semantics: tenant always, ACL overlap and ts_source window when set.
func (i *Index) Search(_ context.Context, q string, k int, filters models.SearchFilters) ([]models.Candidate, error) {
	conjuncts := []query.Query{}

	match := bleve.NewMatchQuery(q)
	match.SetField("text")
	conjuncts = append(conjuncts, match)

	tenant := bleve.NewTermQuery(filters.TenantID)
	tenant.SetField("tenant_id")
	conjuncts = append(conjuncts, tenant)

	if len(filters.ACL) > 0 {
		acls := make([]query.Query, 0, len(filters.ACL))
		for _, acl := range filters.ACL {
			tq := bleve.NewTermQuery(acl)
			tq.SetField("acl")
			acls = append(acls, tq)
		}
		conjuncts = append(conjuncts, bleve.NewDisjunctionQuery(acls...))
	}

	if w := filters.TimeWindow; w != nil {
		incl, excl := true, false
		rng := bleve.NewDateRangeInclusiveQuery(w.Start, w.End, &incl, &excl)
		rng.SetField("ts_source")
		conjuncts = append(conjuncts, rng)
	}

	req := bleve.NewSearchRequestOptions(bleve.NewConjunctionQuery(conjuncts...), k, 0, false)
	req.Fields = []string{"*"}

	res, err := i.idx.Search(req)
	if err != nil {
		return nil, fmt.Errorf("text search: %w", err)
	}

	cands := make([]models.Candidate, 0, len(res.Hits))
	for _, hit := range res.Hits {
		cands = append(cands, hitCandidate(hit.ID, hit.Score, hit.Fields))
	}
	return cands, nil
}

func hitCandidate(id string, score float64, fields map[string]any) models.Candidate {
	c := models.Candidate{
		ID:    id,
		Type:  models.CandidateChunk,
		Score: score,
	}
	if v, ok := fields["text"].(string); ok {
		c.Text = v
	}
	if v, ok := fields["doc_id"].(string); ok {
		c.DocID = v
	}
	if v, ok := fields["tenant_id"].(string); ok {
		c.TenantID = v
	}
	if v, ok := fields["source_tool"].(string); ok {
		c.SourceTool = v
	}
	switch acl := fields["acl"].(type) {
	case string:
		c.ACL = []string{acl}
	case []any:
		for _, a := range acl {
			if s, ok := a.(string); ok {
				c.ACL = append(c.ACL, s)
			}
		}
	}
	if v, ok := fields["ts_source"].(string); ok {
		if ts, err := time.Parse(time.RFC3339, v); err == nil {
			c.TsSource = ts
		}
	}
	return c
}

// Health verifies the index answers a document count.
func (i *Index) Health(_ context.Context) error {
	_, err := i.idx.DocCount()
	return err
}

// Close releases the underlying index.
func (i *Index) Close() error {
	return i.idx.Close()
}
