// Package qdrantstore implements the VectorStore contract on a Qdrant
// collection over gRPC. Chunk IDs (md5 hex) map directly onto Qdrant point
// UUIDs, so upserts and deletes are idempotent by construction.
package qdrantstore

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"

	"github.com/corralproject/corral/pkg/faults"
	"github.com/corralproject/corral/pkg/models"
)

// maxRecvMsgSize bounds search replies; large payload batches stay well
// under this.
const maxRecvMsgSize = 32 << 20

// Options configures the store.
type Options struct {
	Host       string
	Port       int
	APIKey     string
	UseTLS     bool
	Collection string
	// Dim is the embedding dimension used when the collection is created.
	Dim uint64
}

// Store is a Qdrant-backed VectorStore.
type Store struct {
	client     *qdrant.Client
	collection string
	logger     *slog.Logger
}

// New connects to Qdrant and ensures the collection exists with a cosine
// vector index of the configured dimension.
func New(ctx context.Context, opts Options, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   opts.Host,
		Port:   opts.Port,
		APIKey: opts.APIKey,
		UseTLS: opts.UseTLS,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(grpc.MaxCallRecvMsgSize(maxRecvMsgSize)),
		},
	})
	if err != nil {
		return nil, faults.E(faults.DependencyUnavailable, "qdrant.connect", err)
	}

	s := &Store{client: client, collection: opts.Collection, logger: logger}
	if err := s.ensureCollection(ctx, opts.Dim); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureCollection(ctx context.Context, dim uint64) error {
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return faults.E(faults.DependencyUnavailable, "qdrant.collection_exists", err)
	}
	if exists {
		return nil
	}
	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     dim,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return faults.E(faults.DependencyUnavailable, "qdrant.create_collection", err)
	}
	s.logger.Info("created qdrant collection", "collection", s.collection, "dim", dim)
	return nil
}

// PointID converts a chunk ID to a Qdrant point UUID. md5-hex chunk IDs
// parse directly; anything else hashes into the OID namespace.
func PointID(chunkID string) string {
	if u, err := uuid.Parse(chunkID); err == nil {
		return u.String()
	}
	return uuid.NewMD5(uuid.NameSpaceOID, []byte(chunkID)).String()
}

// Upsert writes chunks keyed by point UUID derived from chunk_id.
func (s *Store) Upsert(ctx context.Context, chunks []*models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	points := make([]*qdrant.PointStruct, 0, len(chunks))
	for _, c := range chunks {
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewID(PointID(c.ChunkID)),
			Vectors: qdrant.NewVectors(c.Embedding...),
			Payload: qdrant.NewValueMap(map[string]any{
				"chunk_id":          c.ChunkID,
				"doc_id":            c.DocID,
				"text":              c.Text,
				"tenant_id":         c.TenantID,
				"source_tool":       c.SourceTool,
				"acl":               toAnySlice(c.ACL),
				"ts_source":         c.TsSource.Unix(),
				"embedding_model":   c.EmbeddingModel,
				"embedding_version": c.EmbeddingVersion,
				"ts_embedded":       c.TsEmbedded.Unix(),
			}),
		})
	}
	wait := true
	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Points:         points,
		Wait:           &wait,
	})
	if err != nil {
		return faults.E(faults.DependencyUnavailable, "qdrant.upsert", err)
	}
	return nil
}

// Delete removes chunks by ID. Unknown IDs are no-ops on the server side.
func (s *Store) Delete(ctx context.Context, chunkIDs []string) error {
	if len(chunkIDs) == 0 {
		return nil
	}
	ids := make([]*qdrant.PointId, 0, len(chunkIDs))
	for _, id := range chunkIDs {
		ids = append(ids, qdrant.NewID(PointID(id)))
	}
	wait := true
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collection,
		Points:         qdrant.NewPointsSelector(ids...),
		Wait:           &wait,
	})
	if err != nil {
		return faults.E(faults.DependencyUnavailable, "qdrant.delete", err)
	}
	return nil
}

// Search runs dense similarity search constrained by the shared filter
// semantics.
func (s *Store) Search(ctx context.Context, vector []float32, k int, filters models.SearchFilters) ([]models.Candidate, error) {
	limit := uint64(k)
	points, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          &limit,
		Filter:         buildFilter(filters),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, faults.E(faults.DependencyUnavailable, "qdrant.search", err)
	}
	cands := make([]models.Candidate, 0, len(points))
	for _, p := range points {
		cands = append(cands, payloadCandidate(p.Payload, float64(p.Score)))
	}
	return cands, nil
}

// GetDocuments fetches payloads by chunk ID; unknown IDs are skipped.
func (s *Store) GetDocuments(ctx context.Context, chunkIDs []string) ([]models.Candidate, error) {
	if len(chunkIDs) == 0 {
		return nil, nil
	}
	ids := make([]*qdrant.PointId, 0, len(chunkIDs))
	for _, id := range chunkIDs {
		ids = append(ids, qdrant.NewID(PointID(id)))
	}
	points, err := s.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: s.collection,
		Ids:            ids,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, faults.E(faults.DependencyUnavailable, "qdrant.get", err)
	}
	cands := make([]models.Candidate, 0, len(points))
	for _, p := range points {
		cands = append(cands, payloadCandidate(p.Payload, 0))
	}
	return cands, nil
}

// ListChunks pages a tenant's points with the scroll API. The cursor is the
// next-page point UUID Qdrant hands back.
func (s *Store) ListChunks(ctx context.Context, tenantID, cursor string, limit int) ([]*models.Chunk, string, error) {
	if limit <= 0 {
		limit = 100
	}
	req := &qdrant.ScrollPoints{
		CollectionName: s.collection,
		Filter: &qdrant.Filter{Must: []*qdrant.Condition{
			qdrant.NewMatch("tenant_id", tenantID),
		}},
		Limit:       qdrant.PtrOf(uint32(limit)),
		WithPayload: qdrant.NewWithPayload(true),
		WithVectors: qdrant.NewWithVectors(true),
	}
	if cursor != "" {
		req.Offset = qdrant.NewID(cursor)
	}
	// The convenience wrapper drops the next-page offset, so go through the
	// points client directly.
	resp, err := s.client.GetPointsClient().Scroll(ctx, req)
	if err != nil {
		return nil, "", faults.E(faults.DependencyUnavailable, "qdrant.scroll", err)
	}
	chunks := make([]*models.Chunk, 0, len(resp.GetResult()))
	for _, p := range resp.GetResult() {
		chunks = append(chunks, payloadChunk(p))
	}
	next := ""
	if off := resp.GetNextPageOffset(); off != nil {
		next = off.GetUuid()
	}
	return chunks, next, nil
}

// buildFilter translates SearchFilters into a Qdrant filter: tenant term
// always, ACL keyword overlap and half-open ts_source range when present.
func buildFilter(filters models.SearchFilters) *qdrant.Filter {
	must := []*qdrant.Condition{
		qdrant.NewMatch("tenant_id", filters.TenantID),
	}
	if len(filters.ACL) > 0 {
		must = append(must, qdrant.NewMatchKeywords("acl", filters.ACL...))
	}
	if w := filters.TimeWindow; w != nil {
		gte := float64(w.Start.Unix())
		lt := float64(w.End.Unix())
		must = append(must, qdrant.NewRange("ts_source", &qdrant.Range{Gte: &gte, Lt: &lt}))
	}
	return &qdrant.Filter{Must: must}
}

func payloadCandidate(payload map[string]*qdrant.Value, score float64) models.Candidate {
	c := models.Candidate{
		Type:  models.CandidateChunk,
		Score: score,
	}
	if v, ok := payload["chunk_id"]; ok {
		c.ID = v.GetStringValue()
	}
	if v, ok := payload["doc_id"]; ok {
		c.DocID = v.GetStringValue()
	}
	if v, ok := payload["text"]; ok {
		c.Text = v.GetStringValue()
	}
	if v, ok := payload["tenant_id"]; ok {
		c.TenantID = v.GetStringValue()
	}
	if v, ok := payload["source_tool"]; ok {
		c.SourceTool = v.GetStringValue()
	}
	if v, ok := payload["acl"]; ok {
		if list := v.GetListValue(); list != nil {
			for _, item := range list.Values {
				if s := item.GetStringValue(); s != "" {
					c.ACL = append(c.ACL, s)
				}
			}
		}
	}
	if v, ok := payload["ts_source"]; ok {
		if unix := v.GetIntegerValue(); unix > 0 {
			c.TsSource = time.Unix(unix, 0).UTC()
		}
	}
	return c
}

// payloadChunk rebuilds a stored chunk, embedding included, from a scrolled
// point.
func payloadChunk(p *qdrant.RetrievedPoint) *models.Chunk {
	payload := p.GetPayload()
	c := &models.Chunk{}
	if v, ok := payload["chunk_id"]; ok {
		c.ChunkID = v.GetStringValue()
	}
	if v, ok := payload["doc_id"]; ok {
		c.DocID = v.GetStringValue()
	}
	if v, ok := payload["text"]; ok {
		c.Text = v.GetStringValue()
	}
	if v, ok := payload["tenant_id"]; ok {
		c.TenantID = v.GetStringValue()
	}
	if v, ok := payload["source_tool"]; ok {
		c.SourceTool = v.GetStringValue()
	}
	if v, ok := payload["acl"]; ok {
		if list := v.GetListValue(); list != nil {
			for _, item := range list.Values {
				if s := item.GetStringValue(); s != "" {
					c.ACL = append(c.ACL, s)
				}
			}
		}
	}
	if v, ok := payload["ts_source"]; ok {
		if unix := v.GetIntegerValue(); unix > 0 {
			c.TsSource = time.Unix(unix, 0).UTC()
		}
	}
	if v, ok := payload["embedding_model"]; ok {
		c.EmbeddingModel = v.GetStringValue()
	}
	if v, ok := payload["embedding_version"]; ok {
		c.EmbeddingVersion = v.GetStringValue()
	}
	if v, ok := payload["ts_embedded"]; ok {
		if unix := v.GetIntegerValue(); unix > 0 {
			c.TsEmbedded = time.Unix(unix, 0).UTC()
		}
	}
	if vec := p.GetVectors().GetVector(); vec != nil {
		c.Embedding = append([]float32(nil), vec.GetData()...)
	}
	return c
}

func toAnySlice(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

// Health pings the Qdrant server.
func (s *Store) Health(ctx context.Context) error {
	if _, err := s.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("qdrant health: %w", err)
	}
	return nil
}

// Close tears down the gRPC connection.
func (s *Store) Close() error {
	return s.client.Close()
}
