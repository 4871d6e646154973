// Package rerank rescores fused candidates with a cross-encoder plus recency
// and entity-overlap features, with a TTL cache keyed on the exact candidate
// set and model so a model swap invalidates implicitly.
package rerank

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/corralproject/corral/pkg/capability"
	"github.com/corralproject/corral/pkg/models"
	"github.com/corralproject/corral/pkg/storage"
)

// Defaults.
const (
	DefaultTopK      = 5
	DefaultBatchSize = 16
	DefaultRecency   = 0.1
	DefaultEntity    = 0.2
)

// Options tune scoring. Zero values fall back to defaults; QualityThreshold
// zero disables shortfall reporting for non-negative scores. The feature
// weights are optional: nil means the default, while an explicit zero
// switches that feature off.
type Options struct {
	TopK             int
	BatchSize        int
	RecencyWeight    *float64
	EntityWeight     *float64
	QualityThreshold float64
}

func (o Options) withDefaults() Options {
	if o.TopK <= 0 {
		o.TopK = DefaultTopK
	}
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.RecencyWeight == nil {
		o.RecencyWeight = f64(DefaultRecency)
	}
	if o.EntityWeight == nil {
		o.EntityWeight = f64(DefaultEntity)
	}
	return o
}

func f64(v float64) *float64 { return &v }

// Reranker scores (query, candidate) pairs. cache and permits may be nil.
type Reranker struct {
	encoder   capability.CrossEncoder
	extractor capability.EntityExtractor
	cache     storage.RerankCache
	permits   *semaphore.Weighted
	opts      Options
	logger    *slog.Logger
	shortfall atomic.Int64
}

func New(encoder capability.CrossEncoder, extractor capability.EntityExtractor, cache storage.RerankCache, permits *semaphore.Weighted, opts Options, logger *slog.Logger) *Reranker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reranker{
		encoder:   encoder,
		extractor: extractor,
		cache:     cache,
		permits:   permits,
		opts:      opts.withDefaults(),
		logger:    logger,
	}
}

// CacheKey derives the cache key for one rerank request. IDs are sorted so
// the key is insensitive to candidate order.
func CacheKey(query string, ids []string, model string) string {
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	return models.MD5Hex(query + "|" + strings.Join(sorted, ",") + "|" + model)
}

// Rerank scores candidates and returns the top topK (opts default when <= 0)
// by final score. The full reranked list is cached; truncation happens on
// the way out.
func (r *Reranker) Rerank(ctx context.Context, query string, cands []models.Candidate, topK int) ([]models.Candidate, error) {
	if topK <= 0 {
		topK = r.opts.TopK
	}
	if len(cands) == 0 {
		return nil, nil
	}

	ids := make([]string, len(cands))
	for i, c := range cands {
		ids[i] = c.ID
	}
	key := CacheKey(query, ids, r.encoder.Model())
	if r.cache != nil {
		if hit, ok := r.cache.Get(ctx, key); ok {
			return r.truncate(hit, topK), nil
		}
	}

	scored, err := r.score(ctx, query, cands)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})
	if r.cache != nil {
		r.cache.Set(ctx, key, scored)
	}
	return r.truncate(scored, topK), nil
}

// score runs cross-encoder batches and folds in the feature adjustments.
func (r *Reranker) score(ctx context.Context, query string, cands []models.Candidate) ([]models.Candidate, error) {
	qEntities, _, err := r.extractor.Extract(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("extract query entities: %w", err)
	}
	qSet := capability.Surfaces(qEntities)

	out := make([]models.Candidate, len(cands))
	copy(out, cands)
	now := time.Now().UTC()

	for start := 0; start < len(out); start += r.opts.BatchSize {
		end := min(start+r.opts.BatchSize, len(out))
		batch := out[start:end]
		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Text
		}
		bases, err := r.scorePairs(ctx, query, texts)
		if err != nil {
			return nil, fmt.Errorf("score batch [%d:%d]: %w", start, end, err)
		}
		if len(bases) != len(batch) {
			return nil, fmt.Errorf("score batch [%d:%d]: got %d scores for %d texts", start, end, len(bases), len(batch))
		}
		for i := range batch {
			recency := recencyScore(batch[i].TsSource, now)
			overlap := r.entityOverlap(ctx, qSet, batch[i].Text)
			batch[i].Score = bases[i] + *r.opts.RecencyWeight*recency + *r.opts.EntityWeight*overlap
		}
	}
	return out, nil
}

func (r *Reranker) scorePairs(ctx context.Context, query string, texts []string) ([]float64, error) {
	if r.permits != nil {
		if err := r.permits.Acquire(ctx, 1); err != nil {
			return nil, err
		}
		defer r.permits.Release(1)
	}
	return r.encoder.ScorePairs(ctx, query, texts)
}

// truncate returns the top k and reports a quality shortfall when fewer than
// k candidates clear the threshold. Results are never padded.
func (r *Reranker) truncate(scored []models.Candidate, k int) []models.Candidate {
	clearing := 0
	for _, c := range scored {
		if c.Score >= r.opts.QualityThreshold {
			clearing++
		}
	}
	if clearing < k {
		r.shortfall.Add(1)
		r.logger.Warn("rerank quality shortfall",
			"above_threshold", clearing, "requested", k, "candidates", len(scored))
	}
	if len(scored) > k {
		scored = scored[:k]
	}
	return scored
}

// ShortfallCount reports how many rerank calls fell short of the quality
// threshold.
func (r *Reranker) ShortfallCount() int64 { return r.shortfall.Load() }

// recencyScore maps source age to [0,1]: 1 at now, 0 at one year, 0.5 when
// the timestamp is absent.
func recencyScore(ts, now time.Time) float64 {
	if ts.IsZero() {
		return 0.5
	}
	ageDays := now.Sub(ts).Hours() / 24
	score := 1 - ageDays/365
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// entityOverlap is |Q∩C| / |Q|, zero for entity-free queries. Extraction
// failures on candidate text degrade to zero overlap.
func (r *Reranker) entityOverlap(ctx context.Context, qSet map[string]bool, text string) float64 {
	if len(qSet) == 0 {
		return 0
	}
	entities, _, err := r.extractor.Extract(ctx, text)
	if err != nil {
		return 0
	}
	cSet := capability.Surfaces(entities)
	matched := 0
	for s := range qSet {
		if cSet[s] {
			matched++
		}
	}
	return float64(matched) / float64(len(qSet))
}
