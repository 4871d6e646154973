package rerank

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corralproject/corral/pkg/capability"
	"github.com/corralproject/corral/pkg/models"
	"github.com/corralproject/corral/pkg/storage/cache"
)

// tableEncoder returns per-text base scores and records batch sizes.
type tableEncoder struct {
	scores  map[string]float64
	batches []int
	calls   int
}

func (e *tableEncoder) ScorePairs(_ context.Context, _ string, docs []string) ([]float64, error) {
	e.calls++
	e.batches = append(e.batches, len(docs))
	out := make([]float64, len(docs))
	for i, d := range docs {
		out[i] = e.scores[d]
	}
	return out, nil
}

func (e *tableEncoder) Model() string { return "table-v1" }

func TestCacheKeyInsensitiveToIDOrder(t *testing.T) {
	k1 := CacheKey("q", []string{"b", "a"}, "m")
	k2 := CacheKey("q", []string{"a", "b"}, "m")
	assert.Equal(t, k1, k2)
	assert.NotEqual(t, k1, CacheKey("q", []string{"a", "b"}, "m2"), "model name is part of the key")
	assert.NotEqual(t, k1, CacheKey("q2", []string{"a", "b"}, "m"))
}

func TestRerankCombinesFeatures(t *testing.T) {
	enc := &tableEncoder{scores: map[string]float64{
		"Orion shipped on schedule": 0.4,
		"quarterly cafeteria menu":  0.6,
	}}
	r := New(enc, capability.HeuristicExtractor{}, nil, nil, Options{}, nil)

	now := time.Now().UTC()
	cands := []models.Candidate{
		{ID: "c-menu", Text: "quarterly cafeteria menu", TsSource: now.Add(-2 * 365 * 24 * time.Hour)},
		{ID: "c-orion", Text: "Orion shipped on schedule", TsSource: now},
	}
	got, err := r.Rerank(context.Background(), "status of Orion", cands, 0)
	require.NoError(t, err)
	require.Len(t, got, 2)

	// Query entities: {orion}. First candidate: base 0.4, recency ~1,
	// overlap 1 → ~0.7. Second: base 0.6, recency 0 (two years old),
	// overlap 0 → 0.6.
	assert.Equal(t, "c-orion", got[0].ID)
	assert.InDelta(t, 0.7, got[0].Score, 0.01)
	assert.InDelta(t, 0.6, got[1].Score, 0.01)
}

func TestRerankZeroFeatureWeightsKeepBaseScore(t *testing.T) {
	enc := &tableEncoder{scores: map[string]float64{
		"Orion shipped on schedule": 0.4,
		"quarterly cafeteria menu":  0.6,
	}}
	zero := 0.0
	r := New(enc, capability.HeuristicExtractor{}, nil, nil,
		Options{RecencyWeight: &zero, EntityWeight: &zero}, nil)

	now := time.Now().UTC()
	cands := []models.Candidate{
		{ID: "c-menu", Text: "quarterly cafeteria menu", TsSource: now.Add(-2 * 365 * 24 * time.Hour)},
		{ID: "c-orion", Text: "Orion shipped on schedule", TsSource: now},
	}
	got, err := r.Rerank(context.Background(), "status of Orion", cands, 0)
	require.NoError(t, err)
	require.Len(t, got, 2)

	// Both features disabled: ordering and scores come from the encoder
	// alone, so the fresh entity-overlapping candidate no longer wins.
	assert.Equal(t, "c-menu", got[0].ID)
	assert.InDelta(t, 0.6, got[0].Score, 1e-9)
	assert.Equal(t, "c-orion", got[1].ID)
	assert.InDelta(t, 0.4, got[1].Score, 1e-9)
}

func TestRerankRecencyDefaultsWhenUnparsable(t *testing.T) {
	enc := &tableEncoder{scores: map[string]float64{"no timestamp here": 0.2}}
	r := New(enc, capability.HeuristicExtractor{}, nil, nil, Options{}, nil)

	got, err := r.Rerank(context.Background(), "plain query", []models.Candidate{{ID: "c", Text: "no timestamp here"}}, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	// base 0.2 + 0.1 * 0.5 recency + 0 overlap.
	assert.InDelta(t, 0.25, got[0].Score, 1e-9)
}

func TestRerankBatches(t *testing.T) {
	enc := &tableEncoder{scores: map[string]float64{}}
	r := New(enc, capability.HeuristicExtractor{}, nil, nil, Options{BatchSize: 16, TopK: 50}, nil)

	cands := make([]models.Candidate, 20)
	for i := range cands {
		cands[i] = models.Candidate{ID: string(rune('a' + i)), Text: "text"}
	}
	_, err := r.Rerank(context.Background(), "q", cands, 0)
	require.NoError(t, err)
	assert.Equal(t, []int{16, 4}, enc.batches)
}

func TestRerankUsesCache(t *testing.T) {
	enc := &tableEncoder{scores: map[string]float64{"alpha": 0.9, "beta": 0.1}}
	c := cache.NewLRU(16, time.Minute)
	r := New(enc, capability.HeuristicExtractor{}, c, nil, Options{}, nil)

	cands := []models.Candidate{
		{ID: "c-a", Text: "alpha"},
		{ID: "c-b", Text: "beta"},
	}
	first, err := r.Rerank(context.Background(), "q", cands, 0)
	require.NoError(t, err)
	require.Equal(t, 1, enc.calls)

	// Same query and candidate set, reversed order: served from cache.
	second, err := r.Rerank(context.Background(), "q", []models.Candidate{cands[1], cands[0]}, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, enc.calls, "second call never reaches the encoder")
	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].ID, second[i].ID)
		assert.Equal(t, first[i].Score, second[i].Score)
	}
}

func TestRerankTopKAndShortfall(t *testing.T) {
	enc := &tableEncoder{scores: map[string]float64{"good": 0.9, "weak one": 0.1, "weak two": 0.2}}
	r := New(enc, capability.HeuristicExtractor{}, nil, nil, Options{TopK: 2, QualityThreshold: 0.5}, nil)

	cands := []models.Candidate{
		{ID: "c-1", Text: "good"},
		{ID: "c-2", Text: "weak one"},
		{ID: "c-3", Text: "weak two"},
	}
	got, err := r.Rerank(context.Background(), "q", cands, 0)
	require.NoError(t, err)
	assert.Len(t, got, 2, "results are returned despite the shortfall, never padded")
	assert.Equal(t, "c-1", got[0].ID)
	assert.Equal(t, int64(1), r.ShortfallCount())
}

func TestRerankEmptyInput(t *testing.T) {
	enc := &tableEncoder{}
	r := New(enc, capability.HeuristicExtractor{}, nil, nil, Options{}, nil)
	got, err := r.Rerank(context.Background(), "q", nil, 0)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Zero(t, enc.calls)
}

func TestRerankStableOnTies(t *testing.T) {
	enc := &tableEncoder{scores: map[string]float64{"same": 0.5}}
	r := New(enc, capability.HeuristicExtractor{}, nil, nil, Options{TopK: 10}, nil)

	cands := []models.Candidate{
		{ID: "c-first", Text: "same"},
		{ID: "c-second", Text: "same"},
	}
	got, err := r.Rerank(context.Background(), "q", cands, 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "c-first", got[0].ID, "stable sort keeps input order on equal scores")
}
