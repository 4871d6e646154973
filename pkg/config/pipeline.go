package config

import "time"

// f64 builds the optional-weight pointers used across pipeline sections.
func f64(v float64) *float64 { return &v }

// ChunkingConfig controls document chunking. When ChunkSizes is non-empty
// the multi-size chunker runs once per size with overlap derived from
// OverlapRatio; otherwise the single-size chunker uses ChunkSize and
// ChunkOverlap directly.
type ChunkingConfig struct {
	ChunkSize    int     `yaml:"chunk_size"`
	ChunkOverlap int     `yaml:"chunk_overlap"`
	ChunkSizes   []int   `yaml:"chunk_sizes,omitempty"`
	OverlapRatio float64 `yaml:"overlap_ratio"`
	BatchSize    int     `yaml:"batch_size"` // Embedding batch size
}

// DefaultChunkingConfig returns the built-in chunking defaults.
func DefaultChunkingConfig() *ChunkingConfig {
	return &ChunkingConfig{
		ChunkSize:    800,
		ChunkOverlap: 100,
		OverlapRatio: 0.125,
		BatchSize:    16,
	}
}

// RetrievalConfig controls hybrid retrieval and rank fusion. The fusion
// weights are pointers so that an explicit zero in YAML is distinguishable
// from an absent key: zero disables that signal, absent keeps the default.
type RetrievalConfig struct {
	RRFK         float64  `yaml:"rrf_k"`
	VectorWeight *float64 `yaml:"vector_weight"`
	BM25Weight   *float64 `yaml:"bm25_weight"`
	GraphWeight  *float64 `yaml:"graph_weight"`
	GraphHops    int      `yaml:"graph_hops"`
	TopK         int      `yaml:"top_k"`
}

// DefaultRetrievalConfig returns the built-in retrieval defaults.
func DefaultRetrievalConfig() *RetrievalConfig {
	return &RetrievalConfig{
		RRFK:         60,
		VectorWeight: f64(1.0),
		BM25Weight:   f64(1.0),
		GraphWeight:  f64(1.0),
		GraphHops:    1,
		TopK:         50,
	}
}

// RerankerConfig controls cross-encoder reranking and its result cache.
type RerankerConfig struct {
	ModelName        string   `yaml:"model_name"`
	BatchSize        int      `yaml:"batch_size"`
	TopK             int      `yaml:"top_k"`
	RecencyWeight    *float64 `yaml:"recency_weight"`
	EntityWeight     *float64 `yaml:"entity_weight"`
	QualityThreshold float64  `yaml:"quality_threshold"`

	CacheBackend CacheBackend  `yaml:"cache_backend"`
	CacheTTL     time.Duration `yaml:"cache_ttl"`
	CacheSize    int           `yaml:"cache_size"` // LRU backend only
	CacheAddr    string        `yaml:"cache_addr"` // Redis backend only
}

// DefaultRerankerConfig returns the built-in reranker defaults.
func DefaultRerankerConfig() *RerankerConfig {
	return &RerankerConfig{
		ModelName:        "static-overlap",
		BatchSize:        16,
		TopK:             5,
		RecencyWeight:    f64(0.1),
		EntityWeight:     f64(0.2),
		QualityThreshold: 0,
		CacheBackend:     CacheBackendLRU,
		CacheTTL:         1 * time.Hour,
		CacheSize:        2048,
	}
}

// GroundingConfig controls answer generation gating.
type GroundingConfig struct {
	MinEvidenceScore float64 `yaml:"min_evidence_score"`
}

// DefaultGroundingConfig returns the built-in grounding defaults.
func DefaultGroundingConfig() *GroundingConfig {
	return &GroundingConfig{
		MinEvidenceScore: 0.7,
	}
}
