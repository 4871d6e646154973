package config

// QueueConfig selects and tunes the ingestion queue.
type QueueConfig struct {
	Backend QueueBackend `yaml:"backend"`

	// Brokers and Group apply to the kafka backend only.
	Brokers []string `yaml:"brokers,omitempty"`
	Group   string   `yaml:"group"`

	// Buffer is the per-topic channel capacity of the memory backend.
	Buffer int `yaml:"buffer"`
}

// DefaultQueueConfig returns the built-in queue defaults.
func DefaultQueueConfig() *QueueConfig {
	return &QueueConfig{
		Backend: QueueBackendMemory,
		Group:   "corral-ingestion",
		Buffer:  256,
	}
}

// VectorStoreConfig selects the vector store backend.
type VectorStoreConfig struct {
	Backend    VectorBackend `yaml:"backend"`
	Addr       string        `yaml:"addr,omitempty"`       // qdrant gRPC address
	Collection string        `yaml:"collection,omitempty"` // qdrant collection name
	APIKey     string        `yaml:"api_key,omitempty"`
}

// TextIndexConfig selects the full-text index backend.
type TextIndexConfig struct {
	Backend TextBackend `yaml:"backend"`
	Path    string      `yaml:"path,omitempty"` // bleve index directory
}

// GraphStoreConfig selects the graph store backend.
type GraphStoreConfig struct {
	Backend GraphBackend `yaml:"backend"`
}

// StorageConfig groups per-store backend selection.
type StorageConfig struct {
	Vector VectorStoreConfig `yaml:"vector"`
	Text   TextIndexConfig   `yaml:"text"`
	Graph  GraphStoreConfig  `yaml:"graph"`
}

// DefaultStorageConfig returns the built-in storage defaults: everything in
// memory, suitable for tests and single-node evaluation.
func DefaultStorageConfig() *StorageConfig {
	return &StorageConfig{
		Vector: VectorStoreConfig{
			Backend:    VectorBackendMemory,
			Addr:       "localhost:6334",
			Collection: "corral_chunks",
		},
		Text: TextIndexConfig{
			Backend: TextBackendMemory,
			Path:    "corral.bleve",
		},
		Graph: GraphStoreConfig{
			Backend: GraphBackendMemory,
		},
	}
}

// CapabilitiesConfig selects the model-facing capability implementations.
// The static implementations are deterministic stand-ins used when no model
// serving endpoint is configured.
type CapabilitiesConfig struct {
	Generator    string `yaml:"generator"`
	Embedder     string `yaml:"embedder"`
	CrossEncoder string `yaml:"cross_encoder"`
	Extractor    string `yaml:"extractor"`

	// EmbeddingDim is the vector dimension of the static embedder.
	EmbeddingDim int `yaml:"embedding_dim"`
}

// DefaultCapabilitiesConfig returns the built-in capability defaults.
func DefaultCapabilitiesConfig() *CapabilitiesConfig {
	return &CapabilitiesConfig{
		Generator:    "static",
		Embedder:     "static",
		CrossEncoder: "static",
		Extractor:    "heuristic",
		EmbeddingDim: 256,
	}
}

// ServerConfig holds the HTTP API listener settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// DefaultServerConfig returns the built-in server defaults.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Host: "",
		Port: 8080,
	}
}

// DatabaseConfig holds the Postgres connection settings. An empty URL
// disables Postgres-backed features: the graph store, run/event persistence,
// and cross-replica event fan-out fall back to in-memory equivalents.
type DatabaseConfig struct {
	URL      string `yaml:"url"`
	MaxConns int32  `yaml:"max_conns"`
	MinConns int32  `yaml:"min_conns"`
}

// DefaultDatabaseConfig returns the built-in database defaults.
func DefaultDatabaseConfig() *DatabaseConfig {
	return &DatabaseConfig{
		MaxConns: 10,
		MinConns: 2,
	}
}

// Enabled reports whether a Postgres connection is configured.
func (c *DatabaseConfig) Enabled() bool {
	return c.URL != ""
}
