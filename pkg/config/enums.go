package config

// TransportType defines tool adapter transport types.
type TransportType string

const (
	// TransportTypeStdio uses subprocess communication via stdin/stdout.
	TransportTypeStdio TransportType = "stdio"
	// TransportTypeHTTP uses HTTP JSON-RPC with SSE subscriptions.
	TransportTypeHTTP TransportType = "http"
)

// IsValid checks if the transport type is valid.
func (t TransportType) IsValid() bool {
	return t == TransportTypeStdio || t == TransportTypeHTTP
}

// QueueBackend selects the ingestion queue implementation.
type QueueBackend string

const (
	// QueueBackendMemory uses in-process channels. Single-node and tests.
	QueueBackendMemory QueueBackend = "memory"
	// QueueBackendKafka uses Kafka topics with consumer groups.
	QueueBackendKafka QueueBackend = "kafka"
)

// IsValid checks if the queue backend is valid.
func (b QueueBackend) IsValid() bool {
	return b == QueueBackendMemory || b == QueueBackendKafka
}

// VectorBackend selects the vector store implementation.
type VectorBackend string

const (
	// VectorBackendMemory keeps chunks in process memory.
	VectorBackendMemory VectorBackend = "memory"
	// VectorBackendQdrant stores vectors in a Qdrant collection.
	VectorBackendQdrant VectorBackend = "qdrant"
)

// IsValid checks if the vector backend is valid.
func (b VectorBackend) IsValid() bool {
	return b == VectorBackendMemory || b == VectorBackendQdrant
}

// TextBackend selects the full-text index implementation.
type TextBackend string

const (
	// TextBackendMemory uses an in-memory Bleve index.
	TextBackendMemory TextBackend = "memory"
	// TextBackendBleve uses an on-disk Bleve index.
	TextBackendBleve TextBackend = "bleve"
)

// IsValid checks if the text backend is valid.
func (b TextBackend) IsValid() bool {
	return b == TextBackendMemory || b == TextBackendBleve
}

// GraphBackend selects the graph store implementation.
type GraphBackend string

const (
	// GraphBackendMemory keeps nodes and edges in process memory.
	GraphBackendMemory GraphBackend = "memory"
	// GraphBackendPostgres persists the graph in Postgres tables.
	GraphBackendPostgres GraphBackend = "postgres"
)

// IsValid checks if the graph backend is valid.
func (b GraphBackend) IsValid() bool {
	return b == GraphBackendMemory || b == GraphBackendPostgres
}

// CacheBackend selects the rerank cache implementation.
type CacheBackend string

const (
	// CacheBackendLRU uses an in-process expiring LRU.
	CacheBackendLRU CacheBackend = "lru"
	// CacheBackendRedis uses Redis with per-key TTL.
	CacheBackendRedis CacheBackend = "redis"
)

// IsValid checks if the cache backend is valid.
func (b CacheBackend) IsValid() bool {
	return b == CacheBackendLRU || b == CacheBackendRedis
}
