package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corralproject/corral/pkg/normalize"
	"github.com/corralproject/corral/pkg/scrub"
)

// validConfig builds a fully-defaulted configuration with one stdio server
// and one tenant, the smallest shape that passes every check.
func validConfig() *Config {
	return &Config{
		Server:       DefaultServerConfig(),
		Database:     DefaultDatabaseConfig(),
		Queue:        DefaultQueueConfig(),
		Storage:      DefaultStorageConfig(),
		Capabilities: DefaultCapabilitiesConfig(),
		Ingestion:    DefaultIngestionConfig(),
		Chunking:     DefaultChunkingConfig(),
		Retrieval:    DefaultRetrievalConfig(),
		Reranker:     DefaultRerankerConfig(),
		Grounding:    DefaultGroundingConfig(),
		Retention:    DefaultRetentionConfig(),
		Scrub:        DefaultScrubSection(),
		ACLMappings:  &normalize.MapperConfig{},
		MCPServerRegistry: NewMCPServerRegistry(map[string]*MCPServerConfig{
			"github": {Transport: TransportConfig{
				Type:    TransportTypeStdio,
				Command: "github-adapter",
			}},
		}),
		TenantRegistry: NewTenantRegistry(map[string]*TenantConfig{
			"acme": {AllowedTools: []string{"github.list_issues"}},
		}),
	}
}

func TestValidateAllAcceptsValidConfig(t *testing.T) {
	require.NoError(t, NewValidator(validConfig()).ValidateAll())
}

func TestValidateAllRejections(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(cfg *Config)
		component string
		field     string
	}{
		{
			name: "unknown transport type",
			mutate: func(cfg *Config) {
				cfg.MCPServerRegistry = NewMCPServerRegistry(map[string]*MCPServerConfig{
					"bad": {Transport: TransportConfig{Type: "carrier-pigeon"}},
				})
			},
			component: "mcp_server",
			field:     "transport.type",
		},
		{
			name: "stdio server without command",
			mutate: func(cfg *Config) {
				cfg.MCPServerRegistry = NewMCPServerRegistry(map[string]*MCPServerConfig{
					"bad": {Transport: TransportConfig{Type: TransportTypeStdio}},
				})
			},
			component: "mcp_server",
			field:     "transport.command",
		},
		{
			name: "http server without base_url",
			mutate: func(cfg *Config) {
				cfg.MCPServerRegistry = NewMCPServerRegistry(map[string]*MCPServerConfig{
					"bad": {Transport: TransportConfig{Type: TransportTypeHTTP}},
				})
			},
			component: "mcp_server",
			field:     "transport.base_url",
		},
		{
			name: "tenant references unknown server",
			mutate: func(cfg *Config) {
				cfg.TenantRegistry = NewTenantRegistry(map[string]*TenantConfig{
					"acme": {AllowedTools: []string{"gitlab.list_issues"}},
				})
			},
			component: "tenant",
			field:     "allowed_tools",
		},
		{
			name: "user narrows with unknown server",
			mutate: func(cfg *Config) {
				cfg.TenantRegistry = NewTenantRegistry(map[string]*TenantConfig{
					"acme": {
						AllowedTools: []string{"github.list_issues"},
						Users: map[string]UserConfig{
							"bob": {AllowedTools: []string{"nowhere.tool"}},
						},
					},
				})
			},
			component: "tenant",
			field:     "users.bob.allowed_tools",
		},
		{
			name:      "chunk overlap at least chunk size",
			mutate:    func(cfg *Config) { cfg.Chunking.ChunkOverlap = cfg.Chunking.ChunkSize },
			component: "section",
			field:     "chunk_overlap",
		},
		{
			name:      "zero rrf_k",
			mutate:    func(cfg *Config) { cfg.Retrieval.RRFK = 0 },
			component: "section",
			field:     "rrf_k",
		},
		{
			name:      "negative vector weight",
			mutate:    func(cfg *Config) { cfg.Retrieval.VectorWeight = f64(-1) },
			component: "section",
			field:     "weights",
		},
		{
			name:      "redis cache without addr",
			mutate:    func(cfg *Config) { cfg.Reranker.CacheBackend = CacheBackendRedis },
			component: "section",
			field:     "cache_addr",
		},
		{
			name:      "evidence score above one",
			mutate:    func(cfg *Config) { cfg.Grounding.MinEvidenceScore = 1.5 },
			component: "section",
			field:     "min_evidence_score",
		},
		{
			name:      "kafka queue without brokers",
			mutate:    func(cfg *Config) { cfg.Queue.Backend = QueueBackendKafka },
			component: "section",
			field:     "brokers",
		},
		{
			name: "qdrant vector store without addr",
			mutate: func(cfg *Config) {
				cfg.Storage.Vector.Backend = VectorBackendQdrant
				cfg.Storage.Vector.Addr = ""
			},
			component: "section",
			field:     "vector.addr",
		},
		{
			name:      "postgres graph without database url",
			mutate:    func(cfg *Config) { cfg.Storage.Graph.Backend = GraphBackendPostgres },
			component: "section",
			field:     "graph.backend",
		},
		{
			name:      "retry backoff below one",
			mutate:    func(cfg *Config) { cfg.Ingestion.RetryBackoff = 0.5 },
			component: "section",
			field:     "retry_backoff",
		},
		{
			name:      "port out of range",
			mutate:    func(cfg *Config) { cfg.Server.Port = 0 },
			component: "section",
			field:     "port",
		},
		{
			name: "invalid scrub pattern",
			mutate: func(cfg *Config) {
				cfg.Scrub.CustomPatterns = []scrub.Pattern{{Name: "broken", Pattern: "([unclosed"}}
			},
			component: "scrub_pattern",
			field:     "pattern",
		},
		{
			name: "invalid acl pattern",
			mutate: func(cfg *Config) {
				cfg.ACLMappings.Patterns = []normalize.PatternRule{{
					SourceTool: "github",
					Pattern:    "([unclosed",
					Template:   "x:$1",
				}}
			},
			component: "acl_mapping",
			field:     "pattern",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := NewValidator(cfg).ValidateAll()
			require.Error(t, err)

			var vErr *ValidationError
			require.ErrorAs(t, err, &vErr)
			assert.Equal(t, tt.component, vErr.Component)
			assert.Equal(t, tt.field, vErr.Field)
		})
	}
}

func TestBareServerIDAllowedInToolList(t *testing.T) {
	cfg := validConfig()
	cfg.TenantRegistry = NewTenantRegistry(map[string]*TenantConfig{
		"acme": {AllowedTools: []string{"github"}},
	})
	require.NoError(t, NewValidator(cfg).ValidateAll())
}
