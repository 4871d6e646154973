package config

import (
	"fmt"
	"regexp"
	"strings"
)

// ConfigValidator validates configuration comprehensively with clear error
// messages.
type ConfigValidator struct {
	cfg *Config
}

// NewValidator creates a validator for the given configuration.
func NewValidator(cfg *Config) *ConfigValidator {
	return &ConfigValidator{cfg: cfg}
}

// ValidateAll performs comprehensive validation (fail-fast - stops at first error)
func (v *ConfigValidator) ValidateAll() error {
	// Servers before tenants: tenant allow-lists reference server IDs.
	if err := v.validateMCPServers(); err != nil {
		return fmt.Errorf("MCP server validation failed: %w", err)
	}

	if err := v.validateTenants(); err != nil {
		return fmt.Errorf("tenant validation failed: %w", err)
	}

	if err := v.validateSections(); err != nil {
		return fmt.Errorf("section validation failed: %w", err)
	}

	if err := v.validatePatterns(); err != nil {
		return fmt.Errorf("pattern validation failed: %w", err)
	}

	return nil
}

func (v *ConfigValidator) validateMCPServers() error {
	for id, server := range v.cfg.MCPServerRegistry.GetAll() {
		t := server.Transport
		if !t.Type.IsValid() {
			return NewValidationError("mcp_server", id, "transport.type",
				fmt.Errorf("%w: %q", ErrInvalidValue, t.Type))
		}

		switch t.Type {
		case TransportTypeStdio:
			if t.Command == "" {
				return NewValidationError("mcp_server", id, "transport.command",
					fmt.Errorf("%w: stdio transport requires command", ErrMissingRequiredField))
			}
		case TransportTypeHTTP:
			if t.BaseURL == "" {
				return NewValidationError("mcp_server", id, "transport.base_url",
					fmt.Errorf("%w: http transport requires base_url", ErrMissingRequiredField))
			}
		}

		if t.Timeout < 0 {
			return NewValidationError("mcp_server", id, "transport.timeout",
				fmt.Errorf("%w: must not be negative", ErrInvalidValue))
		}
	}
	return nil
}

func (v *ConfigValidator) validateTenants() error {
	for tenantID, tenant := range v.cfg.TenantRegistry.GetAll() {
		if err := v.validateToolList("tenant", tenantID, "allowed_tools", tenant.AllowedTools); err != nil {
			return err
		}
		for userID, user := range tenant.Users {
			field := fmt.Sprintf("users.%s.allowed_tools", userID)
			if err := v.validateToolList("tenant", tenantID, field, user.AllowedTools); err != nil {
				return err
			}
		}
	}
	return nil
}

// validateToolList checks that every entry is non-empty and, when qualified
// as server.tool, references a configured server.
func (v *ConfigValidator) validateToolList(component, id, field string, tools []string) error {
	for _, tool := range tools {
		if tool == "" {
			return NewValidationError(component, id, field,
				fmt.Errorf("%w: empty tool ID", ErrInvalidValue))
		}
		serverID := tool
		if idx := strings.Index(tool, "."); idx >= 0 {
			serverID = tool[:idx]
		}
		if serverID == "" || !v.cfg.MCPServerRegistry.Has(serverID) {
			return NewValidationError(component, id, field,
				fmt.Errorf("MCP server '%s' not found (from tool '%s')", serverID, tool))
		}
	}
	return nil
}

func (v *ConfigValidator) validateSections() error {
	if err := v.validateChunking(); err != nil {
		return err
	}
	if err := v.validateRetrieval(); err != nil {
		return err
	}
	if err := v.validateReranker(); err != nil {
		return err
	}
	if err := v.validateGrounding(); err != nil {
		return err
	}
	if err := v.validateIngestion(); err != nil {
		return err
	}
	if err := v.validateBackends(); err != nil {
		return err
	}
	return v.validateRuntime()
}

func (v *ConfigValidator) validateChunking() error {
	c := v.cfg.Chunking
	if c.ChunkSize < 1 {
		return NewValidationError("section", "chunking", "chunk_size",
			fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return NewValidationError("section", "chunking", "chunk_overlap",
			fmt.Errorf("%w: must be in [0, chunk_size)", ErrInvalidValue))
	}
	for _, size := range c.ChunkSizes {
		if size < 1 {
			return NewValidationError("section", "chunking", "chunk_sizes",
				fmt.Errorf("%w: sizes must be at least 1", ErrInvalidValue))
		}
	}
	if c.OverlapRatio < 0 || c.OverlapRatio >= 1 {
		return NewValidationError("section", "chunking", "overlap_ratio",
			fmt.Errorf("%w: must be in [0, 1)", ErrInvalidValue))
	}
	if c.BatchSize < 1 {
		return NewValidationError("section", "chunking", "batch_size",
			fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
	}
	return nil
}

// negativeWeight reports whether an optional weight is set to a negative
// value. Nil weights take the defaults and are always valid.
func negativeWeight(w *float64) bool { return w != nil && *w < 0 }

func (v *ConfigValidator) validateRetrieval() error {
	r := v.cfg.Retrieval
	if r.RRFK <= 0 {
		return NewValidationError("section", "retrieval", "rrf_k",
			fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if negativeWeight(r.VectorWeight) || negativeWeight(r.BM25Weight) || negativeWeight(r.GraphWeight) {
		return NewValidationError("section", "retrieval", "weights",
			fmt.Errorf("%w: must not be negative", ErrInvalidValue))
	}
	if r.GraphHops < 1 {
		return NewValidationError("section", "retrieval", "graph_hops",
			fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
	}
	if r.TopK < 1 {
		return NewValidationError("section", "retrieval", "top_k",
			fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
	}
	return nil
}

func (v *ConfigValidator) validateReranker() error {
	r := v.cfg.Reranker
	if r.BatchSize < 1 {
		return NewValidationError("section", "reranker", "batch_size",
			fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
	}
	if r.TopK < 1 {
		return NewValidationError("section", "reranker", "top_k",
			fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
	}
	if negativeWeight(r.RecencyWeight) || negativeWeight(r.EntityWeight) {
		return NewValidationError("section", "reranker", "weights",
			fmt.Errorf("%w: must not be negative", ErrInvalidValue))
	}
	if !r.CacheBackend.IsValid() {
		return NewValidationError("section", "reranker", "cache_backend",
			fmt.Errorf("%w: %q", ErrInvalidValue, r.CacheBackend))
	}
	if r.CacheBackend == CacheBackendRedis && r.CacheAddr == "" {
		return NewValidationError("section", "reranker", "cache_addr",
			fmt.Errorf("%w: redis cache requires cache_addr", ErrMissingRequiredField))
	}
	if r.CacheTTL <= 0 {
		return NewValidationError("section", "reranker", "cache_ttl",
			fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	return nil
}

func (v *ConfigValidator) validateGrounding() error {
	g := v.cfg.Grounding
	if g.MinEvidenceScore < 0 || g.MinEvidenceScore > 1 {
		return NewValidationError("section", "grounding", "min_evidence_score",
			fmt.Errorf("%w: must be in [0, 1]", ErrInvalidValue))
	}
	return nil
}

func (v *ConfigValidator) validateIngestion() error {
	i := v.cfg.Ingestion
	if i.MaxRetries < 0 {
		return NewValidationError("section", "ingestion", "max_retries",
			fmt.Errorf("%w: must not be negative", ErrInvalidValue))
	}
	if i.RetryDelay <= 0 {
		return NewValidationError("section", "ingestion", "retry_delay",
			fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if i.RetryBackoff < 1 {
		return NewValidationError("section", "ingestion", "retry_backoff",
			fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
	}
	if i.RetryJitter < 0 || i.RetryJitter >= 1 {
		return NewValidationError("section", "ingestion", "retry_jitter",
			fmt.Errorf("%w: must be in [0, 1)", ErrInvalidValue))
	}
	if i.MaxConcurrent < 1 {
		return NewValidationError("section", "ingestion", "max_concurrent",
			fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
	}
	if i.Workers < 1 {
		return NewValidationError("section", "ingestion", "workers",
			fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
	}
	if i.CheckpointEvery < 1 {
		return NewValidationError("section", "ingestion", "checkpoint_every",
			fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
	}
	return nil
}

func (v *ConfigValidator) validateBackends() error {
	q := v.cfg.Queue
	if !q.Backend.IsValid() {
		return NewValidationError("section", "queue", "backend",
			fmt.Errorf("%w: %q", ErrInvalidValue, q.Backend))
	}
	if q.Backend == QueueBackendKafka && len(q.Brokers) == 0 {
		return NewValidationError("section", "queue", "brokers",
			fmt.Errorf("%w: kafka backend requires brokers", ErrMissingRequiredField))
	}

	s := v.cfg.Storage
	if !s.Vector.Backend.IsValid() {
		return NewValidationError("section", "storage", "vector.backend",
			fmt.Errorf("%w: %q", ErrInvalidValue, s.Vector.Backend))
	}
	if s.Vector.Backend == VectorBackendQdrant && s.Vector.Addr == "" {
		return NewValidationError("section", "storage", "vector.addr",
			fmt.Errorf("%w: qdrant backend requires addr", ErrMissingRequiredField))
	}
	if !s.Text.Backend.IsValid() {
		return NewValidationError("section", "storage", "text.backend",
			fmt.Errorf("%w: %q", ErrInvalidValue, s.Text.Backend))
	}
	if s.Text.Backend == TextBackendBleve && s.Text.Path == "" {
		return NewValidationError("section", "storage", "text.path",
			fmt.Errorf("%w: bleve backend requires path", ErrMissingRequiredField))
	}
	if !s.Graph.Backend.IsValid() {
		return NewValidationError("section", "storage", "graph.backend",
			fmt.Errorf("%w: %q", ErrInvalidValue, s.Graph.Backend))
	}
	if s.Graph.Backend == GraphBackendPostgres && !v.cfg.Database.Enabled() {
		return NewValidationError("section", "storage", "graph.backend",
			fmt.Errorf("%w: postgres graph backend requires database.url", ErrMissingRequiredField))
	}
	return nil
}

func (v *ConfigValidator) validateRuntime() error {
	if v.cfg.Server.Port < 1 || v.cfg.Server.Port > 65535 {
		return NewValidationError("section", "server", "port",
			fmt.Errorf("%w: must be in [1, 65535]", ErrInvalidValue))
	}
	r := v.cfg.Retention
	if r.AuditRetentionDays < 1 || r.RunRetentionDays < 1 {
		return NewValidationError("section", "retention", "retention_days",
			fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
	}
	if r.CleanupInterval <= 0 {
		return NewValidationError("section", "retention", "cleanup_interval",
			fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if v.cfg.Capabilities.EmbeddingDim < 1 {
		return NewValidationError("section", "capabilities", "embedding_dim",
			fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
	}
	return nil
}

// validatePatterns compiles user-supplied regular expressions eagerly so a
// bad pattern fails boot instead of being silently skipped at runtime.
func (v *ConfigValidator) validatePatterns() error {
	for i, p := range v.cfg.Scrub.CustomPatterns {
		if p.Pattern == "" {
			return NewValidationError("scrub_pattern", p.Name, "pattern",
				fmt.Errorf("%w: pattern is empty", ErrMissingRequiredField))
		}
		if _, err := regexp.Compile(p.Pattern); err != nil {
			id := p.Name
			if id == "" {
				id = fmt.Sprintf("custom:%d", i)
			}
			return NewValidationError("scrub_pattern", id, "pattern", err)
		}
	}
	for i, r := range v.cfg.ACLMappings.Patterns {
		if _, err := regexp.Compile(r.Pattern); err != nil {
			return NewValidationError("acl_mapping", fmt.Sprintf("pattern:%d", i), "pattern", err)
		}
	}
	return nil
}
