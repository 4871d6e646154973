// Package config loads, merges, and validates the YAML configuration that
// wires the pipeline: tool adapter servers, tenant permissions, ACL and
// scrub rules, and the typed knobs for each processing stage.
package config

import (
	"github.com/corralproject/corral/pkg/normalize"
)

// Config is the umbrella configuration object returned by Initialize and
// injected into component constructors. Sections are always non-nil after
// Initialize; unset fields carry built-in defaults.
type Config struct {
	configDir string

	Server       *ServerConfig
	Database     *DatabaseConfig
	Queue        *QueueConfig
	Storage      *StorageConfig
	Capabilities *CapabilitiesConfig
	Ingestion    *IngestionConfig
	Chunking     *ChunkingConfig
	Retrieval    *RetrievalConfig
	Reranker     *RerankerConfig
	Grounding    *GroundingConfig
	Retention    *RetentionConfig

	Scrub       *ScrubSection
	ACLMappings *normalize.MapperConfig

	MCPServerRegistry *MCPServerRegistry
	TenantRegistry    *TenantRegistry
}

// Stats contains statistics about loaded configuration.
type Stats struct {
	MCPServers  int
	Tenants     int
	ACLRules    int
	ScrubCustom int
}

// Stats returns configuration statistics for logging/monitoring.
func (c *Config) Stats() Stats {
	s := Stats{}
	if c.MCPServerRegistry != nil {
		s.MCPServers = c.MCPServerRegistry.Len()
	}
	if c.TenantRegistry != nil {
		s.Tenants = c.TenantRegistry.Len()
	}
	if c.ACLMappings != nil {
		s.ACLRules = len(c.ACLMappings.Patterns)
		for _, m := range c.ACLMappings.Exact {
			s.ACLRules += len(m)
		}
	}
	if c.Scrub != nil {
		s.ScrubCustom = len(c.Scrub.CustomPatterns)
	}
	return s
}

// ConfigDir returns the configuration directory path.
func (c *Config) ConfigDir() string {
	return c.configDir
}

// GetMCPServer retrieves a tool adapter server configuration by ID.
// Convenience wrapper over MCPServerRegistry.Get().
func (c *Config) GetMCPServer(serverID string) (*MCPServerConfig, error) {
	return c.MCPServerRegistry.Get(serverID)
}

// GetTenant retrieves a tenant policy by tenant ID.
// Convenience wrapper over TenantRegistry.Get().
func (c *Config) GetTenant(tenantID string) (*TenantConfig, error) {
	return c.TenantRegistry.Get(tenantID)
}

// AllMCPServerIDs returns a sorted list of all configured server IDs.
func (c *Config) AllMCPServerIDs() []string {
	return c.MCPServerRegistry.ServerIDs()
}
