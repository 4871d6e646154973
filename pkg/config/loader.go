package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"

	"github.com/corralproject/corral/pkg/normalize"
)

// CorralYAMLConfig is the YAML file structure. Every *.yaml file in the
// config directory parses into this shape; files merge in lexical order with
// later files overriding earlier ones.
type CorralYAMLConfig struct {
	Server       *ServerConfig              `yaml:"server"`
	Database     *DatabaseConfig            `yaml:"database"`
	Queue        *QueueConfig               `yaml:"queue"`
	Storage      *StorageConfig             `yaml:"storage"`
	Capabilities *CapabilitiesConfig        `yaml:"capabilities"`
	Ingestion    *IngestionConfig           `yaml:"ingestion"`
	Chunking     *ChunkingConfig            `yaml:"chunking"`
	Retrieval    *RetrievalConfig           `yaml:"retrieval"`
	Reranker     *RerankerConfig            `yaml:"reranker"`
	Grounding    *GroundingConfig           `yaml:"grounding"`
	Retention    *RetentionConfig           `yaml:"retention"`
	Scrub        *ScrubSection              `yaml:"scrub"`
	ACLMappings  *normalize.MapperConfig    `yaml:"acl_mappings"`
	MCPServers   map[string]MCPServerConfig `yaml:"mcp_servers"`
	Tenants      map[string]TenantConfig    `yaml:"tenants"`
}

// knownTopLevelKeys mirrors the yaml tags on CorralYAMLConfig. Unknown keys
// are warned about, not rejected, so configs stay forward-compatible.
var knownTopLevelKeys = map[string]bool{
	"server":       true,
	"database":     true,
	"queue":        true,
	"storage":      true,
	"capabilities": true,
	"ingestion":    true,
	"chunking":     true,
	"retrieval":    true,
	"reranker":     true,
	"grounding":    true,
	"retention":    true,
	"scrub":        true,
	"acl_mappings": true,
	"mcp_servers":  true,
	"tenants":      true,
}

// Initialize loads, validates, and returns ready-to-use configuration.
// This is the primary entry point for configuration loading.
//
// Steps performed:
//  1. Discover *.yaml files in configDir (lexical order)
//  2. Expand {{.ENV_VAR}} templates in each file
//  3. Parse and merge file contents (later files override)
//  4. Resolve typed sections over built-in defaults
//  5. Build in-memory registries
//  6. Validate all configuration
//  7. Return Config ready for use
func Initialize(ctx context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	cfg, err := load(ctx, configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidationFailed, err)
	}

	stats := cfg.Stats()
	log.Info("Configuration initialized successfully",
		"mcp_servers", stats.MCPServers,
		"tenants", stats.Tenants,
		"acl_rules", stats.ACLRules,
		"scrub_custom_patterns", stats.ScrubCustom)

	return cfg, nil
}

// load is the internal loader (not exported)
func load(_ context.Context, configDir string) (*Config, error) {
	files, err := filepath.Glob(filepath.Join(configDir, "*.yaml"))
	if err != nil {
		return nil, NewLoadError(configDir, err)
	}
	if len(files) == 0 {
		return nil, NewLoadError(configDir, ErrConfigNotFound)
	}
	sort.Strings(files)

	merged := &CorralYAMLConfig{
		MCPServers: make(map[string]MCPServerConfig),
		Tenants:    make(map[string]TenantConfig),
	}
	for _, path := range files {
		fileCfg, err := loadYAMLFile(path)
		if err != nil {
			return nil, NewLoadError(filepath.Base(path), err)
		}
		if err := mergo.Merge(merged, fileCfg, mergo.WithOverride); err != nil {
			return nil, NewLoadError(filepath.Base(path), err)
		}
	}

	return resolve(configDir, merged)
}

// loadYAMLFile reads, env-expands, and parses one configuration file.
func loadYAMLFile(path string) (*CorralYAMLConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return nil, err
	}

	data = ExpandEnv(data)
	warnUnknownKeys(filepath.Base(path), data)

	var cfg CorralYAMLConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}
	return &cfg, nil
}

// warnUnknownKeys logs top-level keys that no section recognizes. Typos in
// section names otherwise fail silently because unmatched YAML is dropped.
func warnUnknownKeys(file string, data []byte) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return // the typed parse reports the error with full context
	}
	for key := range raw {
		if !knownTopLevelKeys[key] {
			slog.Warn("Unknown configuration key ignored", "file", file, "key", key)
		}
	}
}

// resolve merges user YAML over built-in defaults and builds registries.
func resolve(configDir string, merged *CorralYAMLConfig) (*Config, error) {
	cfg := &Config{
		configDir:    configDir,
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
	}

	// Merge each user-provided section over its defaults. Non-zero user
	// values override; unset values keep the default.
	if err := firstErr(
		mergeSection("server", cfg.Server, merged.Server),
		mergeSection("database", cfg.Database, merged.Database),
		mergeSection("queue", cfg.Queue, merged.Queue),
		mergeSection("storage", cfg.Storage, merged.Storage),
		mergeSection("capabilities", cfg.Capabilities, merged.Capabilities),
		mergeSection("ingestion", cfg.Ingestion, merged.Ingestion),
		mergeSection("chunking", cfg.Chunking, merged.Chunking),
		mergeSection("retrieval", cfg.Retrieval, merged.Retrieval),
		mergeSection("reranker", cfg.Reranker, merged.Reranker),
		mergeSection("grounding", cfg.Grounding, merged.Grounding),
		mergeSection("retention", cfg.Retention, merged.Retention),
		mergeSection("scrub", cfg.Scrub, merged.Scrub),
		mergeSection("acl_mappings", cfg.ACLMappings, merged.ACLMappings),
	); err != nil {
		return nil, err
	}

	// mergo leaves a zero-valued pointee alone, so explicitly zeroed weights
	// would lose to the defaults. Copy the pointers by hand.
	if merged.Retrieval != nil {
		setWeight(&cfg.Retrieval.VectorWeight, merged.Retrieval.VectorWeight)
		setWeight(&cfg.Retrieval.BM25Weight, merged.Retrieval.BM25Weight)
		setWeight(&cfg.Retrieval.GraphWeight, merged.Retrieval.GraphWeight)
	}
	if merged.Reranker != nil {
		setWeight(&cfg.Reranker.RecencyWeight, merged.Reranker.RecencyWeight)
		setWeight(&cfg.Reranker.EntityWeight, merged.Reranker.EntityWeight)
	}

	cfg.MCPServerRegistry = NewMCPServerRegistry(copyServers(merged.MCPServers))
	cfg.TenantRegistry = NewTenantRegistry(copyTenants(merged.Tenants))
	return cfg, nil
}

// setWeight overrides an optional weight when the user provided one, even
// when that value is zero.
func setWeight(dst **float64, src *float64) {
	if src != nil {
		*dst = src
	}
}

// mergeSection merges a user-provided section over its defaults. A nil src
// keeps the defaults untouched.
func mergeSection[T any](name string, dst, src *T) error {
	if src == nil {
		return nil
	}
	if err := mergo.Merge(dst, src, mergo.WithOverride); err != nil {
		return fmt.Errorf("failed to merge %s config: %w", name, err)
	}
	return nil
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// copyServers converts parsed server configs to registry form with per-entry
// copies so registry entries never alias loader state.
func copyServers(servers map[string]MCPServerConfig) map[string]*MCPServerConfig {
	result := make(map[string]*MCPServerConfig, len(servers))
	for id, server := range servers {
		serverCopy := server
		result[id] = &serverCopy
	}
	return result
}

// copyTenants converts parsed tenant configs to registry form.
func copyTenants(tenants map[string]TenantConfig) map[string]*TenantConfig {
	result := make(map[string]*TenantConfig, len(tenants))
	for id, tenant := range tenants {
		tenantCopy := tenant
		result[id] = &tenantCopy
	}
	return result
}

// validate performs comprehensive validation on loaded configuration
func validate(cfg *Config) error {
	validator := NewValidator(cfg)
	return validator.ValidateAll()
}
