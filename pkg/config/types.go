package config

import "github.com/corralproject/corral/pkg/scrub"

// TransportConfig defines how to reach one tool adapter server.
type TransportConfig struct {
	Type TransportType `yaml:"type"`

	// For stdio transport
	Command string            `yaml:"command,omitempty"`
	Args    []string          `yaml:"args,omitempty"`
	Env     map[string]string `yaml:"env,omitempty"` // Environment overrides for the subprocess

	// For http transport
	BaseURL     string            `yaml:"base_url,omitempty"`
	AuthHeaders map[string]string `yaml:"auth_headers,omitempty"`
	Timeout     int               `yaml:"timeout,omitempty"` // Per-call deadline in seconds; 0 = default
}

// MCPServerConfig defines one tool adapter server.
type MCPServerConfig struct {
	// Transport configuration (required)
	Transport TransportConfig `yaml:"transport"`

	// Description surfaces in discovery output and logs.
	Description string `yaml:"description,omitempty"`
}

// UserConfig narrows a tenant's tool allow-list for a single user.
type UserConfig struct {
	AllowedTools []string `yaml:"allowed_tools"`
}

// TenantConfig is the permission policy for one tenant. AllowedTools entries
// are qualified tool IDs ("server.tool") or a bare server ID meaning every
// tool on that server. Users narrows further; a user absent from Users gets
// the tenant-level list.
type TenantConfig struct {
	AllowedTools []string              `yaml:"allowed_tools"`
	Users        map[string]UserConfig `yaml:"users,omitempty"`
}

// ScrubSection groups PII scrubbing settings: the built-in pattern selection
// plus user-supplied custom patterns.
type ScrubSection struct {
	scrub.Config   `yaml:",inline"`
	CustomPatterns []scrub.Pattern `yaml:"custom_patterns,omitempty"`
}

// DefaultScrubSection returns the built-in scrub defaults (enabled, full
// built-in pattern set, no custom patterns).
func DefaultScrubSection() *ScrubSection {
	return &ScrubSection{
		Config: scrub.Config{Enabled: true},
	}
}
