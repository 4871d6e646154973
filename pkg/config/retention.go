package config

import "time"

// RetentionConfig controls data retention and cleanup behavior.
type RetentionConfig struct {
	// AuditRetentionDays is how many days to keep tool invocation audit
	// records before deletion.
	AuditRetentionDays int `yaml:"audit_retention_days"`

	// RunRetentionDays is how many days to keep finished pipeline runs and
	// their events.
	RunRetentionDays int `yaml:"run_retention_days"`

	// CleanupInterval is how often the cleanup loop runs.
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// DefaultRetentionConfig returns the built-in retention defaults.
func DefaultRetentionConfig() *RetentionConfig {
	return &RetentionConfig{
		AuditRetentionDays: 90,
		RunRetentionDays:   30,
		CleanupInterval:    12 * time.Hour,
	}
}
