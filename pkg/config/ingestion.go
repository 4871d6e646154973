package config

import "time"

// IngestionConfig controls pull/stream sync behavior and retry policy.
type IngestionConfig struct {
	// MaxRetries is the number of retry attempts after the initial failure.
	MaxRetries int `yaml:"max_retries"`

	// RetryDelay is the base backoff before the first retry.
	RetryDelay time.Duration `yaml:"retry_delay"`

	// RetryBackoff multiplies the delay after each attempt.
	RetryBackoff float64 `yaml:"retry_backoff"`

	// RetryJitter is the multiplicative jitter applied to each delay,
	// expressed as a fraction (0.1 = ±10%).
	RetryJitter float64 `yaml:"retry_jitter"`

	// MaxConcurrent bounds parallel fetches in batch web/file ingestion.
	MaxConcurrent int `yaml:"max_concurrent"`

	// Workers is the size of the queue consumer pool.
	Workers int `yaml:"workers"`

	// CheckpointEvery is how many streamed events pass between checkpoint
	// flushes. The checkpoint also flushes on stream exit.
	CheckpointEvery int `yaml:"checkpoint_every"`
}

// DefaultIngestionConfig returns the built-in ingestion defaults.
func DefaultIngestionConfig() *IngestionConfig {
	return &IngestionConfig{
		MaxRetries:      3,
		RetryDelay:      1 * time.Second,
		RetryBackoff:    2.0,
		RetryJitter:     0.1,
		MaxConcurrent:   5,
		Workers:         4,
		CheckpointEvery: 10,
	}
}
