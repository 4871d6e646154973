// Package cache provides RerankCache backends: an in-process expirable LRU
// and a Redis-backed cache for multi-replica deployments.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"

	"github.com/corralproject/corral/pkg/models"
)

// DefaultTTL is the rerank cache entry lifetime.
const DefaultTTL = 3600 * time.Second

// DefaultSize bounds the in-process LRU entry count.
const DefaultSize = 2048

// LRU is the in-process backend.
type LRU struct {
	inner *expirable.LRU[string, []models.Candidate]
}

func NewLRU(size int, ttl time.Duration) *LRU {
	if size <= 0 {
		size = DefaultSize
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &LRU{inner: expirable.NewLRU[string, []models.Candidate](size, nil, ttl)}
}

func (c *LRU) Get(_ context.Context, key string) ([]models.Candidate, bool) {
	return c.inner.Get(key)
}

func (c *LRU) Set(_ context.Context, key string, value []models.Candidate) {
	c.inner.Add(key, value)
}

// Redis is the shared backend. Values are JSON; misses and marshal failures
// degrade to cache misses rather than query failures.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

func NewRedis(client *redis.Client, ttl time.Duration, logger *slog.Logger) *Redis {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Redis{client: client, ttl: ttl, logger: logger}
}

func (c *Redis) Get(ctx context.Context, key string) ([]models.Candidate, bool) {
	raw, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("rerank cache get failed", "key", key, "error", err)
		}
		return nil, false
	}
	var out []models.Candidate
	if err := json.Unmarshal(raw, &out); err != nil {
		c.logger.Warn("rerank cache entry corrupt", "key", key, "error", err)
		return nil, false
	}
	return out, true
}

func (c *Redis) Set(ctx context.Context, key string, value []models.Candidate) {
	raw, err := json.Marshal(value)
	if err != nil {
		c.logger.Warn("rerank cache marshal failed", "key", key, "error", err)
		return
	}
	if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		c.logger.Warn("rerank cache set failed", "key", key, "error", err)
	}
}
