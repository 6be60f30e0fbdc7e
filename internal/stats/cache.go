// Package stats caches the per-subject dashboard aggregate in Redis. The
// aggregate is cheap to recompute, so every cache path degrades to a miss:
// marshal errors, connection errors and an absent client all just mean the
// service recomputes.
package stats

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"corecompliance/internal/assessment/service"
	platformredis "corecompliance/internal/platform/redis"
)

const keyPrefix = "compliance:stats:"

// Cache is a Redis-backed service.StatsCache.
type Cache struct {
	client *platformredis.Client
	ttl    time.Duration
	logger *slog.Logger
}

func NewCache(client *platformredis.Client, ttl time.Duration, logger *slog.Logger) *Cache {
	return &Cache{client: client, ttl: ttl, logger: logger}
}

func (c *Cache) Get(ctx context.Context, subject string) (service.Stats, bool) {
	raw, err := c.client.Get(ctx, keyPrefix+subject).Bytes()
	if err != nil {
		return service.Stats{}, false
	}
	var stats service.Stats
	if err := json.Unmarshal(raw, &stats); err != nil {
		c.logger.Warn("discarding malformed cached stats", "subject", subject)
		return service.Stats{}, false
	}
	return stats, true
}

func (c *Cache) Set(ctx context.Context, subject string, stats service.Stats) {
	raw, err := json.Marshal(stats)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, keyPrefix+subject, raw, c.ttl).Err(); err != nil {
		c.logger.Warn("failed to cache stats", "subject", subject, "error", err.Error())
	}
}

func (c *Cache) Invalidate(ctx context.Context, subject string) {
	if err := c.client.Del(ctx, keyPrefix+subject).Err(); err != nil {
		c.logger.Warn("failed to invalidate cached stats", "subject", subject, "error", err.Error())
	}
}

// Nop satisfies service.StatsCache when Redis is not configured.
type Nop struct{}

func (Nop) Get(context.Context, string) (service.Stats, bool) { return service.Stats{}, false }
func (Nop) Set(context.Context, string, service.Stats)        {}
func (Nop) Invalidate(context.Context, string)                {}
