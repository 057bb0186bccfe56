package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/chirino/recall-service/internal/config"
	registrycache "github.com/chirino/recall-service/internal/registry/cache"
	"github.com/chirino/recall-service/internal/security"
	goredis "github.com/redis/go-redis/v9"
)

const defaultTTL = time.Minute

func init() {
	registrycache.Register(registrycache.Plugin{
		Name:   "redis",
		Loader: load,
	})
}

func load(ctx context.Context) (registrycache.SessionCache, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil || cfg.RedisURL == "" {
		return nil, fmt.Errorf("redis cache: RECALL_REDIS_URL is required")
	}
	ttl := cfg.SessionCacheTTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return LoadFromURLWithTTL(ctx, cfg.RedisURL, ttl)
}

// LoadFromURLWithTTL creates a SessionCache with an explicit summary TTL.
func LoadFromURLWithTTL(ctx context.Context, redisURL string, ttl time.Duration) (registrycache.SessionCache, error) {
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("redis cache: invalid URL: %w", err)
	}
	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis cache: ping failed: %w", err)
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &redisSessionCache{client: client, ttl: ttl}, nil
}

type redisSessionCache struct {
	client *goredis.Client
	ttl    time.Duration
}

func summaryKey(sessionID string) string {
	return "session-summary:" + sessionID
}

func (c *redisSessionCache) Available() bool {
	return true
}

func (c *redisSessionCache) Get(ctx context.Context, sessionID string) (*registrycache.SessionSummary, error) {
	data, err := c.client.Get(ctx, summaryKey(sessionID)).Bytes()
	if err == goredis.Nil {
		if security.CacheMissesTotal != nil {
			security.CacheMissesTotal.Inc()
		}
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var cached registrycache.SessionSummary
	if err := json.Unmarshal(data, &cached); err != nil {
		return nil, err
	}
	if security.CacheHitsTotal != nil {
		security.CacheHitsTotal.Inc()
	}
	return &cached, nil
}

func (c *redisSessionCache) Set(ctx context.Context, sessionID string, summary registrycache.SessionSummary, ttl time.Duration) error {
	data, err := json.Marshal(summary)
	if err != nil {
		return err
	}
	if ttl <= 0 {
		ttl = c.ttl
	}
	return c.client.Set(ctx, summaryKey(sessionID), data, ttl).Err()
}

func (c *redisSessionCache) Remove(ctx context.Context, sessionID string) error {
	return c.client.Del(ctx, summaryKey(sessionID)).Err()
}

var _ registrycache.SessionCache = (*redisSessionCache)(nil)
