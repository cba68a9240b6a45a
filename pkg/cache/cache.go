// Package cache is the Redis-backed Result cache the state store uses to
// persist job/page Result blobs (see internal/platform/statestore/redis.go),
// separately from job status records so result payloads can carry their own
// TTL and be queried/monitored independently of the job lifecycle.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// CacheConfig holds cache configuration
type CacheConfig struct {
	RedisURL      string        `json:"redis_url" validate:"required"`
	DefaultTTL    time.Duration `json:"default_ttl" validate:"min=1s"`
	MaxRetries    int           `json:"max_retries" validate:"min=1,max=10"`
	RetryDelay    time.Duration `json:"retry_delay" validate:"min=100ms"`
	PoolSize      int           `json:"pool_size" validate:"min=1,max=100"`
	EnableMetrics bool          `json:"enable_metrics"`
	Namespace     string        `json:"namespace"`
}

// DefaultCacheConfig returns default cache configuration
func DefaultCacheConfig() *CacheConfig {
	return &CacheConfig{
		RedisURL:      "redis://localhost:6379",
		DefaultTTL:    1 * time.Hour,
		MaxRetries:    3,
		RetryDelay:    100 * time.Millisecond,
		PoolSize:      10,
		EnableMetrics: true,
		Namespace:     "docmark",
	}
}

// CacheEntry wraps a stored value with the metadata needed to honor its TTL
// pattern on read.
type CacheEntry struct {
	Value     interface{} `json:"value"`
	TTL       int64       `json:"ttl"`
	CreatedAt time.Time   `json:"created_at"`
}

// CacheStats tracks cache performance metrics, surfaced through the health
// endpoint's Cache section.
type CacheStats struct {
	Hits           int64         `json:"hits"`
	Misses         int64         `json:"misses"`
	Sets           int64         `json:"sets"`
	Deletes        int64         `json:"deletes"`
	AverageLatency time.Duration `json:"average_latency"`
	HitRatio       float64       `json:"hit_ratio"`
	LastUpdated    time.Time     `json:"last_updated"`
	mu             sync.RWMutex
}

// CacheMetrics interface for metrics recording
type CacheMetrics interface {
	RecordCacheOperation(operation, result string, latency time.Duration, size int64)
}

// Cache provides Redis-based caching for Result blobs, with per-key-pattern
// TTLs (main-job results outlive page results, since clients may poll the
// main job well after its pages have finished).
type Cache struct {
	client   *redis.Client
	config   *CacheConfig
	stats    *CacheStats
	metrics  CacheMetrics
	logger   zerolog.Logger
	mu       sync.RWMutex
	patterns map[string]time.Duration
}

// NewCache creates a new cache instance
func NewCache(config *CacheConfig, logger zerolog.Logger, metrics CacheMetrics) (*Cache, error) {
	if config == nil {
		config = DefaultCacheConfig()
	}

	opt, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	opt.PoolSize = config.PoolSize
	opt.MaxRetries = config.MaxRetries
	opt.MinRetryBackoff = config.RetryDelay

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	cache := &Cache{
		client:   client,
		config:   config,
		stats:    &CacheStats{LastUpdated: time.Now()},
		metrics:  metrics,
		logger:   logger.With().Str("component", "cache").Logger(),
		patterns: make(map[string]time.Duration),
	}

	// job:*:result lives under the longest TTL since clients may poll for
	// a completed main job well after it finished; page:*:result expires
	// sooner since pages are an implementation detail of a split job.
	cache.SetTTLPattern("job:*:result", 2*time.Hour)
	cache.SetTTLPattern("page:*:result", 30*time.Minute)

	cache.logger.Info().
		Str("redis_url", config.RedisURL).
		Dur("default_ttl", config.DefaultTTL).
		Int("pool_size", config.PoolSize).
		Msg("result cache initialized")

	return cache, nil
}

// SetTTLPattern sets TTL for keys matching a pattern
func (c *Cache) SetTTLPattern(pattern string, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.patterns[pattern] = ttl
}

// getTTLForKey returns TTL for a specific key based on patterns
func (c *Cache) getTTLForKey(key string) time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for pattern, ttl := range c.patterns {
		if matchPattern(pattern, key) {
			return ttl
		}
	}
	return c.config.DefaultTTL
}

// matchPattern performs simple wildcard pattern matching
func matchPattern(pattern, key string) bool {
	parts := strings.Split(pattern, "*")
	if len(parts) == 1 {
		return pattern == key
	}
	if !strings.HasPrefix(key, parts[0]) {
		return false
	}
	rest := key[len(parts[0]):]
	for _, part := range parts[1 : len(parts)-1] {
		idx := strings.Index(rest, part)
		if idx < 0 {
			return false
		}
		rest = rest[idx+len(part):]
	}
	return strings.HasSuffix(rest, parts[len(parts)-1])
}

// buildKey creates a namespaced key
func (c *Cache) buildKey(key string) string {
	if c.config.Namespace == "" {
		return key
	}
	return fmt.Sprintf("%s:%s", c.config.Namespace, key)
}

// Set stores a value in cache with optional TTL
func (c *Cache) Set(ctx context.Context, key string, value interface{}, ttl ...time.Duration) error {
	start := time.Now()
	defer func() {
		latency := time.Since(start)
		c.updateStats(func(s *CacheStats) {
			s.Sets++
			s.AverageLatency = (s.AverageLatency + latency) / 2
			s.LastUpdated = time.Now()
		})

		if c.metrics != nil {
			size := estimateSize(value)
			c.metrics.RecordCacheOperation("set", "success", latency, size)
		}
	}()

	finalKey := c.buildKey(key)

	var finalTTL time.Duration
	if len(ttl) > 0 && ttl[0] > 0 {
		finalTTL = ttl[0]
	} else {
		finalTTL = c.getTTLForKey(key)
	}

	entry := CacheEntry{
		Value:     value,
		TTL:       int64(finalTTL.Seconds()),
		CreatedAt: time.Now(),
	}

	data, err := json.Marshal(entry)
	if err != nil {
		c.logger.Error().Err(err).Str("key", key).Msg("failed to marshal cache entry")
		return fmt.Errorf("marshal error: %w", err)
	}

	if err := c.client.Set(ctx, finalKey, data, finalTTL).Err(); err != nil {
		c.logger.Error().Err(err).Str("key", key).Msg("failed to set cache value")
		return fmt.Errorf("redis set error: %w", err)
	}

	c.logger.Debug().
		Str("key", key).
		Dur("ttl", finalTTL).
		Int("size", len(data)).
		Msg("cache value set")

	return nil
}

// Get retrieves a value from cache
func (c *Cache) Get(ctx context.Context, key string) (interface{}, error) {
	start := time.Now()
	var hit bool

	defer func() {
		latency := time.Since(start)
		c.updateStats(func(s *CacheStats) {
			if hit {
				s.Hits++
			} else {
				s.Misses++
			}
			s.AverageLatency = (s.AverageLatency + latency) / 2
			s.LastUpdated = time.Now()
		})

		if c.metrics != nil {
			result := "miss"
			if hit {
				result = "hit"
			}
			c.metrics.RecordCacheOperation("get", result, latency, 0)
		}
	}()

	finalKey := c.buildKey(key)

	data, err := c.client.Get(ctx, finalKey).Result()
	if err != nil {
		if err == redis.Nil {
			c.logger.Debug().Str("key", key).Msg("cache miss")
			return nil, ErrCacheMiss
		}
		c.logger.Error().Err(err).Str("key", key).Msg("failed to get cache value")
		return nil, fmt.Errorf("redis get error: %w", err)
	}

	var entry CacheEntry
	if err := json.Unmarshal([]byte(data), &entry); err != nil {
		c.logger.Error().Err(err).Str("key", key).Msg("failed to unmarshal cache entry")
		return nil, fmt.Errorf("unmarshal error: %w", err)
	}

	hit = true
	c.logger.Debug().Str("key", key).Msg("cache hit")

	return entry.Value, nil
}

// Delete removes a value from cache
func (c *Cache) Delete(ctx context.Context, key string) error {
	start := time.Now()
	defer func() {
		latency := time.Since(start)
		c.updateStats(func(s *CacheStats) {
			s.Deletes++
			s.AverageLatency = (s.AverageLatency + latency) / 2
			s.LastUpdated = time.Now()
		})

		if c.metrics != nil {
			c.metrics.RecordCacheOperation("delete", "success", latency, 0)
		}
	}()

	finalKey := c.buildKey(key)

	if _, err := c.client.Del(ctx, finalKey).Result(); err != nil {
		c.logger.Error().Err(err).Str("key", key).Msg("failed to delete cache value")
		return fmt.Errorf("redis del error: %w", err)
	}

	c.logger.Debug().Str("key", key).Msg("cache value deleted")
	return nil
}

// Exists reports whether a result is cached for key, without paying the
// deserialization cost of Get. The health checker uses this as its cache
// connectivity probe.
func (c *Cache) Exists(ctx context.Context, key string) (bool, error) {
	finalKey := c.buildKey(key)

	count, err := c.client.Exists(ctx, finalKey).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists error: %w", err)
	}

	return count > 0, nil
}

// updateStats safely updates cache statistics
func (c *Cache) updateStats(fn func(*CacheStats)) {
	c.stats.mu.Lock()
	defer c.stats.mu.Unlock()
	fn(c.stats)

	total := c.stats.Hits + c.stats.Misses
	if total > 0 {
		c.stats.HitRatio = float64(c.stats.Hits) / float64(total)
	}
}

// Stats returns current cache statistics, consumed by the health checker's
// Cache section and the /metrics endpoint.
func (c *Cache) Stats() CacheStats {
	c.stats.mu.RLock()
	defer c.stats.mu.RUnlock()

	return CacheStats{
		Hits:           c.stats.Hits,
		Misses:         c.stats.Misses,
		Sets:           c.stats.Sets,
		Deletes:        c.stats.Deletes,
		AverageLatency: c.stats.AverageLatency,
		HitRatio:       c.stats.HitRatio,
		LastUpdated:    c.stats.LastUpdated,
	}
}

// Close closes the cache connection
func (c *Cache) Close() error {
	c.logger.Info().Msg("closing result cache connection")
	return c.client.Close()
}

var ErrCacheMiss = fmt.Errorf("cache miss")

// estimateSize estimates the size of a value in bytes, for metrics only.
func estimateSize(value interface{}) int64 {
	if data, err := json.Marshal(value); err == nil {
		return int64(len(data))
	}
	return 0
}
