package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/bdgd-pro/vinculo/pkg/redis"
)

const (
	cacheKeyPrefix = "geocode:addr:"

	counterHits     = "geocode:count:hits"
	counterCalls    = "geocode:count:provider_calls"
	counterFailures = "geocode:count:failures"
)

// CacheConfig holds geocode cache configuration
type CacheConfig struct {
	TTL       time.Duration
	Precision int // decimal places used for the coordinate cache key
}

// DefaultCacheConfig returns the default cache configuration
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		TTL:       30 * 24 * time.Hour,
		Precision: 4,
	}
}

// Cache stores resolved addresses keyed by rounded coordinates, so nearby
// refinements of the same block reuse one provider call.
type Cache struct {
	client *redis.Client
	logger ectologger.Logger
	config CacheConfig
}

// NewCache creates a new geocode cache
func NewCache(client *redis.Client, logger ectologger.Logger, config CacheConfig) *Cache {
	return &Cache{
		client: client,
		logger: logger,
		config: config,
	}
}

// Key builds the cache key for a coordinate pair.
func (c *Cache) Key(lat, lon float64) string {
	p := c.config.Precision
	return fmt.Sprintf("%s%.*f,%.*f", cacheKeyPrefix, p, lat, p, lon)
}

// Get returns the cached address for the coordinates, or nil on a miss.
func (c *Cache) Get(ctx context.Context, lat, lon float64) (*Address, error) {
	raw, err := c.client.Get(ctx, c.Key(lat, lon))
	if err != nil {
		if redis.IsNil(err) {
			return nil, nil
		}
		return nil, err
	}

	var addr Address
	if err := json.Unmarshal([]byte(raw), &addr); err != nil {
		// stale or corrupt entry, treat as a miss
		c.logger.WithContext(ctx).WithError(err).Warn("Dropping unreadable geocode cache entry")
		_ = c.client.Del(ctx, c.Key(lat, lon))
		return nil, nil
	}

	return &addr, nil
}

// Put stores an address under the rounded coordinates.
func (c *Cache) Put(ctx context.Context, lat, lon float64, addr *Address) error {
	data, err := json.Marshal(addr)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.Key(lat, lon), data, c.config.TTL)
}

// Stats are the running geocoding counters.
type Stats struct {
	CacheHits     int64 `json:"cache_hits"`
	ProviderCalls int64 `json:"provider_calls"`
	Failures      int64 `json:"failures"`
}

func (c *Cache) recordHit(ctx context.Context) {
	if _, err := c.client.Incr(ctx, counterHits); err != nil {
		c.logger.WithContext(ctx).WithError(err).Debug("Failed to record geocode cache hit")
	}
}

func (c *Cache) recordCall(ctx context.Context) {
	if _, err := c.client.Incr(ctx, counterCalls); err != nil {
		c.logger.WithContext(ctx).WithError(err).Debug("Failed to record geocode provider call")
	}
}

func (c *Cache) recordFailure(ctx context.Context) {
	if _, err := c.client.Incr(ctx, counterFailures); err != nil {
		c.logger.WithContext(ctx).WithError(err).Debug("Failed to record geocode failure")
	}
}

// ReadStats returns the running counters.
func (c *Cache) ReadStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}
	for key, dest := range map[string]*int64{
		counterHits:     &stats.CacheHits,
		counterCalls:    &stats.ProviderCalls,
		counterFailures: &stats.Failures,
	} {
		raw, err := c.client.Get(ctx, key)
		if err != nil {
			if redis.IsNil(err) {
				continue
			}
			return nil, err
		}
		var v int64
		if _, err := fmt.Sscanf(raw, "%d", &v); err == nil {
			*dest = v
		}
	}
	return stats, nil
}
