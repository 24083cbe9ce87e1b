package cache

import (
	"context"
	"sync"
	"time"

	"github.com/kjstillabower/metweather/internal/models"
)

// Store defines the contract for weather result caching implementations.
// Get returns cached data if present and not expired, Set stores data with TTL.
// Implementations must be safe for concurrent use.
type Store interface {
	Get(ctx context.Context, key string) (models.WeatherResult, bool, error)
	Set(ctx context.Context, key string, value models.WeatherResult, ttl time.Duration) error
}

// Pinger is implemented by remote stores that can report reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// InMemoryCache implements Store using a map guarded by a RWMutex.
// Expired entries are removed on access.
type InMemoryCache struct {
	mu   sync.RWMutex
	data map[string]cacheEntry
	now  func() time.Time
}

type cacheEntry struct {
	value     models.WeatherResult
	expiresAt time.Time
}

// NewInMemoryCache creates a new in-memory cache instance.
func NewInMemoryCache() *InMemoryCache {
	return &InMemoryCache{
		data: make(map[string]cacheEntry),
		now:  time.Now,
	}
}

// Get retrieves the result for key if present and not expired.
// Returns (data, true, nil) on hit, (zero, false, nil) on miss or expiration.
func (c *InMemoryCache) Get(ctx context.Context, key string) (models.WeatherResult, bool, error) {
	if err := ctx.Err(); err != nil {
		return models.WeatherResult{}, false, err
	}
	c.mu.RLock()
	entry, ok := c.data[key]
	c.mu.RUnlock()
	if !ok {
		return models.WeatherResult{}, false, nil
	}

	if c.now().After(entry.expiresAt) {
		c.mu.Lock()
		// Another writer may have refreshed the entry since the read.
		if cur, still := c.data[key]; still && !c.now().Before(cur.expiresAt) {
			delete(c.data, key)
		}
		c.mu.Unlock()
		return models.WeatherResult{}, false, nil
	}

	return entry.value, true, nil
}

// Set stores value under key for ttl.
func (c *InMemoryCache) Set(ctx context.Context, key string, value models.WeatherResult, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	c.data[key] = cacheEntry{
		value:     value,
		expiresAt: c.now().Add(ttl),
	}
	c.mu.Unlock()
	return nil
}

// Len returns the number of entries currently held, expired or not.
func (c *InMemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}
