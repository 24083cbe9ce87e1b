package service

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/metweather/internal/cache"
	"github.com/kjstillabower/metweather/internal/models"
	"github.com/kjstillabower/metweather/internal/observability"
)

const (
	keyNamespace           = "metweather|"
	defaultCoalesceTimeout = 30 * time.Second
)

// ComputeFunc produces a fresh result on a cache miss.
type ComputeFunc func(ctx context.Context) (models.WeatherResult, error)

// CacheKey derives the store key for loc. Coordinates are fixed at four
// decimals so equal locations share an entry.
func CacheKey(loc models.Location) string {
	sum := sha1.Sum([]byte(fmt.Sprintf("%s|%.4f|%.4f", loc.Label, loc.Latitude, loc.Longitude)))
	return keyNamespace + hex.EncodeToString(sum[:])
}

// WeatherCache wraps a cache.Store with freshness, stale fallback and
// per-key single-flight recompute.
type WeatherCache struct {
	store     cache.Store
	staleTTL  time.Duration
	coalescer *requestCoalescer
	misses    *missCounter
	logger    *zap.Logger
	now       func() time.Time
}

// NewWeatherCache returns a WeatherCache over store. staleTTL is how long past
// expiry an entry may still be served when recompute fails (0 disables).
func NewWeatherCache(store cache.Store, staleTTL, coalesceTimeout time.Duration, logger *zap.Logger) *WeatherCache {
	if coalesceTimeout <= 0 {
		coalesceTimeout = defaultCoalesceTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WeatherCache{
		store:     store,
		staleTTL:  staleTTL,
		coalescer: newRequestCoalescer(coalesceTimeout),
		misses:    newMissCounter(),
		logger:    logger,
		now:       time.Now,
	}
}

// GetOrCompute returns the fresh cached result for loc, or runs compute once
// for all concurrent callers of the same key and stores its result for
// ttl+staleTTL. A failed compute writes nothing; if a stale entry is still
// held it is returned with Stale set.
func (c *WeatherCache) GetOrCompute(ctx context.Context, loc models.Location, ttl time.Duration, compute ComputeFunc) (models.WeatherResult, error) {
	key := CacheKey(loc)
	logger := c.loggerFor(ctx)

	cached, found := c.lookup(ctx, key, logger)
	if found && c.fresh(cached, ttl) {
		observability.CacheLookupsTotal.WithLabelValues("hit").Inc()
		logger.Debug("cache hit", zap.String("location", loc.Label))
		return cached, nil
	}
	observability.CacheLookupsTotal.WithLabelValues("miss").Inc()

	concurrent, leave := c.misses.enter(key)
	defer leave()
	if concurrent > 1 {
		observability.CacheStampedeDetectedTotal.Inc()
		observability.CacheStampedeConcurrency.Observe(float64(concurrent))
	}

	logger.Debug("cache miss, recomputing", zap.String("location", loc.Label))

	waitStart := time.Now()
	result, shared, err := c.coalescer.GetOrDo(ctx, key, func(flightCtx context.Context) (models.WeatherResult, error) {
		// A flight that finished just before this one started has already stored a fresh value.
		if latest, ok := c.lookup(flightCtx, key, logger); ok && c.fresh(latest, ttl) {
			return latest, nil
		}
		fresh, err := compute(flightCtx)
		if err != nil {
			return models.WeatherResult{}, err
		}
		c.put(flightCtx, key, fresh, ttl, logger)
		return fresh, nil
	})
	if shared {
		observability.RequestCoalescingHitsTotal.Inc()
		observability.RequestCoalescingWaitSeconds.Observe(time.Since(waitStart).Seconds())
	}
	if err == nil {
		return result, nil
	}

	observability.ComputeErrorsTotal.WithLabelValues(CategorizeError(err)).Inc()
	if found && c.staleTTL > 0 && c.usable(cached, ttl) {
		age := c.now().Sub(cached.FetchedAt)
		observability.StaleCacheServesTotal.Inc()
		observability.StaleCacheAgeSeconds.Observe(age.Seconds())
		logger.Info("serving stale cache",
			zap.String("location", loc.Label),
			zap.Duration("age", age),
			zap.Error(err),
		)
		cached.Stale = true
		return cached, nil
	}
	return models.WeatherResult{}, err
}

func (c *WeatherCache) fresh(r models.WeatherResult, ttl time.Duration) bool {
	return c.now().Sub(r.FetchedAt) <= ttl
}

func (c *WeatherCache) usable(r models.WeatherResult, ttl time.Duration) bool {
	return c.now().Sub(r.FetchedAt) <= ttl+c.staleTTL
}

// lookup reads key from the store. Store errors count as a miss.
func (c *WeatherCache) lookup(ctx context.Context, key string, logger *zap.Logger) (models.WeatherResult, bool) {
	start := time.Now()
	v, ok, err := c.store.Get(ctx, key)
	elapsed := time.Since(start).Seconds()
	if err != nil {
		observability.CacheErrorsTotal.WithLabelValues("get", categorizeCacheError(err)).Inc()
		observability.CacheOperationDurationSeconds.WithLabelValues("get", "error").Observe(elapsed)
		logger.Warn("cache get failed", zap.String("key", key), zap.Error(err))
		return models.WeatherResult{}, false
	}
	observability.CacheOperationDurationSeconds.WithLabelValues("get", "success").Observe(elapsed)
	v.Stale = false
	return v, ok
}

// put writes one fresh result. Failures are logged and counted only.
func (c *WeatherCache) put(ctx context.Context, key string, v models.WeatherResult, ttl time.Duration, logger *zap.Logger) {
	start := time.Now()
	err := c.store.Set(ctx, key, v, ttl+c.staleTTL)
	elapsed := time.Since(start).Seconds()
	if err != nil {
		observability.CacheErrorsTotal.WithLabelValues("set", categorizeCacheError(err)).Inc()
		observability.CacheOperationDurationSeconds.WithLabelValues("set", "error").Observe(elapsed)
		logger.Warn("cache set failed", zap.String("key", key), zap.Error(err))
		return
	}
	observability.CacheOperationDurationSeconds.WithLabelValues("set", "success").Observe(elapsed)
}

func (c *WeatherCache) loggerFor(ctx context.Context) *zap.Logger {
	if l := observability.LoggerFromContext(ctx); l != nil {
		return l
	}
	return c.logger
}
