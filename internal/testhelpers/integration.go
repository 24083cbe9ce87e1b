//go:build integration
// +build integration

package testhelpers

import (
	"context"
	"os"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/metweather/internal/cache"
	"github.com/kjstillabower/metweather/internal/client"
	"github.com/kjstillabower/metweather/internal/models"
	"github.com/kjstillabower/metweather/internal/service"
)

// PortAngeles is the live-feed test point.
var PortAngeles = models.Location{Label: "Port Angeles", Latitude: 48.122487, Longitude: -123.433434}

// IntegrationTestConfig holds configuration for integration tests.
type IntegrationTestConfig struct {
	BaseURL       string
	CacheBackend  string // in_memory, memcached or redis
	MemcachedAddr string
	RedisURL      string
}

// GetIntegrationConfig loads integration test configuration from environment.
// Skips the test unless NDFD_INTEGRATION is set.
func GetIntegrationConfig(t *testing.T) IntegrationTestConfig {
	t.Helper()
	if os.Getenv("NDFD_INTEGRATION") == "" {
		t.Skip("NDFD_INTEGRATION not set, skipping integration test")
	}
	cfg := IntegrationTestConfig{
		BaseURL:       os.Getenv("FEED_BASE_URL"),
		CacheBackend:  os.Getenv("INTEGRATION_CACHE_BACKEND"),
		MemcachedAddr: os.Getenv("MEMCACHED_ADDRS"),
		RedisURL:      os.Getenv("REDIS_URL"),
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = client.DefaultBaseURL
	}
	if cfg.MemcachedAddr == "" {
		cfg.MemcachedAddr = "localhost:11211"
	}
	if cfg.RedisURL == "" {
		cfg.RedisURL = "redis://localhost:6379/0"
	}
	return cfg
}

// SetupIntegrationStore returns the configured store, falling back to the
// in-memory store when the backend is unreachable, plus its cleanup.
func SetupIntegrationStore(t *testing.T, cfg IntegrationTestConfig) (cache.Store, func()) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	switch cfg.CacheBackend {
	case "memcached":
		mc := cache.NewMemcachedCache(cfg.MemcachedAddr, 500*time.Millisecond, 2)
		err := mc.Ping(ctx)
		if err == nil {
			t.Logf("Using Memcached cache at %s", cfg.MemcachedAddr)
			return mc, func() { _ = mc.Close() }
		}
		t.Logf("Memcached not available (%v), using in-memory cache", err)
	case "redis":
		rc, err := cache.NewRedisCache(cfg.RedisURL)
		if err == nil {
			if err = rc.Ping(ctx); err == nil {
				t.Logf("Using Redis cache at %s", cfg.RedisURL)
				return rc, func() { _ = rc.Close() }
			}
			_ = rc.Close()
		}
		t.Logf("Redis not available (%v), using in-memory cache", err)
	}
	return cache.NewInMemoryCache(), func() {}
}

// SetupIntegrationClient creates an NDFD client against the live feed.
func SetupIntegrationClient(t *testing.T, cfg IntegrationTestConfig) *client.NDFDClient {
	t.Helper()
	c, err := client.NewNDFDClient(cfg.BaseURL, "metweather-integration", 15*time.Second, false)
	if err != nil {
		t.Fatalf("NewNDFDClient() error = %v", err)
	}
	return c
}

// SetupIntegrationService wires a WeatherService to the live feed and the
// configured store. Returns the service, its store and a cleanup function.
func SetupIntegrationService(t *testing.T, cfg IntegrationTestConfig) (*service.WeatherService, cache.Store, func()) {
	t.Helper()
	store, cleanup := SetupIntegrationStore(t, cfg)
	svc := service.NewWeatherService(SetupIntegrationClient(t, cfg), store, service.Config{
		BaseURL:  cfg.BaseURL,
		TTL:      5 * time.Minute,
		Default:  PortAngeles,
		Timezone: time.Local,
	}, zap.NewNop())
	return svc, store, cleanup
}
