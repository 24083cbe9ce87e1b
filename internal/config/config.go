package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/kjstillabower/metweather/internal/client"
	"github.com/kjstillabower/metweather/internal/models"
	"github.com/kjstillabower/metweather/internal/validation"
)

// Cache backends.
const (
	BackendInMemory  = "in_memory"
	BackendMemcached = "memcached"
	BackendRedis     = "redis"
)

// DefaultLocation is used when a request carries no coordinates.
var DefaultLocation = models.Location{Label: "Port Angeles", Latitude: 48.122487, Longitude: -123.433434}

// Config holds service configuration loaded from YAML or TOML and env.
type Config struct {
	ServerPort string

	FeedBaseURL            string
	FeedTimeout            time.Duration
	FeedInsecureSkipVerify bool
	FeedUserAgent          string

	RequestTimeout time.Duration

	CacheBackend  string // in_memory, memcached or redis
	CacheTTL      time.Duration
	StaleCacheTTL time.Duration

	MemcachedAddrs        string
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int
	RedisURL              string

	CoalesceTimeout time.Duration

	RateLimitRPS   int
	RateLimitBurst int

	CircuitBreakerEnabled          bool
	CircuitBreakerFailureThreshold int
	CircuitBreakerTimeout          time.Duration
	CircuitBreakerSuccessThreshold int

	Location models.Location
	Timezone *time.Location

	WarmEnabled       bool
	WarmInterval      time.Duration
	WarmRetryAttempts int
	WarmRetryDelay    time.Duration
	WarmLocations     []models.Location

	OverloadWindow       time.Duration
	OverloadThresholdPct int
	DegradedWindow       time.Duration
	DegradedErrorPct     int

	ShutdownTimeout       time.Duration
	InFlightTimeout       time.Duration
	InFlightCheckInterval time.Duration

	TrackedLocations []string
}

type locationConfig struct {
	Label     string  `yaml:"label" toml:"label"`
	Latitude  float64 `yaml:"latitude" toml:"latitude"`
	Longitude float64 `yaml:"longitude" toml:"longitude"`
}

type fileConfig struct {
	Server struct {
		Port string `yaml:"port" toml:"port"`
	} `yaml:"server" toml:"server"`

	Feed struct {
		BaseURL            string `yaml:"base_url" toml:"base_url"`
		Timeout            string `yaml:"timeout" toml:"timeout"`
		InsecureSkipVerify bool   `yaml:"insecure_skip_verify" toml:"insecure_skip_verify"`
		UserAgent          string `yaml:"user_agent" toml:"user_agent"`
	} `yaml:"feed" toml:"feed"`

	Request struct {
		Timeout string `yaml:"timeout" toml:"timeout"`
	} `yaml:"request" toml:"request"`

	Cache struct {
		Backend   string `yaml:"backend" toml:"backend"`
		TTL       string `yaml:"ttl" toml:"ttl"`
		StaleTTL  string `yaml:"stale_ttl" toml:"stale_ttl"`
		Memcached struct {
			Addrs        string `yaml:"addrs" toml:"addrs"`
			Timeout      string `yaml:"timeout" toml:"timeout"`
			MaxIdleConns int    `yaml:"max_idle_conns" toml:"max_idle_conns"`
		} `yaml:"memcached" toml:"memcached"`
		Redis struct {
			URL string `yaml:"url" toml:"url"`
		} `yaml:"redis" toml:"redis"`
	} `yaml:"cache" toml:"cache"`

	Coalesce struct {
		Timeout string `yaml:"timeout" toml:"timeout"`
	} `yaml:"coalesce" toml:"coalesce"`

	Reliability struct {
		RateLimitRPS   int `yaml:"rate_limit_rps" toml:"rate_limit_rps"`
		RateLimitBurst int `yaml:"rate_limit_burst" toml:"rate_limit_burst"`
	} `yaml:"reliability" toml:"reliability"`

	CircuitBreaker struct {
		Enabled          *bool  `yaml:"enabled" toml:"enabled"`
		FailureThreshold int    `yaml:"failure_threshold" toml:"failure_threshold"`
		Timeout          string `yaml:"timeout" toml:"timeout"`
		HalfOpenMax      int    `yaml:"half_open_max" toml:"half_open_max"`
	} `yaml:"circuit_breaker" toml:"circuit_breaker"`

	Location struct {
		Label     string  `yaml:"label" toml:"label"`
		Latitude  float64 `yaml:"latitude" toml:"latitude"`
		Longitude float64 `yaml:"longitude" toml:"longitude"`
		Timezone  string  `yaml:"timezone" toml:"timezone"`
	} `yaml:"location" toml:"location"`

	Warm struct {
		Enabled       bool             `yaml:"enabled" toml:"enabled"`
		Interval      string           `yaml:"interval" toml:"interval"`
		RetryAttempts int              `yaml:"retry_attempts" toml:"retry_attempts"`
		RetryDelay    string           `yaml:"retry_delay" toml:"retry_delay"`
		Locations     []locationConfig `yaml:"locations" toml:"locations"`
	} `yaml:"warm" toml:"warm"`

	Lifecycle struct {
		OverloadWindow       string `yaml:"overload_window" toml:"overload_window"`
		OverloadThresholdPct int    `yaml:"overload_threshold_pct" toml:"overload_threshold_pct"`
		DegradedWindow       string `yaml:"degraded_window" toml:"degraded_window"`
		DegradedErrorPct     int    `yaml:"degraded_error_pct" toml:"degraded_error_pct"`
	} `yaml:"lifecycle" toml:"lifecycle"`

	Shutdown struct {
		Timeout               string `yaml:"timeout" toml:"timeout"`
		InFlightTimeout       string `yaml:"in_flight_timeout" toml:"in_flight_timeout"`
		InFlightCheckInterval string `yaml:"in_flight_check_interval" toml:"in_flight_check_interval"`
	} `yaml:"shutdown" toml:"shutdown"`

	Metrics struct {
		TrackedLocations []string `yaml:"tracked_locations" toml:"tracked_locations"`
	} `yaml:"metrics" toml:"metrics"`
}

// Load reads configuration from config/{ENV_NAME}.yaml (default dev), falling
// back to config/{ENV_NAME}.toml, in the working directory. A .env file there
// is loaded first. Call from project root.
func Load() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}
	return LoadDir(cwd)
}

// LoadDir is Load rooted at dir instead of the working directory.
func LoadDir(dir string) (*Config, error) {
	// Existing environment wins over .env entries.
	if err := godotenv.Load(filepath.Join(dir, ".env")); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
	}

	fc, err := readFileConfig(dir, env)
	if err != nil {
		return nil, err
	}

	cfg, err := build(fc)
	if err != nil {
		return nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func readFileConfig(dir, env string) (*fileConfig, error) {
	var fc fileConfig
	yamlPath := filepath.Join(dir, "config", env+".yaml")
	data, err := os.ReadFile(yamlPath)
	if err == nil {
		if err := yaml.Unmarshal(data, &fc); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", yamlPath, err)
		}
		return &fc, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	tomlPath := filepath.Join(dir, "config", env+".toml")
	data, err = os.ReadFile(tomlPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s (or %s)", yamlPath, tomlPath)
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if err := toml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", tomlPath, err)
	}
	return &fc, nil
}

func build(fc *fileConfig) (*Config, error) {
	cfg := &Config{}

	cfg.ServerPort = fc.Server.Port
	if cfg.ServerPort == "" {
		cfg.ServerPort = "8080"
	}

	cfg.FeedBaseURL = strings.TrimSpace(os.Getenv("FEED_BASE_URL"))
	if cfg.FeedBaseURL == "" {
		cfg.FeedBaseURL = strings.TrimSpace(fc.Feed.BaseURL)
	}
	if cfg.FeedBaseURL == "" {
		cfg.FeedBaseURL = client.DefaultBaseURL
	}
	cfg.FeedTimeout = parseDurationOrZero(fc.Feed.Timeout, 10*time.Second)
	cfg.FeedInsecureSkipVerify = fc.Feed.InsecureSkipVerify
	cfg.FeedUserAgent = strings.TrimSpace(fc.Feed.UserAgent)
	if cfg.FeedUserAgent == "" {
		cfg.FeedUserAgent = "metweather/1.0"
	}

	cfg.RequestTimeout = parseDuration(fc.Request.Timeout, 15*time.Second)

	cfg.CacheBackend = strings.TrimSpace(strings.ToLower(os.Getenv("CACHE_BACKEND")))
	if cfg.CacheBackend == "" {
		cfg.CacheBackend = strings.TrimSpace(strings.ToLower(fc.Cache.Backend))
	}
	if cfg.CacheBackend == "" {
		cfg.CacheBackend = BackendInMemory
	}
	cfg.CacheTTL = parseDuration(fc.Cache.TTL, time.Hour)
	cfg.StaleCacheTTL = parseDurationOrZero(fc.Cache.StaleTTL, 0)
	if cfg.StaleCacheTTL < 0 {
		cfg.StaleCacheTTL = 0
	}

	cfg.MemcachedAddrs = strings.TrimSpace(os.Getenv("MEMCACHED_ADDRS"))
	if cfg.MemcachedAddrs == "" {
		cfg.MemcachedAddrs = strings.TrimSpace(fc.Cache.Memcached.Addrs)
	}
	if cfg.MemcachedAddrs == "" {
		cfg.MemcachedAddrs = "localhost:11211"
	}
	cfg.MemcachedTimeout = parseDuration(fc.Cache.Memcached.Timeout, 500*time.Millisecond)
	cfg.MemcachedMaxIdleConns = fc.Cache.Memcached.MaxIdleConns
	if cfg.MemcachedMaxIdleConns <= 0 {
		cfg.MemcachedMaxIdleConns = 2
	}
	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	if cfg.RedisURL == "" {
		cfg.RedisURL = strings.TrimSpace(fc.Cache.Redis.URL)
	}
	if cfg.RedisURL == "" {
		cfg.RedisURL = "redis://localhost:6379/0"
	}

	cfg.CoalesceTimeout = parseDuration(fc.Coalesce.Timeout, 30*time.Second)

	cfg.RateLimitRPS = fc.Reliability.RateLimitRPS
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = 50
	}
	cfg.RateLimitBurst = fc.Reliability.RateLimitBurst
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 100
	}

	cfg.CircuitBreakerEnabled = true
	if fc.CircuitBreaker.Enabled != nil {
		cfg.CircuitBreakerEnabled = *fc.CircuitBreaker.Enabled
	}
	cfg.CircuitBreakerFailureThreshold = fc.CircuitBreaker.FailureThreshold
	if cfg.CircuitBreakerFailureThreshold <= 0 {
		cfg.CircuitBreakerFailureThreshold = 5
	}
	cfg.CircuitBreakerTimeout = parseDuration(fc.CircuitBreaker.Timeout, 30*time.Second)
	cfg.CircuitBreakerSuccessThreshold = fc.CircuitBreaker.HalfOpenMax
	if cfg.CircuitBreakerSuccessThreshold <= 0 {
		cfg.CircuitBreakerSuccessThreshold = 2
	}

	cfg.Location = DefaultLocation
	if fc.Location.Label != "" || fc.Location.Latitude != 0 || fc.Location.Longitude != 0 {
		cfg.Location = models.Location{
			Label:     strings.TrimSpace(fc.Location.Label),
			Latitude:  fc.Location.Latitude,
			Longitude: fc.Location.Longitude,
		}
	}
	cfg.Timezone = time.Local
	if tz := strings.TrimSpace(fc.Location.Timezone); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("location.timezone %q: %w", tz, err)
		}
		cfg.Timezone = loc
	}

	cfg.WarmEnabled = fc.Warm.Enabled
	cfg.WarmInterval = parseDuration(fc.Warm.Interval, 15*time.Minute)
	cfg.WarmRetryAttempts = fc.Warm.RetryAttempts
	if cfg.WarmRetryAttempts <= 0 {
		cfg.WarmRetryAttempts = 1
	}
	cfg.WarmRetryDelay = parseDuration(fc.Warm.RetryDelay, time.Second)
	for _, l := range fc.Warm.Locations {
		cfg.WarmLocations = append(cfg.WarmLocations, models.Location(l))
	}
	if cfg.WarmEnabled && len(cfg.WarmLocations) == 0 {
		cfg.WarmLocations = []models.Location{cfg.Location}
	}

	cfg.OverloadWindow = parseDuration(fc.Lifecycle.OverloadWindow, 60*time.Second)
	cfg.OverloadThresholdPct = fc.Lifecycle.OverloadThresholdPct
	if cfg.OverloadThresholdPct <= 0 {
		cfg.OverloadThresholdPct = 80
	}
	cfg.DegradedWindow = parseDuration(fc.Lifecycle.DegradedWindow, 60*time.Second)
	cfg.DegradedErrorPct = fc.Lifecycle.DegradedErrorPct
	if cfg.DegradedErrorPct <= 0 {
		cfg.DegradedErrorPct = 5
	}

	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 30*time.Second)
	cfg.InFlightTimeout = parseDuration(fc.Shutdown.InFlightTimeout, 10*time.Second)
	cfg.InFlightCheckInterval = parseDuration(fc.Shutdown.InFlightCheckInterval, 100*time.Millisecond)

	cfg.TrackedLocations = fc.Metrics.TrackedLocations
	if len(cfg.TrackedLocations) == 0 {
		cfg.TrackedLocations = append(cfg.TrackedLocations, cfg.Location.Label)
		for _, l := range cfg.WarmLocations {
			if l.Label != cfg.Location.Label {
				cfg.TrackedLocations = append(cfg.TrackedLocations, l.Label)
			}
		}
	}

	return cfg, nil
}

// parseDuration parses a duration string and returns defaultVal if parsing fails or result is <= 0.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	d := parseDurationOrZero(s, defaultVal)
	if d <= 0 {
		return defaultVal
	}
	return d
}

// parseDurationOrZero parses a duration string, returning defaultVal on empty string or parse error.
// Returns zero or negative durations as-is (caller should handle fallback).
func parseDurationOrZero(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}

// validate performs post-load validation of configuration values.
// Ensures FeedTimeout is positive and RequestTimeout leaves room for it, the
// cache backend is known, and configured locations are valid.
func validate(cfg *Config) error {
	if cfg.FeedTimeout <= 0 {
		return fmt.Errorf("feed.timeout must be positive")
	}
	if cfg.RequestTimeout <= cfg.FeedTimeout {
		cfg.RequestTimeout = cfg.FeedTimeout + time.Second
	}
	switch cfg.CacheBackend {
	case BackendInMemory, BackendMemcached, BackendRedis:
	default:
		return fmt.Errorf("cache.backend must be in_memory, memcached or redis, got %q", cfg.CacheBackend)
	}
	if err := validation.ValidateLocation(cfg.Location); err != nil {
		return fmt.Errorf("location: %w", err)
	}
	for i, l := range cfg.WarmLocations {
		if err := validation.ValidateLocation(l); err != nil {
			return fmt.Errorf("warm.locations[%d]: %w", i, err)
		}
	}
	return nil
}
