package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/metweather/internal/cache"
	"github.com/kjstillabower/metweather/internal/client"
	"github.com/kjstillabower/metweather/internal/feed"
	"github.com/kjstillabower/metweather/internal/forecast"
	"github.com/kjstillabower/metweather/internal/models"
	"github.com/kjstillabower/metweather/internal/observability"
)

const defaultTTL = time.Hour

// Config holds the orchestrator's tunables.
type Config struct {
	BaseURL         string
	TTL             time.Duration
	StaleTTL        time.Duration
	CoalesceTimeout time.Duration
	Default         models.Location
	Timezone        *time.Location
}

// WeatherService fetches, parses and aggregates NDFD documents through a
// WeatherCache.
type WeatherService struct {
	client     client.FeedClient
	store      cache.Store
	cache      *WeatherCache
	aggregator *forecast.Aggregator
	cfg        Config
	logger     *zap.Logger
	now        func() time.Time
}

// NewWeatherService wires feed client, store and aggregator together.
func NewWeatherService(feedClient client.FeedClient, store cache.Store, cfg Config, logger *zap.Logger) *WeatherService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaultTTL
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = client.DefaultBaseURL
	}
	if cfg.Timezone == nil {
		cfg.Timezone = time.Local
	}
	return &WeatherService{
		client:     feedClient,
		store:      store,
		cache:      NewWeatherCache(store, cfg.StaleTTL, cfg.CoalesceTimeout, logger),
		aggregator: forecast.New(logger, cfg.Timezone),
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
	}
}

// DefaultLocation returns the configured fallback location.
func (s *WeatherService) DefaultLocation() models.Location {
	return s.cfg.Default
}

// GetWeather returns current conditions and a four-day forecast for the
// location. An empty label falls back to the configured default label.
func (s *WeatherService) GetWeather(ctx context.Context, label string, lat, lon float64) (models.WeatherResult, error) {
	label = strings.TrimSpace(label)
	if label == "" {
		label = s.cfg.Default.Label
	}
	loc := models.Location{Label: label, Latitude: lat, Longitude: lon}
	start := time.Now()

	result, err := s.cache.GetOrCompute(ctx, loc, s.cfg.TTL, func(ctx context.Context) (models.WeatherResult, error) {
		return s.compute(ctx, loc)
	})
	if err != nil {
		return models.WeatherResult{}, fmt.Errorf("weather for %s: %w", loc.Label, err)
	}
	s.loggerFor(ctx).Debug("weather served",
		zap.String("location", loc.Label),
		zap.Bool("stale", result.Stale),
		zap.Duration("duration", time.Since(start)),
	)
	return result, nil
}

// compute fetches both documents concurrently, then parses and aggregates them.
func (s *WeatherService) compute(ctx context.Context, loc models.Location) (models.WeatherResult, error) {
	now := s.now().In(s.cfg.Timezone)
	currentURL := client.CurrentConditionsURL(s.cfg.BaseURL, loc.Latitude, loc.Longitude, now)
	forecastURL := client.ForecastURL(s.cfg.BaseURL, loc.Latitude, loc.Longitude, now)

	var (
		wg                      sync.WaitGroup
		currentRaw, forecastRaw []byte
		currentErr, forecastErr error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		currentRaw, currentErr = s.client.Fetch(ctx, currentURL)
	}()
	go func() {
		defer wg.Done()
		forecastRaw, forecastErr = s.client.Fetch(ctx, forecastURL)
	}()
	wg.Wait()

	if currentErr != nil {
		return models.WeatherResult{}, fmt.Errorf("fetch current conditions: %w", currentErr)
	}
	if forecastErr != nil {
		return models.WeatherResult{}, fmt.Errorf("fetch forecast: %w", forecastErr)
	}

	current, err := feed.Parse(currentRaw)
	if err != nil {
		return models.WeatherResult{}, fmt.Errorf("parse current conditions: %w", err)
	}
	daily, err := feed.Parse(forecastRaw)
	if err != nil {
		return models.WeatherResult{}, fmt.Errorf("parse forecast: %w", err)
	}

	result, err := s.aggregator.Aggregate(current, daily, loc.Label, now)
	if err != nil {
		var ide *forecast.InsufficientDataError
		if errors.As(err, &ide) {
			s.loggerFor(ctx).Warn("forecast incomplete",
				zap.String("location", loc.Label),
				zap.Int("days", ide.Buckets),
				zap.Int("highs", ide.Highs),
				zap.Int("lows", ide.Lows),
			)
		}
		return models.WeatherResult{}, fmt.Errorf("aggregate forecast: %w", err)
	}
	return result, nil
}

// CheckCache pings the store when it supports it. Errors wrap ErrCache.
func (s *WeatherService) CheckCache(ctx context.Context) error {
	p, ok := s.store.(cache.Pinger)
	if !ok {
		return nil
	}
	if err := p.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrCache, err)
	}
	return nil
}

func (s *WeatherService) loggerFor(ctx context.Context) *zap.Logger {
	if l := observability.LoggerFromContext(ctx); l != nil {
		return l
	}
	return s.logger
}
