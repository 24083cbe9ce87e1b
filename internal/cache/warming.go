package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/go-co-op/gocron"
	"go.uber.org/zap"

	"github.com/kjstillabower/metweather/internal/models"
	"github.com/kjstillabower/metweather/internal/observability"
)

// WeatherFetcher is implemented by the service layer to fetch weather for a location.
// Used by CacheWarmer to avoid a circular dependency on the service package.
type WeatherFetcher interface {
	GetWeather(ctx context.Context, label string, lat, lon float64) (models.WeatherResult, error)
}

// WarmerConfig controls per-location retries and the per-run deadline.
type WarmerConfig struct {
	RetryAttempts uint          // total attempts per location; 0 or 1 means no retry
	RetryDelay    time.Duration // base delay for exponential backoff
	RunTimeout    time.Duration // deadline for one warming pass
}

// CacheWarmer warms the cache by prefetching weather for a list of locations.
type CacheWarmer struct {
	fetcher   WeatherFetcher
	logger    *zap.Logger
	cfg       WarmerConfig
	scheduler *gocron.Scheduler
}

// NewCacheWarmer creates a CacheWarmer that uses the given fetcher and logger.
func NewCacheWarmer(fetcher WeatherFetcher, logger *zap.Logger, cfg WarmerConfig) *CacheWarmer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RetryAttempts == 0 {
		cfg.RetryAttempts = 1
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = 30 * time.Second
	}
	return &CacheWarmer{fetcher: fetcher, logger: logger, cfg: cfg}
}

// Warm fetches weather for each location concurrently and populates the cache via the fetcher.
// Returns an error if any location failed (joined).
func (w *CacheWarmer) Warm(ctx context.Context, locations []models.Location) error {
	start := time.Now()
	observability.CacheWarmingTotal.Inc()
	w.logger.Info("warming cache", zap.Int("locations", len(locations)))

	var wg sync.WaitGroup
	errCh := make(chan error, len(locations))
	for _, loc := range locations {
		loc := loc
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := w.warmOne(ctx, loc); err != nil {
				errCh <- fmt.Errorf("warm %s: %w", loc.Label, err)
			}
		}()
	}
	wg.Wait()
	close(errCh)

	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}
	duration := time.Since(start).Seconds()
	observability.CacheWarmingDurationSeconds.Observe(duration)
	w.logger.Info("cache warming complete",
		zap.Int("locations", len(locations)),
		zap.Int("errors", len(errs)),
		zap.Float64("duration_seconds", duration),
	)
	if len(errs) > 0 {
		observability.CacheWarmingErrorsTotal.Inc()
		return fmt.Errorf("cache warming: %w", errors.Join(errs...))
	}
	return nil
}

func (w *CacheWarmer) warmOne(ctx context.Context, loc models.Location) error {
	return retry.Do(
		func() error {
			_, err := w.fetcher.GetWeather(ctx, loc.Label, loc.Latitude, loc.Longitude)
			return err
		},
		retry.Context(ctx),
		retry.Attempts(w.cfg.RetryAttempts),
		retry.Delay(w.cfg.RetryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			w.logger.Debug("retrying cache warm",
				zap.String("location", loc.Label),
				zap.Uint("attempt", n+1),
				zap.Error(err),
			)
		}),
	)
}

// Start runs an initial Warm, then schedules a refresh every interval.
// Stop must be called to release the scheduler.
func (w *CacheWarmer) Start(locations []models.Location, interval time.Duration) error {
	if len(locations) == 0 {
		w.logger.Info("cache warming: no locations configured")
		return nil
	}
	if interval <= 0 {
		interval = 15 * time.Minute
	}

	run := func() {
		ctx, cancel := context.WithTimeout(context.Background(), w.cfg.RunTimeout)
		defer cancel()
		if err := w.Warm(ctx, locations); err != nil {
			w.logger.Warn("cache warm failed", zap.Error(err))
		}
	}

	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()
	if _, err := s.Every(interval).Do(run); err != nil {
		return fmt.Errorf("schedule cache warming: %w", err)
	}
	w.scheduler = s
	s.StartAsync()
	return nil
}

// Stop stops the scheduler and cancels any future runs.
func (w *CacheWarmer) Stop() {
	if w.scheduler != nil {
		w.scheduler.Stop()
	}
}
